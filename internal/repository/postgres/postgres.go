package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bugradar/bugradar/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.UserRepository    = (*Repository)(nil)
	_ repository.ProjectRepository = (*Repository)(nil)
	_ repository.APIKeyRepository  = (*Repository)(nil)
	_ repository.EventRepository   = (*Repository)(nil)
	_ repository.LatencyRepository = (*Repository)(nil)
	_ repository.StatusRepository  = (*Repository)(nil)
	_ repository.MetricsRepository = (*Repository)(nil)
)

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Ping reports whether the pool can reach the database.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// translate maps driver errors onto repository sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503":
			return repository.ErrNotFound
		case "23505":
			return repository.ErrConflict
		case "23514", "22P02":
			return repository.ErrInvalidArgument
		}
	}
	return err
}

func emptyToNil(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func stringPtrToNil(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nilTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
