package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/bugradar/bugradar/db/migrations"
)

const runTimeout = time.Minute

// Runner applies the schema migrations through a goose provider.
type Runner struct {
	dsn  string
	fsys fs.FS
	src  string
	log  *slog.Logger
}

// New returns a migration runner. When dir is empty or missing the
// migrations embedded in the binary are used.
func New(dsn, dir string, log *slog.Logger) (Runner, error) {
	if dsn == "" {
		return Runner{}, errors.New("empty database dsn")
	}
	if log == nil {
		log = slog.Default()
	}
	r := Runner{dsn: dsn, fsys: migrations.FS, src: "embedded", log: log}
	if dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			r.fsys = os.DirFS(dir)
			r.src = dir
		} else {
			log.Warn("migrations dir unavailable, using embedded set", "dir", dir)
		}
	}
	return r, nil
}

// Ensure applies pending migrations.
func (r Runner) Ensure(ctx context.Context) error {
	return r.withProvider(ctx, func(ctx context.Context, p *goose.Provider) error {
		r.log.Info("applying migrations", "source", r.src)
		results, err := p.Up(ctx)
		if err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		for _, res := range results {
			r.log.Info("migration applied", "version", res.Source.Version, "duration_ms", res.Duration.Milliseconds())
		}
		return nil
	})
}

// Status logs applied and pending migrations.
func (r Runner) Status(ctx context.Context) error {
	return r.withProvider(ctx, func(ctx context.Context, p *goose.Provider) error {
		statuses, err := p.Status(ctx)
		if err != nil {
			return fmt.Errorf("migration status: %w", err)
		}
		for _, st := range statuses {
			fields := []any{"version", st.Source.Version, "path", st.Source.Path, "state", string(st.State)}
			if !st.AppliedAt.IsZero() {
				fields = append(fields, "applied_at", st.AppliedAt.UTC().Format(time.RFC3339))
			}
			r.log.Info("migration", fields...)
		}
		return nil
	})
}

// Down rolls back the latest migration, or down to targetVersion when positive.
func (r Runner) Down(ctx context.Context, targetVersion int64) error {
	return r.withProvider(ctx, func(ctx context.Context, p *goose.Provider) error {
		if targetVersion > 0 {
			r.log.Info("rolling back migrations", "target", targetVersion)
			if _, err := p.DownTo(ctx, targetVersion); err != nil {
				return fmt.Errorf("rollback to version %d: %w", targetVersion, err)
			}
			return nil
		}
		r.log.Info("rolling back latest migration")
		if _, err := p.Down(ctx); err != nil {
			return fmt.Errorf("rollback latest migration: %w", err)
		}
		return nil
	})
}

func (r Runner) withProvider(ctx context.Context, fn func(context.Context, *goose.Provider) error) error {
	db, err := sql.Open("pgx", r.dsn)
	if err != nil {
		return fmt.Errorf("open sql connection: %w", err)
	}
	defer db.Close()

	runCtx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()
	if err := db.PingContext(runCtx); err != nil {
		return fmt.Errorf("ping sql connection: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectPostgres, db, r.fsys)
	if err != nil {
		return fmt.Errorf("configure goose: %w", err)
	}
	return fn(runCtx, provider)
}
