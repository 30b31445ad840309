package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/bugradar/bugradar/internal/domain"
	"github.com/bugradar/bugradar/internal/repository"
)

const eventColumns = `id, project_id, severity, message, container_name, status,
	resolved_by, resolved_at, ignored_by, ignored_at, created_at`

// InsertEvent persists a new event.
func (r *Repository) InsertEvent(ctx context.Context, event *domain.Event) error {
	return insertEvent(ctx, r.pool, event)
}

func insertEvent(ctx context.Context, q querier, event *domain.Event) error {
	const query = `INSERT INTO events (id, project_id, severity, message, container_name, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := q.Exec(ctx, query,
		event.ID,
		event.ProjectID,
		string(event.Severity),
		event.Message,
		event.ContainerName,
		string(event.Status),
		event.CreatedAt,
	)
	return translate(err)
}

// GetEventByID loads a single event.
func (r *Repository) GetEventByID(ctx context.Context, eventID string) (*domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = $1`
	return scanEvent(r.pool.QueryRow(ctx, query, eventID))
}

// ListEvents returns events newest first.
func (r *Repository) ListEvents(ctx context.Context, filter domain.EventFilter) ([]domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events
		WHERE project_id = $1
			AND ($2 = '' OR severity = $2)
			AND ($3 = '' OR status = $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4 OFFSET $5`
	rows, err := r.pool.Query(ctx, query, filter.ProjectID, string(filter.Severity), string(filter.Status), filter.Limit, filter.Offset)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	events := make([]domain.Event, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *event)
	}
	return events, rows.Err()
}

// TransitionEvent applies a guarded open -> resolved|ignored update.
func (r *Repository) TransitionEvent(ctx context.Context, transition domain.EventTransition) (*domain.Event, error) {
	var query string
	switch transition.To {
	case domain.EventResolved:
		query = `UPDATE events SET status = 'resolved', resolved_by = $3, resolved_at = $4
			WHERE id = $1 AND project_id = $2 AND status = 'open'
			RETURNING ` + eventColumns
	case domain.EventIgnored:
		query = `UPDATE events SET status = 'ignored', ignored_by = $3, ignored_at = $4
			WHERE id = $1 AND project_id = $2 AND status = 'open'
			RETURNING ` + eventColumns
	default:
		return nil, repository.ErrInvalidArgument
	}
	event, err := scanEvent(r.pool.QueryRow(ctx, query,
		transition.EventID,
		transition.ProjectID,
		emptyToNil(transition.ActorID),
		transition.At,
	))
	if err == nil {
		return event, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	var status string
	const lookup = `SELECT status FROM events WHERE id = $1 AND project_id = $2`
	if err := r.pool.QueryRow(ctx, lookup, transition.EventID, transition.ProjectID).Scan(&status); err != nil {
		return nil, translate(err)
	}
	return nil, repository.ErrConflict
}

func scanEvent(row pgx.Row) (*domain.Event, error) {
	var (
		e        domain.Event
		severity string
		status   string
	)
	if err := row.Scan(
		&e.ID,
		&e.ProjectID,
		&severity,
		&e.Message,
		&e.ContainerName,
		&status,
		&e.ResolvedBy,
		&e.ResolvedAt,
		&e.IgnoredBy,
		&e.IgnoredAt,
		&e.CreatedAt,
	); err != nil {
		return nil, translate(err)
	}
	e.Severity = domain.Severity(severity)
	e.Status = domain.EventStatus(status)
	return &e, nil
}
