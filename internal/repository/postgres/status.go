package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bugradar/bugradar/internal/domain"
)

// RecordStatus stores a container report. derive receives the previous
// non-heartbeat state (empty when none) and may return a synthetic event to
// store alongside. Reports for the same container are serialised with an
// advisory lock so two concurrent transitions observe each other.
func (r *Repository) RecordStatus(ctx context.Context, status *domain.StatusEvent, derive func(previous domain.ContainerState) *domain.Event) (*domain.Event, error) {
	if status == nil {
		return nil, fmt.Errorf("status required")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1 || ':' || $2))`, status.ProjectID, status.ContainerName); err != nil {
		return nil, translate(err)
	}

	var previous string
	const lastState = `SELECT state FROM status_events
		WHERE project_id = $1 AND container_name = $2 AND state <> 'heartbeat'
		ORDER BY created_at DESC, id DESC
		LIMIT 1`
	if err := tx.QueryRow(ctx, lastState, status.ProjectID, status.ContainerName).Scan(&previous); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, translate(err)
	}

	const insert = `INSERT INTO status_events (id, project_id, user_id, container_name, state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := tx.Exec(ctx, insert,
		status.ID,
		status.ProjectID,
		stringPtrToNil(status.UserID),
		status.ContainerName,
		string(status.State),
		status.CreatedAt,
	); err != nil {
		return nil, translate(err)
	}

	var event *domain.Event
	if derive != nil {
		event = derive(domain.ContainerState(previous))
	}
	if event != nil {
		if err := insertEvent(ctx, tx, event); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return event, nil
}

// InsertUptimeCheck stores an availability report.
func (r *Repository) InsertUptimeCheck(ctx context.Context, check *domain.UptimeCheck) error {
	const query = `INSERT INTO uptime_checks (id, project_id, user_id, percentage, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := r.pool.Exec(ctx, query, check.ID, check.ProjectID, stringPtrToNil(check.UserID), check.Percentage, check.CreatedAt)
	return translate(err)
}

// LatestUptimeCheck returns the newest availability report of a project.
func (r *Repository) LatestUptimeCheck(ctx context.Context, projectID string) (*domain.UptimeCheck, error) {
	const query = `SELECT id, project_id, user_id, percentage, created_at
		FROM uptime_checks WHERE project_id = $1
		ORDER BY created_at DESC LIMIT 1`
	var check domain.UptimeCheck
	if err := r.pool.QueryRow(ctx, query, projectID).Scan(&check.ID, &check.ProjectID, &check.UserID, &check.Percentage, &check.CreatedAt); err != nil {
		return nil, translate(err)
	}
	return &check, nil
}
