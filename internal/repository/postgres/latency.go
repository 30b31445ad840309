package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bugradar/bugradar/internal/domain"
)

// InsertLatencyRecord stores one observed request.
func (r *Repository) InsertLatencyRecord(ctx context.Context, record *domain.LatencyRecord) error {
	const query = `INSERT INTO latency_records (project_id, path, method, status_code, latency_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))
		RETURNING id, created_at`
	err := r.pool.QueryRow(ctx, query,
		record.ProjectID,
		record.Path,
		record.Method,
		record.StatusCode,
		record.LatencyMS,
		nilTime(record.CreatedAt),
	).Scan(&record.ID, &record.CreatedAt)
	return translate(err)
}

// ListLatencyRecords returns the newest records of a project.
func (r *Repository) ListLatencyRecords(ctx context.Context, projectID string, limit int) ([]domain.LatencyRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `SELECT id, project_id, path, method, status_code, latency_ms, created_at
		FROM latency_records WHERE project_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, projectID, limit)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	records := make([]domain.LatencyRecord, 0)
	for rows.Next() {
		var rec domain.LatencyRecord
		if err := rows.Scan(&rec.ID, &rec.ProjectID, &rec.Path, &rec.Method, &rec.StatusCode, &rec.LatencyMS, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// UpsertLatencyRollups writes aggregated latency buckets. A bucket flushed more
// than once is merged: counts add up, max and average combine, and percentiles
// come from the larger sample.
func (r *Repository) UpsertLatencyRollups(ctx context.Context, rollups []domain.LatencyRollup) error {
	if len(rollups) == 0 {
		return nil
	}
	const query = `INSERT INTO latency_rollups (
		project_id,
		bucket_start,
		bucket_span_seconds,
		method,
		path,
		count,
		error_count,
		p50_ms,
		p90_ms,
		p95_ms,
		p99_ms,
		max_ms,
		avg_ms,
		updated_at
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,NOW()
	) ON CONFLICT (project_id, bucket_start, bucket_span_seconds, method, path)
	DO UPDATE SET
		count = latency_rollups.count + EXCLUDED.count,
		error_count = latency_rollups.error_count + EXCLUDED.error_count,
		p50_ms = CASE WHEN EXCLUDED.count > latency_rollups.count THEN EXCLUDED.p50_ms ELSE COALESCE(latency_rollups.p50_ms, EXCLUDED.p50_ms) END,
		p90_ms = CASE WHEN EXCLUDED.count > latency_rollups.count THEN EXCLUDED.p90_ms ELSE COALESCE(latency_rollups.p90_ms, EXCLUDED.p90_ms) END,
		p95_ms = CASE WHEN EXCLUDED.count > latency_rollups.count THEN EXCLUDED.p95_ms ELSE COALESCE(latency_rollups.p95_ms, EXCLUDED.p95_ms) END,
		p99_ms = CASE WHEN EXCLUDED.count > latency_rollups.count THEN EXCLUDED.p99_ms ELSE COALESCE(latency_rollups.p99_ms, EXCLUDED.p99_ms) END,
		max_ms = GREATEST(latency_rollups.max_ms, EXCLUDED.max_ms),
		avg_ms = CASE
			WHEN latency_rollups.avg_ms IS NULL THEN EXCLUDED.avg_ms
			WHEN EXCLUDED.avg_ms IS NULL THEN latency_rollups.avg_ms
			ELSE (latency_rollups.avg_ms * latency_rollups.count + EXCLUDED.avg_ms * EXCLUDED.count)
				/ NULLIF(latency_rollups.count + EXCLUDED.count, 0)
		END,
		updated_at = NOW()`
	batch := &pgx.Batch{}
	for _, rollup := range rollups {
		batch.Queue(query,
			rollup.ProjectID,
			rollup.BucketStart,
			spanSeconds(rollup.BucketSpan),
			rollup.Method,
			rollup.Path,
			rollup.Count,
			rollup.ErrorCount,
			rollup.P50MS,
			rollup.P90MS,
			rollup.P95MS,
			rollup.P99MS,
			rollup.MaxMS,
			rollup.AvgMS,
		)
	}
	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range rollups {
		if _, err := br.Exec(); err != nil {
			return translate(err)
		}
	}
	return nil
}

// ListLatencyRollups returns the newest rollup buckets for a project.
func (r *Repository) ListLatencyRollups(ctx context.Context, projectID string, bucketSpan time.Duration, limit int) ([]domain.LatencyRollup, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `SELECT
		project_id,
		bucket_start,
		bucket_span_seconds,
		method,
		path,
		count,
		error_count,
		p50_ms,
		p90_ms,
		p95_ms,
		p99_ms,
		max_ms,
		avg_ms,
		updated_at
	FROM latency_rollups
	WHERE project_id = $1 AND bucket_span_seconds = $2
	ORDER BY bucket_start DESC, method, path
	LIMIT $3`
	rows, err := r.pool.Query(ctx, query, projectID, spanSeconds(bucketSpan), limit)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	rollups := make([]domain.LatencyRollup, 0)
	for rows.Next() {
		var (
			rollup                       domain.LatencyRollup
			span                         int
			p50, p90, p95, p99, max, avg sql.NullFloat64
		)
		if err := rows.Scan(
			&rollup.ProjectID,
			&rollup.BucketStart,
			&span,
			&rollup.Method,
			&rollup.Path,
			&rollup.Count,
			&rollup.ErrorCount,
			&p50,
			&p90,
			&p95,
			&p99,
			&max,
			&avg,
			&rollup.UpdatedAt,
		); err != nil {
			return nil, err
		}
		rollup.BucketSpan = time.Duration(span) * time.Second
		rollup.P50MS = nullFloat(p50)
		rollup.P90MS = nullFloat(p90)
		rollup.P95MS = nullFloat(p95)
		rollup.P99MS = nullFloat(p99)
		rollup.MaxMS = nullFloat(max)
		rollup.AvgMS = nullFloat(avg)
		rollups = append(rollups, rollup)
	}
	return rollups, rows.Err()
}

func spanSeconds(span time.Duration) int {
	seconds := int(span.Seconds())
	if seconds <= 0 {
		return 60
	}
	return seconds
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	value := v.Float64
	return &value
}
