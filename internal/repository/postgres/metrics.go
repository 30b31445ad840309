package postgres

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/bugradar/bugradar/internal/domain"
)

// CountEvents counts events matching the filter.
func (r *Repository) CountEvents(ctx context.Context, filter domain.EventCountFilter) (int64, error) {
	const query = `SELECT COUNT(*) FROM events
		WHERE project_id = $1
			AND ($2 = '' OR severity = $2)
			AND ($3 = '' OR status = $3)
			AND ($4::timestamptz IS NULL OR created_at >= $4::timestamptz)`
	var count int64
	err := r.pool.QueryRow(ctx, query, filter.ProjectID, string(filter.Severity), string(filter.Status), nilTime(filter.Since)).Scan(&count)
	if err != nil {
		return 0, translate(err)
	}
	return count, nil
}

// DailyEventCounts groups matching events by calendar day in the filter's location.
func (r *Repository) DailyEventCounts(ctx context.Context, filter domain.DailyCountFilter) (map[string]int64, error) {
	loc := filter.Location
	if loc == nil {
		loc = time.UTC
	}
	args := []any{filter.ProjectID, filter.Since, loc.String()}
	var b strings.Builder
	b.WriteString(`SELECT to_char(created_at AT TIME ZONE $3, 'YYYY-MM-DD') AS day, COUNT(*)
		FROM events
		WHERE project_id = $1 AND created_at >= $2`)
	if filter.Message != nil {
		args = append(args, filter.Message.Text)
		placeholder := "$" + strconv.Itoa(len(args))
		if filter.Message.Contains {
			b.WriteString(` AND strpos(message, ` + placeholder + `) > 0`)
		} else {
			b.WriteString(` AND message = ` + placeholder)
		}
	}
	b.WriteString(` GROUP BY day`)

	rows, err := r.pool.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var (
			day   string
			count int64
		)
		if err := rows.Scan(&day, &count); err != nil {
			return nil, err
		}
		counts[day] = count
	}
	return counts, rows.Err()
}

// ListFailureWindows returns error events since the cutoff, oldest first.
func (r *Repository) ListFailureWindows(ctx context.Context, projectID string, since time.Time) ([]domain.FailureWindow, error) {
	const query = `SELECT created_at, resolved_at FROM events
		WHERE project_id = $1 AND severity = 'error' AND created_at >= $2
		ORDER BY created_at ASC, id ASC`
	rows, err := r.pool.Query(ctx, query, projectID, since)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	windows := make([]domain.FailureWindow, 0)
	for rows.Next() {
		var w domain.FailureWindow
		if err := rows.Scan(&w.CreatedAt, &w.ResolvedAt); err != nil {
			return nil, err
		}
		windows = append(windows, w)
	}
	return windows, rows.Err()
}

// LatencySuccessCounts returns the number of latency records and how many of
// them carried a 2xx status code.
func (r *Repository) LatencySuccessCounts(ctx context.Context, projectID string, since time.Time) (int64, int64, error) {
	const query = `SELECT COUNT(*), COUNT(*) FILTER (WHERE status_code BETWEEN 200 AND 299)
		FROM latency_records WHERE project_id = $1 AND created_at >= $2`
	var total, success int64
	if err := r.pool.QueryRow(ctx, query, projectID, since).Scan(&total, &success); err != nil {
		return 0, 0, translate(err)
	}
	return total, success, nil
}

// LatencyPercentile returns the continuous percentile of latency_ms, or 0 without data.
func (r *Repository) LatencyPercentile(ctx context.Context, projectID string, since time.Time, fraction float64) (float64, error) {
	const query = `SELECT COALESCE(percentile_cont($3::float8) WITHIN GROUP (ORDER BY latency_ms), 0)
		FROM latency_records WHERE project_id = $1 AND created_at >= $2`
	var value float64
	if err := r.pool.QueryRow(ctx, query, projectID, since, fraction).Scan(&value); err != nil {
		return 0, translate(err)
	}
	return value, nil
}
