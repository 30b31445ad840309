package domain

import "time"

// LatencyRecord is one observed request against a monitored endpoint.
type LatencyRecord struct {
	ID         int64     `json:"id"`
	ProjectID  string    `json:"project_id"`
	Path       string    `json:"path"`
	Method     string    `json:"method"`
	StatusCode int       `json:"status_code"`
	LatencyMS  float64   `json:"latency_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// LatencyRollup stores aggregated latency statistics for one endpoint and time bucket.
type LatencyRollup struct {
	ProjectID   string        `json:"project_id"`
	BucketStart time.Time     `json:"bucket_start"`
	BucketSpan  time.Duration `json:"-"`
	Method      string        `json:"method"`
	Path        string        `json:"path"`
	Count       int64         `json:"count"`
	ErrorCount  int64         `json:"error_count"`
	P50MS       *float64      `json:"p50_ms"`
	P90MS       *float64      `json:"p90_ms"`
	P95MS       *float64      `json:"p95_ms"`
	P99MS       *float64      `json:"p99_ms"`
	MaxMS       *float64      `json:"max_ms"`
	AvgMS       *float64      `json:"avg_ms"`
	UpdatedAt   time.Time     `json:"updated_at"`
}
