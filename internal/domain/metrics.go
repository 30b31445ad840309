package domain

import "time"

// DashboardMetrics is the headline counter set for a project.
type DashboardMetrics struct {
	ActiveErrors  int64 `json:"activeErrors"`
	WarningsToday int64 `json:"warningsToday"`
	LogsLastHour  int64 `json:"logsLastHour"`
}

// DailyCount is one point of a per-day series.
type DailyCount struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// NoisyAppStats is the extended health summary of a project.
type NoisyAppStats struct {
	TotalErrors      int64        `json:"totalErrors"`
	TotalWarnings    int64        `json:"totalWarnings"`
	TotalEvents      int64        `json:"totalEvents"`
	UptimePercentage float64      `json:"uptimePercentage"`
	ErrorRate        float64      `json:"errorRate"`
	WarningRate      float64      `json:"warningRate"`
	MTBFMinutes      float64      `json:"mtbfMinutes"`
	LogVolume        []DailyCount `json:"logVolume"`
	P95LatencyMS     float64      `json:"p95LatencyMs"`
}

// FailureWindow is one error event reduced to the fields MTBF needs.
type FailureWindow struct {
	CreatedAt  time.Time
	ResolvedAt *time.Time
}

// EventCountFilter selects events for a count. Zero values match everything.
type EventCountFilter struct {
	ProjectID string
	Severity  Severity
	Status    EventStatus
	Since     time.Time
}

// MessageMatch selects events by message text.
type MessageMatch struct {
	Text     string
	Contains bool
}

// DailyCountFilter selects events bucketed by calendar day in Location.
type DailyCountFilter struct {
	ProjectID string
	Since     time.Time
	Location  *time.Location
	Message   *MessageMatch
}
