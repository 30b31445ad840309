package domain

import "time"

// Severity classifies an ingested event.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
	SeverityDebug   Severity = "debug"
)

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityError, SeverityWarning, SeverityInfo, SeverityDebug:
		return true
	}
	return false
}

// EventStatus is the triage state of an event.
type EventStatus string

const (
	EventOpen     EventStatus = "open"
	EventResolved EventStatus = "resolved"
	EventIgnored  EventStatus = "ignored"
)

// Event is a single log line reported by a monitored application, or a
// synthetic entry produced from a container state transition.
type Event struct {
	ID            string      `json:"id"`
	ProjectID     string      `json:"project_id"`
	Severity      Severity    `json:"severity"`
	Message       string      `json:"message"`
	ContainerName string      `json:"container_name"`
	Status        EventStatus `json:"status"`
	ResolvedBy    *string     `json:"resolved_by"`
	ResolvedAt    *time.Time  `json:"resolved_at"`
	IgnoredBy     *string     `json:"ignored_by"`
	IgnoredAt     *time.Time  `json:"ignored_at"`
	CreatedAt     time.Time   `json:"created_at"`
}

// EventFilter narrows event listings.
type EventFilter struct {
	ProjectID string
	Severity  Severity
	Status    EventStatus
	Limit     int
	Offset    int
}

// EventTransition describes a guarded status change of an open event.
type EventTransition struct {
	EventID   string
	ProjectID string
	To        EventStatus
	ActorID   string
	At        time.Time
}
