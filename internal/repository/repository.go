package repository

import (
	"context"
	"time"

	"github.com/bugradar/bugradar/internal/domain"
)

// UserRepository persists users.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
}

// ProjectRepository persists projects and their ingestion key.
type ProjectRepository interface {
	CreateProjectWithKey(ctx context.Context, project *domain.Project, key *domain.APIKey) error
	GetProjectForOwner(ctx context.Context, projectID, ownerID string) (*domain.Project, error)
	GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error)
	ListProjectsByOwner(ctx context.Context, ownerID string) ([]domain.Project, error)
	UpdateProject(ctx context.Context, project *domain.Project) error
	DeleteProject(ctx context.Context, projectID, ownerID string) error
}

// APIKeyRepository resolves stored key digests.
type APIKeyRepository interface {
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error)
}

// EventRepository handles event persistence and triage transitions.
type EventRepository interface {
	InsertEvent(ctx context.Context, event *domain.Event) error
	GetEventByID(ctx context.Context, eventID string) (*domain.Event, error)
	ListEvents(ctx context.Context, filter domain.EventFilter) ([]domain.Event, error)
	// TransitionEvent moves an open event to a terminal status. It returns
	// ErrNotFound when the event does not exist and ErrConflict when it is
	// no longer open.
	TransitionEvent(ctx context.Context, transition domain.EventTransition) (*domain.Event, error)
}

// LatencyRepository handles latency records and their rollups.
type LatencyRepository interface {
	InsertLatencyRecord(ctx context.Context, record *domain.LatencyRecord) error
	ListLatencyRecords(ctx context.Context, projectID string, limit int) ([]domain.LatencyRecord, error)
	UpsertLatencyRollups(ctx context.Context, rollups []domain.LatencyRollup) error
	ListLatencyRollups(ctx context.Context, projectID string, bucketSpan time.Duration, limit int) ([]domain.LatencyRollup, error)
}

// StatusRepository stores container state reports and uptime checks.
type StatusRepository interface {
	// RecordStatus stores the report and the event returned by derive, if
	// any, in one transaction. derive sees the container's previous
	// non-heartbeat state, or "" when there is none.
	RecordStatus(ctx context.Context, status *domain.StatusEvent, derive func(previous domain.ContainerState) *domain.Event) (*domain.Event, error)
	InsertUptimeCheck(ctx context.Context, check *domain.UptimeCheck) error
	LatestUptimeCheck(ctx context.Context, projectID string) (*domain.UptimeCheck, error)
}

// MetricsRepository answers the aggregate queries behind dashboards.
type MetricsRepository interface {
	CountEvents(ctx context.Context, filter domain.EventCountFilter) (int64, error)
	DailyEventCounts(ctx context.Context, filter domain.DailyCountFilter) (map[string]int64, error)
	ListFailureWindows(ctx context.Context, projectID string, since time.Time) ([]domain.FailureWindow, error)
	LatencySuccessCounts(ctx context.Context, projectID string, since time.Time) (total int64, success int64, err error)
	LatencyPercentile(ctx context.Context, projectID string, since time.Time, fraction float64) (float64, error)
}
