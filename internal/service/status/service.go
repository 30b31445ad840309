package status

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/bugradar/bugradar/internal/domain"
	"github.com/bugradar/bugradar/internal/repository"
	"github.com/bugradar/bugradar/internal/service/events"
)

// ReportInput is a container state report from an agent.
type ReportInput struct {
	ProjectID     string
	OwnerID       string
	ContainerName string
	State         domain.ContainerState
}

// Uptime is the freshness-aware view of the newest uptime check.
type Uptime struct {
	Percentage *float64   `json:"percentage"`
	CheckedAt  *time.Time `json:"checked_at"`
	Fresh      bool       `json:"fresh"`
}

type publisher interface {
	Publish(event *domain.Event)
}

// Service records container states and uptime checks.
type Service struct {
	repo      repository.StatusRepository
	events    publisher
	freshness time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// New constructs a status service. freshness bounds how old an uptime
// check may be and still count as current.
func New(repo repository.StatusRepository, events publisher, freshness time.Duration, logger *slog.Logger) Service {
	return Service{repo: repo, events: events, freshness: freshness, logger: logger, now: time.Now}
}

// Report stores a container state and, on an up/down transition, a
// synthetic event which is returned and published.
func (s Service) Report(ctx context.Context, input ReportInput) (*domain.StatusEvent, *domain.Event, error) {
	name := strings.TrimSpace(input.ContainerName)
	if name == "" {
		return nil, nil, fmt.Errorf("%w: container_name is required", repository.ErrInvalidArgument)
	}
	switch input.State {
	case domain.ContainerUp, domain.ContainerDown, domain.ContainerHeartbeat:
	default:
		return nil, nil, fmt.Errorf("%w: state %q", repository.ErrInvalidArgument, input.State)
	}
	now := s.now().UTC()
	report := &domain.StatusEvent{
		ID:            uuid.NewString(),
		ProjectID:     input.ProjectID,
		ContainerName: name,
		State:         input.State,
		CreatedAt:     now,
	}
	if input.OwnerID != "" {
		owner := input.OwnerID
		report.UserID = &owner
	}
	event, err := s.repo.RecordStatus(ctx, report, func(previous domain.ContainerState) *domain.Event {
		severity, message, ok := Transition(previous, input.State, name)
		if !ok {
			return nil
		}
		return events.NewEvent(input.ProjectID, severity, message, name, now)
	})
	if err != nil {
		return nil, nil, err
	}
	if event != nil {
		s.logger.Info("container state changed", "project_id", input.ProjectID, "container", name, "state", input.State)
		if s.events != nil {
			s.events.Publish(event)
		}
	}
	return report, event, nil
}

// Transition decides whether moving from previous to current warrants a
// synthetic event. previous is empty when the container was never seen.
func Transition(previous, current domain.ContainerState, container string) (domain.Severity, string, bool) {
	switch {
	case current == domain.ContainerDown && previous != domain.ContainerDown:
		return domain.SeverityError, fmt.Sprintf("Container %s is down", container), true
	case current == domain.ContainerUp && previous == domain.ContainerDown:
		return domain.SeverityInfo, fmt.Sprintf("Container %s recovered", container), true
	default:
		return "", "", false
	}
}

// RecordUptime stores an externally computed availability percentage.
func (s Service) RecordUptime(ctx context.Context, projectID, ownerID string, percentage float64) (*domain.UptimeCheck, error) {
	if percentage < 0 || percentage > 100 {
		return nil, fmt.Errorf("%w: percentage must be between 0 and 100", repository.ErrInvalidArgument)
	}
	check := &domain.UptimeCheck{
		ID:         uuid.NewString(),
		ProjectID:  projectID,
		Percentage: percentage,
		CreatedAt:  s.now().UTC(),
	}
	if ownerID != "" {
		check.UserID = &ownerID
	}
	if err := s.repo.InsertUptimeCheck(ctx, check); err != nil {
		return nil, err
	}
	return check, nil
}

// Uptime returns the newest check when it falls inside the freshness window.
func (s Service) Uptime(ctx context.Context, projectID string) (Uptime, error) {
	check, err := s.repo.LatestUptimeCheck(ctx, projectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Uptime{}, nil
		}
		return Uptime{}, err
	}
	if s.freshness > 0 && s.now().Sub(check.CreatedAt) > s.freshness {
		return Uptime{}, nil
	}
	pct := check.Percentage
	at := check.CreatedAt.UTC()
	return Uptime{Percentage: &pct, CheckedAt: &at, Fresh: true}, nil
}
