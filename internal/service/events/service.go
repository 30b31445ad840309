package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/bugradar/bugradar/internal/domain"
	"github.com/bugradar/bugradar/internal/repository"
	"github.com/bugradar/bugradar/internal/ws"
)

const (
	// DefaultListLimit applies when callers pass no limit.
	DefaultListLimit = 100
	// MaxListLimit caps a single page of events.
	MaxListLimit = 500
)

var (
	// ErrUnknownAction is returned for triage actions other than resolve and ignore.
	ErrUnknownAction = errors.New("unknown action")
	// ErrInvalidTransition is returned when the event is no longer open.
	ErrInvalidTransition = errors.New("event is not open")
)

// IngestInput is a validated log line for a resolved project.
type IngestInput struct {
	ProjectID     string
	Severity      domain.Severity
	Message       string
	ContainerName string
}

// Service handles event persistence, triage and streaming.
type Service struct {
	repo   repository.EventRepository
	hub    *ws.Hub
	logger *slog.Logger
	now    func() time.Time
}

// New constructs an event service.
func New(repo repository.EventRepository, hub *ws.Hub, logger *slog.Logger) Service {
	return Service{repo: repo, hub: hub, logger: logger, now: time.Now}
}

// Ingest stores a new open event and broadcasts it to live subscribers.
func (s Service) Ingest(ctx context.Context, input IngestInput) (*domain.Event, error) {
	if !input.Severity.Valid() {
		return nil, fmt.Errorf("%w: severity %q", repository.ErrInvalidArgument, input.Severity)
	}
	if strings.TrimSpace(input.Message) == "" {
		return nil, fmt.Errorf("%w: message is required", repository.ErrInvalidArgument)
	}
	// Stored verbatim so recurrence lookups match the exact text the agent sent.
	event := NewEvent(input.ProjectID, input.Severity, input.Message, input.ContainerName, s.now())
	if err := s.repo.InsertEvent(ctx, event); err != nil {
		return nil, err
	}
	s.Publish(event)
	return event, nil
}

// NewEvent builds an open event stamped at now.
func NewEvent(projectID string, severity domain.Severity, message, container string, now time.Time) *domain.Event {
	return &domain.Event{
		ID:            uuid.NewString(),
		ProjectID:     projectID,
		Severity:      severity,
		Message:       message,
		ContainerName: container,
		Status:        domain.EventOpen,
		CreatedAt:     now.UTC(),
	}
}

// Get loads a single event. Malformed ids are reported as not found.
func (s Service) Get(ctx context.Context, eventID string) (*domain.Event, error) {
	if _, err := uuid.Parse(eventID); err != nil {
		return nil, repository.ErrNotFound
	}
	return s.repo.GetEventByID(ctx, eventID)
}

// List returns a page of events, newest first.
func (s Service) List(ctx context.Context, filter domain.EventFilter) ([]domain.Event, error) {
	if filter.Severity != "" && !filter.Severity.Valid() {
		return nil, fmt.Errorf("%w: severity %q", repository.ErrInvalidArgument, filter.Severity)
	}
	switch filter.Status {
	case "", domain.EventOpen, domain.EventResolved, domain.EventIgnored:
	default:
		return nil, fmt.Errorf("%w: status %q", repository.ErrInvalidArgument, filter.Status)
	}
	filter.Limit = ClampLimit(filter.Limit)
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.repo.ListEvents(ctx, filter)
}

// ParseAction maps a triage action onto its target status.
func ParseAction(action string) (domain.EventStatus, error) {
	switch strings.ToLower(strings.TrimSpace(action)) {
	case "resolve":
		return domain.EventResolved, nil
	case "ignore":
		return domain.EventIgnored, nil
	default:
		return "", ErrUnknownAction
	}
}

// Transition resolves or ignores an open event on behalf of actorID.
// Concurrent transitions are arbitrated by the datastore: the first writer
// wins and later callers get ErrInvalidTransition.
func (s Service) Transition(ctx context.Context, event *domain.Event, action, actorID string) (*domain.Event, error) {
	to, err := ParseAction(action)
	if err != nil {
		return nil, err
	}
	if event.Status != domain.EventOpen {
		return nil, ErrInvalidTransition
	}
	updated, err := s.repo.TransitionEvent(ctx, domain.EventTransition{
		EventID:   event.ID,
		ProjectID: event.ProjectID,
		To:        to,
		ActorID:   actorID,
		At:        s.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrInvalidTransition
		}
		return nil, err
	}
	s.logger.Info("event "+string(to), "event_id", updated.ID, "project_id", updated.ProjectID, "actor_id", actorID)
	s.Publish(updated)
	return updated, nil
}

// Publish sends an event to websocket and SSE subscribers of its project.
func (s Service) Publish(event *domain.Event) {
	if s.hub == nil || event == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn("failed to marshal event payload", "error", err)
		return
	}
	if !s.hub.Broadcast(event.ProjectID, data) {
		s.logger.Warn("live stream backlog full, event not streamed", "event_id", event.ID, "project_id", event.ProjectID)
	}
}

// Hub returns the stream hub (useful for HTTP handlers).
func (s Service) Hub() *ws.Hub {
	return s.hub
}

// ClampLimit applies the default and maximum page size.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
