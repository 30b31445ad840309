package httpx

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bugradar/bugradar/internal/domain"
	"github.com/bugradar/bugradar/internal/repository"
)

// memStore is an in-memory stand-in for the Postgres repository.
type memStore struct {
	mu       sync.Mutex
	users    map[string]*domain.User
	projects map[string]*domain.Project
	keys     map[string]*domain.APIKey
	events   []domain.Event
	latency  []domain.LatencyRecord
	rollups  []domain.LatencyRollup
	reports  []domain.StatusEvent
	uptime   []domain.UptimeCheck
	countErr error
}

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[string]*domain.User),
		projects: make(map[string]*domain.Project),
		keys:     make(map[string]*domain.APIKey),
	}
}

func (s *memStore) CreateUser(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == user.Email {
			return repository.ErrConflict
		}
	}
	cp := *user
	s.users[user.ID] = &cp
	return nil
}

func (s *memStore) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *memStore) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *memStore) CreateProjectWithKey(_ context.Context, project *domain.Project, key *domain.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := *project
	p.APIKeyHint = key.Hint
	s.projects[project.ID] = &p
	k := *key
	s.keys[key.KeyHash] = &k
	return nil
}

func (s *memStore) GetProjectForOwner(_ context.Context, projectID, ownerID string) (*domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok || p.OwnerID != ownerID {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) GetProjectByID(_ context.Context, projectID string) (*domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) ListProjectsByOwner(_ context.Context, ownerID string) ([]domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Project
	for _, p := range s.projects {
		if p.OwnerID == ownerID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) UpdateProject(_ context.Context, project *domain.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[project.ID]; !ok {
		return repository.ErrNotFound
	}
	cp := *project
	s.projects[project.ID] = &cp
	return nil
}

func (s *memStore) DeleteProject(_ context.Context, projectID, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok || p.OwnerID != ownerID {
		return repository.ErrNotFound
	}
	delete(s.projects, projectID)
	for hash, k := range s.keys {
		if k.ProjectID == projectID {
			delete(s.keys, hash)
		}
	}
	return nil
}

func (s *memStore) GetAPIKeyByHash(_ context.Context, keyHash string) (*domain.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[keyHash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *k
	return &cp, nil
}

func (s *memStore) InsertEvent(_ context.Context, event *domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *event)
	return nil
}

func (s *memStore) GetEventByID(_ context.Context, eventID string) (*domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.ID == eventID {
			cp := e
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *memStore) ListEvents(_ context.Context, filter domain.EventFilter) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]
		if e.ProjectID != filter.ProjectID {
			continue
		}
		if filter.Severity != "" && e.Severity != filter.Severity {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		out = append(out, e)
	}
	if filter.Offset >= len(out) {
		return nil, nil
	}
	out = out[filter.Offset:]
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *memStore) TransitionEvent(_ context.Context, t domain.EventTransition) (*domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.events {
		e := &s.events[i]
		if e.ID != t.EventID || e.ProjectID != t.ProjectID {
			continue
		}
		if e.Status != domain.EventOpen {
			return nil, repository.ErrConflict
		}
		e.Status = t.To
		actor, at := t.ActorID, t.At
		if t.To == domain.EventResolved {
			e.ResolvedBy, e.ResolvedAt = &actor, &at
		} else {
			e.IgnoredBy, e.IgnoredAt = &actor, &at
		}
		cp := *e
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (s *memStore) InsertLatencyRecord(_ context.Context, record *domain.LatencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record.ID = int64(len(s.latency) + 1)
	s.latency = append(s.latency, *record)
	return nil
}

func (s *memStore) ListLatencyRecords(_ context.Context, projectID string, limit int) ([]domain.LatencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.LatencyRecord
	for i := len(s.latency) - 1; i >= 0 && len(out) < limit; i-- {
		if s.latency[i].ProjectID == projectID {
			out = append(out, s.latency[i])
		}
	}
	return out, nil
}

func (s *memStore) UpsertLatencyRollups(_ context.Context, rollups []domain.LatencyRollup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollups = append(s.rollups, rollups...)
	return nil
}

func (s *memStore) ListLatencyRollups(_ context.Context, projectID string, _ time.Duration, limit int) ([]domain.LatencyRollup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.LatencyRollup
	for _, r := range s.rollups {
		if r.ProjectID == projectID && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memStore) RecordStatus(_ context.Context, report *domain.StatusEvent, derive func(domain.ContainerState) *domain.Event) (*domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var previous domain.ContainerState
	for i := len(s.reports) - 1; i >= 0; i-- {
		r := s.reports[i]
		if r.ProjectID == report.ProjectID && r.ContainerName == report.ContainerName && r.State != domain.ContainerHeartbeat {
			previous = r.State
			break
		}
	}
	s.reports = append(s.reports, *report)
	event := derive(previous)
	if event != nil {
		s.events = append(s.events, *event)
	}
	return event, nil
}

func (s *memStore) InsertUptimeCheck(_ context.Context, check *domain.UptimeCheck) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uptime = append(s.uptime, *check)
	return nil
}

func (s *memStore) LatestUptimeCheck(_ context.Context, projectID string) (*domain.UptimeCheck, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.uptime) - 1; i >= 0; i-- {
		if s.uptime[i].ProjectID == projectID {
			cp := s.uptime[i]
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *memStore) CountEvents(_ context.Context, filter domain.EventCountFilter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.countErr != nil {
		return 0, s.countErr
	}
	var n int64
	for _, e := range s.events {
		if e.ProjectID != filter.ProjectID {
			continue
		}
		if filter.Severity != "" && e.Severity != filter.Severity {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		if !filter.Since.IsZero() && e.CreatedAt.Before(filter.Since) {
			continue
		}
		n++
	}
	return n, nil
}

func (s *memStore) DailyEventCounts(_ context.Context, filter domain.DailyCountFilter) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64)
	for _, e := range s.events {
		if e.ProjectID != filter.ProjectID || e.CreatedAt.Before(filter.Since) {
			continue
		}
		if m := filter.Message; m != nil {
			if m.Contains && !strings.Contains(e.Message, m.Text) {
				continue
			}
			if !m.Contains && e.Message != m.Text {
				continue
			}
		}
		out[e.CreatedAt.In(filter.Location).Format("2006-01-02")]++
	}
	return out, nil
}

func (s *memStore) ListFailureWindows(_ context.Context, _ string, _ time.Time) ([]domain.FailureWindow, error) {
	return nil, nil
}

func (s *memStore) LatencySuccessCounts(_ context.Context, projectID string, since time.Time) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total, success int64
	for _, r := range s.latency {
		if r.ProjectID != projectID || r.CreatedAt.Before(since) {
			continue
		}
		total++
		if r.StatusCode >= 200 && r.StatusCode <= 299 {
			success++
		}
	}
	return total, success, nil
}

func (s *memStore) LatencyPercentile(_ context.Context, _ string, _ time.Time, _ float64) (float64, error) {
	return 0, nil
}

func (s *memStore) addEvent(projectID string, severity domain.Severity, message string, at time.Time) domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := domain.Event{
		ID:        newID(len(s.events)),
		ProjectID: projectID,
		Severity:  severity,
		Message:   message,
		Status:    domain.EventOpen,
		CreatedAt: at,
	}
	s.events = append(s.events, e)
	return e
}

func (s *memStore) eventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// newID returns a deterministic UUID-shaped id.
func newID(n int) string {
	return fmt.Sprintf("00000000-0000-4000-8000-%012d", n+1)
}
