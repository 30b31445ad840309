package project

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"log/slog"

	"github.com/google/uuid"

	"github.com/bugradar/bugradar/internal/domain"
	"github.com/bugradar/bugradar/internal/repository"
	"github.com/bugradar/bugradar/pkg/crypto"
)

const maxNameLength = 120

var allowedMethods = map[string]struct{}{
	"GET": {}, "POST": {}, "PUT": {}, "PATCH": {}, "DELETE": {}, "HEAD": {}, "OPTIONS": {},
}

// CreateInput encapsulates project creation attributes.
type CreateInput struct {
	Name      string
	Endpoints []domain.Endpoint
}

// UpdateInput carries optional project changes.
type UpdateInput struct {
	Name      *string
	Endpoints *[]domain.Endpoint
}

// Created bundles a new project with the plaintext key shown exactly once.
type Created struct {
	Project    *domain.Project
	APIKey     string
	APIKeyHint string
}

// Service orchestrates project management and ownership checks.
type Service struct {
	projects repository.ProjectRepository
	logger   *slog.Logger
}

// New returns a project service.
func New(projects repository.ProjectRepository, logger *slog.Logger) Service {
	return Service{projects: projects, logger: logger}
}

// Authorize loads projectID only when userID owns it. Missing, foreign and
// malformed ids all yield repository.ErrNotFound.
func (s Service) Authorize(ctx context.Context, userID, projectID string) (*domain.Project, error) {
	if _, err := uuid.Parse(strings.TrimSpace(projectID)); err != nil {
		return nil, repository.ErrNotFound
	}
	if userID == "" {
		return nil, repository.ErrNotFound
	}
	project, err := s.projects.GetProjectForOwner(ctx, strings.TrimSpace(projectID), userID)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidArgument) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return project, nil
}

// Create registers a project for ownerID and issues its ingestion key.
func (s Service) Create(ctx context.Context, ownerID string, input CreateInput) (*Created, error) {
	name, err := normalizeName(input.Name)
	if err != nil {
		return nil, err
	}
	endpoints, err := normalizeEndpoints(input.Endpoints)
	if err != nil {
		return nil, err
	}
	plain, hash, hint, err := crypto.GenerateAPIKey()
	if err != nil {
		return nil, fmt.Errorf("generate api key: %w", err)
	}
	now := time.Now().UTC()
	project := &domain.Project{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Name:      name,
		Endpoints: endpoints,
		CreatedAt: now,
	}
	key := &domain.APIKey{
		ID:        uuid.NewString(),
		ProjectID: project.ID,
		KeyHash:   hash,
		Hint:      hint,
		CreatedAt: now,
	}
	if err := s.projects.CreateProjectWithKey(ctx, project, key); err != nil {
		return nil, err
	}
	s.logger.Info("project created", "project_id", project.ID, "owner_id", ownerID)
	return &Created{Project: project, APIKey: plain, APIKeyHint: hint}, nil
}

// List returns the owner's projects, newest first.
func (s Service) List(ctx context.Context, ownerID string) ([]domain.Project, error) {
	return s.projects.ListProjectsByOwner(ctx, ownerID)
}

// Update applies a partial change to an owned project.
func (s Service) Update(ctx context.Context, ownerID, projectID string, input UpdateInput) (*domain.Project, error) {
	project, err := s.Authorize(ctx, ownerID, projectID)
	if err != nil {
		return nil, err
	}
	if input.Name != nil {
		name, err := normalizeName(*input.Name)
		if err != nil {
			return nil, err
		}
		project.Name = name
	}
	if input.Endpoints != nil {
		endpoints, err := normalizeEndpoints(*input.Endpoints)
		if err != nil {
			return nil, err
		}
		project.Endpoints = endpoints
	}
	if err := s.projects.UpdateProject(ctx, project); err != nil {
		return nil, err
	}
	s.logger.Info("project updated", "project_id", project.ID)
	return project, nil
}

// Delete removes an owned project together with its data.
func (s Service) Delete(ctx context.Context, ownerID, projectID string) error {
	project, err := s.Authorize(ctx, ownerID, projectID)
	if err != nil {
		return err
	}
	if err := s.projects.DeleteProject(ctx, project.ID, ownerID); err != nil {
		return err
	}
	s.logger.Info("project deleted", "project_id", project.ID)
	return nil
}

// Endpoints returns the configured endpoints of a project resolved from an API key.
func (s Service) Endpoints(ctx context.Context, projectID string) ([]domain.Endpoint, error) {
	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return project.Endpoints, nil
}

// Owner returns the owner of a project resolved from an API key.
func (s Service) Owner(ctx context.Context, projectID string) (string, error) {
	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		return "", err
	}
	return project.OwnerID, nil
}

func normalizeName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" || utf8.RuneCountInString(name) > maxNameLength {
		return "", fmt.Errorf("%w: name must be 1-%d characters", repository.ErrInvalidArgument, maxNameLength)
	}
	return name, nil
}

func normalizeEndpoints(in []domain.Endpoint) ([]domain.Endpoint, error) {
	out := make([]domain.Endpoint, 0, len(in))
	for i, ep := range in {
		method := strings.ToUpper(strings.TrimSpace(ep.Method))
		if _, ok := allowedMethods[method]; !ok {
			return nil, fmt.Errorf("%w: endpoints[%d].method %q is not supported", repository.ErrInvalidArgument, i, ep.Method)
		}
		path := strings.TrimSpace(ep.Path)
		if !strings.HasPrefix(path, "/") {
			return nil, fmt.Errorf("%w: endpoints[%d].path must start with /", repository.ErrInvalidArgument, i)
		}
		out = append(out, domain.Endpoint{Method: method, Path: path})
	}
	return out, nil
}
