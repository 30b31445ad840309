package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bugradar/bugradar/internal/domain"
	"github.com/bugradar/bugradar/internal/repository"
)

const projectColumns = `p.id, p.owner_id, p.name, p.endpoints, COALESCE(k.hint, ''), p.created_at, p.updated_at`

const projectFrom = `FROM projects p LEFT JOIN api_keys k ON k.project_id = p.id`

// CreateProjectWithKey stores a project together with its ingestion key.
func (r *Repository) CreateProjectWithKey(ctx context.Context, project *domain.Project, key *domain.APIKey) error {
	if project == nil || key == nil {
		return fmt.Errorf("project and key required")
	}
	endpoints, err := marshalEndpoints(project.Endpoints)
	if err != nil {
		return err
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const projectInsert = `INSERT INTO projects (id, owner_id, name, endpoints, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)`
	if _, err := tx.Exec(ctx, projectInsert, project.ID, project.OwnerID, project.Name, endpoints, project.CreatedAt); err != nil {
		return translate(err)
	}
	const keyInsert = `INSERT INTO api_keys (id, project_id, key_hash, hint, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := tx.Exec(ctx, keyInsert, key.ID, project.ID, key.KeyHash, key.Hint, key.CreatedAt); err != nil {
		return translate(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	project.UpdatedAt = project.CreatedAt
	project.APIKeyHint = key.Hint
	return nil
}

// GetProjectForOwner loads a project only when it belongs to ownerID.
func (r *Repository) GetProjectForOwner(ctx context.Context, projectID, ownerID string) (*domain.Project, error) {
	query := `SELECT ` + projectColumns + ` ` + projectFrom + ` WHERE p.id = $1 AND p.owner_id = $2`
	return scanProject(r.pool.QueryRow(ctx, query, projectID, ownerID))
}

// GetProjectByID loads a project regardless of owner.
func (r *Repository) GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	query := `SELECT ` + projectColumns + ` ` + projectFrom + ` WHERE p.id = $1`
	return scanProject(r.pool.QueryRow(ctx, query, projectID))
}

// ListProjectsByOwner returns the owner's projects, newest first.
func (r *Repository) ListProjectsByOwner(ctx context.Context, ownerID string) ([]domain.Project, error) {
	query := `SELECT ` + projectColumns + ` ` + projectFrom + ` WHERE p.owner_id = $1 ORDER BY p.created_at DESC`
	rows, err := r.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	projects := make([]domain.Project, 0)
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *project)
	}
	return projects, rows.Err()
}

// UpdateProject rewrites name and endpoints of an owned project.
func (r *Repository) UpdateProject(ctx context.Context, project *domain.Project) error {
	if project == nil {
		return fmt.Errorf("project required")
	}
	endpoints, err := marshalEndpoints(project.Endpoints)
	if err != nil {
		return err
	}
	const query = `UPDATE projects SET name = $3, endpoints = $4, updated_at = NOW()
		WHERE id = $1 AND owner_id = $2 RETURNING updated_at`
	if err := r.pool.QueryRow(ctx, query, project.ID, project.OwnerID, project.Name, endpoints).Scan(&project.UpdatedAt); err != nil {
		return translate(err)
	}
	return nil
}

// DeleteProject removes an owned project; dependent rows cascade.
func (r *Repository) DeleteProject(ctx context.Context, projectID, ownerID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1 AND owner_id = $2`, projectID, ownerID)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// GetAPIKeyByHash resolves a key digest.
func (r *Repository) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	const query = `SELECT id, project_id, key_hash, hint, created_at FROM api_keys WHERE key_hash = $1`
	var key domain.APIKey
	if err := r.pool.QueryRow(ctx, query, keyHash).Scan(&key.ID, &key.ProjectID, &key.KeyHash, &key.Hint, &key.CreatedAt); err != nil {
		return nil, translate(err)
	}
	return &key, nil
}

func scanProject(row pgx.Row) (*domain.Project, error) {
	var (
		p         domain.Project
		endpoints []byte
	)
	if err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &endpoints, &p.APIKeyHint, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, translate(err)
	}
	p.Endpoints = make([]domain.Endpoint, 0)
	if len(endpoints) > 0 {
		if err := json.Unmarshal(endpoints, &p.Endpoints); err != nil {
			return nil, fmt.Errorf("decode endpoints: %w", err)
		}
	}
	return &p, nil
}

func marshalEndpoints(endpoints []domain.Endpoint) ([]byte, error) {
	if endpoints == nil {
		endpoints = []domain.Endpoint{}
	}
	return json.Marshal(endpoints)
}
