package domain

import "time"

// Endpoint names a route of the monitored application that agents probe.
type Endpoint struct {
	Method string `json:"method" validate:"required,max=16"`
	Path   string `json:"path" validate:"required,startswith=/,max=512"`
}

// Project is a monitored application owned by a single user.
type Project struct {
	ID         string     `json:"id"`
	OwnerID    string     `json:"owner_id"`
	Name       string     `json:"name"`
	Endpoints  []Endpoint `json:"endpoints"`
	APIKeyHint string     `json:"api_key_hint,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// APIKey is the stored form of a project ingestion credential. Only the
// digest is persisted; the plaintext leaves the server once.
type APIKey struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	KeyHash   string    `json:"-"`
	Hint      string    `json:"hint"`
	CreatedAt time.Time `json:"created_at"`
}
