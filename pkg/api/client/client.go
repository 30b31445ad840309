package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client provides typed access to the BugRadar API for interactive tools.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:4000"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body any, token string, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := c.baseURL + path
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg := extractError(resp.Body)
		return APIError{Status: resp.StatusCode, Message: msg}
	}

	if v == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) string {
	if body == nil {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return ""
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Error)
}

// SessionResponse captures the user and token payload emitted by the auth endpoints.
type SessionResponse struct {
	User   User      `json:"user"`
	Tokens TokenPair `json:"tokens"`
}

// User reflects API user payloads.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// TokenPair includes access and refresh tokens. ExpiresIn is in seconds.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Signup registers an account and returns its first session.
func (c *Client) Signup(ctx context.Context, email, password string) (SessionResponse, error) {
	return c.session(ctx, "/api/auth/signup", map[string]string{"email": email, "password": password})
}

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, email, password string) (SessionResponse, error) {
	return c.session(ctx, "/api/auth/login", map[string]string{"email": email, "password": password})
}

// Refresh trades a refresh token for a new token pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (SessionResponse, error) {
	return c.session(ctx, "/api/auth/refresh", map[string]string{"refresh_token": refreshToken})
}

func (c *Client) session(ctx context.Context, path string, body map[string]string) (SessionResponse, error) {
	var resp SessionResponse
	if err := c.do(ctx, http.MethodPost, path, body, "", &resp); err != nil {
		return SessionResponse{}, err
	}
	return resp, nil
}

// Endpoint is a monitored route of a project.
type Endpoint struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

// Project describes a monitored application.
type Project struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Endpoints  []Endpoint `json:"endpoints"`
	APIKeyHint string     `json:"api_key_hint"`
	CreatedAt  time.Time  `json:"created_at"`
}

// CreatedProject carries the one-time plaintext API key.
type CreatedProject struct {
	Project    Project `json:"project"`
	APIKey     string  `json:"api_key"`
	APIKeyHint string  `json:"api_key_hint"`
}

// CreateProjectInput captures the payload for project creation.
type CreateProjectInput struct {
	Name      string     `json:"name"`
	Endpoints []Endpoint `json:"endpoints"`
}

// ListProjects returns the caller's projects, newest first.
func (c *Client) ListProjects(ctx context.Context, token string) ([]Project, error) {
	var projects []Project
	if err := c.do(ctx, http.MethodGet, "/api/projects", nil, token, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// GetProject fetches a single project.
func (c *Client) GetProject(ctx context.Context, token, projectID string) (Project, error) {
	path := fmt.Sprintf("/api/projects/%s", url.PathEscape(projectID))
	var project Project
	if err := c.do(ctx, http.MethodGet, path, nil, token, &project); err != nil {
		return Project{}, err
	}
	return project, nil
}

// CreateProject registers a project and returns its API key.
func (c *Client) CreateProject(ctx context.Context, token string, input CreateProjectInput) (CreatedProject, error) {
	if input.Endpoints == nil {
		input.Endpoints = []Endpoint{}
	}
	var created CreatedProject
	if err := c.do(ctx, http.MethodPost, "/api/projects", input, token, &created); err != nil {
		return CreatedProject{}, err
	}
	return created, nil
}

// DeleteProject removes a project and everything recorded for it.
func (c *Client) DeleteProject(ctx context.Context, token, projectID string) error {
	path := fmt.Sprintf("/api/projects/%s", url.PathEscape(projectID))
	return c.do(ctx, http.MethodDelete, path, nil, token, nil)
}

// DashboardMetrics are the headline counters of a project.
type DashboardMetrics struct {
	ActiveErrors  int64 `json:"activeErrors"`
	WarningsToday int64 `json:"warningsToday"`
	LogsLastHour  int64 `json:"logsLastHour"`
}

// DailyCount is one day of a seven-day series.
type DailyCount struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// NoisyAppStats is the seven-day reliability summary of a project.
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

// Metrics returns the dashboard counters for a project.
func (c *Client) Metrics(ctx context.Context, token, projectID string) (DashboardMetrics, error) {
	var out DashboardMetrics
	if err := c.do(ctx, http.MethodGet, projectQuery("/api/metrics", projectID, nil), nil, token, &out); err != nil {
		return DashboardMetrics{}, err
	}
	return out, nil
}

// NoisyAppStats returns the reliability summary for a project.
func (c *Client) NoisyAppStats(ctx context.Context, token, projectID string) (NoisyAppStats, error) {
	var out NoisyAppStats
	if err := c.do(ctx, http.MethodGet, projectQuery("/api/noisy-app-stats", projectID, nil), nil, token, &out); err != nil {
		return NoisyAppStats{}, err
	}
	return out, nil
}

// Recurrence returns the seven-day occurrence series of a log message.
func (c *Client) Recurrence(ctx context.Context, token, projectID, message string) ([]DailyCount, error) {
	extra := url.Values{"log_message": {message}}
	var out []DailyCount
	if err := c.do(ctx, http.MethodGet, projectQuery("/api/recurrence", projectID, extra), nil, token, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Event models a recorded log event.
type Event struct {
	ID            string     `json:"id"`
	ProjectID     string     `json:"project_id"`
	Severity      string     `json:"severity"`
	Message       string     `json:"message"`
	ContainerName string     `json:"container_name"`
	Status        string     `json:"status"`
	ResolvedAt    *time.Time `json:"resolved_at"`
	IgnoredAt     *time.Time `json:"ignored_at"`
	CreatedAt     time.Time  `json:"created_at"`
}

// EventQuery narrows ListEvents.
type EventQuery struct {
	Severity string
	Status   string
	Limit    int
}

// ListEvents returns recent events for the project, newest first.
func (c *Client) ListEvents(ctx context.Context, token, projectID string, q EventQuery) ([]Event, error) {
	extra := url.Values{}
	if q.Severity != "" {
		extra.Set("severity", q.Severity)
	}
	if q.Status != "" {
		extra.Set("status", q.Status)
	}
	if q.Limit > 0 {
		extra.Set("limit", strconv.Itoa(q.Limit))
	}
	var events []Event
	if err := c.do(ctx, http.MethodGet, projectQuery("/api/logs", projectID, extra), nil, token, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// TransitionEvent resolves or ignores an open event.
func (c *Client) TransitionEvent(ctx context.Context, token, eventID, action string) (Event, error) {
	path := fmt.Sprintf("/api/logs/%s", url.PathEscape(eventID))
	var event Event
	if err := c.do(ctx, http.MethodPatch, path, map[string]string{"action": action}, token, &event); err != nil {
		return Event{}, err
	}
	return event, nil
}

func projectQuery(path, projectID string, extra url.Values) string {
	q := url.Values{}
	for k, v := range extra {
		q[k] = v
	}
	q.Set("project_id", projectID)
	return path + "?" + q.Encode()
}
