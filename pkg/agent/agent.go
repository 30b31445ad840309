// Package agent is the client embedded by monitored applications. It reports
// log events, endpoint latency, container status and uptime to a BugRadar API
// using a project API key.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout   = 5 * time.Second
	maxErrorBodySize = 4096
	keyPrefix        = "proj_"
)

// ErrUnauthorized indicates the API rejected the project key.
var ErrUnauthorized = errors.New("agent unauthorized")

// ErrInvalidArgument indicates the API rejected the payload with validation errors.
var ErrInvalidArgument = errors.New("agent invalid argument")

// ErrNotFound indicates the API could not locate the referenced project.
var ErrNotFound = errors.New("agent project not found")

// ErrRateLimited indicates the project exceeded its ingestion budget.
var ErrRateLimited = errors.New("agent rate limited")

// ErrInvalidResponse indicates the API returned a malformed response payload.
var ErrInvalidResponse = errors.New("agent invalid response")

// Severity values accepted by the ingestion endpoint.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
	SeverityDebug   = "debug"
)

// Container states accepted by the status endpoint.
const (
	StateUp        = "up"
	StateDown      = "down"
	StateHeartbeat = "heartbeat"
)

// Client sends telemetry for a single project.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	now     func() time.Time
}

// Log is one application log line.
type Log struct {
	Message   string
	Container string
	Severity  string
}

// Latency is one observed request against a monitored endpoint.
type Latency struct {
	Method     string
	Path       string
	StatusCode int
	Duration   time.Duration
	At         time.Time
}

// Endpoint is a route the project asks its agents to probe.
type Endpoint struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

// Config is the probe configuration served to agents.
type Config struct {
	ProjectID string     `json:"project_id"`
	Endpoints []Endpoint `json:"endpoints"`
}

// New creates a client for the API at baseURL authenticated with a project key.
func New(baseURL, apiKey string, client *http.Client) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errors.New("agent base url required")
	}
	key := strings.TrimSpace(apiKey)
	if !strings.HasPrefix(key, keyPrefix) {
		return nil, fmt.Errorf("agent api key must start with %q", keyPrefix)
	}
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	} else if client.Timeout == 0 {
		client.Timeout = defaultTimeout
	}
	return &Client{
		baseURL: trimmed,
		apiKey:  key,
		client:  client,
		now:     time.Now,
	}, nil
}

// SendLog records a log event. Severity defaults to error.
func (c *Client) SendLog(ctx context.Context, entry Log) error {
	if strings.TrimSpace(entry.Message) == "" {
		return errors.New("agent log message required")
	}
	severity := strings.ToLower(strings.TrimSpace(entry.Severity))
	if severity == "" {
		severity = SeverityError
	}
	payload := map[string]any{
		"log_message": entry.Message,
		"severity":    severity,
	}
	if strings.TrimSpace(entry.Container) != "" {
		payload["container_name"] = entry.Container
	}
	return c.post(ctx, "/api/logs", payload)
}

// SendLatency records one request observation.
func (c *Client) SendLatency(ctx context.Context, sample Latency) error {
	if strings.TrimSpace(sample.Path) == "" {
		return errors.New("agent latency path required")
	}
	at := sample.At
	if at.IsZero() {
		at = c.now()
	}
	method := strings.ToUpper(strings.TrimSpace(sample.Method))
	if method == "" {
		method = http.MethodGet
	}
	payload := map[string]any{
		"path":        strings.TrimSpace(sample.Path),
		"method":      method,
		"status_code": sample.StatusCode,
		"latency_ms":  float64(sample.Duration) / float64(time.Millisecond),
		"timestamp":   at.UTC().Format(time.RFC3339Nano),
	}
	return c.post(ctx, "/api/latency", payload)
}

// SendStatus reports a container state.
func (c *Client) SendStatus(ctx context.Context, container, state string) error {
	container = strings.TrimSpace(container)
	if container == "" {
		return errors.New("agent container name required")
	}
	switch state {
	case StateUp, StateDown, StateHeartbeat:
	default:
		return fmt.Errorf("agent unknown container state %q", state)
	}
	return c.post(ctx, "/api/status", map[string]any{"container_name": container, "state": state})
}

// SendUptime reports an availability percentage in [0,100].
func (c *Client) SendUptime(ctx context.Context, percentage float64) error {
	if percentage < 0 || percentage > 100 {
		return fmt.Errorf("agent uptime out of range: %v", percentage)
	}
	return c.post(ctx, "/api/uptime", map[string]any{"percentage": percentage})
}

// FetchConfig returns the endpoints this project wants probed.
func (c *Client) FetchConfig(ctx context.Context) (Config, error) {
	var cfg Config
	resp, err := c.do(ctx, http.MethodGet, "/api/config", nil)
	if err != nil {
		return cfg, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return cfg, errorForStatus(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return cfg, nil
}

func (c *Client) post(ctx context.Context, path string, payload map[string]any) error {
	resp, err := c.do(ctx, http.MethodPost, path, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return errorForStatus(resp)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodySize))
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal agent payload: %w", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build agent request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send agent request: %w", err)
	}
	return resp, nil
}

func errorForStatus(resp *http.Response) error {
	buf, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	summary := resp.Status
	var envelope struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(buf, &envelope) == nil && envelope.Error != "" {
		summary = envelope.Error
	} else if trimmed := strings.TrimSpace(string(buf)); trimmed != "" {
		summary = trimmed
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, summary)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrInvalidArgument, summary)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, summary)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, summary)
	default:
		return fmt.Errorf("agent request failed: %s", summary)
	}
}
