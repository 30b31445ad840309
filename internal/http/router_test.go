package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bugradar/bugradar/internal/domain"
	"github.com/bugradar/bugradar/internal/service/apikey"
	"github.com/bugradar/bugradar/internal/service/auth"
	"github.com/bugradar/bugradar/internal/service/events"
	"github.com/bugradar/bugradar/internal/service/latency"
	"github.com/bugradar/bugradar/internal/service/metrics"
	"github.com/bugradar/bugradar/internal/service/project"
	"github.com/bugradar/bugradar/internal/service/recurrence"
	"github.com/bugradar/bugradar/internal/service/status"
	"github.com/bugradar/bugradar/internal/ws"
	"github.com/bugradar/bugradar/pkg/config"
	jwtpkg "github.com/bugradar/bugradar/pkg/jwt"
)

const testSecret = "test-secret"

type testEnv struct {
	router    *Router
	store     *memStore
	limiter   *rateLimiterStub
	hub       *ws.Hub
	userID    string
	token     string
	projectID string
	apiKey    string
}

func newTestEnv(t *testing.T, mutate ...func(*Options)) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := newMemStore()
	cfg := config.APIConfig{
		JWTSecret:       testSecret,
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 24 * time.Hour,
	}
	hub := ws.NewHub()
	t.Cleanup(hub.Close)

	eventSvc := events.New(store, hub, logger)
	projectSvc := project.New(store, logger)
	limiter := newRateLimiterStub()
	opts := Options{
		Logger:     logger,
		Auth:       auth.New(store, logger, cfg),
		Projects:   projectSvc,
		Keys:       apikey.NewResolver(store),
		Events:     eventSvc,
		Latency:    latency.NewService(store, store, logger, time.Minute, 30*time.Second),
		Status:     status.New(store, eventSvc, 5*time.Minute, logger),
		Metrics:    metrics.New(store, time.UTC, 5*time.Second),
		Recurrence: recurrence.New(store, time.UTC),
		Limiter:    limiter,
		Heartbeat:  20 * time.Millisecond,
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	router := NewRouter(opts)
	t.Cleanup(router.Close)

	env := &testEnv{router: router, store: store, limiter: limiter, hub: hub}
	env.userID, env.token = env.addUser(t, "owner@example.com")
	created, err := projectSvc.Create(context.Background(), env.userID, project.CreateInput{
		Name:      "checkout",
		Endpoints: []domain.Endpoint{{Method: "GET", Path: "/health"}},
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	env.projectID = created.Project.ID
	env.apiKey = created.APIKey
	return env
}

func (e *testEnv) addUser(t *testing.T, email string) (string, string) {
	t.Helper()
	id := uuid.NewString()
	e.store.mu.Lock()
	e.store.users[id] = &domain.User{ID: id, Email: email, CreatedAt: time.Now().UTC()}
	e.store.mu.Unlock()
	token, err := jwtpkg.GenerateToken(id, email, jwtpkg.KindAccess, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return id, token
}

func (e *testEnv) do(t *testing.T, method, target string, body any, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
}

func TestIngestRequiresAuthorizationHeader(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodPost, "/api/logs", map[string]string{"log_message": "boom", "severity": "error"}, "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
	var payload map[string]any
	decodeBody(t, rr, &payload)
	if payload["ok"] != false {
		t.Fatalf("expected ok false, got %v", payload["ok"])
	}
	if env.store.eventCount() != 0 {
		t.Fatalf("expected no events stored")
	}
}

func TestIngestRejectsUnknownKey(t *testing.T) {
	env := newTestEnv(t)
	body := map[string]string{"log_message": "boom", "severity": "error"}

	rr := env.do(t, http.MethodPost, "/api/logs", body, "proj_"+strings.Repeat("0", 48))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403 for unknown key, got %d", rr.Code)
	}
	rr = env.do(t, http.MethodPost, "/api/logs", body, "not-a-project-key")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403 for unprefixed key, got %d", rr.Code)
	}
}

func TestIngestCreatesOpenEvent(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodPost, "/api/logs", map[string]string{
		"log_message":    "payment failed",
		"container_name": "api-1",
		"severity":       "error",
	}, env.apiKey)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var payload struct {
		OK    bool         `json:"ok"`
		Event domain.Event `json:"event"`
	}
	decodeBody(t, rr, &payload)
	if !payload.OK {
		t.Fatalf("expected ok true")
	}
	if payload.Event.Status != domain.EventOpen {
		t.Fatalf("expected open event, got %q", payload.Event.Status)
	}
	if payload.Event.ProjectID != env.projectID {
		t.Fatalf("expected project %s, got %s", env.projectID, payload.Event.ProjectID)
	}
	if payload.Event.ContainerName != "api-1" {
		t.Fatalf("unexpected container %q", payload.Event.ContainerName)
	}

	env.limiter.mu.Lock()
	calls := append([]rateLimitCall(nil), env.limiter.calls...)
	env.limiter.mu.Unlock()
	if len(calls) != 1 || calls[0].key != "project:"+env.projectID {
		t.Fatalf("expected one per-project limiter call, got %+v", calls)
	}
}

func TestIngestStoresMessageVerbatim(t *testing.T) {
	env := newTestEnv(t)
	const message = "panic: nil map write\n\tat main.go:12\n"
	rr := env.do(t, http.MethodPost, "/api/logs", map[string]string{
		"log_message":    message,
		"severity":       "error",
		"container_name": " api-1 ",
	}, env.apiKey)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var payload struct {
		Event domain.Event `json:"event"`
	}
	decodeBody(t, rr, &payload)
	if payload.Event.Message != message || payload.Event.ContainerName != " api-1 " {
		t.Fatalf("expected verbatim message and container, got %q %q", payload.Event.Message, payload.Event.ContainerName)
	}

	env.store.mu.Lock()
	stored := append([]domain.Event(nil), env.store.events...)
	env.store.mu.Unlock()
	if len(stored) != 1 || stored[0].Message != message || stored[0].ContainerName != " api-1 " {
		t.Fatalf("expected stored event to equal input, got %+v", stored)
	}

	q := url.Values{}
	q.Set("project_id", env.projectID)
	q.Set("log_message", message)
	rr = env.do(t, http.MethodGet, "/api/recurrence?"+q.Encode(), nil, env.token)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var series []domain.DailyCount
	decodeBody(t, rr, &series)
	if len(series) == 0 {
		t.Fatalf("expected recurrence points")
	}
	if last := series[len(series)-1]; last.Count != 1 {
		t.Fatalf("expected today's count 1, got %d", last.Count)
	}
}

func TestIngestValidationFailure(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodPost, "/api/logs", map[string]string{"log_message": "x", "severity": "fatal"}, env.apiKey)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	var payload struct {
		OK     bool              `json:"ok"`
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}
	decodeBody(t, rr, &payload)
	if payload.OK || payload.Error != "validation failed" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if _, ok := payload.Fields["severity"]; !ok {
		t.Fatalf("expected severity field error, got %v", payload.Fields)
	}
}

func TestLegacyIngest(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.LegacyIngest = true })
	rr := env.do(t, http.MethodPost, "/api/logs", map[string]string{
		"log_message": "legacy line",
		"severity":    "info",
		"project_id":  env.projectID,
	}, "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodPost, "/api/logs", map[string]string{
		"log_message": "legacy line",
		"severity":    "info",
		"project_id":  uuid.NewString(),
	}, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for unknown project, got %d", rr.Code)
	}
}

func TestIngestRateLimited(t *testing.T) {
	env := newTestEnv(t)
	reset := time.Unix(1_950_000_000, 0)
	env.limiter.allowFn = func(key string, limit int, window time.Duration) rateDecision {
		return rateDecision{allowed: false, count: limit, windowEnd: reset}
	}
	rr := env.do(t, http.MethodPost, "/api/logs", map[string]string{"log_message": "x", "severity": "info"}, env.apiKey)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rr.Code)
	}
	if got := rr.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("unexpected remaining header %q", got)
	}
	if got := rr.Header().Get("X-RateLimit-Reset"); got != "1950000000" {
		t.Fatalf("unexpected reset header %q", got)
	}
}

func TestTransitionEvent(t *testing.T) {
	env := newTestEnv(t)
	event := env.store.addEvent(env.projectID, domain.SeverityError, "boom", time.Now().UTC())

	rr := env.do(t, http.MethodPatch, "/api/logs/"+event.ID, map[string]string{"action": "resolve"}, env.token)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var updated domain.Event
	decodeBody(t, rr, &updated)
	if updated.Status != domain.EventResolved {
		t.Fatalf("expected resolved, got %q", updated.Status)
	}
	if updated.ResolvedBy == nil || *updated.ResolvedBy != env.userID {
		t.Fatalf("expected resolved_by %s, got %v", env.userID, updated.ResolvedBy)
	}
	if updated.ResolvedAt == nil {
		t.Fatalf("expected resolved_at to be set")
	}

	rr = env.do(t, http.MethodPatch, "/api/logs/"+event.ID, map[string]string{"action": "ignore"}, env.token)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestTransitionUnknownAction(t *testing.T) {
	env := newTestEnv(t)
	event := env.store.addEvent(env.projectID, domain.SeverityError, "boom", time.Now().UTC())
	rr := env.do(t, http.MethodPatch, "/api/logs/"+event.ID, map[string]string{"action": "delete"}, env.token)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestEventOwnershipIsNotLeaked(t *testing.T) {
	env := newTestEnv(t)
	event := env.store.addEvent(env.projectID, domain.SeverityError, "boom", time.Now().UTC())
	_, strangerToken := env.addUser(t, "stranger@example.com")

	rr := env.do(t, http.MethodGet, "/api/logs/"+event.ID, nil, strangerToken)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for foreign event, got %d", rr.Code)
	}
	rr = env.do(t, http.MethodGet, "/api/metrics?project_id="+env.projectID, nil, strangerToken)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for foreign project, got %d", rr.Code)
	}
	rr = env.do(t, http.MethodGet, "/api/metrics?project_id=not-a-uuid", nil, env.token)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for malformed project id, got %d", rr.Code)
	}
	rr = env.do(t, http.MethodGet, "/api/logs/"+event.ID, nil, env.token)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected owner to read event, got %d", rr.Code)
	}
}

func TestSessionRequired(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/api/metrics?project_id="+env.projectID, nil, "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
	rr = env.do(t, http.MethodGet, "/api/metrics?project_id="+env.projectID, nil, env.apiKey)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 for api key on session route, got %d", rr.Code)
	}
}

func TestDashboardMetrics(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now().UTC()
	env.store.addEvent(env.projectID, domain.SeverityError, "e1", now.Add(-time.Minute))
	env.store.addEvent(env.projectID, domain.SeverityError, "e2", now.Add(-time.Minute))
	env.store.addEvent(env.projectID, domain.SeverityWarning, "w1", now.Add(-time.Minute))
	for i := 0; i < 7; i++ {
		env.store.addEvent(env.projectID, domain.SeverityInfo, "i", now.Add(-time.Minute))
	}
	env.store.addEvent(env.projectID, domain.SeverityInfo, "old", now.Add(-2*time.Hour))

	rr := env.do(t, http.MethodGet, "/api/metrics?project_id="+env.projectID, nil, env.token)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var got map[string]int64
	decodeBody(t, rr, &got)
	if got["activeErrors"] != 2 || got["warningsToday"] != 1 || got["logsLastHour"] != 10 {
		t.Fatalf("unexpected metrics %v", got)
	}
}

func TestNoisyAppStatsDefaults(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/api/noisy-app-stats?project_id="+env.projectID, nil, env.token)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var stats domain.NoisyAppStats
	decodeBody(t, rr, &stats)
	if stats.UptimePercentage != 100 {
		t.Fatalf("expected uptime 100 without latency records, got %v", stats.UptimePercentage)
	}
	if stats.ErrorRate != 0 || stats.WarningRate != 0 {
		t.Fatalf("expected zero rates, got %v/%v", stats.ErrorRate, stats.WarningRate)
	}
	if len(stats.LogVolume) != 7 {
		t.Fatalf("expected 7 volume points, got %d", len(stats.LogVolume))
	}
}

func TestNoisyAppStatsFailureIsInternalError(t *testing.T) {
	env := newTestEnv(t)
	env.store.countErr = errors.New("connection reset")
	rr := env.do(t, http.MethodGet, "/api/noisy-app-stats?project_id="+env.projectID, nil, env.token)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "connection reset") {
		t.Fatalf("internal error detail leaked: %s", rr.Body.String())
	}
}

func TestRecurrenceSeries(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now().UTC()
	env.store.addEvent(env.projectID, domain.SeverityError, "db timeout on shard 3", now)
	env.store.addEvent(env.projectID, domain.SeverityError, "db timeout on shard 7", now)
	env.store.addEvent(env.projectID, domain.SeverityError, "disk full", now)

	q := url.Values{}
	q.Set("project_id", env.projectID)
	q.Set("log_message", `{"msg":"db timeout"}`)
	rr := env.do(t, http.MethodGet, "/api/recurrence?"+q.Encode(), nil, env.token)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var series []domain.DailyCount
	decodeBody(t, rr, &series)
	if len(series) != 7 {
		t.Fatalf("expected 7 points, got %d", len(series))
	}
	last := series[len(series)-1]
	if last.Date != now.Format("2006-01-02") {
		t.Fatalf("expected last point to be today, got %s", last.Date)
	}
	if last.Count != 2 {
		t.Fatalf("expected 2 matches today, got %d", last.Count)
	}

	rr = env.do(t, http.MethodGet, "/api/recurrence?project_id="+env.projectID, nil, env.token)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 without log_message, got %d", rr.Code)
	}
}

func TestStatusTransitionsCreateEvents(t *testing.T) {
	env := newTestEnv(t)
	report := func(state string) map[string]any {
		rr := env.do(t, http.MethodPost, "/api/status", map[string]string{"container_name": "web", "state": state}, env.apiKey)
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}
		var payload map[string]any
		decodeBody(t, rr, &payload)
		return payload
	}

	down := report("down")
	event, ok := down["event"].(map[string]any)
	if !ok || event["severity"] != "error" || event["message"] != "Container web is down" {
		t.Fatalf("unexpected down event %v", down["event"])
	}
	if hb := report("heartbeat"); hb["event"] != nil {
		t.Fatalf("expected no event for heartbeat, got %v", hb["event"])
	}
	up := report("up")
	event, ok = up["event"].(map[string]any)
	if !ok || event["severity"] != "info" || event["message"] != "Container web recovered" {
		t.Fatalf("unexpected recovery event %v", up["event"])
	}
	if again := report("up"); again["event"] != nil {
		t.Fatalf("expected no event for repeated up, got %v", again["event"])
	}
}

func TestUptimeRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/api/uptime?project_id="+env.projectID, nil, env.token)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var view map[string]any
	decodeBody(t, rr, &view)
	if view["fresh"] != false || view["percentage"] != nil {
		t.Fatalf("expected empty uptime view, got %v", view)
	}

	rr = env.do(t, http.MethodPost, "/api/uptime", map[string]float64{"percentage": 150}, env.apiKey)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for out of range percentage, got %d", rr.Code)
	}
	rr = env.do(t, http.MethodPost, "/api/uptime", map[string]float64{"percentage": 99.5}, env.apiKey)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	rr = env.do(t, http.MethodGet, "/api/uptime?project_id="+env.projectID, nil, env.token)
	decodeBody(t, rr, &view)
	if view["fresh"] != true || view["percentage"] != 99.5 {
		t.Fatalf("expected fresh 99.5 uptime, got %v", view)
	}
}

func TestLatencyIngestAndOverview(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodPost, "/api/latency", map[string]any{
		"path": "/health", "method": "get", "status_code": 200, "latency_ms": 0,
	}, env.apiKey)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	rr = env.do(t, http.MethodPost, "/api/latency", map[string]any{"path": "/health", "method": "GET", "status_code": 200}, env.apiKey)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 without latency_ms, got %d", rr.Code)
	}

	rr = env.do(t, http.MethodGet, "/api/latency?project_id="+env.projectID, nil, env.token)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var overview latency.Overview
	decodeBody(t, rr, &overview)
	if len(overview.Records) != 1 || overview.Records[0].Method != "GET" {
		t.Fatalf("unexpected records %+v", overview.Records)
	}
}

func TestAgentConfig(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/api/config", nil, env.apiKey)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var payload struct {
		ProjectID string            `json:"project_id"`
		Endpoints []domain.Endpoint `json:"endpoints"`
	}
	decodeBody(t, rr, &payload)
	if payload.ProjectID != env.projectID || len(payload.Endpoints) != 1 || payload.Endpoints[0].Path != "/health" {
		t.Fatalf("unexpected config %+v", payload)
	}
}

func TestProjectLifecycle(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodPost, "/api/projects", map[string]any{
		"name":      "billing",
		"endpoints": []map[string]string{{"method": "post", "path": "/charge"}},
	}, env.token)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var created struct {
		Project    domain.Project `json:"project"`
		APIKey     string         `json:"api_key"`
		APIKeyHint string         `json:"api_key_hint"`
	}
	decodeBody(t, rr, &created)
	if !strings.HasPrefix(created.APIKey, "proj_") || len(created.APIKey) != 53 {
		t.Fatalf("unexpected api key %q", created.APIKey)
	}
	if !strings.HasSuffix(created.APIKey, created.APIKeyHint) {
		t.Fatalf("hint %q does not match key", created.APIKeyHint)
	}
	if created.Project.Endpoints[0].Method != "POST" {
		t.Fatalf("expected normalized method, got %q", created.Project.Endpoints[0].Method)
	}

	rr = env.do(t, http.MethodPatch, "/api/projects/"+created.Project.ID, map[string]string{"name": "billing-v2"}, env.token)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	rr = env.do(t, http.MethodGet, "/api/projects", nil, env.token)
	var list []domain.Project
	decodeBody(t, rr, &list)
	if len(list) != 2 {
		t.Fatalf("expected 2 projects, got %d", len(list))
	}
	rr = env.do(t, http.MethodDelete, "/api/projects/"+created.Project.ID, nil, env.token)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	rr = env.do(t, http.MethodGet, "/api/projects/"+created.Project.ID, nil, env.token)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 after delete, got %d", rr.Code)
	}
}

func TestCreateProjectValidation(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodPost, "/api/projects", map[string]any{
		"name":      "x",
		"endpoints": []map[string]string{{"method": "GET", "path": "health"}},
	}, env.token)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	var payload struct {
		Fields map[string]string `json:"fields"`
	}
	decodeBody(t, rr, &payload)
	if _, ok := payload.Fields["endpoints[0].path"]; !ok {
		t.Fatalf("expected endpoints[0].path field error, got %v", payload.Fields)
	}
}

func TestSignupLoginRefresh(t *testing.T) {
	env := newTestEnv(t)
	creds := map[string]string{"email": "New@Example.com", "password": "correct-horse"}
	rr := env.do(t, http.MethodPost, "/api/auth/signup", creds, "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	rr = env.do(t, http.MethodPost, "/api/auth/signup", creds, "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409 for duplicate email, got %d", rr.Code)
	}
	rr = env.do(t, http.MethodPost, "/api/auth/login", map[string]string{"email": "new@example.com", "password": "wrong-password"}, "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 for bad password, got %d", rr.Code)
	}
	rr = env.do(t, http.MethodPost, "/api/auth/login", creds, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var session sessionResponse
	decodeBody(t, rr, &session)
	if session.User.Email != "new@example.com" {
		t.Fatalf("unexpected email %q", session.User.Email)
	}

	rr = env.do(t, http.MethodPost, "/api/auth/refresh", map[string]string{"refresh_token": session.Tokens.AccessToken}, "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected access token to be rejected for refresh, got %d", rr.Code)
	}
	rr = env.do(t, http.MethodPost, "/api/auth/refresh", map[string]string{"refresh_token": session.Tokens.RefreshToken}, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 for refresh, got %d", rr.Code)
	}

	rr = env.do(t, http.MethodPost, "/api/auth/signup", map[string]string{"email": "bad", "password": "short"}, "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestHealthzReportsComponents(t *testing.T) {
	env := newTestEnv(t, func(o *Options) {
		o.Health = map[string]HealthCheck{
			"database": func(context.Context) error { return nil },
			"redis":    func(context.Context) error { return errors.New("dial tcp: refused") },
		}
	})
	rr := env.do(t, http.MethodGet, "/healthz", nil, "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	var payload struct {
		Status     string                    `json:"status"`
		Components map[string]map[string]any `json:"components"`
	}
	decodeBody(t, rr, &payload)
	if payload.Status != "degraded" {
		t.Fatalf("expected degraded, got %q", payload.Status)
	}
	if payload.Components["database"]["status"] != "up" || payload.Components["redis"]["status"] != "down" {
		t.Fatalf("unexpected components %v", payload.Components)
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("expected security headers on response")
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.AllowOrigins = []string{"https://app.example.com"} })
	req := httptest.NewRequest(http.MethodOptions, "/api/projects", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("unexpected allow origin %q", got)
	}
}

type rateLimiterStub struct {
	mu      sync.Mutex
	calls   []rateLimitCall
	allowFn func(key string, limit int, window time.Duration) rateDecision
}

type rateLimitCall struct {
	key    string
	limit  int
	window time.Duration
}

func newRateLimiterStub() *rateLimiterStub {
	return &rateLimiterStub{}
}

func (rl *rateLimiterStub) Allow(key string, limit int, window time.Duration) rateDecision {
	rl.mu.Lock()
	rl.calls = append(rl.calls, rateLimitCall{key: key, limit: limit, window: window})
	fn := rl.allowFn
	rl.mu.Unlock()
	if fn != nil {
		return fn(key, limit, window)
	}
	return rateDecision{allowed: true, count: 1, windowEnd: time.Now().Add(window)}
}

func (rl *rateLimiterStub) Close() {}
