package httpx

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bugradar/bugradar/internal/service/apikey"
	"github.com/bugradar/bugradar/internal/service/auth"
	"github.com/bugradar/bugradar/internal/service/events"
	"github.com/bugradar/bugradar/internal/service/latency"
	"github.com/bugradar/bugradar/internal/service/metrics"
	"github.com/bugradar/bugradar/internal/service/project"
	"github.com/bugradar/bugradar/internal/service/recurrence"
	"github.com/bugradar/bugradar/internal/service/status"
)

// HealthCheck probes one backing component for /healthz.
type HealthCheck func(context.Context) error

// Options carries the Router's collaborators.
type Options struct {
	Logger        *slog.Logger
	Auth          auth.Service
	Projects      project.Service
	Keys          apikey.Resolver
	Events        events.Service
	Latency       *latency.Service
	Status        status.Service
	Metrics       metrics.Service
	Recurrence    recurrence.Service
	Limiter       RateLimiter
	Health        map[string]HealthCheck
	LegacyIngest  bool
	AllowOrigins  []string
	Heartbeat     time.Duration
	IsDevelopment bool
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux          *http.ServeMux
	handler      http.Handler
	logger       *slog.Logger
	auth         auth.Service
	projects     project.Service
	keys         apikey.Resolver
	events       events.Service
	latency      *latency.Service
	status       status.Service
	metrics      metrics.Service
	recurrence   recurrence.Service
	validate     *validator.Validate
	upgrader     websocket.Upgrader
	limiter      RateLimiter
	health       map[string]HealthCheck
	legacyIngest bool
	heartbeat    time.Duration

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
	eventsIngested     *prometheus.CounterVec
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitSignup    = 5
	rateLimitLogin     = 12
	rateLimitRefresh   = 30
	rateLimitUserWrite = 60
	rateLimitUserRead  = 240
	rateLimitStream    = 30
	rateLimitIngest    = 1200
	rateLimitLegacy    = 120
	healthCheckTimeout = 2 * time.Second
	defaultHeartbeat   = 15 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(opts Options) *Router {
	r := &Router{
		mux:          http.NewServeMux(),
		logger:       opts.Logger,
		auth:         opts.Auth,
		projects:     opts.Projects,
		keys:         opts.Keys,
		events:       opts.Events,
		latency:      opts.Latency,
		status:       opts.Status,
		metrics:      opts.Metrics,
		recurrence:   opts.Recurrence,
		validate:     newValidator(),
		limiter:      opts.Limiter,
		health:       opts.Health,
		legacyIngest: opts.LegacyIngest,
		heartbeat:    opts.Heartbeat,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	if r.heartbeat <= 0 {
		r.heartbeat = defaultHeartbeat
	}
	r.initMetrics()
	r.register()
	r.handler = CORS(opts.AllowOrigins)(NewSecure(SecureOptions(opts.IsDevelopment))(r.mux))
	return r
}

// ServeHTTP delegates to the middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("GET /healthz", r.audit(r.handleHealthz))
	r.mux.Handle("GET /metrics", promhttp.Handler())

	r.mux.HandleFunc("POST /api/auth/signup", r.audit(r.withRateLimit("auth_signup", rateLimitSignup, rateWindowDefault, rateLimitKeyIP, r.handleSignup)))
	r.mux.HandleFunc("POST /api/auth/login", r.audit(r.withRateLimit("auth_login", rateLimitLogin, rateWindowDefault, rateLimitKeyIP, r.handleLogin)))
	r.mux.HandleFunc("POST /api/auth/refresh", r.audit(r.withRateLimit("auth_refresh", rateLimitRefresh, rateWindowDefault, rateLimitKeyIP, r.handleRefresh)))

	r.mux.HandleFunc("GET /api/projects", r.audit(r.handlerAuthRate("projects", rateLimitUserRead, rateWindowDefault, r.handleListProjects)))
	r.mux.HandleFunc("POST /api/projects", r.audit(r.handlerAuthRate("projects", rateLimitUserWrite, rateWindowDefault, r.handleCreateProject)))
	r.mux.HandleFunc("GET /api/projects/{id}", r.audit(r.handlerAuthRate("project", rateLimitUserRead, rateWindowDefault, r.handleGetProject)))
	r.mux.HandleFunc("PATCH /api/projects/{id}", r.audit(r.handlerAuthRate("project", rateLimitUserWrite, rateWindowDefault, r.handleUpdateProject)))
	r.mux.HandleFunc("DELETE /api/projects/{id}", r.audit(r.handlerAuthRate("project", rateLimitUserWrite, rateWindowDefault, r.handleDeleteProject)))

	r.mux.HandleFunc("POST /api/logs", r.audit(r.handleIngestLog))
	r.mux.HandleFunc("GET /api/logs", r.audit(r.handlerAuthRate("logs", rateLimitUserRead, rateWindowDefault, r.handleListEvents)))
	r.mux.HandleFunc("GET /api/logs/stream", r.audit(r.requireStreamAuth(r.withRateLimit("logs_stream", rateLimitStream, rateWindowRealtime, r.rateLimitKeyUser, r.handleEventStreamWS))))
	r.mux.HandleFunc("GET /api/logs/events", r.audit(r.requireStreamAuth(r.withRateLimit("logs_events", rateLimitStream, rateWindowRealtime, r.rateLimitKeyUser, r.handleEventStreamSSE))))
	r.mux.HandleFunc("GET /api/logs/{id}", r.audit(r.handlerAuthRate("log", rateLimitUserRead, rateWindowDefault, r.handleGetEvent)))
	r.mux.HandleFunc("PATCH /api/logs/{id}", r.audit(r.handlerAuthRate("log", rateLimitUserWrite, rateWindowDefault, r.handleTransitionEvent)))

	r.mux.HandleFunc("POST /api/latency", r.audit(r.handlerKeyRate("latency_ingest", rateLimitIngest, rateWindowDefault, r.handleRecordLatency)))
	r.mux.HandleFunc("GET /api/latency", r.audit(r.handlerAuthRate("latency", rateLimitUserRead, rateWindowDefault, r.handleLatencyOverview)))
	r.mux.HandleFunc("POST /api/status", r.audit(r.handlerKeyRate("status_ingest", rateLimitIngest, rateWindowDefault, r.handleReportStatus)))
	r.mux.HandleFunc("POST /api/uptime", r.audit(r.handlerKeyRate("uptime_ingest", rateLimitIngest, rateWindowDefault, r.handleRecordUptime)))
	r.mux.HandleFunc("GET /api/uptime", r.audit(r.handlerAuthRate("uptime", rateLimitUserRead, rateWindowDefault, r.handleUptime)))
	r.mux.HandleFunc("GET /api/config", r.audit(r.handlerKeyRate("agent_config", rateLimitIngest, rateWindowDefault, r.handleAgentConfig)))

	r.mux.HandleFunc("GET /api/metrics", r.audit(r.handlerAuthRate("metrics", rateLimitUserRead, rateWindowDefault, r.handleDashboardMetrics)))
	r.mux.HandleFunc("GET /api/noisy-app-stats", r.audit(r.handlerAuthRate("noisy_app_stats", rateLimitUserRead, rateWindowDefault, r.handleNoisyAppStats)))
	r.mux.HandleFunc("GET /api/recurrence", r.audit(r.handlerAuthRate("recurrence", rateLimitUserRead, rateWindowDefault, r.handleRecurrence)))
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	components := make(map[string]any)
	status := "ok"
	for name, check := range r.health {
		if check == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		err := check(ctx)
		cancel()
		if err != nil {
			status = "degraded"
			r.logger.Warn("health check failed", "component", name, "error", err)
			components[name] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
			continue
		}
		components[name] = map[string]any{"status": "up"}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		route := req.Pattern
		if route == "" {
			route = req.URL.Path
		}
		r.recordRequestMetrics(req.Method, route, status, duration)

		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			actor = "user"
			fields = append(fields, "user_id", info.UserID)
		} else if key, ok := projectKeyFromContext(ctx); ok {
			actor = "project-key"
			fields = append(fields, "project_id", key.ProjectID)
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.status == 0 {
		sr.status = code
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		sr.status = http.StatusSwitchingProtocols
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

// queryInt parses an integer query parameter, returning fallback when absent or invalid.
func queryInt(req *http.Request, name string, fallback int) int {
	raw := strings.TrimSpace(req.URL.Query().Get(name))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
