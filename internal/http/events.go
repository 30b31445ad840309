package httpx

import (
	"net/http"
	"strings"

	"github.com/bugradar/bugradar/internal/domain"
	"github.com/bugradar/bugradar/internal/service/events"
)

type ingestLogRequest struct {
	LogMessage    string `json:"log_message" validate:"required,max=65536"`
	ContainerName string `json:"container_name" validate:"max=255"`
	Severity      string `json:"severity" validate:"required,oneof=error warning info debug"`
}

// legacyIngestRequest names the project in the body instead of an API key.
type legacyIngestRequest struct {
	LogMessage    string `json:"log_message" validate:"required,max=65536"`
	ContainerName string `json:"container_name" validate:"max=255"`
	Severity      string `json:"severity" validate:"required,oneof=error warning info debug"`
	ProjectID     string `json:"project_id" validate:"required,uuid"`
	UserID        string `json:"user_id" validate:"omitempty,uuid"`
}

type transitionRequest struct {
	Action string `json:"action" validate:"required"`
}

// handleIngestLog accepts log lines from agents. Requests without any
// Authorization header fall through to the deprecated body-addressed
// form when it is enabled.
func (r *Router) handleIngestLog(w http.ResponseWriter, req *http.Request) {
	if strings.TrimSpace(req.Header.Get("Authorization")) == "" && r.legacyIngest {
		r.withRateLimit("logs_ingest_legacy", rateLimitLegacy, rateWindowDefault, rateLimitKeyIP, r.handleLegacyIngest)(w, req)
		return
	}
	r.handlerKeyRate("logs_ingest", rateLimitIngest, rateWindowDefault, r.handleKeyedIngest)(w, req)
}

func (r *Router) handleKeyedIngest(w http.ResponseWriter, req *http.Request) {
	key, ok := projectKeyFromContext(req.Context())
	if !ok {
		r.logger.Error("project key context missing", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	var body ingestLogRequest
	if !r.decode(w, req, &body) {
		return
	}
	r.ingest(w, req, key.ProjectID, body, "api_key")
}

func (r *Router) handleLegacyIngest(w http.ResponseWriter, req *http.Request) {
	var body legacyIngestRequest
	if !r.decode(w, req, &body) {
		return
	}
	// The project must exist; the body is otherwise trusted.
	if _, err := r.projects.Owner(req.Context(), body.ProjectID); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	r.logger.Warn("legacy ingestion used", "project_id", body.ProjectID, "user_id", body.UserID, "ip", clientIP(req))
	r.ingest(w, req, body.ProjectID, ingestLogRequest{
		LogMessage:    body.LogMessage,
		ContainerName: body.ContainerName,
		Severity:      body.Severity,
	}, "legacy")
}

func (r *Router) ingest(w http.ResponseWriter, req *http.Request, projectID string, body ingestLogRequest, source string) {
	event, err := r.events.Ingest(req.Context(), events.IngestInput{
		ProjectID:     projectID,
		Severity:      domain.Severity(body.Severity),
		Message:       body.LogMessage,
		ContainerName: body.ContainerName,
	})
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	r.recordIngested(string(event.Severity), source)
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "event": event})
}

func (r *Router) handleListEvents(w http.ResponseWriter, req *http.Request) {
	project, ok := r.projectFromQuery(w, req)
	if !ok {
		return
	}
	q := req.URL.Query()
	list, err := r.events.List(req.Context(), domain.EventFilter{
		ProjectID: project.ID,
		Severity:  domain.Severity(strings.TrimSpace(q.Get("severity"))),
		Status:    domain.EventStatus(strings.TrimSpace(q.Get("status"))),
		Limit:     queryInt(req, "limit", events.DefaultListLimit),
		Offset:    queryInt(req, "offset", 0),
	})
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	if list == nil {
		list = []domain.Event{}
	}
	writeJSON(w, http.StatusOK, list)
}

// loadOwnedEvent fetches an event and runs the ownership guard on its project.
func (r *Router) loadOwnedEvent(w http.ResponseWriter, req *http.Request) (*domain.Event, bool) {
	event, err := r.events.Get(req.Context(), req.PathValue("id"))
	if err != nil {
		r.writeServiceError(w, req, err)
		return nil, false
	}
	if _, ok := r.authorizeProject(w, req, event.ProjectID); !ok {
		return nil, false
	}
	return event, true
}

func (r *Router) handleGetEvent(w http.ResponseWriter, req *http.Request) {
	event, ok := r.loadOwnedEvent(w, req)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (r *Router) handleTransitionEvent(w http.ResponseWriter, req *http.Request) {
	event, ok := r.loadOwnedEvent(w, req)
	if !ok {
		return
	}
	var body transitionRequest
	if !r.decode(w, req, &body) {
		return
	}
	info, _ := authInfoFromContext(req.Context())
	updated, err := r.events.Transition(req.Context(), event, body.Action, info.UserID)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
