package httpx

import (
	"net/http"
	"time"

	"github.com/bugradar/bugradar/internal/domain"
	"github.com/bugradar/bugradar/internal/service/events"
	"github.com/bugradar/bugradar/internal/service/latency"
	"github.com/bugradar/bugradar/internal/service/status"
)

type latencyRequest struct {
	Path       string     `json:"path" validate:"required,max=2048"`
	Method     string     `json:"method" validate:"required,max=16"`
	StatusCode int        `json:"status_code" validate:"required,min=100,max=599"`
	LatencyMS  *float64   `json:"latency_ms" validate:"required,gte=0"`
	Timestamp  *time.Time `json:"timestamp"`
}

type statusRequest struct {
	ContainerName string `json:"container_name" validate:"required,max=255"`
	State         string `json:"state" validate:"required,oneof=up down heartbeat"`
}

type uptimeRequest struct {
	Percentage *float64 `json:"percentage" validate:"required,gte=0,lte=100"`
}

func (r *Router) handleRecordLatency(w http.ResponseWriter, req *http.Request) {
	key, _ := projectKeyFromContext(req.Context())
	var body latencyRequest
	if !r.decode(w, req, &body) {
		return
	}
	input := latency.RecordInput{
		ProjectID:  key.ProjectID,
		Path:       body.Path,
		Method:     body.Method,
		StatusCode: body.StatusCode,
		LatencyMS:  *body.LatencyMS,
	}
	if body.Timestamp != nil {
		input.Timestamp = *body.Timestamp
	}
	record, err := r.latency.Record(req.Context(), input)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "record": record})
}

func (r *Router) handleReportStatus(w http.ResponseWriter, req *http.Request) {
	key, _ := projectKeyFromContext(req.Context())
	var body statusRequest
	if !r.decode(w, req, &body) {
		return
	}
	owner, err := r.projects.Owner(req.Context(), key.ProjectID)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	report, event, err := r.status.Report(req.Context(), status.ReportInput{
		ProjectID:     key.ProjectID,
		OwnerID:       owner,
		ContainerName: body.ContainerName,
		State:         domain.ContainerState(body.State),
	})
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	if event != nil {
		r.recordIngested(string(event.Severity), "status")
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "status": report, "event": event})
}

func (r *Router) handleRecordUptime(w http.ResponseWriter, req *http.Request) {
	key, _ := projectKeyFromContext(req.Context())
	var body uptimeRequest
	if !r.decode(w, req, &body) {
		return
	}
	owner, err := r.projects.Owner(req.Context(), key.ProjectID)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	check, err := r.status.RecordUptime(req.Context(), key.ProjectID, owner, *body.Percentage)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "uptime": check})
}

// handleAgentConfig tells an agent which endpoints of its project to probe.
func (r *Router) handleAgentConfig(w http.ResponseWriter, req *http.Request) {
	key, _ := projectKeyFromContext(req.Context())
	endpoints, err := r.projects.Endpoints(req.Context(), key.ProjectID)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	if endpoints == nil {
		endpoints = []domain.Endpoint{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"project_id": key.ProjectID, "endpoints": endpoints})
}

func (r *Router) handleLatencyOverview(w http.ResponseWriter, req *http.Request) {
	project, ok := r.projectFromQuery(w, req)
	if !ok {
		return
	}
	overview, err := r.latency.Overview(req.Context(), project.ID, events.ClampLimit(queryInt(req, "limit", 0)))
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func (r *Router) handleUptime(w http.ResponseWriter, req *http.Request) {
	project, ok := r.projectFromQuery(w, req)
	if !ok {
		return
	}
	view, err := r.status.Uptime(req.Context(), project.ID)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
