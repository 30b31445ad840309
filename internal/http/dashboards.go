package httpx

import (
	"net/http"
)

func (r *Router) handleDashboardMetrics(w http.ResponseWriter, req *http.Request) {
	project, ok := r.projectFromQuery(w, req)
	if !ok {
		return
	}
	out, err := r.metrics.Dashboard(req.Context(), project.ID)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleNoisyAppStats never returns partial results: any failing query
// fails the whole request.
func (r *Router) handleNoisyAppStats(w http.ResponseWriter, req *http.Request) {
	project, ok := r.projectFromQuery(w, req)
	if !ok {
		return
	}
	stats, err := r.metrics.NoisyAppStats(req.Context(), project.ID)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (r *Router) handleRecurrence(w http.ResponseWriter, req *http.Request) {
	project, ok := r.projectFromQuery(w, req)
	if !ok {
		return
	}
	series, err := r.recurrence.Series(req.Context(), project.ID, req.URL.Query().Get("log_message"))
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, series)
}
