package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bugradar/bugradar/internal/repository"
	"github.com/bugradar/bugradar/internal/service/apikey"
	"github.com/bugradar/bugradar/internal/service/auth"
	"github.com/bugradar/bugradar/internal/service/events"
	"github.com/bugradar/bugradar/internal/service/recurrence"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": msg})
}

// writeServiceError maps service and repository errors onto status codes.
// Unexpected errors are logged and reported without detail.
func (r *Router) writeServiceError(w http.ResponseWriter, req *http.Request, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, events.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrEmailTaken):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, repository.ErrConflict):
		writeError(w, http.StatusConflict, "conflict")
	case errors.Is(err, events.ErrUnknownAction), errors.Is(err, recurrence.ErrMessageRequired):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, repository.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, apikey.ErrInvalidAPIKey):
		writeError(w, http.StatusForbidden, "invalid api key")
	default:
		r.logger.Error("request failed", "error", err, "method", req.Method, "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
