package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/bugradar/bugradar/internal/domain"
	"github.com/bugradar/bugradar/internal/service/apikey"
)

type authContextKey string

type authInfo struct {
	UserID string
	Email  string
}

type projectKeyInfo struct {
	ProjectID string
}

const (
	contextKeyAuth       authContextKey = "bugradar-auth-info"
	contextKeyProjectKey authContextKey = "bugradar-project-key"
)

type contextSetter interface {
	SetContext(context.Context)
}

// requireAuth ensures the request has a valid session token before invoking the handler.
func (r *Router) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return r.sessionGate(false, next)
}

// requireStreamAuth also accepts the session token as an access_token query
// parameter, since browsers cannot set headers on EventSource or WebSocket.
func (r *Router) requireStreamAuth(next http.HandlerFunc) http.HandlerFunc {
	return r.sessionGate(true, next)
}

func (r *Router) sessionGate(allowQuery bool, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ctx, _, ok := r.ensureAuth(w, req, allowQuery)
		if !ok {
			return
		}
		if setter, ok := w.(contextSetter); ok {
			setter.SetContext(ctx)
		}
		next(w, req.WithContext(ctx))
	}
}

// ensureAuth validates the session token and enriches the context.
func (r *Router) ensureAuth(w http.ResponseWriter, req *http.Request, allowQuery bool) (context.Context, authInfo, bool) {
	token, err := bearerToken(req.Header.Get("Authorization"))
	if err != nil && allowQuery {
		if q := strings.TrimSpace(req.URL.Query().Get("access_token")); q != "" {
			token, err = q, nil
		}
	}
	if err != nil {
		r.logger.Warn("authorization header invalid", "error", err, "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "authentication required")
		return req.Context(), authInfo{}, false
	}
	user, _, err := r.auth.Authorize(req.Context(), token)
	if err != nil {
		r.logger.Warn("token validation failed", "error", err, "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "authentication failed")
		return req.Context(), authInfo{}, false
	}
	info := authInfo{UserID: user.ID, Email: user.Email}
	ctx := context.WithValue(req.Context(), contextKeyAuth, info)
	return ctx, info, true
}

// requireProjectKey resolves a proj_ bearer credential to its project.
// Missing or malformed headers get 401; a credential that matches no
// project gets 403.
func (r *Router) requireProjectKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		token, err := bearerToken(req.Header.Get("Authorization"))
		if err != nil {
			r.logger.Warn("api key header invalid", "error", err, "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "api key required")
			return
		}
		projectID, err := r.keys.Resolve(req.Context(), token)
		if err != nil {
			if errors.Is(err, apikey.ErrInvalidAPIKey) {
				r.logger.Warn("api key rejected", "path", req.URL.Path, "ip", clientIP(req))
			}
			r.writeServiceError(w, req, err)
			return
		}
		ctx := context.WithValue(req.Context(), contextKeyProjectKey, projectKeyInfo{ProjectID: projectID})
		if setter, ok := w.(contextSetter); ok {
			setter.SetContext(ctx)
		}
		next(w, req.WithContext(ctx))
	}
}

// authorizeProject is the single ownership guard for session requests.
// Missing, foreign and malformed project ids all produce 404.
func (r *Router) authorizeProject(w http.ResponseWriter, req *http.Request, projectID string) (*domain.Project, bool) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return nil, false
	}
	project, err := r.projects.Authorize(req.Context(), info.UserID, projectID)
	if err != nil {
		r.writeServiceError(w, req, err)
		return nil, false
	}
	return project, true
}

// projectFromQuery runs the ownership guard on the project_id query parameter.
func (r *Router) projectFromQuery(w http.ResponseWriter, req *http.Request) (*domain.Project, bool) {
	projectID := strings.TrimSpace(req.URL.Query().Get("project_id"))
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "project_id query parameter required")
		return nil, false
	}
	return r.authorizeProject(w, req, projectID)
}

// authInfoFromContext extracts auth metadata from context.
func authInfoFromContext(ctx context.Context) (authInfo, bool) {
	value := ctx.Value(contextKeyAuth)
	if value == nil {
		return authInfo{}, false
	}
	info, ok := value.(authInfo)
	return info, ok
}

func projectKeyFromContext(ctx context.Context) (projectKeyInfo, bool) {
	info, ok := ctx.Value(contextKeyProjectKey).(projectKeyInfo)
	return info, ok
}

func bearerToken(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("empty bearer token")
	}
	return token, nil
}
