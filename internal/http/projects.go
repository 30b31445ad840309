package httpx

import (
	"net/http"

	"github.com/bugradar/bugradar/internal/domain"
	"github.com/bugradar/bugradar/internal/service/project"
)

type createProjectRequest struct {
	Name      string            `json:"name" validate:"required,max=120"`
	Endpoints []domain.Endpoint `json:"endpoints" validate:"max=100,dive"`
}

type updateProjectRequest struct {
	Name      *string            `json:"name" validate:"omitempty,max=120"`
	Endpoints *[]domain.Endpoint `json:"endpoints"`
}

func (r *Router) handleListProjects(w http.ResponseWriter, req *http.Request) {
	info, _ := authInfoFromContext(req.Context())
	projects, err := r.projects.List(req.Context(), info.UserID)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	if projects == nil {
		projects = []domain.Project{}
	}
	writeJSON(w, http.StatusOK, projects)
}

func (r *Router) handleCreateProject(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for project creation", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	var body createProjectRequest
	if !r.decode(w, req, &body) {
		return
	}
	created, err := r.projects.Create(req.Context(), info.UserID, project.CreateInput{
		Name:      body.Name,
		Endpoints: body.Endpoints,
	})
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	created.Project.APIKeyHint = created.APIKeyHint
	writeJSON(w, http.StatusCreated, map[string]any{
		"project":      created.Project,
		"api_key":      created.APIKey,
		"api_key_hint": created.APIKeyHint,
	})
}

func (r *Router) handleGetProject(w http.ResponseWriter, req *http.Request) {
	project, ok := r.authorizeProject(w, req, req.PathValue("id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (r *Router) handleUpdateProject(w http.ResponseWriter, req *http.Request) {
	info, _ := authInfoFromContext(req.Context())
	var body updateProjectRequest
	if !r.decode(w, req, &body) {
		return
	}
	updated, err := r.projects.Update(req.Context(), info.UserID, req.PathValue("id"), project.UpdateInput{
		Name:      body.Name,
		Endpoints: body.Endpoints,
	})
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (r *Router) handleDeleteProject(w http.ResponseWriter, req *http.Request) {
	info, _ := authInfoFromContext(req.Context())
	if err := r.projects.Delete(req.Context(), info.UserID, req.PathValue("id")); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
