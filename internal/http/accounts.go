package httpx

import (
	"net/http"

	"github.com/bugradar/bugradar/internal/domain"
	"github.com/bugradar/bugradar/internal/service/auth"
)

type signupRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=128"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required,max=2048"`
}

type sessionResponse struct {
	User   sessionUser    `json:"user"`
	Tokens auth.TokenPair `json:"tokens"`
}

type sessionUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func newSessionResponse(user *domain.User, tokens auth.TokenPair) sessionResponse {
	return sessionResponse{User: sessionUser{ID: user.ID, Email: user.Email}, Tokens: tokens}
}

func (r *Router) handleSignup(w http.ResponseWriter, req *http.Request) {
	var body signupRequest
	if !r.decode(w, req, &body) {
		return
	}
	user, tokens, err := r.auth.Signup(req.Context(), body.Email, body.Password)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, newSessionResponse(user, tokens))
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	var body loginRequest
	if !r.decode(w, req, &body) {
		return
	}
	user, tokens, err := r.auth.Login(req.Context(), body.Email, body.Password)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(user, tokens))
}

func (r *Router) handleRefresh(w http.ResponseWriter, req *http.Request) {
	var body refreshRequest
	if !r.decode(w, req, &body) {
		return
	}
	user, tokens, err := r.auth.Refresh(req.Context(), body.RefreshToken)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(user, tokens))
}
