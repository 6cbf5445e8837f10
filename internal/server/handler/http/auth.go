package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmagur/passlock/internal/service"
)

// AuthService defines the authentication operations required by the
// AuthHandler.
type AuthService interface {
	// Register creates a new user with the given login and secret.
	Register(ctx context.Context, login, secret string) error
	// Login verifies the secret and returns a fresh bearer token.
	Login(ctx context.Context, login, secret string) (string, error)
}

// AuthHandler handles user registration and login.
type AuthHandler struct {
	AuthService AuthService
}

// credentialsRequest is the JSON payload for both registration and
// login.
type credentialsRequest struct {
	Login  string `json:"login"`
	Secret string `json:"secret"`
}

// Register handles POST /api/register. It expects a JSON body with
// non-empty login and secret and creates the user.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Login == "" || req.Secret == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	if err := h.AuthService.Register(r.Context(), req.Login, req.Secret); err != nil {
		if errors.Is(err, service.ErrUserExists) {
			http.Error(w, "user already exists", http.StatusConflict)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Login handles POST /api/login. On success it returns the bearer
// token to attach to sync requests.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Login == "" || req.Secret == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	token, err := h.AuthService.Login(r.Context(), req.Login, req.Secret)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, "invalid login or secret", http.StatusUnauthorized)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"token": token})
}
