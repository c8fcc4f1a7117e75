package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/blockedby/memesite/internal/models"
	"github.com/blockedby/memesite/internal/repository"
)

// errUnauthorized is returned for a missing, malformed or unknown bearer token.
var errUnauthorized = errors.New("unauthorized")

// respondJSON is a helper function to respond with JSON
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		_ = err // Client disconnected
	}
}

// respondError is a helper function to respond with a JSON error
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// authenticate resolves the caller from the bearer token.
func authenticate(r *http.Request, users TokenResolver) (*models.AppUser, error) {
	token, ok := bearerToken(r)
	if !ok || users == nil {
		return nil, errUnauthorized
	}
	u, err := users.ResolveToken(r.Context(), token)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, errUnauthorized
	}
	return u, err
}
