package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/blockedby/memesite/internal/models"
	"github.com/blockedby/memesite/internal/repository"
)

type userKey struct{}

// userFrom returns the user placed in ctx by the bearer middleware.
func userFrom(ctx context.Context) (*models.AppUser, bool) {
	u, ok := ctx.Value(userKey{}).(*models.AppUser)
	return u, ok && u != nil
}

// bearerAuth rejects requests without a valid "Authorization: Bearer" token.
func bearerAuth(users TokenResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
			token = strings.TrimSpace(token)
			if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" || users == nil {
				unauthorized(w)
				return
			}

			u, err := users.ResolveToken(r.Context(), token)
			if errors.Is(err, repository.ErrUserNotFound) {
				unauthorized(w)
				return
			}
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "Internal server error"})
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, u)))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized"})
}
