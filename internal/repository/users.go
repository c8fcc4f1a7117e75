package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/blockedby/memesite/internal/logger"
	"github.com/blockedby/memesite/internal/models"
)

// ErrUserNotFound is returned when a token or id matches no application user.
var ErrUserNotFound = errors.New("user not found")

// UsersRepository reads application accounts from app_users.
type UsersRepository struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

// NewUsersRepository creates a new users repository
func NewUsersRepository(pool *pgxpool.Pool, log *logger.Logger) *UsersRepository {
	return &UsersRepository{
		pool: pool,
		log:  log,
	}
}

// HashToken returns the stored form of an API token.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(h[:])
}

// ResolveToken maps a bearer token to its user.
func (r *UsersRepository) ResolveToken(ctx context.Context, token string) (*models.AppUser, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrUserNotFound
	}

	var u models.AppUser
	err := r.pool.QueryRow(ctx, `
		SELECT id, premium
		FROM app_users
		WHERE api_token_hash = $1
	`, HashToken(token)).Scan(&u.ID, &u.Premium)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("resolve token: %w", err)
	}
	return &u, nil
}

// IsPremium reports whether the user is on a paid plan.
func (r *UsersRepository) IsPremium(ctx context.Context, userID string) (bool, error) {
	var premium bool
	err := r.pool.QueryRow(ctx, `
		SELECT premium FROM app_users WHERE id = $1
	`, userID).Scan(&premium)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrUserNotFound
		}
		return false, fmt.Errorf("get plan: %w", err)
	}
	return premium, nil
}

// Upsert creates a user or replaces its token and plan.
func (r *UsersRepository) Upsert(ctx context.Context, userID, token string, premium bool) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO app_users (id, api_token_hash, premium)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET api_token_hash = EXCLUDED.api_token_hash, premium = EXCLUDED.premium
	`, userID, HashToken(token), premium)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}

	r.log.Info().
		Str("user_id", userID).
		Bool("premium", premium).
		Msg("stored application user")
	return nil
}
