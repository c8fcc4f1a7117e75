package api

import (
	"context"

	"github.com/google/uuid"

	"github.com/blockedby/memesite/internal/broadcast"
	"github.com/blockedby/memesite/internal/models"
)

// SessionStore defines the session operations the API exposes.
type SessionStore interface {
	ListByUser(ctx context.Context, userID string) ([]models.PersistedSession, error)
	DeleteByPhone(ctx context.Context, userID, phone string) error
}

// TokenResolver maps a bearer token to an application user.
type TokenResolver interface {
	ResolveToken(ctx context.Context, token string) (*models.AppUser, error)
}

// BroadcastManager defines the interface for running broadcast jobs.
type BroadcastManager interface {
	Start(ctx context.Context, job broadcast.Job) (*broadcast.Snapshot, error)
	Get(id uuid.UUID, userID string) (*broadcast.Snapshot, error)
	List(userID string) []broadcast.Snapshot
	Cancel(id uuid.UUID, userID string) error
}
