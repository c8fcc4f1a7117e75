package handlers

import (
	"context"

	"github.com/blockedby/memesite/internal/models"
	"github.com/blockedby/memesite/internal/tgauth"
)

// Authenticator drives the phone login flow.
type Authenticator interface {
	RequestCode(ctx context.Context, phone string) (*tgauth.CodeRequestResult, error)
	Verify(ctx context.Context, req tgauth.VerifyRequest) (*tgauth.VerifyResult, error)
}

// TokenResolver maps a bearer token to an application user.
type TokenResolver interface {
	ResolveToken(ctx context.Context, token string) (*models.AppUser, error)
}

// SessionReader looks up a stored Telegram session.
type SessionReader interface {
	GetByPhone(ctx context.Context, userID, phone string) (*models.PersistedSession, error)
}
