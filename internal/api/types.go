package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/blockedby/memesite/internal/broadcast"
	"github.com/blockedby/memesite/internal/models"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string `json:"status" example:"ok" description:"Health status"`
	Version string `json:"version" example:"dev" description:"Application version"`
}

// SessionResponse is a linked Telegram account. The session string itself
// never leaves the server.
type SessionResponse struct {
	Phone    string                      `json:"phone" description:"Linked phone number"`
	Created  time.Time                   `json:"created" description:"When the account was linked"`
	UserInfo *models.UserProfileSnapshot `json:"userInfo,omitempty" description:"Telegram profile captured at login"`
}

// SessionsListResponse lists the caller's linked accounts.
type SessionsListResponse struct {
	Sessions []SessionResponse `json:"sessions" description:"Linked accounts, newest first"`
}

// SessionDeleteResponse confirms an unlink.
type SessionDeleteResponse struct {
	Phone   string `json:"phone" description:"Unlinked phone number"`
	Deleted bool   `json:"deleted"`
}

// BroadcastRequest starts a broadcast.
type BroadcastRequest struct {
	Phone   string   `json:"phone" validate:"required" description:"Linked phone number to send from"`
	Targets []string `json:"targets" validate:"required,min=1" description:"Group identifiers (@handle, t.me link or numeric id), sent in order"`
	Message string   `json:"message" validate:"required" description:"Message text, sent verbatim"`
	DelayMs int      `json:"delayMs,omitempty" description:"Pause between groups in ms (500-3000, default from server config)"`
}

// BroadcastResponse is a broadcast job and its progress.
type BroadcastResponse struct {
	ID         uuid.UUID                `json:"id" description:"Job identifier"`
	Phone      string                   `json:"phone"`
	StartedAt  time.Time                `json:"startedAt"`
	FinishedAt *time.Time               `json:"finishedAt,omitempty"`
	Progress   models.BroadcastProgress `json:"progress" description:"Counters and per-group results; failures carry displayError"`
}

// BroadcastsListResponse lists the caller's broadcasts.
type BroadcastsListResponse struct {
	Broadcasts []BroadcastResponse `json:"broadcasts"`
}

// BroadcastFromSnapshot converts a job snapshot, classifying failures for display.
func BroadcastFromSnapshot(s *broadcast.Snapshot) BroadcastResponse {
	return BroadcastResponse{
		ID:         s.ID,
		Phone:      s.Phone,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
		Progress:   broadcast.WithDisplayErrors(s.Progress),
	}
}

// SessionsFromModels converts stored sessions, dropping the credential.
func SessionsFromModels(in []models.PersistedSession) []SessionResponse {
	out := make([]SessionResponse, 0, len(in))
	for _, s := range in {
		out = append(out, SessionResponse{Phone: s.Phone, Created: s.Created, UserInfo: s.UserInfo})
	}
	return out
}
