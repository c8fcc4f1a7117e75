// Package events publishes domain events about linked Telegram accounts and
// broadcasts to NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Stream and subjects.
const (
	StreamName = "TELEGRAM"

	SubjectSessionLinked      = "telegram.session.linked"
	SubjectSessionDeleted     = "telegram.session.deleted"
	SubjectBroadcastCompleted = "telegram.broadcast.completed"
)

// StreamSubjects are captured by the TELEGRAM stream.
var StreamSubjects = []string{"telegram.>"}

// SessionLinkedEvent is published after a login is persisted.
type SessionLinkedEvent struct {
	UserID         string    `json:"user_id"`
	Phone          string    `json:"phone"` // masked
	TelegramUserID string    `json:"telegram_user_id"`
	Username       string    `json:"username,omitempty"`
	Premium        bool      `json:"premium"`
	LinkedAt       time.Time `json:"linked_at"`
}

// SessionDeletedEvent is published when sessions are removed.
type SessionDeletedEvent struct {
	UserID    string    `json:"user_id,omitempty"` // empty for admin removals across users
	Phone     string    `json:"phone"`             // masked
	Count     int64     `json:"count"`
	DeletedAt time.Time `json:"deleted_at"`
}

// BroadcastCompletedEvent summarises a finished broadcast.
type BroadcastCompletedEvent struct {
	JobID      string    `json:"job_id"`
	UserID     string    `json:"user_id"`
	Phone      string    `json:"phone"` // masked
	Status     string    `json:"status"`
	Total      int       `json:"total"`
	Successful int       `json:"successful"`
	Failed     int       `json:"failed"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Publisher is what the domain packages publish through.
type Publisher interface {
	SessionLinked(ctx context.Context, e SessionLinkedEvent) error
	SessionDeleted(ctx context.Context, e SessionDeletedEvent) error
	BroadcastCompleted(ctx context.Context, e BroadcastCompletedEvent) error
}

// NATSClient interface to allow mocking
type NATSClient interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher implements Publisher over a NATS connection.
type NATSPublisher struct {
	js NATSClient
}

// NewNATSPublisher creates a new publisher
func NewNATSPublisher(conn NATSClient) *NATSPublisher {
	return &NATSPublisher{js: conn}
}

func (p *NATSPublisher) SessionLinked(_ context.Context, e SessionLinkedEvent) error {
	return p.publish(SubjectSessionLinked, e)
}

func (p *NATSPublisher) SessionDeleted(_ context.Context, e SessionDeletedEvent) error {
	return p.publish(SubjectSessionDeleted, e)
}

func (p *NATSPublisher) BroadcastCompleted(_ context.Context, e BroadcastCompletedEvent) error {
	return p.publish(SubjectBroadcastCompleted, e)
}

func (p *NATSPublisher) publish(subject string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.js.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Nop discards events. Used when NATS is not configured.
type Nop struct{}

func (Nop) SessionLinked(context.Context, SessionLinkedEvent) error           { return nil }
func (Nop) SessionDeleted(context.Context, SessionDeletedEvent) error         { return nil }
func (Nop) BroadcastCompleted(context.Context, BroadcastCompletedEvent) error { return nil }
