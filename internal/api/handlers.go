// Package api provides the OpenAPI-documented management API for linked
// Telegram accounts and broadcast jobs.
package api

import (
	"errors"
	"time"

	"github.com/go-fuego/fuego"
	"github.com/google/uuid"

	"github.com/blockedby/memesite/internal/broadcast"
	"github.com/blockedby/memesite/internal/events"
	"github.com/blockedby/memesite/internal/logger"
	"github.com/blockedby/memesite/internal/models"
	"github.com/blockedby/memesite/internal/repository"
)

func (s *Server) healthCheck(c fuego.ContextNoBody) (HealthResponse, error) {
	return HealthResponse{
		Status:  "ok",
		Version: s.version,
	}, nil
}

// ============================================================================
// Sessions
// ============================================================================

func (s *Server) listSessions(c fuego.ContextNoBody) (SessionsListResponse, error) {
	user, ok := userFrom(c.Context())
	if !ok {
		return SessionsListResponse{}, fuego.UnauthorizedError{Detail: "missing user"}
	}

	sessions, err := s.deps.Sessions.ListByUser(c.Context(), user.ID)
	if err != nil {
		return SessionsListResponse{}, fuego.InternalServerError{Detail: err.Error()}
	}
	return SessionsListResponse{Sessions: SessionsFromModels(sessions)}, nil
}

func (s *Server) deleteSession(c fuego.ContextNoBody) (SessionDeleteResponse, error) {
	user, ok := userFrom(c.Context())
	if !ok {
		return SessionDeleteResponse{}, fuego.UnauthorizedError{Detail: "missing user"}
	}

	phone := models.NormalizePhone(c.PathParam("phone"))
	if phone == "" {
		return SessionDeleteResponse{}, fuego.BadRequestError{Detail: "Invalid phone number"}
	}

	err := s.deps.Sessions.DeleteByPhone(c.Context(), user.ID, phone)
	if errors.Is(err, repository.ErrSessionNotFound) {
		return SessionDeleteResponse{}, fuego.NotFoundError{Detail: "Session not found"}
	}
	if err != nil {
		return SessionDeleteResponse{}, fuego.InternalServerError{Detail: err.Error()}
	}

	if err := s.deps.Events.SessionDeleted(c.Context(), events.SessionDeletedEvent{
		UserID:    user.ID,
		Phone:     logger.MaskPhone(phone),
		Count:     1,
		DeletedAt: time.Now().UTC(),
	}); err != nil {
		s.log.Warn().Err(err).Msg("failed to publish session deleted event")
	}

	return SessionDeleteResponse{Phone: phone, Deleted: true}, nil
}

// ============================================================================
// Broadcasts
// ============================================================================

func (s *Server) startBroadcast(c fuego.ContextWithBody[BroadcastRequest]) (BroadcastResponse, error) {
	user, ok := userFrom(c.Context())
	if !ok {
		return BroadcastResponse{}, fuego.UnauthorizedError{Detail: "missing user"}
	}

	body, err := c.Body()
	if err != nil {
		return BroadcastResponse{}, fuego.BadRequestError{Detail: err.Error()}
	}

	snap, err := s.deps.Broadcasts.Start(c.Context(), broadcast.Job{
		UserID:  user.ID,
		Phone:   body.Phone,
		Targets: body.Targets,
		Message: body.Message,
		DelayMs: body.DelayMs,
	})
	if err != nil {
		return BroadcastResponse{}, broadcastError(err)
	}
	return BroadcastFromSnapshot(snap), nil
}

func (s *Server) listBroadcasts(c fuego.ContextNoBody) (BroadcastsListResponse, error) {
	user, ok := userFrom(c.Context())
	if !ok {
		return BroadcastsListResponse{}, fuego.UnauthorizedError{Detail: "missing user"}
	}

	snaps := s.deps.Broadcasts.List(user.ID)
	out := make([]BroadcastResponse, 0, len(snaps))
	for i := range snaps {
		out = append(out, BroadcastFromSnapshot(&snaps[i]))
	}
	return BroadcastsListResponse{Broadcasts: out}, nil
}

func (s *Server) getBroadcast(c fuego.ContextNoBody) (BroadcastResponse, error) {
	user, ok := userFrom(c.Context())
	if !ok {
		return BroadcastResponse{}, fuego.UnauthorizedError{Detail: "missing user"}
	}

	id, err := uuid.Parse(c.PathParam("id"))
	if err != nil {
		return BroadcastResponse{}, fuego.BadRequestError{Detail: "Invalid broadcast ID"}
	}

	snap, err := s.deps.Broadcasts.Get(id, user.ID)
	if err != nil {
		return BroadcastResponse{}, broadcastError(err)
	}
	return BroadcastFromSnapshot(snap), nil
}

func (s *Server) cancelBroadcast(c fuego.ContextNoBody) (BroadcastResponse, error) {
	user, ok := userFrom(c.Context())
	if !ok {
		return BroadcastResponse{}, fuego.UnauthorizedError{Detail: "missing user"}
	}

	id, err := uuid.Parse(c.PathParam("id"))
	if err != nil {
		return BroadcastResponse{}, fuego.BadRequestError{Detail: "Invalid broadcast ID"}
	}

	if err := s.deps.Broadcasts.Cancel(id, user.ID); err != nil {
		return BroadcastResponse{}, broadcastError(err)
	}
	snap, err := s.deps.Broadcasts.Get(id, user.ID)
	if err != nil {
		return BroadcastResponse{}, broadcastError(err)
	}
	return BroadcastFromSnapshot(snap), nil
}

// broadcastError maps engine errors onto HTTP errors.
func broadcastError(err error) error {
	switch {
	case errors.Is(err, broadcast.ErrInvalidJob), errors.Is(err, broadcast.ErrFreeTierExceeded):
		return fuego.BadRequestError{Detail: err.Error()}
	case errors.Is(err, broadcast.ErrSessionNotFound):
		return fuego.NotFoundError{Detail: err.Error()}
	case errors.Is(err, broadcast.ErrJobNotFound):
		return fuego.NotFoundError{Detail: err.Error()}
	case errors.Is(err, broadcast.ErrAlreadyRunning):
		return fuego.ConflictError{Detail: err.Error()}
	default:
		return fuego.InternalServerError{Detail: err.Error()}
	}
}
