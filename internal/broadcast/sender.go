package broadcast

import (
	"context"
	"fmt"
	"time"

	"github.com/blockedby/memesite/internal/logger"
	"github.com/blockedby/memesite/internal/telegram"
)

// sendTimeout bounds one dial-resolve-send-close cycle.
const sendTimeout = 60 * time.Second

// Delivery is a message that reached its group.
type Delivery struct {
	GroupName  string
	MessageID  int
	MessageURL string // empty for private groups
}

// Sender delivers one message to one group.
type Sender interface {
	Send(ctx context.Context, sessionString, groupID, message string) (*Delivery, error)
}

// TelegramSender opens a fresh connection per send. A connection failure
// therefore costs one target, never the rest of a batch.
type TelegramSender struct {
	dialer  telegram.Dialer
	limiter *telegram.RateLimiter
	log     *logger.Logger
}

// NewTelegramSender creates a sender. limiter may be nil.
func NewTelegramSender(dialer telegram.Dialer, limiter *telegram.RateLimiter, log *logger.Logger) *TelegramSender {
	if log == nil {
		log = logger.Get()
	}
	return &TelegramSender{
		dialer:  dialer,
		limiter: limiter,
		log:     log.Component("sender"),
	}
}

// Send implements Sender.
func (s *TelegramSender) Send(ctx context.Context, sessionString, groupID, message string) (_ *Delivery, err error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		defer func() {
			if wait := s.limiter.Observe(err); wait > 0 {
				s.log.Warn().Int("wait_seconds", wait).Str("group_id", groupID).Msg("flood wait, pausing sends")
			}
		}()
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	conn, err := s.dialer.Dial(ctx, sessionString)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			s.log.Warn().Err(cerr).Msg("closing telegram connection")
		}
	}()

	peer, err := conn.ResolvePeer(ctx, groupID)
	if err != nil {
		return nil, err
	}
	id, err := conn.SendMessage(ctx, peer, message)
	if err != nil {
		return nil, err
	}

	return &Delivery{
		GroupName:  peer.Title,
		MessageID:  id,
		MessageURL: peer.MessageURL(id),
	}, nil
}
