// Package broadcast delivers one message to a list of Telegram groups, one
// group at a time, with a pause between sends and per-group failure isolation.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/blockedby/memesite/internal/config"
	"github.com/blockedby/memesite/internal/logger"
	"github.com/blockedby/memesite/internal/models"
	"github.com/blockedby/memesite/internal/repository"
	"github.com/blockedby/memesite/internal/telegram"
)

// errors
var (
	ErrInvalidJob       = errors.New("invalid broadcast")
	ErrSessionNotFound  = errors.New("no telegram session for this phone")
	ErrFreeTierExceeded = errors.New("free plan group limit exceeded")
	ErrAlreadyRunning   = errors.New("a broadcast is already running for this phone")
	ErrJobNotFound      = errors.New("broadcast not found")
)

// Job is one broadcast request.
type Job struct {
	UserID  string
	Phone   string
	Targets []string
	Message string
	DelayMs int // 0 means the configured default
}

// Observer receives a snapshot after every target and once at the end.
type Observer func(models.BroadcastProgress)

// SessionReader looks up the stored credential for a phone.
type SessionReader interface {
	GetByPhone(ctx context.Context, userID, phone string) (*models.PersistedSession, error)
}

// PlanChecker reports whether a user is on a paid plan.
type PlanChecker interface {
	IsPremium(ctx context.Context, userID string) (bool, error)
}

// Limits are the tunables read from configuration.
type Limits struct {
	MaxFreeGroups  int
	DefaultDelayMs int
	MinDelayMs     int
	MaxDelayMs     int
}

// LimitsFromConfig extracts the broadcast limits.
func LimitsFromConfig(cfg *config.Config) Limits {
	return Limits{
		MaxFreeGroups:  cfg.MaxFreeGroups,
		DefaultDelayMs: cfg.BroadcastDelayMs,
		MinDelayMs:     cfg.BroadcastMinDelayMs,
		MaxDelayMs:     cfg.BroadcastMaxDelayMs,
	}
}

// Engine runs broadcasts.
type Engine struct {
	sessions SessionReader
	plans    PlanChecker
	sender   Sender
	limits   Limits
	log      *logger.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine creates an Engine. plans may be nil, in which case every user is
// on the free plan.
func NewEngine(sessions SessionReader, plans PlanChecker, sender Sender, limits Limits, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.Get()
	}
	return &Engine{
		sessions: sessions,
		plans:    plans,
		sender:   sender,
		limits:   limits,
		log:      log.Component("broadcast"),
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// prepared is a job that passed every pre-flight check.
type prepared struct {
	Job
	session string
	delay   time.Duration
}

// prepare validates a job and loads its session. Nothing is sent.
func (e *Engine) prepare(ctx context.Context, job Job) (*prepared, error) {
	job.Phone = models.NormalizePhone(job.Phone)
	if job.Phone == "" {
		return nil, fmt.Errorf("%w: phone is required", ErrInvalidJob)
	}
	if strings.TrimSpace(job.Message) == "" {
		return nil, fmt.Errorf("%w: message is required", ErrInvalidJob)
	}

	if len(job.Targets) == 0 {
		return nil, fmt.Errorf("%w: at least one group is required", ErrInvalidJob)
	}
	targets := make([]string, 0, len(job.Targets))
	for i, t := range job.Targets {
		t = strings.TrimSpace(t)
		if t == "" {
			return nil, fmt.Errorf("%w: group %d is blank", ErrInvalidJob, i+1)
		}
		targets = append(targets, t)
	}
	job.Targets = targets

	if job.DelayMs == 0 {
		job.DelayMs = e.limits.DefaultDelayMs
	}
	if job.DelayMs < e.limits.MinDelayMs || job.DelayMs > e.limits.MaxDelayMs {
		return nil, fmt.Errorf("%w: delay must be between %d and %d ms",
			ErrInvalidJob, e.limits.MinDelayMs, e.limits.MaxDelayMs)
	}

	sess, err := e.sessions.GetByPhone(ctx, job.UserID, job.Phone)
	if errors.Is(err, repository.ErrSessionNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	if len(targets) > e.limits.MaxFreeGroups {
		premium := false
		if e.plans != nil {
			if premium, err = e.plans.IsPremium(ctx, job.UserID); err != nil {
				return nil, fmt.Errorf("check plan: %w", err)
			}
		}
		if !premium {
			return nil, fmt.Errorf("%w: free plan allows up to %d groups, got %d",
				ErrFreeTierExceeded, e.limits.MaxFreeGroups, len(targets))
		}
	}

	return &prepared{
		Job:     job,
		session: sess.Session,
		delay:   time.Duration(job.DelayMs) * time.Millisecond,
	}, nil
}

// Run prepares and executes a job, blocking until it finishes.
func (e *Engine) Run(ctx context.Context, job Job, obs Observer) (*models.BroadcastProgress, error) {
	p, err := e.prepare(ctx, job)
	if err != nil {
		return nil, err
	}
	return e.execute(ctx, p, obs), nil
}

// execute sends to every target in order. Cancelling ctx stops the job at
// the next pause between targets; a send already in flight completes.
func (e *Engine) execute(ctx context.Context, p *prepared, obs Observer) *models.BroadcastProgress {
	log := e.log.With().
		Str("user_id", p.UserID).
		Str("phone", logger.MaskPhone(p.Phone)).
		Int("targets", len(p.Targets)).
		Logger()

	progress := models.BroadcastProgress{
		Total:  len(p.Targets),
		Status: models.BroadcastSending,
		Results: models.BroadcastResults{
			Successful: []models.BroadcastSuccess{},
			Failed:     []models.BroadcastFailure{},
		},
	}
	notify := func() {
		if obs != nil {
			obs(progress.Clone())
		}
	}

	log.Info().Msg("broadcast started")
	sendCtx := context.WithoutCancel(ctx)

	for i, groupID := range p.Targets {
		d, err := e.sender.Send(sendCtx, p.session, groupID, p.Message)
		if err != nil {
			log.Warn().Err(err).Str("group_id", groupID).Msg("send failed")
			progress.Results.Failed = append(progress.Results.Failed, models.BroadcastFailure{
				GroupID:   groupID,
				Error:     err.Error(),
				Timestamp: e.now().UTC(),
			})
			progress.FailedCount++
		} else {
			entry := models.BroadcastSuccess{
				GroupID:   groupID,
				GroupName: d.GroupName,
				MessageID: d.MessageID,
				Timestamp: e.now().UTC(),
			}
			if d.MessageURL != "" {
				url := d.MessageURL
				entry.MessageURL = &url
			}
			progress.Results.Successful = append(progress.Results.Successful, entry)
			progress.SuccessfulCount++
		}
		progress.Current++
		notify()

		if i == len(p.Targets)-1 {
			break
		}

		if err := e.sleep(ctx, p.delay); err != nil {
			progress.Status = models.BroadcastCancelled
			log.Info().Int("current", progress.Current).Msg("broadcast cancelled")
			notify()
			return &progress
		}
	}

	progress.Status = models.BroadcastComplete
	log.Info().
		Int("successful", progress.SuccessfulCount).
		Int("failed", progress.FailedCount).
		Msg("broadcast complete")
	notify()
	return &progress
}

// WithDisplayErrors returns a copy of p with every failure classified for display.
func WithDisplayErrors(p models.BroadcastProgress) models.BroadcastProgress {
	out := p.Clone()
	for i := range out.Results.Failed {
		out.Results.Failed[i].DisplayError = telegram.Classify(out.Results.Failed[i].Error)
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
