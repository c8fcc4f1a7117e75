package broadcast

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blockedby/memesite/internal/events"
	"github.com/blockedby/memesite/internal/logger"
	"github.com/blockedby/memesite/internal/models"
)

// websocket event types
const (
	EventProgress = "broadcast.progress"
	EventComplete = "broadcast.complete"
)

// keepFinished is how many finished jobs stay queryable.
const keepFinished = 100

// lockLease is the expiry of a job lock. Lockers that expire keys renew it
// while the job runs, however long flood waits stretch the run.
const lockLease = time.Minute

// Notifier pushes live updates to the connected clients of one user.
type Notifier interface {
	Notify(userID, eventType string, payload any)
}

// Snapshot is the externally visible state of a job.
type Snapshot struct {
	ID         uuid.UUID                `json:"id"`
	UserID     string                   `json:"userId"`
	Phone      string                   `json:"phone"`
	StartedAt  time.Time                `json:"startedAt"`
	FinishedAt *time.Time               `json:"finishedAt,omitempty"`
	Progress   models.BroadcastProgress `json:"progress"`
}

type runningJob struct {
	snap   Snapshot
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager runs broadcasts in the background, at most one per (user, phone).
// thread-safe
type Manager struct {
	engine   *Engine
	locker   Locker
	events   events.Publisher
	notifier Notifier
	log      *logger.Logger

	mu       sync.Mutex
	jobs     map[uuid.UUID]*runningJob
	finished []uuid.UUID
}

// NewManager creates a Manager. locker defaults to a MemoryLocker and
// pub and notifier may be nil.
func NewManager(engine *Engine, locker Locker, pub events.Publisher, notifier Notifier, log *logger.Logger) *Manager {
	if locker == nil {
		locker = NewMemoryLocker()
	}
	if pub == nil {
		pub = events.Nop{}
	}
	if log == nil {
		log = logger.Get()
	}
	return &Manager{
		engine:   engine,
		locker:   locker,
		events:   pub,
		notifier: notifier,
		log:      log.Component("broadcast-manager"),
		jobs:     map[uuid.UUID]*runningJob{},
	}
}

// Start validates job and runs it in the background. Validation errors,
// ErrSessionNotFound, ErrFreeTierExceeded and ErrAlreadyRunning are returned
// before anything is sent.
func (m *Manager) Start(ctx context.Context, job Job) (*Snapshot, error) {
	p, err := m.engine.prepare(ctx, job)
	if err != nil {
		return nil, err
	}

	release, err := m.locker.Acquire(ctx, lockKey(p.UserID, p.Phone), lockLease)
	if err != nil {
		return nil, err
	}

	// detached from the request: the job outlives the HTTP call that started it
	runCtx, cancel := context.WithCancel(context.Background())
	rj := &runningJob{
		snap: Snapshot{
			ID:        uuid.New(),
			UserID:    p.UserID,
			Phone:     p.Phone,
			StartedAt: time.Now().UTC(),
			Progress: models.BroadcastProgress{
				Total:  len(p.Targets),
				Status: models.BroadcastSending,
			},
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	m.jobs[rj.snap.ID] = rj
	snap := rj.snap
	m.mu.Unlock()

	go m.run(runCtx, rj, p, release)

	return &snap, nil
}

func (m *Manager) run(ctx context.Context, rj *runningJob, p *prepared, release func()) {
	defer close(rj.done)
	defer release()
	defer rj.cancel()

	final := m.engine.execute(ctx, p, func(progress models.BroadcastProgress) {
		m.mu.Lock()
		rj.snap.Progress = progress
		snap := rj.snap
		m.mu.Unlock()

		if progress.Status == models.BroadcastSending {
			m.push(EventProgress, snap)
		}
	})

	finishedAt := time.Now().UTC()
	m.mu.Lock()
	rj.snap.Progress = *final
	rj.snap.FinishedAt = &finishedAt
	snap := rj.snap
	m.finished = append(m.finished, snap.ID)
	m.evictLocked()
	m.mu.Unlock()

	m.push(EventComplete, snap)

	err := m.events.BroadcastCompleted(context.Background(), events.BroadcastCompletedEvent{
		JobID:      snap.ID.String(),
		UserID:     snap.UserID,
		Phone:      logger.MaskPhone(snap.Phone),
		Status:     string(final.Status),
		Total:      final.Total,
		Successful: final.SuccessfulCount,
		Failed:     final.FailedCount,
		StartedAt:  snap.StartedAt,
		FinishedAt: finishedAt,
	})
	if err != nil {
		m.log.Warn().Err(err).Str("job_id", snap.ID.String()).Msg("failed to publish broadcast completed event")
	}
}

// push sends snap to its owner's clients with the phone masked.
func (m *Manager) push(eventType string, snap Snapshot) {
	if m.notifier == nil {
		return
	}
	snap.Phone = logger.MaskPhone(snap.Phone)
	m.notifier.Notify(snap.UserID, eventType, snap)
}

func (m *Manager) evictLocked() {
	for len(m.finished) > keepFinished {
		delete(m.jobs, m.finished[0])
		m.finished = m.finished[1:]
	}
}

// Get returns a job owned by userID.
func (m *Manager) Get(id uuid.UUID, userID string) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rj, ok := m.jobs[id]
	if !ok || rj.snap.UserID != userID {
		return nil, ErrJobNotFound
	}
	snap := rj.snap
	snap.Progress = rj.snap.Progress.Clone()
	return &snap, nil
}

// List returns the jobs owned by userID, newest first.
func (m *Manager) List(userID string) []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Snapshot, 0)
	for _, rj := range m.jobs {
		if rj.snap.UserID == userID {
			snap := rj.snap
			snap.Progress = rj.snap.Progress.Clone()
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Cancel stops a running job at its next pause. Cancelling a finished job is
// a no-op.
func (m *Manager) Cancel(id uuid.UUID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rj, ok := m.jobs[id]
	if !ok || rj.snap.UserID != userID {
		return ErrJobNotFound
	}
	rj.cancel()
	return nil
}

// Wait blocks until the job finishes or ctx is done.
func (m *Manager) Wait(ctx context.Context, id uuid.UUID, userID string) (*Snapshot, error) {
	m.mu.Lock()
	rj, ok := m.jobs[id]
	owned := ok && rj.snap.UserID == userID
	m.mu.Unlock()
	if !owned {
		return nil, ErrJobNotFound
	}

	select {
	case <-rj.done:
		return m.Get(id, userID)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown cancels every running job and waits for them to stop.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	running := make([]*runningJob, 0, len(m.jobs))
	for _, rj := range m.jobs {
		rj.cancel()
		running = append(running, rj)
	}
	m.mu.Unlock()

	for _, rj := range running {
		select {
		case <-rj.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
