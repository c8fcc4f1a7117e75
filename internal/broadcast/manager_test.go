package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/memesite/internal/events"
	"github.com/blockedby/memesite/internal/models"
)

type recordingNotifier struct {
	mu       sync.Mutex
	events   []string
	users    []string
	payloads []any
}

func (n *recordingNotifier) Notify(userID, eventType string, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, eventType)
	n.users = append(n.users, userID)
	n.payloads = append(n.payloads, payload)
}

func (n *recordingNotifier) Events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

type recordingPublisher struct {
	events.Nop
	mu        sync.Mutex
	completed []events.BroadcastCompletedEvent
}

func (p *recordingPublisher) BroadcastCompleted(_ context.Context, e events.BroadcastCompletedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed = append(p.completed, e)
	return nil
}

// blockingSender holds every send until released.
type blockingSender struct {
	stubSender
	gate chan struct{}
}

func (s *blockingSender) Send(ctx context.Context, sess, groupID, msg string) (*Delivery, error) {
	<-s.gate
	return s.stubSender.Send(ctx, sess, groupID, msg)
}

func newTestManager(sender Sender) (*Manager, *recordingNotifier, *recordingPublisher) {
	e, _ := newTestEngine(sender, nil)
	n := &recordingNotifier{}
	p := &recordingPublisher{}
	return NewManager(e, nil, p, n, nil), n, p
}

func testJob() Job {
	return Job{UserID: "user-1", Phone: "+15551234567", Targets: []string{"a", "b"}, Message: "hello"}
}

func TestManager_RunsJobInBackground(t *testing.T) {
	m, notifier, pub := newTestManager(&stubSender{})

	snap, err := m.Start(context.Background(), testJob())
	require.NoError(t, err)
	assert.Equal(t, models.BroadcastSending, snap.Progress.Status)
	assert.Equal(t, 2, snap.Progress.Total)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done, err := m.Wait(ctx, snap.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.BroadcastComplete, done.Progress.Status)
	assert.Equal(t, 2, done.Progress.SuccessfulCount)
	require.NotNil(t, done.FinishedAt)

	assert.Equal(t, []string{EventProgress, EventProgress, EventComplete}, notifier.Events())
	require.Len(t, pub.completed, 1)
	assert.Equal(t, snap.ID.String(), pub.completed[0].JobID)
	assert.Equal(t, "complete", pub.completed[0].Status)
	assert.Equal(t, "********4567", pub.completed[0].Phone)
}

func TestManager_PushesOnlyToOwnerWithMaskedPhone(t *testing.T) {
	m, notifier, _ := newTestManager(&stubSender{})

	snap, err := m.Start(context.Background(), testJob())
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = m.Wait(ctx, snap.ID, "user-1")
	require.NoError(t, err)

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	require.NotEmpty(t, notifier.payloads)
	for i, p := range notifier.payloads {
		assert.Equal(t, "user-1", notifier.users[i])
		pushed, ok := p.(Snapshot)
		require.True(t, ok)
		assert.Equal(t, "********4567", pushed.Phone)
	}

	// the stored snapshot keeps the real phone
	got, err := m.Get(snap.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "+15551234567", got.Phone)
}

func TestManager_OneJobPerPhone(t *testing.T) {
	sender := &blockingSender{gate: make(chan struct{})}
	m, _, _ := newTestManager(sender)

	first, err := m.Start(context.Background(), testJob())
	require.NoError(t, err)

	_, err = m.Start(context.Background(), testJob())
	require.ErrorIs(t, err, ErrAlreadyRunning)

	close(sender.gate)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = m.Wait(ctx, first.ID, "user-1")
	require.NoError(t, err)

	// the lock is released once the job finishes
	second, err := m.Start(context.Background(), testJob())
	require.NoError(t, err)
	_, err = m.Wait(ctx, second.ID, "user-1")
	require.NoError(t, err)
}

func TestManager_PreflightErrorsAreSynchronous(t *testing.T) {
	m, notifier, _ := newTestManager(&stubSender{})

	job := testJob()
	job.Targets = []string{"a", "b", "c", "d"}
	_, err := m.Start(context.Background(), job)
	require.ErrorIs(t, err, ErrFreeTierExceeded)
	assert.Empty(t, m.List("user-1"))
	assert.Empty(t, notifier.Events())
}

func TestManager_Cancel(t *testing.T) {
	sender := &blockingSender{gate: make(chan struct{})}
	m, _, pub := newTestManager(sender)
	m.engine.sleep = sleepCtx

	job := testJob()
	job.Targets = []string{"a", "b", "c"}
	snap, err := m.Start(context.Background(), job)
	require.NoError(t, err)

	require.NoError(t, m.Cancel(snap.ID, "user-1"))
	close(sender.gate)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done, err := m.Wait(ctx, snap.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.BroadcastCancelled, done.Progress.Status)
	assert.Equal(t, 1, done.Progress.Current, "the send in flight completes")
	assert.Equal(t, "cancelled", pub.completed[0].Status)
}

func TestManager_OwnershipIsChecked(t *testing.T) {
	m, _, _ := newTestManager(&stubSender{})

	snap, err := m.Start(context.Background(), testJob())
	require.NoError(t, err)

	_, err = m.Get(snap.ID, "user-2")
	require.ErrorIs(t, err, ErrJobNotFound)
	require.ErrorIs(t, m.Cancel(snap.ID, "user-2"), ErrJobNotFound)
	require.ErrorIs(t, m.Cancel(uuid.New(), "user-1"), ErrJobNotFound)
	assert.Empty(t, m.List("user-2"))
	assert.Len(t, m.List("user-1"), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))
}
