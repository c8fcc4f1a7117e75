package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/memesite/internal/models"
	"github.com/blockedby/memesite/internal/repository"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type stubSessions map[string]string

func (s stubSessions) GetByPhone(_ context.Context, userID, phone string) (*models.PersistedSession, error) {
	sess, ok := s[userID+"/"+phone]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	return &models.PersistedSession{Phone: phone, Session: sess}, nil
}

type stubPlans map[string]bool

func (p stubPlans) IsPremium(_ context.Context, userID string) (bool, error) {
	return p[userID], nil
}

type stubSender struct {
	mu    sync.Mutex
	fail  map[string]error
	calls []string
}

func (s *stubSender) Send(_ context.Context, sessionString, groupID, _ string) (*Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, groupID)
	if err := s.fail[groupID]; err != nil {
		return nil, err
	}
	d := &Delivery{GroupName: "Group " + groupID, MessageID: len(s.calls)}
	if groupID != "private" {
		d.MessageURL = "https://t.me/" + groupID + "/1"
	}
	return d, nil
}

func (s *stubSender) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func testLimits() Limits {
	return Limits{MaxFreeGroups: 3, DefaultDelayMs: 1000, MinDelayMs: 500, MaxDelayMs: 3000}
}

func newTestEngine(sender Sender, plans PlanChecker) (*Engine, *[]time.Duration) {
	sessions := stubSessions{"user-1/+15551234567": "session-string"}
	e := NewEngine(sessions, plans, sender, testLimits(), nil)
	e.now = func() time.Time { return fixedNow }

	var slept []time.Duration
	e.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return e, &slept
}

func strPtr(s string) *string { return &s }

func TestRun_PartialFailureIsIsolated(t *testing.T) {
	sender := &stubSender{fail: map[string]error{
		"g2": errors.New("rpc error code 403: CHAT_WRITE_FORBIDDEN"),
		"g4": errors.New("rpc error code 400: PEER_ID_INVALID"),
	}}
	e, _ := newTestEngine(sender, stubPlans{"user-1": true})

	var observed []models.BroadcastProgress
	got, err := e.Run(context.Background(), Job{
		UserID:  "user-1",
		Phone:   "+1 555 123 4567",
		Targets: []string{"g1", "g2", "g3", "g4", "g5"},
		Message: "hello",
		DelayMs: 500,
	}, func(p models.BroadcastProgress) { observed = append(observed, p) })
	require.NoError(t, err)

	want := &models.BroadcastProgress{
		Total:           5,
		Current:         5,
		SuccessfulCount: 3,
		FailedCount:     2,
		Status:          models.BroadcastComplete,
		Results: models.BroadcastResults{
			Successful: []models.BroadcastSuccess{
				{GroupID: "g1", GroupName: "Group g1", MessageID: 1, MessageURL: strPtr("https://t.me/g1/1"), Timestamp: fixedNow},
				{GroupID: "g3", GroupName: "Group g3", MessageID: 3, MessageURL: strPtr("https://t.me/g3/1"), Timestamp: fixedNow},
				{GroupID: "g5", GroupName: "Group g5", MessageID: 5, MessageURL: strPtr("https://t.me/g5/1"), Timestamp: fixedNow},
			},
			Failed: []models.BroadcastFailure{
				{GroupID: "g2", Error: "rpc error code 403: CHAT_WRITE_FORBIDDEN", Timestamp: fixedNow},
				{GroupID: "g4", Error: "rpc error code 400: PEER_ID_INVALID", Timestamp: fixedNow},
			},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"g1", "g2", "g3", "g4", "g5"}, sender.Calls())

	// one update per target plus completion, consistent at every observation
	require.Len(t, observed, 6)
	for i, p := range observed {
		assert.Equal(t, p.SuccessfulCount+p.FailedCount, p.Current)
		assert.Len(t, p.Results.Successful, p.SuccessfulCount)
		assert.Len(t, p.Results.Failed, p.FailedCount)
		if i < 5 {
			assert.Equal(t, i+1, p.Current)
			assert.Equal(t, models.BroadcastSending, p.Status)
		}
	}
	assert.Equal(t, models.BroadcastComplete, observed[5].Status)
}

func TestRun_PrivateGroupHasNoURL(t *testing.T) {
	e, _ := newTestEngine(&stubSender{}, nil)

	got, err := e.Run(context.Background(), Job{UserID: "user-1", Phone: "+15551234567", Targets: []string{"private"}, Message: "hi"}, nil)
	require.NoError(t, err)
	require.Len(t, got.Results.Successful, 1)
	assert.Nil(t, got.Results.Successful[0].MessageURL)
}

func TestRun_FreeTierCapRejectsBeforeSending(t *testing.T) {
	sender := &stubSender{}
	e, slept := newTestEngine(sender, stubPlans{})

	got, err := e.Run(context.Background(), Job{
		UserID:  "user-1",
		Phone:   "+15551234567",
		Targets: []string{"g1", "g2", "g3", "g4"},
		Message: "hello",
	}, nil)
	require.ErrorIs(t, err, ErrFreeTierExceeded)
	assert.Nil(t, got)
	assert.Empty(t, sender.Calls())
	assert.Empty(t, *slept)
}

func TestRun_PremiumSkipsCap(t *testing.T) {
	sender := &stubSender{}
	e, _ := newTestEngine(sender, stubPlans{"user-1": true})

	got, err := e.Run(context.Background(), Job{UserID: "user-1", Phone: "+15551234567", Targets: []string{"a", "b", "c", "d"}, Message: "m"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, got.SuccessfulCount)
}

func TestRun_DelayBetweenTargetsOnly(t *testing.T) {
	e, slept := newTestEngine(&stubSender{}, nil)

	_, err := e.Run(context.Background(), Job{UserID: "user-1", Phone: "+15551234567", Targets: []string{"a", "b", "c"}, Message: "m", DelayMs: 750}, nil)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{750 * time.Millisecond, 750 * time.Millisecond}, *slept)
}

func TestRun_DefaultDelay(t *testing.T) {
	e, slept := newTestEngine(&stubSender{}, nil)

	_, err := e.Run(context.Background(), Job{UserID: "user-1", Phone: "+15551234567", Targets: []string{"a", "b"}, Message: "m"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Second}, *slept)
}

func TestRun_WallClockDelay(t *testing.T) {
	e, _ := newTestEngine(&stubSender{}, nil)
	e.sleep = sleepCtx

	start := time.Now()
	_, err := e.Run(context.Background(), Job{UserID: "user-1", Phone: "+15551234567", Targets: []string{"a", "b"}, Message: "m", DelayMs: 500}, nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 500*time.Millisecond)
}

func TestRun_CancelStopsAtPause(t *testing.T) {
	sender := &stubSender{}
	e, _ := newTestEngine(sender, nil)

	ctx, cancel := context.WithCancel(context.Background())
	got, err := e.Run(ctx, Job{UserID: "user-1", Phone: "+15551234567", Targets: []string{"a", "b", "c"}, Message: "m"},
		func(p models.BroadcastProgress) {
			if p.Current == 1 {
				cancel()
			}
		})
	require.NoError(t, err)
	assert.Equal(t, models.BroadcastCancelled, got.Status)
	assert.Equal(t, 1, got.Current)
	assert.Equal(t, []string{"a"}, sender.Calls())
}

func TestRun_Validation(t *testing.T) {
	tests := []struct {
		name string
		job  Job
		want error
	}{
		{"no phone", Job{UserID: "user-1", Targets: []string{"a"}, Message: "m"}, ErrInvalidJob},
		{"no message", Job{UserID: "user-1", Phone: "+15551234567", Targets: []string{"a"}, Message: "  "}, ErrInvalidJob},
		{"no targets", Job{UserID: "user-1", Phone: "+15551234567", Message: "m"}, ErrInvalidJob},
		{"only blank targets", Job{UserID: "user-1", Phone: "+15551234567", Targets: []string{" ", ""}, Message: "m"}, ErrInvalidJob},
		{"one blank target", Job{UserID: "user-1", Phone: "+15551234567", Targets: []string{"@a", "  ", "@b"}, Message: "m"}, ErrInvalidJob},
		{"delay too short", Job{UserID: "user-1", Phone: "+15551234567", Targets: []string{"a"}, Message: "m", DelayMs: 100}, ErrInvalidJob},
		{"delay too long", Job{UserID: "user-1", Phone: "+15551234567", Targets: []string{"a"}, Message: "m", DelayMs: 5000}, ErrInvalidJob},
		{"unknown phone", Job{UserID: "user-1", Phone: "+19998887777", Targets: []string{"a"}, Message: "m"}, ErrSessionNotFound},
		{"other user", Job{UserID: "user-2", Phone: "+15551234567", Targets: []string{"a"}, Message: "m"}, ErrSessionNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &stubSender{}
			e, _ := newTestEngine(sender, nil)
			_, err := e.Run(context.Background(), tt.job, nil)
			require.ErrorIs(t, err, tt.want)
			assert.Empty(t, sender.Calls())
		})
	}
}

func TestWithDisplayErrors(t *testing.T) {
	p := models.BroadcastProgress{Results: models.BroadcastResults{Failed: []models.BroadcastFailure{
		{GroupID: "g1", Error: "rpc error code 403: CHAT_WRITE_FORBIDDEN"},
		{GroupID: "g2", Error: "Error: dial tcp: timeout"},
	}}}

	out := WithDisplayErrors(p)
	assert.Equal(t, "You cannot write in this chat", out.Results.Failed[0].DisplayError)
	assert.Equal(t, "dial tcp: timeout", out.Results.Failed[1].DisplayError)
	assert.Empty(t, p.Results.Failed[0].DisplayError, "input is not modified")
}
