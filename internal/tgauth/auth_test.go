package tgauth

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/gotd/td/tgerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/memesite/internal/events"
	"github.com/blockedby/memesite/internal/models"
	"github.com/blockedby/memesite/internal/sessioncodec"
	"github.com/blockedby/memesite/internal/telegram/telegramtest"
)

const testPhone = "+15551234567"

type memStore struct {
	mu    sync.Mutex
	saved map[string]*models.PersistedSession
	err   error
}

func (m *memStore) Upsert(_ context.Context, userID string, s *models.PersistedSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.saved == nil {
		m.saved = map[string]*models.PersistedSession{}
	}
	m.saved[userID+"/"+s.Phone] = s
	return nil
}

type recordingPublisher struct {
	events.Nop
	linked []events.SessionLinkedEvent
}

func (p *recordingPublisher) SessionLinked(_ context.Context, e events.SessionLinkedEvent) error {
	p.linked = append(p.linked, e)
	return nil
}

type fixture struct {
	srv   *telegramtest.Server
	store *memStore
	pub   *recordingPublisher
	auth  *Authenticator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		srv:   telegramtest.NewServer(),
		store: &memStore{},
		pub:   &recordingPublisher{},
	}
	f.auth = New(f.srv, f.store, f.pub, nil)
	t.Cleanup(func() {
		assert.Equal(t, f.srv.Opened(), f.srv.Closed(), "every connection must be closed")
	})
	return f
}

func (f *fixture) requestCode(t *testing.T) string {
	t.Helper()
	res, err := f.auth.RequestCode(context.Background(), testPhone)
	require.NoError(t, err)
	require.NotEmpty(t, res.SessionInfo)
	return res.SessionInfo
}

func requireAuthError(t *testing.T, err error, status int, contains string) {
	t.Helper()
	require.Error(t, err)
	var ae *Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, status, ae.Status)
	assert.Contains(t, ae.Message, contains)
}

func TestRequestCode(t *testing.T) {
	f := newFixture(t)

	res, err := f.auth.RequestCode(context.Background(), " +1 555 123 4567 ")
	require.NoError(t, err)
	assert.Equal(t, "hash-1", res.PhoneCodeHash)
	assert.False(t, res.AlreadyAuthorized)

	var st models.PendingAuthState
	require.NoError(t, sessioncodec.Decode(res.SessionInfo, &st))
	assert.Equal(t, testPhone, st.PhoneNumber)
	assert.Equal(t, "hash-1", st.PhoneCodeHash)
	assert.NotEmpty(t, st.TransportSessionSeed)
}

func TestRequestCode_Errors(t *testing.T) {
	t.Run("missing phone", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.auth.RequestCode(context.Background(), "  ")
		requireAuthError(t, err, http.StatusBadRequest, "Phone number is required")
	})

	t.Run("flood wait", func(t *testing.T) {
		f := newFixture(t)
		f.srv.SendCodeErr = tgerr.New(420, "FLOOD_WAIT_61")
		_, err := f.auth.RequestCode(context.Background(), testPhone)
		requireAuthError(t, err, http.StatusTooManyRequests, "2 minutes")
	})

	t.Run("invalid phone", func(t *testing.T) {
		f := newFixture(t)
		f.srv.SendCodeErr = tgerr.New(400, "PHONE_NUMBER_INVALID")
		_, err := f.auth.RequestCode(context.Background(), testPhone)
		requireAuthError(t, err, http.StatusBadRequest, "phone number invalid")
	})

	t.Run("dial failure", func(t *testing.T) {
		f := newFixture(t)
		f.srv.DialErr = errors.New("network down")
		_, err := f.auth.RequestCode(context.Background(), testPhone)
		requireAuthError(t, err, http.StatusInternalServerError, "Failed to connect")
	})
}

func TestVerify_CodeSuccessPersists(t *testing.T) {
	f := newFixture(t)
	blob := f.requestCode(t)

	res, err := f.auth.Verify(context.Background(), VerifyRequest{Code: "12345", SessionInfo: blob, UserID: "user-1"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.False(t, res.Requires2FA)
	assert.Equal(t, Authenticated, res.State)
	assert.Equal(t, "Successfully logged in", res.Message)
	require.NotNil(t, res.UserInfo)
	assert.Equal(t, "42", res.UserInfo.ID)
	assert.Equal(t, "testuser", res.UserInfo.Username)

	// the display token carries the phone, not the credential
	var display map[string]string
	require.NoError(t, sessioncodec.Decode(res.Session, &display))
	assert.Equal(t, map[string]string{"phone": testPhone}, display)

	saved := f.store.saved["user-1/"+testPhone]
	require.NotNil(t, saved)
	assert.Equal(t, f.srv.Dials()[1], saved.Session)
	assert.Equal(t, "testuser", saved.UserInfo.Username)

	require.Len(t, f.pub.linked, 1)
	assert.Equal(t, "user-1", f.pub.linked[0].UserID)
	assert.Equal(t, "42", f.pub.linked[0].TelegramUserID)
	assert.NotContains(t, f.pub.linked[0].Phone, "555123")
}

func TestVerify_AlreadyAuthorizedIsIdempotent(t *testing.T) {
	f := newFixture(t)
	blob, err := sessioncodec.Encode(models.PendingAuthState{
		PhoneNumber:          testPhone,
		PhoneCodeHash:        "hash-1",
		TransportSessionSeed: f.srv.AuthorizedSeed(),
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		res, err := f.auth.Verify(context.Background(), VerifyRequest{SessionInfo: blob, UserID: "user-1"})
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.False(t, res.Requires2FA)
		assert.Equal(t, "Already logged in", res.Message)
	}
	assert.Len(t, f.pub.linked, 2)
}

func TestVerify_TwoFactorRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.srv.Password = "hunter2"
	blob := f.requestCode(t)

	first, err := f.auth.Verify(context.Background(), VerifyRequest{Code: "12345", SessionInfo: blob, UserID: "user-1"})
	require.NoError(t, err)
	assert.True(t, first.Success)
	assert.True(t, first.Requires2FA)
	assert.Equal(t, AwaitingPassword, first.State)
	require.NotEmpty(t, first.SessionInfo)
	assert.Nil(t, first.UserInfo)
	assert.Empty(t, f.store.saved)

	second, err := f.auth.Verify(context.Background(), VerifyRequest{Password: "hunter2", SessionInfo: first.SessionInfo, UserID: "user-1"})
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.False(t, second.Requires2FA)
	assert.Equal(t, Authenticated, second.State)
	assert.NotNil(t, f.store.saved["user-1/"+testPhone])
}

func TestVerify_CodeAndPasswordInOneCall(t *testing.T) {
	f := newFixture(t)
	f.srv.Password = "hunter2"
	blob := f.requestCode(t)

	res, err := f.auth.Verify(context.Background(), VerifyRequest{Code: "12345", Password: "hunter2", SessionInfo: blob})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.False(t, res.Requires2FA)
}

func TestVerify_WrongPassword(t *testing.T) {
	f := newFixture(t)
	f.srv.Password = "hunter2"
	blob := f.requestCode(t)

	first, err := f.auth.Verify(context.Background(), VerifyRequest{Code: "12345", SessionInfo: blob})
	require.NoError(t, err)

	_, err = f.auth.Verify(context.Background(), VerifyRequest{Password: "wrong", SessionInfo: first.SessionInfo})
	requireAuthError(t, err, http.StatusBadRequest, "Invalid 2FA password")
	assert.Contains(t, MessageOf(err), "password hash invalid")
}

func TestVerify_FloodWait(t *testing.T) {
	f := newFixture(t)
	blob := f.requestCode(t)
	f.srv.SignInErr = errors.New("rpc error: A wait of 125 seconds is required")

	_, err := f.auth.Verify(context.Background(), VerifyRequest{Code: "12345", SessionInfo: blob, UserID: "user-1"})
	requireAuthError(t, err, http.StatusTooManyRequests, "wait 3 minutes")
	assert.Empty(t, f.store.saved)
}

func TestVerify_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		req      func(f *fixture, blob string) VerifyRequest
		setup    func(f *fixture)
		status   int
		contains string
	}{
		{
			name:     "missing session info",
			req:      func(*fixture, string) VerifyRequest { return VerifyRequest{Code: "12345"} },
			status:   http.StatusBadRequest,
			contains: "Session information is required",
		},
		{
			name:     "malformed blob",
			req:      func(*fixture, string) VerifyRequest { return VerifyRequest{Code: "12345", SessionInfo: "%%%"} },
			status:   http.StatusBadRequest,
			contains: "Invalid session information",
		},
		{
			name: "missing code hash",
			req: func(*fixture, string) VerifyRequest {
				blob, _ := sessioncodec.Encode(models.PendingAuthState{PhoneNumber: testPhone})
				return VerifyRequest{Code: "12345", SessionInfo: blob}
			},
			status:   http.StatusBadRequest,
			contains: "code hash are required",
		},
		{
			name: "garbage seed",
			req: func(*fixture, string) VerifyRequest {
				blob, _ := sessioncodec.Encode(models.PendingAuthState{PhoneNumber: testPhone, PhoneCodeHash: "h", TransportSessionSeed: "garbage"})
				return VerifyRequest{Code: "12345", SessionInfo: blob}
			},
			status:   http.StatusBadRequest,
			contains: "Invalid session information",
		},
		{
			name:     "missing code",
			req:      func(_ *fixture, blob string) VerifyRequest { return VerifyRequest{SessionInfo: blob} },
			status:   http.StatusBadRequest,
			contains: "Verification code is required",
		},
		{
			name:     "wrong code",
			req:      func(_ *fixture, blob string) VerifyRequest { return VerifyRequest{Code: "00000", SessionInfo: blob} },
			status:   http.StatusBadRequest,
			contains: "Invalid verification code",
		},
		{
			name:     "unclassified failure",
			setup:    func(f *fixture) { f.srv.SignInErr = errors.New("connection reset by peer") },
			req:      func(_ *fixture, blob string) VerifyRequest { return VerifyRequest{Code: "12345", SessionInfo: blob} },
			status:   http.StatusInternalServerError,
			contains: "Failed to verify code",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			blob := f.requestCode(t)
			if tt.setup != nil {
				tt.setup(f)
			}
			_, err := f.auth.Verify(context.Background(), tt.req(f, blob))
			requireAuthError(t, err, tt.status, tt.contains)
			assert.Empty(t, f.store.saved)
		})
	}
}

func TestVerify_WithoutUserIDSkipsPersistence(t *testing.T) {
	f := newFixture(t)
	blob := f.requestCode(t)

	res, err := f.auth.Verify(context.Background(), VerifyRequest{Code: "12345", SessionInfo: blob})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, f.store.saved)
	assert.Empty(t, f.pub.linked)
}

func TestVerify_StoreFailureStillSucceeds(t *testing.T) {
	f := newFixture(t)
	f.store.err = errors.New("db down")
	blob := f.requestCode(t)

	res, err := f.auth.Verify(context.Background(), VerifyRequest{Code: "12345", SessionInfo: blob, UserID: "user-1"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, f.pub.linked)
}

func TestVerify_ProfilePhoto(t *testing.T) {
	t.Run("encoded when present", func(t *testing.T) {
		f := newFixture(t)
		f.srv.Photo = []byte("img")
		blob := f.requestCode(t)

		res, err := f.auth.Verify(context.Background(), VerifyRequest{Code: "12345", SessionInfo: blob})
		require.NoError(t, err)
		require.NotNil(t, res.UserInfo.Photo)
		assert.Equal(t, "aW1n", *res.UserInfo.Photo)
	})

	t.Run("download failure is not fatal", func(t *testing.T) {
		f := newFixture(t)
		f.srv.PhotoErr = errors.New("file reference expired")
		blob := f.requestCode(t)

		res, err := f.auth.Verify(context.Background(), VerifyRequest{Code: "12345", SessionInfo: blob})
		require.NoError(t, err)
		assert.True(t, res.Success)
		require.NotNil(t, res.UserInfo)
		assert.Nil(t, res.UserInfo.Photo)
	})
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusTooManyRequests, StatusOf(tooManyRequests("slow down", nil)))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(errors.New("boom")))
	assert.Equal(t, "Internal server error", MessageOf(errors.New("boom")))
}
