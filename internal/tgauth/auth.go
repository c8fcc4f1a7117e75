// Package tgauth drives a phone number through Telegram login: code request,
// code verification and the optional 2FA password step.
//
// Nothing is kept server-side between the two HTTP calls. The pending state
// travels through the client as an opaque blob (see sessioncodec), and every
// call opens and closes its own Telegram connection.
package tgauth

import (
	"context"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gotd/td/tgerr"

	"github.com/blockedby/memesite/internal/events"
	"github.com/blockedby/memesite/internal/logger"
	"github.com/blockedby/memesite/internal/models"
	"github.com/blockedby/memesite/internal/sessioncodec"
	"github.com/blockedby/memesite/internal/telegram"
)

// State is where a login stands after a verify call.
type State string

// Login states.
const (
	AwaitingCode     State = "awaiting_code"
	AwaitingPassword State = "awaiting_password"
	Authenticated    State = "authenticated"
	Failed           State = "failed"
)

// alreadyAuthorizedHash stands in for the code hash when Telegram signed the
// session in without sending a code. Verify then short-circuits.
const alreadyAuthorizedHash = "authorized"

// photoTimeout bounds the optional profile photo download.
const photoTimeout = 10 * time.Second

// codeErrors are the sign-in failures caused by what the user typed.
var codeErrors = []string{
	"PHONE_CODE_INVALID",
	"PHONE_CODE_EXPIRED",
	"PHONE_CODE_EMPTY",
	"PHONE_CODE_HASH_EMPTY",
	"PHONE_NUMBER_UNOCCUPIED",
}

// phoneErrors are send-code failures caused by the phone number.
var phoneErrors = []string{
	"PHONE_NUMBER_INVALID",
	"PHONE_NUMBER_BANNED",
	"PHONE_NUMBER_FLOOD",
	"PHONE_PASSWORD_FLOOD",
}

// SessionWriter is the store operation a successful login needs.
type SessionWriter interface {
	Upsert(ctx context.Context, userID string, sess *models.PersistedSession) error
}

// Authenticator runs the login flow.
type Authenticator struct {
	dialer telegram.Dialer
	store  SessionWriter
	events events.Publisher
	log    *logger.Logger
	now    func() time.Time
}

// New creates an Authenticator. store may be nil, in which case successful
// logins are never persisted.
func New(dialer telegram.Dialer, store SessionWriter, pub events.Publisher, log *logger.Logger) *Authenticator {
	if pub == nil {
		pub = events.Nop{}
	}
	if log == nil {
		log = logger.Get()
	}
	return &Authenticator{
		dialer: dialer,
		store:  store,
		events: pub,
		log:    log.Component("tgauth"),
		now:    time.Now,
	}
}

// CodeRequestResult is returned by RequestCode.
type CodeRequestResult struct {
	PhoneCodeHash     string
	SessionInfo       string // opaque blob for the verify call
	AlreadyAuthorized bool   // telegram signed in without a code
}

// VerifyRequest is one verify call.
type VerifyRequest struct {
	Code        string
	Password    string
	SessionInfo string
	UserID      string // empty: verify now, link later
}

// VerifyResult is a successful verify call. Requires2FA is not a failure.
type VerifyResult struct {
	Success     bool
	Message     string
	Requires2FA bool
	// Session is a display token encoding the phone only. The transport
	// credential never leaves the server.
	Session string
	// SessionInfo is the continuation blob to resubmit with the password.
	SessionInfo string
	UserInfo    *models.UserProfileSnapshot
	State       State
}

// RequestCode asks Telegram to send a login code and returns the pending
// state for Verify.
func (a *Authenticator) RequestCode(ctx context.Context, phone string) (*CodeRequestResult, error) {
	phone = models.NormalizePhone(phone)
	if phone == "" {
		return nil, badRequest("Phone number is required", nil)
	}
	log := a.log.With().Str("phone", logger.MaskPhone(phone)).Logger()

	conn, err := a.dialer.Dial(ctx, "")
	if err != nil {
		return nil, internal("Failed to connect to Telegram", err)
	}
	defer a.release(conn)

	sent, err := conn.SendCode(ctx, phone)
	if err != nil {
		if wait := telegram.FloodWaitSeconds(err); wait > 0 {
			log.Warn().Int("wait_seconds", wait).Msg("flood wait on send code")
			return nil, tooManyRequests(telegram.FloodWaitMessage(wait), err)
		}
		if tgerr.Is(err, phoneErrors...) {
			return nil, badRequest("Failed to send code: "+telegram.ClassifyError(err), err)
		}
		log.Error().Err(err).Msg("send code failed")
		return nil, internal("Failed to send verification code", err)
	}

	seed, err := conn.Session(ctx)
	if err != nil {
		return nil, internal("Failed to export session", err)
	}

	hash := sent.PhoneCodeHash
	if sent.Authorized {
		hash = alreadyAuthorizedHash
	}
	blob, err := sessioncodec.Encode(models.PendingAuthState{
		PhoneNumber:          phone,
		PhoneCodeHash:        hash,
		TransportSessionSeed: seed,
	})
	if err != nil {
		return nil, internal("Failed to encode session information", err)
	}

	log.Info().Bool("already_authorized", sent.Authorized).Msg("login code requested")
	return &CodeRequestResult{
		PhoneCodeHash:     sent.PhoneCodeHash,
		SessionInfo:       blob,
		AlreadyAuthorized: sent.Authorized,
	}, nil
}

// Verify advances a pending login with a code, a password, or both.
func (a *Authenticator) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	if strings.TrimSpace(req.SessionInfo) == "" {
		return nil, badRequest("Session information is required", nil)
	}
	var st models.PendingAuthState
	if err := sessioncodec.Decode(req.SessionInfo, &st); err != nil {
		return nil, badRequest("Invalid session information", err)
	}
	if st.PhoneNumber == "" || st.PhoneCodeHash == "" {
		return nil, badRequest("Invalid session information: phone number and code hash are required", nil)
	}
	if st.TransportSessionSeed != "" {
		if _, err := telegram.DecodeSession(st.TransportSessionSeed); err != nil {
			return nil, badRequest("Invalid session information", err)
		}
	}

	code := strings.TrimSpace(req.Code)
	log := a.log.With().Str("phone", logger.MaskPhone(st.PhoneNumber)).Logger()

	conn, err := a.dialer.Dial(ctx, st.TransportSessionSeed)
	if err != nil {
		return nil, internal("Failed to connect to Telegram", err)
	}
	defer a.release(conn)

	authorized, err := conn.Authorized(ctx)
	if err != nil {
		log.Error().Err(err).Msg("auth status check failed")
		return nil, internal("Failed to verify code", err)
	}
	if authorized {
		log.Info().Msg("session already authorized")
		return a.complete(ctx, conn, st, req.UserID, "Already logged in"), nil
	}

	if req.Password != "" && code == "" {
		return a.verifyPassword(ctx, conn, st, req.UserID, req.Password)
	}
	if code == "" {
		return nil, badRequest("Verification code is required", nil)
	}

	err = conn.SignIn(ctx, st.PhoneNumber, code, st.PhoneCodeHash)
	if err == nil {
		ok, err := conn.Authorized(ctx)
		if err != nil || !ok {
			log.Error().Err(err).Msg("sign in returned but session is not authorized")
			return nil, badRequest("Failed to sign in", err)
		}
		return a.complete(ctx, conn, st, req.UserID, "Successfully logged in"), nil
	}

	switch {
	case telegram.FloodWaitSeconds(err) > 0:
		wait := telegram.FloodWaitSeconds(err)
		log.Warn().Int("wait_seconds", wait).Msg("flood wait on sign in")
		return nil, tooManyRequests(telegram.FloodWaitMessage(wait), err)

	case telegram.IsPasswordRequired(err):
		if req.Password != "" {
			return a.verifyPassword(ctx, conn, st, req.UserID, req.Password)
		}
		return a.requirePassword(ctx, conn, st), nil

	case tgerr.Is(err, codeErrors...):
		log.Info().Err(err).Msg("sign in rejected")
		return nil, badRequest("Invalid verification code: "+telegram.ClassifyError(err), err)

	default:
		log.Error().Err(err).Msg("sign in failed")
		return nil, internal("Failed to verify code", err)
	}
}

// verifyPassword completes a login that stopped at the 2FA step.
func (a *Authenticator) verifyPassword(ctx context.Context, conn telegram.Conn, st models.PendingAuthState, userID, password string) (*VerifyResult, error) {
	if err := conn.CheckPassword(ctx, password); err != nil {
		if wait := telegram.FloodWaitSeconds(err); wait > 0 {
			return nil, tooManyRequests(telegram.FloodWaitMessage(wait), err)
		}
		a.log.Info().Str("phone", logger.MaskPhone(st.PhoneNumber)).Err(err).Msg("2FA password rejected")
		return nil, badRequest("Invalid 2FA password: "+telegram.ClassifyError(err), err)
	}
	return a.complete(ctx, conn, st, userID, "Successfully logged in"), nil
}

// requirePassword re-encodes the pending state with the seed as it stands
// after the code attempt, so the password call resumes the same session.
func (a *Authenticator) requirePassword(ctx context.Context, conn telegram.Conn, st models.PendingAuthState) *VerifyResult {
	if seed, err := conn.Session(ctx); err == nil {
		st.TransportSessionSeed = seed
	} else {
		a.log.Warn().Err(err).Msg("could not export session after 2FA prompt, reusing previous seed")
	}

	blob, err := sessioncodec.Encode(st)
	if err != nil {
		// encoding a struct of strings cannot fail
		blob = ""
	}
	return &VerifyResult{
		Success:     true,
		Message:     "Two-factor authentication required",
		Requires2FA: true,
		SessionInfo: blob,
		State:       AwaitingPassword,
	}
}

// complete is the Authenticated transition shared by every success path.
func (a *Authenticator) complete(ctx context.Context, conn telegram.Conn, st models.PendingAuthState, userID, message string) *VerifyResult {
	profile := a.fetchProfile(ctx, conn)
	a.persist(ctx, conn, st.PhoneNumber, userID, profile)

	display, err := sessioncodec.Encode(map[string]string{"phone": st.PhoneNumber})
	if err != nil {
		a.log.Warn().Err(err).Msg("could not encode display session")
	}
	return &VerifyResult{
		Success:  true,
		Message:  message,
		Session:  display,
		UserInfo: profile,
		State:    Authenticated,
	}
}

func (a *Authenticator) fetchProfile(ctx context.Context, conn telegram.Conn) *models.UserProfileSnapshot {
	p, err := conn.Self(ctx)
	if err != nil {
		a.log.Warn().Err(err).Msg("could not fetch profile")
		return nil
	}
	snap := &models.UserProfileSnapshot{
		ID:        strconv.FormatInt(p.ID, 10),
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Username:  p.Username,
		Phone:     p.Phone,
		Premium:   p.Premium,
		Verified:  p.Verified,
		Scam:      p.Scam,
		Fake:      p.Fake,
		Bot:       p.Bot,
	}
	if p.HasPhoto {
		snap.Photo = a.fetchPhoto(ctx, conn)
	}
	return snap
}

// fetchPhoto never fails the login; any error leaves the photo empty.
func (a *Authenticator) fetchPhoto(ctx context.Context, conn telegram.Conn) *string {
	ctx, cancel := context.WithTimeout(ctx, photoTimeout)
	defer cancel()

	data, err := conn.ProfilePhoto(ctx)
	if err != nil {
		if !errors.Is(err, telegram.ErrNoPhoto) {
			a.log.Warn().Err(err).Msg("could not download profile photo")
		}
		return nil
	}
	if len(data) == 0 {
		return nil
	}
	encoded := base64.StdEncoding.EncodeToString(data)
	return &encoded
}

// persist stores the durable credential. Failures are logged and never change
// the response: the user is signed in either way.
func (a *Authenticator) persist(ctx context.Context, conn telegram.Conn, phone, userID string, profile *models.UserProfileSnapshot) {
	log := a.log.With().Str("phone", logger.MaskPhone(phone)).Str("user_id", userID).Logger()
	if userID == "" {
		log.Warn().Msg("no user id on verify, session not persisted")
		return
	}
	if a.store == nil {
		log.Warn().Msg("no session store configured, session not persisted")
		return
	}

	sessionString, err := conn.Session(ctx)
	if err != nil {
		log.Error().Err(err).Msg("could not export authorized session")
		return
	}

	now := a.now().UTC()
	err = a.store.Upsert(ctx, userID, &models.PersistedSession{
		Phone:    phone,
		Session:  sessionString,
		Created:  now,
		UserInfo: profile,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to persist telegram session")
		return
	}

	ev := events.SessionLinkedEvent{
		UserID:   userID,
		Phone:    logger.MaskPhone(phone),
		LinkedAt: now,
	}
	if profile != nil {
		ev.TelegramUserID = profile.ID
		ev.Username = profile.Username
		ev.Premium = profile.Premium
	}
	if err := a.events.SessionLinked(ctx, ev); err != nil {
		log.Warn().Err(err).Msg("failed to publish session linked event")
	}
}

func (a *Authenticator) release(conn telegram.Conn) {
	if err := conn.Close(); err != nil {
		a.log.Warn().Err(err).Msg("closing telegram connection")
	}
}
