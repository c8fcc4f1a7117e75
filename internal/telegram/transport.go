// Package telegram talks to the Telegram MTProto API.
//
// Every operation runs over its own short-lived connection: Dial seeds a
// client from a session string, the caller does its work and closes it.
// Nothing is shared between HTTP requests or broadcast targets.
package telegram

import (
	"context"
	"errors"
)

// ErrNoPhoto is returned by ProfilePhoto when the account has no photo.
var ErrNoPhoto = errors.New("telegram: no profile photo")

// Dialer opens connections seeded from a session string.
// An empty session string starts a fresh, unauthorised session.
type Dialer interface {
	Dial(ctx context.Context, sessionString string) (Conn, error)
}

// Conn is one live connection. Close must be called on every path.
type Conn interface {
	// Authorized reports whether the session is signed in.
	Authorized(ctx context.Context) (bool, error)
	// SendCode asks Telegram to deliver a login code to phone.
	SendCode(ctx context.Context, phone string) (*SentCode, error)
	// SignIn redeems a login code. A 2FA account fails with an error for
	// which IsPasswordRequired is true.
	SignIn(ctx context.Context, phone, code, codeHash string) error
	// CheckPassword completes 2FA with the SRP proof for password.
	CheckPassword(ctx context.Context, password string) error
	// Self returns the signed-in user.
	Self(ctx context.Context) (*Profile, error)
	// ProfilePhoto downloads the signed-in user's current photo.
	ProfilePhoto(ctx context.Context) ([]byte, error)
	// ResolvePeer turns a group identifier into a destination.
	ResolvePeer(ctx context.Context, target string) (*Peer, error)
	// SendMessage sends text verbatim and returns the new message id (0 if unknown).
	SendMessage(ctx context.Context, peer *Peer, text string) (int, error)
	// Session exports the current session string.
	Session(ctx context.Context) (string, error)
	Close() error
}
