// Package telegramtest provides an in-memory Telegram for tests.
package telegramtest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tgerr"

	"github.com/blockedby/memesite/internal/telegram"
)

type seedState int

const (
	stateNew seedState = iota
	stateNeedsPassword
	stateAuthorized
)

// Server is a fake Telegram implementing telegram.Dialer. Each session string
// it hands out tracks its own login state, so a seed exported after a failed
// code attempt resumes where it left off.
type Server struct {
	// Code is the login code SignIn accepts.
	Code string
	// Password enables 2FA when non-empty.
	Password string
	// CodeHash is returned by SendCode.
	CodeHash string
	// Profile is returned by Self.
	Profile telegram.Profile
	// Photo is returned by ProfilePhoto; PhotoErr fails it instead.
	Photo    []byte
	PhotoErr error
	// Per-operation error injection.
	DialErr     error
	SendCodeErr error
	SignInErr   error
	StatusErr   error
	// Peers maps targets to resolved destinations; unknown targets fail with PEER_ID_INVALID.
	Peers map[string]*telegram.Peer
	// SendErrs fails SendMessage for the given targets.
	SendErrs map[string]error

	mu      sync.Mutex
	seeds   map[string]seedState
	nextKey int
	nextMsg int
	opened  int
	closed  int
	dials   []string
	sent    []Sent
}

// Sent is one delivered message.
type Sent struct {
	Target string
	Text   string
	ID     int
}

// NewServer returns a server accepting code "12345" without 2FA.
func NewServer() *Server {
	return &Server{
		Code:     "12345",
		CodeHash: "hash-1",
		Profile:  telegram.Profile{ID: 42, FirstName: "Test", LastName: "User", Username: "testuser", Phone: "15551234567"},
		Peers:    map[string]*telegram.Peer{},
		SendErrs: map[string]error{},
		seeds:    map[string]seedState{},
	}
}

// NewSeed mints a session string the server knows.
func (s *Server) NewSeed() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newSeedLocked(stateNew)
}

// AuthorizedSeed mints a session string that is already signed in.
func (s *Server) AuthorizedSeed() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newSeedLocked(stateAuthorized)
}

func (s *Server) newSeedLocked(st seedState) string {
	s.nextKey++
	seed, err := telegram.EncodeSession(&session.Data{
		DC:      2,
		AuthKey: []byte(fmt.Sprintf("fake-auth-key-%d", s.nextKey)),
	})
	if err != nil {
		panic(err)
	}
	if s.seeds == nil {
		s.seeds = map[string]seedState{}
	}
	s.seeds[seed] = st
	return seed
}

// AddPeer registers a resolvable target.
func (s *Server) AddPeer(target string, p *telegram.Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Peers[target] = p
}

// Opened returns how many connections were dialled.
func (s *Server) Opened() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

// Closed returns how many connections were closed.
func (s *Server) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Dials returns the session strings passed to Dial, in order.
func (s *Server) Dials() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.dials...)
}

// SentMessages returns delivered messages in send order.
func (s *Server) SentMessages() []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Sent(nil), s.sent...)
}

// Dial implements telegram.Dialer.
func (s *Server) Dial(ctx context.Context, seed string) (telegram.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dials = append(s.dials, seed)
	if s.DialErr != nil {
		return nil, s.DialErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if seed == "" {
		seed = s.newSeedLocked(stateNew)
	} else if _, ok := s.seeds[seed]; !ok {
		// a seed from elsewhere starts unauthorised
		s.seeds[seed] = stateNew
	}
	s.opened++
	return &conn{srv: s, seed: seed}, nil
}

type conn struct {
	srv    *Server
	seed   string
	closed bool
}

func (c *conn) state() seedState {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	return c.srv.seeds[c.seed]
}

func (c *conn) setState(st seedState) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	c.srv.seeds[c.seed] = st
}

func (c *conn) Authorized(ctx context.Context) (bool, error) {
	if c.srv.StatusErr != nil {
		return false, c.srv.StatusErr
	}
	return c.state() == stateAuthorized, nil
}

func (c *conn) SendCode(ctx context.Context, phone string) (*telegram.SentCode, error) {
	if c.srv.SendCodeErr != nil {
		return nil, c.srv.SendCodeErr
	}
	if c.state() == stateAuthorized {
		return &telegram.SentCode{Authorized: true}, nil
	}
	return &telegram.SentCode{PhoneCodeHash: c.srv.CodeHash}, nil
}

func (c *conn) SignIn(ctx context.Context, phone, code, codeHash string) error {
	if c.srv.SignInErr != nil {
		return c.srv.SignInErr
	}
	if codeHash != c.srv.CodeHash {
		return tgerr.New(400, "PHONE_CODE_HASH_EMPTY")
	}
	if code != c.srv.Code {
		return tgerr.New(400, "PHONE_CODE_INVALID")
	}
	if c.srv.Password != "" {
		c.setState(stateNeedsPassword)
		return auth.ErrPasswordAuthNeeded
	}
	c.setState(stateAuthorized)
	return nil
}

func (c *conn) CheckPassword(ctx context.Context, password string) error {
	if c.srv.Password == "" || password != c.srv.Password {
		return tgerr.New(400, "PASSWORD_HASH_INVALID")
	}
	c.setState(stateAuthorized)
	return nil
}

func (c *conn) Self(ctx context.Context) (*telegram.Profile, error) {
	if c.state() != stateAuthorized {
		return nil, tgerr.New(401, "AUTH_KEY_UNREGISTERED")
	}
	p := c.srv.Profile
	p.HasPhoto = len(c.srv.Photo) > 0 || c.srv.PhotoErr != nil
	return &p, nil
}

func (c *conn) ProfilePhoto(ctx context.Context) ([]byte, error) {
	if c.srv.PhotoErr != nil {
		return nil, c.srv.PhotoErr
	}
	if len(c.srv.Photo) == 0 {
		return nil, telegram.ErrNoPhoto
	}
	return c.srv.Photo, nil
}

func (c *conn) ResolvePeer(ctx context.Context, target string) (*telegram.Peer, error) {
	if c.state() != stateAuthorized {
		return nil, tgerr.New(401, "AUTH_KEY_UNREGISTERED")
	}
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	p, ok := c.srv.Peers[target]
	if !ok {
		return nil, fmt.Errorf("resolve %s: %w", target, tgerr.New(400, "PEER_ID_INVALID"))
	}
	return p, nil
}

func (c *conn) SendMessage(ctx context.Context, peer *telegram.Peer, text string) (int, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()

	target := targetFor(c.srv.Peers, peer)
	if err, ok := c.srv.SendErrs[target]; ok {
		return 0, err
	}
	c.srv.nextMsg++
	c.srv.sent = append(c.srv.sent, Sent{Target: target, Text: text, ID: c.srv.nextMsg})
	return c.srv.nextMsg, nil
}

func targetFor(peers map[string]*telegram.Peer, p *telegram.Peer) string {
	for k, v := range peers {
		if v == p {
			return k
		}
	}
	return ""
}

func (c *conn) Session(ctx context.Context) (string, error) {
	return c.seed, nil
}

func (c *conn) Close() error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	if c.closed {
		return errors.New("telegramtest: connection closed twice")
	}
	c.closed = true
	c.srv.closed++
	return nil
}
