package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/telegram/query/dialogs"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"go.uber.org/zap"

	"github.com/blockedby/memesite/internal/config"
)

// GotdDialer dials real Telegram connections with gotd/td.
type GotdDialer struct {
	appID   int
	appHash string
	log     *zap.Logger
}

// NewGotdDialer creates a dialer from the telegram credentials in cfg.
// gotd's own logs are only emitted when cfg.TGDebug is set.
func NewGotdDialer(cfg *config.Config) *GotdDialer {
	log := zap.NewNop()
	if cfg.TGDebug {
		if l, err := zap.NewDevelopment(); err == nil {
			log = l.Named("gotd")
		}
	}
	return &GotdDialer{
		appID:   cfg.TGApiID,
		appHash: cfg.TGApiHash,
		log:     log,
	}
}

// Dial connects and returns once the client is ready for API calls.
// The connection outlives ctx; only Close ends it.
func (d *GotdDialer) Dial(ctx context.Context, sessionString string) (Conn, error) {
	mem, err := seedStorage(ctx, sessionString)
	if err != nil {
		return nil, err
	}

	client := telegram.NewClient(d.appID, d.appHash, telegram.Options{
		SessionStorage: mem,
		Logger:         d.log,
	})

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &gotdConn{
		client:  client,
		api:     client.API(),
		storage: mem,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	ready := make(chan struct{})
	go func() {
		defer close(c.done)
		c.runErr = client.Run(runCtx, func(ctx context.Context) error {
			close(ready)
			<-ctx.Done()
			return nil
		})
	}()

	select {
	case <-ready:
		return c, nil
	case <-c.done:
		cancel()
		return nil, fmt.Errorf("connect: %w", c.runErr)
	case <-ctx.Done():
		cancel()
		<-c.done
		return nil, ctx.Err()
	}
}

type gotdConn struct {
	client  *telegram.Client
	api     *tg.Client
	storage *session.StorageMemory

	cancel    context.CancelFunc
	done      chan struct{}
	runErr    error
	closeOnce sync.Once
}

func (c *gotdConn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		<-c.done
	})
	if c.runErr != nil && !errors.Is(c.runErr, context.Canceled) {
		return c.runErr
	}
	return nil
}

func (c *gotdConn) Authorized(ctx context.Context) (bool, error) {
	status, err := c.client.Auth().Status(ctx)
	if err != nil {
		return false, fmt.Errorf("auth status: %w", err)
	}
	return status.Authorized, nil
}

func (c *gotdConn) SendCode(ctx context.Context, phone string) (*SentCode, error) {
	sent, err := c.client.Auth().SendCode(ctx, phone, auth.SendCodeOptions{})
	if err != nil {
		return nil, err
	}
	switch s := sent.(type) {
	case *tg.AuthSentCode:
		return &SentCode{PhoneCodeHash: s.PhoneCodeHash}, nil
	case *tg.AuthSentCodeSuccess:
		return &SentCode{Authorized: true}, nil
	default:
		return nil, fmt.Errorf("unexpected sent code type: %T", sent)
	}
}

func (c *gotdConn) SignIn(ctx context.Context, phone, code, codeHash string) error {
	_, err := c.client.Auth().SignIn(ctx, phone, code, codeHash)
	var signUp *auth.SignUpRequired
	if errors.As(err, &signUp) {
		return fmt.Errorf("phone number is not registered on telegram: %w", err)
	}
	return err
}

func (c *gotdConn) CheckPassword(ctx context.Context, password string) error {
	// auth.Password fetches the current SRP parameters and computes the proof
	_, err := c.client.Auth().Password(ctx, password)
	return err
}

func (c *gotdConn) Self(ctx context.Context) (*Profile, error) {
	u, err := c.client.Self(ctx)
	if err != nil {
		return nil, fmt.Errorf("get self: %w", err)
	}
	_, hasPhoto := u.Photo.(*tg.UserProfilePhoto)
	return &Profile{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Username:  u.Username,
		Phone:     u.Phone,
		Premium:   u.Premium,
		Verified:  u.Verified,
		Scam:      u.Scam,
		Fake:      u.Fake,
		Bot:       u.Bot,
		HasPhoto:  hasPhoto,
	}, nil
}

func (c *gotdConn) ProfilePhoto(ctx context.Context) ([]byte, error) {
	u, err := c.client.Self(ctx)
	if err != nil {
		return nil, fmt.Errorf("get self: %w", err)
	}
	photo, ok := u.Photo.(*tg.UserProfilePhoto)
	if !ok {
		return nil, ErrNoPhoto
	}

	var buf bytes.Buffer
	loc := &tg.InputPeerPhotoFileLocation{
		Peer:    &tg.InputPeerSelf{},
		PhotoID: photo.PhotoID,
	}
	if _, err := downloader.NewDownloader().Download(c.api, loc).Stream(ctx, &buf); err != nil {
		return nil, fmt.Errorf("download photo: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *gotdConn) ResolvePeer(ctx context.Context, raw string) (*Peer, error) {
	t, err := parseTarget(raw)
	if err != nil {
		return nil, err
	}
	if t.username != "" {
		return c.resolveUsername(ctx, t.username)
	}
	return c.findDialog(ctx, t)
}

func (c *gotdConn) resolveUsername(ctx context.Context, username string) (*Peer, error) {
	resolved, err := c.api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{
		Username: username,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve username %s: %w", username, err)
	}

	switch p := resolved.Peer.(type) {
	case *tg.PeerChannel:
		for _, chat := range resolved.Chats {
			if ch, ok := chat.(*tg.Channel); ok && ch.ID == p.ChannelID {
				return channelPeer(ch), nil
			}
		}
	case *tg.PeerChat:
		for _, chat := range resolved.Chats {
			if ch, ok := chat.(*tg.Chat); ok && ch.ID == p.ChatID {
				return chatPeer(ch), nil
			}
		}
	case *tg.PeerUser:
		for _, user := range resolved.Users {
			if u, ok := user.(*tg.User); ok && u.ID == p.UserID {
				return userPeer(u), nil
			}
		}
	}
	return nil, peerInvalid(username)
}

// findDialog scans the account's dialogs for a numeric id. Access hashes for
// bare ids are only known through dialogs the account already has.
func (c *gotdConn) findDialog(ctx context.Context, t target) (*Peer, error) {
	iter := dialogs.NewQueryBuilder(c.api).GetDialogs().BatchSize(100).Iter()
	for iter.Next(ctx) {
		p := peerFromDialog(iter.Value())
		if p == nil {
			continue
		}
		if p.ID == t.id && (t.kind == "" || t.kind == p.Kind) {
			return p, nil
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("iterate dialogs: %w", err)
	}
	return nil, peerInvalid(fmt.Sprint(t.id))
}

func (c *gotdConn) SendMessage(ctx context.Context, peer *Peer, text string) (int, error) {
	if peer == nil || peer.Input == nil {
		return 0, errors.New("send message: nil peer")
	}
	randomID := rand.Int64()
	updates, err := c.api.MessagesSendMessage(ctx, &tg.MessagesSendMessageRequest{
		Peer:     peer.Input,
		Message:  text,
		RandomID: randomID,
	})
	if err != nil {
		return 0, err
	}
	return sentMessageID(updates, randomID), nil
}

func (c *gotdConn) Session(ctx context.Context) (string, error) {
	return exportStorage(ctx, c.storage)
}

func peerFromDialog(elem dialogs.Elem) *Peer {
	switch p := elem.Peer.(type) {
	case *tg.InputPeerChannel:
		if ch, ok := elem.Entities.Channel(p.ChannelID); ok {
			return channelPeer(ch)
		}
	case *tg.InputPeerChat:
		if ch, ok := elem.Entities.Chat(p.ChatID); ok {
			return chatPeer(ch)
		}
	case *tg.InputPeerUser:
		if u, ok := elem.Entities.User(p.UserID); ok {
			return userPeer(u)
		}
	}
	return nil
}

func channelPeer(ch *tg.Channel) *Peer {
	return &Peer{
		ID:       ch.ID,
		Kind:     PeerChannel,
		Title:    ch.Title,
		Username: ch.Username,
		Input:    &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash},
	}
}

func chatPeer(ch *tg.Chat) *Peer {
	return &Peer{
		ID:    ch.ID,
		Kind:  PeerChat,
		Title: ch.Title,
		Input: &tg.InputPeerChat{ChatID: ch.ID},
	}
}

func userPeer(u *tg.User) *Peer {
	return &Peer{
		ID:       u.ID,
		Kind:     PeerUser,
		Title:    strings.TrimSpace(u.FirstName + " " + u.LastName),
		Username: u.Username,
		Input:    &tg.InputPeerUser{UserID: u.ID, AccessHash: u.AccessHash},
	}
}

// peerInvalid mirrors the RPC error so the classifier renders it the same way.
func peerInvalid(target string) error {
	return fmt.Errorf("resolve %s: %w", target, tgerr.New(400, "PEER_ID_INVALID"))
}

// sentMessageID digs the new message id out of a send response.
func sentMessageID(updates tg.UpdatesClass, randomID int64) int {
	var list []tg.UpdateClass
	switch u := updates.(type) {
	case *tg.UpdateShortSentMessage:
		return u.ID
	case *tg.Updates:
		list = u.Updates
	case *tg.UpdatesCombined:
		list = u.Updates
	default:
		return 0
	}

	for _, upd := range list {
		if m, ok := upd.(*tg.UpdateMessageID); ok && m.RandomID == randomID {
			return m.ID
		}
	}
	for _, upd := range list {
		switch m := upd.(type) {
		case *tg.UpdateNewMessage:
			return m.Message.GetID()
		case *tg.UpdateNewChannelMessage:
			return m.Message.GetID()
		}
	}
	return 0
}
