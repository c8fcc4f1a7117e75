package telegram

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/celestix/gotgproto/storage"
	"github.com/gotd/td/session"
)

// ErrEmptySession is returned when a session string carries no auth key.
var ErrEmptySession = errors.New("telegram: empty session")

// EncodeSession converts gotd session data into a portable session string:
// base64 over the JSON of a gotgproto storage.Session. Strings produced here
// load in gotgproto's StringSession and vice versa.
func EncodeSession(data *session.Data) (string, error) {
	if data == nil {
		return "", fmt.Errorf("session data is nil")
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal session data: %w", err)
	}

	raw, err := json.Marshal(&storage.Session{
		Version: storage.LatestVersion,
		Data:    dataJSON,
	})
	if err != nil {
		return "", fmt.Errorf("marshal session envelope: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeSession parses a session string produced by EncodeSession.
func DecodeSession(s string) (*session.Data, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrEmptySession
	}

	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode session string: %w", err)
	}

	var sess storage.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session envelope: %w", err)
	}
	if len(sess.Data) == 0 {
		return nil, ErrEmptySession
	}

	var data session.Data
	if err := json.Unmarshal(sess.Data, &data); err != nil {
		return nil, fmt.Errorf("unmarshal session data: %w", err)
	}
	if len(data.AuthKey) == 0 {
		return nil, ErrEmptySession
	}
	return &data, nil
}

// seedStorage returns in-memory gotd storage preloaded from a session string.
// An empty string yields empty storage, which makes gotd create a new auth key.
func seedStorage(ctx context.Context, sessionString string) (*session.StorageMemory, error) {
	mem := &session.StorageMemory{}
	if strings.TrimSpace(sessionString) == "" {
		return mem, nil
	}

	data, err := DecodeSession(sessionString)
	if err != nil {
		return nil, err
	}
	loader := session.Loader{Storage: mem}
	if err := loader.Save(ctx, data); err != nil {
		return nil, fmt.Errorf("seed session storage: %w", err)
	}
	return mem, nil
}

// exportStorage encodes whatever gotd currently holds in mem.
func exportStorage(ctx context.Context, mem *session.StorageMemory) (string, error) {
	loader := session.Loader{Storage: mem}
	data, err := loader.Load(ctx)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return "", ErrEmptySession
		}
		return "", fmt.Errorf("load session: %w", err)
	}
	return EncodeSession(data)
}
