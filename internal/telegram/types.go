package telegram

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gotd/td/tg"
)

// Profile is the identity behind an authorised session.
type Profile struct {
	ID        int64  // telegram user id
	FirstName string // first name
	LastName  string // last name
	Username  string // username (without @)
	Phone     string // phone as reported by telegram
	Premium   bool
	Verified  bool
	Scam      bool
	Fake      bool
	Bot       bool
	HasPhoto  bool // whether a profile photo is set
}

// SentCode is the outcome of a login code request.
type SentCode struct {
	PhoneCodeHash string // redeems the code in SignIn
	Authorized    bool   // the session was already signed in, no code was sent
}

// PeerKind is the type of a resolved destination.
type PeerKind string

// Peer kinds.
const (
	PeerUser    PeerKind = "user"
	PeerChat    PeerKind = "chat"
	PeerChannel PeerKind = "channel"
)

// Peer is a resolved send destination.
type Peer struct {
	ID       int64             // bare telegram id
	Kind     PeerKind          // user, basic group or channel/supergroup
	Title    string            // display name
	Username string            // public handle (without @), empty for private peers
	Input    tg.InputPeerClass // what the API wants
}

// MessageURL returns the public link to a message, or "" when the peer has no
// public handle. Private peers never get a shareable link.
func (p *Peer) MessageURL(messageID int) string {
	if p == nil || p.Username == "" || messageID == 0 {
		return ""
	}
	return fmt.Sprintf("https://t.me/%s/%d", p.Username, messageID)
}

// target is a parsed group identifier as supplied by a caller.
type target struct {
	username string   // set for @handle and t.me links
	id       int64    // bare id for numeric targets
	kind     PeerKind // "" when the numeric form does not say
}

// parseTarget understands "@handle", "handle", "https://t.me/handle",
// bot-API style ids ("-100<channel>", "-<chat>") and bare ids.
func parseTarget(s string) (target, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return target{}, fmt.Errorf("empty target")
	}

	for _, prefix := range []string{"https://t.me/", "http://t.me/", "t.me/"} {
		if strings.HasPrefix(s, prefix) {
			s = strings.TrimSuffix(strings.TrimPrefix(s, prefix), "/")
			break
		}
	}
	if strings.HasPrefix(s, "@") {
		return target{username: strings.TrimPrefix(s, "@")}, nil
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		// bare handle
		return target{username: s}, nil
	}
	switch {
	case strings.HasPrefix(s, "-100") && -n > 1_000_000_000_000:
		return target{id: -n - 1_000_000_000_000, kind: PeerChannel}, nil
	case n < 0:
		return target{id: -n, kind: PeerChat}, nil
	default:
		return target{id: n}, nil
	}
}
