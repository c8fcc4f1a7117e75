// Package models defines shared data types for the application.
package models

import (
	"encoding/json"
	"strings"
	"time"
)

// PendingAuthState is the login-in-progress state carried by the client between
// the code request and the verification call. It is never stored server-side.
type PendingAuthState struct {
	PhoneNumber   string `json:"phoneNumber"`
	PhoneCodeHash string `json:"phoneCodeHash"`
	// TransportSessionSeed is the partially initialised transport session; empty
	// before the first connection was made.
	TransportSessionSeed string `json:"transportSession"`
}

// UnmarshalJSON accepts the older "session" key for the transport seed.
func (p *PendingAuthState) UnmarshalJSON(data []byte) error {
	var raw struct {
		PhoneNumber      string `json:"phoneNumber"`
		PhoneCodeHash    string `json:"phoneCodeHash"`
		TransportSession string `json:"transportSession"`
		Session          string `json:"session"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.PhoneNumber = raw.PhoneNumber
	p.PhoneCodeHash = raw.PhoneCodeHash
	p.TransportSessionSeed = raw.TransportSession
	if p.TransportSessionSeed == "" {
		p.TransportSessionSeed = raw.Session
	}
	return nil
}

// UserProfileSnapshot is the Telegram identity captured at a successful login.
type UserProfileSnapshot struct {
	ID        string  `json:"id"`
	FirstName string  `json:"firstName"`
	LastName  string  `json:"lastName"`
	Username  string  `json:"username"`
	Phone     string  `json:"phone"`
	Photo     *string `json:"photo"` // base64 still image, nil when unavailable
	Premium   bool    `json:"premium"`
	Verified  bool    `json:"verified"`
	Scam      bool    `json:"scam"`
	Fake      bool    `json:"fake"`
	Bot       bool    `json:"bot"`
}

// DisplayName returns "First Last", falling back to the username.
func (u *UserProfileSnapshot) DisplayName() string {
	if u == nil {
		return ""
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Username
	}
	return name
}

// PersistedSession is a durable Telegram credential linked to an application user.
// (userID, Phone) is unique.
type PersistedSession struct {
	Phone    string               `json:"phone"`
	Session  string               `json:"session"`
	Created  time.Time            `json:"created"`
	UserInfo *UserProfileSnapshot `json:"userInfo"`
}

// AppUser is an application account resolved from a bearer token.
type AppUser struct {
	ID      string `json:"id"`
	Premium bool   `json:"premium"`
}

// NormalizePhone strips formatting characters, keeping a leading "+".
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	var b strings.Builder
	for i, r := range phone {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}
