// Package session models the gateway's client-held session state: the
// encrypted login cookie, the short-lived login-flow cookie, the CSRF cookie
// and the read-only Session view derived from them.
package session

import (
	"context"
	"maps"
	"time"
)

// UserModel is the identity established by a login provider: a stable id
// plus string attributes.
type UserModel struct {
	ID       string            `json:"id"`
	Mappings map[string]string `json:"mappings,omitempty"`
}

// NewUserModel returns a model with an initialised mapping.
func NewUserModel(id string) UserModel {
	return UserModel{ID: id, Mappings: map[string]string{}}
}

// Get returns an attribute or "".
func (u UserModel) Get(key string) string {
	return u.Mappings[key]
}

// Set stores an attribute.
func (u *UserModel) Set(key, value string) {
	if u.Mappings == nil {
		u.Mappings = map[string]string{}
	}
	u.Mappings[key] = value
}

// Clone returns a deep copy.
func (u UserModel) Clone() UserModel {
	return UserModel{ID: u.ID, Mappings: maps.Clone(u.Mappings)}
}

// LoginCookie is the payload of the encrypted session cookie.
type LoginCookie struct {
	ID        string    `json:"id"`
	ExpiresAt int64     `json:"exp"`
	Provider  string    `json:"provider"`
	User      UserModel `json:"user"`
	CSRFToken string    `json:"csrf"`
}

// LoginStateCookie is the payload of the encrypted login-flow cookie. It
// lives only between login initiation and the provider callback.
type LoginStateCookie struct {
	Provider  string `json:"provider"`
	State     string `json:"state"`
	ReturnURL string `json:"returnUrl"`
}

// Session is a validated, read-only view over a decrypted login cookie.
type Session struct {
	id        string
	provider  string
	user      UserModel
	csrfToken string
	expiresAt time.Time
}

// FromLoginCookie derives a Session. It reports false once the cookie's
// expiry is at or before now.
func FromLoginCookie(c LoginCookie, now time.Time) (*Session, bool) {
	exp := time.Unix(c.ExpiresAt, 0)
	if !exp.After(now) {
		return nil, false
	}
	return &Session{
		id:        c.ID,
		provider:  c.Provider,
		user:      c.User.Clone(),
		csrfToken: c.CSRFToken,
		expiresAt: exp,
	}, true
}

func (s *Session) ID() string           { return s.id }
func (s *Session) Provider() string     { return s.provider }
func (s *Session) User() UserModel      { return s.user.Clone() }
func (s *Session) CSRFToken() string    { return s.csrfToken }
func (s *Session) ExpiresAt() time.Time { return s.expiresAt }

// Remaining is the lifetime left at now, never negative.
func (s *Session) Remaining(now time.Time) time.Duration {
	d := s.expiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// RemainingSeconds is Remaining truncated to whole seconds.
func (s *Session) RemainingSeconds(now time.Time) int64 {
	return int64(s.Remaining(now) / time.Second)
}

// Decode decrypts a session cookie value. ok is false when the cookie is
// expired; err wraps ErrDecrypt when it cannot be opened.
func Decode(ctx context.Context, c Crypto, value string, now time.Time) (s *Session, ok bool, err error) {
	var lc LoginCookie
	if err := DecryptJSON(ctx, c, value, &lc); err != nil {
		return nil, false, err
	}
	s, ok = FromLoginCookie(lc, now)
	return s, ok, nil
}
