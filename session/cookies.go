package session

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Cookie names owned by the gateway. They are stripped before requests are
// forwarded upstream.
const (
	CookieSession    = "session"
	CookieCSRF       = "csrf"
	CookieLoginState = "login-state"

	loginStatePath     = "/auth"
	loginStateLifetime = 10 * time.Minute
)

// OwnedCookies lists every cookie name the gateway issues.
var OwnedCookies = []string{CookieSession, CookieCSRF, CookieLoginState}

// CookieFactory builds the gateway's cookies. Secure follows the host URI's
// scheme.
type CookieFactory struct {
	Secure          bool
	Crypto          Crypto
	SessionDuration time.Duration
}

// Session returns the encrypted session cookie for lc.
func (f *CookieFactory) Session(ctx context.Context, lc LoginCookie) (*http.Cookie, error) {
	value, err := EncryptJSON(ctx, f.Crypto, lc)
	if err != nil {
		return nil, fmt.Errorf("sealing session cookie: %w", err)
	}
	c := &http.Cookie{
		Name:     CookieSession,
		Value:    value,
		Path:     "/",
		MaxAge:   int(f.SessionDuration / time.Second),
		HttpOnly: true,
		Secure:   f.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	// CSRF is enforced by the strategies, so cross-site top-level requests
	// may carry the session when served over https.
	if f.Secure {
		c.SameSite = http.SameSiteNoneMode
	}
	return c, nil
}

// CSRF returns the CSRF cookie. It is readable by page script so clients can
// echo it back.
func (f *CookieFactory) CSRF(token string) *http.Cookie {
	return &http.Cookie{
		Name:     CookieCSRF,
		Value:    token,
		Path:     "/",
		MaxAge:   int(f.SessionDuration / time.Second),
		HttpOnly: false,
		Secure:   f.Secure,
		SameSite: http.SameSiteStrictMode,
	}
}

// LoginState returns the encrypted login-flow cookie.
func (f *CookieFactory) LoginState(ctx context.Context, st LoginStateCookie) (*http.Cookie, error) {
	value, err := EncryptJSON(ctx, f.Crypto, st)
	if err != nil {
		return nil, fmt.Errorf("sealing login-state cookie: %w", err)
	}
	return &http.Cookie{
		Name:     CookieLoginState,
		Value:    value,
		Path:     loginStatePath,
		MaxAge:   int(loginStateLifetime / time.Second),
		HttpOnly: true,
		Secure:   f.Secure,
		SameSite: http.SameSiteLaxMode,
	}, nil
}

// ReadLoginState decrypts the login-flow cookie of r.
func (f *CookieFactory) ReadLoginState(ctx context.Context, r *http.Request) (LoginStateCookie, error) {
	var st LoginStateCookie
	c, err := r.Cookie(CookieLoginState)
	if err != nil {
		return st, err
	}
	err = DecryptJSON(ctx, f.Crypto, c.Value, &st)
	return st, err
}

// Expire returns a max-age-zero cookie that deletes name.
func (f *CookieFactory) Expire(name string) *http.Cookie {
	path := "/"
	if name == CookieLoginState {
		path = loginStatePath
	}
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		MaxAge:   -1,
		HttpOnly: name != CookieCSRF,
		Secure:   f.Secure,
	}
}
