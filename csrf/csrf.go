// Package csrf holds the gateway's CSRF validation strategies. A strategy
// decides, from the request and the caller's session, whether a mutating
// request must be blocked. Requests without a session are never blocked
// here; access control handles anonymous callers.
package csrf

import (
	"bytes"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/jmcleod/irongate/session"
)

// Strategy names accepted in securityProfile.csrfProtection.
const (
	NameNone                   = "none"
	NameDoubleSubmitCookie     = "double-submit-cookie"
	NameDoubleSubmitCookieBody = "double-submit-cookie-body"
	NameSameSiteStrictCookie   = "samesite-strict-cookie"
)

const (
	// TokenHeader carries the echoed token.
	TokenHeader = "X-CSRF-TOKEN"
	// TokenParameter carries the echoed token in the query string or a form.
	TokenParameter = "CSRFToken"
)

var ErrUnknownStrategy = errors.New("unknown csrf strategy")

// Signals are the per-request facts a strategy decides on.
type Signals struct {
	Session *session.Session
	HostURI *url.URL
}

// Strategy decides whether an unsafe request is a forgery.
type Strategy interface {
	// NeedsRequestBody reports whether ShouldBlock must be given the body.
	NeedsRequestBody() bool
	ShouldBlock(r *http.Request, s Signals, body []byte) bool
}

var registry = map[string]Strategy{
	NameNone:                   None{},
	NameDoubleSubmitCookie:     DoubleSubmitCookie{},
	NameDoubleSubmitCookieBody: DoubleSubmitCookieBody{},
	NameSameSiteStrictCookie:   SameSiteStrictCookie{},
}

// Lookup resolves a configured strategy name.
func Lookup(name string) (Strategy, error) {
	s, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
	return s, nil
}

// IsSafeMethod reports whether method is exempt from CSRF checks.
func IsSafeMethod(method string, safe []string) bool {
	return slices.ContainsFunc(safe, func(m string) bool { return strings.EqualFold(m, method) })
}

// None never blocks.
type None struct{}

func (None) NeedsRequestBody() bool                          { return false }
func (None) ShouldBlock(*http.Request, Signals, []byte) bool { return false }

// DoubleSubmitCookie requires the session's token to be echoed in the
// X-CSRF-TOKEN header or the CSRFToken query parameter.
type DoubleSubmitCookie struct{}

func (DoubleSubmitCookie) NeedsRequestBody() bool { return false }

func (DoubleSubmitCookie) ShouldBlock(r *http.Request, s Signals, _ []byte) bool {
	if s.Session == nil {
		return false
	}
	return !tokensEqual(submittedToken(r), s.Session.CSRFToken())
}

// DoubleSubmitCookieBody also accepts the token anywhere in the request
// body, for clients that post plain forms.
type DoubleSubmitCookieBody struct{}

func (DoubleSubmitCookieBody) NeedsRequestBody() bool { return true }

func (DoubleSubmitCookieBody) ShouldBlock(r *http.Request, s Signals, body []byte) bool {
	if s.Session == nil {
		return false
	}
	want := s.Session.CSRFToken()
	if want != "" && bytes.Contains(body, []byte(want)) {
		return false
	}
	return !tokensEqual(submittedToken(r), want)
}

// SameSiteStrictCookie compares the csrf cookie with the session's token.
// The browser withholds SameSite=Strict cookies from cross-site requests;
// the Origin/Referer check covers browsers that do not.
type SameSiteStrictCookie struct{}

func (SameSiteStrictCookie) NeedsRequestBody() bool { return false }

func (SameSiteStrictCookie) ShouldBlock(r *http.Request, s Signals, _ []byte) bool {
	if s.Session == nil {
		return false
	}
	if originMismatch(r, s.HostURI) {
		return true
	}
	c, err := r.Cookie(session.CookieCSRF)
	if err != nil {
		return true
	}
	return !tokensEqual(c.Value, s.Session.CSRFToken())
}

// originMismatch reports a cross-origin request. Origin is preferred, with
// Referer as a fallback when Origin is absent or "null". A request carrying
// neither, or an unparseable one, is not judged here.
func originMismatch(r *http.Request, host *url.URL) bool {
	if host == nil {
		return false
	}
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" {
		origin = r.Header.Get("Referer")
	}
	if origin == "" || origin == "null" {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	return !strings.EqualFold(u.Scheme, host.Scheme) || !strings.EqualFold(u.Host, host.Host)
}

func submittedToken(r *http.Request) string {
	if v := r.Header.Get(TokenHeader); v != "" {
		return v
	}
	return r.URL.Query().Get(TokenParameter)
}

// tokensEqual is a constant-time comparison; an empty token never matches.
func tokensEqual(got, want string) bool {
	if got == "" || want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
