// Package hooks runs the side effects of creating, renewing and destroying
// a session (cookies, revocation) so login and logout handlers only decide
// when a session changes, not what that entails.
package hooks

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jmcleod/irongate/blacklist"
	"github.com/jmcleod/irongate/internal/tracing"
	"github.com/jmcleod/irongate/internal/uuid"
	"github.com/jmcleod/irongate/internal/workpool"
	"github.com/jmcleod/irongate/session"
)

// HookContext is shared by every hook of one chain invocation. Earlier hooks
// fill fields later hooks read, e.g. the CSRF token the session binds to.
type HookContext struct {
	Provider  string
	User      session.UserModel
	Old       *session.Session
	CSRFToken string
}

// Hook reacts to session lifecycle events.
type Hook interface {
	Order() int
	Create(ctx context.Context, w http.ResponseWriter, hc *HookContext) error
	Renew(ctx context.Context, w http.ResponseWriter, hc *HookContext) error
	Destroy(ctx context.Context, w http.ResponseWriter, hc *HookContext) error
}

// Chain runs hooks by ascending Order and stops at the first error.
type Chain struct {
	hooks []Hook
}

// NewChain orders hooks once.
func NewChain(hooks ...Hook) *Chain {
	hs := append([]Hook(nil), hooks...)
	sort.SliceStable(hs, func(i, j int) bool { return hs[i].Order() < hs[j].Order() })
	return &Chain{hooks: hs}
}

func (c *Chain) Create(ctx context.Context, w http.ResponseWriter, hc *HookContext) error {
	return c.run(ctx, w, hc, Hook.Create)
}

// Renew requires hc.Old.
func (c *Chain) Renew(ctx context.Context, w http.ResponseWriter, hc *HookContext) error {
	if hc.Old == nil {
		return errors.New("renewing without a session")
	}
	return c.run(ctx, w, hc, Hook.Renew)
}

func (c *Chain) Destroy(ctx context.Context, w http.ResponseWriter, hc *HookContext) error {
	return c.run(ctx, w, hc, Hook.Destroy)
}

func (c *Chain) run(ctx context.Context, w http.ResponseWriter, hc *HookContext, fn func(Hook, context.Context, http.ResponseWriter, *HookContext) error) error {
	for _, h := range c.hooks {
		if err := fn(h, ctx, w, hc); err != nil {
			return err
		}
	}
	return nil
}

// CSRFCookieHook issues the csrf cookie and decides the token the session
// is bound to.
type CSRFCookieHook struct {
	Cookies *session.CookieFactory
}

var _ Hook = (*CSRFCookieHook)(nil)

func (h *CSRFCookieHook) Order() int { return 10 }

func (h *CSRFCookieHook) Create(_ context.Context, w http.ResponseWriter, hc *HookContext) error {
	hc.CSRFToken = uuid.New()
	http.SetCookie(w, h.Cookies.CSRF(hc.CSRFToken))
	return nil
}

// Renew keeps the existing token so open pages keep working.
func (h *CSRFCookieHook) Renew(_ context.Context, w http.ResponseWriter, hc *HookContext) error {
	hc.CSRFToken = hc.Old.CSRFToken()
	http.SetCookie(w, h.Cookies.CSRF(hc.CSRFToken))
	return nil
}

func (h *CSRFCookieHook) Destroy(_ context.Context, w http.ResponseWriter, _ *HookContext) error {
	http.SetCookie(w, h.Cookies.Expire(session.CookieCSRF))
	return nil
}

// SessionCookieHook issues the encrypted session cookie.
type SessionCookieHook struct {
	Cookies *session.CookieFactory
	Clock   clockwork.Clock
}

var _ Hook = (*SessionCookieHook)(nil)

func (h *SessionCookieHook) Order() int { return 20 }

func (h *SessionCookieHook) Create(ctx context.Context, w http.ResponseWriter, hc *HookContext) error {
	return h.issue(ctx, w, hc.Provider, hc.User, hc.CSRFToken)
}

// Renew starts a new session id for the same identity.
func (h *SessionCookieHook) Renew(ctx context.Context, w http.ResponseWriter, hc *HookContext) error {
	return h.issue(ctx, w, hc.Old.Provider(), hc.Old.User(), hc.CSRFToken)
}

func (h *SessionCookieHook) Destroy(_ context.Context, w http.ResponseWriter, _ *HookContext) error {
	http.SetCookie(w, h.Cookies.Expire(session.CookieSession))
	return nil
}

func (h *SessionCookieHook) issue(ctx context.Context, w http.ResponseWriter, provider string, user session.UserModel, csrfToken string) error {
	if csrfToken == "" {
		return errors.New("session cookie needs a csrf token")
	}
	c, err := h.Cookies.Session(ctx, session.LoginCookie{
		ID:        uuid.New(),
		ExpiresAt: h.clk().Now().Add(h.Cookies.SessionDuration).Unix(),
		Provider:  provider,
		User:      user,
		CSRFToken: csrfToken,
	})
	if err != nil {
		return err
	}
	http.SetCookie(w, c)
	return nil
}

func (h *SessionCookieHook) clk() clockwork.Clock {
	if h.Clock == nil {
		return clockwork.NewRealClock()
	}
	return h.Clock
}

// BlacklistHook revokes the destroyed session for the rest of its natural
// lifetime. The write runs in the background; failures are logged.
type BlacklistHook struct {
	Blacklist blacklist.Blacklist
	Pool      *workpool.Pool
	Clock     clockwork.Clock
	Logger    *slog.Logger
	Revoked   prometheus.Counter
	// done, when set, is called after each background write (tests).
	done func(error)
}

var _ Hook = (*BlacklistHook)(nil)

func (h *BlacklistHook) Order() int { return 30 }

func (h *BlacklistHook) Create(context.Context, http.ResponseWriter, *HookContext) error {
	return nil
}

func (h *BlacklistHook) Renew(context.Context, http.ResponseWriter, *HookContext) error {
	return nil
}

func (h *BlacklistHook) Destroy(ctx context.Context, _ http.ResponseWriter, hc *HookContext) error {
	if hc.Old == nil {
		return nil
	}
	clk := h.Clock
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id, ttl := hc.Old.ID(), hc.Old.Remaining(clk.Now())

	h.Pool.Go(ctx, func(ctx context.Context) {
		err := h.Blacklist.Invalidate(ctx, id, ttl)
		if err != nil {
			logger.Error("blacklisting session failed", "trace", tracing.FromContext(ctx), "error", err)
		} else if h.Revoked != nil {
			h.Revoked.Inc()
		}
		if h.done != nil {
			h.done(err)
		}
	})
	return nil
}
