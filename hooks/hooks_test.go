package hooks

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/irongate/blacklist"
	"github.com/jmcleod/irongate/internal/workpool"
	"github.com/jmcleod/irongate/session"
	"github.com/jmcleod/irongate/storage/memory"
)

type fixture struct {
	chain     *Chain
	cookies   *session.CookieFactory
	clock     *clockwork.FakeClock
	blacklist *blacklist.Cached
	written   chan error
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, err := session.NewRandomKey()
	require.NoError(t, err)
	crypto, err := session.NewJWECrypto(key)
	require.NoError(t, err)

	// Cookie and token expiries are whole seconds.
	clk := clockwork.NewFakeClockAt(time.Now().Truncate(time.Second))
	bl, err := blacklist.New(t.Context(), memory.NewRepository(), blacklist.WithClock(clk))
	require.NoError(t, err)
	t.Cleanup(func() { bl.Close() })

	f := &fixture{
		cookies:   &session.CookieFactory{Secure: true, Crypto: crypto, SessionDuration: time.Hour},
		clock:     clk,
		blacklist: bl,
		written:   make(chan error, 1),
	}
	bh := &BlacklistHook{Blacklist: bl, Pool: workpool.New(2), Clock: clk, done: func(err error) { f.written <- err }}
	// Deliberately out of order; NewChain sorts.
	f.chain = NewChain(bh, &SessionCookieHook{Cookies: f.cookies, Clock: clk}, &CSRFCookieHook{Cookies: f.cookies})
	return f
}

func cookiesByName(rec *httptest.ResponseRecorder) map[string]*http.Cookie {
	out := map[string]*http.Cookie{}
	for _, c := range rec.Result().Cookies() {
		out[c.Name] = c
	}
	return out
}

func (f *fixture) decode(t *testing.T, c *http.Cookie) *session.Session {
	t.Helper()
	s, ok, err := session.Decode(t.Context(), f.cookies.Crypto, c.Value, f.clock.Now())
	require.NoError(t, err)
	require.True(t, ok)
	return s
}

func TestCreateBindsSessionToCSRFToken(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	user := session.NewUserModel("alice")
	user.Set("email", "alice@example.com")

	hc := &HookContext{Provider: "local", User: user}
	require.NoError(t, f.chain.Create(t.Context(), rec, hc))

	cs := cookiesByName(rec)
	require.Contains(t, cs, session.CookieCSRF)
	require.Contains(t, cs, session.CookieSession)
	assert.False(t, cs[session.CookieCSRF].HttpOnly)
	assert.True(t, cs[session.CookieSession].HttpOnly)
	assert.NotEmpty(t, hc.CSRFToken)
	assert.Equal(t, hc.CSRFToken, cs[session.CookieCSRF].Value)

	s := f.decode(t, cs[session.CookieSession])
	assert.Equal(t, hc.CSRFToken, s.CSRFToken())
	assert.Equal(t, "local", s.Provider())
	assert.Equal(t, "alice@example.com", s.User().Get("email"))
	assert.Equal(t, f.clock.Now().Add(time.Hour).Unix(), s.ExpiresAt().Unix())
}

func TestSessionExpiryIsWholeSeconds(t *testing.T) {
	f := newFixture(t)
	f.clock.Advance(900 * time.Millisecond)
	rec := httptest.NewRecorder()
	require.NoError(t, f.chain.Create(t.Context(), rec, &HookContext{Provider: "local", User: session.NewUserModel("alice")}))

	s := f.decode(t, cookiesByName(rec)[session.CookieSession])
	assert.Equal(t, f.clock.Now().Add(time.Hour).Unix(), s.ExpiresAt().Unix())
	assert.Zero(t, s.ExpiresAt().Nanosecond())
	assert.EqualValues(t, 3599, s.RemainingSeconds(f.clock.Now()), "the sub-second part is not carried")
}

func TestRenewKeepsTokenAndIdentity(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	require.NoError(t, f.chain.Create(t.Context(), rec, &HookContext{Provider: "local", User: session.NewUserModel("alice")}))
	old := f.decode(t, cookiesByName(rec)[session.CookieSession])

	f.clock.Advance(50 * time.Minute)
	rec = httptest.NewRecorder()
	hc := &HookContext{Old: old}
	require.NoError(t, f.chain.Renew(t.Context(), rec, hc))

	cs := cookiesByName(rec)
	renewed := f.decode(t, cs[session.CookieSession])
	assert.Equal(t, old.CSRFToken(), renewed.CSRFToken())
	assert.Equal(t, old.CSRFToken(), cs[session.CookieCSRF].Value)
	assert.Equal(t, "alice", renewed.User().ID)
	assert.NotEqual(t, old.ID(), renewed.ID())
	assert.True(t, renewed.ExpiresAt().After(old.ExpiresAt()))
}

func TestRenewWithoutSessionFails(t *testing.T) {
	f := newFixture(t)
	assert.Error(t, f.chain.Renew(t.Context(), httptest.NewRecorder(), &HookContext{}))
}

func TestDestroyExpiresCookiesAndBlacklists(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	require.NoError(t, f.chain.Create(t.Context(), rec, &HookContext{Provider: "local", User: session.NewUserModel("alice")}))
	old := f.decode(t, cookiesByName(rec)[session.CookieSession])

	rec = httptest.NewRecorder()
	require.NoError(t, f.chain.Destroy(t.Context(), rec, &HookContext{Old: old}))
	cs := cookiesByName(rec)
	assert.Equal(t, -1, cs[session.CookieSession].MaxAge)
	assert.Equal(t, -1, cs[session.CookieCSRF].MaxAge)

	select {
	case err := <-f.written:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("blacklist write did not complete")
	}
	revoked, err := f.blacklist.IsInvalidated(t.Context(), old.ID())
	require.NoError(t, err)
	assert.True(t, revoked)

	// Revocation lasts only as long as the session would have.
	f.clock.Advance(time.Hour)
	revoked, err = f.blacklist.IsInvalidated(t.Context(), old.ID())
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestDestroyWithoutSessionOnlyClearsCookies(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	require.NoError(t, f.chain.Destroy(t.Context(), rec, &HookContext{}))
	assert.Len(t, rec.Result().Cookies(), 2)
	select {
	case <-f.written:
		t.Fatal("nothing should be blacklisted")
	case <-time.After(20 * time.Millisecond):
	}
}

type recordingHook struct {
	order int
	log   *[]int
	err   error
}

func (h recordingHook) Order() int { return h.order }
func (h recordingHook) Create(context.Context, http.ResponseWriter, *HookContext) error {
	*h.log = append(*h.log, h.order)
	return h.err
}
func (h recordingHook) Renew(context.Context, http.ResponseWriter, *HookContext) error   { return nil }
func (h recordingHook) Destroy(context.Context, http.ResponseWriter, *HookContext) error { return nil }

func TestChainOrderAndShortCircuit(t *testing.T) {
	var log []int
	boom := errors.New("boom")
	c := NewChain(
		recordingHook{order: 30, log: &log},
		recordingHook{order: 10, log: &log},
		recordingHook{order: 20, log: &log, err: boom},
	)
	err := c.Create(t.Context(), httptest.NewRecorder(), &HookContext{})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []int{10, 20}, log)
}
