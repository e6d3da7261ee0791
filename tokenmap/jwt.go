package tokenmap

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"hash"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/jmcleod/irongate/config"
	"github.com/jmcleod/irongate/internal/tracing"
	"github.com/jmcleod/irongate/internal/util"
	"github.com/jmcleod/irongate/internal/workpool"
	"github.com/jmcleod/irongate/keymgmt"
	"github.com/jmcleod/irongate/session"
)

const (
	maxCachedTokens = 100_000
	jtiBytes        = 16
)

// JWTMapper forwards identity as a signed, short-lived token. Tokens are
// cached per (user, audience, provider) for their own lifetime, so a
// signature is only computed on a cache miss.
type JWTMapper struct {
	settings config.UserMappingSettings
	issuer   string
	lifetime time.Duration
	claims   map[string]*Template
	signer   keymgmt.Signer

	cache  *tokenCache
	group  singleflight.Group
	clock  clockwork.Clock
	pool   *workpool.Pool
	logger *slog.Logger
	hits   prometheus.Counter
	misses prometheus.Counter
}

var _ UserMapper = (*JWTMapper)(nil)

// NewJWTMapper validates settings and builds the mapper.
func NewJWTMapper(s config.UserMappingSettings, signer keymgmt.Signer, deps Deps) (*JWTMapper, error) {
	if s.HeaderName == "" {
		return nil, fmt.Errorf("jwt mapping: headerName is required")
	}
	if s.TokenLifetimeSeconds <= 0 {
		return nil, fmt.Errorf("jwt mapping: tokenLifetimeSeconds must be positive")
	}
	if s.Audience == "" || s.Issuer == "" {
		return nil, fmt.Errorf("jwt mapping: audience and issuer are required")
	}
	claims, err := parseAll(s.Mappings)
	if err != nil {
		return nil, fmt.Errorf("jwt mapping: %w", err)
	}

	m := &JWTMapper{
		settings: s,
		issuer:   s.Issuer,
		lifetime: time.Duration(s.TokenLifetimeSeconds) * time.Second,
		claims:   claims,
		signer:   signer,
		clock:    deps.Clock,
		pool:     deps.Pool,
		logger:   deps.Logger,
		hits:     deps.Hits,
		misses:   deps.Misses,
	}
	if m.issuer == config.IssuerHostURIPlaceholder {
		m.issuer = deps.HostURI
	}
	if m.clock == nil {
		m.clock = clockwork.NewRealClock()
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.cache = newTokenCache(m.lifetime, m.clock)
	return m, nil
}

func (m *JWTMapper) MapUser(ctx context.Context, _ *http.Request, rq Request) (http.Header, error) {
	h := http.Header{}
	if rq.Session == nil {
		return h, nil
	}
	audience := m.settings.Audience
	if audience == config.AudienceRouteURLPlaceholder {
		audience = rq.RouteURL
	}
	tok, err := m.Token(ctx, rq.Session, audience)
	if err != nil {
		return nil, err
	}
	h.Set(m.settings.HeaderName, m.settings.HeaderPrefix+tok)
	return h, nil
}

func (m *JWTMapper) OwnedHeaders() []string {
	return []string{http.CanonicalHeaderKey(m.settings.HeaderName)}
}

// Token returns the cached token for the session's identity and audience,
// signing a new one on a miss. Concurrent misses for the same key share one
// signature.
func (m *JWTMapper) Token(ctx context.Context, s *session.Session, audience string) (string, error) {
	d := DataFor(s)
	key := cacheKey(d, audience)
	if tok, ok := m.cache.get(key); ok {
		inc(m.hits)
		m.logger.Debug("downstream token from cache", "trace", tracing.FromContext(ctx))
		return tok, nil
	}
	inc(m.misses)

	// The signing work is detached from the first caller's cancellation so
	// other waiters on the same key are not failed by it.
	detached := context.WithoutCancel(ctx)
	ch := m.group.DoChan(key, func() (any, error) {
		if tok, ok := m.cache.get(key); ok {
			return tok, nil
		}
		signed, err := workpool.Do(detached, m.pool, func(ctx context.Context) (cachedToken, error) {
			return m.sign(ctx, d, audience)
		})
		if err != nil {
			return "", err
		}
		m.cache.put(key, signed)
		return signed.token, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// sign returns the token together with its exp claim, so the cache entry
// can never outlive the token.
func (m *JWTMapper) sign(ctx context.Context, d TemplateData, audience string) (cachedToken, error) {
	now := m.clock.Now()
	exp := time.Unix(now.Add(m.lifetime).Unix(), 0)
	jti, err := util.RandomBytes(jtiBytes)
	if err != nil {
		return cachedToken{}, err
	}

	claims := jwt.MapClaims{}
	for name, t := range m.claims {
		v, err := t.Render(d)
		if err != nil {
			return cachedToken{}, fmt.Errorf("rendering claim %q: %w", name, err)
		}
		claims[name] = v
	}
	claims["sub"] = d.ID
	claims["iss"] = m.issuer
	claims["aud"] = audience
	claims["iat"] = now.Unix()
	claims["nbf"] = now.Unix()
	claims["exp"] = exp.Unix()
	claims["jti"] = util.HexEncode(jti)
	claims["provider"] = d.Provider

	m.logger.Debug("signing downstream token", "trace", tracing.FromContext(ctx), "audience", audience)
	tok, err := m.signer.Sign(ctx, claims)
	if err != nil {
		return cachedToken{}, err
	}
	return cachedToken{token: tok, expiresAt: exp}, nil
}

func inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// cacheKey hashes the identity a token is bound to. Fields are length
// prefixed so distinct tuples never collide by concatenation.
func cacheKey(d TemplateData, audience string) string {
	h := sha256.New()
	writeField(h, d.ID)
	keys := make([]string, 0, len(d.Mappings))
	for k := range d.Mappings {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		writeField(h, k)
		writeField(h, d.Mappings[k])
	}
	writeField(h, audience)
	writeField(h, d.Provider)
	return util.HexEncode(h.Sum(nil))
}

func writeField(h hash.Hash, s string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(s)))
	h.Write(n[:])
	h.Write([]byte(s))
}

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// tokenCache bounds the number of tokens and drops them after their
// lifetime. The LRU TTL reclaims memory on the wall clock; expiresAt is the
// token's own exp and is checked against the injected clock.
type tokenCache struct {
	lru   *expirable.LRU[string, cachedToken]
	clock clockwork.Clock
}

func newTokenCache(lifetime time.Duration, clk clockwork.Clock) *tokenCache {
	return &tokenCache{
		lru:   expirable.NewLRU[string, cachedToken](maxCachedTokens, nil, lifetime),
		clock: clk,
	}
}

func (c *tokenCache) get(key string) (string, bool) {
	v, ok := c.lru.Get(key)
	if !ok {
		return "", false
	}
	if !c.clock.Now().Before(v.expiresAt) {
		c.lru.Remove(key)
		return "", false
	}
	return v.token, true
}

func (c *tokenCache) put(key string, t cachedToken) {
	c.lru.Add(key, t)
}
