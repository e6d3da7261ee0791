// Package gateway is the HTTP face of irongate: the route-aware security
// pipeline in front of the reverse proxy, and the login, session and key
// endpoints.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jonboulle/clockwork"

	"github.com/jmcleod/irongate/blacklist"
	"github.com/jmcleod/irongate/config"
	"github.com/jmcleod/irongate/hooks"
	"github.com/jmcleod/irongate/internal/tracing"
	"github.com/jmcleod/irongate/internal/workpool"
	"github.com/jmcleod/irongate/keymgmt"
	"github.com/jmcleod/irongate/login"
	"github.com/jmcleod/irongate/session"
	"github.com/jmcleod/irongate/tokenmap"
)

// Deps are the long-lived collaborators the gateway does not own.
type Deps struct {
	Crypto    session.Crypto
	Blacklist blacklist.Blacklist
	Holder    *keymgmt.CurrentKeyHolder
	JWKS      keymgmt.JWKStore
}

// Gateway holds the request pipeline and the controllers.
type Gateway struct {
	cfg       config.MainConfig
	host      *url.URL
	routes    *RouteTable
	drivers   map[string]login.Driver
	cookies   *session.CookieFactory
	hooks     *hooks.Chain
	blacklist blacklist.Blacklist
	jwks      keymgmt.JWKStore
	trace     tracing.Settings
	proxy     *httputil.ReverseProxy

	routeChain      Handler
	controllerStack *Pipeline

	pool           *workpool.Pool
	clock          clockwork.Clock
	logger         *slog.Logger
	metrics        *Metrics
	providerClient *http.Client
	transport      http.RoundTripper
}

// Option configures the gateway.
type Option func(*Gateway)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithClock overrides the clock used for session expiry and renewal.
func WithClock(c clockwork.Clock) Option {
	return func(g *Gateway) { g.clock = c }
}

// WithPool shares a worker pool; by default one of workerPoolSize slots is
// created.
func WithPool(p *workpool.Pool) Option {
	return func(g *Gateway) { g.pool = p }
}

// WithMetrics reports to m instead of collectors registered under the
// "irongate" namespace.
func WithMetrics(m *Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithDriver installs a login driver for a configured provider instead of
// building one from its settings.
func WithDriver(provider string, d login.Driver) Option {
	return func(g *Gateway) { g.drivers[provider] = d }
}

// WithProviderClient sets the HTTP client used to reach login providers.
func WithProviderClient(c *http.Client) Option {
	return func(g *Gateway) { g.providerClient = c }
}

// WithUpstreamTransport sets the transport of the reverse proxy.
func WithUpstreamTransport(rt http.RoundTripper) Option {
	return func(g *Gateway) { g.transport = rt }
}

// New assembles the gateway from a validated configuration. Unknown CSRF
// strategies, mapping types, trace modes or login driver types are errors.
func New(ctx context.Context, cfg config.MainConfig, deps Deps, opts ...Option) (*Gateway, error) {
	if deps.Crypto == nil || deps.Blacklist == nil || deps.Holder == nil || deps.JWKS == nil {
		return nil, errors.New("gateway: crypto, blacklist, key holder and jwk store are required")
	}
	host, err := url.Parse(cfg.HostURI)
	if err != nil || host.Host == "" {
		return nil, fmt.Errorf("gateway: hostUri %q is not an absolute URL", cfg.HostURI)
	}
	mode := tracing.Mode(cfg.TraceProfile.Type)
	if !tracing.Known(mode) {
		return nil, fmt.Errorf("gateway: unknown trace profile type %q", cfg.TraceProfile.Type)
	}

	g := &Gateway{
		cfg:       cfg,
		host:      host,
		drivers:   map[string]login.Driver{},
		blacklist: deps.Blacklist,
		jwks:      deps.JWKS,
		trace: tracing.Settings{
			Mode:            mode,
			ForwardIncoming: cfg.TraceProfile.ForwardIncomingTrace,
			SendResponse:    cfg.TraceProfile.SendTraceResponse,
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	if g.clock == nil {
		g.clock = clockwork.NewRealClock()
	}
	if g.pool == nil {
		g.pool = workpool.New(cfg.WorkerPoolSize)
	}
	if g.metrics == nil {
		g.metrics = NewMetrics("irongate")
	}

	for name, p := range cfg.LoginProviders {
		if _, ok := g.drivers[name]; ok {
			continue
		}
		d, err := login.New(ctx, name, p, g.providerClient)
		if err != nil {
			return nil, err
		}
		g.drivers[name] = d
	}

	g.routes, err = NewRouteTable(cfg, tokenmap.Deps{
		Holder:  deps.Holder,
		JKU:     host.JoinPath(".well-known", "jwks").String(),
		HostURI: cfg.HostURI,
		Clock:   g.clock,
		Pool:    g.pool,
		Logger:  g.logger,
		Hits:    g.metrics.TokenHits,
		Misses:  g.metrics.TokenMisses,
	})
	if err != nil {
		return nil, err
	}

	g.cookies = &session.CookieFactory{
		Secure:          host.Scheme == "https",
		Crypto:          deps.Crypto,
		SessionDuration: time.Duration(cfg.SessionBehaviour.SessionDuration) * time.Second,
	}
	g.hooks = hooks.NewChain(
		&hooks.CSRFCookieHook{Cookies: g.cookies},
		&hooks.SessionCookieHook{Cookies: g.cookies, Clock: g.clock},
		&hooks.BlacklistHook{
			Blacklist: deps.Blacklist,
			Pool:      g.pool,
			Clock:     g.clock,
			Logger:    g.logger,
			Revoked:   g.metrics.SessionRevoked,
		},
	)

	g.proxy = g.newReverseProxy()
	g.routeChain = NewPipeline(g.routeStages()...).Then(g.proxyHandler)
	g.controllerStack = NewPipeline(g.controllerStages()...)
	return g, nil
}

// Handler returns the gateway's router.
func (g *Gateway) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(tracing.Middleware(g.trace))

	r.Group(func(r chi.Router) {
		r.Use(securityHeaders)
		r.Get("/auth/session", g.controller("session", g.SessionInfo))
		r.Get("/auth/logout", g.controller("logout", g.Logout))
		r.Get("/auth/{provider}/login", g.controller("login", g.Login))
		r.Get("/auth/{provider}/callback", g.controller("callback", g.Callback))
		r.Get("/.well-known/jwks", g.controller("jwks", g.JWKS))
		r.Get("/.well-known/jwks/{kid}", g.controller("jwks", g.JWK))
		mountDocs(r)
	})

	r.Handle("/*", http.HandlerFunc(g.serveRoute))
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// Routes exposes the resolved route table.
func (g *Gateway) Routes() *RouteTable {
	return g.routes
}

func (g *Gateway) controller(name string, h Handler) http.HandlerFunc {
	chain := g.controllerStack.Then(h)
	return func(w http.ResponseWriter, r *http.Request) {
		chain(w, r, &RouteContext{
			Name:       name,
			RequestURI: r.URL.RequestURI(),
			TraceID:    tracing.FromContext(r.Context()),
		})
	}
}

func (g *Gateway) serveRoute(w http.ResponseWriter, r *http.Request) {
	route := g.routes.Match(r.URL.Path)
	if route == nil {
		writeError(w, http.StatusNotFound, "no route matches the request")
		return
	}
	g.routeChain(w, r, &RouteContext{
		Name:        route.Name,
		Route:       route,
		Profile:     route.Profile,
		RequestURI:  r.URL.RequestURI(),
		UpstreamURI: route.Upstream(r.URL),
		TraceID:     tracing.FromContext(r.Context()),
	})
}
