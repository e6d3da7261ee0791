package gateway

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/jmcleod/irongate/csrf"
	"github.com/jmcleod/irongate/hooks"
	"github.com/jmcleod/irongate/internal/apperr"
	"github.com/jmcleod/irongate/internal/tracing"
	"github.com/jmcleod/irongate/internal/util"
	"github.com/jmcleod/irongate/internal/workpool"
	"github.com/jmcleod/irongate/session"
	"github.com/jmcleod/irongate/tokenmap"
)

// Headers set on every proxied request.
const (
	HeaderProxy    = "X-PROXY"
	HeaderAPIKey   = "X-IRONGATE-ApiKey"
	HeaderStatus   = "X-IRONGATE-Status"
	HeaderProvider = "X-IRONGATE-Provider"

	ProxyName       = "irongate"
	StatusAuth      = "authenticated"
	StatusAnonymous = "anonymous"

	// reservedPrefix is stripped from inbound requests so callers cannot
	// impersonate the gateway.
	reservedPrefix = "X-Irongate-"

	maxCSRFBodyBytes = 10 << 20
)

// Stage orders. Controller requests run only https, logging and
// authentication.
const (
	OrderMethod          = 10
	OrderHTTPS           = 20
	OrderLogging         = 30
	OrderAuthentication  = 40
	OrderCSRF            = 50
	OrderCSRFBody        = 51
	OrderAccessControl   = 60
	OrderRenewal         = 70
	OrderDownstream      = 80
	OrderResponseHeaders = 81
	OrderForward         = 90
)

func (g *Gateway) routeStages() []Stage {
	return []Stage{
		g.methodStage(),
		g.httpsStage(),
		g.loggingStage(),
		g.authenticationStage(),
		g.csrfStage(),
		g.csrfBodyStage(),
		g.accessControlStage(),
		g.renewalStage(),
		g.downstreamStage(),
		g.responseHeaderStage(),
		g.forwardStage(),
	}
}

func (g *Gateway) controllerStages() []Stage {
	return []Stage{g.httpsStage(), g.loggingStage(), g.authenticationStage()}
}

func (g *Gateway) methodStage() Stage {
	return Stage{Order: OrderMethod, Name: "method", Wrap: func(next Handler) Handler {
		return func(w http.ResponseWriter, r *http.Request, rc *RouteContext) {
			if rc.Route != nil && !rc.Route.Allows(r.Method) {
				g.metrics.Blocked(BlockMethod)
				w.Header().Set("Allow", strings.ToUpper(strings.Join(rc.Profile.AllowedMethods, ", ")))
				writeError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			next(w, r, rc)
		}
	}}
}

func (g *Gateway) httpsStage() Stage {
	return Stage{Order: OrderHTTPS, Name: "https", Wrap: func(next Handler) Handler {
		return func(w http.ResponseWriter, r *http.Request, rc *RouteContext) {
			if g.host.Scheme == "https" && !requestIsSecure(r) {
				g.metrics.Blocked(BlockHTTPS)
				http.Redirect(w, r, requestURL(g.host, r), http.StatusMovedPermanently)
				return
			}
			next(w, r, rc)
		}
	}}
}

func (g *Gateway) loggingStage() Stage {
	return Stage{Order: OrderLogging, Name: "logging", Wrap: func(next Handler) Handler {
		return func(w http.ResponseWriter, r *http.Request, rc *RouteContext) {
			start := time.Now()
			g.logger.Info("request",
				"trace", rc.TraceID,
				"method", r.Method,
				"uri", util.SanitizeForLog(r.URL.RequestURI()),
				"route", rc.Name,
			)
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next(ww, r, rc)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			g.logger.Info("response",
				"trace", rc.TraceID,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
			)
			if rc.Route != nil {
				g.metrics.ObserveRequest(rc.Name, status)
			}
		}
	}}
}

func (g *Gateway) authenticationStage() Stage {
	return Stage{Order: OrderAuthentication, Name: "authentication", Wrap: func(next Handler) Handler {
		return func(w http.ResponseWriter, r *http.Request, rc *RouteContext) {
			if c, err := r.Cookie(session.CookieSession); err == nil && c.Value != "" {
				rc.Session = g.loadSession(r.Context(), rc.TraceID, c.Value)
			}
			next(w, r, rc)
		}
	}}
}

// loadSession returns the valid session carried by the cookie value, or nil.
// A failed blacklist lookup counts as no session.
func (g *Gateway) loadSession(ctx context.Context, trace, value string) *session.Session {
	now := g.clock.Now()
	s, err := workpool.Do(ctx, g.pool, func(ctx context.Context) (*session.Session, error) {
		s, ok, err := session.Decode(ctx, g.cookies.Crypto, value, now)
		if err != nil || !ok {
			return nil, err
		}
		return s, nil
	})
	if err != nil {
		g.logger.Info("session cookie rejected", "trace", trace, "error", err)
		return nil
	}
	if s == nil {
		return nil
	}
	revoked, err := g.blacklist.IsInvalidated(ctx, s.ID())
	if err != nil {
		g.logger.Warn("blacklist lookup failed, treating request as anonymous", "trace", trace, "error", err)
		return nil
	}
	if revoked {
		g.logger.Info("session is blacklisted", "trace", trace, "session", s.ID())
		return nil
	}
	return s
}

// csrfApplies reports whether the route's strategy has to look at r.
func (g *Gateway) csrfApplies(r *http.Request, rc *RouteContext, needsBody bool) bool {
	return rc.Route != nil &&
		rc.Session != nil &&
		rc.Route.csrf.NeedsRequestBody() == needsBody &&
		!csrf.IsSafeMethod(r.Method, rc.Profile.CSRFSafeMethods)
}

func (g *Gateway) csrfStage() Stage {
	return Stage{Order: OrderCSRF, Name: "csrf", Wrap: func(next Handler) Handler {
		return func(w http.ResponseWriter, r *http.Request, rc *RouteContext) {
			if g.csrfApplies(r, rc, false) && rc.Route.csrf.ShouldBlock(r, g.csrfSignals(rc), nil) {
				g.blockCSRF(w, rc)
				return
			}
			next(w, r, rc)
		}
	}}
}

func (g *Gateway) csrfBodyStage() Stage {
	return Stage{Order: OrderCSRFBody, Name: "csrf-body", Wrap: func(next Handler) Handler {
		return func(w http.ResponseWriter, r *http.Request, rc *RouteContext) {
			if !g.csrfApplies(r, rc, true) {
				next(w, r, rc)
				return
			}
			var body []byte
			if r.Body != nil {
				var err error
				body, err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxCSRFBodyBytes))
				r.Body.Close()
				if err != nil {
					var tooLarge *http.MaxBytesError
					if errors.As(err, &tooLarge) {
						g.metrics.Blocked(BlockBodyTooLarge)
						writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
						return
					}
					writeError(w, http.StatusBadRequest, "reading request body")
					return
				}
			}
			if rc.Route.csrf.ShouldBlock(r, g.csrfSignals(rc), body) {
				g.blockCSRF(w, rc)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			r.ContentLength = int64(len(body))
			next(w, r, rc)
		}
	}}
}

func (g *Gateway) csrfSignals(rc *RouteContext) csrf.Signals {
	return csrf.Signals{Session: rc.Session, HostURI: g.host}
}

func (g *Gateway) blockCSRF(w http.ResponseWriter, rc *RouteContext) {
	g.metrics.Blocked(BlockCSRF)
	g.logger.Info("request blocked by csrf protection", "trace", rc.TraceID, "route", rc.Name, "strategy", rc.Profile.CSRFProtection)
	writeError(w, http.StatusUnauthorized, "csrf validation failed")
}

func (g *Gateway) accessControlStage() Stage {
	return Stage{Order: OrderAccessControl, Name: "access-control", Wrap: func(next Handler) Handler {
		return func(w http.ResponseWriter, r *http.Request, rc *RouteContext) {
			if rc.Route == nil || rc.Session != nil || rc.Route.Config.AllowAnonymous {
				next(w, r, rc)
				return
			}
			if provider := rc.Route.Config.AutoLogin; provider != "" && r.Method == http.MethodGet {
				g.metrics.Blocked(BlockAutoLogin)
				target := "/auth/" + url.PathEscape(provider) + "/login?returnUrl=" + url.QueryEscape(requestURL(g.host, r))
				http.Redirect(w, r, target, http.StatusFound)
				return
			}
			g.metrics.Blocked(BlockUnauthorized)
			writeError(w, http.StatusUnauthorized, "authentication required")
		}
	}}
}

func (g *Gateway) renewalStage() Stage {
	return Stage{Order: OrderRenewal, Name: "renewal", Wrap: func(next Handler) Handler {
		return func(w http.ResponseWriter, r *http.Request, rc *RouteContext) {
			threshold := time.Duration(g.cfg.SessionBehaviour.RenewWhenLessThan) * time.Second
			if s := rc.Session; s != nil && threshold > 0 && s.Remaining(g.clock.Now()) < threshold {
				if err := g.hooks.Renew(r.Context(), w, &hooks.HookContext{Old: s}); err != nil {
					apperr.Log(r.Context(), g.logger, "session renewal failed", err, "trace", rc.TraceID)
				} else {
					g.logger.Debug("session renewed", "trace", rc.TraceID, "session", s.ID())
				}
			}
			next(w, r, rc)
		}
	}}
}

func (g *Gateway) downstreamStage() Stage {
	return Stage{Order: OrderDownstream, Name: "downstream-headers", Wrap: func(next Handler) Handler {
		return func(w http.ResponseWriter, r *http.Request, rc *RouteContext) {
			ctx := r.Context()
			out := r.Clone(ctx)
			h := out.Header
			for k := range h {
				if strings.HasPrefix(k, reservedPrefix) {
					h.Del(k)
				}
			}
			for _, k := range rc.Route.mapper.OwnedHeaders() {
				h.Del(k)
			}
			h.Set(HeaderProxy, ProxyName)
			if g.cfg.UpstreamAPIKey != "" {
				h.Set(HeaderAPIKey, g.cfg.UpstreamAPIKey)
			}
			if rc.Session != nil {
				h.Set(HeaderStatus, StatusAuth)
				h.Set(HeaderProvider, rc.Session.Provider())
			} else {
				h.Set(HeaderStatus, StatusAnonymous)
			}
			tracing.Inject(ctx, h, g.trace.Mode)

			mapped, err := rc.Route.mapper.MapUser(ctx, out, tokenmap.Request{
				Session:  rc.Session,
				RouteURL: rc.Route.Config.URL,
				HostURI:  g.cfg.HostURI,
			})
			if err != nil {
				apperr.Log(ctx, g.logger, "mapping user for upstream failed", err, "trace", rc.TraceID, "route", rc.Name)
				mapError(w, err)
				return
			}
			for k, vs := range mapped {
				h.Del(k)
				for _, v := range vs {
					h.Add(k, v)
				}
			}
			stripOwnedCookies(out)
			next(w, out, rc)
		}
	}}
}

// stripOwnedCookies removes the gateway's own cookies from r.
func stripOwnedCookies(r *http.Request) {
	cookies := r.Cookies()
	r.Header.Del("Cookie")
	for _, c := range cookies {
		if !slices.Contains(session.OwnedCookies, c.Name) {
			r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
		}
	}
}

type overridesKey struct{}

func (g *Gateway) responseHeaderStage() Stage {
	return Stage{Order: OrderResponseHeaders, Name: "response-headers", Wrap: func(next Handler) Handler {
		return func(w http.ResponseWriter, r *http.Request, rc *RouteContext) {
			if len(rc.Profile.ResponseHeaders) > 0 {
				r = r.WithContext(context.WithValue(r.Context(), overridesKey{}, rc.Profile.ResponseHeaders))
			}
			next(w, r, rc)
		}
	}}
}

func (g *Gateway) forwardStage() Stage {
	return Stage{Order: OrderForward, Name: "forward", Wrap: func(next Handler) Handler {
		return func(w http.ResponseWriter, r *http.Request, rc *RouteContext) {
			g.logger.Info("forwarding upstream",
				"trace", rc.TraceID,
				"route", rc.Name,
				"upstream", util.SanitizeForLog(rc.UpstreamURI.String()),
			)
			next(w, r, rc)
		}
	}}
}

func requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Forwarded")), "proto=https")
}
