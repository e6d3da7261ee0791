package gateway

import (
	"net/http"
	"net/http/httputil"
	"slices"

	"github.com/jmcleod/irongate/config"
	"github.com/jmcleod/irongate/internal/util"
	"github.com/jmcleod/irongate/session"
)

// newReverseProxy forwards to the upstream URI resolved for the request's
// route. Upstreams may not set the gateway's own cookies.
func (g *Gateway) newReverseProxy() *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			rc := routeContextFrom(pr.In.Context())
			u := *rc.UpstreamURI
			pr.Out.URL = &u
			pr.Out.Host = ""
			pr.SetXForwarded()
		},
		ModifyResponse: func(resp *http.Response) error {
			cookies := resp.Cookies()
			resp.Header.Del("Set-Cookie")
			for _, c := range cookies {
				if !slices.Contains(session.OwnedCookies, c.Name) {
					resp.Header.Add("Set-Cookie", c.String())
				}
			}
			if o, ok := resp.Request.Context().Value(overridesKey{}).(map[string]string); ok {
				applyResponseHeaders(resp.Header, o)
			}
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			rc := routeContextFrom(r.Context())
			g.logger.Warn("upstream request failed",
				"trace", rc.TraceID,
				"route", rc.Name,
				"upstream", util.SanitizeForLog(rc.UpstreamURI.String()),
				"error", err,
			)
			writeError(w, http.StatusBadGateway, "upstream unavailable")
		},
		Transport: g.transport,
	}
}

// applyResponseHeaders sets each override; the remove directive deletes the
// header instead.
func applyResponseHeaders(h http.Header, overrides map[string]string) {
	for name, value := range overrides {
		if value == config.ResponseHeaderRemoveDirective {
			h.Del(name)
			continue
		}
		h.Set(name, value)
	}
}

func (g *Gateway) proxyHandler(w http.ResponseWriter, r *http.Request, rc *RouteContext) {
	g.proxy.ServeHTTP(w, r.WithContext(withRouteContext(r.Context(), rc)))
}
