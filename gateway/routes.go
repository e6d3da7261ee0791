package gateway

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar"

	"github.com/jmcleod/irongate/config"
	"github.com/jmcleod/irongate/csrf"
	"github.com/jmcleod/irongate/tokenmap"
)

// Route is a configured route resolved against its security profile.
type Route struct {
	Name    string
	Config  config.GatewayRoute
	Profile config.SecurityProfile
	// ProfileName is the route's type.
	ProfileName string

	base        string
	upstream    *url.URL
	rewrite     *regexp.Regexp
	replacement string
	csrf        csrf.Strategy
	mapper      tokenmap.UserMapper
}

// Upstream maps the inbound request URL onto the route's upstream. The
// query string is carried over unchanged.
func (rt *Route) Upstream(in *url.URL) *url.URL {
	out := *rt.upstream
	out.Path = rt.rewrite.ReplaceAllString(in.Path, rt.replacement)
	out.RawPath = ""
	out.RawQuery = in.RawQuery
	out.Fragment = ""
	return &out
}

// Allows reports whether method is in the profile's allowed methods.
func (rt *Route) Allows(method string) bool {
	return slices.ContainsFunc(rt.Profile.AllowedMethods, func(m string) bool { return strings.EqualFold(m, method) })
}

// RouteTable is built once at startup and read concurrently afterwards.
type RouteTable struct {
	routes []*Route
}

// NewRouteTable resolves every route. A mapper is built once per security
// profile so routes of the same type share its token cache.
func NewRouteTable(cfg config.MainConfig, deps tokenmap.Deps) (*RouteTable, error) {
	mappers := make(map[string]tokenmap.UserMapper, len(cfg.SecurityProfiles))
	strategies := make(map[string]csrf.Strategy, len(cfg.SecurityProfiles))
	for name, p := range cfg.SecurityProfiles {
		s, err := csrf.Lookup(p.CSRFProtection)
		if err != nil {
			return nil, fmt.Errorf("security profile %q: %w", name, err)
		}
		m, err := tokenmap.New(p.UserMapping, deps)
		if err != nil {
			return nil, fmt.Errorf("security profile %q: %w", name, err)
		}
		strategies[name] = s
		mappers[name] = m
	}

	t := &RouteTable{}
	for name, r := range cfg.Routes {
		profile, ok := cfg.SecurityProfiles[r.Type]
		if !ok {
			return nil, fmt.Errorf("route %q: no security profile named %q", name, r.Type)
		}
		upstream, err := url.Parse(r.URL)
		if err != nil {
			return nil, fmt.Errorf("route %q: url: %w", name, err)
		}
		rw := r.Rewrite.ForRoute(r)
		re, err := regexp.Compile(rw.Regex)
		if err != nil {
			return nil, fmt.Errorf("route %q: rewrite regex: %w", name, err)
		}
		t.routes = append(t.routes, &Route{
			Name:        name,
			Config:      r,
			Profile:     profile,
			ProfileName: r.Type,
			base:        r.PathBase(),
			upstream:    upstream,
			rewrite:     re,
			replacement: rw.Replacement,
			csrf:        strategies[r.Type],
			mapper:      mappers[r.Type],
		})
	}
	sort.Slice(t.routes, func(i, j int) bool {
		a, b := t.routes[i], t.routes[j]
		if len(a.base) != len(b.base) {
			return len(a.base) > len(b.base)
		}
		return a.Name < b.Name
	})
	return t, nil
}

// Match returns the most specific route for path, or nil.
func (t *RouteTable) Match(path string) *Route {
	for _, r := range t.routes {
		if ok, err := doublestar.Match(r.Config.Path, path); err == nil && ok {
			return r
		}
	}
	return nil
}

// Routes returns the routes in match order.
func (t *RouteTable) Routes() []*Route {
	return t.routes
}

// requestURL rebuilds the public URL of r from the host URI.
func requestURL(host *url.URL, r *http.Request) string {
	u := url.URL{Scheme: host.Scheme, Host: host.Host, Path: r.URL.Path, RawPath: r.URL.RawPath, RawQuery: r.URL.RawQuery}
	return u.String()
}
