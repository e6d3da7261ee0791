package tokenmap

import (
	"context"
	"net/http"
	"slices"
	"strings"
)

// UserHeaderPrefix prefixes the per-attribute identity headers.
const UserHeaderPrefix = "X-IRONGATE-USER-"

// HeaderMapper forwards identity as plain request headers. Upstreams must
// only be reachable through the gateway, since anyone else can forge them.
type HeaderMapper struct {
	custom map[string]*Template
	owned  []string
}

var _ UserMapper = (*HeaderMapper)(nil)

// NewHeaderMapper compiles optional custom headers (header name → template).
func NewHeaderMapper(mappings map[string]string) (*HeaderMapper, error) {
	custom, err := parseAll(mappings)
	if err != nil {
		return nil, err
	}
	m := &HeaderMapper{custom: custom}
	for name := range custom {
		if validHeaderKey(name) {
			m.owned = append(m.owned, http.CanonicalHeaderKey(name))
		}
	}
	slices.Sort(m.owned)
	return m, nil
}

// OwnedHeaders returns the custom header names. The per-attribute headers
// live under the reserved prefix.
func (m *HeaderMapper) OwnedHeaders() []string { return m.owned }

func (m *HeaderMapper) MapUser(_ context.Context, _ *http.Request, rq Request) (http.Header, error) {
	h := http.Header{}
	if rq.Session == nil {
		return h, nil
	}
	d := DataFor(rq.Session)
	h.Set(UserHeaderPrefix+"ID", headerValue(d.ID))
	for k, v := range d.Mappings {
		if !validHeaderKey(k) || strings.EqualFold(k, "id") {
			continue
		}
		h.Set(UserHeaderPrefix+k, headerValue(v))
	}
	for name, t := range m.custom {
		if !validHeaderKey(name) {
			continue
		}
		v, err := t.Render(d)
		if err != nil {
			return nil, err
		}
		h.Set(name, headerValue(v))
	}
	return h, nil
}

func headerValue(v string) string {
	return strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' || r == 0 {
			return ' '
		}
		return r
	}, v)
}

func validHeaderKey(k string) bool {
	if k == "" {
		return false
	}
	for _, r := range k {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}
