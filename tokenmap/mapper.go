// Package tokenmap turns the caller's session into the identity an upstream
// receives: nothing, plain attribute headers, or a signed token.
package tokenmap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jmcleod/irongate/config"
	"github.com/jmcleod/irongate/internal/workpool"
	"github.com/jmcleod/irongate/keymgmt"
	"github.com/jmcleod/irongate/session"
)

// Mapping type names accepted in userMapping.type.
const (
	TypeNone   = "no"
	TypeHeader = "header"
	TypeJWT    = "jwt"
)

var ErrUnknownMapping = errors.New("unknown user mapping type")

// Request is what a mapper knows about the request being forwarded.
type Request struct {
	Session  *session.Session
	RouteURL string
	HostURI  string
}

// UserMapper produces the headers that carry the caller's identity
// upstream. A nil session yields no headers.
type UserMapper interface {
	MapUser(ctx context.Context, r *http.Request, rq Request) (http.Header, error)
	// OwnedHeaders names the headers MapUser may set outside the gateway's
	// reserved X-Irongate- prefix. The gateway removes them from every
	// inbound request, with or without a session.
	OwnedHeaders() []string
}

// NoMapper forwards no identity.
type NoMapper struct{}

var _ UserMapper = NoMapper{}

func (NoMapper) MapUser(context.Context, *http.Request, Request) (http.Header, error) {
	return http.Header{}, nil
}

func (NoMapper) OwnedHeaders() []string { return nil }

// Deps are the shared collaborators mappers are built from.
type Deps struct {
	Holder  *keymgmt.CurrentKeyHolder
	JKU     string
	HostURI string
	Clock   clockwork.Clock
	Pool    *workpool.Pool
	Logger  *slog.Logger
	Hits    prometheus.Counter
	Misses  prometheus.Counter
}

// Known reports whether name is a supported mapping type.
func Known(name string) bool {
	switch name {
	case TypeNone, TypeHeader, TypeJWT:
		return true
	}
	return false
}

// New builds the mapper a security profile asks for. Invalid settings are
// returned as errors so the gateway refuses to start.
func New(m config.UserMapping, deps Deps) (UserMapper, error) {
	switch m.Type {
	case TypeNone, "":
		return NoMapper{}, nil
	case TypeHeader:
		return NewHeaderMapper(m.Settings.Mappings)
	case TypeJWT:
		signer, err := keymgmt.NewSigner(m.Settings.SignatureImplementation, m.Settings.SignatureSecret, deps.Holder, deps.JKU)
		if err != nil {
			return nil, err
		}
		return NewJWTMapper(m.Settings, signer, deps)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMapping, m.Type)
	}
}
