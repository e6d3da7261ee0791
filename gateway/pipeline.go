package gateway

import (
	"context"
	"net/http"
	"net/url"
	"sort"

	"github.com/jmcleod/irongate/config"
	"github.com/jmcleod/irongate/session"
)

// RouteContext is the per-request state the stages share. It is created
// once per request and handed to every stage explicitly. Controller
// requests carry no Route.
type RouteContext struct {
	Name        string
	Route       *Route
	Profile     config.SecurityProfile
	RequestURI  string
	UpstreamURI *url.URL
	Session     *session.Session
	TraceID     string
}

// Handler is a pipeline step. It either writes a response and returns, or
// calls the next Handler.
type Handler func(w http.ResponseWriter, r *http.Request, rc *RouteContext)

// Stage is one ordered step of a pipeline.
type Stage struct {
	Order int
	Name  string
	Wrap  func(next Handler) Handler
}

// Pipeline composes stages by ascending Order.
type Pipeline struct {
	stages []Stage
}

// NewPipeline orders stages once.
func NewPipeline(stages ...Stage) *Pipeline {
	s := append([]Stage(nil), stages...)
	sort.SliceStable(s, func(i, j int) bool { return s[i].Order < s[j].Order })
	return &Pipeline{stages: s}
}

// Then returns final wrapped by every stage; the lowest order runs first.
func (p *Pipeline) Then(final Handler) Handler {
	h := final
	for i := len(p.stages) - 1; i >= 0; i-- {
		h = p.stages[i].Wrap(h)
	}
	return h
}

// Names lists the stage names in execution order.
func (p *Pipeline) Names() []string {
	out := make([]string, len(p.stages))
	for i, s := range p.stages {
		out[i] = s.Name
	}
	return out
}

type contextKey int

const routeContextKey contextKey = iota

func withRouteContext(ctx context.Context, rc *RouteContext) context.Context {
	return context.WithValue(ctx, routeContextKey, rc)
}

func routeContextFrom(ctx context.Context) *RouteContext {
	rc, _ := ctx.Value(routeContextKey).(*RouteContext)
	return rc
}
