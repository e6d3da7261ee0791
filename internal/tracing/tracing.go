// Package tracing attaches a correlation id to every request context and
// forwards it to upstreams. The W3C mode speaks traceparent/tracestate via
// the OpenTelemetry propagator; no spans are recorded.
package tracing

import (
	"context"
	"crypto/rand"
	"net/http"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/jmcleod/irongate/internal/uuid"
)

// Mode selects how correlation ids are read and written.
type Mode string

const (
	ModeW3C    Mode = "w3cTrace"
	ModeSimple Mode = "simpleTrace"
	ModeNone   Mode = "noTrace"
)

const (
	// CorrelationHeader carries the id in simpleTrace mode.
	CorrelationHeader = "X-Correlation-Id"
	// ResponseHeader echoes the W3C trace back to the caller.
	ResponseHeader = "traceresponse"

	traceParentHeader = "traceparent"
	maxCorrelationLen = 128
)

// Settings configures the middleware.
type Settings struct {
	Mode            Mode
	ForwardIncoming bool
	SendResponse    bool
}

// Known reports whether m names a supported mode.
func Known(m Mode) bool {
	switch m {
	case ModeW3C, ModeSimple, ModeNone:
		return true
	}
	return false
}

type contextKey int

const traceIDKey contextKey = iota

var propagator = propagation.TraceContext{}

// WithTraceID returns a copy of ctx carrying id.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

// FromContext returns the correlation id of the request, or "" outside a
// traced request.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey).(string)
	return id
}

// Middleware establishes the correlation id for each request before any
// other handler runs.
func Middleware(s Settings) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := Start(r, s)
			if s.SendResponse {
				writeResponseHeader(ctx, w.Header(), s.Mode)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Start derives the request's trace context from the inbound headers.
func Start(r *http.Request, s Settings) context.Context {
	ctx := r.Context()
	switch s.Mode {
	case ModeW3C:
		var sc trace.SpanContext
		if s.ForwardIncoming {
			extracted := propagator.Extract(ctx, propagation.HeaderCarrier(r.Header))
			if in := trace.SpanContextFromContext(extracted); in.IsValid() {
				sc = childOf(in.TraceID(), in.TraceState(), in.TraceFlags())
			}
		}
		if !sc.IsValid() {
			sc = childOf(newTraceID(), trace.TraceState{}, trace.FlagsSampled)
		}
		ctx = trace.ContextWithSpanContext(ctx, sc)
		return WithTraceID(ctx, sc.TraceID().String())
	case ModeSimple:
		id := r.Header.Get(CorrelationHeader)
		if !s.ForwardIncoming || id == "" || len(id) > maxCorrelationLen || !uuid.Valid(id) {
			id = uuid.New()
		}
		return WithTraceID(ctx, id)
	default:
		return WithTraceID(ctx, uuid.New())
	}
}

// Inject writes the trace of ctx into outbound upstream headers.
func Inject(ctx context.Context, h http.Header, mode Mode) {
	switch mode {
	case ModeW3C:
		propagator.Inject(ctx, propagation.HeaderCarrier(h))
	case ModeSimple:
		if id := FromContext(ctx); id != "" {
			h.Set(CorrelationHeader, id)
		}
	}
}

func writeResponseHeader(ctx context.Context, h http.Header, mode Mode) {
	switch mode {
	case ModeW3C:
		tmp := http.Header{}
		propagator.Inject(ctx, propagation.HeaderCarrier(tmp))
		if v := tmp.Get(traceParentHeader); v != "" {
			h.Set(ResponseHeader, v)
		}
	case ModeSimple:
		h.Set(CorrelationHeader, FromContext(ctx))
	}
}

func childOf(id trace.TraceID, state trace.TraceState, flags trace.TraceFlags) trace.SpanContext {
	var sid trace.SpanID
	_, _ = rand.Read(sid[:])
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    id,
		SpanID:     sid,
		TraceFlags: flags,
		TraceState: state,
	})
}

func newTraceID() trace.TraceID {
	var id trace.TraceID
	_, _ = rand.Read(id[:])
	return id
}
