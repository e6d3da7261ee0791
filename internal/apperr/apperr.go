// Package apperr classifies gateway failures by who has to act on them.
//
// A caller fault is bad input or client-held state and maps to a 4xx. An
// environment fault is misconfiguration or an unreachable dependency and maps
// to a 5xx the operator must fix. An invariant violation is a state the code
// asserts cannot happen and is always a defect.
package apperr

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
)

// Kind is the failure class of an Error.
type Kind int

const (
	KindCaller Kind = iota + 1
	KindEnvironment
	KindInvariant
)

func (k Kind) String() string {
	switch k {
	case KindCaller:
		return "caller"
	case KindEnvironment:
		return "environment"
	case KindInvariant:
		return "invariant"
	default:
		return "unknown"
	}
}

// Level is the log severity the kind calls for.
func (k Kind) Level() slog.Level {
	switch k {
	case KindCaller:
		return slog.LevelInfo
	case KindEnvironment:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// Error is a classified failure carrying the HTTP status to answer with.
type Error struct {
	Kind   Kind
	Status int
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Caller returns a caller-fault error. Status must be a 4xx code.
func Caller(status int, msg string, err error) *Error {
	if status < 400 || status > 499 {
		status = http.StatusBadRequest
	}
	return &Error{Kind: KindCaller, Status: status, Msg: msg, Err: err}
}

// Environment returns an environment-fault error answered with 500.
func Environment(msg string, err error) *Error {
	return &Error{Kind: KindEnvironment, Status: http.StatusInternalServerError, Msg: msg, Err: err}
}

// Invariant returns an invariant-violation error answered with 500.
func Invariant(msg string, err error) *Error {
	return &Error{Kind: KindInvariant, Status: http.StatusInternalServerError, Msg: msg, Err: err}
}

// KindOf reports the kind of err. Unclassified errors count as environment
// faults.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindEnvironment
}

// StatusOf reports the HTTP status err should be answered with.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return http.StatusInternalServerError
}

// Log writes err at the severity its kind calls for.
func Log(ctx context.Context, logger *slog.Logger, msg string, err error, attrs ...any) {
	if logger == nil {
		logger = slog.Default()
	}
	kind := KindOf(err)
	args := append([]any{"error", err, "kind", kind.String()}, attrs...)
	logger.Log(ctx, kind.Level(), msg, args...)
}
