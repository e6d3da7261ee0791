// Package storage provides the persistence abstraction behind the session
// blacklist: a set of revoked session ids, each with the instant until which
// the revocation matters.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get for ids that were never revoked or whose
// entry has already been swept.
var ErrNotFound = errors.New("not found")

// Repository stores revocation entries. Implementations must be safe for
// concurrent use and, for shared backends, across gateway instances.
type Repository interface {
	Put(ctx context.Context, id string, until time.Time) error
	Get(ctx context.Context, id string) (time.Time, error)
	ForEach(ctx context.Context, fn func(id string, until time.Time) error) error
	// DeleteExpired removes entries whose until instant is before now and
	// reports how many were removed.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	Close() error
}
