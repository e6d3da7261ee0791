// Package workpool runs blocking work (cookie cryptography, blacklist I/O,
// signatures) on a bounded number of slots so request goroutines cannot pile
// up unbounded CPU or store load.
package workpool

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// DefaultSize is used when a pool is created with a non-positive size.
const DefaultSize = 64

// Pool bounds concurrent blocking tasks.
type Pool struct {
	sem *semaphore.Weighted
}

// New returns a pool with size slots.
func New(size int) *Pool {
	if size <= 0 {
		size = DefaultSize
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size))}
}

type result[T any] struct {
	val T
	err error
}

// Do runs fn on a pool slot and waits for its result. If ctx is done first
// Do returns ctx.Err(); the task still runs to completion and its result is
// dropped. fn receives ctx so request-scoped values such as the trace id
// cross the hand-off explicitly. A nil pool runs fn inline.
func Do[T any](ctx context.Context, p *Pool, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if p == nil {
		return fn(ctx)
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}

	done := make(chan result[T], 1)
	go func() {
		defer p.sem.Release(1)
		v, err := fn(ctx)
		done <- result[T]{val: v, err: err}
	}()

	select {
	case res := <-done:
		return res.val, res.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Go runs fn on a pool slot without waiting. The context is detached from
// cancellation so fire-and-forget work outlives the request that scheduled
// it, while still carrying its values.
func (p *Pool) Go(ctx context.Context, fn func(context.Context)) {
	ctx = context.WithoutCancel(ctx)
	if p == nil {
		go fn(ctx)
		return
	}
	go func() {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer p.sem.Release(1)
		fn(ctx)
	}()
}
