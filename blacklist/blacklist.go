// Package blacklist tracks revoked session ids until their sessions would
// have expired anyway.
package blacklist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/jmcleod/irongate/internal/workpool"
	"github.com/jmcleod/irongate/storage"
)

// Blacklist is consulted before a session cookie is trusted.
type Blacklist interface {
	// Invalidate revokes id for ttl. A non-positive ttl is a no-op since
	// the session has already expired.
	Invalidate(ctx context.Context, id string, ttl time.Duration) error
	IsInvalidated(ctx context.Context, id string) (bool, error)
}

// Cached is a write-through in-process cache in front of a
// storage.Repository. Entries from other gateway instances sharing the
// repository are found on a cache miss.
type Cached struct {
	repo     storage.Repository
	pool     *workpool.Pool
	clock    clockwork.Clock
	logger   *slog.Logger
	interval time.Duration

	mu    sync.RWMutex
	cache map[string]time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	loopDone chan struct{}
}

var _ Blacklist = (*Cached)(nil)

// Option configures a Cached blacklist.
type Option func(*Cached)

// WithPool runs repository I/O on p.
func WithPool(p *workpool.Pool) Option {
	return func(c *Cached) { c.pool = p }
}

// WithClock overrides the clock used for expiry and the sweeper.
func WithClock(clk clockwork.Clock) Option {
	return func(c *Cached) { c.clock = clk }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cached) { c.logger = l }
}

// WithCleanupInterval enables the background sweeper. Zero disables it.
func WithCleanupInterval(d time.Duration) Option {
	return func(c *Cached) { c.interval = d }
}

// New sweeps expired entries from repo, loads the rest into memory and
// starts the background sweeper if configured.
func New(ctx context.Context, repo storage.Repository, opts ...Option) (*Cached, error) {
	c := &Cached{
		repo:     repo,
		clock:    clockwork.NewRealClock(),
		logger:   slog.Default(),
		cache:    make(map[string]time.Time),
		stopCh:   make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if _, err := repo.DeleteExpired(ctx, c.clock.Now()); err != nil {
		return nil, fmt.Errorf("sweeping blacklist: %w", err)
	}
	err := repo.ForEach(ctx, func(id string, until time.Time) error {
		c.cache[id] = until
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading blacklist: %w", err)
	}

	if c.interval > 0 {
		go c.cleanupLoop()
	} else {
		close(c.loopDone)
	}
	return c, nil
}

func (c *Cached) Invalidate(ctx context.Context, id string, ttl time.Duration) error {
	if ttl <= 0 || id == "" {
		return nil
	}
	until := c.clock.Now().Add(ttl)
	_, err := workpool.Do(ctx, c.pool, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.repo.Put(ctx, id, until)
	})
	if err != nil {
		return fmt.Errorf("revoking session: %w", err)
	}
	c.mu.Lock()
	c.cache[id] = until
	c.mu.Unlock()
	return nil
}

func (c *Cached) IsInvalidated(ctx context.Context, id string) (bool, error) {
	now := c.clock.Now()

	c.mu.RLock()
	until, ok := c.cache[id]
	c.mu.RUnlock()
	if ok {
		return until.After(now), nil
	}

	until, err := workpool.Do(ctx, c.pool, func(ctx context.Context) (time.Time, error) {
		return c.repo.Get(ctx, id)
	})
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking blacklist: %w", err)
	}

	c.mu.Lock()
	c.cache[id] = until
	c.mu.Unlock()
	return until.After(now), nil
}

// Sweep drops entries whose revocation no longer matters.
func (c *Cached) Sweep(ctx context.Context) (int, error) {
	now := c.clock.Now()
	removed, err := c.repo.DeleteExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("sweeping blacklist: %w", err)
	}
	c.mu.Lock()
	for id, until := range c.cache {
		if until.Before(now) {
			delete(c.cache, id)
		}
	}
	c.mu.Unlock()
	return removed, nil
}

// Len reports the number of cached entries.
func (c *Cached) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

// Close stops the sweeper and closes the repository.
func (c *Cached) Close() error {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	<-c.loopDone
	return c.repo.Close()
}

func (c *Cached) cleanupLoop() {
	defer close(c.loopDone)
	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.Chan():
			removed, err := c.Sweep(context.Background())
			if err != nil {
				c.logger.Warn("blacklist sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				c.logger.Debug("blacklist swept", "removed", removed)
			}
		}
	}
}
