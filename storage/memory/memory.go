// Package memory provides a thread-safe in-memory implementation of storage.Repository.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmcleod/irongate/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
// Suitable for testing, demos, and single-process use cases.
type Repository struct {
	mu   sync.RWMutex
	data map[string]time.Time
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{data: make(map[string]time.Time)}
}

func (r *Repository) Put(_ context.Context, id string, until time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[id] = until
	return nil
}

func (r *Repository) Get(_ context.Context, id string) (time.Time, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	until, ok := r.data[id]
	if !ok {
		return time.Time{}, fmt.Errorf("%s: %w", id, storage.ErrNotFound)
	}
	return until, nil
}

func (r *Repository) ForEach(_ context.Context, fn func(id string, until time.Time) error) error {
	r.mu.RLock()
	snapshot := make(map[string]time.Time, len(r.data))
	for k, v := range r.data {
		snapshot[k] = v
	}
	r.mu.RUnlock()

	for id, until := range snapshot {
		if err := fn(id, until); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, until := range r.data {
		if until.Before(now) {
			delete(r.data, id)
			removed++
		}
	}
	return removed, nil
}

func (r *Repository) Close() error { return nil }
