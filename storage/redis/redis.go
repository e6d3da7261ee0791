// Package redis provides a Redis-backed revocation repository shared by
// every instance of a horizontally scaled gateway. Entries expire through
// Redis TTLs, so sweeping is a no-op.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/jmcleod/irongate/storage"
)

// DefaultKeyPrefix namespaces blacklist keys.
const DefaultKeyPrefix = "irongate:blacklist:"

// Store implements storage.Repository on Redis.
type Store struct {
	client goredis.UniversalClient
	prefix string
}

var _ storage.Repository = (*Store)(nil)

// NewRepository wraps an existing client.
func NewRepository(client goredis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Store{client: client, prefix: prefix}
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return NewRepository(client, ""), nil
}

func (s *Store) Put(ctx context.Context, id string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	return s.client.Set(ctx, s.prefix+id, until.Unix(), ttl).Err()
}

func (s *Store) Get(ctx context.Context, id string) (time.Time, error) {
	secs, err := s.client.Get(ctx, s.prefix+id).Int64()
	if errors.Is(err, goredis.Nil) {
		return time.Time{}, fmt.Errorf("%s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("reading blacklist entry: %w", err)
	}
	return time.Unix(secs, 0), nil
}

func (s *Store) ForEach(ctx context.Context, fn func(id string, until time.Time) error) error {
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 256).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		id := key[len(s.prefix):]
		until, err := s.Get(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if err := fn(id, until); err != nil {
			return err
		}
	}
	return iter.Err()
}

func (s *Store) DeleteExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
