// Package postgres implements storage.Repository on PostgreSQL, for gateways
// that share one blacklist across instances and already run a database.
//
// Entries live in a single table keyed by session id. Expired rows stay
// until DeleteExpired runs; Get reports them like any other entry and the
// caller compares the instant.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmcleod/irongate/storage"
)

// Store implements storage.Repository backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given pgx connection pool.
func NewRepository(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewRepositoryFromDSN creates a connection pool from a DSN string, ensures
// the schema exists, and returns a new Repository.
func NewRepositoryFromDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return NewRepository(pool), nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Put(ctx context.Context, id string, until time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO session_blacklist (session_id, until) VALUES ($1, $2)
		 ON CONFLICT (session_id) DO UPDATE SET until = EXCLUDED.until`,
		id, until.UTC())
	return err
}

func (s *Store) Get(ctx context.Context, id string) (time.Time, error) {
	var until time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT until FROM session_blacklist WHERE session_id = $1`, id).Scan(&until)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, fmt.Errorf("%s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return time.Time{}, err
	}
	return until, nil
}

func (s *Store) ForEach(ctx context.Context, fn func(id string, until time.Time) error) error {
	rows, err := s.pool.Query(ctx, `SELECT session_id, until FROM session_blacklist`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id    string
			until time.Time
		)
		if err := rows.Scan(&id, &until); err != nil {
			return err
		}
		if err := fn(id, until); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM session_blacklist WHERE until < $1`, now.UTC())
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
