package blacklist

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/irongate/internal/workpool"
	"github.com/jmcleod/irongate/storage"
	boltstore "github.com/jmcleod/irongate/storage/bbolt"
	"github.com/jmcleod/irongate/storage/memory"
	redisstore "github.com/jmcleod/irongate/storage/redis"
)

func TestInvalidateAndExpire(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Now())
	bl, err := New(t.Context(), memory.NewRepository(), WithClock(clk), WithPool(workpool.New(2)))
	require.NoError(t, err)
	defer bl.Close()

	revoked, err := bl.IsInvalidated(t.Context(), "sid")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, bl.Invalidate(t.Context(), "sid", time.Minute))
	revoked, err = bl.IsInvalidated(t.Context(), "sid")
	require.NoError(t, err)
	assert.True(t, revoked)

	clk.Advance(2 * time.Minute)
	revoked, err = bl.IsInvalidated(t.Context(), "sid")
	require.NoError(t, err)
	assert.False(t, revoked, "revocation lapses with the session's natural expiry")

	removed, err := bl.Sweep(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, bl.Len())
}

func TestNonPositiveTTLIsNoop(t *testing.T) {
	repo := memory.NewRepository()
	bl, err := New(t.Context(), repo)
	require.NoError(t, err)
	defer bl.Close()

	require.NoError(t, bl.Invalidate(t.Context(), "sid", 0))
	_, err = repo.Get(t.Context(), "sid")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestWarmsFromRepository(t *testing.T) {
	repo := memory.NewRepository()
	now := time.Now()
	require.NoError(t, repo.Put(t.Context(), "live", now.Add(time.Hour)))
	require.NoError(t, repo.Put(t.Context(), "stale", now.Add(-time.Hour)))

	bl, err := New(t.Context(), repo)
	require.NoError(t, err)
	defer bl.Close()

	assert.Equal(t, 1, bl.Len(), "stale entries are swept at startup")
	revoked, err := bl.IsInvalidated(t.Context(), "live")
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestBoltBackedSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bl.db")

	repo, err := boltstore.NewRepositoryFromFile(path, nil)
	require.NoError(t, err)
	bl, err := New(t.Context(), repo)
	require.NoError(t, err)
	require.NoError(t, bl.Invalidate(t.Context(), "sid", time.Hour))
	require.NoError(t, bl.Close())

	repo, err = boltstore.NewRepositoryFromFile(path, nil)
	require.NoError(t, err)
	bl, err = New(t.Context(), repo)
	require.NoError(t, err)
	defer bl.Close()

	revoked, err := bl.IsInvalidated(t.Context(), "sid")
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestSharedRedisAcrossInstances(t *testing.T) {
	srv, err := miniredis.Run()
	require.NoError(t, err)
	defer srv.Close()

	newInstance := func() *Cached {
		repo := redisstore.NewRepository(goredis.NewClient(&goredis.Options{Addr: srv.Addr()}), "")
		bl, err := New(t.Context(), repo)
		require.NoError(t, err)
		t.Cleanup(func() { bl.Close() })
		return bl
	}
	a, b := newInstance(), newInstance()

	require.NoError(t, a.Invalidate(t.Context(), "sid", time.Hour))
	revoked, err := b.IsInvalidated(t.Context(), "sid")
	require.NoError(t, err)
	assert.True(t, revoked, "instance b sees a revocation made by instance a")
}

type failingRepo struct {
	storage.Repository
}

func (failingRepo) Get(context.Context, string) (time.Time, error) {
	return time.Time{}, errors.New("disk on fire")
}

func TestLookupErrorsSurface(t *testing.T) {
	bl, err := New(t.Context(), failingRepo{memory.NewRepository()})
	require.NoError(t, err)
	defer bl.Close()

	_, err = bl.IsInvalidated(t.Context(), "sid")
	assert.Error(t, err)
}

func TestCleanupLoopStops(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Now())
	repo := memory.NewRepository()
	bl, err := New(t.Context(), repo, WithClock(clk), WithCleanupInterval(time.Hour))
	require.NoError(t, err)

	require.NoError(t, bl.Invalidate(t.Context(), "sid", time.Second))
	require.NoError(t, clk.BlockUntilContext(t.Context(), 1))
	clk.Advance(30 * time.Minute)
	assert.Equal(t, 1, bl.Len(), "no sweep before the interval")

	clk.Advance(30 * time.Minute)
	assert.Eventually(t, func() bool { return bl.Len() == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, bl.Close())
	require.NoError(t, bl.Close(), "Close is idempotent")
}
