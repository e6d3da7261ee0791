package redis

import (
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/irongate/storage"
	"github.com/jmcleod/irongate/storage/storagetest"
)

func newStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	srv, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	s := NewRepository(client, "")
	t.Cleanup(func() { s.Close() })
	return s, srv
}

func TestRedisRepository(t *testing.T) {
	s, _ := newStore(t)
	storagetest.Run(t, s)
}

func TestRedisEntriesExpire(t *testing.T) {
	s, srv := newStore(t)
	require.NoError(t, s.Put(t.Context(), "sid", time.Now().Add(30*time.Second)))

	_, err := s.Get(t.Context(), "sid")
	require.NoError(t, err)

	srv.FastForward(31 * time.Second)
	_, err = s.Get(t.Context(), "sid")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDial(t *testing.T) {
	srv, err := miniredis.Run()
	require.NoError(t, err)
	defer srv.Close()

	s, err := Dial(t.Context(), srv.Addr(), "", 0)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Put(t.Context(), "sid", time.Now().Add(time.Minute)))
	assert.True(t, srv.Exists(DefaultKeyPrefix+"sid"))
}
