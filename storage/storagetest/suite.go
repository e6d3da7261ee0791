// Package storagetest holds the behaviour every storage.Repository backend
// must share.
package storagetest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/irongate/storage"
)

// Run exercises repo. The repository must start empty.
func Run(t *testing.T, repo storage.Repository) {
	t.Helper()
	now := time.Now()

	t.Run("PutGet", func(t *testing.T) {
		until := now.Add(time.Hour).Truncate(time.Second)
		require.NoError(t, repo.Put(t.Context(), "s1", until))
		got, err := repo.Get(t.Context(), "s1")
		require.NoError(t, err)
		assert.True(t, until.Equal(got), "expected %v, got %v", until, got)
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := repo.Get(t.Context(), "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("ForEach", func(t *testing.T) {
		require.NoError(t, repo.Put(t.Context(), "s2", now.Add(time.Hour)))
		seen := map[string]bool{}
		err := repo.ForEach(t.Context(), func(id string, _ time.Time) error {
			seen[id] = true
			return nil
		})
		require.NoError(t, err)
		assert.True(t, seen["s1"])
		assert.True(t, seen["s2"])
	})

	t.Run("DeleteExpired", func(t *testing.T) {
		require.NoError(t, repo.Put(t.Context(), "old", now.Add(-time.Minute)))
		_, err := repo.DeleteExpired(t.Context(), now)
		require.NoError(t, err)

		_, err = repo.Get(t.Context(), "old")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = repo.Get(t.Context(), "s1")
		assert.NoError(t, err)
	})
}
