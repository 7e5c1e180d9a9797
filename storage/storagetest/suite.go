// Package storagetest holds the behavioural suite every storage.RecordCache
// implementation must pass.
package storagetest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/passvault/storage"
	"github.com/jmcleod/passvault/vault"
)

// RunRecordCacheSuite runs the common suite against caches produced by
// newCache. Each subtest gets a fresh cache.
func RunRecordCacheSuite(t *testing.T, newCache func(t *testing.T) storage.RecordCache) {
	t.Helper()

	syncedAt := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	records := []vault.Record{
		{ID: "b", AppName: "GitHub", Username: "octocat", CreatedAt: vault.Timestamp{Time: syncedAt}},
		{ID: "a", AppName: "Gmail", LoginURL: "https://mail.google.com", CreatedAt: vault.Timestamp{Time: syncedAt}},
	}

	t.Run("PutAndLoadPreservesOrder", func(t *testing.T) {
		c := newCache(t)
		require.NoError(t, c.Put("https://api.example.com", records, syncedAt))

		snap, err := c.Load("https://api.example.com")
		require.NoError(t, err)
		require.Len(t, snap.Records, 2)
		assert.Equal(t, "b", snap.Records[0].ID)
		assert.Equal(t, "a", snap.Records[1].ID)
		assert.Equal(t, "octocat", snap.Records[0].Username)
		assert.True(t, syncedAt.Equal(snap.SyncedAt))
	})

	t.Run("LoadMissingScope", func(t *testing.T) {
		c := newCache(t)
		_, err := c.Load("https://nowhere.example.com")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("Get", func(t *testing.T) {
		c := newCache(t)
		require.NoError(t, c.Put("scope", records, syncedAt))

		rec, err := c.Get("scope", "a")
		require.NoError(t, err)
		assert.Equal(t, "Gmail", rec.AppName)

		_, err = c.Get("scope", "zzz")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		_, err = c.Get("other", "a")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("PutReplaces", func(t *testing.T) {
		c := newCache(t)
		require.NoError(t, c.Put("scope", records, syncedAt))
		require.NoError(t, c.Put("scope", records[:1], syncedAt.Add(time.Minute)))

		snap, err := c.Load("scope")
		require.NoError(t, err)
		require.Len(t, snap.Records, 1)
		assert.Equal(t, "b", snap.Records[0].ID)

		_, err = c.Get("scope", "a")
		assert.ErrorIs(t, err, storage.ErrNotFound, "records dropped by a newer list must not linger")
	})

	t.Run("PutEmptyList", func(t *testing.T) {
		c := newCache(t)
		require.NoError(t, c.Put("scope", nil, syncedAt))
		snap, err := c.Load("scope")
		require.NoError(t, err)
		assert.Empty(t, snap.Records)
	})

	t.Run("Isolation", func(t *testing.T) {
		c := newCache(t)
		input := append([]vault.Record(nil), records...)
		require.NoError(t, c.Put("scope", input, syncedAt))
		input[0].AppName = "mutated"

		snap, err := c.Load("scope")
		require.NoError(t, err)
		assert.Equal(t, "GitHub", snap.Records[0].AppName)

		snap.Records[0].AppName = "mutated again"
		again, err := c.Load("scope")
		require.NoError(t, err)
		assert.Equal(t, "GitHub", again.Records[0].AppName)
	})

	t.Run("Purge", func(t *testing.T) {
		c := newCache(t)
		require.NoError(t, c.Put("scope", records, syncedAt))
		require.NoError(t, c.Put("other", records, syncedAt))
		require.NoError(t, c.Purge("scope"))

		_, err := c.Load("scope")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = c.Load("other")
		assert.NoError(t, err, "purge is scoped")

		assert.NoError(t, c.Purge("never-cached"))
	})

	t.Run("EmptyScopeRejected", func(t *testing.T) {
		c := newCache(t)
		assert.ErrorIs(t, c.Put("", records, syncedAt), storage.ErrInvalidScope)
	})
}
