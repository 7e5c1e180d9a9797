package bbolt

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/jmcleod/passvault/storage"
	"github.com/jmcleod/passvault/storage/storagetest"
	"github.com/jmcleod/passvault/vault"
)

func newTestDB(t *testing.T) *bbolt.DB {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "passvault-cache-*.db")
	require.NoError(t, err)
	path := f.Name()
	require.NoError(t, f.Close())

	db, err := bbolt.Open(path, 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestBBoltCache(t *testing.T) {
	storagetest.RunRecordCacheSuite(t, func(t *testing.T) storage.RecordCache {
		return NewCache(newTestDB(t))
	})
}

func TestBBoltCachePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	syncedAt := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	c, err := NewCacheFromFile(path, nil)
	require.NoError(t, err)
	require.NoError(t, c.Put("https://api.example.com", []vault.Record{
		{ID: "r1", AppName: "GitHub"},
	}, syncedAt))
	require.NoError(t, c.Close())

	c, err = NewCacheFromFile(path, nil)
	require.NoError(t, err)
	defer c.Close()

	snap, err := c.Load("https://api.example.com")
	require.NoError(t, err)
	require.Len(t, snap.Records, 1)
	assert.Equal(t, "GitHub", snap.Records[0].AppName)
	assert.True(t, syncedAt.Equal(snap.SyncedAt))

	scopes, err := c.Scopes()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://api.example.com"}, scopes)
}

func TestBBoltCacheFilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	c, err := NewCacheFromFile(path, nil)
	require.NoError(t, err)
	defer c.Close()

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}
