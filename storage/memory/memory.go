// Package memory provides a thread-safe in-memory implementation of storage.RecordCache.
package memory

import (
	"fmt"
	"sync"
	"time"

	"github.com/jmcleod/passvault/storage"
	"github.com/jmcleod/passvault/vault"
)

// Cache is a thread-safe in-memory RecordCache. Contents are lost when the
// process exits.
type Cache struct {
	mu   sync.RWMutex
	data map[string]*storage.Snapshot
}

var _ storage.RecordCache = (*Cache)(nil)

// NewCache creates an empty in-memory Cache.
func NewCache() *Cache {
	return &Cache{data: make(map[string]*storage.Snapshot)}
}

func cloneSnapshot(s *storage.Snapshot) *storage.Snapshot {
	return &storage.Snapshot{
		Records:  append([]vault.Record(nil), s.Records...),
		SyncedAt: s.SyncedAt,
	}
}

func (c *Cache) Put(scope string, records []vault.Record, syncedAt time.Time) error {
	if scope == "" {
		return storage.ErrInvalidScope
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[scope] = cloneSnapshot(&storage.Snapshot{Records: records, SyncedAt: syncedAt})
	return nil
}

func (c *Cache) Load(scope string) (*storage.Snapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.data[scope]
	if !ok {
		return nil, fmt.Errorf("%s: %w", scope, storage.ErrNotFound)
	}
	return cloneSnapshot(s), nil
}

func (c *Cache) Get(scope, id string) (*vault.Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.data[scope]
	if !ok {
		return nil, fmt.Errorf("%s: %w", scope, storage.ErrNotFound)
	}
	for _, r := range s.Records {
		if r.ID == id {
			rec := r
			return &rec, nil
		}
	}
	return nil, fmt.Errorf("%s/%s: %w", scope, id, storage.ErrNotFound)
}

func (c *Cache) Purge(scope string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, scope)
	return nil
}
