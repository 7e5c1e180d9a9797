// Package bbolt provides a BBolt-backed storage.RecordCache.
package bbolt

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/passvault/storage"
	"github.com/jmcleod/passvault/vault"
)

const (
	recordPrefix = "rec:"
	orderKey     = "idx:order"
	syncedAtKey  = "meta:synced_at"
)

// Cache implements storage.RecordCache backed by a BBolt database. Each
// scope gets its own bucket.
type Cache struct {
	db *bbolt.DB
}

var _ storage.RecordCache = (*Cache)(nil)

// NewCache returns a RecordCache backed by the given BBolt database.
func NewCache(db *bbolt.DB) *Cache {
	return &Cache{db: db}
}

// NewCacheFromFile opens a BBolt database at the given path and returns a
// new Cache. The file is created with 0600 permissions.
func NewCacheFromFile(path string, options *bbolt.Options) (*Cache, error) {
	if options == nil {
		options = &bbolt.Options{Timeout: time.Second}
	}
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt cache: %w", err)
	}
	return NewCache(db), nil
}

// Close closes the underlying BBolt database.
func (c *Cache) Close() error {
	return c.db.Close()
}

func recordKey(id string) []byte {
	return []byte(recordPrefix + id)
}

func (c *Cache) Put(scope string, records []vault.Record, syncedAt time.Time) error {
	if scope == "" {
		return storage.ErrInvalidScope
	}
	return c.db.Update(func(tx *bbolt.Tx) error {
		// Replace the whole bucket so records missing from the new list go away.
		if tx.Bucket([]byte(scope)) != nil {
			if err := tx.DeleteBucket([]byte(scope)); err != nil {
				return err
			}
		}
		b, err := tx.CreateBucket([]byte(scope))
		if err != nil {
			return err
		}

		order := make([]string, 0, len(records))
		for _, r := range records {
			data, err := json.Marshal(r)
			if err != nil {
				return err
			}
			if err := b.Put(recordKey(r.ID), data); err != nil {
				return err
			}
			order = append(order, r.ID)
		}

		orderData, err := json.Marshal(order)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(orderKey), orderData); err != nil {
			return err
		}
		stamp, err := syncedAt.UTC().MarshalText()
		if err != nil {
			return err
		}
		return b.Put([]byte(syncedAtKey), stamp)
	})
}

func (c *Cache) Load(scope string) (*storage.Snapshot, error) {
	snap := &storage.Snapshot{}
	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(scope))
		if b == nil {
			return fmt.Errorf("%s: %w", scope, storage.ErrNotFound)
		}

		var order []string
		if data := b.Get([]byte(orderKey)); data != nil {
			if err := json.Unmarshal(data, &order); err != nil {
				return fmt.Errorf("decoding record order: %w", err)
			}
		}
		if data := b.Get([]byte(syncedAtKey)); data != nil {
			if err := snap.SyncedAt.UnmarshalText(data); err != nil {
				return fmt.Errorf("decoding sync time: %w", err)
			}
		}

		snap.Records = make([]vault.Record, 0, len(order))
		for _, id := range order {
			data := b.Get(recordKey(id))
			if data == nil {
				continue
			}
			var r vault.Record
			if err := json.Unmarshal(data, &r); err != nil {
				return fmt.Errorf("decoding record %s: %w", id, err)
			}
			snap.Records = append(snap.Records, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (c *Cache) Get(scope, id string) (*vault.Record, error) {
	var r vault.Record
	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(scope))
		if b == nil {
			return fmt.Errorf("%s: %w", scope, storage.ErrNotFound)
		}
		data := b.Get(recordKey(id))
		if data == nil {
			return fmt.Errorf("%s/%s: %w", scope, id, storage.ErrNotFound)
		}
		return json.Unmarshal(data, &r)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Cache) Purge(scope string) error {
	if scope == "" {
		return nil
	}
	return c.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(scope)) == nil {
			return nil
		}
		return tx.DeleteBucket([]byte(scope))
	})
}

// Scopes lists every scope that has a cached snapshot.
func (c *Cache) Scopes() ([]string, error) {
	var scopes []string
	err := c.db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			scopes = append(scopes, string(name))
			return nil
		})
	})
	return scopes, err
}
