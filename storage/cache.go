// Package storage provides the local cache of credential record metadata.
//
// The cache only ever holds what the list endpoint returns: names, URLs,
// usernames and timestamps. Passwords and session tokens are never cached.
package storage

import (
	"errors"
	"time"

	"github.com/jmcleod/passvault/vault"
)

var (
	// ErrNotFound is returned when a scope or record has not been cached.
	ErrNotFound = errors.New("not found")
	// ErrInvalidScope is returned for an empty scope.
	ErrInvalidScope = errors.New("invalid cache scope")
)

// Snapshot is the last record list fetched for a scope.
type Snapshot struct {
	Records  []vault.Record `json:"records"`
	SyncedAt time.Time      `json:"synced_at"`
}

// RecordCache stores one record list per scope. A scope identifies the
// service the records came from (its base URL).
type RecordCache interface {
	// Put replaces the cached list for scope.
	Put(scope string, records []vault.Record, syncedAt time.Time) error
	// Load returns the cached list for scope in the order it was stored.
	Load(scope string) (*Snapshot, error)
	// Get returns a single cached record.
	Get(scope string, id string) (*vault.Record, error)
	// Purge removes everything cached for scope. Purging an unknown scope
	// is not an error.
	Purge(scope string) error
}
