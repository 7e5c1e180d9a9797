package session

import (
	"os"
	"sync"
)

// EnvVar is the environment variable EnvStore reads the token from.
const EnvVar = "PASSVAULT_SESSION"

// Store is where a Manager looks for a token when it is constructed, and
// where it mirrors later changes. Implementations must never write the
// token to disk.
type Store interface {
	// Load returns the stored token, or "" if there is none.
	Load() (string, error)
	// Save records token.
	Save(token string) error
	// Clear removes any stored token.
	Clear() error
}

// MemoryStore keeps the token in process memory only.
type MemoryStore struct {
	mu    sync.Mutex
	token string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, nil
}

func (s *MemoryStore) Save(token string) error {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear() error {
	return s.Save("")
}

// EnvStore reads the token from the process environment, so a token
// exported in one shell lasts exactly as long as that shell. Save and
// Clear only change this process's environment.
type EnvStore struct {
	key string
}

var _ Store = (*EnvStore)(nil)

// NewEnvStore returns an EnvStore bound to PASSVAULT_SESSION.
func NewEnvStore() *EnvStore {
	return &EnvStore{key: EnvVar}
}

func (s *EnvStore) Load() (string, error) {
	return os.Getenv(s.key), nil
}

func (s *EnvStore) Save(token string) error {
	return os.Setenv(s.key, token)
}

func (s *EnvStore) Clear() error {
	return os.Unsetenv(s.key)
}
