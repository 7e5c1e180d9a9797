// Package session owns the bearer token used to authorize calls to the
// password service.
//
// A Manager holds at most one token, sealed in a memguard enclave. The
// request layer reads it for every outbound call and reports authorization
// failures back through OnUnauthorized, which clears the token and tells
// subscribers (the UI and any open reveal controllers) that the session
// expired.
package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Event describes a change of session state.
type Event int

const (
	// EventEstablished fires when a token is installed.
	EventEstablished Event = iota + 1
	// EventCleared fires when the token is removed on request (logout).
	EventCleared
	// EventExpired fires when the service rejected the token.
	EventExpired
)

func (e Event) String() string {
	switch e {
	case EventEstablished:
		return "established"
	case EventCleared:
		return "cleared"
	case EventExpired:
		return "expired"
	default:
		return fmt.Sprintf("Event(%d)", int(e))
	}
}

// Manager is safe for concurrent use.
type Manager struct {
	mu     sync.RWMutex
	token  *memguard.Enclave
	store  Store
	logger *slog.Logger
	nextID int
	subs   map[int]func(Event)
	subsMu sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithStore sets the store the token is loaded from and mirrored to.
func WithStore(s Store) Option {
	return func(m *Manager) { m.store = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a Manager. The store is read once here; after that the
// in-memory token is authoritative.
func NewManager(opts ...Option) (*Manager, error) {
	m := &Manager{
		store:  NewMemoryStore(),
		logger: slog.Default(),
		subs:   make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "session")

	token, err := m.store.Load()
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if token != "" {
		m.token = memguard.NewEnclave([]byte(token))
		m.logger.Debug("session restored")
	}
	return m, nil
}

// SetSession installs token, replacing any previous one. An empty token
// clears the session.
func (m *Manager) SetSession(token string) {
	if token == "" {
		m.ClearSession()
		return
	}
	m.mu.Lock()
	m.token = memguard.NewEnclave([]byte(token))
	if err := m.store.Save(token); err != nil {
		m.logger.Warn("session store save failed", "error", err)
	}
	m.mu.Unlock()

	m.logger.Debug("session established")
	m.emit(EventEstablished)
}

// ClearSession removes the token. Clearing an absent session does nothing.
func (m *Manager) ClearSession() {
	if m.clear() {
		m.logger.Debug("session cleared")
		m.emit(EventCleared)
	}
}

// OnUnauthorized is called by the request layer when an authenticated call
// is rejected. It clears the session and emits EventExpired.
func (m *Manager) OnUnauthorized() {
	m.clear()
	m.logger.Info("session expired")
	m.emit(EventExpired)
}

func (m *Manager) clear() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	had := m.token != nil
	m.token = nil
	if err := m.store.Clear(); err != nil {
		m.logger.Warn("session store clear failed", "error", err)
	}
	return had
}

// CurrentToken returns the token and whether one is present.
func (m *Manager) CurrentToken() (string, bool) {
	m.mu.RLock()
	enclave := m.token
	m.mu.RUnlock()
	if enclave == nil {
		return "", false
	}
	buf, err := enclave.Open()
	if err != nil {
		m.logger.Error("opening session enclave", "error", err)
		return "", false
	}
	defer buf.Destroy()
	return string(buf.Bytes()), true
}

// IsAuthenticated reports whether a token is present.
func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token != nil
}

// ExpiresAt returns the exp claim of the token when it is a JWT. The
// signature is not checked; the value is informational only.
func (m *Manager) ExpiresAt() (time.Time, bool) {
	token, ok := m.CurrentToken()
	if !ok {
		return time.Time{}, false
	}
	parsed, err := jwt.ParseInsecure([]byte(token))
	if err != nil {
		return time.Time{}, false
	}
	exp := parsed.Expiration()
	if exp.IsZero() {
		return time.Time{}, false
	}
	return exp, true
}

// Subscribe registers fn for session events and returns a function that
// removes it. Handlers run synchronously after the state change, in the
// goroutine that caused it, with no Manager lock held.
func (m *Manager) Subscribe(fn func(Event)) func() {
	m.subsMu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subsMu.Lock()
			delete(m.subs, id)
			m.subsMu.Unlock()
		})
	}
}

func (m *Manager) emit(e Event) {
	m.subsMu.Lock()
	handlers := make([]func(Event), 0, len(m.subs))
	for id := 0; id < m.nextID; id++ {
		if fn, ok := m.subs[id]; ok {
			handlers = append(handlers, fn)
		}
	}
	m.subsMu.Unlock()

	for _, fn := range handlers {
		fn(e)
	}
}
