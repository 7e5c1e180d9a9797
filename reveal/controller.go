// Package reveal implements the time-boxed disclosure of a record's
// password.
//
// A Controller owns one reveal session for one record. Submitting the
// master password asks the service to decrypt the record; on success the
// plaintext is held in a locked buffer for a fixed window, counted down one
// second at a time, and wiped when the window ends, when the user hides it,
// when the controller is disposed or remounted, or when the session ends.
//
// Every teardown bumps a generation counter. Responses and countdown ticks
// carry the generation they were started under and are discarded if it no
// longer matches, so a late response can never resurrect a hidden secret.
package reveal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/passvault/api"
	"github.com/jmcleod/passvault/internal/clock"
	"github.com/jmcleod/passvault/session"
)

// DefaultWindow is how long a revealed secret stays available.
const DefaultWindow = 30 * time.Second

const tickInterval = time.Second

// Revealer decrypts a record's password given the master password.
// *api.Client implements it.
type Revealer interface {
	RequestReveal(ctx context.Context, recordID, factor string) (*memguard.LockedBuffer, error)
}

// SessionEvents delivers session changes. *session.Manager implements it.
type SessionEvents interface {
	Subscribe(fn func(session.Event)) (unsubscribe func())
}

var (
	_ Revealer      = (*api.Client)(nil)
	_ SessionEvents = (*session.Manager)(nil)
)

// Controller is safe for concurrent use.
type Controller struct {
	recordID  string
	revealer  Revealer
	clock     clock.Clock
	window    time.Duration
	clipboard Clipboard
	logger    *slog.Logger
	observer  func(Snapshot)

	mu        sync.Mutex
	state     State
	secret    *memguard.LockedBuffer
	remaining int
	deadline  time.Time
	lastErr   error
	terminal  error
	gen       uint64
	timer     *clock.Timer
	cancel    context.CancelFunc
	disposed  bool

	unsubscribe func()
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock sets the clock driving the countdown.
func WithClock(c clock.Clock) Option {
	return func(ctl *Controller) { ctl.clock = c }
}

// WithWindow sets how long a secret stays revealed. It is rounded down to
// whole seconds, with a minimum of one.
func WithWindow(d time.Duration) Option {
	return func(ctl *Controller) { ctl.window = d }
}

// WithClipboard sets where CopySecret writes.
func WithClipboard(cb Clipboard) Option {
	return func(ctl *Controller) { ctl.clipboard = cb }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(ctl *Controller) { ctl.logger = l }
}

// WithObserver registers fn to receive a snapshot after every change,
// including each countdown tick. It is called without the controller's
// lock held.
func WithObserver(fn func(Snapshot)) Option {
	return func(ctl *Controller) { ctl.observer = fn }
}

// New returns a Hidden controller for recordID. If sessions is non-nil the
// controller hides itself whenever the session is cleared or expires.
func New(recordID string, revealer Revealer, sessions SessionEvents, opts ...Option) *Controller {
	c := &Controller{
		recordID:  recordID,
		revealer:  revealer,
		clock:     clock.Real(),
		window:    DefaultWindow,
		clipboard: SystemClipboard{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "reveal", "record_id", recordID)
	if sessions != nil {
		c.unsubscribe = sessions.Subscribe(c.onSessionEvent)
	}
	return c
}

// RecordID returns the record this controller reveals.
func (c *Controller) RecordID() string {
	return c.recordID
}

func (c *Controller) windowSeconds() int {
	n := int(c.window / time.Second)
	if n < 1 {
		n = 1
	}
	return n
}

// Submit requests the secret using factor, the master password. It blocks
// until the service answers or ctx is done and returns the outcome; the
// same outcome is visible through Snapshot.
//
// While a request is pending Submit returns ErrRequestInFlight without
// sending anything. A blank factor fails with ErrEmptyFactor without
// contacting the service. Submitting again from Revealed or Failed first
// tears down the current reveal. Once the record has been reported
// missing, Submit keeps returning that error without retrying.
func (c *Controller) Submit(ctx context.Context, factor string) error {
	c.mu.Lock()
	switch {
	case c.disposed:
		c.mu.Unlock()
		return ErrDisposed
	case c.state == Pending:
		c.mu.Unlock()
		return ErrRequestInFlight
	case c.terminal != nil:
		err := c.terminal
		c.mu.Unlock()
		return err
	}

	c.teardownLocked()
	if strings.TrimSpace(factor) == "" {
		c.state = Failed
		c.lastErr = ErrEmptyFactor
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.notify(snap)
		return ErrEmptyFactor
	}

	gen := c.gen
	reqCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.state = Pending
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)

	c.logger.Debug("reveal requested")
	buf, err := c.revealer.RequestReveal(reqCtx, c.recordID, factor)
	cancel()

	return c.complete(gen, buf, err)
}

// complete applies the result of the request started under gen.
func (c *Controller) complete(gen uint64, buf *memguard.LockedBuffer, err error) error {
	c.mu.Lock()

	if errors.Is(err, api.ErrSessionExpired) || errors.Is(err, api.ErrNotAuthenticated) {
		// The session manager has already broadcast the expiry; make sure
		// this controller ends up hidden even if it was not subscribed.
		// Neither error is kept as the reveal's own failure.
		if c.gen == gen && !c.disposed {
			c.teardownLocked()
			c.state = Hidden
		}
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.logger.Info("reveal rejected: no valid session")
		c.notify(snap)
		return err
	}

	if c.gen != gen || c.state != Pending || c.disposed {
		c.mu.Unlock()
		if buf != nil {
			buf.Destroy()
		}
		c.logger.Debug("discarding stale reveal response")
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		return ErrCancelled
	}
	c.cancel = nil

	switch {
	case err == nil:
		c.state = Revealed
		c.secret = buf
		c.remaining = c.windowSeconds()
		c.deadline = wallNow(c.clock).Add(time.Duration(c.remaining) * time.Second)
		c.timer = c.clock.AfterFunc(tickInterval, func() { c.tick(gen) })
	case errors.Is(err, api.ErrNotFound):
		c.state = Failed
		c.lastErr = err
		c.terminal = err
	default:
		c.state = Failed
		c.lastErr = err
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if err != nil {
		c.logger.Debug("reveal failed", "error", err)
	} else {
		c.logger.Debug("secret revealed", "window_seconds", snap.Remaining)
	}
	c.notify(snap)
	return err
}

// tick advances the countdown started under gen. Remaining time is read
// from the deadline, so late ticks or a suspended machine shorten the
// window instead of stretching it.
func (c *Controller) tick(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.state != Revealed {
		c.mu.Unlock()
		return
	}
	left := secondsUntil(c.deadline, wallNow(c.clock))
	if left >= c.remaining {
		left = c.remaining - 1
	}
	c.remaining = left
	if c.remaining <= 0 {
		c.teardownLocked()
		c.state = Hidden
		c.logger.Debug("reveal window elapsed")
	} else {
		c.timer = c.clock.AfterFunc(tickInterval, func() { c.tick(gen) })
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
}

// wallNow strips the monotonic reading so the countdown follows wall time,
// which keeps running while the machine sleeps.
func wallNow(clk clock.Clock) time.Time {
	return clk.Now().Round(0)
}

// secondsUntil rounds up, so a deadline 0.2s away still counts as 1.
func secondsUntil(deadline, now time.Time) int {
	d := deadline.Sub(now)
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

// Hide ends the reveal: the countdown stops, any pending request is
// abandoned and the secret is wiped. Hiding a Hidden controller does
// nothing.
func (c *Controller) Hide() {
	c.mu.Lock()
	if c.state == Hidden {
		c.mu.Unlock()
		return
	}
	c.teardownLocked()
	c.state = Hidden
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
}

// Dispose hides the controller permanently and detaches it from the
// session. It is safe to call more than once.
func (c *Controller) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	changed := c.state != Hidden
	c.teardownLocked()
	c.state = Hidden
	snap := c.snapshotLocked()
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if changed {
		c.notify(snap)
	}
}

func (c *Controller) onSessionEvent(e session.Event) {
	if e == session.EventEstablished {
		return
	}
	c.mu.Lock()
	if c.state == Hidden {
		c.mu.Unlock()
		return
	}
	c.teardownLocked()
	c.state = Hidden
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.logger.Debug("hidden on session end", "event", e.String())
	c.notify(snap)
}

// CopySecret writes the revealed secret to the clipboard. It does not
// change the state or the countdown.
func (c *Controller) CopySecret() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Revealed || c.secret == nil || !c.secret.IsAlive() {
		return ErrNotRevealed
	}
	if err := c.clipboard.WriteAll(string(c.secret.Bytes())); err != nil {
		return fmt.Errorf("%w: %v", ErrClipboardUnavailable, err)
	}
	return nil
}

// UseSecret calls fn with the revealed secret and returns its error, or
// ErrNotRevealed when nothing is revealed. The slice is the locked buffer
// itself: fn must not retain it, and must not call back into the
// controller, which stays locked for the duration.
func (c *Controller) UseSecret(fn func(secret []byte) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Revealed || c.secret == nil || !c.secret.IsAlive() {
		return ErrNotRevealed
	}
	return fn(c.secret.Bytes())
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// teardownLocked stops the countdown, abandons any request, wipes the
// secret and starts a new generation. c.mu must be held.
func (c *Controller) teardownLocked() {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.secret != nil {
		c.secret.Destroy()
		c.secret = nil
	}
	c.remaining = 0
	c.deadline = time.Time{}
	c.lastErr = nil
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		RecordID:  c.recordID,
		State:     c.state,
		Remaining: c.remaining,
		Pending:   c.state == Pending,
		Err:       c.lastErr,
	}
}

func (c *Controller) notify(s Snapshot) {
	if c.observer != nil {
		c.observer(s)
	}
}
