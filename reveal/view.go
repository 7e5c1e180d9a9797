package reveal

import "sync"

// View binds controllers to whatever record is currently on screen. Each
// Mount disposes the previous controller, so navigating away from a record
// always wipes its secret.
type View struct {
	revealer Revealer
	sessions SessionEvents
	opts     []Option

	mu      sync.Mutex
	current *Controller
}

// NewView returns a View that builds controllers with the given
// dependencies and options.
func NewView(revealer Revealer, sessions SessionEvents, opts ...Option) *View {
	return &View{revealer: revealer, sessions: sessions, opts: opts}
}

// Mount disposes the current controller and returns a fresh Hidden one
// for recordID.
func (v *View) Mount(recordID string) *Controller {
	next := New(recordID, v.revealer, v.sessions, v.opts...)

	v.mu.Lock()
	prev := v.current
	v.current = next
	v.mu.Unlock()

	if prev != nil {
		prev.Dispose()
	}
	return next
}

// Unmount disposes the current controller, if any.
func (v *View) Unmount() {
	v.mu.Lock()
	prev := v.current
	v.current = nil
	v.mu.Unlock()

	if prev != nil {
		prev.Dispose()
	}
}

// Current returns the mounted controller, or nil.
func (v *View) Current() *Controller {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}
