package reveal

import (
	"errors"

	"github.com/jmcleod/passvault/api"
)

var (
	// ErrEmptyFactor is returned when Submit is given a blank master password.
	ErrEmptyFactor = errors.New("master password is required")
	// ErrRequestInFlight is returned when Submit is called while a request is pending.
	ErrRequestInFlight = errors.New("reveal already in progress")
	// ErrNotRevealed is returned by CopySecret outside the Revealed state.
	ErrNotRevealed = errors.New("no secret is revealed")
	// ErrClipboardUnavailable wraps clipboard write failures.
	ErrClipboardUnavailable = errors.New("clipboard unavailable")
	// ErrCancelled is returned by Submit when the reveal was torn down while
	// its request was in flight. Any secret that arrived was discarded.
	ErrCancelled = errors.New("reveal cancelled")
	// ErrDisposed is returned by operations on a disposed controller.
	ErrDisposed = errors.New("reveal controller disposed")
)

// Describe returns the message shown to the user for err.
func Describe(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyFactor):
		return "Enter your master password"
	case errors.Is(err, api.ErrInvalidFactor):
		return "Incorrect master password"
	case errors.Is(err, api.ErrNotFound):
		return "Credential not found"
	case errors.Is(err, api.ErrSessionExpired), errors.Is(err, api.ErrNotAuthenticated):
		return "Your session has expired. Log in again."
	case errors.Is(err, api.ErrRateLimited):
		return "Too many attempts. Try again later."
	case errors.Is(err, ErrClipboardUnavailable):
		return "Failed to copy password"
	case errors.Is(err, ErrRequestInFlight):
		return "A reveal is already in progress"
	case errors.Is(err, ErrCancelled):
		return "Reveal cancelled"
	default:
		return "Error revealing password: " + err.Error()
	}
}
