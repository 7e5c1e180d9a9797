package reveal

import "fmt"

// State is the phase of a reveal session.
type State int

const (
	// Hidden is the initial and terminal state: no secret, no request.
	Hidden State = iota
	// Pending means a reveal request is in flight.
	Pending
	// Revealed means the secret is held and the countdown is running.
	Revealed
	// Failed means the last attempt failed; Snapshot.Err says why.
	Failed
)

func (s State) String() string {
	switch s {
	case Hidden:
		return "hidden"
	case Pending:
		return "pending"
	case Revealed:
		return "revealed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Snapshot is a consistent view of a controller for rendering.
type Snapshot struct {
	RecordID  string
	State     State
	Remaining int
	Pending   bool
	Err       error
}
