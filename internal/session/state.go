package session

import "fmt"

// State is the lifecycle state of the live session owned by a [Manager].
type State int

const (
	// StateIdle means no session has been started yet.
	StateIdle State = iota

	// StateConnecting means Start is acquiring devices or waiting for the
	// remote endpoint to acknowledge setup.
	StateConnecting

	// StateOpen means audio is streaming in both directions.
	StateOpen

	// StateClosed means the last session ended through Stop or an error.
	// A new session may be started from here.
	StateClosed
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Active reports whether a session is connecting or open.
func (s State) Active() bool {
	return s == StateConnecting || s == StateOpen
}

// MarshalText encodes the state as its name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
