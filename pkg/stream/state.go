package stream

import "fmt"

// State is the supervisor state.
//
// We assume the following state transitions:
//
//	StateClosed
//	  -> StateConnecting (Open, fallback to the next transport, or a retry)
//
//	StateConnecting
//	  -> StateOpen (the active transport opened)
//	  -> StateClosing (Close while the transport is still connecting)
//	  -> StateClosed (the active transport failed, or every transport declined)
//
//	StateOpen
//	  -> StateClosing (Close)
//	  -> StateClosed (the active transport dropped)
//
//	StateClosing
//	  -> StateClosed (the active transport reported its closure)
//
// Any other transition is a bug and is logged.
type State int

const (
	// StateClosed is intentionally the zero value: a new supervisor is closed until Open.
	StateClosed State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

func (s State) validateTransitionTo(to State) error {
	switch s {
	case StateClosed:
		if to == StateConnecting {
			return nil
		}
	case StateConnecting:
		if to == StateOpen || to == StateClosing || to == StateClosed {
			return nil
		}
	case StateOpen:
		if to == StateClosing || to == StateClosed {
			return nil
		}
	case StateClosing:
		if to == StateClosed {
			return nil
		}
	}
	return fmt.Errorf("invalid state transition from %s to %s", s, to)
}
