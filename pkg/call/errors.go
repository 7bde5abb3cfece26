package call

import "errors"

var (
	// ErrInvalidPhase is returned by an action that is not valid in the
	// session's current phase. The phase is unchanged and nothing is sent.
	ErrInvalidPhase = errors.New("call: action not valid in current phase")
	// ErrActionPending is returned while another action of the same kind is
	// still acquiring local media.
	ErrActionPending = errors.New("call: action already in progress")
	// ErrSuperseded is returned when a later event made the action moot.
	ErrSuperseded = errors.New("call: action superseded")
	// ErrSessionClosed is returned by every action after Close.
	ErrSessionClosed = errors.New("call: session closed")
	// ErrConnection wraps failures building the peer connection.
	ErrConnection = errors.New("call: peer connection init failed")
)
