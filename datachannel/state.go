package datachannel

import "fmt"

// State is the lifecycle state of a Channel.
type State int

const (
	// StatePending channels are waiting for a handle, usually behind an
	// earlier channel with the same name.
	StatePending State = iota
	// StateConnecting channels have a handle that has not opened yet.
	StateConnecting
	// StateOpen channels can send and receive.
	StateOpen
	// StateClosing channels are being torn down.
	StateClosing
	// StateDestroyed is terminal.
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// canMove reports whether a channel in state s may move to state to.
// States only move forward and none is revisited.
func (s State) canMove(to State) bool {
	switch to {
	case StateConnecting:
		return s == StatePending
	case StateOpen:
		return s == StateConnecting
	case StateClosing:
		return s < StateClosing
	case StateDestroyed:
		return s != StateDestroyed
	default:
		return false
	}
}
