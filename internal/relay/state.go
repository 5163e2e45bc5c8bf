package relay

// State is the lifecycle state of a single relay connection.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateError:
		return "error"
	}
	return "unknown"
}

// CanTransition reports whether s may move to next. Disconnected and Error
// are terminal; reconnecting means building a new Conn.
func (s State) CanTransition(next State) bool {
	switch s {
	case StateConnecting:
		return next == StateConnected || next == StateError
	case StateConnected:
		return next == StateDisconnected || next == StateError
	}
	return false
}

func (s State) Terminal() bool {
	return s == StateDisconnected || s == StateError
}
