package chat

// State of the live channel as seen by the session.
// Closed -> Connecting -> Open -> Closed; there is no reconnecting state,
// a retry simply goes through Connecting again.
type State int32

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
