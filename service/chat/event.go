package chat

// EventKind 通道事件类型
type EventKind uint8

const (
	EventOpened EventKind = iota + 1
	EventFrame
	EventErrored
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventFrame:
		return "frame"
	case EventErrored:
		return "errored"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is produced by a channel's reader goroutine. Gen is the generation
// of the channel that produced it; the session drops events whose Gen is
// not current. Closed is always the last event of a channel.
type Event struct {
	Kind EventKind
	Gen  uint64
	Data []byte // Frame only
	Err  error  // Errored, or the cause on Closed
}
