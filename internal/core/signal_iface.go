package core

// Frame is a single control-channel message.
type Frame []byte

type ChannelEventKind int

const (
	ChannelOpen ChannelEventKind = iota
	ChannelMessage
	ChannelClosed
)

func (k ChannelEventKind) String() string {
	switch k {
	case ChannelOpen:
		return "open"
	case ChannelMessage:
		return "message"
	case ChannelClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type ChannelEvent struct {
	Kind ChannelEventKind
	Data Frame
}

// ControlChannel abstracts the auxiliary ordered channel next to the media.
// Events is the single inbound stream; it is closed after the ChannelClosed event
// or after Close.
// Owned by the session; the session must Close() it.
type ControlChannel interface {
	Label() string
	// Send fails with domain.ErrChannelUnavailable unless the channel is open.
	Send(Frame) error
	Events() <-chan ChannelEvent
	Close() error
}
