package greybus

import "github.com/danmuck/greybus/internal/protocol/message"

// Driver handles operations arriving on a cport. HandleOperation owns msg
// and must release it, usually through one of the Node response helpers.
// It must not block.
type Driver interface {
	HandleOperation(n *Node, msg *message.Message, cport uint16)
}

// Initializer is implemented by drivers that prepare state when the node
// starts.
type Initializer interface {
	Init(n *Node, cport uint16) error
}

// Exiter is implemented by drivers that release state when the node stops.
type Exiter interface {
	Exit(n *Node, cport uint16)
}

// ConnectedNotifier receives EventConnected for its cport.
type ConnectedNotifier interface {
	Connected(n *Node, cport uint16)
}

// DisconnectedNotifier receives EventDisconnected for its cport and must
// drop any per-connection state.
type DisconnectedNotifier interface {
	Disconnected(n *Node, cport uint16)
}

// DriverFunc adapts a plain function to Driver.
type DriverFunc func(n *Node, msg *message.Message, cport uint16)

func (f DriverFunc) HandleOperation(n *Node, msg *message.Message, cport uint16) {
	f(n, msg, cport)
}

// Event is a connection lifecycle notification.
type Event int

const (
	EventConnected Event = iota
	EventDisconnected
)

func (e Event) String() string {
	switch e {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}
