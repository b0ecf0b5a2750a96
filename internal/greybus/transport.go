package greybus

import "github.com/danmuck/greybus/internal/protocol/message"

// Transport is the physical link backend. Send borrows msg: the node
// releases it once Send returns, so a backend that keeps the message past
// the call must Copy it. Backends must not call back into the node from
// Listen or StopListening.
type Transport interface {
	Init() error
	Exit()
	Listen(cport uint16) error
	StopListening(cport uint16) error
	Send(cport uint16, msg *message.Message) error
}

// RxFunc is the inbound entry point a transport feeds; Node.RxHandler
// satisfies it.
type RxFunc func(cport uint16, msg *message.Message) error
