package apbridge

import (
	"fmt"

	"github.com/danmuck/greybus/internal/protocol/message"
)

const (
	SVCInterfaceID uint8 = 0
	APInterfaceID  uint8 = 1
	FirstDynamicID uint8 = 2
)

// WriteFunc pushes msg toward the interface on cport and takes ownership
// of msg.
type WriteFunc func(intf *Interface, msg *message.Message, cport uint16) error

// ConnFunc prepares or releases per-connection resources of an interface.
type ConnFunc func(intf *Interface, cport uint16) error

// Interface is one bridge-visible endpoint: the SVC, the AP or a peer.
type Interface struct {
	ID                uint8
	Write             WriteFunc
	CreateConnection  ConnFunc
	DestroyConnection ConnFunc
	// Data is private to whoever installed the interface.
	Data any
}

// Endpoint names one side of a connection.
type Endpoint struct {
	Intf  uint8
	CPort uint16
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%d:%d", e.Intf, e.CPort)
}

// Connection is a live pair of endpoints, reported with A < B.
type Connection struct {
	A Endpoint
	B Endpoint
}
