package greybus

import "errors"

var (
	ErrNilDriver    = errors.New("greybus: driver is nil")
	ErrNilMessage   = errors.New("greybus: message is nil")
	ErrNilTransport = errors.New("greybus: transport is nil")
	ErrNotListening = errors.New("greybus: cport not listening")
	ErrDisconnected = errors.New("greybus: cport disconnected")
	ErrNoCPorts     = errors.New("greybus: no cports configured")
)
