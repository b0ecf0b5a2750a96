package transport

import "errors"

var (
	ErrNoLink     = errors.New("transport: no host link")
	ErrNotBound   = errors.New("transport: no receiver bound")
	ErrClosed     = errors.New("transport: closed")
	ErrQueueFull  = errors.New("transport: queue full")
	ErrNotStarted = errors.New("transport: not initialized")
)
