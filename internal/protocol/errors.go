package protocol

import "errors"

var (
	ErrInvalid       = errors.New("protocol: invalid argument")
	ErrInvalidCPort  = errors.New("protocol: invalid cport")
	ErrNotFound      = errors.New("protocol: no such resource")
	ErrNoMemory      = errors.New("protocol: out of message memory")
	ErrNotSupported  = errors.New("protocol: not supported")
	ErrProtocol      = errors.New("protocol: bad operation")
	ErrTimeout       = errors.New("protocol: timed out")
	ErrInterrupted   = errors.New("protocol: interrupted")
	ErrOverflow      = errors.New("protocol: overflow")
	ErrBusy          = errors.New("protocol: busy")
	ErrAlreadyExists = errors.New("protocol: already exists")
)
