package apbridge

import (
	"errors"
	"fmt"

	"github.com/danmuck/greybus/internal/protocol"
)

var (
	ErrTableFull        = fmt.Errorf("apbridge: interface table full: %w", protocol.ErrNoMemory)
	ErrConnectionsFull  = fmt.Errorf("apbridge: connection table full: %w", protocol.ErrNoMemory)
	ErrNilInterface     = errors.New("apbridge: interface is nil")
	ErrInvalidInterface = fmt.Errorf("apbridge: interface id out of range: %w", protocol.ErrInvalid)
	ErrInterfaceExists  = fmt.Errorf("apbridge: interface id in use: %w", protocol.ErrAlreadyExists)
	ErrNoInterface      = fmt.Errorf("apbridge: no such interface: %w", protocol.ErrNotFound)
	ErrNotConnected     = fmt.Errorf("apbridge: endpoint not connected: %w", protocol.ErrNotFound)
	ErrEndpointInUse    = fmt.Errorf("apbridge: endpoint already connected: %w", protocol.ErrAlreadyExists)
	ErrEndpointBusy     = fmt.Errorf("apbridge: endpoint connection in progress: %w", protocol.ErrBusy)
	ErrNoWrite          = errors.New("apbridge: interface has no write callback")
)
