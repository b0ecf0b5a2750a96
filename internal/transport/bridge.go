package transport

import (
	"fmt"
	"sync"

	"github.com/danmuck/greybus/internal/apbridge"
	"github.com/danmuck/greybus/internal/greybus"
	"github.com/danmuck/greybus/internal/logging"
	"github.com/danmuck/greybus/internal/protocol/message"
	"github.com/rs/zerolog"
)

// Endpoint is the node side of a Bridge backend. *greybus.Node satisfies
// it.
type Endpoint interface {
	RxHandler(cport uint16, msg *message.Message) error
	Notify(cport uint16, event greybus.Event) error
}

// AnnounceFunc tells the SVC about an interface joining or leaving the
// bridge.
type AnnounceFunc func(intfID uint8) error

// Bridge attaches a node to an apbridge.Bridge. Messages written to the
// node's interface enter RxHandler; connections created on it become
// connected events; messages the node sends leave through its interface.
type Bridge struct {
	br      *apbridge.Bridge
	alloc   *message.Allocator
	pinned  bool
	fixedID uint8
	log     zerolog.Logger

	mu       sync.Mutex
	ep       Endpoint
	announce AnnounceFunc
	detach   AnnounceFunc
	intf     *apbridge.Interface
}

// NewBridge builds a backend that allocates its interface ID from br when
// the node starts. Outbound copies come from alloc.
func NewBridge(br *apbridge.Bridge, alloc *message.Allocator) *Bridge {
	return &Bridge{br: br, alloc: alloc, log: logging.Component("transport.bridge")}
}

// NewBridgeWithID pins the interface to a reserved ID such as the SVC.
func NewBridgeWithID(br *apbridge.Bridge, alloc *message.Allocator, id uint8) *Bridge {
	return &Bridge{br: br, alloc: alloc, pinned: true, fixedID: id, log: logging.Component("transport.bridge")}
}

func (b *Bridge) Bind(ep Endpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ep = ep
}

// OnAttach registers fn to run after the interface joins the bridge.
func (b *Bridge) OnAttach(fn AnnounceFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.announce = fn
}

// OnDetach registers fn to run after the interface leaves the bridge.
func (b *Bridge) OnDetach(fn AnnounceFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.detach = fn
}

// InterfaceID is the attached interface ID; ok is false before Init.
func (b *Bridge) InterfaceID() (uint8, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.intf == nil {
		return 0, false
	}
	return b.intf.ID, true
}

func (b *Bridge) Init() error {
	b.mu.Lock()
	ep, announce := b.ep, b.announce
	attached := b.intf != nil
	b.mu.Unlock()
	if ep == nil {
		return ErrNotBound
	}
	if attached {
		return nil
	}

	write := func(_ *apbridge.Interface, msg *message.Message, cport uint16) error {
		return ep.RxHandler(cport, msg)
	}
	create := func(_ *apbridge.Interface, cport uint16) error {
		return ep.Notify(cport, greybus.EventConnected)
	}
	destroy := func(_ *apbridge.Interface, cport uint16) error {
		return ep.Notify(cport, greybus.EventDisconnected)
	}

	var intf *apbridge.Interface
	if b.pinned {
		intf = &apbridge.Interface{ID: b.fixedID, Write: write, CreateConnection: create, DestroyConnection: destroy}
		if err := b.br.Add(intf); err != nil {
			return err
		}
	} else {
		var err error
		intf, err = b.br.Alloc(write, create, destroy, nil)
		if err != nil {
			return err
		}
	}

	b.mu.Lock()
	b.intf = intf
	b.mu.Unlock()

	if announce != nil {
		if err := announce(intf.ID); err != nil {
			return fmt.Errorf("transport: announce interface %d: %w", intf.ID, err)
		}
	}
	return nil
}

func (b *Bridge) Exit() {
	b.mu.Lock()
	intf, detach := b.intf, b.detach
	b.intf = nil
	b.mu.Unlock()
	if intf == nil {
		return
	}
	if err := b.br.Dealloc(intf); err != nil {
		b.log.Warn().Err(err).Uint8("intf", intf.ID).Msg("interface already gone from bridge")
	}
	if detach != nil {
		if err := detach(intf.ID); err != nil {
			b.log.Warn().Err(err).Uint8("intf", intf.ID).Msg("detach report failed")
		}
	}
}

func (b *Bridge) Listen(uint16) error        { return nil }
func (b *Bridge) StopListening(uint16) error { return nil }

// Send pushes a copy of msg out of the node's interface; the bridge owns
// the copy from then on.
func (b *Bridge) Send(cport uint16, msg *message.Message) error {
	id, ok := b.InterfaceID()
	if !ok {
		return ErrNotStarted
	}
	dup, err := b.alloc.Copy(msg)
	if err != nil {
		return err
	}
	return b.br.Send(id, cport, dup)
}

// Uplink builds the AP interface for a bridge whose upstream host sits
// behind the physical backend up. The returned RxFunc is what up should
// feed: it routes every inbound message out of the AP endpoint.
func Uplink(br *apbridge.Bridge, up greybus.Transport) (*apbridge.Interface, greybus.RxFunc) {
	intf := &apbridge.Interface{
		ID: apbridge.APInterfaceID,
		Write: func(_ *apbridge.Interface, msg *message.Message, cport uint16) error {
			defer msg.Release()
			return up.Send(cport, msg)
		},
	}
	rx := func(cport uint16, msg *message.Message) error {
		return br.Send(apbridge.APInterfaceID, cport, msg)
	}
	return intf, rx
}
