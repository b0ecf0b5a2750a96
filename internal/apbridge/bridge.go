package apbridge

import (
	"fmt"
	"sort"
	"sync"

	"github.com/danmuck/greybus/internal/logging"
	"github.com/danmuck/greybus/internal/observability"
	"github.com/danmuck/greybus/internal/protocol/message"
	"github.com/rs/zerolog"
)

const (
	DefaultMaxInterfaces  = 8
	DefaultMaxConnections = 32
)

// Config sizes the bridge tables.
type Config struct {
	Name           string
	MaxInterfaces  int
	MaxConnections int
	Logger         *zerolog.Logger
	Metrics        bool
}

// Bridge is the interface table and connection manager.
type Bridge struct {
	name     string
	log      zerolog.Logger
	metrics  bool
	maxConns int

	mu      sync.Mutex
	slots   []*Interface
	routes  map[Endpoint]Endpoint
	pending map[Endpoint]struct{}
}

func New(cfg Config) *Bridge {
	if cfg.Name == "" {
		cfg.Name = "apbridge"
	}
	if cfg.MaxInterfaces <= int(FirstDynamicID) {
		cfg.MaxInterfaces = DefaultMaxInterfaces
	}
	if cfg.MaxInterfaces > 256 {
		cfg.MaxInterfaces = 256
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = DefaultMaxConnections
	}
	logger := logging.Component("apbridge")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Bridge{
		name:     cfg.Name,
		log:      logger.With().Str("bridge", cfg.Name).Logger(),
		metrics:  cfg.Metrics,
		maxConns: cfg.MaxConnections,
		slots:    make([]*Interface, cfg.MaxInterfaces),
		routes:   make(map[Endpoint]Endpoint),
		pending:  make(map[Endpoint]struct{}),
	}
}

// MaxInterfaces is the size of the interface table, reserved IDs included.
func (b *Bridge) MaxInterfaces() int {
	return len(b.slots)
}

// Alloc installs a new interface in the lowest free slot at or above
// FirstDynamicID.
func (b *Bridge) Alloc(write WriteFunc, create, destroy ConnFunc, data any) (*Interface, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id := int(FirstDynamicID); id < len(b.slots); id++ {
		if b.slots[id] != nil {
			continue
		}
		intf := &Interface{
			ID:                uint8(id),
			Write:             write,
			CreateConnection:  create,
			DestroyConnection: destroy,
			Data:              data,
		}
		b.slots[id] = intf
		b.log.Debug().Uint8("intf", intf.ID).Msg("interface allocated")
		b.recordTablesLocked()
		return intf, nil
	}
	return nil, ErrTableFull
}

// Add installs an interface with a caller-chosen ID.
func (b *Bridge) Add(intf *Interface) error {
	if intf == nil {
		return ErrNilInterface
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if int(intf.ID) >= len(b.slots) {
		return fmt.Errorf("%w: %d", ErrInvalidInterface, intf.ID)
	}
	if b.slots[intf.ID] != nil {
		return fmt.Errorf("%w: %d", ErrInterfaceExists, intf.ID)
	}
	b.slots[intf.ID] = intf
	b.log.Debug().Uint8("intf", intf.ID).Msg("interface added")
	b.recordTablesLocked()
	return nil
}

// Remove frees the slot of id and drops every route touching it.
func (b *Bridge) Remove(id uint8) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if int(id) >= len(b.slots) || b.slots[id] == nil {
		return fmt.Errorf("%w: %d", ErrNoInterface, id)
	}
	b.slots[id] = nil
	for from, to := range b.routes {
		if from.Intf == id || to.Intf == id {
			delete(b.routes, from)
		}
	}
	b.log.Debug().Uint8("intf", id).Msg("interface removed")
	b.recordTablesLocked()
	return nil
}

// Dealloc removes intf if it still owns its slot.
func (b *Bridge) Dealloc(intf *Interface) error {
	if intf == nil {
		return ErrNilInterface
	}
	b.mu.Lock()
	owned := int(intf.ID) < len(b.slots) && b.slots[intf.ID] == intf
	b.mu.Unlock()
	if !owned {
		return fmt.Errorf("%w: %d", ErrNoInterface, intf.ID)
	}
	return b.Remove(intf.ID)
}

// Lookup returns the interface installed under id.
func (b *Bridge) Lookup(id uint8) (*Interface, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lookupLocked(id)
}

// Interfaces lists the occupied IDs in ascending order.
func (b *Bridge) Interfaces() []uint8 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]uint8, 0, len(b.slots))
	for id, intf := range b.slots {
		if intf != nil {
			out = append(out, uint8(id))
		}
	}
	return out
}

// Peer returns the endpoint connected to e.
func (b *Bridge) Peer(e Endpoint) (Endpoint, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	peer, ok := b.routes[e]
	return peer, ok
}

// Connections lists the live connections in deterministic order.
func (b *Bridge) Connections() []Connection {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Connection, 0, len(b.routes)/2)
	for from, to := range b.routes {
		if endpointLess(from, to) {
			out = append(out, Connection{A: from, B: to})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return endpointLess(out[i].A, out[j].A)
	})
	return out
}

// Send forwards msg leaving endpoint (intfID, cport) to the connected
// peer. msg is consumed.
func (b *Bridge) Send(intfID uint8, cport uint16, msg *message.Message) error {
	from := Endpoint{Intf: intfID, CPort: cport}
	b.mu.Lock()
	to, ok := b.routes[from]
	b.mu.Unlock()
	if !ok {
		msg.Release()
		b.recordRelay(intfID, intfID, false)
		return fmt.Errorf("%w: %s", ErrNotConnected, from)
	}
	err := b.Deliver(to.Intf, to.CPort, msg)
	b.recordRelay(from.Intf, to.Intf, err == nil)
	return err
}

// Deliver hands msg to the write callback of interface id on cport. msg
// is consumed.
func (b *Bridge) Deliver(id uint8, cport uint16, msg *message.Message) error {
	b.mu.Lock()
	intf, ok := b.lookupLocked(id)
	b.mu.Unlock()
	if !ok {
		msg.Release()
		return fmt.Errorf("%w: %d", ErrNoInterface, id)
	}
	if intf.Write == nil {
		msg.Release()
		return fmt.Errorf("%w: %d", ErrNoWrite, id)
	}
	if err := intf.Write(intf, msg, cport); err != nil {
		b.log.Warn().Err(err).Uint8("intf", id).Uint16("cport", cport).Msg("interface write failed")
		return err
	}
	return nil
}

func (b *Bridge) lookupLocked(id uint8) (*Interface, bool) {
	if int(id) >= len(b.slots) || b.slots[id] == nil {
		return nil, false
	}
	return b.slots[id], true
}

func (b *Bridge) recordRelay(from, to uint8, ok bool) {
	if b.metrics {
		observability.RecordRelay(b.name, from, to, ok)
	}
}

func (b *Bridge) recordTablesLocked() {
	if !b.metrics {
		return
	}
	count := 0
	for _, intf := range b.slots {
		if intf != nil {
			count++
		}
	}
	observability.SetBridgeTables(b.name, count, len(b.routes)/2)
}

func endpointLess(a, b Endpoint) bool {
	if a.Intf != b.Intf {
		return a.Intf < b.Intf
	}
	return a.CPort < b.CPort
}
