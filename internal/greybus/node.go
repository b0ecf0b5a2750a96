package greybus

import (
	"fmt"
	"sync"

	"github.com/danmuck/greybus/internal/logging"
	"github.com/danmuck/greybus/internal/observability"
	"github.com/danmuck/greybus/internal/protocol"
	"github.com/danmuck/greybus/internal/protocol/message"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

// CPortState is the lifecycle state of one registry entry.
type CPortState uint8

const (
	StateIdle CPortState = iota
	StateListening
	StateConnected
	StateDisconnected
)

func (s CPortState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

func (s CPortState) enabled() bool {
	return s == StateListening || s == StateConnected
}

// Config sizes and names a Node.
type Config struct {
	Name       string
	CPortCount int
	// Allocator defaults to a fresh message.Allocator when nil.
	Allocator *message.Allocator
	Logger    *zerolog.Logger
	Metrics   bool
}

type entry struct {
	driver Driver
	state  CPortState
	// mirrored tracks whether the transport was told to listen; it stays
	// set through a disconnect until the cport is stopped.
	mirrored bool
}

// Node owns the cport registry of one greybus device.
type Node struct {
	name    string
	xport   Transport
	alloc   *message.Allocator
	log     zerolog.Logger
	metrics bool

	mu     sync.Mutex
	cports []entry
}

func New(cfg Config, xport Transport) (*Node, error) {
	if xport == nil {
		return nil, ErrNilTransport
	}
	if cfg.CPortCount <= 0 {
		return nil, ErrNoCPorts
	}
	if cfg.Name == "" {
		cfg.Name = "greybus"
	}
	alloc := cfg.Allocator
	if alloc == nil {
		alloc = message.NewAllocator(message.DefaultMaxMessages)
	}
	logger := logging.Component("greybus")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Node{
		name:    cfg.Name,
		xport:   xport,
		alloc:   alloc,
		log:     logger.With().Str("node", cfg.Name).Logger(),
		metrics: cfg.Metrics,
		cports:  make([]entry, cfg.CPortCount),
	}, nil
}

func (n *Node) Name() string {
	return n.name
}

func (n *Node) CPortCount() int {
	return len(n.cports)
}

// Allocator is the message budget shared by the node and its drivers.
func (n *Node) Allocator() *message.Allocator {
	return n.alloc
}

func (n *Node) Logger() zerolog.Logger {
	return n.log
}

// State reports the lifecycle state of cport.
func (n *Node) State(cport uint16) (CPortState, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.checkRange(cport); err != nil {
		return StateIdle, err
	}
	return n.cports[cport].state, nil
}

// Register binds driver to cport. A cport can hold a single driver.
func (n *Node) Register(cport uint16, driver Driver) error {
	if driver == nil {
		return ErrNilDriver
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.checkRange(cport); err != nil {
		return err
	}
	if n.cports[cport].driver != nil {
		return fmt.Errorf("%w: cport %d already has a driver", protocol.ErrAlreadyExists, cport)
	}
	n.cports[cport] = entry{driver: driver, state: StateIdle}
	return nil
}

// Unregister stops listening on cport and drops its driver.
func (n *Node) Unregister(cport uint16) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.checkRange(cport); err != nil {
		return err
	}
	var err error
	if n.cports[cport].mirrored {
		err = n.xport.StopListening(cport)
	}
	n.cports[cport] = entry{}
	return err
}

// Init starts the transport, initializes drivers and enables every
// registered cport.
func (n *Node) Init() error {
	if err := n.xport.Init(); err != nil {
		return fmt.Errorf("greybus: transport init: %w", err)
	}
	for _, b := range n.bindings() {
		if initer, ok := b.driver.(Initializer); ok {
			if err := initer.Init(n, b.cport); err != nil {
				return fmt.Errorf("greybus: init cport %d: %w", b.cport, err)
			}
		}
		if err := n.Listen(b.cport); err != nil {
			return err
		}
	}
	n.log.Info().Int("cports", len(n.cports)).Msg("greybus node active")
	return nil
}

// Exit disables every cport, lets drivers drop their state and stops the
// transport. All failures are reported together.
func (n *Node) Exit() error {
	var errs error
	for _, b := range n.bindings() {
		errs = multierr.Append(errs, n.StopListening(b.cport))
		if exiter, ok := b.driver.(Exiter); ok {
			exiter.Exit(n, b.cport)
		}
	}
	n.xport.Exit()
	return errs
}

// Listen enables inbound dispatch on a registered cport.
func (n *Node) Listen(cport uint16) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	e, err := n.registered(cport)
	if err != nil {
		return err
	}
	if e.state.enabled() {
		return nil
	}
	if err := n.mirrorListen(e, cport); err != nil {
		return err
	}
	e.state = StateListening
	return nil
}

// StopListening disables inbound dispatch on a registered cport.
func (n *Node) StopListening(cport uint16) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	e, err := n.registered(cport)
	if err != nil {
		return err
	}
	e.state = StateIdle
	if !e.mirrored {
		return nil
	}
	e.mirrored = false
	if err := n.xport.StopListening(cport); err != nil {
		return fmt.Errorf("greybus: transport stop cport %d: %w", cport, err)
	}
	return nil
}

// Notify delivers a connection event to the driver bound to cport.
func (n *Node) Notify(cport uint16, event Event) error {
	n.mu.Lock()
	e, err := n.registered(cport)
	if err != nil {
		n.mu.Unlock()
		return err
	}
	drv := e.driver
	switch event {
	case EventConnected:
		if err := n.mirrorListen(e, cport); err != nil {
			n.mu.Unlock()
			return err
		}
		e.state = StateConnected
	case EventDisconnected:
		e.state = StateDisconnected
	default:
		n.mu.Unlock()
		return fmt.Errorf("%w: event %d", protocol.ErrInvalid, event)
	}
	n.mu.Unlock()

	n.log.Debug().Uint16("cport", cport).Stringer("event", event).Msg("cport event")
	switch event {
	case EventConnected:
		if c, ok := drv.(ConnectedNotifier); ok {
			c.Connected(n, cport)
		}
	case EventDisconnected:
		if d, ok := drv.(DisconnectedNotifier); ok {
			d.Disconnected(n, cport)
		}
	}
	return nil
}

// RxHandler is the inbound entry point. It always takes ownership of msg:
// a registered, listening driver receives it; otherwise a request is
// answered with an empty Invalid response on the same cport and released.
func (n *Node) RxHandler(cport uint16, msg *message.Message) error {
	if msg == nil {
		return ErrNilMessage
	}
	n.mu.Lock()
	if err := n.checkRange(cport); err != nil {
		n.mu.Unlock()
		msg.Release()
		n.recordDispatch(cport, "out_of_range")
		return err
	}
	e := n.cports[cport]
	n.mu.Unlock()

	if e.driver == nil {
		n.log.Warn().Uint16("cport", cport).Uint8("type", msg.Type()).Msg("message on unregistered cport")
		n.recordDispatch(cport, "unregistered")
		return n.reject(cport, msg, protocol.ResultInvalid)
	}
	if !e.state.enabled() {
		n.log.Warn().Uint16("cport", cport).Stringer("state", e.state).Msg("message on disabled cport")
		n.recordDispatch(cport, "disabled")
		return n.reject(cport, msg, protocol.ResultInvalid)
	}

	n.recordDispatch(cport, "handled")
	e.driver.HandleOperation(n, msg, cport)
	return nil
}

// Send transmits msg on cport and releases it.
func (n *Node) Send(cport uint16, msg *message.Message) error {
	if msg == nil {
		return ErrNilMessage
	}
	n.mu.Lock()
	if err := n.checkRange(cport); err != nil {
		n.mu.Unlock()
		msg.Release()
		return err
	}
	state := n.cports[cport].state
	n.mu.Unlock()

	switch {
	case state == StateDisconnected:
		msg.Release()
		return fmt.Errorf("%w: cport %d", ErrDisconnected, cport)
	case !state.enabled():
		msg.Release()
		return fmt.Errorf("%w: cport %d", ErrNotListening, cport)
	}
	return n.transmit(cport, msg)
}

// reject answers a request the node cannot route. Responses and oneway
// requests expect nothing back and are only released.
func (n *Node) reject(cport uint16, msg *message.Message, result protocol.Result) error {
	if msg.IsResponse() || msg.IsOneway() {
		msg.Release()
		return nil
	}
	return n.transmit(cport, n.buildResponse(msg, nil, result))
}

func (n *Node) transmit(cport uint16, msg *message.Message) error {
	typ := msg.Type()
	err := n.xport.Send(cport, msg)
	if msg.IsResponse() && !msg.IsSuccess() {
		n.recordErrorResponse(msg.Result())
	}
	msg.Release()
	if n.metrics {
		observability.RecordSend(n.name, cport, err == nil)
	}
	if err != nil {
		n.log.Error().Err(err).Uint16("cport", cport).Uint8("type", typ).Msg("transport send failed")
		return fmt.Errorf("greybus: send cport %d: %w", cport, err)
	}
	return nil
}

// mirrorListen enables cport on the transport unless it already is.
// Called with n.mu held.
func (n *Node) mirrorListen(e *entry, cport uint16) error {
	if e.mirrored {
		return nil
	}
	if err := n.xport.Listen(cport); err != nil {
		return fmt.Errorf("greybus: transport listen cport %d: %w", cport, err)
	}
	e.mirrored = true
	return nil
}

type binding struct {
	cport  uint16
	driver Driver
}

// bindings snapshots the registered drivers in cport order.
func (n *Node) bindings() []binding {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]binding, 0, len(n.cports))
	for i, e := range n.cports {
		if e.driver != nil {
			out = append(out, binding{cport: uint16(i), driver: e.driver})
		}
	}
	return out
}

func (n *Node) registered(cport uint16) (*entry, error) {
	if err := n.checkRange(cport); err != nil {
		return nil, err
	}
	e := &n.cports[cport]
	if e.driver == nil {
		return nil, fmt.Errorf("%w: cport %d has no driver", protocol.ErrNotFound, cport)
	}
	return e, nil
}

func (n *Node) checkRange(cport uint16) error {
	if int(cport) >= len(n.cports) {
		return fmt.Errorf("%w: %d of %d", protocol.ErrInvalidCPort, cport, len(n.cports))
	}
	return nil
}

func (n *Node) recordDispatch(cport uint16, outcome string) {
	if n.metrics {
		observability.RecordDispatch(n.name, cport, outcome)
	}
}

func (n *Node) recordErrorResponse(result protocol.Result) {
	if n.metrics {
		observability.RecordErrorResponse(n.name, result.String())
	}
}
