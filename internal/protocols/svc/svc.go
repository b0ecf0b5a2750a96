// Package svc implements the supervisory controller that owns the AP
// bridge connection table. It runs as a single-cport node attached to the
// bridge under the reserved SVC interface id.
package svc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/danmuck/greybus/internal/apbridge"
	"github.com/danmuck/greybus/internal/greybus"
	"github.com/danmuck/greybus/internal/protocol"
	"github.com/danmuck/greybus/internal/protocol/message"
)

var ErrNotStarted = errors.New("svc: not attached to a node")

// Driver handles SVC requests from the host and emits SVC events.
type Driver struct {
	br     *apbridge.Bridge
	endoID uint16

	mu       sync.Mutex
	node     *greybus.Node
	cport    uint16
	greeted  bool
	inserted map[uint8]bool
}

func New(br *apbridge.Bridge) *Driver {
	return &Driver{br: br, endoID: DefaultEndoID, inserted: make(map[uint8]bool)}
}

func (d *Driver) Init(n *greybus.Node, cport uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.node = n
	d.cport = cport
	return nil
}

func (d *Driver) Exit(*greybus.Node, uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.node = nil
	d.greeted = false
}

// Start connects the SVC cport to cport 0 of the AP interface.
func (d *Driver) Start() error {
	d.mu.Lock()
	n, cport := d.node, d.cport
	d.mu.Unlock()
	if n == nil {
		return ErrNotStarted
	}
	return d.br.ConnectionCreate(apbridge.APInterfaceID, 0, apbridge.SVCInterfaceID, cport)
}

// Greet sends the protocol version and hello requests to the host, then
// reports every interface announced so far. It is repeated on each new
// host link.
func (d *Driver) Greet() error {
	if err := d.request(TypeProtocolVersion, []byte{VersionMajor, VersionMinor}); err != nil {
		return fmt.Errorf("svc version: %w", err)
	}
	hello := make([]byte, 3)
	binary.LittleEndian.PutUint16(hello[0:2], d.endoID)
	hello[2] = apbridge.APInterfaceID
	if err := d.request(TypeHello, hello); err != nil {
		return fmt.Errorf("svc hello: %w", err)
	}

	d.mu.Lock()
	d.greeted = true
	ids := make([]uint8, 0, len(d.inserted))
	for id := range d.inserted {
		ids = append(ids, id)
	}
	d.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if err := d.SendModuleInserted(id, 1, 0); err != nil {
			return err
		}
	}
	return nil
}

// Announce records a newly attached interface and reports it to the host
// once the host has been greeted. It matches transport.AnnounceFunc.
func (d *Driver) Announce(intfID uint8) error {
	d.mu.Lock()
	d.inserted[intfID] = true
	greeted := d.greeted
	d.mu.Unlock()
	if !greeted {
		return nil
	}
	return d.SendModuleInserted(intfID, 1, 0)
}

// Withdraw forgets an interface and reports its removal.
func (d *Driver) Withdraw(intfID uint8) error {
	d.mu.Lock()
	delete(d.inserted, intfID)
	greeted := d.greeted
	d.mu.Unlock()
	if !greeted {
		return nil
	}
	return d.request(TypeModuleRemoved, []byte{intfID})
}

// SendModuleInserted emits {primary_intf_id u8, intf_count u8, flags le16}.
func (d *Driver) SendModuleInserted(primary, count uint8, flags uint16) error {
	body := make([]byte, 4)
	body[0] = primary
	body[1] = count
	binary.LittleEndian.PutUint16(body[2:4], flags)
	return d.request(TypeModuleInserted, body)
}

func (d *Driver) request(typ uint8, body []byte) error {
	d.mu.Lock()
	n, cport := d.node, d.cport
	d.mu.Unlock()
	if n == nil {
		return ErrNotStarted
	}
	req, err := n.Allocator().RequestWithPayload(body, typ, false)
	if err != nil {
		return err
	}
	return n.Send(cport, req)
}

func (d *Driver) HandleOperation(n *greybus.Node, msg *message.Message, cport uint16) {
	if msg.IsResponse() {
		if !msg.IsSuccess() {
			log := n.Logger()
			log.Warn().Uint8("type", msg.RequestType()).Stringer("result", msg.Result()).Msg("svc request failed on host")
		}
		msg.Release()
		return
	}
	switch msg.Type() {
	case TypeConnCreate:
		d.connCreate(n, msg, cport)
	case TypeConnDestroy:
		d.connDestroy(n, msg, cport)
	case TypeIntfDeviceID, TypeIntfReset, TypeRouteCreate, TypeRouteDestroy,
		TypeIntfEject, TypePing:
		_ = n.RespondEmpty(msg, cport, protocol.ResultSuccess)
	case TypeDMEPeerGet:
		// {result_code le16, attr_value le32}
		_ = n.RespondSuccess(msg, cport, make([]byte, 6))
	case TypeDMEPeerSet:
		_ = n.RespondSuccess(msg, cport, make([]byte, 2))
	case TypeIntfSetPwrm:
		_ = n.RespondSuccess(msg, cport, []byte{setPwrmLocal})
	case TypeConnQuiescing, TypeIntfResume,
		TypeIntfVsysEnable, TypeIntfVsysDisable,
		TypeIntfRefclkEnable, TypeIntfRefclkDisable,
		TypeIntfUniproEnable, TypeIntfUniproDisable:
		_ = n.RespondSuccess(msg, cport, []byte{0})
	case TypeIntfActivate:
		d.activate(n, msg, cport)
	default:
		_ = n.RejectUnknown(msg, cport)
	}
}

// connCreate handles {intf1 u8, cport1 le16, intf2 u8, cport2 le16, tc u8, flags u8}.
func (d *Driver) connCreate(n *greybus.Node, msg *message.Message, cport uint16) {
	p := msg.Payload()
	if len(p) < connCreateSize {
		_ = n.RespondEmpty(msg, cport, protocol.ResultInvalid)
		return
	}
	intf1, cport1 := p[0], binary.LittleEndian.Uint16(p[1:3])
	intf2, cport2 := p[3], binary.LittleEndian.Uint16(p[4:6])
	err := d.br.ConnectionCreate(intf1, cport1, intf2, cport2)
	if err != nil {
		log := n.Logger()
		log.Warn().Err(err).Uint8("intf1", intf1).Uint16("cport1", cport1).
			Uint8("intf2", intf2).Uint16("cport2", cport2).Msg("connection create failed")
	}
	_ = n.RespondError(msg, cport, err)
}

// connDestroy handles {intf1 u8, cport1 le16, intf2 u8, cport2 le16}.
func (d *Driver) connDestroy(n *greybus.Node, msg *message.Message, cport uint16) {
	p := msg.Payload()
	if len(p) < connDestroySize {
		_ = n.RespondEmpty(msg, cport, protocol.ResultInvalid)
		return
	}
	intf1, cport1 := p[0], binary.LittleEndian.Uint16(p[1:3])
	intf2, cport2 := p[3], binary.LittleEndian.Uint16(p[4:6])
	err := d.br.ConnectionDestroy(intf1, cport1, intf2, cport2)
	if err != nil {
		log := n.Logger()
		log.Warn().Err(err).Uint8("intf1", intf1).Uint8("intf2", intf2).Msg("connection destroy failed")
	}
	_ = n.RespondError(msg, cport, err)
}

// activate answers {status u8, intf_type u8} for a known interface.
func (d *Driver) activate(n *greybus.Node, msg *message.Message, cport uint16) {
	p := msg.Payload()
	if len(p) < 1 {
		_ = n.RespondEmpty(msg, cport, protocol.ResultInvalid)
		return
	}
	if _, ok := d.br.Lookup(p[0]); !ok {
		_ = n.RespondError(msg, cport, fmt.Errorf("%w: interface %d", protocol.ErrNotFound, p[0]))
		return
	}
	_ = n.RespondSuccess(msg, cport, []byte{0, intfTypeGreybus})
}
