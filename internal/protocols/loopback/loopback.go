// Package loopback implements the greybus loopback protocol used to
// exercise a link end to end.
package loopback

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/danmuck/greybus/internal/greybus"
	"github.com/danmuck/greybus/internal/protocol"
	"github.com/danmuck/greybus/internal/protocol/message"
)

const (
	TypePing     uint8 = 0x02
	TypeTransfer uint8 = 0x03
	TypeSink     uint8 = 0x04
)

// TransferHeaderSize is {len le32, reserved0 le32, reserved1 le32}.
const TransferHeaderSize = 12

// Stats counts handled operations.
type Stats struct {
	Pings     uint64
	Transfers uint64
	Sinks     uint64
	Bytes     uint64
}

type Driver struct {
	pings     atomic.Uint64
	transfers atomic.Uint64
	sinks     atomic.Uint64
	bytes     atomic.Uint64
}

func New() *Driver {
	return &Driver{}
}

func (d *Driver) Stats() Stats {
	return Stats{
		Pings:     d.pings.Load(),
		Transfers: d.transfers.Load(),
		Sinks:     d.sinks.Load(),
		Bytes:     d.bytes.Load(),
	}
}

func (d *Driver) HandleOperation(n *greybus.Node, msg *message.Message, cport uint16) {
	if msg.IsResponse() {
		msg.Release()
		return
	}
	switch msg.Type() {
	case TypePing:
		d.pings.Add(1)
		_ = n.RespondEmpty(msg, cport, protocol.ResultSuccess)
	case TypeTransfer:
		size, ok := transferLen(msg.Payload())
		if !ok {
			_ = n.RespondEmpty(msg, cport, protocol.ResultInvalid)
			return
		}
		d.transfers.Add(1)
		d.bytes.Add(uint64(size))
		_ = n.RespondSuccess(msg, cport, msg.Payload())
	case TypeSink:
		size, ok := transferLen(msg.Payload())
		if !ok {
			_ = n.RespondEmpty(msg, cport, protocol.ResultInvalid)
			return
		}
		d.sinks.Add(1)
		d.bytes.Add(uint64(size))
		_ = n.RespondEmpty(msg, cport, protocol.ResultSuccess)
	default:
		_ = n.RejectUnknown(msg, cport)
	}
}

// TransferPayload builds a transfer or sink request body carrying data.
func TransferPayload(data []byte) []byte {
	out := make([]byte, TransferHeaderSize+len(data))
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(data)))
	copy(out[TransferHeaderSize:], data)
	return out
}

// transferLen checks the declared length against the bytes that follow
// the header.
func transferLen(payload []byte) (uint32, bool) {
	if len(payload) < TransferHeaderSize {
		return 0, false
	}
	size := binary.LittleEndian.Uint32(payload[0:4])
	if uint64(size) != uint64(len(payload)-TransferHeaderSize) {
		return 0, false
	}
	return size, true
}
