package message

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/danmuck/greybus/internal/protocol"
)

const (
	// HeaderSize is the fixed wire header: size, id, type, result, pad[2].
	HeaderSize = 8
	// MaxPayload is the largest payload a u16 size field can describe.
	MaxPayload = 0xFFFF - HeaderSize
)

const (
	offSize   = 0
	offID     = 2
	offType   = 4
	offResult = 5
	offPad    = 6
)

// Message is one greybus operation request or response. The header is kept
// in wire form; accessors convert from little-endian.
type Message struct {
	header   [HeaderSize]byte
	payload  []byte
	alloc    *Allocator
	released atomic.Bool
}

func (m *Message) Size() uint16 {
	return binary.LittleEndian.Uint16(m.header[offSize:])
}

// ID is the operation id used to pair a response with its request.
func (m *Message) ID() uint16 {
	return binary.LittleEndian.Uint16(m.header[offID:])
}

// Type is the raw operation type including the response flag.
func (m *Message) Type() uint8 {
	return m.header[offType]
}

// RequestType is the operation type with the response flag cleared.
func (m *Message) RequestType() uint8 {
	return m.header[offType] &^ protocol.ResponseFlag
}

func (m *Message) Result() protocol.Result {
	return protocol.Result(m.header[offResult])
}

func (m *Message) PayloadLen() int {
	return int(m.Size()) - HeaderSize
}

// Payload returns the message body. The slice aliases the message and is
// only valid until Release.
func (m *Message) Payload() []byte {
	return m.payload
}

func (m *Message) IsResponse() bool {
	return m.header[offType]&protocol.ResponseFlag != 0
}

func (m *Message) IsSuccess() bool {
	return m.Result() == protocol.ResultSuccess
}

// IsOneway reports a request that expects no response.
func (m *Message) IsOneway() bool {
	return !m.IsResponse() && m.ID() == 0
}

// Header returns a copy of the wire header.
func (m *Message) Header() [HeaderSize]byte {
	return m.header
}

// IntoResponse turns a request into an empty response carrying result
// without allocating. Ownership of m passes to the caller unchanged.
func (m *Message) IntoResponse(result protocol.Result) *Message {
	m.payload = m.payload[:0]
	m.setHeader(HeaderSize, m.ID(), protocol.ResponseType(m.Type()), result)
	return m
}

// Release hands the message back to its allocator. Releasing twice is a
// no-op.
func (m *Message) Release() {
	if m == nil || !m.released.CompareAndSwap(false, true) {
		return
	}
	m.payload = nil
	if m.alloc != nil {
		m.alloc.put()
	}
}

// Released reports whether Release has been called.
func (m *Message) Released() bool {
	return m.released.Load()
}

func (m *Message) setHeader(size uint16, id uint16, typ uint8, result protocol.Result) {
	binary.LittleEndian.PutUint16(m.header[offSize:], size)
	binary.LittleEndian.PutUint16(m.header[offID:], id)
	m.header[offType] = typ
	m.header[offResult] = uint8(result)
}

// pad carries the cport number on stream links; it is zero elsewhere.
func (m *Message) pad() uint16 {
	return binary.LittleEndian.Uint16(m.header[offPad:])
}

func (m *Message) setPad(v uint16) {
	binary.LittleEndian.PutUint16(m.header[offPad:], v)
}
