package message

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/greybus/internal/protocol"
)

var (
	ErrShortHeader     = errors.New("message: short header")
	ErrSizeTooSmall    = errors.New("message: size smaller than header")
	ErrPayloadTooLarge = errors.New("message: payload too large")
	ErrSizeMismatch    = errors.New("message: size does not match buffer")
)

// DroppedError is returned by ReadMessage when a frame was read off the
// stream but no message could be allocated for it. The stream stays in
// sync.
type DroppedError struct {
	CPort  uint16
	Header [HeaderSize]byte
	Err    error
}

func (e *DroppedError) Error() string {
	return fmt.Sprintf("message: frame on cport %d dropped: %v", e.CPort, e.Err)
}

func (e *DroppedError) Unwrap() error {
	return e.Err
}

// Reply encodes a header-only response to the dropped frame, tagged with
// its cport. ok is false when the frame expects no response.
func (e *DroppedError) Reply(result protocol.Result) (frame []byte, ok bool) {
	typ := e.Header[offType]
	id := binary.LittleEndian.Uint16(e.Header[offID:])
	if typ&protocol.ResponseFlag != 0 || id == 0 {
		return nil, false
	}
	frame = make([]byte, HeaderSize)
	binary.LittleEndian.PutUint16(frame[offSize:], HeaderSize)
	binary.LittleEndian.PutUint16(frame[offID:], id)
	frame[offType] = protocol.ResponseType(typ)
	frame[offResult] = uint8(result)
	binary.LittleEndian.PutUint16(frame[offPad:], e.CPort)
	return frame, true
}

// Limits constrains decode memory use on untrusted links.
type Limits struct {
	MaxPayload int
}

func DefaultLimits() Limits {
	return Limits{MaxPayload: 2048}
}

// Encode returns the wire form of m with the pad bytes cleared.
func Encode(m *Message) []byte {
	return encode(m, 0)
}

// Decode allocates a message from one complete wire buffer.
func (a *Allocator) Decode(b []byte) (*Message, error) {
	if len(b) < HeaderSize {
		return nil, ErrShortHeader
	}
	size := int(binary.LittleEndian.Uint16(b[offSize:]))
	if size < HeaderSize {
		return nil, ErrSizeTooSmall
	}
	if size != len(b) {
		return nil, fmt.Errorf("%w: size=%d len=%d", ErrSizeMismatch, size, len(b))
	}
	return a.fromWire(b[:HeaderSize], b[HeaderSize:])
}

// ReadMessage reads one framed message from a stream link. The returned
// cport is taken from the header pad bytes.
func ReadMessage(r io.Reader, a *Allocator, limits Limits) (*Message, uint16, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, 0, ErrShortHeader
		}
		return nil, 0, err
	}

	size := int(binary.LittleEndian.Uint16(hdr[offSize:]))
	if size < HeaderSize {
		return nil, 0, ErrSizeTooSmall
	}
	payloadLen := size - HeaderSize
	if limits.MaxPayload > 0 && payloadLen > limits.MaxPayload {
		return nil, 0, ErrPayloadTooLarge
	}

	payload := make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, 0, err
		}
	}

	m, err := a.fromWire(hdr[:], payload)
	if err != nil {
		return nil, 0, &DroppedError{CPort: binary.LittleEndian.Uint16(hdr[offPad:]), Header: hdr, Err: err}
	}
	cport := m.pad()
	m.setPad(0)
	return m, cport, nil
}

// WriteMessage writes m to a stream link, tagging it with cport. m is not
// consumed.
func WriteMessage(w io.Writer, m *Message, cport uint16, limits Limits) error {
	if limits.MaxPayload > 0 && m.PayloadLen() > limits.MaxPayload {
		return ErrPayloadTooLarge
	}
	_, err := w.Write(encode(m, cport))
	return err
}

func encode(m *Message, pad uint16) []byte {
	buf := make([]byte, HeaderSize+len(m.payload))
	copy(buf, m.header[:])
	binary.LittleEndian.PutUint16(buf[offPad:], pad)
	copy(buf[HeaderSize:], m.payload)
	return buf
}

func (a *Allocator) fromWire(hdr []byte, payload []byte) (*Message, error) {
	if err := a.take(); err != nil {
		return nil, err
	}
	body := make([]byte, len(payload))
	copy(body, payload)
	m := &Message{payload: body, alloc: a}
	copy(m.header[:], hdr)
	return m, nil
}
