package message

import (
	"fmt"
	"sync"

	"github.com/danmuck/greybus/internal/protocol"
)

// DefaultMaxMessages bounds the live message count of an Allocator built
// with a non-positive limit.
const DefaultMaxMessages = 64

// Allocator hands out messages from a fixed budget. Exhaustion is reported
// as protocol.ErrNoMemory so callers can fall back to an in-place error
// response instead of failing hard.
type Allocator struct {
	mu          sync.Mutex
	max         int
	outstanding int
	nextID      uint16
}

func NewAllocator(maxMessages int) *Allocator {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	return &Allocator{max: maxMessages}
}

// Outstanding is the number of messages allocated and not yet released.
func (a *Allocator) Outstanding() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.outstanding
}

func (a *Allocator) Limit() int {
	return a.max
}

// Request allocates a zeroed request payload of payloadLen bytes. Oneway
// requests carry operation id 0; all others get the next non-zero id.
func (a *Allocator) Request(payloadLen int, typ uint8, oneway bool) (*Message, error) {
	if payloadLen < 0 || payloadLen > MaxPayload {
		return nil, fmt.Errorf("%w: payload length %d", protocol.ErrOverflow, payloadLen)
	}
	id := uint16(0)
	if !oneway {
		id = a.operationID()
	}
	return a.alloc(make([]byte, payloadLen), id, typ&^protocol.ResponseFlag, protocol.ResultSuccess)
}

// RequestWithPayload allocates a request carrying a copy of data.
func (a *Allocator) RequestWithPayload(data []byte, typ uint8, oneway bool) (*Message, error) {
	m, err := a.Request(len(data), typ, oneway)
	if err != nil {
		return nil, err
	}
	copy(m.payload, data)
	return m, nil
}

// Response allocates the response to req: same operation id, response flag
// set, result and an optional copy of payload. req is not consumed.
func (a *Allocator) Response(req *Message, payload []byte, result protocol.Result) (*Message, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: payload length %d", protocol.ErrOverflow, len(payload))
	}
	body := make([]byte, len(payload))
	copy(body, payload)
	return a.alloc(body, req.ID(), protocol.ResponseType(req.Type()), result)
}

// Copy returns a deep duplicate of m with an independent lifetime.
func (a *Allocator) Copy(m *Message) (*Message, error) {
	body := make([]byte, len(m.payload))
	copy(body, m.payload)
	out, err := a.alloc(body, m.ID(), m.Type(), m.Result())
	if err != nil {
		return nil, err
	}
	out.header = m.header
	return out, nil
}

func (a *Allocator) alloc(payload []byte, id uint16, typ uint8, result protocol.Result) (*Message, error) {
	if err := a.take(); err != nil {
		return nil, err
	}
	m := &Message{payload: payload, alloc: a}
	m.setHeader(uint16(HeaderSize+len(payload)), id, typ, result)
	return m, nil
}

func (a *Allocator) take() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.outstanding >= a.max {
		return fmt.Errorf("%w: %d messages outstanding", protocol.ErrNoMemory, a.outstanding)
	}
	a.outstanding++
	return nil
}

func (a *Allocator) put() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.outstanding > 0 {
		a.outstanding--
	}
}

func (a *Allocator) operationID() uint16 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	if a.nextID == 0 {
		a.nextID = 1
	}
	return a.nextID
}
