// Package gblog implements the greybus log protocol: the node pushes text
// to the host, which answers each request with an empty response.
package gblog

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/danmuck/greybus/internal/greybus"
	"github.com/danmuck/greybus/internal/protocol/message"
)

const TypeSendLog uint8 = 0x02

// MaxLen is the longest text one request carries, NUL excluded.
const MaxLen = message.MaxPayload - 3

var ErrDetached = errors.New("gblog: driver is not attached to a node")

// Driver sends log lines on its cport. It doubles as an io.Writer so a
// logger can mirror its output to the host.
type Driver struct {
	mu    sync.Mutex
	node  *greybus.Node
	cport uint16

	writing atomic.Bool
	sent    atomic.Uint64
	acked   atomic.Uint64
}

func New() *Driver {
	return &Driver{}
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
}

func (d *Driver) HandleOperation(n *greybus.Node, msg *message.Message, cport uint16) {
	if msg.IsResponse() {
		if msg.IsSuccess() {
			d.acked.Add(1)
		}
		msg.Release()
		return
	}
	_ = n.RejectUnknown(msg, cport)
}

// Send emits text as one send_log request. Longer text is truncated.
func (d *Driver) Send(text string) error {
	d.mu.Lock()
	n, cport := d.node, d.cport
	d.mu.Unlock()
	if n == nil {
		return ErrDetached
	}
	if len(text) > MaxLen {
		text = text[:MaxLen]
	}
	size := len(text) + 1
	req, err := n.Allocator().Request(2+size, TypeSendLog, false)
	if err != nil {
		return err
	}
	p := req.Payload()
	binary.LittleEndian.PutUint16(p[0:2], uint16(size))
	copy(p[2:], text)
	if err := n.Send(cport, req); err != nil {
		return err
	}
	d.sent.Add(1)
	return nil
}

// Write sends p as a log line. A write arriving while another is in
// flight is dropped, so a logger mirrored into the driver cannot recurse
// through a failing send.
func (d *Driver) Write(p []byte) (int, error) {
	if !d.writing.CompareAndSwap(false, true) {
		return len(p), nil
	}
	defer d.writing.Store(false)
	line := bytes.TrimRight(p, "\r\n")
	if len(line) == 0 {
		return len(p), nil
	}
	if err := d.Send(string(line)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Counts reports requests sent and successful responses received.
func (d *Driver) Counts() (sent, acked uint64) {
	return d.sent.Load(), d.acked.Load()
}
