package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/danmuck/greybus/internal/protocol"
	"github.com/danmuck/greybus/internal/protocol/message"
)

// Sent is one message observed on a Queue. The receiver owns Msg.
type Sent struct {
	CPort uint16
	Msg   *message.Message
}

// Queue is an in-memory backend. Each Send stores a deep copy so the test
// or consumer reading it owns an independent message.
type Queue struct {
	alloc *message.Allocator
	ch    chan Sent

	mu        sync.Mutex
	started   bool
	listening map[uint16]bool
	sendErr   error
}

// NewQueue buffers up to depth messages. Copies come from a dedicated
// allocator with room for depth more held by the reader.
func NewQueue(depth int) *Queue {
	if depth <= 0 {
		depth = 16
	}
	return &Queue{
		alloc:     message.NewAllocator(2 * depth),
		ch:        make(chan Sent, depth),
		listening: make(map[uint16]bool),
	}
}

func (q *Queue) Init() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.started = true
	return nil
}

func (q *Queue) Exit() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.started = false
}

func (q *Queue) Listen(cport uint16) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.listening[cport] = true
	return nil
}

func (q *Queue) StopListening(cport uint16) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.listening, cport)
	return nil
}

// Listening reports the enable state mirrored from the node.
func (q *Queue) Listening(cport uint16) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.listening[cport]
}

// FailSends makes every following Send return err; nil restores delivery.
func (q *Queue) FailSends(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sendErr = err
}

func (q *Queue) Send(cport uint16, msg *message.Message) error {
	q.mu.Lock()
	started, sendErr := q.started, q.sendErr
	q.mu.Unlock()
	if !started {
		return ErrNotStarted
	}
	if sendErr != nil {
		return sendErr
	}
	dup, err := q.alloc.Copy(msg)
	if err != nil {
		return err
	}
	select {
	case q.ch <- Sent{CPort: cport, Msg: dup}:
		return nil
	default:
		dup.Release()
		return fmt.Errorf("%w: %w", ErrQueueFull, protocol.ErrBusy)
	}
}

// Next waits for the next transmitted message.
func (q *Queue) Next(ctx context.Context) (Sent, error) {
	select {
	case s := <-q.ch:
		return s, nil
	case <-ctx.Done():
		return Sent{}, ctx.Err()
	}
}

// TryNext returns the next transmitted message without waiting.
func (q *Queue) TryNext() (Sent, bool) {
	select {
	case s := <-q.ch:
		return s, true
	default:
		return Sent{}, false
	}
}

// Len is the number of messages waiting to be read.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Outstanding counts copies handed out and not yet released.
func (q *Queue) Outstanding() int {
	return q.alloc.Outstanding()
}
