package greybus_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/danmuck/greybus/internal/greybus"
	"github.com/danmuck/greybus/internal/protocol"
	"github.com/danmuck/greybus/internal/protocol/message"
	"github.com/danmuck/greybus/internal/testutil/testlog"
	"github.com/danmuck/greybus/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const (
	typeEcho  uint8 = 0x02
	typeFail  uint8 = 0x03
	typeBlank uint8 = 0x04
)

// echo answers typeEcho with its payload and typeFail with a translated
// error.
type echo struct {
	mu        sync.Mutex
	seen      []uint16
	events    []greybus.Event
	initErr   error
	exited    bool
	initCalls int
}

func (e *echo) HandleOperation(n *greybus.Node, msg *message.Message, cport uint16) {
	e.mu.Lock()
	e.seen = append(e.seen, cport)
	e.mu.Unlock()
	switch msg.Type() {
	case typeEcho:
		_ = n.RespondSuccess(msg, cport, msg.Payload())
	case typeFail:
		_ = n.RespondError(msg, cport, protocol.ErrTimeout)
	case typeBlank:
		_ = n.RespondEmpty(msg, cport, protocol.ResultSuccess)
	default:
		_ = n.RejectUnknown(msg, cport)
	}
}

func (e *echo) Init(*greybus.Node, uint16) error {
	e.initCalls++
	return e.initErr
}

func (e *echo) Exit(*greybus.Node, uint16) { e.exited = true }

func (e *echo) Connected(*greybus.Node, uint16) {
	e.events = append(e.events, greybus.EventConnected)
}

func (e *echo) Disconnected(*greybus.Node, uint16) {
	e.events = append(e.events, greybus.EventDisconnected)
}

func newNode(t *testing.T, cports int, alloc *message.Allocator) (*greybus.Node, *transport.Queue) {
	t.Helper()
	q := transport.NewQueue(64)
	n, err := greybus.New(greybus.Config{Name: "node-test", CPortCount: cports, Allocator: alloc}, q)
	require.NoError(t, err)
	return n, q
}

func request(t *testing.T, n *greybus.Node, typ uint8, payload []byte) *message.Message {
	t.Helper()
	req, err := n.Allocator().RequestWithPayload(payload, typ, false)
	require.NoError(t, err)
	return req
}

func next(t *testing.T, q *transport.Queue) transport.Sent {
	t.Helper()
	sent, ok := q.TryNext()
	require.True(t, ok, "nothing transmitted")
	t.Cleanup(sent.Msg.Release)
	return sent
}

func TestNewValidatesConfig(t *testing.T) {
	testlog.Start(t)
	_, err := greybus.New(greybus.Config{CPortCount: 1}, nil)
	assert.ErrorIs(t, err, greybus.ErrNilTransport)
	_, err = greybus.New(greybus.Config{}, transport.NewQueue(1))
	assert.ErrorIs(t, err, greybus.ErrNoCPorts)
}

func TestRegisterRules(t *testing.T) {
	testlog.Start(t)
	n, _ := newNode(t, 2, nil)
	assert.ErrorIs(t, n.Register(0, nil), greybus.ErrNilDriver)
	assert.ErrorIs(t, n.Register(2, &echo{}), protocol.ErrInvalidCPort)
	require.NoError(t, n.Register(1, &echo{}))
	assert.ErrorIs(t, n.Register(1, &echo{}), protocol.ErrAlreadyExists)
}

func TestDispatchEchoesOnSameCPort(t *testing.T) {
	testlog.Start(t)
	n, q := newNode(t, 3, nil)
	drv := &echo{}
	require.NoError(t, n.Register(2, drv))
	require.NoError(t, n.Init())

	req := request(t, n, typeEcho, []byte("abc"))
	id := req.ID()
	require.NoError(t, n.RxHandler(2, req))

	sent := next(t, q)
	assert.Equal(t, uint16(2), sent.CPort)
	assert.Equal(t, id, sent.Msg.ID())
	assert.Equal(t, protocol.ResponseType(typeEcho), sent.Msg.Type())
	assert.True(t, sent.Msg.IsSuccess())
	assert.Equal(t, []byte("abc"), sent.Msg.Payload())
	assert.True(t, req.Released())
	assert.Zero(t, n.Allocator().Outstanding())
	assert.Equal(t, []uint16{2}, drv.seen)
	assert.Equal(t, 1, drv.initCalls)
}

func TestRespondErrorTranslates(t *testing.T) {
	testlog.Start(t)
	n, q := newNode(t, 1, nil)
	require.NoError(t, n.Register(0, &echo{}))
	require.NoError(t, n.Init())

	require.NoError(t, n.RxHandler(0, request(t, n, typeFail, nil)))
	assert.Equal(t, protocol.ResultTimeout, next(t, q).Msg.Result())

	require.NoError(t, n.RxHandler(0, request(t, n, 0x55, nil)))
	sent := next(t, q)
	assert.Equal(t, protocol.ResultProtocolBad, sent.Msg.Result())
	assert.Zero(t, sent.Msg.PayloadLen())
}

func TestUnregisteredCPortGetsInvalid(t *testing.T) {
	testlog.Start(t)
	n, q := newNode(t, 4, nil)
	require.NoError(t, n.Register(0, &echo{}))
	require.NoError(t, n.Init())

	req := request(t, n, typeEcho, []byte{1, 2, 3})
	id := req.ID()
	require.NoError(t, n.RxHandler(3, req))

	sent := next(t, q)
	assert.Equal(t, uint16(3), sent.CPort)
	assert.Equal(t, id, sent.Msg.ID())
	assert.True(t, sent.Msg.IsResponse())
	assert.Equal(t, protocol.ResultInvalid, sent.Msg.Result())
	assert.Zero(t, sent.Msg.PayloadLen())
	assert.Zero(t, n.Allocator().Outstanding())
}

func TestUnroutedResponsesAndOnewayAreDropped(t *testing.T) {
	testlog.Start(t)
	n, q := newNode(t, 2, nil)
	require.NoError(t, n.Init())

	oneway, err := n.Allocator().Request(0, typeEcho, true)
	require.NoError(t, err)
	require.NoError(t, n.RxHandler(1, oneway))

	resp, err := n.Allocator().Response(request(t, n, typeEcho, nil), nil, protocol.ResultSuccess)
	require.NoError(t, err)
	require.NoError(t, n.RxHandler(1, resp))

	assert.Zero(t, q.Len())
	assert.True(t, oneway.Released())
	assert.True(t, resp.Released())
}

func TestOutOfRangeCPort(t *testing.T) {
	testlog.Start(t)
	n, q := newNode(t, 2, nil)
	require.NoError(t, n.Init())
	req := request(t, n, typeEcho, nil)
	assert.ErrorIs(t, n.RxHandler(7, req), protocol.ErrInvalidCPort)
	assert.True(t, req.Released())
	assert.Zero(t, q.Len())
	assert.ErrorIs(t, n.RxHandler(0, nil), greybus.ErrNilMessage)
}

func TestDisabledCPortRejects(t *testing.T) {
	testlog.Start(t)
	n, q := newNode(t, 2, nil)
	drv := &echo{}
	require.NoError(t, n.Register(1, drv))
	require.NoError(t, n.Init())
	require.NoError(t, n.StopListening(1))
	assert.False(t, q.Listening(1))

	require.NoError(t, n.RxHandler(1, request(t, n, typeEcho, nil)))
	assert.Equal(t, protocol.ResultInvalid, next(t, q).Msg.Result())
	assert.Empty(t, drv.seen)

	require.NoError(t, n.Listen(1))
	assert.True(t, q.Listening(1))
	require.NoError(t, n.RxHandler(1, request(t, n, typeEcho, nil)))
	assert.True(t, next(t, q).Msg.IsSuccess())
}

func TestStateTransitionsAndNotifiers(t *testing.T) {
	testlog.Start(t)
	n, _ := newNode(t, 2, nil)
	drv := &echo{}
	require.NoError(t, n.Register(1, drv))

	state, err := n.State(1)
	require.NoError(t, err)
	assert.Equal(t, greybus.StateIdle, state)

	require.NoError(t, n.Init())
	state, _ = n.State(1)
	assert.Equal(t, greybus.StateListening, state)

	require.NoError(t, n.Notify(1, greybus.EventConnected))
	state, _ = n.State(1)
	assert.Equal(t, greybus.StateConnected, state)

	require.NoError(t, n.Notify(1, greybus.EventDisconnected))
	state, _ = n.State(1)
	assert.Equal(t, greybus.StateDisconnected, state)
	assert.Equal(t, []greybus.Event{greybus.EventConnected, greybus.EventDisconnected}, drv.events)

	assert.ErrorIs(t, n.Notify(0, greybus.EventConnected), protocol.ErrNotFound)
	assert.ErrorIs(t, n.Notify(1, greybus.Event(9)), protocol.ErrInvalid)
	_, err = n.State(5)
	assert.ErrorIs(t, err, protocol.ErrInvalidCPort)
}

// countingQueue counts how often the node enables each cport.
type countingQueue struct {
	*transport.Queue
	listens map[uint16]int
}

func (c *countingQueue) Listen(cport uint16) error {
	c.listens[cport]++
	return c.Queue.Listen(cport)
}

func TestDisconnectKeepsTransportMirrored(t *testing.T) {
	testlog.Start(t)
	q := &countingQueue{Queue: transport.NewQueue(8), listens: make(map[uint16]int)}
	n, err := greybus.New(greybus.Config{Name: "mirror", CPortCount: 2}, q)
	require.NoError(t, err)
	require.NoError(t, n.Register(1, &echo{}))
	require.NoError(t, n.Init())

	require.NoError(t, n.Notify(1, greybus.EventConnected))
	require.NoError(t, n.Notify(1, greybus.EventDisconnected))
	assert.True(t, q.Listening(1))
	require.NoError(t, n.Notify(1, greybus.EventConnected))
	assert.Equal(t, 1, q.listens[1], "reconnect must not enable the transport twice")

	require.NoError(t, n.Notify(1, greybus.EventDisconnected))
	require.NoError(t, n.StopListening(1))
	state, _ := n.State(1)
	assert.Equal(t, greybus.StateIdle, state)
	assert.False(t, q.Listening(1))

	require.NoError(t, n.Listen(1))
	require.NoError(t, n.Notify(1, greybus.EventDisconnected))
	require.NoError(t, n.Unregister(1))
	assert.False(t, q.Listening(1))
	assert.Equal(t, 2, q.listens[1])
}

func TestSendRequiresEnabledCPort(t *testing.T) {
	testlog.Start(t)
	n, q := newNode(t, 2, nil)
	require.NoError(t, n.Register(1, &echo{}))

	idle := request(t, n, typeEcho, nil)
	assert.ErrorIs(t, n.Send(1, idle), greybus.ErrNotListening)
	assert.True(t, idle.Released())

	require.NoError(t, n.Init())
	require.NoError(t, n.Send(1, request(t, n, typeEcho, []byte{9})))
	sent := next(t, q)
	assert.Equal(t, uint16(1), sent.CPort)
	assert.Equal(t, typeEcho, sent.Msg.Type())

	require.NoError(t, n.Notify(1, greybus.EventDisconnected))
	gone := request(t, n, typeEcho, nil)
	assert.ErrorIs(t, n.Send(1, gone), greybus.ErrDisconnected)
	assert.True(t, gone.Released())
	assert.Zero(t, n.Allocator().Outstanding())
}

func TestTransportFailureReleases(t *testing.T) {
	testlog.Start(t)
	n, q := newNode(t, 1, nil)
	require.NoError(t, n.Register(0, &echo{}))
	require.NoError(t, n.Init())
	boom := errors.New("link down")
	q.FailSends(boom)

	assert.ErrorIs(t, n.Send(0, request(t, n, typeEcho, nil)), boom)
	assert.Zero(t, n.Allocator().Outstanding())
}

func TestNoMemoryFallsBackToInPlaceResponse(t *testing.T) {
	testlog.Start(t)
	n, q := newNode(t, 1, message.NewAllocator(1))
	require.NoError(t, n.Register(0, &echo{}))
	require.NoError(t, n.Init())

	req := request(t, n, typeEcho, []byte("payload"))
	id := req.ID()
	_, err := n.Allocator().Request(0, typeEcho, false)
	require.ErrorIs(t, err, protocol.ErrNoMemory)

	require.NoError(t, n.RxHandler(0, req))
	sent := next(t, q)
	assert.Equal(t, id, sent.Msg.ID())
	assert.Equal(t, protocol.ResultNoMemory, sent.Msg.Result())
	assert.Zero(t, sent.Msg.PayloadLen())
	assert.Zero(t, n.Allocator().Outstanding())
}

func TestInitFailureStopsStartup(t *testing.T) {
	testlog.Start(t)
	n, q := newNode(t, 2, nil)
	boom := errors.New("no hardware")
	require.NoError(t, n.Register(0, &echo{}))
	require.NoError(t, n.Register(1, &echo{initErr: boom}))
	assert.ErrorIs(t, n.Init(), boom)
	assert.True(t, q.Listening(0))
	assert.False(t, q.Listening(1))
}

func TestExitStopsAndNotifiesDrivers(t *testing.T) {
	testlog.Start(t)
	n, q := newNode(t, 2, nil)
	drv := &echo{}
	require.NoError(t, n.Register(1, drv))
	require.NoError(t, n.Init())
	require.NoError(t, n.Exit())
	assert.True(t, drv.exited)
	assert.False(t, q.Listening(1))
	assert.ErrorIs(t, n.Send(1, request(t, n, typeEcho, nil)), greybus.ErrNotListening)
}

func TestUnregister(t *testing.T) {
	testlog.Start(t)
	n, q := newNode(t, 2, nil)
	require.NoError(t, n.Register(1, &echo{}))
	require.NoError(t, n.Init())
	require.NoError(t, n.Unregister(1))
	assert.False(t, q.Listening(1))

	require.NoError(t, n.RxHandler(1, request(t, n, typeEcho, nil)))
	assert.Equal(t, protocol.ResultInvalid, next(t, q).Msg.Result())
	require.NoError(t, n.Register(1, &echo{}))
}

func TestConcurrentDispatch(t *testing.T) {
	testlog.Start(t)
	n, q := newNode(t, 4, message.NewAllocator(256))
	for c := uint16(1); c < 4; c++ {
		require.NoError(t, n.Register(c, &echo{}))
	}
	require.NoError(t, n.Init())

	var g errgroup.Group
	for i := 0; i < 48; i++ {
		cport := uint16(1 + i%3)
		g.Go(func() error {
			req, err := n.Allocator().Request(0, typeBlank, false)
			if err != nil {
				return err
			}
			return n.RxHandler(cport, req)
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 48, q.Len())
	for q.Len() > 0 {
		sent := next(t, q)
		assert.True(t, sent.Msg.IsSuccess())
	}
	assert.Zero(t, n.Allocator().Outstanding())
}
