package pwm

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/danmuck/greybus/internal/greybus"
	"github.com/danmuck/greybus/internal/protocol"
	"github.com/danmuck/greybus/internal/protocol/message"
	"github.com/danmuck/greybus/internal/testutil/testlog"
	"github.com/danmuck/greybus/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pwmCPort = 1

func newNode(t *testing.T, channels int) (*greybus.Node, *transport.Queue, *SimController) {
	t.Helper()
	q := transport.NewQueue(16)
	n, err := greybus.New(greybus.Config{Name: "pwm-test", CPortCount: 2}, q)
	require.NoError(t, err)
	sim := NewSimController(channels)
	require.NoError(t, n.Register(pwmCPort, New(sim)))
	require.NoError(t, n.Init())
	t.Cleanup(func() { _ = n.Exit() })
	return n, q, sim
}

func call(t *testing.T, n *greybus.Node, q *transport.Queue, typ uint8, payload []byte) *message.Message {
	t.Helper()
	req, err := n.Allocator().RequestWithPayload(payload, typ, false)
	require.NoError(t, err)
	require.NoError(t, n.RxHandler(pwmCPort, req))
	sent, ok := q.TryNext()
	require.True(t, ok)
	require.Equal(t, uint16(pwmCPort), sent.CPort)
	t.Cleanup(sent.Msg.Release)
	return sent.Msg
}

func configPayload(which uint8, duty, period uint32) []byte {
	p := make([]byte, 9)
	p[0] = which
	binary.LittleEndian.PutUint32(p[1:5], duty)
	binary.LittleEndian.PutUint32(p[5:9], period)
	return p
}

func TestCountIsChannelsMinusOne(t *testing.T) {
	testlog.Start(t)
	n, q, _ := newNode(t, 4)
	resp := call(t, n, q, TypeCount, nil)
	require.True(t, resp.IsSuccess())
	assert.Equal(t, []byte{3}, resp.Payload())
}

func TestConfigEnableDisable(t *testing.T) {
	testlog.Start(t)
	n, q, sim := newNode(t, 2)

	assert.True(t, call(t, n, q, TypeActivate, []byte{1}).IsSuccess())
	assert.True(t, call(t, n, q, TypeConfig, configPayload(1, 250, 1000)).IsSuccess())
	assert.True(t, call(t, n, q, TypePolarity, []byte{1, 1}).IsSuccess())
	assert.True(t, call(t, n, q, TypeEnable, []byte{1}).IsSuccess())
	assert.Equal(t, Output{Period: 1000, Duty: 250, Polarity: PolarityInverted}, sim.Output(1))

	assert.True(t, call(t, n, q, TypeDisable, []byte{1}).IsSuccess())
	assert.Equal(t, Output{Period: 1000, Duty: 0, Polarity: PolarityNormal}, sim.Output(1))
}

func TestChannelOutOfRange(t *testing.T) {
	testlog.Start(t)
	n, q, _ := newNode(t, 2)
	for _, tc := range []struct {
		typ     uint8
		payload []byte
	}{
		{TypeConfig, configPayload(2, 1, 2)},
		{TypePolarity, []byte{5, 0}},
		{TypeEnable, []byte{2}},
		{TypeDisable, []byte{9}},
		{TypeConfig, []byte{0, 1}},
	} {
		resp := call(t, n, q, tc.typ, tc.payload)
		assert.Equal(t, protocol.ResultInvalid, resp.Result(), "type 0x%02x", tc.typ)
	}
}

func TestHardwareErrorIsTranslated(t *testing.T) {
	testlog.Start(t)
	n, q, sim := newNode(t, 1)
	sim.FailOn(0, protocol.ErrBusy)
	resp := call(t, n, q, TypeEnable, []byte{0})
	assert.Equal(t, protocol.ResultRetry, resp.Result())

	sim.FailOn(0, errors.New("bus fault"))
	resp = call(t, n, q, TypeEnable, []byte{0})
	assert.Equal(t, protocol.ResultUnknownError, resp.Result())

	sim.FailOn(0, nil)
	assert.True(t, call(t, n, q, TypeEnable, []byte{0}).IsSuccess())
}

func TestDutyAbovePeriodIsInvalid(t *testing.T) {
	testlog.Start(t)
	n, q, _ := newNode(t, 1)
	require.True(t, call(t, n, q, TypeConfig, configPayload(0, 2000, 1000)).IsSuccess())
	resp := call(t, n, q, TypeEnable, []byte{0})
	assert.Equal(t, protocol.ResultInvalid, resp.Result())
}

func TestInitWithoutChannelsFails(t *testing.T) {
	testlog.Start(t)
	q := transport.NewQueue(4)
	n, err := greybus.New(greybus.Config{Name: "pwm-empty", CPortCount: 1}, q)
	require.NoError(t, err)
	require.NoError(t, n.Register(0, New(NewSimController(0))))
	assert.ErrorIs(t, n.Init(), ErrNoChannels)
}

func TestUnknownType(t *testing.T) {
	testlog.Start(t)
	n, q, _ := newNode(t, 1)
	assert.Equal(t, protocol.ResultProtocolBad, call(t, n, q, 0x42, nil).Result())
}
