package service

import (
	"context"
	"encoding/binary"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/greybus/internal/apbridge"
	"github.com/danmuck/greybus/internal/config"
	"github.com/danmuck/greybus/internal/protocol"
	"github.com/danmuck/greybus/internal/protocol/message"
	"github.com/danmuck/greybus/internal/protocols/builtin"
	"github.com/danmuck/greybus/internal/protocols/control"
	"github.com/danmuck/greybus/internal/protocols/loopback"
	"github.com/danmuck/greybus/internal/protocols/svc"
	"github.com/danmuck/greybus/internal/testutil/testlog"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type host struct {
	t      *testing.T
	conn   net.Conn
	alloc  *message.Allocator
	limits message.Limits
}

func startService(t *testing.T, mode config.Mode) (*Service, *host) {
	t.Helper()
	cfg := config.Default()
	cfg.Name = "service-test"
	cfg.Mode = mode
	cfg.Link.Addr = "127.0.0.1:0"

	s, err := New(cfg, builtin.Registry())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.RunContext(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Errorf("service did not stop")
		}
	})

	select {
	case <-s.Ready():
	case err := <-done:
		t.Fatalf("service exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatalf("service not ready")
	}

	conn, err := net.Dial("tcp", s.LinkAddr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(10*time.Second)))
	return s, &host{t: t, conn: conn, alloc: message.NewAllocator(32), limits: message.DefaultLimits()}
}

func (h *host) send(cport uint16, typ uint8, payload []byte) uint16 {
	h.t.Helper()
	req, err := h.alloc.RequestWithPayload(payload, typ, false)
	require.NoError(h.t, err)
	defer req.Release()
	require.NoError(h.t, message.WriteMessage(h.conn, req, cport, h.limits))
	return req.ID()
}

func (h *host) read() (*message.Message, uint16) {
	h.t.Helper()
	msg, cport, err := message.ReadMessage(h.conn, h.alloc, h.limits)
	require.NoError(h.t, err)
	h.t.Cleanup(msg.Release)
	return msg, cport
}

func (h *host) call(cport uint16, typ uint8, payload []byte) *message.Message {
	h.t.Helper()
	id := h.send(cport, typ, payload)
	resp, got := h.read()
	require.Equal(h.t, cport, got)
	require.Equal(h.t, id, resp.ID())
	require.Equal(h.t, protocol.ResponseType(typ), resp.Type())
	return resp
}

func TestStandaloneOverTCP(t *testing.T) {
	testlog.Start(t)
	s, h := startService(t, config.ModeStandalone)

	blob, err := s.Manifest()
	require.NoError(t, err)
	size := h.call(0, control.TypeGetManifestSize, nil)
	require.True(t, size.IsSuccess())
	assert.Equal(t, uint16(len(blob)), binary.LittleEndian.Uint16(size.Payload()))
	assert.Equal(t, blob, h.call(0, control.TypeGetManifest, nil).Payload())

	assert.True(t, h.call(1, loopback.TypePing, nil).IsSuccess())
	payload := loopback.TransferPayload([]byte("over the wire"))
	assert.Equal(t, payload, h.call(1, loopback.TypeTransfer, payload).Payload())
	assert.Equal(t, protocol.ResultProtocolBad, h.call(1, protocol.TypeInvalid, nil).Result())
}

func TestBridgeModeOverTCP(t *testing.T) {
	testlog.Start(t)
	s, h := startService(t, config.ModeBridge)
	require.NotNil(t, s.Bridge())

	for _, want := range []uint8{svc.TypeProtocolVersion, svc.TypeHello, svc.TypeModuleInserted} {
		msg, cport := h.read()
		require.Equal(t, uint16(0), cport)
		require.Equal(t, want, msg.Type())
	}

	conn := func(apCPort, nodeCPort uint16) []byte {
		p := make([]byte, 8)
		p[0] = apbridge.APInterfaceID
		binary.LittleEndian.PutUint16(p[1:3], apCPort)
		p[3] = apbridge.FirstDynamicID
		binary.LittleEndian.PutUint16(p[4:6], nodeCPort)
		return p
	}
	require.True(t, h.call(0, svc.TypeConnCreate, conn(1, 0)).IsSuccess())
	require.True(t, h.call(0, svc.TypeConnCreate, conn(2, 1)).IsSuccess())

	version := h.call(1, control.TypeVersion, []byte{0, 1})
	assert.Equal(t, []byte{control.VersionMajor, control.VersionMinor}, version.Payload())
	assert.True(t, h.call(2, loopback.TypePing, nil).IsSuccess())

	assert.Len(t, s.Bridge().Connections(), 3)
}

func TestNewRejectsUnknownProtocol(t *testing.T) {
	testlog.Start(t)
	cfg := config.Default()
	cfg.CPorts = append(cfg.CPorts, config.CPortConfig{ID: 2, Protocol: "gpio", Bundle: 2})
	s, err := New(cfg, builtin.Registry())
	require.NoError(t, err)
	_, err = s.Manifest()
	assert.Error(t, err)
}

func TestDescriptionGroupsBundles(t *testing.T) {
	testlog.Start(t)
	cfg := config.Default()
	cfg.CPorts = append(cfg.CPorts, config.CPortConfig{ID: 2, Protocol: "pwm", Bundle: 2})
	s, err := New(cfg, builtin.Registry())
	require.NoError(t, err)
	d, err := s.Description()
	require.NoError(t, err)
	assert.Len(t, d.Bundles, 2)
	assert.Len(t, d.CPorts, 3)
	assert.Equal(t, protocol.ProtocolPWM, d.CPorts[2].Protocol)
}

func TestSerialLinkReportsMissingDevice(t *testing.T) {
	testlog.Start(t)
	cfg := config.Default().Link
	cfg.Kind = config.LinkSerial
	cfg.Device = filepath.Join(t.TempDir(), "ttyGB0")
	_, err := openLink(cfg, message.NewAllocator(1), zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), cfg.Device)
}
