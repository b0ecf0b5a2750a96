package transport

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/danmuck/greybus/internal/greybus"
	"github.com/danmuck/greybus/internal/logging"
	"github.com/danmuck/greybus/internal/protocol/message"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// TCP serves the greybus link to one host at a time. A new connection
// replaces the previous one.
type TCP struct {
	addr   string
	alloc  *message.Allocator
	limits message.Limits
	log    zerolog.Logger

	mu        sync.Mutex
	rx        greybus.RxFunc
	onConnect func() error
	ln        net.Listener
	active    *Stream
}

func NewTCP(addr string, alloc *message.Allocator, limits message.Limits, logger *zerolog.Logger) *TCP {
	l := logging.Component("transport.tcp")
	if logger != nil {
		l = *logger
	}
	return &TCP{addr: addr, alloc: alloc, limits: limits, log: l}
}

func (t *TCP) Bind(rx greybus.RxFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rx = rx
}

// OnConnect registers fn to run each time a host connection becomes the
// active link, before any of its inbound messages are read.
func (t *TCP) OnConnect(fn func() error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onConnect = fn
}

// Init opens the listening socket so the bound address is known before
// Serve runs.
func (t *TCP) Init() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ln != nil {
		return nil
	}
	ln, err := net.Listen("tcp", t.addr)
	if err != nil {
		return err
	}
	t.ln = ln
	t.log.Info().Str("addr", ln.Addr().String()).Msg("greybus tcp link listening")
	return nil
}

func (t *TCP) Exit() {
	t.mu.Lock()
	ln, active := t.ln, t.active
	t.ln, t.active = nil, nil
	t.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	if active != nil {
		_ = active.Close()
	}
}

// Addr is the bound listen address, or nil before Init.
func (t *TCP) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ln == nil {
		return nil
	}
	return t.ln.Addr()
}

func (t *TCP) Listen(uint16) error        { return nil }
func (t *TCP) StopListening(uint16) error { return nil }

func (t *TCP) Send(cport uint16, msg *message.Message) error {
	t.mu.Lock()
	active := t.active
	t.mu.Unlock()
	if active == nil {
		return ErrNoLink
	}
	return active.Send(cport, msg)
}

// Serve accepts host connections until ctx is cancelled.
func (t *TCP) Serve(ctx context.Context) error {
	t.mu.Lock()
	ln, rx := t.ln, t.rx
	t.mu.Unlock()
	if ln == nil {
		return ErrNotStarted
	}
	if rx == nil {
		return ErrNotBound
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		t.Exit()
		return nil
	})
	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if gctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return nil
				}
				return err
			}
			stream := NewStream(conn, t.alloc, t.limits, &t.log)
			stream.Bind(rx)
			t.swap(stream)
			t.log.Info().Str("peer", conn.RemoteAddr().String()).Msg("host connected")
			if hook := t.connectHook(); hook != nil {
				if err := hook(); err != nil {
					t.log.Warn().Err(err).Msg("connect hook failed")
				}
			}

			g.Go(func() error {
				err := stream.Run(gctx)
				t.clear(stream)
				if err != nil {
					t.log.Warn().Err(err).Msg("host link closed")
				}
				return nil
			})
		}
	})
	return g.Wait()
}

func (t *TCP) connectHook() func() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.onConnect
}

func (t *TCP) swap(s *Stream) {
	t.mu.Lock()
	prev := t.active
	t.active = s
	t.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
}

func (t *TCP) clear(s *Stream) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == s {
		t.active = nil
	}
}
