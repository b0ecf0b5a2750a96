package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/danmuck/greybus/internal/greybus"
	"github.com/danmuck/greybus/internal/logging"
	"github.com/danmuck/greybus/internal/protocol"
	"github.com/danmuck/greybus/internal/protocol/message"
	"github.com/rs/zerolog"
)

// Stream carries every cport over one byte stream. Inbound messages are
// allocated from alloc and handed to the bound receiver.
type Stream struct {
	rw     io.ReadWriteCloser
	alloc  *message.Allocator
	limits message.Limits
	log    zerolog.Logger

	mu     sync.Mutex
	rx     greybus.RxFunc
	closed bool

	wmu sync.Mutex
}

func NewStream(rw io.ReadWriteCloser, alloc *message.Allocator, limits message.Limits, logger *zerolog.Logger) *Stream {
	l := logging.Component("transport.stream")
	if logger != nil {
		l = *logger
	}
	return &Stream{rw: rw, alloc: alloc, limits: limits, log: l}
}

// Bind sets the inbound entry point, normally Node.RxHandler.
func (s *Stream) Bind(rx greybus.RxFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rx = rx
}

func (s *Stream) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *Stream) Exit() {
	_ = s.Close()
}

func (s *Stream) Listen(uint16) error        { return nil }
func (s *Stream) StopListening(uint16) error { return nil }

func (s *Stream) Send(cport uint16, msg *message.Message) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return message.WriteMessage(s.rw, msg, cport, s.limits)
}

func (s *Stream) writeRaw(frame []byte) error {
	if s.isClosed() {
		return ErrClosed
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_, err := s.rw.Write(frame)
	return err
}

// Run reads messages until the stream ends or ctx is cancelled. A clean
// end of stream returns nil.
func (s *Stream) Run(ctx context.Context) error {
	s.mu.Lock()
	rx := s.rx
	s.mu.Unlock()
	if rx == nil {
		return ErrNotBound
	}

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	for {
		msg, cport, err := message.ReadMessage(s.rw, s.alloc, s.limits)
		if err != nil {
			if ctx.Err() != nil || s.isClosed() || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var dropped *message.DroppedError
			if errors.As(err, &dropped) && errors.Is(err, protocol.ErrNoMemory) {
				// The frame was consumed; only this message is lost.
				s.log.Error().Err(err).Msg("inbound message dropped")
				if reply, ok := dropped.Reply(protocol.ResultNoMemory); ok {
					if werr := s.writeRaw(reply); werr != nil {
						s.log.Warn().Err(werr).Uint16("cport", dropped.CPort).Msg("no-memory reply failed")
					}
				}
				continue
			}
			if errors.Is(err, message.ErrPayloadTooLarge) || errors.Is(err, message.ErrSizeTooSmall) {
				// Framing is lost; the link has to be re-established.
				s.log.Error().Err(err).Msg("malformed frame, dropping link")
				_ = s.Close()
				return err
			}
			s.log.Warn().Err(err).Msg("read failed")
			return err
		}
		if err := rx(cport, msg); err != nil {
			s.log.Warn().Err(err).Uint16("cport", cport).Msg("inbound message rejected")
		}
	}
}

func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.rw.Close()
}

func (s *Stream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
