package service

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/danmuck/greybus/internal/config"
	"github.com/danmuck/greybus/internal/greybus"
	"github.com/danmuck/greybus/internal/protocol/message"
	"github.com/danmuck/greybus/internal/transport"
	"github.com/rs/zerolog"
	"go.bug.st/serial"
)

// link is the physical backend facing the host.
type link interface {
	greybus.Transport
	Bind(rx greybus.RxFunc)
}

type linkRunner struct {
	link
	run func(ctx context.Context) error
	tcp *transport.TCP
}

func openLink(cfg config.LinkConfig, alloc *message.Allocator, logger zerolog.Logger) (*linkRunner, error) {
	limits := message.Limits{MaxPayload: cfg.MaxPayload}
	l := logger.With().Str("link", string(cfg.Kind)).Logger()
	switch cfg.Kind {
	case config.LinkTCP:
		t := transport.NewTCP(cfg.Addr, alloc, limits, &l)
		return &linkRunner{link: t, run: t.Serve, tcp: t}, nil
	case config.LinkSerial:
		port, err := serial.Open(cfg.Device, &serial.Mode{
			BaudRate: cfg.Baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		})
		if err != nil {
			return nil, fmt.Errorf("open serial link %s: %w", cfg.Device, err)
		}
		l.Info().Str("device", cfg.Device).Int("baud", cfg.Baud).Msg("serial link open")
		s := transport.NewStream(port, alloc, limits, &l)
		return &linkRunner{link: s, run: s.Run}, nil
	case config.LinkStdio:
		s := transport.NewStream(stdio{Reader: os.Stdin, Writer: os.Stdout}, alloc, limits, &l)
		return &linkRunner{link: s, run: s.Run}, nil
	default:
		return nil, fmt.Errorf("unknown link kind %q", cfg.Kind)
	}
}

// Addr is the bound TCP address, nil for other links.
func (l *linkRunner) Addr() net.Addr {
	if l.tcp == nil {
		return nil
	}
	return l.tcp.Addr()
}

type stdio struct {
	io.Reader
	io.Writer
}

func (stdio) Close() error {
	return os.Stdin.Close()
}
