package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/greybus/internal/apbridge"
	"github.com/danmuck/greybus/internal/config"
	"github.com/danmuck/greybus/internal/greybus"
	"github.com/danmuck/greybus/internal/logging"
	"github.com/danmuck/greybus/internal/manifest"
	"github.com/danmuck/greybus/internal/observability"
	"github.com/danmuck/greybus/internal/protocol/message"
	"github.com/danmuck/greybus/internal/protocols"
	"github.com/danmuck/greybus/internal/protocols/svc"
	"github.com/danmuck/greybus/internal/transport"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Service runs one gbnode process.
type Service struct {
	cfg      config.NodeConfig
	registry *protocols.Registry
	log      zerolog.Logger
	metrics  bool

	mu      sync.Mutex
	link    *linkRunner
	node    *greybus.Node
	bridge  *apbridge.Bridge
	svcNode *greybus.Node
	ready   chan struct{}
}

func New(cfg config.NodeConfig, registry *protocols.Registry) (*Service, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	if registry == nil {
		return nil, errors.New("service: protocol registry is nil")
	}
	return &Service{
		cfg:      cfg,
		registry: registry,
		log:      logging.Component("service"),
		metrics:  cfg.MetricsAddr != "",
		ready:    make(chan struct{}),
	}, nil
}

// Description resolves the configured cports against the registry.
func (s *Service) Description() (manifest.Description, error) {
	d := manifest.Description{Vendor: s.cfg.Manifest.Vendor, Product: s.cfg.Manifest.Product}
	bundles := make(map[uint8]bool)
	for _, c := range s.cfg.CPorts {
		meta, ok := s.registry.Resolve(c.Protocol)
		if !ok {
			return manifest.Description{}, fmt.Errorf("cport %d: unknown protocol %q", c.ID, c.Protocol)
		}
		if c.Bundle != 0 && !bundles[c.Bundle] {
			bundles[c.Bundle] = true
			d.Bundles = append(d.Bundles, manifest.Bundle{ID: c.Bundle, Class: meta.Class})
		}
		d.CPorts = append(d.CPorts, manifest.CPort{ID: c.ID, Bundle: c.Bundle, Protocol: meta.Protocol})
	}
	return d, nil
}

// Manifest builds the manifest blob served on the control cport.
func (s *Service) Manifest() ([]byte, error) {
	d, err := s.Description()
	if err != nil {
		return nil, err
	}
	return manifest.Build(d)
}

// Run blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

// RunContext bootstraps the node and serves until ctx ends.
func (s *Service) RunContext(ctx context.Context) error {
	if err := s.bootstrap(); err != nil {
		_ = s.shutdown()
		return err
	}
	close(s.ready)
	serveErr := s.serve(ctx)
	return multierr.Append(serveErr, s.shutdown())
}

// Ready is closed once the node is accepting traffic.
func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// LinkAddr is the bound TCP address of the host link, or nil.
func (s *Service) LinkAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link == nil {
		return nil
	}
	return s.link.Addr()
}

func (s *Service) Node() *greybus.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.node
}

func (s *Service) bootstrap() error {
	blob, err := s.Manifest()
	if err != nil {
		return err
	}

	drivers := make(map[uint16]greybus.Driver, len(s.cfg.CPorts))
	var mirrors []io.Writer
	for _, c := range s.cfg.CPorts {
		drv, err := s.registry.Build(c.Protocol, protocols.Env{Args: c.Args, Manifest: blob, Logger: s.log})
		if err != nil {
			return fmt.Errorf("cport %d: %w", c.ID, err)
		}
		drivers[c.ID] = drv
		if w, ok := drv.(io.Writer); ok {
			mirrors = append(mirrors, w)
		}
	}

	if lvl, ok := logging.ParseLevel(s.cfg.Log.Level); ok {
		zerolog.SetGlobalLevel(lvl)
	}
	logger := observability.InitLogger(s.cfg.Name, mirrors...)
	s.log = logger.With().Str("component", "service").Logger()
	if s.metrics {
		observability.RegisterMetrics()
	}

	alloc := message.NewAllocator(s.cfg.MaxMessages)
	lr, err := openLink(s.cfg.Link, alloc, logger)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.link = lr
	s.mu.Unlock()

	var xport greybus.Transport = lr
	if s.cfg.Mode == config.ModeBridge {
		bx, err := s.bootstrapBridge(alloc, lr, logger)
		if err != nil {
			return err
		}
		xport = bx
	}

	node, err := greybus.New(greybus.Config{
		Name:       s.cfg.Name,
		CPortCount: s.cfg.CPortCount(),
		Allocator:  alloc,
		Logger:     &logger,
		Metrics:    s.metrics,
	}, xport)
	if err != nil {
		return err
	}
	switch x := xport.(type) {
	case *transport.Bridge:
		x.Bind(node)
	case link:
		x.Bind(node.RxHandler)
	}
	for _, c := range s.cfg.CPorts {
		if err := node.Register(c.ID, drivers[c.ID]); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.node = node
	s.mu.Unlock()
	if err := node.Init(); err != nil {
		return err
	}

	s.log.Info().
		Str("mode", string(s.cfg.Mode)).
		Str("link", string(s.cfg.Link.Kind)).
		Int("cports", node.CPortCount()).
		Int("manifest_bytes", len(blob)).
		Msg("gbnode ready")
	return nil
}

// bootstrapBridge puts the AP bridge on the link, starts the SVC and
// returns the backend the node attaches through.
func (s *Service) bootstrapBridge(alloc *message.Allocator, lr *linkRunner, logger zerolog.Logger) (*transport.Bridge, error) {
	br := apbridge.New(apbridge.Config{
		Name:           s.cfg.Name,
		MaxInterfaces:  s.cfg.Bridge.MaxInterfaces,
		MaxConnections: s.cfg.Bridge.MaxConnections,
		Logger:         &logger,
		Metrics:        s.metrics,
	})
	apIntf, rx := transport.Uplink(br, lr)
	if err := br.Add(apIntf); err != nil {
		return nil, err
	}
	lr.Bind(rx)
	s.mu.Lock()
	s.bridge = br
	s.mu.Unlock()
	if err := lr.Init(); err != nil {
		return nil, fmt.Errorf("link init: %w", err)
	}

	svcX := transport.NewBridgeWithID(br, alloc, apbridge.SVCInterfaceID)
	svcNode, err := greybus.New(greybus.Config{
		Name:       s.cfg.Name + ".svc",
		CPortCount: 1,
		Allocator:  alloc,
		Logger:     &logger,
		Metrics:    s.metrics,
	}, svcX)
	if err != nil {
		return nil, err
	}
	svcX.Bind(svcNode)
	svcDrv := svc.New(br)
	if err := svcNode.Register(0, svcDrv); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.svcNode = svcNode
	s.mu.Unlock()
	if err := svcNode.Init(); err != nil {
		return nil, err
	}
	if err := svcDrv.Start(); err != nil {
		return nil, fmt.Errorf("svc start: %w", err)
	}

	if lr.tcp != nil {
		lr.tcp.OnConnect(svcDrv.Greet)
	} else if err := svcDrv.Greet(); err != nil {
		return nil, fmt.Errorf("svc greet: %w", err)
	}

	nodeX := transport.NewBridge(br, alloc)
	nodeX.OnAttach(svcDrv.Announce)
	nodeX.OnDetach(svcDrv.Withdraw)
	return nodeX, nil
}

func (s *Service) serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.link.run(gctx)
	})
	if s.metrics {
		srv := &http.Server{
			Addr:              s.cfg.MetricsAddr,
			Handler:           metricsHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			s.log.Info().Str("addr", s.cfg.MetricsAddr).Msg("metrics listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	err := g.Wait()
	s.log.Info().Msg("gbnode shutdown")
	return err
}

func (s *Service) shutdown() error {
	s.mu.Lock()
	node, svcNode, br, lr := s.node, s.svcNode, s.bridge, s.link
	s.mu.Unlock()

	var errs error
	if node != nil {
		errs = multierr.Append(errs, node.Exit())
	}
	if svcNode != nil {
		errs = multierr.Append(errs, svcNode.Exit())
	}
	// in bridge mode the link belongs to the bridge, not to a node
	if lr != nil && (br != nil || node == nil) {
		lr.Exit()
	}
	return errs
}

func metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Bridge is the AP bridge in bridge mode, nil otherwise.
func (s *Service) Bridge() *apbridge.Bridge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bridge
}
