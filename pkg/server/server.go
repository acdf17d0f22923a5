// Package server is the embedding surface: register resources and mappers,
// choose security, compression and protocol version, then bring the
// transports up.
//
// Example usage:
//
//	srv := server.New(server.Options{TCP: tcp.Config{Port: 8001}})
//	srv.AddResource(&Calculator{})
//	if err := srv.Up(ctx); err != nil {
//	    return err
//	}
//	defer srv.Down(context.Background())
package server

import (
	"context"
	"fmt"
	"net"
	"reflect"
	"sync"

	"github.com/marmos91/tcprest/internal/envelope"
	"github.com/marmos91/tcprest/internal/logger"
	"github.com/marmos91/tcprest/internal/mapper"
	"github.com/marmos91/tcprest/internal/protocol"
	"github.com/marmos91/tcprest/internal/wire"
	"github.com/marmos91/tcprest/pkg/adapter"
	"github.com/marmos91/tcprest/pkg/adapter/tcp"
	"github.com/marmos91/tcprest/pkg/adapter/udp"
	"github.com/marmos91/tcprest/pkg/metrics"
	"github.com/marmos91/tcprest/pkg/registry"
)

// Options configures a server at construction time.
type Options struct {
	// TCP is the stream transport configuration.
	TCP tcp.Config

	// UDP enables the datagram transport when non-nil.
	UDP *udp.Config

	// Metrics receives pipeline observations; nil disables metrics.
	Metrics metrics.RPCMetrics

	// StrictTypeCheck rejects resources with unsupported method types at
	// registration instead of logging a warning.
	StrictTypeCheck bool
}

// Server owns the registries, the dispatcher and the transports.
//
// Registration and configuration calls are accepted until Up; after Up the
// security, compression and protocol settings are frozen for the server's
// lifetime. Resources and mappers may still be added or removed while
// serving.
type Server struct {
	mu sync.Mutex

	mappers   *mapper.Registry
	resources *registry.Registry

	security    *wire.SecurityConfig
	compression *envelope.Config
	mode        protocol.Mode
	metrics     metrics.RPCMetrics

	tcpConfig Config
	tcpServer *tcp.Server
	udpServer *udp.Server
	opts      Options

	running bool
	cancel  context.CancelFunc
	done    sync.WaitGroup
}

// Config aliases the stream transport configuration for callers that only
// import this package.
type Config = tcp.Config

// New creates a server with empty registries and every security and
// compression feature disabled.
func New(opts Options) *Server {
	mappers := mapper.NewRegistry()
	return &Server{
		mappers:     mappers,
		resources:   registry.New(mappers, opts.StrictTypeCheck),
		security:    wire.DefaultSecurityConfig(),
		compression: envelope.DefaultConfig(),
		mode:        protocol.ModeAuto,
		metrics:     opts.Metrics,
		tcpConfig:   opts.TCP,
		opts:        opts,
	}
}

// AddResource registers a per-request resource type from a prototype.
func (s *Server) AddResource(proto any) error {
	return s.resources.Add(proto)
}

// AddNamedResource registers a per-request resource under an explicit
// canonical name, the one remote peers address it by.
func (s *Server) AddNamedResource(name string, proto any) error {
	return s.resources.AddNamed(name, proto)
}

// AddSingletonResource registers a shared instance. The instance must be
// safe for concurrent use; every invocation reaches the same object.
func (s *Server) AddSingletonResource(instance any) error {
	return s.resources.AddSingleton(instance)
}

// AddNamedSingletonResource registers a shared instance under an explicit
// name plus optional alias names.
func (s *Server) AddNamedSingletonResource(name string, instance any, aliases ...string) error {
	return s.resources.AddSingletonNamed(name, instance, aliases...)
}

// RemoveResource unregisters the resource for the prototype's canonical
// name. In-flight requests complete with the record they already hold.
func (s *Server) RemoveResource(proto any) {
	s.resources.Remove(proto)
}

// RemoveSingletonResource unregisters a shared instance under every name it
// was published as.
func (s *Server) RemoveSingletonResource(instance any) {
	s.resources.RemoveSingleton(instance)
}

// AddMapper registers a value converter under a canonical type name,
// replacing any built-in for that name.
func (s *Server) AddMapper(typeName string, m mapper.Mapper) {
	s.mappers.Register(typeName, m)
}

// RegisterType makes a concrete Go type reconstructible by the
// auto-serializer under its canonical name.
func (s *Server) RegisterType(typeName string, t reflect.Type) {
	s.mappers.RegisterType(typeName, t)
}

// SetSecurityConfig installs the checksum/signature/whitelist settings.
// Must be called before Up.
func (s *Server) SetSecurityConfig(cfg *wire.SecurityConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("security config cannot change while serving")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.security = cfg
	return nil
}

// SetCompressionConfig installs the reply compression settings. Must be
// called before Up.
func (s *Server) SetCompressionConfig(cfg *envelope.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("compression config cannot change while serving")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.compression = cfg
	return nil
}

// SetStrictTypeCheck toggles registration-time type validation.
func (s *Server) SetStrictTypeCheck(strict bool) {
	s.resources.SetStrict(strict)
}

// SetProtocolVersion restricts accepted protocol versions. Must be called
// before Up.
func (s *Server) SetProtocolVersion(mode protocol.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("protocol mode cannot change while serving")
	}
	s.mode = mode
	return nil
}

// Up builds the dispatcher and starts the transports. It returns once the
// listeners are bound, with the accept loops running in the background.
func (s *Server) Up(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("server is already up")
	}

	dispatcher := protocol.NewDispatcher(
		s.resources, s.mappers, s.security, s.compression, s.mode, s.metrics)
	handler := adapter.HandlerFunc(func(ctx context.Context, line string) adapter.Reply {
		r := dispatcher.HandleLine(ctx, line)
		return adapter.Reply{Line: r.Reply, Close: r.Close}
	})

	tcpServer, err := tcp.New(s.tcpConfig, handler, s.metrics)
	if err != nil {
		return err
	}

	var udpServer *udp.Server
	if s.opts.UDP != nil {
		udpServer, err = udp.New(*s.opts.UDP, handler, s.metrics)
		if err != nil {
			return err
		}
	}

	serveCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.tcpServer = tcpServer
	s.udpServer = udpServer

	s.done.Add(1)
	go func() {
		defer s.done.Done()
		if err := tcpServer.Serve(serveCtx); err != nil {
			logger.Error("tcp transport failed", logger.Err(err))
		}
	}()
	if udpServer != nil {
		s.done.Add(1)
		go func() {
			defer s.done.Done()
			if err := udpServer.Serve(serveCtx); err != nil {
				logger.Error("udp transport failed", logger.Err(err))
			}
		}()
	}

	if err := tcpServer.WaitReady(ctx); err != nil {
		cancel()
		return fmt.Errorf("tcp transport did not come up: %w", err)
	}

	s.running = true
	logger.Info("server up",
		"resources", len(s.resources.Names()),
		"mode", s.mode.String())
	return nil
}

// Down drains and stops the transports.
func (s *Server) Down(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}

	var firstErr error
	if s.tcpServer != nil {
		if err := s.tcpServer.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.udpServer != nil {
		if err := s.udpServer.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.cancel()
	s.done.Wait()
	s.running = false
	logger.Info("server down")
	return firstErr
}

// Addr returns the bound TCP address, nil before Up.
func (s *Server) Addr() net.Addr {
	if s.tcpServer == nil {
		return nil
	}
	return s.tcpServer.Addr()
}
