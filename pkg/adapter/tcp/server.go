// Package tcp is the stream transport: it accepts connections, reads one
// request frame per line and writes one reply line per request, in order.
package tcp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/tcprest/internal/logger"
	"github.com/marmos91/tcprest/pkg/adapter"
	"github.com/marmos91/tcprest/pkg/metrics"
)

// Server is the TCP transport. All methods are safe for concurrent use.
// Shutdown runs exactly once; later calls return immediately.
type Server struct {
	config  Config
	handler adapter.Handler
	metrics metrics.RPCMetrics

	// listener is published once the socket is bound.
	listenerMu    sync.RWMutex
	listener      net.Listener
	listenerReady chan struct{}

	// shutdown closes when Shutdown is first called.
	shutdown     chan struct{}
	shutdownOnce sync.Once

	// activeConns tracks in-flight connection handlers for draining.
	activeConns sync.WaitGroup

	// activeConnections maps remote address to net.Conn for forced closure
	// after the drain timeout.
	activeConnections sync.Map

	// connSemaphore bounds concurrent connections when MaxConnections > 0.
	connSemaphore chan struct{}

	connCount atomic.Int32
}

// New creates a TCP server for the given handler. The configuration is
// defaulted and validated here; Serve binds the socket.
func New(cfg Config, handler adapter.Handler, m metrics.RPCMetrics) (*Server, error) {
	if handler == nil {
		return nil, fmt.Errorf("tcp server requires a handler")
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	var sem chan struct{}
	if cfg.MaxConnections > 0 {
		sem = make(chan struct{}, cfg.MaxConnections)
	}

	return &Server{
		config:        cfg,
		handler:       handler,
		metrics:       m,
		listenerReady: make(chan struct{}),
		shutdown:      make(chan struct{}),
		connSemaphore: sem,
	}, nil
}

// Addr returns the bound listen address, or nil before Serve has bound the
// socket.
func (s *Server) Addr() net.Addr {
	s.listenerMu.RLock()
	defer s.listenerMu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// WaitReady blocks until the listener is bound or the context ends.
func (s *Server) WaitReady(ctx context.Context) error {
	select {
	case <-s.listenerReady:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Serve binds the socket and accepts connections until the context is
// cancelled or Shutdown is called.
func (s *Server) Serve(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))

	var ln net.Listener
	var err error
	if s.config.TLS.Enabled {
		cert, loadErr := tls.LoadX509KeyPair(s.config.TLS.CertFile, s.config.TLS.KeyFile)
		if loadErr != nil {
			return fmt.Errorf("load TLS key pair: %w", loadErr)
		}
		ln, err = tls.Listen("tcp", addr, &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		})
	} else {
		ln, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	s.listenerMu.Lock()
	s.listener = ln
	s.listenerMu.Unlock()
	close(s.listenerReady)

	logger.Info("tcp transport listening",
		"addr", ln.Addr().String(),
		"tls", s.config.TLS.Enabled,
		"max_connections", s.config.MaxConnections)

	go func() {
		select {
		case <-ctx.Done():
			_ = s.Shutdown(context.Background())
		case <-s.shutdown:
		}
	}()

	for {
		if s.connSemaphore != nil {
			select {
			case s.connSemaphore <- struct{}{}:
			case <-s.shutdown:
				return nil
			}
		}

		conn, err := ln.Accept()
		if err != nil {
			if s.connSemaphore != nil {
				<-s.connSemaphore
			}
			select {
			case <-s.shutdown:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.Warn("accept failed", logger.Err(err))
			continue
		}

		if s.metrics != nil {
			s.metrics.RecordConnectionAccepted()
			s.metrics.SetActiveConnections(s.connCount.Add(1))
		} else {
			s.connCount.Add(1)
		}

		s.activeConns.Add(1)
		connAddr := conn.RemoteAddr().String()
		s.activeConnections.Store(connAddr, conn)

		go func(c net.Conn, addr string) {
			defer func() {
				c.Close()
				s.activeConnections.Delete(addr)
				s.activeConns.Done()
				if s.connSemaphore != nil {
					<-s.connSemaphore
				}
				if s.metrics != nil {
					s.metrics.RecordConnectionClosed()
					s.metrics.SetActiveConnections(s.connCount.Add(-1))
				} else {
					s.connCount.Add(-1)
				}
			}()
			s.handleConnection(ctx, c)
		}(conn, connAddr)
	}
}

// Shutdown stops accepting, waits for active connections up to the drain
// timeout, then force-closes the rest. Runs once.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		close(s.shutdown)

		s.listenerMu.RLock()
		ln := s.listener
		s.listenerMu.RUnlock()
		if ln != nil {
			err = ln.Close()
		}

		drained := make(chan struct{})
		go func() {
			s.activeConns.Wait()
			close(drained)
		}()

		timeout := s.config.Timeouts.Shutdown
		select {
		case <-drained:
			logger.Info("tcp transport drained cleanly")
		case <-time.After(timeout):
			logger.Warn("shutdown drain timeout, force-closing connections",
				"timeout", timeout.String())
			s.activeConnections.Range(func(key, value any) bool {
				if c, ok := value.(net.Conn); ok {
					c.Close()
					if s.metrics != nil {
						s.metrics.RecordConnectionForceClosed()
					}
				}
				return true
			})
			<-drained
		case <-ctx.Done():
			err = ctx.Err()
		}
	})
	return err
}
