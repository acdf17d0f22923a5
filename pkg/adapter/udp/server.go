// Package udp is the datagram transport: one datagram carries one request
// frame, the reply goes back to the sender as one datagram. No ordering or
// delivery guarantees.
package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/tcprest/internal/logger"
	"github.com/marmos91/tcprest/pkg/adapter"
	"github.com/marmos91/tcprest/pkg/metrics"
)

// DefaultMaxDatagramBytes keeps a frame inside one ethernet MTU worth of
// UDP payload. Larger datagrams are dropped without a reply.
const DefaultMaxDatagramBytes = 1472

// Config holds the datagram transport settings.
type Config struct {
	// Host is the listen address. Empty binds all interfaces.
	Host string `mapstructure:"host"`

	// Port is the UDP port to listen on. If 0, defaults to 8001.
	Port int `mapstructure:"port" validate:"min=0,max=65535"`

	// MaxDatagramBytes caps the size of one request frame. If 0, defaults
	// to DefaultMaxDatagramBytes.
	MaxDatagramBytes int `mapstructure:"max_datagram_bytes" validate:"min=0"`
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8001
	}
	if c.MaxDatagramBytes == 0 {
		c.MaxDatagramBytes = DefaultMaxDatagramBytes
	}
}

// Server is the UDP transport. Each packet is dispatched on its own
// goroutine; the pipeline's Close verdict is meaningless here and ignored.
type Server struct {
	config  Config
	handler adapter.Handler
	metrics metrics.RPCMetrics

	connMu sync.RWMutex
	conn   *net.UDPConn

	shutdown     chan struct{}
	shutdownOnce sync.Once
	inFlight     sync.WaitGroup
}

// New creates a UDP server for the given handler.
func New(cfg Config, handler adapter.Handler, m metrics.RPCMetrics) (*Server, error) {
	if handler == nil {
		return nil, fmt.Errorf("udp server requires a handler")
	}
	cfg.applyDefaults()
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid udp config: %w", err)
	}
	return &Server{
		config:   cfg,
		handler:  handler,
		metrics:  m,
		shutdown: make(chan struct{}),
	}, nil
}

// Addr returns the bound address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Serve binds the socket and reads datagrams until the context is
// cancelled or Shutdown is called.
func (s *Server) Serve(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port)))
	if err != nil {
		return fmt.Errorf("resolve udp address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listen udp on %s: %w", addr, err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	logger.Info("udp transport listening",
		"addr", conn.LocalAddr().String(),
		"max_datagram_bytes", s.config.MaxDatagramBytes)

	go func() {
		select {
		case <-ctx.Done():
			_ = s.Shutdown(context.Background())
		case <-s.shutdown:
		}
	}()

	// One extra byte so an exactly-too-large datagram is detectable.
	buf := make([]byte, s.config.MaxDatagramBytes+1)
	for {
		n, peer, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.shutdown:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.Warn("udp read failed", logger.Err(err))
			continue
		}
		if n > s.config.MaxDatagramBytes {
			logger.Warn("oversized datagram dropped",
				logger.ClientIP(peer.IP.String()),
				logger.FrameBytes(n))
			continue
		}

		frame := string(buf[:n])
		s.inFlight.Add(1)
		go func(frame string, peer *net.UDPAddr) {
			defer s.inFlight.Done()
			s.handlePacket(ctx, conn, frame, peer)
		}(frame, peer)
	}
}

// handlePacket runs one datagram through the pipeline and sends the reply.
func (s *Server) handlePacket(ctx context.Context, conn *net.UDPConn, frame string, peer *net.UDPAddr) {
	lc := logger.NewLogContext(peer.IP.String())
	ctx = logger.WithContext(ctx, lc)

	if s.metrics != nil {
		s.metrics.RecordFrameBytes("in", len(frame))
	}

	reply := s.handler.Handle(ctx, strings.TrimRight(frame, "\r\n"))
	if reply.Line == "" {
		return
	}

	if _, err := conn.WriteToUDP(append([]byte(reply.Line), '\n'), peer); err != nil {
		logger.DebugCtx(ctx, "reply send failed", logger.Err(err))
		return
	}
	if s.metrics != nil {
		s.metrics.RecordFrameBytes("out", len(reply.Line)+1)
	}
}

// Shutdown stops the read loop and waits for in-flight packets.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		close(s.shutdown)

		s.connMu.RLock()
		conn := s.conn
		s.connMu.RUnlock()
		if conn != nil {
			err = conn.Close()
		}

		done := make(chan struct{})
		go func() {
			s.inFlight.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = ctx.Err()
		}
	})
	return err
}
