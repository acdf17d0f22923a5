package tcp

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/tcprest/internal/logger"
)

// handleConnection reads request lines until the peer disconnects, a
// timeout fires, or the pipeline asks for closure. Frames of one connection
// are processed serially so replies keep strict request order.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	connID := uuid.NewString()
	clientIP, _, _ := net.SplitHostPort(conn.RemoteAddr().String())

	lc := logger.NewLogContext(clientIP)
	lc.ConnectionID = connID
	ctx = logger.WithContext(ctx, lc)

	logger.DebugCtx(ctx, "connection opened")

	reader := bufio.NewReaderSize(conn, 64*1024)

	for {
		select {
		case <-s.shutdown:
			return
		default:
		}

		if err := s.setReadDeadline(conn); err != nil {
			return
		}

		line, err := readLine(reader, s.config.MaxLineBytes)
		if err != nil {
			s.logReadEnd(ctx, err)
			return
		}
		if s.metrics != nil {
			s.metrics.RecordFrameBytes("in", len(line))
		}

		reply := s.handler.Handle(ctx, line)

		if reply.Line != "" {
			if s.config.Timeouts.Write > 0 {
				if err := conn.SetWriteDeadline(time.Now().Add(s.config.Timeouts.Write)); err != nil {
					return
				}
			}
			if _, err := conn.Write(append([]byte(reply.Line), '\n')); err != nil {
				logger.DebugCtx(ctx, "reply write failed", logger.Err(err))
				return
			}
			if s.metrics != nil {
				s.metrics.RecordFrameBytes("out", len(reply.Line)+1)
			}
		}
		if reply.Close {
			logger.DebugCtx(ctx, "closing connection on pipeline request")
			return
		}
	}
}

// setReadDeadline applies the tighter of the idle and read timeouts.
func (s *Server) setReadDeadline(conn net.Conn) error {
	timeout := s.config.Timeouts.Idle
	if s.config.Timeouts.Read > 0 && (timeout == 0 || s.config.Timeouts.Read < timeout) {
		timeout = s.config.Timeouts.Read
	}
	if timeout == 0 {
		return conn.SetReadDeadline(time.Time{})
	}
	return conn.SetReadDeadline(time.Now().Add(timeout))
}

// errLineTooLong reports a frame exceeding MaxLineBytes.
var errLineTooLong = errors.New("request line exceeds maximum length")

// readLine reads one LF-terminated frame, bounded by maxBytes.
func readLine(r *bufio.Reader, maxBytes int) (string, error) {
	var buf []byte
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			return "", err
		}
		if len(buf)+len(chunk) > maxBytes {
			return "", errLineTooLong
		}
		buf = append(buf, chunk...)
		if !isPrefix {
			return string(buf), nil
		}
	}
}

// logReadEnd logs why a read loop stopped, quiet for plain disconnects.
func (s *Server) logReadEnd(ctx context.Context, err error) {
	switch {
	case errors.Is(err, io.EOF):
		logger.DebugCtx(ctx, "peer disconnected")
	case errors.Is(err, os.ErrDeadlineExceeded):
		logger.DebugCtx(ctx, "connection timed out")
	case errors.Is(err, net.ErrClosed):
	case errors.Is(err, errLineTooLong):
		logger.WarnCtx(ctx, "oversized frame, closing connection")
	default:
		logger.DebugCtx(ctx, "read failed", logger.Err(err))
	}
}
