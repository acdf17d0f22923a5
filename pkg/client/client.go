// Package client is the consumer side: it encodes calls into frames, ships
// them over TCP (optionally TLS) and decodes replies, re-raising remote
// exceptions with their business-vs-server distinction intact.
package client

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"reflect"
	"strconv"
	"sync"
	"time"

	"github.com/marmos91/tcprest/internal/descriptor"
	"github.com/marmos91/tcprest/internal/envelope"
	"github.com/marmos91/tcprest/internal/fault"
	"github.com/marmos91/tcprest/internal/logger"
	"github.com/marmos91/tcprest/internal/mapper"
	"github.com/marmos91/tcprest/internal/protocol"
	"github.com/marmos91/tcprest/internal/wire"
)

// DefaultTimeout bounds a call when the options carry none.
const DefaultTimeout = 30 * time.Second

// ErrTimeout is raised when a call's deadline expires before the reply
// arrives. The connection is closed without waiting.
var ErrTimeout = errors.New("call timed out")

// Options configures a client.
type Options struct {
	// Host and Port locate the server.
	Host string
	Port int

	// TLS enables transport encryption when non-nil.
	TLS *tls.Config

	// Timeout is the default per-call deadline. 0 means DefaultTimeout; a
	// context with an earlier deadline wins.
	Timeout time.Duration

	// UseV1 speaks the legacy frame format instead of the current one.
	UseV1 bool

	// Compression enables the gzip envelope on outgoing frames.
	Compression *envelope.Config

	// Security configures CHK/SIG trailers and their verification.
	Security *wire.SecurityConfig

	// Mappers adds or overrides value converters by canonical type name.
	Mappers map[string]mapper.Mapper
}

// Client is a connection-caching caller. Calls are serialized on one
// connection; a failed or timed-out call closes it and the next call
// redials.
type Client struct {
	opts    Options
	mappers *mapper.Registry
	encoder *protocol.RequestEncoder
	codecV2 *protocol.CodecV2
	codecV1 *protocol.CodecV1

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
}

// New creates a client. No connection is made until the first call.
func New(opts Options) (*Client, error) {
	if opts.Port <= 0 || opts.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", opts.Port)
	}
	if opts.Security != nil {
		if err := opts.Security.Validate(); err != nil {
			return nil, err
		}
	}
	if err := opts.Compression.Validate(); err != nil {
		return nil, err
	}

	mappers := mapper.NewRegistry()
	mappers.RegisterAll(opts.Mappers)

	return &Client{
		opts:    opts,
		mappers: mappers,
		encoder: &protocol.RequestEncoder{
			Mappers:     mappers,
			Compression: opts.Compression,
			Security:    opts.Security,
		},
		codecV2: &protocol.CodecV2{Mappers: mappers, Security: opts.Security},
		codecV1: &protocol.CodecV1{Mappers: mappers, Security: opts.Security},
	}, nil
}

// RegisterType makes a concrete Go type reconstructible by the
// auto-serializer when it appears in replies.
func (c *Client) RegisterType(typeName string, t reflect.Type) {
	c.mappers.RegisterType(typeName, t)
}

// Call invokes class/method remotely. The descriptor is derived from the
// argument types; nil arguments widen to the object type, so overloads with
// nullable parameters are better called through Bind, which derives the
// descriptor from declared types.
//
// returns may be nil for void methods. The result is decoded against it.
func (c *Client) Call(ctx context.Context, class, method string, returns reflect.Type, args ...any) (any, error) {
	desc, err := descriptorForArgs(args)
	if err != nil {
		return nil, err
	}
	return c.call(ctx, class, method, desc, returns, args)
}

// CallWithDescriptor invokes class/method with an explicit descriptor,
// bypassing argument-type inference.
func (c *Client) CallWithDescriptor(ctx context.Context, class, method, desc string, returns reflect.Type, args ...any) (any, error) {
	return c.call(ctx, class, method, desc, returns, args)
}

func (c *Client) call(ctx context.Context, class, method, desc string, returns reflect.Type, args []any) (any, error) {
	var frame string
	var err error
	if c.opts.UseV1 {
		frame, err = c.encoder.EncodeV1(class, method, args)
	} else {
		frame, err = c.encoder.EncodeV2(class, method, desc, args)
	}
	if err != nil {
		return nil, err
	}

	line, err := c.roundTrip(ctx, frame)
	if err != nil {
		return nil, err
	}

	if c.opts.UseV1 {
		return c.codecV1.DecodeResponse(line, returns)
	}
	resp, err := c.codecV2.DecodeResponse(line, returns)
	if err != nil {
		return nil, err
	}
	if resp.Err != nil {
		return nil, resp.Err
	}
	return resp.Value, nil
}

// roundTrip writes one frame and reads one reply line under the call
// deadline. The connection is dropped on any failure so the next call
// starts clean.
func (c *Client) roundTrip(ctx context.Context, frame string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := c.deadline(ctx)

	if err := c.ensureConn(deadline); err != nil {
		return "", err
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		c.drop()
		return "", err
	}

	if _, err := c.conn.Write(append([]byte(frame), '\n')); err != nil {
		c.drop()
		return "", c.mapNetErr(err)
	}

	line, err := c.reader.ReadString('\n')
	if err != nil {
		c.drop()
		return "", c.mapNetErr(err)
	}
	return line, nil
}

func (c *Client) deadline(ctx context.Context) time.Time {
	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	return deadline
}

func (c *Client) ensureConn(deadline time.Time) error {
	if c.conn != nil {
		return nil
	}
	addr := net.JoinHostPort(c.opts.Host, strconv.Itoa(c.opts.Port))
	dialer := &net.Dialer{Deadline: deadline}

	var conn net.Conn
	var err error
	if c.opts.TLS != nil {
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, c.opts.TLS)
	} else {
		conn, err = dialer.Dial("tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	logger.Debug("connected", "addr", addr, "tls", c.opts.TLS != nil)
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	return nil
}

// drop closes and forgets the cached connection.
func (c *Client) drop() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		c.reader = nil
	}
}

func (c *Client) mapNetErr(err error) error {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return ErrTimeout
	}
	return err
}

// Close drops the cached connection. The client remains usable; the next
// call redials.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drop()
	return nil
}

// descriptorForArgs derives a call descriptor from the dynamic argument
// types. Nil arguments render as the object type.
func descriptorForArgs(args []any) (string, error) {
	desc := "("
	for _, a := range args {
		if a == nil {
			desc += "L" + "java/lang/Object" + ";"
			continue
		}
		d, err := descriptor.ForType(reflect.TypeOf(a), nil)
		if err != nil {
			return "", err
		}
		desc += d
	}
	return desc + ")", nil
}

// IsBusiness reports whether a call failed with a remote business
// exception.
func IsBusiness(err error) bool {
	return fault.IsBusiness(err)
}

// RemoteType extracts the remote exception type name from a call failure,
// or "".
func RemoteType(err error) string {
	var r *fault.Remote
	if errors.As(err, &r) {
		return r.RemoteType
	}
	return ""
}
