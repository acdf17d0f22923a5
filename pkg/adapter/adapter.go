// Package adapter defines the contract between transports and the request
// pipeline: a transport delivers one complete frame line and writes back
// exactly one reply line.
package adapter

import (
	"context"
)

// Reply is the pipeline's verdict on one request line.
type Reply struct {
	// Line is the encoded reply without trailing newline; empty means
	// nothing is written.
	Line string

	// Close tells the transport to drop the connection after writing.
	Close bool
}

// Handler processes one request frame. Implementations must be safe for
// concurrent use: every connection of every transport calls the same
// handler.
type Handler interface {
	Handle(ctx context.Context, line string) Reply
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, line string) Reply

func (f HandlerFunc) Handle(ctx context.Context, line string) Reply {
	return f(ctx, line)
}

// Adapter is a transport serving frames to a Handler.
type Adapter interface {
	// Serve accepts traffic until ctx is cancelled or Shutdown is called.
	Serve(ctx context.Context) error

	// Shutdown drains in-flight work and stops the transport.
	Shutdown(ctx context.Context) error
}
