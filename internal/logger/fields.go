package logger

import "log/slog"

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so that logs can be
// aggregated and queried by field.
const (
	// Distributed tracing
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// Protocol & dispatch
	KeyVersion    = "version"    // Wire protocol version: V1, V2
	KeyResource   = "resource"   // Target resource canonical name
	KeyMethod     = "method"     // Target method name
	KeyDescriptor = "descriptor" // Method parameter descriptor
	KeyStatus     = "status"     // Response status code (0-3)
	KeyKind       = "kind"       // Fault kind: protocol, security, mapper, business, server

	// Frames
	KeyFrameBytes = "frame_bytes" // Size of the wire frame in bytes
	KeyCompressed = "compressed"  // Whether the payload was gzip compressed
	KeyChecksum   = "checksum"    // Checksum mode: none, crc32, hmac
	KeyScheme     = "scheme"      // Signature scheme name

	// Client identification
	KeyClientIP   = "client_ip"   // Client IP address
	KeyClientPort = "client_port" // Client source port

	// Session & connection
	KeyConnectionID = "connection_id" // Connection identifier
	KeyRequestID    = "request_id"    // Per-request identifier

	// Operation metadata
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
)

// Field constructors for type safety.

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// Version returns a slog.Attr for the wire protocol version
func Version(v string) slog.Attr {
	return slog.String(KeyVersion, v)
}

// Resource returns a slog.Attr for the target resource name
func Resource(name string) slog.Attr {
	return slog.String(KeyResource, name)
}

// Method returns a slog.Attr for the target method name
func Method(name string) slog.Attr {
	return slog.String(KeyMethod, name)
}

// Descriptor returns a slog.Attr for the method parameter descriptor
func Descriptor(d string) slog.Attr {
	return slog.String(KeyDescriptor, d)
}

// Status returns a slog.Attr for the response status code
func Status(code int) slog.Attr {
	return slog.Int(KeyStatus, code)
}

// Kind returns a slog.Attr for the fault kind
func Kind(k string) slog.Attr {
	return slog.String(KeyKind, k)
}

// FrameBytes returns a slog.Attr for the wire frame size
func FrameBytes(n int) slog.Attr {
	return slog.Int(KeyFrameBytes, n)
}

// Compressed returns a slog.Attr for the compression indicator
func Compressed(c bool) slog.Attr {
	return slog.Bool(KeyCompressed, c)
}

// ClientIP returns a slog.Attr for client IP address
func ClientIP(addr string) slog.Attr {
	return slog.String(KeyClientIP, addr)
}

// ConnectionID returns a slog.Attr for connection identifier
func ConnectionID(id string) slog.Attr {
	return slog.String(KeyConnectionID, id)
}

// RequestID returns a slog.Attr for per-request identifier
func RequestID(id string) slog.Attr {
	return slog.String(KeyRequestID, id)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
