package metrics

import (
	"time"
)

// RPCMetrics provides observability for the request pipeline.
//
// This interface is optional - pass nil to disable metrics collection with
// zero overhead.
//
// Example usage:
//
//	// With metrics enabled
//	metrics.InitRegistry()
//	m := metrics.NewRPCMetrics()
//	srv := server.New(cfg, m)
//
//	// Without metrics (pass nil for zero overhead)
//	srv := server.New(cfg, nil)
type RPCMetrics interface {
	// RecordRequest records a completed request with its target resource,
	// method, protocol version, duration, and wire status code.
	RecordRequest(resource, method, version string, duration time.Duration, status int)

	// RecordRequestStart increments the in-flight request counter.
	RecordRequestStart(resource, method string)

	// RecordRequestEnd decrements the in-flight request counter.
	RecordRequestEnd(resource, method string)

	// RecordFrameBytes records the sizes of one request/reply frame pair.
	RecordFrameBytes(direction string, bytes int)

	// RecordCompression counts frames that actually used the gzip envelope.
	RecordCompression(direction string)

	// SetActiveConnections updates the current connection count.
	SetActiveConnections(count int32)

	// RecordConnectionAccepted increments the accepted connections counter.
	RecordConnectionAccepted()

	// RecordConnectionClosed increments the closed connections counter.
	RecordConnectionClosed()

	// RecordConnectionForceClosed counts connections killed at shutdown
	// after the drain timeout.
	RecordConnectionForceClosed()
}

// newPrometheusRPCMetrics is installed by the prometheus subpackage during
// init. The indirection avoids an import cycle while keeping the API clean.
var newPrometheusRPCMetrics func() RPCMetrics

// RegisterRPCMetricsConstructor installs the Prometheus constructor. Called
// by pkg/metrics/prometheus during package initialization.
func RegisterRPCMetricsConstructor(constructor func() RPCMetrics) {
	newPrometheusRPCMetrics = constructor
}

// NewRPCMetrics creates a Prometheus-backed RPCMetrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewRPCMetrics() RPCMetrics {
	if !IsEnabled() || newPrometheusRPCMetrics == nil {
		return nil
	}
	return newPrometheusRPCMetrics()
}
