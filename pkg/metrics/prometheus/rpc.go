// Package prometheus implements the metrics interfaces on a Prometheus
// registry.
package prometheus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/tcprest/pkg/metrics"
)

func init() {
	metrics.RegisterRPCMetricsConstructor(func() metrics.RPCMetrics {
		return newRPCMetrics()
	})
}

// rpcMetrics is the Prometheus implementation of metrics.RPCMetrics.
type rpcMetrics struct {
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	requestsInFlight  *prometheus.GaugeVec
	frameBytes        *prometheus.HistogramVec
	compressedFrames  *prometheus.CounterVec
	activeConnections prometheus.Gauge
	connsAccepted     prometheus.Counter
	connsClosed       prometheus.Counter
	connsForceClosed  prometheus.Counter
}

// newRPCMetrics creates the Prometheus-backed RPC metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func newRPCMetrics() metrics.RPCMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &rpcMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "tcprest_requests_total",
				Help: "Total number of processed requests by resource, method, protocol version and status",
			},
			[]string{"resource", "method", "version", "status"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tcprest_request_duration_seconds",
				Help:    "Request processing time from parse to encoded reply",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"resource", "method", "version"},
		),
		requestsInFlight: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tcprest_requests_in_flight",
				Help: "Number of requests currently being processed",
			},
			[]string{"resource", "method"},
		),
		frameBytes: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tcprest_frame_bytes",
				Help:    "Frame sizes on the wire by direction",
				Buckets: prometheus.ExponentialBuckets(64, 4, 8),
			},
			[]string{"direction"}, // "in", "out"
		),
		compressedFrames: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "tcprest_compressed_frames_total",
				Help: "Frames that used the gzip envelope, by direction",
			},
			[]string{"direction"},
		),
		activeConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "tcprest_active_connections",
				Help: "Current number of open client connections",
			},
		),
		connsAccepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "tcprest_connections_accepted_total",
				Help: "Total number of accepted client connections",
			},
		),
		connsClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "tcprest_connections_closed_total",
				Help: "Total number of closed client connections",
			},
		),
		connsForceClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "tcprest_connections_force_closed_total",
				Help: "Connections forcibly closed after the shutdown drain timeout",
			},
		),
	}
}

func (m *rpcMetrics) RecordRequest(resource, method, version string, duration time.Duration, status int) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(resource, method, version, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(resource, method, version).Observe(duration.Seconds())
}

func (m *rpcMetrics) RecordRequestStart(resource, method string) {
	if m == nil {
		return
	}
	m.requestsInFlight.WithLabelValues(resource, method).Inc()
}

func (m *rpcMetrics) RecordRequestEnd(resource, method string) {
	if m == nil {
		return
	}
	m.requestsInFlight.WithLabelValues(resource, method).Dec()
}

func (m *rpcMetrics) RecordFrameBytes(direction string, bytes int) {
	if m == nil {
		return
	}
	m.frameBytes.WithLabelValues(direction).Observe(float64(bytes))
}

func (m *rpcMetrics) RecordCompression(direction string) {
	if m == nil {
		return
	}
	m.compressedFrames.WithLabelValues(direction).Inc()
}

func (m *rpcMetrics) SetActiveConnections(count int32) {
	if m == nil {
		return
	}
	m.activeConnections.Set(float64(count))
}

func (m *rpcMetrics) RecordConnectionAccepted() {
	if m == nil {
		return
	}
	m.connsAccepted.Inc()
}

func (m *rpcMetrics) RecordConnectionClosed() {
	if m == nil {
		return
	}
	m.connsClosed.Inc()
}

func (m *rpcMetrics) RecordConnectionForceClosed() {
	if m == nil {
		return
	}
	m.connsForceClosed.Inc()
}
