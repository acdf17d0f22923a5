// Package telemetry wires OpenTelemetry tracing for the request pipeline.
package telemetry

// Config controls trace export.
type Config struct {
	// Enabled turns the exporter on; when false every span is a no-op.
	Enabled bool

	// ServiceName and ServiceVersion identify this process in the trace
	// backend.
	ServiceName    string
	ServiceVersion string

	// Endpoint is the OTLP gRPC target, host:port.
	Endpoint string

	// Insecure disables TLS on the exporter connection.
	Insecure bool

	// SampleRate is the head-sampling ratio in [0, 1]; 1 keeps every trace.
	SampleRate float64
}

// DefaultConfig returns the settings used when no configuration is given:
// tracing off, a local collector, full sampling.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "tcprest",
		ServiceVersion: "dev",
		Endpoint:       "localhost:4317",
		Insecure:       true,
		SampleRate:     1.0,
	}
}
