// Package config loads, validates and watches the server configuration.
//
// Configuration comes from a YAML file, overridable per key with TCPREST_*
// environment variables. Durations accept "30s"/"5m" forms; sizes accept
// "64Ki"/"1Mi" forms.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/tcprest/internal/bytesize"
)

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is the minimum severity that gets logged.
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format selects human-readable text or machine-readable JSON.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is "stdout", "stderr" or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// ServerConfig holds the stream transport settings.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// Protocol restricts accepted frame versions: "v1", "v2" or "auto".
	Protocol string `mapstructure:"protocol" validate:"omitempty,oneof=v1 v2 auto" yaml:"protocol"`

	// StrictTypeCheck fails resource registration on unsupported method
	// types instead of logging a warning.
	StrictTypeCheck bool `mapstructure:"strict_type_check" yaml:"strict_type_check"`

	MaxConnections int               `mapstructure:"max_connections" validate:"min=0" yaml:"max_connections"`
	MaxLineBytes   bytesize.ByteSize `mapstructure:"max_line_bytes" yaml:"max_line_bytes"`

	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"min=0" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"min=0" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" validate:"min=0" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	TLS TLSConfig `mapstructure:"tls" yaml:"tls"`
}

// TLSConfig points at the PEM material for the TLS listener.
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	CertFile string `mapstructure:"cert_file" validate:"required_if=Enabled true" yaml:"cert_file"`
	KeyFile  string `mapstructure:"key_file" validate:"required_if=Enabled true" yaml:"key_file"`
}

// UDPConfig holds the datagram transport settings.
type UDPConfig struct {
	Enabled          bool              `mapstructure:"enabled" yaml:"enabled"`
	Host             string            `mapstructure:"host" yaml:"host"`
	Port             int               `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
	MaxDatagramBytes bytesize.ByteSize `mapstructure:"max_datagram_bytes" yaml:"max_datagram_bytes"`
}

// SecurityConfig holds checksum, signature and whitelist settings.
type SecurityConfig struct {
	// Checksum selects the integrity trailer: "none", "crc32" or "hmac".
	Checksum string `mapstructure:"checksum" validate:"omitempty,oneof=none crc32 hmac" yaml:"checksum"`

	// HMACKey is the shared secret for the hmac mode, Base64-encoded.
	HMACKey string `mapstructure:"hmac_key" yaml:"hmac_key"`

	// RequireChecksum rejects frames without a CHK trailer.
	RequireChecksum bool `mapstructure:"require_checksum" yaml:"require_checksum"`

	// SignatureScheme enables SIG trailers: "", "rsa" or "ed25519".
	SignatureScheme string `mapstructure:"signature_scheme" validate:"omitempty,oneof=rsa ed25519 RSA ED25519" yaml:"signature_scheme"`

	// PrivateKeyFile and PublicKeyFile point at PEM-encoded key material
	// for the configured scheme.
	PrivateKeyFile string `mapstructure:"private_key_file" yaml:"private_key_file"`
	PublicKeyFile  string `mapstructure:"public_key_file" yaml:"public_key_file"`

	// Whitelist restricts callable resource classes. Empty allows all.
	Whitelist []string `mapstructure:"whitelist" yaml:"whitelist"`

	// MaxDecompressedBytes caps inflated payload size. 0 disables.
	MaxDecompressedBytes bytesize.ByteSize `mapstructure:"max_decompressed_bytes" yaml:"max_decompressed_bytes"`
}

// CompressionConfig controls the gzip envelope on replies.
type CompressionConfig struct {
	Enabled   bool              `mapstructure:"enabled" yaml:"enabled"`
	Threshold bytesize.ByteSize `mapstructure:"threshold" yaml:"threshold"`

	// Level is the gzip level, 1 (fastest) to 9 (smallest); 0 selects the
	// default level.
	Level int `mapstructure:"level" validate:"min=0,max=9" yaml:"level"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// TelemetryConfig controls trace export.
type TelemetryConfig struct {
	Enabled    bool    `mapstructure:"enabled" yaml:"enabled"`
	Endpoint   string  `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure   bool    `mapstructure:"insecure" yaml:"insecure"`
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`
}

// Config is the full server configuration.
type Config struct {
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	UDP         UDPConfig         `mapstructure:"udp" yaml:"udp"`
	Security    SecurityConfig    `mapstructure:"security" yaml:"security"`
	Compression CompressionConfig `mapstructure:"compression" yaml:"compression"`
	Metrics     MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry" yaml:"telemetry"`
}

// GetDefaultConfig returns the configuration used when no file exists.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero values in place.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8001
	}
	if cfg.Server.Protocol == "" {
		cfg.Server.Protocol = "auto"
	}
	if cfg.Server.MaxLineBytes == 0 {
		cfg.Server.MaxLineBytes = 1 << 20
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 5 * time.Minute
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 5 * time.Minute
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}

	if cfg.UDP.Port == 0 {
		cfg.UDP.Port = cfg.Server.Port
	}
	if cfg.UDP.MaxDatagramBytes == 0 {
		cfg.UDP.MaxDatagramBytes = 1472
	}

	if cfg.Security.Checksum == "" {
		cfg.Security.Checksum = "none"
	}
	if cfg.Security.MaxDecompressedBytes == 0 {
		cfg.Security.MaxDecompressedBytes = 16 << 20
	}

	if cfg.Compression.Threshold == 0 {
		cfg.Compression.Threshold = 1024
	}

	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = ":9090"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
}

// Validate checks the configuration after defaults are applied.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Security.Checksum == "hmac" && cfg.Security.HMACKey == "" {
		return fmt.Errorf("invalid configuration: hmac checksum requires security.hmac_key")
	}
	return nil
}
