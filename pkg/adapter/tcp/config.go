package tcp

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// TimeoutsConfig bounds the I/O of one connection.
type TimeoutsConfig struct {
	// Read is the maximum duration to wait for a complete request line.
	// 0 means no timeout (not recommended).
	Read time.Duration `mapstructure:"read" validate:"min=0"`

	// Write is the maximum duration for writing a reply line.
	// 0 means no timeout (not recommended).
	Write time.Duration `mapstructure:"write" validate:"min=0"`

	// Idle is the maximum duration a connection can sit between requests
	// before being closed. 0 means connections stay open indefinitely.
	Idle time.Duration `mapstructure:"idle" validate:"min=0"`

	// Shutdown is the maximum duration to wait for active connections to
	// drain during graceful shutdown. After this, remaining connections
	// are forcibly closed. Must be > 0.
	Shutdown time.Duration `mapstructure:"shutdown" validate:"required,gt=0"`
}

// TLSConfig enables TLS on the listener. Certificate material is supplied
// as file paths; the frame pipeline never sees the difference.
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file" validate:"required_if=Enabled true"`
	KeyFile  string `mapstructure:"key_file" validate:"required_if=Enabled true"`
}

// Config holds the stream transport settings.
//
// Default values (applied by New if zero):
//   - Port: 8001
//   - MaxLineBytes: 1 MiB
//   - Timeouts.Read: 5m, Write: 30s, Idle: 5m, Shutdown: 30s
type Config struct {
	// Host is the listen address. Empty binds all interfaces.
	Host string `mapstructure:"host"`

	// Port is the TCP port to listen on. If 0, defaults to 8001.
	Port int `mapstructure:"port" validate:"min=0,max=65535"`

	// MaxConnections limits concurrent client connections. When reached,
	// new connections wait until an existing one closes. 0 means
	// unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0"`

	// MaxLineBytes caps the length of one request frame. Longer lines
	// close the connection. If 0, defaults to 1 MiB.
	MaxLineBytes int `mapstructure:"max_line_bytes" validate:"min=0"`

	Timeouts TimeoutsConfig `mapstructure:"timeouts"`

	TLS TLSConfig `mapstructure:"tls"`
}

// DefaultPort is the conventional listen port of the line protocol.
const DefaultPort = 8001

// defaultMaxLineBytes bounds a frame when the config does not.
const defaultMaxLineBytes = 1 << 20

// applyDefaults fills zero values in place.
func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.MaxLineBytes == 0 {
		c.MaxLineBytes = defaultMaxLineBytes
	}
	if c.Timeouts.Read == 0 {
		c.Timeouts.Read = 5 * time.Minute
	}
	if c.Timeouts.Write == 0 {
		c.Timeouts.Write = 30 * time.Second
	}
	if c.Timeouts.Idle == 0 {
		c.Timeouts.Idle = 5 * time.Minute
	}
	if c.Timeouts.Shutdown == 0 {
		c.Timeouts.Shutdown = 30 * time.Second
	}
}

// validate checks the config after defaults are applied.
func (c *Config) validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid tcp config: %w", err)
	}
	return nil
}
