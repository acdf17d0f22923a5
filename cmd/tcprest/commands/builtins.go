package commands

import (
	"os"
	"time"

	"github.com/marmos91/tcprest/internal/logger"
	"github.com/marmos91/tcprest/pkg/server"
)

// Diagnostics is the built-in resource every standalone server carries, so a
// fresh deployment can be probed before any application resources exist.
type Diagnostics struct {
	started time.Time
}

// Ping returns "pong". Useful as a liveness probe.
func (d *Diagnostics) Ping() string {
	return "pong"
}

// Echo returns its argument unchanged.
func (d *Diagnostics) Echo(s string) string {
	return s
}

// Uptime returns seconds since the server came up.
func (d *Diagnostics) Uptime() int64 {
	return int64(time.Since(d.started).Seconds())
}

// Hostname returns the server's hostname.
func (d *Diagnostics) Hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return name
}

// Version returns the build version string.
func (d *Diagnostics) Version() string {
	return Version
}

// registerBuiltins installs the diagnostic resource on a fresh server.
func registerBuiltins(srv *server.Server) {
	diag := &Diagnostics{started: time.Now()}
	if err := srv.AddNamedSingletonResource("Diagnostics", diag); err != nil {
		logger.Warn("could not register diagnostics resource", logger.Err(err))
	}
}
