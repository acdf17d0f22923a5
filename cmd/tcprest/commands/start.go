package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/marmos91/tcprest/internal/logger"
	"github.com/marmos91/tcprest/internal/protocol"
	"github.com/marmos91/tcprest/internal/telemetry"
	"github.com/marmos91/tcprest/pkg/config"
	"github.com/marmos91/tcprest/pkg/metrics"
	"github.com/marmos91/tcprest/pkg/server"

	// Import prometheus metrics to register init() functions
	_ "github.com/marmos91/tcprest/pkg/metrics/prometheus"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the tcprest server",
	Long: `Start the tcprest server with the specified configuration.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/tcprest/config.yaml.

Examples:
  # Start with default config location
  tcprest start

  # Start with custom config file
  tcprest start --config /etc/tcprest/config.yaml

  # Start with environment variable overrides
  TCPREST_LOGGING_LEVEL=DEBUG tcprest start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}

	if err := initLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "tcprest",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", logger.Err(err))
		}
	}()

	var rpcMetrics metrics.RPCMetrics
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		rpcMetrics = metrics.NewRPCMetrics()
		metricsServer = startMetricsServer(cfg.Metrics)
	}

	security, err := cfg.Security.BuildSecurity()
	if err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}
	mode, err := protocol.ParseMode(cfg.Server.Protocol)
	if err != nil {
		return err
	}

	srv := server.New(server.Options{
		TCP:             cfg.Server.BuildTCP(),
		UDP:             cfg.UDP.BuildUDP(),
		Metrics:         rpcMetrics,
		StrictTypeCheck: cfg.Server.StrictTypeCheck,
	})
	if err := srv.SetSecurityConfig(security); err != nil {
		return err
	}
	if err := srv.SetCompressionConfig(cfg.Compression.BuildCompression()); err != nil {
		return err
	}
	if err := srv.SetProtocolVersion(mode); err != nil {
		return err
	}

	registerBuiltins(srv)

	if err := srv.Up(ctx); err != nil {
		return err
	}

	// Live-reload the log level and format on config file changes.
	stopWatch, err := config.Watch(GetConfigFile(), func(next *config.Config) {
		logger.SetLevel(next.Logging.Level)
		logger.SetFormat(next.Logging.Format)
	})
	if err != nil {
		logger.Warn("config watch unavailable", logger.Err(err))
	} else {
		defer stopWatch()
	}

	logger.Info("tcprest started", "version", Version)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout+5*time.Second)
	defer shutdownCancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics endpoint shutdown error", logger.Err(err))
		}
	}
	return srv.Down(shutdownCtx)
}

// initLogger configures the process logger from the config file.
func initLogger(cfg *config.Config) error {
	return logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
}

// startMetricsServer exposes the Prometheus registry over HTTP.
func startMetricsServer(cfg config.MetricsConfig) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("metrics endpoint listening", "addr", cfg.Listen, "path", cfg.Path)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics endpoint failed", logger.Err(err))
		}
	}()
	return srv
}
