package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gcpal/internal/config"
	"github.com/3leaps/gcpal/internal/observability"
	"github.com/3leaps/gcpal/internal/server"
	"github.com/3leaps/gcpal/internal/server/handlers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only browse API",
	Long: `Start an HTTP server exposing health probes, version, Prometheus
metrics and read-only listing of storage, BigQuery and Pub/Sub paths.

Examples:
  gcpal serve
  GCPAL_PORT=9000 gcpal serve
  curl 'localhost:8080/v1/storage/ls?path=gs://bucket/prefix/'`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// signalHealthChecker reports healthy while the process runs.
type signalHealthChecker struct{}

func (signalHealthChecker) CheckHealth(ctx context.Context) error { return nil }

type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errors.New("telemetry system not initialized")
	}
	return nil
}

// backendHealthChecker opens the configured object backend. The gcs
// backend is opened lazily per request and always passes.
type backendHealthChecker struct {
	cfg *config.Config
}

func (c backendHealthChecker) CheckHealth(ctx context.Context) error {
	backend, err := newStorageBackend(ctx, c.cfg)
	if err != nil {
		return fmt.Errorf("storage backend %q: %w", c.cfg.Storage.Backend, err)
	}
	if backend != nil {
		return backend.Close()
	}
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := currentConfig()
	logger, err := observability.NewLogger(cfg.Logging.Profile, cfg.Logging.Level)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", err)
	}
	logger = logger.Named("gcpal")
	observability.CLILogger = logger

	if cfg.Metrics.Enabled {
		if _, _, err := observability.InitTelemetry(); err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Failed to initialise telemetry", err)
		}
	}

	health := handlers.InitHealthManager(versionInfo.Version)
	health.RegisterChecker("signals", signalHealthChecker{})
	if cfg.Metrics.Enabled {
		health.RegisterChecker("telemetry", telemetryHealthChecker{})
	}
	health.RegisterChecker("storage", backendHealthChecker{cfg: cfg})

	srv := server.New(cfg.Server.Host, cfg.Server.Port,
		server.WithServiceOptions(serviceOptions()...),
		server.WithRateLimit(cfg.Server.RateLimit, cfg.Server.Burst),
		server.WithCORS(cfg.Server.CORSOrigins),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout),
		server.WithProfiler(cfg.Debug.PprofEnabled),
	)

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled && cfg.Metrics.Port != cfg.Server.Port {
		metricsSrv = newMetricsServer(cfg.Server.Host, cfg.Metrics.Port)
		go func() {
			logger.Info("Metrics listening", zap.String("addr", metricsSrv.Addr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("Metrics server stopped", zap.Error(err))
			}
		}()
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting", zap.String("addr", srv.Addr()), zap.String("version", versionInfo.Version))
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Server failed", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return exitError(foundry.ExitSignalInt, "Shutdown did not complete", err)
	}
	return <-errCh
}

// newMetricsServer serves /metrics alone on the metrics port.
func newMetricsServer(host string, port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(observability.PrometheusExporter, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              net.JoinHostPort(host, strconv.Itoa(port)),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
