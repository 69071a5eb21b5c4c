package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/bundled/internal/logger"
	"github.com/marmos91/bundled/pkg/config"
	"github.com/marmos91/bundled/pkg/downloader"
	"github.com/marmos91/bundled/pkg/image/fshandler"
	"github.com/marmos91/bundled/pkg/metrics"
	"github.com/marmos91/bundled/pkg/servicemanager"
	"github.com/marmos91/bundled/pkg/spaceallocator"
	badgerstore "github.com/marmos91/bundled/pkg/store/service/badger"

	// Import prometheus metrics to register init() functions
	_ "github.com/marmos91/bundled/pkg/metrics/prometheus"
)

var desiredFile string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bundle lifecycle daemon",
	Long: `Run the bundled daemon.

On startup the daemon recovers local state, starts the background eviction
timer, and applies the desired-state file if one is configured. Sending
SIGHUP re-reads the desired-state file and reconciles again.

Examples:
  # Run with the default config location
  bundled serve

  # Run with a desired-state file
  bundled serve --desired /etc/bundled/desired.yaml

  # Run with environment variable overrides
  BUNDLED_LOGGING_LEVEL=DEBUG bundled serve`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&desiredFile, "desired", "", "Path to desired-state YAML file applied at startup and on SIGHUP")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := logger.Configure(cfg.LoggerConfig()); err != nil {
		return fmt.Errorf("failed to configure logger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics must be enabled before any instrumented component is built.
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		metricsServer = newMetricsServer(cfg.Metrics.Port)
		logger.Info("Metrics enabled", "port", cfg.Metrics.Port)
	} else {
		logger.Info("Metrics collection disabled")
	}

	store, err := badgerstore.New(ctx, cfg.Storage.DatabaseDir)
	if err != nil {
		return fmt.Errorf("failed to open service store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Service store close error", logger.KeyError, err)
		}
	}()

	// The reclaim callback dispatches to the manager, which is built after
	// the allocator it is wired into.
	var manager *servicemanager.Manager

	serviceSpace := spaceallocator.New(cfg.Storage.ServicesQuota.Uint64(), func(id string) error {
		return manager.ReclaimOutdatedItem(id)
	})
	downloadSpace := spaceallocator.New(cfg.Storage.DownloadQuota.Uint64(), nil)

	manager, err = servicemanager.New(
		ctx,
		cfg.ManagerSettings(),
		store,
		downloader.NewHTTP(cfg.Downloader.Timeout),
		fshandler.New(serviceSpace),
		serviceSpace,
		downloadSpace,
		metrics.NewServiceMetrics(),
	)
	if err != nil {
		return fmt.Errorf("failed to create service manager: %w", err)
	}

	if err := manager.Start(); err != nil {
		return fmt.Errorf("failed to start service manager: %w", err)
	}
	defer func() {
		if err := manager.Stop(); err != nil {
			logger.Error("Service manager stop error", logger.KeyError, err)
		}
	}()

	metricsDone := make(chan error, 1)
	if metricsServer != nil {
		go func() {
			if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				metricsDone <- err
				return
			}
			metricsDone <- nil
		}()
		defer shutdownMetricsServer(metricsServer, cfg.ShutdownTimeout)
	}

	applyDesiredState(ctx, manager)

	logger.Info("Daemon is running",
		"services_dir", cfg.Storage.ServicesDir,
		"sweep_period", cfg.Manager.RemoveOutdatedPeriod.String())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for {
		select {
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				logger.Info("Reload signal received")
				applyDesiredState(ctx, manager)
				continue
			}

			logger.Info("Shutdown signal received, stopping")
			cancel()

			return nil

		case err := <-metricsDone:
			if err != nil {
				return fmt.Errorf("metrics server error: %w", err)
			}
		}
	}
}

// applyDesiredState reconciles against the desired-state file, if configured.
func applyDesiredState(ctx context.Context, manager *servicemanager.Manager) {
	if desiredFile == "" {
		return
	}

	desired, err := config.LoadDesiredServices(desiredFile)
	if err != nil {
		logger.Error("Can't load desired state", logger.KeyPath, desiredFile, logger.KeyError, err)
		return
	}

	statuses, err := manager.ProcessDesiredServices(ctx, desired)
	if err != nil {
		logger.Error("Reconciliation failed", logger.KeyError, err)
	}

	for _, status := range statuses {
		if status.Err != nil {
			logger.Error("Service not installed",
				logger.KeyServiceID, status.ServiceID,
				logger.KeyVersion, status.Version,
				logger.KeyError, status.Err)
			continue
		}

		logger.Info("Service reconciled",
			logger.KeyServiceID, status.ServiceID,
			logger.KeyVersion, status.Version,
			logger.KeyState, status.Status.String())
	}
}

func newMetricsServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func shutdownMetricsServer(server *http.Server, timeout time.Duration) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Metrics server shutdown error", logger.KeyError, err)
	}
}
