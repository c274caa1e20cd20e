package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/legion/legion/internal/admin"
	"github.com/legion/legion/internal/app"
	"github.com/legion/legion/pkg/config"
	"github.com/legion/legion/pkg/logging"
	"github.com/legion/legion/pkg/manifest"
)

var version = "dev"

func main() {
	var cfgPath string
	cmd := &cobra.Command{
		Use:          "legion-node",
		Short:        "Run a long-lived legion node",
		Long:         "Serve health, status and metrics, sweep stale agents and watch presets until interrupted.",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfgPath)
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "config file (default: ~/.legion/config.yaml then .legion/config.yaml)")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.NewZapLogger(cfg.LoggerConfig()).With(
		logging.String("service", "legion-node"),
		logging.String("version", version),
		logging.String("environment", cfg.System.Environment),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sys, err := app.New(ctx, *cfg, app.WithLogger(logger), app.WithSource("legion-node"))
	if err != nil {
		return err
	}

	srv := admin.NewServer(sys)
	if err := srv.Start(); err != nil {
		_ = sys.Close(context.Background())
		return err
	}

	go sys.Registry.RunSweeper(ctx, cfg.Registry)

	if cfg.Presets.Watch {
		sys.Presets.OnChange(func(evt manifest.PresetEvent) {
			logger.Info("preset changed",
				logging.String("event", string(evt.Type)),
				logging.String("preset", evt.Key),
				logging.String("path", evt.Path),
			)
		})
		if err := sys.Presets.StartWatching(ctx); err != nil {
			logger.Warn("preset watching disabled", logging.Err(err))
		}
	}

	logger.Info("legion node started",
		logging.String("store", cfg.Store.Driver),
		logging.Bool("events", cfg.Events.Enabled),
		logging.Int("health_port", cfg.System.HealthCheckPort),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("shutting down", logging.String("signal", sig.String()))
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.System.ShutdownTimeout)
	defer shutdownCancel()

	var shutdownErr error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin shutdown failed", logging.Err(err))
		shutdownErr = err
	}
	if err := sys.Close(shutdownCtx); err != nil {
		shutdownErr = err
	}
	return shutdownErr
}
