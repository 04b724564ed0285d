package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-glue/pkg/config"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Compose the manifest and run the server",
	Long: `Start composes the configured manifest, starts the server and serves
until SIGINT or SIGTERM, then shuts down gracefully within the configured
shutdown timeout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := appConfig
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return run(ctx, cfg, logger)
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
}

// run composes and starts the server, then blocks until ctx is done.
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Starting glue",
		zap.String("version", version),
		zap.String("build_time", buildTime),
		zap.String("manifest", cfg.Manifest),
	)

	s, err := composeManifest(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to compose manifest: %w", err)
	}
	if err := s.Start(ctx); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownDuration())
	defer cancel()
	if err := s.Stop(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	logger.Info("Server exited")
	return nil
}
