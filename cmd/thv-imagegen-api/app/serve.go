package app

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stacklok/toolhive-imagegen-server/internal/app"
	"github.com/stacklok/toolhive-imagegen-server/internal/config"
)

// Kubernetes-friendly shutdown time
const defaultGracefulTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the image generation API server",
		Long: `Start the image generation API server.

The server requires a configuration file (--config) that specifies:
- The providers and the endpoint patterns each one serves
- Generation and artifact storage
- Webhook, reconciler, catalog, events and telemetry settings

See the examples/ directory for a sample configuration.`,
		RunE: runServe,
	}

	cmd.Flags().String("address", ":8080", "Address to listen on")
	cmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")
	cmd.Flags().Duration("shutdown-timeout", defaultGracefulTimeout, "How long to wait for in-flight work on shutdown")
	if err := cmd.MarkFlagRequired("config"); err != nil {
		panic(err)
	}
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	address, err := cmd.Flags().GetString("address")
	if err != nil {
		return fmt.Errorf("failed to get address flag: %w", err)
	}
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}
	shutdownTimeout, err := cmd.Flags().GetDuration("shutdown-timeout")
	if err != nil {
		return fmt.Errorf("failed to get shutdown-timeout flag: %w", err)
	}

	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	slog.Info("Loaded configuration",
		"path", configPath,
		"providers", len(cfg.Providers),
		"storage", cfg.GetStorageType(),
		"blob", cfg.Blob.GetType())

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	imageGenApp, err := app.NewImageGenApp(ctx,
		app.WithConfig(cfg),
		app.WithAddress(address),
	)
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}

	served := make(chan error, 1)
	go func() { served <- imageGenApp.Start() }()

	select {
	case err := <-served:
		// listen or serve failure
		if stopErr := imageGenApp.Stop(shutdownTimeout); stopErr != nil {
			slog.Error("Shutdown after server failure reported errors", "error", stopErr)
		}
		return err
	case <-ctx.Done():
	}

	if err := imageGenApp.Stop(shutdownTimeout); err != nil {
		return err
	}
	return <-served
}

