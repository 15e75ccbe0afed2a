// Package main is the entry point for the ToolHive image generation API server.
package main

import (
	"log/slog"
	"os"

	"github.com/stacklok/toolhive-imagegen-server/cmd/thv-imagegen-api/app"
	"github.com/stacklok/toolhive-imagegen-server/internal/config"
	"github.com/stacklok/toolhive-imagegen-server/internal/logging"
)

func main() {
	// stderr keeps stdout clean for commands that print data, e.g. version --format json
	logging.Setup(logging.LevelFromEnv(config.EnvPrefix))

	slog.Info("Starting ToolHive image generation API server")

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
