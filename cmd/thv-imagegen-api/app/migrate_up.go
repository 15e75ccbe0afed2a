package app

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/stacklok/toolhive-imagegen-server/database"
)

func newMigrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply pending database migrations",
		Long: `Apply all pending database migrations to bring the schema up to date.
This command reads the database connection parameters from the config file
and connects as the migration user.`,
		RunE: runMigrateUp,
	}
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	target, err := setupMigration(cmd)
	if err != nil {
		return err
	}

	ok, err := confirm(cmd, "About to apply migrations to database "+target.describe()+". Continue?")
	if err != nil || !ok {
		return err
	}

	slog.Info("Applying database migrations...")
	if err := database.MigrateUp(target.connString); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	displayMigrationVersion(target.connString)
	return nil
}

func displayMigrationVersion(connString string) {
	version, dirty, err := database.GetVersion(connString)
	switch {
	case err != nil:
		slog.Warn("Unable to get migration version", "error", err)
	case dirty:
		slog.Warn("Database is in a dirty state, manual intervention may be required", "version", version)
	case version == 0:
		slog.Info("Database schema has been completely removed")
	default:
		slog.Info("Current migration version", "version", version)
	}
}
