package app

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/stacklok/toolhive-imagegen-server/database"
)

func newMigrateDownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Migrate the database down",
		Long: `Migrate the database schema down by reverting migrations.
WARNING: This operation can result in data loss. Use with caution.

Examples:
  # Migrate down by 1 step
  thv-imagegen-api migrate down --config config.yaml --num-steps 1 --yes

  # Migrate down all the way (WARNING: destroys all data)
  thv-imagegen-api migrate down --config config.yaml --yes`,
		RunE: runMigrateDown,
	}
}

func runMigrateDown(cmd *cobra.Command, _ []string) error {
	numSteps, err := cmd.Flags().GetUint("num-steps")
	if err != nil {
		return fmt.Errorf("failed to get num-steps flag: %w", err)
	}

	target, err := setupMigration(cmd)
	if err != nil {
		return err
	}

	ok, err := confirm(cmd, migrateDownPrompt(numSteps, target.describe()))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("migration cancelled by user")
	}

	if numSteps == 0 {
		slog.Warn("Migrating down all steps - this will remove all schema!")
	} else {
		slog.Info("Migrating down", "steps", numSteps)
	}
	if err := database.MigrateDown(target.connString, numSteps); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("Migration completed successfully")
	displayMigrationVersion(target.connString)
	return nil
}

func migrateDownPrompt(numSteps uint, target string) string {
	if numSteps == 0 {
		return fmt.Sprintf("WARNING: This will migrate %s down ALL steps and may result in complete data loss. Continue?", target)
	}
	return fmt.Sprintf("WARNING: This will migrate %s down %d step(s) and may result in data loss. Continue?", target, numSteps)
}
