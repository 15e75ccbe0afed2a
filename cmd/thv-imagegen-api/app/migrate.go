package app

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stacklok/toolhive-imagegen-server/internal/app/storage/auth"
	"github.com/stacklok/toolhive-imagegen-server/internal/config"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration tool",
		Long:  `Database migration tool for managing schema versions. Use with 'up' or 'down' subcommands.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Usage()
		},
	}

	cmd.PersistentFlags().BoolP("yes", "y", false, "Answer yes to all questions")
	cmd.PersistentFlags().UintP("num-steps", "n", 0, "Number of steps to migrate (0 = all)")
	cmd.PersistentFlags().String("config", "", "Path to configuration file (YAML format, required)")
	if err := cmd.MarkPersistentFlagRequired("config"); err != nil {
		panic(err)
	}

	cmd.AddCommand(newMigrateUpCmd())
	cmd.AddCommand(newMigrateDownCmd())
	return cmd
}

// migrationTarget is the database a migrate subcommand operates on.
type migrationTarget struct {
	cfg        *config.DatabaseConfig
	connString string
}

func (m *migrationTarget) describe() string {
	return fmt.Sprintf("%s@%s:%d/%s", m.cfg.GetMigrationUser(), m.cfg.Host, m.cfg.Port, m.cfg.Database)
}

// setupMigration loads --config and resolves the migration user's
// connection string, fetching a token when dynamic auth is configured.
func setupMigration(cmd *cobra.Command) (*migrationTarget, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}

	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Database == nil {
		return nil, fmt.Errorf("database configuration is required")
	}

	connString, err := auth.MigrationConnectionString(cmd.Context(), cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to get migration connection string: %w", err)
	}
	return &migrationTarget{cfg: cfg.Database, connString: connString}, nil
}

// confirm asks a yes/no question on the command's input. --yes skips it.
func confirm(cmd *cobra.Command, prompt string) (bool, error) {
	yes, err := cmd.Flags().GetBool("yes")
	if err != nil {
		return false, fmt.Errorf("failed to get yes flag: %w", err)
	}
	if yes {
		return true, nil
	}
	return readConfirmation(cmd.InOrStdin(), cmd.OutOrStdout(), prompt)
}

func readConfirmation(in io.Reader, out io.Writer, prompt string) (bool, error) {
	if _, err := fmt.Fprintf(out, "%s (yes/no): ", prompt); err != nil {
		return false, err
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return false, fmt.Errorf("failed to read user input: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "yes", "y":
		return true, nil
	default:
		slog.Info("Migration cancelled by user")
		return false, nil
	}
}
