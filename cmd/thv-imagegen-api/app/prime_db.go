package app

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/template"

	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/stacklok/toolhive-imagegen-server/database"
)

func newPrimeDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prime-db [username]",
		Short: "Prime the database with role and user",
		Long: `Prime the database by creating the application role and user.

This command:
- Creates the role '` + database.PrimeRole + `' if it doesn't exist
- Creates a user (specified as positional argument) if it doesn't exist
- Grants the role, and read/write access to the schema tables, to the user
- Reads the password from STDIN

The command connects as the migration user of --config.`,
		Args: cobra.ExactArgs(1),
		RunE: runPrimeDB,
	}
	cmd.Flags().String("config", "", "Path to configuration file (YAML format, required unless --dry-run)")
	cmd.Flags().Bool("dry-run", false, "Print the SQL that would be executed to standard output")
	return cmd
}

func runPrimeDB(cmd *cobra.Command, args []string) error {
	username := strings.TrimSpace(args[0])
	if username == "" {
		return fmt.Errorf("username cannot be empty")
	}
	dryRun, err := cmd.Flags().GetBool("dry-run")
	if err != nil {
		return fmt.Errorf("failed to get dry-run flag: %w", err)
	}

	password, err := readPassword(cmd)
	if err != nil {
		return err
	}

	primeSQL, err := executePrimeTemplate(username, password)
	if err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}

	if dryRun {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), primeSQL)
		return err
	}

	if !cmd.Flags().Changed("config") {
		return fmt.Errorf("--config is required")
	}
	target, err := setupMigration(cmd)
	if err != nil {
		return err
	}
	if err := executePrimeSQL(cmd, target.connString, primeSQL); err != nil {
		return fmt.Errorf("failed to execute prime SQL: %w", err)
	}
	return nil
}

func readPassword(cmd *cobra.Command) (string, error) {
	var reader io.Reader = cmd.InOrStdin()
	if f, ok := reader.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		slog.Info("Reading password from terminal...")
		passwordBytes, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		reader = bytes.NewReader(passwordBytes)
	}

	passwordBytes, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	password := strings.TrimSpace(string(passwordBytes))
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	return password, nil
}

func executePrimeSQL(cmd *cobra.Command, connString, primeSQL string) error {
	ctx := cmd.Context()
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if closeErr := conn.Close(ctx); closeErr != nil {
			slog.Error("Error closing database connection", "error", closeErr)
		}
	}()

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Error("Failed to rollback transaction", "error", err)
		}
	}()

	if _, err := tx.Exec(ctx, primeSQL); err != nil {
		return fmt.Errorf("failed to prime database: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	slog.Info("Database primed successfully", "role", database.PrimeRole)
	return nil
}

func executePrimeTemplate(username, password string) (string, error) {
	tmpl, err := template.New("prime").Parse(string(database.GetPrimeTemplate()))
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	data := struct {
		Role        string
		UserLiteral string
		UserIdent   string
		Password    string
	}{
		Role:        database.PrimeRole,
		UserLiteral: quoteLiteral(username),
		UserIdent:   pgx.Identifier{username}.Sanitize(),
		Password:    quoteLiteral(password),
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.String(), nil
}

// quoteLiteral escapes s for use inside a single quoted SQL literal.
func quoteLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
