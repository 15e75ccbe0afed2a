package auth

import (
	"context"
	"fmt"

	"github.com/stacklok/toolhive-imagegen-server/internal/config"
)

// MigrationConnectionString builds the connection string of the migration
// user. A dynamic token is embedded as the password because golang-migrate
// opens its own connection; otherwise the static password is used.
func MigrationConnectionString(ctx context.Context, cfg *config.DatabaseConfig) (string, error) {
	if cfg == nil {
		return "", fmt.Errorf("database configuration is required")
	}
	if cfg.DynamicAuth == nil {
		return cfg.GetMigrationConnectionString()
	}

	user := cfg.GetMigrationUser()
	token, err := ResolveAuthToken(ctx, cfg, user)
	if err != nil {
		return "", fmt.Errorf("failed to resolve auth token for migration user: %w", err)
	}
	return cfg.BuildConnectionString(user, token), nil
}
