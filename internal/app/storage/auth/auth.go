// Package auth resolves short-lived database credentials.
package auth

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/stacklok/toolhive-imagegen-server/internal/app/storage/auth/aws"
	"github.com/stacklok/toolhive-imagegen-server/internal/config"
)

// BeforeConnectFunc sets the password of a new pool connection.
type BeforeConnectFunc func(ctx context.Context, connConfig *pgx.ConnConfig) error

// ResolveAuthToken returns a dynamic password for user, or "" when dynamic
// authentication is not configured. Use it for one-off connections such as
// migrations, where no BeforeConnect hook is available.
func ResolveAuthToken(ctx context.Context, cfg *config.DatabaseConfig, user string) (string, error) {
	if cfg == nil {
		return "", fmt.Errorf("database configuration is required")
	}
	if cfg.DynamicAuth == nil {
		return "", nil
	}
	if cfg.DynamicAuth.AWSRDSIAM != nil {
		return aws.NewToken(ctx, cfg, user)
	}
	return "", errNoMethod
}

// NewDynamicAuth returns a hook that mints a fresh token for every new
// connection of user.
func NewDynamicAuth(ctx context.Context, cfg *config.DatabaseConfig, user string) (BeforeConnectFunc, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database configuration is required")
	}
	if cfg.DynamicAuth == nil {
		return nil, fmt.Errorf("dynamic authentication is not configured")
	}
	if cfg.DynamicAuth.AWSRDSIAM != nil {
		return aws.PgxAuthFunc(ctx, cfg, user)
	}
	return nil, errNoMethod
}

var errNoMethod = fmt.Errorf("dynamic auth is configured but no supported auth method (e.g., awsRdsIam) is specified")
