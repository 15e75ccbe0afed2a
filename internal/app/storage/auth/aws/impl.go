// Package aws mints AWS RDS IAM database tokens.
package aws

import (
	"context"
	"fmt"
	"net/http"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/aws/aws-sdk-go-v2/feature/rds/auth"
	"github.com/jackc/pgx/v5"

	"github.com/stacklok/toolhive-imagegen-server/internal/config"
)

const (
	regionDetect = "detect"
	imdsTimeout  = 2 * time.Second
)

func getRegion(ctx context.Context, cfg *config.DatabaseConfig) (string, error) {
	region := cfg.DynamicAuth.AWSRDSIAM.Region
	switch region {
	case "":
		return "", fmt.Errorf("AWS RDS IAM region is not configured")
	case regionDetect:
		client := imds.New(imds.Options{HTTPClient: &http.Client{Timeout: imdsTimeout}})
		out, err := client.GetRegion(ctx, &imds.GetRegionInput{})
		if err != nil {
			return "", fmt.Errorf("failed to get region from IMDS: %w", err)
		}
		return out.Region, nil
	default:
		return region, nil
	}
}

func getToken(ctx context.Context, cfg *config.DatabaseConfig, region, user string) (string, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return "", fmt.Errorf("failed to load AWS config: %w", err)
	}

	endpoint := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	token, err := auth.BuildAuthToken(ctx, endpoint, region, user, awsCfg.Credentials)
	if err != nil {
		return "", fmt.Errorf("failed to build authentication token: %w", err)
	}
	return token, nil
}

// NewToken returns one IAM token for user.
func NewToken(ctx context.Context, cfg *config.DatabaseConfig, user string) (string, error) {
	region, err := getRegion(ctx, cfg)
	if err != nil {
		return "", err
	}
	return getToken(ctx, cfg, region, user)
}

// PgxAuthFunc resolves the region once and returns a pgx BeforeConnect hook
// that sets a fresh token as the password of each connection. The workload
// role must be allowed to connect as user.
func PgxAuthFunc(
	ctx context.Context,
	cfg *config.DatabaseConfig,
	user string,
) (func(ctx context.Context, connConfig *pgx.ConnConfig) error, error) {
	region, err := getRegion(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, connConfig *pgx.ConnConfig) error {
		token, err := getToken(ctx, cfg, region, user)
		if err != nil {
			return err
		}
		connConfig.Password = token
		return nil
	}, nil
}
