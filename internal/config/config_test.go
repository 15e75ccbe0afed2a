package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalProviders = `providers:
  - name: queue
    type: queue
    baseURL: https://queue.example.com
    endpoints: ["img-gen/*"]
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func writeSecret(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadConfig_Minimal(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfig(WithConfigPath(writeConfig(t, minimalProviders)))
	require.NoError(t, err)

	assert.Equal(t, StorageTypeMemory, cfg.GetStorageType())
	assert.Equal(t, BlobTypeFilesystem, cfg.Blob.GetType())
	assert.Equal(t, "./data/artifacts", cfg.Blob.GetFilesystemPath())
	assert.Equal(t, EventsTypeNone, cfg.Events.GetType())
	assert.False(t, cfg.Webhook.Enabled())
	assert.Equal(t, 24*time.Hour, cfg.Webhook.GetTokenTTL())

	assert.Equal(t, 30*time.Second, cfg.Reconciler.GetGracePeriod())
	assert.Equal(t, 15*time.Second, cfg.Reconciler.GetPollInterval())
	assert.Equal(t, 50, cfg.Reconciler.GetBatchSize())
	assert.Equal(t, 4, cfg.Reconciler.GetConcurrency())
	assert.Equal(t, 20*time.Second, cfg.Reconciler.GetPollTimeout())
	assert.Equal(t, 60*time.Second, cfg.Reconciler.GetArtifactTimeout())
	assert.Equal(t, int64(50<<20), cfg.Reconciler.GetMaxArtifactBytes())

	assert.Equal(t, "./data/catalog", cfg.Catalog.GetStatusPath())
	assert.Equal(t, 5*time.Minute, cfg.Catalog.GetRefreshTimeout())
	assert.Equal(t, []string{"img-gen/*"}, cfg.StandardEndpoints())

	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, 30*time.Second, cfg.Providers[0].GetTimeout())
}

func TestLoadConfig_Full(t *testing.T) {
	t.Parallel()

	signingKey := writeSecret(t, "0123456789abcdef0123456789abcdef\n")
	content := `storage:
  type: database
database:
  host: db.internal
  port: 5432
  user: imagegen
  migrationUser: imagegen_admin
  database: imagegen
  sslMode: verify-full
  maxOpenConns: 20
  connMaxLifetime: 30m
blob:
  type: s3
  s3:
    bucket: artifacts
    region: eu-west-1
    endpoint: http://minio:9000
    usePathStyle: true
providers:
  - name: queue
    type: queue
    baseURL: https://queue.example.com
    endpoints: ["img-gen/*"]
    timeout: 45s
    inputSchemas:
      "img-gen/flux": /etc/imagegen/flux.json
  - name: stability
    type: polling
    baseURL: https://api.stability.example.com/v2
    endpoints: ["stability/*"]
webhook:
  publicBaseURL: https://imagegen.example.com
  signingKeyFile: ` + signingKey + `
  tokenTTL: 2h
reconciler:
  gracePeriod: 1m
  batchSize: 10
catalog:
  refreshTimeout: 2m
  standardEndpoints: ["img-gen/flux"]
events:
  type: nats
  nats:
    url: nats://nats:4222
telemetry:
  enabled: true
  serviceName: imagegen
  prometheus:
    enabled: true
`
	cfg, err := LoadConfig(WithConfigPath(writeConfig(t, content)))
	require.NoError(t, err)

	assert.Equal(t, StorageTypeDatabase, cfg.GetStorageType())
	assert.Equal(t, "verify-full", cfg.Database.GetSSLMode())
	assert.Equal(t, int32(20), cfg.Database.GetMaxOpenConns())
	assert.Equal(t, 30*time.Minute, cfg.Database.GetConnMaxLifetime())

	assert.Equal(t, BlobTypeS3, cfg.Blob.GetType())
	assert.True(t, cfg.Blob.S3.UsePathStyle)

	assert.Equal(t, 45*time.Second, cfg.Providers[0].GetTimeout())
	assert.Equal(t, "/etc/imagegen/flux.json", cfg.Providers[0].InputSchemas["img-gen/flux"])

	assert.True(t, cfg.Webhook.Enabled())
	assert.Equal(t, 2*time.Hour, cfg.Webhook.GetTokenTTL())
	key, err := cfg.Webhook.GetSigningKey()
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", string(key))

	assert.Equal(t, time.Minute, cfg.Reconciler.GetGracePeriod())
	assert.Equal(t, 10, cfg.Reconciler.GetBatchSize())
	assert.Equal(t, 2*time.Minute, cfg.Catalog.GetRefreshTimeout())
	assert.Equal(t, []string{"img-gen/flux"}, cfg.StandardEndpoints())

	assert.Equal(t, EventsTypeNATS, cfg.Events.GetType())
	assert.Equal(t, "IMAGEGEN", cfg.Events.NATS.GetStream())
	assert.Equal(t, "imagegen", cfg.Events.NATS.GetSubjectPrefix())

	require.NotNil(t, cfg.Telemetry)
	assert.Equal(t, "imagegen", cfg.Telemetry.GetServiceName())
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "no providers",
			content: "storage:\n  type: memory\n",
			wantErr: "providers: at least one provider must be configured",
		},
		{
			name:    "unknown storage",
			content: "storage:\n  type: sqlite\n" + minimalProviders,
			wantErr: `storage: unsupported type "sqlite"`,
		},
		{
			name:    "database section missing",
			content: "storage:\n  type: database\n" + minimalProviders,
			wantErr: "database: section is required",
		},
		{
			name:    "database host missing",
			content: "storage:\n  type: database\ndatabase:\n  port: 5432\n" + minimalProviders,
			wantErr: "database: host is required",
		},
		{
			name: "duplicate provider",
			content: minimalProviders + `  - name: queue
    type: polling
    baseURL: https://other.example.com
    endpoints: ["x/*"]
`,
			wantErr: "providers[1]: duplicate provider name 'queue'",
		},
		{
			name: "unknown provider type",
			content: `providers:
  - name: p
    type: grpc
    baseURL: https://p.example.com
    endpoints: ["p/*"]
`,
			wantErr: `providers[0] (p): unsupported type "grpc"`,
		},
		{
			name: "provider without endpoints",
			content: `providers:
  - name: p
    type: polling
    baseURL: https://p.example.com
`,
			wantErr: "at least one endpoint pattern is required",
		},
		{
			name: "bad endpoint pattern",
			content: `providers:
  - name: p
    type: polling
    baseURL: https://p.example.com
    endpoints: ["p/["]
`,
			wantErr: `endpoints: invalid pattern "p/["`,
		},
		{
			name: "bad base url",
			content: `providers:
  - name: p
    type: polling
    baseURL: ftp://p.example.com
    endpoints: ["p/*"]
`,
			wantErr: "baseURL: scheme must be http or https",
		},
		{
			name:    "bad provider timeout",
			content: minimalProviders + "    timeout: soon\n",
			wantErr: `timeout: invalid duration "soon"`,
		},
		{
			name:    "s3 without bucket",
			content: "blob:\n  type: s3\n" + minimalProviders,
			wantErr: "blob: s3.bucket is required",
		},
		{
			name:    "unknown blob type",
			content: "blob:\n  type: ftp\n" + minimalProviders,
			wantErr: `blob: unsupported type "ftp"`,
		},
		{
			name:    "redis without address",
			content: "events:\n  type: redis\n" + minimalProviders,
			wantErr: "events: redis.addr is required",
		},
		{
			name:    "negative batch size",
			content: "reconciler:\n  batchSize: -1\n" + minimalProviders,
			wantErr: "reconciler: batchSize, concurrency and maxArtifactBytes must not be negative",
		},
		{
			name:    "oversized batch size",
			content: "reconciler:\n  batchSize: 101\n" + minimalProviders,
			wantErr: "reconciler: batchSize must be at most 100",
		},
		{
			name:    "zero grace period",
			content: "reconciler:\n  gracePeriod: 0s\n" + minimalProviders,
			wantErr: "reconciler: gracePeriod: must be positive",
		},
		{
			name:    "webhook with query",
			content: "webhook:\n  publicBaseURL: https://x.example.com/?a=b\n" + minimalProviders,
			wantErr: "webhook: publicBaseURL must not carry a query or fragment",
		},
		{
			name:    "bad telemetry sampling",
			content: "telemetry:\n  enabled: true\n  tracing:\n    enabled: true\n    sampling: 2\n" + minimalProviders,
			wantErr: "telemetry: tracing: sampling must be between 0.0 and 1.0",
		},
		{
			name:    "malformed yaml",
			content: "providers: [",
			wantErr: "failed to parse YAML config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestWithConfigPath(t *testing.T) {
	t.Parallel()

	_, err := LoadConfig(WithConfigPath(""))
	require.ErrorContains(t, err, "path is required")

	_, err = LoadConfig(WithConfigPath(filepath.Join(t.TempDir(), "missing.yaml")))
	require.ErrorContains(t, err, "failed to evaluate symlinks")

	_, err = LoadConfig()
	require.ErrorContains(t, err, "path is required")

	dir := t.TempDir()
	target := writeConfig(t, minimalProviders)
	link := filepath.Join(dir, "link.yaml")
	require.NoError(t, os.Symlink(target, link))
	cfg, err := LoadConfig(WithConfigPath(link))
	require.NoError(t, err)
	assert.Len(t, cfg.Providers, 1)
}

func TestDatabaseConfig_ConnectionStrings(t *testing.T) {
	t.Parallel()

	d := &DatabaseConfig{
		Host:          "db",
		Port:          5432,
		User:          "app",
		MigrationUser: "admin",
		Database:      "imagegen",
		PasswordFile:  writeSecret(t, "p@ss:word/\n"),
	}

	conn, err := d.GetConnectionString()
	require.NoError(t, err)
	assert.Equal(t, "postgres://app:p%40ss%3Aword%2F@db:5432/imagegen?sslmode=require", conn)

	migration, err := d.GetMigrationConnectionString()
	require.NoError(t, err)
	assert.Contains(t, migration, "postgres://admin:")

	d.MigrationUser = ""
	migration, err = d.GetMigrationConnectionString()
	require.NoError(t, err)
	assert.Equal(t, conn, migration)
}

func TestDatabaseConfig_DynamicAuthOmitsPassword(t *testing.T) {
	t.Setenv("THV_IMAGEGEN_DATABASE_PASSWORD", "")

	d := &DatabaseConfig{
		Host:        "db",
		Port:        5432,
		User:        "app",
		Database:    "imagegen",
		SSLMode:     "verify-full",
		DynamicAuth: &DynamicAuthConfig{AWSRDSIAM: &DynamicAuthAWSRDSIAM{Region: "eu-west-1"}},
	}
	require.NoError(t, d.validate())

	conn, err := d.GetConnectionString()
	require.NoError(t, err)
	assert.Equal(t, "postgres://app@db:5432/imagegen?sslmode=verify-full", conn)
	assert.Equal(t, "app", d.GetMigrationUser())

	d.DynamicAuth.AWSRDSIAM.Region = ""
	assert.ErrorContains(t, d.validate(), "dynamicAuth.awsRdsIam.region is required")
}

func TestDatabaseConfig_PasswordFromEnv(t *testing.T) {
	t.Setenv("THV_IMAGEGEN_DATABASE_PASSWORD", "from-env")

	password, err := (&DatabaseConfig{}).GetPassword()
	require.NoError(t, err)
	assert.Equal(t, "from-env", password)
}

func TestDatabaseConfig_PasswordMissing(t *testing.T) {
	t.Setenv("THV_IMAGEGEN_DATABASE_PASSWORD", "")

	_, err := (&DatabaseConfig{}).GetPassword()
	require.ErrorContains(t, err, "THV_IMAGEGEN_DATABASE_PASSWORD")
}

func TestProviderConfig_APIKey(t *testing.T) {
	t.Setenv("THV_IMAGEGEN_QUEUE_EU_API_KEY", "env-key")

	p := &ProviderConfig{Name: "queue-eu"}
	key, err := p.GetAPIKey()
	require.NoError(t, err)
	assert.Equal(t, "env-key", key)

	p.APIKeyFile = writeSecret(t, " file-key \n")
	key, err = p.GetAPIKey()
	require.NoError(t, err)
	assert.Equal(t, "file-key", key)
}

func TestWebhookConfig_SigningKeyRequired(t *testing.T) {
	t.Setenv("THV_IMAGEGEN_WEBHOOK_SIGNING_KEY", "")

	_, err := Parse([]byte("webhook:\n  publicBaseURL: https://x.example.com\n" + minimalProviders))
	require.ErrorContains(t, err, "webhook: no webhook signing key configured")
}

func TestEnvName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "THV_IMAGEGEN_QUEUE_EU_API_KEY", envName("queue-eu", "API", "KEY"))
	assert.Equal(t, "THV_IMAGEGEN_FAL_AI_API_KEY", envName("fal.ai", "API", "KEY"))
}
