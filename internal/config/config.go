// Package config loads and validates the imagegen server configuration file.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stacklok/toolhive-imagegen-server/internal/telemetry"
)

// EnvPrefix prefixes every environment variable the server reads.
const EnvPrefix = "THV_IMAGEGEN"

const (
	// StorageTypeMemory keeps generations in process memory
	StorageTypeMemory = "memory"

	// StorageTypeDatabase keeps generations in PostgreSQL
	StorageTypeDatabase = "database"
)

const (
	// ProviderTypeQueue is a queue based provider that can push webhooks
	ProviderTypeQueue = "queue"

	// ProviderTypePolling is a provider that can only be polled
	ProviderTypePolling = "polling"
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// EvalSymlinks also cleans the path
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) && !filepath.IsLocal(realPath) {
			return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	Storage    StorageConfig     `yaml:"storage,omitempty"`
	Database   *DatabaseConfig   `yaml:"database,omitempty"`
	Blob       BlobConfig        `yaml:"blob,omitempty"`
	Providers  []ProviderConfig  `yaml:"providers"`
	Webhook    *WebhookConfig    `yaml:"webhook,omitempty"`
	Reconciler ReconcilerConfig  `yaml:"reconciler,omitempty"`
	Catalog    CatalogConfig     `yaml:"catalog,omitempty"`
	Events     EventsConfig      `yaml:"events,omitempty"`
	Telemetry  *telemetry.Config `yaml:"telemetry,omitempty"`
}

// StorageConfig selects the generation store backend
type StorageConfig struct {
	// Type is memory (default) or database
	Type string `yaml:"type,omitempty"`
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes and validates a YAML document.
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// GetStorageType returns the storage type, memory when unset
func (c *Config) GetStorageType() string {
	if c.Storage.Type == "" {
		return StorageTypeMemory
	}
	return c.Storage.Type
}

// StandardEndpoints returns the endpoint patterns of the standard catalog
// scope, defaulting to every configured provider endpoint.
func (c *Config) StandardEndpoints() []string {
	if len(c.Catalog.StandardEndpoints) > 0 {
		return c.Catalog.StandardEndpoints
	}
	var patterns []string
	for _, p := range c.Providers {
		patterns = append(patterns, p.Endpoints...)
	}
	return patterns
}

func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	switch c.GetStorageType() {
	case StorageTypeMemory:
	case StorageTypeDatabase:
		if c.Database == nil {
			return fmt.Errorf("database: section is required when storage.type is %s", StorageTypeDatabase)
		}
		if err := c.Database.validate(); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	default:
		return fmt.Errorf("storage: unsupported type %q, must be %s or %s",
			c.Storage.Type, StorageTypeMemory, StorageTypeDatabase)
	}

	if err := c.validateProviders(); err != nil {
		return err
	}

	validators := []struct {
		section string
		fn      func() error
	}{
		{"blob", c.Blob.validate},
		{"webhook", c.Webhook.validate},
		{"reconciler", c.Reconciler.validate},
		{"catalog", c.Catalog.validate},
		{"events", c.Events.validate},
		{"telemetry", c.Telemetry.Validate},
	}
	for _, v := range validators {
		if err := v.fn(); err != nil {
			return fmt.Errorf("%s: %w", v.section, err)
		}
	}
	return nil
}

func (c *Config) validateProviders() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("providers: at least one provider must be configured")
	}

	names := make(map[string]bool)
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.Name == "" {
			return fmt.Errorf("providers[%d]: name is required", i)
		}
		if names[p.Name] {
			return fmt.Errorf("providers[%d]: duplicate provider name '%s'", i, p.Name)
		}
		names[p.Name] = true

		if err := p.validate(); err != nil {
			return fmt.Errorf("providers[%d] (%s): %w", i, p.Name, err)
		}
	}
	return nil
}

// readSecret returns the trimmed content of file, or the value of env when
// file is empty. An empty result is not an error.
func readSecret(file, env string) (string, error) {
	if file != "" {
		data, err := os.ReadFile(filepath.Clean(file))
		if err != nil {
			return "", fmt.Errorf("failed to read secret from file %s: %w", file, err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return os.Getenv(env), nil
}

// envName builds THV_IMAGEGEN_<PARTS> with non alphanumerics mapped to '_'.
func envName(parts ...string) string {
	name := strings.ToUpper(EnvPrefix + "_" + strings.Join(parts, "_"))
	return strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			return r
		}
		return '_'
	}, name)
}

func parseDuration(field, value string) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s: must be positive, got %s", field, value)
	}
	return nil
}

// durationOr parses value, which validation already checked, falling back to def.
func durationOr(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func validateURL(field, raw string) error {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return fmt.Errorf("%s: invalid URL %q: %w", field, raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s: scheme must be http or https, got %q", field, u.Scheme)
	}
	return nil
}
