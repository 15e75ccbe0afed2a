// Package telemetry provides OpenTelemetry instrumentation for the imagegen server:
// OTLP traces and metrics, a Prometheus scrape endpoint, HTTP middleware and
// the domain instruments.
package telemetry

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// DefaultServiceName identifies the service when none is configured
	DefaultServiceName = "thv-imagegen-api"

	// DefaultEndpoint is the OTLP HTTP collector address
	DefaultEndpoint = "localhost:4318"

	// DefaultSampling is the trace sampling ratio used when none is configured
	DefaultSampling = 0.05

	// DefaultPrometheusPath is where the scrape handler is mounted
	DefaultPrometheusPath = "/metrics"

	unknownVersion = "unknown"
)

// Config is the telemetry section of the server configuration
type Config struct {
	// Enabled turns every telemetry provider on or off
	Enabled bool `yaml:"enabled"`

	ServiceName    string `yaml:"serviceName,omitempty"`
	ServiceVersion string `yaml:"serviceVersion,omitempty"`

	// Endpoint is the OTLP collector "host:port"; the exporters add /v1/traces and /v1/metrics
	Endpoint string `yaml:"endpoint,omitempty"`

	// Insecure sends OTLP over plain HTTP
	Insecure bool `yaml:"insecure,omitempty"`

	Tracing    *TracingConfig    `yaml:"tracing,omitempty"`
	Metrics    *MetricsConfig    `yaml:"metrics,omitempty"`
	Prometheus *PrometheusConfig `yaml:"prometheus,omitempty"`
}

// TracingConfig controls trace export
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`

	// Sampling is the ratio of traces kept, 0 means DefaultSampling
	Sampling float64 `yaml:"sampling,omitempty"`
}

// MetricsConfig controls OTLP metric push
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// PrometheusConfig controls the scrape endpoint
type PrometheusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path,omitempty"`
}

// GetServiceName returns the service name, using default if not specified
func (c *Config) GetServiceName() string {
	if c.ServiceName == "" {
		return DefaultServiceName
	}
	return c.ServiceName
}

// GetServiceVersion returns the service version, using "unknown" if not specified
func (c *Config) GetServiceVersion() string {
	if c.ServiceVersion == "" {
		return unknownVersion
	}
	return c.ServiceVersion
}

// GetEndpoint returns the OTLP endpoint, using default if not specified
func (c *Config) GetEndpoint() string {
	if c.Endpoint == "" {
		return DefaultEndpoint
	}
	return c.Endpoint
}

// TracingEnabled reports whether traces are exported
func (c *Config) TracingEnabled() bool {
	return c != nil && c.Enabled && c.Tracing != nil && c.Tracing.Enabled
}

// MetricsEnabled reports whether metrics are pushed over OTLP
func (c *Config) MetricsEnabled() bool {
	return c != nil && c.Enabled && c.Metrics != nil && c.Metrics.Enabled
}

// PrometheusEnabled reports whether the scrape endpoint is served
func (c *Config) PrometheusEnabled() bool {
	return c != nil && c.Enabled && c.Prometheus != nil && c.Prometheus.Enabled
}

// GetSampling returns the sampling ratio. Zero cannot be told apart from an
// unset value in YAML, so it maps to DefaultSampling.
func (c *TracingConfig) GetSampling() float64 {
	if c == nil || c.Sampling == 0 {
		return DefaultSampling
	}
	return c.Sampling
}

// GetPath returns the scrape path, using default if not specified
func (c *PrometheusConfig) GetPath() string {
	if c == nil || c.Path == "" {
		return DefaultPrometheusPath
	}
	return c.Path
}

// Validate checks the enabled parts of the configuration. A nil or disabled
// configuration is valid.
func (c *Config) Validate() error {
	if c == nil || !c.Enabled {
		return nil
	}

	var errs []error
	if c.Tracing != nil && c.Tracing.Enabled {
		if s := c.Tracing.Sampling; s < 0 || s > 1.0 {
			errs = append(errs, fmt.Errorf("tracing: sampling must be between 0.0 and 1.0, got %f", s))
		}
	}
	if c.Prometheus != nil && c.Prometheus.Enabled {
		if p := c.Prometheus.Path; p != "" && !strings.HasPrefix(p, "/") {
			errs = append(errs, fmt.Errorf("prometheus: path must start with '/', got %q", p))
		}
	}
	return errors.Join(errs...)
}
