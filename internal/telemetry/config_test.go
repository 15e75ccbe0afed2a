package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	assert.Equal(t, DefaultServiceName, cfg.GetServiceName())
	assert.Equal(t, "unknown", cfg.GetServiceVersion())
	assert.Equal(t, DefaultEndpoint, cfg.GetEndpoint())
	assert.Equal(t, DefaultSampling, cfg.Tracing.GetSampling())
	assert.Equal(t, DefaultPrometheusPath, cfg.Prometheus.GetPath())

	cfg = &Config{
		ServiceName:    "imagegen",
		ServiceVersion: "1.2.3",
		Endpoint:       "otel:4318",
		Tracing:        &TracingConfig{Sampling: 0.25},
		Prometheus:     &PrometheusConfig{Path: "/internal/metrics"},
	}
	assert.Equal(t, "imagegen", cfg.GetServiceName())
	assert.Equal(t, "1.2.3", cfg.GetServiceVersion())
	assert.Equal(t, "otel:4318", cfg.GetEndpoint())
	assert.Equal(t, 0.25, cfg.Tracing.GetSampling())
	assert.Equal(t, "/internal/metrics", cfg.Prometheus.GetPath())
}

func TestConfig_Enabled(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		cfg        *Config
		tracing    bool
		metrics    bool
		prometheus bool
	}{
		{name: "nil", cfg: nil},
		{
			name: "globally disabled",
			cfg: &Config{
				Tracing:    &TracingConfig{Enabled: true},
				Metrics:    &MetricsConfig{Enabled: true},
				Prometheus: &PrometheusConfig{Enabled: true},
			},
		},
		{name: "enabled without sections", cfg: &Config{Enabled: true}},
		{
			name: "everything on",
			cfg: &Config{
				Enabled:    true,
				Tracing:    &TracingConfig{Enabled: true},
				Metrics:    &MetricsConfig{Enabled: true},
				Prometheus: &PrometheusConfig{Enabled: true},
			},
			tracing:    true,
			metrics:    true,
			prometheus: true,
		},
		{
			name:       "prometheus only",
			cfg:        &Config{Enabled: true, Prometheus: &PrometheusConfig{Enabled: true}},
			prometheus: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.tracing, tt.cfg.TracingEnabled())
			assert.Equal(t, tt.metrics, tt.cfg.MetricsEnabled())
			assert.Equal(t, tt.prometheus, tt.cfg.PrometheusEnabled())
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     *Config
		wantErr string
	}{
		{name: "nil is valid", cfg: nil},
		{name: "disabled ignores sections", cfg: &Config{Tracing: &TracingConfig{Enabled: true, Sampling: 5}}},
		{name: "disabled tracing ignores sampling", cfg: &Config{Enabled: true, Tracing: &TracingConfig{Sampling: -1}}},
		{name: "valid sampling", cfg: &Config{Enabled: true, Tracing: &TracingConfig{Enabled: true, Sampling: 1}}},
		{
			name:    "sampling above one",
			cfg:     &Config{Enabled: true, Tracing: &TracingConfig{Enabled: true, Sampling: 1.5}},
			wantErr: "tracing: sampling must be between 0.0 and 1.0",
		},
		{
			name:    "negative sampling",
			cfg:     &Config{Enabled: true, Tracing: &TracingConfig{Enabled: true, Sampling: -0.1}},
			wantErr: "tracing: sampling must be between 0.0 and 1.0",
		},
		{
			name:    "relative prometheus path",
			cfg:     &Config{Enabled: true, Prometheus: &PrometheusConfig{Enabled: true, Path: "metrics"}},
			wantErr: "prometheus: path must start with '/'",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}
