// Package telemetry provides OpenTelemetry instrumentation for the image generation server.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// GenerationMetricsMeterName is the name used for the generation metrics meter
	GenerationMetricsMeterName = "github.com/stacklok/toolhive-imagegen-server/generation"

	// ReconcilerMetricsMeterName is the name used for the reconciler metrics meter
	ReconcilerMetricsMeterName = "github.com/stacklok/toolhive-imagegen-server/reconciler"

	// CatalogMetricsMeterName is the name used for the catalog metrics meter
	CatalogMetricsMeterName = "github.com/stacklok/toolhive-imagegen-server/catalog"
)

// GenerationMetrics holds the OpenTelemetry instruments for job submission
type GenerationMetrics struct {
	submissions    metric.Int64Counter
	submitDuration metric.Float64Histogram
}

// NewGenerationMetrics creates a new GenerationMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewGenerationMetrics(provider metric.MeterProvider) (*GenerationMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(GenerationMetricsMeterName)

	submissions, err := meter.Int64Counter(
		"thv_img_srv_submissions_total",
		metric.WithDescription("Number of provider submissions by outcome"),
		metric.WithUnit("{submission}"),
	)
	if err != nil {
		return nil, err
	}

	submitDuration, err := meter.Float64Histogram(
		"thv_img_srv_submit_duration_seconds",
		metric.WithDescription("Duration of provider submit calls in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, err
	}

	return &GenerationMetrics{
		submissions:    submissions,
		submitDuration: submitDuration,
	}, nil
}

// RecordSubmission records one submit call. outcome is "accepted" or the error kind.
func (m *GenerationMetrics) RecordSubmission(
	ctx context.Context,
	providerName, endpoint, outcome string,
	duration time.Duration,
) {
	if m == nil || m.submissions == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("provider", providerName),
		attribute.String("endpoint", endpoint),
		attribute.String("outcome", outcome),
	)
	m.submissions.Add(ctx, 1, attrs)
	m.submitDuration.Record(ctx, duration.Seconds(), attrs)
}

// ReconcilerMetrics holds the OpenTelemetry instruments for completion reconciliation
type ReconcilerMetrics struct {
	transitions    metric.Int64Counter
	timeToTerminal metric.Float64Histogram
	conflicts      metric.Int64Counter
	webhooks       metric.Int64Counter
	sweepDuration  metric.Float64Histogram
	sweepPolled    metric.Int64Counter
}

// NewReconcilerMetrics creates a new ReconcilerMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewReconcilerMetrics(provider metric.MeterProvider) (*ReconcilerMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(ReconcilerMetricsMeterName)

	transitions, err := meter.Int64Counter(
		"thv_img_srv_transitions_total",
		metric.WithDescription("Number of committed terminal transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	timeToTerminal, err := meter.Float64Histogram(
		"thv_img_srv_time_to_terminal_seconds",
		metric.WithDescription("Time from creation to the terminal transition in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 120, 300, 600, 1800),
	)
	if err != nil {
		return nil, err
	}

	conflicts, err := meter.Int64Counter(
		"thv_img_srv_transition_conflicts_total",
		metric.WithDescription("Number of transitions lost to a concurrent writer"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	webhooks, err := meter.Int64Counter(
		"thv_img_srv_webhooks_total",
		metric.WithDescription("Number of webhook deliveries by result"),
		metric.WithUnit("{delivery}"),
	)
	if err != nil {
		return nil, err
	}

	sweepDuration, err := meter.Float64Histogram(
		"thv_img_srv_sweep_duration_seconds",
		metric.WithDescription("Duration of poll sweeps in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, err
	}

	sweepPolled, err := meter.Int64Counter(
		"thv_img_srv_sweep_polled_total",
		metric.WithDescription("Number of pending generations polled by sweeps"),
		metric.WithUnit("{generation}"),
	)
	if err != nil {
		return nil, err
	}

	return &ReconcilerMetrics{
		transitions:    transitions,
		timeToTerminal: timeToTerminal,
		conflicts:      conflicts,
		webhooks:       webhooks,
		sweepDuration:  sweepDuration,
		sweepPolled:    sweepPolled,
	}, nil
}

// RecordTransition records a committed transition from the given source and
// how long the generation was pending
func (m *ReconcilerMetrics) RecordTransition(ctx context.Context, source, status string, pending time.Duration) {
	if m == nil || m.transitions == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("status", status),
	)
	m.transitions.Add(ctx, 1, attrs)
	m.timeToTerminal.Record(ctx, pending.Seconds(), attrs)
}

// RecordConflict records a transition that lost the race
func (m *ReconcilerMetrics) RecordConflict(ctx context.Context, source string) {
	if m == nil || m.conflicts == nil {
		return
	}
	m.conflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// RecordWebhook records one webhook delivery
func (m *ReconcilerMetrics) RecordWebhook(ctx context.Context, providerName, result string) {
	if m == nil || m.webhooks == nil {
		return
	}
	m.webhooks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", providerName),
		attribute.String("result", result),
	))
}

// RecordSweep records a completed sweep
func (m *ReconcilerMetrics) RecordSweep(ctx context.Context, duration time.Duration, polled int) {
	if m == nil || m.sweepDuration == nil {
		return
	}
	m.sweepDuration.Record(ctx, duration.Seconds())
	m.sweepPolled.Add(ctx, int64(polled))
}

// CatalogMetrics holds the OpenTelemetry instruments for catalog sync
type CatalogMetrics struct {
	syncDuration metric.Float64Histogram
	modelsTotal  metric.Int64Gauge
}

// NewCatalogMetrics creates a new CatalogMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewCatalogMetrics(provider metric.MeterProvider) (*CatalogMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(CatalogMetricsMeterName)

	syncDuration, err := meter.Float64Histogram(
		"thv_img_srv_catalog_sync_duration_seconds",
		metric.WithDescription("Duration of catalog sync jobs in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return nil, err
	}

	modelsTotal, err := meter.Int64Gauge(
		"thv_img_srv_catalog_models_total",
		metric.WithDescription("Number of models in each catalog scope"),
		metric.WithUnit("{model}"),
	)
	if err != nil {
		return nil, err
	}

	return &CatalogMetrics{
		syncDuration: syncDuration,
		modelsTotal:  modelsTotal,
	}, nil
}

// RecordSyncDuration records the duration of a sync job for a scope
func (m *CatalogMetrics) RecordSyncDuration(ctx context.Context, scope string, duration time.Duration, success bool) {
	if m == nil || m.syncDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("scope", scope),
		attribute.Bool("success", success),
	}

	m.syncDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordModelsTotal records the current number of models in a scope
func (m *CatalogMetrics) RecordModelsTotal(ctx context.Context, scope string, count int64) {
	if m == nil || m.modelsTotal == nil {
		return
	}
	m.modelsTotal.Record(ctx, count, metric.WithAttributes(attribute.String("scope", scope)))
}
