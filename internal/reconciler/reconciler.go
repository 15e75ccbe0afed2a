// Package reconciler applies provider completion outcomes to stored
// generations.
//
// Outcomes arrive on two paths: webhook deliveries (HandleWebhook) and the
// periodic poll sweep (Sweeper). Both funnel into Apply, which performs the
// single conditional pending→terminal transition. Whichever path commits
// first wins; the loser observes store.ErrConflict, which is counted and
// swallowed. Duplicate and late deliveries are therefore harmless.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/stacklok/toolhive-imagegen-server/internal/events"
	"github.com/stacklok/toolhive-imagegen-server/internal/generation"
	"github.com/stacklok/toolhive-imagegen-server/internal/provider"
	"github.com/stacklok/toolhive-imagegen-server/internal/store"
	"github.com/stacklok/toolhive-imagegen-server/internal/telemetry"
)

// Source identifies which path produced an outcome.
type Source string

const (
	// SourceWebhook is a provider push callback
	SourceWebhook Source = "webhook"
	// SourcePoll is the periodic poll sweep
	SourcePoll Source = "poll"
)

// webhook results recorded in metrics
const (
	webhookAccepted  = "accepted"
	webhookDuplicate = "duplicate"
	webhookUnknown   = "unknown_request"
	webhookMalformed = "malformed"
	webhookError     = "error"
)

const defaultFailureMessage = "provider reported failure"

var (
	// ErrUnknownProvider is returned for a webhook naming no configured provider
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrWebhookUnsupported is returned when the provider does not push callbacks
	ErrWebhookUnsupported = errors.New("provider does not deliver webhooks")

	// ErrMalformedWebhook is returned when a webhook body cannot be parsed
	ErrMalformedWebhook = errors.New("malformed webhook")
)

// Reconciler is the Completion Reconciler.
type Reconciler struct {
	store        store.Store
	registry     *provider.Registry
	materializer *Materializer
	blobs        cleaner
	publisher    events.Publisher
	metrics      *telemetry.ReconcilerMetrics
	now          func() time.Time
}

// cleaner is the part of blob.Store used to drop orphaned artifacts
type cleaner interface {
	Delete(ctx context.Context, key string) error
}

// Option configures a Reconciler
type Option func(*Reconciler)

// WithPublisher sets the lifecycle event publisher
func WithPublisher(p events.Publisher) Option {
	return func(r *Reconciler) {
		if p != nil {
			r.publisher = p
		}
	}
}

// WithMetrics sets the reconciler metrics
func WithMetrics(m *telemetry.ReconcilerMetrics) Option {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

// WithClock overrides the time source used for completion timestamps
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		r.now = now
	}
}

// New creates a Reconciler. The materializer's blob store is also used to
// remove artifacts written by a delivery that lost the transition race.
func New(st store.Store, registry *provider.Registry, materializer *Materializer, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:        st,
		registry:     registry,
		materializer: materializer,
		publisher:    events.NewNoop(),
		now:          time.Now,
	}
	if materializer != nil {
		r.blobs = materializer.blobs
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleWebhook parses a callback for the named provider and applies it.
//
// An unknown request id and a delivery for an already terminal generation
// both return nil so the provider stops redelivering. A non-nil error other
// than the sentinels above means the delivery could not be applied right now
// and should be retried by the provider.
func (r *Reconciler) HandleWebhook(ctx context.Context, providerName string, header http.Header, body []byte) error {
	adapter, ok := r.registry.Get(providerName)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, providerName)
	}
	parser, ok := adapter.(provider.WebhookParser)
	if !ok {
		return fmt.Errorf("%w: %s", ErrWebhookUnsupported, providerName)
	}

	event, err := parser.ParseWebhook(header, body)
	if err != nil {
		r.metrics.RecordWebhook(ctx, providerName, webhookMalformed)
		return fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}

	g, err := r.store.GetByProviderRequestID(ctx, providerName, event.RequestID)
	if errors.Is(err, store.ErrNotFound) {
		slog.WarnContext(ctx, "Webhook for unknown provider request",
			"provider", providerName,
			"provider_request_id", event.RequestID)
		r.metrics.RecordWebhook(ctx, providerName, webhookUnknown)
		return nil
	}
	if err != nil {
		r.metrics.RecordWebhook(ctx, providerName, webhookError)
		return fmt.Errorf("failed to look up generation: %w", err)
	}

	if g.Status.IsTerminal() {
		slog.DebugContext(ctx, "Ignoring webhook for finished generation",
			"generation_id", g.ID,
			"status", g.Status)
		r.metrics.RecordWebhook(ctx, providerName, webhookDuplicate)
		return nil
	}

	if _, err := r.Apply(ctx, SourceWebhook, g, &event.Outcome); err != nil {
		r.metrics.RecordWebhook(ctx, providerName, webhookError)
		return err
	}
	r.metrics.RecordWebhook(ctx, providerName, webhookAccepted)
	return nil
}

// Apply reconciles one outcome against g. It returns the committed record,
// or nil when nothing changed: the outcome was still pending, g was already
// terminal, or another writer committed first.
func (r *Reconciler) Apply(
	ctx context.Context,
	source Source,
	g *generation.Generation,
	outcome *provider.Outcome,
) (*generation.Generation, error) {
	if g.Status.IsTerminal() || outcome == nil {
		return nil, nil
	}

	var (
		to    generation.Status
		patch generation.Patch
	)
	switch outcome.State {
	case provider.StatePending:
		return nil, nil
	case provider.StateFailed:
		message := outcome.Message
		if message == "" {
			message = defaultFailureMessage
		}
		to = generation.StatusFailed
		patch = generation.FailedPatch(generation.FailureProviderFailed, message, r.now())
	case provider.StateSucceeded:
		ref, err := r.materializer.Materialize(ctx, g, outcome.Artifacts)
		switch {
		case errors.Is(err, ErrInvalidArtifact):
			slog.WarnContext(ctx, "Provider artifact rejected",
				"generation_id", g.ID,
				"provider", g.Provider,
				"error", err)
			to = generation.StatusFailed
			patch = generation.FailedPatch(generation.FailureArtifactInvalid, InvalidReason(err), r.now())
		case err != nil:
			return nil, fmt.Errorf("failed to materialize artifact for generation %s: %w", g.ID, err)
		default:
			to = generation.StatusReady
			patch = generation.ReadyPatch(ref, r.now())
		}
	default:
		return nil, fmt.Errorf("unknown provider outcome state %q", outcome.State)
	}

	updated, err := r.store.Transition(ctx, g.ID, generation.StatusPending, to, patch)
	switch {
	case errors.Is(err, store.ErrConflict):
		slog.DebugContext(ctx, "Generation already finished by another writer",
			"generation_id", g.ID,
			"source", source)
		r.metrics.RecordConflict(ctx, string(source))
		r.dropOrphan(ctx, g.ID, patch.Artifact)
		return nil, nil
	case errors.Is(err, store.ErrNotFound):
		slog.InfoContext(ctx, "Generation deleted before completion",
			"generation_id", g.ID,
			"source", source)
		r.dropOrphan(ctx, g.ID, patch.Artifact)
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to transition generation %s: %w", g.ID, err)
	}

	slog.InfoContext(ctx, "Generation finished",
		"generation_id", updated.ID,
		"provider", updated.Provider,
		"status", updated.Status,
		"source", source)
	r.metrics.RecordTransition(ctx, string(source), string(updated.Status), patch.CompletedAt.Sub(updated.CreatedAt))

	event := events.New(events.ForStatus(updated.Status), updated, r.now())
	if err := r.publisher.Publish(ctx, event); err != nil {
		slog.WarnContext(ctx, "Failed to publish lifecycle event",
			"generation_id", updated.ID,
			"event", event.Type,
			"error", err)
	}
	return updated, nil
}

// dropOrphan deletes an artifact this call stored when the record did not
// end up referencing it. A winner that wrote the same key keeps its blob.
func (r *Reconciler) dropOrphan(ctx context.Context, id string, written *generation.ArtifactRef) {
	if written == nil || r.blobs == nil {
		return
	}
	current, err := r.store.Get(ctx, id)
	if err == nil && current.Artifact != nil && current.Artifact.Key == written.Key {
		return
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		// unsure who owns the key, leave it
		return
	}
	if err := r.blobs.Delete(ctx, written.Key); err != nil {
		slog.WarnContext(ctx, "Failed to delete orphaned artifact",
			"generation_id", id,
			"key", written.Key,
			"error", err)
	}
}
