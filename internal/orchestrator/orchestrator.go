// Package orchestrator implements the public generation operations.
//
// The Orchestrator coordinates provider adapters and the generation store.
// It never writes terminal state; that is the reconciler's job. A create
// always calls the provider before the store, so a pending record always
// has a provider job behind it.
package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/toolhive-imagegen-server/internal/blob"
	"github.com/stacklok/toolhive-imagegen-server/internal/events"
	"github.com/stacklok/toolhive-imagegen-server/internal/generation"
	"github.com/stacklok/toolhive-imagegen-server/internal/otel"
	"github.com/stacklok/toolhive-imagegen-server/internal/provider"
	"github.com/stacklok/toolhive-imagegen-server/internal/schema"
	"github.com/stacklok/toolhive-imagegen-server/internal/store"
	"github.com/stacklok/toolhive-imagegen-server/internal/telemetry"
	"github.com/stacklok/toolhive-imagegen-server/internal/webhook"
)

//go:generate mockgen -destination=mocks/mock_orchestrator.go -package=mocks -source=orchestrator.go Service

const (
	// TracerName is the instrumentation name of orchestrator spans
	TracerName = "github.com/stacklok/toolhive-imagegen-server/orchestrator"

	// maxEndpointLength bounds the endpoint identifier
	maxEndpointLength = 256

	// cleanupTimeout bounds best-effort provider and blob cleanup calls
	cleanupTimeout = 10 * time.Second
)

// submission outcomes recorded in metrics
const (
	outcomeAccepted   = "accepted"
	outcomeStoreError = "store_error"
)

// CreateRequest is the input of Create.
type CreateRequest struct {
	Endpoint string
	Input    map[string]any
	Tags     []string
}

// Service is the Generation Orchestrator.
type Service interface {
	// Create submits a new job and records it as pending
	Create(ctx context.Context, req CreateRequest) (*generation.Generation, error)

	// Get returns one generation
	Get(ctx context.Context, id string) (*generation.Generation, error)

	// List returns a page of generations
	List(ctx context.Context, opts store.ListOptions) (*store.ListResult, error)

	// Regenerate submits the endpoint and input of an existing generation as
	// a brand new generation. Nil tags inherit the original tags.
	Regenerate(ctx context.Context, id string, tags []string) (*generation.Generation, error)

	// UpdateTags adds then removes tags and returns the resulting set
	UpdateTags(ctx context.Context, id string, add, remove []string) ([]string, error)

	// Delete removes a generation and best-effort removes its artifact
	Delete(ctx context.Context, id string) error

	// Cancel asks the provider to stop a pending job. State is not changed.
	Cancel(ctx context.Context, id string) error

	// OpenArtifact streams the artifact of a ready generation
	OpenArtifact(ctx context.Context, id string) (io.ReadCloser, *blob.Info, error)

	// Ping reports whether the store is reachable
	Ping(ctx context.Context) error
}

type orchestrator struct {
	store         store.Store
	registry      *provider.Registry
	blobs         blob.Store
	validator     *schema.Validator
	signer        *webhook.Signer
	publicBaseURL string
	publisher     events.Publisher
	metrics       *telemetry.GenerationMetrics
	tracer        trace.Tracer
	now           func() time.Time
	newID         func() string
}

var _ Service = (*orchestrator)(nil)

// Option configures the orchestrator
type Option func(*orchestrator)

// WithValidator sets the per-endpoint input schema validator
func WithValidator(v *schema.Validator) Option {
	return func(o *orchestrator) {
		o.validator = v
	}
}

// WithWebhooks enables callback URLs for providers that push results.
// Without it every provider is polled.
func WithWebhooks(signer *webhook.Signer, publicBaseURL string) Option {
	return func(o *orchestrator) {
		o.signer = signer
		o.publicBaseURL = publicBaseURL
	}
}

// WithPublisher sets the lifecycle event publisher
func WithPublisher(p events.Publisher) Option {
	return func(o *orchestrator) {
		if p != nil {
			o.publisher = p
		}
	}
}

// WithMetrics sets the submission metrics
func WithMetrics(m *telemetry.GenerationMetrics) Option {
	return func(o *orchestrator) {
		o.metrics = m
	}
}

// WithTracer sets the tracer used for operation spans
func WithTracer(t trace.Tracer) Option {
	return func(o *orchestrator) {
		o.tracer = t
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(o *orchestrator) {
		o.now = now
	}
}

// WithIDGenerator overrides generation id assignment
func WithIDGenerator(fn func() string) Option {
	return func(o *orchestrator) {
		o.newID = fn
	}
}

// New creates the Generation Orchestrator.
func New(st store.Store, registry *provider.Registry, blobs blob.Store, opts ...Option) Service {
	o := &orchestrator{
		store:     st,
		registry:  registry,
		blobs:     blobs,
		publisher: events.NewNoop(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *orchestrator) Create(ctx context.Context, req CreateRequest) (*generation.Generation, error) {
	ctx, span := otel.StartSpan(ctx, o.tracer, "orchestrator.Create",
		trace.WithAttributes(otel.AttrEndpoint.String(req.Endpoint)))
	defer span.End()

	g, err := o.submit(ctx, req)
	otel.RecordError(span, err)
	if err == nil {
		span.SetAttributes(otel.AttrGenerationID.String(g.ID), otel.AttrProviderName.String(g.Provider))
	}
	return g, err
}

// submit runs the shared create flow: validate, call the provider, persist.
func (o *orchestrator) submit(ctx context.Context, req CreateRequest) (*generation.Generation, error) {
	endpoint := strings.TrimSpace(req.Endpoint)
	if endpoint == "" {
		return nil, validationError("endpoint is required")
	}
	if len(endpoint) > maxEndpointLength {
		return nil, validationError("endpoint exceeds %d characters", maxEndpointLength)
	}
	if req.Input == nil {
		return nil, validationError("input must be a JSON object")
	}

	adapter, err := o.registry.Resolve(endpoint)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Message: "no provider serves endpoint " + endpoint, Err: err}
	}
	if err := o.validator.Validate(endpoint, req.Input); err != nil {
		return nil, &Error{Kind: KindValidation, Message: err.Error(), Err: err}
	}
	tags, err := generation.NormalizeTags(req.Tags)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Message: err.Error(), Err: err}
	}

	callbackURL, err := o.callbackURL(adapter)
	if err != nil {
		return nil, internal(err)
	}

	start := o.now()
	submission, err := adapter.Submit(ctx, provider.SubmitRequest{
		Endpoint:    endpoint,
		Input:       generation.CloneInput(req.Input),
		CallbackURL: callbackURL,
	})
	if err != nil {
		outcome := provider.KindOf(err)
		if outcome == "" {
			outcome = provider.KindUnreachable
		}
		o.metrics.RecordSubmission(ctx, adapter.Name(), endpoint, string(outcome), o.now().Sub(start))
		slog.WarnContext(ctx, "Provider submission failed",
			"provider", adapter.Name(),
			"endpoint", endpoint,
			"error", err)
		return nil, fromProvider(err)
	}

	g := &generation.Generation{
		ID:                o.newID(),
		Endpoint:          endpoint,
		Provider:          adapter.Name(),
		Input:             generation.CloneInput(req.Input),
		Status:            generation.StatusPending,
		ProviderRequestID: submission.RequestID,
		Tags:              tags,
		CreatedAt:         o.now().UTC().Truncate(time.Microsecond),
	}
	if err := o.store.Create(ctx, g); err != nil {
		o.metrics.RecordSubmission(ctx, adapter.Name(), endpoint, outcomeStoreError, o.now().Sub(start))
		slog.ErrorContext(ctx, "Failed to record submitted generation",
			"provider", adapter.Name(),
			"provider_request_id", submission.RequestID,
			"error", err)
		o.cancelOrphan(ctx, adapter, endpoint, submission.RequestID)
		return nil, internal(err)
	}
	o.metrics.RecordSubmission(ctx, adapter.Name(), endpoint, outcomeAccepted, o.now().Sub(start))

	slog.InfoContext(ctx, "Generation submitted",
		"generation_id", g.ID,
		"provider", g.Provider,
		"provider_request_id", g.ProviderRequestID,
		"queue_position", submission.QueuePosition)
	o.publish(ctx, events.TypeCreated, g)
	return g, nil
}

// callbackURL returns the signed webhook target for adapters that push
// results, or "" when the caller should poll.
func (o *orchestrator) callbackURL(adapter provider.Adapter) (string, error) {
	if o.signer == nil || o.publicBaseURL == "" {
		return "", nil
	}
	if _, ok := adapter.(provider.WebhookParser); !ok {
		return "", nil
	}
	return o.signer.CallbackURL(o.publicBaseURL, adapter.Name())
}

// cancelOrphan asks the provider to drop a job we failed to record.
func (o *orchestrator) cancelOrphan(ctx context.Context, adapter provider.Adapter, endpoint, requestID string) {
	canceller, ok := adapter.(provider.Canceller)
	if !ok {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := canceller.Cancel(cctx, provider.RequestRef{Endpoint: endpoint, RequestID: requestID}); err != nil {
		slog.WarnContext(ctx, "Failed to cancel unrecorded provider job",
			"provider", adapter.Name(),
			"provider_request_id", requestID,
			"error", err)
	}
}

func (o *orchestrator) Get(ctx context.Context, id string) (*generation.Generation, error) {
	ctx, span := otel.StartSpan(ctx, o.tracer, "orchestrator.Get",
		trace.WithAttributes(otel.AttrGenerationID.String(id)))
	defer span.End()

	g, err := o.store.Get(ctx, id)
	if err != nil {
		otel.RecordError(span, err)
		return nil, fromStore(id, err)
	}
	return g, nil
}

func (o *orchestrator) List(ctx context.Context, opts store.ListOptions) (*store.ListResult, error) {
	ctx, span := otel.StartSpan(ctx, o.tracer, "orchestrator.List",
		trace.WithAttributes(
			otel.AttrPageSize.Int(opts.Limit),
			otel.AttrHasCursor.Bool(opts.Cursor != ""),
		))
	defer span.End()

	if opts.Filter.Status != "" && !opts.Filter.Status.IsValid() {
		return nil, validationError("unknown status %q", opts.Filter.Status)
	}
	opts.Filter.Endpoint = strings.TrimSpace(opts.Filter.Endpoint)

	result, err := o.store.List(ctx, opts)
	if err != nil {
		otel.RecordError(span, err)
		return nil, fromStore("", err)
	}
	span.SetAttributes(otel.AttrResultCount.Int(len(result.Items)))
	return result, nil
}

func (o *orchestrator) Regenerate(ctx context.Context, id string, tags []string) (*generation.Generation, error) {
	ctx, span := otel.StartSpan(ctx, o.tracer, "orchestrator.Regenerate",
		trace.WithAttributes(otel.AttrGenerationID.String(id)))
	defer span.End()

	original, err := o.store.Get(ctx, id)
	if err != nil {
		otel.RecordError(span, err)
		return nil, fromStore(id, err)
	}
	if tags == nil {
		tags = original.Tags
	}

	g, err := o.submit(ctx, CreateRequest{Endpoint: original.Endpoint, Input: original.Input, Tags: tags})
	if err != nil {
		otel.RecordError(span, err)
		return nil, err
	}
	slog.InfoContext(ctx, "Generation regenerated", "generation_id", g.ID, "original_id", id)
	return g, nil
}

func (o *orchestrator) UpdateTags(ctx context.Context, id string, add, remove []string) ([]string, error) {
	add, err := generation.NormalizeTags(add)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Message: err.Error(), Err: err}
	}
	remove, err = generation.NormalizeTags(remove)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Message: err.Error(), Err: err}
	}

	tags, err := o.store.UpdateTags(ctx, id, add, remove)
	if err != nil {
		return nil, fromStore(id, err)
	}
	return tags, nil
}

func (o *orchestrator) Delete(ctx context.Context, id string) error {
	ctx, span := otel.StartSpan(ctx, o.tracer, "orchestrator.Delete",
		trace.WithAttributes(otel.AttrGenerationID.String(id)))
	defer span.End()

	deleted, err := o.store.Delete(ctx, id)
	if err != nil {
		otel.RecordError(span, err)
		return fromStore(id, err)
	}

	if deleted.Artifact != nil && o.blobs != nil {
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		if err := o.blobs.Delete(bctx, deleted.Artifact.Key); err != nil {
			slog.WarnContext(ctx, "Failed to delete artifact blob",
				"generation_id", id,
				"key", deleted.Artifact.Key,
				"error", err)
		}
		cancel()
	}

	slog.InfoContext(ctx, "Generation deleted", "generation_id", id)
	o.publish(ctx, events.TypeDeleted, deleted)
	return nil
}

func (o *orchestrator) Cancel(ctx context.Context, id string) error {
	g, err := o.store.Get(ctx, id)
	if err != nil {
		return fromStore(id, err)
	}
	if g.Status.IsTerminal() {
		return nil
	}

	adapter, ok := o.registry.Get(g.Provider)
	if !ok {
		return internal(errors.New("generation references unconfigured provider " + g.Provider))
	}
	canceller, ok := adapter.(provider.Canceller)
	if !ok {
		slog.DebugContext(ctx, "Provider does not support cancellation",
			"generation_id", id,
			"provider", g.Provider)
		return nil
	}

	if err := canceller.Cancel(ctx, provider.RequestRef{Endpoint: g.Endpoint, RequestID: g.ProviderRequestID}); err != nil {
		slog.WarnContext(ctx, "Provider cancellation failed",
			"generation_id", id,
			"provider", g.Provider,
			"error", err)
		return fromProvider(err)
	}
	slog.InfoContext(ctx, "Cancellation requested", "generation_id", id, "provider", g.Provider)
	return nil
}

func (o *orchestrator) OpenArtifact(ctx context.Context, id string) (io.ReadCloser, *blob.Info, error) {
	g, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, nil, fromStore(id, err)
	}
	if g.Status != generation.StatusReady || g.Artifact == nil {
		return nil, nil, &Error{Kind: KindNotFound, Message: "generation " + id + " has no artifact"}
	}

	rc, info, err := o.blobs.Get(ctx, g.Artifact.Key)
	if errors.Is(err, blob.ErrNotFound) {
		slog.ErrorContext(ctx, "Artifact blob missing for ready generation",
			"generation_id", id,
			"key", g.Artifact.Key)
		return nil, nil, &Error{Kind: KindNotFound, Message: "artifact for generation " + id + " not found", Err: err}
	}
	if err != nil {
		return nil, nil, internal(err)
	}
	if info.ContentType == "" || info.ContentType == "application/octet-stream" {
		info.ContentType = g.Artifact.ContentType
	}
	return rc, info, nil
}

func (o *orchestrator) Ping(ctx context.Context) error {
	if err := o.store.Ping(ctx); err != nil {
		return internal(err)
	}
	return nil
}

func (o *orchestrator) publish(ctx context.Context, eventType events.Type, g *generation.Generation) {
	event := events.New(eventType, g, o.now())
	if err := o.publisher.Publish(ctx, event); err != nil {
		slog.WarnContext(ctx, "Failed to publish lifecycle event",
			"generation_id", g.ID,
			"event", eventType,
			"error", err)
	}
}
