// Package provider defines the uniform contract every inference backend
// adapter implements.
//
// Submit is the only mandatory operation. Polling, cancellation, webhook
// parsing and model enumeration are optional capabilities expressed as
// separate interfaces; callers discover them with a type assertion:
//
//	if poller, ok := adapter.(provider.Poller); ok {
//		outcome, err := poller.Poll(ctx, ref)
//	}
package provider

import (
	"context"
	"net/http"
)

//go:generate mockgen -destination=mocks/mock_provider.go -package=mocks -source=provider.go Adapter,Poller,Canceller,WebhookParser,ModelLister

// SubmitRequest is a single job submission.
type SubmitRequest struct {
	// Endpoint is the provider+model identifier, e.g. "img-gen/fast"
	Endpoint string
	// Input is sent to the provider as the job document
	Input map[string]any
	// CallbackURL is where a webhook capable provider should report completion.
	// Empty means the caller will poll.
	CallbackURL string
}

// Submission is what the provider returned for an accepted job.
type Submission struct {
	RequestID string
	// QueuePosition is the position reported at submission, or -1 if unknown
	QueuePosition int
}

// Adapter is the mandatory part of a provider backend.
type Adapter interface {
	// Name is the configured provider name, unique within a registry.
	Name() string

	// Submit sends a job. It is a single external call and is never retried
	// by the adapter, since the provider may have accepted the job even when
	// the response was lost.
	Submit(ctx context.Context, req SubmitRequest) (*Submission, error)
}

// RequestRef addresses a previously submitted job.
type RequestRef struct {
	Endpoint  string
	RequestID string
}

// State is the provider side state of a job.
type State string

const (
	// StatePending means the job has not finished
	StatePending State = "pending"
	// StateSucceeded means the job finished and produced artifacts
	StateSucceeded State = "succeeded"
	// StateFailed means the job finished without a result
	StateFailed State = "failed"
)

// ArtifactData is one produced output as delivered by the provider: either
// inline bytes or a URL to download from.
type ArtifactData struct {
	URL         string
	Data        []byte
	ContentType string
	Width       int
	Height      int
}

// Outcome is the result of a poll or a webhook delivery.
type Outcome struct {
	State         State
	QueuePosition int
	Artifacts     []ArtifactData
	// Message is the human readable failure reason when State is StateFailed
	Message string
}

// Poller is implemented by adapters whose jobs can be queried for status.
type Poller interface {
	Poll(ctx context.Context, ref RequestRef) (*Outcome, error)
}

// Canceller is implemented by adapters supporting best-effort cancellation.
type Canceller interface {
	Cancel(ctx context.Context, ref RequestRef) error
}

// WebhookEvent is a parsed completion callback.
type WebhookEvent struct {
	RequestID string
	Outcome   Outcome
}

// WebhookParser is implemented by adapters that push completion callbacks.
type WebhookParser interface {
	ParseWebhook(header http.Header, body []byte) (*WebhookEvent, error)
}

// Model is one entry of a provider model catalog.
type Model struct {
	Endpoint    string `json:"endpoint"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Provider    string `json:"provider"`
}

// ModelLister is implemented by adapters that can enumerate their models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]Model, error)
}
