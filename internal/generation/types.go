// Package generation defines the image generation record and the rules
// governing its lifecycle.
package generation

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Status is the lifecycle state of a generation.
type Status string

const (
	// StatusPending means the job was accepted by a provider and has not completed yet
	StatusPending Status = "pending"
	// StatusReady means the job completed and its artifact is stored
	StatusReady Status = "ready"
	// StatusFailed means the job completed without a usable artifact
	StatusFailed Status = "failed"
)

// ErrInvalidTransition is returned when a transition violates the lifecycle rules.
var ErrInvalidTransition = errors.New("invalid status transition")

// IsValid reports whether s is one of the known statuses.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusReady, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether s is a final state.
func (s Status) IsTerminal() bool {
	return s == StatusReady || s == StatusFailed
}

// ParseStatus converts a string into a Status.
func ParseStatus(s string) (Status, error) {
	status := Status(s)
	if !status.IsValid() {
		return "", fmt.Errorf("unknown status %q: must be one of pending, ready, failed", s)
	}
	return status, nil
}

// FailureKind classifies why a generation failed.
type FailureKind string

const (
	// FailureProviderRejected is a job the provider refused to run
	FailureProviderRejected FailureKind = "provider_rejected"
	// FailureProviderAuth is a job refused because of provider credentials
	FailureProviderAuth FailureKind = "provider_auth_error"
	// FailureProviderFailed is a job the provider accepted but reported as failed
	FailureProviderFailed FailureKind = "provider_failed"
	// FailureArtifactInvalid is a reported success whose artifact data was missing or unusable
	FailureArtifactInvalid FailureKind = "artifact_invalid"
	// FailureInternal is any other failure
	FailureInternal FailureKind = "internal"
)

// FailureDetail describes a failed generation.
type FailureDetail struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

// ArtifactRef points at the stored output of a ready generation.
type ArtifactRef struct {
	Key         string `json:"key"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	SourceURL   string `json:"sourceUrl,omitempty"`
}

// Generation is one request to an inference provider and its lifecycle record.
type Generation struct {
	ID                string         `json:"id"`
	Endpoint          string         `json:"endpoint"`
	Provider          string         `json:"provider"`
	Input             map[string]any `json:"input"`
	Status            Status         `json:"status"`
	ProviderRequestID string         `json:"providerRequestId"`
	Tags              []string       `json:"tags"`
	Artifact          *ArtifactRef   `json:"artifact,omitempty"`
	Error             *FailureDetail `json:"error,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
	CompletedAt       *time.Time     `json:"completedAt,omitempty"`
}

// Patch carries the fields written by a terminal transition.
type Patch struct {
	Artifact    *ArtifactRef
	Error       *FailureDetail
	CompletedAt time.Time
}

// ReadyPatch builds the patch for a transition to ready.
func ReadyPatch(artifact *ArtifactRef, at time.Time) Patch {
	return Patch{Artifact: artifact, CompletedAt: at}
}

// FailedPatch builds the patch for a transition to failed.
func FailedPatch(kind FailureKind, message string, at time.Time) Patch {
	return Patch{Error: &FailureDetail{Kind: kind, Message: message}, CompletedAt: at}
}

// ValidateTransition checks that moving from one status to another with the
// given patch keeps the record consistent.
func ValidateTransition(from, to Status, patch Patch) error {
	if from != StatusPending {
		return fmt.Errorf("%w: cannot leave terminal status %s", ErrInvalidTransition, from)
	}
	if patch.CompletedAt.IsZero() {
		return fmt.Errorf("%w: completion time is required", ErrInvalidTransition)
	}

	switch to {
	case StatusReady:
		if patch.Artifact == nil || patch.Artifact.Key == "" {
			return fmt.Errorf("%w: ready requires an artifact reference", ErrInvalidTransition)
		}
		if patch.Error != nil {
			return fmt.Errorf("%w: ready cannot carry an error", ErrInvalidTransition)
		}
	case StatusFailed:
		if patch.Error == nil {
			return fmt.Errorf("%w: failed requires an error detail", ErrInvalidTransition)
		}
		if patch.Artifact != nil {
			return fmt.Errorf("%w: failed cannot carry an artifact", ErrInvalidTransition)
		}
	default:
		return fmt.Errorf("%w: target status %s is not terminal", ErrInvalidTransition, to)
	}
	return nil
}

// Apply writes a validated transition onto g.
func (g *Generation) Apply(to Status, patch Patch) {
	completedAt := patch.CompletedAt
	g.Status = to
	g.Artifact = cloneArtifact(patch.Artifact)
	g.Error = cloneFailure(patch.Error)
	g.CompletedAt = &completedAt
}

// Validate checks the presence invariants tying status to artifact, error
// and completion time.
func (g *Generation) Validate() error {
	if !g.Status.IsValid() {
		return fmt.Errorf("invalid status %q", g.Status)
	}
	if (g.Artifact != nil) != (g.Status == StatusReady) {
		return fmt.Errorf("artifact must be set if and only if status is ready (status=%s)", g.Status)
	}
	if (g.Error != nil) != (g.Status == StatusFailed) {
		return fmt.Errorf("error must be set if and only if status is failed (status=%s)", g.Status)
	}
	if (g.CompletedAt != nil) != g.Status.IsTerminal() {
		return fmt.Errorf("completedAt must be set if and only if status is terminal (status=%s)", g.Status)
	}
	return nil
}

// Clone returns a deep copy of g.
func (g *Generation) Clone() *Generation {
	if g == nil {
		return nil
	}
	c := *g
	c.Input = cloneDocument(g.Input)
	c.Tags = slices.Clone(g.Tags)
	if c.Tags == nil {
		c.Tags = []string{}
	}
	c.Artifact = cloneArtifact(g.Artifact)
	c.Error = cloneFailure(g.Error)
	if g.CompletedAt != nil {
		t := *g.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func cloneArtifact(a *ArtifactRef) *ArtifactRef {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

func cloneFailure(f *FailureDetail) *FailureDetail {
	if f == nil {
		return nil
	}
	c := *f
	return &c
}

func cloneDocument(doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneDocument(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// CloneInput returns a deep copy of an input document.
func CloneInput(doc map[string]any) map[string]any {
	return cloneDocument(doc)
}
