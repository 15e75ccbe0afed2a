// Package events publishes generation lifecycle events to a message broker.
//
// Publication is best-effort and happens after the state change committed:
// a broker outage never fails or rolls back an API operation. Consumers must
// tolerate duplicates (events carry a stable ID usable for de-duplication)
// and gaps.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/stacklok/toolhive-imagegen-server/internal/generation"
)

//go:generate mockgen -destination=mocks/mock_events.go -package=mocks -source=events.go Publisher

// Type names a lifecycle event.
type Type string

const (
	// TypeCreated is emitted once a pending generation is stored
	TypeCreated Type = "generation.created"
	// TypeReady is emitted when a generation transitions to ready
	TypeReady Type = "generation.ready"
	// TypeFailed is emitted when a generation transitions to failed
	TypeFailed Type = "generation.failed"
	// TypeDeleted is emitted after a generation is deleted
	TypeDeleted Type = "generation.deleted"
)

// Event is the published payload.
type Event struct {
	ID           string                    `json:"id"`
	Type         Type                      `json:"type"`
	GenerationID string                    `json:"generationId"`
	Endpoint     string                    `json:"endpoint"`
	Provider     string                    `json:"provider"`
	Status       generation.Status         `json:"status"`
	Tags         []string                  `json:"tags"`
	Artifact     *generation.ArtifactRef   `json:"artifact,omitempty"`
	Error        *generation.FailureDetail `json:"error,omitempty"`
	OccurredAt   time.Time                 `json:"occurredAt"`
}

// Publisher delivers events to a broker.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// New builds the event describing g for the given type. The ID is derived
// from the generation and the type, so redeliveries of the same transition
// share it.
func New(eventType Type, g *generation.Generation, at time.Time) Event {
	return Event{
		ID:           fmt.Sprintf("%s:%s", g.ID, eventType),
		Type:         eventType,
		GenerationID: g.ID,
		Endpoint:     g.Endpoint,
		Provider:     g.Provider,
		Status:       g.Status,
		Tags:         g.Tags,
		Artifact:     g.Artifact,
		Error:        g.Error,
		OccurredAt:   at.UTC(),
	}
}

// ForStatus returns the event type announcing a terminal status.
func ForStatus(status generation.Status) Type {
	if status == generation.StatusReady {
		return TypeReady
	}
	return TypeFailed
}

type noopPublisher struct{}

// NewNoop returns a Publisher that drops every event.
func NewNoop() Publisher {
	return noopPublisher{}
}

func (noopPublisher) Publish(context.Context, Event) error { return nil }

func (noopPublisher) Close() error { return nil }
