// Package store defines the durable record store for generations.
//
// Implementations live in the memory and database subpackages. Every
// implementation provides the same guarantees: Transition is a conditional
// write that only succeeds while the stored status still equals the expected
// one, and List pages are ordered by creation time descending with the id as
// tie-break.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/stacklok/toolhive-imagegen-server/internal/generation"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks -source=store.go Store

const (
	// DefaultListLimit is used when a caller does not ask for a page size
	DefaultListLimit = 20

	// MaxListLimit is the largest page a single List call returns
	MaxListLimit = 100
)

var (
	// ErrNotFound is returned when no generation matches the lookup
	ErrNotFound = errors.New("generation not found")

	// ErrConflict is returned by Transition when the stored status no longer
	// equals the expected one. Another writer finished the generation first.
	ErrConflict = errors.New("generation status changed concurrently")

	// ErrDuplicateID is returned by Create when the id is already taken
	ErrDuplicateID = errors.New("generation id already exists")

	// ErrDuplicateProviderRequest is returned by Create when another generation
	// already holds the same provider request id
	ErrDuplicateProviderRequest = errors.New("provider request id already recorded")

	// ErrInvalidCursor is returned when a cursor cannot be decoded
	ErrInvalidCursor = errors.New("invalid cursor")

	// ErrTooManyTags is returned by UpdateTags when the result would exceed
	// generation.MaxTags. The stored tags are left unchanged.
	ErrTooManyTags = errors.New("too many tags")
)

// Store is the Generation Store.
type Store interface {
	// Create inserts a new pending generation.
	Create(ctx context.Context, g *generation.Generation) error

	// Get returns the generation with the given id.
	Get(ctx context.Context, id string) (*generation.Generation, error)

	// GetByProviderRequestID resolves a provider request id through the
	// secondary index.
	GetByProviderRequestID(ctx context.Context, provider, requestID string) (*generation.Generation, error)

	// List returns a page of generations matching the filter.
	List(ctx context.Context, opts ListOptions) (*ListResult, error)

	// ListPending returns pending generations created at or before the query
	// horizon, oldest first, for the poll sweep.
	ListPending(ctx context.Context, query PendingQuery) ([]*generation.Generation, error)

	// Transition moves a generation from one status to another if and only if
	// its stored status still equals from. It returns ErrConflict otherwise.
	Transition(
		ctx context.Context,
		id string,
		from, to generation.Status,
		patch generation.Patch,
	) (*generation.Generation, error)

	// UpdateTags adds and then removes tags, returning the resulting set. The
	// limit is checked against the stored tags in the same atomic step.
	UpdateTags(ctx context.Context, id string, add, remove []string) ([]string, error)

	// Delete removes a generation and returns the record as it was.
	Delete(ctx context.Context, id string) (*generation.Generation, error)

	// Ping checks the backing store is reachable.
	Ping(ctx context.Context) error
}

// Filter narrows a listing. Zero values match everything.
type Filter struct {
	Status   generation.Status
	Endpoint string
	Tags     []string
}

// Matches reports whether g satisfies the filter.
func (f Filter) Matches(g *generation.Generation) bool {
	if f.Status != "" && g.Status != f.Status {
		return false
	}
	if f.Endpoint != "" && g.Endpoint != f.Endpoint {
		return false
	}
	return generation.HasAllTags(g.Tags, f.Tags)
}

// ListOptions controls a List call.
type ListOptions struct {
	Filter Filter
	Cursor string
	Limit  int
}

// ListResult is one page of generations.
type ListResult struct {
	Items      []*generation.Generation
	NextCursor string
}

// PendingQuery selects pending generations for a poll sweep page.
// After is the position of the last record of the previous page.
type PendingQuery struct {
	CreatedBefore time.Time
	After         *Position
	Limit         int
}

// ClampLimit applies the default and bounds to a requested page size.
// Zero means "not set".
func ClampLimit(limit int) int {
	switch {
	case limit == 0:
		return DefaultListLimit
	case limit < 1:
		return 1
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}
