// Package memory provides an in-process implementation of the generation store.
// It is intended for single-replica deployments and tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/stacklok/toolhive-imagegen-server/internal/generation"
	"github.com/stacklok/toolhive-imagegen-server/internal/store"
)

type requestKey struct {
	provider  string
	requestID string
}

type memoryStore struct {
	mu        sync.RWMutex
	records   map[string]*generation.Generation
	byRequest map[requestKey]string
}

var _ store.Store = (*memoryStore)(nil)

// New creates an empty in-memory generation store.
func New() store.Store {
	return &memoryStore{
		records:   make(map[string]*generation.Generation),
		byRequest: make(map[requestKey]string),
	}
}

func (m *memoryStore) Create(_ context.Context, g *generation.Generation) error {
	if g == nil || g.ID == "" {
		return fmt.Errorf("generation id is required")
	}
	if g.Status != generation.StatusPending {
		return fmt.Errorf("new generations must be pending, got %s", g.Status)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[g.ID]; exists {
		return store.ErrDuplicateID
	}
	key := requestKey{provider: g.Provider, requestID: g.ProviderRequestID}
	if g.ProviderRequestID != "" {
		if _, exists := m.byRequest[key]; exists {
			return store.ErrDuplicateProviderRequest
		}
	}

	record := g.Clone()
	record.CreatedAt = record.CreatedAt.UTC().Truncate(time.Microsecond)
	m.records[g.ID] = record
	if g.ProviderRequestID != "" {
		m.byRequest[key] = g.ID
	}
	g.CreatedAt = record.CreatedAt
	return nil
}

func (m *memoryStore) Get(_ context.Context, id string) (*generation.Generation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return record.Clone(), nil
}

func (m *memoryStore) GetByProviderRequestID(
	_ context.Context,
	provider, requestID string,
) (*generation.Generation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byRequest[requestKey{provider: provider, requestID: requestID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return m.records[id].Clone(), nil
}

func (m *memoryStore) List(_ context.Context, opts store.ListOptions) (*store.ListResult, error) {
	after, err := store.DecodeCursor(opts.Cursor)
	if err != nil {
		return nil, err
	}
	limit := store.ClampLimit(opts.Limit)

	m.mu.RLock()
	matches := make([]*generation.Generation, 0)
	for _, record := range m.records {
		if !opts.Filter.Matches(record) {
			continue
		}
		if after != nil && !store.PositionOf(record).Before(*after) {
			continue
		}
		matches = append(matches, record.Clone())
	}
	m.mu.RUnlock()

	// newest first
	slices.SortFunc(matches, func(a, b *generation.Generation) int {
		pa, pb := store.PositionOf(a), store.PositionOf(b)
		switch {
		case pb.Before(pa):
			return -1
		case pa.Before(pb):
			return 1
		default:
			return 0
		}
	})

	result := &store.ListResult{}
	if len(matches) > limit {
		matches = matches[:limit]
		result.NextCursor = store.EncodeCursor(store.PositionOf(matches[limit-1]))
	}
	result.Items = matches
	return result, nil
}

func (m *memoryStore) ListPending(_ context.Context, query store.PendingQuery) ([]*generation.Generation, error) {
	limit := store.ClampLimit(query.Limit)

	m.mu.RLock()
	pending := make([]*generation.Generation, 0)
	for _, record := range m.records {
		if record.Status != generation.StatusPending || record.CreatedAt.After(query.CreatedBefore) {
			continue
		}
		if query.After != nil && !query.After.Before(store.PositionOf(record)) {
			continue
		}
		pending = append(pending, record.Clone())
	}
	m.mu.RUnlock()

	// oldest first
	slices.SortFunc(pending, func(a, b *generation.Generation) int {
		pa, pb := store.PositionOf(a), store.PositionOf(b)
		switch {
		case pa.Before(pb):
			return -1
		case pb.Before(pa):
			return 1
		default:
			return 0
		}
	})

	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (m *memoryStore) Transition(
	_ context.Context,
	id string,
	from, to generation.Status,
	patch generation.Patch,
) (*generation.Generation, error) {
	if err := generation.ValidateTransition(from, to, patch); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if record.Status != from {
		return nil, store.ErrConflict
	}

	patch.CompletedAt = patch.CompletedAt.UTC().Truncate(time.Microsecond)
	record.Apply(to, patch)
	return record.Clone(), nil
}

func (m *memoryStore) UpdateTags(_ context.Context, id string, add, remove []string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	next := generation.ApplyTagUpdate(record.Tags, add, remove)
	if len(next) > generation.MaxTags {
		return nil, store.ErrTooManyTags
	}
	record.Tags = next
	return slices.Clone(record.Tags), nil
}

func (m *memoryStore) Delete(_ context.Context, id string) (*generation.Generation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	delete(m.records, id)
	if record.ProviderRequestID != "" {
		delete(m.byRequest, requestKey{provider: record.Provider, requestID: record.ProviderRequestID})
	}
	return record, nil
}

func (*memoryStore) Ping(context.Context) error {
	return nil
}
