package state

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/stacklok/toolhive-imagegen-server/internal/catalog/status"
)

type fileStateService struct {
	persistence status.StatusPersistence
	now         func() time.Time

	mu     sync.RWMutex
	cached map[status.Scope]*status.SyncStatus
}

// NewFileStateService creates a state service that keeps statuses in memory
// and writes every change through to persistence.
func NewFileStateService(persistence status.StatusPersistence) StateService {
	return &fileStateService{
		persistence: persistence,
		now:         time.Now,
		cached:      make(map[status.Scope]*status.SyncStatus),
	}
}

func (f *fileStateService) Initialize(ctx context.Context, scopes []status.Scope) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, scope := range scopes {
		current, err := f.persistence.LoadStatus(ctx, scope)
		if err != nil {
			slog.Warn("Failed to load sync status, starting from idle", "scope", scope, "error", err)
			current = nil
		}

		dirty := false
		if current == nil {
			current = &status.SyncStatus{State: status.SyncStateIdle, UpdatedAt: f.now().UTC()}
			dirty = true
		} else if recoverInterrupted(current, f.now().UTC()) {
			slog.Warn("Previous catalog sync was interrupted, marking it failed", "scope", scope)
			dirty = true
		}
		current.Scope = scope

		if dirty {
			if err := f.persistence.SaveStatus(ctx, scope, current); err != nil {
				return fmt.Errorf("failed to persist sync status for scope %s: %w", scope, err)
			}
		}
		f.cached[scope] = current
		slog.Info("Loaded catalog sync status", "scope", scope, "state", current.State)
	}
	return nil
}

func (f *fileStateService) ListStatuses(_ context.Context) (map[status.Scope]*status.SyncStatus, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	result := make(map[status.Scope]*status.SyncStatus, len(f.cached))
	for scope, s := range f.cached {
		result[scope] = s.Clone()
	}
	return result, nil
}

func (f *fileStateService) GetStatus(_ context.Context, scope status.Scope) (*status.SyncStatus, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	s, ok := f.cached[scope]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrScopeNotFound, scope)
	}
	return s.Clone(), nil
}

func (f *fileStateService) UpdateStatusAtomically(
	ctx context.Context,
	scope status.Scope,
	fn func(*status.SyncStatus) bool,
) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	current, ok := f.cached[scope]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrScopeNotFound, scope)
	}

	// fn works on a copy so a failed save leaves the cache untouched
	next := current.Clone()
	if !fn(next) {
		return false, nil
	}
	next.Scope = scope
	if err := f.persistence.SaveStatus(ctx, scope, next); err != nil {
		return false, fmt.Errorf("failed to persist sync status for scope %s: %w", scope, err)
	}
	f.cached[scope] = next
	return true, nil
}
