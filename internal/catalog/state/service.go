// Package state tracks catalog sync statuses on top of a file or database backend.
package state

import (
	"context"
	"errors"
	"time"

	"github.com/stacklok/toolhive-imagegen-server/internal/catalog/status"
)

//go:generate mockgen -destination=mocks/mock_state.go -package=mocks -source=service.go StateService

// InterruptedMessage is recorded on scopes found queued or running at startup.
const InterruptedMessage = "previous sync was interrupted"

// ErrScopeNotFound is returned for a scope that was never initialized.
var ErrScopeNotFound = errors.New("sync status not found")

// StateService owns the sync status of each catalog scope.
type StateService interface {
	// Initialize makes sure every scope has a status, resetting interrupted
	// syncs to failed
	Initialize(ctx context.Context, scopes []status.Scope) error

	// ListStatuses returns a copy of every tracked status
	ListStatuses(ctx context.Context) (map[status.Scope]*status.SyncStatus, error)

	// GetStatus returns a copy of the status of scope
	GetStatus(ctx context.Context, scope status.Scope) (*status.SyncStatus, error)

	// UpdateStatusAtomically runs fn against the current status of scope and
	// stores the result when fn returns true. No other update of the same scope
	// can interleave with fn.
	UpdateStatusAtomically(ctx context.Context, scope status.Scope, fn func(*status.SyncStatus) bool) (bool, error)
}

// recoverInterrupted resets a queued or running status to failed. It
// reports whether s changed.
func recoverInterrupted(s *status.SyncStatus, now time.Time) bool {
	if !s.State.IsActive() {
		return false
	}
	s.State = status.SyncStateFailed
	s.Message = InterruptedMessage
	s.FinishedAt = &now
	s.UpdatedAt = now
	return true
}
