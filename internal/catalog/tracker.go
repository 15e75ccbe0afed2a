// Package catalog tracks catalog sync jobs and serves the model catalog they build.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/stacklok/toolhive-imagegen-server/internal/catalog/state"
	"github.com/stacklok/toolhive-imagegen-server/internal/catalog/status"
	"github.com/stacklok/toolhive-imagegen-server/internal/telemetry"
)

// DefaultRefreshTimeout bounds one refresh job.
const DefaultRefreshTimeout = 5 * time.Minute

const (
	settleTries      = 5
	startFailMessage = "failed to start refresh"
)

// ErrUnknownScope is returned for a scope the tracker does not manage.
var ErrUnknownScope = errors.New("unknown catalog scope")

// Tracker owns the sync state machine of each scope:
// idle → queued → running → succeeded|failed, and again from a terminal state.
type Tracker struct {
	states    state.StateService
	refresher Refresher
	scopes    []status.Scope
	metrics   *telemetry.CatalogMetrics
	timeout   time.Duration
	now       func() time.Time

	newBackOff func() backoff.BackOff

	jobs sync.WaitGroup
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithRefreshTimeout bounds each refresh job.
func WithRefreshTimeout(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithCatalogMetrics records sync durations and model counts.
func WithCatalogMetrics(m *telemetry.CatalogMetrics) TrackerOption {
	return func(t *Tracker) {
		t.metrics = m
	}
}

// WithTrackerClock overrides the clock used for status timestamps.
func WithTrackerClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		t.now = now
	}
}

// WithStatusBackOff sets the retry policy for writing a job's terminal status.
func WithStatusBackOff(fn func() backoff.BackOff) TrackerOption {
	return func(t *Tracker) {
		t.newBackOff = fn
	}
}

// NewTracker creates a tracker for scopes. The state service must already be
// initialized with the same scopes.
func NewTracker(states state.StateService, refresher Refresher, scopes []status.Scope, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		states:    states,
		refresher: refresher,
		scopes:    scopes,
		timeout:   DefaultRefreshTimeout,
		now:       time.Now,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StartSync queues a refresh of scope unless one is already queued or
// running, and returns the resulting status without waiting for the job.
func (t *Tracker) StartSync(ctx context.Context, scope status.Scope) (*status.SyncStatus, error) {
	if !slices.Contains(t.scopes, scope) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScope, scope)
	}

	var current *status.SyncStatus
	queued, err := t.states.UpdateStatusAtomically(ctx, scope, func(s *status.SyncStatus) bool {
		if s.State.IsActive() {
			current = s.Clone()
			return false
		}
		s.State = status.SyncStateQueued
		s.Message = ""
		s.UpdatedAt = t.now().UTC()
		current = s.Clone()
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to queue sync of scope %s: %w", scope, err)
	}
	if !queued {
		slog.DebugContext(ctx, "Catalog sync already in progress", "scope", scope, "state", current.State)
		return current, nil
	}

	slog.InfoContext(ctx, "Queued catalog sync", "scope", scope)
	t.jobs.Add(1)
	go t.run(context.WithoutCancel(ctx), scope)
	return current, nil
}

// GetStatus returns the current status of scope.
func (t *Tracker) GetStatus(ctx context.Context, scope status.Scope) (*status.SyncStatus, error) {
	if !slices.Contains(t.scopes, scope) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScope, scope)
	}
	return t.states.GetStatus(ctx, scope)
}

// Wait blocks until every started job finished or ctx is done.
func (t *Tracker) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.jobs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("catalog sync jobs still running: %w", ctx.Err())
	}
}

func (t *Tracker) run(ctx context.Context, scope status.Scope) {
	defer t.jobs.Done()

	started := t.now().UTC()
	running, err := t.states.UpdateStatusAtomically(ctx, scope, func(s *status.SyncStatus) bool {
		if s.State != status.SyncStateQueued {
			return false
		}
		s.State = status.SyncStateRunning
		s.StartedAt = &started
		s.FinishedAt = nil
		s.UpdatedAt = started
		return true
	})
	if err != nil {
		slog.ErrorContext(ctx, "Failed to mark catalog sync running", "scope", scope, "error", err)
		// a scope left queued would deduplicate every later StartSync
		t.settle(ctx, scope, status.SyncStateFailed, startFailMessage, t.now().UTC())
		return
	}
	if !running {
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, t.timeout)
	count, refreshErr := t.refresher.Refresh(jobCtx, scope)
	cancel()

	finished := t.now().UTC()
	success := refreshErr == nil
	t.metrics.RecordSyncDuration(ctx, string(scope), finished.Sub(started), success)

	message := fmt.Sprintf("%d models", count)
	next := status.SyncStateSucceeded
	if !success {
		next = status.SyncStateFailed
		message = failureMessage(refreshErr)
		slog.WarnContext(ctx, "Catalog sync failed", "scope", scope, "error", refreshErr)
	} else {
		t.metrics.RecordModelsTotal(ctx, string(scope), int64(count))
		slog.InfoContext(ctx, "Catalog sync finished", "scope", scope, "models", count, "duration", finished.Sub(started))
	}

	t.settle(ctx, scope, next, message, finished)
}

// settle moves an active scope to a terminal state, retrying failed writes.
func (t *Tracker) settle(ctx context.Context, scope status.Scope, next status.SyncState, message string, finished time.Time) {
	_, err := backoff.Retry(ctx, func() (bool, error) {
		return t.states.UpdateStatusAtomically(ctx, scope, func(s *status.SyncStatus) bool {
			if !s.State.IsActive() {
				return false
			}
			s.State = next
			s.Message = message
			s.FinishedAt = &finished
			s.UpdatedAt = finished
			return true
		})
	}, backoff.WithBackOff(t.newBackOff()), backoff.WithMaxTries(settleTries))
	if err != nil {
		slog.ErrorContext(ctx, "Failed to record catalog sync result", "scope", scope, "state", next, "error", err)
	}
}

func failureMessage(err error) string {
	var lerr *ListError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "refresh timed out"
	case errors.As(err, &lerr):
		return fmt.Sprintf("failed to list models of provider %s", lerr.Provider)
	default:
		return "refresh failed"
	}
}
