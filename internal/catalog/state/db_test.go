package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/toolhive-imagegen-server/database"
	"github.com/stacklok/toolhive-imagegen-server/internal/catalog/status"
)

func TestDBStateService(t *testing.T) {
	pool, _ := database.SetupTestDB(t)
	ctx := context.Background()

	_, err := pool.Exec(ctx, "TRUNCATE catalog_sync_status")
	require.NoError(t, err)

	svc := NewDBStateService(pool)
	require.NoError(t, svc.Initialize(ctx, status.Scopes()))

	all, err := svc.ListStatuses(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, status.SyncStateIdle, all[status.ScopeStandard].State)

	started := time.Now().UTC().Truncate(time.Microsecond)
	updated, err := svc.UpdateStatusAtomically(ctx, status.ScopeStandard, func(s *status.SyncStatus) bool {
		s.State = status.SyncStateRunning
		s.StartedAt = &started
		s.UpdatedAt = started
		return true
	})
	require.NoError(t, err)
	assert.True(t, updated)

	updated, err = svc.UpdateStatusAtomically(ctx, status.ScopeStandard, func(s *status.SyncStatus) bool {
		return !s.State.IsActive()
	})
	require.NoError(t, err)
	assert.False(t, updated)

	got, err := svc.GetStatus(ctx, status.ScopeStandard)
	require.NoError(t, err)
	assert.Equal(t, status.SyncStateRunning, got.State)
	require.NotNil(t, got.StartedAt)
	assert.True(t, started.Equal(*got.StartedAt))

	// initializing again behaves like a restart
	require.NoError(t, svc.Initialize(ctx, status.Scopes()))
	got, err = svc.GetStatus(ctx, status.ScopeStandard)
	require.NoError(t, err)
	assert.Equal(t, status.SyncStateFailed, got.State)
	assert.Equal(t, InterruptedMessage, got.Message)
	assert.NotNil(t, got.FinishedAt)

	_, err = svc.GetStatus(ctx, status.Scope("missing"))
	require.ErrorIs(t, err, ErrScopeNotFound)
}
