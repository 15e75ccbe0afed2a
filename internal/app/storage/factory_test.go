package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/toolhive-imagegen-server/internal/catalog/status"
	"github.com/stacklok/toolhive-imagegen-server/internal/config"
	"github.com/stacklok/toolhive-imagegen-server/internal/store/storetest"
)

func TestNewStorageFactory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		cfg      *config.Config
		wantType any
		wantErr  string
	}{
		{name: "nil config", wantErr: "config cannot be nil"},
		{name: "default is memory", cfg: &config.Config{}, wantType: &MemoryFactory{}},
		{
			name:    "unknown type",
			cfg:     &config.Config{Storage: config.StorageConfig{Type: "sqlite"}},
			wantErr: "unknown storage type: sqlite",
		},
		{
			name:    "database without section",
			cfg:     &config.Config{Storage: config.StorageConfig{Type: config.StorageTypeDatabase}},
			wantErr: "database configuration is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			factory, err := NewStorageFactory(context.Background(), tt.cfg)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.wantType, factory)
			factory.Cleanup()
		})
	}
}

func TestMemoryFactory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := &config.Config{Catalog: config.CatalogConfig{StatusPath: filepath.Join(t.TempDir(), "catalog")}}
	factory := NewMemoryFactory(cfg)
	t.Cleanup(factory.Cleanup)

	st, err := factory.CreateStore(ctx)
	require.NoError(t, err)
	require.NoError(t, st.Create(ctx, storetest.NewPending("g1", 0)))
	got, err := st.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "g1", got.ID)

	states, err := factory.CreateStateService(ctx)
	require.NoError(t, err)
	require.NoError(t, states.Initialize(ctx, status.Scopes()))
	all, err := states.ListStatuses(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.FileExists(t, filepath.Join(cfg.Catalog.StatusPath, string(status.ScopeAll), status.StatusFileName))
}
