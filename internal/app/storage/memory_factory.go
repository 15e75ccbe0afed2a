package storage

import (
	"context"
	"log/slog"

	"github.com/stacklok/toolhive-imagegen-server/internal/catalog/state"
	"github.com/stacklok/toolhive-imagegen-server/internal/config"
	"github.com/stacklok/toolhive-imagegen-server/internal/store"
	"github.com/stacklok/toolhive-imagegen-server/internal/store/memory"
)

// MemoryFactory keeps generations in process memory. Catalog sync statuses
// still go to files so interrupted syncs are recovered after a restart.
type MemoryFactory struct {
	config *config.Config
}

var _ Factory = (*MemoryFactory)(nil)

// NewMemoryFactory creates a memory storage factory.
func NewMemoryFactory(cfg *config.Config) *MemoryFactory {
	slog.Info("Creating in-memory storage factory", "status_path", cfg.Catalog.GetStatusPath())
	return &MemoryFactory{config: cfg}
}

// CreateStore creates an in-memory generation store.
func (*MemoryFactory) CreateStore(_ context.Context) (store.Store, error) {
	slog.Debug("Creating in-memory generation store")
	return memory.New(), nil
}

// CreateStateService creates a file-backed sync state service.
func (m *MemoryFactory) CreateStateService(_ context.Context) (state.StateService, error) {
	return state.NewStateService(m.config, nil)
}

// Cleanup is a no-op.
func (*MemoryFactory) Cleanup() {}
