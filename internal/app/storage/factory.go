// Package storage creates the storage-dependent components as a family, so
// the generation store and the catalog sync state always share a backend.
package storage

import (
	"context"
	"fmt"

	"github.com/stacklok/toolhive-imagegen-server/internal/catalog/state"
	"github.com/stacklok/toolhive-imagegen-server/internal/config"
	"github.com/stacklok/toolhive-imagegen-server/internal/store"
)

//go:generate mockgen -destination=mocks/mock_factory.go -package=mocks -source=factory.go Factory

// Factory creates storage-dependent components.
type Factory interface {
	// CreateStore creates the generation store
	CreateStore(ctx context.Context) (store.Store, error)

	// CreateStateService creates the catalog sync state service
	CreateStateService(ctx context.Context) (state.StateService, error)

	// Cleanup releases held resources such as the connection pool
	Cleanup()
}

// NewStorageFactory returns the factory matching the configured storage type.
func NewStorageFactory(ctx context.Context, cfg *config.Config) (Factory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	switch cfg.GetStorageType() {
	case config.StorageTypeDatabase:
		return NewDatabaseFactory(ctx, cfg)
	case config.StorageTypeMemory:
		return NewMemoryFactory(cfg), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.GetStorageType())
	}
}
