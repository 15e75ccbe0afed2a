package state

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stacklok/toolhive-imagegen-server/internal/catalog/status"
	"github.com/stacklok/toolhive-imagegen-server/internal/config"
)

// NewStateService picks the state backend matching the configured storage type.
//
// Memory storage keeps sync statuses in files under the catalog status path so
// an interrupted sync is still recovered across restarts. Database storage
// keeps them in PostgreSQL and requires a non-nil pool.
func NewStateService(cfg *config.Config, pool *pgxpool.Pool) (StateService, error) {
	switch cfg.GetStorageType() {
	case config.StorageTypeDatabase:
		if pool == nil {
			return nil, fmt.Errorf("database pool is required when storage type is database")
		}
		return NewDBStateService(pool), nil
	default:
		return NewFileStateService(status.NewFileStatusPersistence(cfg.Catalog.GetStatusPath())), nil
	}
}
