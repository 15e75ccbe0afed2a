package catalog

import (
	"sort"
	"sync"

	"github.com/stacklok/toolhive-imagegen-server/internal/catalog/status"
	"github.com/stacklok/toolhive-imagegen-server/internal/provider"
)

// ModelCatalog holds the last refreshed model list of each scope.
type ModelCatalog struct {
	mu         sync.RWMutex
	partitions map[status.Scope][]provider.Model
}

// NewModelCatalog returns an empty catalog.
func NewModelCatalog() *ModelCatalog {
	return &ModelCatalog{partitions: make(map[status.Scope][]provider.Model)}
}

// Replace swaps the partition of scope for models, sorted by endpoint then name.
func (c *ModelCatalog) Replace(scope status.Scope, models []provider.Model) {
	sorted := make([]provider.Model, len(models))
	copy(sorted, models)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Endpoint != sorted[j].Endpoint {
			return sorted[i].Endpoint < sorted[j].Endpoint
		}
		return sorted[i].Name < sorted[j].Name
	})

	c.mu.Lock()
	c.partitions[scope] = sorted
	c.mu.Unlock()
}

// Models returns a copy of the partition of scope. A scope that was never
// refreshed is empty.
func (c *ModelCatalog) Models(scope status.Scope) []provider.Model {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]provider.Model, len(c.partitions[scope]))
	copy(out, c.partitions[scope])
	return out
}
