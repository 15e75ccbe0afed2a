package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/stacklok/toolhive-imagegen-server/internal/catalog/status"
	"github.com/stacklok/toolhive-imagegen-server/internal/provider"
)

//go:generate mockgen -destination=mocks/mock_refresher.go -package=mocks -source=refresher.go Refresher

// Refresher rebuilds the model partition of one scope.
type Refresher interface {
	// Refresh replaces the partition of scope and returns its model count.
	// On error the previous partition is kept.
	Refresh(ctx context.Context, scope status.Scope) (int, error)
}

// ListError reports which provider failed to list its models.
type ListError struct {
	Provider string
	Err      error
}

func (e *ListError) Error() string {
	return fmt.Sprintf("failed to list models of provider %s: %v", e.Provider, e.Err)
}

func (e *ListError) Unwrap() error {
	return e.Err
}

// ProviderRefresher lists models from every adapter that implements
// provider.ModelLister.
type ProviderRefresher struct {
	registry          *provider.Registry
	catalog           *ModelCatalog
	standardEndpoints []string
}

// NewProviderRefresher creates a refresher writing into catalog. The standard
// scope keeps the models whose endpoint matches one of standardEndpoints.
func NewProviderRefresher(registry *provider.Registry, catalog *ModelCatalog, standardEndpoints []string) *ProviderRefresher {
	return &ProviderRefresher{
		registry:          registry,
		catalog:           catalog,
		standardEndpoints: standardEndpoints,
	}
}

// Refresh implements Refresher.
func (r *ProviderRefresher) Refresh(ctx context.Context, scope status.Scope) (int, error) {
	var (
		mu     sync.Mutex
		models []provider.Model
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, adapter := range r.registry.Adapters() {
		lister, ok := adapter.(provider.ModelLister)
		if !ok {
			continue
		}
		name := adapter.Name()
		g.Go(func() error {
			listed, err := lister.ListModels(gctx)
			if err != nil {
				return &ListError{Provider: name, Err: err}
			}
			mu.Lock()
			defer mu.Unlock()
			for _, m := range listed {
				if m.Provider == "" {
					m.Provider = name
				}
				models = append(models, m)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	if scope == status.ScopeStandard {
		models = r.filterStandard(models)
	}
	r.catalog.Replace(scope, models)
	slog.InfoContext(ctx, "Refreshed model catalog", "scope", scope, "models", len(models))
	return len(models), nil
}

func (r *ProviderRefresher) filterStandard(models []provider.Model) []provider.Model {
	kept := models[:0]
	for _, m := range models {
		if provider.MatchAny(r.standardEndpoints, m.Endpoint) {
			kept = append(kept, m)
		}
	}
	return kept
}
