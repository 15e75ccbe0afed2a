package catalog

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/stacklok/toolhive-imagegen-server/internal/catalog/status"
	"github.com/stacklok/toolhive-imagegen-server/internal/provider"
)

//go:generate mockgen -destination=mocks/mock_service.go -package=mocks -source=service.go Service

// Service is the catalog surface used by the HTTP layer.
type Service interface {
	// StartSync queues a refresh of every scope and returns their statuses
	StartSync(ctx context.Context) (map[status.Scope]*status.SyncStatus, error)

	// SyncStatus returns the status of every scope
	SyncStatus(ctx context.Context) (map[status.Scope]*status.SyncStatus, error)

	// Models returns the model partition of scope
	Models(ctx context.Context, scope status.Scope) ([]provider.Model, error)
}

type service struct {
	tracker *Tracker
	catalog *ModelCatalog
}

// NewService combines a tracker and the catalog its refresher writes to.
func NewService(tracker *Tracker, catalog *ModelCatalog) Service {
	return &service{tracker: tracker, catalog: catalog}
}

func (s *service) StartSync(ctx context.Context) (map[status.Scope]*status.SyncStatus, error) {
	result := make(map[status.Scope]*status.SyncStatus, len(s.tracker.scopes))
	var errs []error
	for _, scope := range s.tracker.scopes {
		st, err := s.tracker.StartSync(ctx, scope)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		result[scope] = st
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) SyncStatus(ctx context.Context) (map[status.Scope]*status.SyncStatus, error) {
	result := make(map[status.Scope]*status.SyncStatus, len(s.tracker.scopes))
	for _, scope := range s.tracker.scopes {
		st, err := s.tracker.GetStatus(ctx, scope)
		if err != nil {
			return nil, fmt.Errorf("failed to get sync status of scope %s: %w", scope, err)
		}
		result[scope] = st
	}
	return result, nil
}

func (s *service) Models(_ context.Context, scope status.Scope) ([]provider.Model, error) {
	if !slices.Contains(s.tracker.scopes, scope) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScope, scope)
	}
	return s.catalog.Models(scope), nil
}
