package v1

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/toolhive-imagegen-server/internal/api/common"
	"github.com/stacklok/toolhive-imagegen-server/internal/catalog"
	"github.com/stacklok/toolhive-imagegen-server/internal/catalog/status"
	"github.com/stacklok/toolhive-imagegen-server/internal/orchestrator"
	"github.com/stacklok/toolhive-imagegen-server/internal/provider"
)

// ModelsResponse is one scope of the model catalog.
type ModelsResponse struct {
	Scope  status.Scope     `json:"scope"`
	Models []provider.Model `json:"models"`
}

type catalogRoutes struct {
	service catalog.Service
}

// CatalogRouter creates the /v1/catalog router.
func CatalogRouter(svc catalog.Service) http.Handler {
	routes := &catalogRoutes{service: svc}

	r := chi.NewRouter()
	r.Get("/sync", routes.getSyncStatus)
	r.Post("/sync", routes.startSync)
	r.Get("/models", routes.listModels)
	return r
}

func (cr *catalogRoutes) getSyncStatus(w http.ResponseWriter, r *http.Request) {
	statuses, err := cr.service.SyncStatus(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to read sync status", "error", err)
		common.WriteErrorResponse(w, "failed to read sync status", orchestrator.KindInternal, http.StatusInternalServerError)
		return
	}
	common.WriteJSONResponse(w, statuses, http.StatusOK)
}

func (cr *catalogRoutes) startSync(w http.ResponseWriter, r *http.Request) {
	statuses, err := cr.service.StartSync(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to start catalog sync", "error", err)
		common.WriteErrorResponse(w, "failed to start catalog sync", orchestrator.KindInternal, http.StatusInternalServerError)
		return
	}
	common.WriteJSONResponse(w, statuses, http.StatusAccepted)
}

func (cr *catalogRoutes) listModels(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("scope")
	if raw == "" {
		raw = string(status.ScopeStandard)
	}
	scope, err := status.ParseScope(raw)
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), orchestrator.KindValidation, http.StatusBadRequest)
		return
	}

	models, err := cr.service.Models(r.Context(), scope)
	if errors.Is(err, catalog.ErrUnknownScope) {
		common.WriteErrorResponse(w, "scope "+raw+" is not tracked", orchestrator.KindNotFound, http.StatusNotFound)
		return
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to list catalog models", "scope", scope, "error", err)
		common.WriteErrorResponse(w, "failed to list models", orchestrator.KindInternal, http.StatusInternalServerError)
		return
	}
	if models == nil {
		models = []provider.Model{}
	}
	common.WriteJSONResponse(w, ModelsResponse{Scope: scope, Models: models}, http.StatusOK)
}
