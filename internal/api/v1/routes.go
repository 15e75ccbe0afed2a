// Package v1 provides the REST handlers of the generation and catalog API.
package v1

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/toolhive-imagegen-server/internal/api/common"
	"github.com/stacklok/toolhive-imagegen-server/internal/generation"
	"github.com/stacklok/toolhive-imagegen-server/internal/orchestrator"
	"github.com/stacklok/toolhive-imagegen-server/internal/store"
)

// ListResponse is one page of generations.
type ListResponse struct {
	Items      []*generation.Generation `json:"items"`
	NextCursor *string                  `json:"nextCursor"`
}

// CreateRequest is the body of POST /v1/generations.
type CreateRequest struct {
	Endpoint string         `json:"endpoint"`
	Input    map[string]any `json:"input"`
	Tags     []string       `json:"tags,omitempty"`
}

// RegenerateRequest is the optional body of POST /v1/generations/{id}/regenerate.
// Absent tags copy the original's.
type RegenerateRequest struct {
	Tags []string `json:"tags"`
}

// UpdateTagsRequest is the body of PATCH /v1/generations/{id}/tags.
type UpdateTagsRequest struct {
	Add    []string `json:"add"`
	Remove []string `json:"remove"`
}

// TagsResponse carries the tags after an update.
type TagsResponse struct {
	Tags []string `json:"tags"`
}

// CancelResponse acknowledges a cancellation request.
type CancelResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Routes serves the generation endpoints.
type Routes struct {
	service orchestrator.Service
}

// Router creates the /v1/generations router.
func Router(svc orchestrator.Service) http.Handler {
	routes := &Routes{service: svc}

	r := chi.NewRouter()
	r.Post("/", routes.createGeneration)
	r.Get("/", routes.listGenerations)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", routes.getGeneration)
		r.Delete("/", routes.deleteGeneration)
		r.Patch("/tags", routes.updateTags)
		r.Post("/regenerate", routes.regenerate)
		r.Post("/cancel", routes.cancel)
		r.Get("/artifact", routes.artifact)
	})
	return r
}

func (rr *Routes) createGeneration(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := common.DecodeJSONBody(w, r, &req, false); err != nil {
		common.WriteErrorResponse(w, err.Error(), orchestrator.KindValidation, http.StatusBadRequest)
		return
	}

	g, err := rr.service.Create(r.Context(), orchestrator.CreateRequest{
		Endpoint: req.Endpoint,
		Input:    req.Input,
		Tags:     req.Tags,
	})
	if err != nil {
		common.WriteServiceError(w, r, err)
		return
	}
	common.WriteJSONResponse(w, g, http.StatusCreated)
}

func (rr *Routes) listGenerations(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, err := common.QueryInt(query, "limit")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), orchestrator.KindValidation, http.StatusBadRequest)
		return
	}

	result, err := rr.service.List(r.Context(), store.ListOptions{
		Filter: store.Filter{
			Status:   generation.Status(query.Get("status")),
			Endpoint: query.Get("endpoint"),
			Tags:     common.QueryList(query, "tag"),
		},
		Cursor: query.Get("cursor"),
		Limit:  limit,
	})
	if err != nil {
		common.WriteServiceError(w, r, err)
		return
	}

	resp := ListResponse{Items: result.Items}
	if resp.Items == nil {
		resp.Items = []*generation.Generation{}
	}
	if result.NextCursor != "" {
		resp.NextCursor = &result.NextCursor
	}
	common.WriteJSONResponse(w, resp, http.StatusOK)
}

func (rr *Routes) getGeneration(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	g, err := rr.service.Get(r.Context(), id)
	if err != nil {
		common.WriteServiceError(w, r, err)
		return
	}
	common.WriteJSONResponse(w, g, http.StatusOK)
}

func (rr *Routes) deleteGeneration(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := rr.service.Delete(r.Context(), id); err != nil {
		common.WriteServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rr *Routes) updateTags(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req UpdateTagsRequest
	if err := common.DecodeJSONBody(w, r, &req, false); err != nil {
		common.WriteErrorResponse(w, err.Error(), orchestrator.KindValidation, http.StatusBadRequest)
		return
	}

	tags, err := rr.service.UpdateTags(r.Context(), id, req.Add, req.Remove)
	if err != nil {
		common.WriteServiceError(w, r, err)
		return
	}
	common.WriteJSONResponse(w, TagsResponse{Tags: tags}, http.StatusOK)
}

func (rr *Routes) regenerate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req RegenerateRequest
	if err := common.DecodeJSONBody(w, r, &req, true); err != nil {
		common.WriteErrorResponse(w, err.Error(), orchestrator.KindValidation, http.StatusBadRequest)
		return
	}

	g, err := rr.service.Regenerate(r.Context(), id, req.Tags)
	if err != nil {
		common.WriteServiceError(w, r, err)
		return
	}
	common.WriteJSONResponse(w, g, http.StatusCreated)
}

func (rr *Routes) cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := rr.service.Cancel(r.Context(), id); err != nil {
		common.WriteServiceError(w, r, err)
		return
	}
	common.WriteJSONResponse(w, CancelResponse{ID: id, Status: "cancel_requested"}, http.StatusAccepted)
}

func (rr *Routes) artifact(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	body, info, err := rr.service.OpenArtifact(r.Context(), id)
	if err != nil {
		common.WriteServiceError(w, r, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", info.ContentType)
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		slog.WarnContext(r.Context(), "Artifact stream interrupted", "generation_id", id, "error", err)
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := common.PathParam(r, "id")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), orchestrator.KindValidation, http.StatusBadRequest)
		return "", false
	}
	return id, true
}
