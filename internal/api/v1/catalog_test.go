package v1_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	v1 "github.com/stacklok/toolhive-imagegen-server/internal/api/v1"
	"github.com/stacklok/toolhive-imagegen-server/internal/catalog"
	"github.com/stacklok/toolhive-imagegen-server/internal/catalog/mocks"
	"github.com/stacklok/toolhive-imagegen-server/internal/catalog/status"
	"github.com/stacklok/toolhive-imagegen-server/internal/provider"
)

func newCatalogRouter(t *testing.T) (*mocks.MockService, http.Handler) {
	t.Helper()
	svc := mocks.NewMockService(gomock.NewController(t))
	return svc, v1.CatalogRouter(svc)
}

func TestGetSyncStatus(t *testing.T) {
	t.Parallel()

	finished := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, router := newCatalogRouter(t)
	svc.EXPECT().SyncStatus(gomock.Any()).Return(map[status.Scope]*status.SyncStatus{
		status.ScopeStandard: {Scope: status.ScopeStandard, State: status.SyncStateSucceeded, Message: "3 models", FinishedAt: &finished},
		status.ScopeAll:      {Scope: status.ScopeAll, State: status.SyncStateIdle},
	}, nil)

	rr := do(router, http.MethodGet, "/sync", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var got map[string]map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, "succeeded", got["standard"]["state"])
	assert.Equal(t, "3 models", got["standard"]["message"])
	assert.Equal(t, "idle", got["all"]["state"])
}

func TestStartSync(t *testing.T) {
	t.Parallel()

	svc, router := newCatalogRouter(t)
	svc.EXPECT().StartSync(gomock.Any()).Return(map[status.Scope]*status.SyncStatus{
		status.ScopeStandard: {Scope: status.ScopeStandard, State: status.SyncStateQueued},
		status.ScopeAll:      {Scope: status.ScopeAll, State: status.SyncStateRunning},
	}, nil)

	rr := do(router, http.MethodPost, "/sync", "")
	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.Contains(t, rr.Body.String(), `"queued"`)
	assert.Contains(t, rr.Body.String(), `"running"`)
}

func TestStartSync_Failure(t *testing.T) {
	t.Parallel()

	svc, router := newCatalogRouter(t)
	svc.EXPECT().StartSync(gomock.Any()).Return(nil, errors.New("disk full"))

	rr := do(router, http.MethodPost, "/sync", "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "disk full")
}

func TestListModels(t *testing.T) {
	t.Parallel()

	models := []provider.Model{{Endpoint: "stability/sdxl", Name: "SDXL", Provider: "queue"}}

	tests := []struct {
		name      string
		query     string
		wantScope status.Scope
		svcErr    error
		wantCode  int
	}{
		{name: "default scope", query: "", wantScope: status.ScopeStandard, wantCode: http.StatusOK},
		{name: "all scope", query: "?scope=all", wantScope: status.ScopeAll, wantCode: http.StatusOK},
		{name: "invalid scope", query: "?scope=premium", wantCode: http.StatusBadRequest},
		{
			name:      "untracked scope",
			query:     "?scope=all",
			wantScope: status.ScopeAll,
			svcErr:    fmt.Errorf("%w: all", catalog.ErrUnknownScope),
			wantCode:  http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc, router := newCatalogRouter(t)
			if tt.wantScope != "" {
				svc.EXPECT().Models(gomock.Any(), tt.wantScope).Return(models, tt.svcErr)
			}

			rr := do(router, http.MethodGet, "/models"+tt.query, "")
			require.Equal(t, tt.wantCode, rr.Code)
			if tt.wantCode != http.StatusOK {
				return
			}
			var got v1.ModelsResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
			assert.Equal(t, tt.wantScope, got.Scope)
			assert.Equal(t, models, got.Models)
		})
	}
}
