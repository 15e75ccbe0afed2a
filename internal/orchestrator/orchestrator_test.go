package orchestrator_test

import (
	"context"
	"errors"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/toolhive-imagegen-server/internal/blob"
	blobmocks "github.com/stacklok/toolhive-imagegen-server/internal/blob/mocks"
	"github.com/stacklok/toolhive-imagegen-server/internal/events"
	eventmocks "github.com/stacklok/toolhive-imagegen-server/internal/events/mocks"
	"github.com/stacklok/toolhive-imagegen-server/internal/generation"
	"github.com/stacklok/toolhive-imagegen-server/internal/orchestrator"
	"github.com/stacklok/toolhive-imagegen-server/internal/provider"
	provmocks "github.com/stacklok/toolhive-imagegen-server/internal/provider/mocks"
	"github.com/stacklok/toolhive-imagegen-server/internal/schema"
	"github.com/stacklok/toolhive-imagegen-server/internal/store"
	"github.com/stacklok/toolhive-imagegen-server/internal/store/memory"
	storemocks "github.com/stacklok/toolhive-imagegen-server/internal/store/mocks"
	"github.com/stacklok/toolhive-imagegen-server/internal/webhook"
)

const signingKey = "0123456789abcdef0123456789abcdef"

// queueAdapter pushes webhooks and supports cancellation
type queueAdapter struct {
	*provmocks.MockAdapter
	*provmocks.MockWebhookParser
	*provmocks.MockCanceller
}

// pollingAdapter can only be polled
type pollingAdapter struct {
	*provmocks.MockAdapter
	*provmocks.MockPoller
}

type harness struct {
	store     store.Store
	blobs     blob.Store
	queue     *provmocks.MockAdapter
	canceller *provmocks.MockCanceller
	polling   *provmocks.MockAdapter
	service   orchestrator.Service
}

func namedAdapter(ctrl *gomock.Controller, name string) *provmocks.MockAdapter {
	a := provmocks.NewMockAdapter(ctrl)
	a.EXPECT().Name().Return(name).AnyTimes()
	return a
}

func newHarness(t *testing.T, ctrl *gomock.Controller, opts ...orchestrator.Option) *harness {
	t.Helper()

	blobs, err := blob.NewFilesystem(t.TempDir())
	require.NoError(t, err)

	h := &harness{
		store:     memory.New(),
		blobs:     blobs,
		queue:     namedAdapter(ctrl, "queue"),
		canceller: provmocks.NewMockCanceller(ctrl),
		polling:   namedAdapter(ctrl, "polling"),
	}
	registry := provider.NewRegistry()
	require.NoError(t, registry.Register(
		queueAdapter{h.queue, provmocks.NewMockWebhookParser(ctrl), h.canceller}, "img-gen/*"))
	require.NoError(t, registry.Register(
		pollingAdapter{h.polling, provmocks.NewMockPoller(ctrl)}, "stability/*"))

	signer, err := webhook.NewSigner([]byte(signingKey), time.Hour)
	require.NoError(t, err)

	var seq int
	base := []orchestrator.Option{
		orchestrator.WithWebhooks(signer, "https://imagegen.example.com/"),
		orchestrator.WithIDGenerator(func() string {
			seq++
			return "gen-" + string(rune('a'+seq-1))
		}),
	}
	h.service = orchestrator.New(h.store, registry, blobs, append(base, opts...)...)
	return h
}

func accept(requestID string) func(context.Context, provider.SubmitRequest) (*provider.Submission, error) {
	return func(context.Context, provider.SubmitRequest) (*provider.Submission, error) {
		return &provider.Submission{RequestID: requestID, QueuePosition: 2}, nil
	}
}

func requireKind(t *testing.T, err error, kind orchestrator.Kind) {
	t.Helper()
	require.Error(t, err)
	var oerr *orchestrator.Error
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, kind, oerr.Kind)
}

func TestCreate_WebhookProvider(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	publisher := eventmocks.NewMockPublisher(ctrl)
	publisher.EXPECT().
		Publish(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, e events.Event) error {
			assert.Equal(t, events.TypeCreated, e.Type)
			assert.Equal(t, "gen-a", e.GenerationID)
			return nil
		})

	h := newHarness(t, ctrl, orchestrator.WithPublisher(publisher))
	h.queue.EXPECT().
		Submit(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req provider.SubmitRequest) (*provider.Submission, error) {
			assert.Equal(t, "img-gen/fast", req.Endpoint)
			assert.Equal(t, "a cat", req.Input["prompt"])

			callback, err := url.Parse(req.CallbackURL)
			require.NoError(t, err)
			assert.Equal(t, "imagegen.example.com", callback.Host)
			assert.Equal(t, "/webhooks/queue", callback.Path)
			assert.NotEmpty(t, callback.Query().Get(webhook.TokenParam))
			return &provider.Submission{RequestID: "req-1", QueuePosition: 0}, nil
		})

	g, err := h.service.Create(context.Background(), orchestrator.CreateRequest{
		Endpoint: " img-gen/fast ",
		Input:    map[string]any{"prompt": "a cat"},
		Tags:     []string{" favorites ", "cats", "favorites"},
	})
	require.NoError(t, err)
	assert.Equal(t, "gen-a", g.ID)
	assert.Equal(t, "img-gen/fast", g.Endpoint)
	assert.Equal(t, "queue", g.Provider)
	assert.Equal(t, generation.StatusPending, g.Status)
	assert.Equal(t, "req-1", g.ProviderRequestID)
	assert.Equal(t, []string{"favorites", "cats"}, g.Tags)
	assert.Nil(t, g.Artifact)
	assert.Nil(t, g.CompletedAt)

	stored, err := h.store.GetByProviderRequestID(context.Background(), "queue", "req-1")
	require.NoError(t, err)
	assert.Equal(t, "gen-a", stored.ID)
}

func TestCreate_PollingProviderGetsNoCallback(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	h := newHarness(t, ctrl)
	h.polling.EXPECT().
		Submit(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req provider.SubmitRequest) (*provider.Submission, error) {
			assert.Empty(t, req.CallbackURL)
			return &provider.Submission{RequestID: "pred-1", QueuePosition: -1}, nil
		})

	g, err := h.service.Create(context.Background(), orchestrator.CreateRequest{
		Endpoint: "stability/sdxl",
		Input:    map[string]any{"prompt": "a dog"},
	})
	require.NoError(t, err)
	assert.Equal(t, "polling", g.Provider)
	assert.Equal(t, []string{}, g.Tags)
}

func TestCreate_WithoutWebhooksConfigured(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	h := newHarness(t, ctrl, orchestrator.WithWebhooks(nil, ""))
	h.queue.EXPECT().
		Submit(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req provider.SubmitRequest) (*provider.Submission, error) {
			assert.Empty(t, req.CallbackURL)
			return &provider.Submission{RequestID: "req-1"}, nil
		})

	_, err := h.service.Create(context.Background(), orchestrator.CreateRequest{
		Endpoint: "img-gen/fast",
		Input:    map[string]any{"prompt": "a cat"},
	})
	require.NoError(t, err)
}

func TestCreate_ValidationErrors(t *testing.T) {
	t.Parallel()

	schemaFile := filepath.Join(t.TempDir(), "fast.json")
	require.NoError(t, os.WriteFile(schemaFile, []byte(`{
		"type": "object",
		"required": ["prompt"],
		"properties": {"prompt": {"type": "string", "minLength": 1}}
	}`), 0600))
	validator, err := schema.NewValidator(map[string]string{"img-gen/fast": schemaFile})
	require.NoError(t, err)

	tests := []struct {
		name string
		req  orchestrator.CreateRequest
	}{
		{name: "empty endpoint", req: orchestrator.CreateRequest{Endpoint: "  ", Input: map[string]any{}}},
		{name: "endpoint too long", req: orchestrator.CreateRequest{Endpoint: strings.Repeat("x", 300), Input: map[string]any{}}},
		{name: "nil input", req: orchestrator.CreateRequest{Endpoint: "img-gen/fast"}},
		{name: "unknown endpoint", req: orchestrator.CreateRequest{Endpoint: "other/model", Input: map[string]any{}}},
		{name: "schema violation", req: orchestrator.CreateRequest{Endpoint: "img-gen/fast", Input: map[string]any{"prompt": ""}}},
		{
			name: "empty tag",
			req: orchestrator.CreateRequest{
				Endpoint: "img-gen/fast",
				Input:    map[string]any{"prompt": "a cat"},
				Tags:     []string{"ok", " "},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			// no Submit expectation: validation happens before any provider call
			h := newHarness(t, gomock.NewController(t), orchestrator.WithValidator(validator))

			_, err := h.service.Create(context.Background(), tt.req)
			requireKind(t, err, orchestrator.KindValidation)

			page, err := h.store.List(context.Background(), store.ListOptions{})
			require.NoError(t, err)
			assert.Empty(t, page.Items)
		})
	}
}

func TestCreate_ProviderErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		err         error
		wantKind    orchestrator.Kind
		wantMessage string
	}{
		{
			name:     "unreachable",
			err:      provider.Unreachable("queue", errors.New("dial tcp: connection refused")),
			wantKind: orchestrator.KindProviderUnreachable,
		},
		{
			name:        "rejected",
			err:         provider.Rejected("queue", "prompt violates content policy"),
			wantKind:    orchestrator.KindProviderRejected,
			wantMessage: "prompt violates content policy",
		},
		{
			name:     "auth",
			err:      provider.ClassifyHTTPStatus("queue", 401, "invalid key"),
			wantKind: orchestrator.KindProviderAuth,
		},
		{
			name:     "unclassified",
			err:      errors.New("boom"),
			wantKind: orchestrator.KindProviderUnreachable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, gomock.NewController(t))
			h.queue.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(nil, tt.err)

			_, err := h.service.Create(context.Background(), orchestrator.CreateRequest{
				Endpoint: "img-gen/fast",
				Input:    map[string]any{"prompt": "a cat"},
			})
			requireKind(t, err, tt.wantKind)
			if tt.wantMessage != "" {
				assert.Equal(t, tt.wantMessage, err.Error())
			}
			assert.NotContains(t, err.Error(), "connection refused")

			page, err := h.store.List(context.Background(), store.ListOptions{})
			require.NoError(t, err)
			assert.Empty(t, page.Items, "failed submissions must not leave a record")
		})
	}
}

func TestCreate_StoreFailureCancelsProviderJob(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	st := storemocks.NewMockStore(ctrl)
	st.EXPECT().Create(gomock.Any(), gomock.Any()).Return(errors.New("connection reset"))

	queue := namedAdapter(ctrl, "queue")
	queue.EXPECT().Submit(gomock.Any(), gomock.Any()).DoAndReturn(accept("req-9"))
	canceller := provmocks.NewMockCanceller(ctrl)
	canceller.EXPECT().
		Cancel(gomock.Any(), provider.RequestRef{Endpoint: "img-gen/fast", RequestID: "req-9"}).
		Return(nil)

	registry := provider.NewRegistry()
	require.NoError(t, registry.Register(queueAdapter{queue, provmocks.NewMockWebhookParser(ctrl), canceller}, "img-gen/*"))

	svc := orchestrator.New(st, registry, nil)
	_, err := svc.Create(context.Background(), orchestrator.CreateRequest{
		Endpoint: "img-gen/fast",
		Input:    map[string]any{"prompt": "a cat"},
	})
	requireKind(t, err, orchestrator.KindInternal)
	assert.Equal(t, "internal error", err.Error())
}

func TestGet(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	h := newHarness(t, ctrl)
	h.queue.EXPECT().Submit(gomock.Any(), gomock.Any()).DoAndReturn(accept("req-1"))
	created, err := h.service.Create(context.Background(), orchestrator.CreateRequest{
		Endpoint: "img-gen/fast",
		Input:    map[string]any{"prompt": "a cat"},
	})
	require.NoError(t, err)

	got, err := h.service.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	_, err = h.service.Get(context.Background(), "missing")
	requireKind(t, err, orchestrator.KindNotFound)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestList(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	h := newHarness(t, ctrl)
	h.queue.EXPECT().Submit(gomock.Any(), gomock.Any()).DoAndReturn(accept("req-1"))
	h.polling.EXPECT().Submit(gomock.Any(), gomock.Any()).DoAndReturn(accept("pred-1"))

	_, err := h.service.Create(context.Background(), orchestrator.CreateRequest{
		Endpoint: "img-gen/fast", Input: map[string]any{"prompt": "a"}, Tags: []string{"x"},
	})
	require.NoError(t, err)
	_, err = h.service.Create(context.Background(), orchestrator.CreateRequest{
		Endpoint: "stability/sdxl", Input: map[string]any{"prompt": "b"},
	})
	require.NoError(t, err)

	page, err := h.service.List(context.Background(), store.ListOptions{Filter: store.Filter{Tags: []string{"x"}}})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "img-gen/fast", page.Items[0].Endpoint)

	page, err = h.service.List(context.Background(), store.ListOptions{Filter: store.Filter{Endpoint: " stability/sdxl "}})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)

	_, err = h.service.List(context.Background(), store.ListOptions{Filter: store.Filter{Status: "done"}})
	requireKind(t, err, orchestrator.KindValidation)

	_, err = h.service.List(context.Background(), store.ListOptions{Cursor: "!!!"})
	requireKind(t, err, orchestrator.KindValidation)
}

func TestRegenerate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		tags     []string
		wantTags []string
	}{
		{name: "inherits tags", tags: nil, wantTags: []string{"cats"}},
		{name: "overrides tags", tags: []string{"dogs"}, wantTags: []string{"dogs"}},
		{name: "clears tags", tags: []string{}, wantTags: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, gomock.NewController(t))
			gomock.InOrder(
				h.queue.EXPECT().Submit(gomock.Any(), gomock.Any()).DoAndReturn(accept("req-1")),
				h.queue.EXPECT().
					Submit(gomock.Any(), gomock.Any()).
					DoAndReturn(func(_ context.Context, req provider.SubmitRequest) (*provider.Submission, error) {
						assert.Equal(t, "img-gen/fast", req.Endpoint)
						assert.Equal(t, map[string]any{"prompt": "a cat", "seed": float64(7)}, req.Input)
						return &provider.Submission{RequestID: "req-2"}, nil
					}),
			)

			original, err := h.service.Create(context.Background(), orchestrator.CreateRequest{
				Endpoint: "img-gen/fast",
				Input:    map[string]any{"prompt": "a cat", "seed": float64(7)},
				Tags:     []string{"cats"},
			})
			require.NoError(t, err)

			again, err := h.service.Regenerate(context.Background(), original.ID, tt.tags)
			require.NoError(t, err)
			assert.NotEqual(t, original.ID, again.ID)
			assert.Equal(t, generation.StatusPending, again.Status)
			assert.Equal(t, "req-2", again.ProviderRequestID)
			assert.Equal(t, tt.wantTags, again.Tags)

			untouched, err := h.service.Get(context.Background(), original.ID)
			require.NoError(t, err)
			assert.Equal(t, "req-1", untouched.ProviderRequestID)
			assert.Equal(t, []string{"cats"}, untouched.Tags)
		})
	}
}

func TestRegenerate_NotFound(t *testing.T) {
	t.Parallel()

	h := newHarness(t, gomock.NewController(t))
	_, err := h.service.Regenerate(context.Background(), "missing", nil)
	requireKind(t, err, orchestrator.KindNotFound)
}

func TestUpdateTags(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	h := newHarness(t, ctrl)
	h.queue.EXPECT().Submit(gomock.Any(), gomock.Any()).DoAndReturn(accept("req-1"))
	g, err := h.service.Create(context.Background(), orchestrator.CreateRequest{
		Endpoint: "img-gen/fast", Input: map[string]any{"prompt": "a"}, Tags: []string{"a"},
	})
	require.NoError(t, err)

	tags, err := h.service.UpdateTags(context.Background(), g.ID, []string{"x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "x"}, tags)

	// applying the same update twice is idempotent
	tags, err = h.service.UpdateTags(context.Background(), g.ID, []string{"x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "x"}, tags)

	tags, err = h.service.UpdateTags(context.Background(), g.ID, []string{"y"}, []string{"y", "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, tags)

	_, err = h.service.UpdateTags(context.Background(), g.ID, []string{""}, nil)
	requireKind(t, err, orchestrator.KindValidation)

	_, err = h.service.UpdateTags(context.Background(), "missing", []string{"x"}, nil)
	requireKind(t, err, orchestrator.KindNotFound)
}

func TestUpdateTags_TooMany(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	h := newHarness(t, ctrl)
	h.queue.EXPECT().Submit(gomock.Any(), gomock.Any()).DoAndReturn(accept("req-1"))

	initial := make([]string, generation.MaxTags)
	for i := range initial {
		initial[i] = "t" + strings.Repeat("x", i)
	}
	g, err := h.service.Create(context.Background(), orchestrator.CreateRequest{
		Endpoint: "img-gen/fast", Input: map[string]any{"prompt": "a"}, Tags: initial,
	})
	require.NoError(t, err)

	_, err = h.service.UpdateTags(context.Background(), g.ID, []string{"one-more"}, nil)
	requireKind(t, err, orchestrator.KindValidation)
}

func readyGeneration(t *testing.T, h *harness, id string) *generation.Generation {
	t.Helper()
	ctx := context.Background()
	key := "generations/" + id + "/artifact.png"
	require.NoError(t, h.blobs.Put(ctx, key, []byte("png-bytes"), "image/png"))

	g := &generation.Generation{
		ID:                id,
		Endpoint:          "img-gen/fast",
		Provider:          "queue",
		Input:             map[string]any{"prompt": "a"},
		Status:            generation.StatusPending,
		ProviderRequestID: "req-" + id,
		Tags:              []string{},
		CreatedAt:         time.Now(),
	}
	require.NoError(t, h.store.Create(ctx, g))
	ready, err := h.store.Transition(ctx, id, generation.StatusPending, generation.StatusReady,
		generation.ReadyPatch(&generation.ArtifactRef{Key: key, ContentType: "image/png", Size: 9}, time.Now()))
	require.NoError(t, err)
	return ready
}

func TestDelete(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	publisher := eventmocks.NewMockPublisher(ctrl)
	publisher.EXPECT().
		Publish(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, e events.Event) error {
			assert.Equal(t, events.TypeDeleted, e.Type)
			return nil
		})

	h := newHarness(t, ctrl, orchestrator.WithPublisher(publisher))
	g := readyGeneration(t, h, "g1")

	require.NoError(t, h.service.Delete(context.Background(), g.ID))

	_, err := h.service.Get(context.Background(), g.ID)
	requireKind(t, err, orchestrator.KindNotFound)
	_, _, err = h.blobs.Get(context.Background(), g.Artifact.Key)
	assert.ErrorIs(t, err, blob.ErrNotFound)

	err = h.service.Delete(context.Background(), g.ID)
	requireKind(t, err, orchestrator.KindNotFound)
}

func TestDelete_BlobFailureDoesNotFail(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	st := memory.New()
	ctx := context.Background()
	g := &generation.Generation{
		ID: "g1", Endpoint: "img-gen/fast", Provider: "queue", Input: map[string]any{},
		Status: generation.StatusPending, Tags: []string{}, CreatedAt: time.Now(),
	}
	require.NoError(t, st.Create(ctx, g))
	_, err := st.Transition(ctx, "g1", generation.StatusPending, generation.StatusReady,
		generation.ReadyPatch(&generation.ArtifactRef{Key: "k.png", ContentType: "image/png", Size: 1}, time.Now()))
	require.NoError(t, err)

	blobs := blobmocks.NewMockStore(ctrl)
	blobs.EXPECT().Delete(gomock.Any(), "k.png").Return(errors.New("bucket unavailable"))

	svc := orchestrator.New(st, provider.NewRegistry(), blobs)
	require.NoError(t, svc.Delete(ctx, "g1"))

	_, err = st.Get(ctx, "g1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCancel(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	h := newHarness(t, ctrl)
	h.queue.EXPECT().Submit(gomock.Any(), gomock.Any()).DoAndReturn(accept("req-1"))
	h.polling.EXPECT().Submit(gomock.Any(), gomock.Any()).DoAndReturn(accept("pred-1"))

	queued, err := h.service.Create(context.Background(), orchestrator.CreateRequest{
		Endpoint: "img-gen/fast", Input: map[string]any{"prompt": "a"},
	})
	require.NoError(t, err)
	polled, err := h.service.Create(context.Background(), orchestrator.CreateRequest{
		Endpoint: "stability/sdxl", Input: map[string]any{"prompt": "b"},
	})
	require.NoError(t, err)

	h.canceller.EXPECT().
		Cancel(gomock.Any(), provider.RequestRef{Endpoint: "img-gen/fast", RequestID: "req-1"}).
		Return(nil)
	require.NoError(t, h.service.Cancel(context.Background(), queued.ID))

	stored, err := h.service.Get(context.Background(), queued.ID)
	require.NoError(t, err)
	assert.Equal(t, generation.StatusPending, stored.Status, "cancel never changes state")

	// polling adapter has no cancel capability
	require.NoError(t, h.service.Cancel(context.Background(), polled.ID))

	done := readyGeneration(t, h, "g9")
	require.NoError(t, h.service.Cancel(context.Background(), done.ID))

	err = h.service.Cancel(context.Background(), "missing")
	requireKind(t, err, orchestrator.KindNotFound)
}

func TestCancel_ProviderFailure(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	h := newHarness(t, ctrl)
	h.queue.EXPECT().Submit(gomock.Any(), gomock.Any()).DoAndReturn(accept("req-1"))
	g, err := h.service.Create(context.Background(), orchestrator.CreateRequest{
		Endpoint: "img-gen/fast", Input: map[string]any{"prompt": "a"},
	})
	require.NoError(t, err)

	h.canceller.EXPECT().Cancel(gomock.Any(), gomock.Any()).Return(provider.Unreachable("queue", errors.New("timeout")))
	err = h.service.Cancel(context.Background(), g.ID)
	requireKind(t, err, orchestrator.KindProviderUnreachable)
}

func TestOpenArtifact(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	h := newHarness(t, ctrl)
	g := readyGeneration(t, h, "g1")

	rc, info, err := h.service.OpenArtifact(context.Background(), g.ID)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))
	assert.Equal(t, "image/png", info.ContentType)

	h.queue.EXPECT().Submit(gomock.Any(), gomock.Any()).DoAndReturn(accept("req-2"))
	pending, err := h.service.Create(context.Background(), orchestrator.CreateRequest{
		Endpoint: "img-gen/fast", Input: map[string]any{"prompt": "a"},
	})
	require.NoError(t, err)
	_, _, err = h.service.OpenArtifact(context.Background(), pending.ID)
	requireKind(t, err, orchestrator.KindNotFound)

	_, _, err = h.service.OpenArtifact(context.Background(), "missing")
	requireKind(t, err, orchestrator.KindNotFound)
}

func TestPing(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	st := storemocks.NewMockStore(ctrl)
	gomock.InOrder(
		st.EXPECT().Ping(gomock.Any()).Return(nil),
		st.EXPECT().Ping(gomock.Any()).Return(errors.New("down")),
	)

	svc := orchestrator.New(st, provider.NewRegistry(), nil)
	require.NoError(t, svc.Ping(context.Background()))
	requireKind(t, svc.Ping(context.Background()), orchestrator.KindInternal)
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, orchestrator.KindNotFound, orchestrator.KindOf(&orchestrator.Error{Kind: orchestrator.KindNotFound}))
	assert.Equal(t, orchestrator.KindInternal, orchestrator.KindOf(errors.New("plain")))
}
