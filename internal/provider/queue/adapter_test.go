package queue

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/toolhive-imagegen-server/internal/provider"
)

type recorded struct {
	method string
	path   string
	query  string
	auth   string
	body   map[string]any
}

type fakeQueue struct {
	mu       sync.Mutex
	requests []recorded
	handle   func(w http.ResponseWriter, r *http.Request)
}

func (f *fakeQueue) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec := recorded{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery, auth: r.Header.Get("Authorization")}
	if data, _ := io.ReadAll(r.Body); len(data) > 0 {
		_ = json.Unmarshal(data, &rec.body)
	}
	f.mu.Lock()
	f.requests = append(f.requests, rec)
	f.mu.Unlock()
	f.handle(w, r)
}

func (f *fakeQueue) last() recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newAdapter(t *testing.T, handle func(w http.ResponseWriter, r *http.Request)) (*Adapter, *fakeQueue) {
	t.Helper()
	fake := &fakeQueue{handle: handle}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	a, err := New(Options{Name: "queue", BaseURL: srv.URL, APIKey: "secret", Client: srv.Client()})
	require.NoError(t, err)
	return a, fake
}

func TestSubmit(t *testing.T) {
	t.Parallel()

	a, fake := newAdapter(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"request_id":"req-1","queue_position":3}`))
	})

	sub, err := a.Submit(context.Background(), provider.SubmitRequest{
		Endpoint:    "img-gen/fast",
		Input:       map[string]any{"prompt": "a cat"},
		CallbackURL: "https://api.example.com/webhooks/queue?token=abc",
	})
	require.NoError(t, err)
	assert.Equal(t, "req-1", sub.RequestID)
	assert.Equal(t, 3, sub.QueuePosition)

	req := fake.last()
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, "/img-gen/fast", req.path)
	assert.Equal(t, "Key secret", req.auth)
	assert.Equal(t, "a cat", req.body["prompt"])
	assert.Contains(t, req.query, "fal_webhook=https%3A%2F%2Fapi.example.com%2Fwebhooks%2Fqueue%3Ftoken%3Dabc")
}

func TestSubmit_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   int
		body     string
		wantKind provider.ErrorKind
	}{
		{name: "validation failure", status: http.StatusUnprocessableEntity, body: `{"detail":"bad prompt"}`, wantKind: provider.KindRejected},
		{name: "bad credentials", status: http.StatusUnauthorized, body: `{"detail":"bad key"}`, wantKind: provider.KindAuth},
		{name: "outage", status: http.StatusServiceUnavailable, body: `{}`, wantKind: provider.KindUnreachable},
		{name: "missing request id", status: http.StatusOK, body: `{}`, wantKind: provider.KindRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			a, _ := newAdapter(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := a.Submit(context.Background(), provider.SubmitRequest{Endpoint: "img-gen/fast", Input: map[string]any{}})
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, provider.KindOf(err))
		})
	}
}

func TestPoll(t *testing.T) {
	t.Parallel()

	ref := provider.RequestRef{Endpoint: "img-gen/fast", RequestID: "req-1"}

	tests := []struct {
		name      string
		status    string
		result    string
		resultErr int
		want      provider.State
		wantURL   string
		wantMsg   string
	}{
		{name: "queued", status: `{"status":"IN_QUEUE","queue_position":2}`, want: provider.StatePending},
		{name: "running", status: `{"status":"IN_PROGRESS"}`, want: provider.StatePending},
		{
			name:    "completed",
			status:  `{"status":"COMPLETED"}`,
			result:  `{"images":[{"url":"https://cdn.example.com/a.png","content_type":"image/png","width":512,"height":512}]}`,
			want:    provider.StateSucceeded,
			wantURL: "https://cdn.example.com/a.png",
		},
		{name: "completed with error", status: `{"status":"COMPLETED","error":"nsfw"}`, want: provider.StateFailed, wantMsg: "nsfw"},
		{
			name:      "result refused",
			status:    `{"status":"COMPLETED"}`,
			resultErr: http.StatusUnprocessableEntity,
			result:    `{"detail":"invalid size"}`,
			want:      provider.StateFailed,
			wantMsg:   "invalid size",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			a, _ := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				switch r.URL.Path {
				case "/img-gen/fast/requests/req-1/status":
					_, _ = w.Write([]byte(tt.status))
				case "/img-gen/fast/requests/req-1":
					if tt.resultErr != 0 {
						w.WriteHeader(tt.resultErr)
					}
					_, _ = w.Write([]byte(tt.result))
				default:
					w.WriteHeader(http.StatusNotFound)
				}
			})

			outcome, err := a.Poll(context.Background(), ref)
			require.NoError(t, err)
			assert.Equal(t, tt.want, outcome.State)
			assert.Equal(t, tt.wantMsg, outcome.Message)
			if tt.wantURL != "" {
				require.Len(t, outcome.Artifacts, 1)
				assert.Equal(t, tt.wantURL, outcome.Artifacts[0].URL)
				assert.Equal(t, 512, outcome.Artifacts[0].Width)
			}
		})
	}
}

func TestPoll_TransientFailureIsAnError(t *testing.T) {
	t.Parallel()

	a, _ := newAdapter(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := a.Poll(context.Background(), provider.RequestRef{Endpoint: "img-gen/fast", RequestID: "req-1"})
	require.Error(t, err)
	assert.True(t, provider.IsRetryable(err))
}

func TestCancel(t *testing.T) {
	t.Parallel()

	a, fake := newAdapter(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	require.NoError(t, a.Cancel(context.Background(), provider.RequestRef{Endpoint: "img-gen/fast", RequestID: "req-1"}))

	req := fake.last()
	assert.Equal(t, http.MethodPut, req.method)
	assert.Equal(t, "/img-gen/fast/requests/req-1/cancel", req.path)
}

func TestParseWebhook(t *testing.T) {
	t.Parallel()

	a, err := New(Options{Name: "queue", BaseURL: "https://queue.example.com"})
	require.NoError(t, err)

	tests := []struct {
		name      string
		body      string
		wantErr   bool
		wantState provider.State
		wantMsg   string
		wantData  string
	}{
		{
			name:      "success with data uri",
			body:      `{"request_id":"req-1","status":"OK","payload":{"images":[{"url":"data:image/png;base64,aGVsbG8="}]}}`,
			wantState: provider.StateSucceeded,
			wantData:  "hello",
		},
		{
			name:      "success with single image",
			body:      `{"request_id":"req-1","status":"OK","payload":{"image":{"url":"https://cdn.example.com/a.webp"}}}`,
			wantState: provider.StateSucceeded,
		},
		{
			name:      "failure with error",
			body:      `{"request_id":"req-1","status":"ERROR","error":"out of memory"}`,
			wantState: provider.StateFailed,
			wantMsg:   "out of memory",
		},
		{
			name:      "failure with payload detail",
			body:      `{"request_id":"req-1","status":"ERROR","payload":{"detail":"prompt blocked"}}`,
			wantState: provider.StateFailed,
			wantMsg:   "prompt blocked",
		},
		{name: "not json", body: `nope`, wantErr: true},
		{name: "missing request id", body: `{"status":"OK"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			event, err := a.ParseWebhook(http.Header{}, []byte(tt.body))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "req-1", event.RequestID)
			assert.Equal(t, tt.wantState, event.Outcome.State)
			assert.Equal(t, tt.wantMsg, event.Outcome.Message)
			if tt.wantState == provider.StateSucceeded {
				require.Len(t, event.Outcome.Artifacts, 1)
			}
			if tt.wantData != "" {
				assert.Equal(t, tt.wantData, string(event.Outcome.Artifacts[0].Data))
				assert.Equal(t, "image/png", event.Outcome.Artifacts[0].ContentType)
			}
		})
	}
}

func TestParseWebhook_MalformedArtifactIsDropped(t *testing.T) {
	t.Parallel()

	a, err := New(Options{Name: "queue", BaseURL: "https://queue.example.com"})
	require.NoError(t, err)

	event, err := a.ParseWebhook(nil, []byte(`{"request_id":"r","status":"OK","payload":{"images":[{"url":"data:image/png;base64,@@"}]}}`))
	require.NoError(t, err)
	assert.Equal(t, provider.StateSucceeded, event.Outcome.State)
	assert.Empty(t, event.Outcome.Artifacts)
}

func TestListModels(t *testing.T) {
	t.Parallel()

	a, _ := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		_, _ = w.Write([]byte(`{"models":[
			{"endpoint":"img-gen/fast","name":"Fast","description":"quick drafts"},
			{"endpoint":"img-gen/quality"},
			{"name":"no endpoint"}
		]}`))
	})

	models, err := a.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []provider.Model{
		{Endpoint: "img-gen/fast", Name: "Fast", Description: "quick drafts", Provider: "queue"},
		{Endpoint: "img-gen/quality", Name: "img-gen/quality", Provider: "queue"},
	}, models)
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New(Options{BaseURL: "https://x"})
	require.Error(t, err)
	_, err = New(Options{Name: "queue", BaseURL: "not a url"})
	require.Error(t, err)
}
