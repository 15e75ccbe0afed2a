package common

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathParam(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		path    string
		want    string
		wantErr string
	}{
		{name: "plain id", path: "/items/abc-123", want: "abc-123"},
		{name: "encoded value", path: "/items/a%2Fb", want: "a/b"},
		{name: "encoded whitespace", path: "/items/a%20b", wantErr: "cannot contain whitespace"},
		{name: "blank", path: "/items/%20", wantErr: "cannot be empty"},
		{name: "bad encoding", path: "/items/%zz", wantErr: "invalid URL encoding"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var got string
			var gotErr error
			r := chi.NewRouter()
			r.Get("/items/{id}", func(_ http.ResponseWriter, req *http.Request) {
				got, gotErr = PathParam(req, "id")
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.URL = &url.URL{Path: "/items/x", RawPath: tt.path}
			r.ServeHTTP(httptest.NewRecorder(), req)

			if tt.wantErr != "" {
				require.Error(t, gotErr)
				assert.Contains(t, gotErr.Error(), tt.wantErr)
				return
			}
			require.NoError(t, gotErr)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestQueryList(t *testing.T) {
	t.Parallel()

	query := url.Values{"tag": {"a,b", " c ", ",,", "d"}}
	assert.Equal(t, []string{"a", "b", "c", "d"}, QueryList(query, "tag"))
	assert.Empty(t, QueryList(query, "missing"))
}

func TestQueryInt(t *testing.T) {
	t.Parallel()

	v, err := QueryInt(url.Values{"limit": {"25"}}, "limit")
	require.NoError(t, err)
	assert.Equal(t, 25, v)

	v, err = QueryInt(url.Values{}, "limit")
	require.NoError(t, err)
	assert.Zero(t, v)

	_, err = QueryInt(url.Values{"limit": {"ten"}}, "limit")
	assert.EqualError(t, err, "limit must be an integer")
}
