package blob

import (
	"context"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 answers path-style object requests for a single bucket.
type fakeS3 struct {
	mu           sync.Mutex
	contentTypes map[string]string
	deleted      []string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, _ = io.Copy(io.Discard, r.Body)

	switch r.Method {
	case http.MethodPut:
		f.contentTypes[r.URL.Path] = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		ct, ok := f.contentTypes[r.URL.Path]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?>`+
				`<Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
			return
		}
		w.Header().Set("Content-Type", ct)
		w.Header().Set("Content-Length", "5")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "bytes")
	case http.MethodDelete:
		f.deleted = append(f.deleted, r.URL.Path)
		delete(f.contentTypes, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeS3) contentType(p string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.contentTypes[p]
}

func (f *fakeS3) deletedPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func TestS3Store(t *testing.T) {
	t.Parallel()

	fake := &fakeS3{contentTypes: map[string]string{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	ctx := context.Background()
	s, err := NewS3(ctx, S3Options{
		Bucket:          "artifacts",
		Endpoint:        srv.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		UsePathStyle:    true,
		Prefix:          "prod",
	})
	require.NoError(t, err)

	key := "generations/g1/artifact.webp"
	require.NoError(t, s.Put(ctx, key, []byte("bytes"), "image/webp"))
	assert.Equal(t, "image/webp", fake.contentType("/artifacts/prod/"+key))

	r, info, err := s.Get(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "bytes", string(data))
	assert.Equal(t, "image/webp", info.ContentType)

	require.NoError(t, s.Delete(ctx, key))
	assert.Equal(t, []string{"/artifacts/prod/" + key}, fake.deletedPaths())

	_, _, err = s.Get(ctx, key)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestS3Store_CustomCABundle(t *testing.T) {
	fake := &fakeS3{contentTypes: map[string]string{}}
	srv := httptest.NewTLSServer(fake)
	t.Cleanup(srv.Close)

	bundle := filepath.Join(t.TempDir(), "ca.pem")
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
	require.NoError(t, os.WriteFile(bundle, certPEM, 0o600))
	t.Setenv("AWS_CA_BUNDLE", bundle)

	ctx := context.Background()
	s, err := NewS3(ctx, S3Options{
		Bucket:          "artifacts",
		Endpoint:        srv.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		UsePathStyle:    true,
	})
	require.NoError(t, err)

	// the TLS handshake only succeeds when the bundle was applied
	require.NoError(t, s.Put(ctx, "generations/g1/artifact.png", []byte("bytes"), "image/png"))
	assert.Equal(t, "image/png", fake.contentType("/artifacts/generations/g1/artifact.png"))
}

func TestNewS3_RequiresBucket(t *testing.T) {
	t.Parallel()

	_, err := NewS3(context.Background(), S3Options{})
	require.Error(t, err)
}

func TestNewGCS_RequiresBucket(t *testing.T) {
	t.Parallel()

	_, err := NewGCS(context.Background(), GCSOptions{})
	require.Error(t, err)
}
