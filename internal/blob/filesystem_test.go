package blob

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilesystemStore(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := NewFilesystem(dir)
	require.NoError(t, err)
	ctx := context.Background()

	key := "generations/g1/artifact.png"
	require.NoError(t, s.Put(ctx, key, []byte("first"), "image/png"))
	require.NoError(t, s.Put(ctx, key, []byte("second"), "image/png"))

	r, info, err := s.Get(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "second", string(data))
	assert.Equal(t, "image/png", info.ContentType)
	assert.EqualValues(t, 6, info.Size)

	// no temp files survive a successful write
	entries, err := os.ReadDir(filepath.Join(dir, "generations", "g1"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, s.Delete(ctx, key))
	require.NoError(t, s.Delete(ctx, key), "deleting twice is not an error")

	_, _, err = s.Get(ctx, key)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFilesystemStore_RejectsEscapingKeys(t *testing.T) {
	t.Parallel()

	s, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"", "../outside.png", "a/../../b.png", "a//b.png"} {
		t.Run(key, func(t *testing.T) {
			t.Parallel()
			require.Error(t, s.Put(context.Background(), key, []byte("x"), "image/png"))
		})
	}
}

func TestContentTypeForKey(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"a/artifact.png":  "image/png",
		"a/artifact.JPG":  "image/jpeg",
		"a/artifact.jpeg": "image/jpeg",
		"a/artifact.webp": "image/webp",
		"a/artifact.gif":  "image/gif",
		"a/artifact":      "application/octet-stream",
	}
	for key, want := range tests {
		assert.Equal(t, want, ContentTypeForKey(key), key)
	}
}

func TestWithPrefix(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "k", withPrefix("", "k"))
	assert.Equal(t, "env/prod/k", withPrefix("/env/prod/", "k"))
}
