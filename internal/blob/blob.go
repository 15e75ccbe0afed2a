// Package blob stores generated artifacts by key.
//
// Three backends are provided: a local filesystem directory, an S3 compatible
// bucket and a Google Cloud Storage bucket. Keys are slash separated and are
// chosen by the caller, so writing the same key twice overwrites the object.
package blob

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

//go:generate mockgen -destination=mocks/mock_blob.go -package=mocks -source=blob.go Store

// ErrNotFound is returned when no object exists under the key
var ErrNotFound = errors.New("blob not found")

// Info describes a stored object.
type Info struct {
	ContentType string
	Size        int64
}

// Store is the blob store contract.
type Store interface {
	// Put writes data under key, replacing any existing object.
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// Get opens the object under key. The caller closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, *Info, error)

	// Delete removes the object under key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// cleanKey validates a key and strips leading slashes.
func cleanKey(key string) (string, error) {
	key = strings.TrimLeft(key, "/")
	if key == "" {
		return "", errors.New("blob key is required")
	}
	if cleaned := path.Clean(key); cleaned != key || strings.HasPrefix(cleaned, "..") {
		return "", errors.New("blob key must be a clean relative path")
	}
	return key, nil
}

// withPrefix joins an optional bucket prefix with a key.
func withPrefix(prefix, key string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

// ContentTypeForKey guesses an image content type from the key extension.
func ContentTypeForKey(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	case ".svg":
		return "image/svg+xml"
	default:
		return "application/octet-stream"
	}
}
