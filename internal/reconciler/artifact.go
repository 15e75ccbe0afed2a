package reconciler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	// registered image formats for DecodeConfig
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/cenkalti/backoff/v5"
	_ "golang.org/x/image/webp"

	"github.com/stacklok/toolhive-imagegen-server/internal/blob"
	"github.com/stacklok/toolhive-imagegen-server/internal/generation"
	"github.com/stacklok/toolhive-imagegen-server/internal/httpclient"
	"github.com/stacklok/toolhive-imagegen-server/internal/provider"
)

const (
	// DefaultMaxArtifactBytes caps a single stored artifact
	DefaultMaxArtifactBytes = 50 << 20
	// DefaultArtifactTimeout bounds one artifact download including retries
	DefaultArtifactTimeout = 60 * time.Second

	defaultFetchTries = 3
)

// ErrInvalidArtifact marks a reported success whose artifact cannot be used.
// Retrying will not help; the generation fails with artifact_invalid.
var ErrInvalidArtifact = errors.New("invalid artifact")

// Materializer turns provider artifact data into a stored blob.
type Materializer struct {
	blobs        blob.Store
	client       httpclient.Client
	maxBytes     int64
	fetchTimeout time.Duration
	fetchTries   uint
	newBackOff   func() backoff.BackOff
}

// MaterializerOption configures a Materializer
type MaterializerOption func(*Materializer)

// WithMaxBytes sets the largest artifact accepted
func WithMaxBytes(n int64) MaterializerOption {
	return func(m *Materializer) {
		if n > 0 {
			m.maxBytes = n
		}
	}
}

// WithFetchTimeout bounds each artifact download, all attempts included
func WithFetchTimeout(d time.Duration) MaterializerOption {
	return func(m *Materializer) {
		if d > 0 {
			m.fetchTimeout = d
		}
	}
}

// WithBackOff replaces the retry schedule used between download attempts
func WithBackOff(fn func() backoff.BackOff) MaterializerOption {
	return func(m *Materializer) {
		m.newBackOff = fn
	}
}

// NewMaterializer creates a Materializer writing to blobs and downloading
// URL artifacts through client.
func NewMaterializer(blobs blob.Store, client httpclient.Client, opts ...MaterializerOption) *Materializer {
	m := &Materializer{
		blobs:        blobs,
		client:       client,
		maxBytes:     DefaultMaxArtifactBytes,
		fetchTimeout: DefaultArtifactTimeout,
		fetchTries:   defaultFetchTries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ArtifactKey is the deterministic blob key of a generation's artifact.
// Every delivery for the same generation and format writes the same key.
func ArtifactKey(generationID, format string) string {
	return path.Join("generations", generationID, "artifact"+extensionFor(format))
}

// Materialize stores the first artifact of a successful outcome and returns
// its reference. Errors wrapping ErrInvalidArtifact are permanent; any other
// error is transient and the outcome may be applied again later.
func (m *Materializer) Materialize(
	ctx context.Context,
	g *generation.Generation,
	artifacts []provider.ArtifactData,
) (*generation.ArtifactRef, error) {
	if len(artifacts) == 0 {
		return nil, invalid("provider reported success without an artifact")
	}
	artifact := artifacts[0]

	data, declared, err := m.load(ctx, artifact)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, invalid("artifact is empty")
	}
	if int64(len(data)) > m.maxBytes {
		return nil, invalid(fmt.Sprintf("artifact exceeds %d bytes", m.maxBytes))
	}

	if declared != "" {
		mediaType, _, err := mime.ParseMediaType(declared)
		if err != nil {
			mediaType = http.DetectContentType(data)
		}
		if !strings.HasPrefix(mediaType, "image/") && mediaType != "application/octet-stream" {
			return nil, invalid(fmt.Sprintf("artifact content type %q is not an image", mediaType))
		}
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, invalid("artifact is not a decodable image")
	}

	key := ArtifactKey(g.ID, format)
	contentType := "image/" + format
	if err := m.blobs.Put(ctx, key, data, contentType); err != nil {
		return nil, fmt.Errorf("failed to store artifact: %w", err)
	}

	return &generation.ArtifactRef{
		Key:         key,
		ContentType: contentType,
		Size:        int64(len(data)),
		Width:       cfg.Width,
		Height:      cfg.Height,
		SourceURL:   artifact.URL,
	}, nil
}

func (m *Materializer) load(ctx context.Context, artifact provider.ArtifactData) ([]byte, string, error) {
	if len(artifact.Data) > 0 {
		return artifact.Data, artifact.ContentType, nil
	}
	if artifact.URL == "" {
		return nil, "", invalid("artifact has neither data nor url")
	}
	if data, contentType, ok, err := provider.DecodeDataURI(artifact.URL); ok {
		if err != nil {
			return nil, "", invalid("artifact data uri is malformed")
		}
		return data, contentType, nil
	}
	if m.client == nil {
		return nil, "", errors.New("no http client configured for artifact downloads")
	}

	fetchCtx, cancel := context.WithTimeout(ctx, m.fetchTimeout)
	defer cancel()

	resp, err := backoff.Retry(fetchCtx, func() (*httpclient.Response, error) {
		resp, err := m.client.Get(fetchCtx, artifact.URL)
		if err != nil {
			if isPermanentFetchError(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return resp, nil
	}, backoff.WithBackOff(m.newBackOff()), backoff.WithMaxTries(m.fetchTries))
	if err != nil {
		var httpErr *httpclient.HTTPError
		switch {
		case errors.Is(err, httpclient.ErrResponseTooLarge):
			return nil, "", invalid(fmt.Sprintf("artifact exceeds %d bytes", m.maxBytes))
		case httpclient.IsClientError(err) && errors.As(err, &httpErr):
			return nil, "", invalid(fmt.Sprintf("artifact download returned HTTP %d", httpErr.StatusCode))
		}
		return nil, "", fmt.Errorf("failed to download artifact: %w", err)
	}
	return resp.Body, resp.ContentType, nil
}

func isPermanentFetchError(err error) bool {
	return httpclient.IsClientError(err) || errors.Is(err, httpclient.ErrResponseTooLarge)
}

func invalid(message string) error {
	return fmt.Errorf("%w: %s", ErrInvalidArtifact, message)
}

// InvalidReason strips the sentinel prefix so the stored message reads on its own.
func InvalidReason(err error) string {
	return strings.TrimPrefix(err.Error(), ErrInvalidArtifact.Error()+": ")
}

func extensionFor(format string) string {
	switch format {
	case "jpeg":
		return ".jpg"
	case "":
		return ".bin"
	default:
		return "." + format
	}
}
