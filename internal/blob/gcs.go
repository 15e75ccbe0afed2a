package blob

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSOptions configures a Google Cloud Storage bucket.
type GCSOptions struct {
	Bucket string
	Prefix string
	// CredentialsFile is a service account key; empty uses application default credentials
	CredentialsFile string
	// ClientOptions are appended to the client options, mainly for tests
	ClientOptions []option.ClientOption
}

type gcsStore struct {
	client *storage.Client
	bucket string
	prefix string
}

var _ Store = (*gcsStore)(nil)

// NewGCS returns a Store writing to a GCS bucket.
func NewGCS(ctx context.Context, opts GCSOptions) (Store, error) {
	if opts.Bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}
	clientOpts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	clientOpts = append(clientOpts, opts.ClientOptions...)

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &gcsStore{client: client, bucket: opts.Bucket, prefix: opts.Prefix}, nil
}

func (s *gcsStore) object(key string) (*storage.ObjectHandle, error) {
	key, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	return s.client.Bucket(s.bucket).Object(withPrefix(s.prefix, key)), nil
}

func (s *gcsStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	obj, err := s.object(key)
	if err != nil {
		return err
	}
	w := obj.NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return nil
}

func (s *gcsStore) Get(ctx context.Context, key string) (io.ReadCloser, *Info, error) {
	obj, err := s.object(key)
	if err != nil {
		return nil, nil, err
	}
	r, err := obj.NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("failed to open GCS object: %w", err)
	}
	info := &Info{ContentType: r.Attrs.ContentType, Size: r.Attrs.Size}
	if info.ContentType == "" {
		info.ContentType = ContentTypeForKey(key)
	}
	return r, info, nil
}

func (s *gcsStore) Delete(ctx context.Context, key string) error {
	obj, err := s.object(key)
	if err != nil {
		return err
	}
	if err := obj.Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete GCS object: %w", err)
	}
	return nil
}
