package app

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"net/http"

	"github.com/stacklok/toolhive-imagegen-server/internal/blob"
	"github.com/stacklok/toolhive-imagegen-server/internal/catalog"
	"github.com/stacklok/toolhive-imagegen-server/internal/config"
	"github.com/stacklok/toolhive-imagegen-server/internal/events"
	"github.com/stacklok/toolhive-imagegen-server/internal/orchestrator"
	"github.com/stacklok/toolhive-imagegen-server/internal/provider"
	"github.com/stacklok/toolhive-imagegen-server/internal/provider/polling"
	"github.com/stacklok/toolhive-imagegen-server/internal/provider/queue"
	"github.com/stacklok/toolhive-imagegen-server/internal/reconciler"
	"github.com/stacklok/toolhive-imagegen-server/internal/schema"
)

// AppComponents groups the long-lived components of the server
//
//nolint:revive // This name is fine
type AppComponents struct {
	Orchestrator orchestrator.Service
	Reconciler   *reconciler.Reconciler
	Sweeper      *reconciler.Sweeper
	Tracker      *catalog.Tracker
	Catalog      catalog.Service
	Publisher    events.Publisher
}

func buildBlobStore(ctx context.Context, cfg *config.BlobConfig) (blob.Store, error) {
	switch cfg.GetType() {
	case config.BlobTypeFilesystem:
		slog.Info("Using filesystem artifact store", "path", cfg.GetFilesystemPath())
		return blob.NewFilesystem(cfg.GetFilesystemPath())
	case config.BlobTypeS3:
		secret, err := cfg.S3.GetSecretAccessKey()
		if err != nil {
			return nil, fmt.Errorf("failed to read S3 secret access key: %w", err)
		}
		slog.Info("Using S3 artifact store", "bucket", cfg.S3.Bucket, "endpoint", cfg.S3.Endpoint)
		return blob.NewS3(ctx, blob.S3Options{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: secret,
			UsePathStyle:    cfg.S3.UsePathStyle,
			Prefix:          cfg.S3.Prefix,
		})
	case config.BlobTypeGCS:
		slog.Info("Using GCS artifact store", "bucket", cfg.GCS.Bucket)
		return blob.NewGCS(ctx, blob.GCSOptions{
			Bucket:          cfg.GCS.Bucket,
			Prefix:          cfg.GCS.Prefix,
			CredentialsFile: cfg.GCS.CredentialsFile,
		})
	default:
		return nil, fmt.Errorf("unknown blob store type: %s", cfg.GetType())
	}
}

func buildPublisher(ctx context.Context, cfg *config.EventsConfig) (events.Publisher, error) {
	switch cfg.GetType() {
	case config.EventsTypeNone:
		return events.NewNoop(), nil
	case config.EventsTypeNATS:
		slog.Info("Publishing lifecycle events to NATS", "url", cfg.NATS.URL, "stream", cfg.NATS.GetStream())
		return events.NewNATS(events.NATSOptions{
			URL:           cfg.NATS.URL,
			Stream:        cfg.NATS.GetStream(),
			SubjectPrefix: cfg.NATS.GetSubjectPrefix(),
		})
	case config.EventsTypeRedis:
		password, err := cfg.Redis.GetPassword()
		if err != nil {
			return nil, fmt.Errorf("failed to read redis password: %w", err)
		}
		slog.Info("Publishing lifecycle events to Redis", "addr", cfg.Redis.Addr)
		return events.NewRedis(ctx, events.RedisOptions{
			Addr:          cfg.Redis.Addr,
			Password:      password,
			DB:            cfg.Redis.DB,
			ChannelPrefix: cfg.Redis.GetChannelPrefix(),
		})
	default:
		return nil, fmt.Errorf("unknown events type: %s", cfg.GetType())
	}
}

// buildProviders registers one adapter per configured provider, in config
// order, and collects their input schemas. Credentials are read here so a
// missing key fails startup instead of the first request.
func buildProviders(cfgs []config.ProviderConfig, client *http.Client) (*provider.Registry, *schema.Validator, error) {
	registry := provider.NewRegistry()
	schemas := make(map[string]string)

	for i := range cfgs {
		pc := &cfgs[i]
		apiKey, err := pc.GetAPIKey()
		if err != nil {
			return nil, nil, fmt.Errorf("provider %s: failed to read API key: %w", pc.Name, err)
		}

		var adapter provider.Adapter
		switch pc.Type {
		case config.ProviderTypeQueue:
			adapter, err = queue.New(queue.Options{
				Name: pc.Name, BaseURL: pc.BaseURL, APIKey: apiKey, Timeout: pc.GetTimeout(), Client: client,
			})
		case config.ProviderTypePolling:
			adapter, err = polling.New(polling.Options{
				Name: pc.Name, BaseURL: pc.BaseURL, APIKey: apiKey, Timeout: pc.GetTimeout(), Client: client,
			})
		default:
			err = fmt.Errorf("unknown provider type %q", pc.Type)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("provider %s: %w", pc.Name, err)
		}

		if err := registry.Register(adapter, pc.Endpoints...); err != nil {
			return nil, nil, fmt.Errorf("provider %s: %w", pc.Name, err)
		}
		maps.Copy(schemas, pc.InputSchemas)

		slog.Info("Provider registered",
			"provider", pc.Name,
			"type", pc.Type,
			"endpoints", pc.Endpoints,
			"has_api_key", apiKey != "")
	}

	validator, err := schema.NewValidator(schemas)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load input schemas: %w", err)
	}
	return registry, validator, nil
}
