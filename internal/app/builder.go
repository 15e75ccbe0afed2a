package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/stacklok/toolhive-imagegen-server/internal/api"
	"github.com/stacklok/toolhive-imagegen-server/internal/app/storage"
	"github.com/stacklok/toolhive-imagegen-server/internal/blob"
	"github.com/stacklok/toolhive-imagegen-server/internal/catalog"
	"github.com/stacklok/toolhive-imagegen-server/internal/catalog/status"
	"github.com/stacklok/toolhive-imagegen-server/internal/config"
	"github.com/stacklok/toolhive-imagegen-server/internal/events"
	"github.com/stacklok/toolhive-imagegen-server/internal/httpclient"
	"github.com/stacklok/toolhive-imagegen-server/internal/orchestrator"
	"github.com/stacklok/toolhive-imagegen-server/internal/reconciler"
	"github.com/stacklok/toolhive-imagegen-server/internal/telemetry"
	"github.com/stacklok/toolhive-imagegen-server/internal/versions"
	"github.com/stacklok/toolhive-imagegen-server/internal/webhook"
)

const (
	defaultHTTPAddress    = ":8080"
	defaultRequestTimeout = 30 * time.Second
	defaultReadTimeout    = 10 * time.Second
	defaultWriteTimeout   = 60 * time.Second
	defaultIdleTimeout    = 60 * time.Second
)

// ImageGenAppOptions configures the application builder
type ImageGenAppOptions func(*imageGenAppConfig) error

type imageGenAppConfig struct {
	config *config.Config

	// overrides, mainly for tests
	storageFactory storage.Factory
	blobStore      blob.Store
	publisher      events.Publisher
	providerClient *http.Client

	address        string
	middlewares    []func(http.Handler) http.Handler
	requestTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration
}

func baseConfig(opts ...ImageGenAppOptions) (*imageGenAppConfig, error) {
	cfg := &imageGenAppConfig{
		address:        defaultHTTPAddress,
		requestTimeout: defaultRequestTimeout,
		readTimeout:    defaultReadTimeout,
		writeTimeout:   defaultWriteTimeout,
		idleTimeout:    defaultIdleTimeout,
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	return cfg, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) ImageGenAppOptions {
	return func(cfg *imageGenAppConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress sets the HTTP server address
func WithAddress(addr string) ImageGenAppOptions {
	return func(cfg *imageGenAppConfig) error {
		host, port, ok := strings.Cut(addr, ":")
		if addr == "" || !ok || port == "" {
			return fmt.Errorf("address is not a valid port: %q", addr)
		}
		switch host {
		case "localhost":
			host = "127.0.0.1"
		case "":
			host = "0.0.0.0"
		}
		if _, err := netip.ParseAddrPort(host + ":" + port); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}
		cfg.address = addr
		return nil
	}
}

// WithMiddlewares replaces the default HTTP middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ImageGenAppOptions {
	return func(cfg *imageGenAppConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithStorageFactory injects the storage factory
func WithStorageFactory(f storage.Factory) ImageGenAppOptions {
	return func(cfg *imageGenAppConfig) error {
		cfg.storageFactory = f
		return nil
	}
}

// WithBlobStore injects the artifact store
func WithBlobStore(b blob.Store) ImageGenAppOptions {
	return func(cfg *imageGenAppConfig) error {
		cfg.blobStore = b
		return nil
	}
}

// WithPublisher injects the event publisher
func WithPublisher(p events.Publisher) ImageGenAppOptions {
	return func(cfg *imageGenAppConfig) error {
		cfg.publisher = p
		return nil
	}
}

// WithProviderClient sets the HTTP client of every provider adapter
func WithProviderClient(c *http.Client) ImageGenAppOptions {
	return func(cfg *imageGenAppConfig) error {
		cfg.providerClient = c
		return nil
	}
}

// NewImageGenApp wires every component described by the configuration.
// Components created before a failure are released before returning.
func NewImageGenApp(ctx context.Context, opts ...ImageGenAppOptions) (_ *ImageGenApp, err error) {
	b, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}

	var cleanups []func()
	defer func() {
		if err != nil {
			for i := len(cleanups) - 1; i >= 0; i-- {
				cleanups[i]()
			}
		}
	}()

	tel, err := buildTelemetry(ctx, b.config.Telemetry)
	if err != nil {
		return nil, err
	}
	cleanups = append(cleanups, func() { _ = tel.Shutdown(context.Background()) })

	if b.storageFactory == nil {
		if b.storageFactory, err = storage.NewStorageFactory(ctx, b.config); err != nil {
			return nil, fmt.Errorf("failed to create storage factory: %w", err)
		}
	}
	cleanups = append(cleanups, b.storageFactory.Cleanup)

	if b.blobStore == nil {
		if b.blobStore, err = buildBlobStore(ctx, &b.config.Blob); err != nil {
			return nil, fmt.Errorf("failed to create artifact store: %w", err)
		}
	}

	if b.publisher == nil {
		if b.publisher, err = buildPublisher(ctx, &b.config.Events); err != nil {
			return nil, fmt.Errorf("failed to create event publisher: %w", err)
		}
	}
	publisher := b.publisher
	cleanups = append(cleanups, func() { _ = publisher.Close() })

	components, signer, err := buildComponents(ctx, b, tel)
	if err != nil {
		return nil, err
	}

	httpServer, err := buildHTTPServer(b, components, signer, tel)
	if err != nil {
		return nil, fmt.Errorf("failed to build HTTP server: %w", err)
	}

	appCtx, cancel := context.WithCancel(ctx)
	return &ImageGenApp{
		config:         b.config,
		components:     components,
		httpServer:     httpServer,
		telemetry:      tel,
		storageFactory: b.storageFactory,
		ctx:            appCtx,
		cancelFunc:     cancel,
		sweeperDone:    make(chan struct{}),
	}, nil
}

func buildTelemetry(ctx context.Context, cfg *telemetry.Config) (*telemetry.Telemetry, error) {
	if cfg != nil && cfg.ServiceVersion == "" {
		cfg.ServiceVersion = versions.Version
	}
	tel, err := telemetry.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	return tel, nil
}

// buildComponents wires the orchestrator, the reconciler with its sweeper and
// the catalog tracker. Catalog statuses left active by a previous process
// are recovered before the tracker accepts jobs.
func buildComponents(
	ctx context.Context,
	b *imageGenAppConfig,
	tel *telemetry.Telemetry,
) (*AppComponents, *webhook.Signer, error) {
	slog.Info("Initializing generation components")
	cfg := b.config

	st, err := b.storageFactory.CreateStore(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create generation store: %w", err)
	}

	registry, validator, err := buildProviders(cfg.Providers, b.providerClient)
	if err != nil {
		return nil, nil, err
	}

	generationMetrics, err := telemetry.NewGenerationMetrics(tel.MeterProvider())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create generation metrics: %w", err)
	}
	reconcilerMetrics, err := telemetry.NewReconcilerMetrics(tel.MeterProvider())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create reconciler metrics: %w", err)
	}
	catalogMetrics, err := telemetry.NewCatalogMetrics(tel.MeterProvider())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create catalog metrics: %w", err)
	}

	orchOpts := []orchestrator.Option{
		orchestrator.WithValidator(validator),
		orchestrator.WithPublisher(b.publisher),
		orchestrator.WithMetrics(generationMetrics),
		orchestrator.WithTracer(tel.Tracer(orchestrator.TracerName)),
	}
	var signer *webhook.Signer
	if cfg.Webhook.Enabled() {
		key, err := cfg.Webhook.GetSigningKey()
		if err != nil {
			return nil, nil, err
		}
		if signer, err = webhook.NewSigner(key, cfg.Webhook.GetTokenTTL()); err != nil {
			return nil, nil, fmt.Errorf("failed to create webhook signer: %w", err)
		}
		orchOpts = append(orchOpts, orchestrator.WithWebhooks(signer, cfg.Webhook.PublicBaseURL))
		slog.Info("Provider webhooks enabled", "public_base_url", cfg.Webhook.PublicBaseURL)
	}
	orch := orchestrator.New(st, registry, b.blobStore, orchOpts...)

	materializer := reconciler.NewMaterializer(
		b.blobStore,
		httpclient.NewDefaultClient(cfg.Reconciler.GetArtifactTimeout(), cfg.Reconciler.GetMaxArtifactBytes()),
		reconciler.WithMaxBytes(cfg.Reconciler.GetMaxArtifactBytes()),
		reconciler.WithFetchTimeout(cfg.Reconciler.GetArtifactTimeout()),
	)
	rec := reconciler.New(st, registry, materializer,
		reconciler.WithPublisher(b.publisher),
		reconciler.WithMetrics(reconcilerMetrics),
	)
	sweeper := reconciler.NewSweeper(rec, reconciler.SweeperConfig{
		GracePeriod: cfg.Reconciler.GetGracePeriod(),
		Interval:    cfg.Reconciler.GetPollInterval(),
		BatchSize:   cfg.Reconciler.GetBatchSize(),
		Concurrency: cfg.Reconciler.GetConcurrency(),
		PollTimeout: cfg.Reconciler.GetPollTimeout(),
	})

	states, err := b.storageFactory.CreateStateService(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create catalog state service: %w", err)
	}
	scopes := status.Scopes()
	if err := states.Initialize(ctx, scopes); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize catalog sync state: %w", err)
	}

	models := catalog.NewModelCatalog()
	tracker := catalog.NewTracker(states,
		catalog.NewProviderRefresher(registry, models, cfg.StandardEndpoints()),
		scopes,
		catalog.WithRefreshTimeout(cfg.Catalog.GetRefreshTimeout()),
		catalog.WithCatalogMetrics(catalogMetrics),
	)

	slog.Info("Generation components initialized", "providers", len(cfg.Providers))
	return &AppComponents{
		Orchestrator: orch,
		Reconciler:   rec,
		Sweeper:      sweeper,
		Tracker:      tracker,
		Catalog:      catalog.NewService(tracker, models),
		Publisher:    b.publisher,
	}, signer, nil
}

func buildHTTPServer(
	b *imageGenAppConfig,
	components *AppComponents,
	signer *webhook.Signer,
	tel *telemetry.Telemetry,
) (*http.Server, error) {
	if b.middlewares == nil {
		b.middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(b.requestTimeout),
			api.LoggingMiddleware,
		}
	}

	httpMetrics, err := telemetry.NewHTTPMetrics(tel.MeterProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP metrics: %w", err)
	}
	// outermost so rejected and timed out requests are still measured
	middlewares := append([]func(http.Handler) http.Handler{
		telemetry.TracingMiddleware(tel.TracerProvider()),
		httpMetrics.Middleware,
	}, b.middlewares...)

	serverOpts := []api.ServerOption{api.WithMiddlewares(middlewares...)}
	if signer != nil {
		serverOpts = append(serverOpts, api.WithWebhookVerifier(signer))
	}
	if handler, path := tel.PrometheusHandler(); handler != nil {
		serverOpts = append(serverOpts, api.WithMetricsHandler(handler, path))
		slog.Info("Prometheus scrape endpoint enabled", "path", path)
	}

	router := api.NewServer(components.Orchestrator, components.Catalog, components.Reconciler, serverOpts...)

	slog.Info("HTTP server configured", "address", b.address)
	return &http.Server{
		Addr:              b.address,
		Handler:           router,
		ReadTimeout:       b.readTimeout,
		ReadHeaderTimeout: b.readTimeout,
		WriteTimeout:      b.writeTimeout,
		IdleTimeout:       b.idleTimeout,
	}, nil
}
