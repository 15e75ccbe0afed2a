// Package api provides the REST API server of the image generation service.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	v1 "github.com/stacklok/toolhive-imagegen-server/internal/api/v1"
	"github.com/stacklok/toolhive-imagegen-server/internal/api/webhooks"
	"github.com/stacklok/toolhive-imagegen-server/internal/catalog"
	"github.com/stacklok/toolhive-imagegen-server/internal/orchestrator"
)

// ServerOption configures the API server
type ServerOption func(*serverConfig)

type serverConfig struct {
	middlewares    []func(http.Handler) http.Handler
	verifier       webhooks.Verifier
	metricsHandler http.Handler
	metricsPath    string
}

// WithMiddlewares adds middleware to the server
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithWebhookVerifier requires a valid callback token on every webhook.
func WithWebhookVerifier(v webhooks.Verifier) ServerOption {
	return func(cfg *serverConfig) {
		cfg.verifier = v
	}
}

// WithMetricsHandler serves a scrape handler at path.
func WithMetricsHandler(handler http.Handler, path string) ServerOption {
	return func(cfg *serverConfig) {
		cfg.metricsHandler = handler
		cfg.metricsPath = path
	}
}

// NewServer creates the HTTP router over the generation and catalog services
// and the webhook handler.
func NewServer(
	generations orchestrator.Service,
	catalogSvc catalog.Service,
	webhookHandler webhooks.Handler,
	opts ...ServerOption,
) *chi.Mux {
	cfg := &serverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	r.Mount("/", SystemRouter(generations))
	if cfg.metricsHandler != nil {
		r.Method(http.MethodGet, cfg.metricsPath, cfg.metricsHandler)
	}

	r.Mount("/v1/generations", v1.Router(generations))
	r.Mount("/v1/catalog", v1.CatalogRouter(catalogSvc))
	r.Mount("/webhooks", webhooks.Router(webhookHandler, cfg.verifier))

	return r
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		slog.DebugContext(r.Context(), "HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
