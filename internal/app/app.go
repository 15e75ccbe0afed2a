// Package app provides application lifecycle management for the image
// generation server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stacklok/toolhive-imagegen-server/internal/app/storage"
	"github.com/stacklok/toolhive-imagegen-server/internal/config"
	"github.com/stacklok/toolhive-imagegen-server/internal/telemetry"
)

// ImageGenApp owns every component of a running server.
type ImageGenApp struct {
	config         *config.Config
	components     *AppComponents
	httpServer     *http.Server
	telemetry      *telemetry.Telemetry
	storageFactory storage.Factory

	ctx        context.Context
	cancelFunc context.CancelFunc

	started     atomic.Bool
	sweeperDone chan struct{}
	stopOnce    sync.Once
	stopErr     error
}

// Start runs the poll sweeper in the background and serves HTTP until the
// server is shut down. It blocks.
func (app *ImageGenApp) Start() error {
	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	return app.Serve(listener)
}

// Serve is Start on an existing listener.
func (app *ImageGenApp) Serve(listener net.Listener) error {
	if !app.started.CompareAndSwap(false, true) {
		return errors.New("server already started")
	}
	go func() {
		defer close(app.sweeperDone)
		if err := app.components.Sweeper.Start(app.ctx); err != nil {
			slog.Error("Poll sweeper failed", "error", err)
		}
	}()

	slog.Info("Server listening", "address", listener.Addr().String())
	if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Stop shuts the server down in dependency order: the sweeper stops at its
// next page boundary, running catalog jobs get until the deadline to finish,
// then the HTTP server drains, telemetry is flushed and the broker and
// database clients are closed. Every step runs even if an earlier one fails.
func (app *ImageGenApp) Stop(timeout time.Duration) error {
	app.stopOnce.Do(func() {
		app.stopErr = app.stop(timeout)
	})
	return app.stopErr
}

func (app *ImageGenApp) stop(timeout time.Duration) error {
	slog.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error

	if err := app.components.Sweeper.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop poll sweeper: %w", err))
	}
	// also covers a sweeper that had not registered its cancel func yet
	app.cancelFunc()
	if app.started.Load() {
		select {
		case <-app.sweeperDone:
		case <-ctx.Done():
		}
	}

	if err := app.components.Tracker.Wait(ctx); err != nil {
		slog.Warn("Catalog sync still running at shutdown", "error", err)
	}

	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("server forced to shutdown: %w", err))
	}

	if err := app.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := app.components.Publisher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close event publisher: %w", err))
	}
	app.storageFactory.Cleanup()

	if err := errors.Join(errs...); err != nil {
		return err
	}
	slog.Info("Server shutdown complete")
	return nil
}

// GetConfig returns the application configuration
func (app *ImageGenApp) GetConfig() *config.Config {
	return app.config
}

// GetHTTPServer returns the HTTP server
func (app *ImageGenApp) GetHTTPServer() *http.Server {
	return app.httpServer
}
