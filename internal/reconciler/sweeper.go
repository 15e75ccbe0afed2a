package reconciler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stacklok/toolhive-imagegen-server/internal/generation"
	"github.com/stacklok/toolhive-imagegen-server/internal/provider"
	"github.com/stacklok/toolhive-imagegen-server/internal/store"
)

// Sweep defaults
const (
	DefaultGracePeriod  = 30 * time.Second
	DefaultPollInterval = 15 * time.Second
	DefaultBatchSize    = 50
	DefaultConcurrency  = 4
	DefaultPollTimeout  = 20 * time.Second
)

// SweeperConfig controls the poll sweep.
type SweeperConfig struct {
	// GracePeriod is how old a pending generation must be before its first poll
	GracePeriod time.Duration
	// Interval is the time between sweeps
	Interval time.Duration
	// BatchSize is the page size read from the store, at most store.MaxListLimit
	BatchSize int
	// Concurrency bounds the polls in flight
	Concurrency int
	// PollTimeout bounds a single provider poll
	PollTimeout time.Duration
}

func (c SweeperConfig) withDefaults() SweeperConfig {
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	if c.Interval <= 0 {
		c.Interval = DefaultPollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	// a larger page would be clamped by the store and end paging early
	c.BatchSize = min(c.BatchSize, store.MaxListLimit)
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = DefaultPollTimeout
	}
	return c
}

// Sweeper periodically polls pending generations whose provider supports it.
type Sweeper struct {
	reconciler *Reconciler
	config     SweeperConfig

	mu         sync.Mutex
	cancelFunc context.CancelFunc
	done       chan struct{}
}

// NewSweeper creates a Sweeper applying results through r.
func NewSweeper(r *Reconciler, cfg SweeperConfig) *Sweeper {
	return &Sweeper{
		reconciler: r,
		config:     cfg.withDefaults(),
		done:       make(chan struct{}),
	}
}

// Start runs sweeps until ctx is cancelled or Stop is called. It blocks.
// A sweep in progress when stopping finishes its current page first.
func (s *Sweeper) Start(ctx context.Context) error {
	slog.Info("Starting poll sweeper",
		"interval", s.config.Interval,
		"grace_period", s.config.GracePeriod,
		"concurrency", s.config.Concurrency)

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancelFunc = cancel
	s.mu.Unlock()
	defer func() {
		cancel()
		close(s.done)
		slog.Info("Poll sweeper shut down")
	}()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.runSweep(runCtx)
	for {
		select {
		case <-ticker.C:
			s.runSweep(runCtx)
		case <-runCtx.Done():
			return nil
		}
	}
}

// Stop ends the sweep loop and waits for it to return.
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	cancel := s.cancelFunc
	s.mu.Unlock()
	if cancel != nil {
		slog.Info("Stopping poll sweeper")
		cancel()
		<-s.done
	}
	return nil
}

func (s *Sweeper) runSweep(runCtx context.Context) {
	// provider calls finish even when shutdown begins mid page
	polled := s.sweep(context.WithoutCancel(runCtx), runCtx.Done())
	if polled > 0 {
		slog.Debug("Poll sweep finished", "polled", polled)
	}
}

// Sweep performs one full pass over eligible pending generations and
// returns how many were polled.
func (s *Sweeper) Sweep(ctx context.Context) int {
	return s.sweep(ctx, ctx.Done())
}

func (s *Sweeper) sweep(ctx context.Context, stop <-chan struct{}) int {
	start := time.Now()
	horizon := s.reconciler.now().Add(-s.config.GracePeriod)

	var (
		polled atomic.Int64
		after  *store.Position
	)
	for {
		select {
		case <-stop:
			return int(polled.Load())
		default:
		}

		page, err := s.reconciler.store.ListPending(ctx, store.PendingQuery{
			CreatedBefore: horizon,
			After:         after,
			Limit:         s.config.BatchSize,
		})
		if err != nil {
			slog.ErrorContext(ctx, "Failed to list pending generations", "error", err)
			break
		}

		var eg errgroup.Group
		eg.SetLimit(s.config.Concurrency)
		for _, g := range page {
			eg.Go(func() error {
				if s.pollOne(ctx, g) {
					polled.Add(1)
				}
				return nil
			})
		}
		_ = eg.Wait()

		if len(page) < s.config.BatchSize {
			break
		}
		last := store.PositionOf(page[len(page)-1])
		after = &last
	}

	count := int(polled.Load())
	s.reconciler.metrics.RecordSweep(ctx, time.Since(start), count)
	return count
}

// pollOne polls a single generation and applies the result. It reports
// whether a poll was attempted.
func (s *Sweeper) pollOne(ctx context.Context, g *generation.Generation) bool {
	adapter, ok := s.reconciler.registry.Get(g.Provider)
	if !ok {
		slog.WarnContext(ctx, "Pending generation references unconfigured provider",
			"generation_id", g.ID,
			"provider", g.Provider)
		return false
	}
	poller, ok := adapter.(provider.Poller)
	if !ok {
		return false
	}

	pollCtx, cancel := context.WithTimeout(ctx, s.config.PollTimeout)
	outcome, err := poller.Poll(pollCtx, provider.RequestRef{Endpoint: g.Endpoint, RequestID: g.ProviderRequestID})
	cancel()
	if err != nil {
		slog.WarnContext(ctx, "Failed to poll provider",
			"generation_id", g.ID,
			"provider", g.Provider,
			"provider_request_id", g.ProviderRequestID,
			"error", err)
		return true
	}

	if _, err := s.reconciler.Apply(ctx, SourcePoll, g, outcome); err != nil {
		slog.WarnContext(ctx, "Failed to apply poll result",
			"generation_id", g.ID,
			"error", err)
	}
	return true
}
