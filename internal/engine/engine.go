// Package engine drives put.io transfers from discovery to cleanup: it polls
// the account, plans and fetches files through bounded worker pools, waits
// for Arr-side import, and reaps both sides once seeding stops.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/putreap/putreap/internal/metrics"
	"github.com/putreap/putreap/internal/putio"
	"github.com/putreap/putreap/internal/transfer"
)

// Channel capacities. Full channels block their producer, which is the
// backpressure that keeps discovery from outrunning downloading.
const (
	eventBuffer = 100
	taskBuffer  = 100
)

const defaultShutdownTimeout = 10 * time.Second

// CloudClient is the slice of the put.io API the engine consumes.
type CloudClient interface {
	ListTransfers(ctx context.Context, opts putio.ListTransfersOptions) ([]putio.Transfer, error)
	GetTransfer(ctx context.Context, id uint64) (*putio.Transfer, error)
	RemoveTransfer(ctx context.Context, id uint64) error
	DeleteFile(ctx context.Context, fileID int64) error
	ListFiles(ctx context.Context, parentID int64) (*putio.FileListing, error)
	GetFileURL(ctx context.Context, fileID int64) (string, error)
}

// HistoryClient answers whether an Arr instance has imported a local path.
type HistoryClient interface {
	Name() string
	HasImported(ctx context.Context, path string) (bool, error)
}

// TargetFetcher materializes one download target on disk.
type TargetFetcher interface {
	Fetch(ctx context.Context, target *transfer.DownloadTarget) error
}

// Config holds the engine's runtime parameters.
type Config struct {
	DownloadDirectory    string
	PollingInterval      time.Duration
	OrchestrationWorkers int
	DownloadWorkers      int
	SkipDirectories      []string
	InstanceName         string
	InstanceFolderID     int64
}

// Engine is the download orchestration core.
type Engine struct {
	cfg     Config
	cloud   CloudClient
	arrs    []HistoryClient
	fetcher TargetFetcher
	metrics *metrics.Metrics
	logger  zerolog.Logger

	events chan transfer.Event
	tasks  chan transfer.Task

	seen    *SeenSet
	tracker *Tracker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	shutdownTimeout time.Duration
}

// Option is a functional option for configuring the engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// New creates an engine.
func New(cfg Config, cloud CloudClient, arrs []HistoryClient, fetcher TargetFetcher, opts ...Option) *Engine {
	e := &Engine{
		cfg:             cfg,
		cloud:           cloud,
		arrs:            arrs,
		fetcher:         fetcher,
		logger:          zerolog.Nop(),
		events:          make(chan transfer.Event, eventBuffer),
		tasks:           make(chan transfer.Task, taskBuffer),
		seen:            NewSeenSet(),
		shutdownTimeout: defaultShutdownTimeout,
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.metrics == nil {
		// Unregistered collectors; real wiring passes shared ones.
		e.metrics = metrics.New(prometheus.NewRegistry())
	}
	e.tracker = NewTracker(e.logger)

	return e
}

// Start launches the worker pools, runs the startup reconciliation, and
// begins polling. It does not block.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)

	for range e.cfg.OrchestrationWorkers {
		e.wg.Go(func() { e.orchestrationWorker(e.ctx) })
	}
	for range e.cfg.DownloadWorkers {
		e.wg.Go(func() { e.fetchWorker(e.ctx) })
	}

	// The poller must not claim transfers the reconciler would classify as
	// already imported, so it starts only after reconciliation finishes.
	e.wg.Go(func() {
		e.reconcile(e.ctx)
		e.pollLoop(e.ctx)
	})

	e.logger.Info().
		Int("orchestration_workers", e.cfg.OrchestrationWorkers).
		Int("download_workers", e.cfg.DownloadWorkers).
		Dur("polling_interval", e.cfg.PollingInterval).
		Msg("engine started")

	return nil
}

// Stop cancels every task and waits for workers and watchers, bounded by the
// shutdown timeout.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		e.tracker.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Debug().Msg("all workers completed cleanly")
	case <-time.After(e.shutdownTimeout):
		e.logger.Warn().Msg("timeout waiting for workers, some tasks may still be running")
	}

	e.logger.Info().Msg("engine stopped")
}

// emit sends an event, honouring cancellation. It reports false when the
// engine is shutting down.
func (e *Engine) emit(ctx context.Context, ev transfer.Event) bool {
	select {
	case <-ctx.Done():
		return false
	case e.events <- ev:
		return true
	}
}

// orchestrationWorker consumes transfer events and advances the state
// machine. Errors never terminate the worker.
func (e *Engine) orchestrationWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.events:
			e.handleEvent(ctx, ev)
		}
	}
}

func (e *Engine) handleEvent(ctx context.Context, ev transfer.Event) {
	switch ev.Type {
	case transfer.QueuedForDownload:
		e.handleQueuedForDownload(ctx, ev.Transfer)

	case transfer.Downloaded:
		t := ev.Transfer
		e.tracker.Go(ctx, fmt.Sprintf("import-watch %s", t), func(ctx context.Context) error {
			return e.watchImport(ctx, t)
		})

	case transfer.Imported:
		t := ev.Transfer
		e.tracker.Go(ctx, fmt.Sprintf("seed-watch %s", t), func(ctx context.Context) error {
			return e.watchSeeding(ctx, t)
		})

	default:
		e.logger.Error().Str("type", string(ev.Type)).Msg("unknown transfer event")
	}
}

// handleQueuedForDownload plans the transfer and pushes every target through
// the fetch pool, then waits for all outcomes.
func (e *Engine) handleQueuedForDownload(ctx context.Context, t *transfer.Transfer) {
	e.logger.Info().Stringer("transfer", t).Msg("download started")

	plan, err := e.planTargets(ctx, t)
	if err != nil {
		e.logger.Error().Err(err).Stringer("transfer", t).Msg("failed to plan targets")
		return
	}
	if len(plan) == 0 {
		e.logger.Info().Stringer("transfer", t).Msg("nothing to download")
		return
	}

	submitted := make([]transfer.Task, 0, len(plan))
	for _, target := range plan {
		task := transfer.NewTask(target)
		select {
		case <-ctx.Done():
			return
		case e.tasks <- task:
		}
		submitted = append(submitted, task)
	}

	allSuccess := true
	for _, task := range submitted {
		select {
		case <-ctx.Done():
			return
		case status := <-task.Done:
			if status != transfer.StatusSuccess {
				allSuccess = false
			}
		}
	}

	if !allSuccess {
		e.logger.Warn().Stringer("transfer", t).Msg("not all targets downloaded")
		e.metrics.DownloadsFailed.Inc()
		return
	}

	t.SetTargets(plan)
	e.metrics.DownloadsCompleted.Inc()
	e.logger.Info().Stringer("transfer", t).Int("targets", len(plan)).Msg("download done")

	e.emit(ctx, transfer.Event{Type: transfer.Downloaded, Transfer: t})
}

// fetchWorker consumes download tasks and resolves their outcome.
func (e *Engine) fetchWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-e.tasks:
			status := transfer.StatusSuccess
			if err := e.fetcher.Fetch(ctx, &task.Target); err != nil {
				if ctx.Err() != nil {
					e.logger.Debug().Err(err).Stringer("target", &task.Target).Msg("fetch cancelled")
				} else {
					e.logger.Error().Err(err).Stringer("target", &task.Target).Msg("fetch failed")
				}
				status = transfer.StatusFailed
			}
			// Done is buffered; this never blocks.
			task.Done <- status
		}
	}
}
