package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// handle tracks one spawned watcher until its completion is observed.
type handle struct {
	name string
	done chan struct{}
	err  error
}

// Tracker keeps spawned watcher goroutines observable: completed entries are
// swept (and their terminal errors logged) before every insert, which bounds
// memory to the number of live watchers, and Wait drains everything on
// shutdown.
type Tracker struct {
	mu      sync.Mutex
	handles []*handle
	wg      sync.WaitGroup
	logger  zerolog.Logger
}

// NewTracker creates a tracker.
func NewTracker(logger zerolog.Logger) *Tracker {
	return &Tracker{logger: logger}
}

// Go sweeps completed entries, then runs fn in a new goroutine under the
// given name.
func (tr *Tracker) Go(ctx context.Context, name string, fn func(context.Context) error) {
	h := &handle{
		name: name,
		done: make(chan struct{}),
	}

	tr.mu.Lock()
	tr.sweepLocked()
	tr.handles = append(tr.handles, h)
	tr.mu.Unlock()

	tr.wg.Add(1)
	go func() {
		defer tr.wg.Done()
		h.err = fn(ctx)
		close(h.done)
	}()
}

// sweepLocked removes completed handles and logs their terminal errors.
// Callers hold tr.mu.
func (tr *Tracker) sweepLocked() {
	alive := tr.handles[:0]
	for _, h := range tr.handles {
		select {
		case <-h.done:
			tr.observe(h)
		default:
			alive = append(alive, h)
		}
	}
	// Drop references so completed handles can be collected.
	for i := len(alive); i < len(tr.handles); i++ {
		tr.handles[i] = nil
	}
	tr.handles = alive
}

// observe logs a completed watcher's terminal error, if any. Cancellation is
// expected during shutdown and logs at debug.
func (tr *Tracker) observe(h *handle) {
	if h.err == nil {
		return
	}
	if errors.Is(h.err, context.Canceled) {
		tr.logger.Debug().Str("watcher", h.name).Msg("watcher cancelled")
		return
	}
	tr.logger.Error().Err(h.err).Str("watcher", h.name).Msg("watcher failed")
}

// Wait blocks until every tracked goroutine finished, then observes the
// remaining completions.
func (tr *Tracker) Wait() {
	tr.wg.Wait()

	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.sweepLocked()
}

// Len returns the number of not-yet-swept handles.
func (tr *Tracker) Len() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return len(tr.handles)
}
