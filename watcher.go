package camerashm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"

	"github.com/e7canasta/orion-care-sensor/camera-shm/internal/backoff"
	"github.com/e7canasta/orion-care-sensor/camera-shm/registry"
)

// WatcherConfig configures a cancellation watcher.
type WatcherConfig struct {
	// Registry answers status queries (required)
	Registry registry.Registry
	// TaskID is the task to watch (required)
	TaskID string
	// PollInterval between status queries once the task is registered (default 1s)
	PollInterval time.Duration
	// RegisterInterval between queries while no status exists yet (default 100ms)
	RegisterInterval time.Duration
	// QueryTimeout bounds each registry query (default 2s)
	QueryTimeout time.Duration
	// Clock drives the polling sleeps (default clock.WallClock)
	Clock clock.Clock
}

func (c *WatcherConfig) applyDefaults() {
	if c.PollInterval == 0 {
		c.PollInterval = time.Second
	}
	if c.RegisterInterval == 0 {
		c.RegisterInterval = 100 * time.Millisecond
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = 2 * time.Second
	}
	if c.Clock == nil {
		c.Clock = clock.WallClock
	}
}

// Validate checks the configuration.
func (c WatcherConfig) Validate() error {
	if c.Registry == nil {
		return fmt.Errorf("camerashm: watcher registry is required")
	}
	if err := registry.ValidateTaskID(c.TaskID); err != nil {
		return err
	}
	if c.PollInterval < 0 || c.RegisterInterval < 0 || c.QueryTimeout < 0 {
		return fmt.Errorf("camerashm: watcher intervals must be positive")
	}
	return nil
}

// Watcher polls the task registry and sets the stop signal when the task is
// revoked.
//
// Lifecycle:
//
//  1. Registration gate: query every RegisterInterval until the registry
//     reports any status for the task. Ready is closed when the gate opens.
//  2. Poll phase: query every PollInterval until the status is REVOKED
//     (stop is set with ErrTaskRevoked) or stop is set by someone else.
//
// Query errors and timeouts count as "no status" and are retried on the next
// tick. The watcher never blocks its session: it runs on its own goroutine
// and only communicates through the StopSignal.
type Watcher struct {
	cfg  WatcherConfig
	stop *StopSignal

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}

	registrationPolls atomic.Int64
	polls             atomic.Int64
	queryErrors       atomic.Int64
	revoked           atomic.Bool

	mu         sync.Mutex
	lastStatus registry.Status
}

// StartWatcher starts watching cfg.TaskID and returns immediately.
//
// The watcher exits when the task is revoked, stop is set, or ctx is done.
// Invalid configuration is logged and the watcher exits without opening the
// gate; callers validate with WatcherConfig.Validate first.
func StartWatcher(ctx context.Context, cfg WatcherConfig, stop *StopSignal) *Watcher {
	cfg.applyDefaults()

	w := &Watcher{
		cfg:   cfg,
		stop:  stop,
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("watcher: invalid configuration", "error", err)
		close(w.done)
		return w
	}

	go w.run(ctx)
	return w
}

func (w *Watcher) run(parent context.Context) {
	defer close(w.done)

	// ctx ends with either the caller's context or the stop signal
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	unregister := context.AfterFunc(w.stop.Context(), cancel)
	defer unregister()

	slog.Debug("watcher: waiting for task registration",
		"task_id", w.cfg.TaskID,
		"register_interval", w.cfg.RegisterInterval,
	)

	// Phase 1: registration gate
	var status registry.Status
	for {
		if w.finished(ctx) {
			return
		}

		n := w.registrationPolls.Add(1)
		st, ok := w.query(ctx)
		if ok {
			status = st
			w.readyOnce.Do(func() { close(w.ready) })
			slog.Info("watcher: task registered",
				"task_id", w.cfg.TaskID,
				"status", st,
				"registration_polls", n,
			)
			break
		}

		if !w.sleep(ctx, w.cfg.RegisterInterval) {
			return
		}
	}

	// Phase 2: poll until revoked
	for {
		if status == registry.StatusRevoked {
			w.revoke()
			return
		}
		if !w.sleep(ctx, w.cfg.PollInterval) {
			return
		}

		w.polls.Add(1)
		if st, ok := w.query(ctx); ok {
			status = st
		}
	}
}

// query asks the registry once. Errors are absorbed.
func (w *Watcher) query(ctx context.Context) (registry.Status, bool) {
	qctx, cancel := context.WithTimeout(ctx, w.cfg.QueryTimeout)
	defer cancel()

	st, ok, err := w.cfg.Registry.Status(qctx, w.cfg.TaskID)
	if err != nil {
		if ctx.Err() != nil {
			// shutting down
			return "", false
		}
		w.queryErrors.Add(1)
		slog.Warn("watcher: registry query failed, treating as no status",
			"task_id", w.cfg.TaskID,
			"error", err,
		)
		return "", false
	}
	if !ok {
		return "", false
	}

	w.mu.Lock()
	w.lastStatus = st
	w.mu.Unlock()
	return st, true
}

func (w *Watcher) revoke() {
	w.revoked.Store(true)
	if w.stop.Stop(ErrTaskRevoked) {
		slog.Info("watcher: task revoked, stop requested",
			"task_id", w.cfg.TaskID,
			"polls", w.polls.Load(),
		)
		return
	}
	slog.Debug("watcher: task revoked after stop was already set", "task_id", w.cfg.TaskID)
}

// sleep waits d on the clock. Returns false if the watcher should exit.
func (w *Watcher) sleep(ctx context.Context, d time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	return backoff.Sleep(w.cfg.Clock, d, ctx.Done())
}

func (w *Watcher) finished(ctx context.Context) bool {
	return ctx.Err() != nil || w.stop.Stopped()
}

// Ready is closed once the registry reported a status for the task.
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// Done is closed when the watcher goroutine has exited.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

// Wait blocks until the watcher goroutine has exited.
func (w *Watcher) Wait() {
	<-w.done
}

// RegistrationPolls returns how many queries the registration gate made.
func (w *Watcher) RegistrationPolls() int {
	return int(w.registrationPolls.Load())
}

// Polls returns how many poll-phase queries were made.
func (w *Watcher) Polls() int {
	return int(w.polls.Load())
}

// QueryErrors returns how many registry queries failed.
func (w *Watcher) QueryErrors() int {
	return int(w.queryErrors.Load())
}

// Revoked reports whether the watcher observed REVOKED.
func (w *Watcher) Revoked() bool {
	return w.revoked.Load()
}

// LastStatus returns the latest status observed ("" if none).
func (w *Watcher) LastStatus() registry.Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastStatus
}
