package camerashm

import (
	"context"
	"sync"
)

// StopSignal is the cooperative stop flag shared by a session loop and its
// watcher.
//
// It goes from "running" to "stopped" exactly once. The first Stop call (or
// cancellation of the parent context) wins and records the reason; later
// calls are no-ops. Done is closed when stopped, so blocking waits can select
// on it.
//
// Thread-safety: all methods safe for concurrent use.
type StopSignal struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	once   sync.Once
}

// NewStopSignal creates a signal that also stops when parent is done.
func NewStopSignal(parent context.Context) *StopSignal {
	ctx, cancel := context.WithCancelCause(parent)
	return &StopSignal{ctx: ctx, cancel: cancel}
}

// Stop sets the signal with reason (ErrStopRequested if nil).
//
// Returns true if this call performed the transition.
func (s *StopSignal) Stop(reason error) bool {
	if reason == nil {
		reason = ErrStopRequested
	}

	won := false
	s.once.Do(func() {
		if s.ctx.Err() != nil {
			// parent already cancelled
			return
		}
		s.cancel(reason)
		won = true
	})
	return won
}

// Stopped reports whether the signal is set. Never blocks.
func (s *StopSignal) Stopped() bool {
	return s.ctx.Err() != nil
}

// Done returns a channel closed once the signal is set.
func (s *StopSignal) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Reason returns why the signal was set, or nil while running.
func (s *StopSignal) Reason() error {
	if !s.Stopped() {
		return nil
	}
	return context.Cause(s.ctx)
}

// Context returns a context cancelled together with the signal. Blocking
// calls made on behalf of the session use it so they return promptly on stop.
func (s *StopSignal) Context() context.Context {
	return s.ctx
}
