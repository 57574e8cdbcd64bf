package camerashm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-care-sensor/camera-shm/capture"
	"github.com/e7canasta/orion-care-sensor/camera-shm/framering"
	"github.com/e7canasta/orion-care-sensor/camera-shm/internal/backoff"
)

// Session is one run of the producer or consumer loop.
//
// State machine:
//
//	Idle → Running → Stopping → Stopped
//
// Idle→Running once the device (producer) or sink (consumer) and the
// transport handle are open. Running→Stopping when the loop observes the
// stop signal or hits a fatal error. Stopping→Stopped after every resource
// was released, on every exit path.
//
// Thread-safety: State, Snapshot, Stop and Wait are safe for concurrent use.
type Session struct {
	id     string
	cfg    Config
	params StreamParameters
	args   CaptureArguments
	task   TaskHandle

	stop    *StopSignal
	watcher *Watcher
	log     *slog.Logger

	state atomic.Int32
	done  chan struct{}
	err   error

	// Statistics (atomic for thread-safety)
	framesWritten   atomic.Uint64
	framesRead      atomic.Uint64
	captureFailures atomic.Uint64
	readMisses      atomic.Uint64
	framesDropped   atomic.Uint64

	startedAt time.Time
	stoppedAt time.Time
}

func newSession(cfg Config, params StreamParameters, args CaptureArguments, task TaskHandle, stop *StopSignal) *Session {
	id := uuid.NewString()
	return &Session{
		id:     id,
		cfg:    cfg,
		params: params,
		args:   args,
		task:   task,
		stop:   stop,
		done:   make(chan struct{}),
		log: slog.With(
			"session_id", id,
			"stream_key", params.StreamKey,
			"role", params.Role.String(),
			"task_id", task.TaskID,
		),
	}
}

func (s *Session) start() {
	s.startedAt = s.cfg.Clock.Now()

	s.watcher = StartWatcher(s.stop.Context(), WatcherConfig{
		Registry:         s.cfg.Registry,
		TaskID:           s.task.TaskID,
		PollInterval:     s.cfg.PollInterval,
		RegisterInterval: s.cfg.RegisterInterval,
		QueryTimeout:     s.cfg.QueryTimeout,
		Clock:            s.cfg.Clock,
	}, s.stop)

	s.log.Info("session: starting",
		"shape", s.params.Shape.String(),
		"device_index", s.args.DeviceIndex,
	)

	go s.run()
}

func (s *Session) run() {
	defer close(s.done)

	var err error
	switch s.params.Role {
	case RoleProducer:
		err = s.runProducer()
	case RoleConsumer:
		err = s.runConsumer()
	}

	// The watcher exits once stop is set; every path above sets it.
	s.watcher.Wait()

	s.err = err
	s.stoppedAt = s.cfg.Clock.Now()
	s.setState(StateStopped)

	if err != nil {
		s.log.Error("session: stopped on fatal error", "error", err)
		return
	}
	s.log.Info("session: stopped",
		"reason", reasonString(s.stop.Reason()),
		"frames_written", s.framesWritten.Load(),
		"frames_read", s.framesRead.Load(),
		"capture_failures", s.captureFailures.Load(),
		"read_misses", s.readMisses.Load(),
		"uptime", s.stoppedAt.Sub(s.startedAt),
	)
}

// runProducer captures, converts and writes frames until stopped.
func (s *Session) runProducer() error {
	dev, err := s.cfg.Camera.Open(s.stop.Context(), s.args.DeviceIndex)
	if err != nil {
		return s.fatal(fmt.Errorf("camerashm: open device %d: %w", s.args.DeviceIndex, err))
	}
	defer s.release("device", dev.Release)
	defer s.logDeviceStats(dev)

	w, err := s.cfg.Transport.Writer(s.params.StreamKey, s.params.Shape)
	if err != nil {
		return s.fatal(fmt.Errorf("%w: writer %q: %v", ErrTransportUnavailable, s.params.StreamKey, err))
	}
	defer s.release("writer", w.Close)
	defer s.setState(StateStopping)

	s.setState(StateRunning)
	if !s.waitForRegistration() {
		return nil
	}

	failures := backoff.New(s.cfg.IdleBackoff)
	for {
		if s.stop.Stopped() {
			return nil
		}

		frame, err := s.captureFrame(dev)
		if err != nil {
			s.captureFailures.Add(1)
			s.log.Warn("session: capture failed, skipping frame",
				"error", err,
				"consecutive_failures", failures.Attempts()+1,
			)
			if !backoff.Sleep(s.cfg.Clock, failures.Next(), s.stop.Done()) {
				return nil
			}
			continue
		}
		failures.Reset()

		if err := w.Write(frame); err != nil {
			return s.fatal(fmt.Errorf("%w: write %q: %v", ErrTransportUnavailable, s.params.StreamKey, err))
		}
		s.framesWritten.Add(1)
	}
}

// captureFrame reads one raw frame (bounded by ReadTimeout) and converts it.
func (s *Session) captureFrame(dev capture.Device) (framering.Frame, error) {
	ctx, cancel := context.WithTimeout(s.stop.Context(), s.cfg.ReadTimeout)
	defer cancel()

	raw, err := dev.Read(ctx)
	if err != nil {
		return framering.Frame{}, err
	}
	return capture.ConvertAndResize(raw, s.params.Shape)
}

// runConsumer reads frames and hands them to the sink until stopped or the
// sink asks to quit.
func (s *Session) runConsumer() error {
	r, err := s.cfg.Transport.Reader(s.params.StreamKey, s.params.Shape)
	if err != nil {
		return s.fatal(fmt.Errorf("%w: reader %q: %v", ErrTransportUnavailable, s.params.StreamKey, err))
	}
	defer s.release("reader", r.Close)

	sink, err := s.cfg.Display.Open(s.params.StreamKey, s.params.Shape)
	if err != nil {
		return s.fatal(fmt.Errorf("%w: %v", ErrSinkUnavailable, err))
	}
	defer s.release("sink", sink.Close)
	defer s.setState(StateStopping)

	s.setState(StateRunning)
	if !s.waitForRegistration() {
		return nil
	}

	idle := backoff.New(s.cfg.IdleBackoff)
	writerClosed := false
	for {
		if s.stop.Stopped() {
			return nil
		}

		frame, meta, err := r.Read()
		if errors.Is(err, framering.ErrShapeMismatch) {
			return s.fatal(fmt.Errorf("%w: %v", ErrTransportUnavailable, err))
		}
		if err != nil || frame == nil {
			s.readMisses.Add(1)
			switch {
			case err != nil:
				s.log.Warn("session: transport read failed", "error", err)
			case meta.WriterClosed && !writerClosed:
				s.log.Info("session: writer closed, waiting for a new writer")
			default:
				s.log.Debug("session: no new frame", "error", ErrReadMiss)
			}
			writerClosed = meta.WriterClosed

			if !backoff.Sleep(s.cfg.Clock, idle.Next(), s.stop.Done()) {
				return nil
			}
			continue
		}
		idle.Reset()
		writerClosed = false

		s.framesRead.Add(1)
		if meta.Dropped > 0 {
			s.framesDropped.Add(meta.Dropped)
			s.log.Debug("session: frames dropped by transport", "dropped", meta.Dropped, "seq", meta.Seq)
		}

		quit, err := sink.Show(*frame)
		if err != nil {
			s.log.Warn("session: sink rejected frame", "error", err, "seq", meta.Seq)
		}
		if quit {
			s.stop.Stop(ErrLocalQuit)
			s.log.Info("session: sink requested quit")
			return nil
		}
	}
}

// waitForRegistration blocks until the watcher saw a task status. Returns
// false if stop was set first.
func (s *Session) waitForRegistration() bool {
	select {
	case <-s.watcher.Ready():
		return !s.stop.Stopped()
	default:
	}

	s.log.Info("session: waiting for task registration")
	select {
	case <-s.watcher.Ready():
		return !s.stop.Stopped()
	case <-s.stop.Done():
		return false
	}
}

// fatal sets stop with err as reason and returns err.
func (s *Session) fatal(err error) error {
	s.setState(StateStopping)
	s.stop.Stop(err)
	return err
}

// release runs a close function once, logging failures.
func (s *Session) release(what string, closeFn func() error) {
	if err := closeFn(); err != nil {
		s.log.Warn("session: release failed", "resource", what, "error", err)
		return
	}
	s.log.Debug("session: released", "resource", what)
}

func (s *Session) logDeviceStats(dev capture.Device) {
	reporter, ok := dev.(capture.StatsReporter)
	if !ok {
		return
	}
	stats := reporter.Stats()
	s.log.Info("session: device statistics",
		"frames_captured", stats.FrameCount,
		"frames_dropped", stats.FramesDropped,
		"bytes_read", stats.BytesRead,
		"errors", stats.Errors,
	)
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// State returns the current state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Snapshot returns the running and stop-requested flags.
func (s *Session) Snapshot() SessionState {
	return SessionState{
		Running:       s.State() == StateRunning,
		StopRequested: s.stop.Stopped(),
	}
}

// Stop requests a cooperative stop. Returns true if this call set the signal.
func (s *Session) Stop(reason error) bool {
	return s.stop.Stop(reason)
}

// Stats is a live view of the session counters.
type Stats struct {
	State           State
	FramesWritten   uint64
	FramesRead      uint64
	CaptureFailures uint64
	ReadMisses      uint64
	FramesDropped   uint64
	Uptime          time.Duration
}

// Stats returns the current counters. Safe to call while the session runs.
func (s *Session) Stats() Stats {
	return Stats{
		State:           s.State(),
		FramesWritten:   s.framesWritten.Load(),
		FramesRead:      s.framesRead.Load(),
		CaptureFailures: s.captureFailures.Load(),
		ReadMisses:      s.readMisses.Load(),
		FramesDropped:   s.framesDropped.Load(),
		Uptime:          s.cfg.Clock.Now().Sub(s.startedAt),
	}
}

// Watcher returns the session's cancellation watcher.
func (s *Session) Watcher() *Watcher {
	return s.watcher
}

// Done is closed once the session reached Stopped.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session stopped and returns its terminal model.
func (s *Session) Wait() (TerminalModel, error) {
	<-s.done
	return s.model(), s.err
}

func (s *Session) model() TerminalModel {
	m := TerminalModel{
		SessionID:         s.id,
		Params:            s.params,
		Args:              s.args,
		Task:              s.task,
		State:             s.State(),
		StopReason:        reasonString(s.stop.Reason()),
		FramesWritten:     s.framesWritten.Load(),
		FramesRead:        s.framesRead.Load(),
		CaptureFailures:   s.captureFailures.Load(),
		ReadMisses:        s.readMisses.Load(),
		FramesDropped:     s.framesDropped.Load(),
		RegistrationPolls: s.watcher.RegistrationPolls(),
		StartedAt:         s.startedAt,
		StoppedAt:         s.stoppedAt,
		Duration:          s.stoppedAt.Sub(s.startedAt),
	}
	if s.err != nil {
		m.Error = s.err.Error()
	}

	frames := m.FramesWritten
	if s.params.Role == RoleConsumer {
		frames = m.FramesRead
	}
	if secs := m.Duration.Seconds(); secs > 0 {
		m.FPS = float64(frames) / secs
	}
	return m
}

func reasonString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
