package camerashm

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/clock"

	"github.com/e7canasta/orion-care-sensor/camera-shm/capture"
	"github.com/e7canasta/orion-care-sensor/camera-shm/display"
	"github.com/e7canasta/orion-care-sensor/camera-shm/framering"
	"github.com/e7canasta/orion-care-sensor/camera-shm/internal/backoff"
	"github.com/e7canasta/orion-care-sensor/camera-shm/registry"
)

// Config wires a Service to its collaborators.
type Config struct {
	// Transport carries frames between producer and consumers (required)
	Transport framering.Transport
	// Registry reports task status to the watcher (required)
	Registry registry.Registry
	// Camera opens capture devices (required for producers)
	Camera capture.Opener
	// Display opens consumption sinks (required for consumers)
	Display display.Opener

	// PollInterval, RegisterInterval and QueryTimeout configure the watcher
	// (see WatcherConfig for defaults)
	PollInterval     time.Duration
	RegisterInterval time.Duration
	QueryTimeout     time.Duration

	// ReadTimeout bounds each camera read (default 2s)
	ReadTimeout time.Duration
	// IdleBackoff paces consumer retries on "no frame" and producer retries
	// after capture failures (default 10ms doubling to 500ms)
	IdleBackoff backoff.Config

	// Clock drives polling and backoff (default clock.WallClock)
	Clock clock.Clock
}

// Service runs stream sessions.
type Service struct {
	cfg Config
}

// NewService creates a Service with fail-fast validation.
func NewService(cfg Config) (*Service, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("camerashm: transport is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("camerashm: registry is required")
	}
	if cfg.PollInterval < 0 || cfg.RegisterInterval < 0 || cfg.QueryTimeout < 0 {
		return nil, fmt.Errorf("camerashm: watcher intervals must be positive")
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 2 * time.Second
	}
	if cfg.ReadTimeout < 0 {
		return nil, fmt.Errorf("camerashm: read timeout must be positive, got %v", cfg.ReadTimeout)
	}
	if cfg.IdleBackoff == (backoff.Config{}) {
		cfg.IdleBackoff = backoff.DefaultConfig()
	}
	if err := cfg.IdleBackoff.Validate(); err != nil {
		return nil, fmt.Errorf("camerashm: idle backoff: %w", err)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}

	return &Service{cfg: cfg}, nil
}

// Run starts a session and blocks until it stops.
//
// It returns the terminal model and a nil error when the session stopped
// cooperatively (task revoked, local quit, ctx cancelled). Fatal failures
// (ErrDeviceUnavailable, ErrTransportUnavailable, ErrSinkUnavailable) are
// returned wrapped, together with the model.
func (s *Service) Run(ctx context.Context, params StreamParameters, args CaptureArguments, task TaskHandle) (TerminalModel, error) {
	sess, err := s.Start(ctx, params, args, task)
	if err != nil {
		return TerminalModel{Params: params, Args: args, Task: task, State: StateStopped, Error: err.Error()}, err
	}
	return sess.Wait()
}

// Start validates the request, starts the watcher and the session loop, and
// returns without waiting.
func (s *Service) Start(ctx context.Context, params StreamParameters, args CaptureArguments, task TaskHandle) (*Session, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := task.Validate(); err != nil {
		return nil, err
	}
	switch params.Role {
	case RoleProducer:
		if err := args.Validate(); err != nil {
			return nil, err
		}
		if s.cfg.Camera == nil {
			return nil, fmt.Errorf("camerashm: producer requires a camera opener")
		}
	case RoleConsumer:
		if s.cfg.Display == nil {
			return nil, fmt.Errorf("camerashm: consumer requires a display opener")
		}
	}

	sess := newSession(s.cfg, params, args, task, NewStopSignal(ctx))
	sess.start()
	return sess, nil
}
