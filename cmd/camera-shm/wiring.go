package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/clock"
	"gopkg.in/yaml.v3"

	camerashm "github.com/e7canasta/orion-care-sensor/camera-shm"
	"github.com/e7canasta/orion-care-sensor/camera-shm/capture"
	"github.com/e7canasta/orion-care-sensor/camera-shm/display"
	"github.com/e7canasta/orion-care-sensor/camera-shm/framering"
	"github.com/e7canasta/orion-care-sensor/camera-shm/internal/config"
	"github.com/e7canasta/orion-care-sensor/camera-shm/registry"
)

var errInterrupted = errors.New("camera-shm: interrupted")

// taskRegistry is what the commands need from a registry backend.
type taskRegistry interface {
	registry.Registry
	registry.Publisher
}

// signalContext returns a context cancelled on SIGINT/SIGTERM with a cause
// naming the signal.
func signalContext(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("Shutdown signal received, stopping gracefully...", "signal", sig.String())
			cancel(fmt.Errorf("%w: %s", errInterrupted, sig))
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel(nil)
	}
}

func buildTransport(tc config.TransportConfig) (framering.Transport, error) {
	switch tc.Kind {
	case "memory":
		return framering.NewMemory(), nil
	default:
		return framering.NewShm(framering.ShmConfig{Dir: tc.Dir, Slots: tc.Slots})
	}
}

// buildRegistry returns the registry backend and a close function. The MQTT
// backend is connected before returning.
func buildRegistry(ctx context.Context, rc config.RegistryConfig, queryTimeout time.Duration) (taskRegistry, func(), error) {
	if rc.Kind == "memory" {
		return registry.NewMemory(), func() {}, nil
	}

	m, err := registry.NewMQTT(registry.MQTTConfig{
		Broker:         rc.Broker,
		ClientID:       rc.ClientID,
		TopicPrefix:    rc.TopicPrefix,
		QoS:            byte(rc.QoS),
		ConnectTimeout: queryTimeout,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := m.Connect(ctx); err != nil {
		return nil, nil, err
	}
	return m, func() {
		if err := m.Close(); err != nil {
			slog.Warn("registry close failed", "error", err)
		}
	}, nil
}

func buildCamera(cc config.CaptureConfig) (capture.Opener, error) {
	switch cc.Source {
	case "pattern":
		return capture.NewPatternOpener(capture.PatternConfig{
			Width:   cc.Width,
			Height:  cc.Height,
			FPS:     cc.FPS,
			Devices: cc.Device + 1,
		})
	default:
		return capture.NewV4L2Opener(capture.V4L2Config{
			DevicePattern: cc.DevicePattern,
			Width:         cc.Width,
			Height:        cc.Height,
			TargetFPS:     cc.FPS,
			ReadTimeout:   cc.ReadTimeout,
		})
	}
}

func buildDisplay(dc config.DisplayConfig) display.Opener {
	var opener display.Opener = display.WindowOpener{VideoSink: dc.VideoSink}
	if dc.Headless {
		opener = display.DiscardOpener{MaxFrames: dc.MaxFrames}
	}
	if dc.SaveDir == "" {
		return opener
	}
	return display.SnapshotOpener{
		Next:        opener,
		Dir:         dc.SaveDir,
		Format:      dc.SaveFormat,
		JPEGQuality: dc.JPEGQuality,
		Every:       dc.SaveEvery,
	}
}

// markStarted publishes STARTED for a task the registry does not know yet.
// A task that already has a status (for example REVOKED before launch) is
// left untouched.
//
// A broker-backed registry delivers the retained record some time after the
// first query subscribes, so the lookup keeps asking for up to settle before
// concluding the task is new. A zero settle makes a single query.
func markStarted(ctx context.Context, reg taskRegistry, taskID string, settle time.Duration, clk clock.Clock) error {
	status, ok, err := awaitStatus(ctx, reg, taskID, settle, clk)
	if err != nil {
		return fmt.Errorf("query task %q: %w", taskID, err)
	}
	if ok {
		slog.Info("task already registered", "task_id", taskID, "status", status)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return context.Cause(ctx)
	}

	pctx, cancel := context.WithTimeout(ctx, publishTimeout(settle))
	defer cancel()
	if err := reg.Publish(pctx, taskID, registry.StatusStarted); err != nil {
		return fmt.Errorf("mark task %q started: %w", taskID, err)
	}
	slog.Info("task marked started", "task_id", taskID)
	return nil
}

// registrySettle is how long markStarted waits for a retained status. The
// memory registry answers synchronously.
func registrySettle(cfg *config.Config) time.Duration {
	if cfg.Registry.Kind == "memory" {
		return 0
	}
	return cfg.Watcher.QueryTimeout
}

func publishTimeout(settle time.Duration) time.Duration {
	if settle <= 0 {
		return 2 * time.Second
	}
	return settle
}

func serviceConfig(cfg *config.Config, transport framering.Transport, reg registry.Registry) camerashm.Config {
	return camerashm.Config{
		Transport:        transport,
		Registry:         reg,
		PollInterval:     cfg.Watcher.PollInterval,
		RegisterInterval: cfg.Watcher.RegisterInterval,
		QueryTimeout:     cfg.Watcher.QueryTimeout,
		ReadTimeout:      cfg.Capture.ReadTimeout,
	}
}

func printModel(w io.Writer, m camerashm.TerminalModel) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return err
	}
	return enc.Close()
}
