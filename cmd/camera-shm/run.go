package main

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/spf13/cobra"

	camerashm "github.com/e7canasta/orion-care-sensor/camera-shm"
	"github.com/e7canasta/orion-care-sensor/camera-shm/internal/config"
)

// runFlags override the configuration when set on the command line.
type runFlags struct {
	role      string
	key       string
	shape     string
	task      string
	device    int
	source    string
	fps       float64
	transport string
	registry  string
	broker    string
	headless  bool
	maxFrames int
	saveDir   string
	saveEvery int
}

func newRunCommand(c *cli) *cobra.Command {
	f := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a producer or consumer session",
		Long: `Run starts one stream session and blocks until it stops.

The producer opens the camera, converts frames to 8-bit luma of the stream
shape and writes them to the ring buffer. The consumer reads the latest frame
and shows it in a window (or discards it with --headless).

The session stops when the task is revoked, the window is closed, or on
SIGINT/SIGTERM. The terminal model is printed as YAML.

Example:
  camera-shm run --role write --device 0 --task job-1
  camera-shm run --role read --shape 480x640 --task job-2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, c.cfg, f)
		},
	}

	f.register(cmd)

	return cmd
}

// register binds the flags to cmd.
func (f *runFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&f.role, "role", "r", "", "Session role: producer|write or consumer|read (default producer)")
	flags.StringVarP(&f.key, "key", "k", "", "Stream key (default camera:0)")
	flags.StringVar(&f.shape, "shape", "", "Frame shape HxW (default 480x640)")
	flags.StringVarP(&f.task, "task", "t", "", "Task id governing the session (generated when empty)")
	flags.IntVarP(&f.device, "device", "d", 0, "Camera device index")
	flags.StringVar(&f.source, "source", "", "Capture source: v4l2 or pattern")
	flags.Float64Var(&f.fps, "fps", 0, "Target capture FPS (0 = camera native rate)")
	flags.StringVar(&f.transport, "transport", "", "Frame transport: shm or memory")
	flags.StringVar(&f.registry, "registry", "", "Task registry: mqtt or memory")
	flags.StringVar(&f.broker, "broker", "", "MQTT broker address")
	flags.BoolVar(&f.headless, "headless", false, "Discard frames instead of opening a window")
	flags.IntVar(&f.maxFrames, "max-frames", 0, "Headless consumer quits after N frames (0 = unlimited)")
	flags.StringVar(&f.saveDir, "save-dir", "", "Consumer saves frames as images into this directory")
	flags.IntVar(&f.saveEvery, "save-every", 0, "Save one frame out of N (default 1)")
}

// apply overlays the flags that were set explicitly.
func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	changed := cmd.Flags().Changed
	if changed("role") {
		cfg.Stream.Role = f.role
	}
	if changed("key") {
		cfg.Stream.Key = f.key
	}
	if changed("shape") {
		cfg.Stream.Shape = f.shape
	}
	if changed("task") {
		cfg.Stream.Task = f.task
	}
	if changed("device") {
		cfg.Capture.Device = f.device
	}
	if changed("source") {
		cfg.Capture.Source = f.source
	}
	if changed("fps") {
		cfg.Capture.FPS = f.fps
	}
	if changed("transport") {
		cfg.Transport.Kind = f.transport
	}
	if changed("registry") {
		cfg.Registry.Kind = f.registry
	}
	if changed("broker") {
		cfg.Registry.Broker = f.broker
	}
	if changed("headless") {
		cfg.Display.Headless = f.headless
	}
	if changed("max-frames") {
		cfg.Display.MaxFrames = f.maxFrames
	}
	if changed("save-dir") {
		cfg.Display.SaveDir = f.saveDir
	}
	if changed("save-every") {
		cfg.Display.SaveEvery = f.saveEvery
	}
	return cfg.Validate()
}

func runSession(cmd *cobra.Command, cfg *config.Config, f *runFlags) error {
	if err := f.apply(cmd, cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	params, err := cfg.StreamParameters()
	if err != nil {
		return err
	}
	if cfg.Stream.Task == "" {
		cfg.Stream.Task = uuid.NewString()
		slog.Info("no task id given, generated one", "task_id", cfg.Stream.Task)
	}
	task := camerashm.TaskHandle{TaskID: cfg.Stream.Task}
	if err := task.Validate(); err != nil {
		return err
	}
	if cfg.Transport.Kind == "memory" {
		slog.Warn("memory transport only reaches sessions in this process; use loopback for in-process demos")
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	transport, err := buildTransport(cfg.Transport)
	if err != nil {
		return err
	}

	reg, closeRegistry, err := buildRegistry(ctx, cfg.Registry, cfg.Watcher.QueryTimeout)
	if err != nil {
		return err
	}
	defer closeRegistry()

	if err := markStarted(ctx, reg, task.TaskID, registrySettle(cfg), clock.WallClock); err != nil {
		return err
	}

	svcCfg := serviceConfig(cfg, transport, reg)
	switch params.Role {
	case camerashm.RoleProducer:
		if svcCfg.Camera, err = buildCamera(cfg.Capture); err != nil {
			return err
		}
	case camerashm.RoleConsumer:
		svcCfg.Display = buildDisplay(cfg.Display)
	}

	svc, err := camerashm.NewService(svcCfg)
	if err != nil {
		return err
	}

	slog.Info("camera-shm starting",
		"version", version,
		"role", params.Role.String(),
		"stream_key", params.StreamKey,
		"shape", params.Shape.String(),
		"task_id", task.TaskID,
		"transport", cfg.Transport.Kind,
		"registry", cfg.Registry.Kind,
	)

	model, runErr := svc.Run(ctx, params, camerashm.CaptureArguments{DeviceIndex: cfg.Capture.Device}, task)
	if err := printModel(cmd.OutOrStdout(), model); err != nil {
		slog.Warn("failed to print terminal model", "error", err)
	}
	return runErr
}
