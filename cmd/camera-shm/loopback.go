package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	camerashm "github.com/e7canasta/orion-care-sensor/camera-shm"
	"github.com/e7canasta/orion-care-sensor/camera-shm/framering"
	"github.com/e7canasta/orion-care-sensor/camera-shm/internal/config"
	"github.com/e7canasta/orion-care-sensor/camera-shm/registry"
)

const (
	loopbackProducerTask = "loopback-producer"
	loopbackConsumerTask = "loopback-consumer"
)

type loopbackFlags struct {
	runFlags
	duration      time.Duration
	statsInterval time.Duration
}

func newLoopbackCommand(c *cli) *cobra.Command {
	f := &loopbackFlags{}

	cmd := &cobra.Command{
		Use:   "loopback",
		Short: "Run a producer and a consumer in one process",
		Long: `Loopback wires a producer and a consumer session through the in-process
transport and registry. Useful to check a camera and the display without
shared memory or an MQTT broker.

The consumer stops on window close, --max-frames or SIGINT; the producer's
task is then revoked. --duration revokes both tasks after a fixed time.

Example:
  camera-shm loopback --source pattern --headless --max-frames 300`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoopback(cmd, c.cfg, f)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.shape, "shape", "", "Frame shape HxW (default 480x640)")
	flags.IntVarP(&f.device, "device", "d", 0, "Camera device index")
	flags.StringVar(&f.source, "source", "pattern", "Capture source: v4l2 or pattern")
	flags.Float64Var(&f.fps, "fps", 0, "Target capture FPS")
	flags.BoolVar(&f.headless, "headless", false, "Discard frames instead of opening a window")
	flags.IntVar(&f.maxFrames, "max-frames", 0, "Headless consumer quits after N frames (0 = unlimited)")
	flags.StringVar(&f.saveDir, "save-dir", "", "Save consumed frames as images into this directory")
	flags.IntVar(&f.saveEvery, "save-every", 0, "Save one frame out of N (default 1)")
	flags.DurationVar(&f.duration, "duration", 0, "Revoke both tasks after this long (0 = no limit)")
	flags.DurationVar(&f.statsInterval, "stats-interval", 5*time.Second, "Statistics reporting interval (0 = disabled)")

	return cmd
}

func runLoopback(cmd *cobra.Command, cfg *config.Config, f *loopbackFlags) error {
	// the source flag has a loopback-specific default
	cfg.Capture.Source = f.source
	cfg.Transport.Kind = "memory"
	cfg.Registry.Kind = "memory"
	if err := f.apply(cmd, cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	params, err := cfg.StreamParameters()
	if err != nil {
		return err
	}

	transport := framering.NewMemory()
	reg := registry.NewMemory()
	reg.Set(loopbackProducerTask, registry.StatusStarted)
	reg.Set(loopbackConsumerTask, registry.StatusStarted)

	svcCfg := serviceConfig(cfg, transport, reg)
	if svcCfg.Camera, err = buildCamera(cfg.Capture); err != nil {
		return err
	}
	svcCfg.Display = buildDisplay(cfg.Display)

	svc, err := camerashm.NewService(svcCfg)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	consumerParams := params
	consumerParams.Role = camerashm.RoleConsumer
	consumer, err := svc.Start(ctx, consumerParams, camerashm.CaptureArguments{}, camerashm.TaskHandle{TaskID: loopbackConsumerTask})
	if err != nil {
		return err
	}

	producerParams := params
	producerParams.Role = camerashm.RoleProducer
	producer, err := svc.Start(ctx, producerParams,
		camerashm.CaptureArguments{DeviceIndex: cfg.Capture.Device}, camerashm.TaskHandle{TaskID: loopbackProducerTask})
	if err != nil {
		consumer.Stop(nil)
		_, _ = consumer.Wait()
		return err
	}

	slog.Info("loopback started",
		"shape", params.Shape.String(),
		"stream_key", params.StreamKey,
		"source", cfg.Capture.Source,
		"headless", cfg.Display.Headless,
	)

	statsCtx, stopStats := context.WithCancel(ctx)
	defer stopStats()
	if f.statsInterval > 0 {
		go reportStats(statsCtx, cmd.ErrOrStderr(), f.statsInterval, producer, consumer, transport, params.StreamKey)
	}

	var deadline <-chan time.Time
	if f.duration > 0 {
		timer := time.NewTimer(f.duration)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-consumer.Done():
	case <-producer.Done():
	case <-deadline:
		slog.Info("loopback duration elapsed, revoking tasks", "duration", f.duration)
	}
	reg.Revoke(loopbackProducerTask)
	reg.Revoke(loopbackConsumerTask)

	consumerModel, consumerErr := consumer.Wait()
	producerModel, producerErr := producer.Wait()
	stopStats()

	printFinalStats(cmd.ErrOrStderr(), producerModel, consumerModel, transport.Overwrites(params.StreamKey))

	out := cmd.OutOrStdout()
	for _, m := range []camerashm.TerminalModel{producerModel, consumerModel} {
		fmt.Fprintln(out, "---")
		if err := printModel(out, m); err != nil {
			slog.Warn("failed to print terminal model", "error", err)
		}
	}

	return errors.Join(producerErr, consumerErr)
}

// reportStats periodically prints statistics of both sessions.
func reportStats(ctx context.Context, w io.Writer, interval time.Duration, producer, consumer *camerashm.Session, transport *framering.Memory, key string) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			printLiveStats(w, producer.Stats(), consumer.Stats(), transport.Overwrites(key))
		}
	}
}

func printLiveStats(w io.Writer, producer, consumer camerashm.Stats, overwrites uint64) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "╭─────────────────────────────────────────────────────────────────╮")
	fmt.Fprintf(w, "│ Loopback Statistics (Uptime: %v)\n", producer.Uptime.Round(time.Second))
	fmt.Fprintln(w, "├─────────────────────────────────────────────────────────────────┤")
	fmt.Fprintln(w, "│ Producer:")
	fmt.Fprintf(w, "│   State:              %8s\n", producer.State)
	fmt.Fprintf(w, "│   Frames Written:     %8d frames\n", producer.FramesWritten)
	fmt.Fprintf(w, "│   Capture Failures:   %8d\n", producer.CaptureFailures)
	fmt.Fprintf(w, "│   Real FPS:           %8.2f fps\n", rate(producer.FramesWritten, producer.Uptime))
	fmt.Fprintln(w, "│")
	fmt.Fprintln(w, "│ Consumer:")
	fmt.Fprintf(w, "│   State:              %8s\n", consumer.State)
	fmt.Fprintf(w, "│   Frames Read:        %8d frames\n", consumer.FramesRead)
	fmt.Fprintf(w, "│   Frames Dropped:     %8d frames (%.1f%%)\n", consumer.FramesDropped, dropRate(consumer.FramesRead, consumer.FramesDropped))
	fmt.Fprintf(w, "│   Read Misses:        %8d\n", consumer.ReadMisses)
	fmt.Fprintln(w, "│")
	fmt.Fprintf(w, "│ Transport Overwrites: %8d\n", overwrites)
	fmt.Fprintln(w, "╰─────────────────────────────────────────────────────────────────╯")
}

func printFinalStats(w io.Writer, producer, consumer camerashm.TerminalModel, overwrites uint64) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════")
	fmt.Fprintln(w, "                     Final Statistics                         ")
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════")
	fmt.Fprintf(w, "  Frames Written:        %d frames (%.2f fps)\n", producer.FramesWritten, producer.FPS)
	fmt.Fprintf(w, "  Capture Failures:      %d\n", producer.CaptureFailures)
	fmt.Fprintf(w, "  Frames Read:           %d frames (%.2f fps)\n", consumer.FramesRead, consumer.FPS)
	fmt.Fprintf(w, "  Consumer Drops:        %d frames (%.1f%%)\n", consumer.FramesDropped, dropRate(consumer.FramesRead, consumer.FramesDropped))
	fmt.Fprintf(w, "  Transport Overwrites:  %d\n", overwrites)
	fmt.Fprintf(w, "  Producer Stop:         %s\n", producer.StopReason)
	fmt.Fprintf(w, "  Consumer Stop:         %s\n", consumer.StopReason)
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════")
	fmt.Fprintln(w)
}

// dropRate calculates the drop percentage from read and dropped counts.
func dropRate(read, dropped uint64) float64 {
	total := read + dropped
	if total == 0 {
		return 0.0
	}
	return float64(dropped) / float64(total) * 100.0
}

func rate(frames uint64, d time.Duration) float64 {
	if d <= 0 {
		return 0.0
	}
	return float64(frames) / d.Seconds()
}
