package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/orion-care-sensor/camera-shm/capture/internal/gstcam"
)

// V4L2Config contains configuration for GStreamer V4L2 camera capture.
type V4L2Config struct {
	// DevicePattern maps a device index to a node (default "/dev/video%d")
	DevicePattern string
	// Width and Height of the RGB frames delivered by the pipeline
	// (default 640x480). ConvertAndResize handles the final shape.
	Width  int
	Height int
	// TargetFPS limits the capture rate (0 = camera native rate)
	TargetFPS float64
	// ReadTimeout bounds Device.Read (default 2s)
	ReadTimeout time.Duration
	// StartTimeout bounds the wait for PLAYING in Open (default 5s)
	StartTimeout time.Duration
	// Clock drives read timeouts (default clock.WallClock)
	Clock clock.Clock
}

// V4L2Opener opens /dev/videoN cameras through GStreamer (v4l2src).
type V4L2Opener struct {
	cfg V4L2Config
}

// NewV4L2Opener creates a V4L2Opener with fail-fast validation
//
// Validates configuration at construction time:
//   - Width and Height must be positive
//   - TargetFPS must be 0 (native) or between 0.1 and 120
//   - Timeouts must be positive
func NewV4L2Opener(cfg V4L2Config) (*V4L2Opener, error) {
	if cfg.DevicePattern == "" {
		cfg.DevicePattern = "/dev/video%d"
	}
	if cfg.Width == 0 && cfg.Height == 0 {
		cfg.Width, cfg.Height = 640, 480
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 2 * time.Second
	}
	if cfg.StartTimeout == 0 {
		cfg.StartTimeout = 5 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}

	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("capture: invalid capture size %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.TargetFPS != 0 && (cfg.TargetFPS < 0.1 || cfg.TargetFPS > 120) {
		return nil, fmt.Errorf("capture: invalid FPS %.2f (must be 0 or 0.1-120)", cfg.TargetFPS)
	}
	if cfg.ReadTimeout < 0 || cfg.StartTimeout < 0 {
		return nil, fmt.Errorf("capture: timeouts must be positive")
	}

	return &V4L2Opener{cfg: cfg}, nil
}

// DevicePath returns the device node for an index.
func (o *V4L2Opener) DevicePath(deviceIndex int) string {
	return fmt.Sprintf(o.cfg.DevicePattern, deviceIndex)
}

// Open starts a capture pipeline for the device and waits until it plays.
//
// Any failure to reach PLAYING (missing node, busy device, unsupported caps)
// is reported as ErrDeviceUnavailable.
func (o *V4L2Opener) Open(ctx context.Context, deviceIndex int) (Device, error) {
	if deviceIndex < 0 {
		return nil, fmt.Errorf("%w: invalid device index %d", ErrDeviceUnavailable, deviceIndex)
	}

	path := o.DevicePath(deviceIndex)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, path, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	slog.Info("capture: opening camera",
		"device", path,
		"resolution", fmt.Sprintf("%dx%d", o.cfg.Width, o.cfg.Height),
		"target_fps", o.cfg.TargetFPS,
	)

	elements, err := gstcam.CreatePipeline(gstcam.PipelineConfig{
		Device:    path,
		Width:     o.cfg.Width,
		Height:    o.cfg.Height,
		TargetFPS: o.cfg.TargetFPS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, path, err)
	}

	d := &v4l2Device{
		path:   path,
		cfg:    o.cfg,
		elems:  elements,
		frames: make(chan gstcam.Frame, 1),
		done:   make(chan struct{}),
	}

	callbackCtx := &gstcam.CallbackContext{
		FrameChan:     d.frames,
		FrameCounter:  &d.frameCount,
		BytesRead:     &d.bytesRead,
		FramesDropped: &d.framesDropped,
		Width:         o.cfg.Width,
		Height:        o.cfg.Height,
		Device:        path,
	}
	elements.AppSink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return gstcam.OnNewSample(sink, callbackCtx)
		},
	})

	if err := elements.Pipeline.SetState(gst.StatePlaying); err != nil {
		gstcam.DestroyPipeline(elements)
		return nil, fmt.Errorf("%w: %s: start pipeline: %v", ErrDeviceUnavailable, path, err)
	}

	if err := gstcam.WaitPlaying(elements.Pipeline, o.cfg.StartTimeout, &d.pipeErrors); err != nil {
		gstcam.DestroyPipeline(elements)
		return nil, fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, path, err)
	}

	var monitorCtx context.Context
	monitorCtx, d.cancel = context.WithCancel(context.Background())
	go func() {
		defer close(d.done)
		gstcam.MonitorPipelineBus(monitorCtx, elements.Pipeline, &d.pipeErrors, path, &d.frameCount)
	}()

	slog.Info("capture: camera opened", "device", path)
	return d, nil
}

type v4l2Device struct {
	path   string
	cfg    V4L2Config
	elems  *gstcam.PipelineElements
	frames chan gstcam.Frame

	cancel context.CancelFunc
	done   chan struct{}

	// Statistics (atomic for thread-safety)
	frameCount    uint64
	framesDropped uint64
	bytesRead     uint64
	pipeErrors    gstcam.ErrorCounters

	releaseOnce sync.Once
	released    atomic.Bool
}

// Read waits for the next frame delivered by the appsink callback.
func (d *v4l2Device) Read(ctx context.Context) (RawFrame, error) {
	if d.released.Load() {
		return RawFrame{}, fmt.Errorf("%w: %s released", ErrCaptureFailed, d.path)
	}

	select {
	case f := <-d.frames:
		return RawFrame{
			Seq:       f.Seq,
			Timestamp: f.Timestamp,
			Width:     f.Width,
			Height:    f.Height,
			Format:    FormatRGB,
			Data:      f.Data,
			TraceID:   f.TraceID,
		}, nil

	case <-d.cfg.Clock.After(d.cfg.ReadTimeout):
		return RawFrame{}, fmt.Errorf("%w: %s: no frame within %v", ErrCaptureFailed, d.path, d.cfg.ReadTimeout)

	case <-ctx.Done():
		return RawFrame{}, fmt.Errorf("%w: %v", ErrCaptureFailed, ctx.Err())
	}
}

// Release stops the pipeline. Safe to call more than once.
func (d *v4l2Device) Release() error {
	var err error
	d.releaseOnce.Do(func() {
		d.released.Store(true)

		d.cancel()
		select {
		case <-d.done:
		case <-time.After(3 * time.Second):
			slog.Warn("capture: pipeline monitor did not stop in time", "device", d.path)
		}

		if derr := gstcam.DestroyPipeline(d.elems); derr != nil {
			err = fmt.Errorf("capture: release %s: %w", d.path, derr)
		}

		slog.Info("capture: camera released",
			"device", d.path,
			"frames_captured", atomic.LoadUint64(&d.frameCount),
			"frames_dropped", atomic.LoadUint64(&d.framesDropped),
		)
	})
	return err
}

func (d *v4l2Device) Stats() Stats {
	return Stats{
		FrameCount:    atomic.LoadUint64(&d.frameCount),
		FramesDropped: atomic.LoadUint64(&d.framesDropped),
		BytesRead:     atomic.LoadUint64(&d.bytesRead),
		Errors:        d.pipeErrors.Snapshot(),
	}
}
