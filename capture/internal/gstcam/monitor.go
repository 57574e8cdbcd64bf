package gstcam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
)

// ErrStartTimeout is returned by WaitPlaying when the pipeline does not reach
// PLAYING in time.
var ErrStartTimeout = errors.New("pipeline did not reach PLAYING")

// ErrorCounters holds atomic counters for different error categories
type ErrorCounters struct {
	Device     uint64
	Permission uint64
	Format     uint64
	Unknown    uint64
}

// Add increments the counter for category.
func (c *ErrorCounters) Add(category ErrorCategory) {
	switch category {
	case ErrCategoryDevice:
		atomic.AddUint64(&c.Device, 1)
	case ErrCategoryPermission:
		atomic.AddUint64(&c.Permission, 1)
	case ErrCategoryFormat:
		atomic.AddUint64(&c.Format, 1)
	default:
		atomic.AddUint64(&c.Unknown, 1)
	}
}

// Snapshot returns the counters keyed by category name.
func (c *ErrorCounters) Snapshot() map[string]uint64 {
	return map[string]uint64{
		ErrCategoryDevice.String():     atomic.LoadUint64(&c.Device),
		ErrCategoryPermission.String(): atomic.LoadUint64(&c.Permission),
		ErrCategoryFormat.String():     atomic.LoadUint64(&c.Format),
		ErrCategoryUnknown.String():    atomic.LoadUint64(&c.Unknown),
	}
}

// WaitPlaying polls the bus until the pipeline reports PLAYING.
//
// Returns a classified error if the pipeline posts an error first (v4l2src
// reports a missing or busy device this way), or ErrStartTimeout.
func WaitPlaying(pipeline *gst.Pipeline, timeout time.Duration, counters *ErrorCounters) error {
	bus := pipeline.GetPipelineBus()
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageError:
			gerr := msg.ParseError()
			category := ClassifyGStreamerError(gerr)
			counters.Add(category)
			return fmt.Errorf("pipeline error [%s]: %s", category, gerr.Error())

		case gst.MessageStateChanged:
			if msg.Source() != pipeline.GetName() {
				continue
			}
			_, newState := msg.ParseStateChanged()
			if newState == gst.StatePlaying {
				slog.Debug("capture: pipeline reached PLAYING state")
				return nil
			}
		}
	}

	return fmt.Errorf("%w within %v", ErrStartTimeout, timeout)
}

// MonitorPipelineBus logs and counts pipeline errors until ctx is cancelled
// or the pipeline reaches EOS.
//
// Errors after startup are not fatal: the device keeps running and Read
// reports missing frames as transient capture failures.
func MonitorPipelineBus(ctx context.Context, pipeline *gst.Pipeline, counters *ErrorCounters, device string, frameCount *uint64) {
	bus := pipeline.GetPipelineBus()
	started := time.Now()

	for {
		select {
		case <-ctx.Done():
			slog.Debug("capture: context cancelled, stopping pipeline monitor", "device", device)
			return
		default:
		}

		// Poll with short timeout for responsive shutdown
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			slog.Warn("capture: end of stream received",
				"device", device,
				"uptime", time.Since(started),
				"frames_processed", atomic.LoadUint64(frameCount),
			)
			return

		case gst.MessageError:
			gerr := msg.ParseError()
			category := ClassifyGStreamerError(gerr)
			counters.Add(category)

			slog.Error("capture: pipeline error",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
				"category", category.String(),
				"device", device,
				"uptime", time.Since(started),
				"frames_processed", atomic.LoadUint64(frameCount),
			)

		case gst.MessageStateChanged:
			if msg.Source() == pipeline.GetName() {
				from, to := msg.ParseStateChanged()
				slog.Debug("capture: pipeline state changed", "from", from, "to", to)
			}
		}
	}
}
