package gstcam

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// Frame is the RGB frame handed from the appsink callback to the device.
// The public type is capture.RawFrame (avoids import cycle).
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	Data      []byte
	TraceID   string
}

// CallbackContext holds state needed by GStreamer callbacks
type CallbackContext struct {
	FrameChan     chan<- Frame
	FrameCounter  *uint64 // Atomic counter for sequence numbers
	BytesRead     *uint64 // Atomic counter for bytes read
	FramesDropped *uint64 // Atomic counter for frames nobody was waiting for
	Width         int
	Height        int
	Device        string
}

// OnNewSample is called by GStreamer when a new frame is available
//
// This callback:
//  1. Pulls the sample from the appsink
//  2. Maps the buffer and copies the pixels (GStreamer reuses the buffer)
//  3. Sends the frame to FrameChan (non-blocking - drops if full)
//
// A frame whose size does not match Width*Height*3 is dropped; the caps
// filter makes that a negotiation bug, not a per-frame condition.
func OnNewSample(sink *app.Sink, ctx *CallbackContext) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		// Skip frame instead of terminating the stream
		slog.Warn("capture: failed to pull sample from appsink, skipping frame", "device", ctx.Device)
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("capture: failed to get buffer from sample, skipping frame", "device", ctx.Device)
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		slog.Warn("capture: empty buffer received", "device", ctx.Device)
		return gst.FlowOK
	}
	if want := ctx.Width * ctx.Height * 3; len(data) != want {
		buffer.Unmap()
		slog.Warn("capture: unexpected buffer size, skipping frame",
			"device", ctx.Device,
			"size_bytes", len(data),
			"want_bytes", want,
		)
		return gst.FlowOK
	}

	frameData := make([]byte, len(data))
	copy(frameData, data)
	buffer.Unmap()

	seq := atomic.AddUint64(ctx.FrameCounter, 1)
	atomic.AddUint64(ctx.BytesRead, uint64(len(frameData)))

	frame := Frame{
		Seq:       seq,
		Timestamp: time.Now(),
		Width:     ctx.Width,
		Height:    ctx.Height,
		Data:      frameData,
		TraceID:   uuid.New().String(),
	}

	select {
	case ctx.FrameChan <- frame:
		slog.Debug("capture: frame sent",
			"seq", frame.Seq,
			"size_bytes", len(frameData),
			"trace_id", frame.TraceID,
		)
	default:
		atomic.AddUint64(ctx.FramesDropped, 1)
		slog.Debug("capture: dropping frame, reader not keeping up",
			"seq", frame.Seq,
			"trace_id", frame.TraceID,
		)
	}

	return gst.FlowOK
}
