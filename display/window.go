package display

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/orion-care-sensor/camera-shm/framering"
)

// WindowOpener opens on-screen windows through GStreamer.
type WindowOpener struct {
	// VideoSink is the GStreamer sink element (default "autovideosink")
	VideoSink string
}

// Open builds and starts the display pipeline
//
// Pipeline structure:
//
//	appsrc(GRAY8) → videoconvert → autovideosink
func (o WindowOpener) Open(streamKey string, shape framering.Shape) (Sink, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("display: %w", err)
	}

	sinkName := o.VideoSink
	if sinkName == "" {
		sinkName = "autovideosink"
	}

	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("display: failed to create pipeline: %w", err)
	}

	src, err := app.NewAppSrc()
	if err != nil {
		return nil, fmt.Errorf("display: failed to create appsrc: %w", err)
	}
	src.SetCaps(gst.NewCapsFromString(fmt.Sprintf(
		"video/x-raw,format=GRAY8,width=%d,height=%d,framerate=0/1",
		shape.Width, shape.Height,
	)))
	src.SetProperty("is-live", true)
	src.SetProperty("do-timestamp", true)
	src.SetProperty("format", gst.FormatTime)

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("display: failed to create videoconvert: %w", err)
	}

	videosink, err := gst.NewElement(sinkName)
	if err != nil {
		return nil, fmt.Errorf("display: failed to create %s: %w", sinkName, err)
	}
	videosink.SetProperty("sync", false)

	if err := startPipeline(pipeline, src.Element, converter, videosink); err != nil {
		return nil, err
	}

	slog.Info("display: window opened",
		"stream_key", streamKey,
		"shape", shape.String(),
		"video_sink", sinkName,
	)

	return &Window{key: streamKey, shape: shape, pipeline: pipeline, src: src}, nil
}

// startPipeline links elements in order and sets the pipeline playing. On
// failure the pipeline is back in NULL.
func startPipeline(pipeline *gst.Pipeline, elements ...*gst.Element) error {
	if err := pipeline.AddMany(elements...); err != nil {
		teardown(pipeline)
		return fmt.Errorf("display: failed to add elements: %w", err)
	}
	if err := gst.ElementLinkMany(elements...); err != nil {
		teardown(pipeline)
		return fmt.Errorf("display: failed to link display pipeline: %w", err)
	}
	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		teardown(pipeline)
		return fmt.Errorf("display: failed to start pipeline: %w", err)
	}
	return nil
}

func teardown(pipeline *gst.Pipeline) {
	if err := pipeline.SetState(gst.StateNull); err != nil {
		slog.Warn("display: failed to set pipeline to NULL", "error", err)
	}
}

// Window shows frames in an on-screen video window.
//
// Show reports quit=true once the window is closed (the video sink posts an
// error) or the pipeline reaches EOS.
type Window struct {
	key      string
	shape    framering.Shape
	pipeline *gst.Pipeline
	src      *app.Source

	closeOnce sync.Once
	quit      bool
}

// Show pushes one frame and reports whether the window asked to quit.
func (w *Window) Show(frame framering.Frame) (bool, error) {
	if w.quit {
		return true, nil
	}
	if frame.Shape != w.shape {
		return false, fmt.Errorf("%w: window is %s, frame is %s", framering.ErrShapeMismatch, w.shape, frame.Shape)
	}

	if ret := w.src.PushBuffer(gst.NewBufferFromBytes(frame.Pix)); ret != gst.FlowOK {
		slog.Info("display: pipeline stopped accepting frames", "stream_key", w.key, "flow", ret)
		w.quit = true
		return true, nil
	}

	w.quit = w.drainBus()
	return w.quit, nil
}

// drainBus handles pending bus messages without blocking.
func (w *Window) drainBus() bool {
	bus := w.pipeline.GetPipelineBus()
	for {
		msg := bus.TimedPop(0)
		if msg == nil {
			return false
		}

		switch msg.Type() {
		case gst.MessageEOS:
			slog.Info("display: end of stream", "stream_key", w.key)
			return true

		case gst.MessageError:
			gerr := msg.ParseError()
			// Video sinks report a closed window as an error.
			slog.Info("display: window closed",
				"stream_key", w.key,
				"reason", gerr.Error(),
			)
			return true
		}
	}
}

// Close stops the pipeline. Safe to call more than once.
func (w *Window) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.src.EndStream()
		if serr := w.pipeline.SetState(gst.StateNull); serr != nil {
			err = fmt.Errorf("display: close window: %w", serr)
		}
		slog.Info("display: window closed", "stream_key", w.key)
	})
	return err
}
