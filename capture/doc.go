// Package capture provides camera devices and frame conversion for the
// producer side of a stream session.
//
// # Devices
//
// A Device is obtained from an Opener by index and delivers RawFrames:
//
//	opener, err := capture.NewV4L2Opener(capture.V4L2Config{TargetFPS: 15})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	dev, err := opener.Open(ctx, 0) // /dev/video0
//	if errors.Is(err, capture.ErrDeviceUnavailable) {
//	    // fatal: nothing to stream
//	}
//	defer dev.Release()
//
//	raw, err := dev.Read(ctx)
//	if errors.Is(err, capture.ErrCaptureFailed) {
//	    // transient: skip this frame
//	}
//
// Two openers are provided:
//
//   - V4L2Opener: GStreamer pipeline v4l2src → videoconvert → videoscale →
//     videorate → capsfilter(RGB) → appsink. Requires the gstreamer1.0 runtime.
//   - PatternOpener: pure Go moving gradient, for demos and tests.
//
// # Conversion
//
// ConvertAndResize turns a RawFrame into a single-channel framering.Frame of
// the negotiated shape: BT.601 luma (OpenCV RGB2GRAY coefficients) followed by
// bilinear scaling.
//
// # Error Handling
//
//   - ErrDeviceUnavailable: Open failed (missing node, busy device, pipeline
//     never reached PLAYING)
//   - ErrCaptureFailed: one Read produced no usable frame (timeout, released
//     device, malformed buffer)
package capture
