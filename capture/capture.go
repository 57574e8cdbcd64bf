package capture

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDeviceUnavailable is returned by Opener.Open when the device cannot be
	// opened. Fatal for a producer session.
	ErrDeviceUnavailable = errors.New("capture: device unavailable")

	// ErrCaptureFailed is returned by Device.Read when one frame could not be
	// captured (timeout, decode hiccup). Transient: the caller skips the frame.
	ErrCaptureFailed = errors.New("capture: frame capture failed")
)

// PixelFormat describes the byte layout of RawFrame.Data.
type PixelFormat int

const (
	// FormatRGB is interleaved RGB, 3 bytes per pixel (GStreamer default).
	FormatRGB PixelFormat = iota
	// FormatBGR is interleaved BGR, 3 bytes per pixel.
	FormatBGR
	// FormatGray is single-channel luma, 1 byte per pixel.
	FormatGray
)

// String returns the GStreamer caps name of the format.
func (f PixelFormat) String() string {
	switch f {
	case FormatRGB:
		return "RGB"
	case FormatBGR:
		return "BGR"
	case FormatGray:
		return "GRAY8"
	default:
		return "unknown"
	}
}

// BytesPerPixel returns the pixel stride of the format.
func (f PixelFormat) BytesPerPixel() int {
	if f == FormatGray {
		return 1
	}
	return 3
}

// RawFrame is one frame as delivered by a capture device, before conversion.
type RawFrame struct {
	// Seq is the device-local monotonic sequence number
	Seq uint64
	// Timestamp is when the frame left the capture pipeline
	Timestamp time.Time
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Format of Data
	Format PixelFormat
	// Data holds Width*Height*Format.BytesPerPixel() bytes
	Data []byte
	// TraceID is a unique identifier for log correlation
	TraceID string
}

// Validate checks that Data matches the declared geometry.
func (f RawFrame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("capture: invalid raw frame size %dx%d", f.Width, f.Height)
	}
	if f.Format < FormatRGB || f.Format > FormatGray {
		return fmt.Errorf("capture: unknown pixel format %d", int(f.Format))
	}
	if want := f.Width * f.Height * f.Format.BytesPerPixel(); len(f.Data) != want {
		return fmt.Errorf("capture: raw frame %dx%d %s has %d bytes, want %d",
			f.Width, f.Height, f.Format, len(f.Data), want)
	}
	return nil
}

// Device is an open capture source.
//
// Read blocks until a frame is available, ctx is done, or the device's read
// timeout expires (ErrCaptureFailed). Release frees the device; calling it more
// than once is safe.
type Device interface {
	Read(ctx context.Context) (RawFrame, error)
	Release() error
}

// Opener opens capture devices by index.
type Opener interface {
	Open(ctx context.Context, deviceIndex int) (Device, error)
}

// Stats contains capture counters of a device.
type Stats struct {
	// FrameCount is the total number of frames delivered by the pipeline
	FrameCount uint64
	// FramesDropped is the number of frames dropped because Read was not waiting
	FramesDropped uint64
	// BytesRead is the total raw bytes received
	BytesRead uint64
	// Errors counts pipeline errors by category ("device", "format", ...)
	Errors map[string]uint64
}

// StatsReporter is implemented by devices that expose capture counters.
type StatsReporter interface {
	Stats() Stats
}
