package camerashm

import (
	"errors"

	"github.com/e7canasta/orion-care-sensor/camera-shm/capture"
)

// Fatal errors. Run returns them wrapped; they abort the session.
var (
	// ErrDeviceUnavailable: the capture device could not be opened.
	ErrDeviceUnavailable = capture.ErrDeviceUnavailable
	// ErrTransportUnavailable: the frame transport could not be opened or
	// rejected a write.
	ErrTransportUnavailable = errors.New("camerashm: transport unavailable")
	// ErrSinkUnavailable: the display sink could not be opened.
	ErrSinkUnavailable = errors.New("camerashm: display sink unavailable")
)

// Transient errors. Counted and logged; the loop skips the iteration.
var (
	// ErrCaptureFailed: one camera read produced no usable frame.
	ErrCaptureFailed = capture.ErrCaptureFailed
	// ErrReadMiss: the transport had no new frame.
	ErrReadMiss = errors.New("camerashm: no new frame")
)

// Stop reasons, reported by StopSignal.Reason and TerminalModel.StopReason.
var (
	// ErrTaskRevoked: the registry reported the task REVOKED.
	ErrTaskRevoked = errors.New("camerashm: task revoked")
	// ErrLocalQuit: the display sink asked to quit.
	ErrLocalQuit = errors.New("camerashm: local quit requested")
	// ErrStopRequested is the reason recorded by Stop(nil).
	ErrStopRequested = errors.New("camerashm: stop requested")
)
