package gstcam

import (
	"strings"

	"github.com/tinyzimmer/go-gst/gst"
)

// ErrorCategory represents the classification of GStreamer errors for telemetry
type ErrorCategory int

const (
	// ErrCategoryDevice indicates the camera is missing, busy or was unplugged
	ErrCategoryDevice ErrorCategory = iota
	// ErrCategoryPermission indicates the process may not open the device node
	ErrCategoryPermission
	// ErrCategoryFormat indicates caps negotiation or pixel format failures
	ErrCategoryFormat
	// ErrCategoryUnknown indicates unclassified errors
	ErrCategoryUnknown
)

// String returns a human-readable string representation of the error category
func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryDevice:
		return "device"
	case ErrCategoryPermission:
		return "permission"
	case ErrCategoryFormat:
		return "format"
	default:
		return "unknown"
	}
}

// ClassifyGStreamerError categorizes a GStreamer error for telemetry.
//
// go-gst's GError does not expose Domain(), so classification relies on
// message heuristics (see Classify).
func ClassifyGStreamerError(gerr *gst.GError) ErrorCategory {
	if gerr == nil {
		return ErrCategoryUnknown
	}
	return Classify(gerr.Error(), gerr.DebugString())
}

// Classify categorizes an error from its message and debug string.
//
// Priority: permission (most specific), then format, then device.
func Classify(errMsg, debugStr string) ErrorCategory {
	combined := strings.ToLower(errMsg + " " + debugStr)

	switch {
	case containsAny(combined, permissionKeywords):
		return ErrCategoryPermission
	case containsAny(combined, formatKeywords):
		return ErrCategoryFormat
	case containsAny(combined, deviceKeywords):
		return ErrCategoryDevice
	default:
		return ErrCategoryUnknown
	}
}

var (
	permissionKeywords = []string{
		"permission denied",
		"eacces",
		"not permitted",
	}

	formatKeywords = []string{
		"not negotiated",
		"negotiation",
		"caps",
		"format",
		"no decoder",
		"missing plugin",
	}

	deviceKeywords = []string{
		"cannot identify device",
		"no such device",
		"no such file",
		"device or resource busy",
		"busy",
		"could not open",
		"failed to open",
		"resource not found",
		"disconnected",
		"v4l2",
	}
)

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
