package gstcam

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		msg    string
		debug  string
		expect ErrorCategory
	}{
		{"missing device", "Cannot identify device '/dev/video3'.", "v4l2_calls.c(609): No such file or directory", ErrCategoryDevice},
		{"busy device", "Could not open device '/dev/video0' for reading and writing.", "Device or resource busy", ErrCategoryDevice},
		{"permission", "Could not open device '/dev/video0' for reading and writing.", "system error: Permission denied", ErrCategoryPermission},
		{"caps", "Internal data stream error.", "streaming stopped, reason not-negotiated (not negotiated)", ErrCategoryFormat},
		{"unplugged", "Could not read from resource.", "Device disconnected", ErrCategoryDevice},
		{"unknown", "something odd", "", ErrCategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.msg, tt.debug)
			assert.Equal(t, tt.expect, got, "category %s", got)
		})
	}
}

func TestClassifyGStreamerErrorNil(t *testing.T) {
	assert.Equal(t, ErrCategoryUnknown, ClassifyGStreamerError(nil))
}

func TestErrorCategoryString(t *testing.T) {
	assert.Equal(t, "device", ErrCategoryDevice.String())
	assert.Equal(t, "permission", ErrCategoryPermission.String())
	assert.Equal(t, "format", ErrCategoryFormat.String())
	assert.Equal(t, "unknown", ErrorCategory(99).String())
}

func TestErrorCountersSnapshot(t *testing.T) {
	var c ErrorCounters
	c.Add(ErrCategoryDevice)
	c.Add(ErrCategoryDevice)
	c.Add(ErrCategoryFormat)
	c.Add(ErrorCategory(42))

	snap := c.Snapshot()
	assert.Equal(t, uint64(2), snap["device"])
	assert.Equal(t, uint64(1), snap["format"])
	assert.Equal(t, uint64(0), snap["permission"])
	assert.Equal(t, uint64(1), snap["unknown"])
}

func TestBuildCaps(t *testing.T) {
	assert.Equal(t, "video/x-raw,format=RGB,width=640,height=480", BuildCaps(640, 480, 0))
	assert.Equal(t, "video/x-raw,format=RGB,width=640,height=480,framerate=15/1", BuildCaps(640, 480, 15))
	assert.Equal(t, "video/x-raw,format=RGB,width=2,height=2,framerate=1/2", BuildCaps(2, 2, 0.5))
}
