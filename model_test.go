package camerashm_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	camerashm "github.com/e7canasta/orion-care-sensor/camera-shm"
	"github.com/e7canasta/orion-care-sensor/camera-shm/framering"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    camerashm.Role
		wantErr bool
	}{
		{in: "producer", want: camerashm.RoleProducer},
		{in: "write", want: camerashm.RoleProducer},
		{in: " Writer ", want: camerashm.RoleProducer},
		{in: "consumer", want: camerashm.RoleConsumer},
		{in: "READ", want: camerashm.RoleConsumer},
		{in: "reader", want: camerashm.RoleConsumer},
		{in: "", wantErr: true},
		{in: "both", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := camerashm.ParseRole(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStreamParametersValidate(t *testing.T) {
	valid := camerashm.StreamParameters{StreamKey: "camera:0", Shape: camerashm.DefaultShape, Role: camerashm.RoleConsumer}
	require.NoError(t, valid.Validate())

	noKey := valid
	noKey.StreamKey = ""
	assert.Error(t, noKey.Validate())

	badShape := valid
	badShape.Shape = framering.Shape{Height: 0, Width: 640}
	assert.Error(t, badShape.Validate())

	badRole := valid
	badRole.Role = camerashm.Role(7)
	assert.Error(t, badRole.Validate())

	assert.Error(t, camerashm.CaptureArguments{DeviceIndex: -1}.Validate())
	assert.NoError(t, camerashm.CaptureArguments{DeviceIndex: 2}.Validate())
	assert.Error(t, camerashm.TaskHandle{}.Validate())
}

func TestStreamParametersFromYAML(t *testing.T) {
	var p camerashm.StreamParameters
	err := yaml.Unmarshal([]byte("stream_key: camera:1\nshape:\n  height: 2\n  width: 3\nrole: read\n"), &p)
	require.NoError(t, err)

	assert.Equal(t, camerashm.StreamParameters{
		StreamKey: "camera:1",
		Shape:     framering.Shape{Height: 2, Width: 3},
		Role:      camerashm.RoleConsumer,
	}, p)

	err = yaml.Unmarshal([]byte("role: sideways\n"), &p)
	assert.Error(t, err)
}

func TestTerminalModelYAML(t *testing.T) {
	m := camerashm.TerminalModel{
		SessionID:     "s-1",
		Params:        camerashm.StreamParameters{StreamKey: "camera:0", Shape: camerashm.DefaultShape, Role: camerashm.RoleProducer},
		Task:          camerashm.TaskHandle{TaskID: "task-1"},
		State:         camerashm.StateStopped,
		StopReason:    camerashm.ErrTaskRevoked.Error(),
		FramesWritten: 42,
		Duration:      1500 * time.Millisecond,
	}

	out, err := yaml.Marshal(m)
	require.NoError(t, err)

	text := string(out)
	assert.Contains(t, text, "role: producer")
	assert.Contains(t, text, "state: stopped")
	assert.Contains(t, text, "frames_written: 42")
	assert.Contains(t, text, "task revoked")
	assert.NotContains(t, text, "error:")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", camerashm.StateIdle.String())
	assert.Equal(t, "running", camerashm.StateRunning.String())
	assert.Equal(t, "stopping", camerashm.StateStopping.String())
	assert.Equal(t, "stopped", camerashm.StateStopped.String())
	assert.Equal(t, "unknown", camerashm.State(9).String())
	assert.Equal(t, "unknown", camerashm.Role(9).String())
}
