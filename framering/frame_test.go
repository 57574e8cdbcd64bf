package framering_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-care-sensor/camera-shm/framering"
)

func TestParseShape(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    framering.Shape
		wantErr bool
	}{
		{name: "default camera shape", in: "480x640", want: framering.Shape{Height: 480, Width: 640}},
		{name: "upper case separator", in: "2X2", want: framering.Shape{Height: 2, Width: 2}},
		{name: "surrounding spaces", in: " 1x3 ", want: framering.Shape{Height: 1, Width: 3}},
		{name: "zero height", in: "0x640", wantErr: true},
		{name: "negative width", in: "480x-1", wantErr: true},
		{name: "missing width", in: "480", wantErr: true},
		{name: "not a number", in: "axb", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := framering.ParseShape(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.String(), got.String())
		})
	}
}

func TestFrameFromRows(t *testing.T) {
	f, err := framering.FrameFromRows([][]uint8{{1, 2}, {3, 4}})
	require.NoError(t, err)

	assert.Equal(t, framering.Shape{Height: 2, Width: 2}, f.Shape)
	assert.Equal(t, []uint8{1, 2, 3, 4}, f.Pix)
	assert.Equal(t, uint8(3), f.At(1, 0))
	assert.Equal(t, [][]uint8{{1, 2}, {3, 4}}, f.Rows())

	_, err = framering.FrameFromRows([][]uint8{{1, 2}, {3}})
	assert.Error(t, err, "ragged rows must be rejected")

	_, err = framering.FrameFromRows(nil)
	assert.Error(t, err)
}

func TestFrameValidate(t *testing.T) {
	f := framering.NewFrame(framering.Shape{Height: 2, Width: 3})
	require.NoError(t, f.Validate())

	f.Pix = f.Pix[:5]
	err := f.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, framering.ErrShapeMismatch))
}

func TestFrameCloneIsDeep(t *testing.T) {
	f, err := framering.FrameFromRows([][]uint8{{9, 9}})
	require.NoError(t, err)

	c := f.Clone()
	c.Pix[0] = 0
	assert.Equal(t, uint8(9), f.Pix[0])
}
