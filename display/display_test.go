package display

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-care-sensor/camera-shm/framering"
)

func TestDiscardCountsAndKeepsLast(t *testing.T) {
	d := NewDiscard(0)
	shape := framering.Shape{Height: 1, Width: 2}

	for v := uint8(1); v <= 3; v++ {
		quit, err := d.Show(framering.Frame{Shape: shape, Pix: []uint8{v, v}})
		require.NoError(t, err)
		assert.False(t, quit, "no frame limit configured")
	}

	assert.Equal(t, 3, d.Frames())
	require.NotNil(t, d.Last())
	assert.Equal(t, []uint8{3, 3}, d.Last().Pix)
}

func TestDiscardFrameLimitRequestsQuit(t *testing.T) {
	d := NewDiscard(2)
	frame := framering.NewFrame(framering.Shape{Height: 1, Width: 1})

	quit, err := d.Show(frame)
	require.NoError(t, err)
	assert.False(t, quit)

	quit, err = d.Show(frame)
	require.NoError(t, err)
	assert.True(t, quit, "second frame reaches the limit")
}

func TestDiscardShowAfterClose(t *testing.T) {
	d := NewDiscard(0)
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())

	quit, err := d.Show(framering.NewFrame(framering.Shape{Height: 1, Width: 1}))
	assert.True(t, quit)
	assert.ErrorIs(t, err, framering.ErrClosed)
	assert.Nil(t, d.Last())
}

func TestDiscardLastIsACopy(t *testing.T) {
	d := NewDiscard(0)
	frame := framering.Frame{Shape: framering.Shape{Height: 1, Width: 1}, Pix: []uint8{7}}

	_, err := d.Show(frame)
	require.NoError(t, err)

	frame.Pix[0] = 0
	last := d.Last()
	assert.Equal(t, uint8(7), last.Pix[0])

	last.Pix[0] = 1
	assert.Equal(t, uint8(7), d.Last().Pix[0])
}

func TestDiscardOpener(t *testing.T) {
	sink, err := DiscardOpener{MaxFrames: 1}.Open("camera:0", framering.Shape{Height: 2, Width: 2})
	require.NoError(t, err)
	defer sink.Close()

	quit, err := sink.Show(framering.NewFrame(framering.Shape{Height: 2, Width: 2}))
	require.NoError(t, err)
	assert.True(t, quit)

	_, err = DiscardOpener{}.Open("camera:0", framering.Shape{})
	assert.Error(t, err)
}

func TestOpenerFunc(t *testing.T) {
	var gotKey string
	opener := OpenerFunc(func(key string, shape framering.Shape) (Sink, error) {
		gotKey = key
		return NewDiscard(0), nil
	})

	sink, err := opener.Open("k", framering.Shape{Height: 1, Width: 1})
	require.NoError(t, err)
	assert.NotNil(t, sink)
	assert.Equal(t, "k", gotKey)
}
