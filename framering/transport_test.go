package framering_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/e7canasta/orion-care-sensor/camera-shm/framering"
)

// transports returns every Transport implementation, each isolated per test.
func transports(t *testing.T) map[string]framering.Transport {
	t.Helper()

	shm, err := framering.NewShm(framering.ShmConfig{Dir: t.TempDir()})
	require.NoError(t, err)

	return map[string]framering.Transport{
		"shm":    shm,
		"memory": framering.NewMemory(),
	}
}

func mustFrame(t *testing.T, rows [][]uint8) framering.Frame {
	t.Helper()
	f, err := framering.FrameFromRows(rows)
	require.NoError(t, err)
	return f
}

// TestRoundTrip2x2 covers the basic producer/consumer exchange: a 2x2 frame
// written by the producer is returned unchanged by the next Read.
func TestRoundTrip2x2(t *testing.T) {
	for name, tr := range transports(t) {
		t.Run(name, func(t *testing.T) {
			shape := framering.Shape{Height: 2, Width: 2}

			w, err := tr.Writer("camera:0", shape)
			require.NoError(t, err)
			defer w.Close()

			r, err := tr.Reader("camera:0", shape)
			require.NoError(t, err)
			defer r.Close()

			require.NoError(t, w.Write(mustFrame(t, [][]uint8{{1, 2}, {3, 4}})))

			frame, meta, err := r.Read()
			require.NoError(t, err)
			require.NotNil(t, frame)
			assert.Equal(t, [][]uint8{{1, 2}, {3, 4}}, frame.Rows())
			assert.Equal(t, uint64(1), meta.Seq)
			assert.NotEmpty(t, meta.WriterID)

			// nothing new since the last Read
			frame, _, err = r.Read()
			require.NoError(t, err)
			assert.Nil(t, frame)
		})
	}
}

func TestWriteRejectsMismatchedShape(t *testing.T) {
	for name, tr := range transports(t) {
		t.Run(name, func(t *testing.T) {
			w, err := tr.Writer("cam", framering.Shape{Height: 2, Width: 2})
			require.NoError(t, err)
			defer w.Close()

			err = w.Write(mustFrame(t, [][]uint8{{1, 2, 3}, {4, 5, 6}}))
			require.Error(t, err)
			assert.True(t, errors.Is(err, framering.ErrShapeMismatch))

			bad := framering.Frame{Shape: framering.Shape{Height: 2, Width: 2}, Pix: []uint8{1}}
			err = w.Write(bad)
			assert.True(t, errors.Is(err, framering.ErrShapeMismatch))
		})
	}
}

func TestReaderToleratesMissingWriter(t *testing.T) {
	for name, tr := range transports(t) {
		t.Run(name, func(t *testing.T) {
			shape := framering.Shape{Height: 2, Width: 3}

			r, err := tr.Reader("late", shape)
			require.NoError(t, err)
			defer r.Close()

			for i := 0; i < 3; i++ {
				frame, _, err := r.Read()
				require.NoError(t, err)
				assert.Nil(t, frame)
			}

			w, err := tr.Writer("late", shape)
			require.NoError(t, err)
			defer w.Close()
			require.NoError(t, w.Write(framering.NewFrame(shape)))

			frame, _, err := r.Read()
			require.NoError(t, err)
			assert.NotNil(t, frame, "reader must pick up a writer that appears later")
		})
	}
}

func TestSecondWriterIsBusy(t *testing.T) {
	for name, tr := range transports(t) {
		t.Run(name, func(t *testing.T) {
			shape := framering.Shape{Height: 1, Width: 1}

			w1, err := tr.Writer("cam", shape)
			require.NoError(t, err)

			_, err = tr.Writer("cam", shape)
			require.Error(t, err)
			assert.True(t, errors.Is(err, framering.ErrWriterBusy))

			require.NoError(t, w1.Close())

			w2, err := tr.Writer("cam", shape)
			require.NoError(t, err, "key is free again after Close")
			require.NoError(t, w2.Close())
		})
	}
}

func TestReaderReportsDroppedFrames(t *testing.T) {
	for name, tr := range transports(t) {
		t.Run(name, func(t *testing.T) {
			shape := framering.Shape{Height: 1, Width: 1}

			w, err := tr.Writer("cam", shape)
			require.NoError(t, err)
			defer w.Close()
			r, err := tr.Reader("cam", shape)
			require.NoError(t, err)
			defer r.Close()

			require.NoError(t, w.Write(mustFrame(t, [][]uint8{{1}})))
			_, meta, err := r.Read()
			require.NoError(t, err)
			assert.Equal(t, uint64(0), meta.Dropped)

			for v := uint8(2); v <= 5; v++ {
				require.NoError(t, w.Write(mustFrame(t, [][]uint8{{v}})))
			}

			frame, meta, err := r.Read()
			require.NoError(t, err)
			require.NotNil(t, frame)
			assert.Equal(t, uint8(5), frame.At(0, 0), "latest frame wins")
			assert.Equal(t, uint64(5), meta.Seq)
			assert.Equal(t, uint64(3), meta.Dropped)
		})
	}
}

func TestReaderShapeMismatch(t *testing.T) {
	for name, tr := range transports(t) {
		t.Run(name, func(t *testing.T) {
			w, err := tr.Writer("cam", framering.Shape{Height: 2, Width: 2})
			require.NoError(t, err)
			defer w.Close()
			require.NoError(t, w.Write(framering.NewFrame(framering.Shape{Height: 2, Width: 2})))

			r, err := tr.Reader("cam", framering.Shape{Height: 4, Width: 4})
			require.NoError(t, err)
			defer r.Close()

			_, _, err = r.Read()
			require.Error(t, err)
			assert.True(t, errors.Is(err, framering.ErrShapeMismatch))
		})
	}
}

func TestReaderSeesWriterClosed(t *testing.T) {
	for name, tr := range transports(t) {
		t.Run(name, func(t *testing.T) {
			shape := framering.Shape{Height: 1, Width: 2}

			w, err := tr.Writer("cam", shape)
			require.NoError(t, err)
			r, err := tr.Reader("cam", shape)
			require.NoError(t, err)
			defer r.Close()

			require.NoError(t, w.Write(framering.NewFrame(shape)))
			frame, _, err := r.Read()
			require.NoError(t, err)
			require.NotNil(t, frame)

			require.NoError(t, w.Close())
			require.NoError(t, w.Close(), "Close is idempotent")

			frame, meta, err := r.Read()
			require.NoError(t, err)
			assert.Nil(t, frame)
			assert.True(t, meta.WriterClosed)

			assert.ErrorIs(t, w.Write(framering.NewFrame(shape)), framering.ErrClosed)
		})
	}
}

func TestOpenValidation(t *testing.T) {
	for name, tr := range transports(t) {
		t.Run(name, func(t *testing.T) {
			_, err := tr.Writer("", framering.Shape{Height: 1, Width: 1})
			assert.ErrorIs(t, err, framering.ErrInvalidKey)

			_, err = tr.Reader("cam", framering.Shape{Height: 0, Width: 1})
			assert.Error(t, err)
		})
	}
}

func TestShmPathSanitizesKey(t *testing.T) {
	dir := t.TempDir()
	shm, err := framering.NewShm(framering.ShmConfig{Dir: dir})
	require.NoError(t, err)

	assert.Equal(t, dir+"/camera_0.ring", shm.Path("camera:0"))
	assert.Equal(t, dir+"/a_b_c.ring", shm.Path("a/b c"))
}

func TestNewShmValidation(t *testing.T) {
	_, err := framering.NewShm(framering.ShmConfig{Dir: t.TempDir(), Slots: 1})
	assert.Error(t, err)

	_, err = framering.NewShm(framering.ShmConfig{Dir: "/definitely/not/here"})
	assert.Error(t, err)
}

// TestWrittenShapeProperty: for any shape, every frame accepted by the writer
// comes back from the reader with exactly that shape and content.
func TestWrittenShapeProperty(t *testing.T) {
	dir := t.TempDir()
	shm, err := framering.NewShm(framering.ShmConfig{Dir: dir})
	require.NoError(t, err)

	rapid.Check(t, func(rt *rapid.T) {
		shape := framering.Shape{
			Height: rapid.IntRange(1, 32).Draw(rt, "height"),
			Width:  rapid.IntRange(1, 32).Draw(rt, "width"),
		}
		pix := rapid.SliceOfN(rapid.Uint8(), shape.Size(), shape.Size()).Draw(rt, "pix")

		w, err := shm.Writer("prop", shape)
		if err != nil {
			rt.Fatalf("Writer: %v", err)
		}
		defer w.Close()
		r, err := shm.Reader("prop", shape)
		if err != nil {
			rt.Fatalf("Reader: %v", err)
		}
		defer r.Close()

		if err := w.Write(framering.Frame{Shape: shape, Pix: pix}); err != nil {
			rt.Fatalf("Write: %v", err)
		}

		frame, _, err := r.Read()
		if err != nil || frame == nil {
			rt.Fatalf("Read: frame=%v err=%v", frame, err)
		}
		if frame.Shape != shape {
			rt.Fatalf("shape = %s, want %s", frame.Shape, shape)
		}
		for i := range pix {
			if frame.Pix[i] != pix[i] {
				rt.Fatalf("pixel %d = %d, want %d", i, frame.Pix[i], pix[i])
			}
		}
	})
}
