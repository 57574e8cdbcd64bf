package framering

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Shape is the fixed frame geometry agreed by writer and readers.
type Shape struct {
	Height int `yaml:"height"`
	Width  int `yaml:"width"`
}

// Validate checks that both dimensions are positive.
func (s Shape) Validate() error {
	if s.Height <= 0 || s.Width <= 0 {
		return fmt.Errorf("framering: invalid shape %dx%d (height and width must be > 0)", s.Height, s.Width)
	}
	return nil
}

// Size returns the number of single-channel samples in a frame of this shape.
func (s Shape) Size() int {
	return s.Height * s.Width
}

// String formats the shape as "HxW", the same form ParseShape accepts.
func (s Shape) String() string {
	return fmt.Sprintf("%dx%d", s.Height, s.Width)
}

// ParseShape parses "HxW" (e.g. "480x640").
func ParseShape(v string) (Shape, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(v)), "x")
	if len(parts) != 2 {
		return Shape{}, fmt.Errorf("framering: invalid shape %q (want HEIGHTxWIDTH)", v)
	}

	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return Shape{}, fmt.Errorf("framering: invalid shape height %q: %w", parts[0], err)
	}
	w, err := strconv.Atoi(parts[1])
	if err != nil {
		return Shape{}, fmt.Errorf("framering: invalid shape width %q: %w", parts[1], err)
	}

	s := Shape{Height: h, Width: w}
	if err := s.Validate(); err != nil {
		return Shape{}, err
	}
	return s, nil
}

// Frame is a single-channel (grayscale) 8-bit image in row-major order.
//
// Ownership: a Frame belongs to whichever side is processing it. Writers copy
// Pix into the transport and readers receive their own copy, so a Frame is
// never mutated concurrently.
type Frame struct {
	Shape Shape
	Pix   []uint8
}

// NewFrame allocates a zeroed frame of the given shape.
func NewFrame(shape Shape) Frame {
	return Frame{Shape: shape, Pix: make([]uint8, shape.Size())}
}

// FrameFromRows builds a frame from a rectangular 2-D slice.
func FrameFromRows(rows [][]uint8) (Frame, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return Frame{}, fmt.Errorf("framering: empty frame rows")
	}

	shape := Shape{Height: len(rows), Width: len(rows[0])}
	f := NewFrame(shape)
	for y, row := range rows {
		if len(row) != shape.Width {
			return Frame{}, fmt.Errorf("framering: ragged frame row %d (len %d, want %d)", y, len(row), shape.Width)
		}
		copy(f.Pix[y*shape.Width:], row)
	}
	return f, nil
}

// Validate checks that Pix holds exactly Shape.Size() samples.
func (f Frame) Validate() error {
	if err := f.Shape.Validate(); err != nil {
		return err
	}
	if len(f.Pix) != f.Shape.Size() {
		return fmt.Errorf("%w: %d samples for shape %s", ErrShapeMismatch, len(f.Pix), f.Shape)
	}
	return nil
}

// At returns the sample at row y, column x.
func (f Frame) At(y, x int) uint8 {
	return f.Pix[y*f.Shape.Width+x]
}

// Rows returns a copy of the frame as a 2-D slice.
func (f Frame) Rows() [][]uint8 {
	rows := make([][]uint8, f.Shape.Height)
	for y := range rows {
		rows[y] = append([]uint8(nil), f.Pix[y*f.Shape.Width:(y+1)*f.Shape.Width]...)
	}
	return rows
}

// Clone returns a deep copy.
func (f Frame) Clone() Frame {
	return Frame{Shape: f.Shape, Pix: append([]uint8(nil), f.Pix...)}
}

// Metadata describes a frame returned by Reader.Read.
type Metadata struct {
	// Seq is the writer-assigned sequence number (starts at 1).
	Seq uint64
	// Timestamp is when the writer committed the frame.
	Timestamp time.Time
	// Dropped counts frames committed since the previous Read that this
	// reader never saw (latest-frame-wins).
	Dropped uint64
	// WriterID identifies the writer generation that produced the frame.
	WriterID string
	// WriterClosed is set when the segment exists but its writer has closed
	// it; the reader keeps polling in case a new writer takes over.
	WriterClosed bool
}
