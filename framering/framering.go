package framering

import "errors"

var (
	// ErrShapeMismatch is returned when a frame or segment does not match the
	// negotiated shape.
	ErrShapeMismatch = errors.New("framering: frame shape mismatch")
	// ErrWriterBusy is returned when another writer already owns the stream key.
	ErrWriterBusy = errors.New("framering: stream already has a writer")
	// ErrClosed is returned by operations on a closed Writer or Reader.
	ErrClosed = errors.New("framering: closed")
	// ErrInvalidKey is returned for an empty stream key.
	ErrInvalidKey = errors.New("framering: stream key is required")
)

// Transport opens writers and readers for a stream key.
//
// Implementations must guarantee:
//   - At most one live Writer per stream key
//   - Writer.Write rejects frames whose shape differs from the writer's shape
//   - Reader.Read never blocks waiting for a frame
//   - Reader tolerates the writer not existing yet (Read returns no frame)
type Transport interface {
	// Writer opens the stream for writing with the given shape.
	Writer(key string, shape Shape) (Writer, error)

	// Reader opens the stream for reading with the given shape.
	Reader(key string, shape Shape) (Reader, error)
}

// Writer commits frames to a stream.
type Writer interface {
	// Write copies the frame into the stream. Returns ErrShapeMismatch if
	// frame.Shape differs from the writer's shape or Pix has the wrong length.
	Write(frame Frame) error

	// Shape returns the negotiated shape.
	Shape() Shape

	// Close releases the stream. Idempotent.
	Close() error
}

// Reader returns the latest frame of a stream.
type Reader interface {
	// Read returns the most recent frame committed after the previous Read.
	// A nil frame with a nil error means there is no new frame (including the
	// case where no writer has created the stream yet).
	Read() (*Frame, Metadata, error)

	// Shape returns the negotiated shape.
	Shape() Shape

	// Close releases the reader. Idempotent.
	Close() error
}

func checkOpen(key string, shape Shape) error {
	if key == "" {
		return ErrInvalidKey
	}
	return shape.Validate()
}
