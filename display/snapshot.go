package display

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-care-sensor/camera-shm/framering"
)

// SnapshotOpener opens Snapshot sinks wrapping the sinks of Next.
type SnapshotOpener struct {
	// Next opens the wrapped sink (required)
	Next Opener
	// Dir receives the image files (created if missing)
	Dir string
	// Format is "png" (default) or "jpeg"
	Format string
	// JPEGQuality 1-100 (default 90, only for jpeg)
	JPEGQuality int
	// Every saves one frame out of Every (default 1)
	Every int
}

// Open validates the configuration and opens the wrapped sink.
func (o SnapshotOpener) Open(streamKey string, shape framering.Shape) (Sink, error) {
	if o.Next == nil {
		return nil, fmt.Errorf("display: snapshot requires a wrapped sink")
	}
	s, err := NewSnapshot(nil, streamKey, o.Dir, o.Format, o.JPEGQuality, o.Every)
	if err != nil {
		return nil, err
	}
	next, err := o.Next.Open(streamKey, shape)
	if err != nil {
		return nil, err
	}
	s.next = next
	return s, nil
}

// Snapshot saves frames to disk as grayscale images and forwards every frame
// to the wrapped sink.
//
// Filename format: {stream}_{seq:06d}_{timestamp}.{ext}
// Example: camera_0_000042_20251105_234517.123.png
//
// Thread-safety: Show must be called from a single goroutine (the consumer
// loop); Stats is safe for concurrent use.
type Snapshot struct {
	next        Sink
	prefix      string
	dir         string
	format      string
	jpegQuality int
	every       int

	shown   uint64
	saved   atomic.Uint64
	dropped atomic.Uint64
}

// NewSnapshot creates a Snapshot sink in front of next.
func NewSnapshot(next Sink, streamKey, dir, format string, jpegQuality, every int) (*Snapshot, error) {
	if dir == "" {
		return nil, fmt.Errorf("display: snapshot directory is required")
	}
	if format == "" {
		format = "png"
	}
	if format != "png" && format != "jpeg" {
		return nil, fmt.Errorf("display: unsupported snapshot format: %s (must be png or jpeg)", format)
	}
	if jpegQuality == 0 {
		jpegQuality = 90
	}
	if jpegQuality < 1 || jpegQuality > 100 {
		return nil, fmt.Errorf("display: invalid JPEG quality %d (must be 1-100)", jpegQuality)
	}
	if every <= 0 {
		every = 1
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("display: failed to create snapshot directory: %w", err)
	}

	return &Snapshot{
		next:        next,
		prefix:      sanitize(streamKey),
		dir:         dir,
		format:      format,
		jpegQuality: jpegQuality,
		every:       every,
	}, nil
}

// Show saves the frame if it is due, then forwards it.
//
// A failed save is counted and reported as the error, but never asks the
// session to quit on its own.
func (s *Snapshot) Show(frame framering.Frame) (bool, error) {
	s.shown++

	var saveErr error
	if (s.shown-1)%uint64(s.every) == 0 {
		saveErr = s.save(frame, s.shown)
	}

	quit := false
	if s.next != nil {
		var err error
		quit, err = s.next.Show(frame)
		if err != nil {
			return quit, err
		}
	}
	return quit, saveErr
}

func (s *Snapshot) save(frame framering.Frame, n uint64) error {
	if err := frame.Validate(); err != nil {
		s.dropped.Add(1)
		return err
	}

	img := &image.Gray{
		Pix:    frame.Pix,
		Stride: frame.Shape.Width,
		Rect:   image.Rect(0, 0, frame.Shape.Width, frame.Shape.Height),
	}

	name := fmt.Sprintf("%s_%06d_%s.%s", s.prefix, n, time.Now().Format("20060102_150405.000"), s.format)
	file, err := os.Create(filepath.Join(s.dir, name))
	if err != nil {
		s.dropped.Add(1)
		return fmt.Errorf("display: failed to create snapshot: %w", err)
	}
	defer file.Close()

	switch s.format {
	case "png":
		err = png.Encode(file, img)
	case "jpeg":
		err = jpeg.Encode(file, img, &jpeg.Options{Quality: s.jpegQuality})
	}
	if err != nil {
		s.dropped.Add(1)
		return fmt.Errorf("display: %s encode failed: %w", s.format, err)
	}

	s.saved.Add(1)
	return nil
}

// Close closes the wrapped sink.
func (s *Snapshot) Close() error {
	if s.next == nil {
		return nil
	}
	return s.next.Close()
}

// Stats returns how many frames were saved and how many saves failed.
func (s *Snapshot) Stats() (saved, dropped uint64) {
	return s.saved.Load(), s.dropped.Load()
}

func sanitize(key string) string {
	out := []byte(key)
	for i, c := range out {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '.':
		default:
			out[i] = '_'
		}
	}
	return string(out)
}
