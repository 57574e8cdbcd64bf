// Package display provides consumption sinks for the consumer side of a
// stream session.
//
// A Sink receives every frame the consumer reads. Returning quit=true from
// Show is the consumer-local cancellation path (the user closed the window,
// a frame budget ran out), distinct from registry-driven revocation.
package display

import (
	"fmt"
	"sync"

	"github.com/e7canasta/orion-care-sensor/camera-shm/framering"
)

// Sink consumes frames.
type Sink interface {
	// Show hands one frame to the sink. quit=true asks the session to stop.
	Show(frame framering.Frame) (quit bool, err error)
	// Close releases the sink. Safe to call more than once.
	Close() error
}

// Opener creates a sink for a stream.
type Opener interface {
	Open(streamKey string, shape framering.Shape) (Sink, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(streamKey string, shape framering.Shape) (Sink, error)

// Open calls f.
func (f OpenerFunc) Open(streamKey string, shape framering.Shape) (Sink, error) {
	return f(streamKey, shape)
}

// DiscardOpener opens Discard sinks.
type DiscardOpener struct {
	// MaxFrames makes the sink request quit after that many frames (0 = never)
	MaxFrames int
}

// Open returns a new Discard sink.
func (o DiscardOpener) Open(streamKey string, shape framering.Shape) (Sink, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("display: %w", err)
	}
	return NewDiscard(o.MaxFrames), nil
}

// Discard is a headless sink that counts frames and keeps the latest one.
//
// Thread-safety: all methods safe for concurrent use.
type Discard struct {
	mu        sync.Mutex
	maxFrames int
	frames    int
	last      *framering.Frame
	closed    bool
}

// NewDiscard creates a Discard sink. maxFrames > 0 requests quit once that
// many frames were shown.
func NewDiscard(maxFrames int) *Discard {
	return &Discard{maxFrames: maxFrames}
}

// Show records the frame.
func (d *Discard) Show(frame framering.Frame) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return true, framering.ErrClosed
	}

	d.frames++
	copied := frame.Clone()
	d.last = &copied

	return d.maxFrames > 0 && d.frames >= d.maxFrames, nil
}

// Close marks the sink closed.
func (d *Discard) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

// Frames returns the number of frames shown.
func (d *Discard) Frames() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frames
}

// Last returns a copy of the latest frame shown, or nil.
func (d *Discard) Last() *framering.Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last == nil {
		return nil
	}
	c := d.last.Clone()
	return &c
}
