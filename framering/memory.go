package framering

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Transport with Shm semantics.
//
// Each stream key owns a single-slot mailbox: Write overwrites the slot
// (latest frame wins), and every Reader tracks the last sequence it returned.
//
// Thread-safety: all methods safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	streams map[string]*mailbox
}

// NewMemory creates an empty in-process transport.
func NewMemory() *Memory {
	return &Memory{streams: make(map[string]*mailbox)}
}

// mailbox holds the latest frame of one stream.
type mailbox struct {
	mu sync.Mutex

	shape     Shape
	frame     *Frame // latest committed frame (nil = none yet)
	seq       uint64
	at        time.Time
	writerID  string
	hasWriter bool
	closed    bool

	overwrites uint64 // atomic: frames replaced before any reader saw them
	readSeq    uint64 // highest seq handed to any reader
}

func (m *Memory) stream(key string) *mailbox {
	m.mu.Lock()
	defer m.mu.Unlock()

	mb, ok := m.streams[key]
	if !ok {
		mb = &mailbox{}
		m.streams[key] = mb
	}
	return mb
}

// Writer claims the stream key. Returns ErrWriterBusy if another writer holds it.
func (m *Memory) Writer(key string, shape Shape) (Writer, error) {
	if err := checkOpen(key, shape); err != nil {
		return nil, err
	}

	mb := m.stream(key)

	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.hasWriter {
		return nil, fmt.Errorf("%w: %s", ErrWriterBusy, key)
	}

	// New writer generation: readers restart from scratch.
	mb.hasWriter = true
	mb.closed = false
	mb.shape = shape
	mb.frame = nil
	mb.seq = 0
	mb.readSeq = 0
	mb.writerID = uuid.NewString()

	return &memoryWriter{key: key, shape: shape, mb: mb}, nil
}

// Reader returns a reader for key; the writer does not need to exist yet.
func (m *Memory) Reader(key string, shape Shape) (Reader, error) {
	if err := checkOpen(key, shape); err != nil {
		return nil, err
	}
	return &memoryReader{key: key, shape: shape, mb: m.stream(key)}, nil
}

// Overwrites returns how many frames of key were replaced before any reader
// consumed them. Drops are expected when readers are slower than the writer.
func (m *Memory) Overwrites(key string) uint64 {
	return atomic.LoadUint64(&m.stream(key).overwrites)
}

type memoryWriter struct {
	key    string
	shape  Shape
	mb     *mailbox
	closed bool
}

func (w *memoryWriter) Shape() Shape { return w.shape }

func (w *memoryWriter) Write(frame Frame) error {
	if w.closed {
		return ErrClosed
	}
	if frame.Shape != w.shape {
		return fmt.Errorf("%w: got %s, stream %q is %s", ErrShapeMismatch, frame.Shape, w.key, w.shape)
	}
	if err := frame.Validate(); err != nil {
		return err
	}

	copied := frame.Clone()

	w.mb.mu.Lock()
	if w.mb.frame != nil && w.mb.readSeq < w.mb.seq {
		atomic.AddUint64(&w.mb.overwrites, 1)
	}
	w.mb.seq++
	w.mb.frame = &copied
	w.mb.at = time.Now()
	w.mb.mu.Unlock()

	return nil
}

func (w *memoryWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	w.mb.mu.Lock()
	w.mb.hasWriter = false
	w.mb.closed = true
	w.mb.mu.Unlock()
	return nil
}

type memoryReader struct {
	key      string
	shape    Shape
	mb       *mailbox
	writerID string
	lastSeq  uint64
	closed   bool
}

func (r *memoryReader) Shape() Shape { return r.shape }

func (r *memoryReader) Read() (*Frame, Metadata, error) {
	if r.closed {
		return nil, Metadata{}, ErrClosed
	}

	r.mb.mu.Lock()
	defer r.mb.mu.Unlock()

	if r.mb.writerID == "" {
		return nil, Metadata{}, nil
	}
	if r.mb.shape != r.shape {
		return nil, Metadata{}, fmt.Errorf("%w: stream %q is %s, reader wants %s",
			ErrShapeMismatch, r.key, r.mb.shape, r.shape)
	}
	if r.mb.writerID != r.writerID {
		r.writerID = r.mb.writerID
		r.lastSeq = 0
	}
	if r.mb.frame == nil || r.mb.seq == r.lastSeq {
		return nil, Metadata{WriterClosed: r.mb.closed}, nil
	}

	var dropped uint64
	if r.lastSeq != 0 && r.mb.seq > r.lastSeq+1 {
		dropped = r.mb.seq - r.lastSeq - 1
	}
	r.lastSeq = r.mb.seq
	if r.mb.seq > r.mb.readSeq {
		r.mb.readSeq = r.mb.seq
	}

	frame := r.mb.frame.Clone()
	return &frame, Metadata{
		Seq:          r.mb.seq,
		Timestamp:    r.mb.at,
		Dropped:      dropped,
		WriterID:     r.mb.writerID,
		WriterClosed: r.mb.closed,
	}, nil
}

func (r *memoryReader) Close() error {
	r.closed = true
	return nil
}
