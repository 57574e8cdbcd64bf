package framering

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/e7canasta/orion-care-sensor/camera-shm/framering/internal/ring"
)

const (
	// DefaultShmDir is the tmpfs mount backing POSIX shared memory on Linux.
	DefaultShmDir = "/dev/shm"
	// DefaultSlots keeps a few frames so a reader copying the latest slot is
	// rarely overtaken by the writer.
	DefaultSlots = 4

	// maxTornReads bounds the retries of a Read that raced the writer.
	maxTornReads = 3
)

// ShmConfig configures the shared-memory transport.
type ShmConfig struct {
	// Dir holds one segment file per stream key (default /dev/shm).
	Dir string
	// Slots is the ring depth (default 4, minimum 2).
	Slots int
}

// Shm is a Transport backed by mmap'd files.
type Shm struct {
	dir   string
	slots int
}

// NewShm creates a shared-memory transport with fail-fast validation.
func NewShm(cfg ShmConfig) (*Shm, error) {
	if cfg.Dir == "" {
		cfg.Dir = DefaultShmDir
	}
	if cfg.Slots == 0 {
		cfg.Slots = DefaultSlots
	}
	if cfg.Slots < 2 {
		return nil, fmt.Errorf("framering: invalid slot count %d (must be >= 2)", cfg.Slots)
	}

	info, err := os.Stat(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("framering: segment dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("framering: segment dir %s is not a directory", cfg.Dir)
	}

	return &Shm{dir: cfg.Dir, slots: cfg.Slots}, nil
}

// Path returns the segment file used for a stream key.
//
// Characters outside [A-Za-z0-9._-] are replaced with '_', so "camera:0"
// maps to "<dir>/camera_0.ring".
func (t *Shm) Path(key string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, key)
	return filepath.Join(t.dir, name+".ring")
}

// Writer creates (or takes over) the segment for key and initializes it for
// shape. A second live writer on the same key gets ErrWriterBusy.
func (t *Shm) Writer(key string, shape Shape) (Writer, error) {
	if err := checkOpen(key, shape); err != nil {
		return nil, err
	}

	path := t.Path(key)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o660)
	if err != nil {
		return nil, fmt.Errorf("framering: open segment %s: %w", path, err)
	}

	fd := int(f.Fd())
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", ErrWriterBusy, key)
		}
		return nil, fmt.Errorf("framering: lock segment %s: %w", path, err)
	}

	// The file only grows: readers still mapped with an older geometry must
	// never touch pages past EOF.
	size := ring.SegmentSize(shape.Height, shape.Width, t.slots)
	if err := growSegment(f, int64(size)); err != nil {
		unix.Flock(fd, unix.LOCK_UN)
		f.Close()
		return nil, fmt.Errorf("framering: size segment %s: %w", path, err)
	}

	mem, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Flock(fd, unix.LOCK_UN)
		f.Close()
		return nil, fmt.Errorf("framering: mmap segment %s: %w", path, err)
	}

	r, err := ring.New(mem)
	if err == nil {
		id := uuid.New()
		err = r.Init(shape.Height, shape.Width, t.slots, id)
		if err == nil {
			slog.Info("framering: writer opened",
				"stream_key", key,
				"path", path,
				"shape", shape.String(),
				"slots", t.slots,
				"writer_id", id.String(),
			)
			return &shmWriter{key: key, shape: shape, file: f, mem: mem, ring: r, id: id}, nil
		}
	}

	unix.Munmap(mem)
	unix.Flock(fd, unix.LOCK_UN)
	f.Close()
	return nil, fmt.Errorf("framering: init segment %s: %w", path, err)
}

func growSegment(f *os.File, size int64) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() >= size {
		return nil
	}
	return f.Truncate(size)
}

// Reader returns a reader for key. The segment is attached lazily on Read,
// so the writer does not need to exist yet.
func (t *Shm) Reader(key string, shape Shape) (Reader, error) {
	if err := checkOpen(key, shape); err != nil {
		return nil, err
	}
	return &shmReader{key: key, path: t.Path(key), shape: shape}, nil
}

type shmWriter struct {
	key   string
	shape Shape
	file  *os.File
	mem   []byte
	ring  *ring.Ring
	id    uuid.UUID
	seq   uint64

	closed bool
}

func (w *shmWriter) Shape() Shape { return w.shape }

func (w *shmWriter) Write(frame Frame) error {
	if w.closed {
		return ErrClosed
	}
	if frame.Shape != w.shape {
		return fmt.Errorf("%w: got %s, stream %q is %s", ErrShapeMismatch, frame.Shape, w.key, w.shape)
	}
	if err := frame.Validate(); err != nil {
		return err
	}

	w.seq++
	w.ring.Commit(w.seq, time.Now().UnixNano(), frame.Pix)
	return nil
}

func (w *shmWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	w.ring.SetState(ring.StateClosed)

	var errs []error
	if err := unix.Munmap(w.mem); err != nil {
		errs = append(errs, fmt.Errorf("munmap: %w", err))
	}
	if err := unix.Flock(int(w.file.Fd()), unix.LOCK_UN); err != nil {
		errs = append(errs, fmt.Errorf("unlock: %w", err))
	}
	if err := w.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close: %w", err))
	}

	slog.Info("framering: writer closed",
		"stream_key", w.key,
		"frames_written", w.seq,
	)

	if len(errs) > 0 {
		return fmt.Errorf("framering: close writer %q: %w", w.key, errors.Join(errs...))
	}
	return nil
}

type shmReader struct {
	key   string
	path  string
	shape Shape

	file *os.File
	mem  []byte
	ring *ring.Ring

	writerID [16]byte
	lastSeq  uint64
	closed   bool
}

func (r *shmReader) Shape() Shape { return r.shape }

func (r *shmReader) Read() (*Frame, Metadata, error) {
	if r.closed {
		return nil, Metadata{}, ErrClosed
	}

	if r.ring == nil {
		attached, err := r.attach()
		if err != nil || !attached {
			return nil, Metadata{}, err
		}
	}

	switch r.ring.State() {
	case ring.StateOpen:
	case ring.StateClosed:
		return nil, Metadata{WriterClosed: true}, nil
	default:
		return nil, Metadata{}, nil
	}

	h, w, _ := r.ring.Geometry()
	if h != r.shape.Height || w != r.shape.Width {
		return nil, Metadata{}, fmt.Errorf("%w: stream %q is %dx%d, reader wants %s",
			ErrShapeMismatch, r.key, h, w, r.shape)
	}
	if !r.ring.Fits() {
		// writer grew the segment under us; remap on the next Read
		r.detach()
		return nil, Metadata{}, nil
	}

	if id := r.ring.WriterID(); id != r.writerID {
		r.writerID = id
		r.lastSeq = 0
	}

	var frame Frame
	for attempt := 0; attempt < maxTornReads; attempt++ {
		seq := r.ring.LastSeq()
		if seq == 0 || seq == r.lastSeq {
			return nil, Metadata{}, nil
		}
		if frame.Pix == nil {
			frame = NewFrame(r.shape)
		}

		unixNano, ok := r.ring.ReadSlot(seq, frame.Pix)
		if !ok {
			continue
		}

		var dropped uint64
		if r.lastSeq != 0 && seq > r.lastSeq+1 {
			dropped = seq - r.lastSeq - 1
		}
		r.lastSeq = seq

		return &frame, Metadata{
			Seq:       seq,
			Timestamp: time.Unix(0, unixNano),
			Dropped:   dropped,
			WriterID:  uuid.UUID(r.writerID).String(),
		}, nil
	}

	slog.Debug("framering: torn read, skipping", "stream_key", r.key)
	return nil, Metadata{}, nil
}

// attach maps the segment read-only. Returns false without error while the
// segment does not exist or is still being initialized.
func (r *shmReader) attach() (bool, error) {
	f, err := os.Open(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("framering: open segment %s: %w", r.path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return false, fmt.Errorf("framering: stat segment %s: %w", r.path, err)
	}
	if info.Size() < ring.HeaderSize {
		f.Close()
		return false, nil
	}

	mem, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return false, fmt.Errorf("framering: mmap segment %s: %w", r.path, err)
	}

	rg, err := ring.New(mem)
	if err != nil || !rg.Valid() || rg.State() == ring.StateEmpty || !rg.Fits() {
		unix.Munmap(mem)
		f.Close()
		return false, nil
	}

	r.file, r.mem, r.ring = f, mem, rg
	slog.Debug("framering: reader attached", "stream_key", r.key, "path", r.path)
	return true, nil
}

func (r *shmReader) detach() {
	if r.ring == nil {
		return
	}
	unix.Munmap(r.mem)
	r.file.Close()
	r.file, r.mem, r.ring = nil, nil, nil
}

func (r *shmReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.detach()
	return nil
}
