// Package ring implements the byte layout of a shared-memory frame ring.
//
// This package is INTERNAL - clients MUST use the framering package.
// It works on any 8-byte aligned []byte, so the layout is testable without
// mmap.
package ring

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"unsafe"
)

const (
	// Magic identifies a frame ring segment ("FRNG").
	Magic uint32 = 0x474e5246
	// Version is bumped on any layout change.
	Version uint32 = 1

	// HeaderSize is the fixed header length in bytes.
	HeaderSize = 64

	offMagic    = 0
	offVersion  = 4
	offHeight   = 8
	offWidth    = 12
	offSlots    = 16
	offState    = 20
	offLastSeq  = 24
	offWriterID = 32 // 16 bytes
	writerIDLen = 16

	// per-slot header: seqlock word, frame seq, unix nanos
	slotLock      = 0
	slotSeq       = 8
	slotTimestamp = 16
	slotHeader    = 24
)

// State of the segment as published by its writer.
type State uint32

const (
	StateEmpty State = iota
	StateInitializing
	StateOpen
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateInitializing:
		return "initializing"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SlotStride returns the 8-byte aligned size of one slot.
func SlotStride(height, width int) int {
	return align8(slotHeader + height*width)
}

// SegmentSize returns the total segment size for the given geometry.
func SegmentSize(height, width, slots int) int {
	return HeaderSize + slots*SlotStride(height, width)
}

func align8(n int) int {
	return (n + 7) &^ 7
}

// Ring is a view over a segment. It holds no state besides the slice.
type Ring struct {
	mem []byte
}

// New wraps mem. mem must be 8-byte aligned and at least HeaderSize long.
func New(mem []byte) (*Ring, error) {
	if len(mem) < HeaderSize {
		return nil, fmt.Errorf("ring: segment too small (%d bytes)", len(mem))
	}
	if uintptr(unsafe.Pointer(&mem[0]))%8 != 0 {
		return nil, fmt.Errorf("ring: segment not 8-byte aligned")
	}
	return &Ring{mem: mem}, nil
}

// Init (re)initializes the header for a new writer generation.
//
// Readers observe StateInitializing while the geometry is rewritten and
// ignore the segment until StateOpen is published.
func (r *Ring) Init(height, width, slots int, writerID [16]byte) error {
	need := SegmentSize(height, width, slots)
	if len(r.mem) < need {
		return fmt.Errorf("ring: segment is %d bytes, need %d", len(r.mem), need)
	}

	atomic.StoreUint32(r.word32(offState), uint32(StateInitializing))
	atomic.StoreUint64(r.word64(offLastSeq), 0)

	binary.NativeEndian.PutUint32(r.mem[offMagic:], Magic)
	binary.NativeEndian.PutUint32(r.mem[offVersion:], Version)
	binary.NativeEndian.PutUint32(r.mem[offHeight:], uint32(height))
	binary.NativeEndian.PutUint32(r.mem[offWidth:], uint32(width))
	binary.NativeEndian.PutUint32(r.mem[offSlots:], uint32(slots))
	copy(r.mem[offWriterID:offWriterID+writerIDLen], writerID[:])

	stride := SlotStride(height, width)
	for i := 0; i < slots; i++ {
		base := HeaderSize + i*stride
		atomic.StoreUint64(r.word64(base+slotLock), 0)
		atomic.StoreUint64(r.word64(base+slotSeq), 0)
	}

	atomic.StoreUint32(r.word32(offState), uint32(StateOpen))
	return nil
}

// Valid reports whether the header carries the expected magic and version.
func (r *Ring) Valid() bool {
	return binary.NativeEndian.Uint32(r.mem[offMagic:]) == Magic &&
		binary.NativeEndian.Uint32(r.mem[offVersion:]) == Version
}

// Geometry returns height, width and slot count from the header.
func (r *Ring) Geometry() (height, width, slots int) {
	return int(binary.NativeEndian.Uint32(r.mem[offHeight:])),
		int(binary.NativeEndian.Uint32(r.mem[offWidth:])),
		int(binary.NativeEndian.Uint32(r.mem[offSlots:]))
}

// Fits reports whether the mapped slice covers the geometry in the header.
func (r *Ring) Fits() bool {
	h, w, n := r.Geometry()
	return n > 0 && len(r.mem) >= SegmentSize(h, w, n)
}

// State returns the published segment state.
func (r *Ring) State() State {
	return State(atomic.LoadUint32(r.word32(offState)))
}

// SetState publishes a new segment state.
func (r *Ring) SetState(s State) {
	atomic.StoreUint32(r.word32(offState), uint32(s))
}

// WriterID returns the writer generation id.
func (r *Ring) WriterID() [16]byte {
	var id [16]byte
	copy(id[:], r.mem[offWriterID:offWriterID+writerIDLen])
	return id
}

// LastSeq returns the sequence of the most recently committed frame (0 = none).
func (r *Ring) LastSeq() uint64 {
	return atomic.LoadUint64(r.word64(offLastSeq))
}

// Commit writes pix into the slot for seq and publishes seq.
//
// Single writer only. len(pix) must equal height*width.
func (r *Ring) Commit(seq uint64, unixNano int64, pix []byte) {
	base := r.slotBase(seq)
	lock := r.word64(base + slotLock)

	atomic.AddUint64(lock, 1) // odd: write in progress
	copy(r.mem[base+slotHeader:], pix)
	atomic.StoreUint64(r.word64(base+slotSeq), seq)
	atomic.StoreInt64((*int64)(unsafe.Pointer(&r.mem[base+slotTimestamp])), unixNano)
	atomic.AddUint64(lock, 1) // even: committed

	atomic.StoreUint64(r.word64(offLastSeq), seq)
}

// ReadSlot copies the frame for seq into dst.
//
// Returns ok=false when the slot is being written, has been overwritten by a
// newer frame, or changed during the copy. Callers retry with the new LastSeq.
func (r *Ring) ReadSlot(seq uint64, dst []byte) (unixNano int64, ok bool) {
	base := r.slotBase(seq)
	lock := r.word64(base + slotLock)

	v1 := atomic.LoadUint64(lock)
	if v1&1 == 1 {
		return 0, false
	}
	if atomic.LoadUint64(r.word64(base+slotSeq)) != seq {
		return 0, false
	}

	copy(dst, r.mem[base+slotHeader:base+slotHeader+len(dst)])
	unixNano = atomic.LoadInt64((*int64)(unsafe.Pointer(&r.mem[base+slotTimestamp])))

	if atomic.LoadUint64(r.word64(base+slotSeq)) != seq {
		return 0, false
	}
	if atomic.LoadUint64(lock) != v1 {
		return 0, false
	}
	return unixNano, true
}

func (r *Ring) slotBase(seq uint64) int {
	h, w, n := r.Geometry()
	return HeaderSize + int(seq%uint64(n))*SlotStride(h, w)
}

func (r *Ring) word64(off int) *uint64 {
	return (*uint64)(unsafe.Pointer(&r.mem[off]))
}

func (r *Ring) word32(off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&r.mem[off]))
}
