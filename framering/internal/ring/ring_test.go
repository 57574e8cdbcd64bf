package ring

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// alignedSegment returns an 8-byte aligned slice (uint64 backing array).
func alignedSegment(size int) []byte {
	words := make([]uint64, (size+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), len(words)*8)[:size]
}

func TestSegmentSize(t *testing.T) {
	assert.Equal(t, 32, SlotStride(2, 2), "24-byte slot header + 4 pixels, 8-aligned")
	assert.Equal(t, HeaderSize+4*32, SegmentSize(2, 2, 4))
	assert.Equal(t, 0, SegmentSize(480, 640, 4)%8)
}

func TestRingInitAndGeometry(t *testing.T) {
	mem := alignedSegment(SegmentSize(3, 5, 2))
	r, err := New(mem)
	require.NoError(t, err)

	assert.False(t, r.Valid(), "zeroed segment has no magic")
	assert.Equal(t, StateEmpty, r.State())

	id := [16]byte{1, 2, 3}
	require.NoError(t, r.Init(3, 5, 2, id))

	assert.True(t, r.Valid())
	assert.True(t, r.Fits())
	assert.Equal(t, StateOpen, r.State())
	assert.Equal(t, id, r.WriterID())
	assert.Equal(t, uint64(0), r.LastSeq())

	h, w, n := r.Geometry()
	assert.Equal(t, []int{3, 5, 2}, []int{h, w, n})
}

func TestRingInitRejectsShortSegment(t *testing.T) {
	r, err := New(alignedSegment(HeaderSize + 8))
	require.NoError(t, err)
	assert.Error(t, r.Init(10, 10, 4, [16]byte{}))
}

func TestRingCommitAndRead(t *testing.T) {
	mem := alignedSegment(SegmentSize(2, 2, 2))
	r, err := New(mem)
	require.NoError(t, err)
	require.NoError(t, r.Init(2, 2, 2, [16]byte{}))

	r.Commit(1, 100, []byte{1, 2, 3, 4})
	assert.Equal(t, uint64(1), r.LastSeq())

	dst := make([]byte, 4)
	ts, ok := r.ReadSlot(1, dst)
	require.True(t, ok)
	assert.Equal(t, int64(100), ts)
	assert.Equal(t, []byte{1, 2, 3, 4}, dst)

	// seq 3 lands in the same slot as seq 1 (2 slots) and evicts it
	r.Commit(2, 200, []byte{5, 6, 7, 8})
	r.Commit(3, 300, []byte{9, 9, 9, 9})

	_, ok = r.ReadSlot(1, dst)
	assert.False(t, ok, "overwritten slot must not be returned for an old seq")

	ts, ok = r.ReadSlot(3, dst)
	require.True(t, ok)
	assert.Equal(t, int64(300), ts)
	assert.Equal(t, []byte{9, 9, 9, 9}, dst)
}

func TestRingReadSlotRejectsInProgressWrite(t *testing.T) {
	mem := alignedSegment(SegmentSize(1, 1, 2))
	r, err := New(mem)
	require.NoError(t, err)
	require.NoError(t, r.Init(1, 1, 2, [16]byte{}))

	r.Commit(1, 1, []byte{7})

	// simulate a writer paused mid-copy on slot 1
	base := r.slotBase(1)
	*r.word64(base + slotLock)++

	_, ok := r.ReadSlot(1, make([]byte, 1))
	assert.False(t, ok)
}

func TestRingStateString(t *testing.T) {
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", State(42).String())
}

// TestRingLatestFrameProperty checks that after any sequence of commits the
// latest committed frame is always readable and intact.
func TestRingLatestFrameProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		h := rapid.IntRange(1, 8).Draw(t, "height")
		w := rapid.IntRange(1, 8).Draw(t, "width")
		slots := rapid.IntRange(2, 6).Draw(t, "slots")
		commits := rapid.IntRange(1, 30).Draw(t, "commits")

		r, err := New(alignedSegment(SegmentSize(h, w, slots)))
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if err := r.Init(h, w, slots, [16]byte{}); err != nil {
			t.Fatalf("Init: %v", err)
		}

		var last []byte
		for seq := uint64(1); seq <= uint64(commits); seq++ {
			pix := make([]byte, h*w)
			for i := range pix {
				pix[i] = byte(seq) + byte(i)
			}
			r.Commit(seq, int64(seq), pix)
			last = pix
		}

		if got := r.LastSeq(); got != uint64(commits) {
			t.Fatalf("LastSeq = %d, want %d", got, commits)
		}

		dst := make([]byte, h*w)
		ts, ok := r.ReadSlot(uint64(commits), dst)
		if !ok {
			t.Fatalf("latest slot not readable")
		}
		if ts != int64(commits) {
			t.Fatalf("timestamp = %d, want %d", ts, commits)
		}
		for i := range dst {
			if dst[i] != last[i] {
				t.Fatalf("pixel %d = %d, want %d", i, dst[i], last[i])
			}
		}
	})
}
