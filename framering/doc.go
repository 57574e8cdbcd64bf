// Package framering implements the frame transport between a camera producer
// and its consumers: a fixed-shape, latest-frame-wins ring buffer keyed by a
// stream key.
//
// # Philosophy
//
// "Latest frame only. Readers never block the writer."
//
// A consumer that falls behind skips frames instead of queueing them. Every
// Read returns the most recent committed frame the reader has not seen yet, or
// nothing at all.
//
// # Transports
//
//   - Shm: shared-memory segment (one file per stream key under /dev/shm),
//     mmap'd by one writer process and any number of reader processes.
//   - Memory: in-process mailbox with the same semantics, used by tests and by
//     single-process pipelines.
//
// # Basic Usage
//
// Producer side:
//
//	transport, _ := framering.NewShm(framering.ShmConfig{})
//	w, err := transport.Writer("camera:0", framering.Shape{Height: 480, Width: 640})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Close()
//
//	for frame := range frames {
//	    if err := w.Write(frame); err != nil { // ErrShapeMismatch on wrong shape
//	        log.Fatal(err)
//	    }
//	}
//
// Consumer side:
//
//	r, _ := transport.Reader("camera:0", framering.Shape{Height: 480, Width: 640})
//	defer r.Close()
//
//	for {
//	    frame, meta, err := r.Read()
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    if frame == nil {
//	        continue // no new frame since the last Read
//	    }
//	    show(frame, meta.Seq)
//	}
//
// # Segment Layout
//
// A Shm segment is a 64-byte header followed by N slots:
//
//	header: magic | version | height | width | slots | state | last seq | writer id
//	slot:   seqlock word | frame seq | timestamp | height*width pixels
//
// The writer bumps a slot's seqlock word to odd before copying pixels and back
// to even afterwards, then publishes the frame sequence in the header. Readers
// copy the slot and retry when the word changed underneath them, so a torn
// frame is never returned.
//
// # Thread Safety
//
//   - Writer: one per stream key (enforced with flock for Shm, a per-key flag
//     for Memory). Write must be called from a single goroutine.
//   - Reader: each Reader tracks its own last sequence; use one Reader per
//     goroutine.
package framering
