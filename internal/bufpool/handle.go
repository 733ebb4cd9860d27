// Package bufpool implements the Buffer Handle (C1): a fixed-capacity
// memory segment with an atomic reference count, shared by producers (which
// retain on write) and consumers (which retain on read-for-replay). Modeled
// after the sync.Pool-backed bufPool in pkg/kgo/broker.go, generalized from
// single-owner reuse to multi-owner refcounting with generation tagging per
// the source's design note: "each handle is an (index, generation,
// refcount) triple; double-recycle is a bug detectable via generation
// mismatch."
package bufpool

import (
	"sync/atomic"

	"github.com/nodeplex/causalrecovery/internal/causalrecoveryerr"
)

// Handle is a reference-counted view over one fixed-capacity segment. The
// zero value is not usable; obtain one from Pool.Acquire.
type Handle struct {
	pool       *Pool
	index      int
	generation uint64
	segment    []byte // full capacity backing array
	length     int    // bytes written so far

	refCount int32
}

// Retain increments the reference count. It is a programming error to call
// Retain once the count has already reached zero (the segment may have been
// handed to a new owner under a new generation); that case returns
// ErrDoubleRecycle rather than silently corrupting shared state.
func (h *Handle) Retain() error {
	for {
		cur := atomic.LoadInt32(&h.refCount)
		if cur <= 0 {
			return causalrecoveryerr.ErrDoubleRecycle
		}
		if atomic.CompareAndSwapInt32(&h.refCount, cur, cur+1) {
			return nil
		}
	}
}

// Recycle decrements the reference count, returning the segment to its pool
// when it reaches zero. Recycling an already-zero handle returns
// ErrDoubleRecycle.
func (h *Handle) Recycle() error {
	for {
		cur := atomic.LoadInt32(&h.refCount)
		if cur <= 0 {
			return causalrecoveryerr.ErrDoubleRecycle
		}
		next := cur - 1
		if !atomic.CompareAndSwapInt32(&h.refCount, cur, next) {
			continue
		}
		if next == 0 {
			h.pool.release(h)
		}
		return nil
	}
}

// Write appends p to the segment, up to its remaining capacity. It returns
// the number of bytes actually written; a short write means the segment is
// full and the caller must Acquire a new one for the remainder.
func (h *Handle) Write(p []byte) int {
	room := cap(h.segment) - h.length
	n := len(p)
	if n > room {
		n = room
	}
	h.segment = h.segment[:h.length+n]
	copy(h.segment[h.length:], p[:n])
	h.length += n
	return n
}

// Bytes returns the written portion of the segment.
func (h *Handle) Bytes() []byte { return h.segment[:h.length] }

// Len returns the number of bytes written so far.
func (h *Handle) Len() int { return h.length }

// Capacity returns the segment's fixed byte capacity.
func (h *Handle) Capacity() int { return cap(h.segment) }

// Full reports whether the segment has no remaining write capacity.
func (h *Handle) Full() bool { return h.length == cap(h.segment) }

// Generation returns the handle's current generation tag, bumped every time
// the underlying segment is recycled and reused.
func (h *Handle) Generation() uint64 { return atomic.LoadUint64(&h.generation) }

// Slice returns a byte-identical view of the written bytes[off : off+length]
// without copying. The caller is responsible for Retain/Recycle bookkeeping
// on the parent handle exactly as if it held the whole segment.
func (h *Handle) Slice(off, length int) []byte {
	return h.segment[off : off+length]
}

func (h *Handle) reset() {
	h.length = 0
	h.segment = h.segment[:0]
	atomic.AddUint64(&h.generation, 1)
}
