package bufpool

import (
	"context"
	"sync"

	"github.com/nodeplex/causalrecovery/internal/causalrecoveryerr"
)

// Pool is a fixed-capacity arena of Buffer Handles. It is the exhaustible
// resource named in spec §7's BufferExhausted error kind: once Capacity
// segments are checked out, Acquire blocks (providing backpressure to the
// writer) until one is recycled or the caller's context is done.
//
// Grounded on broker.go's bufPool, generalized from a sync.Pool of
// unbounded byte slices to a bounded arena of refcounted, generation-tagged
// handles (see handle.go and spec §9).
type Pool struct {
	segmentSize int

	mu          sync.Mutex
	cond        *sync.Cond
	free        []*Handle
	handles     []*Handle // all handles ever allocated, indexed by Handle.index
	outstanding int
	capacity    int
}

// New builds a Pool that hands out segments of segmentSize bytes, never
// allocating more than capacity of them concurrently.
func New(segmentSize, capacity int) *Pool {
	p := &Pool{
		segmentSize: segmentSize,
		capacity:    capacity,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Acquire returns a fresh Handle with refCount 1, blocking if the pool is
// at capacity until a segment is recycled or ctx is done.
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	p.mu.Lock()
	for {
		if len(p.free) > 0 {
			h := p.free[len(p.free)-1]
			p.free = p.free[:len(p.free)-1]
			h.refCount = 1
			p.outstanding++
			p.mu.Unlock()
			return h, nil
		}
		if len(p.handles) < p.capacity {
			h := &Handle{
				pool:     p,
				index:    len(p.handles),
				segment:  make([]byte, 0, p.segmentSize),
				refCount: 1,
			}
			p.handles = append(p.handles, h)
			p.outstanding++
			p.mu.Unlock()
			return h, nil
		}

		// At capacity: wait for a release, but honor ctx cancellation by
		// racing a goroutine that broadcasts when ctx is done.
		if ctx != nil && ctx.Err() != nil {
			p.mu.Unlock()
			return nil, causalrecoveryerr.ErrBufferExhausted
		}
		waitDone := make(chan struct{})
		if ctx != nil {
			go func() {
				select {
				case <-ctx.Done():
					p.mu.Lock()
					p.cond.Broadcast()
					p.mu.Unlock()
				case <-waitDone:
				}
			}()
		}
		p.cond.Wait()
		close(waitDone)
		if ctx != nil && ctx.Err() != nil {
			p.mu.Unlock()
			return nil, causalrecoveryerr.ErrBufferExhausted
		}
	}
}

// TryAcquire is the non-blocking counterpart to Acquire, used by callers that
// must fail fast rather than backpressure (spec §4.1: append "fails with
// OutOfBuffers if no handle is available" rather than blocking the single
// writer indefinitely).
func (p *Pool) TryAcquire() (*Handle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) > 0 {
		h := p.free[len(p.free)-1]
		p.free = p.free[:len(p.free)-1]
		h.refCount = 1
		p.outstanding++
		return h, true
	}
	if len(p.handles) < p.capacity {
		h := &Handle{
			pool:     p,
			index:    len(p.handles),
			segment:  make([]byte, 0, p.segmentSize),
			refCount: 1,
		}
		p.handles = append(p.handles, h)
		p.outstanding++
		return h, true
	}
	return nil, false
}

// release is called by Handle.Recycle once its refcount reaches zero.
func (p *Pool) release(h *Handle) {
	p.mu.Lock()
	h.reset()
	p.free = append(p.free, h)
	p.outstanding--
	p.mu.Unlock()
	p.cond.Broadcast()
}

// Outstanding returns the number of handles currently checked out (refCount
// > 0), used by tests asserting exactly-once recycling (spec §8).
func (p *Pool) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outstanding
}

// SegmentSize returns the fixed per-handle capacity.
func (p *Pool) SegmentSize() int { return p.segmentSize }
