// Package recovery implements the Recovery Coordinator (C9): it fans in
// DeterminantResponseEvents from every downstream channel of a restarting
// task, keeps the longest-reported log (since any shorter report is a
// prefix of it, spec §4.6), and streams the recovered determinants
// one-by-one to the execution driver once every expected response has
// arrived.
//
// Grounded on the coatyio-dda coordinator's collect-then-drive shape, and
// on consumer.go's PollFetches "fill buffered, wait, drain" cycle for the
// prefetch-one-ahead pop/peek discipline.
package recovery

import (
	"sync"

	"github.com/nodeplex/causalrecovery/internal/causalrecoveryerr"
	"github.com/nodeplex/causalrecovery/internal/determinant"
	"github.com/nodeplex/causalrecovery/internal/wire"
)

// Coordinator drives the restart-time determinant recovery for one failed
// vertex. The zero value is not usable; build one with New.
type Coordinator struct {
	expectedResponses int

	mu                sync.Mutex
	receivedResponses int
	best              []byte
	decoder           *determinant.Decoder
	recovering        bool
	next              *determinant.Determinant
	onReady           func()
}

// New builds a Coordinator expecting exactly expectedResponses
// DeterminantResponseEvents before recovery can begin. onReady, if
// non-nil, is invoked exactly once -- synchronously, under the
// coordinator's lock having just been released -- when the final response
// arrives and the prefetch cursor is primed (stands in for "complete the
// outputChannelConnectionsFuture").
func New(expectedResponses int, onReady func()) *Coordinator {
	return &Coordinator{
		expectedResponses: expectedResponses,
		onReady:           onReady,
	}
}

// ProcessResponse folds in one downstream channel's reported view of the
// failed vertex's log (spec §4.6). Once every expected response has
// arrived, the coordinator switches into recovering mode over the longest
// report seen and prefetches the first determinant.
func (c *Coordinator) ProcessResponse(ev wire.DeterminantResponseEvent) error {
	encoded := encodeDelta(ev.Delta)

	c.mu.Lock()
	if len(encoded) > len(c.best) {
		c.best = encoded
	}
	c.receivedResponses++
	ready := c.receivedResponses >= c.expectedResponses
	if !ready {
		c.mu.Unlock()
		return nil
	}

	c.decoder = determinant.NewDecoder(c.best)
	c.recovering = true
	if err := c.prefetchLocked(); err != nil && err != causalrecoveryerr.ErrDecodeEnd {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	if c.onReady != nil {
		c.onReady()
	}
	return nil
}

// encodeDelta flattens a VertexCausalLogDelta's determinant-bearing bytes
// into one comparable, decodable buffer: the main thread's bytes followed by
// every subpartition thread's bytes in the same canonical (partition, sub)
// order wire.EncodeDelta walks (spec §4.3: appendDeterminant targets
// mainThreadLog, appendSubpartitionDeterminant targets a subpartition
// thread -- both carry real determinants and both must survive into
// recovery). Concatenation, not wire.EncodeDelta's length-prefixed framing,
// is used here since the result must decode directly as a flat determinant
// stream via determinant.NewDecoder.
func encodeDelta(d wire.VertexCausalLogDelta) []byte {
	var out []byte
	if d.MainThreadDelta != nil {
		out = append(out, d.MainThreadDelta.RawBytes...)
	}
	for _, pid := range d.PartitionIDs() {
		for _, sub := range d.SubsFor(pid) {
			out = append(out, sub.Delta.RawBytes...)
		}
	}
	return out
}

func (c *Coordinator) prefetchLocked() error {
	if !c.decoder.HasMore() {
		c.next = nil
		return causalrecoveryerr.ErrDecodeEnd
	}
	det, err := c.decoder.DecodeNext()
	if err != nil {
		c.next = nil
		return err
	}
	c.next = &det
	return nil
}

// PopNext returns the prefetched determinant and advances the prefetch
// cursor (spec §4.6). On end-of-stream the coordinator resets itself
// (recovering becomes false) so a subsequent recovery attempt can reuse it.
func (c *Coordinator) PopNext() (determinant.Determinant, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.recovering || c.next == nil {
		return determinant.Determinant{}, causalrecoveryerr.ErrNotRecovering
	}
	out := *c.next

	if err := c.prefetchLocked(); err != nil {
		c.reset()
	}
	return out, nil
}

// PeekNext returns the prefetched determinant without advancing, and
// whether one is available.
func (c *Coordinator) PeekNext() (determinant.Determinant, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.recovering || c.next == nil {
		return determinant.Determinant{}, false
	}
	return *c.next, true
}

// HasMore reports whether another determinant remains to be popped.
func (c *Coordinator) HasMore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recovering && c.next != nil
}

// reset clears recovery state, assuming c.mu is already held.
func (c *Coordinator) reset() {
	c.receivedResponses = 0
	c.best = nil
	c.decoder = nil
	c.recovering = false
	c.next = nil
}
