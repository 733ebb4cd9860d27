// Package causallog implements the Thread Causal Log (C3) and Vertex Causal
// Log (C4) from spec §4.1/§4.3: a single-writer/multi-reader, epoch-sliced
// append-only log of encoded determinant bytes, and the per-vertex
// aggregation of a main-thread log plus a sparse (partition, subpartition)
// map of child logs.
//
// Grounded on pkg/kgo/consumer.go's Offset/epoch/truncation-detection model
// (WithEpoch, OffsetForLeaderEpoch) for the epoch vocabulary, and its
// consumerSession generation-draining discipline for reclamation, which
// waits for outstanding reads to finish. Appends take the same lock
// exclusively, so a read in progress delays the writer and an append in
// progress delays readers.
package causallog

import (
	"fmt"
	"sync"

	"github.com/nodeplex/causalrecovery/internal/bufpool"
	"github.com/nodeplex/causalrecovery/internal/causalrecoveryerr"
	"github.com/nodeplex/causalrecovery/internal/clog"
	"github.com/nodeplex/causalrecovery/internal/wire"
)

// epochSlice holds the chain of Buffer Handles backing one epoch's
// contiguous byte range (spec §3: "Bytes within an epoch are contiguous").
type epochSlice struct {
	epoch       uint64
	startOffset uint64
	length      int
	handles     []*bufpool.Handle
}

func (s *epochSlice) bytes() []byte {
	buf := make([]byte, 0, s.length)
	for _, h := range s.handles {
		buf = append(buf, h.Bytes()...)
	}
	return buf
}

// ThreadLog is one logical "thread" (main or subpartition) of a Vertex
// Causal Log (spec §3 "Thread Log", §4.1 "C3 Thread Causal Log").
type ThreadLog struct {
	pool   *bufpool.Pool
	logger clog.Logger

	mu            sync.RWMutex // guards slices/currentEpoch/totalAppended; writer+reclaimer take it exclusively
	slices        []*epochSlice
	haveEpoch     bool
	currentEpoch  uint64
	totalAppended uint64

	cursorMu sync.Mutex
	cursors  map[string]uint64
}

// New builds an empty ThreadLog drawing segments from pool.
func New(pool *bufpool.Pool, logger clog.Logger) *ThreadLog {
	if logger == nil {
		logger = clog.Nop
	}
	return &ThreadLog{
		pool:    pool,
		logger:  logger,
		cursors: make(map[string]uint64),
	}
}

// Append appends bytes to the current tail, opening a new epoch slice if
// epoch advances past the current one (spec §4.1). Preconditions: epoch
// must be >= the log's current epoch. Returns ErrBufferExhausted if the
// pool cannot supply a segment for the write.
func (t *ThreadLog) Append(data []byte, epoch uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.haveEpoch && epoch < t.currentEpoch {
		return fmt.Errorf("causallog: append epoch %d precedes current epoch %d", epoch, t.currentEpoch)
	}
	if !t.haveEpoch || epoch > t.currentEpoch {
		t.slices = append(t.slices, &epochSlice{epoch: epoch, startOffset: t.totalAppended})
		t.currentEpoch = epoch
		t.haveEpoch = true
	}

	tail := t.slices[len(t.slices)-1]
	remaining := data
	for len(remaining) > 0 {
		var h *bufpool.Handle
		if n := len(tail.handles); n > 0 && !tail.handles[n-1].Full() {
			h = tail.handles[n-1]
		} else {
			acquired, ok := t.pool.TryAcquire()
			if !ok {
				return causalrecoveryerr.ErrBufferExhausted
			}
			h = acquired
			tail.handles = append(tail.handles, h)
		}
		n := h.Write(remaining)
		if n == 0 {
			// Segment reports room but wrote nothing; avoid an infinite loop.
			return causalrecoveryerr.ErrBufferExhausted
		}
		remaining = remaining[n:]
		tail.length += n
		t.totalAppended += uint64(n)
	}
	return nil
}

// GetDeterminants returns a freshly allocated concatenation of every slice
// with epoch >= startEpoch (spec §4.1). Two successive calls against an
// unchanged log return byte-identical buffers (spec §8).
func (t *ThreadLog) GetDeterminants(startEpoch uint64) []byte {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []byte
	for _, s := range t.slices {
		if s.epoch < startEpoch {
			continue
		}
		out = append(out, s.bytes()...)
	}
	return out
}

// GetNextForConsumer returns the bytes unread by consumerID starting no
// earlier than epoch, advancing that consumer's cursor to the new tail
// (spec §4.1). Multiple consumers may call concurrently; cursors advance
// independently. If the consumer's cursor predates the earliest retained
// epoch, it is snapped forward and a warning is logged (spec §7
// EpochReclaimed) rather than returned as an error.
func (t *ThreadLog) GetNextForConsumer(consumerID string, epoch uint64) wire.ThreadLogDelta {
	t.mu.RLock()
	defer t.mu.RUnlock()

	t.cursorMu.Lock()
	offset, seen := t.cursors[consumerID]
	t.cursorMu.Unlock()
	if !seen {
		offset = t.epochStartOffsetLocked(epoch)
	}

	if len(t.slices) > 0 && offset < t.slices[0].startOffset {
		t.logger.Log(clog.LevelWarn, "consumer cursor predates earliest retained epoch, snapping forward",
			"consumer", consumerID, "requested_offset", offset, "earliest_offset", t.slices[0].startOffset)
		offset = t.slices[0].startOffset
	}

	raw := t.bytesFromOffsetLocked(offset)
	newOffset := offset + uint64(len(raw))

	t.cursorMu.Lock()
	t.cursors[consumerID] = newOffset
	t.cursorMu.Unlock()

	return wire.ThreadLogDelta{RawBytes: raw, StartOffset: uint32(offset)}
}

func (t *ThreadLog) epochStartOffsetLocked(epoch uint64) uint64 {
	for _, s := range t.slices {
		if s.epoch >= epoch {
			return s.startOffset
		}
	}
	return t.totalAppended
}

func (t *ThreadLog) bytesFromOffsetLocked(offset uint64) []byte {
	var out []byte
	for _, s := range t.slices {
		sliceEnd := s.startOffset + uint64(s.length)
		if sliceEnd <= offset {
			continue
		}
		data := s.bytes()
		skip := uint64(0)
		if s.startOffset < offset {
			skip = offset - s.startOffset
		}
		out = append(out, data[skip:]...)
	}
	return out
}

// NotifyCheckpointComplete reclaims and recycles every slice with id <
// epoch (spec §4.1). Idempotent. Each handle is recycled exactly once; a
// per-handle recycle failure is collected and returned but does not stop
// the rest of the reclamation from proceeding, matching spec §5's "a
// checkpoint completion callback swallows exceptions from individual child
// reclamations."
func (t *ThreadLog) NotifyCheckpointComplete(epoch uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	reclaimCount := 0
	var firstErr error
	for _, s := range t.slices {
		if s.epoch >= epoch {
			break
		}
		reclaimCount++
		for _, h := range s.handles {
			if err := h.Recycle(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	t.slices = t.slices[reclaimCount:]
	return firstErr
}

// LogLength returns the total retained byte count across all live slices.
func (t *ThreadLog) LogLength() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	total := 0
	for _, s := range t.slices {
		total += s.length
	}
	return total
}
