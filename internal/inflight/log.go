// Package inflight implements the Subpartition In-Flight Log (C6) and the
// per-task In-Flight Logger facade (C7): epoch-sliced retention of emitted
// records so a downstream failure can trigger a byte-identical replay.
//
// Grounded on consumer.go's consumerSession snapshot-then-drain discipline
// (a session's buffered records are walked to completion before the next
// session begins) for the iterator's tailMap-snapshot semantics, and
// broker.go's bufPool retain/recycle pairing for the record Buffer Handle
// ownership rules.
package inflight

import (
	"sync"

	"github.com/nodeplex/causalrecovery/internal/bufpool"
	"github.com/nodeplex/causalrecovery/internal/causalrecoveryerr"
	"github.com/nodeplex/causalrecovery/internal/clog"
)

// Record is one logged, in-flight emission: a retained Buffer Handle plus
// the epoch it was logged under.
type Record struct {
	handle *bufpool.Handle
	epoch  uint64
}

// Bytes returns the record's serialized payload.
func (r Record) Bytes() []byte { return r.handle.Bytes() }

// Epoch returns the checkpoint epoch the record was logged under.
func (r Record) Epoch() uint64 { return r.epoch }

type epochEntries struct {
	epoch   uint64
	records []Record
}

// Log is the Subpartition In-Flight Log (spec §4.2, C6): an ordered map
// epoch -> sequence<record>, single-producer, with a bidirectional replay
// iterator over any suffix of it.
type Log struct {
	logger clog.Logger

	mu     sync.Mutex
	slices []*epochEntries
	iters  map[*ReplayIterator]struct{}
}

// NewLog builds an empty in-flight log.
func NewLog(logger clog.Logger) *Log {
	if logger == nil {
		logger = clog.Nop
	}
	return &Log{
		logger: logger,
		iters:  make(map[*ReplayIterator]struct{}),
	}
}

// LogRecord appends h to the current epoch slice, taking the log's own
// retain on it (spec §4.2 "retains any underlying buffer"). Opens a new
// epoch slice lazily if epoch exceeds the current tail.
func (l *Log) LogRecord(h *bufpool.Handle, epoch uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := h.Retain(); err != nil {
		return err
	}

	var tail *epochEntries
	if n := len(l.slices); n > 0 && l.slices[n-1].epoch == epoch {
		tail = l.slices[n-1]
	} else if n > 0 && l.slices[n-1].epoch > epoch {
		return causalrecoveryerr.ErrEpochReclaimed
	} else {
		tail = &epochEntries{epoch: epoch}
		l.slices = append(l.slices, tail)
	}
	tail.records = append(tail.records, Record{handle: h, epoch: epoch})
	return nil
}

// GetIterator returns a ReplayIterator walking every record with epoch >=
// startEpoch in ascending order (spec §4.2). Creating the iterator takes a
// fresh retain on every handle it will traverse, since the network stack
// recycles its own share on send and each replay attempt needs its own
// share.
func (l *Log) GetIterator(startEpoch uint64) (*ReplayIterator, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var flat []Record
	for _, s := range l.slices {
		if s.epoch < startEpoch {
			continue
		}
		if len(s.records) == 0 {
			continue
		}
		flat = append(flat, s.records...)
	}
	return l.newIteratorLocked(flat)
}

// GetIteratorForEpoch returns a ReplayIterator walking exactly the records
// logged under the given epoch -- no earlier or later epoch's records. Used
// by the Record Writer to replay one epoch at a time without GetIterator's
// suffix semantics causing later epochs to be sent more than once.
func (l *Log) GetIteratorForEpoch(epoch uint64) (*ReplayIterator, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var records []Record
	for _, s := range l.slices {
		if s.epoch == epoch {
			records = s.records
			break
		}
	}
	return l.newIteratorLocked(records)
}

// newIteratorLocked retains a fresh share of every handle in records and
// registers the resulting iterator in l.iters. Assumes l.mu is held.
func (l *Log) newIteratorLocked(records []Record) (*ReplayIterator, error) {
	flat := make([]Record, len(records))
	copy(flat, records)

	for _, r := range flat {
		if err := r.handle.Retain(); err != nil {
			return nil, err
		}
	}

	it := &ReplayIterator{log: l, records: flat}
	l.iters[it] = struct{}{}
	return it, nil
}

// LoggedEpochs returns the ascending epoch ids that currently have at least
// one retained record, used by the Record Writer to compute the exact
// replay set (spec §4.5's epochsToReplay, distinct from C7's
// checkpoint-barrier-driven getCheckpointIdsToReplay: a replay must also
// cover the current, still-open epoch that has no barrier yet).
func (l *Log) LoggedEpochs() []uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	epochs := make([]uint64, 0, len(l.slices))
	for _, s := range l.slices {
		if len(s.records) > 0 {
			epochs = append(epochs, s.epoch)
		}
	}
	return epochs
}

// removeIterator is called by ReplayIterator.Close to drop it
// from the active set so notifyCheckpointComplete no longer considers its
// position when computing the reclaimable bound.
func (l *Log) removeIterator(it *ReplayIterator) {
	l.mu.Lock()
	delete(l.iters, it)
	l.mu.Unlock()
}

// NotifyCheckpointComplete recycles and removes every slice with id < epoch
// (spec §4.2). Idempotent. Will not reclaim a slice an outstanding
// iterator's current position is still within -- the reclaim bound is
// clamped to the lowest such position.
func (l *Log) NotifyCheckpointComplete(epoch uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	bound := epoch
	for it := range l.iters {
		if pos, ok := it.currentEpochLocked(); ok && pos < bound {
			bound = pos
		}
	}

	reclaimCount := 0
	var firstErr error
	for _, s := range l.slices {
		if s.epoch >= bound {
			break
		}
		reclaimCount++
		for _, r := range s.records {
			if err := r.handle.Recycle(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	l.slices = l.slices[reclaimCount:]
	if firstErr != nil {
		l.logger.Log(clog.LevelWarn, "in-flight log reclamation hit a recycle error", "error", firstErr)
	}
	return firstErr
}
