package inflight

import (
	"sync"

	"github.com/nodeplex/causalrecovery/internal/causalrecoveryerr"
)

// ReplayIterator is a finite, bidirectional cursor over a snapshot of a
// Log's records (spec §4.2). Not restartable; once closed it stays that
// way. Snapshot semantics: records appended to already-visited
// epochs after the iterator was created are not reflected (a tailMap view,
// not a live view).
type ReplayIterator struct {
	log *Log

	mu      sync.Mutex
	records []Record
	pos     int
	closed  bool
}

// HasNext reports whether another record remains in the forward direction.
func (it *ReplayIterator) HasNext() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return !it.closed && it.pos < len(it.records)
}

// Next returns the next record and advances the cursor forward.
func (it *ReplayIterator) Next() (Record, error) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.closed {
		return Record{}, causalrecoveryerr.ErrIteratorClosed
	}
	if it.pos >= len(it.records) {
		return Record{}, causalrecoveryerr.ErrDecodeEnd
	}
	r := it.records[it.pos]
	it.pos++
	return r, nil
}

// HasPrevious reports whether a record remains in the backward direction.
func (it *ReplayIterator) HasPrevious() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return !it.closed && it.pos > 0
}

// Previous returns the preceding record and moves the cursor backward.
func (it *ReplayIterator) Previous() (Record, error) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.closed {
		return Record{}, causalrecoveryerr.ErrIteratorClosed
	}
	if it.pos == 0 {
		return Record{}, causalrecoveryerr.ErrDecodeEnd
	}
	it.pos--
	return it.records[it.pos], nil
}

// NumberRemaining returns the exact count of as-yet-unreturned records in
// the forward direction.
func (it *ReplayIterator) NumberRemaining() int {
	it.mu.Lock()
	defer it.mu.Unlock()
	return len(it.records) - it.pos
}

// CurrentEpoch reports the epoch of the last returned record, or of the
// about-to-be-returned record if none has been returned yet. The second
// return value is false for an iterator over zero records.
func (it *ReplayIterator) CurrentEpoch() (uint64, bool) {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.epochAt()
}

// epochAt computes the current-epoch value assuming it.mu is already held.
func (it *ReplayIterator) epochAt() (uint64, bool) {
	if len(it.records) == 0 {
		return 0, false
	}
	if it.pos == 0 {
		return it.records[0].epoch, true
	}
	return it.records[it.pos-1].epoch, true
}

// currentEpochLocked is used by Log.NotifyCheckpointComplete, which holds
// Log.mu but not it.mu; it takes it.mu itself, independent of any lock the
// Log already holds (the two mutexes guard disjoint state).
func (it *ReplayIterator) currentEpochLocked() (uint64, bool) {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.epochAt()
}

// Close eagerly recycles every handle this iterator retained, whether or
// not it was fully traversed (spec.md §9 iterator-cancellation supplement:
// a replay aborted by timeout or mismatch must not leak the iterator's
// retains).
func (it *ReplayIterator) Close() error {
	it.mu.Lock()
	if it.closed {
		it.mu.Unlock()
		return nil
	}
	it.closed = true
	records := it.records
	it.records = nil
	it.mu.Unlock()

	var firstErr error
	for _, r := range records {
		if err := r.handle.Recycle(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	it.log.removeIterator(it)
	return firstErr
}
