package inflight

import (
	"sync"

	"github.com/nodeplex/causalrecovery/internal/bufpool"
	"github.com/nodeplex/causalrecovery/internal/clog"
)

// Barrier is the runtime-provided checkpoint barrier metadata stored
// alongside the slice it closed, so a replay can re-emit the exact barrier
// that originally followed a given epoch's records (spec §4.4).
type Barrier struct {
	Epoch uint64
	Data  []byte
}

type barrierKey struct {
	sub   uint32
	epoch uint64
}

// Logger is the In-Flight Logger (spec §4.4, C7): a thin per-task facade
// over one Log per subpartition, plus checkpoint barrier storage and the
// task's current epoch counter.
//
// Grounded on broker.go's broker struct owning one sub-object per
// connection kind (cxnNormal/cxnProduce/cxnFetch), generalized here to "one
// Log per subpartition."
type Logger struct {
	logger clog.Logger

	logs []*Log // indexed by subpartition

	mu           sync.Mutex
	barriers     map[barrierKey]Barrier
	currentEpoch uint64
}

// NewLogger builds a Logger owning numSubpartitions independent Logs.
func NewLogger(numSubpartitions int, logger clog.Logger) *Logger {
	if logger == nil {
		logger = clog.Nop
	}
	logs := make([]*Log, numSubpartitions)
	for i := range logs {
		logs[i] = NewLog(logger)
	}
	return &Logger{
		logger:   logger,
		logs:     logs,
		barriers: make(map[barrierKey]Barrier),
	}
}

// LogRecord appends h to the Log for subpartition sub, under the logger's
// current epoch (spec §4.4).
func (lg *Logger) LogRecord(h *bufpool.Handle, sub uint32) error {
	lg.mu.Lock()
	epoch := lg.currentEpoch
	lg.mu.Unlock()
	return lg.logs[sub].LogRecord(h, epoch)
}

// LogCheckpointBarrier stores barrier against the logger's current epoch
// for each subpartition listed in subpartitions and advances currentEpoch
// (spec §4.4).
func (lg *Logger) LogCheckpointBarrier(data []byte, subpartitions []uint32) {
	lg.mu.Lock()
	defer lg.mu.Unlock()
	epoch := lg.currentEpoch
	for _, sub := range subpartitions {
		lg.barriers[barrierKey{sub: sub, epoch: epoch}] = Barrier{Epoch: epoch, Data: data}
	}
	lg.currentEpoch++
}

// GetCheckpointBarrier returns the barrier stored for (sub, epoch), if any.
func (lg *Logger) GetCheckpointBarrier(sub uint32, epoch uint64) (Barrier, bool) {
	lg.mu.Lock()
	defer lg.mu.Unlock()
	b, ok := lg.barriers[barrierKey{sub: sub, epoch: epoch}]
	return b, ok
}

// GetCheckpointIdsToReplay returns the sorted set of epoch ids greater than
// downstreamLastSeen that have a stored barrier for sub (spec §4.4).
func (lg *Logger) GetCheckpointIdsToReplay(sub uint32, downstreamLastSeen uint64) []uint64 {
	lg.mu.Lock()
	defer lg.mu.Unlock()

	var ids []uint64
	for key := range lg.barriers {
		if key.sub == sub && key.epoch > downstreamLastSeen {
			ids = append(ids, key.epoch)
		}
	}
	// Insertion sort: the candidate set is small (bounded by retained
	// epochs), matching the style used for delta composition in wire/types.go.
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	return ids
}

// GetLoggedEpochs returns the ascending epoch ids holding at least one
// record for subpartition sub.
func (lg *Logger) GetLoggedEpochs(sub uint32) []uint64 {
	return lg.logs[sub].LoggedEpochs()
}

// GetReplayLog returns an iterator over exactly subpartition sub's records
// logged under epoch -- not the suffix from epoch onward -- so a caller
// replaying several epochs one at a time (internal/writer's runReplay) never
// resends a later epoch's records twice.
func (lg *Logger) GetReplayLog(sub uint32, epoch uint64) (*ReplayIterator, error) {
	return lg.logs[sub].GetIteratorForEpoch(epoch)
}

// NotifyCheckpointComplete reclaims every subpartition's Log for the given
// epoch and drops any stored barriers for epochs strictly below it.
func (lg *Logger) NotifyCheckpointComplete(epoch uint64) error {
	var firstErr error
	for _, l := range lg.logs {
		if err := l.NotifyCheckpointComplete(epoch); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	lg.mu.Lock()
	for key := range lg.barriers {
		if key.epoch < epoch {
			delete(lg.barriers, key)
		}
	}
	lg.mu.Unlock()

	return firstErr
}

// CurrentEpoch returns the logger's current epoch counter.
func (lg *Logger) CurrentEpoch() uint64 {
	lg.mu.Lock()
	defer lg.mu.Unlock()
	return lg.currentEpoch
}
