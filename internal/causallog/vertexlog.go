package causallog

import (
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nodeplex/causalrecovery/internal/bufpool"
	"github.com/nodeplex/causalrecovery/internal/clog"
	"github.com/nodeplex/causalrecovery/internal/wire"
)

// subKey identifies one subpartition ThreadLog within a VertexLog, keyed by
// the owning partition plus its subpartition index.
type subKey struct {
	partition wire.PartitionID
	sub       uint32
}

// VertexLog is the Vertex Causal Log (spec §4.3, C4): one main-thread
// ThreadLog plus a sparse, lazily-created map of per-subpartition ThreadLogs,
// one per downstream-facing child of this vertex.
//
// Grounded on consumer.go's nested listOrEpochLoads merge/filter helpers for
// sorted delta composition, and broker.go's per-connection error isolation
// (a dead cxnFetch does not take down cxnProduce) for notifyCheckpointComplete's
// broadcast-without-abort-on-first-error semantics.
type VertexLog struct {
	vertex wire.VertexID
	pool   *bufpool.Pool
	logger clog.Logger

	mainThreadLog *ThreadLog

	mu      sync.RWMutex
	subLogs map[subKey]*ThreadLog
}

// NewVertexLog builds an empty VertexLog for vertex, drawing all buffer
// segments (main thread and every lazily-created subpartition thread) from
// the same pool.
func NewVertexLog(vertex wire.VertexID, pool *bufpool.Pool, logger clog.Logger) *VertexLog {
	if logger == nil {
		logger = clog.Nop
	}
	return &VertexLog{
		vertex:        vertex,
		pool:          pool,
		logger:        logger,
		mainThreadLog: New(pool, logger),
		subLogs:       make(map[subKey]*ThreadLog),
	}
}

// AppendMain appends to the vertex's main-thread log (spec §4.3).
func (v *VertexLog) AppendMain(data []byte, epoch uint64) error {
	return v.mainThreadLog.Append(data, epoch)
}

// AppendSubpartition appends to the per-(partition, subpartition) thread log,
// creating it on first use (spec §4.3's "sparse map" note).
func (v *VertexLog) AppendSubpartition(partition wire.PartitionID, sub uint32, data []byte, epoch uint64) error {
	return v.subLogOrCreate(partition, sub).Append(data, epoch)
}

// subLogOrCreate finds or lazily creates the ThreadLog for (partition, sub).
func (v *VertexLog) subLogOrCreate(partition wire.PartitionID, sub uint32) *ThreadLog {
	key := subKey{partition: partition, sub: sub}

	v.mu.RLock()
	if tl, ok := v.subLogs[key]; ok {
		v.mu.RUnlock()
		return tl
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()
	if tl, ok := v.subLogs[key]; ok {
		return tl
	}
	tl := New(v.pool, v.logger)
	v.subLogs[key] = tl
	return tl
}

// Delta builds the canonical VertexCausalLogDelta covering every thread's
// bytes from startEpoch onward (spec §4.3, §6). Subpartition order is
// canonicalized by wire.NewVertexCausalLogDelta, not by map iteration order.
func (v *VertexLog) Delta(startEpoch uint64) wire.VertexCausalLogDelta {
	main := v.mainThreadLog.GetDeterminants(startEpoch)
	var mainDelta *wire.ThreadLogDelta
	if len(main) > 0 {
		mainDelta = &wire.ThreadLogDelta{RawBytes: main, StartOffset: 0}
	}

	v.mu.RLock()
	subs := make(map[wire.PartitionID][]wire.SubpartitionThreadLogDelta)
	for key, tl := range v.subLogs {
		raw := tl.GetDeterminants(startEpoch)
		subs[key.partition] = append(subs[key.partition], wire.NewSubpartitionThreadLogDelta(raw, 0, key.sub))
	}
	v.mu.RUnlock()

	return wire.NewVertexCausalLogDelta(v.vertex, mainDelta, subs)
}

// GetNextForDownstream returns the unread-by-consumerID bytes of every
// thread in this vertex (spec §9 Open Question 1: every downstream sees
// every upstream byte, no per-partition filtering).
func (v *VertexLog) GetNextForDownstream(consumerID string, epoch uint64) wire.VertexCausalLogDelta {
	main := v.mainThreadLog.GetNextForConsumer(consumerID, epoch)
	var mainDelta *wire.ThreadLogDelta
	if !main.IsEmpty() {
		mainDelta = &main
	}

	v.mu.RLock()
	subs := make(map[wire.PartitionID][]wire.SubpartitionThreadLogDelta)
	for key, tl := range v.subLogs {
		delta := tl.GetNextForConsumer(consumerID, epoch)
		subs[key.partition] = append(subs[key.partition], wire.NewSubpartitionThreadLogDelta(delta.RawBytes, delta.StartOffset, key.sub))
	}
	v.mu.RUnlock()

	return wire.NewVertexCausalLogDelta(v.vertex, mainDelta, subs)
}

// NotifyCheckpointComplete reclaims epoch-expired slices across every thread
// in the vertex concurrently, isolating per-thread failures so one stuck
// reclamation does not block the others (spec §5, §9).
func (v *VertexLog) NotifyCheckpointComplete(epoch uint64) error {
	v.mu.RLock()
	logs := make([]*ThreadLog, 0, len(v.subLogs)+1)
	logs = append(logs, v.mainThreadLog)
	for _, tl := range v.subLogs {
		logs = append(logs, tl)
	}
	v.mu.RUnlock()

	var g errgroup.Group
	for _, tl := range logs {
		tl := tl
		g.Go(func() error {
			return tl.NotifyCheckpointComplete(epoch)
		})
	}
	return g.Wait()
}

// MainLogLength returns the retained byte count of the main-thread log.
func (v *VertexLog) MainLogLength() int {
	return v.mainThreadLog.LogLength()
}

// SubLogLength returns the retained byte count of one subpartition's thread
// log, or 0 if it has never been written to.
func (v *VertexLog) SubLogLength(partition wire.PartitionID, sub uint32) int {
	v.mu.RLock()
	tl, ok := v.subLogs[subKey{partition: partition, sub: sub}]
	v.mu.RUnlock()
	if !ok {
		return 0
	}
	return tl.LogLength()
}
