// Package jobgraph implements the Job Causal Log (C5): the per-task facade
// that owns the local vertex's own causal log plus a lazily-populated mirror
// of every upstream vertex's log, routing appended determinants and incoming
// deltas to the right child.
//
// Grounded on broker.go's brokers map (`cl.brokers`, a concurrent map of
// broker id -> *broker, populated lazily from metadata responses) for the
// "map keyed by a remote identity, created on first contact" shape that
// upstreamLogs reuses here.
package jobgraph

import (
	"sync"

	"github.com/nodeplex/causalrecovery/internal/bufpool"
	"github.com/nodeplex/causalrecovery/internal/causallog"
	"github.com/nodeplex/causalrecovery/internal/clog"
	"github.com/nodeplex/causalrecovery/internal/determinant"
	"github.com/nodeplex/causalrecovery/internal/wire"
)

// JobLog is the Job Causal Log (spec §4.3, C5): the local vertex's own
// VertexLog plus a map of upstream vertex ids to local mirrors of their logs.
type JobLog struct {
	vertex wire.VertexID
	pool   *bufpool.Pool
	logger clog.Logger
	codec  determinant.Encoder

	ownLog *causallog.VertexLog

	mu           sync.RWMutex
	upstreamLogs map[wire.VertexID]*causallog.VertexLog
}

// New builds a JobLog for the local vertex, with ownLog empty and
// upstreamLogs populated lazily as deltas arrive from upstream peers.
func New(vertex wire.VertexID, pool *bufpool.Pool, logger clog.Logger) *JobLog {
	if logger == nil {
		logger = clog.Nop
	}
	return &JobLog{
		vertex:       vertex,
		pool:         pool,
		logger:       logger,
		ownLog:       causallog.NewVertexLog(vertex, pool, logger),
		upstreamLogs: make(map[wire.VertexID]*causallog.VertexLog),
	}
}

// AppendDeterminant encodes d via the shared encoding strategy and appends
// it to ownLog's main thread (spec §4.3).
func (j *JobLog) AppendDeterminant(d determinant.Determinant, epoch uint64) error {
	encoded := j.codec.EncodeTo(nil, d)
	return j.ownLog.AppendMain(encoded, epoch)
}

// AppendSubpartitionDeterminant encodes d and appends it to the matching
// child thread log of ownLog (spec §4.3).
func (j *JobLog) AppendSubpartitionDeterminant(d determinant.Determinant, epoch uint64, partition wire.PartitionID, sub uint32) error {
	encoded := j.codec.EncodeTo(nil, d)
	return j.ownLog.AppendSubpartition(partition, sub, encoded, epoch)
}

// ProcessUpstreamDelta dispatches delta to the mirror of upstreamLogs[delta.VertexID],
// creating that mirror on first contact (spec §4.3).
func (j *JobLog) ProcessUpstreamDelta(delta wire.VertexCausalLogDelta, epoch uint64) error {
	mirror := j.upstreamLogOrCreate(delta.VertexID)

	if delta.MainThreadDelta != nil && !delta.MainThreadDelta.IsEmpty() {
		if err := mirror.AppendMain(delta.MainThreadDelta.RawBytes, epoch); err != nil {
			return err
		}
	}
	for _, pid := range delta.PartitionIDs() {
		for _, sub := range delta.SubsFor(pid) {
			if sub.Delta.IsEmpty() {
				continue
			}
			if err := mirror.AppendSubpartition(pid, sub.SubpartitionIndex, sub.Delta.RawBytes, epoch); err != nil {
				return err
			}
		}
	}
	return nil
}

func (j *JobLog) upstreamLogOrCreate(vertex wire.VertexID) *causallog.VertexLog {
	j.mu.RLock()
	if v, ok := j.upstreamLogs[vertex]; ok {
		j.mu.RUnlock()
		return v
	}
	j.mu.RUnlock()

	j.mu.Lock()
	defer j.mu.Unlock()
	if v, ok := j.upstreamLogs[vertex]; ok {
		return v
	}
	v := causallog.NewVertexLog(vertex, j.pool, j.logger)
	j.upstreamLogs[vertex] = v
	return v
}

// GetDeterminantsOfVertex returns the full log (from epoch 0) of either
// ownLog (when vertex is the local vertex) or the named upstream mirror
// (spec §4.3). Returns the zero-value delta if vertex is unknown.
func (j *JobLog) GetDeterminantsOfVertex(vertex wire.VertexID) wire.VertexCausalLogDelta {
	if vertex == j.vertex {
		return j.ownLog.Delta(0)
	}
	j.mu.RLock()
	v, ok := j.upstreamLogs[vertex]
	j.mu.RUnlock()
	if !ok {
		return wire.VertexCausalLogDelta{VertexID: vertex}
	}
	return v.Delta(0)
}

// GetNextForDownstream returns one delta per known vertex (ownLog plus every
// upstream mirror), consumer-cursor-advancing, suppressing empty deltas
// (spec §4.3).
func (j *JobLog) GetNextForDownstream(channelID string, epoch uint64) []wire.VertexCausalLogDelta {
	var out []wire.VertexCausalLogDelta

	if d := j.ownLog.GetNextForDownstream(channelID, epoch); !deltaIsEmpty(d) {
		out = append(out, d)
	}

	j.mu.RLock()
	mirrors := make([]*causallog.VertexLog, 0, len(j.upstreamLogs))
	for _, v := range j.upstreamLogs {
		mirrors = append(mirrors, v)
	}
	j.mu.RUnlock()

	for _, v := range mirrors {
		if d := v.GetNextForDownstream(channelID, epoch); !deltaIsEmpty(d) {
			out = append(out, d)
		}
	}
	return out
}

// NotifyCheckpointComplete broadcasts checkpoint completion to ownLog and
// every upstream mirror (spec §4.3, §5).
func (j *JobLog) NotifyCheckpointComplete(epoch uint64) error {
	if err := j.ownLog.NotifyCheckpointComplete(epoch); err != nil {
		j.logger.Log(clog.LevelWarn, "checkpoint reclamation failed on own log", "epoch", epoch, "error", err)
	}

	j.mu.RLock()
	mirrors := make([]*causallog.VertexLog, 0, len(j.upstreamLogs))
	for _, v := range j.upstreamLogs {
		mirrors = append(mirrors, v)
	}
	j.mu.RUnlock()

	for _, v := range mirrors {
		if err := v.NotifyCheckpointComplete(epoch); err != nil {
			j.logger.Log(clog.LevelWarn, "checkpoint reclamation failed on upstream mirror", "epoch", epoch, "error", err)
		}
	}
	return nil
}

func deltaIsEmpty(d wire.VertexCausalLogDelta) bool {
	if d.MainThreadDelta != nil && !d.MainThreadDelta.IsEmpty() {
		return false
	}
	for _, pid := range d.PartitionIDs() {
		for _, sub := range d.SubsFor(pid) {
			if !sub.Delta.IsEmpty() {
				return false
			}
		}
	}
	return true
}
