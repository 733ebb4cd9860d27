// Package causalrecovery is the top-level facade for the causal recovery
// subsystem: it wires a task's Buffer Pool (C1), Job Causal Log (C5),
// In-Flight Logger (C7), Replay-aware Record Writer (C8) and Recovery
// Coordinator (C9) into one handle covering everything a stream-processing
// task needs to participate in determinant logging and replay-based
// recovery (spec §1, §9).
//
// Grounded on the surrounding franz-go Client constructor, which builds and
// threads a cfg plus several subsystem-owning fields (brokers, producer,
// consumer) from one set of functional options; Task plays the same role
// here for the causal recovery components.
package causalrecovery

import (
	"context"

	"github.com/nodeplex/causalrecovery/config"
	"github.com/nodeplex/causalrecovery/internal/bufpool"
	"github.com/nodeplex/causalrecovery/internal/clog"
	"github.com/nodeplex/causalrecovery/internal/determinant"
	"github.com/nodeplex/causalrecovery/internal/inflight"
	"github.com/nodeplex/causalrecovery/internal/jobgraph"
	"github.com/nodeplex/causalrecovery/internal/recordio"
	"github.com/nodeplex/causalrecovery/internal/recovery"
	"github.com/nodeplex/causalrecovery/internal/wire"
	"github.com/nodeplex/causalrecovery/internal/writer"
)

// Transport is the externally-owned channel abstraction a Task's Writer
// sends replayed and live records over; re-exported so callers never need
// to import internal/writer directly.
type Transport = writer.Transport

// Task bundles everything one stream-processing task needs to participate
// in causal recovery: its own determinant log plus mirrors of every
// upstream vertex's log (JobLog), its in-flight replay buffer
// (inflight.Logger), the Writer that intercepts emissions and drives
// replay, and the Coordinator that drives this task's own recovery after a
// restart.
type Task struct {
	vertex wire.VertexID
	logger clog.Logger

	Pool        *bufpool.Pool
	Log         *jobgraph.JobLog
	InFlight    *inflight.Logger
	Writer      *writer.Writer
	Coordinator *recovery.Coordinator
}

// NewTask builds a Task for vertex, sending replayed and live records over
// transport. onRecoveryReady, if non-nil, is invoked once the Coordinator
// has heard from every expected downstream channel and is ready to stream
// recovered determinants (spec §4.6).
func NewTask(vertex wire.VertexID, cfg config.Config, transport Transport, logger clog.Logger, onRecoveryReady func()) (*Task, error) {
	if logger == nil {
		logger = clog.Nop
	}

	codec, err := recordio.NewCodec(cfg.RecordCodec)
	if err != nil {
		return nil, err
	}

	pool := bufpool.New(cfg.SegmentSize, cfg.PoolCapacity)
	jobLog := jobgraph.New(vertex, pool, logger)
	inFlight := inflight.NewLogger(cfg.NumSubpartitions, logger)
	w := writer.New(cfg.NumSubpartitions, pool, codec, inFlight, transport, logger, cfg.ReplayRequestTimeout)
	coord := recovery.New(cfg.ExpectedDeterminantResponses, onRecoveryReady)

	return &Task{
		vertex:      vertex,
		logger:      logger,
		Pool:        pool,
		Log:         jobLog,
		InFlight:    inFlight,
		Writer:      w,
		Coordinator: coord,
	}, nil
}

// Emit records one output record on subpartition sub: it is logged into the
// in-flight buffer and, if the channel is currently idle, forwarded
// immediately over the transport (spec §4.5).
func (t *Task) Emit(ctx context.Context, sub uint32, record []byte) error {
	return t.Writer.Emit(ctx, sub, record)
}

// AppendDeterminant records a nondeterministic event d against this task's
// own main thread log at the current checkpoint epoch (spec §4.3).
func (t *Task) AppendDeterminant(d determinant.Determinant, epoch uint64) error {
	return t.Log.AppendDeterminant(d, epoch)
}

// ProcessUpstreamDelta folds one upstream vertex's reported delta into this
// task's local mirror of that vertex's log (spec §4.3).
func (t *Task) ProcessUpstreamDelta(delta wire.VertexCausalLogDelta, epoch uint64) error {
	return t.Log.ProcessUpstreamDelta(delta, epoch)
}

// HandlePrepare and HandleRequest drive the downstream-initiated replay
// handshake for subpartition sub (spec §4.5).
func (t *Task) HandlePrepare(ev wire.InFlightLogPrepareEvent) { t.Writer.HandlePrepare(ev) }

func (t *Task) HandleRequest(ev wire.InFlightLogRequestEvent) error {
	return t.Writer.HandleRequest(ev)
}

// LogCheckpointBarrier closes the task's current epoch across the listed
// subpartitions, storing barrier for later replay (spec §4.4).
func (t *Task) LogCheckpointBarrier(barrier []byte, subpartitions []uint32) {
	t.InFlight.LogCheckpointBarrier(barrier, subpartitions)
}

// NotifyCheckpointComplete reclaims every reclaimable slice of this task's
// causal log and in-flight log older than epoch (spec §4.3, §4.4, §5).
func (t *Task) NotifyCheckpointComplete(epoch uint64) error {
	logErr := t.Log.NotifyCheckpointComplete(epoch)
	inFlightErr := t.InFlight.NotifyCheckpointComplete(epoch)
	if logErr != nil {
		return logErr
	}
	return inFlightErr
}

// ProcessDeterminantResponse folds in one downstream channel's reported view
// of this task's own vertex, driving this task's restart-time recovery
// (spec §4.6).
func (t *Task) ProcessDeterminantResponse(ev wire.DeterminantResponseEvent) error {
	return t.Coordinator.ProcessResponse(ev)
}

// PopNextDeterminant returns the next determinant to replay during recovery
// and advances the cursor (spec §4.6).
func (t *Task) PopNextDeterminant() (determinant.Determinant, error) {
	return t.Coordinator.PopNext()
}

// Recovering reports whether this task is currently replaying determinants
// recovered from downstream reports.
func (t *Task) Recovering() bool {
	return t.Coordinator.HasMore()
}
