// Package writer implements the Replay-aware Record Writer (C8): a state
// machine, one instance per subpartition channel, that intercepts every
// emission, logs it into the In-Flight Logger (C7), and on a matched
// prepare+request event pair suspends normal emission to replay a
// subpartition's in-flight history before resuming.
//
// Grounded on gazette's append_fsm.go explicit-phase style (named directly
// by spec §9's design note) for the Phase enum and guarded transitions, and
// on broker.go's handleReqs serialized per-resource loop for the discipline
// that each channel's transitions are handled one at a time under its own
// lock.
package writer

import (
	"context"
	"sync"
	"time"

	"github.com/nodeplex/causalrecovery/internal/bufpool"
	"github.com/nodeplex/causalrecovery/internal/causalrecoveryerr"
	"github.com/nodeplex/causalrecovery/internal/clog"
	"github.com/nodeplex/causalrecovery/internal/inflight"
	"github.com/nodeplex/causalrecovery/internal/recordio"
	"github.com/nodeplex/causalrecovery/internal/wire"
)

// Phase is the explicit state of one subpartition channel (spec §4.5,
// §9 design note: "collapse into a single phase field").
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePreparing
	PhaseAwaitRequest
	PhaseReplaying
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhasePreparing:
		return "PREPARING"
	case PhaseAwaitRequest:
		return "AWAIT_REQUEST"
	case PhaseReplaying:
		return "REPLAYING"
	default:
		return "UNKNOWN"
	}
}

// Transport is the externally-owned channel abstraction a Writer sends
// framed buffers over; out of scope for this subsystem (spec §1), so it is
// modeled as a narrow interface rather than a concrete network type.
type Transport interface {
	Send(sub uint32, data []byte) error
}

// channel holds one subpartition's FSM state plus its own serializer, so
// "clear buffers" on prepare only ever touches that subpartition's pending
// bytes.
type channel struct {
	sub        uint32
	serializer *recordio.Serializer

	mu             sync.Mutex // guards the fields below during state transitions; never held across transport I/O
	phase          Phase
	pendingPrepare *wire.InFlightLogPrepareEvent
	queuedPrepare  *wire.InFlightLogPrepareEvent // nested prepare seen mid-replay
	timer          *time.Timer
}

// Writer is the Record Writer (C8). One Writer instance serves every
// subpartition of one task.
type Writer struct {
	pool          *bufpool.Pool
	codec         recordio.Codec
	logs          *inflight.Logger
	transport     Transport
	logger        clog.Logger
	replayTimeout time.Duration

	channels []*channel // indexed by subpartition
}

// New builds a Writer over numSubpartitions channels, each with its own
// Serializer drawing from pool and framing with codec.
func New(numSubpartitions int, pool *bufpool.Pool, codec recordio.Codec, logs *inflight.Logger, transport Transport, logger clog.Logger, replayTimeout time.Duration) *Writer {
	if logger == nil {
		logger = clog.Nop
	}
	if replayTimeout <= 0 {
		replayTimeout = time.Second
	}
	channels := make([]*channel, numSubpartitions)
	for i := range channels {
		channels[i] = &channel{
			sub:        uint32(i),
			serializer: recordio.NewSerializer(pool, codec, 16, logger),
			phase:      PhaseIdle,
		}
	}
	return &Writer{
		pool:          pool,
		codec:         codec,
		logs:          logs,
		transport:     transport,
		logger:        logger,
		replayTimeout: replayTimeout,
		channels:      channels,
	}
}

// Phase returns the current FSM state of subpartition sub, for tests and
// diagnostics.
func (w *Writer) Phase(sub uint32) Phase {
	ch := w.channels[sub]
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.phase
}

// Emit intercepts a record (spec §4.5, §2 "record -> C8 -> C2 -> network"):
// it runs the record through the channel's Serializer (C2) -- framing it
// with a length prefix and compressing it via the configured codec -- logs
// each resulting Buffer Handle into C7, then sends it over the transport if
// and only if the channel is IDLE. Emissions arriving while a replay is
// being prepared or in progress are logged but not forwarded; they reach
// the transport only when a replay covering their epoch re-emits them from
// the in-flight log.
func (w *Writer) Emit(ctx context.Context, sub uint32, record []byte) error {
	ch := w.channels[sub]

	if err := ch.serializer.WriteRecord(ctx, record); err != nil {
		return err
	}
	ch.serializer.Finish() // flush this record's buffer onto Completed now rather than batching with the next one

	handles := w.drainCompleted(ch)

	ch.mu.Lock()
	idle := ch.phase == PhaseIdle
	ch.mu.Unlock()

	for _, h := range handles {
		data := h.Bytes()
		if err := w.logs.LogRecord(h, sub); err != nil {
			return err
		}
		if err := h.Recycle(); err != nil {
			return err
		}
		if idle {
			if err := w.sendToTarget(ch, data); err != nil {
				return err
			}
		}
	}
	return nil
}

// drainCompleted pulls every Buffer Handle currently sitting on the
// channel's Serializer.Completed() channel without blocking.
func (w *Writer) drainCompleted(ch *channel) []*bufpool.Handle {
	var handles []*bufpool.Handle
	for {
		select {
		case h := <-ch.serializer.Completed():
			handles = append(handles, h)
		default:
			return handles
		}
	}
}

// sendToTarget pushes data over the transport (spec §4.5: replay re-emits
// via "the normal sendToTarget path"). data is already framed/compressed by
// C2 at the point it was first logged, so a replay resending it here is
// byte-identical to the original transmission without re-running the codec.
func (w *Writer) sendToTarget(ch *channel, data []byte) error {
	return w.transport.Send(ch.sub, data)
}

// HandlePrepare transitions a channel to PREPARING on an InFlightLogPrepareEvent
// (spec §4.5). If the channel is already REPLAYING, the prepare is queued
// and processed recursively once the current replay finishes.
func (w *Writer) HandlePrepare(ev wire.InFlightLogPrepareEvent) {
	ch := w.channels[ev.SubpartitionIndex]

	ch.mu.Lock()
	if ch.phase == PhaseReplaying {
		p := ev
		ch.queuedPrepare = &p
		ch.mu.Unlock()
		return
	}
	ch.mu.Unlock()

	w.beginPrepare(ch, ev)
}

// beginPrepare runs the PREPARING -> AWAIT_REQUEST transition (spec §4.5
// step 1): finish the channel's current buffer builder, record the pending
// prepare, and arm the reply timeout.
func (w *Writer) beginPrepare(ch *channel, ev wire.InFlightLogPrepareEvent) {
	ch.serializer.Finish() // "finish the current buffer builder"

	ch.mu.Lock()
	ch.phase = PhasePreparing
	p := ev
	ch.pendingPrepare = &p
	ch.phase = PhaseAwaitRequest
	if ch.timer != nil {
		ch.timer.Stop()
	}
	ch.timer = time.AfterFunc(w.replayTimeout, func() {
		w.onReplayTimeout(ch)
	})
	ch.mu.Unlock()
}

func (w *Writer) onReplayTimeout(ch *channel) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.phase != PhaseAwaitRequest {
		return
	}
	w.logger.Log(clog.LevelWarn, "replay request timed out, resuming normal emission",
		"subpartition", ch.sub)
	ch.pendingPrepare = nil
	ch.phase = PhaseIdle
}

// HandleRequest transitions a matched channel into REPLAYING and drives the
// replay to completion, or aborts back to IDLE on mismatch (spec §4.5).
func (w *Writer) HandleRequest(ev wire.InFlightLogRequestEvent) error {
	ch := w.channels[ev.SubpartitionIndex]

	ch.mu.Lock()
	if ch.phase != PhaseAwaitRequest || ch.pendingPrepare == nil || !ev.Matches(*ch.pendingPrepare) {
		phase := ch.phase
		ch.pendingPrepare = nil
		ch.phase = PhaseIdle
		ch.mu.Unlock()
		w.logger.Log(clog.LevelWarn, "replay request mismatched pending prepare, aborting",
			"subpartition", ch.sub, "phase", phase.String())
		return causalrecoveryerr.ErrMismatchedReplay
	}
	if ch.timer != nil {
		ch.timer.Stop()
		ch.timer = nil
	}
	lastSeenEpoch := ch.pendingPrepare.CheckpointID
	ch.pendingPrepare = nil
	ch.phase = PhaseReplaying
	ch.mu.Unlock()

	if err := w.runReplay(ch, lastSeenEpoch); err != nil {
		return err
	}

	ch.mu.Lock()
	queued := ch.queuedPrepare
	ch.queuedPrepare = nil
	if queued == nil {
		ch.phase = PhaseIdle
	}
	ch.mu.Unlock()

	if queued != nil {
		w.beginPrepare(ch, *queued)
	}
	return nil
}

// runReplay re-emits every logged record for epochs strictly after
// lastSeenEpoch, in ascending order, each epoch's records followed by its
// stored barrier if any (spec §4.5 step 2-3, ordering guarantee). Uses the
// in-flight log's own logged-epoch set rather than C7's
// checkpoint-barrier-driven GetCheckpointIdsToReplay, since the epoch
// currently being written has no barrier yet but still must replay.
func (w *Writer) runReplay(ch *channel, lastSeenEpoch uint64) error {
	for _, epoch := range w.logs.GetLoggedEpochs(ch.sub) {
		if epoch <= lastSeenEpoch {
			continue
		}
		if err := w.replayEpoch(ch, epoch); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) replayEpoch(ch *channel, epoch uint64) error {
	it, err := w.logs.GetReplayLog(ch.sub, epoch)
	if err != nil {
		return err
	}
	defer it.Close()

	for it.HasNext() {
		rec, err := it.Next()
		if err != nil {
			return err
		}
		if err := w.sendToTarget(ch, rec.Bytes()); err != nil {
			return err
		}
	}

	if barrier, ok := w.logs.GetCheckpointBarrier(ch.sub, epoch); ok {
		if err := w.sendToTarget(ch, barrier.Data); err != nil {
			return err
		}
	}
	return nil
}
