package wire

// The event types below are the AbstractEvent subclasses named in spec §6,
// (de)serialized through the DataOutputView/DataInputView-equivalent
// helpers in codec.go. They flow over the existing shuffle/transport
// layer's channel abstraction, which is out of scope for this subsystem
// (spec §1) -- these types are the payload, not the transport.

// InFlightLogPrepareEvent is sent downstream -> upstream to begin a replay:
// "finish your current buffer and get ready for a request."
type InFlightLogPrepareEvent struct {
	SubpartitionIndex uint32
	CheckpointID      uint64
}

// InFlightLogRequestEvent is sent downstream -> upstream to confirm a
// replay, naming the exact (subpartition, checkpoint) the prepare named.
type InFlightLogRequestEvent struct {
	SubpartitionIndex uint32
	CheckpointID      uint64
}

// Matches reports whether this request confirms the given prepare (spec §4.5).
func (r InFlightLogRequestEvent) Matches(p InFlightLogPrepareEvent) bool {
	return r.SubpartitionIndex == p.SubpartitionIndex && r.CheckpointID == p.CheckpointID
}

// DeterminantRequestEvent is sent downstream -> upstream when a task is
// restarting and needs the failed vertex's determinant history.
type DeterminantRequestEvent struct {
	FailedVertex VertexID
}

// DeterminantResponseEvent is sent upstream -> downstream carrying one
// reporter's view of a vertex's causal log.
type DeterminantResponseEvent struct {
	Delta VertexCausalLogDelta
}
