// Package causalrecoveryerr defines the error kinds used across the causal
// recovery subsystem (see spec §7).
package causalrecoveryerr

import (
	"errors"
	"fmt"
)

var (
	// ErrBufferExhausted is returned when the buffer pool cannot supply a
	// segment and the caller's context does not allow further waiting.
	ErrBufferExhausted = errors.New("causalrecovery: buffer pool exhausted")

	// ErrDoubleRecycle is returned when a handle is retained or recycled
	// after its reference count has already reached zero. The check is on
	// the reference count only: once Acquire has handed the segment out
	// again, a stale Retain or Recycle is not detected.
	ErrDoubleRecycle = errors.New("causalrecovery: handle recycled twice")

	// ErrEpochReclaimed indicates a consumer cursor referenced an epoch
	// that has already been garbage collected. Recovered locally by
	// snapping the cursor forward; never fatal.
	ErrEpochReclaimed = errors.New("causalrecovery: cursor epoch already reclaimed")

	// ErrReplayTimeout indicates a prepare event was not followed by a
	// matching request within the replay window.
	ErrReplayTimeout = errors.New("causalrecovery: replay request timed out")

	// ErrMismatchedReplay indicates a request event did not match the
	// subpartition/checkpoint pair named by the preceding prepare event.
	ErrMismatchedReplay = errors.New("causalrecovery: replay request does not match prepare")

	// ErrUnknownEventType is fatal for the listener that received it.
	ErrUnknownEventType = errors.New("causalrecovery: unrecognized in-flight log event")

	// ErrDecodeEnd is a normal termination signal for determinant decoding.
	ErrDecodeEnd = errors.New("causalrecovery: determinant stream exhausted")

	// ErrIteratorClosed indicates an operation was attempted on a replay
	// iterator that has already been closed. Stepping past either end of an
	// open iterator returns ErrDecodeEnd instead.
	ErrIteratorClosed = errors.New("causalrecovery: replay iterator closed")

	// ErrNotRecovering indicates popNext/peekNext was called on a
	// recovery coordinator that has not finished gathering responses.
	ErrNotRecovering = errors.New("causalrecovery: coordinator is not recovering")
)

// ErrLargeReplayBacklog describes a replay backlog that exceeds a
// configured bound, carrying the observed size, mirroring the teacher's
// ErrLargeRespSize. No code in this module returns it.
type ErrLargeReplayBacklog struct {
	Subpartition uint32
	Size         int
	Limit        int
}

func (e *ErrLargeReplayBacklog) Error() string {
	return fmt.Sprintf("causalrecovery: replay backlog for subpartition %d is %d bytes, limit %d", e.Subpartition, e.Size, e.Limit)
}
