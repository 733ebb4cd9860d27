package recovery

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nodeplex/causalrecovery/internal/causalrecoveryerr"
	"github.com/nodeplex/causalrecovery/internal/determinant"
	"github.com/nodeplex/causalrecovery/internal/wire"
)

func encodedOrderSequence(t *testing.T, indices ...uint32) []byte {
	t.Helper()
	var enc determinant.Encoder
	var out []byte
	for _, i := range indices {
		out = enc.EncodeTo(out, determinant.Order(i))
	}
	return out
}

func responseWith(raw []byte) wire.DeterminantResponseEvent {
	var main *wire.ThreadLogDelta
	if len(raw) > 0 {
		main = &wire.ThreadLogDelta{RawBytes: raw}
	}
	return wire.DeterminantResponseEvent{Delta: wire.NewVertexCausalLogDelta(wire.VertexID(1), main, nil)}
}

func responseWithSub(mainRaw, subRaw []byte, pid wire.PartitionID, subIdx uint32) wire.DeterminantResponseEvent {
	var main *wire.ThreadLogDelta
	if len(mainRaw) > 0 {
		main = &wire.ThreadLogDelta{RawBytes: mainRaw}
	}
	subs := map[wire.PartitionID][]wire.SubpartitionThreadLogDelta{
		pid: {wire.NewSubpartitionThreadLogDelta(subRaw, 0, subIdx)},
	}
	return wire.DeterminantResponseEvent{Delta: wire.NewVertexCausalLogDelta(wire.VertexID(1), main, subs)}
}

func TestCoordinatorKeepsLongestResponse(t *testing.T) {
	var readyCount int
	c := New(3, func() { readyCount++ })

	short := encodedOrderSequence(t, 1)
	long := encodedOrderSequence(t, 1, 2, 3)
	medium := encodedOrderSequence(t, 1, 2)

	require.NoError(t, c.ProcessResponse(responseWith(short)))
	require.False(t, c.HasMore())
	require.NoError(t, c.ProcessResponse(responseWith(long)))
	require.False(t, c.HasMore())
	require.NoError(t, c.ProcessResponse(responseWith(medium)))

	require.Equal(t, 1, readyCount)
	require.True(t, c.HasMore())

	det, ok := c.PeekNext()
	require.True(t, ok)
	require.Equal(t, determinant.Order(1), det)
}

func TestPopNextDrainsInOrderThenResets(t *testing.T) {
	c := New(1, nil)
	raw := encodedOrderSequence(t, 1, 2)
	require.NoError(t, c.ProcessResponse(responseWith(raw)))

	d1, err := c.PopNext()
	require.NoError(t, err)
	require.Equal(t, determinant.Order(1), d1)

	require.True(t, c.HasMore())
	d2, err := c.PopNext()
	require.NoError(t, err)
	require.Equal(t, determinant.Order(2), d2)

	require.False(t, c.HasMore())
	_, err = c.PopNext()
	require.ErrorIs(t, err, causalrecoveryerr.ErrNotRecovering)
}

func TestPopNextBeforeAllResponsesArriveErrors(t *testing.T) {
	c := New(2, nil)
	_, err := c.PopNext()
	require.ErrorIs(t, err, causalrecoveryerr.ErrNotRecovering)
}

func TestProcessResponseIncludesSubpartitionDeterminants(t *testing.T) {
	c := New(1, nil)

	var enc determinant.Encoder
	mainRaw := enc.EncodeTo(nil, determinant.Order(1))
	subRaw := enc.EncodeTo(nil, determinant.Buffer(2))

	var pid wire.PartitionID
	pid[0] = 0xAB
	require.NoError(t, c.ProcessResponse(responseWithSub(mainRaw, subRaw, pid, 0)))

	d1, err := c.PopNext()
	require.NoError(t, err)
	require.Equal(t, determinant.Order(1), d1)

	// The subpartition-carried Buffer determinant must also survive into
	// recovery, not be silently dropped alongside the main thread's bytes.
	d2, err := c.PopNext()
	require.NoError(t, err)
	require.Equal(t, determinant.Buffer(2), d2)

	require.False(t, c.HasMore())
}

func TestProcessResponseLengthComparisonAccountsForSubpartitionBytes(t *testing.T) {
	var readyCount int
	c := New(2, func() { readyCount++ })

	var enc determinant.Encoder
	shortMainOnly := enc.EncodeTo(nil, determinant.Order(1))

	var pid wire.PartitionID
	pid[0] = 0x01
	subRaw := enc.EncodeTo(nil, determinant.Buffer(9))
	longerWithSub := responseWithSub(shortMainOnly, subRaw, pid, 0)

	require.NoError(t, c.ProcessResponse(responseWith(shortMainOnly)))
	require.NoError(t, c.ProcessResponse(longerWithSub))

	require.Equal(t, 1, readyCount)
	d1, err := c.PopNext()
	require.NoError(t, err)
	require.Equal(t, determinant.Order(1), d1)
	d2, err := c.PopNext()
	require.NoError(t, err)
	require.Equal(t, determinant.Buffer(9), d2)
}
