package causallog

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nodeplex/causalrecovery/internal/bufpool"
)

func newTestLog(t *testing.T) *ThreadLog {
	t.Helper()
	pool := bufpool.New(8, 64)
	return New(pool, nil)
}

func TestAppendAndGetDeterminants(t *testing.T) {
	log := newTestLog(t)
	require.NoError(t, log.Append([]byte("aaaa"), 1))
	require.NoError(t, log.Append([]byte("bbbb"), 1))
	require.NoError(t, log.Append([]byte("cccc"), 2))

	got := log.GetDeterminants(0)
	require.Equal(t, []byte("aaaabbbbcccc"), got)

	got2 := log.GetDeterminants(2)
	require.Equal(t, []byte("cccc"), got2)
}

func TestGetDeterminantsIsIdempotent(t *testing.T) {
	log := newTestLog(t)
	require.NoError(t, log.Append([]byte("payload"), 5))

	a := log.GetDeterminants(0)
	b := log.GetDeterminants(0)
	require.Equal(t, a, b)
}

func TestAppendRejectsEpochGoingBackwards(t *testing.T) {
	log := newTestLog(t)
	require.NoError(t, log.Append([]byte("x"), 3))
	require.Error(t, log.Append([]byte("y"), 2))
}

func TestGetNextForConsumerAdvancesIndependently(t *testing.T) {
	log := newTestLog(t)
	require.NoError(t, log.Append([]byte("11112222"), 1))

	d1 := log.GetNextForConsumer("downstream-a", 0)
	require.Equal(t, []byte("11112222"), d1.RawBytes)
	require.EqualValues(t, 0, d1.StartOffset)

	require.NoError(t, log.Append([]byte("3333"), 2))

	d1b := log.GetNextForConsumer("downstream-a", 0)
	require.Equal(t, []byte("3333"), d1b.RawBytes)

	d2 := log.GetNextForConsumer("downstream-b", 0)
	require.Equal(t, []byte("1111222233333333"[:12]), d2.RawBytes[:12])
}

func TestNotifyCheckpointCompleteReclaimsAndRecycles(t *testing.T) {
	pool := bufpool.New(4, 64)
	log := New(pool, nil)

	require.NoError(t, log.Append([]byte("aaaa"), 1))
	require.NoError(t, log.Append([]byte("bbbb"), 2))
	require.NoError(t, log.Append([]byte("cccc"), 3))

	before := pool.Outstanding()
	require.Greater(t, before, 0)

	require.NoError(t, log.NotifyCheckpointComplete(2))
	after := pool.Outstanding()
	require.Less(t, after, before, "epoch-1 handles should have been recycled")

	remaining := log.GetDeterminants(0)
	require.Equal(t, []byte("bbbbcccc"), remaining)
}

func TestNotifyCheckpointCompleteIsIdempotent(t *testing.T) {
	log := newTestLog(t)
	require.NoError(t, log.Append([]byte("aaaa"), 1))
	require.NoError(t, log.Append([]byte("bbbb"), 2))

	require.NoError(t, log.NotifyCheckpointComplete(2))
	require.NoError(t, log.NotifyCheckpointComplete(2))
	require.NoError(t, log.NotifyCheckpointComplete(1)) // already gone, still a no-op

	require.Equal(t, []byte("bbbb"), log.GetDeterminants(0))
}

func TestConsumerCursorPredatingReclaimedEpochSnapsForward(t *testing.T) {
	log := newTestLog(t)

	// Consumer registers from epoch 0 on the empty log, leaving its cursor
	// at offset 0; it reads nothing more before reclamation.
	require.Empty(t, log.GetNextForConsumer("late-joiner", 0).RawBytes)

	require.NoError(t, log.Append([]byte("aaaa"), 1))
	require.NoError(t, log.Append([]byte("bbbb"), 2))
	require.NoError(t, log.NotifyCheckpointComplete(2))

	delta := log.GetNextForConsumer("late-joiner", 0)
	require.Equal(t, []byte("bbbb"), delta.RawBytes)
}

func TestLogLengthReflectsReclaim(t *testing.T) {
	log := newTestLog(t)
	require.NoError(t, log.Append([]byte("aaaa"), 1))
	require.NoError(t, log.Append([]byte("bbbb"), 2))
	require.Equal(t, 8, log.LogLength())

	require.NoError(t, log.NotifyCheckpointComplete(2))
	require.Equal(t, 4, log.LogLength())
}
