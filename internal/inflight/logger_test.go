package inflight

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nodeplex/causalrecovery/internal/bufpool"
)

func TestLoggerRoutesRecordsBySubpartition(t *testing.T) {
	pool := bufpool.New(16, 16)
	logger := NewLogger(2, nil)

	h0 := acquireRecord(t, pool, "sub0-rec")
	h1 := acquireRecord(t, pool, "sub1-rec")
	require.NoError(t, logger.LogRecord(h0, 0))
	require.NoError(t, logger.LogRecord(h1, 1))
	require.NoError(t, h0.Recycle())
	require.NoError(t, h1.Recycle())

	it0, err := logger.GetReplayLog(0, 0)
	require.NoError(t, err)
	r, err := it0.Next()
	require.NoError(t, err)
	require.Equal(t, []byte("sub0-rec"), r.Bytes())
	require.False(t, it0.HasNext())
	require.NoError(t, it0.Close())
}

func TestLoggerBarrierRoundTripAndEpochAdvance(t *testing.T) {
	logger := NewLogger(2, nil)
	require.EqualValues(t, 0, logger.CurrentEpoch())

	logger.LogCheckpointBarrier([]byte("barrier-0"), []uint32{0, 1})
	require.EqualValues(t, 1, logger.CurrentEpoch())

	b, ok := logger.GetCheckpointBarrier(0, 0)
	require.True(t, ok)
	require.Equal(t, []byte("barrier-0"), b.Data)

	_, ok = logger.GetCheckpointBarrier(0, 1)
	require.False(t, ok)
}

func TestGetReplayLogReturnsOnlyTheNamedEpochAcrossMultipleEpochs(t *testing.T) {
	pool := bufpool.New(16, 16)
	logger := NewLogger(1, nil)

	h8 := acquireRecord(t, pool, "e8")
	require.NoError(t, logger.logs[0].LogRecord(h8, 8))
	require.NoError(t, h8.Recycle())
	h9 := acquireRecord(t, pool, "e9")
	require.NoError(t, logger.logs[0].LogRecord(h9, 9))
	require.NoError(t, h9.Recycle())

	it8, err := logger.GetReplayLog(0, 8)
	require.NoError(t, err)
	require.Equal(t, 1, it8.NumberRemaining())
	r, err := it8.Next()
	require.NoError(t, err)
	require.Equal(t, []byte("e8"), r.Bytes())
	require.False(t, it8.HasNext())
	require.NoError(t, it8.Close())

	it9, err := logger.GetReplayLog(0, 9)
	require.NoError(t, err)
	require.Equal(t, 1, it9.NumberRemaining())
	r, err = it9.Next()
	require.NoError(t, err)
	require.Equal(t, []byte("e9"), r.Bytes())
	require.False(t, it9.HasNext())
	require.NoError(t, it9.Close())
}

func TestGetCheckpointIdsToReplayReturnsSortedNewerEpochs(t *testing.T) {
	logger := NewLogger(1, nil)
	logger.LogCheckpointBarrier([]byte("b0"), []uint32{0}) // epoch 0
	logger.LogCheckpointBarrier([]byte("b1"), []uint32{0}) // epoch 1
	logger.LogCheckpointBarrier([]byte("b2"), []uint32{0}) // epoch 2

	ids := logger.GetCheckpointIdsToReplay(0, 0)
	require.Equal(t, []uint64{1, 2}, ids)
}

func TestLoggerNotifyCheckpointCompletePrunesBarriersAndRecords(t *testing.T) {
	pool := bufpool.New(16, 16)
	logger := NewLogger(1, nil)

	h := acquireRecord(t, pool, "old")
	require.NoError(t, logger.LogRecord(h, 0))
	require.NoError(t, h.Recycle())
	logger.LogCheckpointBarrier([]byte("b0"), []uint32{0})

	require.NoError(t, logger.NotifyCheckpointComplete(1))

	_, ok := logger.GetCheckpointBarrier(0, 0)
	require.False(t, ok)

	it, err := logger.GetReplayLog(0, 0)
	require.NoError(t, err)
	require.False(t, it.HasNext())
	require.NoError(t, it.Close())
}
