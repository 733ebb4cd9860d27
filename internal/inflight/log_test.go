package inflight

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nodeplex/causalrecovery/internal/bufpool"
)

func acquireRecord(t *testing.T, pool *bufpool.Pool, payload string) *bufpool.Handle {
	t.Helper()
	h, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	h.Write([]byte(payload))
	return h
}

func TestLogRecordAndIteratorForwardTraversal(t *testing.T) {
	pool := bufpool.New(16, 16)
	log := NewLog(nil)

	h1 := acquireRecord(t, pool, "r1")
	h2 := acquireRecord(t, pool, "r2")
	require.NoError(t, log.LogRecord(h1, 1))
	require.NoError(t, log.LogRecord(h2, 1))
	require.NoError(t, h1.Recycle())
	require.NoError(t, h2.Recycle())

	it, err := log.GetIterator(0)
	require.NoError(t, err)
	require.Equal(t, 2, it.NumberRemaining())

	require.True(t, it.HasNext())
	r1, err := it.Next()
	require.NoError(t, err)
	require.Equal(t, []byte("r1"), r1.Bytes())

	require.True(t, it.HasNext())
	r2, err := it.Next()
	require.NoError(t, err)
	require.Equal(t, []byte("r2"), r2.Bytes())

	require.False(t, it.HasNext())
	require.Equal(t, 0, it.NumberRemaining())

	require.NoError(t, it.Close())
}

func TestIteratorBidirectionalTraversal(t *testing.T) {
	pool := bufpool.New(16, 16)
	log := NewLog(nil)
	h := acquireRecord(t, pool, "only")
	require.NoError(t, log.LogRecord(h, 1))
	require.NoError(t, h.Recycle())

	it, err := log.GetIterator(0)
	require.NoError(t, err)

	require.False(t, it.HasPrevious())
	r, err := it.Next()
	require.NoError(t, err)
	require.Equal(t, []byte("only"), r.Bytes())

	require.True(t, it.HasPrevious())
	back, err := it.Previous()
	require.NoError(t, err)
	require.Equal(t, []byte("only"), back.Bytes())
	require.True(t, it.HasNext())

	require.NoError(t, it.Close())
}

func TestGetIteratorBeyondAllEpochsIsExhausted(t *testing.T) {
	pool := bufpool.New(16, 16)
	log := NewLog(nil)
	h := acquireRecord(t, pool, "x")
	require.NoError(t, log.LogRecord(h, 1))
	require.NoError(t, h.Recycle())

	it, err := log.GetIterator(99)
	require.NoError(t, err)
	require.False(t, it.HasNext())
	require.NoError(t, it.Close())
}

func TestGetIteratorForEpochReturnsOnlyThatEpochsRecords(t *testing.T) {
	pool := bufpool.New(16, 16)
	log := NewLog(nil)

	h1 := acquireRecord(t, pool, "e1a")
	h2 := acquireRecord(t, pool, "e1b")
	h3 := acquireRecord(t, pool, "e2")
	require.NoError(t, log.LogRecord(h1, 1))
	require.NoError(t, log.LogRecord(h2, 1))
	require.NoError(t, log.LogRecord(h3, 2))
	require.NoError(t, h1.Recycle())
	require.NoError(t, h2.Recycle())
	require.NoError(t, h3.Recycle())

	it, err := log.GetIteratorForEpoch(1)
	require.NoError(t, err)
	require.Equal(t, 2, it.NumberRemaining())

	r1, err := it.Next()
	require.NoError(t, err)
	require.Equal(t, []byte("e1a"), r1.Bytes())
	r2, err := it.Next()
	require.NoError(t, err)
	require.Equal(t, []byte("e1b"), r2.Bytes())

	require.False(t, it.HasNext())
	require.NoError(t, it.Close())
}

func TestGetIteratorForEpochWithNoRecordsIsEmpty(t *testing.T) {
	pool := bufpool.New(16, 16)
	log := NewLog(nil)
	h := acquireRecord(t, pool, "e1")
	require.NoError(t, log.LogRecord(h, 1))
	require.NoError(t, h.Recycle())

	it, err := log.GetIteratorForEpoch(5)
	require.NoError(t, err)
	require.False(t, it.HasNext())
	require.NoError(t, it.Close())
}

func TestNotifyCheckpointCompleteDoesNotReclaimBehindOutstandingIterator(t *testing.T) {
	pool := bufpool.New(16, 16)
	log := NewLog(nil)

	h1 := acquireRecord(t, pool, "e1")
	h2 := acquireRecord(t, pool, "e2")
	require.NoError(t, log.LogRecord(h1, 1))
	require.NoError(t, log.LogRecord(h2, 2))
	require.NoError(t, h1.Recycle())
	require.NoError(t, h2.Recycle())

	it, err := log.GetIterator(0)
	require.NoError(t, err)
	_, err = it.Next() // positions at epoch 1, not yet advanced past it
	require.NoError(t, err)

	require.NoError(t, log.NotifyCheckpointComplete(3))

	// Neither slice is reclaimed: the iterator's current position (epoch 1)
	// clamps the reclaim bound down to 1, and nothing is strictly below it.
	require.Len(t, log.slices, 2)

	require.NoError(t, it.Close())

	// With the iterator gone, a second checkpoint completion reclaims freely.
	require.NoError(t, log.NotifyCheckpointComplete(3))
	require.Empty(t, log.slices)
}

func TestCloseIsIdempotentAndRecyclesExactlyOnce(t *testing.T) {
	pool := bufpool.New(16, 16)
	log := NewLog(nil)
	h := acquireRecord(t, pool, "z")
	require.NoError(t, log.LogRecord(h, 1))
	require.NoError(t, h.Recycle())

	it, err := log.GetIterator(0)
	require.NoError(t, err)

	require.NoError(t, it.Close())
	require.NoError(t, it.Close()) // second close is a no-op, not a double-recycle
}
