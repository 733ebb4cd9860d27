package bufpool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcquireRecycleRoundTrip(t *testing.T) {
	p := New(16, 2)

	h1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, p.Outstanding())

	n := h1.Write([]byte("hello"))
	require.Equal(t, 5, n)
	require.Equal(t, []byte("hello"), h1.Bytes())

	require.NoError(t, h1.Recycle())
	require.Equal(t, 0, p.Outstanding())
}

func TestRetainPreventsPrematureRecycle(t *testing.T) {
	p := New(16, 1)
	h, err := p.Acquire(context.Background())
	require.NoError(t, err)

	require.NoError(t, h.Retain()) // refcount now 2
	require.NoError(t, h.Recycle())
	require.Equal(t, 1, p.Outstanding(), "still outstanding: one retain remains")

	require.NoError(t, h.Recycle())
	require.Equal(t, 0, p.Outstanding())
}

func TestDoubleRecycleIsDetected(t *testing.T) {
	p := New(16, 1)
	h, err := p.Acquire(context.Background())
	require.NoError(t, err)

	require.NoError(t, h.Recycle())
	require.Error(t, h.Recycle())
}

func TestRetainAfterFullRecycleIsProgrammingError(t *testing.T) {
	p := New(16, 1)
	h, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, h.Recycle())
	require.Error(t, h.Retain())
}

func TestAcquireBlocksAtCapacityThenUnblocksOnRecycle(t *testing.T) {
	p := New(16, 1)
	h, err := p.Acquire(context.Background())
	require.NoError(t, err)

	acquired := make(chan *Handle, 1)
	go func() {
		h2, err := p.Acquire(context.Background())
		require.NoError(t, err)
		acquired <- h2
	}()

	select {
	case <-acquired:
		t.Fatal("acquire should have blocked while pool is at capacity")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, h.Recycle())

	select {
	case h2 := <-acquired:
		require.NotNil(t, h2)
	case <-time.After(time.Second):
		t.Fatal("acquire did not unblock after recycle")
	}
}

func TestAcquireHonorsContextCancellation(t *testing.T) {
	p := New(16, 1)
	_, err := p.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	require.Error(t, err)
}

func TestWriteStopsAtCapacity(t *testing.T) {
	p := New(4, 1)
	h, err := p.Acquire(context.Background())
	require.NoError(t, err)

	n := h.Write([]byte("abcdef"))
	require.Equal(t, 4, n)
	require.True(t, h.Full())
}

func TestHandleGenerationBumpsOnReuse(t *testing.T) {
	p := New(16, 1)
	h, err := p.Acquire(context.Background())
	require.NoError(t, err)
	gen0 := h.Generation()

	require.NoError(t, h.Recycle())
	h2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, gen0+1, h2.Generation())
}
