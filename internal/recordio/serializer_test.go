package recordio

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nodeplex/causalrecovery/internal/bufpool"
)

func drainAllBytes(t *testing.T, s *Serializer) []byte {
	t.Helper()
	var out []byte
	close(s.completed)
	for h := range s.completed {
		out = append(out, h.Bytes()...)
	}
	return out
}

func TestSerializerRoundTripsRecordsThroughReader(t *testing.T) {
	pool := bufpool.New(8, 64)
	codec, err := NewCodec(CodecNone)
	require.NoError(t, err)
	s := NewSerializer(pool, codec, 64, nil)

	records := [][]byte{[]byte("alpha"), []byte("beta-record"), []byte("c")}
	ctx := context.Background()
	for _, r := range records {
		require.NoError(t, s.WriteRecord(ctx, r))
	}
	s.Finish()

	all := drainAllBytes(t, s)

	reader := NewReader(all, codec)
	var got [][]byte
	for reader.HasMore() {
		rec, err := reader.Next()
		require.NoError(t, err)
		got = append(got, rec)
	}
	require.Equal(t, records, got)
}

func TestSerializerWithCompressionRoundTrips(t *testing.T) {
	pool := bufpool.New(16, 64)
	codec, err := NewCodec(CodecSnappy)
	require.NoError(t, err)
	s := NewSerializer(pool, codec, 64, nil)

	record := []byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	ctx := context.Background()
	require.NoError(t, s.WriteRecord(ctx, record))
	s.Finish()

	all := drainAllBytes(t, s)
	reader := NewReader(all, codec)
	require.True(t, reader.HasMore())
	got, err := reader.Next()
	require.NoError(t, err)
	require.Equal(t, record, got)
	require.False(t, reader.HasMore())
}

func TestFinishIsNoOpWhenNothingPending(t *testing.T) {
	pool := bufpool.New(8, 64)
	codec, err := NewCodec(CodecNone)
	require.NoError(t, err)
	s := NewSerializer(pool, codec, 64, nil)

	require.Nil(t, s.Finish())
}
