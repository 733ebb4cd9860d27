package recordio

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/nodeplex/causalrecovery/internal/bufpool"
	"github.com/nodeplex/causalrecovery/internal/clog"
)

// Serializer frames records into Buffer Handles drawn from a shared pool,
// optionally compressing each record body, and hands off completed handles
// on a channel for the Record Writer (C8) to drain. Each record is framed
// as a 4-byte big-endian length prefix followed by the (possibly
// compressed) body, so a downstream reader can split the concatenated
// handle stream back into records without resorting to delimiters.
type Serializer struct {
	pool   *bufpool.Pool
	codec  Codec
	logger clog.Logger

	mu        sync.Mutex
	current   *bufpool.Handle
	completed chan *bufpool.Handle
}

// NewSerializer builds a Serializer drawing segments from pool and framing
// record bodies with codec. completedCap bounds how many finished buffers
// may queue before WriteRecord blocks the producer, matching the teacher's
// bounded-channel backpressure style (broker.go's reqs channel).
func NewSerializer(pool *bufpool.Pool, codec Codec, completedCap int, logger clog.Logger) *Serializer {
	if logger == nil {
		logger = clog.Nop
	}
	return &Serializer{
		pool:      pool,
		codec:     codec,
		logger:    logger,
		completed: make(chan *bufpool.Handle, completedCap),
	}
}

// Completed returns the channel of finished buffers ready for transport.
func (s *Serializer) Completed() <-chan *bufpool.Handle { return s.completed }

// WriteRecord compresses data via the configured codec, frames it with a
// length prefix, and appends it across as many Buffer Handles as needed,
// pushing each filled handle onto the completed channel as it fills.
func (s *Serializer) WriteRecord(ctx context.Context, data []byte) error {
	body := s.codec.Compress(nil, data)

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.appendLocked(ctx, header[:]); err != nil {
		return err
	}
	return s.appendLocked(ctx, body)
}

func (s *Serializer) appendLocked(ctx context.Context, data []byte) error {
	remaining := data
	for len(remaining) > 0 {
		if s.current == nil {
			h, err := s.pool.Acquire(ctx)
			if err != nil {
				return err
			}
			s.current = h
		}
		n := s.current.Write(remaining)
		remaining = remaining[n:]
		if s.current.Full() {
			s.completed <- s.current
			s.current = nil
		}
	}
	return nil
}

// Finish flushes any partially-filled current buffer onto the completed
// channel and returns it, or nil if there was nothing pending.
func (s *Serializer) Finish() *bufpool.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return nil
	}
	h := s.current
	s.current = nil
	s.completed <- h
	return h
}
