// Package config holds the runtime-tunable knobs for the causal recovery
// subsystem, built with a functional-options pattern matching the
// cfg/Opt(...) convention in pkg/kgo's surrounding Client constructor.
package config

import (
	"time"

	"github.com/nodeplex/causalrecovery/internal/recordio"
)

// Config bundles every tunable used by the causal recovery components. Zero
// value is invalid; use New to get the defaults.
type Config struct {
	// SegmentSize is the fixed capacity, in bytes, of each buffer pool
	// segment handed out by internal/bufpool.
	SegmentSize int

	// PoolCapacity is the maximum number of segments internal/bufpool will
	// allocate before Acquire blocks.
	PoolCapacity int

	// NumSubpartitions is the number of output channels a task's
	// In-Flight Logger (C7) must track.
	NumSubpartitions int

	// ReplayRequestTimeout bounds how long a prepared replay waits for its
	// matching request event before aborting back to IDLE (spec §4.5).
	ReplayRequestTimeout time.Duration

	// ExpectedDeterminantResponses is the number of downstream channels the
	// Recovery Coordinator (C9) must hear from before it starts replay.
	ExpectedDeterminantResponses int

	// MaxReplayBacklogBytes holds a size bound for a single getDeterminants
	// response buffer, zero meaning unbounded. No component reads it, so
	// responses are not size-limited.
	MaxReplayBacklogBytes int

	// RecordCodec selects the compressor the Record Serializer (C2) frames
	// record bodies with before they cross into a Buffer Handle.
	RecordCodec recordio.CodecKind
}

// Option mutates a Config during construction.
type Option func(*Config)

// New builds a Config from sane defaults plus any supplied options.
func New(opts ...Option) Config {
	cfg := Config{
		SegmentSize:                  32 * 1024,
		PoolCapacity:                 256,
		NumSubpartitions:             1,
		ReplayRequestTimeout:         time.Second,
		ExpectedDeterminantResponses: 1,
		MaxReplayBacklogBytes:        0,
		RecordCodec:                  recordio.CodecSnappy,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func WithSegmentSize(n int) Option {
	return func(c *Config) { c.SegmentSize = n }
}

func WithPoolCapacity(n int) Option {
	return func(c *Config) { c.PoolCapacity = n }
}

func WithNumSubpartitions(n int) Option {
	return func(c *Config) { c.NumSubpartitions = n }
}

func WithReplayRequestTimeout(d time.Duration) Option {
	return func(c *Config) { c.ReplayRequestTimeout = d }
}

func WithExpectedDeterminantResponses(n int) Option {
	return func(c *Config) { c.ExpectedDeterminantResponses = n }
}

func WithMaxReplayBacklogBytes(n int) Option {
	return func(c *Config) { c.MaxReplayBacklogBytes = n }
}

func WithRecordCodec(kind recordio.CodecKind) Option {
	return func(c *Config) { c.RecordCodec = kind }
}
