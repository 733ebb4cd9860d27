// Package determinant defines the closed set of nondeterministic-choice
// records (spec §3 "Determinant") and their compact binary encoding. The
// dispatch-by-tag shape mirrors kmsg.Request/kmsg.Response's Key()-based
// dispatch referenced throughout pkg/kgo/broker.go, though the tagged
// variants themselves are this subsystem's own closed set, not borrowed
// wire types.
package determinant

// Kind tags the closed variant set. New kinds require a matching case in
// both Encoder and Decoder; there is deliberately no extensibility hook
// (spec §9: "Express as a closed tagged variant for determinants").
type Kind uint8

const (
	KindOrder Kind = iota
	KindTimer
	KindRNG
	KindSource
	KindBuffer
)

func (k Kind) String() string {
	switch k {
	case KindOrder:
		return "Order"
	case KindTimer:
		return "Timer"
	case KindRNG:
		return "RNG"
	case KindSource:
		return "Source"
	case KindBuffer:
		return "Buffer"
	default:
		return "Unknown"
	}
}

// Determinant is the sum type of every recordable nondeterministic choice.
// Exactly one of the typed fields is meaningful, selected by Kind; this
// mirrors a tagged union without reaching for interface{} dispatch, since
// the set is closed and small.
type Determinant struct {
	Kind Kind

	// Order: the index of the channel/input selected during a
	// nondeterministic merge.
	Order uint32

	// Timer: the wall-clock nanosecond timestamp a timer fired at, plus
	// the timer's identifier.
	TimerID int64
	FireAt  int64

	// RNG: a raw seed/draw value consumed from a PRNG.
	RNGValue uint64

	// Source: the offset a source operator advanced to on this read.
	SourceOffset int64

	// Buffer: the index of the buffer selected among several ready
	// candidates (e.g. a select-like fan-in).
	BufferIndex uint32
}

func Order(index uint32) Determinant     { return Determinant{Kind: KindOrder, Order: index} }
func Timer(id, fireAt int64) Determinant { return Determinant{Kind: KindTimer, TimerID: id, FireAt: fireAt} }
func RNG(v uint64) Determinant           { return Determinant{Kind: KindRNG, RNGValue: v} }
func Source(offset int64) Determinant    { return Determinant{Kind: KindSource, SourceOffset: offset} }
func Buffer(index uint32) Determinant    { return Determinant{Kind: KindBuffer, BufferIndex: index} }
