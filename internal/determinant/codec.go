package determinant

import (
	"encoding/binary"
	"fmt"

	"github.com/nodeplex/causalrecovery/internal/causalrecoveryerr"
)

// Encoder appends the compact binary encoding of a Determinant to dst,
// returning the extended slice. The wire format is tag byte followed by a
// kind-specific fixed-width payload -- deliberately simple, since the
// variant set is closed and every payload is fixed width (no length
// prefixes needed).
type Encoder struct{}

// EncodeTo appends det's encoding to dst and returns the result, mirroring
// the DeterminantEncodingStrategy.encodeTo(out, det) contract from spec §6.
func (Encoder) EncodeTo(dst []byte, det Determinant) []byte {
	dst = append(dst, byte(det.Kind))
	switch det.Kind {
	case KindOrder:
		return appendU32(dst, det.Order)
	case KindTimer:
		dst = appendI64(dst, det.TimerID)
		return appendI64(dst, det.FireAt)
	case KindRNG:
		return appendU64(dst, det.RNGValue)
	case KindSource:
		return appendI64(dst, det.SourceOffset)
	case KindBuffer:
		return appendU32(dst, det.BufferIndex)
	default:
		panic(fmt.Sprintf("determinant: unknown kind %d", det.Kind))
	}
}

// Decoder advances a cursor over an encoded byte stream, returning one
// Determinant at a time. Mirrors decodeNext(in) -> Option<Determinant> from
// spec §6; DecodeNext returns causalrecoveryerr.ErrDecodeEnd at end of
// stream, which is a normal termination signal, not a fault (spec §7).
type Decoder struct {
	buf    []byte
	offset int
}

// NewDecoder wraps buf for sequential decoding from the start.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// Offset returns the decoder's current byte cursor, useful for resuming a
// partially-consumed buffer.
func (d *Decoder) Offset() int { return d.offset }

// HasMore reports whether any undecoded bytes remain.
func (d *Decoder) HasMore() bool { return d.offset < len(d.buf) }

// DecodeNext decodes and returns the next Determinant, advancing the
// cursor. Returns ErrDecodeEnd once the stream is exhausted.
func (d *Decoder) DecodeNext() (Determinant, error) {
	if !d.HasMore() {
		return Determinant{}, causalrecoveryerr.ErrDecodeEnd
	}
	kind := Kind(d.buf[d.offset])
	d.offset++
	switch kind {
	case KindOrder:
		v, err := d.readU32()
		return Determinant{Kind: KindOrder, Order: v}, err
	case KindTimer:
		id, err := d.readI64()
		if err != nil {
			return Determinant{}, err
		}
		fireAt, err := d.readI64()
		return Determinant{Kind: KindTimer, TimerID: id, FireAt: fireAt}, err
	case KindRNG:
		v, err := d.readU64()
		return Determinant{Kind: KindRNG, RNGValue: v}, err
	case KindSource:
		v, err := d.readI64()
		return Determinant{Kind: KindSource, SourceOffset: v}, err
	case KindBuffer:
		v, err := d.readU32()
		return Determinant{Kind: KindBuffer, BufferIndex: v}, err
	default:
		return Determinant{}, fmt.Errorf("determinant: corrupt stream, unknown kind tag %d at offset %d", kind, d.offset-1)
	}
}

func appendU32(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

func appendU64(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

func appendI64(dst []byte, v int64) []byte {
	return appendU64(dst, uint64(v))
}

func (d *Decoder) readU32() (uint32, error) {
	if d.offset+4 > len(d.buf) {
		return 0, causalrecoveryerr.ErrDecodeEnd
	}
	v := binary.BigEndian.Uint32(d.buf[d.offset:])
	d.offset += 4
	return v, nil
}

func (d *Decoder) readU64() (uint64, error) {
	if d.offset+8 > len(d.buf) {
		return 0, causalrecoveryerr.ErrDecodeEnd
	}
	v := binary.BigEndian.Uint64(d.buf[d.offset:])
	d.offset += 8
	return v, nil
}

func (d *Decoder) readI64() (int64, error) {
	v, err := d.readU64()
	return int64(v), err
}
