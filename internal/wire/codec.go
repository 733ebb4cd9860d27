package wire

import (
	"encoding/binary"
	"fmt"
)

// EncodeDelta writes the canonical wire layout for a VertexCausalLogDelta
// (spec §6):
//
//	vertexId:u16  mainDeltaPresent:u8
//	[mainDelta: u32 offset, u32 len, bytes]?
//	numPartitions:u32
//	  [partitionId: 16 bytes
//	   numSubs: u32
//	     [subIdx: u32, offset: u32, len: u32, bytes]*
//	  ]*
//
// Inner lists are already sorted by NewVertexCausalLogDelta, so encoding
// here is a straight walk with no further sorting -- this is what makes two
// calls to getDeterminants(0) byte-identical (spec §8).
func EncodeDelta(dst []byte, d VertexCausalLogDelta) []byte {
	dst = appendU16(dst, uint16(d.VertexID))
	if d.MainThreadDelta == nil {
		dst = append(dst, 0)
	} else {
		dst = append(dst, 1)
		dst = appendU32(dst, d.MainThreadDelta.StartOffset)
		dst = appendU32(dst, uint32(len(d.MainThreadDelta.RawBytes)))
		dst = append(dst, d.MainThreadDelta.RawBytes...)
	}

	dst = appendU32(dst, uint32(len(d.partitions)))
	for _, p := range d.partitions {
		dst = append(dst, p.Partition[:]...)
		dst = appendU32(dst, uint32(len(p.Subs)))
		for _, s := range p.Subs {
			dst = appendU32(dst, s.SubpartitionIndex)
			dst = appendU32(dst, s.Delta.StartOffset)
			dst = appendU32(dst, uint32(len(s.Delta.RawBytes)))
			dst = append(dst, s.Delta.RawBytes...)
		}
	}
	return dst
}

// DecodeDelta parses the layout written by EncodeDelta. It returns an error
// if the buffer is short or malformed; it does not attempt to recover
// partial deltas, since the transport guarantees whole-message delivery
// (spec §1, out of scope).
func DecodeDelta(buf []byte) (VertexCausalLogDelta, error) {
	r := reader{buf: buf}

	vid, err := r.u16()
	if err != nil {
		return VertexCausalLogDelta{}, err
	}
	present, err := r.u8()
	if err != nil {
		return VertexCausalLogDelta{}, err
	}

	var main *ThreadLogDelta
	if present != 0 {
		off, err := r.u32()
		if err != nil {
			return VertexCausalLogDelta{}, err
		}
		n, err := r.u32()
		if err != nil {
			return VertexCausalLogDelta{}, err
		}
		raw, err := r.bytes(int(n))
		if err != nil {
			return VertexCausalLogDelta{}, err
		}
		main = &ThreadLogDelta{RawBytes: raw, StartOffset: off}
	}

	numPartitions, err := r.u32()
	if err != nil {
		return VertexCausalLogDelta{}, err
	}

	d := VertexCausalLogDelta{VertexID: VertexID(vid), MainThreadDelta: main}
	d.partitions = make([]partitionDelta, 0, numPartitions)
	for i := uint32(0); i < numPartitions; i++ {
		var pid PartitionID
		raw, err := r.bytes(len(pid))
		if err != nil {
			return VertexCausalLogDelta{}, err
		}
		copy(pid[:], raw)

		numSubs, err := r.u32()
		if err != nil {
			return VertexCausalLogDelta{}, err
		}
		subs := make([]SubpartitionThreadLogDelta, 0, numSubs)
		for j := uint32(0); j < numSubs; j++ {
			subIdx, err := r.u32()
			if err != nil {
				return VertexCausalLogDelta{}, err
			}
			off, err := r.u32()
			if err != nil {
				return VertexCausalLogDelta{}, err
			}
			n, err := r.u32()
			if err != nil {
				return VertexCausalLogDelta{}, err
			}
			rawBytes, err := r.bytes(int(n))
			if err != nil {
				return VertexCausalLogDelta{}, err
			}
			subs = append(subs, NewSubpartitionThreadLogDelta(rawBytes, off, subIdx))
		}
		d.partitions = append(d.partitions, partitionDelta{Partition: pid, Subs: subs})
	}
	return d, nil
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) u8() (uint8, error) {
	if r.off+1 > len(r.buf) {
		return 0, fmt.Errorf("wire: short buffer reading u8 at %d", r.off)
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

func (r *reader) u16() (uint16, error) {
	if r.off+2 > len(r.buf) {
		return 0, fmt.Errorf("wire: short buffer reading u16 at %d", r.off)
	}
	v := binary.BigEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if r.off+4 > len(r.buf) {
		return 0, fmt.Errorf("wire: short buffer reading u32 at %d", r.off)
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 || r.off+n > len(r.buf) {
		return nil, fmt.Errorf("wire: short buffer reading %d bytes at %d", n, r.off)
	}
	v := r.buf[r.off : r.off+n]
	r.off += n
	return v, nil
}

func appendU16(dst []byte, v uint16) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return append(dst, b[:]...)
}

func appendU32(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}
