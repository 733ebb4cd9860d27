package recordio

import (
	"encoding/binary"
	"fmt"
)

// Reader splits a concatenated stream of length-prefixed, codec-compressed
// record frames (as produced by Serializer) back into individual record
// bodies, decompressing each via codec.
type Reader struct {
	codec Codec
	buf   []byte
	off   int
}

// NewReader wraps buf for sequential record extraction using codec.
func NewReader(buf []byte, codec Codec) *Reader {
	return &Reader{buf: buf, codec: codec}
}

// HasMore reports whether another framed record remains.
func (r *Reader) HasMore() bool { return r.off < len(r.buf) }

// Next decodes and decompresses the next record body.
func (r *Reader) Next() ([]byte, error) {
	if r.off+4 > len(r.buf) {
		return nil, fmt.Errorf("recordio: truncated length prefix at offset %d", r.off)
	}
	length := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	if r.off+int(length) > len(r.buf) {
		return nil, fmt.Errorf("recordio: truncated record body at offset %d", r.off)
	}
	body := r.buf[r.off : r.off+int(length)]
	r.off += int(length)
	return r.codec.Decompress(body)
}
