// Package wire defines the on-the-wire event types and the canonical
// VertexCausalLogDelta binary encoding from spec §6, grounded on
// broker.go's big-endian length-prefixed request/response framing
// (binary.BigEndian, readResponse's 4-byte size prefix).
package wire

// VertexID is a 16-bit opaque identifier of an operator instance (spec §3).
type VertexID uint16

// PartitionID is a 128-bit opaque identifier for an IntermediateResultPartitionID.
type PartitionID [16]byte

// SubpartitionAddress addresses one physical downstream channel (spec §3).
type SubpartitionAddress struct {
	Partition         PartitionID
	SubpartitionIndex uint32
}

// ThreadLogDelta is a contiguous byte range representing unread progress
// for a given consumer (spec §3).
type ThreadLogDelta struct {
	RawBytes    []byte
	StartOffset uint32
}

// IsEmpty reports whether the delta carries zero new bytes.
func (d ThreadLogDelta) IsEmpty() bool { return len(d.RawBytes) == 0 }

// SubpartitionThreadLogDelta pairs a ThreadLogDelta with the subpartition
// it was produced for (spec §3). Canonicalized (per spec §9's open
// question) to a single constructor with an explicit offset, rather than
// the two constructor shapes ((buf, 0, subIdx) and (buf, subIdx)) found in
// the source.
type SubpartitionThreadLogDelta struct {
	Delta             ThreadLogDelta
	SubpartitionIndex uint32
}

// NewSubpartitionThreadLogDelta is the single canonical constructor (spec §9).
func NewSubpartitionThreadLogDelta(raw []byte, startOffset uint32, subIdx uint32) SubpartitionThreadLogDelta {
	return SubpartitionThreadLogDelta{
		Delta:             ThreadLogDelta{RawBytes: raw, StartOffset: startOffset},
		SubpartitionIndex: subIdx,
	}
}

// partitionDelta groups every subpartition delta for one partition, kept
// sorted by SubpartitionIndex so the wire encoding is canonical (spec §3).
type partitionDelta struct {
	Partition PartitionID
	Subs      []SubpartitionThreadLogDelta // sorted by SubpartitionIndex
}

// VertexCausalLogDelta is the unit of determinant propagation between a
// vertex's causal log and its downstream mirrors (spec §3). MainThreadDelta
// is nil when there are zero new main-thread bytes.
type VertexCausalLogDelta struct {
	VertexID        VertexID
	MainThreadDelta *ThreadLogDelta

	partitions []partitionDelta // sorted by PartitionID, lexicographic
}

// NewVertexCausalLogDelta builds a delta from an unordered set of
// subpartition deltas, sorting them into the canonical wire order (spec
// §4.3: "The output's inner maps are SORTED by subpartition index and
// partition id lexicographic order").
func NewVertexCausalLogDelta(vertexID VertexID, main *ThreadLogDelta, subs map[PartitionID][]SubpartitionThreadLogDelta) VertexCausalLogDelta {
	d := VertexCausalLogDelta{VertexID: vertexID, MainThreadDelta: main}
	for pid, ss := range subs {
		if len(ss) == 0 {
			continue
		}
		cp := make([]SubpartitionThreadLogDelta, len(ss))
		copy(cp, ss)
		sortSubs(cp)
		d.partitions = append(d.partitions, partitionDelta{Partition: pid, Subs: cp})
	}
	sortPartitions(d.partitions)
	return d
}

// PartitionIDs returns the delta's partition ids in canonical (sorted) order.
func (d VertexCausalLogDelta) PartitionIDs() []PartitionID {
	ids := make([]PartitionID, len(d.partitions))
	for i, p := range d.partitions {
		ids[i] = p.Partition
	}
	return ids
}

// SubsFor returns the sorted subpartition deltas for the given partition,
// or nil if the partition has none.
func (d VertexCausalLogDelta) SubsFor(pid PartitionID) []SubpartitionThreadLogDelta {
	for _, p := range d.partitions {
		if p.Partition == pid {
			return p.Subs
		}
	}
	return nil
}

func sortSubs(ss []SubpartitionThreadLogDelta) {
	// Insertion sort: partition fan-out is small in practice and this
	// keeps the package free of a sort.Slice closure allocation on the
	// hot delta-composition path.
	for i := 1; i < len(ss); i++ {
		for j := i; j > 0 && ss[j-1].SubpartitionIndex > ss[j].SubpartitionIndex; j-- {
			ss[j-1], ss[j] = ss[j], ss[j-1]
		}
	}
}

func sortPartitions(ps []partitionDelta) {
	for i := 1; i < len(ps); i++ {
		for j := i; j > 0 && comparePartitionIDs(ps[j-1].Partition, ps[j].Partition) > 0; j-- {
			ps[j-1], ps[j] = ps[j], ps[j-1]
		}
	}
}

// comparePartitionIDs compares two 128-bit partition ids byte-for-byte,
// reusing the bounds-correct comparison in recordid.go (spec §9 open
// question).
func comparePartitionIDs(a, b PartitionID) int {
	return CompareBytes(a[:], b[:])
}
