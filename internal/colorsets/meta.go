package colorsets

import (
	"io"

	"github.com/deepteams/fulgor/internal/serial"
	"github.com/deepteams/fulgor/internal/succinct"
)

// PartitionEndpoint describes one partition of the reference universe:
// its first reference id and the number of partial sets stored by all
// partitions before it. A meta color m lives in partition p iff
// endpoints[p].NumColorSetsBefore <= m < endpoints[p+1].NumColorSetsBefore.
type PartitionEndpoint struct {
	MinColor           uint32
	NumColorSetsBefore uint32
}

// Meta stores color sets two-level: the universe is split into P
// contiguous partitions, each owning a hybrid store of partial sets
// relative to its range; a full set is a list of meta colors (global
// partial-set indices) packed in a compact vector.
type Meta struct {
	numColors     uint32
	metaColorSets *succinct.CompactVector
	offsets       *succinct.EliasFano
	partials      []*Hybrid
	endpoints     []PartitionEndpoint // P+1 entries
}

// MetaBuilder drives the two stages of a meta build: partial sets per
// partition first, then the meta-color lists.
type MetaBuilder struct {
	numColors       uint64
	partialBuilders []*HybridBuilder
	metaColors      *succinct.CompactVectorBuilder
	offset          uint64
	offsets         []uint64
	endpoints       []PartitionEndpoint
}

// NewMetaBuilder creates a builder for numPartitions partitions over
// [0, numColors).
func NewMetaBuilder(numColors, numPartitions uint64) *MetaBuilder {
	return &MetaBuilder{
		numColors:       numColors,
		partialBuilders: make([]*HybridBuilder, numPartitions),
		offsets:         []uint64{0},
	}
}

// InitPartition sizes partition partitionID to its reference range.
func (b *MetaBuilder) InitPartition(partitionID, numColorsInPartition uint64) {
	b.partialBuilders[partitionID] = NewHybridBuilder(uint32(numColorsInPartition))
}

// EncodePartialSet appends a partial set (relative ids) to a partition.
func (b *MetaBuilder) EncodePartialSet(partitionID uint64, set []uint32) {
	b.partialBuilders[partitionID].Process(set)
}

// InitMetaColorSets sizes the meta-color vector: numIntegers total
// entries (sizes plus meta colors) at the width of numPartialSets.
// partitionSizes is the P+1 prefix sum of partition extents;
// numSetsInPartitions the per-partition partial-set counts.
func (b *MetaBuilder) InitMetaColorSets(numIntegers, numPartialSets uint64,
	partitionSizes []uint32, numSetsInPartitions []uint32) {
	// The width must also fit the per-list size header, which is at
	// most the number of partitions.
	width := max(ceilLog2(numPartialSets), ceilLog2(uint64(len(numSetsInPartitions))+1))
	b.metaColors = succinct.NewCompactVectorBuilder(numIntegers, width)
	b.endpoints = make([]PartitionEndpoint, 0, len(numSetsInPartitions)+1)
	b.endpoints = append(b.endpoints, PartitionEndpoint{MinColor: partitionSizes[0]})
	val := uint32(0)
	for i, n := range numSetsInPartitions {
		val += n
		b.endpoints = append(b.endpoints,
			PartitionEndpoint{MinColor: partitionSizes[i+1], NumColorSetsBefore: val})
	}
}

// EncodeMetaColorSet appends one full set as its meta-color list.
func (b *MetaBuilder) EncodeMetaColorSet(metaColors []uint32) {
	b.metaColors.PushBack(uint64(len(metaColors)))
	for _, m := range metaColors {
		b.metaColors.PushBack(uint64(m))
	}
	b.offset += uint64(len(metaColors)) + 1
	b.offsets = append(b.offsets, b.offset)
}

// Build freezes all partitions and the meta-color lists.
func (b *MetaBuilder) Build() *Meta {
	m := &Meta{
		numColors:     uint32(b.numColors),
		metaColorSets: b.metaColors.Build(),
		offsets:       succinct.EncodeEliasFano(b.offsets),
		partials:      make([]*Hybrid, len(b.partialBuilders)),
		endpoints:     b.endpoints,
	}
	for i, pb := range b.partialBuilders {
		m.partials[i] = pb.Build()
	}
	return m
}

// ceilLog2 returns max(1, ceil(log2(x))).
func ceilLog2(x uint64) uint64 {
	if x <= 2 {
		return 1
	}
	w := uint64(0)
	for v := x - 1; v > 0; v >>= 1 {
		w++
	}
	return w
}

// Kind returns KindMeta.
func (m *Meta) Kind() Kind { return KindMeta }

// NumColors returns the universe size C.
func (m *Meta) NumColors() uint32 { return m.numColors }

// NumColorSets returns the number of stored full sets.
func (m *Meta) NumColorSets() uint64 { return m.offsets.Len() - 1 }

// NumPartitions returns the number of partitions P.
func (m *Meta) NumPartitions() uint64 { return uint64(len(m.endpoints)) - 1 }

// Partials exposes the per-partition hybrid stores.
func (m *Meta) Partials() []*Hybrid { return m.partials }

// Endpoints exposes the P+1 partition endpoints.
func (m *Meta) Endpoints() []PartitionEndpoint { return m.endpoints }

// NumBits returns the compressed size in bits.
func (m *Meta) NumBits() uint64 {
	bits := uint64(32) + 8*(m.metaColorSets.SizeBytes()+m.offsets.SizeBytes()) +
		64*uint64(len(m.endpoints))
	for _, p := range m.partials {
		bits += p.NumBits()
	}
	return bits
}

// ColorSet returns an iterator over set id.
func (m *Meta) ColorSet(id uint64) *MetaIterator {
	begin := m.offsets.Access(id)
	it := &MetaIterator{
		m:               m,
		begin:           begin,
		metaColorSetLen: uint32(m.metaColorSets.Get(begin)),
	}
	it.Rewind()
	return it
}

// Iter implements Store.
func (m *Meta) Iter(id uint64) Iterator { return m.ColorSet(id) }

// MetaIterator walks a meta-color list, decoding each partition's
// partial set through the partition's hybrid store and shifting its
// values by the partition's first reference id.
type MetaIterator struct {
	m               *Meta
	partIt          *HybridIterator
	begin           uint64
	currMetaColor   uint32
	currVal         uint32
	metaColorSetLen uint32
	posInMetaList   uint32
	currPartSize    uint32
	posInPart       uint32
	partitionID     uint32
	partMinColor    uint32
	partMaxColor    uint32
}

// Rewind repositions at the first element.
func (it *MetaIterator) Rewind() {
	it.Init()
	it.ChangePartition()
}

// Init resets the meta-level cursor; callers must follow with
// ChangePartition before reading values.
func (it *MetaIterator) Init() {
	it.posInMetaList = 0
	it.partitionID = 0
	it.partMinColor = 0
}

// Value returns the current element, or NumColors when exhausted.
func (it *MetaIterator) Value() uint32 { return it.currVal }

// HasNext reports whether the current partial set has more elements.
func (it *MetaIterator) HasNext() bool { return it.posInPart != it.currPartSize }

// NextInPartition advances within the current partial set only.
func (it *MetaIterator) NextInPartition() {
	it.posInPart++
	it.partIt.Next()
	it.updateCurrVal()
}

// Next advances to the next element, crossing into the next partition
// when the current partial set is exhausted; saturates at NumColors.
func (it *MetaIterator) Next() {
	if it.posInPart == it.currPartSize-1 {
		if it.posInMetaList == it.metaColorSetLen-1 {
			it.currVal = it.NumColors()
			return
		}
		it.posInMetaList++
		it.ChangePartition()
		return
	}
	it.NextInPartition()
}

// NextGEQ advances to the first element >= lowerBound.
func (it *MetaIterator) NextGEQ(lowerBound uint32) {
	for it.Value() < lowerBound {
		it.Next()
	}
}

// Size returns the size of the full set. This decodes every partial
// set header and can be slow.
func (it *MetaIterator) Size() uint32 {
	n := uint32(0)
	partitionID := uint32(0)
	for i := uint32(0); i != it.metaColorSetLen; i++ {
		metaColor := uint32(it.m.metaColorSets.Get(it.begin + 1 + uint64(i)))
		partitionID = it.advancePartitionID(metaColor, partitionID)
		before := it.m.endpoints[partitionID].NumColorSetsBefore
		n += it.m.partials[partitionID].ColorSet(uint64(metaColor - before)).Size()
	}
	return n
}

// PartialSetSize returns the size of the current partial set.
func (it *MetaIterator) PartialSetSize() uint32 { return it.partIt.Size() }

// MetaColor returns the current global partial-set index.
func (it *MetaIterator) MetaColor() uint32 { return it.currMetaColor }

// ReadPartitionID decodes the current meta color and resolves its
// partition.
func (it *MetaIterator) ReadPartitionID() {
	it.currMetaColor = uint32(it.m.metaColorSets.Get(it.begin + 1 + uint64(it.posInMetaList)))
	it.partitionID = it.advancePartitionID(it.currMetaColor, it.partitionID)
}

// NextPartitionID advances the meta-level cursor, saturating at
// NumPartitions.
func (it *MetaIterator) NextPartitionID() {
	it.posInMetaList++
	if it.posInMetaList == it.metaColorSetLen {
		it.partitionID = uint32(it.NumPartitions())
		return
	}
	it.ReadPartitionID()
}

// NextGEQPartitionID advances the meta-level cursor to the first
// partition id >= lowerBound.
func (it *MetaIterator) NextGEQPartitionID(lowerBound uint32) {
	for it.PartitionID() < lowerBound {
		it.NextPartitionID()
	}
}

// UpdatePartition decodes the partial set named by the current meta
// color.
func (it *MetaIterator) UpdatePartition() {
	it.partMinColor = it.m.endpoints[it.partitionID].MinColor
	it.partMaxColor = it.m.endpoints[it.partitionID+1].MinColor
	before := it.m.endpoints[it.partitionID].NumColorSetsBefore
	it.partIt = it.m.partials[it.partitionID].ColorSet(uint64(it.currMetaColor - before))
	it.currPartSize = it.partIt.Size()
	it.posInPart = 0
	it.updateCurrVal()
}

// ChangePartition reads the current partition id and decodes its
// partial set.
func (it *MetaIterator) ChangePartition() {
	it.ReadPartitionID()
	it.UpdatePartition()
}

// PartitionID returns the current partition id, NumPartitions when the
// meta-level cursor is exhausted.
func (it *MetaIterator) PartitionID() uint32 { return it.partitionID }

// MetaColorSetLen returns the number of meta colors in the list.
func (it *MetaIterator) MetaColorSetLen() uint32 { return it.metaColorSetLen }

// NumColors returns the universe size C.
func (it *MetaIterator) NumColors() uint32 { return it.m.numColors }

// NumPartitions returns the number of partitions P.
func (it *MetaIterator) NumPartitions() uint64 { return it.m.NumPartitions() }

// PartitionMinColor returns the first reference id of the current
// partition.
func (it *MetaIterator) PartitionMinColor() uint32 { return it.partMinColor }

// PartitionMaxColor returns one past the last reference id of the
// current partition.
func (it *MetaIterator) PartitionMaxColor() uint32 { return it.partMaxColor }

// NumColorSetsBefore returns the partial-set count preceding the
// current partition.
func (it *MetaIterator) NumColorSetsBefore() uint32 {
	return it.m.endpoints[it.partitionID].NumColorSetsBefore
}

func (it *MetaIterator) updateCurrVal() {
	it.currVal = it.partIt.Value() + it.partMinColor
}

func (it *MetaIterator) advancePartitionID(metaColor, partitionID uint32) uint32 {
	for uint64(partitionID)+1 < uint64(len(it.m.endpoints)) &&
		metaColor >= it.m.endpoints[partitionID+1].NumColorSetsBefore {
		partitionID++
	}
	return partitionID
}

// Encode writes the store in the on-disk layout.
func (m *Meta) Encode(w io.Writer) error {
	if err := serial.WriteU32(w, m.numColors); err != nil {
		return err
	}
	if err := m.metaColorSets.Encode(w); err != nil {
		return err
	}
	if err := m.offsets.Encode(w); err != nil {
		return err
	}
	if err := serial.WriteU64(w, uint64(len(m.partials))); err != nil {
		return err
	}
	for _, p := range m.partials {
		if err := p.Encode(w); err != nil {
			return err
		}
	}
	if err := serial.WriteU64(w, uint64(len(m.endpoints))); err != nil {
		return err
	}
	for _, e := range m.endpoints {
		if err := serial.WriteU32(w, e.MinColor); err != nil {
			return err
		}
		if err := serial.WriteU32(w, e.NumColorSetsBefore); err != nil {
			return err
		}
	}
	return nil
}

// Decode reads a store written by Encode.
func (m *Meta) Decode(r io.Reader) error {
	var err error
	if m.numColors, err = serial.ReadU32(r); err != nil {
		return err
	}
	m.metaColorSets = &succinct.CompactVector{}
	if err := m.metaColorSets.Decode(r); err != nil {
		return err
	}
	m.offsets = &succinct.EliasFano{}
	if err := m.offsets.Decode(r); err != nil {
		return err
	}
	n, err := serial.ReadU64(r)
	if err != nil {
		return err
	}
	m.partials = make([]*Hybrid, n)
	for i := range m.partials {
		m.partials[i] = &Hybrid{}
		if err := m.partials[i].Decode(r); err != nil {
			return err
		}
	}
	n, err = serial.ReadU64(r)
	if err != nil {
		return err
	}
	m.endpoints = make([]PartitionEndpoint, n)
	for i := range m.endpoints {
		if m.endpoints[i].MinColor, err = serial.ReadU32(r); err != nil {
			return err
		}
		if m.endpoints[i].NumColorSetsBefore, err = serial.ReadU32(r); err != nil {
			return err
		}
	}
	return nil
}

// PartitionOfMetaColor resolves the partition a global meta color
// belongs to, for builders that walk meta colors directly.
func (m *Meta) PartitionOfMetaColor(metaColor uint32) uint32 {
	p := uint32(0)
	for uint64(p)+1 < uint64(len(m.endpoints)) &&
		metaColor >= m.endpoints[p+1].NumColorSetsBefore {
		p++
	}
	return p
}
