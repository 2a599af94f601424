package colorsets

import (
	"io"

	"github.com/deepteams/fulgor/internal/bitio"
	"github.com/deepteams/fulgor/internal/serial"
	"github.com/deepteams/fulgor/internal/succinct"
)

// MDPartitionEndpoint describes one partition of a meta-differential
// store: its first reference id and the number of partial sets it
// holds.
type MDPartitionEndpoint struct {
	MinColor     uint64
	NumColorSets uint64
}

// MetaDifferential is the meta layout of Meta with two refinements:
// partials are differential stores, and the meta-color lists are split
// into shared partition sets (the distinct partition-id lists, stored
// once, delta-coded) and per-set relative colors (the index of each
// partial set within its partition, bit-packed to
// msb(NumColorSets)+1 bits).
type MetaDifferential struct {
	numColors        uint32
	numPartitionSets uint64
	partitionSetsOffsets  *succinct.EliasFano
	relativeColorsOffsets *succinct.EliasFano
	endpoints        []MDPartitionEndpoint
	partials         []*Differential
	relativeColors   *succinct.BitVector
	partitionSets    *succinct.BitVector
	// partitionSetsPartitions marks, per color set, the last set of a
	// run sharing one partition set (the final run's bit stays clear);
	// its rank maps set id to partition-set id.
	partitionSetsPartitions *succinct.RankedBitVector
}

// MetaDifferentialBuilder assembles a store partition by partition,
// then set by set.
type MetaDifferentialBuilder struct {
	numColors          uint64
	numPartitionSets   uint64
	partials           []*Differential
	endpoints          []MDPartitionEndpoint
	relativeColors     *bitio.Writer
	partitionSets      *bitio.Writer
	partitionSetsParts *bitio.Writer
	partitionSetsOffsets  []uint64
	relativeColorsOffsets []uint64
	prevDocs           uint64
	prevPartitionSetID uint64
}

// NewMetaDifferentialBuilder creates a builder for numPartitions
// partitions over [0, numColors).
func NewMetaDifferentialBuilder(numColors, numPartitions uint64) *MetaDifferentialBuilder {
	return &MetaDifferentialBuilder{
		numColors:          numColors,
		partials:           make([]*Differential, 0, numPartitions),
		endpoints:          make([]MDPartitionEndpoint, 0, numPartitions),
		relativeColors:     bitio.NewWriter(0),
		partitionSets:      bitio.NewWriter(0),
		partitionSetsParts: bitio.NewWriter(0),
		partitionSetsOffsets:  []uint64{0},
		relativeColorsOffsets: []uint64{0},
	}
}

// ProcessPartition appends the next partition's differential store.
func (b *MetaDifferentialBuilder) ProcessPartition(d *Differential) {
	b.partials = append(b.partials, d)
	b.endpoints = append(b.endpoints,
		MDPartitionEndpoint{MinColor: b.prevDocs, NumColorSets: d.NumColorSets()})
	b.prevDocs += uint64(d.NumColors())
}

// InitPartitionSets records the number of distinct partition-id lists.
func (b *MetaDifferentialBuilder) InitPartitionSets(numSets uint64) {
	b.numPartitionSets = numSets
}

// ProcessPartitionSet appends one distinct partition-id list,
// delta-coded: size, first id, then gaps.
func (b *MetaDifferentialBuilder) ProcessPartitionSet(partitionSet []uint64) {
	bitio.WriteDelta(b.partitionSets, uint64(len(partitionSet)))
	prev := partitionSet[0]
	bitio.WriteDelta(b.partitionSets, prev)
	for _, p := range partitionSet[1:] {
		bitio.WriteDelta(b.partitionSets, p-prev)
		prev = p
	}
	b.partitionSetsOffsets = append(b.partitionSetsOffsets, b.partitionSets.NumBits())
}

// ProcessMetaColorSet appends one full set: its partition-set id and
// the relative partial-set index per partition.
func (b *MetaDifferentialBuilder) ProcessMetaColorSet(partitionSetID uint64,
	partitionSet, relativeColors []uint64) {
	if partitionSetID != b.prevPartitionSetID {
		b.prevPartitionSetID = partitionSetID
		if b.partitionSetsParts.NumBits() > 0 {
			b.partitionSetsParts.Set(b.partitionSetsParts.NumBits()-1, true)
		}
	}
	b.partitionSetsParts.PushBack(false)

	for i, partitionID := range partitionSet {
		partitionSize := b.endpoints[partitionID].NumColorSets
		b.relativeColors.AppendBits(relativeColors[i], bitio.MSB(partitionSize)+1)
	}
	b.relativeColorsOffsets = append(b.relativeColorsOffsets, b.relativeColors.NumBits())
}

// Build freezes the store.
func (b *MetaDifferentialBuilder) Build() *MetaDifferential {
	return &MetaDifferential{
		numColors:        uint32(b.numColors),
		numPartitionSets: b.numPartitionSets,
		partitionSetsOffsets:  succinct.EncodeEliasFano(b.partitionSetsOffsets),
		relativeColorsOffsets: succinct.EncodeEliasFano(b.relativeColorsOffsets),
		endpoints:        b.endpoints,
		partials:         b.partials,
		relativeColors:   succinct.NewBitVector(b.relativeColors),
		partitionSets:    succinct.NewBitVector(b.partitionSets),
		partitionSetsPartitions: succinct.NewRankedBitVector(b.partitionSetsParts),
	}
}

// Kind returns KindMetaDifferential.
func (m *MetaDifferential) Kind() Kind { return KindMetaDifferential }

// NumColors returns the universe size C.
func (m *MetaDifferential) NumColors() uint32 { return m.numColors }

// NumColorSets returns the number of stored full sets.
func (m *MetaDifferential) NumColorSets() uint64 { return m.relativeColorsOffsets.Len() - 1 }

// NumPartitions returns the number of partitions P.
func (m *MetaDifferential) NumPartitions() uint64 { return uint64(len(m.endpoints)) }

// NumPartitionSets returns the number of distinct partition-id lists.
func (m *MetaDifferential) NumPartitionSets() uint64 { return m.numPartitionSets }

// Partials exposes the per-partition differential stores.
func (m *MetaDifferential) Partials() []*Differential { return m.partials }

// NumBits returns the compressed size in bits.
func (m *MetaDifferential) NumBits() uint64 {
	bits := uint64(32) + 64 + 128*uint64(len(m.endpoints)) +
		8*(m.partitionSetsOffsets.SizeBytes()+m.relativeColorsOffsets.SizeBytes()+
			m.relativeColors.SizeBytes()+m.partitionSets.SizeBytes()+
			m.partitionSetsPartitions.SizeBytes())
	for _, p := range m.partials {
		bits += p.NumBits()
	}
	return bits
}

// ColorSet returns an iterator over set id.
func (m *MetaDifferential) ColorSet(id uint64) *MetaDiffIterator {
	beginPartitionSet := m.partitionSetsOffsets.Access(m.partitionSetsPartitions.Rank1(id))
	beginRel := m.relativeColorsOffsets.Access(id)
	it := &MetaDiffIterator{
		m:                 m,
		beginPartitionSet: beginPartitionSet,
		beginRel:          beginRel,
	}
	it.Rewind()
	return it
}

// Iter implements Store.
func (m *MetaDifferential) Iter(id uint64) Iterator { return m.ColorSet(id) }

// MetaDiffIterator walks a meta-differential set: the shared partition
// set names the partitions, the relative colors name one differential
// partial set per partition.
type MetaDiffIterator struct {
	m      *MetaDifferential
	partIt *DifferentialIterator

	partitionSetIt *bitio.Iterator
	relColorsIt    *bitio.Iterator

	metaColorSetLen    uint64
	beginPartitionSet  uint64
	beginRel           uint64
	posInMetaColor     uint64
	posInPartialColor  uint64
	currRelativeColor  uint64
	currPartitionID    uint64
	currPartitionSize  uint64
	currVal            uint64
	partMinColor       uint64
	numColorSetsBefore uint64
}

// Rewind repositions at the first element.
func (it *MetaDiffIterator) Rewind() {
	it.Init()
	it.ChangePartition()
}

// Init resets the meta-level cursor; callers must follow with
// ChangePartition before reading values.
func (it *MetaDiffIterator) Init() {
	it.numColorSetsBefore = 0
	it.posInMetaColor = 0
	it.posInPartialColor = 0
	it.currPartitionID = 0
	it.partitionSetIt = it.m.partitionSets.Iterator(it.beginPartitionSet)
	it.relColorsIt = it.m.relativeColors.Iterator(it.beginRel)
	it.metaColorSetLen = bitio.ReadDelta(it.partitionSetIt)
}

// Value returns the current element, or NumColors when exhausted.
func (it *MetaDiffIterator) Value() uint32 { return uint32(it.currVal) }

// HasNext reports whether the current partial set has more elements.
func (it *MetaDiffIterator) HasNext() bool { return it.posInPartialColor != it.currPartitionSize }

// Next advances to the next element, saturating at NumColors.
func (it *MetaDiffIterator) Next() {
	if it.posInPartialColor == it.currPartitionSize-1 {
		if it.posInMetaColor == it.metaColorSetLen-1 {
			it.currVal = uint64(it.NumColors())
			return
		}
		it.posInMetaColor++
		it.ChangePartition()
		return
	}
	it.NextInPartition()
}

// NextGEQ advances to the first element >= lowerBound.
func (it *MetaDiffIterator) NextGEQ(lowerBound uint32) {
	for it.Value() < lowerBound {
		it.Next()
	}
}

// NextInPartition advances within the current partial set only.
func (it *MetaDiffIterator) NextInPartition() {
	it.posInPartialColor++
	it.partIt.Next()
	it.updateCurrVal()
}

// ChangePartition reads the next partition id and decodes its partial
// set.
func (it *MetaDiffIterator) ChangePartition() {
	it.readPartitionID()
	it.UpdatePartition()
}

// NextPartitionID advances the meta-level cursor, saturating at
// NumPartitions.
func (it *MetaDiffIterator) NextPartitionID() {
	it.posInMetaColor++
	if it.posInMetaColor == it.metaColorSetLen {
		it.currPartitionID = it.m.NumPartitions()
		return
	}
	it.readPartitionID()
}

func (it *MetaDiffIterator) readPartitionID() {
	delta := bitio.ReadDelta(it.partitionSetIt)
	for i := uint64(0); i < delta; i++ {
		it.numColorSetsBefore += it.m.endpoints[it.currPartitionID+i].NumColorSets
	}
	it.currPartitionID += delta
	relativeColorSize := bitio.MSB(it.m.endpoints[it.currPartitionID].NumColorSets) + 1
	it.currRelativeColor = it.relColorsIt.Take(relativeColorSize)
}

// NextGEQPartitionID advances the meta-level cursor to the first
// partition id >= lowerBound.
func (it *MetaDiffIterator) NextGEQPartitionID(lowerBound uint32) {
	for it.PartitionID() < lowerBound {
		it.NextPartitionID()
	}
}

// UpdatePartition decodes the partial set named by the current
// relative color.
func (it *MetaDiffIterator) UpdatePartition() {
	it.partMinColor = it.m.endpoints[it.currPartitionID].MinColor
	it.posInPartialColor = 0
	it.partIt = it.m.partials[it.currPartitionID].ColorSet(it.currRelativeColor)
	it.currPartitionSize = uint64(it.partIt.Size())
	it.updateCurrVal()
}

// Size returns the size of the full set. This decodes every partial
// set header and can be slow.
func (it *MetaDiffIterator) Size() uint32 {
	size := uint64(0)
	psIt := it.m.partitionSets.Iterator(it.beginPartitionSet)
	relIt := it.m.relativeColors.Iterator(it.beginRel)
	partitionID := uint64(0)
	bitio.ReadDelta(psIt)
	for i := uint64(0); i != it.metaColorSetLen; i++ {
		partitionID += bitio.ReadDelta(psIt)
		relativeColorSize := bitio.MSB(it.m.endpoints[partitionID].NumColorSets) + 1
		relativeColor := relIt.Take(relativeColorSize)
		size += uint64(it.m.partials[partitionID].ColorSet(relativeColor).Size())
	}
	return uint32(size)
}

// PartialSetSize returns the size of the current partial set.
func (it *MetaDiffIterator) PartialSetSize() uint32 { return it.partIt.Size() }

// PartitionID returns the current partition id, NumPartitions when the
// meta-level cursor is exhausted.
func (it *MetaDiffIterator) PartitionID() uint32 { return uint32(it.currPartitionID) }

// PartitionMinColor returns the first reference id of the current
// partition.
func (it *MetaDiffIterator) PartitionMinColor() uint32 { return uint32(it.partMinColor) }

// PartitionMaxColor returns one past the last reference id of the
// current partition.
func (it *MetaDiffIterator) PartitionMaxColor() uint32 {
	return uint32(it.partMinColor) + it.partIt.NumColors()
}

// MetaColor returns the current global partial-set index.
func (it *MetaDiffIterator) MetaColor() uint32 {
	return uint32(it.numColorSetsBefore + it.currRelativeColor)
}

// MetaColorSetLen returns the number of partitions in the set.
func (it *MetaDiffIterator) MetaColorSetLen() uint64 { return it.metaColorSetLen }

// NumColors returns the universe size C.
func (it *MetaDiffIterator) NumColors() uint32 { return it.m.numColors }

// NumPartitions returns the number of partitions P.
func (it *MetaDiffIterator) NumPartitions() uint64 { return it.m.NumPartitions() }

// PartitionIt returns the current partition's differential iterator.
func (it *MetaDiffIterator) PartitionIt() *DifferentialIterator { return it.partIt }

func (it *MetaDiffIterator) updateCurrVal() {
	it.currVal = it.partMinColor + uint64(it.partIt.Value())
}

// Encode writes the store in the on-disk layout.
func (m *MetaDifferential) Encode(w io.Writer) error {
	if err := serial.WriteU32(w, m.numColors); err != nil {
		return err
	}
	if err := serial.WriteU64(w, m.numPartitionSets); err != nil {
		return err
	}
	if err := m.partitionSetsOffsets.Encode(w); err != nil {
		return err
	}
	if err := m.relativeColorsOffsets.Encode(w); err != nil {
		return err
	}
	if err := serial.WriteU64(w, uint64(len(m.endpoints))); err != nil {
		return err
	}
	for _, e := range m.endpoints {
		if err := serial.WriteU64(w, e.MinColor); err != nil {
			return err
		}
		if err := serial.WriteU64(w, e.NumColorSets); err != nil {
			return err
		}
	}
	if err := serial.WriteU64(w, uint64(len(m.partials))); err != nil {
		return err
	}
	for _, p := range m.partials {
		if err := p.Encode(w); err != nil {
			return err
		}
	}
	if err := m.relativeColors.Encode(w); err != nil {
		return err
	}
	if err := m.partitionSets.Encode(w); err != nil {
		return err
	}
	return m.partitionSetsPartitions.Encode(w)
}

// Decode reads a store written by Encode.
func (m *MetaDifferential) Decode(r io.Reader) error {
	var err error
	if m.numColors, err = serial.ReadU32(r); err != nil {
		return err
	}
	if m.numPartitionSets, err = serial.ReadU64(r); err != nil {
		return err
	}
	m.partitionSetsOffsets = &succinct.EliasFano{}
	if err := m.partitionSetsOffsets.Decode(r); err != nil {
		return err
	}
	m.relativeColorsOffsets = &succinct.EliasFano{}
	if err := m.relativeColorsOffsets.Decode(r); err != nil {
		return err
	}
	n, err := serial.ReadU64(r)
	if err != nil {
		return err
	}
	m.endpoints = make([]MDPartitionEndpoint, n)
	for i := range m.endpoints {
		if m.endpoints[i].MinColor, err = serial.ReadU64(r); err != nil {
			return err
		}
		if m.endpoints[i].NumColorSets, err = serial.ReadU64(r); err != nil {
			return err
		}
	}
	n, err = serial.ReadU64(r)
	if err != nil {
		return err
	}
	m.partials = make([]*Differential, n)
	for i := range m.partials {
		m.partials[i] = &Differential{}
		if err := m.partials[i].Decode(r); err != nil {
			return err
		}
	}
	m.relativeColors = &succinct.BitVector{}
	if err := m.relativeColors.Decode(r); err != nil {
		return err
	}
	m.partitionSets = &succinct.BitVector{}
	if err := m.partitionSets.Decode(r); err != nil {
		return err
	}
	m.partitionSetsPartitions = &succinct.RankedBitVector{}
	return m.partitionSetsPartitions.Decode(r)
}
