package colorsets

import (
	"io"

	"github.com/deepteams/fulgor/internal/bitio"
	"github.com/deepteams/fulgor/internal/serial"
	"github.com/deepteams/fulgor/internal/succinct"
)

// Differential stores color sets grouped into clusters. Each cluster
// owns a representative sorted set; every member is encoded as the
// delta-coded symmetric difference with its representative, so a set
// identical to the representative costs an empty listing. A clusters
// bit vector with rank maps set id to cluster id: bit i is set iff
// set i is the last of its cluster, except that the bit of the final
// set stays clear, so the number of clusters is the number of ones
// plus one.
type Differential struct {
	numColors  uint32
	repOffsets *succinct.EliasFano // K+1 entries
	// listOffsets are relative to the end of the representative region.
	listOffsets *succinct.EliasFano // S+1 entries
	sets        *succinct.BitVector // representatives, then listings
	clusters    *succinct.RankedBitVector
}

// DifferentialBuilder encodes clusters in order: the representative
// first, then every member of the cluster.
type DifferentialBuilder struct {
	numColors        uint32
	reps             *bitio.Writer
	lists            *bitio.Writer
	clusters         *bitio.Writer
	repOffsets       []uint64
	listOffsets      []uint64
	prevClusterID    uint64
	numLists         uint64
	numTotalIntegers uint64
}

// NewDifferentialBuilder creates a builder for sets over [0, numColors).
func NewDifferentialBuilder(numColors uint32) *DifferentialBuilder {
	return &DifferentialBuilder{
		numColors:   numColors,
		reps:        bitio.NewWriter(0),
		lists:       bitio.NewWriter(0),
		clusters:    bitio.NewWriter(0),
		repOffsets:  []uint64{0},
		listOffsets: []uint64{0},
	}
}

// EncodeRepresentative appends the next cluster's representative.
func (b *DifferentialBuilder) EncodeRepresentative(rep []uint32) {
	bitio.WriteDelta(b.reps, uint64(len(rep)))
	b.numTotalIntegers += uint64(len(rep)) + 1
	if len(rep) > 0 {
		prev := rep[0]
		bitio.WriteDelta(b.reps, uint64(prev))
		for _, val := range rep[1:] {
			bitio.WriteDelta(b.reps, uint64(val-(prev+1)))
			prev = val
		}
	}
	b.repOffsets = append(b.repOffsets, b.reps.NumBits())
}

// EncodeSet appends one member set of cluster clusterID, whose
// representative must be the one most recently passed to
// EncodeRepresentative.
func (b *DifferentialBuilder) EncodeSet(clusterID uint64, rep, set []uint32) {
	if clusterID != b.prevClusterID {
		b.prevClusterID = clusterID
		if b.clusters.NumBits() > 0 {
			b.clusters.Set(b.clusters.NumBits()-1, true)
		}
	}
	b.clusters.PushBack(false)

	// Symmetric difference by linear merge; equal values cancel.
	diff := make([]uint32, 0, len(rep)+len(set))
	i, j := 0, 0
	for i < len(set) && j < len(rep) {
		switch {
		case set[i] == rep[j]:
			i++
			j++
		case set[i] < rep[j]:
			diff = append(diff, set[i])
			i++
		default:
			diff = append(diff, rep[j])
			j++
		}
	}
	diff = append(diff, set[i:]...)
	diff = append(diff, rep[j:]...)

	bitio.WriteDelta(b.lists, uint64(len(diff)))
	bitio.WriteDelta(b.lists, uint64(len(set)))
	b.numTotalIntegers += uint64(len(diff)) + 2
	b.numLists++
	if len(diff) > 0 {
		prev := diff[0]
		bitio.WriteDelta(b.lists, uint64(prev))
		for _, val := range diff[1:] {
			bitio.WriteDelta(b.lists, uint64(val-(prev+1)))
			prev = val
		}
	}
	b.listOffsets = append(b.listOffsets, b.lists.NumBits())
}

// Append concatenates the clusters encoded by other onto b. Slices
// handed to parallel builders must start at cluster boundaries.
func (b *DifferentialBuilder) Append(other *DifferentialBuilder) {
	if other.clusters.NumBits() == 0 {
		return
	}
	if b.clusters.NumBits() > 0 {
		// The first set of other opens a new cluster.
		b.clusters.Set(b.clusters.NumBits()-1, true)
	}
	repDelta := b.repOffsets[len(b.repOffsets)-1]
	for _, off := range other.repOffsets[1:] {
		b.repOffsets = append(b.repOffsets, off+repDelta)
	}
	listDelta := b.listOffsets[len(b.listOffsets)-1]
	for _, off := range other.listOffsets[1:] {
		b.listOffsets = append(b.listOffsets, off+listDelta)
	}
	b.reps.Append(other.reps)
	b.lists.Append(other.lists)
	b.clusters.Append(other.clusters)
	b.numLists += other.numLists
	b.numTotalIntegers += other.numTotalIntegers
}

// Build freezes the encoded clusters. Representatives precede all
// listings in the final bit buffer.
func (b *DifferentialBuilder) Build() *Differential {
	sets := bitio.NewWriter(b.reps.NumBits() + b.lists.NumBits())
	sets.Append(b.reps)
	sets.Append(b.lists)
	return &Differential{
		numColors:   b.numColors,
		repOffsets:  succinct.EncodeEliasFano(b.repOffsets),
		listOffsets: succinct.EncodeEliasFano(b.listOffsets),
		sets:        succinct.NewBitVector(sets),
		clusters:    succinct.NewRankedBitVector(b.clusters),
	}
}

// Kind returns KindDifferential.
func (d *Differential) Kind() Kind { return KindDifferential }

// NumColors returns the universe size C.
func (d *Differential) NumColors() uint32 { return d.numColors }

// NumColorSets returns the number of stored sets.
func (d *Differential) NumColorSets() uint64 { return d.listOffsets.Len() - 1 }

// NumClusters returns the number of clusters K.
func (d *Differential) NumClusters() uint64 { return d.clusters.NumOnes() + 1 }

// NumBits returns the compressed size in bits.
func (d *Differential) NumBits() uint64 {
	return 32 + 8*(d.repOffsets.SizeBytes()+d.listOffsets.SizeBytes()+
		d.sets.SizeBytes()+d.clusters.SizeBytes())
}

// ColorSet returns an iterator over set id.
func (d *Differential) ColorSet(id uint64) *DifferentialIterator {
	lastRep := d.repOffsets.Access(d.NumClusters())
	it := &DifferentialIterator{
		d:         d,
		listBegin: d.listOffsets.Access(id) + lastRep,
		repBegin:  d.repOffsets.Access(d.clusters.Rank1(id)),
	}
	it.Rewind()
	return it
}

// Iter implements Store.
func (d *Differential) Iter(id uint64) Iterator { return d.ColorSet(id) }

// DifferentialIterator reconstructs one set as the symmetric difference
// of its cluster representative and its stored listing: the two sorted
// streams are merged, values present in both cancel.
type DifferentialIterator struct {
	d                  *Differential
	listBegin          uint64
	repBegin           uint64
	repSize            uint64
	diffSize           uint64
	posInDiff          uint64
	posInRep           uint64
	currRepVal         uint32
	currDiffVal        uint32
	prevRepVal         uint32
	prevDiffVal        uint32
	currVal            uint32
	size               uint32
	repIt              *bitio.Iterator
	diffIt             *bitio.Iterator
}

// Rewind repositions at the first element of the reconstructed set.
func (it *DifferentialIterator) Rewind() {
	it.init()
	it.updateCurrVal()
}

// FullRewind repositions both underlying streams without merging, for
// callers that walk the representative and listing separately.
func (it *DifferentialIterator) FullRewind() { it.init() }

func (it *DifferentialIterator) init() {
	it.diffIt = it.d.sets.Iterator(it.listBegin)
	it.repIt = it.d.sets.Iterator(it.repBegin)
	it.diffSize = bitio.ReadDelta(it.diffIt)
	it.repSize = bitio.ReadDelta(it.repIt)
	it.size = uint32(bitio.ReadDelta(it.diffIt))
	if it.diffSize == 0 {
		it.currDiffVal = it.NumColors()
	} else {
		it.currDiffVal = uint32(bitio.ReadDelta(it.diffIt))
	}
	it.prevDiffVal = 0
	if it.repSize == 0 {
		it.currRepVal = it.NumColors()
	} else {
		it.currRepVal = uint32(bitio.ReadDelta(it.repIt))
	}
	it.prevRepVal = 0
	it.posInDiff = 0
	it.posInRep = 0
}

// Size returns the size of the reconstructed (original) set.
func (it *DifferentialIterator) Size() uint32 { return it.size }

// NumColors returns the universe size C.
func (it *DifferentialIterator) NumColors() uint32 { return it.d.numColors }

// DiffSize returns the length of the stored symmetric difference.
func (it *DifferentialIterator) DiffSize() uint64 { return it.diffSize }

// RepresentativeBegin identifies the cluster: iterators sharing it
// decode against the same representative.
func (it *DifferentialIterator) RepresentativeBegin() uint64 { return it.repBegin }

// Value returns the current element, or NumColors when exhausted.
func (it *DifferentialIterator) Value() uint32 { return it.currVal }

// Next advances to the next element, saturating at NumColors.
func (it *DifferentialIterator) Next() {
	if it.posInRep >= it.repSize && it.posInDiff >= it.diffSize {
		it.currVal = it.NumColors()
		return
	}
	if it.posInRep >= it.repSize || it.currDiffVal < it.currRepVal {
		it.NextDifferentialVal()
	} else if it.posInDiff >= it.diffSize || it.currRepVal < it.currDiffVal {
		it.NextRepresentativeVal()
	}
	it.updateCurrVal()
}

// NextGEQ advances to the first element >= lowerBound.
func (it *DifferentialIterator) NextGEQ(lowerBound uint32) {
	for it.Value() < lowerBound {
		it.Next()
	}
}

// NextRepresentativeVal advances the representative stream only.
func (it *DifferentialIterator) NextRepresentativeVal() {
	it.posInRep++
	it.prevRepVal = it.currRepVal
	if it.posInRep < it.repSize {
		it.currRepVal = it.prevRepVal + uint32(bitio.ReadDelta(it.repIt)) + 1
	} else {
		it.currRepVal = it.NumColors()
	}
}

// RepresentativeVal returns the representative stream's current value.
func (it *DifferentialIterator) RepresentativeVal() uint32 { return it.currRepVal }

// NextDifferentialVal advances the listing stream only.
func (it *DifferentialIterator) NextDifferentialVal() {
	it.posInDiff++
	it.prevDiffVal = it.currDiffVal
	if it.posInDiff < it.diffSize {
		it.currDiffVal = it.prevDiffVal + uint32(bitio.ReadDelta(it.diffIt)) + 1
	} else {
		it.currDiffVal = it.NumColors()
	}
}

// DifferentialVal returns the listing stream's current value.
func (it *DifferentialIterator) DifferentialVal() uint32 { return it.currDiffVal }

func (it *DifferentialIterator) updateCurrVal() {
	for it.currRepVal == it.currDiffVal &&
		it.posInRep <= it.repSize && it.posInDiff <= it.diffSize {
		it.NextDifferentialVal()
		it.NextRepresentativeVal()
	}
	it.currVal = min(it.currDiffVal, it.currRepVal)
}

// Encode writes the store in the on-disk layout.
func (d *Differential) Encode(w io.Writer) error {
	if err := serial.WriteU32(w, d.numColors); err != nil {
		return err
	}
	if err := d.repOffsets.Encode(w); err != nil {
		return err
	}
	if err := d.listOffsets.Encode(w); err != nil {
		return err
	}
	if err := d.sets.Encode(w); err != nil {
		return err
	}
	return d.clusters.Encode(w)
}

// Decode reads a store written by Encode.
func (d *Differential) Decode(r io.Reader) error {
	var err error
	if d.numColors, err = serial.ReadU32(r); err != nil {
		return err
	}
	d.repOffsets = &succinct.EliasFano{}
	if err := d.repOffsets.Decode(r); err != nil {
		return err
	}
	d.listOffsets = &succinct.EliasFano{}
	if err := d.listOffsets.Decode(r); err != nil {
		return err
	}
	d.sets = &succinct.BitVector{}
	if err := d.sets.Decode(r); err != nil {
		return err
	}
	d.clusters = &succinct.RankedBitVector{}
	return d.clusters.Decode(r)
}
