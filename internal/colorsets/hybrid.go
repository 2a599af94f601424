package colorsets

import (
	"io"
	"math"

	"github.com/deepteams/fulgor/internal/bitio"
	"github.com/deepteams/fulgor/internal/serial"
	"github.com/deepteams/fulgor/internal/succinct"
)

// Hybrid stores each color set in one of three layouts chosen by its
// size n over the universe [0, C): delta-coded gaps when
// n < ceil(0.25*C), a C-bit bitmap when n < ceil(0.75*C), and
// delta-coded gaps of the complement otherwise. Every set starts with
// a delta-coded size header.
type Hybrid struct {
	numColors          uint32
	sparseThreshold    uint32
	veryDenseThreshold uint32
	offsets            *succinct.EliasFano
	sets               *succinct.BitVector
}

// HybridBuilder encodes color sets in arrival order.
type HybridBuilder struct {
	numColors          uint32
	sparseThreshold    uint32
	veryDenseThreshold uint32
	numLists           uint64
	numTotalIntegers   uint64
	buf                *bitio.Writer
	offsets            []uint64
}

// NewHybridBuilder creates a builder for sets over [0, numColors).
func NewHybridBuilder(numColors uint32) *HybridBuilder {
	b := &HybridBuilder{}
	b.init(numColors)
	return b
}

func (b *HybridBuilder) init(numColors uint32) {
	b.numColors = numColors
	b.sparseThreshold = uint32(math.Ceil(0.25 * float64(numColors)))
	b.veryDenseThreshold = uint32(math.Ceil(0.75 * float64(numColors)))
	b.buf = bitio.NewWriter(0)
	b.offsets = append(b.offsets[:0], 0)
	b.numLists = 0
	b.numTotalIntegers = 0
}

// Clear resets the builder for reuse with the same universe.
func (b *HybridBuilder) Clear() { b.init(b.numColors) }

// NumSets returns the number of sets processed so far.
func (b *HybridBuilder) NumSets() uint64 { return b.numLists }

// Process encodes one sorted color set.
func (b *HybridBuilder) Process(colors []uint32) {
	listSize := uint32(len(colors))
	bitio.WriteDelta(b.buf, uint64(listSize))
	switch {
	case listSize < b.sparseThreshold:
		prev := colors[0]
		bitio.WriteDelta(b.buf, uint64(prev))
		for _, val := range colors[1:] {
			bitio.WriteDelta(b.buf, uint64(val-(prev+1)))
			prev = val
		}
	case listSize < b.veryDenseThreshold:
		bitmap := bitio.NewWriter(uint64(b.numColors))
		bitmap.Resize(uint64(b.numColors))
		for _, val := range colors {
			bitmap.Set(uint64(val), true)
		}
		b.buf.Append(bitmap)
	default:
		// Encode the absent elements as gaps; their count is known
		// from the size header.
		first := true
		val := uint32(0)
		var prev uint32
		for _, x := range colors {
			for val < x {
				if first {
					bitio.WriteDelta(b.buf, uint64(val))
					first = false
				} else {
					bitio.WriteDelta(b.buf, uint64(val-(prev+1)))
				}
				prev = val
				val++
			}
			val++ // skip x itself
		}
		for val < b.numColors {
			if first {
				bitio.WriteDelta(b.buf, uint64(val))
				first = false
			} else {
				bitio.WriteDelta(b.buf, uint64(val-(prev+1)))
			}
			prev = val
			val++
		}
	}
	b.offsets = append(b.offsets, b.buf.NumBits())
	b.numTotalIntegers += uint64(listSize)
	b.numLists++
}

// Append concatenates the sets encoded by other onto b, preserving
// their ids in order.
func (b *HybridBuilder) Append(other *HybridBuilder) {
	if other.numLists == 0 {
		return
	}
	b.buf.Append(other.buf)
	delta := b.offsets[len(b.offsets)-1]
	for _, off := range other.offsets[1:] {
		b.offsets = append(b.offsets, off+delta)
	}
	b.numLists += other.numLists
	b.numTotalIntegers += other.numTotalIntegers
}

// Build freezes the encoded sets.
func (b *HybridBuilder) Build() *Hybrid {
	return &Hybrid{
		numColors:          b.numColors,
		sparseThreshold:    b.sparseThreshold,
		veryDenseThreshold: b.veryDenseThreshold,
		offsets:            succinct.EncodeEliasFano(b.offsets),
		sets:               succinct.NewBitVector(b.buf),
	}
}

// Kind returns KindHybrid.
func (h *Hybrid) Kind() Kind { return KindHybrid }

// NumColors returns the universe size C.
func (h *Hybrid) NumColors() uint32 { return h.numColors }

// NumColorSets returns the number of stored sets.
func (h *Hybrid) NumColorSets() uint64 { return h.offsets.Len() - 1 }

// NumBits returns the compressed size in bits.
func (h *Hybrid) NumBits() uint64 {
	return 3*32 + h.sets.NumBits() + 8*h.offsets.SizeBytes()
}

// ColorSet returns an iterator over set id.
func (h *Hybrid) ColorSet(id uint64) *HybridIterator {
	it := &HybridIterator{h: h, setsBegin: h.offsets.Access(id), numColors: h.numColors}
	it.Rewind()
	return it
}

// Iter implements Store.
func (h *Hybrid) Iter(id uint64) Iterator { return h.ColorSet(id) }

// HybridIterator decodes one hybrid set. It borrows the store's bit
// buffer and must not outlive it.
type HybridIterator struct {
	h           *Hybrid
	setsBegin   uint64
	bitmapBegin uint64
	numColors   uint32
	encoding    int

	it        *bitio.Iterator
	posInList uint32
	size      uint32

	posInComp    uint32
	compListSize uint32

	compVal uint32
	prevVal uint32
	currVal uint32
}

const invalid = ^uint32(0)

// Rewind repositions the iterator at the first element.
func (it *HybridIterator) Rewind() {
	it.posInList = 0
	it.posInComp = 0
	it.compListSize = 0
	it.compVal = invalid
	it.prevVal = invalid
	it.currVal = 0
	it.it = it.h.sets.Iterator(it.setsBegin)
	it.size = uint32(bitio.ReadDelta(it.it))
	switch {
	case it.size < it.h.sparseThreshold:
		it.encoding = encDeltaGaps
		it.currVal = uint32(bitio.ReadDelta(it.it))
	case it.size < it.h.veryDenseThreshold:
		it.encoding = encBitmap
		it.bitmapBegin = it.it.Position()
		it.it.At(it.bitmapBegin)
		pos := it.it.NextSet()
		it.currVal = uint32(pos - it.bitmapBegin)
	default:
		it.encoding = encComplementDeltaGaps
		it.compListSize = it.numColors - it.size
		if it.compListSize > 0 {
			it.compVal = uint32(bitio.ReadDelta(it.it))
		}
		it.nextCompVal()
	}
}

// ReinitForComplement rewinds the underlying complement listing so the
// caller can iterate the absent values via CompValue/NextComp. Only
// valid on the complement layout.
func (it *HybridIterator) ReinitForComplement() {
	it.posInComp = 0
	it.prevVal = invalid
	it.currVal = 0
	it.it = it.h.sets.Iterator(it.setsBegin)
	bitio.ReadDelta(it.it) // skip size
	if it.compListSize > 0 {
		it.compVal = uint32(bitio.ReadDelta(it.it))
	} else {
		it.compVal = it.numColors
	}
}

// Value returns the current element, or NumColors when exhausted.
func (it *HybridIterator) Value() uint32 { return it.currVal }

// CompValue returns the current element of the complement listing.
func (it *HybridIterator) CompValue() uint32 { return it.compVal }

// Size returns the number of elements in the set.
func (it *HybridIterator) Size() uint32 { return it.size }

// NumColors returns the universe size C.
func (it *HybridIterator) NumColors() uint32 { return it.numColors }

// Encoding reports the layout this set is stored in.
func (it *HybridIterator) Encoding() int { return it.encoding }

// Next advances to the next element, saturating at NumColors.
func (it *HybridIterator) Next() {
	switch it.encoding {
	case encComplementDeltaGaps:
		it.currVal++
		if it.currVal >= it.numColors {
			it.currVal = it.numColors
			return
		}
		it.nextCompVal()
	case encDeltaGaps:
		it.posInList++
		if it.posInList >= it.size {
			it.currVal = it.numColors
			return
		}
		it.prevVal = it.currVal
		it.currVal = uint32(bitio.ReadDelta(it.it)) + it.prevVal + 1
	default: // bitmap
		it.posInList++
		if it.posInList >= it.size {
			it.currVal = it.numColors
			return
		}
		pos := it.it.NextSet()
		it.currVal = uint32(pos - it.bitmapBegin)
	}
}

// NextComp advances the complement listing.
func (it *HybridIterator) NextComp() {
	it.posInComp++
	if it.posInComp >= it.compListSize {
		it.compVal = it.numColors
		return
	}
	it.prevVal = it.compVal
	it.compVal = uint32(bitio.ReadDelta(it.it)) + it.prevVal + 1
}

// NextGEQ advances to the first element >= lowerBound.
func (it *HybridIterator) NextGEQ(lowerBound uint32) {
	if it.encoding == encComplementDeltaGaps {
		if it.Value() > lowerBound {
			return
		}
		it.nextGeqCompVal(lowerBound)
		it.currVal = lowerBound
		it.nextCompVal()
		if it.currVal >= it.numColors {
			it.currVal = it.numColors
		}
		return
	}
	for it.Value() < lowerBound {
		it.Next()
	}
}

// nextCompVal advances currVal past any run of absent values.
func (it *HybridIterator) nextCompVal() {
	for it.currVal == it.compVal {
		it.currVal++
		it.posInComp++
		if it.posInComp >= it.compListSize {
			break
		}
		it.prevVal = it.compVal
		it.compVal = uint32(bitio.ReadDelta(it.it)) + it.prevVal + 1
	}
}

// nextGeqCompVal advances the complement cursor to the first absent
// value >= lowerBound.
func (it *HybridIterator) nextGeqCompVal(lowerBound uint32) {
	for it.compVal < lowerBound {
		it.posInComp++
		if it.posInComp >= it.compListSize {
			it.compVal = it.numColors
			break
		}
		it.prevVal = it.compVal
		it.compVal = uint32(bitio.ReadDelta(it.it)) + it.prevVal + 1
	}
}

// Encode writes the store in the on-disk layout.
func (h *Hybrid) Encode(w io.Writer) error {
	if err := serial.WriteU32(w, h.numColors); err != nil {
		return err
	}
	if err := serial.WriteU32(w, h.sparseThreshold); err != nil {
		return err
	}
	if err := serial.WriteU32(w, h.veryDenseThreshold); err != nil {
		return err
	}
	if err := h.offsets.Encode(w); err != nil {
		return err
	}
	return h.sets.Encode(w)
}

// Decode reads a store written by Encode.
func (h *Hybrid) Decode(r io.Reader) error {
	var err error
	if h.numColors, err = serial.ReadU32(r); err != nil {
		return err
	}
	if h.sparseThreshold, err = serial.ReadU32(r); err != nil {
		return err
	}
	if h.veryDenseThreshold, err = serial.ReadU32(r); err != nil {
		return err
	}
	h.offsets = &succinct.EliasFano{}
	if err := h.offsets.Decode(r); err != nil {
		return err
	}
	h.sets = &succinct.BitVector{}
	return h.sets.Decode(r)
}
