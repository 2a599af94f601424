package succinct

import (
	"io"

	"github.com/deepteams/fulgor/internal/serial"
)

// CompactVector packs integers at a fixed bit width.
type CompactVector struct {
	words []uint64
	width uint64
	n     uint64
}

// NewCompactVector packs vals at the given width, 1 <= width <= 64.
// Every value must fit in width bits.
func NewCompactVector(vals []uint64, width uint64) *CompactVector {
	cv := &CompactVector{width: width, n: uint64(len(vals))}
	cv.words = make([]uint64, (cv.n*width+63)/64)
	for i, v := range vals {
		cv.set(uint64(i), v)
	}
	return cv
}

// CompactVectorBuilder accumulates values one at a time.
type CompactVectorBuilder struct {
	vals  []uint64
	width uint64
}

// NewCompactVectorBuilder sizes the builder for n values of the given
// width.
func NewCompactVectorBuilder(n, width uint64) *CompactVectorBuilder {
	return &CompactVectorBuilder{vals: make([]uint64, 0, n), width: width}
}

// PushBack appends a value.
func (b *CompactVectorBuilder) PushBack(v uint64) { b.vals = append(b.vals, v) }

// Width returns the configured bit width.
func (b *CompactVectorBuilder) Width() uint64 { return b.width }

// Len returns the number of pushed values.
func (b *CompactVectorBuilder) Len() uint64 { return uint64(len(b.vals)) }

// Build packs the accumulated values.
func (b *CompactVectorBuilder) Build() *CompactVector {
	return NewCompactVector(b.vals, b.width)
}

func (cv *CompactVector) set(i, v uint64) {
	pos := i * cv.width
	word := pos >> 6
	shift := pos & 63
	cv.words[word] |= v << shift
	if shift+cv.width > 64 {
		cv.words[word+1] |= v >> (64 - shift)
	}
}

// Get returns the i-th value.
func (cv *CompactVector) Get(i uint64) uint64 {
	pos := i * cv.width
	word := pos >> 6
	shift := pos & 63
	v := cv.words[word] >> shift
	if shift+cv.width > 64 {
		v |= cv.words[word+1] << (64 - shift)
	}
	if cv.width == 64 {
		return v
	}
	return v & ((uint64(1) << cv.width) - 1)
}

// Len returns the number of stored values.
func (cv *CompactVector) Len() uint64 { return cv.n }

// Width returns the per-element bit width.
func (cv *CompactVector) Width() uint64 { return cv.width }

// SizeBytes returns the in-memory footprint of the vector.
func (cv *CompactVector) SizeBytes() uint64 { return 2*8 + 8*uint64(len(cv.words)) }

// Encode writes the 64-bit length, the 8-bit width, and the packed
// words.
func (cv *CompactVector) Encode(w io.Writer) error {
	if err := serial.WriteU64(w, cv.n); err != nil {
		return err
	}
	if err := serial.WriteU8(w, uint8(cv.width)); err != nil {
		return err
	}
	return serial.WriteU64Slice(w, cv.words)
}

// Decode reads a vector written by Encode.
func (cv *CompactVector) Decode(r io.Reader) error {
	var err error
	if cv.n, err = serial.ReadU64(r); err != nil {
		return err
	}
	width, err := serial.ReadU8(r)
	if err != nil {
		return err
	}
	cv.width = uint64(width)
	cv.words, err = serial.ReadU64Slice(r)
	return err
}
