package succinct

import (
	"io"

	"github.com/deepteams/fulgor/internal/bitio"
	"github.com/deepteams/fulgor/internal/serial"
)

// EliasFano stores a monotone non-decreasing sequence of n values over
// a universe [0, u] in the usual low-bits/high-bits split. It backs
// every offset table of the index.
type EliasFano struct {
	universe uint64
	n        uint64
	lowWidth uint64
	low      *CompactVector
	high     *RankedBitVector
}

// EncodeEliasFano compresses vals, which must be non-decreasing; the
// final value defines the universe.
func EncodeEliasFano(vals []uint64) *EliasFano {
	ef := &EliasFano{n: uint64(len(vals))}
	if ef.n == 0 {
		ef.low = NewCompactVector(nil, 1)
		ef.high = NewRankedBitVector(bitio.NewWriter(0))
		return ef
	}
	ef.universe = vals[len(vals)-1]
	if ef.universe/ef.n > 0 {
		ef.lowWidth = bitio.MSB(ef.universe / ef.n)
	}

	low := make([]uint64, ef.n)
	highWriter := bitio.NewWriter(2 * ef.n)
	highWriter.Resize(ef.n + (ef.universe >> ef.lowWidth) + 1)
	mask := (uint64(1) << ef.lowWidth) - 1
	for i, v := range vals {
		low[i] = v & mask
		highWriter.Set((v>>ef.lowWidth)+uint64(i), true)
	}
	ef.low = NewCompactVector(low, max(1, ef.lowWidth))
	ef.high = NewRankedBitVector(highWriter)
	return ef
}

// Len returns the number of stored values.
func (ef *EliasFano) Len() uint64 { return ef.n }

// SizeBytes returns the in-memory footprint of the sequence.
func (ef *EliasFano) SizeBytes() uint64 {
	return 3*8 + ef.low.SizeBytes() + ef.high.SizeBytes()
}

// Access returns the i-th value.
func (ef *EliasFano) Access(i uint64) uint64 {
	hi := ef.high.Select1(i) - i
	return hi<<ef.lowWidth | ef.low.Get(i)
}

// Encode writes the sequence with its 64-bit universe, length and
// low-width headers followed by the lower and upper bit arrays.
func (ef *EliasFano) Encode(w io.Writer) error {
	if err := serial.WriteU64(w, ef.universe); err != nil {
		return err
	}
	if err := serial.WriteU64(w, ef.n); err != nil {
		return err
	}
	if err := serial.WriteU64(w, ef.lowWidth); err != nil {
		return err
	}
	if err := ef.low.Encode(w); err != nil {
		return err
	}
	return ef.high.Encode(w)
}

// Decode reads a sequence written by Encode.
func (ef *EliasFano) Decode(r io.Reader) error {
	var err error
	if ef.universe, err = serial.ReadU64(r); err != nil {
		return err
	}
	if ef.n, err = serial.ReadU64(r); err != nil {
		return err
	}
	if ef.lowWidth, err = serial.ReadU64(r); err != nil {
		return err
	}
	ef.low = &CompactVector{}
	if err := ef.low.Decode(r); err != nil {
		return err
	}
	ef.high = &RankedBitVector{}
	return ef.high.Decode(r)
}
