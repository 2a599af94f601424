package fulgor

import (
	"fmt"
	"io"

	"github.com/deepteams/fulgor/internal/colorsets"
	"github.com/deepteams/fulgor/internal/dbg"
	"github.com/deepteams/fulgor/internal/serial"
	"github.com/deepteams/fulgor/internal/succinct"
)

// Index is a loaded or freshly built ccdBG index. It owns four
// sub-stores: the k-mer dictionary, the unitig-to-color-set map (u2c),
// one color-set store, and the reference filename table. Iterators
// obtained from it borrow its storage and must not outlive it.
type Index struct {
	dict      *dbg.Dictionary
	u2c       *succinct.RankedBitVector
	store     colorsets.Store
	filenames *FilenameTable
}

// K returns the k-mer length.
func (idx *Index) K() int { return idx.dict.K() }

// M returns the minimizer length recorded by the build.
func (idx *Index) M() int { return idx.dict.M() }

// NumColors returns the number of references C.
func (idx *Index) NumColors() uint64 { return uint64(idx.store.NumColors()) }

// NumUnitigs returns the number of unitigs U.
func (idx *Index) NumUnitigs() uint64 { return idx.dict.NumContigs() }

// NumColorSets returns the number of distinct color sets S.
func (idx *Index) NumColorSets() uint64 { return idx.store.NumColorSets() }

// NumKmers returns the number of distinct k-mers.
func (idx *Index) NumKmers() uint64 { return idx.dict.NumKmers() }

// Kind returns the color-set encoding of the index.
func (idx *Index) Kind() colorsets.Kind { return idx.store.Kind() }

// U2C maps a unitig id to its color-set id.
func (idx *Index) U2C(unitigID uint64) uint64 { return idx.u2c.Rank1(unitigID) }

// ColorSet returns an iterator over color set id.
func (idx *Index) ColorSet(id uint64) colorsets.Iterator { return idx.store.Iter(id) }

// Filename returns the display name of reference color.
func (idx *Index) Filename(color uint64) string { return idx.filenames.At(color) }

// Dictionary exposes the k-mer dictionary.
func (idx *Index) Dictionary() *dbg.Dictionary { return idx.dict }

// ColorSets exposes the color-set store.
func (idx *Index) ColorSets() colorsets.Store { return idx.store }

// FilenameTable is the ordered sequence of reference names, stored as
// one character arena plus offsets.
type FilenameTable struct {
	offsets []uint32
	chars   []byte
}

// NewFilenameTable builds a table from names in reference-id order.
func NewFilenameTable(names []string) *FilenameTable {
	t := &FilenameTable{offsets: make([]uint32, 1, len(names)+1)}
	for _, n := range names {
		t.chars = append(t.chars, n...)
		t.offsets = append(t.offsets, uint32(len(t.chars)))
	}
	return t
}

// Len returns the number of names.
func (t *FilenameTable) Len() uint64 { return uint64(len(t.offsets)) - 1 }

// At returns the i-th name.
func (t *FilenameTable) At(i uint64) string {
	return string(t.chars[t.offsets[i]:t.offsets[i+1]])
}

// Names returns all names in order.
func (t *FilenameTable) Names() []string {
	out := make([]string, t.Len())
	for i := range out {
		out[i] = t.At(uint64(i))
	}
	return out
}

// Encode writes the table in the on-disk layout.
func (t *FilenameTable) Encode(w io.Writer) error {
	if err := serial.WriteU32Slice(w, t.offsets); err != nil {
		return err
	}
	return serial.WriteBytes(w, t.chars)
}

// Decode reads a table written by Encode.
func (t *FilenameTable) Decode(r io.Reader) error {
	var err error
	if t.offsets, err = serial.ReadU32Slice(r); err != nil {
		return err
	}
	t.chars, err = serial.ReadBytes(r)
	return err
}

// validate checks structural invariants shared by all flavours.
func (idx *Index) validate() error {
	if idx.u2c.NumBits() != idx.dict.NumContigs() {
		return fmt.Errorf("fulgor: u2c covers %d unitigs, dictionary has %d",
			idx.u2c.NumBits(), idx.dict.NumContigs())
	}
	if idx.u2c.NumOnes() != idx.store.NumColorSets() {
		return fmt.Errorf("fulgor: u2c has %d runs, store has %d color sets",
			idx.u2c.NumOnes(), idx.store.NumColorSets())
	}
	return nil
}
