// Package succinct implements the immutable rank/select bit vector,
// Elias-Fano monotone sequences, and width-packed integer vectors that
// back the color-set stores.
package succinct

import (
	"io"
	"math/bits"

	"github.com/deepteams/fulgor/internal/bitio"
	"github.com/deepteams/fulgor/internal/serial"
)

// BitVector is an immutable sequence of bits backed by 64-bit words.
type BitVector struct {
	words   []uint64
	numBits uint64
}

// NewBitVector freezes the contents of w into a BitVector. The writer
// must not be appended to afterwards.
func NewBitVector(w *bitio.Writer) *BitVector {
	return &BitVector{words: w.Words(), numBits: w.NumBits()}
}

// NumBits returns the length of the vector in bits.
func (b *BitVector) NumBits() uint64 { return b.numBits }

// Get returns the bit at position i.
func (b *BitVector) Get(i uint64) bool {
	return b.words[i>>6]>>(i&63)&1 != 0
}

// Words exposes the backing words for iteration.
func (b *BitVector) Words() []uint64 { return b.words }

// SizeBytes returns the in-memory footprint of the vector.
func (b *BitVector) SizeBytes() uint64 { return 8 + 8*uint64(len(b.words)) }

// Iterator returns a bit cursor positioned at pos.
func (b *BitVector) Iterator(pos uint64) *bitio.Iterator {
	return bitio.NewIterator(b.words, pos)
}

// Encode writes the vector in the on-disk layout.
func (b *BitVector) Encode(w io.Writer) error {
	if err := serial.WriteU64(w, b.numBits); err != nil {
		return err
	}
	return serial.WriteU64Slice(w, b.words)
}

// Decode reads a vector written by Encode.
func (b *BitVector) Decode(r io.Reader) error {
	var err error
	if b.numBits, err = serial.ReadU64(r); err != nil {
		return err
	}
	b.words, err = serial.ReadU64Slice(r)
	return err
}

// blockWords is the rank superblock size in 64-bit words. Each block
// caches its absolute rank plus seven 9-bit sub-block ranks packed in
// one word.
const blockWords = 8

// RankedBitVector is a BitVector with a two-level rank index and
// select support.
type RankedBitVector struct {
	BitVector
	blockRankPairs []uint64
}

// NewRankedBitVector freezes w and builds the rank index.
func NewRankedBitVector(w *bitio.Writer) *RankedBitVector {
	r := &RankedBitVector{BitVector: *NewBitVector(w)}
	r.buildIndex()
	return r
}

func (r *RankedBitVector) buildIndex() {
	var pairs []uint64
	nextRank := uint64(0)
	curSubrank := uint64(0)
	subranks := uint64(0)
	pairs = append(pairs, 0)
	for i := 0; i < len(r.words); i++ {
		wordPop := uint64(bits.OnesCount64(r.words[i]))
		shift := uint64(i) % blockWords
		if shift != 0 {
			subranks <<= 9
			subranks |= curSubrank
		}
		nextRank += wordPop
		curSubrank += wordPop
		if shift == blockWords-1 {
			pairs = append(pairs, subranks, nextRank)
			subranks = 0
			curSubrank = 0
		}
	}
	left := blockWords - uint64(len(r.words))%blockWords
	for i := uint64(0); i < left; i++ {
		subranks <<= 9
		subranks |= curSubrank
	}
	pairs = append(pairs, subranks)
	if uint64(len(r.words))%blockWords != 0 {
		pairs = append(pairs, nextRank, 0)
	}
	r.blockRankPairs = pairs
}

// SizeBytes returns the in-memory footprint including the rank index.
func (r *RankedBitVector) SizeBytes() uint64 {
	return r.BitVector.SizeBytes() + 8*uint64(len(r.blockRankPairs))
}

// NumOnes returns the number of set bits.
func (r *RankedBitVector) NumOnes() uint64 {
	return r.blockRankPairs[len(r.blockRankPairs)-2]
}

// Rank1 returns the number of set bits in positions [0, pos).
func (r *RankedBitVector) Rank1(pos uint64) uint64 {
	if pos >= r.numBits {
		return r.NumOnes()
	}
	subBlock := pos / 64
	res := r.subBlockRank(subBlock)
	if subLeft := pos % 64; subLeft != 0 {
		res += uint64(bits.OnesCount64(r.words[subBlock] << (64 - subLeft)))
	}
	return res
}

func (r *RankedBitVector) blockRank(block uint64) uint64 {
	return r.blockRankPairs[block*2]
}

func (r *RankedBitVector) subBlockRank(subBlock uint64) uint64 {
	block := subBlock / blockWords
	res := r.blockRank(block)
	left := subBlock % blockWords
	res += r.blockRankPairs[block*2+1] >> ((7 - left) * 9) & 0x1FF
	return res
}

// Select1 returns the position of the j-th set bit, 0-indexed.
// j must be < NumOnes().
func (r *RankedBitVector) Select1(j uint64) uint64 {
	// Binary search the block whose cumulative rank exceeds j, then
	// scan its words.
	numBlocks := uint64(len(r.blockRankPairs))/2 - 1
	lo, hi := uint64(0), numBlocks
	for lo < hi {
		mid := (lo + hi) / 2
		if r.blockRank(mid) <= j {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	block := lo - 1
	cur := r.blockRank(block)
	word := block * blockWords
	for ; word < uint64(len(r.words)); word++ {
		pop := uint64(bits.OnesCount64(r.words[word]))
		if cur+pop > j {
			break
		}
		cur += pop
	}
	return word*64 + uint64(selectInWord(r.words[word], j-cur))
}

// selectInWord returns the position of the (k+1)-th set bit of w.
func selectInWord(w uint64, k uint64) int {
	for i := uint64(0); i < k; i++ {
		w &= w - 1 // clear lowest set bit
	}
	return bits.TrailingZeros64(w)
}

// Encode writes the vector and its rank index.
func (r *RankedBitVector) Encode(w io.Writer) error {
	if err := r.BitVector.Encode(w); err != nil {
		return err
	}
	return serial.WriteU64Slice(w, r.blockRankPairs)
}

// Decode reads a vector written by Encode.
func (r *RankedBitVector) Decode(rd io.Reader) error {
	if err := r.BitVector.Decode(rd); err != nil {
		return err
	}
	var err error
	r.blockRankPairs, err = serial.ReadU64Slice(rd)
	return err
}
