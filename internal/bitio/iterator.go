package bitio

import "math/bits"

// Iterator is a random-access cursor over a finished bit buffer. It
// borrows the word slice it was created from and must not outlive it.
//
// The cursor keeps a 64-bit prefetch register (buf) holding the next
// avail bits, refilled a word at a time, in the manner of a prefetching
// bitstream reader.
type Iterator struct {
	data  []uint64
	pos   uint64
	buf   uint64
	avail uint64
}

// NewIterator creates an Iterator over data positioned at bit pos.
func NewIterator(data []uint64, pos uint64) *Iterator {
	it := &Iterator{data: data}
	it.At(pos)
	return it
}

// At repositions the cursor at bit pos and discards the prefetch.
func (it *Iterator) At(pos uint64) {
	it.pos = pos
	it.buf = 0
	it.avail = 0
}

// Position returns the current absolute bit position.
func (it *Iterator) Position() uint64 { return it.pos }

// Take returns the next l bits (l <= 64) and advances by l.
func (it *Iterator) Take(l uint64) uint64 {
	if it.avail < l {
		it.fill()
	}
	var val uint64
	if l != 64 {
		val = it.buf & ((uint64(1) << l) - 1)
		it.buf >>= l
	} else {
		val = it.buf
	}
	it.avail -= l
	it.pos += l
	return val
}

// SkipZeros advances past a run of zero bits and the terminating one
// bit, returning the length of the zero run.
func (it *Iterator) SkipZeros() uint64 {
	zeros := uint64(0)
	for it.buf == 0 {
		it.pos += it.avail
		zeros += it.avail
		it.fill()
	}
	l := uint64(bits.TrailingZeros64(it.buf))
	it.buf >>= l
	it.buf >>= 1
	it.avail -= l + 1
	it.pos += l + 1
	return zeros + l
}

// NextSet returns the position of the first set bit at or after the
// current position and leaves the cursor just past it. The caller must
// ensure a set bit exists ahead.
func (it *Iterator) NextSet() uint64 {
	word := it.pos >> 6
	w := it.data[word] >> (it.pos & 63)
	for w == 0 {
		word++
		w = it.data[word]
	}
	var p uint64
	if word == it.pos>>6 {
		p = it.pos + uint64(bits.TrailingZeros64(w))
	} else {
		p = word<<6 + uint64(bits.TrailingZeros64(w))
	}
	it.At(p + 1)
	return p
}

// fill loads the next 64 bits starting at the current position into the
// prefetch register.
func (it *Iterator) fill() {
	block := it.pos >> 6
	shift := it.pos & 63
	word := it.data[block] >> shift
	if shift != 0 && block+1 < uint64(len(it.data)) {
		word |= it.data[block+1] << (64 - shift)
	}
	it.buf = word
	it.avail = 64
}
