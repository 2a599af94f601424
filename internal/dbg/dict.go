package dbg

import (
	"fmt"
	"io"

	"github.com/deepteams/fulgor/internal/serial"
)

// Lookup is the result of an advanced k-mer query.
type Lookup struct {
	KmerID         uint64 // rank of the k-mer over all unitigs
	ContigID       uint32
	KmerIDInContig uint32
	ContigSize     uint32 // number of k-mers in the unitig
	// Forward is true when the queried spelling matches the unitig's
	// orientation at that position.
	Forward bool
}

// position packs (contig, pos, canonical-is-forward) into one word.
type position uint64

func makePosition(contig uint32, pos uint32, fwd bool) position {
	p := position(contig)<<33 | position(pos)<<1
	if fwd {
		p |= 1
	}
	return p
}

func (p position) contig() uint32 { return uint32(p >> 33) }
func (p position) pos() uint32    { return uint32(p>>1) & 0xFFFFFFFF }
func (p position) fwd() bool      { return p&1 != 0 }

// Dictionary maps every k-mer occurring in a set of unitigs to its
// unitig id and offset, canonically (a k-mer and its reverse
// complement are the same key).
type Dictionary struct {
	k           int
	m           int
	seqs        []byte
	offsets     []uint64 // U+1 byte offsets into seqs
	kmersBefore []uint64 // U+1 cumulative k-mer counts
	table       map[uint64]position
}

// BuildDictionary indexes the given unitig sequences. Duplicate
// canonical k-mers across unitigs violate the compacted-graph
// invariant and fail the build. m is the minimizer length of the
// configuration; it is recorded but not validated here.
func BuildDictionary(unitigs [][]byte, k, m int) (*Dictionary, error) {
	d := &Dictionary{
		k:       k,
		m:       m,
		table:   make(map[uint64]position),
		offsets: make([]uint64, 1, len(unitigs)+1),
	}
	d.kmersBefore = make([]uint64, 1, len(unitigs)+1)
	for contigID, seq := range unitigs {
		if len(seq) < k {
			return nil, fmt.Errorf("unitig %d shorter than k", contigID)
		}
		numKmers := len(seq) - k + 1
		for pos := 0; pos < numKmers; pos++ {
			v, ok := packKmer(seq[pos:], k)
			if !ok {
				return nil, fmt.Errorf("unitig %d: invalid base at offset %d", contigID, pos)
			}
			canon, fwd := canonical(v, k)
			if _, dup := d.table[canon]; dup {
				return nil, fmt.Errorf("unitig %d: duplicate k-mer at offset %d", contigID, pos)
			}
			d.table[canon] = makePosition(uint32(contigID), uint32(pos), fwd)
		}
		d.seqs = append(d.seqs, seq...)
		d.offsets = append(d.offsets, uint64(len(d.seqs)))
		d.kmersBefore = append(d.kmersBefore, d.kmersBefore[len(d.kmersBefore)-1]+uint64(numKmers))
	}
	return d, nil
}

// K returns the k-mer length.
func (d *Dictionary) K() int { return d.k }

// M returns the minimizer length of the build configuration.
func (d *Dictionary) M() int { return d.m }

// NumContigs returns the number of indexed unitigs.
func (d *Dictionary) NumContigs() uint64 { return uint64(len(d.offsets)) - 1 }

// NumKmers returns the total number of indexed k-mers.
func (d *Dictionary) NumKmers() uint64 { return d.kmersBefore[len(d.kmersBefore)-1] }

// ContigSequence returns the bases of unitig i.
func (d *Dictionary) ContigSequence(i uint64) []byte {
	return d.seqs[d.offsets[i]:d.offsets[i+1]]
}

// ContigSize returns the number of k-mers of unitig i.
func (d *Dictionary) ContigSize(i uint64) uint32 {
	return uint32(d.offsets[i+1] - d.offsets[i] - uint64(d.k) + 1)
}

// LookupAdvanced queries one k-mer spelling. The second result is
// false when the k-mer is absent or contains a non-ACGT byte.
func (d *Dictionary) LookupAdvanced(kmer []byte) (Lookup, bool) {
	v, ok := packKmer(kmer, d.k)
	if !ok {
		return Lookup{}, false
	}
	return d.lookupPacked(v)
}

func (d *Dictionary) lookupPacked(v uint64) (Lookup, bool) {
	canon, queryIsCanon := canonical(v, d.k)
	p, ok := d.table[canon]
	if !ok {
		return Lookup{}, false
	}
	return Lookup{
		KmerID:         d.kmersBefore[p.contig()] + uint64(p.pos()),
		ContigID:       p.contig(),
		KmerIDInContig: p.pos(),
		ContigSize:     d.ContigSize(uint64(p.contig())),
		Forward:        queryIsCanon == p.fwd(),
	}, true
}

// StreamingQuery amortises lookups over the consecutive k-mers of one
// sequence: before probing the table it tries to extend the previous
// hit one position along its unitig.
type StreamingQuery struct {
	d        *Dictionary
	prev     Lookup
	havePrev bool
}

// NewStreamingQuery creates a streaming cursor over d.
func (d *Dictionary) NewStreamingQuery() *StreamingQuery {
	return &StreamingQuery{d: d}
}

// Reset forgets the previous hit; call it between sequences.
func (q *StreamingQuery) Reset() { q.havePrev = false }

// Lookup queries the next k-mer spelling of the current sequence.
func (q *StreamingQuery) Lookup(kmer []byte) (Lookup, bool) {
	d := q.d
	if q.havePrev {
		if res, ok := q.tryExtend(kmer); ok {
			q.prev = res
			return res, true
		}
	}
	res, ok := d.LookupAdvanced(kmer)
	q.havePrev = ok
	if ok {
		q.prev = res
	}
	return res, ok
}

// tryExtend checks whether kmer sits one position after (or before,
// when walking a unitig backwards) the previous hit.
func (q *StreamingQuery) tryExtend(kmer []byte) (Lookup, bool) {
	d := q.d
	contig := uint64(q.prev.ContigID)
	var pos int64
	if q.prev.Forward {
		pos = int64(q.prev.KmerIDInContig) + 1
	} else {
		pos = int64(q.prev.KmerIDInContig) - 1
	}
	if pos < 0 || pos >= int64(q.prev.ContigSize) {
		return Lookup{}, false
	}
	seq := d.ContigSequence(contig)
	window := seq[pos : pos+int64(d.k)]
	if q.prev.Forward {
		if !equalSpelling(window, kmer, d.k) {
			return Lookup{}, false
		}
	} else {
		if !equalRevCompSpelling(window, kmer, d.k) {
			return Lookup{}, false
		}
	}
	return Lookup{
		KmerID:         d.kmersBefore[contig] + uint64(pos),
		ContigID:       q.prev.ContigID,
		KmerIDInContig: uint32(pos),
		ContigSize:     q.prev.ContigSize,
		Forward:        q.prev.Forward,
	}, true
}

func equalSpelling(a, b []byte, k int) bool {
	for i := 0; i < k; i++ {
		ca, cb := baseCode[a[i]], baseCode[b[i]]
		if ca < 0 || cb < 0 || ca != cb {
			return false
		}
	}
	return true
}

func equalRevCompSpelling(a, b []byte, k int) bool {
	for i := 0; i < k; i++ {
		ca, cb := baseCode[a[i]], baseCode[b[k-1-i]]
		if ca < 0 || cb < 0 || ca != 3-cb {
			return false
		}
	}
	return true
}

// Encode writes the dictionary; the hash table is rebuilt on load.
func (d *Dictionary) Encode(w io.Writer) error {
	if err := serial.WriteU64(w, uint64(d.k)); err != nil {
		return err
	}
	if err := serial.WriteU64(w, uint64(d.m)); err != nil {
		return err
	}
	if err := serial.WriteU64Slice(w, d.offsets); err != nil {
		return err
	}
	return serial.WriteBytes(w, d.seqs)
}

// Decode reads a dictionary written by Encode and re-indexes it.
func (d *Dictionary) Decode(r io.Reader) error {
	k, err := serial.ReadU64(r)
	if err != nil {
		return err
	}
	m, err := serial.ReadU64(r)
	if err != nil {
		return err
	}
	offsets, err := serial.ReadU64Slice(r)
	if err != nil {
		return err
	}
	seqs, err := serial.ReadBytes(r)
	if err != nil {
		return err
	}
	unitigs := make([][]byte, len(offsets)-1)
	for i := range unitigs {
		unitigs[i] = seqs[offsets[i]:offsets[i+1]]
	}
	rebuilt, err := BuildDictionary(unitigs, int(k), int(m))
	if err != nil {
		return err
	}
	*d = *rebuilt
	return nil
}
