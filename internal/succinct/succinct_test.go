package succinct

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/deepteams/fulgor/internal/bitio"
)

func randomBitVector(t *testing.T, numBits uint64, density float64, seed int64) (*RankedBitVector, []bool) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	w := bitio.NewWriter(numBits)
	w.Resize(numBits)
	ref := make([]bool, numBits)
	for i := uint64(0); i < numBits; i++ {
		if rng.Float64() < density {
			w.Set(i, true)
			ref[i] = true
		}
	}
	return NewRankedBitVector(w), ref
}

func TestRankedBitVector_Rank1(t *testing.T) {
	for _, numBits := range []uint64{1, 63, 64, 65, 512, 513, 4096, 10000} {
		bv, ref := randomBitVector(t, numBits, 0.3, int64(numBits))
		rank := uint64(0)
		for i := uint64(0); i <= numBits; i++ {
			if got := bv.Rank1(i); got != rank {
				t.Fatalf("numBits=%d: rank1(%d): got %d, want %d", numBits, i, got, rank)
			}
			if i < numBits && ref[i] {
				rank++
			}
		}
		if bv.NumOnes() != rank {
			t.Fatalf("numBits=%d: num ones: got %d, want %d", numBits, bv.NumOnes(), rank)
		}
	}
}

func TestRankedBitVector_Select1(t *testing.T) {
	for _, numBits := range []uint64{64, 1000, 4096, 20000} {
		bv, ref := randomBitVector(t, numBits, 0.1, int64(numBits)+1)
		j := uint64(0)
		for i := uint64(0); i < numBits; i++ {
			if !ref[i] {
				continue
			}
			if got := bv.Select1(j); got != i {
				t.Fatalf("numBits=%d: select1(%d): got %d, want %d", numBits, j, got, i)
			}
			j++
		}
	}
}

func TestRankedBitVector_RankSelectIdentity(t *testing.T) {
	bv, _ := randomBitVector(t, 5000, 0.5, 77)
	ones := bv.NumOnes()
	for j := uint64(0); j < ones; j++ {
		pos := bv.Select1(j)
		if got := bv.Rank1(pos); got != j {
			t.Fatalf("rank1(select1(%d)): got %d, want %d", j, got, j)
		}
		if !bv.Get(pos) {
			t.Fatalf("select1(%d) = %d is not a set bit", j, pos)
		}
	}
}

func TestEliasFano_Access(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	for _, n := range []int{1, 2, 100, 5000} {
		vals := make([]uint64, n)
		cur := uint64(0)
		for i := range vals {
			cur += uint64(rng.Intn(1000))
			vals[i] = cur
		}
		ef := EncodeEliasFano(vals)
		if ef.Len() != uint64(n) {
			t.Fatalf("n=%d: len: got %d, want %d", n, ef.Len(), n)
		}
		for i, v := range vals {
			if got := ef.Access(uint64(i)); got != v {
				t.Fatalf("n=%d: access(%d): got %d, want %d", n, i, got, v)
			}
		}
	}
}

func TestEliasFano_AllZero(t *testing.T) {
	vals := []uint64{0, 0, 0, 0}
	ef := EncodeEliasFano(vals)
	for i := range vals {
		if got := ef.Access(uint64(i)); got != 0 {
			t.Fatalf("access(%d): got %d, want 0", i, got)
		}
	}
}

func TestCompactVector_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for _, width := range []uint64{1, 7, 9, 31, 33, 63, 64} {
		n := 500
		vals := make([]uint64, n)
		for i := range vals {
			v := rng.Uint64()
			if width != 64 {
				v &= (uint64(1) << width) - 1
			}
			vals[i] = v
		}
		cv := NewCompactVector(vals, width)
		for i, v := range vals {
			if got := cv.Get(uint64(i)); got != v {
				t.Fatalf("width=%d: get(%d): got %d, want %d", width, i, got, v)
			}
		}
	}
}

func TestSerialization_RoundTrip(t *testing.T) {
	bv, _ := randomBitVector(t, 3000, 0.4, 13)
	var buf bytes.Buffer
	if err := bv.Encode(&buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	image := buf.Bytes()

	var got RankedBitVector
	if err := got.Decode(bytes.NewReader(image)); err != nil {
		t.Fatalf("decode: %v", err)
	}
	var buf2 bytes.Buffer
	if err := got.Encode(&buf2); err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if !bytes.Equal(image, buf2.Bytes()) {
		t.Fatal("serialized images differ after round-trip")
	}
	for i := uint64(0); i <= bv.NumBits(); i += 97 {
		if bv.Rank1(i) != got.Rank1(i) {
			t.Fatalf("rank1(%d) differs after round-trip", i)
		}
	}

	vals := []uint64{0, 5, 5, 9, 100, 1000, 1000, 12345}
	ef := EncodeEliasFano(vals)
	buf.Reset()
	if err := ef.Encode(&buf); err != nil {
		t.Fatalf("ef encode: %v", err)
	}
	var ef2 EliasFano
	if err := ef2.Decode(bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatalf("ef decode: %v", err)
	}
	for i, v := range vals {
		if got := ef2.Access(uint64(i)); got != v {
			t.Fatalf("ef access(%d) after round-trip: got %d, want %d", i, got, v)
		}
	}
}
