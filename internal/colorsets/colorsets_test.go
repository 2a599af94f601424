package colorsets

import (
	"bytes"
	"fmt"
	"math/rand"
	"sort"
	"testing"
)

// --- construction helpers ---

func buildHybrid(t *testing.T, numColors uint32, sets [][]uint32) *Hybrid {
	t.Helper()
	b := NewHybridBuilder(numColors)
	for _, s := range sets {
		b.Process(s)
	}
	return b.Build()
}

// buildDifferential groups consecutive sets into clusters of the given
// sizes and encodes each against its majority-vote representative.
func buildDifferential(t *testing.T, numColors uint32, sets [][]uint32, clusterSizes []int) *Differential {
	t.Helper()
	b := NewDifferentialBuilder(numColors)
	pos := 0
	for clusterID, size := range clusterSizes {
		members := sets[pos : pos+size]
		rep := majorityVote(numColors, members)
		b.EncodeRepresentative(rep)
		for _, s := range members {
			b.EncodeSet(uint64(clusterID), rep, s)
		}
		pos += size
	}
	if pos != len(sets) {
		t.Fatalf("cluster sizes cover %d of %d sets", pos, len(sets))
	}
	return b.Build()
}

func majorityVote(numColors uint32, members [][]uint32) []uint32 {
	counts := make([]int, numColors)
	for _, s := range members {
		for _, v := range s {
			counts[v]++
		}
	}
	quorum := (len(members) + 1) / 2
	var rep []uint32
	for c := uint32(0); c < numColors; c++ {
		if counts[c] >= quorum {
			rep = append(rep, c)
		}
	}
	return rep
}

// buildMeta partitions the universe at the given prefix boundaries and
// deduplicates partial sets per partition.
func buildMeta(t *testing.T, numColors uint32, sets [][]uint32, partitionPrefix []uint32) *Meta {
	t.Helper()
	numPartitions := len(partitionPrefix) - 1

	type metaRef struct{ partition, local uint32 }
	partialsPerPartition := make([][][]uint32, numPartitions)
	localIDs := make([]map[string]uint32, numPartitions)
	for i := range localIDs {
		localIDs[i] = make(map[string]uint32)
	}
	metaLists := make([][]metaRef, len(sets))
	numIntegers := uint64(0)

	for setID, s := range sets {
		p := 0
		var partial []uint32
		flush := func() {
			if len(partial) == 0 {
				return
			}
			key := fmt.Sprint(partial)
			local, ok := localIDs[p][key]
			if !ok {
				local = uint32(len(partialsPerPartition[p]))
				localIDs[p][key] = local
				partialsPerPartition[p] = append(partialsPerPartition[p], partial)
			}
			metaLists[setID] = append(metaLists[setID], metaRef{uint32(p), local})
			partial = nil
		}
		for _, v := range s {
			for v >= partitionPrefix[p+1] {
				flush()
				p++
			}
			partial = append(partial, v-partitionPrefix[p])
		}
		flush()
		numIntegers += uint64(len(metaLists[setID])) + 1
	}

	b := NewMetaBuilder(uint64(numColors), uint64(numPartitions))
	numSetsIn := make([]uint32, numPartitions)
	totalPartials := uint64(0)
	for p := 0; p < numPartitions; p++ {
		b.InitPartition(uint64(p), uint64(partitionPrefix[p+1]-partitionPrefix[p]))
		for _, partial := range partialsPerPartition[p] {
			b.EncodePartialSet(uint64(p), partial)
		}
		numSetsIn[p] = uint32(len(partialsPerPartition[p]))
		totalPartials += uint64(len(partialsPerPartition[p]))
	}
	before := make([]uint32, numPartitions)
	for p := 1; p < numPartitions; p++ {
		before[p] = before[p-1] + numSetsIn[p-1]
	}
	b.InitMetaColorSets(numIntegers, totalPartials, partitionPrefix, numSetsIn)
	for _, list := range metaLists {
		metaColors := make([]uint32, len(list))
		for i, ref := range list {
			metaColors[i] = before[ref.partition] + ref.local
		}
		b.EncodeMetaColorSet(metaColors)
	}
	return b.Build()
}

// buildMetaDifferential reorders sets so equal partition-id lists are
// adjacent and returns the store plus the permutation perm with
// perm[newID] = oldID.
func buildMetaDifferential(t *testing.T, numColors uint32, sets [][]uint32,
	partitionPrefix []uint32) (*MetaDifferential, []int) {
	t.Helper()
	numPartitions := len(partitionPrefix) - 1

	// Partial dedup, as in buildMeta.
	partialsPerPartition := make([][][]uint32, numPartitions)
	localIDs := make([]map[string]uint32, numPartitions)
	for i := range localIDs {
		localIDs[i] = make(map[string]uint32)
	}
	type entry struct {
		partitions []uint64
		locals     []uint64
	}
	entries := make([]entry, len(sets))
	for setID, s := range sets {
		p := 0
		var partial []uint32
		flush := func() {
			if len(partial) == 0 {
				return
			}
			key := fmt.Sprint(partial)
			local, ok := localIDs[p][key]
			if !ok {
				local = uint32(len(partialsPerPartition[p]))
				localIDs[p][key] = local
				partialsPerPartition[p] = append(partialsPerPartition[p], partial)
			}
			entries[setID].partitions = append(entries[setID].partitions, uint64(p))
			entries[setID].locals = append(entries[setID].locals, uint64(local))
			partial = nil
		}
		for _, v := range s {
			for v >= partitionPrefix[p+1] {
				flush()
				p++
			}
			partial = append(partial, v-partitionPrefix[p])
		}
		flush()
	}

	// Group identical partition lists.
	perm := make([]int, len(sets))
	for i := range perm {
		perm[i] = i
	}
	sort.SliceStable(perm, func(a, b int) bool {
		pa, pb := entries[perm[a]].partitions, entries[perm[b]].partitions
		for i := 0; i < len(pa) && i < len(pb); i++ {
			if pa[i] != pb[i] {
				return pa[i] < pb[i]
			}
		}
		return len(pa) < len(pb)
	})

	b := NewMetaDifferentialBuilder(uint64(numColors), uint64(numPartitions))
	for p := 0; p < numPartitions; p++ {
		db := NewDifferentialBuilder(partitionPrefix[p+1] - partitionPrefix[p])
		rep := majorityVote(partitionPrefix[p+1]-partitionPrefix[p], partialsPerPartition[p])
		db.EncodeRepresentative(rep)
		for _, partial := range partialsPerPartition[p] {
			db.EncodeSet(0, rep, partial)
		}
		b.ProcessPartition(db.Build())
	}

	var distinct [][]uint64
	keyOf := func(ps []uint64) string { return fmt.Sprint(ps) }
	seen := map[string]uint64{}
	for _, oldID := range perm {
		ps := entries[oldID].partitions
		if _, ok := seen[keyOf(ps)]; !ok {
			seen[keyOf(ps)] = uint64(len(distinct))
			distinct = append(distinct, ps)
		}
	}
	b.InitPartitionSets(uint64(len(distinct)))
	for _, ps := range distinct {
		b.ProcessPartitionSet(ps)
	}
	for _, oldID := range perm {
		e := entries[oldID]
		b.ProcessMetaColorSet(seen[keyOf(e.partitions)], e.partitions, e.locals)
	}
	return b.Build(), perm
}

// --- reference implementations ---

func naiveIntersect(sets [][]uint32) []uint32 {
	if len(sets) == 0 {
		return nil
	}
	counts := map[uint32]int{}
	for _, s := range sets {
		for _, v := range s {
			counts[v]++
		}
	}
	var out []uint32
	for v, c := range counts {
		if c == len(sets) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

func naiveThresholdUnion(numColors uint32, sets [][]uint32, scores []uint32, minScore uint64) []uint32 {
	acc := make([]uint64, numColors)
	for i, s := range sets {
		for _, v := range s {
			acc[v] += uint64(scores[i])
		}
	}
	var out []uint32
	for v := uint32(0); v < numColors; v++ {
		if acc[v] >= minScore {
			out = append(out, v)
		}
	}
	return out
}

func randomSets(rng *rand.Rand, numColors uint32, n int) [][]uint32 {
	sets := make([][]uint32, n)
	for i := range sets {
		// Mix sparse, medium, and very dense sizes.
		var density float64
		switch i % 4 {
		case 0:
			density = 0.05
		case 1:
			density = 0.4
		case 2:
			density = 0.8
		default:
			density = 0.95
		}
		var s []uint32
		for c := uint32(0); c < numColors; c++ {
			if rng.Float64() < density {
				s = append(s, c)
			}
		}
		if len(s) == 0 {
			s = append(s, uint32(rng.Intn(int(numColors))))
		}
		sets[i] = s
	}
	return sets
}

func equalU32(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// --- hybrid ---

func TestHybrid_LayoutsAndDecode(t *testing.T) {
	const numColors = 100
	rng := rand.New(rand.NewSource(1))
	sizes := []int{10, 40, 90}
	sets := make([][]uint32, len(sizes))
	for i, n := range sizes {
		perm := rng.Perm(numColors)[:n]
		sort.Ints(perm)
		for _, v := range perm {
			sets[i] = append(sets[i], uint32(v))
		}
	}
	h := buildHybrid(t, numColors, sets)

	wantEnc := []int{encDeltaGaps, encBitmap, encComplementDeltaGaps}
	for i, s := range sets {
		it := h.ColorSet(uint64(i))
		if it.Encoding() != wantEnc[i] {
			t.Fatalf("set %d (size %d): encoding %d, want %d", i, len(s), it.Encoding(), wantEnc[i])
		}
		if it.Size() != uint32(len(s)) {
			t.Fatalf("set %d: size %d, want %d", i, it.Size(), len(s))
		}
		if got := Decode(h.Iter(uint64(i))); !equalU32(got, s) {
			t.Fatalf("set %d: decode mismatch: got %v, want %v", i, got, s)
		}
	}
}

func TestHybrid_BitmapExtent(t *testing.T) {
	// A bitmap set occupies exactly numColors bits after its header.
	const numColors = 64
	set := make([]uint32, 30)
	for i := range set {
		set[i] = uint32(i * 2)
	}
	b := NewHybridBuilder(numColors)
	before := uint64(0)
	b.Process(set)
	h := b.Build()
	it := h.ColorSet(0)
	headerBits := it.bitmapBegin - before
	total := h.sets.NumBits()
	if total-headerBits != numColors {
		t.Fatalf("bitmap extent: got %d bits, want %d", total-headerBits, numColors)
	}
}

func TestHybrid_NextGEQ(t *testing.T) {
	const numColors = 200
	rng := rand.New(rand.NewSource(3))
	sets := randomSets(rng, numColors, 12)
	h := buildHybrid(t, numColors, sets)
	for i, s := range sets {
		for trial := 0; trial < 50; trial++ {
			lb := uint32(rng.Intn(numColors + 1))
			it := h.ColorSet(uint64(i))
			it.NextGEQ(lb)
			want := uint32(numColors)
			for _, v := range s {
				if v >= lb {
					want = v
					break
				}
			}
			if it.Value() != want {
				t.Fatalf("set %d next_geq(%d): got %d, want %d", i, lb, it.Value(), want)
			}
		}
	}
}

func TestHybrid_Intersection(t *testing.T) {
	const numColors = 100
	rng := rand.New(rand.NewSource(4))
	for trial := 0; trial < 30; trial++ {
		n := 2 + rng.Intn(5)
		sets := randomSets(rng, numColors, n)
		h := buildHybrid(t, numColors, sets)
		ids := make([]uint64, n)
		for i := range ids {
			ids[i] = uint64(i)
		}
		got := Intersect(h, ids)
		want := naiveIntersect(sets)
		if !equalU32(got, want) {
			t.Fatalf("trial %d: intersection: got %v, want %v", trial, got, want)
		}
	}
}

func TestHybrid_IntersectSparseWithVeryDense(t *testing.T) {
	// Intersecting a size-10 set with a size-90 complement-coded set
	// yields the sparse set minus the dense set's 10-element complement.
	const numColors = 100
	sparse := []uint32{3, 7, 12, 25, 38, 51, 64, 77, 88, 99}
	var dense []uint32
	absent := map[uint32]bool{1: true, 7: true, 13: true, 25: true, 31: true,
		47: true, 59: true, 72: true, 88: true, 93: true}
	for c := uint32(0); c < numColors; c++ {
		if !absent[c] {
			dense = append(dense, c)
		}
	}
	h := buildHybrid(t, numColors, [][]uint32{sparse, dense})
	got := Intersect(h, []uint64{0, 1})
	var want []uint32
	for _, v := range sparse {
		if !absent[v] {
			want = append(want, v)
		}
	}
	if !equalU32(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

// --- differential ---

func TestDifferential_MajorityVoteCluster(t *testing.T) {
	const numColors = 10
	sets := [][]uint32{{0, 2, 5}, {0, 2, 3, 5}, {0, 2, 5, 7}}
	d := buildDifferential(t, numColors, sets, []int{3})

	// Representative is {0,2,5}; the first member stores an empty
	// difference listing.
	if it := d.ColorSet(0); it.DiffSize() != 0 {
		t.Fatalf("first member: diff size %d, want 0", it.DiffSize())
	}
	wantDiffs := []uint64{0, 1, 1}
	for i, s := range sets {
		it := d.ColorSet(uint64(i))
		if it.DiffSize() != wantDiffs[i] {
			t.Fatalf("set %d: diff size %d, want %d", i, it.DiffSize(), wantDiffs[i])
		}
		if got := Decode(d.Iter(uint64(i))); !equalU32(got, s) {
			t.Fatalf("set %d: decode mismatch: got %v, want %v", i, got, s)
		}
	}

	got := Intersect(d, []uint64{0, 1, 2})
	if want := []uint32{0, 2, 5}; !equalU32(got, want) {
		t.Fatalf("intersection: got %v, want %v", got, want)
	}
}

func TestDifferential_RandomRoundTrip(t *testing.T) {
	const numColors = 150
	rng := rand.New(rand.NewSource(8))
	for trial := 0; trial < 10; trial++ {
		n := 4 + rng.Intn(12)
		sets := randomSets(rng, numColors, n)
		var clusterSizes []int
		left := n
		for left > 0 {
			c := 1 + rng.Intn(4)
			if c > left {
				c = left
			}
			clusterSizes = append(clusterSizes, c)
			left -= c
		}
		d := buildDifferential(t, numColors, sets, clusterSizes)
		if d.NumClusters() != uint64(len(clusterSizes)) {
			t.Fatalf("trial %d: clusters: got %d, want %d",
				trial, d.NumClusters(), len(clusterSizes))
		}
		for i, s := range sets {
			if got := Decode(d.Iter(uint64(i))); !equalU32(got, s) {
				t.Fatalf("trial %d set %d: decode mismatch", trial, i)
			}
		}
		ids := make([]uint64, n)
		for i := range ids {
			ids[i] = uint64(i)
		}
		if got, want := Intersect(d, ids), naiveIntersect(sets); !equalU32(got, want) {
			t.Fatalf("trial %d: intersection: got %v, want %v", trial, got, want)
		}
	}
}

// --- meta ---

func TestMeta_RoundTripAndIntersection(t *testing.T) {
	const numColors = 120
	partitionPrefix := []uint32{0, 40, 80, 120}
	rng := rand.New(rand.NewSource(21))
	for trial := 0; trial < 10; trial++ {
		n := 3 + rng.Intn(8)
		sets := randomSets(rng, numColors, n)
		m := buildMeta(t, numColors, sets, partitionPrefix)
		if m.NumPartitions() != 3 {
			t.Fatalf("partitions: got %d, want 3", m.NumPartitions())
		}
		for i, s := range sets {
			it := m.ColorSet(uint64(i))
			if it.Size() != uint32(len(s)) {
				t.Fatalf("trial %d set %d: size %d, want %d", trial, i, it.Size(), len(s))
			}
			if got := Decode(m.Iter(uint64(i))); !equalU32(got, s) {
				t.Fatalf("trial %d set %d: decode mismatch: got %v, want %v", trial, i, got, s)
			}
		}
		ids := make([]uint64, n)
		for i := range ids {
			ids[i] = uint64(i)
		}
		if got, want := Intersect(m, ids), naiveIntersect(sets); !equalU32(got, want) {
			t.Fatalf("trial %d: intersection: got %v, want %v", trial, got, want)
		}
	}
}

func TestMeta_SameMetaColorShortCircuit(t *testing.T) {
	// Two sets share their partial set in partition 1 but differ in
	// partition 0: the common partition must be emitted whole.
	const numColors = 60
	partitionPrefix := []uint32{0, 30, 60}
	shared := []uint32{31, 40, 55}
	a := append([]uint32{1, 2}, shared...)
	b := append([]uint32{3, 4}, shared...)
	m := buildMeta(t, numColors, [][]uint32{a, b}, partitionPrefix)

	itA := m.ColorSet(0)
	itB := m.ColorSet(1)
	itA.NextGEQPartitionID(1)
	itB.NextGEQPartitionID(1)
	if itA.MetaColor() != itB.MetaColor() {
		t.Fatalf("meta colors differ in shared partition: %d vs %d",
			itA.MetaColor(), itB.MetaColor())
	}

	got := Intersect(m, []uint64{0, 1})
	if want := shared; !equalU32(got, want) {
		t.Fatalf("intersection: got %v, want %v", got, want)
	}
}

// --- meta-differential ---

func TestMetaDifferential_RoundTripAndIntersection(t *testing.T) {
	const numColors = 120
	partitionPrefix := []uint32{0, 40, 80, 120}
	rng := rand.New(rand.NewSource(33))
	for trial := 0; trial < 10; trial++ {
		n := 3 + rng.Intn(8)
		sets := randomSets(rng, numColors, n)
		md, perm := buildMetaDifferential(t, numColors, sets, partitionPrefix)
		if md.NumColorSets() != uint64(n) {
			t.Fatalf("trial %d: sets: got %d, want %d", trial, md.NumColorSets(), n)
		}
		for newID, oldID := range perm {
			want := sets[oldID]
			it := md.ColorSet(uint64(newID))
			if it.Size() != uint32(len(want)) {
				t.Fatalf("trial %d set %d: size %d, want %d", trial, newID, it.Size(), len(want))
			}
			if got := Decode(md.Iter(uint64(newID))); !equalU32(got, want) {
				t.Fatalf("trial %d set %d: decode mismatch: got %v, want %v",
					trial, newID, got, want)
			}
		}
		ids := make([]uint64, n)
		for i := range ids {
			ids[i] = uint64(i)
		}
		if got, want := Intersect(md, ids), naiveIntersect(sets); !equalU32(got, want) {
			t.Fatalf("trial %d: intersection: got %v, want %v", trial, got, want)
		}
	}
}

// --- threshold union, all stores ---

func TestThresholdUnion_AllStores(t *testing.T) {
	const numColors = 120
	partitionPrefix := []uint32{0, 40, 80, 120}
	rng := rand.New(rand.NewSource(55))
	for trial := 0; trial < 10; trial++ {
		n := 3 + rng.Intn(6)
		sets := randomSets(rng, numColors, n)
		scores := make([]uint32, n)
		total := uint64(0)
		for i := range scores {
			scores[i] = uint32(1 + rng.Intn(5))
			total += uint64(scores[i])
		}
		minScore := uint64(1 + rng.Intn(int(total)))

		want := naiveThresholdUnion(numColors, sets, scores, minScore)
		ids := make([]uint64, n)
		for i := range ids {
			ids[i] = uint64(i)
		}

		h := buildHybrid(t, numColors, sets)
		if got := ThresholdUnion(h, ids, scores, minScore); !equalU32(got, want) {
			t.Fatalf("trial %d hybrid: got %v, want %v", trial, got, want)
		}

		d := buildDifferential(t, numColors, sets, clusterSizesFor(n, rng))
		if got := ThresholdUnion(d, ids, scores, minScore); !equalU32(got, want) {
			t.Fatalf("trial %d differential: got %v, want %v", trial, got, want)
		}

		m := buildMeta(t, numColors, sets, partitionPrefix)
		if got := ThresholdUnion(m, ids, scores, minScore); !equalU32(got, want) {
			t.Fatalf("trial %d meta: got %v, want %v", trial, got, want)
		}

		md, perm := buildMetaDifferential(t, numColors, sets, partitionPrefix)
		permScores := make([]uint32, n)
		permSets := make([][]uint32, n)
		for newID, oldID := range perm {
			permScores[newID] = scores[oldID]
			permSets[newID] = sets[oldID]
		}
		wantMD := naiveThresholdUnion(numColors, permSets, permScores, minScore)
		if got := ThresholdUnion(md, ids, permScores, minScore); !equalU32(got, wantMD) {
			t.Fatalf("trial %d meta-differential: got %v, want %v", trial, got, wantMD)
		}
	}
}

func clusterSizesFor(n int, rng *rand.Rand) []int {
	var out []int
	left := n
	for left > 0 {
		c := 1 + rng.Intn(3)
		if c > left {
			c = left
		}
		out = append(out, c)
		left -= c
	}
	return out
}

// --- serialization ---

func TestStores_SerializationRoundTrip(t *testing.T) {
	const numColors = 90
	rng := rand.New(rand.NewSource(77))
	sets := randomSets(rng, numColors, 9)
	partitionPrefix := []uint32{0, 30, 60, 90}

	stores := []Store{
		buildHybrid(t, numColors, sets),
		buildDifferential(t, numColors, sets, []int{3, 3, 3}),
		buildMeta(t, numColors, sets, partitionPrefix),
	}
	md, _ := buildMetaDifferential(t, numColors, sets, partitionPrefix)
	stores = append(stores, md)

	for _, s := range stores {
		var buf bytes.Buffer
		if err := s.Encode(&buf); err != nil {
			t.Fatalf("%T encode: %v", s, err)
		}
		image := buf.Bytes()

		var got Store
		var err error
		switch s.(type) {
		case *Hybrid:
			g := &Hybrid{}
			err = g.Decode(bytes.NewReader(image))
			got = g
		case *Differential:
			g := &Differential{}
			err = g.Decode(bytes.NewReader(image))
			got = g
		case *Meta:
			g := &Meta{}
			err = g.Decode(bytes.NewReader(image))
			got = g
		case *MetaDifferential:
			g := &MetaDifferential{}
			err = g.Decode(bytes.NewReader(image))
			got = g
		}
		if err != nil {
			t.Fatalf("%T decode: %v", s, err)
		}

		var buf2 bytes.Buffer
		if err := got.Encode(&buf2); err != nil {
			t.Fatalf("%T re-encode: %v", s, err)
		}
		if !bytes.Equal(image, buf2.Bytes()) {
			t.Fatalf("%T: serialized images differ", s)
		}
		for id := uint64(0); id < s.NumColorSets(); id++ {
			if !equalU32(Decode(s.Iter(id)), Decode(got.Iter(id))) {
				t.Fatalf("%T set %d: decode differs after round-trip", s, id)
			}
		}
	}
}
