package fulgor

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/deepteams/fulgor/internal/bitio"
	"github.com/deepteams/fulgor/internal/colorsets"
	"github.com/deepteams/fulgor/internal/dbg"
	"github.com/deepteams/fulgor/internal/succinct"
)

// BuildDifferential re-encodes the color sets of an existing index
// differentially: sets are clustered by sketch similarity, each
// cluster gets a majority-vote representative, and members are stored
// as symmetric differences. Unitigs are rewritten in the new color-set
// order and the dictionary is rebuilt over them.
func BuildDifferential(src *Index, cfg BuildConfig) (*Index, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	cfg.logf("step 1-3. sketch and cluster %d color sets", src.NumColorSets())
	perm, _, err := colorSetPermutation(src.store, cfg)
	if err != nil {
		return nil, err
	}

	cfg.logf("step 4. building differential color sets")
	store, err := encodeDifferentialStore(src.store, perm, cfg)
	if err != nil {
		return nil, err
	}

	cfg.logf("step 5. permute unitigs and rebuild the dictionary")
	oldIDs := make([]uint32, len(perm))
	for newID, p := range perm {
		oldIDs[newID] = p.SetID
	}
	dict, u2c, err := permuteUnitigs(src, oldIDs)
	if err != nil {
		return nil, err
	}

	idx := &Index{dict: dict, u2c: u2c, store: store, filenames: src.filenames}
	if err := idx.validate(); err != nil {
		return nil, err
	}
	if cfg.Check {
		cfg.logf("step 6. check correctness")
		for _, msg := range checkPermutedSets(idx, src, oldIDs, nil) {
			fmt.Fprintln(os.Stderr, msg)
		}
	}
	return idx, nil
}

// encodeDifferentialStore encodes the sets of store in the clustered
// order given by perm. Worker threads cover contiguous runs of whole
// clusters, split by decoded load; their builders are appended in
// order so set ids follow perm.
func encodeDifferentialStore(store colorsets.Store, perm []clusteredSet,
	cfg BuildConfig) (*colorsets.Differential, error) {
	numColors := store.NumColors()

	load := uint64(0)
	for _, p := range perm {
		load += uint64(store.Iter(uint64(p.SetID)).Size())
	}
	loadPerThread := load / uint64(cfg.NumThreads)

	type span struct{ begin, end int }
	var spans []span
	cur := span{}
	acc := uint64(0)
	for i, p := range perm {
		if i > 0 && p.Cluster != perm[i-1].Cluster && acc >= loadPerThread {
			cur.end = i
			spans = append(spans, cur)
			cur = span{begin: i}
			acc = 0
		}
		acc += uint64(store.Iter(uint64(p.SetID)).Size())
	}
	cur.end = len(perm)
	spans = append(spans, cur)

	builders := make([]*colorsets.DifferentialBuilder, len(spans))
	var wg sync.WaitGroup
	for t, s := range spans {
		wg.Add(1)
		go func(t int, s span) {
			defer wg.Done()
			b := colorsets.NewDifferentialBuilder(numColors)
			distribution := make([]uint32, numColors)
			for begin := s.begin; begin < s.end; {
				end := begin + 1
				for end < s.end && perm[end].Cluster == perm[begin].Cluster {
					end++
				}
				// Majority-vote representative of the cluster.
				for i := begin; i < end; i++ {
					it := store.Iter(uint64(perm[i].SetID))
					for v := it.Value(); v < numColors; {
						distribution[v]++
						it.Next()
						v = it.Value()
					}
				}
				quorum := uint32((end - begin + 1) / 2)
				var rep []uint32
				for c := uint32(0); c < numColors; c++ {
					if distribution[c] >= quorum {
						rep = append(rep, c)
					}
					distribution[c] = 0
				}
				b.EncodeRepresentative(rep)
				for i := begin; i < end; i++ {
					set := colorsets.Decode(store.Iter(uint64(perm[i].SetID)))
					b.EncodeSet(uint64(perm[i].Cluster), rep, set)
				}
				begin = end
			}
			builders[t] = b
		}(t, s)
	}
	wg.Wait()

	for _, b := range builders[1:] {
		builders[0].Append(b)
	}
	return builders[0].Build(), nil
}

// permuteUnitigs rewrites the unitigs in the color-set order given by
// oldIDs (oldIDs[new] = old set id), rebuilds the dictionary over
// them, and rebuilds u2c as a run-end bit vector over the new order.
func permuteUnitigs(src *Index, oldIDs []uint32) (*dbg.Dictionary, *succinct.RankedBitVector, error) {
	numUnitigs := src.NumUnitigs()
	u2cWriter := bitio.NewWriter(numUnitigs)
	u2cWriter.Resize(numUnitigs)

	unitigs := make([][]byte, 0, numUnitigs)
	pos := uint64(0)
	for _, oldID := range oldIDs {
		begin := uint64(0)
		if oldID > 0 {
			begin = src.u2c.Select1(uint64(oldID)-1) + 1
		}
		end := src.u2c.Select1(uint64(oldID)) + 1
		for i := begin; i != end; i++ {
			unitigs = append(unitigs, src.dict.ContigSequence(i))
		}
		pos += end - begin
		u2cWriter.Set(pos-1, true)
	}
	if pos != numUnitigs {
		return nil, nil, fmt.Errorf("fulgor: permuted %d of %d unitigs", pos, numUnitigs)
	}

	dict, err := dbg.BuildDictionary(unitigs, src.K(), src.M())
	if err != nil {
		return nil, nil, fmt.Errorf("fulgor: rebuilding dictionary: %w", err)
	}
	return dict, succinct.NewRankedBitVector(u2cWriter), nil
}

// checkPermutedSets verifies every decoded set of idx against the
// source set it was derived from. When refPerm is non-nil the source
// values are mapped through it (a reference permutation) before
// comparison; oldIDs maps new set ids to source set ids (nil for the
// identity).
func checkPermutedSets(idx, src *Index, oldIDs []uint32, refPerm []uint32) []string {
	var msgs []string
	for newID := uint64(0); newID < idx.NumColorSets(); newID++ {
		srcID := newID
		if oldIDs != nil {
			srcID = uint64(oldIDs[newID])
		}
		want := colorsets.Decode(src.store.Iter(srcID))
		if refPerm != nil {
			for i, v := range want {
				want[i] = refPerm[v]
			}
			sortU32(want)
		}
		got := colorsets.Decode(idx.store.Iter(newID))
		if len(got) != len(want) {
			msgs = append(msgs, fmt.Sprintf(
				"error while checking color %d, different sizes: expected %d but got %d",
				newID, len(want), len(got)))
			continue
		}
		for i := range got {
			if got[i] != want[i] {
				msgs = append(msgs, fmt.Sprintf(
					"error while checking color %d, mismatch at position %d: expected %d but got %d",
					newID, i, want[i], got[i]))
				break
			}
		}
	}
	return msgs
}

func sortU32(s []uint32) {
	sort.Slice(s, func(a, b int) bool { return s[a] < s[b] })
}
