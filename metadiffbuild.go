package fulgor

import (
	"fmt"
	"os"
	"sort"

	"github.com/deepteams/fulgor/internal/colorsets"
)

// BuildMetaDifferential re-encodes a meta index with differential
// partials: each partition's partial sets are clustered and stored as
// symmetric differences, and the meta-color lists are compressed by
// extracting the distinct partition-id lists, stored once, with
// per-set relative colors. Color sets are permuted so equal partition
// lists are adjacent; unitigs are rewritten accordingly.
func BuildMetaDifferential(src *Index, cfg BuildConfig) (*Index, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	meta, ok := src.store.(*colorsets.Meta)
	if !ok {
		return nil, fmt.Errorf("fulgor: meta-differential build requires a meta index, got %s",
			src.Kind().Extension())
	}
	numPartitions := meta.NumPartitions()
	numColorSets := src.NumColorSets()

	cfg.logf("step 2. building differential partial color sets (%d partitions)", numPartitions)
	builder := colorsets.NewMetaDifferentialBuilder(src.NumColors(), numPartitions)
	partialPerm := make([][]uint32, numPartitions)
	for p, partial := range meta.Partials() {
		perm, _, err := colorSetPermutation(partial, cfg)
		if err != nil {
			return nil, err
		}
		store, err := encodeDifferentialStore(partial, perm, cfg)
		if err != nil {
			return nil, err
		}
		builder.ProcessPartition(store)
		partialPerm[p] = make([]uint32, len(perm))
		for newLocal, pr := range perm {
			partialPerm[p][pr.SetID] = uint32(newLocal)
		}
	}

	cfg.logf("step 5. build meta color sets over partition sets")
	type setEntry struct {
		partitions []uint64
		relatives  []uint64
	}
	entries := make([]setEntry, numColorSets)
	for id := uint64(0); id < numColorSets; id++ {
		it := meta.ColorSet(id)
		n := it.MetaColorSetLen()
		e := &entries[id]
		e.partitions = make([]uint64, 0, n)
		e.relatives = make([]uint64, 0, n)
		for j := uint32(0); j < n; j++ {
			p := it.PartitionID()
			oldLocal := it.MetaColor() - it.NumColorSetsBefore()
			e.partitions = append(e.partitions, uint64(p))
			e.relatives = append(e.relatives, uint64(partialPerm[p][oldLocal]))
			it.NextPartitionID()
		}
	}

	// Group color sets with equal partition lists.
	oldIDs := make([]uint32, numColorSets)
	for i := range oldIDs {
		oldIDs[i] = uint32(i)
	}
	sort.SliceStable(oldIDs, func(a, b int) bool {
		pa, pb := entries[oldIDs[a]].partitions, entries[oldIDs[b]].partitions
		for i := 0; i < len(pa) && i < len(pb); i++ {
			if pa[i] != pb[i] {
				return pa[i] < pb[i]
			}
		}
		return len(pa) < len(pb)
	})

	seen := make(map[string]uint64)
	var distinct [][]uint64
	for _, oldID := range oldIDs {
		ps := entries[oldID].partitions
		key := partitionListKey(ps)
		if _, ok := seen[key]; !ok {
			seen[key] = uint64(len(distinct))
			distinct = append(distinct, ps)
		}
	}
	builder.InitPartitionSets(uint64(len(distinct)))
	for _, ps := range distinct {
		builder.ProcessPartitionSet(ps)
	}
	for _, oldID := range oldIDs {
		e := &entries[oldID]
		builder.ProcessMetaColorSet(seen[partitionListKey(e.partitions)],
			e.partitions, e.relatives)
	}

	cfg.logf("step 6. permute unitigs and rebuild the dictionary")
	dict, u2c, err := permuteUnitigs(src, oldIDs)
	if err != nil {
		return nil, err
	}

	idx := &Index{dict: dict, u2c: u2c, store: builder.Build(), filenames: src.filenames}
	if err := idx.validate(); err != nil {
		return nil, err
	}
	if cfg.Check {
		cfg.logf("step 7. check correctness")
		// The decoded iterator contents are authoritative; mismatches
		// are reported and checking continues.
		for _, msg := range checkPermutedSets(idx, src, oldIDs, nil) {
			fmt.Fprintln(os.Stderr, msg)
		}
	}
	return idx, nil
}

func partitionListKey(ps []uint64) string {
	b := make([]byte, 0, 2*len(ps))
	for _, p := range ps {
		b = append(b, byte(p), byte(p>>8))
	}
	return string(b)
}
