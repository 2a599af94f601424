package fulgor

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/deepteams/fulgor/internal/colorsets"
)

// BuildMeta re-encodes the color sets of an existing index two-level:
// references are clustered by sketch similarity and permuted so each
// cluster becomes a contiguous partition, then every color set is
// split into per-partition partial sets, deduplicated per partition,
// and stored as a meta-color list. The dictionary and u2c are reused
// unchanged; the filename table is permuted.
func BuildMeta(src *Index, cfg BuildConfig) (*Index, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	cfg.logf("step 1-3. sketch and cluster %d references", src.NumColors())
	refPerm, partitionPrefix, err := referencePermutation(src, cfg)
	if err != nil {
		return nil, err
	}
	numPartitions := len(partitionPrefix) - 1
	cfg.logf("num partitions = %d", numPartitions)

	cfg.logf("step 4. building partial/meta color sets")
	numColorSets := src.NumColorSets()
	builder := colorsets.NewMetaBuilder(src.NumColors(), uint64(numPartitions))
	for p := 0; p < numPartitions; p++ {
		builder.InitPartition(uint64(p), uint64(partitionPrefix[p+1]-partitionPrefix[p]))
	}

	// Per-partition dedup: many workers hash partial sets in parallel,
	// only the insert path takes the writer lock.
	type partitionDedup struct {
		mu     sync.RWMutex
		locals map[string]uint32
	}
	dedup := make([]*partitionDedup, numPartitions)
	for p := range dedup {
		dedup[p] = &partitionDedup{locals: make(map[string]uint32)}
	}

	type metaRef struct{ partition, local uint32 }
	metaLists := make([][]metaRef, numColorSets)

	resolve := func(p uint32, partial []uint32) uint32 {
		key := partialKey(partial)
		d := dedup[p]
		d.mu.RLock()
		local, ok := d.locals[key]
		d.mu.RUnlock()
		if ok {
			return local
		}
		d.mu.Lock()
		defer d.mu.Unlock()
		if local, ok = d.locals[key]; ok {
			return local
		}
		local = uint32(len(d.locals))
		d.locals[key] = local
		builder.EncodePartialSet(uint64(p), partial)
		return local
	}

	var wg sync.WaitGroup
	chunk := (numColorSets + uint64(cfg.NumThreads) - 1) / uint64(cfg.NumThreads)
	for begin := uint64(0); begin < numColorSets; begin += chunk {
		end := min(begin+chunk, numColorSets)
		wg.Add(1)
		go func(begin, end uint64) {
			defer wg.Done()
			var permuted []uint32
			for id := begin; id < end; id++ {
				permuted = permuted[:0]
				it := src.store.Iter(id)
				universe := it.NumColors()
				for v := it.Value(); v < universe; {
					permuted = append(permuted, refPerm[v])
					it.Next()
					v = it.Value()
				}
				sort.Slice(permuted, func(a, b int) bool { return permuted[a] < permuted[b] })

				p := uint32(0)
				var partial []uint32
				flush := func() {
					if len(partial) == 0 {
						return
					}
					local := resolve(p, partial)
					metaLists[id] = append(metaLists[id], metaRef{p, local})
					partial = partial[:0]
				}
				for _, v := range permuted {
					for v >= partitionPrefix[p+1] {
						flush()
						p++
					}
					partial = append(partial, v-partitionPrefix[p])
				}
				flush()
			}
		}(begin, end)
	}
	wg.Wait()

	numSetsIn := make([]uint32, numPartitions)
	before := make([]uint32, numPartitions)
	totalPartials := uint64(0)
	numIntegers := numColorSets
	for p := 0; p < numPartitions; p++ {
		before[p] = uint32(totalPartials)
		numSetsIn[p] = uint32(len(dedup[p].locals))
		totalPartials += uint64(numSetsIn[p])
	}
	for _, list := range metaLists {
		numIntegers += uint64(len(list))
	}
	builder.InitMetaColorSets(numIntegers, totalPartials, partitionPrefix, numSetsIn)
	var metaColors []uint32
	for _, list := range metaLists {
		metaColors = metaColors[:0]
		for _, ref := range list {
			metaColors = append(metaColors, before[ref.partition]+ref.local)
		}
		builder.EncodeMetaColorSet(metaColors)
	}

	cfg.logf("step 5-6. reuse u2c and dictionary, permute filenames")
	names := make([]string, src.NumColors())
	for old := uint64(0); old < src.NumColors(); old++ {
		names[refPerm[old]] = src.Filename(old)
	}

	idx := &Index{
		dict:      src.dict,
		u2c:       src.u2c,
		store:     builder.Build(),
		filenames: NewFilenameTable(names),
	}
	if err := idx.validate(); err != nil {
		return nil, err
	}
	if cfg.Check {
		cfg.logf("step 7. check correctness")
		for _, msg := range checkPermutedSets(idx, src, nil, refPerm) {
			fmt.Fprintln(os.Stderr, msg)
		}
	}
	return idx, nil
}

// partialKey serializes a partial set as a map key.
func partialKey(partial []uint32) string {
	b := make([]byte, 0, 4*len(partial))
	for _, v := range partial {
		b = append(b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
	}
	return string(b)
}
