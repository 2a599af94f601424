package fulgor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/deepteams/fulgor/internal/colorsets"
	"github.com/deepteams/fulgor/internal/serial"
	"github.com/deepteams/fulgor/internal/sketch"
)

// sketchBytesLog2 selects 2^p bytes per HLL sketch.
const sketchBytesLog2 = 10

// PermutedReferenceNames clusters the references of an index by
// color-set similarity and returns their names in the clustered
// order, for re-building the collection with similar references
// adjacent.
func PermutedReferenceNames(idx *Index, cfg BuildConfig) ([]string, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	perm, _, err := referencePermutation(idx, cfg)
	if err != nil {
		return nil, err
	}
	names := make([]string, idx.NumColors())
	for old := uint64(0); old < idx.NumColors(); old++ {
		names[perm[old]] = idx.Filename(old)
	}
	return names, nil
}

// referencePermutation clusters references by the similarity of their
// color-set membership and returns a permutation placing similar
// references contiguously, plus the cluster (partition) size prefix
// sums. perm[old] = new.
func referencePermutation(idx *Index, cfg BuildConfig) (perm []uint32, partitionPrefix []uint32, err error) {
	numColors := idx.NumColors()
	path := filepath.Join(cfg.TmpDir, "sketches.bin")
	if err := writeReferenceSketches(idx, sketchBytesLog2, cfg.NumThreads, path); err != nil {
		return nil, nil, err
	}
	points, _, err := readSketchFile(path)
	if err != nil {
		return nil, nil, err
	}
	os.Remove(path)

	clustering := sketch.ClusterDivisive(points, sketch.ClusteringParams{
		MinDelta:       1e-4,
		MaxIterations:  10,
		MinClusterSize: 50,
	})
	if clustering.NumClusters == 0 {
		return nil, nil, errors.New("fulgor: clustering produced zero clusters (reduce thread count)")
	}

	partitionPrefix = make([]uint32, clustering.NumClusters+1)
	for _, c := range clustering.Labels {
		partitionPrefix[c+1]++
	}
	for i := 1; i < len(partitionPrefix); i++ {
		partitionPrefix[i] += partitionPrefix[i-1]
	}

	counts := append([]uint32(nil), partitionPrefix[:clustering.NumClusters]...)
	perm = make([]uint32, numColors)
	for i := uint64(0); i != numColors; i++ {
		c := clustering.Labels[i]
		perm[i] = counts[c]
		counts[c]++
	}
	return perm, partitionPrefix, nil
}

// clusteredSet pairs a color-set id with the cluster the permuter
// assigned it to; a permutation is a slice of these in new-id order.
type clusteredSet struct {
	Cluster uint32
	SetID   uint32
}

// colorSetPermutation clusters the color sets of a store by sketch
// similarity, slicing them by size first so that sets of very
// different densities never share a cluster. The result lists sets in
// their new order together with their cluster ids.
func colorSetPermutation(store colorsets.Store, cfg BuildConfig) ([]clusteredSet, uint64, error) {
	slices := []float64{0, 0.25, 0.5, 0.75, 1}
	numSlices := len(slices) - 1

	type sliceResult struct {
		ids        []uint64
		clustering sketch.Clustering
	}
	results := make([]sliceResult, numSlices)
	for sliceID := 0; sliceID < numSlices; sliceID++ {
		path := filepath.Join(cfg.TmpDir, fmt.Sprintf("sketches%d.bin", sliceID))
		ids, err := writeColorSetSketches(store, sketchBytesLog2, cfg.NumThreads, path,
			slices[sliceID], slices[sliceID+1])
		if err != nil {
			return nil, 0, err
		}
		points, _, err := readSketchFile(path)
		if err != nil {
			return nil, 0, err
		}
		os.Remove(path)
		results[sliceID] = sliceResult{
			ids: ids,
			clustering: sketch.ClusterDivisive(points, sketch.ClusteringParams{
				MinDelta:      1e-4,
				MaxIterations: 10,
			}),
		}
	}

	numPartitions := uint64(0)
	numSets := uint64(0)
	for _, r := range results {
		numPartitions += uint64(r.clustering.NumClusters)
		numSets += uint64(len(r.ids))
	}
	if numSets != store.NumColorSets() {
		return nil, 0, fmt.Errorf("fulgor: sketch slices cover %d of %d color sets",
			numSets, store.NumColorSets())
	}

	// Counting sort per slice: sets of one cluster stay in encounter
	// order, clusters are numbered across slices.
	out := make([]clusteredSet, 0, numSets)
	clusterBase := uint32(0)
	for _, r := range results {
		perCluster := make([][]uint64, r.clustering.NumClusters)
		for i, id := range r.ids {
			c := r.clustering.Labels[i]
			perCluster[c] = append(perCluster[c], id)
		}
		for c, ids := range perCluster {
			for _, id := range ids {
				out = append(out, clusteredSet{Cluster: clusterBase + uint32(c), SetID: uint32(id)})
			}
		}
		clusterBase += uint32(r.clustering.NumClusters)
	}
	return out, numPartitions, nil
}

// writeReferenceSketches sketches each reference over the color sets
// containing it and serializes the registers, one temporary file for
// the whole run. Worker threads cover disjoint color-set ranges split
// by decoded load and merge their sketches at the end.
func writeReferenceSketches(idx *Index, p uint, numThreads int, path string) error {
	numColors := idx.NumColors()
	numColorSets := idx.NumColorSets()
	if numColorSets < uint64(numThreads) {
		numThreads = 1
	}

	slices := loadSlices(idx.store, numColorSets, numThreads)
	threadSketches := make([][]*sketch.HLL, len(slices))
	var wg sync.WaitGroup
	for t := range slices {
		wg.Add(1)
		go func(t int) {
			defer wg.Done()
			sketches := make([]*sketch.HLL, numColors)
			for i := range sketches {
				sketches[i] = sketch.NewHLL(p)
			}
			for id := slices[t].begin; id < slices[t].end; id++ {
				it := idx.store.Iter(id)
				numColors := it.NumColors()
				for v := it.Value(); v < numColors; {
					sketches[v].Add(id)
					it.Next()
					v = it.Value()
				}
			}
			threadSketches[t] = sketches
		}(t)
	}
	wg.Wait()

	merged := threadSketches[0]
	for _, other := range threadSketches[1:] {
		for i := range merged {
			merged[i].Merge(other[i])
		}
	}
	return writeSketchFile(path, merged, nil)
}

// writeColorSetSketches sketches every color set whose relative size
// lies in [lowFrac, highFrac) — the last slice includes 1.0 — and
// returns the covered set ids in order.
func writeColorSetSketches(store colorsets.Store, p uint, numThreads int, path string,
	lowFrac, highFrac float64) ([]uint64, error) {
	numColors := float64(store.NumColors())
	var ids []uint64
	for id := uint64(0); id < store.NumColorSets(); id++ {
		frac := float64(store.Iter(id).Size()) / numColors
		if frac >= lowFrac && (frac < highFrac || highFrac == 1) {
			ids = append(ids, id)
		}
	}
	if len(ids) < numThreads {
		numThreads = 1
	}

	sketches := make([]*sketch.HLL, len(ids))
	var wg sync.WaitGroup
	chunk := (len(ids) + numThreads - 1) / numThreads
	for t := 0; t < numThreads; t++ {
		begin := t * chunk
		end := min(begin+chunk, len(ids))
		if begin >= end {
			break
		}
		wg.Add(1)
		go func(begin, end int) {
			defer wg.Done()
			for i := begin; i < end; i++ {
				h := sketch.NewHLL(p)
				it := store.Iter(ids[i])
				numColors := it.NumColors()
				for v := it.Value(); v < numColors; {
					h.Add(uint64(v))
					it.Next()
					v = it.Value()
				}
				sketches[i] = h
			}
		}(begin, end)
	}
	wg.Wait()

	return ids, writeSketchFile(path, sketches, ids)
}

type loadSlice struct{ begin, end uint64 }

// loadSlices splits [0, numSets) into one contiguous range per thread
// with roughly equal decoded sizes.
func loadSlices(store colorsets.Store, numSets uint64, numThreads int) []loadSlice {
	load := uint64(0)
	for id := uint64(0); id < numSets; id++ {
		load += uint64(store.Iter(id).Size())
	}
	perThread := load / uint64(numThreads)
	var out []loadSlice
	cur := loadSlice{}
	acc := uint64(0)
	for id := uint64(0); id < numSets; id++ {
		acc += uint64(store.Iter(id).Size())
		if acc >= perThread && len(out) < numThreads-1 {
			cur.end = id + 1
			out = append(out, cur)
			cur = loadSlice{begin: id + 1}
			acc = 0
		}
	}
	cur.end = numSets
	out = append(out, cur)
	return out
}

// writeSketchFile serializes sketches: bytes-per-point, point-count and
// has-ids headers, optional point ids, then the raw registers.
func writeSketchFile(path string, sketches []*sketch.HLL, ids []uint64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	numBytes := uint64(0)
	if len(sketches) > 0 {
		numBytes = uint64(len(sketches[0].Registers()))
	}
	if err := serial.WriteU64(w, numBytes); err != nil {
		return err
	}
	if err := serial.WriteU64(w, uint64(len(sketches))); err != nil {
		return err
	}
	hasIDs := uint64(0)
	if ids != nil {
		hasIDs = 1
	}
	if err := serial.WriteU64(w, hasIDs); err != nil {
		return err
	}
	if ids != nil {
		for _, id := range ids {
			if err := serial.WriteU64(w, id); err != nil {
				return err
			}
		}
	}
	for _, h := range sketches {
		if _, err := w.Write(h.Registers()); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Close()
}

// readSketchFile loads a sketch file as clustering points.
func readSketchFile(path string) ([][]float64, []uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	r := bufio.NewReader(f)
	numBytes, err := serial.ReadU64(r)
	if err != nil {
		return nil, nil, err
	}
	numPoints, err := serial.ReadU64(r)
	if err != nil {
		return nil, nil, err
	}
	hasIDs, err := serial.ReadU64(r)
	if err != nil {
		return nil, nil, err
	}
	var ids []uint64
	if hasIDs == 1 {
		ids = make([]uint64, numPoints)
		for i := range ids {
			if ids[i], err = serial.ReadU64(r); err != nil {
				return nil, nil, err
			}
		}
	}
	points := make([][]float64, numPoints)
	buf := make([]byte, numBytes)
	for i := range points {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, nil, err
		}
		point := make([]float64, numBytes)
		for j, b := range buf {
			point[j] = float64(b)
		}
		points[i] = point
	}
	return points, ids, nil
}
