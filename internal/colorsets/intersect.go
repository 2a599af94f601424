package colorsets

import "sort"

// Intersect returns the intersection of the given color sets, sorted
// ascending, using the layout-specific algorithm of the store.
func Intersect(s Store, ids []uint64) []uint32 {
	if len(ids) == 0 {
		return nil
	}
	switch st := s.(type) {
	case *Hybrid:
		its := make([]*HybridIterator, len(ids))
		for i, id := range ids {
			its[i] = st.ColorSet(id)
		}
		return IntersectHybrid(its)
	case *Differential:
		its := make([]*DifferentialIterator, len(ids))
		for i, id := range ids {
			its[i] = st.ColorSet(id)
		}
		return IntersectDifferential(its, 0)
	case *Meta:
		its := make([]*MetaIterator, len(ids))
		for i, id := range ids {
			its[i] = st.ColorSet(id)
		}
		return IntersectMeta(its)
	case *MetaDifferential:
		its := make([]*MetaDiffIterator, len(ids))
		for i, id := range ids {
			its[i] = st.ColorSet(id)
		}
		return IntersectMetaDifferential(its)
	}
	return nil
}

// nextGeqIntersect runs leap-frog intersection over sorted iterators:
// the first iterator proposes candidates, the others catch up with
// NextGEQ; a full match emits. Terminates when the candidate reaches
// numColors.
func nextGeqIntersect[T Iterator](its []T, numColors uint32, out []uint32) []uint32 {
	candidate := its[0].Value()
	i := 1
	for candidate < numColors {
		for ; i != len(its); i++ {
			its[i].NextGEQ(candidate)
			val := its[i].Value()
			if val != candidate {
				candidate = val
				i = 0
				break
			}
		}
		if i == len(its) {
			out = append(out, candidate)
			its[0].Next()
			candidate = its[0].Value()
			i = 1
		}
	}
	return out
}

// IntersectHybrid intersects hybrid iterators. Complemented sets are
// not decoded: if every set is complemented the union of complements
// is complemented once at the end; otherwise the very dense sets mask
// a presence bitmap consulted on each candidate.
func IntersectHybrid(its []*HybridIterator) []uint32 {
	if len(its) == 0 {
		return nil
	}
	sort.SliceStable(its, func(a, b int) bool { return its[a].Size() < its[b].Size() })

	numColors := its[0].NumColors()
	numSparse := 0
	for numSparse != len(its) && its[numSparse].Encoding() != encComplementDeltaGaps {
		numSparse++
	}

	var colors []uint32

	if numSparse == 0 {
		// Union the complements, then emit the complement of the union.
		for _, it := range its {
			it.ReinitForComplement()
		}
		candidate := its[0].CompValue()
		for _, it := range its[1:] {
			if v := it.CompValue(); v < candidate {
				candidate = v
			}
		}
		complementUnion := make([]uint32, 0, numColors)
		for candidate < numColors {
			nextCandidate := numColors
			for _, it := range its {
				if it.CompValue() == candidate {
					it.NextComp()
				}
				if it.CompValue() < nextCandidate {
					nextCandidate = it.CompValue()
				}
			}
			complementUnion = append(complementUnion, candidate)
			candidate = nextCandidate
		}
		candidate = 0
		for _, v := range complementUnion {
			for candidate < v {
				colors = append(colors, candidate)
				candidate++
			}
			candidate++ // candidate == v, skip it
		}
		for candidate < numColors {
			colors = append(colors, candidate)
			candidate++
		}
		return colors
	}

	present := make([]bool, numColors)
	for i := range present {
		present[i] = true
	}
	for _, it := range its[numSparse:] {
		it.ReinitForComplement()
		for it.CompValue() < numColors {
			present[it.CompValue()] = false
			it.NextComp()
		}
	}

	candidate := its[0].Value()
	i := 1
	for candidate < numColors {
		for ; i != numSparse; i++ {
			its[i].NextGEQ(candidate)
			val := its[i].Value()
			if val != candidate {
				candidate = val
				i = 0
				break
			}
		}
		if i == numSparse {
			if present[candidate] {
				colors = append(colors, candidate)
			}
			its[0].Next()
			candidate = its[0].Value()
			i = 1
		}
	}
	return colors
}

// IntersectDifferential intersects differential iterators by cluster
// voting: within a cluster, a reference belongs to the bucket
// intersection iff it is in the representative and no listing names it,
// or it is in every listing and not in the representative. The
// per-bucket results are then leap-frogged. Emitted values are shifted
// by lowerBound.
func IntersectDifferential(its []*DifferentialIterator, lowerBound uint32) []uint32 {
	if len(its) == 0 {
		return nil
	}
	numColors := its[0].NumColors()

	sort.SliceStable(its, func(a, b int) bool {
		return its[a].RepresentativeBegin() < its[b].RepresentativeBegin()
	})

	numBuckets := 1
	prev := its[0].RepresentativeBegin()
	for _, it := range its {
		if rb := it.RepresentativeBegin(); rb != prev {
			prev = rb
			numBuckets++
		}
	}

	buckets := make([][]uint32, numBuckets)
	counts := make([]uint32, numColors)
	bucketID := 0
	bucketSize := uint32(0)
	for i, it := range its {
		bucketSize++
		lastInBucket := i+1 == len(its) ||
			its[i+1].RepresentativeBegin() != it.RepresentativeBegin()

		if bucketSize == 1 && lastInBucket {
			// Single iterator in the bucket: decode the set directly.
			for v := it.Value(); v < numColors; {
				buckets[bucketID] = append(buckets[bucketID], v)
				it.Next()
				v = it.Value()
			}
			bucketID++
			bucketSize = 0
			continue
		}

		it.FullRewind()
		for v := it.DifferentialVal(); v != numColors; {
			counts[v]++
			it.NextDifferentialVal()
			v = it.DifferentialVal()
		}

		if lastInBucket {
			it.FullRewind()
			val := it.RepresentativeVal()
			for color := uint32(0); color < numColors; color++ {
				if val < color {
					it.NextRepresentativeVal()
					val = it.RepresentativeVal()
				}
				if (counts[color] == bucketSize && val != color) ||
					(counts[color] == 0 && val == color) {
					buckets[bucketID] = append(buckets[bucketID], color)
				}
			}
			bucketID++
			bucketSize = 0
			for i := range counts {
				counts[i] = 0
			}
		}
	}

	sort.SliceStable(buckets, func(a, b int) bool { return len(buckets[a]) < len(buckets[b]) })

	var colors []uint32
	cursors := make([]int, numBuckets)
	for i := range buckets {
		if len(buckets[i]) == 0 {
			return nil
		}
	}

	candidate := buckets[0][0]
	i := 1
	for candidate < numColors {
		for ; i != numBuckets; i++ {
			for cursors[i] != len(buckets[i]) && buckets[i][cursors[i]] < candidate {
				cursors[i]++
			}
			if cursors[i] == len(buckets[i]) {
				candidate = numColors
				break
			}
			val := buckets[i][cursors[i]]
			if val != candidate {
				candidate = val
				i = 0
				break
			}
		}
		if i == numBuckets {
			colors = append(colors, candidate+lowerBound)
			cursors[0]++
			if cursors[0] == len(buckets[0]) {
				break
			}
			candidate = buckets[0][cursors[0]]
			i = 1
		}
	}
	return colors
}

// IntersectMeta intersects meta iterators: first the partition-id
// sequences are leap-frogged, then each common partition is resolved.
// When every iterator carries the same meta color, the whole partial
// set is emitted once without inner iteration; otherwise the partial
// sets of the meta-color-deduplicated iterators are leap-frogged with
// NextGEQ.
func IntersectMeta(its []*MetaIterator) []uint32 {
	if len(its) == 0 {
		return nil
	}
	sort.SliceStable(its, func(a, b int) bool {
		return its[a].MetaColorSetLen() < its[b].MetaColorSetLen()
	})

	partitionIDs := commonPartitions(its)

	var colors []uint32
	for _, it := range its {
		it.Init()
		it.ChangePartition()
	}
	for _, partitionID := range partitionIDs {
		sameMetaColor := true
		front := its[0]
		front.NextGEQPartitionID(partitionID)
		front.UpdatePartition()
		metaColor := front.MetaColor()

		for _, it := range its[1:] {
			it.NextGEQPartitionID(partitionID)
			it.UpdatePartition()
			if it.MetaColor() != metaColor {
				sameMetaColor = false
			}
		}

		if sameMetaColor {
			// Identical partial set everywhere: emit it once.
			for front.HasNext() {
				colors = append(colors, front.Value())
				front.NextInPartition()
			}
			continue
		}

		sort.SliceStable(its, func(a, b int) bool {
			if its[a].PartialSetSize() != its[b].PartialSetSize() {
				return its[a].PartialSetSize() < its[b].PartialSetSize()
			}
			return its[a].MetaColor() < its[b].MetaColor()
		})
		backPos := 0
		for curr := 1; curr < len(its); curr++ {
			if its[curr].MetaColor() != its[backPos].MetaColor() {
				backPos++
				its[backPos], its[curr] = its[curr], its[backPos]
			}
		}
		deduped := its[:backPos+1]
		colors = nextGeqIntersect(deduped, its[0].PartitionMaxColor(), colors)
	}
	return colors
}

// IntersectMetaDifferential is IntersectMeta with differential
// partials: the deduplicated inner iterators run the cluster-voting
// intersection shifted to the partition's reference range.
func IntersectMetaDifferential(its []*MetaDiffIterator) []uint32 {
	if len(its) == 0 {
		return nil
	}
	sort.SliceStable(its, func(a, b int) bool {
		return its[a].MetaColorSetLen() < its[b].MetaColorSetLen()
	})

	partitionIDs := commonPartitionsMD(its)

	var colors []uint32
	for _, it := range its {
		it.Init()
		it.ChangePartition()
	}
	for _, partitionID := range partitionIDs {
		sameMetaColor := true
		front := its[0]
		front.NextGEQPartitionID(partitionID)
		front.UpdatePartition()
		metaColor := front.MetaColor()

		for _, it := range its[1:] {
			it.NextGEQPartitionID(partitionID)
			it.UpdatePartition()
			if it.MetaColor() != metaColor {
				sameMetaColor = false
			}
		}

		if sameMetaColor {
			for front.HasNext() {
				colors = append(colors, front.Value())
				front.NextInPartition()
			}
			continue
		}

		sort.SliceStable(its, func(a, b int) bool {
			if its[a].PartialSetSize() != its[b].PartialSetSize() {
				return its[a].PartialSetSize() < its[b].PartialSetSize()
			}
			return its[a].MetaColor() < its[b].MetaColor()
		})
		backPos := 0
		for curr := 1; curr < len(its); curr++ {
			if its[curr].MetaColor() != its[backPos].MetaColor() {
				backPos++
				its[backPos], its[curr] = its[curr], its[backPos]
			}
		}
		diffIts := make([]*DifferentialIterator, backPos+1)
		for i := range diffIts {
			diffIts[i] = its[i].PartitionIt()
		}
		lowerBound := its[0].PartitionMaxColor() - diffIts[0].NumColors()
		colors = append(colors, IntersectDifferential(diffIts, lowerBound)...)
	}
	return colors
}

// commonPartitions leap-frogs the partition-id sequences of meta
// iterators, returning the partitions present in all of them.
func commonPartitions(its []*MetaIterator) []uint32 {
	numPartitions := uint32(its[0].NumPartitions())
	var partitionIDs []uint32
	candidate := its[0].PartitionID()
	i := 1
	for candidate < numPartitions {
		for ; i != len(its); i++ {
			its[i].NextGEQPartitionID(candidate)
			val := its[i].PartitionID()
			if val != candidate {
				candidate = val
				i = 0
				break
			}
		}
		if i == len(its) {
			partitionIDs = append(partitionIDs, candidate)
			its[0].NextPartitionID()
			candidate = its[0].PartitionID()
			i = 1
		}
	}
	return partitionIDs
}

func commonPartitionsMD(its []*MetaDiffIterator) []uint32 {
	numPartitions := uint32(its[0].NumPartitions())
	var partitionIDs []uint32
	candidate := its[0].PartitionID()
	i := 1
	for candidate < numPartitions {
		for ; i != len(its); i++ {
			its[i].NextGEQPartitionID(candidate)
			val := its[i].PartitionID()
			if val != candidate {
				candidate = val
				i = 0
				break
			}
		}
		if i == len(its) {
			partitionIDs = append(partitionIDs, candidate)
			its[0].NextPartitionID()
			candidate = its[0].PartitionID()
			i = 1
		}
	}
	return partitionIDs
}
