package colorsets

import "sort"

// Scored pairs an iterator with the number of k-mer hits credited to
// its color set.
type Scored[T any] struct {
	It    T
	Score uint32
}

// ThresholdUnion returns every reference whose accumulated score over
// the given color sets reaches minScore, using the layout-specific
// merge of the store. scores[i] is the hit count of ids[i].
func ThresholdUnion(s Store, ids []uint64, scores []uint32, minScore uint64) []uint32 {
	if len(ids) == 0 {
		return nil
	}
	switch st := s.(type) {
	case *Hybrid:
		its := make([]Scored[*HybridIterator], len(ids))
		for i, id := range ids {
			its[i] = Scored[*HybridIterator]{It: st.ColorSet(id), Score: scores[i]}
		}
		return MergeHybrid(its, int64(minScore))
	case *Differential:
		its := make([]Scored[*DifferentialIterator], len(ids))
		for i, id := range ids {
			its[i] = Scored[*DifferentialIterator]{It: st.ColorSet(id), Score: scores[i]}
		}
		return MergeDifferential(its, minScore)
	case *Meta:
		its := make([]Scored[*MetaIterator], len(ids))
		for i, id := range ids {
			its[i] = Scored[*MetaIterator]{It: st.ColorSet(id), Score: scores[i]}
		}
		return MergeMeta(its, minScore)
	case *MetaDifferential:
		its := make([]Scored[*MetaDiffIterator], len(ids))
		for i, id := range ids {
			its[i] = Scored[*MetaDiffIterator]{It: st.ColorSet(id), Score: scores[i]}
		}
		return MergeMetaDifferential(its, minScore)
	}
	return nil
}

// MergeHybrid accumulates per-reference scores. Complemented sets are
// scored implicitly: their score joins every reference, the threshold
// drops by it, and only the absent references are subtracted.
func MergeHybrid(its []Scored[*HybridIterator], minScore int64) []uint32 {
	if len(its) == 0 {
		return nil
	}
	numColors := its[0].It.NumColors()
	scores := make([]int64, numColors)
	for _, s := range its {
		it := s.It
		if it.Encoding() == encComplementDeltaGaps {
			it.ReinitForComplement()
			minScore -= int64(s.Score)
			for it.CompValue() < numColors {
				scores[it.CompValue()] -= int64(s.Score)
				it.NextComp()
			}
		} else {
			size := it.Size()
			for i := uint32(0); i < size; i++ {
				scores[it.Value()] += int64(s.Score)
				it.Next()
			}
		}
	}
	var colors []uint32
	for color := uint32(0); color < numColors; color++ {
		if scores[color] >= minScore {
			colors = append(colors, color)
		}
	}
	return colors
}

// MergeDifferential accumulates scores by cluster voting: listing
// votes are collected per bucket, then every reference in the
// representative receives the bucket score minus its listing votes,
// and every reference outside it receives its listing votes.
func MergeDifferential(its []Scored[*DifferentialIterator], minScore uint64) []uint32 {
	if len(its) == 0 {
		return nil
	}
	numColors := its[0].It.NumColors()

	sort.SliceStable(its, func(a, b int) bool {
		return its[a].It.RepresentativeBegin() < its[b].It.RepresentativeBegin()
	})

	bucketScores := make([]uint64, numColors)
	scores := make([]uint64, numColors)
	score := uint64(0)
	bucketSize := 0
	for i, s := range its {
		it := s.It
		bucketSize++
		score += uint64(s.Score)

		lastInBucket := i+1 == len(its) ||
			its[i+1].It.RepresentativeBegin() != it.RepresentativeBegin()

		if bucketSize == 1 && lastInBucket {
			size := it.Size()
			for j := uint32(0); j < size; j++ {
				scores[it.Value()] += uint64(s.Score)
				it.Next()
			}
			score = 0
			bucketSize = 0
			continue
		}

		it.FullRewind()
		for v := it.DifferentialVal(); v != numColors; {
			bucketScores[v] += uint64(s.Score)
			it.NextDifferentialVal()
			v = it.DifferentialVal()
		}

		if lastInBucket {
			it.FullRewind()
			val := it.RepresentativeVal()
			for color := uint32(0); color < numColors; color++ {
				if val == color {
					scores[color] += score - bucketScores[color]
					it.NextRepresentativeVal()
					val = it.RepresentativeVal()
				} else {
					scores[color] += bucketScores[color]
				}
			}
			score = 0
			bucketSize = 0
			for j := range bucketScores {
				bucketScores[j] = 0
			}
		}
	}

	var colors []uint32
	for color := uint32(0); color < numColors; color++ {
		if scores[color] >= minScore {
			colors = append(colors, color)
		}
	}
	return colors
}

// MergeMeta accumulates scores partition by partition. Partitions
// whose summed iterator scores cannot reach the threshold are skipped
// outright; within a partition, iterators sharing a meta color are
// scored once with their combined score.
func MergeMeta(its []Scored[*MetaIterator], minScore uint64) []uint32 {
	if len(its) == 0 {
		return nil
	}
	numPartitions := uint32(its[0].It.NumPartitions())
	numColors := its[0].It.NumColors()

	partitionIDs := scoredPartitions(its, numPartitions, minScore,
		func(s Scored[*MetaIterator]) uint32 { return s.It.PartitionID() },
		func(s Scored[*MetaIterator]) { s.It.NextPartitionID() })

	scores := make([]uint64, numColors)
	for _, s := range its {
		s.It.Init()
		s.It.ChangePartition()
	}
	for _, partitionID := range partitionIDs {
		upperBound := uint32(0)
		for _, s := range its {
			s.It.NextGEQPartitionID(partitionID)
			if s.It.PartitionID() == partitionID {
				s.It.UpdatePartition()
				upperBound = s.It.PartitionMaxColor()
			}
		}

		sort.SliceStable(its, func(a, b int) bool {
			if its[a].It.PartitionID() != its[b].It.PartitionID() {
				return its[a].It.PartitionID() < its[b].It.PartitionID()
			}
			return its[a].It.MetaColor() < its[b].It.MetaColor()
		})

		metaScore := uint64(its[0].Score)
		processMeta := func(s Scored[*MetaIterator]) {
			for s.It.Value() < upperBound {
				scores[s.It.Value()] += metaScore
				s.It.Next()
			}
		}
		i := 1
		for ; i < len(its); i++ {
			s := its[i]
			if s.It.PartitionID() != partitionID {
				break
			}
			if s.It.MetaColor() != its[i-1].It.MetaColor() {
				processMeta(its[i-1])
				metaScore = 0
			}
			metaScore += uint64(s.Score)
		}
		processMeta(its[i-1])
	}

	var colors []uint32
	for color := uint32(0); color < numColors; color++ {
		if scores[color] >= minScore {
			colors = append(colors, color)
		}
	}
	return colors
}

// MergeMetaDifferential combines the partition-level filtering of
// MergeMeta with the cluster voting of MergeDifferential inside each
// partition.
func MergeMetaDifferential(its []Scored[*MetaDiffIterator], minScore uint64) []uint32 {
	if len(its) == 0 {
		return nil
	}
	numPartitions := uint32(its[0].It.NumPartitions())
	numColors := its[0].It.NumColors()

	partitionIDs := scoredPartitions(its, numPartitions, minScore,
		func(s Scored[*MetaDiffIterator]) uint32 { return s.It.PartitionID() },
		func(s Scored[*MetaDiffIterator]) { s.It.NextPartitionID() })

	scores := make([]uint64, numColors)
	bucketScores := make([]uint64, numColors)
	for _, s := range its {
		s.It.Init()
		s.It.ChangePartition()
	}
	for _, partitionID := range partitionIDs {
		numSets := 0
		for _, s := range its {
			s.It.NextGEQPartitionID(partitionID)
			if s.It.PartitionID() == partitionID {
				s.It.UpdatePartition()
				numSets++
			}
		}

		sort.SliceStable(its, func(a, b int) bool {
			aPart := its[a].It.PartitionID()
			bPart := its[b].It.PartitionID()
			if aPart == partitionID && bPart == partitionID {
				aMeta := its[a].It.MetaColor()
				bMeta := its[b].It.MetaColor()
				if aMeta != bMeta {
					return aMeta < bMeta
				}
				return its[a].It.PartitionIt().RepresentativeBegin() <
					its[b].It.PartitionIt().RepresentativeBegin()
			}
			return aPart < bPart
		})

		lowerBound := uint64(its[0].It.PartitionMinColor())
		numPartitionColors := its[0].It.PartitionIt().NumColors()

		bucketScore := uint64(0)
		bucketSize := 0
		metaScore := uint64(0)
		for i := 0; i < len(its); i++ {
			s := its[i]
			if s.It.PartitionID() != partitionID {
				break
			}
			metaScore += uint64(s.Score)
			numSets--
			bucketSize++
			if numSets != 0 && its[i+1].It.MetaColor() == s.It.MetaColor() {
				continue
			}

			diffIt := s.It.PartitionIt()
			bucketScore += metaScore

			lastInBucket := numSets == 0 ||
				its[i+1].It.PartitionIt().RepresentativeBegin() != diffIt.RepresentativeBegin()

			if lastInBucket && bucketSize == 1 {
				size := diffIt.Size()
				for j := uint32(0); j < size; j++ {
					scores[lowerBound+uint64(diffIt.Value())] += metaScore
					diffIt.Next()
				}
				bucketScore = 0
				bucketSize = 0
				metaScore = 0
				continue
			}

			diffIt.FullRewind()
			for v := diffIt.DifferentialVal(); v != numPartitionColors; {
				bucketScores[v] += metaScore
				diffIt.NextDifferentialVal()
				v = diffIt.DifferentialVal()
			}
			metaScore = 0

			if lastInBucket {
				diffIt.FullRewind()
				val := diffIt.RepresentativeVal()
				for color := uint32(0); color < numPartitionColors; color++ {
					if val == color {
						scores[lowerBound+uint64(color)] += bucketScore - bucketScores[color]
						diffIt.NextRepresentativeVal()
						val = diffIt.RepresentativeVal()
					} else {
						scores[lowerBound+uint64(color)] += bucketScores[color]
					}
				}
				bucketScore = 0
				bucketSize = 0
				for j := uint32(0); j < numPartitionColors; j++ {
					bucketScores[j] = 0
				}
			}
		}
	}

	var colors []uint32
	for color := uint32(0); color < numColors; color++ {
		if scores[color] >= minScore {
			colors = append(colors, color)
		}
	}
	return colors
}

// scoredPartitions walks all meta-level cursors in parallel, summing
// scores per partition, and keeps the partitions whose total reaches
// minScore.
func scoredPartitions[T any](its []Scored[T], numPartitions uint32, minScore uint64,
	partitionID func(Scored[T]) uint32, nextPartitionID func(Scored[T])) []uint32 {
	candidate := partitionID(its[0])
	for _, s := range its[1:] {
		if v := partitionID(s); v < candidate {
			candidate = v
		}
	}
	var partitionIDs []uint32
	for candidate < numPartitions {
		nextPartition := numPartitions
		score := uint64(0)
		for _, s := range its {
			if partitionID(s) == candidate {
				score += uint64(s.Score)
				nextPartitionID(s)
			}
			if v := partitionID(s); v < nextPartition {
				nextPartition = v
			}
		}
		if score >= minScore {
			partitionIDs = append(partitionIDs, candidate)
		}
		candidate = nextPartition
	}
	return partitionIDs
}
