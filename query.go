package fulgor

import (
	"math"
	"sort"

	"github.com/deepteams/fulgor/internal/colorsets"
	"github.com/deepteams/fulgor/internal/pool"
)

// PseudoalignFullIntersection returns the intersection of the color
// sets of all positive k-mers of seq, sorted ascending. A sequence
// shorter than k, or with no positive k-mer, yields nil. Non-ACGT
// characters make the covering k-mers negative and are otherwise
// ignored.
func (idx *Index) PseudoalignFullIntersection(seq []byte) []uint32 {
	k := idx.K()
	if len(seq) < k {
		return nil
	}
	var unitigIDs []uint64
	query := idx.dict.NewStreamingQuery()
	prevUnitig := uint64(math.MaxUint64)
	for i := 0; i+k <= len(seq); i++ {
		res, ok := query.Lookup(seq[i : i+k])
		if !ok {
			continue
		}
		if uint64(res.ContigID) != prevUnitig {
			unitigIDs = append(unitigIDs, uint64(res.ContigID))
			prevUnitig = uint64(res.ContigID)
		}
	}
	return idx.IntersectUnitigs(unitigIDs)
}

// IntersectUnitigs intersects the color sets of the given unitigs, for
// callers that streamed k-mers themselves.
func (idx *Index) IntersectUnitigs(unitigIDs []uint64) []uint32 {
	if len(unitigIDs) == 0 {
		return nil
	}
	sort.Slice(unitigIDs, func(a, b int) bool { return unitigIDs[a] < unitigIDs[b] })

	setIDs := pool.GetU32(len(unitigIDs))
	defer pool.PutU32(setIDs)
	prevUnitig := uint64(math.MaxUint64)
	for _, u := range unitigIDs {
		if u == prevUnitig {
			continue
		}
		prevUnitig = u
		setIDs = append(setIDs, uint32(idx.U2C(u)))
	}
	sort.Slice(setIDs, func(a, b int) bool { return setIDs[a] < setIDs[b] })

	ids := make([]uint64, 0, len(setIDs))
	for i, s := range setIDs {
		if i > 0 && s == setIDs[i-1] {
			continue
		}
		ids = append(ids, uint64(s))
	}
	return colorsets.Intersect(idx.store, ids)
}

// PseudoalignThresholdUnion returns every reference whose summed
// k-mer hit count reaches ceil(tau * positives), where positives is
// the number of positive k-mers of seq and tau must lie in (0, 1].
func (idx *Index) PseudoalignThresholdUnion(seq []byte, tau float64) []uint32 {
	k := idx.K()
	if len(seq) < k {
		return nil
	}

	type scoredID struct {
		id    uint64
		score uint32
	}
	var unitigIDs []scoredID
	positives := uint64(0)
	query := idx.dict.NewStreamingQuery()
	prevUnitig := uint64(math.MaxUint64)
	for i := 0; i+k <= len(seq); i++ {
		res, ok := query.Lookup(seq[i : i+k])
		if !ok {
			continue
		}
		positives++
		if uint64(res.ContigID) != prevUnitig {
			unitigIDs = append(unitigIDs, scoredID{id: uint64(res.ContigID), score: 1})
			prevUnitig = uint64(res.ContigID)
		} else {
			unitigIDs[len(unitigIDs)-1].score++
		}
	}
	if positives == 0 {
		return nil
	}

	// Deduplicate unitig ids, summing scores on collisions.
	sort.Slice(unitigIDs, func(a, b int) bool { return unitigIDs[a].id < unitigIDs[b].id })
	var setIDs []scoredID
	prevUnitig = uint64(math.MaxUint64)
	for _, u := range unitigIDs {
		if u.id != prevUnitig {
			setIDs = append(setIDs, scoredID{id: idx.U2C(u.id), score: u.score})
			prevUnitig = u.id
		} else {
			setIDs[len(setIDs)-1].score += u.score
		}
	}

	// Deduplicate color-set ids the same way.
	sort.Slice(setIDs, func(a, b int) bool { return setIDs[a].id < setIDs[b].id })
	ids := make([]uint64, 0, len(setIDs))
	scores := pool.GetU32(len(setIDs))
	defer pool.PutU32(scores)
	prevSet := uint64(math.MaxUint64)
	for _, s := range setIDs {
		if s.id != prevSet {
			ids = append(ids, s.id)
			scores = append(scores, s.score)
			prevSet = s.id
		} else {
			scores[len(scores)-1] += s.score
		}
	}

	minScore := uint64(math.Ceil(tau * float64(positives)))
	return colorsets.ThresholdUnion(idx.store, ids, scores, minScore)
}
