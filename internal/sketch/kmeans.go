package sketch

import "math/rand"

// ClusteringParams controls divisive k-means.
type ClusteringParams struct {
	MinDelta       float64 // stop splitting below this relative gain
	MaxIterations  int     // Lloyd iterations per split
	MinClusterSize int     // clusters at most this size are not split
	Seed           int64
}

// Clustering is the result labeling: Labels[i] is the cluster of point
// i, in [0, NumClusters).
type Clustering struct {
	NumClusters int
	Labels      []uint32
}

// ClusterDivisive recursively splits the point set with 2-means until
// no split improves the within-cluster distance by MinDelta, or the
// cluster is at most MinClusterSize points. Labels are numbered in
// first-use order, so points of one cluster keep their relative order.
func ClusterDivisive(points [][]float64, params ClusteringParams) Clustering {
	n := len(points)
	labels := make([]uint32, n)
	if n == 0 {
		return Clustering{NumClusters: 0, Labels: labels}
	}
	rng := rand.New(rand.NewSource(params.Seed))

	type cluster struct{ members []int }
	all := make([]int, n)
	for i := range all {
		all[i] = i
	}
	queue := []cluster{{members: all}}
	var final []cluster

	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		if len(c.members) <= params.MinClusterSize || len(c.members) < 2 {
			final = append(final, c)
			continue
		}
		left, right, ok := split2Means(points, c.members, params, rng)
		if !ok {
			final = append(final, c)
			continue
		}
		queue = append(queue, cluster{members: left}, cluster{members: right})
	}

	clusterOf := make([]int, n)
	for clusterID, c := range final {
		for _, i := range c.members {
			clusterOf[i] = clusterID
		}
	}
	remap := make([]int, len(final))
	for i := range remap {
		remap[i] = -1
	}
	nextLabel := 0
	for i, c := range clusterOf {
		if remap[c] < 0 {
			remap[c] = nextLabel
			nextLabel++
		}
		labels[i] = uint32(remap[c])
	}
	return Clustering{NumClusters: len(final), Labels: labels}
}

// split2Means runs Lloyd 2-means over the given members. It reports
// ok=false when the split is degenerate or the sum of squared
// distances does not improve by MinDelta.
func split2Means(points [][]float64, members []int, params ClusteringParams,
	rng *rand.Rand) (left, right []int, ok bool) {
	dim := len(points[members[0]])

	centroid := make([]float64, dim)
	for _, i := range members {
		for d, v := range points[i] {
			centroid[d] += v
		}
	}
	for d := range centroid {
		centroid[d] /= float64(len(members))
	}
	sse0 := 0.0
	for _, i := range members {
		sse0 += sqDist(points[i], centroid)
	}
	if sse0 == 0 {
		return nil, nil, false // all points identical
	}

	// Seed the two centers with distinct points.
	c0 := append([]float64(nil), points[members[rng.Intn(len(members))]]...)
	c1 := append([]float64(nil), points[members[0]]...)
	for _, i := range members {
		if sqDist(points[i], c0) > 0 {
			c1 = append(c1[:0], points[i]...)
		}
	}

	assign := make([]int, len(members))
	for iter := 0; iter < params.MaxIterations; iter++ {
		for mi, i := range members {
			if sqDist(points[i], c0) <= sqDist(points[i], c1) {
				assign[mi] = 0
			} else {
				assign[mi] = 1
			}
		}
		next0 := make([]float64, dim)
		next1 := make([]float64, dim)
		n0, n1 := 0, 0
		for mi, i := range members {
			if assign[mi] == 0 {
				n0++
				for d, v := range points[i] {
					next0[d] += v
				}
			} else {
				n1++
				for d, v := range points[i] {
					next1[d] += v
				}
			}
		}
		if n0 == 0 || n1 == 0 {
			return nil, nil, false
		}
		moved := 0.0
		for d := range next0 {
			next0[d] /= float64(n0)
			next1[d] /= float64(n1)
		}
		moved += sqDist(next0, c0) + sqDist(next1, c1)
		copy(c0, next0)
		copy(c1, next1)
		if moved < params.MinDelta {
			break
		}
	}

	sse1 := 0.0
	for mi, i := range members {
		if assign[mi] == 0 {
			sse1 += sqDist(points[i], c0)
		} else {
			sse1 += sqDist(points[i], c1)
		}
	}
	if (sse0-sse1)/sse0 <= params.MinDelta {
		return nil, nil, false
	}
	for mi, i := range members {
		if assign[mi] == 0 {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return left, right, true
}

func sqDist(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}
