package sketch

import (
	"math"
	"math/rand"
	"testing"
)

func TestHLL_Estimate(t *testing.T) {
	for _, n := range []int{100, 1000, 10000} {
		h := NewHLL(10)
		for i := 0; i < n; i++ {
			h.Add(uint64(i))
		}
		got := h.Estimate()
		if math.Abs(got-float64(n)) > 0.1*float64(n) {
			t.Fatalf("n=%d: estimate %.0f off by more than 10%%", n, got)
		}
	}
}

func TestHLL_MergeEqualsUnion(t *testing.T) {
	a, b, u := NewHLL(10), NewHLL(10), NewHLL(10)
	for i := 0; i < 500; i++ {
		a.Add(uint64(i))
		u.Add(uint64(i))
	}
	for i := 300; i < 900; i++ {
		b.Add(uint64(i))
		u.Add(uint64(i))
	}
	a.Merge(b)
	for i, r := range a.Registers() {
		if r != u.Registers()[i] {
			t.Fatalf("register %d: merge %d, union %d", i, r, u.Registers()[i])
		}
	}
}

func TestHLL_Jaccard(t *testing.T) {
	a, b := NewHLL(12), NewHLL(12)
	// |A|=2000, |B|=2000, |A∩B|=1000 → J = 1/3.
	for i := 0; i < 2000; i++ {
		a.Add(uint64(i))
	}
	for i := 1000; i < 3000; i++ {
		b.Add(uint64(i))
	}
	got := Jaccard(a, b)
	if math.Abs(got-1.0/3) > 0.1 {
		t.Fatalf("jaccard: got %.3f, want about 0.333", got)
	}
}

func TestClusterDivisive_SeparatesObviousGroups(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	var points [][]float64
	wantGroup := make([]int, 0, 60)
	for g := 0; g < 3; g++ {
		center := float64(g) * 100
		for i := 0; i < 20; i++ {
			points = append(points, []float64{center + rng.Float64(), center + rng.Float64()})
			wantGroup = append(wantGroup, g)
		}
	}
	c := ClusterDivisive(points, ClusteringParams{
		MinDelta:      1e-4,
		MaxIterations: 10,
	})
	if c.NumClusters < 3 {
		t.Fatalf("clusters: got %d, want at least 3", c.NumClusters)
	}
	// Points of one true group must share a label.
	for g := 0; g < 3; g++ {
		label := c.Labels[g*20]
		for i := 0; i < 20; i++ {
			if c.Labels[g*20+i] != label {
				t.Fatalf("group %d split across labels", g)
			}
		}
	}
}

func TestClusterDivisive_IdenticalPointsOneCluster(t *testing.T) {
	points := make([][]float64, 40)
	for i := range points {
		points[i] = []float64{1, 2, 3}
	}
	c := ClusterDivisive(points, ClusteringParams{MinDelta: 1e-4, MaxIterations: 10})
	if c.NumClusters != 1 {
		t.Fatalf("clusters: got %d, want 1", c.NumClusters)
	}
}

func TestClusterDivisive_MinClusterSize(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	points := make([][]float64, 30)
	for i := range points {
		points[i] = []float64{rng.Float64() * 1000}
	}
	c := ClusterDivisive(points, ClusteringParams{
		MinDelta:       1e-4,
		MaxIterations:  10,
		MinClusterSize: 30,
	})
	if c.NumClusters != 1 {
		t.Fatalf("clusters: got %d, want 1 (min cluster size bounds splits)", c.NumClusters)
	}
	c = ClusterDivisive(points, ClusteringParams{MinDelta: 1e-4, MaxIterations: 10})
	if c.NumClusters < 2 {
		t.Fatalf("clusters: got %d, want at least 2", c.NumClusters)
	}
	// Every point is labeled within range.
	for i, l := range c.Labels {
		if int(l) >= c.NumClusters {
			t.Fatalf("point %d: label %d out of range", i, l)
		}
	}
}
