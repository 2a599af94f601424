package dbg

import (
	"fmt"
	"sort"
)

// Unitig is one maximal non-branching path of the colored compacted
// graph: all its k-mers occur in exactly the references listed in
// Colors, sorted ascending.
type Unitig struct {
	Seq    []byte
	Colors []uint32
}

// Graph is a colored compacted de Bruijn graph over a reference
// collection, with unitigs grouped so that equal color sets are
// consecutive.
type Graph struct {
	k         int
	numColors uint64
	unitigs   []Unitig
}

type node struct {
	colors  []uint32
	visited bool
}

// BuildGraph constructs the graph of the given references at k-mer
// length k. refs[i] is the list of sequences of reference i.
func BuildGraph(refs [][][]byte, k int) (*Graph, error) {
	if k < 1 || k > MaxK {
		return nil, fmt.Errorf("k = %d out of range [1, %d]", k, MaxK)
	}
	g := &Graph{k: k, numColors: uint64(len(refs))}

	nodes := make(map[uint64]*node)
	var order []uint64 // first-seen order, for deterministic output

	for refID, seqs := range refs {
		for _, seq := range seqs {
			for i := 0; i+k <= len(seq); i++ {
				v, ok := packKmer(seq[i:], k)
				if !ok {
					continue
				}
				canon, _ := canonical(v, k)
				n := nodes[canon]
				if n == nil {
					n = &node{}
					nodes[canon] = n
					order = append(order, canon)
				}
				if len(n.colors) == 0 || n.colors[len(n.colors)-1] != uint32(refID) {
					n.colors = append(n.colors, uint32(refID))
				}
			}
		}
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("no valid k-mers in input")
	}

	mask := uint64(1)<<(2*uint(k)) - 1
	shift := 2 * uint(k-1)

	// forwardNeighbors returns the spellings reachable by appending one
	// base to spelling s.
	forwardNeighbors := func(s uint64, out []uint64) []uint64 {
		out = out[:0]
		for c := uint64(0); c < 4; c++ {
			t := (s<<2 | c) & mask
			if canon, _ := canonical(t, k); nodes[canon] != nil {
				out = append(out, t)
			}
		}
		return out
	}
	backwardNeighbors := func(s uint64, out []uint64) []uint64 {
		out = out[:0]
		for c := uint64(0); c < 4; c++ {
			t := c<<shift | s>>2
			if canon, _ := canonical(t, k); nodes[canon] != nil {
				out = append(out, t)
			}
		}
		return out
	}

	sameColors := func(a, b []uint32) bool {
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

	var fwdBuf, bwdBuf [4]uint64

	// step returns the unique extension of spelling s, if it is a valid
	// unitig continuation: out-degree one, the successor has in-degree
	// one, carries the same color set, and is unvisited.
	step := func(s uint64, colors []uint32) (uint64, *node, bool) {
		next := forwardNeighbors(s, fwdBuf[:0])
		if len(next) != 1 {
			return 0, nil, false
		}
		t := next[0]
		canonT, _ := canonical(t, k)
		nt := nodes[canonT]
		if nt.visited || !sameColors(nt.colors, colors) {
			return 0, nil, false
		}
		if len(backwardNeighbors(t, bwdBuf[:0])) != 1 {
			return 0, nil, false
		}
		return t, nt, true
	}

	for _, start := range order {
		n := nodes[start]
		if n.visited {
			continue
		}
		n.visited = true

		// Walk backward from the start by stepping forward from the
		// reverse complement, then reverse the collected path.
		path := []uint64{start}
		cur := revComp(start, k)
		for {
			t, nt, ok := step(cur, n.colors)
			if !ok {
				break
			}
			nt.visited = true
			path = append(path, revComp(t, k))
			cur = t
		}
		for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
			path[i], path[j] = path[j], path[i]
		}
		// Walk forward from the start.
		cur = start
		for {
			t, nt, ok := step(cur, n.colors)
			if !ok {
				break
			}
			nt.visited = true
			path = append(path, t)
			cur = t
		}

		seq := make([]byte, k+len(path)-1)
		unpackKmer(path[0], k, seq[:k])
		for i := 1; i < len(path); i++ {
			seq[k+i-1] = baseChars[path[i]&3]
		}
		g.unitigs = append(g.unitigs, Unitig{Seq: seq, Colors: n.colors})
	}

	g.groupByColorSet()
	return g, nil
}

// groupByColorSet reorders unitigs so that unitigs sharing a color set
// are consecutive, in first-appearance order of the color sets.
func (g *Graph) groupByColorSet() {
	keyOf := func(colors []uint32) string {
		b := make([]byte, 0, 4*len(colors))
		for _, c := range colors {
			b = append(b, byte(c), byte(c>>8), byte(c>>16), byte(c>>24))
		}
		return string(b)
	}
	firstSeen := make(map[string]int)
	for _, u := range g.unitigs {
		k := keyOf(u.Colors)
		if _, ok := firstSeen[k]; !ok {
			firstSeen[k] = len(firstSeen)
		}
	}
	sort.SliceStable(g.unitigs, func(a, b int) bool {
		return firstSeen[keyOf(g.unitigs[a].Colors)] < firstSeen[keyOf(g.unitigs[b].Colors)]
	})
}

// K returns the k-mer length of the graph.
func (g *Graph) K() int { return g.k }

// NumColors returns the number of references.
func (g *Graph) NumColors() uint64 { return g.numColors }

// NumUnitigs returns the number of unitigs.
func (g *Graph) NumUnitigs() uint64 { return uint64(len(g.unitigs)) }

// LoopThroughUnitigs calls fn for every unitig, with unitigs of equal
// color sets consecutive; sameColors is true iff the color set equals
// the one of the previous call.
func (g *Graph) LoopThroughUnitigs(fn func(seq []byte, colors []uint32, sameColors bool)) {
	var prev []uint32
	for _, u := range g.unitigs {
		same := prev != nil && len(prev) == len(u.Colors)
		if same {
			for i := range prev {
				if prev[i] != u.Colors[i] {
					same = false
					break
				}
			}
		}
		fn(u.Seq, u.Colors, same)
		prev = u.Colors
	}
}
