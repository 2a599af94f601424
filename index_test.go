package fulgor

import (
	"bytes"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeRef writes one reference FASTA file and returns its path.
func writeRef(t *testing.T, dir, name string, seqs ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	var sb strings.Builder
	for i, s := range seqs {
		sb.WriteString(">seq")
		sb.WriteByte(byte('0' + i))
		sb.WriteByte('\n')
		sb.WriteString(s)
		sb.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func buildIndex(t *testing.T, dir string, k int, refs ...[]string) *Index {
	t.Helper()
	paths := make([]string, len(refs))
	for i, seqs := range refs {
		paths[i] = writeRef(t, dir, "ref"+string(rune('0'+i))+".fna", seqs...)
	}
	idx, err := Build(paths, BuildConfig{K: k, M: 2, TmpDir: dir, Check: true})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return idx
}

func names(idx *Index, colors []uint32) []string {
	out := make([]string, len(colors))
	for i, c := range colors {
		out[i] = filepath.Base(idx.Filename(uint64(c)))
	}
	return out
}

func equalStrings(a, b []string) bool {
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

func TestEndToEnd_SharedUnitig(t *testing.T) {
	// Two references sharing all their k-mers: one color set {0,1};
	// the full query returns both references under both queries.
	idx := buildIndex(t, t.TempDir(), 3,
		[]string{"ACGTAC"},
		[]string{"CGTACG"},
	)
	if idx.NumColorSets() != 1 {
		t.Fatalf("color sets: got %d, want 1", idx.NumColorSets())
	}
	if got := idx.PseudoalignFullIntersection([]byte("ACGTACG")); !equalU32(got, []uint32{0, 1}) {
		t.Fatalf("full intersection: got %v, want [0 1]", got)
	}
	if got := idx.PseudoalignThresholdUnion([]byte("ACGTACG"), 1.0); !equalU32(got, []uint32{0, 1}) {
		t.Fatalf("threshold union: got %v, want [0 1]", got)
	}
}

func TestEndToEnd_SplitColors(t *testing.T) {
	// One k-mer exclusive to each reference and one shared: the full
	// intersection is empty, but a third of the votes suffices for
	// both references.
	idx := buildIndex(t, t.TempDir(), 3,
		[]string{"CCAG"},
		[]string{"CAGG"},
	)
	query := []byte("CCAGG")
	if got := idx.PseudoalignFullIntersection(query); got != nil {
		t.Fatalf("full intersection: got %v, want empty", got)
	}
	if got := idx.PseudoalignThresholdUnion(query, 0.34); !equalU32(got, []uint32{0, 1}) {
		t.Fatalf("threshold union at 0.34: got %v, want [0 1]", got)
	}
	// At tau = 1.0 no reference covers all three positive k-mers.
	if got := idx.PseudoalignThresholdUnion(query, 1.0); got != nil {
		t.Fatalf("threshold union at 1.0: got %v, want empty", got)
	}
}

func TestEndToEnd_Boundaries(t *testing.T) {
	idx := buildIndex(t, t.TempDir(), 5, []string{"ACGTACGTAA"}, []string{"TTACGTACGT"})
	if got := idx.PseudoalignFullIntersection([]byte("ACG")); got != nil {
		t.Fatalf("short query: got %v, want empty", got)
	}
	if got := idx.PseudoalignFullIntersection([]byte("NNNNNNNN")); got != nil {
		t.Fatalf("no positive k-mers: got %v, want empty", got)
	}
	if got := idx.PseudoalignThresholdUnion([]byte("AC"), 0.5); got != nil {
		t.Fatalf("short threshold query: got %v, want empty", got)
	}
}

func TestEndToEnd_U2CInvariants(t *testing.T) {
	idx := buildIndex(t, t.TempDir(), 4,
		[]string{"ACGTACGGTTAACC", "GGGTTTAAACCC"},
		[]string{"ACGTACGGTTAACC"},
		[]string{"TTTTACGTACGG"},
	)
	u := idx.NumUnitigs()
	s := idx.NumColorSets()
	if got := idx.u2c.Rank1(u); got != s {
		t.Fatalf("rank1(U): got %d, want %d", got, s)
	}
	if got := idx.u2c.Select1(s - 1); got != u-1 {
		t.Fatalf("select1(S-1): got %d, want %d", got, u-1)
	}
	// Decoded color sets are strictly ascending within [0, C).
	for id := uint64(0); id < s; id++ {
		set := decodeSet(idx, id)
		for i := range set {
			if set[i] >= uint32(idx.NumColors()) {
				t.Fatalf("set %d: value %d out of range", id, set[i])
			}
			if i > 0 && set[i] <= set[i-1] {
				t.Fatalf("set %d not strictly ascending: %v", id, set)
			}
		}
	}
}

func TestEndToEnd_FilenameRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p1 := writeRef(t, dir, filepath.Join("a", "b.fna"), "ACGTACGT")
	p2 := writeRef(t, dir, "c.fna", "TTTTACGG")
	idx, err := Build([]string{p1, p2}, BuildConfig{K: 4, M: 2, TmpDir: dir})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	var buf bytes.Buffer
	if err := idx.WriteFilenames(&buf); err != nil {
		t.Fatalf("write filenames: %v", err)
	}
	want := p1 + "\n" + p2 + "\n"
	if buf.String() != want {
		t.Fatalf("filenames: got %q, want %q", buf.String(), want)
	}
}

// randomRefs assembles references from a shared fragment pool so that
// color sets genuinely overlap.
func randomRefs(rng *rand.Rand, numRefs, numFragments, fragLen int) [][]string {
	const bases = "ACGT"
	fragments := make([]string, numFragments)
	for i := range fragments {
		b := make([]byte, fragLen)
		for j := range b {
			b[j] = bases[rng.Intn(4)]
		}
		fragments[i] = string(b)
	}
	refs := make([][]string, numRefs)
	for i := range refs {
		n := 2 + rng.Intn(3)
		var sb strings.Builder
		for j := 0; j < n; j++ {
			sb.WriteString(fragments[rng.Intn(numFragments)])
		}
		refs[i] = []string{sb.String()}
	}
	return refs
}

func decodeSet(idx *Index, id uint64) []uint32 {
	it := idx.ColorSet(id)
	var out []uint32
	for v := it.Value(); v < uint32(idx.NumColors()); {
		out = append(out, v)
		it.Next()
		v = it.Value()
	}
	return out
}

func equalU32(a, b []uint32) bool {
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

func TestDerivedIndexes_QueryEquivalence(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	dir := t.TempDir()
	refs := randomRefs(rng, 6, 8, 60)
	idx := buildIndex(t, dir, 15, refs...)

	cfg := BuildConfig{K: 15, M: 2, TmpDir: dir, NumThreads: 2, Check: true}
	meta, err := BuildMeta(idx, cfg)
	if err != nil {
		t.Fatalf("build meta: %v", err)
	}
	diff, err := BuildDifferential(idx, cfg)
	if err != nil {
		t.Fatalf("build differential: %v", err)
	}
	metaDiff, err := BuildMetaDifferential(meta, cfg)
	if err != nil {
		t.Fatalf("build meta-differential: %v", err)
	}

	flavours := map[string]*Index{
		"hybrid": idx, "meta": meta, "differential": diff, "meta-differential": metaDiff,
	}
	for name, derived := range flavours {
		if derived.NumColorSets() != idx.NumColorSets() {
			t.Fatalf("%s: color sets: got %d, want %d",
				name, derived.NumColorSets(), idx.NumColorSets())
		}
	}

	// Results must agree across flavours by reference NAME: the meta
	// flavours permute reference ids.
	const numQueries = 40
	for q := 0; q < numQueries; q++ {
		ref := refs[rng.Intn(len(refs))][0]
		begin := rng.Intn(len(ref) - 20)
		end := begin + 20 + rng.Intn(min(40, len(ref)-begin-20)+1)
		query := []byte(ref[begin:end])

		want := names(idx, idx.PseudoalignFullIntersection(query))
		if len(want) == 0 {
			t.Fatalf("query %d: expected a nonempty self-hit", q)
		}
		for name, derived := range flavours {
			got := names(derived, derived.PseudoalignFullIntersection(query))
			sortStrings(got)
			w := append([]string(nil), want...)
			sortStrings(w)
			if !equalStrings(got, w) {
				t.Fatalf("query %d: %s full intersection: got %v, want %v", q, name, got, w)
			}
		}

		tau := 0.1 + rng.Float64()*0.9
		wantTU := names(idx, idx.PseudoalignThresholdUnion(query, tau))
		sortStrings(wantTU)
		for name, derived := range flavours {
			got := names(derived, derived.PseudoalignThresholdUnion(query, tau))
			sortStrings(got)
			if !equalStrings(got, wantTU) {
				t.Fatalf("query %d: %s threshold union (tau=%.2f): got %v, want %v",
					q, name, tau, got, wantTU)
			}
		}
	}
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	dir := t.TempDir()
	refs := randomRefs(rng, 5, 6, 50)
	idx := buildIndex(t, dir, 11, refs...)

	cfg := BuildConfig{K: 11, M: 2, TmpDir: dir}
	meta, err := BuildMeta(idx, cfg)
	if err != nil {
		t.Fatalf("build meta: %v", err)
	}
	diff, err := BuildDifferential(idx, cfg)
	if err != nil {
		t.Fatalf("build differential: %v", err)
	}
	metaDiff, err := BuildMetaDifferential(meta, cfg)
	if err != nil {
		t.Fatalf("build meta-differential: %v", err)
	}

	for _, built := range []*Index{idx, meta, diff, metaDiff} {
		path := IndexPath(filepath.Join(dir, "index"), built.Kind())
		if err := Save(built, path, true); err != nil {
			t.Fatalf("save %s: %v", path, err)
		}
		loaded, err := Load(path)
		if err != nil {
			t.Fatalf("load %s: %v", path, err)
		}

		// Byte-identical image after a save/load/save cycle.
		image1, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		path2 := IndexPath(filepath.Join(dir, "index2"), built.Kind())
		if err := Save(loaded, path2, true); err != nil {
			t.Fatalf("re-save: %v", err)
		}
		image2, err := os.ReadFile(path2)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(image1, image2) {
			t.Fatalf("%s: serialized images differ", built.Kind().Extension())
		}

		// Iterator-equivalent structure.
		for id := uint64(0); id < built.NumColorSets(); id++ {
			if !equalU32(decodeSet(built, id), decodeSet(loaded, id)) {
				t.Fatalf("%s: set %d differs after round-trip", built.Kind().Extension(), id)
			}
		}
		query := []byte(refs[0][0][:25])
		if !equalU32(built.PseudoalignFullIntersection(query),
			loaded.PseudoalignFullIntersection(query)) {
			t.Fatalf("%s: query differs after round-trip", built.Kind().Extension())
		}
	}

	// Saving over an existing file without force fails.
	path := IndexPath(filepath.Join(dir, "index"), idx.Kind())
	if err := Save(idx, path, false); err == nil {
		t.Fatal("save over existing index without force succeeded")
	}
}

func TestBuildConfig_Validation(t *testing.T) {
	dir := t.TempDir()
	ref := writeRef(t, dir, "r.fna", "ACGTACGTACGT")
	if _, err := Build([]string{ref}, BuildConfig{K: 64, M: 20}); err == nil {
		t.Fatal("k > MaxK accepted")
	}
	if _, err := Build([]string{ref}, BuildConfig{K: 7, M: 7}); err == nil {
		t.Fatal("m >= k accepted")
	}
	if _, err := Build([]string{ref}, BuildConfig{K: 7, M: 1}); err == nil {
		t.Fatal("m < 2 accepted")
	}
	if _, err := Build(nil, BuildConfig{K: 7, M: 3}); err == nil {
		t.Fatal("empty reference list accepted")
	}
}

func TestPseudoalign_Output(t *testing.T) {
	idx := buildIndex(t, t.TempDir(), 3, []string{"ACGTAC"}, []string{"CGTACG"})
	records := []Record{
		{Name: "hit", Seq: []byte("ACGTACG")},
		{Name: "miss", Seq: []byte("NNNNNNNN")},
		{Name: "short", Seq: []byte("AC")},
	}
	var buf bytes.Buffer
	err := Pseudoalign(idx, records, PseudoalignConfig{Threshold: InvalidThreshold, NumThreads: 2}, &buf)
	if err != nil {
		t.Fatalf("pseudoalign: %v", err)
	}
	want := "hit\t2\t0\t1\nmiss\t0\nshort\t0\n"
	if buf.String() != want {
		t.Fatalf("output: got %q, want %q", buf.String(), want)
	}

	if err := Pseudoalign(idx, records, PseudoalignConfig{Threshold: 1.5}, &buf); err == nil {
		t.Fatal("threshold 1.5 accepted")
	}
}
