package fulgor

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/deepteams/fulgor/internal/bitio"
	"github.com/deepteams/fulgor/internal/colorsets"
	"github.com/deepteams/fulgor/internal/dbg"
	"github.com/deepteams/fulgor/internal/succinct"
)

// Configuration errors.
var (
	ErrBadK         = fmt.Errorf("k out of range [1, %d]", dbg.MaxK)
	ErrBadM         = errors.New("minimizer length must satisfy 2 <= m < k")
	ErrBadThreshold = errors.New("threshold must be in (0, 1]")
	ErrOutputExists = errors.New("output exists (use force to overwrite)")
)

// BuildConfig controls index construction.
type BuildConfig struct {
	K           int    // k-mer length, <= dbg.MaxK (default 31)
	M           int    // minimizer length, 2 <= M < K (default 20)
	NumThreads  int    // worker threads (default: GOMAXPROCS)
	RAMLimitGiB int    // advisory memory budget for construction
	TmpDir      string // scratch directory for sketch files (default ".")
	Verbose     bool   // progress diagnostics to stderr
	Check       bool   // verify the built index against its inputs
	Force       bool   // overwrite existing outputs
}

func (cfg *BuildConfig) normalize() error {
	if cfg.K == 0 {
		cfg.K = 31
	}
	if cfg.M == 0 {
		cfg.M = min(20, cfg.K-1)
	}
	if cfg.K < 1 || cfg.K > dbg.MaxK {
		return fmt.Errorf("fulgor: %w (got %d)", ErrBadK, cfg.K)
	}
	if cfg.M < 2 || cfg.M >= cfg.K {
		return fmt.Errorf("fulgor: %w (got m=%d, k=%d)", ErrBadM, cfg.M, cfg.K)
	}
	if cfg.NumThreads <= 0 {
		cfg.NumThreads = runtime.GOMAXPROCS(0)
	}
	if cfg.RAMLimitGiB <= 0 {
		cfg.RAMLimitGiB = 8
	}
	if cfg.TmpDir == "" {
		cfg.TmpDir = "."
	}
	return nil
}

func (cfg *BuildConfig) logf(format string, args ...any) {
	if cfg.Verbose {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}

// Build constructs a hybrid-encoded index over the references listed
// in refPaths (one FASTA file per reference).
func Build(refPaths []string, cfg BuildConfig) (*Index, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if len(refPaths) == 0 {
		return nil, errors.New("fulgor: no input references")
	}

	cfg.logf("step 1. build colored compacted dBG (%d references, k=%d)", len(refPaths), cfg.K)
	refs := make([][][]byte, len(refPaths))
	for i, path := range refPaths {
		records, err := ReadSequences(path)
		if err != nil {
			return nil, fmt.Errorf("fulgor: reading %s: %w", path, err)
		}
		for _, rec := range records {
			refs[i] = append(refs[i], rec.Seq)
		}
	}
	graph, err := dbg.BuildGraph(refs, cfg.K)
	if err != nil {
		return nil, fmt.Errorf("fulgor: building graph: %w", err)
	}

	cfg.logf("step 2. build u2c and color sets (%d unitigs)", graph.NumUnitigs())
	idx, unitigs, err := encodeColorSets(graph, cfg)
	if err != nil {
		return nil, err
	}

	cfg.logf("step 3. build k-mer dictionary")
	idx.dict, err = dbg.BuildDictionary(unitigs, cfg.K, cfg.M)
	if err != nil {
		return nil, fmt.Errorf("fulgor: building dictionary: %w", err)
	}

	cfg.logf("step 4. write filenames")
	idx.filenames = NewFilenameTable(refPaths)

	if err := idx.validate(); err != nil {
		return nil, err
	}
	if cfg.Check {
		cfg.logf("step 5. check correctness")
		for _, msg := range checkAgainstGraph(idx, graph) {
			fmt.Fprintln(os.Stderr, msg)
		}
	}
	return idx, nil
}

// encodeColorSets drives the unitig stream: it collects the u2c run
// bits, feeds distinct color sets to per-worker hybrid builders, and
// merges the workers in stream order so color-set ids equal first
// appearance order.
func encodeColorSets(graph *dbg.Graph, cfg BuildConfig) (*Index, [][]byte, error) {
	numColors := uint32(graph.NumColors())
	numThreads := cfg.NumThreads

	mainBuilder := colorsets.NewHybridBuilder(numColors)
	u2cBuilder := bitio.NewWriter(graph.NumUnitigs())

	// Each worker encodes a batch of color sets into its own builder;
	// appends onto the main builder are chained in batch order, the Go
	// rendering of the round-robin appending-thread counter.
	const maxBatchSets = 1 << 14
	type batch struct {
		sets [][]uint32
	}
	var (
		wg       sync.WaitGroup
		sem      = make(chan struct{}, numThreads)
		prevDone = make(chan struct{})
	)
	close(prevDone)

	flush := func(b batch) {
		myDone := make(chan struct{})
		waitFor := prevDone
		prevDone = myDone
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			worker := colorsets.NewHybridBuilder(numColors)
			for _, s := range b.sets {
				worker.Process(s)
			}
			<-waitFor
			mainBuilder.Append(worker)
			close(myDone)
		}()
	}

	var (
		cur        batch
		unitigs    [][]byte
		numUnitigs uint64
	)
	graph.LoopThroughUnitigs(func(seq []byte, colors []uint32, sameColors bool) {
		if !sameColors {
			if numUnitigs > 0 {
				u2cBuilder.Set(numUnitigs-1, true)
			}
			cur.sets = append(cur.sets, append([]uint32(nil), colors...))
			if len(cur.sets) == maxBatchSets {
				flush(cur)
				cur = batch{}
			}
		}
		u2cBuilder.PushBack(false)
		unitigs = append(unitigs, seq)
		numUnitigs++
	})
	if len(cur.sets) > 0 {
		flush(cur)
	}
	wg.Wait()

	if numUnitigs == 0 {
		return nil, nil, errors.New("fulgor: empty unitig stream")
	}
	u2cBuilder.Set(numUnitigs-1, true)

	idx := &Index{
		u2c:   succinct.NewRankedBitVector(u2cBuilder),
		store: mainBuilder.Build(),
	}
	return idx, unitigs, nil
}

// checkAgainstGraph re-streams the unitigs of a fresh build, verifying
// that every k-mer round-trips to its unitig and every decoded color
// set equals the one consumed at build time. It returns one message
// per mismatch.
func checkAgainstGraph(idx *Index, graph *dbg.Graph) []string {
	var msgs []string
	k := idx.K()
	unitigID := uint64(0)
	graph.LoopThroughUnitigs(func(seq []byte, colors []uint32, _ bool) {
		defer func() { unitigID++ }()
		for i := 0; i+k <= len(seq); i++ {
			res, ok := idx.dict.LookupAdvanced(seq[i : i+k])
			if !ok || uint64(res.ContigID) != unitigID {
				msgs = append(msgs, fmt.Sprintf(
					"unitig %d: k-mer at offset %d does not round-trip", unitigID, i))
				return
			}
		}
		it := idx.ColorSet(idx.U2C(unitigID))
		got := colorsets.Decode(it)
		if len(got) != len(colors) {
			msgs = append(msgs, fmt.Sprintf(
				"unitig %d: color set size %d, expected %d", unitigID, len(got), len(colors)))
			return
		}
		for i := range got {
			if got[i] != colors[i] {
				msgs = append(msgs, fmt.Sprintf(
					"unitig %d: color %d is %d, expected %d", unitigID, i, got[i], colors[i]))
				return
			}
		}
	})
	return msgs
}
