package fulgor

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"sync"
)

// InvalidThreshold marks "run a full intersection" in query drivers.
const InvalidThreshold = -1.0

// PseudoalignConfig controls a batch pseudoalignment run.
type PseudoalignConfig struct {
	// Threshold in (0, 1] selects threshold-union; InvalidThreshold
	// selects full-intersection.
	Threshold  float64
	NumThreads int
}

// Pseudoalign maps every query record and writes one line per record:
// name, number of results, and the reference ids sorted ascending,
// tab-separated. Missed sequences print "name<TAB>0". Records are
// processed by worker threads over disjoint chunks and written in
// input order.
func Pseudoalign(idx *Index, records []Record, cfg PseudoalignConfig, w io.Writer) error {
	if cfg.Threshold != InvalidThreshold && (cfg.Threshold <= 0 || cfg.Threshold > 1) {
		return fmt.Errorf("fulgor: %w (got %v)", ErrBadThreshold, cfg.Threshold)
	}
	numThreads := cfg.NumThreads
	if numThreads <= 0 {
		numThreads = 1
	}

	lines := make([]string, len(records))
	var wg sync.WaitGroup
	chunk := (len(records) + numThreads - 1) / numThreads
	for begin := 0; begin < len(records); begin += chunk {
		end := min(begin+chunk, len(records))
		wg.Add(1)
		go func(begin, end int) {
			defer wg.Done()
			for i := begin; i < end; i++ {
				var colors []uint32
				if cfg.Threshold == InvalidThreshold {
					colors = idx.PseudoalignFullIntersection(records[i].Seq)
				} else {
					colors = idx.PseudoalignThresholdUnion(records[i].Seq, cfg.Threshold)
				}
				lines[i] = formatHits(records[i].Name, colors)
			}
		}(begin, end)
	}
	wg.Wait()

	bw := bufio.NewWriter(w)
	for _, line := range lines {
		if _, err := bw.WriteString(line); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func formatHits(name string, colors []uint32) string {
	buf := make([]byte, 0, 16+8*len(colors))
	buf = append(buf, name...)
	buf = append(buf, '\t')
	buf = strconv.AppendInt(buf, int64(len(colors)), 10)
	for _, c := range colors {
		buf = append(buf, '\t')
		buf = strconv.AppendUint(buf, uint64(c), 10)
	}
	buf = append(buf, '\n')
	return string(buf)
}
