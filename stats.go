package fulgor

import (
	"bufio"
	"fmt"
	"io"

	"github.com/deepteams/fulgor/internal/colorsets"
)

// Stats summarizes a loaded index.
type Stats struct {
	K             int
	M             int
	Encoding      string
	NumColors     uint64
	NumUnitigs    uint64
	NumColorSets  uint64
	NumKmers      uint64
	ColorSetsBits uint64
	U2CBits       uint64
}

// Stats collects summary statistics.
func (idx *Index) Stats() Stats {
	return Stats{
		K:             idx.K(),
		M:             idx.M(),
		Encoding:      idx.Kind().Extension(),
		NumColors:     idx.NumColors(),
		NumUnitigs:    idx.NumUnitigs(),
		NumColorSets:  idx.NumColorSets(),
		NumKmers:      idx.NumKmers(),
		ColorSetsBits: idx.store.NumBits(),
		U2CBits:       idx.u2c.SizeBytes() * 8,
	}
}

// Print writes the statistics in the stats tool's format.
func (s Stats) Print(w io.Writer) {
	fmt.Fprintf(w, "k: %d\n", s.K)
	fmt.Fprintf(w, "m: %d\n", s.M)
	fmt.Fprintf(w, "encoding: %s\n", s.Encoding)
	fmt.Fprintf(w, "num. colors: %d\n", s.NumColors)
	fmt.Fprintf(w, "num. unitigs: %d\n", s.NumUnitigs)
	fmt.Fprintf(w, "num. color sets: %d\n", s.NumColorSets)
	fmt.Fprintf(w, "num. k-mers: %d\n", s.NumKmers)
	fmt.Fprintf(w, "color sets: %d bits\n", s.ColorSetsBits)
	fmt.Fprintf(w, "u2c: %d bits\n", s.U2CBits)
}

// WriteFilenames prints the reference names, one per line, in
// reference-id order.
func (idx *Index) WriteFilenames(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for i := uint64(0); i < idx.NumColors(); i++ {
		if _, err := fmt.Fprintln(bw, idx.Filename(i)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// DumpColors writes every color set as a line "id size v0 v1 ...".
func (idx *Index) DumpColors(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for id := uint64(0); id < idx.NumColorSets(); id++ {
		set := colorsets.Decode(idx.ColorSet(id))
		fmt.Fprintf(bw, "%d %d", id, len(set))
		for _, v := range set {
			fmt.Fprintf(bw, " %d", v)
		}
		if _, err := fmt.Fprintln(bw); err != nil {
			return err
		}
	}
	return bw.Flush()
}
