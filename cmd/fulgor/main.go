// Command fulgor builds and queries colored compacted de Bruijn graph
// indexes.
//
// Usage:
//
//	fulgor build -l LIST -o BASE [options]        references → index
//	fulgor partition -i IDX.fur [options]         hybrid → meta (.mfur)
//	fulgor differential -i IDX.fur [options]      hybrid → differential (.dfur)
//	fulgor meta-differential -i IDX.mfur [opts]   meta → meta-differential (.mdfur)
//	fulgor permute -i IDX -o OUT                  write clustered reference order
//	fulgor pseudoalign -i IDX -q QUERY [options]  map query sequences
//	fulgor stats -i IDX                           index statistics
//	fulgor print-filenames -i IDX                 reference names
//	fulgor dump-colors -i IDX -o OUT              decode every color set
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/deepteams/fulgor"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "build":
		err = runBuild(os.Args[2:])
	case "permute":
		err = runPermute(os.Args[2:])
	case "partition":
		err = runDerive(os.Args[2:], "partition")
	case "differential":
		err = runDerive(os.Args[2:], "differential")
	case "meta-differential":
		err = runDerive(os.Args[2:], "meta-differential")
	case "pseudoalign":
		err = runPseudoalign(os.Args[2:])
	case "stats":
		err = runStats(os.Args[2:])
	case "print-filenames":
		err = runPrintFilenames(os.Args[2:])
	case "dump-colors":
		err = runDumpColors(os.Args[2:])
	case "-h", "-help", "--help", "help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "fulgor: unknown command %q\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "fulgor: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage:
  fulgor build -l LIST -o BASE -k K -m M [options]
  fulgor partition -i IDX.fur [options]
  fulgor differential -i IDX.fur [options]
  fulgor meta-differential -i IDX.mfur [options]
  fulgor permute -i IDX -o OUT
  fulgor pseudoalign -i IDX -q QUERY [-o OUT] [-r TAU] [options]
  fulgor stats -i IDX
  fulgor print-filenames -i IDX
  fulgor dump-colors -i IDX -o OUT

Run "fulgor <command> -h" for command-specific options.
`)
}

func buildFlags(fs *flag.FlagSet) *fulgor.BuildConfig {
	cfg := &fulgor.BuildConfig{}
	fs.IntVar(&cfg.NumThreads, "t", 0, "number of threads (0 = all cores)")
	fs.StringVar(&cfg.TmpDir, "d", ".", "temporary directory")
	fs.IntVar(&cfg.RAMLimitGiB, "g", 8, "RAM limit in GiB")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "verbose progress output")
	fs.BoolVar(&cfg.Check, "check", false, "check correctness after building")
	fs.BoolVar(&cfg.Force, "force", false, "overwrite existing output")
	return cfg
}

func runBuild(args []string) error {
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	list := fs.String("l", "", "newline-separated list of reference files (required)")
	out := fs.String("o", "", "output basename (required)")
	cfg := buildFlags(fs)
	fs.IntVar(&cfg.K, "k", 31, "k-mer length")
	fs.IntVar(&cfg.M, "m", 20, "minimizer length")
	meta := fs.Bool("meta", false, "also derive the meta index")
	diff := fs.Bool("diff", false, "also derive the differential index")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *list == "" || *out == "" {
		return fmt.Errorf("build: -l and -o are required")
	}

	refs, err := fulgor.ReadFilenamesList(*list)
	if err != nil {
		return err
	}
	idx, err := fulgor.Build(refs, *cfg)
	if err != nil {
		return err
	}
	if err := fulgor.Save(idx, fulgor.IndexPath(*out, idx.Kind()), cfg.Force); err != nil {
		return err
	}

	if *meta {
		derived, err := fulgor.BuildMeta(idx, *cfg)
		if err != nil {
			return err
		}
		if err := fulgor.Save(derived, fulgor.IndexPath(*out, derived.Kind()), cfg.Force); err != nil {
			return err
		}
		if *diff {
			md, err := fulgor.BuildMetaDifferential(derived, *cfg)
			if err != nil {
				return err
			}
			if err := fulgor.Save(md, fulgor.IndexPath(*out, md.Kind()), cfg.Force); err != nil {
				return err
			}
		}
	} else if *diff {
		derived, err := fulgor.BuildDifferential(idx, *cfg)
		if err != nil {
			return err
		}
		if err := fulgor.Save(derived, fulgor.IndexPath(*out, derived.Kind()), cfg.Force); err != nil {
			return err
		}
	}
	return nil
}

// runDerive re-encodes an existing index: partition (meta),
// differential, or meta-differential.
func runDerive(args []string, mode string) error {
	fs := flag.NewFlagSet(mode, flag.ContinueOnError)
	in := fs.String("i", "", "input index (required)")
	cfg := buildFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return fmt.Errorf("%s: -i is required", mode)
	}
	src, err := fulgor.Load(*in)
	if err != nil {
		return err
	}

	var derived *fulgor.Index
	switch mode {
	case "partition":
		derived, err = fulgor.BuildMeta(src, *cfg)
	case "differential":
		derived, err = fulgor.BuildDifferential(src, *cfg)
	case "meta-differential":
		derived, err = fulgor.BuildMetaDifferential(src, *cfg)
	}
	if err != nil {
		return err
	}
	base := fulgor.TrimIndexExtension(*in)
	return fulgor.Save(derived, fulgor.IndexPath(base, derived.Kind()), cfg.Force)
}

func runPermute(args []string) error {
	fs := flag.NewFlagSet("permute", flag.ContinueOnError)
	in := fs.String("i", "", "input index (required)")
	out := fs.String("o", "", "output file for the permuted reference names (required)")
	cfg := buildFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" || *out == "" {
		return fmt.Errorf("permute: -i and -o are required")
	}
	src, err := fulgor.Load(*in)
	if err != nil {
		return err
	}
	names, err := fulgor.PermutedReferenceNames(src, *cfg)
	if err != nil {
		return err
	}
	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	for _, n := range names {
		fmt.Fprintln(f, n)
	}
	return f.Close()
}

func runPseudoalign(args []string) error {
	fs := flag.NewFlagSet("pseudoalign", flag.ContinueOnError)
	in := fs.String("i", "", "input index (required)")
	queryPath := fs.String("q", "", "query FASTA/FASTQ file (required)")
	out := fs.String("o", "", "output file (default: stdout)")
	tau := fs.Float64("r", fulgor.InvalidThreshold,
		"threshold-union ratio in (0,1] (default: full intersection)")
	threads := fs.Int("t", 1, "number of threads")
	verbose := fs.Bool("verbose", false, "verbose output")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" || *queryPath == "" {
		return fmt.Errorf("pseudoalign: -i and -q are required")
	}
	idx, err := fulgor.Load(*in)
	if err != nil {
		return err
	}
	records, err := fulgor.ReadSequences(*queryPath)
	if err != nil {
		return err
	}
	if *verbose {
		fmt.Fprintf(os.Stderr, "mapping %d sequences...\n", len(records))
	}

	var w io.Writer = os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return fulgor.Pseudoalign(idx, records,
		fulgor.PseudoalignConfig{Threshold: *tau, NumThreads: *threads}, w)
}

func runStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	in := fs.String("i", "", "input index (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return fmt.Errorf("stats: -i is required")
	}
	idx, err := fulgor.Load(*in)
	if err != nil {
		return err
	}
	idx.Stats().Print(os.Stdout)
	return nil
}

func runPrintFilenames(args []string) error {
	fs := flag.NewFlagSet("print-filenames", flag.ContinueOnError)
	in := fs.String("i", "", "input index (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return fmt.Errorf("print-filenames: -i is required")
	}
	idx, err := fulgor.Load(*in)
	if err != nil {
		return err
	}
	return idx.WriteFilenames(os.Stdout)
}

func runDumpColors(args []string) error {
	fs := flag.NewFlagSet("dump-colors", flag.ContinueOnError)
	in := fs.String("i", "", "input index (required)")
	out := fs.String("o", "", "output file (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" || *out == "" {
		return fmt.Errorf("dump-colors: -i and -o are required")
	}
	idx, err := fulgor.Load(*in)
	if err != nil {
		return err
	}
	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	if err := idx.DumpColors(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
