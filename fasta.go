package fulgor

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strings"
)

// Record is one named sequence of a FASTA or FASTQ file.
type Record struct {
	Name string
	Seq  []byte
}

// ReadSequences parses a FASTA or FASTQ file (optionally gzipped) into
// records. Lines before the first header are joined into a single
// record with an empty name.
func ReadSequences(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("fulgor: %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}
	return parseSequences(r)
}

func parseSequences(r io.Reader) ([]Record, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 1<<16), 1<<26)

	var records []Record
	var cur *Record
	fastq := false
	fastqLine := 0
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		switch {
		case fastq:
			// FASTQ: sequence, '+', quality, then the next '@' header.
			switch fastqLine {
			case 1:
				cur.Seq = append(cur.Seq, line...)
				fastqLine = 2
			case 2: // '+' separator
				fastqLine = 3
			case 3: // quality line
				fastqLine = 0
			default:
				if line[0] != '@' {
					return nil, fmt.Errorf("fulgor: malformed FASTQ record")
				}
				records = append(records, Record{Name: firstField(line[1:])})
				cur = &records[len(records)-1]
				fastqLine = 1
			}
		case line[0] == '@' && cur == nil && len(records) == 0:
			fastq = true
			records = append(records, Record{Name: firstField(line[1:])})
			cur = &records[len(records)-1]
			fastqLine = 1
		case line[0] == '>':
			records = append(records, Record{Name: firstField(line[1:])})
			cur = &records[len(records)-1]
		default:
			if cur == nil {
				records = append(records, Record{})
				cur = &records[len(records)-1]
			}
			cur.Seq = append(cur.Seq, line...)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func firstField(b []byte) string {
	if i := bytes.IndexAny(b, " \t"); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// ReadFilenamesList reads a newline-separated list of reference paths.
func ReadFilenamesList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var names []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" {
			names = append(names, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("fulgor: %s lists no references", path)
	}
	return names, nil
}
