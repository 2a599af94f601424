package fulgor

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/deepteams/fulgor/internal/colorsets"
	"github.com/deepteams/fulgor/internal/dbg"
	"github.com/deepteams/fulgor/internal/serial"
	"github.com/deepteams/fulgor/internal/succinct"
)

// indexMagic is "FULGOR" plus a format version, little-endian.
const indexMagic = 0x01_00_524F_474C_5546

// IndexPath returns base with the extension of the given encoding.
func IndexPath(base string, kind colorsets.Kind) string {
	return base + kind.Extension()
}

// Save writes the index as a single binary blob. The path's extension
// must match the index's color-set encoding, and an existing file is
// only overwritten when force is set.
func Save(idx *Index, path string, force bool) error {
	if ext := filepath.Ext(path); ext != idx.Kind().Extension() {
		return fmt.Errorf("fulgor: extension %q does not match encoding %q",
			ext, idx.Kind().Extension())
	}
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("fulgor: %s: %w", path, ErrOutputExists)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("fulgor: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := writeIndex(idx, w); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("fulgor: writing %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("fulgor: writing %s: %w", path, err)
	}
	return f.Close()
}

func writeIndex(idx *Index, w *bufio.Writer) error {
	if err := serial.WriteU64(w, indexMagic); err != nil {
		return err
	}
	if err := idx.dict.Encode(w); err != nil {
		return err
	}
	if err := idx.u2c.Encode(w); err != nil {
		return err
	}
	if err := idx.store.Encode(w); err != nil {
		return err
	}
	return idx.filenames.Encode(w)
}

// Load reads an index; the color-set encoding is tagged by the file
// extension.
func Load(path string) (*Index, error) {
	kind, ok := colorsets.KindForExtension(filepath.Ext(path))
	if !ok {
		return nil, fmt.Errorf("fulgor: unknown index extension %q", filepath.Ext(path))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("fulgor: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	if err := serial.ExpectU64(r, indexMagic, "index magic"); err != nil {
		return nil, fmt.Errorf("fulgor: %s: %w", path, err)
	}
	idx := &Index{dict: &dbg.Dictionary{}, u2c: &succinct.RankedBitVector{}}
	if err := idx.dict.Decode(r); err != nil {
		return nil, fmt.Errorf("fulgor: %s: dictionary: %w", path, err)
	}
	if err := idx.u2c.Decode(r); err != nil {
		return nil, fmt.Errorf("fulgor: %s: u2c: %w", path, err)
	}
	switch kind {
	case colorsets.KindHybrid:
		s := &colorsets.Hybrid{}
		if err := s.Decode(r); err != nil {
			return nil, fmt.Errorf("fulgor: %s: color sets: %w", path, err)
		}
		idx.store = s
	case colorsets.KindMeta:
		s := &colorsets.Meta{}
		if err := s.Decode(r); err != nil {
			return nil, fmt.Errorf("fulgor: %s: color sets: %w", path, err)
		}
		idx.store = s
	case colorsets.KindDifferential:
		s := &colorsets.Differential{}
		if err := s.Decode(r); err != nil {
			return nil, fmt.Errorf("fulgor: %s: color sets: %w", path, err)
		}
		idx.store = s
	case colorsets.KindMetaDifferential:
		s := &colorsets.MetaDifferential{}
		if err := s.Decode(r); err != nil {
			return nil, fmt.Errorf("fulgor: %s: color sets: %w", path, err)
		}
		idx.store = s
	}
	idx.filenames = &FilenameTable{}
	if err := idx.filenames.Decode(r); err != nil {
		return nil, fmt.Errorf("fulgor: %s: filenames: %w", path, err)
	}
	if err := idx.validate(); err != nil {
		return nil, err
	}
	return idx, nil
}

// TrimIndexExtension strips a recognized index extension from path.
func TrimIndexExtension(path string) string {
	for _, ext := range []string{".fur", ".mfur", ".dfur", ".mdfur"} {
		if strings.HasSuffix(path, ext) {
			return strings.TrimSuffix(path, ext)
		}
	}
	return path
}
