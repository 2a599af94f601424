// Package serial provides the little-endian primitives shared by the
// on-disk index format. All numbers are little-endian; vectors are
// length-prefixed with a 64-bit element count.
package serial

import (
	"encoding/binary"
	"fmt"
	"io"
)

// WriteU64 writes x as 8 little-endian bytes.
func WriteU64(w io.Writer, x uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], x)
	_, err := w.Write(buf[:])
	return err
}

// ReadU64 reads 8 little-endian bytes.
func ReadU64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// WriteU32 writes x as 4 little-endian bytes.
func WriteU32(w io.Writer, x uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], x)
	_, err := w.Write(buf[:])
	return err
}

// ReadU32 reads 4 little-endian bytes.
func ReadU32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// WriteU8 writes a single byte.
func WriteU8(w io.Writer, x uint8) error {
	_, err := w.Write([]byte{x})
	return err
}

// ReadU8 reads a single byte.
func ReadU8(r io.Reader) (uint8, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// WriteU64Slice writes a 64-bit length followed by the elements.
func WriteU64Slice(w io.Writer, s []uint64) error {
	if err := WriteU64(w, uint64(len(s))); err != nil {
		return err
	}
	buf := make([]byte, 8*len(s))
	for i, x := range s {
		binary.LittleEndian.PutUint64(buf[8*i:], x)
	}
	_, err := w.Write(buf)
	return err
}

// ReadU64Slice reads a slice written by WriteU64Slice.
func ReadU64Slice(r io.Reader) ([]uint64, error) {
	n, err := ReadU64(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 8*n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	s := make([]uint64, n)
	for i := range s {
		s[i] = binary.LittleEndian.Uint64(buf[8*i:])
	}
	return s, nil
}

// WriteU32Slice writes a 64-bit length followed by the elements.
func WriteU32Slice(w io.Writer, s []uint32) error {
	if err := WriteU64(w, uint64(len(s))); err != nil {
		return err
	}
	buf := make([]byte, 4*len(s))
	for i, x := range s {
		binary.LittleEndian.PutUint32(buf[4*i:], x)
	}
	_, err := w.Write(buf)
	return err
}

// ReadU32Slice reads a slice written by WriteU32Slice.
func ReadU32Slice(r io.Reader) ([]uint32, error) {
	n, err := ReadU64(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 4*n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	s := make([]uint32, n)
	for i := range s {
		s[i] = binary.LittleEndian.Uint32(buf[4*i:])
	}
	return s, nil
}

// WriteBytes writes a 64-bit length followed by the raw bytes.
func WriteBytes(w io.Writer, b []byte) error {
	if err := WriteU64(w, uint64(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// ReadBytes reads a byte slice written by WriteBytes.
func ReadBytes(r io.Reader) ([]byte, error) {
	n, err := ReadU64(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// ExpectU64 reads a 64-bit value and fails unless it equals want.
// Used for format magic and version fields.
func ExpectU64(r io.Reader, want uint64, what string) error {
	got, err := ReadU64(r)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("bad %s: got %#x, want %#x", what, got, want)
	}
	return nil
}
