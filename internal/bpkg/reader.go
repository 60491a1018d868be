package bpkg

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/klauspost/compress/zip"
	"github.com/zeebo/blake3"
)

// maxPrealloc bounds the buffer reserved up front from an entry's declared size.
const maxPrealloc = 64 << 20

// ErrEntrySize is returned when an entry holds more bytes than it declares.
var ErrEntrySize = errors.New("bpkg: entry larger than its declared size")

// Reader gives streamed access to the entries of an open package.
type Reader struct {
	zr    *zip.ReadCloser
	index map[string]*zip.File
}

// Open opens the package at path for reading.
func Open(path string) (*Reader, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening bootstrap package %s: %w", path, err)
	}
	index := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		index[f.Name] = f
	}
	return &Reader{zr: zr, index: index}, nil
}

// Names returns entry names in archive order.
func (r *Reader) Names() []string {
	names := make([]string, 0, len(r.zr.File))
	for _, f := range r.zr.File {
		names = append(names, f.Name)
	}
	return names
}

// Has reports whether the package contains the named entry.
func (r *Reader) Has(name string) bool {
	_, ok := r.index[name]
	return ok
}

// OpenEntry streams the named entry. The boolean is false when the entry does not exist.
func (r *Reader) OpenEntry(name string) (io.ReadCloser, bool, error) {
	f, ok := r.index[name]
	if !ok {
		return nil, false, nil
	}
	rc, err := f.Open()
	if err != nil {
		return nil, true, fmt.Errorf("opening entry %s: %w", name, err)
	}
	return rc, true, nil
}

// ReadEntry reads the whole named entry. The declared size sizes the buffer
// only up to maxPrealloc and is never trusted beyond what the entry holds.
func (r *Reader) ReadEntry(name string) ([]byte, bool, error) {
	f, ok := r.index[name]
	if !ok {
		return nil, false, nil
	}
	rc, err := f.Open()
	if err != nil {
		return nil, true, fmt.Errorf("opening entry %s: %w", name, err)
	}
	defer rc.Close()

	size := f.UncompressedSize64
	var buf bytes.Buffer
	if size > 0 && size <= maxPrealloc {
		buf.Grow(int(size))
	}
	limit := int64(math.MaxInt64)
	if size < math.MaxInt64 {
		limit = int64(size) + 1
	}
	n, err := buf.ReadFrom(io.LimitReader(rc, limit))
	if err != nil {
		return nil, true, fmt.Errorf("reading entry %s: %w", name, err)
	}
	if uint64(n) > size {
		return nil, true, fmt.Errorf("%w: %s declares %d bytes", ErrEntrySize, name, size)
	}
	return buf.Bytes(), true, nil
}

// Close releases the underlying archive.
func (r *Reader) Close() error {
	return r.zr.Close()
}

// Digest returns the hex BLAKE3 digest of the file at path.
func Digest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
