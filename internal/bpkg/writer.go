package bpkg

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zip"
)

// copyBufferSize bounds the memory used per entry copy, whatever the entry size.
const copyBufferSize = 4096

// Entry is one named blob to be written into a package. Open is called once,
// when the entry's turn comes, so large sources are never held open longer
// than needed.
type Entry struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// BytesEntry returns an entry backed by an in-memory blob.
func BytesEntry(name string, data []byte) Entry {
	return Entry{
		Name: name,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// FileEntry returns an entry streamed from a local file.
func FileEntry(name, path string) Entry {
	return Entry{
		Name: name,
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}
}

// Write streams entries, in order, into a new package at path. The package is
// assembled in a temporary file next to path and renamed into place only once
// every entry has been written, so a failed write never leaves a file at path.
func Write(path string, entries []Entry) (err error) {
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if _, ok := seen[e.Name]; ok {
			return duplicateEntryError(e.Name)
		}
		seen[e.Name] = struct{}{}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating package directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".bootstrap-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temporary package file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	zw := zip.NewWriter(tmp)
	buf := make([]byte, copyBufferSize)
	modified := time.Now()
	for _, e := range entries {
		if err := writeEntry(zw, e, buf, modified); err != nil {
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finishing package archive: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing package file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing package file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("publishing package file %s: %w", path, err)
	}
	return nil
}

func writeEntry(zw *zip.Writer, e Entry, buf []byte, modified time.Time) error {
	src, err := e.Open()
	if err != nil {
		return fmt.Errorf("opening source for entry %s: %w", e.Name, err)
	}
	defer src.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     e.Name,
		Method:   zip.Deflate,
		Modified: modified,
	})
	if err != nil {
		return fmt.Errorf("creating entry %s: %w", e.Name, err)
	}
	if _, err := io.CopyBuffer(w, src, buf); err != nil {
		return fmt.Errorf("writing entry %s: %w", e.Name, err)
	}
	return nil
}
