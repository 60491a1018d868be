package installer

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

const copyBufferSize = 4096

// extractZip writes every regular file of a zip archive under dir, stripping
// the first path segment when strip is set.
func (i *Installer) extractZip(data []byte, dir string, strip bool) (int, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("opening zip image: %w", err)
	}

	buf := make([]byte, copyBufferSize)
	files := 0
	for _, f := range zr.File {
		name := filepath.ToSlash(f.Name)
		if strip {
			name = stripRoot(name)
		}
		if name == "" || strings.HasSuffix(name, "/") || f.FileInfo().IsDir() {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return files, fmt.Errorf("opening image entry %s: %w", f.Name, err)
		}
		err = i.writeFile(dir, name, rc, buf)
		rc.Close()
		if err != nil {
			return files, err
		}
		files++
	}
	return files, nil
}

// extractTarGz decompresses the image into a temporary tar file, which is
// always removed, then writes every regular file under dir with the first
// path segment stripped.
func (i *Installer) extractTarGz(data []byte, dir string) (files int, err error) {
	tmp, err := os.CreateTemp("", "stamina-runtime-*.tar")
	if err != nil {
		return 0, fmt.Errorf("creating temporary tar file: %w", err)
	}
	defer func() {
		tmp.Close()
		if rmErr := os.Remove(tmp.Name()); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			i.log.Warn().Err(rmErr).Str("path", tmp.Name()).Msg("Failed to remove temporary tar file")
		}
	}()

	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("opening gzip image: %w", err)
	}
	if _, err := io.Copy(tmp, gz); err != nil {
		gz.Close()
		return 0, fmt.Errorf("decompressing runtime image: %w", err)
	}
	gz.Close()
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("rewinding tar file: %w", err)
	}

	tr := tar.NewReader(tmp)
	buf := make([]byte, copyBufferSize)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return files, nil
		}
		if err != nil {
			return files, fmt.Errorf("reading tar image: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := stripRoot(hdr.Name)
		if name == "" {
			continue
		}
		if err := i.writeFile(dir, name, tr, buf); err != nil {
			return files, err
		}
		files++
	}
}

func (i *Installer) writeFile(root, rel string, r io.Reader, buf []byte) error {
	path, err := target(root, rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", rel, err)
	}

	i.log.Debug().Str("file", rel).Msg("Extracting file")
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if _, err := io.CopyBuffer(out, r, buf); err != nil {
		out.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	return nil
}
