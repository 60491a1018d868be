package installer

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/staminaframework/stamina-bootstrap/internal/bpkg"
)

const (
	subsystemManifest = "OSGI-INF/SUBSYSTEM.MF"
	symbolicNameKey   = "Subsystem-SymbolicName"
	addonExt          = ".esa"
)

// installAddons moves add-ons 0, 1, ... into dir until the first missing
// ordinal. Each is named after its declared symbolic name, or after its
// entry name when none is declared.
func (i *Installer) installAddons(src Source, dir string) ([]string, error) {
	var names []string
	for n := 0; ; n++ {
		key := bpkg.AddonEntry(n)
		data, ok, err := src.Lookup(key)
		if err != nil {
			return names, fmt.Errorf("reading add-on %s: %w", key, err)
		}
		if !ok {
			return names, nil
		}

		if err := os.MkdirAll(dir, 0755); err != nil {
			return names, fmt.Errorf("creating add-ons directory: %w", err)
		}
		name, err := i.installAddon(key, data, dir)
		if err != nil {
			return names, err
		}
		names = append(names, name)
	}
}

func (i *Installer) installAddon(key string, data []byte, dir string) (string, error) {
	tmp, err := os.CreateTemp(dir, ".addon-*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating temporary add-on file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing add-on %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing add-on %s: %w", key, err)
	}

	name, err := symbolicName(tmpName)
	if err != nil {
		i.log.Warn().Err(err).Str("addon", key).Msg("Failed to read add-on manifest")
	}
	if name == "" || name != filepath.Base(name) || name == ".." {
		name = strings.TrimSuffix(key, addonExt)
	}

	file := name + addonExt
	i.log.Debug().Str("addon", file).Msg("Extracting add-on")
	if err := os.Rename(tmpName, filepath.Join(dir, file)); err != nil {
		return "", fmt.Errorf("moving add-on %s into place: %w", file, err)
	}
	return file, nil
}

// symbolicName returns the symbolic name declared by the add-on archive at
// path, or an empty string when it declares none.
func symbolicName(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", err
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.Name != subsystemManifest {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", err
		}
		defer rc.Close()
		value, err := manifestHeader(rc, symbolicNameKey)
		if err != nil {
			return "", err
		}
		if idx := strings.IndexByte(value, ';'); idx >= 0 {
			value = value[:idx]
		}
		return strings.TrimSpace(value), nil
	}
	return "", nil
}

// manifestHeader reads one main-section header from a manifest, joining
// continuation lines (lines starting with a single space).
func manifestHeader(r io.Reader, key string) (string, error) {
	sc := bufio.NewScanner(r)
	var current, value string
	found := false
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			break
		}
		if strings.HasPrefix(line, " ") {
			if found && current == key {
				value += line[1:]
			}
			continue
		}
		if found && current == key {
			return value, nil
		}
		name, v, ok := strings.Cut(line, ":")
		if !ok {
			current = ""
			continue
		}
		current = strings.TrimSpace(name)
		if current == key {
			found = true
			value = strings.TrimPrefix(v, " ")
		}
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	if found {
		return value, nil
	}
	return "", nil
}
