// Package installer extracts a runtime image and its add-ons from provisioning
// information onto disk.
package installer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rs/zerolog"

	"github.com/staminaframework/stamina-bootstrap/internal/bpkg"
)

// AddonsDir is the runtime subdirectory receiving renamed add-ons.
const AddonsDir = "addons"

var (
	// ErrMissingRuntimeImage is returned when the platform image is absent.
	ErrMissingRuntimeImage = errors.New("installer: missing runtime image")
	// ErrUnsafePath is returned for archive entries escaping the runtime directory.
	ErrUnsafePath = errors.New("installer: archive entry escapes runtime directory")
)

// Source resolves provisioning keys to content. Unknown keys report false.
type Source interface {
	Lookup(key string) ([]byte, bool, error)
}

// Result describes a completed installation.
type Result struct {
	Image   string
	Files   int
	Overlay bool
	Addons  []string
}

// Installer extracts runtimes. Platform selects the image variant and
// defaults to the running OS.
type Installer struct {
	Platform string

	log zerolog.Logger
}

// New returns an Installer for the running platform.
func New(log zerolog.Logger) *Installer {
	return &Installer{Platform: runtime.GOOS, log: log}
}

// ImageKey returns the provisioning key of the runtime image for a platform:
// the zip variant on Windows, the tar.gz variant everywhere else.
func ImageKey(platform string) string {
	if platform == "windows" {
		return bpkg.RuntimeZipEntry
	}
	return bpkg.RuntimeTarGzEntry
}

// Install extracts the runtime image into runtimeDir, merges the overlay when
// present, then extracts add-ons into runtimeDir/addons. Any I/O error aborts
// the installation; marking it complete is left to the caller.
func (i *Installer) Install(src Source, runtimeDir string) (*Result, error) {
	key := ImageKey(i.Platform)
	i.log.Debug().Str("image", key).Msg("Using runtime type")

	image, ok, err := src.Lookup(key)
	if err != nil {
		return nil, fmt.Errorf("reading runtime image: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRuntimeImage, key)
	}

	if err := os.MkdirAll(runtimeDir, 0755); err != nil {
		return nil, fmt.Errorf("creating runtime directory %s: %w", runtimeDir, err)
	}

	res := &Result{Image: key}
	i.log.Debug().Str("dir", runtimeDir).Msg("Extracting runtime")
	if key == bpkg.RuntimeZipEntry {
		res.Files, err = i.extractZip(image, runtimeDir, true)
	} else {
		res.Files, err = i.extractTarGz(image, runtimeDir)
		if err == nil && i.Platform != "windows" {
			err = makeLaunchersExecutable(filepath.Join(runtimeDir, "bin"))
		}
	}
	if err != nil {
		return nil, err
	}

	overlay, ok, err := src.Lookup(bpkg.OverlayEntry)
	if err != nil {
		return nil, fmt.Errorf("reading overlay: %w", err)
	}
	if ok {
		n, err := i.extractZip(overlay, runtimeDir, false)
		if err != nil {
			return nil, fmt.Errorf("applying overlay: %w", err)
		}
		i.log.Debug().Int("files", n).Msg("Overlay applied")
		res.Files += n
		res.Overlay = true
	}

	res.Addons, err = i.installAddons(src, filepath.Join(runtimeDir, AddonsDir))
	if err != nil {
		return nil, err
	}

	i.log.Info().
		Str("dir", runtimeDir).
		Int("files", res.Files).
		Int("addons", len(res.Addons)).
		Msg("Runtime extracted")
	return res, nil
}

// stripRoot removes the image's own top-level folder from an entry name.
func stripRoot(name string) string {
	name = strings.TrimPrefix(filepath.ToSlash(name), "./")
	if idx := strings.IndexByte(name, '/'); idx >= 0 {
		return name[idx+1:]
	}
	return name
}

// target maps a slash-separated relative name to a path under root.
func target(root, rel string) (string, error) {
	path := filepath.Join(root, filepath.FromSlash(rel))
	if !isWithin(path, root) || path == filepath.Clean(root) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, rel)
	}
	return path, nil
}

func isWithin(path string, root string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, ".."+string(os.PathSeparator)) && rel != "..")
}

// makeLaunchersExecutable grants owner and group read and execute on every
// file directly inside binDir.
func makeLaunchersExecutable(binDir string) error {
	entries, err := os.ReadDir(binDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("listing %s: %w", binDir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return fmt.Errorf("inspecting %s: %w", e.Name(), err)
		}
		path := filepath.Join(binDir, e.Name())
		if err := os.Chmod(path, info.Mode().Perm()|0550); err != nil {
			return fmt.Errorf("setting permissions on %s: %w", path, err)
		}
	}
	return nil
}
