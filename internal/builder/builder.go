// Package builder assembles bootstrap packages from a template resource root,
// an optional overlay and add-ons fetched by URL.
package builder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/staminaframework/stamina-bootstrap/internal/bpkg"
)

// ErrUnsupportedOverlay is returned for overlays that are neither a zip
// archive nor a directory.
var ErrUnsupportedOverlay = errors.New("builder: overlay must be a .zip file or a directory")

// Opener opens an add-on URL as a byte stream.
type Opener interface {
	Open(ctx context.Context, rawURL string) (io.ReadCloser, error)
}

// Result describes a written package.
type Result struct {
	Path    string
	Digest  string
	Entries []string
}

// Builder writes packages. Resources is the directory holding the agent and
// both runtime image templates under their entry names.
type Builder struct {
	Resources string
	Opener    Opener

	log zerolog.Logger
}

// New returns a Builder reading templates from resources.
func New(resources string, opener Opener, log zerolog.Logger) *Builder {
	return &Builder{Resources: resources, Opener: opener, log: log}
}

// Build writes a package to output. Entries are written in order: agent,
// start marker, zip image, tar.gz image, overlay when there is one, then one
// add-on per URL in list order. Any unreadable input fails the build and
// leaves no package at output.
func (b *Builder) Build(ctx context.Context, output, overlay string, addonURLs []string) (*Result, error) {
	b.log.Info().Str("output", output).Int("addons", len(addonURLs)).Msg("Building bootstrap package")

	entries := []bpkg.Entry{
		bpkg.FileEntry(bpkg.AgentEntry, b.resource(bpkg.AgentEntry)),
		bpkg.BytesEntry(bpkg.StartBundleEntry, []byte(bpkg.AgentEntry)),
		bpkg.FileEntry(bpkg.RuntimeZipEntry, b.resource(bpkg.RuntimeZipEntry)),
		bpkg.FileEntry(bpkg.RuntimeTarGzEntry, b.resource(bpkg.RuntimeTarGzEntry)),
	}

	overlayPath, cleanup, err := b.resolveOverlay(overlay)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	if overlayPath != "" {
		entries = append(entries, bpkg.FileEntry(bpkg.OverlayEntry, overlayPath))
	}

	for n, u := range addonURLs {
		entries = append(entries, b.addonEntry(ctx, n, u))
	}

	if err := bpkg.Write(output, entries); err != nil {
		return nil, fmt.Errorf("writing bootstrap package: %w", err)
	}

	digest, err := bpkg.Digest(output)
	if err != nil {
		return nil, err
	}

	res := &Result{Path: output, Digest: digest}
	for _, e := range entries {
		res.Entries = append(res.Entries, e.Name)
	}
	b.log.Info().Str("output", output).Str("blake3", digest).Int("entries", len(entries)).Msg("Bootstrap package built")
	return res, nil
}

func (b *Builder) resource(name string) string {
	return filepath.Join(b.Resources, name)
}

func (b *Builder) addonEntry(ctx context.Context, n int, rawURL string) bpkg.Entry {
	return bpkg.Entry{
		Name: bpkg.AddonEntry(n),
		Open: func() (io.ReadCloser, error) {
			b.log.Debug().Int("ordinal", n).Str("url", rawURL).Msg("Adding add-on")
			rc, err := b.Opener.Open(ctx, rawURL)
			if err != nil {
				return nil, fmt.Errorf("fetching add-on %s: %w", rawURL, err)
			}
			return rc, nil
		},
	}
}

// resolveOverlay returns the file to embed as the overlay entry, or an empty
// path when there is nothing to embed. cleanup removes any temporary archive.
func (b *Builder) resolveOverlay(overlay string) (path string, cleanup func(), err error) {
	cleanup = func() {}
	if overlay == "" {
		return "", cleanup, nil
	}

	info, err := os.Stat(overlay)
	if err != nil {
		return "", cleanup, fmt.Errorf("reading overlay: %w", err)
	}
	if !info.IsDir() {
		if !strings.EqualFold(filepath.Ext(overlay), ".zip") {
			return "", cleanup, fmt.Errorf("%w: %s", ErrUnsupportedOverlay, overlay)
		}
		b.log.Debug().Str("overlay", overlay).Msg("Using overlay archive")
		return overlay, cleanup, nil
	}

	tmp, err := os.CreateTemp("", "stamina-overlay-*.zip")
	if err != nil {
		return "", cleanup, fmt.Errorf("creating overlay archive: %w", err)
	}
	tmp.Close()
	cleanup = func() { os.Remove(tmp.Name()) }

	files, err := archiveDir(overlay, tmp.Name())
	if err != nil {
		cleanup()
		return "", func() {}, err
	}
	if files == 0 {
		b.log.Debug().Str("overlay", overlay).Msg("Overlay directory is empty")
		cleanup()
		return "", func() {}, nil
	}
	b.log.Debug().Str("overlay", overlay).Int("files", files).Msg("Overlay directory archived")
	return tmp.Name(), cleanup, nil
}
