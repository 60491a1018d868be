package builder

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mholt/archiver"

	"github.com/staminaframework/stamina-bootstrap/internal/bpkg"
)

// PrepareResources fills a template resource root: the agent file is copied
// under its entry name and runtimeDir is archived, with its own folder as the
// top-level entry, into both runtime image formats. Existing templates are
// replaced.
func PrepareResources(agent, runtimeDir, resources string) error {
	info, err := os.Stat(runtimeDir)
	if err != nil {
		return fmt.Errorf("reading runtime directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("runtime %s is not a directory", runtimeDir)
	}
	if err := os.MkdirAll(resources, 0755); err != nil {
		return fmt.Errorf("creating resource directory %s: %w", resources, err)
	}

	if err := copyFile(agent, filepath.Join(resources, bpkg.AgentEntry)); err != nil {
		return fmt.Errorf("copying agent: %w", err)
	}

	z := archiver.NewZip()
	z.OverwriteExisting = true
	if err := z.Archive([]string{runtimeDir}, filepath.Join(resources, bpkg.RuntimeZipEntry)); err != nil {
		return fmt.Errorf("archiving zip runtime image: %w", err)
	}

	tgz := archiver.NewTarGz()
	tgz.OverwriteExisting = true
	if err := tgz.Archive([]string{runtimeDir}, filepath.Join(resources, bpkg.RuntimeTarGzEntry)); err != nil {
		return fmt.Errorf("archiving tar.gz runtime image: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
