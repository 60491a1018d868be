package installer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// InitConfFile is written under the runtime etc/ directory by WriteInitConf.
const InitConfFile = "org.apache.felix.fileinstall-init.cfg"

// WriteInitConf points the runtime's configuration watcher at initDir. It
// does nothing when initDir is empty.
func (i *Installer) WriteInitConf(runtimeDir, initDir string) error {
	if initDir == "" {
		return nil
	}
	i.log.Info().Str("dir", initDir).Msg("Using configuration directory")

	etc := filepath.Join(runtimeDir, "etc")
	if err := os.MkdirAll(etc, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", etc, err)
	}

	var b strings.Builder
	b.WriteString("# Generated file: DO NOT MODIFY IT!\n")
	fmt.Fprintf(&b, "felix.fileinstall.dir=%s\n", strings.ReplaceAll(initDir, `\`, "/"))
	b.WriteString("felix.fileinstall.filter=.*\\\\.(cfg|config)\n")
	b.WriteString("felix.fileinstall.poll=1000\n")
	b.WriteString("felix.fileinstall.log.level=3\n")

	path := filepath.Join(etc, InitConfFile)
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
