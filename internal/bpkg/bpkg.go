// Package bpkg reads and writes bootstrap packages. A bootstrap package is a
// single zip container holding well-known named entries: the agent module, the
// provisioning start marker, both runtime image variants, an optional overlay
// and zero or more add-ons named by ordinal.
package bpkg

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Well-known entry names.
const (
	AgentEntry        = "stamina.bootstrap.agent.jar"
	StartBundleEntry  = "provisioning.start.bundle"
	RuntimeZipEntry   = "stamina.runtime.zip"
	RuntimeTarGzEntry = "stamina.runtime.tar.gz"
	OverlayEntry      = "stamina.runtime.overlay.zip"

	addonPrefix = "stamina.addon."
	addonSuffix = ".esa"
)

// MIMEType designates a bootstrap package file when served over HTTP.
const MIMEType = "application/vnd.stamina.package"

// ErrDuplicateEntry is returned by Write when two entries share a name.
var ErrDuplicateEntry = errors.New("bpkg: duplicate entry")

// AddonEntry returns the entry name of the n-th add-on (zero-based).
func AddonEntry(n int) string {
	return addonPrefix + strconv.Itoa(n) + addonSuffix
}

// AddonOrdinal reports the ordinal encoded in an add-on entry name.
func AddonOrdinal(name string) (int, bool) {
	if !strings.HasPrefix(name, addonPrefix) || !strings.HasSuffix(name, addonSuffix) {
		return 0, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(name, addonPrefix), addonSuffix)
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 || strconv.Itoa(n) != raw {
		return 0, false
	}
	return n, true
}

func duplicateEntryError(name string) error {
	return fmt.Errorf("%w: %s", ErrDuplicateEntry, name)
}
