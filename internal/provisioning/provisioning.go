// Package provisioning exposes a bootstrap package as read-only provisioning
// information: a key/value view over its entries with one indirection key
// naming the agent entry.
//
// Entry content is never cached. Each Lookup re-opens the package and reads
// the one requested entry, so a reader over a package carrying a full runtime
// image holds nothing but the entry index in memory.
package provisioning

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/staminaframework/stamina-bootstrap/internal/bpkg"
)

// StartKey is the provisioning key that resolves to the agent entry name.
const StartKey = bpkg.StartBundleEntry

// ErrMissingAgent is returned by Open when the start marker is absent, empty or
// names an entry the package does not contain.
var ErrMissingAgent = errors.New("provisioning: missing agent entry")

// Info is the provisioning information of one bootstrap package. It is safe
// for concurrent use since every lookup opens its own archive handle.
type Info struct {
	path  string
	agent string
	keys  map[string]struct{}
}

// Open scans the package at path once, indexing entry names and resolving the
// start marker to the agent entry name.
func Open(path string) (*Info, error) {
	r, err := bpkg.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	keys := make(map[string]struct{})
	for _, name := range r.Names() {
		keys[name] = struct{}{}
	}

	marker, ok, err := r.ReadEntry(StartKey)
	if err != nil {
		return nil, fmt.Errorf("reading start marker: %w", err)
	}
	agent := strings.TrimSpace(string(marker))
	if !ok || agent == "" {
		return nil, fmt.Errorf("%w: no start marker in %s", ErrMissingAgent, path)
	}
	if _, exists := keys[agent]; !exists {
		return nil, fmt.Errorf("%w: start marker names unknown entry %s", ErrMissingAgent, agent)
	}

	return &Info{path: path, agent: agent, keys: keys}, nil
}

// Path returns the package file backing this information.
func (i *Info) Path() string {
	return i.path
}

// AgentName returns the entry name designated by the start marker.
func (i *Info) AgentName() string {
	return i.agent
}

// Keys returns all known keys, sorted.
func (i *Info) Keys() []string {
	keys := make([]string, 0, len(i.keys))
	for k := range i.keys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Has reports whether key is known, without reading any content.
func (i *Info) Has(key string) bool {
	_, ok := i.keys[key]
	return ok
}

// Lookup returns the value for key. The start key yields the agent entry name;
// every other key yields the entry content read fresh from the package. Unknown
// keys report false with a nil error.
func (i *Info) Lookup(key string) ([]byte, bool, error) {
	if key == StartKey {
		return []byte(i.agent), true, nil
	}
	if !i.Has(key) {
		return nil, false, nil
	}

	r, err := bpkg.Open(i.path)
	if err != nil {
		return nil, false, err
	}
	defer r.Close()

	return r.ReadEntry(key)
}
