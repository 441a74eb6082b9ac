package mapper

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DevMapper maps paths for the dev side, where everything lives under a
// single repository root. The wire form of a path is its slash-separated
// position below that root.
type DevMapper struct {
	root string
}

// NewDevMapper builds a mapper rooted at the given absolute directory.
func NewDevMapper(root string) (*DevMapper, error) {
	if root == "" {
		return nil, fmt.Errorf("local directory required")
	}
	root = filepath.Clean(root)
	if !filepath.IsAbs(root) {
		return nil, fmt.Errorf("local directory %q is not absolute", root)
	}
	return &DevMapper{root: root}, nil
}

// Root returns the repository root the mapper was built with.
func (m *DevMapper) Root() string {
	return m.root
}

// ToWire strips the root prefix and converts to the slash form. Paths
// outside the root, and the root itself, are unmapped.
func (m *DevMapper) ToWire(abs string) (string, bool) {
	abs = filepath.Clean(abs)
	prefix := m.root + string(filepath.Separator)
	if !strings.HasPrefix(abs, prefix) {
		return "", false
	}
	return filepath.ToSlash(abs[len(prefix):]), true
}

// FromWire joins the wire path below the root. Paths that would escape the
// root after normalization are unmapped.
func (m *DevMapper) FromWire(rel string) (Target, bool) {
	if rel == "" {
		return Target{}, false
	}
	joined := filepath.Join(m.root, filepath.FromSlash(rel))
	if !strings.HasPrefix(joined, m.root+string(filepath.Separator)) {
		return Target{}, false
	}
	return Target{Path: joined}, true
}
