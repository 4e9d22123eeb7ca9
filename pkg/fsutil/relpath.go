package fsutil

import (
	"errors"
	"path/filepath"
	"strings"
)

// ErrNotRepresentable is returned when a path falls outside the watch root
// and so has no meaningful server-relative form.
var ErrNotRepresentable = errors.New("path not representable relative to watch root")

// RelPath computes path relative to root, normalized to forward slashes
// regardless of host platform. Paths outside root are rejected rather than
// producing a "../" escape.
func RelPath(root, path string) (string, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", ErrNotRepresentable
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || strings.HasPrefix(rel, "../") || rel == ".." {
		return "", ErrNotRepresentable
	}
	return rel, nil
}
