// Package fsguard validates externally supplied paths (environment
// files, spec directories) against an allowed root. Escapes are a
// distinct security-class error, not a generic I/O failure, so callers
// can refuse loudly instead of retrying.
package fsguard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsafePath marks directory traversal or symlink escapes outside
// the allowed root.
var ErrUnsafePath = errors.New("path escapes allowed root")

// ResolveWithin resolves path relative to root and returns the
// absolute, symlink-resolved location. It fails with ErrUnsafePath if
// the result lands outside root, whether via ".." segments or via a
// symlink in any existing path component.
func ResolveWithin(root, path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("%w: empty path", ErrUnsafePath)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	resolvedRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return "", fmt.Errorf("resolving root %s: %w", root, err)
	}

	cand := path
	if !filepath.IsAbs(cand) {
		cand = filepath.Join(absRoot, cand)
	}
	cand = filepath.Clean(cand)

	// Lexical containment first: catches plain ".." traversal even
	// when the target does not exist yet.
	if !within(absRoot, cand) && !within(resolvedRoot, cand) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, path)
	}

	// Resolve symlinks on the deepest existing prefix so a link inside
	// the root cannot point the final path outside it.
	resolved, err := resolveExisting(cand)
	if err != nil {
		return "", err
	}
	if !within(resolvedRoot, resolved) {
		return "", fmt.Errorf("%w: %s resolves to %s", ErrUnsafePath, path, resolved)
	}
	return resolved, nil
}

// resolveExisting is EvalSymlinks that tolerates a not-yet-existing
// tail: missing components are re-appended verbatim after the existing
// prefix is resolved.
func resolveExisting(p string) (string, error) {
	var tail []string
	cur := p
	for {
		r, err := filepath.EvalSymlinks(cur)
		if err == nil {
			for i := len(tail) - 1; i >= 0; i-- {
				r = filepath.Join(r, tail[i])
			}
			return r, nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p, nil
		}
		tail = append(tail, filepath.Base(cur))
		cur = parent
	}
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
