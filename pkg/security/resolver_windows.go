//go:build windows

package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Windows lacks FD-relative opens with symlink control; fall back to lexical
// resolution plus a post-resolution containment check.
type rootHandle struct{}

func (r *Resolver) openRoot() error  { return nil }
func (r *Resolver) closeRoot() error { return nil }

func (r *Resolver) walkOpen(inside string, flags int, perm os.FileMode) (string, *os.File, error) {
	resolved, err := r.walkResolve(inside)
	if err != nil {
		return "", nil, err
	}
	f, err := os.OpenFile(filepath.Join(r.root, filepath.FromSlash(resolved)), flags, perm)
	if err != nil {
		return "", nil, err
	}
	return resolved, f, nil
}

func (r *Resolver) walkResolve(inside string) (string, error) {
	full := filepath.Join(r.root, filepath.FromSlash(inside))
	eval, err := filepath.EvalSymlinks(filepath.Dir(full))
	if err != nil {
		if os.IsNotExist(err) {
			eval = filepath.Dir(full)
		} else {
			return "", fmt.Errorf("security: resolve %s: %w", inside, err)
		}
	}
	resolved := filepath.Join(eval, filepath.Base(full))
	rel, err := filepath.Rel(r.root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathOutsideRoot, inside)
	}
	return filepath.ToSlash(rel), nil
}

func (r *Resolver) renameAt(oldRel, newRel string) error {
	oldResolved, err := r.walkResolve(oldRel)
	if err != nil {
		return err
	}
	newResolved, err := r.walkResolve(newRel)
	if err != nil {
		return err
	}
	return os.Rename(
		filepath.Join(r.root, filepath.FromSlash(oldResolved)),
		filepath.Join(r.root, filepath.FromSlash(newResolved)),
	)
}

func (r *Resolver) removeAt(rel string) error {
	resolved, err := r.walkResolve(rel)
	if err != nil {
		return err
	}
	return os.Remove(filepath.Join(r.root, filepath.FromSlash(resolved)))
}
