//go:build !windows

package security

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

type rootHandle struct {
	fd int
}

func (r *Resolver) openRoot() error {
	fd, err := unix.Open(r.root, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("security: open root %s: %w", r.root, err)
	}
	r.handle = rootHandle{fd: fd}
	return nil
}

func (r *Resolver) closeRoot() error {
	if r.handle.fd > 0 {
		err := unix.Close(r.handle.fd)
		r.handle.fd = -1
		return err
	}
	return nil
}

// walkOpen resolves inside to its parent directory FD-relatively, then opens
// the final component with O_NOFOLLOW. A symlink at the final component is
// dereferenced explicitly under the depth budget and the walk restarts.
func (r *Resolver) walkOpen(inside string, flags int, perm os.FileMode) (string, *os.File, error) {
	depth := 0
	current := inside
	for {
		dirFD, base, parentRel, ownDir, err := r.resolveParent(current, &depth)
		if err != nil {
			return "", nil, err
		}
		fd, err := unix.Openat(dirFD, base, flags|unix.O_NOFOLLOW|unix.O_CLOEXEC, uint32(perm.Perm()))
		if err == nil {
			resolved := path.Join(parentRel, base)
			closeIfOwned(dirFD, ownDir)
			return resolved, os.NewFile(uintptr(fd), filepath.Join(r.root, filepath.FromSlash(resolved))), nil
		}
		if !errors.Is(err, unix.ELOOP) && !errors.Is(err, unix.EMLINK) {
			closeIfOwned(dirFD, ownDir)
			return "", nil, fmt.Errorf("security: open %s: %w", path.Join(parentRel, base), err)
		}

		target, rerr := readlinkat(dirFD, base)
		closeIfOwned(dirFD, ownDir)
		if rerr != nil {
			return "", nil, fmt.Errorf("security: readlink %s: %w", base, rerr)
		}
		depth++
		if depth > r.maxSymlinkDepth {
			return "", nil, fmt.Errorf("%w: %s", ErrSymlinkDepthExceeded, inside)
		}
		current, err = r.rebase(parentRel, target)
		if err != nil {
			return "", nil, err
		}
	}
}

// walkResolve resolves inside without opening the final file.
func (r *Resolver) walkResolve(inside string) (string, error) {
	depth := 0
	current := inside
	for {
		dirFD, base, parentRel, ownDir, err := r.resolveParent(current, &depth)
		if err != nil {
			return "", err
		}
		var st unix.Stat_t
		err = unix.Fstatat(dirFD, base, &st, unix.AT_SYMLINK_NOFOLLOW)
		if err != nil && !errors.Is(err, unix.ENOENT) {
			closeIfOwned(dirFD, ownDir)
			return "", fmt.Errorf("security: stat %s: %w", path.Join(parentRel, base), err)
		}
		if err != nil || st.Mode&unix.S_IFMT != unix.S_IFLNK {
			closeIfOwned(dirFD, ownDir)
			return path.Join(parentRel, base), nil
		}
		target, rerr := readlinkat(dirFD, base)
		closeIfOwned(dirFD, ownDir)
		if rerr != nil {
			return "", fmt.Errorf("security: readlink %s: %w", base, rerr)
		}
		depth++
		if depth > r.maxSymlinkDepth {
			return "", fmt.Errorf("%w: %s", ErrSymlinkDepthExceeded, inside)
		}
		current, err = r.rebase(parentRel, target)
		if err != nil {
			return "", err
		}
	}
}

// resolveParent walks every component but the last, opening each directory
// FD-relatively with O_NOFOLLOW. Intermediate symlinks are dereferenced under
// the shared depth budget, restarting the walk with the rebased path.
// Returns the parent directory descriptor (ownDir reports whether the caller
// must close it), the final component, and the parent's resolved rel path.
func (r *Resolver) resolveParent(inside string, depth *int) (int, string, string, bool, error) {
	current := inside
restart:
	comps := strings.Split(current, "/")
	base := comps[len(comps)-1]
	parents := comps[:len(comps)-1]

	dirFD := r.handle.fd
	ownDir := false
	walked := make([]string, 0, len(parents))

	for i, comp := range parents {
		if comp == "" || comp == "." {
			continue
		}
		fd, err := unix.Openat(dirFD, comp, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_NOFOLLOW|unix.O_CLOEXEC, 0)
		if err == nil {
			closeIfOwned(dirFD, ownDir)
			dirFD = fd
			ownDir = true
			walked = append(walked, comp)
			continue
		}
		// On Linux, O_DIRECTORY|O_NOFOLLOW on a symlink fails with ENOTDIR
		// rather than ELOOP, so both errors are probed as a possible link.
		if !errors.Is(err, unix.ELOOP) && !errors.Is(err, unix.ENOTDIR) {
			closeIfOwned(dirFD, ownDir)
			return -1, "", "", false, fmt.Errorf("security: open dir %s: %w", path.Join(append(walked, comp)...), err)
		}

		target, rerr := readlinkat(dirFD, comp)
		closeIfOwned(dirFD, ownDir)
		if rerr != nil {
			if errors.Is(err, unix.ENOTDIR) {
				return -1, "", "", false, fmt.Errorf("security: open dir %s: %w", path.Join(append(walked, comp)...), err)
			}
			return -1, "", "", false, fmt.Errorf("security: readlink %s: %w", comp, rerr)
		}
		*depth++
		if *depth > r.maxSymlinkDepth {
			return -1, "", "", false, fmt.Errorf("%w: %s", ErrSymlinkDepthExceeded, inside)
		}
		rebased, err := r.rebase(path.Join(walked...), target)
		if err != nil {
			return -1, "", "", false, err
		}
		remaining := append([]string{rebased}, parents[i+1:]...)
		remaining = append(remaining, base)
		current = path.Clean(path.Join(remaining...))
		if current == ".." || strings.HasPrefix(current, "../") {
			return -1, "", "", false, fmt.Errorf("%w: %s", ErrPathOutsideRoot, inside)
		}
		goto restart
	}
	return dirFD, base, path.Join(walked...), ownDir, nil
}

// rebase computes the new in-root path after dereferencing a symlink found
// under parentRel. Absolute targets must land back inside the root.
func (r *Resolver) rebase(parentRel, target string) (string, error) {
	if path.IsAbs(target) {
		cleaned := filepath.Clean(target)
		rel, err := filepath.Rel(r.root, cleaned)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("%w: symlink target %s", ErrPathOutsideRoot, target)
		}
		return filepath.ToSlash(rel), nil
	}
	joined := path.Clean(path.Join(parentRel, target))
	if joined == ".." || strings.HasPrefix(joined, "../") {
		return "", fmt.Errorf("%w: symlink target %s", ErrPathOutsideRoot, target)
	}
	return joined, nil
}

func (r *Resolver) renameAt(oldRel, newRel string) error {
	depth := 0
	oldFD, oldBase, _, ownOld, err := r.resolveParent(oldRel, &depth)
	if err != nil {
		return err
	}
	defer closeIfOwned(oldFD, ownOld)
	newFD, newBase, _, ownNew, err := r.resolveParent(newRel, &depth)
	if err != nil {
		return err
	}
	defer closeIfOwned(newFD, ownNew)
	if err := unix.Renameat(oldFD, oldBase, newFD, newBase); err != nil {
		return fmt.Errorf("security: rename %s -> %s: %w", oldRel, newRel, err)
	}
	return nil
}

func (r *Resolver) removeAt(rel string) error {
	depth := 0
	dirFD, base, _, ownDir, err := r.resolveParent(rel, &depth)
	if err != nil {
		return err
	}
	defer closeIfOwned(dirFD, ownDir)
	if err := unix.Unlinkat(dirFD, base, 0); err != nil {
		return fmt.Errorf("security: remove %s: %w", rel, err)
	}
	return nil
}

func readlinkat(dirFD int, name string) (string, error) {
	buf := make([]byte, 4096)
	n, err := unix.Readlinkat(dirFD, name, buf)
	if err != nil {
		return "", err
	}
	return string(buf[:n]), nil
}

func closeIfOwned(fd int, owned bool) {
	if owned && fd >= 0 {
		_ = unix.Close(fd)
	}
}
