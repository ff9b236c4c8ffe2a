//go:build linux

package security

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// applyLimitsToProcess installs the configured rlimits on the already-forked
// child, before it has produced any meaningful work. The parent process is
// never constrained.
func applyLimitsToProcess(pid int, limits ResourceLimits) error {
	set := func(resource int, value uint64) error {
		if value == 0 {
			return nil
		}
		lim := unix.Rlimit{Cur: value, Max: value}
		if err := unix.Prlimit(pid, resource, &lim, nil); err != nil {
			return fmt.Errorf("%w: prlimit resource %d: %v", ErrResourceLimitExceeded, resource, err)
		}
		return nil
	}
	if err := set(unix.RLIMIT_CPU, limits.CPUSeconds); err != nil {
		return err
	}
	if err := set(unix.RLIMIT_AS, limits.VirtualMemoryBytes); err != nil {
		return err
	}
	if err := set(unix.RLIMIT_NOFILE, limits.OpenFiles); err != nil {
		return err
	}
	if err := set(unix.RLIMIT_NPROC, limits.ChildProcesses); err != nil {
		return err
	}
	return set(unix.RLIMIT_FSIZE, limits.FileSizeBytes)
}
