//go:build linux

package security

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

const landlockFSAccess = unix.LANDLOCK_ACCESS_FS_EXECUTE |
	unix.LANDLOCK_ACCESS_FS_WRITE_FILE |
	unix.LANDLOCK_ACCESS_FS_READ_FILE |
	unix.LANDLOCK_ACCESS_FS_READ_DIR |
	unix.LANDLOCK_ACCESS_FS_REMOVE_DIR |
	unix.LANDLOCK_ACCESS_FS_REMOVE_FILE |
	unix.LANDLOCK_ACCESS_FS_MAKE_DIR |
	unix.LANDLOCK_ACCESS_FS_MAKE_REG |
	unix.LANDLOCK_ACCESS_FS_MAKE_SYM

const landlockReadAccess = unix.LANDLOCK_ACCESS_FS_EXECUTE |
	unix.LANDLOCK_ACCESS_FS_READ_FILE |
	unix.LANDLOCK_ACCESS_FS_READ_DIR

// IsAvailable probes the kernel for Landlock support by querying the ABI
// version.
func (s *Sandbox) IsAvailable() bool {
	abi, _, errno := unix.Syscall(unix.SYS_LANDLOCK_CREATE_RULESET, 0, 0, unix.LANDLOCK_CREATE_RULESET_VERSION)
	return errno == 0 && int(abi) >= 1
}

// Enter builds a Landlock ruleset granting the working directory read/write
// and the enumerated system paths read-only, then self-restricts the calling
// process.
func (s *Sandbox) Enter() error {
	if s == nil || !s.cfg.Enabled {
		return nil
	}
	if !s.IsAvailable() {
		return ErrSandboxUnavailable
	}

	attr := unix.LandlockRulesetAttr{Access_fs: landlockFSAccess}
	fd, _, errno := unix.Syscall(unix.SYS_LANDLOCK_CREATE_RULESET,
		uintptr(unsafe.Pointer(&attr)), unsafe.Sizeof(attr), 0)
	if errno != 0 {
		return fmt.Errorf("security: create landlock ruleset: %w", errno)
	}
	rulesetFD := int(fd)
	defer unix.Close(rulesetFD)

	addRule := func(path string, access uint64) error {
		pathFD, err := unix.Open(path, unix.O_PATH|unix.O_CLOEXEC, 0)
		if err != nil {
			// Missing system paths are skipped rather than failing activation.
			return nil
		}
		defer unix.Close(pathFD)
		rule := unix.LandlockPathBeneathAttr{Allowed_access: access, Parent_fd: int32(pathFD)}
		_, _, errno := unix.Syscall6(unix.SYS_LANDLOCK_ADD_RULE,
			uintptr(rulesetFD), unix.LANDLOCK_RULE_PATH_BENEATH,
			uintptr(unsafe.Pointer(&rule)), 0, 0, 0)
		if errno != 0 {
			return fmt.Errorf("security: add landlock rule for %s: %w", path, errno)
		}
		return nil
	}

	if s.cfg.AutoAllowProjectDir && s.root != "" {
		if err := addRule(s.root, landlockFSAccess); err != nil {
			return err
		}
	}
	for _, path := range s.cfg.ReadOnlyPaths {
		if err := addRule(path, landlockReadAccess); err != nil {
			return err
		}
	}
	if err := addRule("/tmp", landlockFSAccess); err != nil {
		return err
	}

	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("security: set no_new_privs: %w", err)
	}
	_, _, errno = unix.Syscall(unix.SYS_LANDLOCK_RESTRICT_SELF, uintptr(rulesetFD), 0, 0)
	if errno != 0 {
		return fmt.Errorf("security: landlock restrict self: %w", errno)
	}
	return nil
}

// WrapCommand is the identity on Linux; confinement happens via Enter.
func (s *Sandbox) WrapCommand(argv []string) []string { return argv }
