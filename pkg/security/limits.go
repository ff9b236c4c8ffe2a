package security

// ResourceLimits constrains child processes spawned through the security
// context. Zero fields leave the corresponding limit untouched.
type ResourceLimits struct {
	CPUSeconds         uint64
	VirtualMemoryBytes uint64
	OpenFiles          uint64
	ChildProcesses     uint64
	FileSizeBytes      uint64
}

// IsZero reports whether no limit is configured.
func (l ResourceLimits) IsZero() bool {
	return l == ResourceLimits{}
}

// DefaultResourceLimits are conservative ceilings suitable for tool
// subprocesses.
func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{
		CPUSeconds:         300,
		VirtualMemoryBytes: 4 << 30,
		OpenFiles:          1024,
		ChildProcesses:     256,
		FileSizeBytes:      1 << 30,
	}
}
