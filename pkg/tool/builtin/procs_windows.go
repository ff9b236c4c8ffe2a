//go:build windows

package builtin

import (
	"errors"
	"os/exec"

	"github.com/stellarlinkco/agentcore/pkg/tool"
)

// ProcessManager is a stub on Windows: background shells require process
// group signalling this port does not implement.
type ProcessManager struct{}

// NewProcessManager constructs the stub.
func NewProcessManager() *ProcessManager { return &ProcessManager{} }

// Launch is unsupported on Windows.
func (m *ProcessManager) Launch(cmd *exec.Cmd) (string, error) {
	return "", errors.New("background shells are not supported on windows")
}

// Kill always fails: no shells can have been launched.
func (m *ProcessManager) Kill(shellID string) (string, error) {
	return "", errors.New("unknown shell id")
}

// KillAll is a no-op.
func (m *ProcessManager) KillAll() {}

var _ tool.ShellTable = (*ProcessManager)(nil)
