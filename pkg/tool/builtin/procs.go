//go:build !windows

package builtin

import (
	"bytes"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/stellarlinkco/agentcore/pkg/tool"
)

const (
	shellBufferCap = 1 << 20
	shellKillGrace = 5 * time.Second
)

// ProcessManager tracks background shell processes by shell id. It is safe
// for concurrent use and implements tool.ShellTable.
type ProcessManager struct {
	mu     sync.Mutex
	shells map[string]*backgroundShell
}

type backgroundShell struct {
	id   string
	cmd  *exec.Cmd
	buf  *boundedBuffer
	done chan struct{}
}

// NewProcessManager constructs an empty manager.
func NewProcessManager() *ProcessManager {
	return &ProcessManager{shells: map[string]*backgroundShell{}}
}

// Launch starts cmd detached and returns its shell id. Output accumulates in
// a bounded buffer retrievable on Kill.
func (m *ProcessManager) Launch(cmd *exec.Cmd) (string, error) {
	buf := &boundedBuffer{cap: shellBufferCap}
	cmd.Stdout = buf
	cmd.Stderr = buf
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	}
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start background shell: %w", err)
	}

	shell := &backgroundShell{
		id:   "shell_" + uuid.NewString()[:8],
		cmd:  cmd,
		buf:  buf,
		done: make(chan struct{}),
	}
	go func() {
		_ = cmd.Wait()
		close(shell.done)
	}()

	m.mu.Lock()
	m.shells[shell.id] = shell
	m.mu.Unlock()
	return shell.id, nil
}

// Kill terminates the shell gracefully (SIGTERM, then SIGKILL after the
// grace period) and returns its buffered output. Unknown ids fail.
func (m *ProcessManager) Kill(shellID string) (string, error) {
	m.mu.Lock()
	shell, ok := m.shells[shellID]
	if ok {
		delete(m.shells, shellID)
	}
	m.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("unknown shell id %q", shellID)
	}

	select {
	case <-shell.done:
		// Already exited; nothing to signal.
	default:
		pgid := shell.cmd.Process.Pid
		_ = syscall.Kill(-pgid, syscall.SIGTERM)
		select {
		case <-shell.done:
		case <-time.After(shellKillGrace):
			_ = syscall.Kill(-pgid, syscall.SIGKILL)
			<-shell.done
		}
	}
	return shell.buf.String(), nil
}

// KillAll terminates every tracked shell. Used on agent shutdown and
// cancellation so no zombie process remains.
func (m *ProcessManager) KillAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.shells))
	for id := range m.shells {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		_, _ = m.Kill(id)
	}
}

var _ tool.ShellTable = (*ProcessManager)(nil)

// boundedBuffer keeps at most cap bytes, dropping the oldest data (at least
// half the buffer) when full.
type boundedBuffer struct {
	mu  sync.Mutex
	b   bytes.Buffer
	cap int
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(p)
	if len(p) > b.cap {
		p = p[len(p)-b.cap:]
	}
	if b.b.Len()+len(p) > b.cap {
		data := b.b.Bytes()
		keep := b.cap / 2
		if keep > b.cap-len(p) {
			keep = b.cap - len(p)
		}
		if keep > len(data) {
			keep = len(data)
		}
		trimmed := append([]byte(nil), data[len(data)-keep:]...)
		b.b.Reset()
		b.b.Write(trimmed)
	}
	b.b.Write(p)
	return n, nil
}

func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}
