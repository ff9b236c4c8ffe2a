package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Command hook protocol: the payload is delivered as JSON on stdin. Exit 0
// means allow, with optional JSON output on stdout; exit 2 is a blocking
// error whose message is stderr; any other exit is non-blocking and logged.
func (m *Manager) runCommand(ctx context.Context, h Hook, payload *Payload) (*Output, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("hooks: marshal payload: %w", err)
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", h.Command)
	cmd.Env = commandEnv(h.Env)
	if m.workDir != "" {
		cmd.Dir = m.workDir
	}
	cmd.Stdin = bytes.NewReader(data)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("hooks: %s timed out after %s", h.Name, h.Timeout)
	}

	switch code := exitStatus(runErr); {
	case code == 0:
		trimmed := strings.TrimSpace(stdout.String())
		if trimmed == "" {
			return nil, nil
		}
		var out Output
		if err := json.Unmarshal([]byte(trimmed), &out); err != nil {
			return nil, fmt.Errorf("hooks: decode output of %s: %w", h.Name, err)
		}
		return &out, nil
	case code == 2:
		blocked := false
		reason := strings.TrimSpace(stderr.String())
		if reason == "" {
			reason = fmt.Sprintf("hook %s blocked execution", h.Name)
		}
		return &Output{Continue: &blocked, StopReason: reason}, nil
	case code > 0:
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			m.errFn(payload.Event, fmt.Errorf("hooks: %s exit %d: %s", h.Name, code, msg))
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("hooks: run %s: %w", h.Name, runErr)
	}
}

func exitStatus(runErr error) int {
	if runErr == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func commandEnv(extra map[string]string) []string {
	env := os.Environ()
	for k, v := range extra {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}
