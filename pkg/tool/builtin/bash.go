package builtin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/stellarlinkco/agentcore/pkg/security"
	"github.com/stellarlinkco/agentcore/pkg/tool"
)

const (
	bashDefaultTimeout = 2 * time.Minute
	bashMaxTimeout     = 10 * time.Minute
	bashMaxOutput      = 30000
)

const bashDescription = `Executes a shell command in the project directory.
- Commands pass through the shell analyzer first; critical commands are blocked
- timeout_ms caps execution time (default 120000, max 600000)
- run_in_background detaches the command and returns a shell id for KillShell`

var bashSchema = tool.ObjectSchema(map[string]any{
	"command":           tool.StringProp("The shell command to execute"),
	"timeout_ms":        tool.NumberProp("Timeout in milliseconds (max 600000)"),
	"run_in_background": tool.BoolProp("Run the command detached and return a shell id"),
}, "command")

// BashTool runs shell commands under the security context.
type BashTool struct {
	Procs *ProcessManager
}

func (BashTool) Name() string             { return "Bash" }
func (BashTool) Description() string      { return bashDescription }
func (BashTool) Schema() *tool.JSONSchema { return bashSchema }
func (BashTool) Flags() tool.Flags        { return tool.Flags{Shell: true} }

func (b BashTool) Execute(ctx context.Context, params map[string]any, execCtx *tool.ExecContext) (*tool.Result, error) {
	if err := requireSecurity("Bash", execCtx); err != nil {
		return nil, err
	}
	command, err := stringParam(params, "command")
	if err != nil {
		return nil, tool.NewError("Bash", tool.ErrKindSchema, err)
	}
	timeoutMS, err := optionalInt(params, "timeout_ms")
	if err != nil {
		return nil, tool.NewError("Bash", tool.ErrKindSchema, err)
	}
	background := optionalBool(params, "run_in_background")

	// Shell analysis gates every execution: Critical blocks, High warns.
	analysis, err := execCtx.Security.CheckBash(command)
	if err != nil {
		return nil, tool.NewError("Bash", tool.ErrKindSecurity, err)
	}
	warning := ""
	if analysis != nil && analysis.Level == security.LevelHigh {
		warning = fmt.Sprintf("[warning: command classified %s: %s]\n", analysis.Level, analysis.Reason)
	}

	if err := ctx.Err(); err != nil {
		return nil, tool.NewError("Bash", tool.ErrKindCancelled, err)
	}

	if background {
		if b.Procs == nil {
			return nil, tool.NewError("Bash", tool.ErrKindExecution, errors.New("background execution not configured"))
		}
		cmd := exec.Command("/bin/sh", "-c", command)
		cmd.Dir = workDirOf(execCtx)
		cmd.Env = security.SanitizeEnv(os.Environ())
		shellID, err := b.Procs.Launch(cmd)
		if err != nil {
			return nil, tool.NewError("Bash", tool.ErrKindExecution, err)
		}
		return &tool.Result{
			Success: true,
			Output:  warning + "Started background shell " + shellID,
			Data:    map[string]any{"shell_id": shellID},
		}, nil
	}

	timeout := bashDefaultTimeout
	if timeoutMS > 0 {
		timeout = time.Duration(timeoutMS) * time.Millisecond
		if timeout > bashMaxTimeout {
			timeout = bashMaxTimeout
		}
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := execCtx.Security.Exec(runCtx, []string{"/bin/sh", "-c", command}, nil, nil, workDirOf(execCtx))
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, tool.NewError("Bash", tool.ErrKindTimeout, fmt.Errorf("command exceeded %s", timeout))
		}
		if ctx.Err() != nil {
			return nil, tool.NewError("Bash", tool.ErrKindCancelled, ctx.Err())
		}
		return nil, tool.NewError("Bash", tool.ErrKindExecution, err)
	}

	output := warning + combineOutput(res.Stdout, res.Stderr)
	if len(output) > bashMaxOutput {
		output = output[:bashMaxOutput] + "\n...(output truncated)"
	}
	if res.ExitCode != 0 {
		return &tool.Result{
			Success: false,
			Output:  output,
			Data:    map[string]any{"exit_code": res.ExitCode},
			Error:   fmt.Errorf("exit status %d", res.ExitCode),
		}, nil
	}
	return &tool.Result{
		Success: true,
		Output:  output,
		Data:    map[string]any{"exit_code": 0},
	}, nil
}

func workDirOf(execCtx *tool.ExecContext) string {
	if execCtx.WorkDir != "" {
		return execCtx.WorkDir
	}
	return execCtx.Security.Root()
}

func combineOutput(stdout, stderr string) string {
	stdout = strings.TrimRight(stdout, "\n")
	stderr = strings.TrimRight(stderr, "\n")
	switch {
	case stdout == "":
		return stderr
	case stderr == "":
		return stdout
	default:
		return stdout + "\n" + stderr
	}
}
