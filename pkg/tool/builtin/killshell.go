package builtin

import (
	"context"
	"errors"
	"fmt"

	"github.com/stellarlinkco/agentcore/pkg/tool"
)

const killShellDescription = `Stops a running background shell by its id and returns its buffered output. Fails if the id is unknown.`

var killShellSchema = tool.ObjectSchema(map[string]any{
	"shell_id": tool.StringProp("The id of the background shell to kill"),
}, "shell_id")

// KillShellTool terminates background shells started by Bash.
type KillShellTool struct{}

func (KillShellTool) Name() string             { return "KillShell" }
func (KillShellTool) Description() string      { return killShellDescription }
func (KillShellTool) Schema() *tool.JSONSchema { return killShellSchema }
func (KillShellTool) Flags() tool.Flags        { return tool.Flags{Shell: true} }

func (KillShellTool) Execute(ctx context.Context, params map[string]any, execCtx *tool.ExecContext) (*tool.Result, error) {
	shellID, err := stringParam(params, "shell_id")
	if err != nil {
		return nil, tool.NewError("KillShell", tool.ErrKindSchema, err)
	}
	if execCtx == nil || execCtx.Shells == nil {
		return nil, tool.NewError("KillShell", tool.ErrKindExecution, errors.New("no shell table configured"))
	}
	output, err := execCtx.Shells.Kill(shellID)
	if err != nil {
		return nil, tool.NewError("KillShell", tool.ErrKindNotFound, err)
	}
	msg := fmt.Sprintf("Killed %s", shellID)
	if output != "" {
		msg += "\n--- output ---\n" + output
	}
	return tool.Ok(msg), nil
}
