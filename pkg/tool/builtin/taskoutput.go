package builtin

import (
	"context"
	"errors"
	"time"

	"github.com/stellarlinkco/agentcore/pkg/tool"
)

const taskOutputDefaultTimeout = 30 * time.Second

const taskOutputDescription = `Retrieves the output of a background task started by Task.
- block=true waits up to timeout milliseconds; block=false returns the current status immediately`

var taskOutputSchema = tool.ObjectSchema(map[string]any{
	"task_id": tool.StringProp("The id returned by a backgrounded Task call"),
	"block":   tool.BoolProp("Wait for completion instead of polling"),
	"timeout": tool.NumberProp("Maximum wait in milliseconds when blocking"),
}, "task_id")

// TaskOutputTool polls or waits on background subagent tasks.
type TaskOutputTool struct{}

func (TaskOutputTool) Name() string             { return "TaskOutput" }
func (TaskOutputTool) Description() string      { return taskOutputDescription }
func (TaskOutputTool) Schema() *tool.JSONSchema { return taskOutputSchema }
func (TaskOutputTool) Flags() tool.Flags        { return tool.Flags{ReadOnly: true} }

func (TaskOutputTool) Execute(ctx context.Context, params map[string]any, execCtx *tool.ExecContext) (*tool.Result, error) {
	if execCtx == nil || execCtx.TaskWait == nil {
		return nil, tool.NewError("TaskOutput", tool.ErrKindExecution, errors.New("no task registry configured"))
	}
	taskID, err := stringParam(params, "task_id")
	if err != nil {
		return nil, tool.NewError("TaskOutput", tool.ErrKindSchema, err)
	}
	block := optionalBool(params, "block")
	timeoutMS, err := optionalInt(params, "timeout")
	if err != nil {
		return nil, tool.NewError("TaskOutput", tool.ErrKindSchema, err)
	}

	waitCtx := ctx
	if block {
		timeout := taskOutputDefaultTimeout
		if timeoutMS > 0 {
			timeout = time.Duration(timeoutMS) * time.Millisecond
		}
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	output, status, err := execCtx.TaskWait.Wait(waitCtx, taskID, block)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &tool.Result{
				Success: true,
				Output:  "Task still running",
				Data:    map[string]any{"status": status},
			}, nil
		}
		return nil, tool.NewError("TaskOutput", tool.ErrKindExecution, err)
	}
	return &tool.Result{
		Success: true,
		Output:  output,
		Data:    map[string]any{"status": status},
	}, nil
}
