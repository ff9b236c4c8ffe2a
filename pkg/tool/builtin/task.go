package builtin

import (
	"context"
	"errors"

	"github.com/stellarlinkco/agentcore/pkg/tool"
)

const taskDescription = `Launches a subagent to handle a delegated task.
- subagent_type selects a bundled or registered type (explore, plan, general-purpose, ...)
- run_in_background returns a task id immediately; poll it with TaskOutput
- resume continues a prior subagent session from its leaf`

var taskSchema = tool.ObjectSchema(map[string]any{
	"description":       tool.StringProp("Short description of the delegated task"),
	"prompt":            tool.StringProp("The full prompt for the subagent"),
	"subagent_type":     tool.StringProp("The subagent type to instantiate"),
	"model":             tool.StringProp("Optional model override"),
	"run_in_background": tool.BoolProp("Launch in the background and return a task id"),
	"resume":            tool.StringProp("Session id of a prior subagent to resume"),
}, "description", "prompt", "subagent_type")

// TaskTool spawns nested agents through the configured spawner.
type TaskTool struct{}

func (TaskTool) Name() string             { return "Task" }
func (TaskTool) Description() string      { return taskDescription }
func (TaskTool) Schema() *tool.JSONSchema { return taskSchema }
func (TaskTool) Flags() tool.Flags        { return tool.Flags{} }

func (TaskTool) Execute(ctx context.Context, params map[string]any, execCtx *tool.ExecContext) (*tool.Result, error) {
	if execCtx == nil || execCtx.Spawner == nil {
		return nil, tool.NewError("Task", tool.ErrKindExecution, errors.New("no subagent spawner configured"))
	}
	description, err := stringParam(params, "description")
	if err != nil {
		return nil, tool.NewError("Task", tool.ErrKindSchema, err)
	}
	prompt, err := stringParam(params, "prompt")
	if err != nil {
		return nil, tool.NewError("Task", tool.ErrKindSchema, err)
	}
	subagentType, err := stringParam(params, "subagent_type")
	if err != nil {
		return nil, tool.NewError("Task", tool.ErrKindSchema, err)
	}

	res, err := execCtx.Spawner.Spawn(ctx, tool.SpawnRequest{
		Description:  description,
		Prompt:       prompt,
		SubagentType: subagentType,
		Model:        optionalString(params, "model"),
		Background:   optionalBool(params, "run_in_background"),
		ResumeID:     optionalString(params, "resume"),
	})
	if err != nil {
		return nil, tool.NewError("Task", tool.ErrKindExecution, err)
	}

	if res.TaskID != "" {
		return &tool.Result{
			Success: true,
			Output:  "Started background task " + res.TaskID,
			Data:    map[string]any{"task_id": res.TaskID, "session_id": res.SessionID},
		}, nil
	}
	return &tool.Result{
		Success: true,
		Output:  res.Output,
		Data:    map[string]any{"session_id": res.SessionID},
	}, nil
}
