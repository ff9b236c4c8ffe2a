package builtin

import (
	"context"
	"errors"

	"github.com/stellarlinkco/agentcore/pkg/tool"
)

const planDescription = `Stores the current structured plan on the session. The latest call replaces any previous plan.`

var planSchema = tool.ObjectSchema(map[string]any{
	"content": tool.StringProp("The plan as markdown"),
}, "content")

// PlanTool records the model's working plan.
type PlanTool struct{}

func (PlanTool) Name() string             { return "Plan" }
func (PlanTool) Description() string      { return planDescription }
func (PlanTool) Schema() *tool.JSONSchema { return planSchema }
func (PlanTool) Flags() tool.Flags        { return tool.Flags{ReadOnly: true} }

func (PlanTool) Execute(ctx context.Context, params map[string]any, execCtx *tool.ExecContext) (*tool.Result, error) {
	if execCtx == nil || execCtx.Plans == nil {
		return nil, tool.NewError("Plan", tool.ErrKindExecution, errors.New("no plan sink configured"))
	}
	content, err := stringParam(params, "content")
	if err != nil {
		return nil, tool.NewError("Plan", tool.ErrKindSchema, err)
	}
	if err := execCtx.Plans.SetPlan(execCtx.SessionID, content); err != nil {
		return nil, tool.NewError("Plan", tool.ErrKindExecution, err)
	}
	return tool.Ok("Plan recorded"), nil
}
