package builtin

import (
	"context"
	"errors"

	"github.com/stellarlinkco/agentcore/pkg/tool"
)

const skillDescription = `Invokes a named skill. The expanded skill body is returned for the model to follow; $ARGUMENTS and positional $1..$9 placeholders are substituted from args.`

var skillSchema = tool.ObjectSchema(map[string]any{
	"skill": tool.StringProp("The name of the skill to invoke"),
	"args":  tool.StringProp("Optional arguments for the skill"),
}, "skill")

// SkillTool expands skill bodies on demand.
type SkillTool struct{}

func (SkillTool) Name() string             { return "Skill" }
func (SkillTool) Description() string      { return skillDescription }
func (SkillTool) Schema() *tool.JSONSchema { return skillSchema }
func (SkillTool) Flags() tool.Flags        { return tool.Flags{ReadOnly: true} }

func (SkillTool) Execute(ctx context.Context, params map[string]any, execCtx *tool.ExecContext) (*tool.Result, error) {
	if execCtx == nil || execCtx.Skills == nil {
		return nil, tool.NewError("Skill", tool.ErrKindExecution, errors.New("no skill source configured"))
	}
	name, err := stringParam(params, "skill")
	if err != nil {
		return nil, tool.NewError("Skill", tool.ErrKindSchema, err)
	}
	expanded, err := execCtx.Skills.Expand(name, optionalString(params, "args"))
	if err != nil {
		return nil, tool.NewError("Skill", tool.ErrKindNotFound, err)
	}
	return tool.Ok(expanded), nil
}
