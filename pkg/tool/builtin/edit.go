package builtin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/stellarlinkco/agentcore/pkg/tool"
)

// ErrNotUnique is the well-identified failure when old_string matches more
// than once and replace_all is false.
var ErrNotUnique = errors.New("old_string is not unique in the file")

// ErrNoMatch indicates old_string was not found at all.
var ErrNoMatch = errors.New("old_string not found in the file")

const editDescription = `Performs exact string replacement in a file.
- old_string must match the file exactly, including whitespace
- Fails when old_string is not uniquely present, unless replace_all is set
- replace_all replaces every occurrence`

var editSchema = tool.ObjectSchema(map[string]any{
	"file_path":   tool.StringProp("The absolute path to the file to modify"),
	"old_string":  tool.StringProp("The text to replace"),
	"new_string":  tool.StringProp("The text to replace it with"),
	"replace_all": tool.BoolProp("Replace all occurrences (default false)"),
}, "file_path", "old_string", "new_string")

// EditTool rewrites file regions by exact string match.
type EditTool struct{}

func (EditTool) Name() string             { return "Edit" }
func (EditTool) Description() string      { return editDescription }
func (EditTool) Schema() *tool.JSONSchema { return editSchema }
func (EditTool) Flags() tool.Flags        { return tool.Flags{FileTouching: true} }

func (EditTool) Execute(ctx context.Context, params map[string]any, execCtx *tool.ExecContext) (*tool.Result, error) {
	if err := requireSecurity("Edit", execCtx); err != nil {
		return nil, err
	}
	target, err := stringParam(params, "file_path")
	if err != nil {
		return nil, tool.NewError("Edit", tool.ErrKindSchema, err)
	}
	oldString, err := stringParam(params, "old_string")
	if err != nil {
		return nil, tool.NewError("Edit", tool.ErrKindSchema, err)
	}
	newString, err := stringParam(params, "new_string")
	if err != nil {
		return nil, tool.NewError("Edit", tool.ErrKindSchema, err)
	}
	replaceAll := optionalBool(params, "replace_all")
	if oldString == newString {
		return nil, tool.NewError("Edit", tool.ErrKindSchema, errors.New("old_string and new_string are identical"))
	}
	if oldString == "" {
		return nil, tool.NewError("Edit", tool.ErrKindSchema, errors.New("old_string is empty"))
	}
	if err := ctx.Err(); err != nil {
		return nil, tool.NewError("Edit", tool.ErrKindCancelled, err)
	}

	f, err := execCtx.Security.Open(target)
	if err != nil {
		return nil, tool.NewError("Edit", tool.ErrKindSecurity, err)
	}
	data, readErr := io.ReadAll(f)
	f.Close()
	if readErr != nil {
		return nil, tool.NewError("Edit", tool.ErrKindExecution, readErr)
	}
	content := string(data)

	count := strings.Count(content, oldString)
	switch {
	case count == 0:
		return nil, tool.NewError("Edit", tool.ErrKindExecution, ErrNoMatch)
	case count > 1 && !replaceAll:
		return nil, tool.NewError("Edit", tool.ErrKindExecution, fmt.Errorf("%w (%d matches)", ErrNotUnique, count))
	}

	replaced := count
	var updated string
	if replaceAll {
		updated = strings.ReplaceAll(content, oldString, newString)
	} else {
		updated = strings.Replace(content, oldString, newString, 1)
		replaced = 1
	}

	// Reuse the atomic write path.
	if _, err := (WriteTool{}).Execute(ctx, map[string]any{"file_path": target, "content": updated}, execCtx); err != nil {
		return nil, err
	}
	return &tool.Result{
		Success: true,
		Output:  fmt.Sprintf("Replaced %d occurrence(s) in %s\n%s", replaced, target, diffPreview(oldString, newString)),
		Data:    map[string]any{"replacements": replaced},
	}, nil
}

// diffPreview renders a minimal before/after snippet.
func diffPreview(oldString, newString string) string {
	var b strings.Builder
	for _, line := range strings.Split(oldString, "\n") {
		b.WriteString("- " + line + "\n")
	}
	for _, line := range strings.Split(newString, "\n") {
		b.WriteString("+ " + line + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
