package builtin

import (
	"context"
	"fmt"
	"path"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/stellarlinkco/agentcore/pkg/tool"
)

const writeDescription = `Writes a file to the local filesystem, overwriting if one exists.
- The file_path parameter must be an absolute path under the project root
- The write is atomic: content lands in a temporary file that is renamed into place`

var writeSchema = tool.ObjectSchema(map[string]any{
	"file_path": tool.StringProp("The absolute path to the file to write"),
	"content":   tool.StringProp("The content to write to the file"),
}, "file_path", "content")

// WriteTool writes files atomically under the security context root.
type WriteTool struct{}

func (WriteTool) Name() string             { return "Write" }
func (WriteTool) Description() string      { return writeDescription }
func (WriteTool) Schema() *tool.JSONSchema { return writeSchema }
func (WriteTool) Flags() tool.Flags        { return tool.Flags{FileTouching: true} }

func (WriteTool) Execute(ctx context.Context, params map[string]any, execCtx *tool.ExecContext) (*tool.Result, error) {
	if err := requireSecurity("Write", execCtx); err != nil {
		return nil, err
	}
	target, err := stringParam(params, "file_path")
	if err != nil {
		return nil, tool.NewError("Write", tool.ErrKindSchema, err)
	}
	content, err := stringParam(params, "content")
	if err != nil {
		return nil, tool.NewError("Write", tool.ErrKindSchema, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, tool.NewError("Write", tool.ErrKindCancelled, err)
	}

	resolver := execCtx.Security.Resolver()
	tmp := path.Join(filepath.ToSlash(filepath.Dir(target)), fmt.Sprintf(".%s.tmp-%s", filepath.Base(target), uuid.NewString()[:8]))
	f, err := resolver.Create(tmp, 0o644)
	if err != nil {
		return nil, tool.NewError("Write", tool.ErrKindSecurity, err)
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		_ = resolver.Remove(tmp)
		return nil, tool.NewError("Write", tool.ErrKindExecution, err)
	}
	if err := f.Close(); err != nil {
		_ = resolver.Remove(tmp)
		return nil, tool.NewError("Write", tool.ErrKindExecution, err)
	}
	if err := resolver.Rename(tmp, target); err != nil {
		_ = resolver.Remove(tmp)
		return nil, tool.NewError("Write", tool.ErrKindSecurity, err)
	}
	return tool.Ok(fmt.Sprintf("Wrote %d bytes to %s", len(content), target)), nil
}
