package builtin

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/stellarlinkco/agentcore/pkg/tool"
)

const (
	readDefaultLimit  = 2000
	readMaxLineLength = 2000
	readMaxBytes      = 8 << 20
)

const readDescription = `Reads a file from the local filesystem.
- The file_path parameter must be an absolute path
- By default, reads up to 2000 lines starting from the beginning of the file
- You can optionally specify a line offset and limit for long files
- Lines longer than 2000 characters are truncated
- Results are returned using cat -n format, with line numbers starting at 1`

var readSchema = tool.ObjectSchema(map[string]any{
	"file_path": tool.StringProp("The absolute path to the file to read"),
	"offset":    tool.NumberProp("The line number to start reading from"),
	"limit":     tool.NumberProp("The number of lines to read"),
}, "file_path")

// ReadTool reads files through the security context, never by re-opening a
// string path.
type ReadTool struct{}

func (ReadTool) Name() string             { return "Read" }
func (ReadTool) Description() string      { return readDescription }
func (ReadTool) Schema() *tool.JSONSchema { return readSchema }
func (ReadTool) Flags() tool.Flags        { return tool.Flags{ReadOnly: true} }

func (ReadTool) Execute(ctx context.Context, params map[string]any, execCtx *tool.ExecContext) (*tool.Result, error) {
	if err := requireSecurity("Read", execCtx); err != nil {
		return nil, err
	}
	path, err := stringParam(params, "file_path")
	if err != nil {
		return nil, tool.NewError("Read", tool.ErrKindSchema, err)
	}
	offset, err := optionalInt(params, "offset")
	if err != nil {
		return nil, tool.NewError("Read", tool.ErrKindSchema, err)
	}
	limit, err := optionalInt(params, "limit")
	if err != nil {
		return nil, tool.NewError("Read", tool.ErrKindSchema, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, tool.NewError("Read", tool.ErrKindCancelled, err)
	}

	f, err := execCtx.Security.Open(path)
	if err != nil {
		return nil, tool.NewError("Read", tool.ErrKindSecurity, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, readMaxBytes))
	if err != nil {
		return nil, tool.NewError("Read", tool.ErrKindExecution, err)
	}

	lines := splitLines(string(data))
	if offset <= 0 {
		offset = 1
	}
	if limit <= 0 {
		limit = readDefaultLimit
	}

	start := offset - 1
	// Reading past the end returns empty, not an error.
	if start >= len(lines) {
		return &tool.Result{
			Success: true,
			Output:  "",
			Data:    map[string]any{"total_lines": len(lines), "returned_lines": 0},
		}, nil
	}
	end := start + limit
	if end > len(lines) {
		end = len(lines)
	}

	var b strings.Builder
	for i := start; i < end; i++ {
		line := strings.TrimRight(lines[i], "\r")
		if len(line) > readMaxLineLength {
			line = line[:readMaxLineLength] + " ...(truncated)"
		}
		fmt.Fprintf(&b, "%6d\t%s", i+1, line)
		if i < end-1 {
			b.WriteByte('\n')
		}
	}
	return &tool.Result{
		Success: true,
		Output:  b.String(),
		Data:    map[string]any{"total_lines": len(lines), "returned_lines": end - start},
	}, nil
}
