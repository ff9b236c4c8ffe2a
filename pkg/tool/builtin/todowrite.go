package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stellarlinkco/agentcore/pkg/tool"
)

const todoWriteDescription = `Replaces the session TODO list. Each entry carries content, status (pending | in_progress | completed), and an optional activeForm shown while in progress.`

var todoWriteSchema = tool.ObjectSchema(map[string]any{
	"todos": tool.ArrayProp("The full TODO list", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content":    map[string]any{"type": "string"},
			"status":     map[string]any{"type": "string", "enum": []string{"pending", "in_progress", "completed"}},
			"activeForm": map[string]any{"type": "string"},
		},
	}),
}, "todos")

var validTodoStatus = map[string]struct{}{
	"pending": {}, "in_progress": {}, "completed": {},
}

// TodoWriteTool maintains the assistant-owned TODO list on the session.
type TodoWriteTool struct{}

func (TodoWriteTool) Name() string             { return "TodoWrite" }
func (TodoWriteTool) Description() string      { return todoWriteDescription }
func (TodoWriteTool) Schema() *tool.JSONSchema { return todoWriteSchema }
func (TodoWriteTool) Flags() tool.Flags        { return tool.Flags{ReadOnly: true} }

func (TodoWriteTool) Execute(ctx context.Context, params map[string]any, execCtx *tool.ExecContext) (*tool.Result, error) {
	if execCtx == nil || execCtx.Todos == nil {
		return nil, tool.NewError("TodoWrite", tool.ErrKindExecution, errors.New("no todo sink configured"))
	}
	raw, ok := params["todos"]
	if !ok {
		return nil, tool.NewError("TodoWrite", tool.ErrKindSchema, errors.New("todos is required"))
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, tool.NewError("TodoWrite", tool.ErrKindSchema, err)
	}
	var todos []tool.Todo
	if err := json.Unmarshal(data, &todos); err != nil {
		return nil, tool.NewError("TodoWrite", tool.ErrKindSchema, err)
	}
	for i, todo := range todos {
		if strings.TrimSpace(todo.Content) == "" {
			return nil, tool.NewError("TodoWrite", tool.ErrKindSchema, fmt.Errorf("todos[%d]: content is empty", i))
		}
		if _, ok := validTodoStatus[todo.Status]; !ok {
			return nil, tool.NewError("TodoWrite", tool.ErrKindSchema, fmt.Errorf("todos[%d]: invalid status %q", i, todo.Status))
		}
	}
	if err := execCtx.Todos.SetTodos(execCtx.SessionID, todos); err != nil {
		return nil, tool.NewError("TodoWrite", tool.ErrKindExecution, err)
	}

	var b strings.Builder
	for _, todo := range todos {
		fmt.Fprintf(&b, "[%s] %s\n", todo.Status, todo.Content)
	}
	return tool.Ok(strings.TrimRight(b.String(), "\n")), nil
}
