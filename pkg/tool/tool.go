package tool

import (
	"context"

	"github.com/stellarlinkco/agentcore/pkg/hooks"
	"github.com/stellarlinkco/agentcore/pkg/security"
)

// Tool is a named capability exposed to the model.
type Tool interface {
	// Name returns the unique identifier of the tool.
	Name() string

	// Description gives a short human readable summary.
	Description() string

	// Schema describes the tool parameters. Nil means no input is expected.
	Schema() *JSONSchema

	// Execute runs the tool with validated parameters.
	Execute(ctx context.Context, params map[string]any, execCtx *ExecContext) (*Result, error)
}

// Flags declare a tool's behavioural surface for policy decisions.
type Flags struct {
	ReadOnly     bool
	FileTouching bool
	Shell        bool
	Network      bool
}

// Flagged is implemented by tools that declare behaviour flags. Tools that
// do not are treated as read-only.
type Flagged interface {
	Flags() Flags
}

// ExecContext carries per-invocation collaborators into tools.
type ExecContext struct {
	Security  *security.Context
	WorkDir   string
	SessionID string
	Hooks     *hooks.Manager

	// Session-scoped surfaces used by Task/TodoWrite/Plan/Skill; wired by the
	// agent at construction. They are interfaces to avoid package cycles.
	Todos    TodoSink
	Plans    PlanSink
	Skills   SkillSource
	Spawner  SubagentSpawner
	Shells   ShellTable
	TaskWait TaskWaiter
}

// TodoSink stores the session's TODO list.
type TodoSink interface {
	SetTodos(sessionID string, todos []Todo) error
}

// Todo is one entry of the session TODO list.
type Todo struct {
	Content    string `json:"content"`
	Status     string `json:"status"`
	ActiveForm string `json:"activeForm,omitempty"`
}

// PlanSink stores the session's current plan.
type PlanSink interface {
	SetPlan(sessionID, content string) error
}

// SkillSource expands a named skill body with arguments.
type SkillSource interface {
	Expand(name, args string) (string, error)
}

// SubagentSpawner launches a nested agent.
type SubagentSpawner interface {
	Spawn(ctx context.Context, req SpawnRequest) (*SpawnResult, error)
}

// SpawnRequest describes a Task tool invocation.
type SpawnRequest struct {
	Description  string
	Prompt       string
	SubagentType string
	Model        string
	Background   bool
	ResumeID     string
}

// SpawnResult is the outcome of a subagent run or launch.
type SpawnResult struct {
	TaskID    string // set when backgrounded
	SessionID string
	Output    string
}

// TaskWaiter retrieves a background task's result.
type TaskWaiter interface {
	Wait(ctx context.Context, taskID string, block bool) (output string, status string, err error)
}

// ShellTable tracks background shell processes.
type ShellTable interface {
	Kill(shellID string) (output string, err error)
}
