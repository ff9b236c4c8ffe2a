package agent

import (
	"context"

	"github.com/stellarlinkco/agentcore/pkg/runtime/skills"
	"github.com/stellarlinkco/agentcore/pkg/runtime/tasks"
	"github.com/stellarlinkco/agentcore/pkg/session"
	"github.com/stellarlinkco/agentcore/pkg/tool"
)

// sessionSinks routes TodoWrite/Plan onto the bound session.
type sessionSinks struct {
	sess *session.Session
}

func (s sessionSinks) SetTodos(_ string, todos []tool.Todo) error {
	s.sess.SetTodos(todos)
	return nil
}

func (s sessionSinks) SetPlan(_ string, content string) error {
	s.sess.SetPlan(content)
	return nil
}

// skillSource adapts the skill registry to the Skill tool.
type skillSource struct {
	reg *skills.Registry
}

func (s skillSource) Expand(name, args string) (string, error) {
	return s.reg.Expand(name, args)
}

// taskWaiter adapts the task registry to the TaskOutput tool.
type taskWaiter struct {
	reg *tasks.Registry
}

func (w taskWaiter) Wait(ctx context.Context, taskID string, block bool) (string, string, error) {
	t, err := w.reg.Get(taskID)
	if err != nil {
		return "", "", err
	}
	output, status, err := t.Wait(ctx, block)
	return output, string(status), err
}
