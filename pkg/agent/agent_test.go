//go:build !windows

package agent

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellarlinkco/agentcore/pkg/budget"
	"github.com/stellarlinkco/agentcore/pkg/hooks"
	"github.com/stellarlinkco/agentcore/pkg/message"
	"github.com/stellarlinkco/agentcore/pkg/provider"
	"github.com/stellarlinkco/agentcore/pkg/session"
	"github.com/stellarlinkco/agentcore/pkg/tool"
)

// scriptedModel replays canned responses and records every request.
type scriptedModel struct {
	mu       sync.Mutex
	steps    []func(req provider.Request) *provider.Response
	calls    int
	requests []provider.Request
}

func (m *scriptedModel) next(req provider.Request) *provider.Response {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	idx := m.calls
	if idx >= len(m.steps) {
		idx = len(m.steps) - 1
	}
	m.calls++
	return m.steps[idx](req)
}

func (m *scriptedModel) Complete(_ context.Context, req provider.Request) (*provider.Response, error) {
	return m.next(req), nil
}

func (m *scriptedModel) CompleteStream(_ context.Context, req provider.Request, handler provider.StreamHandler) error {
	resp := m.next(req)
	if text := resp.Message.TextContent(); text != "" {
		if err := handler(provider.StreamEvent{TextDelta: text}); err != nil {
			return err
		}
	}
	return handler(provider.StreamEvent{Final: resp})
}

func textResponse(text string) func(provider.Request) *provider.Response {
	return func(provider.Request) *provider.Response {
		return &provider.Response{
			Message:    message.Text(message.RoleAssistant, text),
			StopReason: provider.StopEndTurn,
			Usage:      message.Usage{InputTokens: 100, OutputTokens: 10},
		}
	}
}

func toolUseResponse(id, name string, input map[string]any) func(provider.Request) *provider.Response {
	return func(provider.Request) *provider.Response {
		return &provider.Response{
			Message: message.Message{Role: message.RoleAssistant, Blocks: []message.Block{
				{Type: message.BlockToolUse, ToolUseID: id, ToolName: name, Input: input},
			}},
			StopReason: provider.StopToolUse,
			Usage:      message.Usage{InputTokens: 100, OutputTokens: 10},
		}
	}
}

func newTestAgent(t *testing.T, model provider.Model, extra ...Option) (*Agent, string) {
	t.Helper()
	root := t.TempDir()
	opts := append([]Option{
		WithWorkDir(root),
		WithProvider(model),
		WithModel("sonnet"),
	}, extra...)
	a, err := New(context.Background(), opts...)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a, root
}

func TestWriteThenRead(t *testing.T) {
	var root string
	model := &scriptedModel{}
	model.steps = []func(provider.Request) *provider.Response{
		func(req provider.Request) *provider.Response {
			return toolUseResponse("tu_1", "Write", map[string]any{
				"file_path": filepath.Join(root, "a.txt"),
				"content":   "hello\n",
			})(req)
		},
		func(req provider.Request) *provider.Response {
			return toolUseResponse("tu_2", "Read", map[string]any{
				"file_path": filepath.Join(root, "a.txt"),
			})(req)
		},
		textResponse("done: file contains hello"),
	}
	a, dir := newTestAgent(t, model)
	root = dir

	result, err := a.Execute(context.Background(), "create a.txt containing hello")
	require.NoError(t, err)
	assert.Equal(t, "done: file contains hello", result.Output)

	data, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))

	// The Read tool's result flowed back to the model.
	require.GreaterOrEqual(t, len(model.requests), 3)
	lastReq := model.requests[2]
	found := false
	for _, msg := range lastReq.Messages {
		for _, blk := range msg.ToolResults() {
			if blk.ToolUseID == "tu_2" {
				assert.Contains(t, blk.Text, "hello")
				found = true
			}
		}
	}
	assert.True(t, found, "tool result for tu_2 not found in final request")
}

func TestDeniedCommandBecomesErrorResult(t *testing.T) {
	model := &scriptedModel{steps: []func(provider.Request) *provider.Response{
		toolUseResponse("tu_1", "Bash", map[string]any{"command": "rm -rf /"}),
		textResponse("understood, not deleting"),
	}}
	a, root := newTestAgent(t, model,
		WithPermissions(tool.ModeBypass, []string{"Bash(rm:*)"}, nil, nil))

	result, err := a.Execute(context.Background(), "delete everything")
	require.NoError(t, err)
	assert.Equal(t, "understood, not deleting", result.Output)

	// The denial surfaced as an is_error tool result naming the rule, and
	// nothing was deleted.
	require.Len(t, model.requests, 2)
	var denial *message.Block
	for _, msg := range model.requests[1].Messages {
		for _, blk := range msg.ToolResults() {
			if blk.ToolUseID == "tu_1" {
				b := blk
				denial = &b
			}
		}
	}
	require.NotNil(t, denial)
	assert.True(t, denial.IsError)
	assert.Contains(t, denial.Text, "Bash(rm:*)")

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	_ = entries
}

func TestToolUseResultPairing(t *testing.T) {
	model := &scriptedModel{steps: []func(provider.Request) *provider.Response{
		func(provider.Request) *provider.Response {
			return &provider.Response{
				Message: message.Message{Role: message.RoleAssistant, Blocks: []message.Block{
					{Type: message.BlockToolUse, ToolUseID: "tu_a", ToolName: "Glob", Input: map[string]any{"pattern": "*.go"}},
					{Type: message.BlockToolUse, ToolUseID: "tu_b", ToolName: "Glob", Input: map[string]any{"pattern": "*.md"}},
				}},
				StopReason: provider.StopToolUse,
				Usage:      message.Usage{InputTokens: 10, OutputTokens: 5},
			}
		},
		textResponse("ok"),
	}}
	a, _ := newTestAgent(t, model)

	result, err := a.Execute(context.Background(), "list files")
	require.NoError(t, err)

	sess, err := a.Store().Get(context.Background(), result.SessionID)
	require.NoError(t, err)
	branch := sess.Branch()

	// Every tool_use is answered by exactly one tool_result with the same
	// id in the immediately following user message, in call order.
	for i, msg := range branch {
		uses := msg.ToolUses()
		if len(uses) == 0 {
			continue
		}
		require.Less(t, i+1, len(branch))
		results := branch[i+1].ToolResults()
		require.Equal(t, len(uses), len(results))
		for j, use := range uses {
			assert.Equal(t, use.ToolUseID, results[j].ToolUseID)
		}
	}
}

func TestMaxIterations(t *testing.T) {
	model := &scriptedModel{steps: []func(provider.Request) *provider.Response{
		toolUseResponse("tu_loop", "Glob", map[string]any{"pattern": "*.go"}),
	}}
	a, _ := newTestAgent(t, model, WithMaxIterations(3))

	result, err := a.Execute(context.Background(), "loop forever")
	require.NoError(t, err)
	assert.Equal(t, "max_iterations", result.StopReason)
	assert.Equal(t, 3, model.calls)
}

func TestBudgetStopsBeforeNextRequest(t *testing.T) {
	model := &scriptedModel{steps: []func(provider.Request) *provider.Response{
		func(provider.Request) *provider.Response {
			return &provider.Response{
				Message: message.Message{Role: message.RoleAssistant, Blocks: []message.Block{
					{Type: message.BlockToolUse, ToolUseID: "tu_1", ToolName: "Glob", Input: map[string]any{"pattern": "*"}},
				}},
				StopReason: provider.StopToolUse,
				// Expensive call: 1M output tokens on sonnet = 15 USD.
				Usage: message.Usage{OutputTokens: 1_000_000},
			}
		},
		textResponse("should not be reached"),
	}}
	a, _ := newTestAgent(t, model, WithBudget(budget.Config{LimitUSD: 1, Action: budget.StopBeforeNext}))

	result, err := a.Execute(context.Background(), "expensive work")
	require.ErrorIs(t, err, ErrBudgetExhausted)
	require.NotNil(t, result)
	assert.Equal(t, "budget_exhausted", result.StopReason)
	assert.Equal(t, 1, model.calls)
}

func TestBlockingPromptHookDiscardsTurn(t *testing.T) {
	model := &scriptedModel{steps: []func(provider.Request) *provider.Response{textResponse("nope")}}
	blocked := false
	hook := hooks.Hook{
		Name:   "prompt-gate",
		Events: []hooks.Event{hooks.UserPromptSubmit},
		Handler: func(ctx context.Context, p *hooks.Payload) (*hooks.Output, error) {
			blocked = true
			deny := false
			return &hooks.Output{Continue: &deny, StopReason: "prompt rejected"}, nil
		},
	}
	a, _ := newTestAgent(t, model, WithHooks(hook))

	_, err := a.Execute(context.Background(), "forbidden prompt")
	require.ErrorIs(t, err, ErrBlockedByHook)
	assert.True(t, blocked)
	assert.Zero(t, model.calls)
}

func TestPreToolUseHookRewritesInput(t *testing.T) {
	var root string
	model := &scriptedModel{}
	model.steps = []func(provider.Request) *provider.Response{
		func(req provider.Request) *provider.Response {
			return toolUseResponse("tu_1", "Write", map[string]any{
				"file_path": filepath.Join(root, "original.txt"),
				"content":   "x",
			})(req)
		},
		textResponse("done"),
	}
	rewrite := hooks.Hook{
		Name:    "redirect-writes",
		Events:  []hooks.Event{hooks.PreToolUse},
		Matcher: "^Write$",
		Handler: func(ctx context.Context, p *hooks.Payload) (*hooks.Output, error) {
			updated := map[string]any{}
			for k, v := range p.ToolInput {
				updated[k] = v
			}
			updated["file_path"] = filepath.Join(root, "redirected.txt")
			return &hooks.Output{UpdatedInput: updated}, nil
		},
	}
	a, dir := newTestAgent(t, model, WithHooks(rewrite))
	root = dir

	_, err := a.Execute(context.Background(), "write a file")
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "redirected.txt"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "original.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestCancellationPausesSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	model := &scriptedModel{steps: []func(provider.Request) *provider.Response{
		func(req provider.Request) *provider.Response {
			cancel() // fire mid-run, before the tool executes
			return toolUseResponse("tu_1", "Bash", map[string]any{"command": "sleep 30"})(req)
		},
	}}
	a, _ := newTestAgent(t, model)

	start := time.Now()
	_, err := a.Execute(ctx, "long work")
	require.ErrorIs(t, err, ErrCancelled)
	assert.Less(t, time.Since(start), 15*time.Second)
}

func TestSubagentSpawnRestrictedTools(t *testing.T) {
	model := &scriptedModel{}
	model.steps = []func(provider.Request) *provider.Response{
		// Parent turn 1: delegate to explore.
		toolUseResponse("tu_task", "Task", map[string]any{
			"description":   "scan",
			"prompt":        "look around",
			"subagent_type": "explore",
		}),
		// Subagent turn: tries Write, which explore does not carry.
		toolUseResponse("tu_sub", "Write", map[string]any{"file_path": "/x", "content": "y"}),
		// Subagent final.
		textResponse("explored: nothing found"),
		// Parent final.
		textResponse("delegation complete"),
	}
	a, _ := newTestAgent(t, model)

	result, err := a.Execute(context.Background(), "delegate")
	require.NoError(t, err)
	assert.Equal(t, "delegation complete", result.Output)

	// The subagent's Write attempt was denied by its restricted access set.
	require.GreaterOrEqual(t, len(model.requests), 3)
	var subDenial string
	for _, msg := range model.requests[2].Messages {
		for _, blk := range msg.ToolResults() {
			if blk.ToolUseID == "tu_sub" {
				subDenial = blk.Text
				assert.True(t, blk.IsError)
			}
		}
	}
	assert.Contains(t, subDenial, "not available")
}

// routingModel answers by inspecting the conversation, so concurrent parent
// and subagent turns cannot race over a shared script.
type routingModel struct {
	mu          sync.Mutex
	parentCalls int
}

func (m *routingModel) Complete(_ context.Context, req provider.Request) (*provider.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range req.Messages {
		if msg.Role == message.RoleUser && msg.TextContent() == "background work" {
			resp := textResponse("bg result")(req)
			return resp, nil
		}
	}
	m.parentCalls++
	if m.parentCalls == 1 {
		return toolUseResponse("tu_task", "Task", map[string]any{
			"description":       "bg",
			"prompt":            "background work",
			"subagent_type":     "explore",
			"run_in_background": true,
		})(req), nil
	}
	return textResponse("parent done")(req), nil
}

func (m *routingModel) CompleteStream(ctx context.Context, req provider.Request, handler provider.StreamHandler) error {
	resp, err := m.Complete(ctx, req)
	if err != nil {
		return err
	}
	return handler(provider.StreamEvent{Final: resp})
}

func TestBackgroundTaskAndTaskOutput(t *testing.T) {
	model := &routingModel{}
	a, _ := newTestAgent(t, model)

	result, err := a.Execute(context.Background(), "run in background")
	require.NoError(t, err)
	assert.Equal(t, "parent done", result.Output)

	// The background task completed and its id resolved through the task
	// registry. Find the task id from the parent's tool result.
	sess, err := a.Store().Get(context.Background(), result.SessionID)
	require.NoError(t, err)
	var taskID string
	for _, msg := range sess.Branch() {
		for _, blk := range msg.ToolResults() {
			if strings.HasPrefix(blk.Text, "Started background task ") {
				taskID = strings.TrimPrefix(blk.Text, "Started background task ")
			}
		}
	}
	require.NotEmpty(t, taskID)

	out, status, err := (taskWaiter{reg: a.tasks}).Wait(context.Background(), taskID, true)
	require.NoError(t, err)
	assert.Equal(t, "completed", status)
	assert.Equal(t, "bg result", out)
}

func TestExecuteStreamEvents(t *testing.T) {
	model := &scriptedModel{steps: []func(provider.Request) *provider.Response{
		toolUseResponse("tu_1", "Glob", map[string]any{"pattern": "*.go"}),
		textResponse("all done"),
	}}
	a, _ := newTestAgent(t, model)

	events, err := a.ExecuteStream(context.Background(), "stream it")
	require.NoError(t, err)

	var types []EventType
	var complete *Result
	for ev := range events {
		types = append(types, ev.Type)
		if ev.Type == EventComplete {
			complete = ev.Result
		}
	}
	assert.Contains(t, types, EventToolStart)
	assert.Contains(t, types, EventToolEnd)
	assert.Contains(t, types, EventText)
	require.NotNil(t, complete)
	assert.Equal(t, "all done", complete.Output)
}

func TestResumeContinuesSession(t *testing.T) {
	model := &scriptedModel{steps: []func(provider.Request) *provider.Response{
		textResponse("first answer"),
		textResponse("second answer"),
	}}
	a, _ := newTestAgent(t, model)

	first, err := a.Execute(context.Background(), "question one")
	require.NoError(t, err)

	second, err := a.Resume(context.Background(), first.SessionID, "question two")
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)

	sess, err := a.Store().Get(context.Background(), second.SessionID)
	require.NoError(t, err)
	branch := sess.Branch()
	// user, assistant, user, assistant
	require.Len(t, branch, 4)
	assert.Equal(t, "question one", branch[0].TextContent())
	assert.Equal(t, "question two", branch[2].TextContent())
}

func TestUsageAccumulatesAcrossTurns(t *testing.T) {
	model := &scriptedModel{steps: []func(provider.Request) *provider.Response{
		toolUseResponse("tu_1", "Glob", map[string]any{"pattern": "*"}),
		textResponse("done"),
	}}
	a, _ := newTestAgent(t, model)

	result, err := a.Execute(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, int64(200), result.Usage.InputTokens)
	assert.Equal(t, int64(20), result.Usage.OutputTokens)
	assert.Greater(t, result.CostUSD, 0.0)

	sess, err := a.Store().Get(context.Background(), result.SessionID)
	require.NoError(t, err)
	usage := sess.Usage()
	assert.Equal(t, usage.InputTokens+usage.CacheReadTokens+usage.CacheWriteTokens, usage.ContextWindow())
}

func TestSessionStatePersistedOnCompletion(t *testing.T) {
	model := &scriptedModel{steps: []func(provider.Request) *provider.Response{textResponse("fin")}}
	store := session.NewMemoryStore()
	a, _ := newTestAgent(t, model, WithStore(store))

	result, err := a.Execute(context.Background(), "hello")
	require.NoError(t, err)

	sess, err := store.Get(context.Background(), result.SessionID)
	require.NoError(t, err)
	state, reason := sess.StateInfo()
	assert.Equal(t, session.StateCompleted, state)
	assert.Equal(t, string(provider.StopEndTurn), reason)
}
