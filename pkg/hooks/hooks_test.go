package hooks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allowOutput() *Output { return &Output{} }

func blockOutput(reason string) *Output {
	blocked := false
	return &Output{Continue: &blocked, StopReason: reason}
}

func TestFirePriorityOrder(t *testing.T) {
	m := NewManager()
	var order []string
	mk := func(name string, priority int) Hook {
		return Hook{
			Name: name, Events: []Event{PreToolUse}, Priority: priority,
			Handler: func(ctx context.Context, p *Payload) (*Output, error) {
				order = append(order, name)
				return allowOutput(), nil
			},
		}
	}
	require.NoError(t, m.Register(mk("low", 1), mk("high", 10), mk("mid", 5)))

	merged, err := m.Fire(context.Background(), PreToolUse, &Payload{ToolName: "Bash"})
	require.NoError(t, err)
	assert.True(t, merged.Continue)
	assert.Equal(t, []string{"high", "mid", "low"}, order)
}

func TestFireTiesBreakByRegistration(t *testing.T) {
	m := NewManager()
	var order []string
	mk := func(name string) Hook {
		return Hook{
			Name: name, Events: []Event{Stop},
			Handler: func(ctx context.Context, p *Payload) (*Output, error) {
				order = append(order, name)
				return nil, nil
			},
		}
	}
	require.NoError(t, m.Register(mk("first"), mk("second")))
	_, err := m.Fire(context.Background(), Stop, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestContinueIsLogicalAnd(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Register(
		Hook{Name: "allow", Events: []Event{PreToolUse}, Priority: 2,
			Handler: func(ctx context.Context, p *Payload) (*Output, error) { return allowOutput(), nil }},
		Hook{Name: "deny", Events: []Event{PreToolUse}, Priority: 1,
			Handler: func(ctx context.Context, p *Payload) (*Output, error) { return blockOutput("nope"), nil }},
	))
	merged, err := m.Fire(context.Background(), PreToolUse, &Payload{ToolName: "Write"})
	require.NoError(t, err)
	assert.False(t, merged.Continue)
	assert.Equal(t, "nope", merged.StopReason)
}

func TestUpdatedInputLatestWins(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Register(
		Hook{Name: "a", Events: []Event{PreToolUse}, Priority: 10,
			Handler: func(ctx context.Context, p *Payload) (*Output, error) {
				return &Output{UpdatedInput: map[string]any{"v": "from-a"}}, nil
			}},
		Hook{Name: "b", Events: []Event{PreToolUse}, Priority: 1,
			Handler: func(ctx context.Context, p *Payload) (*Output, error) {
				return &Output{UpdatedInput: map[string]any{"v": "from-b"}}, nil
			}},
	))
	merged, err := m.Fire(context.Background(), PreToolUse, &Payload{ToolName: "Edit"})
	require.NoError(t, err)
	assert.Equal(t, "from-b", merged.UpdatedInput["v"])
}

func TestSystemMessagesConcatenateInPriorityOrder(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Register(
		Hook{Name: "low", Events: []Event{PostToolUse}, Priority: 1,
			Handler: func(ctx context.Context, p *Payload) (*Output, error) {
				return &Output{SystemMessage: "second"}, nil
			}},
		Hook{Name: "high", Events: []Event{PostToolUse}, Priority: 9,
			Handler: func(ctx context.Context, p *Payload) (*Output, error) {
				return &Output{SystemMessage: "first"}, nil
			}},
	))
	merged, err := m.Fire(context.Background(), PostToolUse, &Payload{ToolName: "Read"})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, merged.SystemMessages)
}

func TestMatcherFiltersByToolName(t *testing.T) {
	m := NewManager()
	fired := 0
	require.NoError(t, m.Register(Hook{
		Name: "bash-only", Events: []Event{PreToolUse}, Matcher: "^Bash$",
		Handler: func(ctx context.Context, p *Payload) (*Output, error) {
			fired++
			return nil, nil
		},
	}))
	_, err := m.Fire(context.Background(), PreToolUse, &Payload{ToolName: "Read"})
	require.NoError(t, err)
	_, err = m.Fire(context.Background(), PreToolUse, &Payload{ToolName: "Bash"})
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
}

func TestOnceRunsOncePerSession(t *testing.T) {
	m := NewManager()
	fired := 0
	require.NoError(t, m.Register(Hook{
		Name: "once", Events: []Event{SessionStart}, Once: true,
		Handler: func(ctx context.Context, p *Payload) (*Output, error) {
			fired++
			return nil, nil
		},
	}))
	for i := 0; i < 3; i++ {
		_, err := m.Fire(context.Background(), SessionStart, &Payload{SessionID: "s1"})
		require.NoError(t, err)
	}
	_, err := m.Fire(context.Background(), SessionStart, &Payload{SessionID: "s2"})
	require.NoError(t, err)
	assert.Equal(t, 2, fired)
}

func TestRegisterRejectsBadHooks(t *testing.T) {
	m := NewManager()
	assert.Error(t, m.Register(Hook{Name: "no-impl", Events: []Event{Stop}}))
	assert.Error(t, m.Register(Hook{Name: "no-events", Command: "true"}))
	assert.Error(t, m.Register(Hook{Name: "bad-event", Events: []Event{"Nope"}, Command: "true"}))
	assert.Error(t, m.Register(Hook{Name: "bad-regex", Events: []Event{Stop}, Matcher: "(", Command: "true"}))
}

func TestCommandHookAllow(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Register(Hook{
		Name: "echo-json", Events: []Event{PreToolUse},
		Command: `echo '{"systemMessage":"from hook"}'`,
	}))
	merged, err := m.Fire(context.Background(), PreToolUse, &Payload{ToolName: "Bash"})
	require.NoError(t, err)
	assert.True(t, merged.Continue)
	assert.Equal(t, []string{"from hook"}, merged.SystemMessages)
}

func TestCommandHookBlockingExit2(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Register(Hook{
		Name: "blocker", Events: []Event{PreToolUse},
		Command: `echo "policy violation" >&2; exit 2`,
	}))
	merged, err := m.Fire(context.Background(), PreToolUse, &Payload{ToolName: "Bash"})
	require.NoError(t, err)
	assert.False(t, merged.Continue)
	assert.Contains(t, merged.StopReason, "policy violation")
}

func TestCommandHookNonBlockingExit1(t *testing.T) {
	var reported error
	m := NewManager(WithErrorHandler(func(evt Event, err error) { reported = err }))
	require.NoError(t, m.Register(Hook{
		Name: "warner", Events: []Event{PreToolUse},
		Command: `echo "just a warning" >&2; exit 1`,
	}))
	merged, err := m.Fire(context.Background(), PreToolUse, &Payload{ToolName: "Bash"})
	require.NoError(t, err)
	assert.True(t, merged.Continue)
	require.Error(t, reported)
}

func TestCommandHookTimeout(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Register(Hook{
		Name: "slow", Events: []Event{PreToolUse},
		Command: "sleep 5", Timeout: 50 * time.Millisecond,
	}))
	_, err := m.Fire(context.Background(), PreToolUse, &Payload{ToolName: "Bash"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestParseConfigFlat(t *testing.T) {
	data := []byte(`
PreToolUse: ["./check.sh", "./audit.sh"]
Stop: ["./bye.sh"]
`)
	hooks, err := ParseConfig(data, "")
	require.NoError(t, err)
	assert.Len(t, hooks, 3)
}

func TestParseConfigNested(t *testing.T) {
	data := []byte(`
PreToolUse:
  - matcher: "Bash"
    hooks:
      - type: command
        command: "${PLUGIN_ROOT}/check.sh"
        timeout: 30
`)
	hooks, err := ParseConfig(data, "/opt/plugin")
	require.NoError(t, err)
	require.Len(t, hooks, 1)
	assert.Equal(t, "/opt/plugin/check.sh", hooks[0].Command)
	assert.Equal(t, "Bash", hooks[0].Matcher)
	assert.Equal(t, 30*time.Second, hooks[0].Timeout)
}

func TestParseConfigRejectsUnknownEvent(t *testing.T) {
	_, err := ParseConfig([]byte(`Banana: ["./x.sh"]`), "")
	require.Error(t, err)
}
