package tool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustPolicy(t *testing.T, mode Mode, deny, ask, allow []string) *Policy {
	t.Helper()
	p, err := NewPolicy(mode, deny, ask, allow)
	require.NoError(t, err)
	return p
}

func TestPolicyDenyDominatesAllow(t *testing.T) {
	p := mustPolicy(t, ModeBypass, []string{"Bash(rm:*)"}, nil, []string{"Bash"})
	d := p.Check("Bash", Flags{Shell: true}, map[string]any{"command": "rm -rf /tmp/x"})
	assert.Equal(t, ActionDeny, d.Action)
	assert.Equal(t, "Bash(rm:*)", d.Rule)
}

func TestPolicyAllowBeforeModeDefault(t *testing.T) {
	p := mustPolicy(t, ModeDefault, nil, nil, []string{"Bash(git:*)"})
	d := p.Check("Bash", Flags{Shell: true}, map[string]any{"command": "git status"})
	assert.Equal(t, ActionAllow, d.Action)

	d = p.Check("Bash", Flags{Shell: true}, map[string]any{"command": "make build"})
	assert.Equal(t, ActionAsk, d.Action)
}

func TestPolicyAskTier(t *testing.T) {
	p := mustPolicy(t, ModeBypass, nil, []string{"Bash(curl:*)"}, nil)
	d := p.Check("Bash", Flags{Shell: true}, map[string]any{"command": "curl https://x"})
	assert.Equal(t, ActionAsk, d.Action)
}

func TestPolicyPathScope(t *testing.T) {
	p := mustPolicy(t, ModeDefault, []string{"Read(/etc/**)"}, nil, []string{"Read(/project/**)"})

	d := p.Check("Read", Flags{ReadOnly: true}, map[string]any{"file_path": "/project/src/main.go"})
	assert.Equal(t, ActionAllow, d.Action)

	d = p.Check("Read", Flags{ReadOnly: true}, map[string]any{"file_path": "/etc/passwd"})
	assert.Equal(t, ActionDeny, d.Action)

	d = p.Check("Read", Flags{ReadOnly: true}, map[string]any{"file_path": "/other/file"})
	assert.Equal(t, ActionAsk, d.Action)
}

func TestPolicyPlanModeReadOnly(t *testing.T) {
	p := mustPolicy(t, ModePlan, nil, nil, nil)
	assert.Equal(t, ActionAllow, p.Check("Read", Flags{ReadOnly: true}, nil).Action)
	assert.Equal(t, ActionDeny, p.Check("Write", Flags{FileTouching: true}, nil).Action)
	assert.Equal(t, ActionDeny, p.Check("Bash", Flags{Shell: true}, nil).Action)
}

func TestPolicyAcceptEditsMode(t *testing.T) {
	p := mustPolicy(t, ModeAcceptEdits, nil, nil, nil)
	assert.Equal(t, ActionAllow, p.Check("Write", Flags{FileTouching: true}, nil).Action)
	assert.Equal(t, ActionAsk, p.Check("Bash", Flags{Shell: true}, nil).Action)
}

func TestPolicyBareToolRule(t *testing.T) {
	p := mustPolicy(t, ModeBypass, []string{"KillShell"}, nil, nil)
	assert.Equal(t, ActionDeny, p.Check("KillShell", Flags{}, map[string]any{"shell_id": "s1"}).Action)
}

func TestPolicyBashNoArgsTarget(t *testing.T) {
	p := mustPolicy(t, ModeDefault, nil, nil, []string{"Bash(ls:*)"})
	d := p.Check("Bash", Flags{Shell: true}, map[string]any{"command": "ls"})
	assert.Equal(t, ActionAllow, d.Action)
}

func TestPolicyIsPure(t *testing.T) {
	p := mustPolicy(t, ModeDefault, []string{"Bash(rm:*)"}, nil, []string{"Bash"})
	params := map[string]any{"command": "rm x"}
	first := p.Check("Bash", Flags{Shell: true}, params)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, p.Check("Bash", Flags{Shell: true}, params))
	}
}

func TestPolicyRejectsMalformedRule(t *testing.T) {
	_, err := NewPolicy(ModeDefault, []string{"Bash(rm:*"}, nil, nil)
	require.Error(t, err)
	_, err = NewPolicy("weird", nil, nil, nil)
	require.Error(t, err)
}

func TestValidatorPrimitives(t *testing.T) {
	v := DefaultValidator{}
	schema := ObjectSchema(map[string]any{
		"s": StringProp("s"),
		"n": NumberProp("n"),
		"b": BoolProp("b"),
		"a": ArrayProp("a", map[string]any{"type": "string"}),
	}, "s")

	require.NoError(t, v.Validate(map[string]any{"s": "x", "n": 3.0, "b": true, "a": []any{"y"}}, schema))
	require.Error(t, v.Validate(map[string]any{}, schema))
	require.Error(t, v.Validate(map[string]any{"s": 42}, schema))
	require.Error(t, v.Validate(map[string]any{"s": "x", "a": []any{1}}, schema))
}
