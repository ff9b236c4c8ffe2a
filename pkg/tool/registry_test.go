package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTool struct {
	name   string
	schema *JSONSchema
	flags  Flags
	fn     func(ctx context.Context, params map[string]any) (*Result, error)
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub" }
func (s *stubTool) Schema() *JSONSchema { return s.schema }
func (s *stubTool) Flags() Flags        { return s.flags }
func (s *stubTool) Execute(ctx context.Context, params map[string]any, _ *ExecContext) (*Result, error) {
	if s.fn != nil {
		return s.fn(ctx, params)
	}
	return Ok("done"), nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubTool{name: "Echo"}))

	_, err := r.Get("Echo")
	require.NoError(t, err)

	// Lookup is case-sensitive and exact.
	_, err = r.Get("echo")
	require.Error(t, err)
	assert.Equal(t, ErrKindNotFound, KindOf(err))
}

func TestRegistryDuplicateRejected(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubTool{name: "X"}))
	require.Error(t, r.Register(&stubTool{name: "X"}))
}

func TestRegistryReplaceIsExplicit(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubTool{name: "X"}))
	require.NoError(t, r.Replace(&stubTool{name: "X", flags: Flags{Shell: true}}))
	got, err := r.Get("X")
	require.NoError(t, err)
	assert.True(t, FlagsOf(got).Shell)
}

func TestRegistryDynamicCycle(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubTool{name: "T"}))
	require.NoError(t, r.Unregister("T"))
	require.NoError(t, r.Register(&stubTool{name: "T"}))
	_, err := r.Get("T")
	require.NoError(t, err)
}

func TestRegistryRejectsMalformedSchema(t *testing.T) {
	r := NewRegistry()
	bad := &stubTool{name: "Bad", schema: &JSONSchema{
		Type:       "object",
		Properties: map[string]any{},
		Required:   []string{"missing"},
	}}
	require.Error(t, r.Register(bad))
}

func TestRegistryExecuteValidatesInput(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubTool{
		name:   "Need",
		schema: ObjectSchema(map[string]any{"x": StringProp("x")}, "x"),
	}))

	_, err := r.Execute(context.Background(), "Need", map[string]any{}, nil)
	require.Error(t, err)
	assert.Equal(t, ErrKindSchema, KindOf(err))

	res, err := r.Execute(context.Background(), "Need", map[string]any{"x": "v"}, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestRegistryExecuteRecoversPanic(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubTool{
		name: "Boom",
		fn:   func(ctx context.Context, params map[string]any) (*Result, error) { panic("kaput") },
	}))
	_, err := r.Execute(context.Background(), "Boom", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")
	assert.Equal(t, ErrKindExecution, KindOf(err))
}

func TestAccessSets(t *testing.T) {
	assert.True(t, AccessAll().Permits("Anything"))
	only := AccessOnly("Read", "Glob")
	assert.True(t, only.Permits("Read"))
	assert.False(t, only.Permits("Bash"))
	except := AccessExcept("Bash")
	assert.True(t, except.Permits("Read"))
	assert.False(t, except.Permits("Bash"))
}

func TestVisibleComposesAccessAndPolicy(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubTool{name: "Read", flags: Flags{ReadOnly: true}}))
	require.NoError(t, r.Register(&stubTool{name: "Bash", flags: Flags{Shell: true}}))
	require.NoError(t, r.Register(&stubTool{name: "Write", flags: Flags{FileTouching: true}}))

	policy, err := NewPolicy(ModeBypass, []string{"Write"}, nil, nil)
	require.NoError(t, err)

	visible := r.Visible(AccessExcept("Bash"), policy)
	names := make([]string, 0, len(visible))
	for _, tl := range visible {
		names = append(names, tl.Name())
	}
	assert.Equal(t, []string{"Read"}, names)
}

func TestScopedDenyKeepsToolVisible(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubTool{name: "Bash", flags: Flags{Shell: true}}))
	policy, err := NewPolicy(ModeBypass, []string{"Bash(rm:*)"}, nil, nil)
	require.NoError(t, err)
	visible := r.Visible(AccessAll(), policy)
	require.Len(t, visible, 1)
}

func TestErrorUnwrap(t *testing.T) {
	base := errors.New("root cause")
	wrapped := NewError("X", ErrKindTimeout, base)
	assert.ErrorIs(t, wrapped, base)
	assert.Equal(t, ErrKindTimeout, KindOf(wrapped))
}
