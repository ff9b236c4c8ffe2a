package message

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTreeAppendAndBranch(t *testing.T) {
	tree := NewTree()
	require.Equal(t, -1, tree.Leaf())

	tree.Append(Text(RoleUser, "hello"))
	tree.Append(Text(RoleAssistant, "hi"))
	tree.Append(Text(RoleUser, "again"))

	branch := tree.Branch()
	require.Len(t, branch, 3)
	assert.Equal(t, "hello", branch[0].TextContent())
	assert.Equal(t, "again", branch[2].TextContent())
	assert.Equal(t, 2, tree.Leaf())
}

func TestTreeBranchFromEarlierNode(t *testing.T) {
	tree := NewTree()
	root := tree.Append(Text(RoleUser, "first"))
	tree.Append(Text(RoleAssistant, "original answer"))

	_, err := tree.AppendAt(root, Text(RoleAssistant, "edited answer"))
	require.NoError(t, err)

	branch := tree.Branch()
	require.Len(t, branch, 2)
	assert.Equal(t, "edited answer", branch[1].TextContent())
	// The abandoned branch is still stored.
	assert.Equal(t, 3, tree.Len())
}

func TestTreeSideChainExcluded(t *testing.T) {
	tree := NewTree()
	tree.Append(Text(RoleUser, "main"))
	side := Text(RoleAssistant, "subagent chatter")
	side.SideChain = true
	tree.Append(side)
	tree.Append(Text(RoleAssistant, "visible"))

	branch := tree.Branch()
	require.Len(t, branch, 2)
	assert.Equal(t, "visible", branch[1].TextContent())
}

func TestTreeReplaceBranch(t *testing.T) {
	tree := NewTree()
	for i := 0; i < 5; i++ {
		tree.Append(Text(RoleUser, "m"))
	}
	tree.ReplaceBranch([]Message{
		Text(RoleSystem, "sys"),
		Text(RoleAssistant, "summary"),
	})
	branch := tree.Branch()
	require.Len(t, branch, 2)
	assert.Equal(t, RoleAssistant, branch[1].Role)
	assert.Equal(t, tree.Len()-1, tree.Leaf())
}

func TestTreeJSONRoundTrip(t *testing.T) {
	tree := NewTree()
	tree.Append(Text(RoleUser, "q"))
	tree.Append(Message{Role: RoleAssistant, Blocks: []Block{
		{Type: BlockToolUse, ToolUseID: "tu_1", ToolName: "Read", Input: map[string]any{"file_path": "/a"}},
	}})

	data, err := json.Marshal(tree)
	require.NoError(t, err)

	restored := NewTree()
	require.NoError(t, json.Unmarshal(data, restored))
	assert.Equal(t, tree.Len(), restored.Len())
	assert.Equal(t, tree.Leaf(), restored.Leaf())

	orig, rest := tree.Branch(), restored.Branch()
	require.Equal(t, len(orig), len(rest))
	assert.Equal(t, "Read", rest[1].ToolUses()[0].ToolName)
}

func TestTreeUnmarshalRejectsForwardParent(t *testing.T) {
	payload := `{"nodes":[{"msg":{"role":"user","blocks":null},"parent":1}],"leaf":0}`
	err := json.Unmarshal([]byte(payload), NewTree())
	require.Error(t, err)
}

func TestUsageSaturates(t *testing.T) {
	u := Usage{InputTokens: math.MaxInt64 - 1}
	u.Add(Usage{InputTokens: 100})
	assert.Equal(t, int64(math.MaxInt64), u.InputTokens)

	u2 := Usage{InputTokens: 100, CacheReadTokens: 20, CacheWriteTokens: 5}
	assert.Equal(t, int64(125), u2.ContextWindow())
}

func TestSatMul(t *testing.T) {
	assert.Equal(t, int64(math.MaxInt64), SatMul(math.MaxInt64, 2))
	assert.Equal(t, int64(0), SatMul(-1, 5))
	assert.Equal(t, int64(42), SatMul(6, 7))
}

func TestMessageCloneIsolation(t *testing.T) {
	msg := Message{Role: RoleAssistant, Blocks: []Block{
		{Type: BlockToolUse, ToolUseID: "x", Input: map[string]any{"k": "v"}},
	}}
	dup := msg.Clone()
	dup.Blocks[0].Input["k"] = "mutated"
	assert.Equal(t, "v", msg.Blocks[0].Input["k"])
}
