package skills

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSkill(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const deploySkill = `---
name: deploy
description: Deploy the service
triggers: deploy, release
allowed-tools: Bash, Read
argument-hint: "<environment>"
---
Deploy to $1 with args: $ARGUMENTS`

func TestLoadDirAndExpand(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "deploy.md", deploySkill)

	defs, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "deploy", defs[0].Name)
	assert.Equal(t, []string{"Bash", "Read"}, []string(defs[0].AllowedTools))

	r := NewRegistry()
	require.NoError(t, r.Register(defs[0]))

	expanded, err := r.Expand("deploy", "staging --fast")
	require.NoError(t, err)
	assert.Contains(t, expanded, "Deploy to staging")
	assert.Contains(t, expanded, "args: staging --fast")
}

func TestLoadDirNestedSkillFile(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, filepath.Join("review", "SKILL.md"), "---\ndescription: Review code\n---\nbody")

	defs, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "review", defs[0].Name)
}

func TestLoadDirSkipsBrokenFiles(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "ok.md", "---\nname: ok\ndescription: fine\n---\nbody")
	writeSkill(t, dir, "broken.md", "no frontmatter")
	writeSkill(t, dir, "badname.md", "---\nname: \"Bad Name!\"\n---\nbody")

	defs, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "ok", defs[0].Name)
}

func TestTriggerMatching(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Definition{Name: "deploy", Triggers: []string{"deploy"}}))
	require.NoError(t, r.Register(Definition{Name: "hidden", Triggers: []string{"deploy"}, DisableModelInvocation: true}))

	matched := r.Match("please deploy the api")
	require.Len(t, matched, 1)
	assert.Equal(t, "deploy", matched[0].Name)

	assert.Empty(t, r.Match("unrelated prompt"))
}

func TestDescriptorBlockExcludesDisabled(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Definition{Name: "visible", Description: "shown"}))
	require.NoError(t, r.Register(Definition{Name: "hidden", Description: "not shown", DisableModelInvocation: true}))

	block := r.DescriptorBlock()
	assert.Contains(t, block, "visible")
	assert.NotContains(t, block, "hidden")
}

func TestExpandPositionalArgs(t *testing.T) {
	dir := t.TempDir()
	path := writeSkill(t, dir, "args.md", "---\nname: args\n---\nfirst=$1 second=$2 third=$3")
	r := NewRegistry()
	require.NoError(t, r.Register(Definition{Name: "args", Path: path}))

	out, err := r.Expand("args", "a b")
	require.NoError(t, err)
	assert.Equal(t, "first=a second=b third=", out)
}

func TestExpandUnknownSkill(t *testing.T) {
	r := NewRegistry()
	_, err := r.Expand("ghost", "")
	assert.ErrorIs(t, err, ErrNotFound)
}
