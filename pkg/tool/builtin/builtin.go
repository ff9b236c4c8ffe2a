// Package builtin bundles the client-side tools every agent ships with:
// file access (Read/Write/Edit/Glob/Grep), shell (Bash/KillShell), and the
// session surfaces (Task/TaskOutput/TodoWrite/Plan/Skill).
package builtin

import "github.com/stellarlinkco/agentcore/pkg/tool"

// RegisterAll installs the twelve builtin tools on the registry. procs backs
// Bash's background mode and the KillShell table.
func RegisterAll(registry *tool.Registry, procs *ProcessManager) error {
	tools := []tool.Tool{
		ReadTool{},
		WriteTool{},
		EditTool{},
		GlobTool{},
		GrepTool{},
		BashTool{Procs: procs},
		KillShellTool{},
		TaskTool{},
		TaskOutputTool{},
		TodoWriteTool{},
		PlanTool{},
		SkillTool{},
	}
	for _, t := range tools {
		if err := registry.Register(t); err != nil {
			return err
		}
	}
	return nil
}
