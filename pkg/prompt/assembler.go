package prompt

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// identityPreamble is the fixed head of every system prompt.
const identityPreamble = `You are an autonomous coding agent. You help with software engineering tasks by reading, writing and editing files, running commands, and reasoning about code.`

// toolPolicyText explains tool usage expectations to the model.
const toolPolicyText = `Use the provided tools to act; never fabricate tool results. Prefer reading files before editing them. Execute tools one at a time and react to their results. When a tool fails, adapt instead of repeating the identical call.`

// codingGuidelines is included unless the active output style suppresses it.
const codingGuidelines = `Follow the conventions of the surrounding code: match naming, formatting, and idiom. Keep changes minimal and focused. Do not add comments that restate the code.`

// Assembler builds the system prompt from its ordered sections plus merged
// project memory and the rule index.
type Assembler struct {
	// CustomBody is user-provided prompt text appended after the guidelines.
	CustomBody string
	// OutputStyle suppresses the coding guidelines when it declares so.
	OutputStyle *OutputStyle
	// Memory supplies merged project memory (may be nil).
	Memory *MemoryLoader
	// Rules supplies the descriptor-only rule index (may be nil).
	Rules *RuleIndex

	// Environment block inputs.
	WorkDir string
	Model   string
}

// OutputStyle customizes the assistant register.
type OutputStyle struct {
	Name string
	// Body is added as its own section after the coding guidelines when
	// non-empty.
	Body string
	// SuppressGuidelines drops the coding guidelines section.
	SuppressGuidelines bool
}

// Assemble concatenates, in order: identity preamble, tool policy,
// conditional coding guidelines, custom body, and the environment block.
// Merged memory and rule descriptors follow as context sections.
func (a *Assembler) Assemble() (string, error) {
	var sections []string
	sections = append(sections, identityPreamble, toolPolicyText)

	if a.OutputStyle == nil || !a.OutputStyle.SuppressGuidelines {
		sections = append(sections, codingGuidelines)
	}
	if a.OutputStyle != nil && strings.TrimSpace(a.OutputStyle.Body) != "" {
		sections = append(sections, strings.TrimSpace(a.OutputStyle.Body))
	}
	if strings.TrimSpace(a.CustomBody) != "" {
		sections = append(sections, strings.TrimSpace(a.CustomBody))
	}
	sections = append(sections, a.environmentBlock())

	if a.Memory != nil {
		merged, err := a.Memory.Merge()
		if err != nil {
			return "", err
		}
		if merged != "" {
			sections = append(sections, "# Project memory\n\n"+merged)
		}
	}
	if a.Rules != nil {
		if index := a.Rules.DescriptorBlock(); index != "" {
			sections = append(sections, index)
		}
	}
	return strings.Join(sections, "\n\n"), nil
}

func (a *Assembler) environmentBlock() string {
	var b strings.Builder
	b.WriteString("# Environment\n")
	fmt.Fprintf(&b, "Working directory: %s\n", a.WorkDir)
	fmt.Fprintf(&b, "OS: %s\n", runtime.GOOS)
	fmt.Fprintf(&b, "Date: %s\n", time.Now().UTC().Format("2006-01-02"))
	if a.Model != "" {
		fmt.Fprintf(&b, "Model: %s\n", a.Model)
	}
	return strings.TrimRight(b.String(), "\n")
}
