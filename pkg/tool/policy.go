package tool

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// Mode sets the policy baseline applied when no explicit rule matches.
type Mode string

const (
	// ModeBypass allows everything not explicitly denied.
	ModeBypass Mode = "bypass"
	// ModePlan allows only read-only tools.
	ModePlan Mode = "plan"
	// ModeAcceptEdits additionally allows file-touching tools.
	ModeAcceptEdits Mode = "acceptEdits"
	// ModeDefault requires an explicit rule; unmatched calls need approval.
	ModeDefault Mode = "default"
)

// Action is the policy verdict for one tool call.
type Action string

const (
	ActionAllow Action = "allow"
	ActionAsk   Action = "ask"
	ActionDeny  Action = "deny"
)

// Decision captures the verdict together with the rule that produced it.
type Decision struct {
	Action Action
	Rule   string
	Target string
}

// Policy evaluates tool calls against a mode plus ordered deny/ask/allow
// rules. Deny dominates ask dominates allow dominates the mode default.
// Check is a pure function of (policy, tool, input).
type Policy struct {
	mode  Mode
	deny  []*policyRule
	ask   []*policyRule
	allow []*policyRule
}

type policyRule struct {
	raw    string
	tool   string
	target *regexp.Regexp // nil matches every target
}

// NewPolicy compiles the rule lists. Invalid rules fail construction; a
// malformed permission rule is a configuration error, not a runtime one.
func NewPolicy(mode Mode, deny, ask, allow []string) (*Policy, error) {
	switch mode {
	case ModeBypass, ModePlan, ModeAcceptEdits, ModeDefault:
	case "":
		mode = ModeDefault
	default:
		return nil, fmt.Errorf("tool: unknown permission mode %q", mode)
	}
	compile := func(rules []string) ([]*policyRule, error) {
		out := make([]*policyRule, 0, len(rules))
		for _, raw := range rules {
			r, err := compileRule(raw)
			if err != nil {
				return nil, err
			}
			out = append(out, r)
		}
		return out, nil
	}
	p := &Policy{mode: mode}
	var err error
	if p.deny, err = compile(deny); err != nil {
		return nil, err
	}
	if p.ask, err = compile(ask); err != nil {
		return nil, err
	}
	if p.allow, err = compile(allow); err != nil {
		return nil, err
	}
	return p, nil
}

// Mode reports the configured baseline.
func (p *Policy) Mode() Mode {
	if p == nil {
		return ModeDefault
	}
	return p.mode
}

// Check evaluates one tool call. flags describe the tool's behaviour for the
// mode default.
func (p *Policy) Check(name string, flags Flags, params map[string]any) Decision {
	if p == nil {
		return Decision{Action: ActionAllow}
	}
	target := deriveTarget(name, params)
	if d, ok := match(p.deny, name, target, ActionDeny); ok {
		return d
	}
	if d, ok := match(p.ask, name, target, ActionAsk); ok {
		return d
	}
	if d, ok := match(p.allow, name, target, ActionAllow); ok {
		return d
	}
	return Decision{Action: p.modeDefault(flags), Target: target}
}

func (p *Policy) modeDefault(flags Flags) Action {
	switch p.mode {
	case ModeBypass:
		return ActionAllow
	case ModePlan:
		if flags.ReadOnly {
			return ActionAllow
		}
		return ActionDeny
	case ModeAcceptEdits:
		if flags.ReadOnly || flags.FileTouching {
			return ActionAllow
		}
		return ActionAsk
	default:
		return ActionAsk
	}
}

func match(rules []*policyRule, name, target string, action Action) (Decision, bool) {
	for _, rule := range rules {
		if !strings.EqualFold(rule.tool, name) {
			continue
		}
		if rule.target != nil && !rule.target.MatchString(target) {
			continue
		}
		return Decision{Action: action, Rule: rule.raw, Target: target}, true
	}
	return Decision{}, false
}

// compileRule parses "Tool" or "Tool(pattern)" with glob-style wildcards in
// the pattern.
func compileRule(raw string) (*policyRule, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errors.New("tool: empty permission rule")
	}
	open := strings.IndexRune(trimmed, '(')
	if open < 0 {
		return &policyRule{raw: trimmed, tool: trimmed}, nil
	}
	if !strings.HasSuffix(trimmed, ")") {
		return nil, fmt.Errorf("tool: malformed permission rule %q", raw)
	}
	toolName := strings.TrimSpace(trimmed[:open])
	if toolName == "" {
		return nil, fmt.Errorf("tool: permission rule %q missing tool name", raw)
	}
	pattern := strings.TrimSuffix(trimmed[open+1:], ")")
	re, err := compileScope(pattern)
	if err != nil {
		return nil, fmt.Errorf("tool: permission rule %q: %w", raw, err)
	}
	return &policyRule{raw: trimmed, tool: toolName, target: re}, nil
}

// compileScope converts a glob scope into an anchored regexp. Both * and **
// cross path separators: scope targets mix command text and paths.
func compileScope(glob string) (*regexp.Regexp, error) {
	if strings.TrimSpace(glob) == "" {
		return nil, errors.New("empty scope pattern")
	}
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(glob); i++ {
		switch glob[i] {
		case '*':
			if i+1 < len(glob) && glob[i+1] == '*' {
				i++
			}
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		case '.', '+', '(', ')', '|', '^', '$', '{', '}', '[', ']', '\\':
			b.WriteString("\\")
			b.WriteByte(glob[i])
		default:
			b.WriteByte(glob[i])
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// deriveTarget extracts the scope string a rule pattern matches against.
// Bash targets are "program:rest-of-command"; file tools use the cleaned
// path. Params are inspected through their JSON form so nested shapes and
// numeric types do not need per-tool handling.
func deriveTarget(name string, params map[string]any) string {
	data, err := json.Marshal(params)
	if err != nil {
		return ""
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "bash":
		cmd := strings.TrimSpace(gjson.GetBytes(data, "command").String())
		if cmd == "" {
			return ""
		}
		fields := strings.Fields(cmd)
		if len(fields) == 1 {
			return fields[0] + ":"
		}
		return fields[0] + ":" + strings.Join(fields[1:], " ")
	case "read", "write", "edit":
		if p := gjson.GetBytes(data, "file_path").String(); p != "" {
			return filepath.Clean(p)
		}
	case "glob", "grep":
		if p := gjson.GetBytes(data, "path").String(); p != "" {
			return filepath.Clean(p)
		}
		return gjson.GetBytes(data, "pattern").String()
	case "task":
		return gjson.GetBytes(data, "subagent_type").String()
	case "skill":
		return gjson.GetBytes(data, "skill").String()
	}
	for _, key := range []string{"path", "file", "url", "target"} {
		if v := gjson.GetBytes(data, key).String(); v != "" {
			return v
		}
	}
	return ""
}
