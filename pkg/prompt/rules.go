package prompt

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Rule is a path-scoped instruction. Only the descriptor lives in the system
// prompt; the body is loaded on demand when a tool call's path matches.
type Rule struct {
	Name        string
	Description string
	Glob        string
	Path        string // file holding the body

	once sync.Once
	body string
	err  error
}

type ruleFrontmatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Glob        string `yaml:"glob"`
}

// Body lazily loads and caches the rule's markdown body.
func (r *Rule) Body() (string, error) {
	r.once.Do(func() {
		data, err := os.ReadFile(r.Path)
		if err != nil {
			r.err = err
			return
		}
		r.body = strings.TrimSpace(stripFrontmatter(string(data)))
	})
	return r.body, r.err
}

// Matches reports whether the rule applies to the given path.
func (r *Rule) Matches(p string) bool {
	if r.Glob == "" {
		return false
	}
	candidate := filepath.ToSlash(p)
	if ok, err := path.Match(r.Glob, candidate); err == nil && ok {
		return true
	}
	// Support ** by segment-wise suffix matching on the basename pattern.
	if strings.HasPrefix(r.Glob, "**/") {
		if ok, err := path.Match(strings.TrimPrefix(r.Glob, "**/"), path.Base(candidate)); err == nil && ok {
			return true
		}
	}
	return false
}

// RuleIndex holds rules in registration order.
type RuleIndex struct {
	mu    sync.RWMutex
	rules []*Rule
}

// LoadRules scans dir for markdown rule files. Files without the required
// frontmatter keys fail loading of that rule only.
func LoadRules(dir string) (*RuleIndex, error) {
	idx := &RuleIndex{}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return idx, nil
		}
		return nil, fmt.Errorf("prompt: read rules dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		full := filepath.Join(dir, entry.Name())
		rule, err := parseRuleFile(full)
		if err != nil {
			fmt.Fprintf(os.Stderr, "prompt: skipping rule %s: %v\n", entry.Name(), err)
			continue
		}
		idx.Add(rule)
	}
	return idx, nil
}

func parseRuleFile(path string) (*Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	fm, err := extractFrontmatter(string(data))
	if err != nil {
		return nil, err
	}
	var meta ruleFrontmatter
	if err := yaml.Unmarshal([]byte(fm), &meta); err != nil {
		return nil, fmt.Errorf("parse frontmatter: %w", err)
	}
	if strings.TrimSpace(meta.Name) == "" {
		return nil, fmt.Errorf("missing name")
	}
	if strings.TrimSpace(meta.Glob) == "" {
		return nil, fmt.Errorf("missing glob")
	}
	return &Rule{Name: meta.Name, Description: meta.Description, Glob: meta.Glob, Path: path}, nil
}

// Add registers a rule.
func (i *RuleIndex) Add(rule *Rule) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.rules = append(i.rules, rule)
}

// DescriptorBlock renders the descriptor-only index for the system prompt.
func (i *RuleIndex) DescriptorBlock() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if len(i.rules) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("# Rules\n")
	for _, rule := range i.rules {
		fmt.Fprintf(&b, "- %s (%s): %s\n", rule.Name, rule.Glob, rule.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

// BodiesFor loads the full bodies of every rule matching the path.
func (i *RuleIndex) BodiesFor(p string) []string {
	i.mu.RLock()
	rules := append([]*Rule(nil), i.rules...)
	i.mu.RUnlock()

	var out []string
	for _, rule := range rules {
		if !rule.Matches(p) {
			continue
		}
		body, err := rule.Body()
		if err != nil || body == "" {
			continue
		}
		out = append(out, body)
	}
	return out
}

// extractFrontmatter returns the YAML between leading --- fences.
func extractFrontmatter(body string) (string, error) {
	if !strings.HasPrefix(body, "---\n") {
		return "", fmt.Errorf("missing frontmatter")
	}
	rest := body[4:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return "", fmt.Errorf("unterminated frontmatter")
	}
	return rest[:end], nil
}
