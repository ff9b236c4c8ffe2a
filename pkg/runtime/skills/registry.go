package skills

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrNotFound indicates no skill with the requested name exists.
	ErrNotFound = errors.New("skills: not found")
)

var skillNameRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,62}[a-z0-9])?$`)

// Definition is the progressive-disclosure descriptor of one skill. The
// markdown body stays on disk until the skill is invoked.
type Definition struct {
	Name        string
	Description string
	Triggers    []string
	// AllowedTools restricts the tool surface while the skill is active.
	AllowedTools []string
	// Model optionally overrides the model for this skill.
	Model        string
	ArgumentHint string
	// DisableModelInvocation keeps the skill invocable explicitly while
	// excluding it from the descriptor index shown to the model.
	DisableModelInvocation bool
	// Path locates the markdown file holding the body.
	Path string
}

// Validate performs cheap sanity checks before accepting a definition.
func (d Definition) Validate() error {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return errors.New("skills: name is required")
	}
	if !skillNameRe.MatchString(name) {
		return fmt.Errorf("skills: invalid name %q (lowercase alphanumeric and hyphens, 1-64 chars)", d.Name)
	}
	return nil
}

// Registry stores skill definitions keyed by name.
type Registry struct {
	mu     sync.RWMutex
	skills map[string]Definition
	bodies map[string]string // lazily loaded
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{skills: map[string]Definition{}, bodies: map[string]string{}}
}

// Register validates and stores a definition, replacing any previous entry
// with the same name.
func (r *Registry) Register(def Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skills[def.Name] = def
	delete(r.bodies, def.Name)
	return nil
}

// Get fetches a definition by name.
func (r *Registry) Get(name string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.skills[name]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return def, nil
}

// List returns all definitions sorted by name.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.skills))
	for _, def := range r.skills {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Replace swaps the full skill set atomically (used by the watcher).
func (r *Registry) Replace(defs []Definition) {
	next := make(map[string]Definition, len(defs))
	for _, def := range defs {
		if def.Validate() == nil {
			next[def.Name] = def
		}
	}
	r.mu.Lock()
	r.skills = next
	r.bodies = map[string]string{}
	r.mu.Unlock()
}

// Match returns the skills whose trigger keywords appear in the prompt,
// excluding those opted out of automatic invocation.
func (r *Registry) Match(userPrompt string) []Definition {
	lower := strings.ToLower(userPrompt)
	var out []Definition
	for _, def := range r.List() {
		if def.DisableModelInvocation {
			continue
		}
		for _, trigger := range def.Triggers {
			trigger = strings.ToLower(strings.TrimSpace(trigger))
			if trigger != "" && strings.Contains(lower, trigger) {
				out = append(out, def)
				break
			}
		}
	}
	return out
}

// DescriptorBlock renders the descriptor index for the system prompt. Bodies
// are never included; they load on invocation.
func (r *Registry) DescriptorBlock() string {
	defs := r.List()
	var b strings.Builder
	for _, def := range defs {
		if def.DisableModelInvocation {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s", def.Name, def.Description)
		if def.ArgumentHint != "" {
			fmt.Fprintf(&b, " (args: %s)", def.ArgumentHint)
		}
		b.WriteString("\n")
	}
	body := strings.TrimRight(b.String(), "\n")
	if body == "" {
		return ""
	}
	return "# Skills\n" + body
}

// Expand loads the skill body and substitutes $ARGUMENTS and the positional
// $1..$9 placeholders.
func (r *Registry) Expand(name, args string) (string, error) {
	def, err := r.Get(name)
	if err != nil {
		return "", err
	}
	body, err := r.body(def)
	if err != nil {
		return "", err
	}
	expanded := strings.ReplaceAll(body, "$ARGUMENTS", args)
	fields := strings.Fields(args)
	for i := 9; i >= 1; i-- {
		value := ""
		if i <= len(fields) {
			value = fields[i-1]
		}
		expanded = strings.ReplaceAll(expanded, fmt.Sprintf("$%d", i), value)
	}
	return expanded, nil
}

func (r *Registry) body(def Definition) (string, error) {
	r.mu.RLock()
	cached, ok := r.bodies[def.Name]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}
	data, err := os.ReadFile(def.Path)
	if err != nil {
		return "", fmt.Errorf("skills: load body of %s: %w", def.Name, err)
	}
	body := strings.TrimSpace(stripFrontmatter(string(data)))
	r.mu.Lock()
	r.bodies[def.Name] = body
	r.mu.Unlock()
	return body, nil
}
