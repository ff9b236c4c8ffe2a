package tool

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// AccessSet filters which registered tools are visible to the model.
type AccessSet struct {
	kind  accessKind
	names map[string]struct{}
}

type accessKind int

const (
	accessAll accessKind = iota
	accessOnly
	accessExcept
)

// AccessAll permits every registered tool.
func AccessAll() AccessSet { return AccessSet{kind: accessAll} }

// AccessOnly permits exactly the named tools.
func AccessOnly(names ...string) AccessSet {
	return AccessSet{kind: accessOnly, names: nameSet(names)}
}

// AccessExcept permits everything but the named tools.
func AccessExcept(names ...string) AccessSet {
	return AccessSet{kind: accessExcept, names: nameSet(names)}
}

// Permits reports whether the set exposes the named tool.
func (a AccessSet) Permits(name string) bool {
	switch a.kind {
	case accessOnly:
		_, ok := a.names[name]
		return ok
	case accessExcept:
		_, ok := a.names[name]
		return !ok
	default:
		return true
	}
}

func nameSet(names []string) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, name := range names {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			out[trimmed] = struct{}{}
		}
	}
	return out
}

// Registry keeps the mapping between tool names and implementations. Lookup
// is case-sensitive and exact. The registry is read-mostly; dynamic
// registration takes the write lock only for the insert.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]Tool
	validator Validator
}

// NewRegistry creates a registry backed by the default validator.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool), validator: DefaultValidator{}}
}

// Register inserts a tool when its name is not in use. The declared schema
// is asserted well-formed here so malformed tools fail at wiring time.
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return fmt.Errorf("tool: tool is nil")
	}
	name := t.Name()
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("tool: tool name is empty")
	}
	if err := t.Schema().Validate(); err != nil {
		return fmt.Errorf("tool: register %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool: %s already registered", name)
	}
	r.tools[name] = t
	return nil
}

// Replace installs a tool over an existing name. Replacing is explicit;
// Register never overwrites.
func (r *Registry) Replace(t Tool) error {
	if t == nil {
		return fmt.Errorf("tool: tool is nil")
	}
	name := t.Name()
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("tool: tool name is empty")
	}
	if err := t.Schema().Validate(); err != nil {
		return fmt.Errorf("tool: replace %s: %w", name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = t
	return nil
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; !exists {
		return fmt.Errorf("tool: %s not found", name)
	}
	delete(r.tools, name)
	return nil
}

// Get fetches a tool by exact name.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, exists := r.tools[name]
	if !exists {
		return nil, NewError(name, ErrKindNotFound, fmt.Errorf("not registered"))
	}
	return t, nil
}

// List produces a name-sorted snapshot of all registered tools.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Visible lists the tools exposed to the model: those the access set permits
// and the policy does not deny outright (a tool may be visible yet still be
// denied at call time by a scoped rule).
func (r *Registry) Visible(access AccessSet, policy *Policy) []Tool {
	all := r.List()
	out := make([]Tool, 0, len(all))
	for _, t := range all {
		if !access.Permits(t.Name()) {
			continue
		}
		if policy != nil {
			if d := policy.Check(t.Name(), FlagsOf(t), nil); d.Action == ActionDeny && d.Rule != "" && !strings.Contains(d.Rule, "(") {
				// Unconditionally denied by name; scoped denies stay visible.
				continue
			}
		}
		out = append(out, t)
	}
	return out
}

// SetValidator swaps the validator instance used before execution.
func (r *Registry) SetValidator(v Validator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validator = v
}

// Execute runs a registered tool after schema validation. Panics inside the
// tool are converted to execution errors with a sanitized message.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any, execCtx *ExecContext) (result *Result, err error) {
	t, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	if schema := t.Schema(); schema != nil {
		r.mu.RLock()
		validator := r.validator
		r.mu.RUnlock()
		if validator != nil {
			if verr := validator.Validate(params, schema); verr != nil {
				return nil, NewError(name, ErrKindSchema, verr)
			}
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = NewError(name, ErrKindExecution, fmt.Errorf("panic: %v", rec))
		}
	}()
	return t.Execute(ctx, params, execCtx)
}

// FlagsOf reports a tool's declared flags, defaulting to read-only.
func FlagsOf(t Tool) Flags {
	if flagged, ok := t.(Flagged); ok {
		return flagged.Flags()
	}
	return Flags{ReadOnly: true}
}
