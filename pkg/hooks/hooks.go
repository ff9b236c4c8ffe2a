package hooks

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// Event enumerates the hookable lifecycle events. Keeping the list small and
// explicit prevents accidental proliferation of loosely defined event names.
type Event string

const (
	PreToolUse         Event = "PreToolUse"
	PostToolUse        Event = "PostToolUse"
	PostToolUseFailure Event = "PostToolUseFailure"
	UserPromptSubmit   Event = "UserPromptSubmit"
	Stop               Event = "Stop"
	SubagentStart      Event = "SubagentStart"
	SubagentStop       Event = "SubagentStop"
	PreCompact         Event = "PreCompact"
	SessionStart       Event = "SessionStart"
	SessionEnd         Event = "SessionEnd"
)

// Blockable reports whether hook output may halt execution at this event.
func Blockable(evt Event) bool {
	switch evt {
	case PreToolUse, UserPromptSubmit, SessionStart, SubagentStart:
		return true
	}
	return false
}

func validEvent(evt Event) bool {
	switch evt {
	case PreToolUse, PostToolUse, PostToolUseFailure, UserPromptSubmit, Stop,
		SubagentStart, SubagentStop, PreCompact, SessionStart, SessionEnd:
		return true
	}
	return false
}

// Payload is the envelope delivered to hooks. Fields irrelevant to the event
// are left zero and omitted on the wire.
type Payload struct {
	Event     Event          `json:"hook_event_name"`
	SessionID string         `json:"session_id,omitempty"`
	Cwd       string         `json:"cwd,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
	ToolInput map[string]any `json:"tool_input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Result    any            `json:"tool_result,omitempty"`
	Error     string         `json:"error,omitempty"`
	Prompt    string         `json:"user_prompt,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	AgentType string         `json:"agent_type,omitempty"`
}

// Output is the structured result a hook returns. Empty output means allow.
type Output struct {
	Continue          *bool          `json:"continue,omitempty"`
	StopReason        string         `json:"stopReason,omitempty"`
	UpdatedInput      map[string]any `json:"updatedInput,omitempty"`
	SystemMessage     string         `json:"systemMessage,omitempty"`
	AdditionalContext string         `json:"additionalContext,omitempty"`
}

// Handler is a native in-process hook implementation.
type Handler func(ctx context.Context, payload *Payload) (*Output, error)

// Hook binds a handler or external command to a set of events.
type Hook struct {
	Name     string
	Events   []Event
	Matcher  string // optional regex on tool name
	Priority int
	Timeout  time.Duration
	Async    bool // fire-and-forget
	Once     bool // run at most once per session

	Handler Handler // native hook
	Command string  // external command hook, JSON on stdin/stdout
	Env     map[string]string

	matcher *regexp.Regexp
	seq     int
}

const defaultHookTimeout = 60 * time.Second

// Merged is the combined outcome of all hooks fired for one event.
type Merged struct {
	// Continue is the logical AND of every hook's continue value.
	Continue bool
	// StopReason is the latest non-empty value in priority order.
	StopReason string
	// UpdatedInput is the latest non-empty value in priority order.
	UpdatedInput map[string]any
	// SystemMessages and AdditionalContext concatenate in priority order.
	SystemMessages    []string
	AdditionalContext []string
}

// Manager stores hooks grouped by event. The hook set is copy-on-register so
// firing never holds a lock across hook execution.
type Manager struct {
	mu      sync.Mutex
	hooks   []Hook
	nextSeq int

	workDir string
	errFn   func(Event, error)
	once    sync.Map // "sessionID:hookName" -> struct{}
}

// ManagerOption configures optional behaviour.
type ManagerOption func(*Manager)

// WithWorkDir sets the working directory for command hooks.
func WithWorkDir(dir string) ManagerOption {
	return func(m *Manager) { m.workDir = dir }
}

// WithErrorHandler installs a sink for non-blocking hook failures.
func WithErrorHandler(fn func(Event, error)) ManagerOption {
	return func(m *Manager) { m.errFn = fn }
}

// NewManager constructs an empty hook manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{errFn: func(Event, error) {}}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register validates and adds hooks. Registration order breaks priority ties.
func (m *Manager) Register(hooks ...Hook) error {
	compiled := make([]Hook, 0, len(hooks))
	for _, h := range hooks {
		if h.Handler == nil && strings.TrimSpace(h.Command) == "" {
			return fmt.Errorf("hooks: %s has neither handler nor command", h.Name)
		}
		if len(h.Events) == 0 {
			return fmt.Errorf("hooks: %s subscribes to no events", h.Name)
		}
		for _, evt := range h.Events {
			if !validEvent(evt) {
				return fmt.Errorf("hooks: unsupported event %s", evt)
			}
		}
		if strings.TrimSpace(h.Matcher) != "" {
			re, err := regexp.Compile(h.Matcher)
			if err != nil {
				return fmt.Errorf("hooks: compile matcher for %s: %w", h.Name, err)
			}
			h.matcher = re
		}
		if h.Timeout <= 0 {
			h.Timeout = defaultHookTimeout
		}
		compiled = append(compiled, h)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	next := make([]Hook, 0, len(m.hooks)+len(compiled))
	next = append(next, m.hooks...)
	for _, h := range compiled {
		h.seq = m.nextSeq
		m.nextSeq++
		next = append(next, h)
	}
	m.hooks = next
	return nil
}

// Fire executes every hook subscribed to the event in descending priority
// order and merges their outputs. A nil payload fires with an empty envelope.
func (m *Manager) Fire(ctx context.Context, evt Event, payload *Payload) (*Merged, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !validEvent(evt) {
		return nil, fmt.Errorf("hooks: unsupported event %s", evt)
	}
	if payload == nil {
		payload = &Payload{}
	}
	payload.Event = evt
	if payload.Cwd == "" {
		payload.Cwd = m.workDir
	}

	matched := m.matching(evt, payload.ToolName)
	merged := &Merged{Continue: true}

	for _, h := range matched {
		if h.Once {
			key := payload.SessionID + ":" + h.Name
			if _, loaded := m.once.LoadOrStore(key, struct{}{}); loaded {
				continue
			}
		}
		if h.Async {
			go func(h Hook, p Payload) {
				if _, err := m.runHook(context.Background(), h, &p); err != nil {
					m.errFn(evt, err)
				}
			}(h, *payload)
			continue
		}
		out, err := m.runHook(ctx, h, payload)
		if err != nil {
			return nil, err
		}
		mergeOutput(merged, out)
	}
	return merged, nil
}

func (m *Manager) matching(evt Event, toolName string) []Hook {
	m.mu.Lock()
	snapshot := m.hooks
	m.mu.Unlock()

	var matched []Hook
	for _, h := range snapshot {
		if !subscribed(h, evt) {
			continue
		}
		if h.matcher != nil && evt != UserPromptSubmit && evt != Stop {
			if toolName == "" || !h.matcher.MatchString(toolName) {
				continue
			}
		}
		matched = append(matched, h)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority > matched[j].Priority
		}
		return matched[i].seq < matched[j].seq
	})
	return matched
}

func subscribed(h Hook, evt Event) bool {
	for _, e := range h.Events {
		if e == evt {
			return true
		}
	}
	return false
}

func (m *Manager) runHook(ctx context.Context, h Hook, payload *Payload) (*Output, error) {
	runCtx, cancel := context.WithTimeout(ctx, h.Timeout)
	defer cancel()
	if h.Handler != nil {
		return h.Handler(runCtx, payload)
	}
	return m.runCommand(runCtx, h, payload)
}

func mergeOutput(merged *Merged, out *Output) {
	if out == nil {
		return
	}
	if out.Continue != nil && !*out.Continue {
		merged.Continue = false
	}
	if out.StopReason != "" {
		merged.StopReason = out.StopReason
	}
	if len(out.UpdatedInput) > 0 {
		merged.UpdatedInput = out.UpdatedInput
	}
	if out.SystemMessage != "" {
		merged.SystemMessages = append(merged.SystemMessages, out.SystemMessage)
	}
	if out.AdditionalContext != "" {
		merged.AdditionalContext = append(merged.AdditionalContext, out.AdditionalContext)
	}
}
