package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stellarlinkco/agentcore/pkg/message"
	"github.com/stellarlinkco/agentcore/pkg/tool"
)

// State tracks the session lifecycle.
type State string

const (
	StateActive    State = "active"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// CompactRecord documents one compaction pass.
type CompactRecord struct {
	At             time.Time `json:"at"`
	MessagesBefore int       `json:"messages_before"`
	MessagesAfter  int       `json:"messages_after"`
	TokensBefore   int64     `json:"tokens_before"`
	TokensAfter    int64     `json:"tokens_after"`
}

// Session is the durable conversation state: message tree, usage counters,
// TODO list, plan, summary and compaction history. It is mutated exclusively
// by the executor and the compactor during a turn and serialized through the
// store between turns.
type Session struct {
	mu sync.Mutex

	id       string
	parentID string
	kind     string
	tenantID string

	tree *message.Tree

	todos          []tool.Todo
	currentPlan    string
	summary        string
	compactHistory []CompactRecord
	usage          message.Usage
	state          State
	stopReason     string

	createdAt time.Time
	updatedAt time.Time
	expiresAt time.Time
}

// Option configures a new session.
type Option func(*Session)

// WithParent marks the session as a subagent child.
func WithParent(parentID string) Option {
	return func(s *Session) { s.parentID = parentID }
}

// WithType labels the session kind ("main", "subagent", a subagent type...).
func WithType(kind string) Option {
	return func(s *Session) { s.kind = kind }
}

// WithTenant tags the session for per-tenant accounting.
func WithTenant(tenantID string) Option {
	return func(s *Session) { s.tenantID = tenantID }
}

// WithExpiry sets the expiry timestamp consumed by the reaper.
func WithExpiry(at time.Time) Option {
	return func(s *Session) { s.expiresAt = at }
}

// WithID forces a specific identifier (used when resuming).
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// New creates an active session with a fresh UUID.
func New(opts ...Option) *Session {
	now := time.Now().UTC()
	s := &Session{
		id:        uuid.NewString(),
		kind:      "main",
		tree:      message.NewTree(),
		state:     StateActive,
		createdAt: now,
		updatedAt: now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) ID() string       { return s.id }
func (s *Session) ParentID() string { return s.parentID }
func (s *Session) Type() string     { return s.kind }
func (s *Session) TenantID() string { return s.tenantID }

// Tree exposes the message tree. The tree is itself concurrency safe.
func (s *Session) Tree() *message.Tree { return s.tree }

// Append adds a message to the active branch and bumps updated_at.
func (s *Session) Append(msg message.Message) int {
	idx := s.tree.Append(msg)
	s.touch()
	return idx
}

// Branch returns the active conversation branch.
func (s *Session) Branch() []message.Message { return s.tree.Branch() }

// RecordUsage accumulates provider-reported token counters.
func (s *Session) RecordUsage(u message.Usage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage.Add(u)
	s.updatedAt = time.Now().UTC()
}

// Usage returns the accumulated counters.
func (s *Session) Usage() message.Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// SetTodos replaces the session TODO list.
func (s *Session) SetTodos(todos []tool.Todo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.todos = append([]tool.Todo(nil), todos...)
	s.updatedAt = time.Now().UTC()
}

// Todos returns a copy of the TODO list.
func (s *Session) Todos() []tool.Todo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]tool.Todo(nil), s.todos...)
}

// SetPlan stores the current structured plan.
func (s *Session) SetPlan(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentPlan = content
	s.updatedAt = time.Now().UTC()
}

// Plan returns the current plan text.
func (s *Session) Plan() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentPlan
}

// SetSummary records the rolling summary produced by compaction.
func (s *Session) SetSummary(summary string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary = summary
	s.updatedAt = time.Now().UTC()
}

// Summary returns the rolling summary.
func (s *Session) Summary() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}

// AddCompactRecord appends to the compaction history.
func (s *Session) AddCompactRecord(rec CompactRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compactHistory = append(s.compactHistory, rec)
	s.updatedAt = time.Now().UTC()
}

// CompactHistory returns a copy of the compaction records.
func (s *Session) CompactHistory() []CompactRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CompactRecord(nil), s.compactHistory...)
}

// SetState transitions the lifecycle state with an optional stop reason.
func (s *Session) SetState(state State, stopReason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	if stopReason != "" {
		s.stopReason = stopReason
	}
	s.updatedAt = time.Now().UTC()
}

// StateInfo reports the lifecycle state and stop reason.
func (s *Session) StateInfo() (State, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.stopReason
}

// ExpiresAt reports the expiry timestamp, zero when never expiring.
func (s *Session) ExpiresAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiresAt
}

// CreatedAt reports the creation timestamp.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// UpdatedAt reports the last mutation timestamp.
func (s *Session) UpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}

func (s *Session) touch() {
	s.mu.Lock()
	s.updatedAt = time.Now().UTC()
	s.mu.Unlock()
}

// snapshot is the persistence schema. Field names are stable.
type snapshot struct {
	ID             string          `json:"id"`
	ParentID       string          `json:"parent_id,omitempty"`
	Type           string          `json:"type"`
	TenantID       string          `json:"tenant_id,omitempty"`
	Messages       json.RawMessage `json:"messages"`
	Todos          []tool.Todo     `json:"todos,omitempty"`
	CurrentPlan    string          `json:"current_plan,omitempty"`
	CompactHistory []CompactRecord `json:"compact_history,omitempty"`
	Summary        string          `json:"summary,omitempty"`
	Usage          message.Usage   `json:"usage"`
	State          State           `json:"state"`
	StopReason     string          `json:"stop_reason,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty"`
}

// MarshalJSON serializes the session with stable field names.
func (s *Session) MarshalJSON() ([]byte, error) {
	treeData, err := json.Marshal(s.tree)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := snapshot{
		ID:             s.id,
		ParentID:       s.parentID,
		Type:           s.kind,
		TenantID:       s.tenantID,
		Messages:       treeData,
		Todos:          s.todos,
		CurrentPlan:    s.currentPlan,
		CompactHistory: s.compactHistory,
		Summary:        s.summary,
		Usage:          s.usage,
		State:          s.state,
		StopReason:     s.stopReason,
		CreatedAt:      s.createdAt,
		UpdatedAt:      s.updatedAt,
	}
	if !s.expiresAt.IsZero() {
		expires := s.expiresAt
		snap.ExpiresAt = &expires
	}
	return json.Marshal(snap)
}

// UnmarshalJSON restores a session serialized by MarshalJSON.
func (s *Session) UnmarshalJSON(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	tree := message.NewTree()
	if len(snap.Messages) > 0 {
		if err := json.Unmarshal(snap.Messages, tree); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = snap.ID
	s.parentID = snap.ParentID
	s.kind = snap.Type
	s.tenantID = snap.TenantID
	s.tree = tree
	s.todos = snap.Todos
	s.currentPlan = snap.CurrentPlan
	s.compactHistory = snap.CompactHistory
	s.summary = snap.Summary
	s.usage = snap.Usage
	s.state = snap.State
	s.stopReason = snap.StopReason
	s.createdAt = snap.CreatedAt
	s.updatedAt = snap.UpdatedAt
	if snap.ExpiresAt != nil {
		s.expiresAt = *snap.ExpiresAt
	}
	return nil
}
