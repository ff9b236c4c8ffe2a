package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellarlinkco/agentcore/pkg/message"
	"github.com/stellarlinkco/agentcore/pkg/tool"
)

func TestSessionRoundTrip(t *testing.T) {
	s := New(WithType("main"), WithTenant("acme"))
	s.Append(message.Text(message.RoleUser, "hello"))
	s.Append(message.Message{Role: message.RoleAssistant, Blocks: []message.Block{
		{Type: message.BlockToolUse, ToolUseID: "tu_1", ToolName: "Read", Input: map[string]any{"file_path": "/a"}},
	}})
	s.RecordUsage(message.Usage{InputTokens: 100, OutputTokens: 20, CacheReadTokens: 5, CacheWriteTokens: 2})
	s.SetTodos([]tool.Todo{{Content: "do it", Status: "pending"}})
	s.SetPlan("step one")
	s.SetSummary("so far so good")
	s.AddCompactRecord(CompactRecord{MessagesBefore: 10, MessagesAfter: 6})

	data, err := json.Marshal(s)
	require.NoError(t, err)

	restored := &Session{}
	require.NoError(t, json.Unmarshal(data, restored))

	assert.Equal(t, s.ID(), restored.ID())
	assert.Equal(t, "acme", restored.TenantID())
	assert.Equal(t, s.Usage(), restored.Usage())
	assert.Equal(t, "so far so good", restored.Summary())
	assert.Equal(t, s.Tree().Leaf(), restored.Tree().Leaf())
	require.Len(t, restored.CompactHistory(), 1)

	orig, rest := s.Branch(), restored.Branch()
	require.Equal(t, len(orig), len(rest))
	assert.Equal(t, "Read", rest[1].ToolUses()[0].ToolName)
	assert.Equal(t, "do it", restored.Todos()[0].Content)
	assert.Equal(t, "step one", restored.Plan())
}

func TestMemoryStoreCRUDAndQueue(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s := New()
	require.NoError(t, store.Create(ctx, s))

	got, err := store.Get(ctx, s.ID())
	require.NoError(t, err)
	assert.Equal(t, s.ID(), got.ID())

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Enqueue(ctx, s.ID(), "first"))
	require.NoError(t, store.Enqueue(ctx, s.ID(), "second"))
	head, ok, err := store.Dequeue(ctx, s.ID())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "first", head)

	require.NoError(t, store.Delete(ctx, s.ID()))
	_, err = store.Get(ctx, s.ID())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s := New(WithExpiry(time.Now().Add(-time.Hour)))
	require.NoError(t, store.Create(ctx, s))

	_, err := store.Get(ctx, s.ID())
	assert.ErrorIs(t, err, ErrExpired)

	ids, err := store.ListExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Contains(t, ids, s.ID())
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLite(t.TempDir() + "/sessions.db")
	require.NoError(t, err)
	defer store.Close()

	s := New(WithTenant("t1"))
	s.Append(message.Text(message.RoleUser, "persisted"))
	require.NoError(t, store.Create(ctx, s))

	got, err := store.Get(ctx, s.ID())
	require.NoError(t, err)
	assert.Equal(t, "persisted", got.Branch()[0].TextContent())

	require.NoError(t, store.Enqueue(ctx, s.ID(), "queued input"))
	head, ok, err := store.Dequeue(ctx, s.ID())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "queued input", head)
	_, ok, err = store.Dequeue(ctx, s.ID())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCachePlanMarksLastUserMessage(t *testing.T) {
	c := NewCacheManager()
	branch := []message.Message{
		message.Text(message.RoleUser, "one"),
		message.Text(message.RoleAssistant, "two"),
		message.Text(message.RoleUser, "three"),
	}
	placement := c.Plan("system", "tools-v1", branch)
	assert.Equal(t, message.CacheLong, placement.SystemTTL)
	assert.False(t, placement.PrefixChanged)
	assert.Equal(t, message.CacheShort, branch[2].Blocks[0].CacheAnchor)
	assert.Equal(t, message.CacheNone, branch[0].Blocks[0].CacheAnchor)
}

func TestCachePrefixInvalidation(t *testing.T) {
	c := NewCacheManager()
	c.Plan("system", "tools-v1", nil)
	same := c.Plan("system", "tools-v1", nil)
	assert.False(t, same.PrefixChanged)
	changed := c.Plan("system", "tools-v2", nil)
	assert.True(t, changed.PrefixChanged)
	hits, misses := c.Stats()
	assert.Equal(t, 1, hits)
	assert.Equal(t, 2, misses)
}

func staticSummarizer(text string) Summarizer {
	return SummarizerFunc(func(ctx context.Context, msgs []message.Message, model string) (string, error) {
		return text, nil
	})
}

func TestCompactorReplacesMiddle(t *testing.T) {
	s := New()
	s.Append(message.Text(message.RoleSystem, "sys"))
	for i := 0; i < 9; i++ {
		role := message.RoleUser
		if i%2 == 1 {
			role = message.RoleAssistant
		}
		s.Append(message.Text(role, "m"))
	}
	require.Equal(t, 10, len(s.Branch()))

	c := NewCompactor(CompactConfig{Enabled: true, Threshold: 0.80, KeepRecent: 4}, staticSummarizer("the summary"), nil)
	// 81% utilization crosses the 0.80 threshold.
	compacted, err := c.MaybeCompact(context.Background(), s, 81, 100)
	require.NoError(t, err)
	require.True(t, compacted)

	branch := s.Branch()
	require.Len(t, branch, 6) // 1 system + 1 summary + 4 recent
	assert.Equal(t, message.RoleSystem, branch[0].Role)
	assert.Equal(t, "the summary", branch[1].TextContent())
	assert.Equal(t, "the summary", s.Summary())
	assert.Equal(t, s.Tree().Len()-1, s.Tree().Leaf())
	require.Len(t, s.CompactHistory(), 1)
}

func TestCompactorIdempotentBelowThreshold(t *testing.T) {
	s := New()
	for i := 0; i < 10; i++ {
		s.Append(message.Text(message.RoleUser, "m"))
	}
	before := s.Branch()

	c := NewCompactor(CompactConfig{Enabled: true}, staticSummarizer("x"), nil)
	compacted, err := c.MaybeCompact(context.Background(), s, 10, 100)
	require.NoError(t, err)
	assert.False(t, compacted)
	assert.Equal(t, len(before), len(s.Branch()))
}

func TestCompactorExactlyAtThresholdTriggers(t *testing.T) {
	c := NewCompactor(CompactConfig{Enabled: true, Threshold: 0.80}, staticSummarizer("x"), nil)
	assert.True(t, c.ShouldCompact(80, 100))
	assert.False(t, c.ShouldCompact(79, 100))
}

func TestCompactorDisabledIsNil(t *testing.T) {
	c := NewCompactor(CompactConfig{Enabled: false}, nil, nil)
	assert.Nil(t, c)
	compacted, err := c.MaybeCompact(context.Background(), New(), 100, 100)
	require.NoError(t, err)
	assert.False(t, compacted)
}

func TestCompactorSummaryFailure(t *testing.T) {
	s := New()
	for i := 0; i < 10; i++ {
		s.Append(message.Text(message.RoleUser, "m"))
	}
	failing := SummarizerFunc(func(ctx context.Context, msgs []message.Message, model string) (string, error) {
		return "", assert.AnError
	})
	c := NewCompactor(CompactConfig{Enabled: true}, failing, nil)
	_, err := c.MaybeCompact(context.Background(), s, 90, 100)
	assert.ErrorIs(t, err, ErrCompactFailed)
}

func TestReaperSweep(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	expired := New(WithExpiry(time.Now().Add(-time.Minute)))
	alive := New()
	require.NoError(t, store.Create(ctx, expired))
	require.NoError(t, store.Create(ctx, alive))

	r, err := NewReaper(store, "@every 1h")
	require.NoError(t, err)
	r.Sweep()

	_, err = store.Get(ctx, expired.ID())
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(ctx, alive.ID())
	assert.NoError(t, err)
}
