package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/stellarlinkco/agentcore/pkg/hooks"
	"github.com/stellarlinkco/agentcore/pkg/message"
)

// Summarizer produces the dense summary used to replace the compacted
// prefix. Implemented by a provider-backed adapter at the agent layer.
type Summarizer interface {
	Summarize(ctx context.Context, msgs []message.Message, model string) (string, error)
}

// SummarizerFunc adapts a function to Summarizer.
type SummarizerFunc func(ctx context.Context, msgs []message.Message, model string) (string, error)

// Summarize implements Summarizer.
func (fn SummarizerFunc) Summarize(ctx context.Context, msgs []message.Message, model string) (string, error) {
	return fn(ctx, msgs, model)
}

// SummaryPrompt instructs the summary model. The summary must keep enough
// state for the loop to continue seamlessly on the compacted branch.
const SummaryPrompt = `Summarize the conversation so far into a single dense summary. Preserve:
- every file path that was read, written, or edited
- tool results that ongoing work depends on
- unresolved questions and errors
- the current plan and remaining steps
Write the summary as plain prose; do not add commentary about the summarization itself.`

// CompactConfig controls automatic context compaction.
type CompactConfig struct {
	Enabled bool
	// Threshold is the context utilization ratio that triggers compaction
	// (default 0.80).
	Threshold float64
	// KeepRecent is how many trailing messages survive verbatim (default 4).
	KeepRecent int
	// SummaryModel optionally routes the summary call to a cheaper model.
	SummaryModel string
}

const (
	defaultCompactThreshold = 0.80
	defaultKeepRecent       = 4
)

func (c CompactConfig) withDefaults() CompactConfig {
	cfg := c
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		cfg.Threshold = defaultCompactThreshold
	}
	if cfg.KeepRecent <= 0 {
		cfg.KeepRecent = defaultKeepRecent
	}
	cfg.SummaryModel = strings.TrimSpace(cfg.SummaryModel)
	return cfg
}

// ErrCompactFailed wraps summarization failures. The loop continues without
// compacting when it sees this error.
var ErrCompactFailed = errors.New("session: compaction failed")

// Compactor replaces the middle of a conversation with a generated summary
// when context utilization crosses the threshold. It only runs between
// complete turns.
type Compactor struct {
	cfg        CompactConfig
	summarizer Summarizer
	hooks      *hooks.Manager
}

// NewCompactor builds a compactor; returns nil when disabled so callers can
// chain through a nil receiver.
func NewCompactor(cfg CompactConfig, summarizer Summarizer, hookMgr *hooks.Manager) *Compactor {
	cfg = cfg.withDefaults()
	if !cfg.Enabled {
		return nil
	}
	return &Compactor{cfg: cfg, summarizer: summarizer, hooks: hookMgr}
}

// ShouldCompact reports whether utilization has crossed the threshold.
// Exactly at threshold triggers.
func (c *Compactor) ShouldCompact(contextUsage, effectiveLimit int64) bool {
	if c == nil || contextUsage <= 0 || effectiveLimit <= 0 {
		return false
	}
	return float64(contextUsage)/float64(effectiveLimit) >= c.cfg.Threshold
}

// MaybeCompact runs compaction when the threshold is crossed. Re-running
// below threshold is a no-op, making the operation idempotent.
func (c *Compactor) MaybeCompact(ctx context.Context, sess *Session, contextUsage, effectiveLimit int64) (bool, error) {
	if !c.ShouldCompact(contextUsage, effectiveLimit) {
		return false, nil
	}

	branch := sess.Branch()
	// Leading system messages are never summarized away.
	systemEnd := 0
	for systemEnd < len(branch) && branch[systemEnd].Role == message.RoleSystem {
		systemEnd++
	}
	keep := c.cfg.KeepRecent
	if len(branch)-systemEnd <= keep {
		return false, nil
	}

	if c.hooks != nil {
		// PreCompact is not a blockable event; failures are reported and
		// compaction proceeds.
		if _, err := c.hooks.Fire(ctx, hooks.PreCompact, &hooks.Payload{SessionID: sess.ID()}); err != nil {
			log.Printf("session: PreCompact hook: %v", err)
		}
	}

	middle := branch[systemEnd : len(branch)-keep]
	kept := branch[len(branch)-keep:]

	summary, err := c.summarize(ctx, middle)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCompactFailed, err)
	}

	compacted := make([]message.Message, 0, systemEnd+1+keep)
	compacted = append(compacted, branch[:systemEnd]...)
	compacted = append(compacted, message.Message{
		Role:   message.RoleAssistant,
		Blocks: []message.Block{{Type: message.BlockText, Text: summary}},
	})
	compacted = append(compacted, kept...)

	tokensBefore := int64(message.CountAll(nil, branch))
	sess.Tree().ReplaceBranch(compacted)
	sess.SetSummary(summary)
	sess.AddCompactRecord(CompactRecord{
		At:             time.Now().UTC(),
		MessagesBefore: len(branch),
		MessagesAfter:  len(compacted),
		TokensBefore:   tokensBefore,
		TokensAfter:    int64(message.CountAll(nil, compacted)),
	})
	return true, nil
}

func (c *Compactor) summarize(ctx context.Context, middle []message.Message) (string, error) {
	if c.summarizer == nil {
		return "", errors.New("no summarizer configured")
	}
	prompt := append(message.CloneMessages(middle), message.Text(message.RoleUser, SummaryPrompt))
	summary, err := c.summarizer.Summarize(ctx, prompt, c.cfg.SummaryModel)
	if err != nil {
		return "", err
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return "", errors.New("empty summary")
	}
	return summary, nil
}
