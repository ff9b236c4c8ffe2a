package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/stellarlinkco/agentcore/pkg/budget"
	"github.com/stellarlinkco/agentcore/pkg/hooks"
	"github.com/stellarlinkco/agentcore/pkg/message"
	"github.com/stellarlinkco/agentcore/pkg/provider"
	"github.com/stellarlinkco/agentcore/pkg/session"
	"github.com/stellarlinkco/agentcore/pkg/tool"
)

var (
	// ErrBlockedByHook indicates a blocking hook denied the run.
	ErrBlockedByHook = errors.New("agent: blocked by hook")
	// ErrBudgetExhausted indicates the cost limit stopped the loop.
	ErrBudgetExhausted = errors.New("agent: budget exhausted")
	// ErrCancelled indicates cooperative cancellation; the session is
	// persisted as paused.
	ErrCancelled = errors.New("agent: cancelled")
)

const toolTimeout = 5 * time.Minute

// runConfig carries per-run overrides (subagents restrict tools and may
// swap models).
type runConfig struct {
	access    tool.AccessSet
	model     string
	agentType string
}

// Execute runs one prompt to completion on a fresh session.
func (a *Agent) Execute(ctx context.Context, userPrompt string) (*Result, error) {
	sess := session.New(session.WithTenant(a.opts.TenantID))
	return a.run(ctx, sess, userPrompt, nil, runConfig{access: a.access})
}

// Resume continues an existing session with a new prompt.
func (a *Agent) Resume(ctx context.Context, sessionID, userPrompt string) (*Result, error) {
	sess, err := a.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sess.SetState(session.StateActive, "")
	return a.run(ctx, sess, userPrompt, nil, runConfig{access: a.access})
}

// ExecuteStream runs one prompt, yielding events from the internal loop on
// the returned channel. The channel closes after the Complete event; when
// the run fails, the last event is an EventToolError carrying the error and
// no Complete event is sent.
func (a *Agent) ExecuteStream(ctx context.Context, userPrompt string) (<-chan Event, error) {
	events := make(chan Event, 64)
	sess := session.New(session.WithTenant(a.opts.TenantID))
	go func() {
		defer close(events)
		emit := func(ev Event) {
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		}
		result, err := a.run(ctx, sess, userPrompt, emit, runConfig{access: a.access})
		if err != nil {
			emit(Event{Type: EventToolError, Err: err.Error()})
			return
		}
		emit(Event{Type: EventComplete, Result: result})
	}()
	return events, nil
}

// run drives the loop: request, response, tool fan-out, repeat.
func (a *Agent) run(ctx context.Context, sess *session.Session, userPrompt string, emit func(Event), cfg runConfig) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := a.tracer.Start(ctx, "agent.run", trace.WithAttributes(
		attribute.String("session.id", sess.ID()),
	))
	defer span.End()

	// SessionStart is blockable: a denial aborts before any model traffic.
	merged, err := a.hookMgr.Fire(ctx, hooks.SessionStart, &hooks.Payload{
		SessionID: sess.ID(),
		AgentType: cfg.agentType,
	})
	if err != nil {
		return nil, err
	}
	if !merged.Continue {
		sess.SetState(session.StateFailed, merged.StopReason)
		return nil, fmt.Errorf("%w: %s", ErrBlockedByHook, merged.StopReason)
	}

	// UserPromptSubmit may rewrite nothing but can discard the turn.
	merged, err = a.hookMgr.Fire(ctx, hooks.UserPromptSubmit, &hooks.Payload{
		SessionID: sess.ID(),
		Prompt:    userPrompt,
	})
	if err != nil {
		return nil, err
	}
	if !merged.Continue {
		sess.SetState(session.StateFailed, merged.StopReason)
		if perr := a.store.Update(context.WithoutCancel(ctx), sess); perr != nil {
			log.Printf("agent: persist after prompt denial: %v", perr)
		}
		return nil, fmt.Errorf("%w: %s", ErrBlockedByHook, merged.StopReason)
	}
	sess.Append(message.Text(message.RoleUser, userPrompt))

	modelName := cfg.model
	if modelName == "" {
		modelName = a.spec.ID
	}
	warnedBudget := false
	var lastContextUsage int64

	topLevel := cfg.agentType == ""

	for iteration := 0; ; iteration++ {
		if err := ctx.Err(); err != nil {
			return nil, a.pause(ctx, sess, topLevel)
		}
		if iteration >= a.opts.MaxIterations {
			return a.finish(ctx, sess, "max_iterations", "")
		}

		// Budget is evaluated before the next request, never mid-request.
		if a.tracker.Exceeded() {
			action, fallback := a.tracker.Decision()
			switch action {
			case budget.StopBeforeNext:
				result, _ := a.finish(ctx, sess, "budget_exhausted", "")
				return result, ErrBudgetExhausted
			case budget.FallbackModel:
				if fallback != "" && fallback != modelName {
					if spec, rerr := a.models.Resolve(fallback); rerr == nil {
						modelName = spec.ID
					} else {
						modelName = fallback
					}
				}
			case budget.WarnAndContinue:
				if !warnedBudget {
					log.Printf("agent: budget limit crossed (%.4f USD), continuing", a.tracker.TotalUSD())
					warnedBudget = true
				}
			}
		}

		resp, err := a.request(ctx, sess, modelName, emit, cfg)
		if err != nil {
			if ctx.Err() != nil {
				return nil, a.pause(ctx, sess, topLevel)
			}
			sess.SetState(session.StateFailed, "provider_error")
			if perr := a.store.Update(context.WithoutCancel(ctx), sess); perr != nil {
				log.Printf("agent: persist after provider error: %v", perr)
			}
			return nil, err
		}

		sess.RecordUsage(resp.Usage)
		a.tracker.Record(modelName, resp.Usage, sess.TenantID())
		lastContextUsage = resp.Usage.ContextWindow()
		sess.Append(resp.Message)

		toolUses := resp.Message.ToolUses()
		if resp.StopReason != provider.StopToolUse || len(toolUses) == 0 {
			return a.finish(ctx, sess, string(resp.StopReason), resp.Message.TextContent())
		}

		resultsMsg, err := a.runToolCalls(ctx, sess, toolUses, emit, cfg)
		if err != nil {
			if errors.Is(err, ErrCancelled) {
				return nil, a.pause(ctx, sess, topLevel)
			}
			return nil, err
		}
		sess.Append(resultsMsg)

		if perr := a.store.Update(ctx, sess); perr != nil {
			log.Printf("agent: persist turn: %v", perr)
		}

		// Compaction runs only between complete turns.
		if compacted, cerr := a.compactor.MaybeCompact(ctx, sess, lastContextUsage, a.effectiveLimit()); cerr != nil {
			// The loop continues uncompacted; the hard window limit will
			// surface the failure eventually.
			log.Printf("agent: compaction: %v", cerr)
		} else if compacted {
			lastContextUsage = 0
		}
	}
}

func (a *Agent) effectiveLimit() int64 {
	if a.spec.Capabilities.ContextLimit > 0 {
		return a.spec.Capabilities.ContextLimit
	}
	return 200_000
}

// request assembles and issues one provider call with cache anchors and the
// visible tool surface.
func (a *Agent) request(ctx context.Context, sess *session.Session, modelName string, emit func(Event), cfg runConfig) (*provider.Response, error) {
	ctx, span := a.tracer.Start(ctx, "agent.request", trace.WithAttributes(
		attribute.String("model", modelName),
	))
	defer span.End()

	asm := *a.assembler
	asm.Model = modelName
	systemPrompt, err := asm.Assemble()
	if err != nil {
		return nil, err
	}
	if block := a.skills.DescriptorBlock(); block != "" {
		systemPrompt += "\n\n" + block
	}
	if plan := sess.Plan(); plan != "" {
		systemPrompt += "\n\n# Current plan\n\n" + plan
	}

	visible := a.registry.Visible(a.access, a.policy)
	toolDefs := make([]provider.ToolDef, 0, len(visible))
	var digest strings.Builder
	for _, t := range visible {
		if !cfg.access.Permits(t.Name()) {
			continue
		}
		def := provider.ToolDef{Name: t.Name(), Description: t.Description()}
		if schema := t.Schema(); schema != nil {
			def.InputSchema = map[string]any{
				"type":       schema.Type,
				"properties": schema.Properties,
			}
			if len(schema.Required) > 0 {
				def.InputSchema["required"] = schema.Required
			}
		}
		toolDefs = append(toolDefs, def)
		digest.WriteString(t.Name())
		digest.WriteByte('\n')
	}

	branch := sess.Branch()
	placement := a.cache.Plan(systemPrompt, digest.String(), branch)

	req := provider.Request{
		Model:     modelName,
		System:    systemPrompt,
		Messages:  branch,
		Tools:     toolDefs,
		MaxTokens: a.opts.MaxTokens,
		SystemTTL: placement.SystemTTL,
		ToolsTTL:  placement.ToolsTTL,
		SessionID: sess.ID(),
	}

	if emit == nil {
		return a.model.Complete(ctx, req)
	}

	var final *provider.Response
	err = a.model.CompleteStream(ctx, req, func(ev provider.StreamEvent) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch {
		case ev.TextDelta != "":
			emit(Event{Type: EventText, Text: ev.TextDelta})
		case ev.Final != nil:
			final = ev.Final
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if final == nil {
		return nil, errors.New("agent: stream ended without final response")
	}
	return final, nil
}

// runToolCalls executes the turn's tool_use blocks strictly in emission
// order and collects every result into a single user message.
func (a *Agent) runToolCalls(ctx context.Context, sess *session.Session, toolUses []message.Block, emit func(Event), cfg runConfig) (message.Message, error) {
	results := message.Message{Role: message.RoleUser}
	execCtx := &tool.ExecContext{
		Security:  a.sec,
		WorkDir:   a.opts.WorkDir,
		SessionID: sess.ID(),
		Hooks:     a.hookMgr,
		Todos:     sessionSinks{sess: sess},
		Plans:     sessionSinks{sess: sess},
		Skills:    skillSource{reg: a.skills},
		Spawner:   &spawner{agent: a, parent: sess},
		Shells:    a.procs,
		TaskWait:  taskWaiter{reg: a.tasks},
	}

	for _, use := range toolUses {
		if err := ctx.Err(); err != nil {
			return results, ErrCancelled
		}
		block := a.runOneTool(ctx, sess, use, execCtx, emit, cfg)
		results.Blocks = append(results.Blocks, block)
	}
	return results, nil
}

func (a *Agent) runOneTool(ctx context.Context, sess *session.Session, use message.Block, execCtx *tool.ExecContext, emit func(Event), cfg runConfig) message.Block {
	name := use.ToolName
	input := use.Input
	if emit != nil {
		emit(Event{Type: EventToolStart, ToolUseID: use.ToolUseID, ToolName: name, Input: input})
	}
	fail := func(err error) message.Block {
		if emit != nil {
			emit(Event{Type: EventToolError, ToolUseID: use.ToolUseID, ToolName: name, Err: err.Error()})
		}
		a.fireToolResult(ctx, sess, use, nil, err)
		return message.ToolResult(use.ToolUseID, err.Error(), true)
	}

	ctx, span := a.tracer.Start(ctx, "agent.tool", trace.WithAttributes(
		attribute.String("tool.name", name),
	))
	defer span.End()

	// Visibility gate: subagents may carry a narrower access set.
	if !cfg.access.Permits(name) || !a.access.Permits(name) {
		return fail(tool.NewError(name, tool.ErrKindPermission, fmt.Errorf("tool not available in this context")))
	}

	// Permission policy: deny wins, ask surfaces as a denial that names the
	// decision so the model can route around it.
	impl, err := a.registry.Get(name)
	if err != nil {
		return fail(err)
	}
	decision := a.policy.Check(name, tool.FlagsOf(impl), input)
	switch decision.Action {
	case tool.ActionDeny:
		reason := fmt.Sprintf("permission denied by rule %s", decision.Rule)
		if decision.Rule == "" {
			reason = fmt.Sprintf("permission denied by %s mode", a.policy.Mode())
		}
		return fail(tool.NewError(name, tool.ErrKindPermission, errors.New(reason)))
	case tool.ActionAsk:
		return fail(tool.NewError(name, tool.ErrKindPermission,
			fmt.Errorf("requires approval (rule %q, mode %s)", decision.Rule, a.policy.Mode())))
	}

	// PreToolUse: may rewrite the input or block the call.
	merged, err := a.hookMgr.Fire(ctx, hooks.PreToolUse, &hooks.Payload{
		SessionID: sess.ID(),
		ToolName:  name,
		ToolInput: input,
		ToolUseID: use.ToolUseID,
	})
	if err != nil {
		return fail(tool.NewError(name, tool.ErrKindExecution, err))
	}
	if !merged.Continue {
		reason := merged.StopReason
		if reason == "" {
			reason = "blocked by PreToolUse hook"
		}
		return fail(tool.NewError(name, tool.ErrKindPermission, errors.New(reason)))
	}
	if merged.UpdatedInput != nil {
		input = merged.UpdatedInput
	}

	toolCtx, cancel := context.WithTimeout(ctx, toolTimeout)
	result, err := a.registry.Execute(toolCtx, name, input, execCtx)
	cancel()
	if err != nil {
		return fail(err)
	}

	payload := result.Output
	isErr := !result.Success
	if result.Error != nil {
		isErr = true
		if payload == "" {
			payload = result.Error.Error()
		}
	}

	a.fireToolResult(ctx, sess, use, result, result.Error)

	// Hook system notes and matching rule bodies ride along with the result
	// so the model sees them on the next turn.
	var extras []string
	extras = append(extras, merged.SystemMessages...)
	extras = append(extras, merged.AdditionalContext...)
	if a.assembler.Rules != nil {
		if path, ok := input["file_path"].(string); ok {
			extras = append(extras, a.assembler.Rules.BodiesFor(path)...)
		}
	}
	if len(extras) > 0 {
		payload += "\n\n" + strings.Join(extras, "\n")
	}

	if emit != nil {
		if isErr {
			emit(Event{Type: EventToolError, ToolUseID: use.ToolUseID, ToolName: name, Err: payload})
		} else {
			emit(Event{Type: EventToolEnd, ToolUseID: use.ToolUseID, ToolName: name, Output: payload})
		}
	}
	return message.ToolResult(use.ToolUseID, payload, isErr)
}

func (a *Agent) fireToolResult(ctx context.Context, sess *session.Session, use message.Block, result *tool.Result, err error) {
	event := hooks.PostToolUse
	payload := &hooks.Payload{
		SessionID: sess.ID(),
		ToolName:  use.ToolName,
		ToolInput: use.Input,
		ToolUseID: use.ToolUseID,
	}
	if err != nil {
		event = hooks.PostToolUseFailure
		payload.Error = err.Error()
	} else if result != nil {
		payload.Result = result.Output
	}
	if _, ferr := a.hookMgr.Fire(ctx, event, payload); ferr != nil {
		log.Printf("agent: %s hook: %v", event, ferr)
	}
}

// finish fires the stop hooks, persists, and returns the final result.
func (a *Agent) finish(ctx context.Context, sess *session.Session, stopReason, output string) (*Result, error) {
	if _, err := a.hookMgr.Fire(ctx, hooks.Stop, &hooks.Payload{SessionID: sess.ID(), Reason: stopReason}); err != nil {
		log.Printf("agent: Stop hook: %v", err)
	}
	sess.SetState(session.StateCompleted, stopReason)
	if _, err := a.hookMgr.Fire(ctx, hooks.SessionEnd, &hooks.Payload{SessionID: sess.ID(), Reason: stopReason}); err != nil {
		log.Printf("agent: SessionEnd hook: %v", err)
	}
	if err := a.store.Update(context.WithoutCancel(ctx), sess); err != nil {
		log.Printf("agent: persist final session: %v", err)
	}
	return &Result{
		SessionID:  sess.ID(),
		Output:     output,
		StopReason: stopReason,
		Usage:      sess.Usage(),
		CostUSD:    a.tracker.TotalUSD(),
	}, nil
}

// pause persists the session as paused after cooperative cancellation.
// A top-level cancel propagates to every descendant: background shells
// receive terminate-then-kill and in-flight tasks are cancelled.
func (a *Agent) pause(ctx context.Context, sess *session.Session, topLevel bool) error {
	if topLevel {
		a.procs.KillAll()
		a.tasks.CancelAll()
	}
	sess.SetState(session.StatePaused, "cancelled")
	if err := a.store.Update(context.WithoutCancel(ctx), sess); err != nil {
		log.Printf("agent: persist paused session: %v", err)
	}
	return fmt.Errorf("%w: session %s", ErrCancelled, sess.ID())
}
