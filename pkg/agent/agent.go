// Package agent wires the executor loop: model calls alternate with tool
// invocations under budgets, cancellation, and context-window pressure.
package agent

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/stellarlinkco/agentcore/pkg/budget"
	"github.com/stellarlinkco/agentcore/pkg/hooks"
	"github.com/stellarlinkco/agentcore/pkg/message"
	"github.com/stellarlinkco/agentcore/pkg/modelspec"
	"github.com/stellarlinkco/agentcore/pkg/prompt"
	"github.com/stellarlinkco/agentcore/pkg/provider"
	"github.com/stellarlinkco/agentcore/pkg/runtime/skills"
	"github.com/stellarlinkco/agentcore/pkg/runtime/subagents"
	"github.com/stellarlinkco/agentcore/pkg/runtime/tasks"
	"github.com/stellarlinkco/agentcore/pkg/security"
	"github.com/stellarlinkco/agentcore/pkg/session"
	"github.com/stellarlinkco/agentcore/pkg/tool"
	"github.com/stellarlinkco/agentcore/pkg/tool/builtin"
)

// Agent is the reusable orchestrator: model, tools, sessions, and loop.
type Agent struct {
	opts Options

	model     provider.Model
	models    *modelspec.Registry
	spec      modelspec.Spec
	registry  *tool.Registry
	procs     *builtin.ProcessManager
	sec       *security.Context
	hookMgr   *hooks.Manager
	policy    *tool.Policy
	access    tool.AccessSet
	store     session.Store
	cache     *session.CacheManager
	compactor *session.Compactor
	tracker   *budget.Tracker
	skills    *skills.Registry
	subagents *subagents.Registry
	tasks     *tasks.Registry
	mcp       *tool.MCPManager
	assembler *prompt.Assembler
	tracer    trace.Tracer
}

// New builds an Agent from options.
func New(ctx context.Context, opts ...Option) (*Agent, error) {
	var cfg Options
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	if strings.TrimSpace(cfg.WorkDir) == "" {
		return nil, fmt.Errorf("agent: work dir is required")
	}

	models := modelspec.DefaultRegistry()
	modelName := cfg.Model
	if modelName == "" {
		modelName = "sonnet"
	}
	spec, err := models.Resolve(modelName)
	if err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}

	mdl := cfg.Provider
	if mdl == nil {
		mdl, err = provider.New(ctx, provider.Config{
			Credential: cfg.Credential,
			BaseURL:    cfg.BaseURL,
			Model:      spec.ProviderID(cfg.Credential.Cloud),
			MaxTokens:  cfg.MaxTokens,
			Region:     cfg.Region,
			ProjectID:  cfg.ProjectID,
		})
		if err != nil {
			return nil, err
		}
	}

	sec, err := security.NewContext(cfg.WorkDir,
		security.WithBashPreset(cfg.BashPreset),
		security.WithResourceLimits(cfg.Limits),
		security.WithNetworkSandbox(cfg.Network),
		security.WithSandboxConfig(cfg.Sandbox),
		security.WithResolverOptions(security.WithDenyPatterns(cfg.DenyPatterns...)),
	)
	if err != nil {
		return nil, err
	}

	policy, err := tool.NewPolicy(cfg.PermissionMode, cfg.Deny, cfg.Ask, cfg.Allow)
	if err != nil {
		sec.Close()
		return nil, err
	}

	hookMgr := hooks.NewManager(hooks.WithWorkDir(cfg.WorkDir))
	if len(cfg.Hooks) > 0 {
		if err := hookMgr.Register(cfg.Hooks...); err != nil {
			sec.Close()
			return nil, err
		}
	}

	registry := tool.NewRegistry()
	procs := builtin.NewProcessManager()
	if err := builtin.RegisterAll(registry, procs); err != nil {
		sec.Close()
		return nil, err
	}

	mcpMgr := tool.NewMCPManager()
	for _, entry := range cfg.MCPServers {
		name, spec, found := strings.Cut(entry, "=")
		if !found {
			spec, name = entry, ""
		}
		if err := mcpMgr.RegisterServer(ctx, registry, spec, name); err != nil {
			mcpMgr.Close()
			sec.Close()
			return nil, err
		}
	}

	store := cfg.Store
	if store == nil {
		store = session.NewMemoryStore()
	}

	skillReg := cfg.Skills
	if skillReg == nil {
		skillReg = skills.NewRegistry()
	}
	subagentReg := cfg.Subagents
	if subagentReg == nil {
		subagentReg = subagents.NewRegistry()
	}

	a := &Agent{
		opts:      cfg,
		model:     mdl,
		models:    models,
		spec:      spec,
		registry:  registry,
		procs:     procs,
		sec:       sec,
		hookMgr:   hookMgr,
		policy:    policy,
		access:    cfg.Access,
		store:     store,
		cache:     session.NewCacheManager(),
		tracker:   budget.NewTracker(cfg.Budget),
		skills:    skillReg,
		subagents: subagentReg,
		tasks:     tasks.NewRegistry(),
		mcp:       mcpMgr,
		tracer:    otel.Tracer("agentcore"),
	}
	a.compactor = session.NewCompactor(cfg.Compact, a.summarizer(), hookMgr)
	a.assembler = &prompt.Assembler{
		CustomBody:  cfg.CustomPrompt,
		OutputStyle: cfg.OutputStyle,
		Memory:      cfg.Memory,
		Rules:       cfg.Rules,
		WorkDir:     cfg.WorkDir,
		Model:       spec.ID,
	}
	return a, nil
}

// Close releases held resources: MCP sessions, background shells, tasks,
// and the pinned root descriptor.
func (a *Agent) Close() {
	a.tasks.CancelAll()
	a.procs.KillAll()
	a.mcp.Close()
	_ = a.sec.Close()
}

// Tracker exposes the budget tracker for inspection.
func (a *Agent) Tracker() *budget.Tracker { return a.tracker }

// Store exposes the session store.
func (a *Agent) Store() session.Store { return a.store }

// summarizer routes compaction summaries through the provider, possibly on
// a cheaper model.
func (a *Agent) summarizer() session.Summarizer {
	return session.SummarizerFunc(func(ctx context.Context, msgs []message.Message, model string) (string, error) {
		name := model
		if name == "" {
			name = a.spec.ID
		} else if spec, err := a.models.Resolve(name); err == nil {
			name = spec.ID
		}
		resp, err := a.model.Complete(ctx, provider.Request{
			Model:     name,
			Messages:  msgs,
			MaxTokens: 2048,
		})
		if err != nil {
			return "", err
		}
		return resp.Message.TextContent(), nil
	})
}
