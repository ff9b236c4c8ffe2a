package agent

import (
	"github.com/stellarlinkco/agentcore/pkg/budget"
	"github.com/stellarlinkco/agentcore/pkg/hooks"
	"github.com/stellarlinkco/agentcore/pkg/prompt"
	"github.com/stellarlinkco/agentcore/pkg/provider"
	"github.com/stellarlinkco/agentcore/pkg/runtime/skills"
	"github.com/stellarlinkco/agentcore/pkg/runtime/subagents"
	"github.com/stellarlinkco/agentcore/pkg/security"
	"github.com/stellarlinkco/agentcore/pkg/session"
	"github.com/stellarlinkco/agentcore/pkg/tool"
)

// Options configures a reusable Agent. Zero values get sensible defaults in
// New.
type Options struct {
	// Credential authenticates against the model provider.
	Credential provider.Credential
	// BaseURL overrides the provider endpoint (proxies, gateways).
	BaseURL string
	// Model is an alias, full id, or family substring resolved through the
	// model registry.
	Model string
	// Region and ProjectID parameterize the Vertex adapter.
	Region    string
	ProjectID string

	// WorkDir pins the security context root. Required.
	WorkDir string

	// Access filters which registered tools the model sees.
	Access tool.AccessSet
	// PermissionMode plus the rule lists build the permission policy.
	PermissionMode tool.Mode
	Deny           []string
	Ask            []string
	Allow          []string

	// Hooks are registered on the hook manager at build time.
	Hooks []hooks.Hook

	// Skills and Subagents are optional registries; nil builds empty ones.
	Skills    *skills.Registry
	Subagents *subagents.Registry

	// MCPServers are connected at build time; each entry is "name=spec" or
	// a bare spec.
	MCPServers []string

	// Store persists sessions; nil uses the in-memory store.
	Store session.Store

	// Compact configures automatic context compaction.
	Compact session.CompactConfig
	// Budget configures cost tracking and the stop/fallback policy.
	Budget budget.Config

	// Security knobs.
	BashPreset   security.BashPreset
	Limits       security.ResourceLimits
	Network      *security.NetworkSandbox
	Sandbox      security.SandboxConfig
	DenyPatterns []string

	// Prompt assembly.
	CustomPrompt string
	OutputStyle  *prompt.OutputStyle
	Memory       *prompt.MemoryLoader
	Rules        *prompt.RuleIndex

	// MaxIterations bounds the loop (default 50).
	MaxIterations int
	// MaxTokens bounds one response (default 8192).
	MaxTokens int
	// TenantID tags sessions for per-tenant accounting.
	TenantID string

	// Provider overrides the constructed adapter (tests, custom gateways).
	Provider provider.Model
}

// Option mutates Options.
type Option func(*Options)

// WithModel sets the model name.
func WithModel(name string) Option { return func(o *Options) { o.Model = name } }

// WithAPIKey authenticates with a static key.
func WithAPIKey(key string) Option {
	return func(o *Options) { o.Credential = provider.Credential{APIKey: key} }
}

// WithOAuth authenticates with a refreshable token.
func WithOAuth(token *provider.OAuthToken) Option {
	return func(o *Options) { o.Credential = provider.Credential{OAuth: token} }
}

// WithCloud selects a hosted variant ("bedrock", "vertex").
func WithCloud(kind string) Option {
	return func(o *Options) { o.Credential = provider.Credential{Cloud: kind} }
}

// WithWorkDir pins the project root.
func WithWorkDir(dir string) Option { return func(o *Options) { o.WorkDir = dir } }

// WithPermissions installs the permission mode and rule lists.
func WithPermissions(mode tool.Mode, deny, ask, allow []string) Option {
	return func(o *Options) {
		o.PermissionMode = mode
		o.Deny = deny
		o.Ask = ask
		o.Allow = allow
	}
}

// WithAccess restricts the visible tool set.
func WithAccess(access tool.AccessSet) Option { return func(o *Options) { o.Access = access } }

// WithHooks registers lifecycle hooks.
func WithHooks(hs ...hooks.Hook) Option {
	return func(o *Options) { o.Hooks = append(o.Hooks, hs...) }
}

// WithStore selects the persistence backend.
func WithStore(store session.Store) Option { return func(o *Options) { o.Store = store } }

// WithCompaction enables automatic compaction.
func WithCompaction(cfg session.CompactConfig) Option {
	return func(o *Options) { o.Compact = cfg }
}

// WithBudget configures cost tracking.
func WithBudget(cfg budget.Config) Option { return func(o *Options) { o.Budget = cfg } }

// WithSkills installs a skill registry.
func WithSkills(reg *skills.Registry) Option { return func(o *Options) { o.Skills = reg } }

// WithSubagents installs a subagent registry.
func WithSubagents(reg *subagents.Registry) Option { return func(o *Options) { o.Subagents = reg } }

// WithMCPServer connects an MCP tool server at build time.
func WithMCPServer(spec string) Option {
	return func(o *Options) { o.MCPServers = append(o.MCPServers, spec) }
}

// WithProvider injects a prebuilt provider adapter.
func WithProvider(p provider.Model) Option { return func(o *Options) { o.Provider = p } }

// WithMaxIterations bounds the agentic loop.
func WithMaxIterations(n int) Option { return func(o *Options) { o.MaxIterations = n } }

func (o Options) withDefaults() Options {
	cfg := o
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 50
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 8192
	}
	if cfg.PermissionMode == "" {
		cfg.PermissionMode = tool.ModeBypass
	}
	if cfg.BashPreset == "" {
		cfg.BashPreset = security.PresetDefault
	}
	return cfg
}
