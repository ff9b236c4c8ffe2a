package security

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// Context aggregates the filesystem, shell, resource, and sandbox
// adjudicators shared by every tool of one agent. It is immutable after
// construction and freely shareable across goroutines.
type Context struct {
	resolver *Resolver
	bash     *BashPolicy
	limits   ResourceLimits
	network  *NetworkSandbox
	sandbox  *Sandbox
}

// ContextOption configures a security context at build time.
type ContextOption func(*contextConfig)

type contextConfig struct {
	resolverOpts []ResolverOption
	preset       BashPreset
	limits       ResourceLimits
	network      *NetworkSandbox
	sandboxCfg   SandboxConfig
}

// WithBashPreset selects the shell policy preset (default PresetDefault).
func WithBashPreset(preset BashPreset) ContextOption {
	return func(c *contextConfig) { c.preset = preset }
}

// WithResourceLimits installs ceilings applied to spawned children.
func WithResourceLimits(limits ResourceLimits) ContextOption {
	return func(c *contextConfig) { c.limits = limits }
}

// WithNetworkSandbox installs outbound domain filtering.
func WithNetworkSandbox(n *NetworkSandbox) ContextOption {
	return func(c *contextConfig) { c.network = n }
}

// WithSandboxConfig enables OS-level sandboxing of tool subprocesses.
func WithSandboxConfig(cfg SandboxConfig) ContextOption {
	return func(c *contextConfig) { c.sandboxCfg = cfg }
}

// WithResolverOptions forwards options to the path resolver.
func WithResolverOptions(opts ...ResolverOption) ContextOption {
	return func(c *contextConfig) { c.resolverOpts = append(c.resolverOpts, opts...) }
}

// NewContext pins root and builds the shared adjudicators.
func NewContext(root string, opts ...ContextOption) (*Context, error) {
	cfg := contextConfig{preset: PresetDefault}
	for _, opt := range opts {
		opt(&cfg)
	}
	resolver, err := NewResolver(root, cfg.resolverOpts...)
	if err != nil {
		return nil, err
	}
	return &Context{
		resolver: resolver,
		bash:     NewBashPolicy(cfg.preset),
		limits:   cfg.limits,
		network:  cfg.network,
		sandbox:  NewSandbox(resolver.Root(), cfg.sandboxCfg),
	}, nil
}

// Root reports the pinned project root.
func (c *Context) Root() string { return c.resolver.Root() }

// Resolver exposes the TOCTOU-safe path resolver.
func (c *Context) Resolver() *Resolver { return c.resolver }

// Open opens a file under the root for reading.
func (c *Context) Open(rel string) (*os.File, error) { return c.resolver.Open(rel) }

// Create opens a file under the root for writing.
func (c *Context) Create(rel string, perm os.FileMode) (*os.File, error) {
	return c.resolver.Create(rel, perm)
}

// CheckBash analyzes a shell command against the configured policy.
func (c *Context) CheckBash(command string) (*Analysis, error) { return c.bash.Check(command) }

// CheckURL validates an outbound URL against the network sandbox.
func (c *Context) CheckURL(raw string) error { return c.network.CheckURL(raw) }

// Limits reports the configured resource ceilings.
func (c *Context) Limits() ResourceLimits { return c.limits }

// Sandbox exposes the OS sandbox adjudicator.
func (c *Context) Sandbox() *Sandbox { return c.sandbox }

// EnterSandbox self-restricts the current process when sandboxing is enabled.
func (c *Context) EnterSandbox() error { return c.sandbox.Enter() }

// Close releases the pinned root descriptor.
func (c *Context) Close() error { return c.resolver.Close() }

// ExecResult captures a completed child process.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

const execKillGrace = 5 * time.Second

// Exec runs argv under the security context: the environment is sanitized,
// resource limits are applied to the forked child, and the sandbox wrapper is
// honored. Cancellation sends SIGTERM, then SIGKILL after a grace period.
func (c *Context) Exec(ctx context.Context, argv []string, env []string, stdin io.Reader, workDir string) (ExecResult, error) {
	if len(argv) == 0 {
		return ExecResult{}, ErrEmptyCommand
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if !c.sandbox.Excluded(argv[0]) {
		argv = c.sandbox.WrapCommand(argv)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	if env == nil {
		env = os.Environ()
	}
	cmd.Env = SanitizeEnv(env)
	if proxy := c.sandbox.Config().ProxyAddr; proxy != "" {
		cmd.Env = append(cmd.Env, "HTTPS_PROXY="+proxy, "HTTP_PROXY="+proxy)
	}
	if workDir == "" {
		workDir = c.Root()
	}
	cmd.Dir = workDir
	cmd.Stdin = stdin
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return ExecResult{}, fmt.Errorf("security: start %s: %w", argv[0], err)
	}
	if !c.limits.IsZero() {
		if err := applyLimitsToProcess(cmd.Process.Pid, c.limits); err != nil {
			signalProcessGroup(cmd, syscall.SIGKILL)
			_ = cmd.Wait()
			return ExecResult{}, err
		}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		res := ExecResult{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: exitCode(err)}
		if err != nil && res.ExitCode < 0 {
			return res, err
		}
		return res, nil
	case <-ctx.Done():
		signalProcessGroup(cmd, syscall.SIGTERM)
		select {
		case <-done:
		case <-time.After(execKillGrace):
			signalProcessGroup(cmd, syscall.SIGKILL)
			<-done
		}
		return ExecResult{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: -1}, ctx.Err()
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
