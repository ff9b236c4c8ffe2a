// Command agentcli is a minimal front-end over the agent library: it wires
// an agent from flags and environment, runs one prompt, and prints the
// result or the event stream.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/stellarlinkco/agentcore/pkg/agent"
	"github.com/stellarlinkco/agentcore/pkg/budget"
	"github.com/stellarlinkco/agentcore/pkg/runtime/skills"
	"github.com/stellarlinkco/agentcore/pkg/session"
	"github.com/stellarlinkco/agentcore/pkg/tool"
)

var (
	flagModel     string
	flagWorkDir   string
	flagPrompt    string
	flagStream    bool
	flagMode      string
	flagAllow     []string
	flagDeny      []string
	flagSkillsDir string
	flagDBPath    string
	flagCompact   bool
	flagBudgetUSD float64
	flagResume    string
	flagCloud     string
	flagRegion    string
	flagProject   string
)

func main() {
	// .env is optional; missing files are fine.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "agentcli",
		Short:         "Run an LLM-backed agent against a local project",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one prompt",
		RunE:  runAgent,
	}
	runCmd.Flags().StringVarP(&flagPrompt, "prompt", "p", "", "the prompt to execute (required)")
	runCmd.Flags().StringVarP(&flagModel, "model", "m", "sonnet", "model alias or id")
	runCmd.Flags().StringVarP(&flagWorkDir, "dir", "d", ".", "project root")
	runCmd.Flags().BoolVar(&flagStream, "stream", false, "stream events instead of waiting")
	runCmd.Flags().StringVar(&flagMode, "permission-mode", "bypass", "bypass | plan | acceptEdits | default")
	runCmd.Flags().StringArrayVar(&flagAllow, "allow", nil, "permission allow rules")
	runCmd.Flags().StringArrayVar(&flagDeny, "deny", nil, "permission deny rules")
	runCmd.Flags().StringVar(&flagSkillsDir, "skills", "", "directory of skill markdown files")
	runCmd.Flags().StringVar(&flagDBPath, "db", "", "sqlite session store path (default in-memory)")
	runCmd.Flags().BoolVar(&flagCompact, "compact", true, "enable automatic context compaction")
	runCmd.Flags().Float64Var(&flagBudgetUSD, "budget", 0, "cost limit in USD (0 = unlimited)")
	runCmd.Flags().StringVar(&flagResume, "resume", "", "session id to resume")
	runCmd.Flags().StringVar(&flagCloud, "cloud", "", "hosted variant: bedrock | vertex")
	runCmd.Flags().StringVar(&flagRegion, "region", "", "vertex region")
	runCmd.Flags().StringVar(&flagProject, "project", "", "vertex project id")
	_ = runCmd.MarkFlagRequired("prompt")

	root.AddCommand(runCmd)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "agentcli:", err)
		os.Exit(1)
	}
}

func runAgent(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workDir, err := os.Getwd()
	if err != nil {
		return err
	}
	if flagWorkDir != "." && flagWorkDir != "" {
		workDir = flagWorkDir
	}

	opts := []agent.Option{
		agent.WithWorkDir(workDir),
		agent.WithModel(flagModel),
		agent.WithPermissions(tool.Mode(flagMode), flagDeny, nil, flagAllow),
	}

	switch {
	case flagCloud != "":
		opts = append(opts, agent.WithCloud(flagCloud))
	default:
		key := os.Getenv("ANTHROPIC_API_KEY")
		if key == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is not set")
		}
		opts = append(opts, agent.WithAPIKey(key))
	}
	if flagCloud == "vertex" {
		opts = append(opts, func(o *agent.Options) {
			o.Region = flagRegion
			o.ProjectID = flagProject
		})
	}

	if flagSkillsDir != "" {
		defs, err := skills.LoadDir(flagSkillsDir)
		if err != nil {
			return err
		}
		reg := skills.NewRegistry()
		for _, def := range defs {
			if err := reg.Register(def); err != nil {
				return err
			}
		}
		opts = append(opts, agent.WithSkills(reg))
	}

	if flagDBPath != "" {
		store, err := session.NewSQLite(flagDBPath)
		if err != nil {
			return err
		}
		defer store.Close()
		opts = append(opts, agent.WithStore(store))
	}

	if flagCompact {
		opts = append(opts, agent.WithCompaction(session.CompactConfig{Enabled: true, SummaryModel: "haiku"}))
	}
	if flagBudgetUSD > 0 {
		opts = append(opts, agent.WithBudget(budget.Config{LimitUSD: flagBudgetUSD, Action: budget.StopBeforeNext}))
	}

	a, err := agent.New(ctx, opts...)
	if err != nil {
		return err
	}
	defer a.Close()

	if flagStream {
		events, err := a.ExecuteStream(ctx, flagPrompt)
		if err != nil {
			return err
		}
		for ev := range events {
			printEvent(ev)
		}
		return nil
	}

	var result *agent.Result
	if flagResume != "" {
		result, err = a.Resume(ctx, flagResume, flagPrompt)
	} else {
		result, err = a.Execute(ctx, flagPrompt)
	}
	if err != nil {
		return err
	}
	fmt.Println(result.Output)
	fmt.Fprintf(os.Stderr, "session=%s stop=%s cost=%.4f USD tokens(in=%d out=%d)\n",
		result.SessionID, result.StopReason, result.CostUSD,
		result.Usage.InputTokens, result.Usage.OutputTokens)
	return nil
}

func printEvent(ev agent.Event) {
	switch ev.Type {
	case agent.EventText:
		fmt.Print(ev.Text)
	case agent.EventToolStart:
		fmt.Fprintf(os.Stderr, "\n[tool %s %s]\n", ev.ToolName, ev.ToolUseID)
	case agent.EventToolError:
		fmt.Fprintf(os.Stderr, "\n[tool %s failed: %s]\n", ev.ToolName, ev.Err)
	case agent.EventComplete:
		if ev.Result != nil {
			fmt.Fprintf(os.Stderr, "\n[done session=%s cost=%.4f USD]\n", ev.Result.SessionID, ev.Result.CostUSD)
		}
	}
}
