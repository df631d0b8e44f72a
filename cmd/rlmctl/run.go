package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"charm.land/fantasy/providers/anthropic"
	"charm.land/fantasy/providers/openrouter"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/spf13/cobra"

	"github.com/student/rlm/internal/obslog"
	"github.com/student/rlm/internal/rlm/budget"
	"github.com/student/rlm/internal/rlm/executor"
	"github.com/student/rlm/internal/rlm/router"
	"github.com/student/rlm/internal/rlm/sandbox"
	"github.com/student/rlm/internal/rlm/sandbox/nativepy"
	"github.com/student/rlm/internal/rlm/sandbox/shellsandbox"
	"github.com/student/rlm/internal/rlm/trace"
	"github.com/student/rlm/internal/rlmconfig"
)

var runCmd = &cobra.Command{
	Use:   "run [task...]",
	Short: "Execute a task end to end and print its final answer",
	Long: `Execute a task through the RLM loop: load context, drive the sandboxed
REPL, optionally recurse into sub-RLM instances, and print the final
answer once a termination marker fires or the budget is exhausted.

The task can be given as arguments or piped from stdin.`,
	Example: `
# Execute a task directly
rlmctl run "summarize the key invariants of this file" --context notes.txt

# Append piped stdin to the task text and show the trace afterwards
cat report.md | rlmctl run --trace "extract every action item"
`,
	RunE: runTask,
}

func init() {
	runCmd.Flags().StringP("context", "c", "", "Path to a file to load as the context variable")
	runCmd.Flags().BoolP("trace", "t", false, "Print the execution trace after the answer")
	runCmd.Flags().BoolP("quiet", "q", false, "Suppress progress output on stderr")
}

func runTask(cmd *cobra.Command, args []string) error {
	quiet, _ := cmd.Flags().GetBool("quiet")
	showTrace, _ := cmd.Flags().GetBool("trace")
	contextPath, _ := cmd.Flags().GetString("context")
	dataDir, _ := cmd.Flags().GetString("data-dir")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	task := strings.Join(args, " ")
	task, err := maybePrependStdin(task)
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	if task == "" {
		return fmt.Errorf("no task provided")
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve cwd: %w", err)
	}
	cfg, err := rlmconfig.Load(cwd, dataDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	obslog.Init(obslog.Options{
		FilePath:   cfg.Logging.FilePath,
		Debug:      cfg.Logging.Debug,
		JSON:       cfg.Logging.JSON,
		AlsoStderr: cfg.Logging.AlsoStderr,
	})

	taskContext := ""
	if contextPath != "" {
		data, err := os.ReadFile(contextPath)
		if err != nil {
			return fmt.Errorf("read context file: %w", err)
		}
		taskContext = string(data)
	}

	r, err := buildRouter(cfg)
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}

	execCfg := executor.Config{
		Provider:         cfg.Provider,
		Model:            cfg.Model,
		SubcallProvider:  cfg.SubcallProvider,
		SubcallModel:     cfg.SubcallModel,
		BatchConcurrency: cfg.BatchConcurrency,
		SandboxFactory:   sandboxFactoryFor(cfg.Sandbox),
		SandboxConfig:    sandboxConfigFor(cfg.Sandbox),
		DefaultBudget:    budgetFromConfig(cfg.Budget),
	}

	if !quiet {
		fmt.Fprintln(os.Stderr, "Executing RLM task...")
	}

	start := time.Now()
	result := executor.New(r, execCfg, 0, "").Execute(ctx, executor.Options{
		Task:    task,
		Context: taskContext,
		Hooks: executor.Hooks{
			OnIteration: func(depth int, it trace.Iteration) {
				obslog.IterationLogger(depth, it.Index, it.InputTokens, it.OutputTokens, it.Cost)
			},
			OnSubcall: obslog.SubcallLogger,
		},
	})

	if !result.Success {
		return fmt.Errorf("rlm execution failed: %w", result.Error)
	}

	fmt.Println(result.Output)

	if showTrace {
		fmt.Fprintf(os.Stderr, "\n--- Trace ---\n")
		printTrace(result.Trace, 0)
		fmt.Fprintf(os.Stderr, "\nTotal tokens: %d, cost: %.4f, duration: %s\n",
			result.Usage.Tokens, result.Usage.Cost, time.Since(start))
		if len(result.Warnings) > 0 {
			fmt.Fprintf(os.Stderr, "Warnings: %s\n", strings.Join(result.Warnings, "; "))
		}
	}

	return nil
}

// maybePrependStdin folds piped stdin into the task text, matching the
// teacher's MaybePrependStdin helper: when both are present the CLI task
// comes first and stdin is appended after a blank line; with no CLI task,
// stdin alone becomes the task.
func maybePrependStdin(task string) (string, error) {
	stat, err := os.Stdin.Stat()
	if err != nil || (stat.Mode()&os.ModeCharDevice) != 0 {
		return task, nil
	}
	piped, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	if len(piped) == 0 {
		return task, nil
	}
	if task == "" {
		return string(piped), nil
	}
	return task + "\n\n" + string(piped), nil
}

// buildRouter registers one Adapter per configured provider: Anthropic and
// OpenRouter via charm.land/fantasy, OpenAI directly via the OpenAI SDK.
func buildRouter(cfg rlmconfig.Config) (*router.Router, error) {
	r := router.New()

	for name, p := range cfg.Providers {
		switch p.Type {
		case "anthropic":
			opts := []anthropic.Option{anthropic.WithAPIKey(p.APIKey)}
			if p.BaseURL != "" {
				opts = append(opts, anthropic.WithBaseURL(p.BaseURL))
			}
			provider, err := anthropic.New(opts...)
			if err != nil {
				return nil, fmt.Errorf("anthropic provider %q: %w", name, err)
			}
			adapter, err := router.NewFantasyAdapter(provider, nil)
			if err != nil {
				return nil, err
			}
			r.Register(name, adapter)

		case "openrouter":
			provider, err := openrouter.New(openrouter.WithAPIKey(p.APIKey))
			if err != nil {
				return nil, fmt.Errorf("openrouter provider %q: %w", name, err)
			}
			adapter, err := router.NewFantasyAdapter(provider, nil)
			if err != nil {
				return nil, err
			}
			r.Register(name, adapter)

		case "openai":
			opts := []option.RequestOption{option.WithAPIKey(p.APIKey)}
			if p.BaseURL != "" {
				opts = append(opts, option.WithBaseURL(p.BaseURL))
			}
			r.Register(name, router.NewOpenAIAdapter(openai.NewClient(opts...), nil))

		default:
			return nil, fmt.Errorf("provider %q: unsupported type %q", name, p.Type)
		}
	}

	return r, nil
}

// sandboxConfigFor translates the YAML-facing sandbox settings into the
// sandbox.Config passed to whichever factory sandboxFactoryFor selects.
func sandboxConfigFor(cfg rlmconfig.SandboxConfig) sandbox.Config {
	boxCfg := sandbox.DefaultConfig()
	if len(cfg.ReadPaths) > 0 {
		boxCfg.ReadPaths = cfg.ReadPaths
	}
	boxCfg.NetworkEnabled = cfg.NetworkEnabled
	if cfg.TimeoutSeconds > 0 {
		boxCfg.Timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return boxCfg
}

// sandboxFactoryFor selects the sandbox.Session backend per config;
// nativepy is the default, shellsandbox opts into the in-process POSIX
// interpreter.
func sandboxFactoryFor(cfg rlmconfig.SandboxConfig) executor.SandboxFactory {
	switch cfg.Backend {
	case "shell":
		return func(c sandbox.Config) (sandbox.Session, error) {
			return shellsandbox.New(c), nil
		}
	default:
		pythonPath := cfg.PythonPath
		return func(c sandbox.Config) (sandbox.Session, error) {
			return nativepy.New(c, pythonPath, ""), nil
		}
	}
}

func budgetFromConfig(b rlmconfig.BudgetConfig) budget.PartialBudget {
	var p budget.PartialBudget
	if b.MaxCost > 0 {
		p.MaxCost = &b.MaxCost
	}
	if b.MaxTokens > 0 {
		p.MaxTokens = &b.MaxTokens
	}
	if b.MaxTime > 0 {
		p.MaxTime = &b.MaxTime
	}
	if b.MaxDepth > 0 {
		p.MaxDepth = &b.MaxDepth
	}
	if b.MaxIterations > 0 {
		p.MaxIterations = &b.MaxIterations
	}
	return p
}

func printTrace(t *trace.ExecutionTrace, depth int) {
	if t == nil {
		return
	}
	indent := strings.Repeat("  ", depth)
	fmt.Fprintf(os.Stderr, "%s[depth %d] %s -> %s (%s)\n", indent, t.Depth, truncate(t.Task, 60), truncate(t.FinalAnswer, 60), t.AnswerSource)
	for _, it := range t.Iterations {
		fmt.Fprintf(os.Stderr, "%s  iter %d: %d code block(s), %d in / %d out tokens\n",
			indent, it.Index, len(it.CodeExecutions), it.InputTokens, it.OutputTokens)
	}
	for _, sub := range t.Subcalls {
		printTrace(sub, depth+1)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
