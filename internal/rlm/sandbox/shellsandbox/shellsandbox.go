// Package shellsandbox is a second Session backend that runs model-authored
// code as POSIX shell in-process via mvdan.cc/sh/v3, instead of shelling out
// to a separate interpreter subprocess the way nativepy does. It exists to
// demonstrate that the Executor is backend-agnostic: the bridge contract
// (llm_query / rlm_query / batch_rlm_query) is exposed as ordinary shell
// commands rather than Python builtins.
package shellsandbox

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/student/rlm/internal/rlm/sandbox"
)

const (
	cmdLLMQuery      = "llm_query"
	cmdRLMQuery      = "rlm_query"
	cmdBatchRLMQuery = "batch_rlm_query"
)

// Session implements sandbox.Session by parsing each Execute call's code as
// a shell script and running it against a single persistent interp.Runner,
// so variable assignments and function definitions persist across calls
// the same way a Python namespace would.
type Session struct {
	config sandbox.Config
	bridge sandbox.Bridge
	runner *interp.Runner
	ctxVar string
}

// New creates an uninitialized shellsandbox Session.
func New(config sandbox.Config) *Session {
	return &Session{config: config}
}

// Initialize implements sandbox.Session.
func (s *Session) Initialize(ctx context.Context, contextVar string, bridge sandbox.Bridge) error {
	s.bridge = bridge
	s.ctxVar = contextVar

	runner, err := interp.New(
		interp.Env(expand.ListEnviron(fmt.Sprintf("CONTEXT=%s", contextVar))),
		interp.ExecHandlers(s.execHandler),
		interp.StdIO(nil, new(bytes.Buffer), new(bytes.Buffer)),
	)
	if err != nil {
		return fmt.Errorf("shellsandbox: new runner: %w", err)
	}
	s.runner = runner
	return nil
}

// execHandler intercepts the three bridge commands before they reach the
// default exec handler, which would otherwise try (and fail) to find them
// as real executables on PATH.
func (s *Session) execHandler(next interp.ExecHandlerFunc) interp.ExecHandlerFunc {
	return func(ctx context.Context, args []string) error {
		if len(args) == 0 {
			return next(ctx, args)
		}
		hc := interp.HandlerCtx(ctx)
		switch args[0] {
		case cmdLLMQuery:
			return s.runLLMQuery(ctx, hc, args[1:])
		case cmdRLMQuery:
			return s.runRLMQuery(ctx, hc, args[1:])
		case cmdBatchRLMQuery:
			return s.runBatchRLMQuery(ctx, hc, args[1:])
		default:
			return next(ctx, args)
		}
	}
}

func (s *Session) runLLMQuery(ctx context.Context, hc interp.HandlerContext, args []string) error {
	prompt := strings.Join(args, " ")
	result, err := s.bridge.OnLLMQuery(ctx, prompt)
	if err != nil {
		fmt.Fprintln(hc.Stderr, err)
		return interp.NewExitStatus(1)
	}
	fmt.Fprint(hc.Stdout, result)
	return nil
}

// runRLMQuery accepts at most two shell arguments: the task, and an
// optional context seed, matching the bridge contract's
// onRLMQuery(task, context?).
func (s *Session) runRLMQuery(ctx context.Context, hc interp.HandlerContext, args []string) error {
	var task, taskContext string
	if len(args) > 0 {
		task = args[0]
	}
	if len(args) > 1 {
		taskContext = args[1]
	}
	result, err := s.bridge.OnRLMQuery(ctx, task, taskContext)
	if err != nil {
		fmt.Fprintln(hc.Stderr, err)
		return interp.NewExitStatus(1)
	}
	fmt.Fprint(hc.Stdout, result)
	return nil
}

// runBatchRLMQuery treats each shell argument as one task with no
// per-task context override: the shell backend has no structured way to
// pair a context string with each task argument.
func (s *Session) runBatchRLMQuery(ctx context.Context, hc interp.HandlerContext, args []string) error {
	tasks := make([]sandbox.BatchTask, len(args))
	for i, a := range args {
		tasks[i] = sandbox.BatchTask{Task: a}
	}
	results, err := s.bridge.OnBatchRLMQuery(ctx, tasks)
	if err != nil {
		fmt.Fprintln(hc.Stderr, err)
		return interp.NewExitStatus(1)
	}
	fmt.Fprintln(hc.Stdout, strings.Join(results, "\n"))
	return nil
}

// Execute implements sandbox.Session.
func (s *Session) Execute(ctx context.Context, code string) (sandbox.Result, error) {
	timeout := s.config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	file, err := syntax.NewParser().Parse(strings.NewReader(code), "")
	if err != nil {
		return sandbox.Result{Error: err.Error()}, nil
	}

	var stdout, stderr bytes.Buffer
	if err := interp.StdIO(nil, &stdout, &stderr)(s.runner); err != nil {
		return sandbox.Result{}, fmt.Errorf("shellsandbox: set stdio: %w", err)
	}

	start := time.Now()
	runErr := s.runner.Run(execCtx, file)
	duration := time.Since(start)

	result := sandbox.Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}
	if runErr != nil {
		result.Error = runErr.Error()
	}
	if execCtx.Err() == context.DeadlineExceeded {
		result.Error = fmt.Sprintf("shellsandbox: execute timeout (limit %s)", timeout)
	}
	return result, nil
}

// GetVariable implements sandbox.Session.
func (s *Session) GetVariable(ctx context.Context, name string) (string, error) {
	v := s.runner.Vars[name]
	if !v.IsSet() {
		return "", fmt.Errorf("shellsandbox: no such variable: %s", name)
	}
	return v.String(), nil
}

// Destroy implements sandbox.Session.
func (s *Session) Destroy(ctx context.Context) error {
	return nil
}
