// Package executor drives the iterative LLM-sandbox control loop: build a
// prompt, call the LLM, parse its response, run any code blocks, and repeat
// until a termination marker appears or the budget is exhausted.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/student/rlm/internal/rlm/budget"
	"github.com/student/rlm/internal/rlm/parser"
	"github.com/student/rlm/internal/rlm/router"
	"github.com/student/rlm/internal/rlm/sandbox"
	"github.com/student/rlm/internal/rlm/sandbox/nativepy"
	"github.com/student/rlm/internal/rlm/trace"
)

const (
	defaultMaxTokensPerCall  = 8192
	directAnswerContextChars = 10_000
	defaultBatchConcurrency  = 5
)

// SandboxFactory builds a fresh Session for one execute() call.
type SandboxFactory func(sandbox.Config) (sandbox.Session, error)

// Hooks are optional observers. OnIteration fires once an iteration's record
// is complete; OnSubcall fires from inside a bridge call, before the child
// Executor is built, and during batch_rlm_query it may fire from several
// goroutines at once.
type Hooks struct {
	OnIteration func(depth int, it trace.Iteration)
	OnSubcall   func(depth int, task string)
}

// Config is immutable for the lifetime of a recursion tree: it is shared
// unchanged by every child Executor, with only the budget substituted.
type Config struct {
	Provider         string
	Model            string
	SubcallProvider  string // defaults to Provider
	SubcallModel     string // defaults to Model
	DefaultBudget    budget.PartialBudget
	SandboxFactory   SandboxFactory
	SandboxConfig    sandbox.Config
	PromptHints      []string
	BatchConcurrency int
}

func (c Config) subcallProvider() string {
	if c.SubcallProvider != "" {
		return c.SubcallProvider
	}
	return c.Provider
}

func (c Config) subcallModel() string {
	if c.SubcallModel != "" {
		return c.SubcallModel
	}
	return c.Model
}

func (c Config) batchConcurrency() int {
	if c.BatchConcurrency > 0 {
		return c.BatchConcurrency
	}
	return defaultBatchConcurrency
}

func (c Config) sandboxFactory() SandboxFactory {
	if c.SandboxFactory != nil {
		return c.SandboxFactory
	}
	return func(cfg sandbox.Config) (sandbox.Session, error) {
		return nativepy.New(cfg, "", ""), nil
	}
}

// Options parameterizes one execute() call.
type Options struct {
	Task    string
	Context string
	Budget  budget.PartialBudget
	Hooks   Hooks
}

// Executor orchestrates one node of the recursion tree. A root Executor has
// depth 0 and an empty parentID; children are constructed internally by
// onRLMQuery/onBatchRLMQuery.
type Executor struct {
	router   *router.Router
	config   Config
	depth    int
	parentID string
}

// New constructs an Executor. Callers outside this package always pass
// depth 0 and an empty parentID; non-zero depth is reserved for the
// recursive construction inside Execute.
func New(r *router.Router, cfg Config, depth int, parentID string) *Executor {
	return &Executor{router: r, config: cfg, depth: depth, parentID: parentID}
}

// Execute runs the full iteration loop per Options and returns a result.
// The Sandbox session is always destroyed before returning, on every exit
// path.
func (e *Executor) Execute(ctx context.Context, opts Options) trace.RLMResult {
	now := time.Now()
	merged := budget.Merge(e.config.DefaultBudget, opts.Budget)

	var warnings []string
	controller := budget.NewController(merged, now, func(dimension, message string, percent float64) {
		warnings = append(warnings, message)
	})

	tr := trace.New(trace.NewID(), e.parentID, e.depth, opts.Task)

	session, err := e.config.sandboxFactory()(e.config.SandboxConfig)
	if err != nil {
		return e.failure(tr, controller, warnings, fmt.Errorf("create sandbox: %w", err))
	}
	defer session.Destroy(context.Background())

	bridge := &executorBridge{
		executor:   e,
		controller: controller,
		trace:      tr,
		hooks:      opts.Hooks,
	}

	lc := LoadContext(opts.Context)
	if err := session.Initialize(ctx, EscapeContext(opts.Context), bridge); err != nil {
		return e.failure(tr, controller, warnings, fmt.Errorf("initialize sandbox: %w", err))
	}

	if err := e.runLoop(ctx, session, controller, tr, opts, lc); err != nil {
		return e.failure(tr, controller, warnings, err)
	}

	if !tr.IsTerminal() {
		e.forceAnswer(ctx, controller, tr, opts.Task)
		warnings = append(warnings, "Budget exhausted, answer was forced")
	}

	return trace.RLMResult{
		Success:  true,
		Output:   tr.FinalAnswer,
		Trace:    tr,
		Usage:    controller.GetUsage(time.Now()),
		Warnings: warnings,
	}
}

func (e *Executor) failure(tr *trace.ExecutionTrace, controller *budget.Controller, warnings []string, err error) trace.RLMResult {
	tr.AnswerSource = trace.AnswerError
	return trace.RLMResult{
		Success:  false,
		Trace:    tr,
		Usage:    controller.GetUsage(time.Now()),
		Warnings: warnings,
		Error:    err,
	}
}

// runLoop is steps 5a-5g of the iteration loop. It returns once a
// termination marker is found or the iteration budget is exhausted.
func (e *Executor) runLoop(ctx context.Context, session sandbox.Session, controller *budget.Controller, tr *trace.ExecutionTrace, opts Options, lc LoadedContext) error {
	var priorResponse string
	var lastOutput string
	var lastWasError bool

	for index := 0; controller.CanProceed(budget.KindIteration, nil, time.Now()); index++ {
		controller.Record(budget.RecordParams{Iteration: true}, time.Now())

		var userPrompt string
		if index == 0 {
			userPrompt = buildInitialUserPrompt(opts.Task, opts.Context)
		} else {
			userPrompt = buildContinuationPrompt(priorResponse, lastOutput, lastWasError)
		}

		systemPrompt := buildSystemPrompt(opts.Task, lc, controller.GetRemaining(time.Now()), e.depth, e.config.PromptHints)

		resp, err := e.router.Complete(ctx, e.config.Provider, router.CompletionRequest{
			Model:        e.config.Model,
			SystemPrompt: systemPrompt,
			UserPrompt:   userPrompt,
			MaxTokens:    defaultMaxTokensPerCall,
		})
		if err != nil {
			return fmt.Errorf("llm completion: %w", err)
		}
		cost := resp.Cost
		inputTokens := resp.InputTokens
		outputTokens := resp.OutputTokens
		controller.Record(budget.RecordParams{Cost: &cost, InputTokens: &inputTokens, OutputTokens: &outputTokens}, time.Now())

		parsed := parser.Parse(resp.Content)
		iteration := trace.Iteration{
			Index:        index,
			Prompt:       userPrompt,
			InputTokens:  inputTokens,
			Response:     resp.Content,
			OutputTokens: outputTokens,
			Cost:         cost,
		}

		var outputs []string
		hasError := false
		for _, block := range parsed.CodeBlocks {
			execResult, err := session.Execute(ctx, block.Code)
			if err != nil {
				execResult = sandbox.Result{Error: err.Error()}
			}
			iteration.CodeExecutions = append(iteration.CodeExecutions, trace.CodeExecution{
				Code:     block.Code,
				Stdout:   execResult.Stdout,
				Stderr:   execResult.Stderr,
				Error:    execResult.Error,
				Duration: execResult.Duration,
			})
			if execResult.Error != "" {
				hasError = true
				outputs = append(outputs, execResult.Error)
			} else {
				outputs = append(outputs, execResult.Stdout)
			}
		}
		lastOutput = strings.Join(outputs, "\n")
		lastWasError = hasError

		tr.Iterations = append(tr.Iterations, iteration)
		if opts.Hooks.OnIteration != nil {
			opts.Hooks.OnIteration(e.depth, iteration)
		}

		priorResponse = resp.Content

		if parsed.Marker != nil {
			switch parsed.Marker.Kind {
			case parser.MarkerDirect:
				tr.FinalAnswer = parsed.Marker.Text
				tr.AnswerSource = trace.AnswerFinalDirect
			case parser.MarkerVariable:
				value, err := session.GetVariable(ctx, parsed.Marker.Text)
				if err != nil || value == "" {
					value = "[Variable not found]"
				}
				tr.FinalAnswer = value
				tr.AnswerSource = trace.AnswerFinalVar
			}
			return nil
		}
	}
	return nil
}

// forceAnswer implements step 6: a follow-up completion bypassing
// canProceed, synthesizing a best-effort answer once the loop exits without
// a termination marker.
func (e *Executor) forceAnswer(ctx context.Context, controller *budget.Controller, tr *trace.ExecutionTrace, task string) {
	var lastOutput string
	if n := len(tr.Iterations); n > 0 {
		last := tr.Iterations[n-1]
		if len(last.CodeExecutions) > 0 {
			ce := last.CodeExecutions[len(last.CodeExecutions)-1]
			if ce.Error != "" {
				lastOutput = ce.Error
			} else {
				lastOutput = ce.Stdout
			}
		}
	}

	resp, err := e.router.Complete(ctx, e.config.Provider, router.CompletionRequest{
		Model:      e.config.Model,
		UserPrompt: buildForcedAnswerPrompt(task, lastOutput),
		MaxTokens:  defaultMaxTokensPerCall,
	})
	if err != nil {
		tr.FinalAnswer = fmt.Sprintf("[Error: %s]", err.Error())
		tr.AnswerSource = trace.AnswerForced
		return
	}
	cost := resp.Cost
	inputTokens := resp.InputTokens
	outputTokens := resp.OutputTokens
	controller.Record(budget.RecordParams{Cost: &cost, InputTokens: &inputTokens, OutputTokens: &outputTokens}, time.Now())

	tr.FinalAnswer = strings.TrimSpace(resp.Content)
	tr.AnswerSource = trace.AnswerForced
}

// executorBridge implements sandbox.Bridge, closing over the owning
// Executor's controller, trace, and hooks.
type executorBridge struct {
	executor   *Executor
	controller *budget.Controller
	trace      *trace.ExecutionTrace
	hooks      Hooks
}

// OnLLMQuery implements sandbox.Bridge: a single sub-LLM call that does not
// increment subcalls or depth.
func (b *executorBridge) OnLLMQuery(ctx context.Context, prompt string) (string, error) {
	cfg := b.executor.config
	resp, err := b.executor.router.Complete(ctx, cfg.subcallProvider(), router.CompletionRequest{
		Model:      cfg.subcallModel(),
		UserPrompt: prompt,
		MaxTokens:  defaultMaxTokensPerCall,
	})
	if err != nil {
		return "", err
	}
	cost := resp.Cost
	inputTokens := resp.InputTokens
	outputTokens := resp.OutputTokens
	b.controller.Record(budget.RecordParams{Cost: &cost, InputTokens: &inputTokens, OutputTokens: &outputTokens}, time.Now())
	return resp.Content, nil
}

// OnRLMQuery implements sandbox.Bridge.
func (b *executorBridge) OnRLMQuery(ctx context.Context, task, taskContext string) (string, error) {
	return b.runRLMQuery(ctx, task, taskContext)
}

func (b *executorBridge) runRLMQuery(ctx context.Context, task, ctxOverride string) (string, error) {
	childDepth := b.executor.depth + 1
	now := time.Now()

	if !b.controller.CanProceed(budget.KindSubcall, &childDepth, now) {
		reason := "budget exhausted"
		if r := b.controller.GetBlockReason(now); r != nil {
			reason = *r
		}
		fallback, err := b.directAnswerFallback(ctx, task, ctxOverride)
		if err != nil {
			return fmt.Sprintf("[%s] [Error: %s]", reason, err.Error()), nil
		}
		return fmt.Sprintf("[%s] %s", reason, fallback), nil
	}

	depthCopy := childDepth
	b.controller.Record(budget.RecordParams{Subcall: true, Depth: &depthCopy}, now)
	if b.hooks.OnSubcall != nil {
		b.hooks.OnSubcall(childDepth, task)
	}

	childBudget := b.controller.GetSubBudget(b.executor.depth, now)
	child := New(b.executor.router, b.executor.config, childDepth, b.trace.ID)

	result := child.Execute(ctx, Options{Task: task, Context: ctxOverride, Budget: childBudget})
	b.trace.AppendSubcall(result.Trace)

	childCost := result.Usage.Cost
	childInput := result.Usage.InputTokens
	childOutput := result.Usage.OutputTokens
	b.controller.Record(budget.RecordParams{Cost: &childCost, InputTokens: &childInput, OutputTokens: &childOutput}, time.Now())

	if !result.Success {
		msg := "unknown error"
		if result.Error != nil {
			msg = result.Error.Error()
		}
		return fmt.Sprintf("[Error: %s]", msg), nil
	}
	return result.Output, nil
}

// directAnswerFallback is the single one-shot call used when a subcall is
// blocked by budget: a bounded-context plain completion instead of a full
// recursive executor run.
func (b *executorBridge) directAnswerFallback(ctx context.Context, task, ctxOverride string) (string, error) {
	boundedContext := ctxOverride
	if len(boundedContext) > directAnswerContextChars {
		boundedContext = boundedContext[:directAnswerContextChars]
	}
	cfg := b.executor.config
	prompt := task
	if boundedContext != "" {
		prompt = task + "\n\n## Context\n" + boundedContext
	}
	resp, err := b.executor.router.Complete(ctx, cfg.subcallProvider(), router.CompletionRequest{
		Model:      cfg.subcallModel(),
		UserPrompt: prompt,
		MaxTokens:  defaultMaxTokensPerCall,
	})
	if err != nil {
		return "", err
	}
	cost := resp.Cost
	inputTokens := resp.InputTokens
	outputTokens := resp.OutputTokens
	b.controller.Record(budget.RecordParams{Cost: &cost, InputTokens: &inputTokens, OutputTokens: &outputTokens}, time.Now())
	return resp.Content, nil
}

// OnBatchRLMQuery implements sandbox.Bridge: a bounded worker pool of size
// min(configuredBatchConcurrency, len(tasks)), writing results positionally
// regardless of completion order.
func (b *executorBridge) OnBatchRLMQuery(ctx context.Context, tasks []sandbox.BatchTask) ([]string, error) {
	if len(tasks) == 0 {
		return []string{}, nil
	}

	limit := b.executor.config.batchConcurrency()
	if limit > len(tasks) {
		limit = len(tasks)
	}

	results := make([]string, len(tasks))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(limit)

	for i, task := range tasks {
		i, task := i, task
		group.Go(func() error {
			out, err := b.runRLMQuery(groupCtx, task.Task, task.Context)
			if err != nil {
				results[i] = fmt.Sprintf("[Error: %s]", err.Error())
				return nil
			}
			results[i] = out
			return nil
		})
	}
	_ = group.Wait()
	return results, nil
}
