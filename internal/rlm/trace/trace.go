// Package trace defines the immutable-once-finalized record of what an
// Executor did: the recursion tree of ExecutionTrace nodes and the
// top-level RLMResult returned to the caller.
package trace

import (
	"time"

	"github.com/google/uuid"
	"github.com/student/rlm/internal/rlm/budget"
)

// AnswerSource records how a node's final answer was produced.
type AnswerSource string

const (
	AnswerFinalDirect AnswerSource = "final_direct"
	AnswerFinalVar    AnswerSource = "final_var"
	AnswerForced      AnswerSource = "forced"
	AnswerError       AnswerSource = "error"
)

// CodeExecution is one sandbox.execute() call's result.
type CodeExecution struct {
	Code     string
	Stdout   string
	Stderr   string
	Error    string // empty when the execution succeeded
	Duration time.Duration
}

// Iteration is one LLM turn: the prompt sent, the response received, and
// the code executions it triggered, in order.
type Iteration struct {
	Index           int
	Prompt          string
	InputTokens     int64
	Response        string
	OutputTokens    int64
	Cost            float64
	CodeExecutions  []CodeExecution
}

// ExecutionTrace is one node in the recursion tree: either the root
// Executor's trace or a child spawned via rlm_query/batch_rlm_query.
type ExecutionTrace struct {
	ID          string
	ParentID    string // empty for the root
	Depth       int
	Task        string
	Iterations  []Iteration
	Subcalls    []*ExecutionTrace
	FinalAnswer string
	AnswerSource AnswerSource
}

// NewID generates a fresh, unique trace/execution id.
func NewID() string {
	return uuid.NewString()
}

// New creates an empty trace node for the given task, depth and parent.
func New(id, parentID string, depth int, task string) *ExecutionTrace {
	return &ExecutionTrace{
		ID:       id,
		ParentID: parentID,
		Depth:    depth,
		Task:     task,
	}
}

// IsTerminal reports whether this node has a final answer.
func (t *ExecutionTrace) IsTerminal() bool {
	return t.FinalAnswer != ""
}

// AppendSubcall appends a child's trace in scheduling order.
func (t *ExecutionTrace) AppendSubcall(child *ExecutionTrace) {
	t.Subcalls = append(t.Subcalls, child)
}

// RLMResult is the top-level outcome of one Executor.Execute call.
type RLMResult struct {
	Success  bool
	Output   string
	Trace    *ExecutionTrace
	Usage    budget.Usage
	Warnings []string
	Error    error
}
