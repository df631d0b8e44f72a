package executor

import (
	"fmt"
	"strings"

	"github.com/student/rlm/internal/rlm/budget"
)

const initialContextPreviewChars = 2000

// buildSystemPrompt enumerates the environment, remaining budget,
// termination syntax, and (for depth > 0) a sub-RLM preface, following the
// teacher's generateRLMSystemPrompt layout of fixed sections.
func buildSystemPrompt(task string, lc LoadedContext, remaining budget.Remaining, depth int, hints []string) string {
	var sb strings.Builder

	sb.WriteString("You are operating an RLM (Recursive Language Model) execution loop.\n\n")
	sb.WriteString("Context has been loaded into a sandboxed interpreter as the variable `context`. ")
	sb.WriteString("Write code to explore and process it; do not expect the context to appear verbatim in this prompt.\n\n")

	if depth > 0 {
		sb.WriteString(fmt.Sprintf(
			"## Sub-RLM Instance (depth %d)\nYou were spawned to resolve a sub-task. Be efficient: your allocation is a fraction of the parent's remaining budget.\n\n",
			depth))
	}

	sb.WriteString("## Environment\n")
	sb.WriteString(fmt.Sprintf("- Context length: %d characters (~%d tokens)\n", lc.Length, lc.TokenEstimate))
	sb.WriteString(fmt.Sprintf("- Content type: %s\n", lc.ContentType))
	sb.WriteString(fmt.Sprintf("- Remaining budget: cost=%.4f, tokens=%d, time=%s, depth=%d, iterations=%d\n\n",
		remaining.Cost, remaining.Tokens, remaining.Time, remaining.Depth, remaining.Iterations))

	sb.WriteString("## Available Functions\n")
	sb.WriteString("- llm_query(prompt) - a single sub-LLM call for analysis, no recursion\n")
	sb.WriteString("- rlm_query(task, context=None) - spawn a child RLM instance for a sub-task; context overrides the child's context variable instead of inheriting this one\n")
	sb.WriteString("- batch_rlm_query(tasks) - spawn several child RLM instances concurrently, results positional; each task is a string or {\"task\": ..., \"context\": ...}\n")
	sb.WriteString("- chunk_text, chunk_by_headers, chunk_by_size, search_context, count_matches, extract_json, extract_sections, find_line, count_lines, get_line, quote_match\n\n")

	sb.WriteString("## Termination\n")
	sb.WriteString("Call `FINAL(answer)` with your literal answer, or `FINAL_VAR(name)` to return the current string value of a variable named `name`. ")
	sb.WriteString("Do not call both. Prefer solving in as few iterations as possible.\n\n")

	sb.WriteString("## Accuracy\n")
	sb.WriteString("Verify computed values against the context before finalizing. Prefer direct computation over llm_query for counting, searching, or extraction.\n")

	if len(hints) > 0 {
		sb.WriteString("\n## Model Hints\n")
		for _, h := range hints {
			sb.WriteString("- " + h + "\n")
		}
	}

	return sb.String()
}

// buildInitialUserPrompt is iteration 0's prompt: task plus a bounded
// context preview.
func buildInitialUserPrompt(task string, raw string) string {
	var sb strings.Builder
	sb.WriteString("## Task\n")
	sb.WriteString(task)
	sb.WriteString("\n\n## Context preview\n")
	if len(raw) > initialContextPreviewChars {
		sb.WriteString(raw[:initialContextPreviewChars])
		sb.WriteString("\n...[truncated, full context is in the `context` variable]...\n")
	} else {
		sb.WriteString(raw)
	}
	return sb.String()
}

// buildContinuationPrompt composes the next iteration's prompt from the
// prior LLM response and the combined output/error of the code blocks it
// produced.
func buildContinuationPrompt(priorResponse string, combinedOutput string, hasError bool) string {
	var sb strings.Builder
	sb.WriteString(priorResponse)
	sb.WriteString("\n\n")
	if hasError {
		sb.WriteString("[Error]: ")
	} else {
		sb.WriteString("[Output]: ")
	}
	if combinedOutput == "" {
		sb.WriteString("(no output)")
	} else {
		sb.WriteString(combinedOutput)
	}
	return sb.String()
}

// buildForcedAnswerPrompt is the follow-up request sent once the iteration
// budget is exhausted without a termination marker.
func buildForcedAnswerPrompt(task string, lastOutput string) string {
	if lastOutput == "" {
		lastOutput = "[none]"
	}
	return fmt.Sprintf(
		"Your iteration budget is exhausted. Based on everything explored so far, give your best-effort final answer now, as plain text (no code, no FINAL()).\n\nTask: %s\n\nLast execution output: %s",
		task, lastOutput)
}
