package budget

import (
	"fmt"
	"math"
	"time"
)

// Kind distinguishes the two operations a Controller gates.
type Kind string

const (
	// KindIteration is one REPL turn within the current executor.
	KindIteration Kind = "iteration"
	// KindSubcall is a would-be child executor invocation.
	KindSubcall Kind = "subcall"
)

// WarningFunc is invoked the first time a dimension crosses 80% of its cap.
// A nil WarningFunc is not an error; warnings are simply dropped.
type WarningFunc func(dimension string, message string, percent float64)

// RecordParams describes one unit of usage to fold into the accumulator.
// Only non-nil/true fields are applied.
type RecordParams struct {
	Cost         *float64
	InputTokens  *int64
	OutputTokens *int64
	Iteration    bool
	Subcall      bool
	Depth        *int
}

// Controller is the single-threaded owner of one Usage accumulator and
// start timestamp for exactly one Executor's lifetime. It is not safe for
// concurrent use: the cooperative scheduling model guarantees it is only
// ever touched between suspension points of its owning executor, so no
// internal locking is needed or provided.
type Controller struct {
	budget    Budget
	usage     Usage
	start     time.Time
	onWarning WarningFunc
	warned    map[string]bool
}

// NewController creates a Controller for the given budget. now is the start
// timestamp used for elapsed-time accounting (pass time.Now() in
// production; tests may supply a fixed instant).
func NewController(b Budget, now time.Time, onWarning WarningFunc) *Controller {
	return &Controller{
		budget:    b,
		start:     now,
		onWarning: onWarning,
		warned:    make(map[string]bool, 3),
	}
}

func (c *Controller) elapsed(now time.Time) time.Duration {
	return now.Sub(c.start)
}

// CanProceed reports whether the given operation is permitted under the
// current usage. depth is only consulted for KindSubcall (nil treated as
// 0, per spec). As a side effect it may fire an 80%-threshold warning.
func (c *Controller) CanProceed(kind Kind, depth *int, now time.Time) bool {
	c.fireWarnings(now)

	if !(c.usage.Cost < c.budget.MaxCost) {
		return false
	}
	if !(c.usage.Tokens < c.budget.MaxTokens) {
		return false
	}
	if !(c.elapsed(now) < c.budget.MaxTime) {
		return false
	}

	switch kind {
	case KindIteration:
		if !(c.usage.Iterations < c.budget.MaxIterations) {
			return false
		}
	case KindSubcall:
		d := 0
		if depth != nil {
			d = *depth
		}
		if !(d < c.budget.MaxDepth) {
			return false
		}
	}
	return true
}

// Record folds one unit of usage into the accumulator.
func (c *Controller) Record(p RecordParams, now time.Time) {
	if p.Cost != nil {
		c.usage.Cost += *p.Cost
	}
	var added int64
	if p.InputTokens != nil {
		c.usage.InputTokens += *p.InputTokens
		added += *p.InputTokens
	}
	if p.OutputTokens != nil {
		c.usage.OutputTokens += *p.OutputTokens
		added += *p.OutputTokens
	}
	if p.InputTokens != nil || p.OutputTokens != nil {
		c.usage.Tokens += added
	}
	if p.Iteration {
		c.usage.Iterations++
	}
	if p.Subcall {
		c.usage.Subcalls++
	}
	if p.Depth != nil && *p.Depth > c.usage.MaxDepthReached {
		c.usage.MaxDepthReached = *p.Depth
	}
	c.usage.Duration = c.elapsed(now)
}

// GetSubBudget computes the partial budget to hand to a child executor
// spawned at parentDepth.
func (c *Controller) GetSubBudget(parentDepth int, now time.Time) PartialBudget {
	r := c.GetRemaining(now)

	cost := r.Cost * 0.5
	tokens := r.Tokens / 2
	t := r.Time / 2

	maxDepth := c.budget.MaxDepth - parentDepth - 1
	if maxDepth < 0 {
		maxDepth = 0
	}

	maxIterations := int(math.Ceil(float64(c.budget.MaxIterations) * 0.5))

	return PartialBudget{
		MaxCost:       &cost,
		MaxTokens:     &tokens,
		MaxTime:       &t,
		MaxDepth:      &maxDepth,
		MaxIterations: &maxIterations,
	}
}

// GetUsage returns a defensive copy of the usage accumulator with Duration
// refreshed against now.
func (c *Controller) GetUsage(now time.Time) Usage {
	u := c.usage
	u.Duration = c.elapsed(now)
	return u
}

// GetRemaining returns absolute headroom per dimension; negative
// differences clamp to zero. Depth is the configured cap, unchanged.
func (c *Controller) GetRemaining(now time.Time) Remaining {
	cost := c.budget.MaxCost - c.usage.Cost
	if cost < 0 {
		cost = 0
	}
	tokens := c.budget.MaxTokens - c.usage.Tokens
	if tokens < 0 {
		tokens = 0
	}
	t := c.budget.MaxTime - c.elapsed(now)
	if t < 0 {
		t = 0
	}
	iterations := c.budget.MaxIterations - c.usage.Iterations
	if iterations < 0 {
		iterations = 0
	}
	return Remaining{
		Cost:       cost,
		Tokens:     tokens,
		Time:       t,
		Depth:      c.budget.MaxDepth,
		Iterations: iterations,
	}
}

// GetBlockReason returns a human-readable description of the first
// exhausted dimension, in the order cost, tokens, time, iterations, or nil
// when none are exhausted.
func (c *Controller) GetBlockReason(now time.Time) *string {
	reason := func(s string) *string { return &s }

	if c.usage.Cost >= c.budget.MaxCost {
		return reason(fmt.Sprintf("cost limit reached (%.2f/%.2f)", c.usage.Cost, c.budget.MaxCost))
	}
	if c.usage.Tokens >= c.budget.MaxTokens {
		return reason(fmt.Sprintf("token limit reached (%d/%d)", c.usage.Tokens, c.budget.MaxTokens))
	}
	if c.elapsed(now) >= c.budget.MaxTime {
		return reason(fmt.Sprintf("time limit reached (%s/%s)", c.elapsed(now), c.budget.MaxTime))
	}
	if c.usage.Iterations >= c.budget.MaxIterations {
		return reason(fmt.Sprintf("iteration limit reached (%d/%d)", c.usage.Iterations, c.budget.MaxIterations))
	}
	return nil
}

// Budget returns the (immutable) budget this controller enforces.
func (c *Controller) Budget() Budget {
	return c.budget
}

// fireWarnings checks cost/tokens/time against their 80% threshold and
// invokes onWarning at most once per dimension per Controller lifetime.
func (c *Controller) fireWarnings(now time.Time) {
	if c.onWarning == nil {
		return
	}

	c.maybeWarn("cost", c.usage.Cost, c.budget.MaxCost, now)
	c.maybeWarn("tokens", float64(c.usage.Tokens), float64(c.budget.MaxTokens), now)
	c.maybeWarn("time", float64(c.elapsed(now)), float64(c.budget.MaxTime), now)
}

func (c *Controller) maybeWarn(dimension string, current, max float64, now time.Time) {
	if c.warned[dimension] || max <= 0 {
		return
	}
	percent := current / max
	if percent < 0.8 {
		return
	}
	c.warned[dimension] = true
	c.onWarning(dimension, fmt.Sprintf("%s at %.0f%% of budget", dimension, percent*100), percent)
}
