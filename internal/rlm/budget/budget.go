// Package budget implements the multi-dimensional resource budget that
// gates every iteration and subcall an Executor performs.
package budget

import "time"

// Budget holds the five hard caps enforced across one execution tree branch.
// All fields are non-negative.
type Budget struct {
	MaxCost       float64
	MaxTokens     int64
	MaxTime       time.Duration
	MaxDepth      int
	MaxIterations int
}

// DefaultBudget returns the baseline caps applied when nothing overrides them.
func DefaultBudget() Budget {
	return Budget{
		MaxCost:       5.0,
		MaxTokens:     500_000,
		MaxTime:       300_000 * time.Millisecond,
		MaxDepth:      2,
		MaxIterations: 30,
	}
}

// PartialBudget overrides a subset of Budget's fields; nil fields are left
// untouched by Apply.
type PartialBudget struct {
	MaxCost       *float64
	MaxTokens     *int64
	MaxTime       *time.Duration
	MaxDepth      *int
	MaxIterations *int
}

// Apply layers p onto b, returning a new Budget with p's non-nil fields
// overriding b's. Later callers of Apply win: default budget, then
// config-level override, then per-call override.
func Apply(b Budget, p PartialBudget) Budget {
	if p.MaxCost != nil {
		b.MaxCost = *p.MaxCost
	}
	if p.MaxTokens != nil {
		b.MaxTokens = *p.MaxTokens
	}
	if p.MaxTime != nil {
		b.MaxTime = *p.MaxTime
	}
	if p.MaxDepth != nil {
		b.MaxDepth = *p.MaxDepth
	}
	if p.MaxIterations != nil {
		b.MaxIterations = *p.MaxIterations
	}
	return b
}

// Merge folds DEFAULT_BUDGET through a sequence of partial overrides, later
// ones winning.
func Merge(overrides ...PartialBudget) Budget {
	b := DefaultBudget()
	for _, p := range overrides {
		b = Apply(b, p)
	}
	return b
}
