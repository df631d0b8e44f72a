package budget

import (
	"testing"
	"time"

	"pgregory.net/rapid"
)

// TestTokensInvariantProperty is the property form of P1: tokens equals
// inputTokens+outputTokens after any sequence of records.
func TestTokensInvariantProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		c, start := newTestController(DefaultBudget(), nil)

		steps := rapid.IntRange(0, 20).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			in := rapid.Int64Range(0, 1000).Draw(rt, "in")
			out := rapid.Int64Range(0, 1000).Draw(rt, "out")
			c.Record(RecordParams{InputTokens: &in, OutputTokens: &out}, start)

			u := c.GetUsage(start)
			if u.Tokens != u.InputTokens+u.OutputTokens {
				rt.Fatalf("tokens invariant broken: %+v", u)
			}
		}
	})
}

// TestMaxDepthReachedMonotonicProperty is the property form of the
// maxDepthReached half of P2: it never decreases across any sequence of
// recorded depths.
func TestMaxDepthReachedMonotonicProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		c, start := newTestController(DefaultBudget(), nil)

		prev := 0
		steps := rapid.IntRange(0, 20).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			d := rapid.IntRange(0, 10).Draw(rt, "depth")
			c.Record(RecordParams{Depth: &d}, start)
			cur := c.GetUsage(start).MaxDepthReached
			if cur < prev {
				rt.Fatalf("maxDepthReached decreased: %d -> %d", prev, cur)
			}
			prev = cur
		}
	})
}

// TestGetSubBudgetDepthFormulaProperty is the property form of P6.
func TestGetSubBudgetDepthFormulaProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		maxDepth := rapid.IntRange(0, 10).Draw(rt, "maxDepth")
		parentDepth := rapid.IntRange(0, 10).Draw(rt, "parentDepth")

		b := DefaultBudget()
		b.MaxDepth = maxDepth
		c, start := newTestController(b, nil)

		sub := c.GetSubBudget(parentDepth, start)
		want := maxDepth - parentDepth - 1
		if want < 0 {
			want = 0
		}
		if *sub.MaxDepth != want {
			rt.Fatalf("getSubBudget depth mismatch: got %d want %d", *sub.MaxDepth, want)
		}
	})
}

// TestWarningsAtMostOncePerDimensionProperty is the property form of P4.
func TestWarningsAtMostOncePerDimensionProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		counts := map[string]int{}
		b := Budget{MaxCost: 10, MaxTokens: 1000, MaxTime: time.Hour, MaxDepth: 2, MaxIterations: 1000}
		c, start := newTestController(b, func(dim, msg string, pct float64) {
			counts[dim]++
		})

		calls := rapid.IntRange(0, 30).Draw(rt, "calls")
		for i := 0; i < calls; i++ {
			cost := rapid.Float64Range(0, 3).Draw(rt, "cost")
			c.Record(RecordParams{Cost: &cost}, start)
			c.CanProceed(KindIteration, nil, start)
		}

		for dim, n := range counts {
			if n > 1 {
				rt.Fatalf("dimension %s warned %d times, want at most 1", dim, n)
			}
		}
	})
}
