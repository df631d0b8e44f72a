package budget

import "time"

// Usage is the mutable accumulator owned by exactly one Controller.
type Usage struct {
	Cost            float64
	Tokens          int64
	InputTokens     int64
	OutputTokens    int64
	Duration        time.Duration
	Iterations      int
	Subcalls        int
	MaxDepthReached int
}

// Remaining is the absolute headroom left in each dimension. Negative
// differences clamp to zero; Depth is the configured maxDepth unchanged.
type Remaining struct {
	Cost       float64
	Tokens     int64
	Time       time.Duration
	Depth      int
	Iterations int
}
