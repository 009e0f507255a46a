package engine

import (
	"context"
	"time"
)

// RetryPolicy is a bounded retry schedule. Waits[i] is slept before
// attempt i; SizeFactors[i], when present, scales the attempt's order
// size. The two uses in this package are the first-leg size-reduction
// retry (no waits, factors 1.0/0.5/0.25) and the unwind retry (waits
// 5s/10s/15s, full size).
type RetryPolicy struct {
	Waits       []time.Duration
	SizeFactors []float64
}

// Attempts returns the number of attempts the policy allows.
func (p RetryPolicy) Attempts() int {
	if len(p.Waits) > len(p.SizeFactors) {
		return len(p.Waits)
	}
	return len(p.SizeFactors)
}

// Factor returns the size multiplier for an attempt (1.0 when the policy
// has no size schedule).
func (p RetryPolicy) Factor(attempt int) float64 {
	if attempt < len(p.SizeFactors) {
		return p.SizeFactors[attempt]
	}
	return 1.0
}

// Run executes fn once per attempt, sleeping the scheduled wait first.
// fn reports success; Run stops at the first success or when the context
// ends, and reports whether any attempt succeeded.
func (p RetryPolicy) Run(ctx context.Context, sleep func(context.Context, time.Duration) error, fn func(attempt int) bool) bool {
	for attempt := 0; attempt < p.Attempts(); attempt++ {
		if attempt < len(p.Waits) && p.Waits[attempt] > 0 {
			if err := sleep(ctx, p.Waits[attempt]); err != nil {
				return false
			}
		}
		if ctx.Err() != nil {
			return false
		}
		if fn(attempt) {
			return true
		}
	}
	return false
}

// firstLegPolicy retries a failed first leg at reduced sizes. The full-size
// attempt happens before the policy runs, so only the reductions appear.
var firstLegPolicy = RetryPolicy{
	SizeFactors: []float64{0.5, 0.25},
}

// unwindPolicy waits for on-chain settlement before each sell-back attempt.
var unwindPolicy = RetryPolicy{
	Waits: []time.Duration{5 * time.Second, 10 * time.Second, 15 * time.Second},
}
