package utils

import (
	"context"
	"time"
)

// WaitResult reports the outcome of a bounded predicate wait.
type WaitResult struct {
	Satisfied bool
	Elapsed   time.Duration
}

// WaitForCondition polls pred at the given interval until it returns true,
// the timeout elapses, or ctx is canceled. This is the single wait primitive
// for all "key held until telemetry shows X" and "wait for the car to stop"
// points; each caller supplies its own bound.
func WaitForCondition(
	ctx context.Context,
	interval, timeout time.Duration,
	pred func() bool,
) WaitResult {
	start := time.Now()
	if pred() {
		return WaitResult{Satisfied: true, Elapsed: time.Since(start)}
	}
	deadline := start.Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return WaitResult{Satisfied: false, Elapsed: time.Since(start)}
		case <-ticker.C:
			if pred() {
				return WaitResult{Satisfied: true, Elapsed: time.Since(start)}
			}
			if !time.Now().Before(deadline) {
				return WaitResult{Satisfied: false, Elapsed: time.Since(start)}
			}
		}
	}
}
