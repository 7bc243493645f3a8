// Package executor runs one level's checks concurrently under a bounded
// parallelism limit.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kestrelworks/kestrel/internal/audit"
)

// RunLevel executes every check in the level and returns exactly one
// Result per input check, in input order, regardless of individual
// failures.
//
// The level is split into consecutive batches of size maxConcurrent; a
// batch's checks run concurrently and the whole batch completes before the
// next batch starts. At most maxConcurrent checks are ever in flight.
// Values below 1 are treated as 1.
//
// Failure isolation: a check that returns an error, or panics, yields a
// failed Result (OK=false, Err populated) and never aborts its siblings.
// No retry happens here; retries belong to the fix layer above.
//
// Cancellation: an already-started batch always runs to completion (checks
// own their own timeouts). If ctx is cancelled between batches, the
// not-yet-started checks are recorded as failed Results carrying the
// context error, preserving the one-result-per-check contract.
func RunLevel(ctx context.Context, checks []audit.Check, maxConcurrent int) []audit.Result {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	results := make([]audit.Result, len(checks))

	for start := 0; start < len(checks); start += maxConcurrent {
		end := start + maxConcurrent
		if end > len(checks) {
			end = len(checks)
		}

		if err := ctx.Err(); err != nil {
			for i := start; i < len(checks); i++ {
				results[i] = audit.Result{
					Check: checks[i].Name,
					OK:    false,
					Err:   fmt.Sprintf("not started: %v", err),
				}
			}
			return results
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			// Each worker writes only its own slot; no locking needed.
			go func(slot int, check audit.Check) {
				defer wg.Done()
				results[slot] = runOne(ctx, check)
			}(i, checks[i])
		}
		wg.Wait()
	}

	return results
}

// runOne executes a single check, converting errors and panics into a
// failed Result.
func runOne(ctx context.Context, check audit.Check) (result audit.Result) {
	began := time.Now()
	defer func() {
		if r := recover(); r != nil {
			result = audit.Result{
				Check:    check.Name,
				OK:       false,
				Duration: time.Since(began),
				Err:      fmt.Sprintf("panic: %v", r),
			}
		}
	}()

	report, err := check.Run(ctx)
	result = audit.Result{
		Check:    check.Name,
		Duration: time.Since(began),
	}
	if err != nil {
		result.OK = false
		result.Err = err.Error()
		return result
	}
	result.OK = true
	if report != nil {
		result.Issues = report.Issues
	}
	return result
}
