package run

import (
	"errors"
	"fmt"
	"strings"
)

// CriticalFailureError aggregates every failed critical check of one run.
//
// Non-critical failures are tolerated (they only mark their own Result);
// a failure on a designated critical check escalates to this run-level
// error AFTER the run completes, so sibling results are never discarded.
type CriticalFailureError struct {
	RunID  string
	Failed []string
}

// Error implements the error interface.
func (e *CriticalFailureError) Error() string {
	return fmt.Sprintf("critical checks failed: %s", strings.Join(e.Failed, ", "))
}

// IsCriticalFailure reports whether err is (or wraps) a *CriticalFailureError.
func IsCriticalFailure(err error) bool {
	var ce *CriticalFailureError
	return errors.As(err, &ce)
}
