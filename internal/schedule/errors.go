package schedule

import (
	"errors"
	"fmt"
	"strings"
)

// CycleError reports a circular dependency among requested checks.
//
// This is a structural failure: the run cannot proceed at all, unlike a
// per-check failure which only marks one result. Remaining holds every
// check that could not be scheduled (sorted), which includes the cycle
// members and anything downstream of them.
type CycleError struct {
	Remaining []string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return fmt.Sprintf("circular dependency among checks: %s",
		strings.Join(e.Remaining, ", "))
}

// IsCycleError reports whether err is (or wraps) a *CycleError.
func IsCycleError(err error) bool {
	var ce *CycleError
	return errors.As(err, &ce)
}
