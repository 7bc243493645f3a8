package converge

import (
	"errors"
	"fmt"
	"strings"
)

// StuckIssueError is raised when pivoting itself is exhausted: the same
// issues kept surviving fixes through every allowed strategy switch.
//
// This is the only stuck-fix condition escalated to the caller; ordinary
// stuck issues are recovered automatically by the pivot guard.
type StuckIssueError struct {
	Keys   []string // issue keys that exhausted the final pivot
	Pivots int      // strategy switches performed before giving up
}

// Error implements the error interface.
func (e *StuckIssueError) Error() string {
	return fmt.Sprintf("issues unresolved after %d strategy pivots: %s",
		e.Pivots, strings.Join(e.Keys, ", "))
}

// IsStuckIssue reports whether err is (or wraps) a *StuckIssueError.
func IsStuckIssue(err error) bool {
	var se *StuckIssueError
	return errors.As(err, &se)
}
