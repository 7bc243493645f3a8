package converge

import (
	"sort"

	"github.com/kestrelworks/kestrel/internal/audit"
)

// stuckTracker watches for issues that survive fix attempt after fix
// attempt. It is the anti-infinite-loop guard: once the same issue key has
// failed maxAttempts consecutive attempts, the tracker demands a strategy
// pivot rather than letting the loop repeat the identical fix forever.
//
// Counters are per issue key (audit.Issue.Key: description + location) and
// CONSECUTIVE: an issue that gets fixed drops out of the map entirely, so
// a later reappearance starts counting from one again.
type stuckTracker struct {
	maxAttempts int
	attempts    map[string]int
}

func newStuckTracker(maxAttempts int, restored map[string]int) *stuckTracker {
	attempts := restored
	if attempts == nil {
		attempts = make(map[string]int)
	}
	return &stuckTracker{maxAttempts: maxAttempts, attempts: attempts}
}

// observe records the outcome of one fix attempt. found is the full issue
// set handed to the fixer; stillFailing is what survived.
//
// Returns the keys (sorted) that just crossed the attempt ceiling. A
// non-empty return means the caller must pivot; observe resets those
// counters so the new strategy gets a fresh allowance of attempts.
func (t *stuckTracker) observe(found, stillFailing []audit.Issue) []string {
	failing := make(map[string]bool, len(stillFailing))
	for _, issue := range stillFailing {
		failing[issue.Key()] = true
	}

	// Fixed issues leave the map: the streak of failures is broken.
	for _, issue := range found {
		key := issue.Key()
		if !failing[key] {
			delete(t.attempts, key)
		}
	}

	var exhausted []string
	for key := range failing {
		t.attempts[key]++
		if t.attempts[key] >= t.maxAttempts {
			exhausted = append(exhausted, key)
			t.attempts[key] = 0
		}
	}
	sort.Strings(exhausted)
	return exhausted
}

// repeatedlyFailing returns keys that have failed more than once, sorted.
func (t *stuckTracker) repeatedlyFailing() []string {
	var keys []string
	for key, n := range t.attempts {
		if n > 1 {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// snapshot copies the counters for persistence.
func (t *stuckTracker) snapshot() map[string]int {
	out := make(map[string]int, len(t.attempts))
	for k, v := range t.attempts {
		out[k] = v
	}
	return out
}
