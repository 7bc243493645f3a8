// Package audit defines the domain model shared by the scheduling and
// convergence layers: checks, issues, per-check results, methodologies,
// and the static dependency table.
package audit

import (
	"context"
	"time"
)

// CheckFunc executes one check. It returns a Report describing any issues
// found, or an error if the check itself could not run.
//
// A non-nil error means "the check failed to execute", which is distinct
// from "the check ran and found issues". Both are recorded on the Result.
//
// Implementations are supplied by the checks subsystem and are opaque to
// the executor: they may perform arbitrary I/O, and they own their own
// timeouts via the provided context.
type CheckFunc func(ctx context.Context) (*Report, error)

// Check is a named unit of audit work. Immutable once registered for a run.
type Check struct {
	Name string
	Run  CheckFunc
}

// Report is the output of a successful check execution.
type Report struct {
	Issues []Issue
}

// Issue is a single finding produced by a check.
//
// Identity: two issues with the same Description and Location are the same
// issue for the purposes of stuck-fix tracking, even across passes. Use
// Key() for that identity; never compare struct values directly, since
// Severity may be reclassified between passes without changing identity.
type Issue struct {
	Description string `json:"description"`
	Location    string `json:"location"`
	Severity    string `json:"severity,omitempty"`
}

// Result is the outcome of running one check. Created by the executor,
// consumed by the orchestrator; never mutated after creation.
//
// OK reports whether the check executed without error. A check can be OK
// and still carry a non-empty issue list: execution success and audit
// cleanliness are independent axes.
type Result struct {
	Check    string        `json:"check"`
	OK       bool          `json:"ok"`
	Duration time.Duration `json:"duration"`
	Issues   []Issue       `json:"issues,omitempty"`
	Err      string        `json:"error,omitempty"`
}

// Methodology is a named grouping of checks sampled as a unit by the
// convergence loop.
type Methodology struct {
	Name   string   `json:"name"`
	Checks []string `json:"checks"`
}

// DependencyTable maps a check name to the names of its prerequisites.
// It is an explicit immutable configuration value: build it once, pass it
// in, never mutate it afterwards.
type DependencyTable map[string][]string

// Clone returns a deep copy of the table. Callers that load the table from
// configuration should hand components a clone so later config reloads
// cannot alias a run in flight.
func (t DependencyTable) Clone() DependencyTable {
	if t == nil {
		return nil
	}
	out := make(DependencyTable, len(t))
	for check, prereqs := range t {
		cp := make([]string, len(prereqs))
		copy(cp, prereqs)
		out[check] = cp
	}
	return out
}

// Names returns the check names from a slice of checks, in input order.
func Names(checks []Check) []string {
	names := make([]string, len(checks))
	for i, c := range checks {
		names[i] = c.Name
	}
	return names
}
