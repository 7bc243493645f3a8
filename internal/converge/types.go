// Package converge drives repeated audit runs until a required number of
// consecutive clean passes is reached, rotating methodologies without
// replacement within a clean streak.
package converge

import (
	"time"

	"github.com/kestrelworks/kestrel/internal/audit"
)

// Pass records one convergence iteration: which methodology ran, whether
// it came back clean, and what the fix layer accomplished.
type Pass struct {
	Iteration   int           `json:"iteration"`
	Methodology string        `json:"methodology"`
	RunID       string        `json:"run_id"`
	Clean       bool          `json:"clean"`
	IssuesFound int           `json:"issues_found"`
	IssuesFixed int           `json:"issues_fixed"`
	Duration    time.Duration `json:"duration"`
}

// State is the complete mutable state of a convergence loop. It is owned
// exclusively by the Loop and mutated only between passes; persisting it
// (and restoring it verbatim, used set included) is what makes resume
// exact.
type State struct {
	// LoopID identifies this loop across save/resume cycles.
	LoopID string `json:"loop_id"`
	// Subject describes what is being audited. Informational only.
	Subject string `json:"subject"`

	Iteration   int    `json:"iteration"`
	CleanStreak int    `json:"clean_streak"`
	Used        []string `json:"used"`
	Passes      []Pass `json:"passes"`

	// OpenIssues are the issues still failing after the latest fix attempt.
	OpenIssues []audit.Issue `json:"open_issues,omitempty"`
	// Attempts counts consecutive failed fix attempts per issue key.
	Attempts map[string]int `json:"attempts,omitempty"`
	// Pivots counts strategy switches performed so far.
	Pivots int `json:"pivots"`
}

// Outcome is the terminal result of a convergence loop.
//
// Non-convergence is a state, not an error: callers inspect Passes for the
// complete, untruncated history of every attempted pass.
type Outcome struct {
	Converged        bool   `json:"converged"`
	Iterations       int    `json:"iterations"`
	Passes           []Pass `json:"passes"`
	TotalIssuesFound int    `json:"total_issues_found"`
	TotalIssuesFixed int    `json:"total_issues_fixed"`
	FinalCleanStreak int    `json:"final_clean_streak"`
}
