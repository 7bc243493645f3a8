package converge

import (
	"context"
	"strconv"

	"github.com/kestrelworks/kestrel/internal/audit"
)

// CheckSource resolves a methodology to the checks it audits with.
// Supplied by the checks subsystem; the loop treats checks as opaque.
type CheckSource interface {
	Checks(m audit.Methodology) ([]audit.Check, error)
}

// CheckSourceFunc adapts a function to the CheckSource interface.
type CheckSourceFunc func(m audit.Methodology) ([]audit.Check, error)

func (f CheckSourceFunc) Checks(m audit.Methodology) ([]audit.Check, error) {
	return f(m)
}

// Strategy selects how the fixer approaches an issue set. Strategy zero is
// the fixer's default approach; each pivot increments it, telling the
// fixer to try something materially different from what just failed.
type Strategy int

// String renders the strategy for logs and traces.
func (s Strategy) String() string {
	if s == 0 {
		return "direct"
	}
	return "pivot-" + strconv.Itoa(int(s))
}

// FixOutcome is the fixer's report: how many issues it resolved and which
// ones survived its attempt.
type FixOutcome struct {
	Fixed        int
	StillFailing []audit.Issue
}

// Fixer generates and applies a remediation plan for the issues found in
// one pass. External collaborator; the loop only consumes the outcome.
type Fixer interface {
	Fix(ctx context.Context, issues []audit.Issue, strategy Strategy) (*FixOutcome, error)
}

// NopFixer applies nothing: every issue is reported as still failing.
// Useful for report-only loops where remediation is manual.
type NopFixer struct{}

func (NopFixer) Fix(_ context.Context, issues []audit.Issue, _ Strategy) (*FixOutcome, error) {
	return &FixOutcome{Fixed: 0, StillFailing: issues}, nil
}

// ContextClearer discards cross-pass memory before a pass runs. What
// "context" means is caller-specific (phase-review mode clears an agent's
// working memory); the loop only decides WHEN to call it.
type ContextClearer interface {
	ClearContext(ctx context.Context) error
}

// LoopReport summarizes a finished loop for the pattern recorder.
type LoopReport struct {
	LoopID            string
	Converged         bool
	TotalIssuesFound  int
	TotalIssuesFixed  int
	OpenIssues        []audit.Issue
	RepeatedlyFailing []string // issue keys that survived more than one fix attempt
}

// Recorder receives the loop report at termination. Fire-and-forget: the
// loop ignores anything the recorder does, including panics.
type Recorder interface {
	Record(report LoopReport)
}
