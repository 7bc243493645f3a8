// Package harness executes convergence scenarios end to end: it assembles
// a real loop over scripted checks and a scripted fixer, captures the
// event trace deterministically, and validates assertions and golden
// files against it.
//
// Every source of nondeterminism is pinned: run IDs are sequenced, pool
// sampling follows the scenario's sample script, durations never reach the
// trace, and checks run with concurrency 1. The same scenario therefore
// produces a byte-identical trace on every run.
package harness

import (
	"context"
	"fmt"
	"sync"

	"github.com/kestrelworks/kestrel/internal/audit"
	"github.com/kestrelworks/kestrel/internal/checks"
	"github.com/kestrelworks/kestrel/internal/converge"
	"github.com/kestrelworks/kestrel/internal/pool"
	"github.com/kestrelworks/kestrel/internal/run"
	"github.com/kestrelworks/kestrel/internal/testutil"
)

// TraceEvent is one captured convergence event. Fields are type-specific
// and omitted when empty so golden files stay readable.
type TraceEvent struct {
	Seq         int64    `json:"seq"`
	Type        string   `json:"type"`
	Iteration   int      `json:"iteration,omitempty"`
	Methodology string   `json:"methodology,omitempty"`
	RunID       string   `json:"run_id,omitempty"`
	Clean       bool     `json:"clean,omitempty"`
	IssuesFound int      `json:"issues_found,omitempty"`
	IssuesFixed int      `json:"issues_fixed,omitempty"`
	Strategy    string   `json:"strategy,omitempty"`
	StuckKeys   []string `json:"stuck_keys,omitempty"`
	Converged   bool     `json:"converged,omitempty"`
	Iterations  int      `json:"iterations,omitempty"`
}

// Result carries everything a scenario produced.
type Result struct {
	Outcome *converge.Outcome
	Trace   []TraceEvent
	// Err is the loop's terminal error, if any. Scenarios that expect an
	// escalation assert on it with error_contains.
	Err error
}

// Run executes a scenario against the real convergence loop and returns
// the captured result. Assertion checking is separate; see Check.
func Run(scenario *Scenario) (*Result, error) {
	p, err := pool.New(scenario.Pool(),
		pool.WithIntn(testutil.NewScriptedIntn(scenario.Sample...).Intn))
	if err != nil {
		return nil, fmt.Errorf("build pool: %w", err)
	}

	script := &scriptPlayer{script: scenario.Script}

	runner := run.New(nil,
		run.WithMaxConcurrent(1),
		run.WithIDGenerator(testutil.NewSequencedIDGenerator("run")))

	trace := &traceObserver{clock: testutil.NewDeterministicClock()}

	loop, err := converge.New(
		converge.Config{
			Subject:             scenario.Subject,
			RequiredCleanPasses: scenario.Config.RequiredCleanPasses,
			MaxIterations:       scenario.Config.MaxIterations,
			MaxFixAttempts:      scenario.Config.MaxFixAttempts,
			MaxPivots:           scenario.Config.MaxPivots,
		},
		p, runner,
		converge.CheckSourceFunc(script.checksFor),
		converge.WithFixer(script),
		converge.WithObserver(trace),
	)
	if err != nil {
		return nil, fmt.Errorf("build loop: %w", err)
	}

	outcome, loopErr := loop.Run(context.Background())
	return &Result{Outcome: outcome, Trace: trace.events(), Err: loopErr}, nil
}

// scriptPlayer serves scripted findings as checks and scripted fix
// outcomes as the fixer. The current iteration advances each time the
// loop resolves a methodology's checks.
type scriptPlayer struct {
	script    []IterationScript
	iteration int
}

func (sp *scriptPlayer) current() IterationScript {
	idx := sp.iteration - 1
	if idx < 0 || idx >= len(sp.script) {
		return IterationScript{}
	}
	return sp.script[idx]
}

// checksFor builds the methodology's checks; each check reports the issue
// lines scripted for it at the current iteration.
func (sp *scriptPlayer) checksFor(m audit.Methodology) ([]audit.Check, error) {
	sp.iteration++
	step := sp.current()

	out := make([]audit.Check, len(m.Checks))
	for i, name := range m.Checks {
		lines := step.Issues[name]
		out[i] = audit.Check{
			Name: name,
			Run: func(context.Context) (*audit.Report, error) {
				return &audit.Report{Issues: parseLines(lines)}, nil
			},
		}
	}
	return out, nil
}

// Fix reports the scripted still-failing set for the current iteration.
func (sp *scriptPlayer) Fix(_ context.Context, issues []audit.Issue, _ converge.Strategy) (*converge.FixOutcome, error) {
	still := parseLines(sp.current().StillFailing)
	fixed := len(issues) - len(still)
	if fixed < 0 {
		fixed = 0
	}
	return &converge.FixOutcome{Fixed: fixed, StillFailing: still}, nil
}

func parseLines(lines []string) []audit.Issue {
	var issues []audit.Issue
	for _, line := range lines {
		issues = append(issues, checks.ParseIssues(line)...)
	}
	return issues
}

// traceObserver records convergence events with logical sequence numbers.
type traceObserver struct {
	mu    sync.Mutex
	clock *testutil.DeterministicClock
	trace []TraceEvent
}

func (o *traceObserver) append(ev TraceEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ev.Seq = o.clock.Next()
	o.trace = append(o.trace, ev)
}

func (o *traceObserver) events() []TraceEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]TraceEvent(nil), o.trace...)
}

func (o *traceObserver) PassStarted(iteration int, methodology string) {
	o.append(TraceEvent{Type: "pass_started", Iteration: iteration, Methodology: methodology})
}

func (o *traceObserver) PassFinished(pass converge.Pass) {
	o.append(TraceEvent{
		Type:        "pass_finished",
		Iteration:   pass.Iteration,
		Methodology: pass.Methodology,
		RunID:       pass.RunID,
		Clean:       pass.Clean,
		IssuesFound: pass.IssuesFound,
		IssuesFixed: pass.IssuesFixed,
	})
}

func (o *traceObserver) PoolReset(iteration int) {
	o.append(TraceEvent{Type: "pool_reset", Iteration: iteration})
}

func (o *traceObserver) Pivoted(iteration int, strategy converge.Strategy, keys []string) {
	o.append(TraceEvent{Type: "pivoted", Iteration: iteration,
		Strategy: strategy.String(), StuckKeys: keys})
}

func (o *traceObserver) Finished(outcome *converge.Outcome) {
	o.append(TraceEvent{Type: "finished",
		Converged: outcome.Converged, Iterations: outcome.Iterations})
}
