// Package run orchestrates one audit pass: graph construction, level
// scheduling, bounded parallel execution, and metrics aggregation.
package run

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/kestrelworks/kestrel/internal/audit"
	"github.com/kestrelworks/kestrel/internal/executor"
	"github.com/kestrelworks/kestrel/internal/graph"
	"github.com/kestrelworks/kestrel/internal/schedule"
)

// DefaultMaxConcurrent bounds parallelism when no limit is configured.
const DefaultMaxConcurrent = 4

// Runner executes a requested set of checks in dependency order.
//
// A Runner is cheap and immutable after construction; each Run call owns
// its per-run data (levels, results) exclusively and discards it once the
// Summary is returned.
type Runner struct {
	table         audit.DependencyTable
	maxConcurrent int
	sequential    bool
	critical      map[string]bool
	obs           Observer
	logger        *slog.Logger
	ids           IDGenerator
}

// Option configures a Runner.
type Option func(*Runner)

// WithMaxConcurrent caps how many checks run at once within a level.
func WithMaxConcurrent(n int) Option {
	return func(r *Runner) { r.maxConcurrent = n }
}

// WithSequential forces pure sequential execution in input order, skipping
// graph and level logic entirely. This is a correctness and debuggability
// fallback, not a performance path.
func WithSequential(sequential bool) Option {
	return func(r *Runner) { r.sequential = sequential }
}

// WithCritical designates checks whose failure escalates to a run-level
// CriticalFailureError.
func WithCritical(names []string) Option {
	return func(r *Runner) {
		r.critical = make(map[string]bool, len(names))
		for _, n := range names {
			r.critical[n] = true
		}
	}
}

// WithObserver attaches a progress observer.
func WithObserver(obs Observer) Option {
	return func(r *Runner) { r.obs = obs }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithIDGenerator overrides run ID generation (tests use fixed IDs).
func WithIDGenerator(ids IDGenerator) Option {
	return func(r *Runner) { r.ids = ids }
}

// New creates a Runner over the given dependency table.
func New(table audit.DependencyTable, opts ...Option) *Runner {
	r := &Runner{
		table:         table.Clone(),
		maxConcurrent: DefaultMaxConcurrent,
		obs:           NopObserver{},
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		ids:           UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Summary is the aggregate outcome of one run.
type Summary struct {
	RunID   string         `json:"run_id"`
	Levels  [][]string     `json:"levels"`
	Results []audit.Result `json:"results"`

	// TotalDuration is wall-clock time for the whole run.
	TotalDuration time.Duration `json:"total_duration"`
	// Durations holds per-check elapsed time.
	Durations map[string]time.Duration `json:"durations"`
	// SequentialEstimate is the sum of all check durations: what the run
	// would have cost one at a time.
	SequentialEstimate time.Duration `json:"sequential_estimate"`
	// Speedup = SequentialEstimate / TotalDuration. Zero when
	// TotalDuration is zero.
	Speedup float64 `json:"speedup"`
}

// Issues returns every issue found across all results, in result order.
func (s *Summary) Issues() []audit.Issue {
	var issues []audit.Issue
	for _, r := range s.Results {
		issues = append(issues, r.Issues...)
	}
	return issues
}

// FailedChecks returns the names of checks whose execution failed, sorted.
func (s *Summary) FailedChecks() []string {
	var failed []string
	for _, r := range s.Results {
		if !r.OK {
			failed = append(failed, r.Check)
		}
	}
	sort.Strings(failed)
	return failed
}

// Run executes the requested checks.
//
// Order of operations: build graph, schedule levels, execute each level
// under the concurrency bound, aggregate metrics. Structural failures
// (self-dependency, cycles) return a nil Summary. Per-check failures never
// fail the run; failed CRITICAL checks make Run return the completed
// Summary together with a *CriticalFailureError.
func (r *Runner) Run(ctx context.Context, checks []audit.Check) (*Summary, error) {
	runID := r.ids.Generate()
	byName := make(map[string]audit.Check, len(checks))
	for _, c := range checks {
		byName[c.Name] = c
	}

	levels, err := r.planLevels(checks)
	if err != nil {
		return nil, err
	}

	r.obs.RunStarted(runID, levels)
	r.logger.Info("run started", "run_id", runID, "checks", len(checks), "levels", len(levels))

	summary := &Summary{
		RunID:     runID,
		Levels:    levels,
		Durations: make(map[string]time.Duration, len(checks)),
	}

	began := time.Now()
	for i, level := range levels {
		r.obs.LevelStarted(runID, i, level)

		levelChecks := make([]audit.Check, len(level))
		for j, name := range level {
			levelChecks[j] = byName[name]
		}

		results := executor.RunLevel(ctx, levelChecks, r.maxConcurrent)
		for _, res := range results {
			r.obs.CheckFinished(runID, res)
			summary.Results = append(summary.Results, res)
			summary.Durations[res.Check] = res.Duration
			summary.SequentialEstimate += res.Duration
		}
	}
	summary.TotalDuration = time.Since(began)
	if summary.TotalDuration > 0 {
		summary.Speedup = float64(summary.SequentialEstimate) / float64(summary.TotalDuration)
	}

	r.obs.RunFinished(runID, summary)

	if failed := r.failedCritical(summary); len(failed) > 0 {
		r.logger.Error("critical checks failed", "run_id", runID, "checks", failed)
		return summary, &CriticalFailureError{RunID: runID, Failed: failed}
	}
	return summary, nil
}

// planLevels decides the execution order. The sequential fallback applies
// when configured explicitly or when only one check is requested.
func (r *Runner) planLevels(checks []audit.Check) ([][]string, error) {
	names := audit.Names(checks)

	if r.sequential || len(checks) == 1 {
		levels := make([][]string, len(names))
		for i, name := range names {
			levels[i] = []string{name}
		}
		return levels, nil
	}

	g, err := graph.Build(names, r.table)
	if err != nil {
		return nil, fmt.Errorf("build dependency graph: %w", err)
	}
	levels, err := schedule.Levels(g)
	if err != nil {
		return nil, err
	}
	return levels, nil
}

// failedCritical returns failed checks that are designated critical, sorted.
func (r *Runner) failedCritical(summary *Summary) []string {
	var failed []string
	for _, res := range summary.Results {
		if !res.OK && r.critical[res.Check] {
			failed = append(failed, res.Check)
		}
	}
	sort.Strings(failed)
	return failed
}
