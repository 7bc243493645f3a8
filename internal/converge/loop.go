package converge

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kestrelworks/kestrel/internal/pool"
	"github.com/kestrelworks/kestrel/internal/run"
)

// Defaults for Config fields left at zero.
const (
	DefaultRequiredCleanPasses = 3
	DefaultMaxIterations       = 10
	DefaultMaxFixAttempts      = 3
	DefaultMaxPivots           = 3
)

// Config parametrizes a convergence loop.
type Config struct {
	// Subject describes what is being audited. Informational.
	Subject string
	// RequiredCleanPasses is how many consecutive clean passes declare
	// convergence. Default 3.
	RequiredCleanPasses int
	// MaxIterations bounds the total number of passes. Default 10.
	MaxIterations int
	// MaxFixAttempts is how many consecutive failed fix attempts the same
	// issue may accumulate before the loop pivots strategy. Default 3.
	MaxFixAttempts int
	// MaxPivots bounds strategy switches; exhausting it escalates a
	// StuckIssueError. Explicit and finite, never silently infinite.
	// Default 3.
	MaxPivots int
	// ClearContext asks the injected ContextClearer to discard cross-pass
	// memory before every pass (phase-review mode).
	ClearContext bool
}

func (c Config) withDefaults() Config {
	if c.RequiredCleanPasses <= 0 {
		c.RequiredCleanPasses = DefaultRequiredCleanPasses
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.MaxFixAttempts <= 0 {
		c.MaxFixAttempts = DefaultMaxFixAttempts
	}
	if c.MaxPivots <= 0 {
		c.MaxPivots = DefaultMaxPivots
	}
	return c
}

// Checkpointer persists loop state after every pass so an interrupted loop
// can resume exactly, used-methodology set included.
type Checkpointer interface {
	Save(ctx context.Context, state *State) error
}

// Loop owns the methodology pool and the convergence state exclusively.
// It is sequential across iterations; only the work WITHIN one pass (the
// orchestrator run) is parallel.
type Loop struct {
	cfg      Config
	pool     *pool.Pool
	runner   *run.Runner
	source   CheckSource
	fixer    Fixer
	clearer  ContextClearer
	recorder Recorder
	obs      Observer
	logger   *slog.Logger
	saver    Checkpointer

	state   *State
	tracker *stuckTracker
}

// LoopOption configures optional collaborators.
type LoopOption func(*Loop)

// WithFixer injects the fix-plan generator/applier. Defaults to NopFixer.
func WithFixer(f Fixer) LoopOption {
	return func(l *Loop) { l.fixer = f }
}

// WithContextClearer injects the between-pass context-clearing hook.
func WithContextClearer(c ContextClearer) LoopOption {
	return func(l *Loop) { l.clearer = c }
}

// WithRecorder injects the pattern/antipattern recorder.
func WithRecorder(r Recorder) LoopOption {
	return func(l *Loop) { l.recorder = r }
}

// WithObserver attaches a progress observer.
func WithObserver(obs Observer) LoopOption {
	return func(l *Loop) { l.obs = obs }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) LoopOption {
	return func(l *Loop) { l.logger = logger }
}

// WithCheckpointer persists state after every pass.
func WithCheckpointer(cp Checkpointer) LoopOption {
	return func(l *Loop) { l.saver = cp }
}

// WithState resumes from previously persisted state. The pool's used set
// is restored from it during New.
func WithState(state *State) LoopOption {
	return func(l *Loop) { l.state = state }
}

// New assembles a convergence loop.
//
// Returns an error if a resumed state references methodologies unknown to
// the pool.
func New(cfg Config, p *pool.Pool, runner *run.Runner, source CheckSource, opts ...LoopOption) (*Loop, error) {
	l := &Loop{
		cfg:    cfg.withDefaults(),
		pool:   p,
		runner: runner,
		source: source,
		fixer:  NopFixer{},
		obs:    NopObserver{},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(l)
	}

	if l.state == nil {
		l.state = &State{
			LoopID:  uuid.Must(uuid.NewV7()).String(),
			Subject: l.cfg.Subject,
		}
	} else if err := p.RestoreUsed(l.state.Used); err != nil {
		return nil, fmt.Errorf("resume state: %w", err)
	}

	l.tracker = newStuckTracker(l.cfg.MaxFixAttempts, l.state.Attempts)
	return l, nil
}

// State returns the loop's current state. Read-only to callers; the loop
// keeps exclusive write ownership.
func (l *Loop) State() *State {
	return l.state
}

// Run drives passes until convergence, the iteration ceiling, or an
// escalated failure.
//
// Per iteration: sample a methodology, optionally clear context, run the
// orchestrator over the methodology's checks, then either fix-and-reset
// (issues found: clean streak back to zero, pool fully available again) or
// advance the streak and retire the methodology for the rest of the
// streak.
//
// Termination:
//   - converged: Outcome{Converged: true} once CleanStreak reaches
//     RequiredCleanPasses
//   - ceiling:   Outcome{Converged: false}, nil error, complete history
//   - escalated: non-nil error (structural run failure, critical-check
//     failure, fixer failure, exhausted pivots) alongside the partial
//     outcome accumulated so far
func (l *Loop) Run(ctx context.Context) (outcome *Outcome, err error) {
	defer func() {
		l.notifyRecorder(outcome)
	}()

	for l.state.CleanStreak < l.cfg.RequiredCleanPasses {
		if l.state.Iteration >= l.cfg.MaxIterations {
			l.logger.Warn("iteration ceiling reached without convergence",
				"loop_id", l.state.LoopID, "iterations", l.state.Iteration)
			out := l.buildOutcome(false)
			l.obs.Finished(out)
			return out, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return l.buildOutcome(false), ctxErr
		}

		if err := l.runPass(ctx); err != nil {
			return l.buildOutcome(false), err
		}
	}

	out := l.buildOutcome(true)
	l.logger.Info("converged", "loop_id", l.state.LoopID,
		"iterations", l.state.Iteration, "clean_streak", l.state.CleanStreak)
	l.obs.Finished(out)
	return out, nil
}

// runPass executes one iteration and folds its effects into the state.
func (l *Loop) runPass(ctx context.Context) error {
	l.state.Iteration++
	iteration := l.state.Iteration

	m := l.pool.Sample()
	l.obs.PassStarted(iteration, m.Name)
	l.logger.Info("pass started", "loop_id", l.state.LoopID,
		"iteration", iteration, "methodology", m.Name)

	if l.cfg.ClearContext && l.clearer != nil {
		if err := l.clearer.ClearContext(ctx); err != nil {
			return fmt.Errorf("clear context before pass %d: %w", iteration, err)
		}
	}

	checks, err := l.source.Checks(m)
	if err != nil {
		return fmt.Errorf("resolve checks for methodology %q: %w", m.Name, err)
	}

	summary, err := l.runner.Run(ctx, checks)
	if err != nil {
		// Structural failures and critical-check escalations abort the
		// loop; the pass is not recorded because it never completed.
		return fmt.Errorf("pass %d (%s): %w", iteration, m.Name, err)
	}

	pass := Pass{
		Iteration:   iteration,
		Methodology: m.Name,
		RunID:       summary.RunID,
		Duration:    summary.TotalDuration,
	}

	issues := summary.Issues()
	if len(issues) > 0 {
		pass.IssuesFound = len(issues)

		strategy := Strategy(l.state.Pivots)
		fix, err := l.fixer.Fix(ctx, issues, strategy)
		if err != nil {
			l.finishPass(ctx, pass)
			return fmt.Errorf("fix after pass %d: %w", iteration, err)
		}
		pass.IssuesFixed = fix.Fixed
		l.state.OpenIssues = fix.StillFailing

		if exhausted := l.tracker.observe(issues, fix.StillFailing); len(exhausted) > 0 {
			if l.state.Pivots >= l.cfg.MaxPivots {
				l.finishPass(ctx, pass)
				return &StuckIssueError{Keys: exhausted, Pivots: l.state.Pivots}
			}
			l.state.Pivots++
			l.obs.Pivoted(iteration, Strategy(l.state.Pivots), exhausted)
			l.logger.Warn("pivoting fix strategy", "loop_id", l.state.LoopID,
				"iteration", iteration, "pivots", l.state.Pivots, "stuck", exhausted)
		}

		// Any issue breaks the streak and reopens the whole pool.
		l.state.CleanStreak = 0
		l.pool.Reset()
		l.obs.PoolReset(iteration)
	} else {
		pass.Clean = true
		l.state.CleanStreak++
		l.pool.MarkUsed(m.Name)
		l.state.OpenIssues = nil
	}

	l.finishPass(ctx, pass)
	return nil
}

// finishPass appends the pass, refreshes the persistable snapshot fields,
// and checkpoints. Checkpoint failures are logged, not fatal: losing a
// resume point must not kill a loop that is otherwise making progress.
func (l *Loop) finishPass(ctx context.Context, pass Pass) {
	l.state.Passes = append(l.state.Passes, pass)
	l.state.Used = l.pool.Used()
	l.state.Attempts = l.tracker.snapshot()
	l.obs.PassFinished(pass)

	if l.saver == nil {
		return
	}
	if err := l.saver.Save(ctx, l.state); err != nil {
		l.logger.Error("checkpoint save failed", "loop_id", l.state.LoopID,
			"iteration", pass.Iteration, "error", err)
	}
}

// buildOutcome aggregates the pass history into a terminal Outcome.
func (l *Loop) buildOutcome(converged bool) *Outcome {
	out := &Outcome{
		Converged:        converged,
		Iterations:       l.state.Iteration,
		Passes:           l.state.Passes,
		FinalCleanStreak: l.state.CleanStreak,
	}
	for _, p := range l.state.Passes {
		out.TotalIssuesFound += p.IssuesFound
		out.TotalIssuesFixed += p.IssuesFixed
	}
	return out
}

// notifyRecorder delivers the loop report. Fire-and-forget: a panicking
// recorder must not corrupt the outcome already decided.
func (l *Loop) notifyRecorder(outcome *Outcome) {
	if l.recorder == nil || outcome == nil {
		return
	}
	report := LoopReport{
		LoopID:            l.state.LoopID,
		Converged:         outcome.Converged,
		TotalIssuesFound:  outcome.TotalIssuesFound,
		TotalIssuesFixed:  outcome.TotalIssuesFixed,
		OpenIssues:        l.state.OpenIssues,
		RepeatedlyFailing: l.tracker.repeatedlyFailing(),
	}
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("recorder panicked", "loop_id", l.state.LoopID, "panic", r)
		}
	}()
	l.recorder.Record(report)
}
