package converge

import "log/slog"

// Observer receives structured convergence events. Callbacks run
// synchronously on the loop goroutine between passes.
type Observer interface {
	PassStarted(iteration int, methodology string)
	PassFinished(pass Pass)
	PoolReset(iteration int)
	Pivoted(iteration int, strategy Strategy, keys []string)
	Finished(outcome *Outcome)
}

// NopObserver discards all events.
type NopObserver struct{}

func (NopObserver) PassStarted(int, string)             {}
func (NopObserver) PassFinished(Pass)                   {}
func (NopObserver) PoolReset(int)                       {}
func (NopObserver) Pivoted(int, Strategy, []string)     {}
func (NopObserver) Finished(*Outcome)                   {}

// SlogObserver renders convergence events as structured log records.
type SlogObserver struct {
	Logger *slog.Logger
}

func (o SlogObserver) PassStarted(iteration int, methodology string) {
	o.Logger.Info("pass started", "iteration", iteration, "methodology", methodology)
}

func (o SlogObserver) PassFinished(pass Pass) {
	o.Logger.Info("pass finished", "iteration", pass.Iteration,
		"methodology", pass.Methodology, "clean", pass.Clean,
		"issues_found", pass.IssuesFound, "issues_fixed", pass.IssuesFixed)
}

func (o SlogObserver) PoolReset(iteration int) {
	o.Logger.Debug("methodology pool reset", "iteration", iteration)
}

func (o SlogObserver) Pivoted(iteration int, strategy Strategy, keys []string) {
	o.Logger.Warn("fix strategy pivot", "iteration", iteration,
		"strategy", strategy.String(), "stuck_issues", len(keys))
}

func (o SlogObserver) Finished(outcome *Outcome) {
	o.Logger.Info("loop finished", "converged", outcome.Converged,
		"iterations", outcome.Iterations,
		"issues_found", outcome.TotalIssuesFound,
		"issues_fixed", outcome.TotalIssuesFixed)
}
