package run

import (
	"log/slog"

	"github.com/kestrelworks/kestrel/internal/audit"
)

// Observer receives structured progress events from the orchestrator.
//
// This replaces ad hoc console logging inside the scheduler: rendering
// (CLI text, JSON, a UI) is a caller concern, the core only emits events.
// Callbacks are invoked synchronously from the orchestrator goroutine, so
// implementations must not block for long.
type Observer interface {
	RunStarted(runID string, levels [][]string)
	LevelStarted(runID string, index int, checks []string)
	CheckFinished(runID string, result audit.Result)
	RunFinished(runID string, summary *Summary)
}

// NopObserver discards all events.
type NopObserver struct{}

func (NopObserver) RunStarted(string, [][]string)        {}
func (NopObserver) LevelStarted(string, int, []string)   {}
func (NopObserver) CheckFinished(string, audit.Result)   {}
func (NopObserver) RunFinished(string, *Summary)         {}

// SlogObserver renders events as structured log records.
type SlogObserver struct {
	Logger *slog.Logger
}

func (o SlogObserver) RunStarted(runID string, levels [][]string) {
	o.Logger.Info("run started", "run_id", runID, "levels", len(levels))
}

func (o SlogObserver) LevelStarted(runID string, index int, checks []string) {
	o.Logger.Debug("level started", "run_id", runID, "level", index, "checks", checks)
}

func (o SlogObserver) CheckFinished(runID string, result audit.Result) {
	if result.OK {
		o.Logger.Debug("check finished", "run_id", runID, "check", result.Check,
			"duration", result.Duration, "issues", len(result.Issues))
		return
	}
	o.Logger.Warn("check failed", "run_id", runID, "check", result.Check,
		"duration", result.Duration, "error", result.Err)
}

func (o SlogObserver) RunFinished(runID string, summary *Summary) {
	o.Logger.Info("run finished", "run_id", runID,
		"total_duration", summary.TotalDuration,
		"speedup", summary.Speedup,
		"issues", len(summary.Issues()))
}
