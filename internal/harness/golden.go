package harness

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// TraceSnapshot is the golden-file representation of a scenario run.
//
// It is a fixed struct rather than a map so encoding/json emits fields in
// a stable order; combined with the harness's pinned nondeterminism the
// serialized trace is byte-identical across runs.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Converged    bool         `json:"converged"`
	Iterations   int          `json:"iterations"`
	Error        string       `json:"error,omitempty"`
	Trace        []TraceEvent `json:"trace"`
}

// RunWithGolden executes a scenario, checks its assertions, and compares
// the trace against testdata/golden/{scenario.Name}.golden.
//
// Regenerate golden files with:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	if err := Check(scenario, result); err != nil {
		return err
	}

	snapshot := TraceSnapshot{
		ScenarioName: scenario.Name,
		Trace:        result.Trace,
	}
	if result.Outcome != nil {
		snapshot.Converged = result.Outcome.Converged
		snapshot.Iterations = result.Outcome.Iterations
	}
	if result.Err != nil {
		snapshot.Error = result.Err.Error()
	}

	data, err := json.MarshalIndent(&snapshot, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
	return nil
}
