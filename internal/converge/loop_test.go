package converge

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelworks/kestrel/internal/audit"
	"github.com/kestrelworks/kestrel/internal/pool"
	"github.com/kestrelworks/kestrel/internal/run"
)

// scriptedSource returns one check per methodology whose issues come from
// a per-iteration script. The iteration advances on every Checks call,
// since the loop resolves checks exactly once per pass.
type scriptedSource struct {
	mu        sync.Mutex
	iteration int
	issues    map[int][]audit.Issue // iteration (1-based) -> issues found
}

func (s *scriptedSource) Checks(m audit.Methodology) ([]audit.Check, error) {
	s.mu.Lock()
	s.iteration++
	found := s.issues[s.iteration]
	s.mu.Unlock()

	return []audit.Check{{
		Name: m.Name + "-check",
		Run: func(ctx context.Context) (*audit.Report, error) {
			return &audit.Report{Issues: found}, nil
		},
	}}, nil
}

// captureFixer records the strategy of every call and resolves nothing
// unless fixes is set.
type captureFixer struct {
	mu         sync.Mutex
	strategies []Strategy
	fixAll     bool
}

func (f *captureFixer) Fix(_ context.Context, issues []audit.Issue, strategy Strategy) (*FixOutcome, error) {
	f.mu.Lock()
	f.strategies = append(f.strategies, strategy)
	f.mu.Unlock()
	if f.fixAll {
		return &FixOutcome{Fixed: len(issues)}, nil
	}
	return &FixOutcome{StillFailing: issues}, nil
}

// sampleSizes captures the available-set size handed to the sampler on
// every draw, plus a deterministic pick-first policy.
func sampleSizes(sizes *[]int) pool.Option {
	return pool.WithIntn(func(n int) int {
		*sizes = append(*sizes, n)
		return 0
	})
}

func mustPool(t *testing.T, opts []pool.Option, names ...string) *pool.Pool {
	t.Helper()
	ms := make([]audit.Methodology, len(names))
	for i, n := range names {
		ms[i] = audit.Methodology{Name: n}
	}
	p, err := pool.New(ms, opts...)
	require.NoError(t, err)
	return p
}

func TestLoop_ConvergesAfterExactlyRequiredCleanPasses(t *testing.T) {
	// Pool size 3, required 3, every pass clean: exactly 3 passes, each
	// methodology used exactly once.
	p := mustPool(t, []pool.Option{pool.WithRand(rand.NewSource(7))}, "m1", "m2", "m3")
	source := &scriptedSource{}
	loop, err := New(Config{RequiredCleanPasses: 3}, p, run.New(nil), source)
	require.NoError(t, err)

	outcome, err := loop.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, outcome.Converged)
	require.Len(t, outcome.Passes, 3)

	used := map[string]int{}
	for _, pass := range outcome.Passes {
		assert.True(t, pass.Clean)
		used[pass.Methodology]++
	}
	assert.Len(t, used, 3, "each methodology sampled exactly once")
	for name, count := range used {
		assert.Equal(t, 1, count, "methodology %s reused within streak", name)
	}
}

func TestLoop_IssueResetsStreakAndPool(t *testing.T) {
	// Clean pass 1, issue on pass 2: streak back to 0 and the pool fully
	// available before pass 3. The sampler sees the available-set size on
	// every draw: 3, then 2 (one retired by the clean pass), then 3 again
	// after the issue-triggered reset.
	var sizes []int
	p := mustPool(t, []pool.Option{sampleSizes(&sizes)}, "a", "b", "c")
	source := &scriptedSource{issues: map[int][]audit.Issue{
		2: {{Description: "stale doc", Location: "README.md"}},
	}}
	fixer := &captureFixer{fixAll: true}

	loop, err := New(Config{RequiredCleanPasses: 3}, p, run.New(nil), source, WithFixer(fixer))
	require.NoError(t, err)

	outcome, err := loop.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, outcome.Converged)
	require.Len(t, outcome.Passes, 5) // clean, issue, then 3 clean
	assert.Equal(t, []int{3, 2, 3, 3, 2}, sizes[:5])
	assert.False(t, outcome.Passes[1].Clean)
	assert.Equal(t, 1, outcome.TotalIssuesFound)
	assert.Equal(t, 1, outcome.TotalIssuesFixed)
}

func TestLoop_NonConvergenceKeepsFullHistory(t *testing.T) {
	p := mustPool(t, []pool.Option{pool.WithRand(rand.NewSource(1))}, "only")
	issue := audit.Issue{Description: "flaky test", Location: "ci.go:1"}
	issues := map[int][]audit.Issue{}
	for i := 1; i <= 4; i++ {
		issues[i] = []audit.Issue{issue}
	}
	source := &scriptedSource{issues: issues}

	loop, err := New(Config{MaxIterations: 4, MaxFixAttempts: 2, MaxPivots: 10},
		p, run.New(nil), source, WithFixer(&captureFixer{fixAll: true}))
	require.NoError(t, err)

	outcome, err := loop.Run(context.Background())
	require.NoError(t, err, "non-convergence is a terminal state, not an error")

	assert.False(t, outcome.Converged)
	assert.Len(t, outcome.Passes, 4, "no silent truncation of pass history")
	assert.Equal(t, 4, outcome.Iterations)
	assert.Equal(t, 0, outcome.FinalCleanStreak)
}

func TestLoop_StuckFixPivotsThenEscalates(t *testing.T) {
	p := mustPool(t, []pool.Option{pool.WithRand(rand.NewSource(1))}, "only")
	stubborn := audit.Issue{Description: "cyclic import", Location: "core"}
	issues := map[int][]audit.Issue{}
	for i := 1; i <= 10; i++ {
		issues[i] = []audit.Issue{stubborn}
	}
	source := &scriptedSource{issues: issues}
	fixer := &captureFixer{} // never fixes anything

	loop, err := New(Config{MaxIterations: 10, MaxFixAttempts: 2, MaxPivots: 1},
		p, run.New(nil), source, WithFixer(fixer))
	require.NoError(t, err)

	outcome, err := loop.Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsStuckIssue(err))

	var se *StuckIssueError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, []string{stubborn.Key()}, se.Keys)
	assert.Equal(t, 1, se.Pivots)

	// Two attempts at the default strategy, a pivot, two attempts at the
	// pivoted strategy, then escalation.
	assert.Equal(t, []Strategy{0, 0, 1, 1}, fixer.strategies)
	assert.NotNil(t, outcome, "partial outcome accompanies the escalation")
	assert.Len(t, outcome.Passes, 4)
}

func TestLoop_FixerErrorEscalates(t *testing.T) {
	p := mustPool(t, []pool.Option{pool.WithRand(rand.NewSource(1))}, "only")
	source := &scriptedSource{issues: map[int][]audit.Issue{
		1: {{Description: "d", Location: "l"}},
	}}
	failing := fixerFunc(func(ctx context.Context, issues []audit.Issue, s Strategy) (*FixOutcome, error) {
		return nil, errors.New("fix pipeline offline")
	})

	loop, err := New(Config{}, p, run.New(nil), source, WithFixer(failing))
	require.NoError(t, err)

	_, err = loop.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fix pipeline offline")
}

type fixerFunc func(ctx context.Context, issues []audit.Issue, s Strategy) (*FixOutcome, error)

func (f fixerFunc) Fix(ctx context.Context, issues []audit.Issue, s Strategy) (*FixOutcome, error) {
	return f(ctx, issues, s)
}

func TestLoop_CriticalFailurePropagates(t *testing.T) {
	p := mustPool(t, []pool.Option{pool.WithRand(rand.NewSource(1))}, "m")
	source := CheckSourceFunc(func(m audit.Methodology) ([]audit.Check, error) {
		return []audit.Check{{
			Name: "security",
			Run: func(ctx context.Context) (*audit.Report, error) {
				return nil, errors.New("scanner crashed")
			},
		}}, nil
	})
	runner := run.New(nil, run.WithCritical([]string{"security"}))

	loop, err := New(Config{}, p, runner, source)
	require.NoError(t, err)

	_, err = loop.Run(context.Background())
	require.Error(t, err)
	assert.True(t, run.IsCriticalFailure(err))
}

func TestLoop_ClearContextCalledPerPass(t *testing.T) {
	p := mustPool(t, []pool.Option{pool.WithRand(rand.NewSource(1))}, "a", "b", "c")
	source := &scriptedSource{}
	clears := 0
	clearer := clearerFunc(func(ctx context.Context) error {
		clears++
		return nil
	})

	loop, err := New(Config{RequiredCleanPasses: 3, ClearContext: true},
		p, run.New(nil), source, WithContextClearer(clearer))
	require.NoError(t, err)

	outcome, err := loop.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, outcome.Converged)
	assert.Equal(t, 3, clears, "context cleared before every pass")
}

type clearerFunc func(ctx context.Context) error

func (f clearerFunc) ClearContext(ctx context.Context) error { return f(ctx) }

func TestLoop_ResumeRestoresUsedSet(t *testing.T) {
	// Resumed state: one clean pass already recorded, methodology "a"
	// used. The next sample must draw from {b, c} only.
	var sizes []int
	p := mustPool(t, []pool.Option{sampleSizes(&sizes)}, "a", "b", "c")
	source := &scriptedSource{}
	resumed := &State{
		LoopID:      "loop-1",
		Iteration:   1,
		CleanStreak: 1,
		Used:        []string{"a"},
		Passes:      []Pass{{Iteration: 1, Methodology: "a", Clean: true}},
	}

	loop, err := New(Config{RequiredCleanPasses: 3}, p, run.New(nil), source,
		WithState(resumed))
	require.NoError(t, err)

	outcome, err := loop.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, outcome.Converged)
	assert.Len(t, outcome.Passes, 3, "one resumed pass plus two new ones")
	assert.Equal(t, []int{2, 1}, sizes, "resumed used set excluded from sampling")
	assert.NotEqual(t, "a", outcome.Passes[1].Methodology)
}

func TestLoop_ResumeUnknownMethodologyRejected(t *testing.T) {
	p := mustPool(t, nil, "a")
	_, err := New(Config{}, p, run.New(nil), &scriptedSource{},
		WithState(&State{Used: []string{"ghost"}}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestLoop_CheckpointAfterEveryPass(t *testing.T) {
	p := mustPool(t, []pool.Option{pool.WithRand(rand.NewSource(1))}, "a", "b", "c")
	source := &scriptedSource{}
	var saved []int

	cp := checkpointerFunc(func(ctx context.Context, state *State) error {
		saved = append(saved, state.Iteration)
		return nil
	})

	loop, err := New(Config{RequiredCleanPasses: 2}, p, run.New(nil), source,
		WithCheckpointer(cp))
	require.NoError(t, err)

	_, err = loop.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, saved)
}

type checkpointerFunc func(ctx context.Context, state *State) error

func (f checkpointerFunc) Save(ctx context.Context, state *State) error { return f(ctx, state) }

func TestLoop_RecorderReceivesReport(t *testing.T) {
	p := mustPool(t, []pool.Option{pool.WithRand(rand.NewSource(1))}, "a", "b", "c")
	source := &scriptedSource{issues: map[int][]audit.Issue{
		1: {{Description: "gap", Location: "docs"}},
	}}
	var report *LoopReport
	rec := recorderFunc(func(r LoopReport) { report = &r })

	loop, err := New(Config{RequiredCleanPasses: 2}, p, run.New(nil), source,
		WithFixer(&captureFixer{fixAll: true}), WithRecorder(rec))
	require.NoError(t, err)

	outcome, err := loop.Run(context.Background())
	require.NoError(t, err)

	require.NotNil(t, report)
	assert.Equal(t, outcome.Converged, report.Converged)
	assert.Equal(t, 1, report.TotalIssuesFound)
	assert.Equal(t, 1, report.TotalIssuesFixed)
}

type recorderFunc func(r LoopReport)

func (f recorderFunc) Record(r LoopReport) { f(r) }

func TestLoop_RecorderPanicIgnored(t *testing.T) {
	p := mustPool(t, []pool.Option{pool.WithRand(rand.NewSource(1))}, "a", "b", "c")
	loop, err := New(Config{RequiredCleanPasses: 1}, p, run.New(nil), &scriptedSource{},
		WithRecorder(recorderFunc(func(LoopReport) { panic("recorder bug") })))
	require.NoError(t, err)

	outcome, err := loop.Run(context.Background())
	require.NoError(t, err, "fire-and-forget recorder must not affect the loop")
	assert.True(t, outcome.Converged)
}

func TestLoop_NoMethodologyRepeatsWithinAnyCleanStreak(t *testing.T) {
	// Longer scripted run with issues sprinkled in: the no-repeat
	// invariant must hold for EVERY maximal contiguous clean
	// sub-sequence, not just the final streak.
	p := mustPool(t, []pool.Option{pool.WithRand(rand.NewSource(99))}, "m1", "m2", "m3", "m4")
	source := &scriptedSource{issues: map[int][]audit.Issue{
		3: {{Description: "a", Location: "x"}},
		5: {{Description: "b", Location: "y"}},
	}}

	loop, err := New(Config{RequiredCleanPasses: 3, MaxIterations: 20},
		p, run.New(nil), source, WithFixer(&captureFixer{fixAll: true}))
	require.NoError(t, err)

	outcome, err := loop.Run(context.Background())
	require.NoError(t, err)
	require.True(t, outcome.Converged)

	seen := map[string]bool{}
	for _, pass := range outcome.Passes {
		if !pass.Clean {
			seen = map[string]bool{}
			continue
		}
		assert.False(t, seen[pass.Methodology],
			"methodology %s repeated within a clean streak", pass.Methodology)
		seen[pass.Methodology] = true
	}
}
