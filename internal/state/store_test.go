package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelworks/kestrel/internal/audit"
	"github.com/kestrelworks/kestrel/internal/converge"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleState() *converge.State {
	return &converge.State{
		LoopID:      "loop-abc",
		Subject:     "payments service",
		Iteration:   4,
		CleanStreak: 1,
		Pivots:      1,
		Used:        []string{"adversarial", "checklist"},
		Passes: []converge.Pass{
			{Iteration: 1, Methodology: "adversarial", RunID: "run-1", Clean: true, Duration: 120 * time.Millisecond},
			{Iteration: 2, Methodology: "checklist", RunID: "run-2", IssuesFound: 2, IssuesFixed: 1},
			{Iteration: 3, Methodology: "adversarial", RunID: "run-3", IssuesFound: 1, IssuesFixed: 1},
			{Iteration: 4, Methodology: "checklist", RunID: "run-4", Clean: true},
		},
		OpenIssues: []audit.Issue{
			{Description: "unclosed handle", Location: "srv.go:8", Severity: "warning"},
		},
		Attempts: map[string]int{
			audit.Issue{Description: "unclosed handle", Location: "srv.go:8"}.Key(): 2,
		},
	}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	original := sampleState()

	require.NoError(t, s.Save(ctx, original))

	loaded, err := s.Load(ctx, "loop-abc")
	require.NoError(t, err)

	// Resume must restore state EXACTLY, including the used set and the
	// stuck-fix attempt counters.
	assert.Equal(t, original.LoopID, loaded.LoopID)
	assert.Equal(t, original.Subject, loaded.Subject)
	assert.Equal(t, original.Iteration, loaded.Iteration)
	assert.Equal(t, original.CleanStreak, loaded.CleanStreak)
	assert.Equal(t, original.Pivots, loaded.Pivots)
	assert.Equal(t, original.Used, loaded.Used)
	assert.Equal(t, original.Passes, loaded.Passes)
	assert.Equal(t, original.OpenIssues, loaded.OpenIssues)
	assert.Equal(t, original.Attempts, loaded.Attempts)
}

func TestStore_SaveIsUpsert(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	st := sampleState()

	require.NoError(t, s.Save(ctx, st))

	st.Iteration = 5
	st.CleanStreak = 2
	st.Used = append(st.Used, "first-principles")
	st.Passes = append(st.Passes, converge.Pass{Iteration: 5, Methodology: "first-principles", Clean: true})
	st.OpenIssues = nil
	require.NoError(t, s.Save(ctx, st))

	loaded, err := s.Load(ctx, st.LoopID)
	require.NoError(t, err)
	assert.Equal(t, 5, loaded.Iteration)
	assert.Len(t, loaded.Passes, 5)
	assert.Equal(t, []string{"adversarial", "checklist", "first-principles"}, loaded.Used)
	assert.Empty(t, loaded.OpenIssues, "stale child rows replaced, not merged")
}

func TestStore_LoadMissing(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.Load(context.Background(), "no-such-loop")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_EmptyLoopIDRejected(t *testing.T) {
	s := setupTestStore(t)
	err := s.Save(context.Background(), &converge.State{})
	assert.ErrorContains(t, err, "empty loop ID")
}

func TestStore_Loops(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, &converge.State{LoopID: "l1", Subject: "svc-a", Iteration: 1}))
	require.NoError(t, s.Save(ctx, &converge.State{LoopID: "l2", Subject: "svc-b", Iteration: 3}))

	infos, err := s.Loops(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)

	byID := map[string]LoopInfo{}
	for _, info := range infos {
		byID[info.LoopID] = info
	}
	assert.Equal(t, "svc-a", byID["l1"].Subject)
	assert.Equal(t, 3, byID["l2"].Iteration)
}

func TestStore_Delete(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	st := sampleState()

	require.NoError(t, s.Save(ctx, st))
	require.NoError(t, s.Delete(ctx, st.LoopID))

	_, err := s.Load(ctx, st.LoopID)
	assert.ErrorIs(t, err, ErrNotFound)

	// Child rows go with the loop (ON DELETE CASCADE).
	passes, err := s.Passes(ctx, st.LoopID)
	require.NoError(t, err)
	assert.Empty(t, passes)
}

func TestStore_OpenIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/reopen.db"

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Save(context.Background(), &converge.State{LoopID: "l"}))
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	loaded, err := s2.Load(context.Background(), "l")
	require.NoError(t, err)
	assert.Equal(t, "l", loaded.LoopID)
}

func TestStore_ImplementsCheckpointer(t *testing.T) {
	var _ converge.Checkpointer = setupTestStore(t)
}
