package cli

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConverge_CleanManifestConverges(t *testing.T) {
	out, err := execute(t, "converge", "testdata/clean",
		"--subject", "cli test", "--seed", "7", "--clean-passes", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "converged after 2 iteration(s)")
}

func TestConverge_DirtyManifestHitsCeiling(t *testing.T) {
	// Without a fix command every pass rediscovers the issue; the default
	// NopFixer reports it still failing until fix attempts pivot out.
	out, err := execute(t, "converge", "testdata/dirty",
		"--seed", "7", "--max-iterations", "2", "--max-fix-attempts", "5")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "did NOT converge")
}

func TestConverge_StuckEscalation(t *testing.T) {
	_, err := execute(t, "converge", "testdata/dirty",
		"--seed", "7", "--max-fix-attempts", "1", "--max-pivots", "1")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "issues unresolved")
}

func TestConverge_CheckpointAndHistory(t *testing.T) {
	db := filepath.Join(t.TempDir(), "state.db")

	out, err := execute(t, "converge", "testdata/clean",
		"--db", db, "--subject", "persisted loop", "--seed", "7", "--clean-passes", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "converged")

	out, err = execute(t, "history", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "persisted loop")
	assert.Contains(t, out, "streak=2")
}

func TestConverge_ResumeRequiresDB(t *testing.T) {
	_, err := execute(t, "converge", "testdata/clean", "--resume", "some-id")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "--resume requires --db")
}

func TestConverge_ResumeUnknownLoop(t *testing.T) {
	db := filepath.Join(t.TempDir(), "state.db")
	_, err := execute(t, "converge", "testdata/clean", "--db", db, "--resume", "nope")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestHistory_UnknownLoop(t *testing.T) {
	db := filepath.Join(t.TempDir(), "state.db")
	_, err := execute(t, "history", "--db", db, "missing-loop")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestHistory_EmptyDatabase(t *testing.T) {
	db := filepath.Join(t.TempDir(), "state.db")
	out, err := execute(t, "history", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "No loops recorded.")
}
