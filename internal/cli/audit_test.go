package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAudit_CleanRun(t *testing.T) {
	out, err := execute(t, "audit", "testdata/clean")
	require.NoError(t, err)
	assert.Contains(t, out, "3 checks in 2 levels")
}

func TestAudit_IssuesExitFailure(t *testing.T) {
	out, err := execute(t, "audit", "testdata/dirty")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "a.go:1: unclosed handle")
}

func TestAudit_CriticalFailure(t *testing.T) {
	out, err := execute(t, "audit", "testdata/broken")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "critical check failed")
	// Results are still reported alongside the escalation.
	assert.Contains(t, out, "crash")
}

func TestAudit_UnknownCheck(t *testing.T) {
	_, err := execute(t, "audit", "testdata/clean", "ghost")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestAudit_SubsetSequential(t *testing.T) {
	out, err := execute(t, "audit", "testdata/clean", "docs", "--sequential")
	require.NoError(t, err)
	assert.Contains(t, out, "1 checks in 1 levels")
}
