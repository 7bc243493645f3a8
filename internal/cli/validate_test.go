package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_ValidManifest(t *testing.T) {
	out, err := execute(t, "validate", "testdata/clean")
	require.NoError(t, err)
	assert.Contains(t, out, "Manifest OK: 3 checks, 2 methodologies")
	assert.Contains(t, out, "lint <- build")
	assert.Contains(t, out, "Critical:      build")
}

func TestValidate_JSON(t *testing.T) {
	out, err := execute(t, "--format", "json", "validate", "testdata/clean")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestValidate_MissingDirectory(t *testing.T) {
	_, err := execute(t, "validate", "testdata/no-such-dir")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestPlan_AllChecks(t *testing.T) {
	out, err := execute(t, "plan", "testdata/clean")
	require.NoError(t, err)
	// build and docs share level 0; lint waits for build.
	assert.Contains(t, out, "Plan: 3 checks in 2 levels")
	assert.Contains(t, out, "Level 0: build, docs")
	assert.Contains(t, out, "Level 1: lint")
}

func TestPlan_SubsetDropsUnrequestedPrereq(t *testing.T) {
	out, err := execute(t, "plan", "testdata/clean", "lint", "docs")
	require.NoError(t, err)
	// build not requested, so lint's dependency on it is satisfied.
	assert.Contains(t, out, "Level 0: docs, lint")
}

func TestPlan_UnknownCheck(t *testing.T) {
	_, err := execute(t, "plan", "testdata/clean", "ghost")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "ghost")
}
