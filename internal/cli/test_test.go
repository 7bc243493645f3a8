package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingScenario = `name: passing
description: converges with one methodology
methodologies:
  - name: solo
    checks: [check]
config:
  required_clean_passes: 1
assertions:
  - type: converged
    converged: true
  - type: pass_count
    count: 1
`

const failingScenario = `name: failing
description: expects a pass count the loop cannot produce
methodologies:
  - name: solo
    checks: [check]
config:
  required_clean_passes: 1
assertions:
  - type: pass_count
    count: 42
`

func writeScenarios(t *testing.T, scenarios map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range scenarios {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func TestTest_AllPassing(t *testing.T) {
	dir := writeScenarios(t, map[string]string{"passing.yaml": passingScenario})

	out, err := execute(t, "test", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "ok   passing")
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
}

func TestTest_FailureSetsExitCode(t *testing.T) {
	dir := writeScenarios(t, map[string]string{
		"passing.yaml": passingScenario,
		"failing.yaml": failingScenario,
	})

	out, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "FAIL failing")
	assert.Contains(t, out, "1 passed, 1 failed, 2 total")
}

func TestTest_Filter(t *testing.T) {
	dir := writeScenarios(t, map[string]string{
		"passing.yaml": passingScenario,
		"failing.yaml": failingScenario,
	})

	out, err := execute(t, "test", dir, "--filter", "pass*")
	require.NoError(t, err)
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
}

func TestTest_JSONOutput(t *testing.T) {
	dir := writeScenarios(t, map[string]string{"passing.yaml": passingScenario})

	out, err := execute(t, "--format", "json", "test", dir)
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestTest_MissingDirectory(t *testing.T) {
	_, err := execute(t, "test", "no-such-dir")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTest_EmptyDirectory(t *testing.T) {
	out, err := execute(t, "test", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}
