package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelworks/kestrel/internal/audit"
)

func TestLoad_ValidManifest(t *testing.T) {
	m, err := Load("testdata/valid")
	require.NoError(t, err)

	assert.Equal(t, []string{"build", "lint", "security", "docs"}, m.CheckNames())

	table := m.DependencyTable()
	assert.Equal(t, audit.DependencyTable{
		"lint":     {"build"},
		"security": {"build"},
	}, table)

	require.Len(t, m.Methodologies, 2)
	assert.Equal(t, "adversarial", m.Methodologies[0].Name)
	assert.Equal(t, []string{"security", "lint"}, m.Methodologies[0].Checks)
	assert.Equal(t, "checklist", m.Methodologies[1].Name)

	assert.Equal(t, []string{"build"}, m.Critical)
	assert.Equal(t, Defaults{
		MaxConcurrent:       2,
		RequiredCleanPasses: 3,
		MaxIterations:       8,
		ClearContext:        true,
	}, m.Defaults)
}

func TestLoad_MissingDirectory(t *testing.T) {
	_, err := Load("testdata/no-such-dir")
	assert.ErrorContains(t, err, "not found")
}

func TestLoad_EmptyDirectory(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(dir)
	assert.ErrorContains(t, err, "no .cue files")
}

// loadSource drops a single .cue file into a temp dir and loads it.
func loadSource(t *testing.T, src string) (*Manifest, error) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "audit.cue"), []byte(src), 0o644))
	return Load(dir)
}

func TestLoad_UndeclaredRequire(t *testing.T) {
	_, err := loadSource(t, `
check: lint: {
	command: ["lint"]
	requires: ["build"]
}
methodology: m: checks: ["lint"]
`)
	assert.ErrorContains(t, err, `requires undeclared check "build"`)
}

func TestLoad_SelfRequire(t *testing.T) {
	_, err := loadSource(t, `
check: lint: {
	command: ["lint"]
	requires: ["lint"]
}
methodology: m: checks: ["lint"]
`)
	assert.ErrorContains(t, err, "depends on itself")
}

func TestLoad_MethodologyUnknownCheck(t *testing.T) {
	_, err := loadSource(t, `
check: lint: command: ["lint"]
methodology: m: checks: ["lint", "fuzz"]
`)
	assert.ErrorContains(t, err, `references undeclared check "fuzz"`)
}

func TestLoad_CriticalUnknownCheck(t *testing.T) {
	_, err := loadSource(t, `
check: lint: command: ["lint"]
methodology: m: checks: ["lint"]
critical: ["fuzz"]
`)
	assert.ErrorContains(t, err, `critical set references undeclared check "fuzz"`)
}

func TestLoad_NoMethodologies(t *testing.T) {
	_, err := loadSource(t, `
check: lint: command: ["lint"]
`)
	assert.ErrorContains(t, err, "methodology")
}

func TestLoad_MissingCommand(t *testing.T) {
	_, err := loadSource(t, `
check: lint: requires: ["build"]
check: build: command: ["build"]
methodology: m: checks: ["lint"]
`)
	require.Error(t, err)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "check.lint.command", perr.Field)
}

func TestLoad_MultipleFilesUnify(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "checks.cue"), []byte(`
check: build: command: ["go", "build"]
check: lint: {
	command: ["lint"]
	requires: ["build"]
}
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "methods.cue"), []byte(`
methodology: quick: checks: ["build"]
critical: ["build"]
`), 0o644))

	m, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"build", "lint"}, m.CheckNames())
	assert.Equal(t, []string{"build"}, m.Critical)
}

func TestParse_DirectValue(t *testing.T) {
	value := cuecontext.New().CompileString(`
check: lint: command: ["lint"]
methodology: m: checks: ["lint"]
`)
	require.NoError(t, value.Err())

	m, err := parse(value)
	require.NoError(t, err)
	require.NoError(t, m.validate())
	assert.Equal(t, []string{"lint"}, m.CheckNames())
}

func TestMethodology_Lookup(t *testing.T) {
	m := &Manifest{Methodologies: []audit.Methodology{
		{Name: "adversarial", Checks: []string{"a"}},
	}}

	got, ok := m.Methodology("adversarial")
	assert.True(t, ok)
	assert.Equal(t, []string{"a"}, got.Checks)

	_, ok = m.Methodology("nope")
	assert.False(t, ok)
}
