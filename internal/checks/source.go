package checks

import (
	"fmt"

	"github.com/kestrelworks/kestrel/internal/audit"
	"github.com/kestrelworks/kestrel/internal/manifest"
)

// Source resolves methodologies against a manifest's check declarations.
// Implements converge.CheckSource.
type Source struct {
	runner *Runner
	defs   map[string]manifest.CheckDef
}

// NewSource indexes the manifest's checks for methodology resolution.
func NewSource(m *manifest.Manifest, runner *Runner) *Source {
	defs := make(map[string]manifest.CheckDef, len(m.Checks))
	for _, def := range m.Checks {
		defs[def.Name] = def
	}
	return &Source{runner: runner, defs: defs}
}

// Checks returns executable checks for the methodology, in methodology order.
func (s *Source) Checks(m audit.Methodology) ([]audit.Check, error) {
	out := make([]audit.Check, 0, len(m.Checks))
	for _, name := range m.Checks {
		def, ok := s.defs[name]
		if !ok {
			return nil, fmt.Errorf("methodology %s: unknown check %q", m.Name, name)
		}
		out = append(out, s.runner.Check(def))
	}
	return out, nil
}
