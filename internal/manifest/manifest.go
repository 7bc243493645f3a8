// Package manifest loads and validates audit manifests written in CUE.
//
// A manifest declares the checks (with their runner commands), the static
// dependency table, the methodology pool, the critical-check set, and
// default loop parameters.
package manifest

import (
	"fmt"

	"github.com/kestrelworks/kestrel/internal/audit"
)

// CheckDef declares one check: its name, the command that runs it, and
// its prerequisites.
type CheckDef struct {
	Name     string
	Command  []string
	Requires []string
}

// Defaults carries loop and orchestrator parameters a manifest may set.
// Zero values mean "use the built-in default".
type Defaults struct {
	MaxConcurrent       int
	RequiredCleanPasses int
	MaxIterations       int
	ClearContext        bool
}

// Manifest is the fully validated audit configuration.
type Manifest struct {
	Checks        []CheckDef
	Methodologies []audit.Methodology
	Critical      []string
	Defaults      Defaults
}

// DependencyTable derives the static dependency table from the check
// declarations.
func (m *Manifest) DependencyTable() audit.DependencyTable {
	table := make(audit.DependencyTable, len(m.Checks))
	for _, c := range m.Checks {
		if len(c.Requires) > 0 {
			table[c.Name] = append([]string(nil), c.Requires...)
		}
	}
	return table
}

// CheckNames returns all declared check names in declaration order.
func (m *Manifest) CheckNames() []string {
	names := make([]string, len(m.Checks))
	for i, c := range m.Checks {
		names[i] = c.Name
	}
	return names
}

// Methodology looks a methodology up by name.
func (m *Manifest) Methodology(name string) (audit.Methodology, bool) {
	for _, method := range m.Methodologies {
		if method.Name == name {
			return method, true
		}
	}
	return audit.Methodology{}, false
}

// validate cross-checks references after parsing.
func (m *Manifest) validate() error {
	known := make(map[string]bool, len(m.Checks))
	for _, c := range m.Checks {
		known[c.Name] = true
	}

	for _, c := range m.Checks {
		if len(c.Command) == 0 {
			return fmt.Errorf("check %q: command is required", c.Name)
		}
		for _, req := range c.Requires {
			if req == c.Name {
				return fmt.Errorf("check %q depends on itself", c.Name)
			}
			if !known[req] {
				return fmt.Errorf("check %q requires undeclared check %q", c.Name, req)
			}
		}
	}

	if len(m.Methodologies) == 0 {
		return fmt.Errorf("at least one methodology is required")
	}
	for _, method := range m.Methodologies {
		if len(method.Checks) == 0 {
			return fmt.Errorf("methodology %q: at least one check is required", method.Name)
		}
		for _, name := range method.Checks {
			if !known[name] {
				return fmt.Errorf("methodology %q references undeclared check %q", method.Name, name)
			}
		}
	}

	for _, name := range m.Critical {
		if !known[name] {
			return fmt.Errorf("critical set references undeclared check %q", name)
		}
	}
	return nil
}
