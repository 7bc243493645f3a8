package manifest

import (
	"cuelang.org/go/cue"

	"github.com/kestrelworks/kestrel/internal/audit"
)

// parse extracts the manifest structure from a unified CUE value.
//
// Field iteration preserves declaration order, so check and methodology
// order in the manifest is meaningful (it becomes sampling declaration
// order for the pool).
func parse(value cue.Value) (*Manifest, error) {
	m := &Manifest{}

	checks := value.LookupPath(cue.ParsePath("check"))
	if !checks.Exists() {
		return nil, &ParseError{Field: "check", Message: "required field missing"}
	}
	iter, err := checks.Fields()
	if err != nil {
		return nil, &ParseError{Field: "check", Message: err.Error(), Pos: checks.Pos()}
	}
	for iter.Next() {
		def, err := parseCheck(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		m.Checks = append(m.Checks, def)
	}

	methods := value.LookupPath(cue.ParsePath("methodology"))
	if !methods.Exists() {
		return nil, &ParseError{Field: "methodology", Message: "required field missing"}
	}
	iter, err = methods.Fields()
	if err != nil {
		return nil, &ParseError{Field: "methodology", Message: err.Error(), Pos: methods.Pos()}
	}
	for iter.Next() {
		method, err := parseMethodology(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		m.Methodologies = append(m.Methodologies, method)
	}

	if critical := value.LookupPath(cue.ParsePath("critical")); critical.Exists() {
		if err := critical.Decode(&m.Critical); err != nil {
			return nil, &ParseError{Field: "critical", Message: err.Error(), Pos: critical.Pos()}
		}
	}

	if defaults := value.LookupPath(cue.ParsePath("defaults")); defaults.Exists() {
		if err := parseDefaults(defaults, &m.Defaults); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func parseCheck(name string, v cue.Value) (CheckDef, error) {
	def := CheckDef{Name: name}

	command := v.LookupPath(cue.ParsePath("command"))
	if !command.Exists() {
		return def, &ParseError{Field: "check." + name + ".command", Message: "required field missing", Pos: v.Pos()}
	}
	if err := command.Decode(&def.Command); err != nil {
		return def, &ParseError{Field: "check." + name + ".command", Message: err.Error(), Pos: command.Pos()}
	}

	if requires := v.LookupPath(cue.ParsePath("requires")); requires.Exists() {
		if err := requires.Decode(&def.Requires); err != nil {
			return def, &ParseError{Field: "check." + name + ".requires", Message: err.Error(), Pos: requires.Pos()}
		}
	}
	return def, nil
}

func parseMethodology(name string, v cue.Value) (audit.Methodology, error) {
	method := audit.Methodology{Name: name}

	checks := v.LookupPath(cue.ParsePath("checks"))
	if !checks.Exists() {
		return method, &ParseError{Field: "methodology." + name + ".checks", Message: "required field missing", Pos: v.Pos()}
	}
	if err := checks.Decode(&method.Checks); err != nil {
		return method, &ParseError{Field: "methodology." + name + ".checks", Message: err.Error(), Pos: checks.Pos()}
	}
	return method, nil
}

func parseDefaults(v cue.Value, d *Defaults) error {
	fields := []struct {
		name string
		dst  any
	}{
		{"maxConcurrent", &d.MaxConcurrent},
		{"requiredCleanPasses", &d.RequiredCleanPasses},
		{"maxIterations", &d.MaxIterations},
		{"clearContext", &d.ClearContext},
	}
	for _, f := range fields {
		fv := v.LookupPath(cue.ParsePath(f.name))
		if !fv.Exists() {
			continue
		}
		if err := fv.Decode(f.dst); err != nil {
			return &ParseError{Field: "defaults." + f.name, Message: err.Error(), Pos: fv.Pos()}
		}
	}
	return nil
}
