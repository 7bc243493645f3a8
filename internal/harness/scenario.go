package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kestrelworks/kestrel/internal/audit"
)

// Scenario defines a convergence conformance scenario: a methodology pool,
// a scripted sequence of findings and fix outcomes, and assertions over
// the resulting trace.
type Scenario struct {
	// Name uniquely identifies this scenario. Also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Subject is the informational audit subject.
	Subject string `yaml:"subject,omitempty"`

	// Methodologies declares the pool, in declaration order.
	Methodologies []MethodologyDecl `yaml:"methodologies"`

	// Sample scripts pool sampling: the i-th draw picks the Sample[i]-th
	// available methodology (clamped). Exhausted scripts pick index 0.
	Sample []int `yaml:"sample,omitempty"`

	// Config overrides loop parameters. Zero values use loop defaults.
	Config ConfigDecl `yaml:"config,omitempty"`

	// Script holds per-iteration check findings and fix outcomes.
	// Iteration N uses Script[N-1]; iterations past the end run clean.
	Script []IterationScript `yaml:"script,omitempty"`

	// Assertions validate the outcome and trace.
	Assertions []Assertion `yaml:"assertions"`
}

// MethodologyDecl declares one pool entry.
type MethodologyDecl struct {
	Name   string   `yaml:"name"`
	Checks []string `yaml:"checks"`
}

// ConfigDecl mirrors the loop configuration knobs a scenario may set.
type ConfigDecl struct {
	RequiredCleanPasses int `yaml:"required_clean_passes,omitempty"`
	MaxIterations       int `yaml:"max_iterations,omitempty"`
	MaxFixAttempts      int `yaml:"max_fix_attempts,omitempty"`
	MaxPivots           int `yaml:"max_pivots,omitempty"`
}

// IterationScript scripts one pass: which issues each check reports, and
// which of them survive the fix attempt.
type IterationScript struct {
	// Issues maps a check name to issue lines ("location: description").
	// Checks not listed run clean.
	Issues map[string][]string `yaml:"issues,omitempty"`

	// StillFailing lists issue lines the fixer could not resolve this
	// iteration. Empty means everything found was fixed.
	StillFailing []string `yaml:"still_failing,omitempty"`
}

// Assertion validates the outcome or the trace.
type Assertion struct {
	// Type selects the assertion:
	//  - "converged":            outcome.Converged equals Converged
	//  - "pass_count":           exactly Count passes ran
	//  - "methodology_order":    passes used Methodologies in order
	//  - "no_repeat_in_streak":  no methodology repeats within any
	//                            consecutive run of clean passes
	//  - "totals":               total issues Found / Fixed match
	//  - "error_contains":       the loop error contains Contains
	Type string `yaml:"type"`

	Converged     bool     `yaml:"converged,omitempty"`
	Count         int      `yaml:"count,omitempty"`
	Methodologies []string `yaml:"methodologies,omitempty"`
	Found         int      `yaml:"found,omitempty"`
	Fixed         int      `yaml:"fixed,omitempty"`
	Contains      string   `yaml:"contains,omitempty"`
}

// Assertion type constants.
const (
	AssertConverged        = "converged"
	AssertPassCount        = "pass_count"
	AssertMethodologyOrder = "methodology_order"
	AssertNoRepeatInStreak = "no_repeat_in_streak"
	AssertTotals           = "totals"
	AssertErrorContains    = "error_contains"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so a typo fails loudly instead of silently weakening a test.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse scenario YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// Pool returns the declared methodologies as domain values.
func (s *Scenario) Pool() []audit.Methodology {
	out := make([]audit.Methodology, len(s.Methodologies))
	for i, m := range s.Methodologies {
		out[i] = audit.Methodology{Name: m.Name, Checks: m.Checks}
	}
	return out
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Methodologies) == 0 {
		return fmt.Errorf("methodologies list is required and must be non-empty")
	}
	for i, m := range s.Methodologies {
		if m.Name == "" {
			return fmt.Errorf("methodologies[%d]: name is required", i)
		}
		if len(m.Checks) == 0 {
			return fmt.Errorf("methodologies[%d]: checks list is required", i)
		}
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertConverged, AssertNoRepeatInStreak, AssertTotals:
		// No required fields beyond the type.
	case AssertPassCount:
		if a.Count <= 0 {
			return fmt.Errorf("assertions[%d]: count must be positive for pass_count", index)
		}
	case AssertMethodologyOrder:
		if len(a.Methodologies) == 0 {
			return fmt.Errorf("assertions[%d]: methodologies list is required for methodology_order", index)
		}
	case AssertErrorContains:
		if a.Contains == "" {
			return fmt.Errorf("assertions[%d]: contains is required for error_contains", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
