package harness

import (
	"fmt"
	"strings"
)

// Check validates every scenario assertion against the result. The first
// failing assertion is returned as an error naming its index and type.
func Check(scenario *Scenario, result *Result) error {
	for i, a := range scenario.Assertions {
		if err := checkAssertion(&a, result); err != nil {
			return fmt.Errorf("assertions[%d] (%s): %w", i, a.Type, err)
		}
	}
	return nil
}

func checkAssertion(a *Assertion, result *Result) error {
	switch a.Type {
	case AssertConverged:
		return checkConverged(a, result)
	case AssertPassCount:
		return checkPassCount(a, result)
	case AssertMethodologyOrder:
		return checkMethodologyOrder(a, result)
	case AssertNoRepeatInStreak:
		return checkNoRepeatInStreak(result)
	case AssertTotals:
		return checkTotals(a, result)
	case AssertErrorContains:
		return checkErrorContains(a, result)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func checkConverged(a *Assertion, result *Result) error {
	if result.Outcome == nil {
		return fmt.Errorf("no outcome captured")
	}
	if result.Outcome.Converged != a.Converged {
		return fmt.Errorf("converged = %v, want %v", result.Outcome.Converged, a.Converged)
	}
	return nil
}

func checkPassCount(a *Assertion, result *Result) error {
	got := len(result.Outcome.Passes)
	if got != a.Count {
		return fmt.Errorf("ran %d passes, want %d", got, a.Count)
	}
	return nil
}

func checkMethodologyOrder(a *Assertion, result *Result) error {
	var got []string
	for _, p := range result.Outcome.Passes {
		got = append(got, p.Methodology)
	}
	if len(got) != len(a.Methodologies) {
		return fmt.Errorf("methodology order %v, want %v", got, a.Methodologies)
	}
	for i := range got {
		if got[i] != a.Methodologies[i] {
			return fmt.Errorf("methodology order %v, want %v", got, a.Methodologies)
		}
	}
	return nil
}

// checkNoRepeatInStreak verifies that within any consecutive run of clean
// passes, no methodology appears twice. Sampling without replacement is
// scoped to a clean streak, so a repeat inside one is a sampling defect.
func checkNoRepeatInStreak(result *Result) error {
	seen := map[string]int{}
	for _, p := range result.Outcome.Passes {
		if !p.Clean {
			seen = map[string]int{}
			continue
		}
		if prev, ok := seen[p.Methodology]; ok {
			return fmt.Errorf("methodology %q repeated within a clean streak (iterations %d and %d)",
				p.Methodology, prev, p.Iteration)
		}
		seen[p.Methodology] = p.Iteration
	}
	return nil
}

func checkTotals(a *Assertion, result *Result) error {
	if result.Outcome.TotalIssuesFound != a.Found {
		return fmt.Errorf("total issues found = %d, want %d", result.Outcome.TotalIssuesFound, a.Found)
	}
	if result.Outcome.TotalIssuesFixed != a.Fixed {
		return fmt.Errorf("total issues fixed = %d, want %d", result.Outcome.TotalIssuesFixed, a.Fixed)
	}
	return nil
}

func checkErrorContains(a *Assertion, result *Result) error {
	if result.Err == nil {
		return fmt.Errorf("loop succeeded, want error containing %q", a.Contains)
	}
	if !strings.Contains(result.Err.Error(), a.Contains) {
		return fmt.Errorf("error %q does not contain %q", result.Err, a.Contains)
	}
	return nil
}
