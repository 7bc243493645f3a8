// Package graph turns a requested set of check names plus a static
// dependency table into a validated edge list for scheduling.
package graph

import (
	"errors"
	"fmt"
	"sort"

	"github.com/kestrelworks/kestrel/internal/audit"
)

// ErrSelfDependency is returned when a requested check lists itself as a
// prerequisite.
var ErrSelfDependency = errors.New("check depends on itself")

// Edge is an ordered pair: Dependent must not start until Prerequisite has
// completed.
type Edge struct {
	Dependent    string `json:"dependent"`
	Prerequisite string `json:"prerequisite"`
}

// String renders the edge for human-readable reports.
func (e Edge) String() string {
	return fmt.Sprintf("%s depends on %s", e.Dependent, e.Prerequisite)
}

// Graph is the validated dependency graph for one run: the requested check
// set (deduplicated, input order preserved) and the active edges.
//
// An edge is active only when BOTH endpoints are in the requested set. A
// dependency on a check that was not requested is silently treated as
// already satisfied, so partial audits stay runnable.
type Graph struct {
	Checks []string
	Edges  []Edge
}

// Build filters the static dependency table down to the requested checks.
//
// Returns ErrSelfDependency (wrapped with the check name) if any requested
// check names itself as a prerequisite. Duplicate names in the requested
// set are collapsed; duplicate edges in the table are collapsed.
func Build(requested []string, table audit.DependencyTable) (*Graph, error) {
	inSet := make(map[string]bool, len(requested))
	checks := make([]string, 0, len(requested))
	for _, name := range requested {
		if inSet[name] {
			continue
		}
		inSet[name] = true
		checks = append(checks, name)
	}

	var edges []Edge
	seen := make(map[Edge]bool)
	for _, dependent := range checks {
		for _, prereq := range table[dependent] {
			if prereq == dependent {
				return nil, fmt.Errorf("%w: %s", ErrSelfDependency, dependent)
			}
			if !inSet[prereq] {
				// Prerequisite not requested: treated as satisfied.
				continue
			}
			e := Edge{Dependent: dependent, Prerequisite: prereq}
			if seen[e] {
				continue
			}
			seen[e] = true
			edges = append(edges, e)
		}
	}

	return &Graph{Checks: checks, Edges: edges}, nil
}

// DependencyPairs returns the active edges rendered for reporting, sorted
// for stable output.
func (g *Graph) DependencyPairs() []string {
	pairs := make([]string, len(g.Edges))
	for i, e := range g.Edges {
		pairs[i] = e.String()
	}
	sort.Strings(pairs)
	return pairs
}
