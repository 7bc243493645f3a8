// Package schedule orders a dependency graph into concurrency levels.
//
// A level is a set of checks whose prerequisites have all been placed in
// earlier levels; everything inside one level may run concurrently. The
// leveling uses Kahn's algorithm, collecting all in-degree-zero checks per
// round rather than one at a time, so each round becomes one level.
package schedule

import (
	"sort"

	"github.com/kestrelworks/kestrel/internal/graph"
)

// Levels partitions the graph's checks into dependency-respecting levels.
//
// Guarantees:
//   - every check appears in exactly one level
//   - a prerequisite's level index is strictly less than its dependent's
//   - the partition into levels is deterministic for a given graph; checks
//     within a level are sorted, though intra-level order carries no
//     execution meaning
//
// If at any round no check has in-degree zero while unscheduled checks
// remain, those checks form one or more cycles: Levels returns a
// *CycleError naming all of them and NO partial level list.
func Levels(g *graph.Graph) ([][]string, error) {
	inDegree := make(map[string]int, len(g.Checks))
	dependents := make(map[string][]string)
	for _, name := range g.Checks {
		inDegree[name] = 0
	}
	for _, e := range g.Edges {
		inDegree[e.Dependent]++
		dependents[e.Prerequisite] = append(dependents[e.Prerequisite], e.Dependent)
	}

	var levels [][]string
	scheduled := 0
	for scheduled < len(g.Checks) {
		var level []string
		for _, name := range g.Checks {
			if deg, pending := inDegree[name]; pending && deg == 0 {
				level = append(level, name)
			}
		}

		if len(level) == 0 {
			// Everything still pending is part of (or downstream of) a cycle.
			remaining := make([]string, 0, len(inDegree))
			for name := range inDegree {
				remaining = append(remaining, name)
			}
			sort.Strings(remaining)
			return nil, &CycleError{Remaining: remaining}
		}

		sort.Strings(level)
		for _, name := range level {
			delete(inDegree, name)
			for _, dep := range dependents[name] {
				if _, pending := inDegree[dep]; pending {
					inDegree[dep]--
				}
			}
		}
		scheduled += len(level)
		levels = append(levels, level)
	}

	return levels, nil
}
