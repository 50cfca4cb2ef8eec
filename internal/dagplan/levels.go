// Package dagplan implements the three pure graph operations the executor
// needs: topological level computation, downstream-set search, and replan
// application with cycle rejection. None of these operations invoke an
// agent or touch disk — they are plain functions over execmodel.Issue
// records, grounded on the level-computation and replan logic of the
// reference execution engine this codebase's executor reimplements.
package dagplan

import (
	"errors"
	"fmt"
	"sort"

	"github.com/lucasnoah/dagforge/internal/execmodel"
)

// ErrCycleDetected is returned by ComputeLevels when the dependency graph
// has leftover in-degree after Kahn's algorithm terminates.
var ErrCycleDetected = errors.New("dagplan: cycle detected")

// CycleError carries the node names still stuck with unmet dependencies
// when ComputeLevels fails.
type CycleError struct {
	Nodes []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dagplan: cycle detected among nodes %v", e.Nodes)
}

func (e *CycleError) Unwrap() error { return ErrCycleDetected }

// ComputeLevels runs Kahn's algorithm over issues, treating any dependency
// name present in completedNames as already satisfied. The result is the
// sequence of antichains (levels) in discovery order: level 0 contains
// every issue whose dependencies are all satisfied, level 1 every issue
// whose dependencies are all in level 0 or completedNames, and so on.
//
// Issues named as a dependency but absent from issues are treated as
// already satisfied — this lets callers pass only the non-terminal subset
// of the full issue set while dependencies on already-completed issues
// still resolve.
func ComputeLevels(issues []execmodel.Issue, completedNames map[string]bool) ([][]string, error) {
	byName := make(map[string]execmodel.Issue, len(issues))
	for _, iss := range issues {
		byName[iss.Name] = iss
	}

	inDegree := make(map[string]int, len(issues))
	dependents := make(map[string][]string, len(issues))

	for _, iss := range issues {
		degree := 0
		for _, dep := range iss.DependsOn {
			if completedNames[dep] {
				continue
			}
			if _, present := byName[dep]; !present {
				// Dependency isn't in this issue set at all — treat as satisfied.
				continue
			}
			degree++
			dependents[dep] = append(dependents[dep], iss.Name)
		}
		inDegree[iss.Name] = degree
	}

	// Stable discovery order: process issues in the order they were given.
	var levels [][]string
	remaining := len(issues)

	for remaining > 0 {
		var ready []string
		for _, iss := range issues {
			if _, stillUnplaced := byName[iss.Name]; stillUnplaced && inDegree[iss.Name] == 0 {
				ready = append(ready, iss.Name)
			}
		}

		if len(ready) == 0 {
			var stuck []string
			for name, degree := range inDegree {
				if degree > 0 {
					stuck = append(stuck, name)
				}
			}
			sort.Strings(stuck)
			return nil, &CycleError{Nodes: stuck}
		}

		levels = append(levels, ready)
		for _, name := range ready {
			delete(byName, name)
			remaining--
			for _, dependent := range dependents[name] {
				inDegree[dependent]--
			}
		}
	}

	return levels, nil
}

// FindDownstream returns the set of issue names transitively depending on
// name, via breadth-first search over the reverse-dependency adjacency.
// The returned set never includes name itself.
func FindDownstream(name string, issues []execmodel.Issue) []string {
	dependents := make(map[string][]string, len(issues))
	for _, iss := range issues {
		for _, dep := range iss.DependsOn {
			dependents[dep] = append(dependents[dep], iss.Name)
		}
	}

	visited := map[string]bool{name: true}
	queue := append([]string(nil), dependents[name]...)
	var result []string

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		result = append(result, cur)
		queue = append(queue, dependents[cur]...)
	}

	return result
}
