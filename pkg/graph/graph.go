// Package graph implements the dependency graph over a set of resource
// ids: forward and reverse adjacency, validation that every referenced
// dependency is itself a managed node, and topological ordering via
// Kahn's algorithm.
//
// Adapted from the dependency-level computation in the teacher's
// DAGBuilder, simplified from a parallel-level grouping down to a flat
// order, since this engine's executor walks a plan strictly sequentially.
package graph

import (
	"fmt"
	"sort"

	"github.com/drifthq/drift/pkg/resource"
)

// Graph is a dependency graph keyed by resource id.
type Graph struct {
	order   []string            // insertion order, for deterministic tie-breaking
	added   map[string]bool
	forward map[string]map[string]bool // id -> its dependency ids
	reverse map[string]map[string]bool // id -> ids that depend on it
}

// New returns an empty dependency graph.
func New() *Graph {
	return &Graph{
		added:   make(map[string]bool),
		forward: make(map[string]map[string]bool),
		reverse: make(map[string]map[string]bool),
	}
}

// Add records a resource's forward edges (to each of its dependencies'
// ids) and the symmetric reverse edges.
func (g *Graph) Add(r resource.Resource) {
	g.AddIDs(r.ID(), resource.DepIDsOf(r))
}

// AddIDs records forward/reverse edges from id to depIDs directly,
// without requiring a live Resource. Used to order deletions, where the
// only resources available are decoded ResourceStates whose dependency
// references were never bound — just their raw id lists.
func (g *Graph) AddIDs(id string, depIDs []string) {
	if !g.added[id] {
		g.added[id] = true
		g.order = append(g.order, id)
		g.forward[id] = make(map[string]bool)
	}
	for _, depID := range depIDs {
		g.forward[id][depID] = true
		if g.reverse[depID] == nil {
			g.reverse[depID] = make(map[string]bool)
		}
		g.reverse[depID][id] = true
	}
}

// MissingDependency names one id that a graph node depends on without
// that id itself having been added.
type MissingDependency struct {
	ID      string
	Missing []string
}

// ValidationError reports every node with at least one unresolved
// dependency.
type ValidationError struct {
	Missing []MissingDependency
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("dependency graph: %d resource(s) reference missing dependencies", len(e.Missing))
}

// Validate checks that every id named as a dependency by an added
// resource was itself added to the graph. It returns a *ValidationError
// naming every offending id and its missing dependencies, or nil.
func (g *Graph) Validate() error {
	var problems []MissingDependency
	for _, id := range g.order {
		var missing []string
		depIDs := make([]string, 0, len(g.forward[id]))
		for depID := range g.forward[id] {
			depIDs = append(depIDs, depID)
		}
		sort.Strings(depIDs)
		for _, depID := range depIDs {
			if !g.added[depID] {
				missing = append(missing, depID)
			}
		}
		if len(missing) > 0 {
			problems = append(problems, MissingDependency{ID: id, Missing: missing})
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Missing: problems}
	}
	return nil
}

// TopologicalOrder returns ids in dependency-first order (Kahn's
// algorithm), ties broken by insertion order. Validate should be called
// first; edges to un-added ids are otherwise silently excluded.
func (g *Graph) TopologicalOrder() []string {
	return g.kahn(g.forward, g.reverse)
}

// ReverseTopologicalOrder returns ids in dependent-first order — the
// mirror of TopologicalOrder — used to sequence deletions so that
// dependents are removed before what they depend on.
func (g *Graph) ReverseTopologicalOrder() []string {
	return g.kahn(g.reverse, g.forward)
}

// kahn runs Kahn's algorithm over edges where primary[id] holds the set
// of ids that must precede id, and secondary is its transpose (used to
// decrement in-degree of dependents as a node is emitted).
func (g *Graph) kahn(primary, secondary map[string]map[string]bool) []string {
	inDegree := make(map[string]int, len(g.order))
	for _, id := range g.order {
		count := 0
		for depID := range primary[id] {
			if g.added[depID] {
				count++
			}
		}
		inDegree[id] = count
	}

	var ready []string
	for _, id := range g.order {
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	var out []string
	for len(ready) > 0 {
		// Pop in insertion order among the currently ready set for a
		// deterministic, stable result.
		sort.SliceStable(ready, func(i, j int) bool {
			return g.indexOf(ready[i]) < g.indexOf(ready[j])
		})
		id := ready[0]
		ready = ready[1:]
		out = append(out, id)

		dependents := make([]string, 0, len(secondary[id]))
		for depID := range secondary[id] {
			dependents = append(dependents, depID)
		}
		sort.Strings(dependents)
		for _, depID := range dependents {
			inDegree[depID]--
			if inDegree[depID] == 0 {
				ready = append(ready, depID)
			}
		}
	}

	return out
}

func (g *Graph) indexOf(id string) int {
	for i, v := range g.order {
		if v == id {
			return i
		}
	}
	return len(g.order)
}

// Len reports how many resources have been added.
func (g *Graph) Len() int { return len(g.order) }
