package graph_test

import (
	"testing"

	"github.com/drifthq/drift/pkg/graph"
)

func indexOf(order []string, id string) int {
	for i, v := range order {
		if v == id {
			return i
		}
	}
	return -1
}

func TestTopologicalOrderRespectsDependencies(t *testing.T) {
	g := graph.New()
	g.AddIDs("a", nil)
	g.AddIDs("b", []string{"a"})
	g.AddIDs("c", []string{"b"})

	order := g.TopologicalOrder()
	if indexOf(order, "a") > indexOf(order, "b") || indexOf(order, "b") > indexOf(order, "c") {
		t.Fatalf("order = %v, want a before b before c", order)
	}
}

func TestReverseTopologicalOrderReversesDependents(t *testing.T) {
	g := graph.New()
	g.AddIDs("a", nil)
	g.AddIDs("b", []string{"a"})
	g.AddIDs("c", []string{"b"})

	order := g.ReverseTopologicalOrder()
	if indexOf(order, "c") > indexOf(order, "b") || indexOf(order, "b") > indexOf(order, "a") {
		t.Fatalf("order = %v, want c before b before a", order)
	}
}

func TestValidateReportsMissingDependency(t *testing.T) {
	g := graph.New()
	g.AddIDs("a", []string{"ghost"})

	err := g.Validate()
	if err == nil {
		t.Fatal("expected a validation error for a missing dependency")
	}
	verr, ok := err.(*graph.ValidationError)
	if !ok {
		t.Fatalf("err type = %T, want *graph.ValidationError", err)
	}
	if len(verr.Missing) != 1 || verr.Missing[0].ID != "a" || verr.Missing[0].Missing[0] != "ghost" {
		t.Fatalf("Missing = %+v", verr.Missing)
	}
}

func TestValidatePassesWhenAllDependenciesPresent(t *testing.T) {
	g := graph.New()
	g.AddIDs("a", nil)
	g.AddIDs("b", []string{"a"})
	if err := g.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestTieBreakIsInsertionOrder(t *testing.T) {
	g := graph.New()
	// Three independent nodes with no edges between them: order must
	// follow insertion, not map iteration.
	g.AddIDs("z", nil)
	g.AddIDs("y", nil)
	g.AddIDs("x", nil)

	order := g.TopologicalOrder()
	want := []string{"z", "y", "x"}
	for i, id := range want {
		if order[i] != id {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestLen(t *testing.T) {
	g := graph.New()
	g.AddIDs("a", nil)
	g.AddIDs("b", []string{"a"})
	if g.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", g.Len())
	}
}
