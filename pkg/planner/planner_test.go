package planner_test

import (
	"testing"

	"github.com/drifthq/drift/pkg/codec"
	"github.com/drifthq/drift/pkg/planner"
	"github.com/drifthq/drift/pkg/providers/mock"
	"github.com/drifthq/drift/pkg/resource"
)

func newRegistry() *codec.Registry {
	reg := codec.NewRegistry()
	resource.RegisterCoreTypes(reg)
	mock.RegisterTypes(reg)
	return reg
}

func indexOfOp(ops []planner.Operation, id string) int {
	for i, op := range ops {
		if op.Resource.ID() == id {
			return i
		}
	}
	return -1
}

// TestPlanCreatesInDependencyOrder covers scenario S1: a brand-new stack
// with a dependent pair produces two creates, dependency first.
func TestPlanCreatesInDependencyOrder(t *testing.T) {
	db := &mock.Thing{Base: resource.NewBase("db", false), Family: "database"}
	web := &mock.Thing{Base: resource.NewBase("web", false, db), Family: "server"}

	p := planner.New(newRegistry(), false)
	plan, err := p.Plan([]resource.Resource{db, web}, resource.NewEmptyState("default"))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan.Operations) != 2 {
		t.Fatalf("Operations = %+v, want 2 creates", plan.Operations)
	}
	for _, op := range plan.Operations {
		if op.Kind != planner.OpCreate {
			t.Fatalf("op kind = %s, want create", op.Kind)
		}
	}
	if indexOfOp(plan.Operations, "db") > indexOfOp(plan.Operations, "web") {
		t.Fatalf("operations = %+v, want db before web", plan.Operations)
	}
}

// TestPlanDetectsUpdate covers scenario S2: a changed attribute on an
// existing resource produces a single update operation with the expected
// diff.
func TestPlanDetectsUpdate(t *testing.T) {
	reg := newRegistry()
	existing := &mock.Thing{Base: resource.NewBase("web", false), Family: "server", Attrs: map[string]string{"size": "small"}}
	actual := resource.NewEmptyState("default")
	actual.Resources["web"] = &mock.ThingState{BaseState: resource.BaseState{RealizedResource: existing}, ServerID: "mock-web-1"}

	desired := &mock.Thing{Base: resource.NewBase("web", false), Family: "server", Attrs: map[string]string{"size": "large"}}

	p := planner.New(reg, true)
	plan, err := p.Plan([]resource.Resource{desired}, actual)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan.Operations) != 1 || plan.Operations[0].Kind != planner.OpUpdate {
		t.Fatalf("Operations = %+v, want a single update", plan.Operations)
	}
	diffs := plan.Diffs["web"]
	found := false
	for _, d := range diffs {
		if d.Field == "attrs" {
			found = true
		}
	}
	if !found {
		t.Fatalf("Diffs[web] = %+v, want an attrs diff", diffs)
	}
}

// TestPlanUnchangedResourceProducesNoOperation ensures identical desired
// and actual shapes produce no operation at all.
func TestPlanUnchangedResourceProducesNoOperation(t *testing.T) {
	reg := newRegistry()
	r := &mock.Thing{Base: resource.NewBase("web", false), Family: "server", Attrs: map[string]string{"size": "small"}}
	actual := resource.NewEmptyState("default")
	actual.Resources["web"] = &mock.ThingState{BaseState: resource.BaseState{RealizedResource: r}, ServerID: "mock-web-1"}

	desired := &mock.Thing{Base: resource.NewBase("web", false), Family: "server", Attrs: map[string]string{"size": "small"}}

	p := planner.New(reg, true)
	plan, err := p.Plan([]resource.Resource{desired}, actual)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan.Operations) != 0 {
		t.Fatalf("Operations = %+v, want none", plan.Operations)
	}
	if len(plan.Unchanged) != 1 || plan.Unchanged[0] != "web" {
		t.Fatalf("Unchanged = %v, want [web]", plan.Unchanged)
	}
}

// TestPlanDeletesInReverseDependencyOrder covers scenario S3: removing an
// entire dependency chain from the desired set deletes dependents before
// what they depend on.
func TestPlanDeletesInReverseDependencyOrder(t *testing.T) {
	reg := newRegistry()
	a := &mock.Thing{Base: resource.NewBase("a", false), Family: "f"}
	b := &mock.Thing{Base: resource.NewBase("b", false, a), Family: "f"}
	c := &mock.Thing{Base: resource.NewBase("c", false, b), Family: "f"}

	actual := resource.NewEmptyState("default")
	actual.Resources["a"] = &mock.ThingState{BaseState: resource.BaseState{RealizedResource: a}}
	actual.Resources["b"] = &mock.ThingState{BaseState: resource.BaseState{RealizedResource: b}}
	actual.Resources["c"] = &mock.ThingState{BaseState: resource.BaseState{RealizedResource: c}}

	p := planner.New(reg, false)
	plan, err := p.Plan(nil, actual)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan.Operations) != 3 {
		t.Fatalf("Operations = %+v, want 3 deletes", plan.Operations)
	}
	for _, op := range plan.Operations {
		if op.Kind != planner.OpDelete {
			t.Fatalf("op kind = %s, want delete", op.Kind)
		}
	}
	if indexOfOp(plan.Operations, "c") > indexOfOp(plan.Operations, "b") ||
		indexOfOp(plan.Operations, "b") > indexOfOp(plan.Operations, "a") {
		t.Fatalf("operations = %+v, want c before b before a", plan.Operations)
	}
}

// TestPlanMissingDependencyIsFatal covers scenario S4: a resource
// referencing a dependency id that was never added to the desired set
// aborts planning with a validation error.
func TestPlanMissingDependencyIsFatal(t *testing.T) {
	ghost := &mock.Thing{Base: resource.NewBase("ghost", false)}
	r := &mock.Thing{Base: resource.NewBase("r1", false, ghost), Family: "f"}

	p := planner.New(newRegistry(), false)
	_, err := p.Plan([]resource.Resource{r}, resource.NewEmptyState("default"))
	if err == nil {
		t.Fatal("expected a missing-dependency error")
	}
}

// TestPlanSkipsReadOnlyResource ensures a read-only resource, present or
// absent from actual state, never produces an operation.
func TestPlanSkipsReadOnlyResource(t *testing.T) {
	reg := newRegistry()
	ro := &mock.Thing{Base: resource.NewBase("ro", true), Family: "f"}

	p := planner.New(reg, true)
	plan, err := p.Plan([]resource.Resource{ro}, resource.NewEmptyState("default"))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan.Operations) != 0 {
		t.Fatalf("Operations = %+v, want none for a read-only resource", plan.Operations)
	}
}

// TestPlanDefersDependentResourceUntilDependencyRealized covers
// scenario S5's planning half: a DependentResource whose dependency has
// no realized state yet is not built this pass; its create carries the
// unbuilt wrapper, ordered after db's, for the executor to materialize.
func TestPlanDefersDependentResourceUntilDependencyRealized(t *testing.T) {
	reg := newRegistry()
	db := &mock.Thing{Base: resource.NewBase("db", false), Family: "database"}
	dep := &resource.DependentResource{
		Base: resource.NewBase("web", false, db),
		Builder: func(states map[string]resource.ResourceState) (resource.Resource, error) {
			dbState := states["db"].(*mock.ThingState)
			return &mock.Thing{Base: resource.NewBase("web", false, db), Family: "server",
				Attrs: map[string]string{"db_host": dbState.ServerID}}, nil
		},
	}

	p := planner.New(reg, false)
	plan, err := p.Plan([]resource.Resource{db, dep}, resource.NewEmptyState("default"))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan.Operations) != 2 || plan.Operations[0].Resource.ID() != "db" ||
		plan.Operations[1].Resource.ID() != "web" || plan.Operations[1].Kind != planner.OpCreate {
		t.Fatalf("Operations = %+v, want db's create then web's", plan.Operations)
	}
	if _, ok := resource.AsDependentResource(plan.Operations[1].Resource); !ok {
		t.Fatalf("web's create carries %T, want the unbuilt DependentResource", plan.Operations[1].Resource)
	}
}
