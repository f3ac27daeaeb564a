// Package planner implements the diffing engine that compares a stack's
// desired resources against its persisted actual state and produces a
// dependency-ordered Plan of create/update/delete operations.
//
// Adapted from the teacher's DefaultPlanner (pkg/engine/planner.go): kept
// the "struct wrapping a diff+order pipeline" shape, but replaced its
// per-level priority bubble-sort with the exact three-batch rule in
// spec.md §4.D (creates+updates topological, deletes reverse
// topological), and replaced provider-delegated diffing with the
// reflective codec's field-wise comparison so the core stays
// provider-agnostic.
package planner

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"github.com/google/uuid"

	"github.com/drifthq/drift/pkg/codec"
	"github.com/drifthq/drift/pkg/drifterr"
	"github.com/drifthq/drift/pkg/graph"
	"github.com/drifthq/drift/pkg/resource"
)

// OperationKind tags a Plan entry as a create, update, or delete.
type OperationKind string

const (
	OpCreate OperationKind = "create"
	OpUpdate OperationKind = "update"
	OpDelete OperationKind = "delete"
)

// Operation is one step of a Plan: act on Resource (for create/update, the
// resource's desired shape; for delete, the resource as last realized) via
// Kind. Current is the existing ResourceState for update and delete.
type Operation struct {
	Kind     OperationKind
	Resource resource.Resource
	Current  resource.ResourceState
}

// Diff describes a single field that differs between the current and
// desired shape of a resource being updated. Only populated in verbose
// mode.
type Diff struct {
	Field   string
	Current any
	Desired any
}

// Plan is the ordered output of a planning pass: creates and updates
// first (dependency order), then deletes (reverse dependency order).
type Plan struct {
	// ID identifies this plan run, primarily for audit-trail correlation.
	ID string

	Operations []Operation

	// Verbose diagnostics; empty unless Planner.Verbose was set.
	Diffs     map[string][]Diff // resource id -> field diffs, for updates
	Unchanged []string          // resource ids left untouched (read-only or equal)
}

// Planner computes a Plan from desired resources and actual state.
type Planner struct {
	Registry *codec.Registry
	Verbose  bool
}

// New returns a Planner backed by registry, used for field-wise diffing of
// resource attributes via the reflective codec.
func New(registry *codec.Registry, verbose bool) *Planner {
	return &Planner{Registry: registry, Verbose: verbose}
}

// Plan diffs desired against actual and returns a dependency-ordered Plan.
// A missing-dependency violation (spec.md §4.C) aborts before any
// operation is produced, returned as a *drifterr.DriftError of
// KindValidation.
func (p *Planner) Plan(desired []resource.Resource, actual *resource.State) (*Plan, error) {
	g := graph.New()
	for _, r := range desired {
		g.Add(r)
	}
	if err := g.Validate(); err != nil {
		return nil, drifterr.NewValidation("dependency graph validation failed", err)
	}

	byID := make(map[string]resource.Resource, len(desired))
	for _, r := range desired {
		byID[r.ID()] = r
	}

	plan := &Plan{
		ID:    uuid.NewString(),
		Diffs: make(map[string][]Diff),
	}

	// opOf collects, per id, the operation to emit for creates/updates;
	// ids with no entry here produce no create/update operation (skipped
	// read-only resources, and DependentResources already in actual state
	// whose dependencies aren't materialized yet).
	opOf := make(map[string]Operation)

	for _, r := range desired {
		id := r.ID()
		state, exists := actual.Resources[id]

		if !exists {
			if r.IsReadOnly() {
				continue
			}
			if dep, ok := resource.AsDependentResource(r); ok {
				if states, ready := dependencyStates(dep, actual); ready {
					built, err := dep.Build(states)
					if err == nil {
						opOf[id] = Operation{Kind: OpCreate, Resource: built}
						continue
					}
					// Builder failure is not fatal: retain the wrapper and
					// defer materialization to the executor.
				}
				opOf[id] = Operation{Kind: OpCreate, Resource: r}
				continue
			}
			opOf[id] = Operation{Kind: OpCreate, Resource: r}
			continue
		}

		// Present in actual state.
		if r.IsReadOnly() {
			if p.Verbose {
				plan.Unchanged = append(plan.Unchanged, id)
			}
			continue
		}

		effective := r
		if dep, ok := resource.AsDependentResource(r); ok {
			states, ready := dependencyStates(dep, actual)
			if !ready {
				// Rechecked once dependencies materialize in a later plan.
				continue
			}
			built, err := dep.Build(states)
			if err != nil {
				return nil, drifterr.NewValidation("failed to build late-bound resource", err).WithResource(id)
			}
			effective = built
		}

		equal, diffs, err := compareFields(p.Registry, state.Realized(), effective)
		if err != nil {
			return nil, drifterr.NewValidation("failed to compare resource fields", err).WithResource(id)
		}
		if equal {
			if p.Verbose {
				plan.Unchanged = append(plan.Unchanged, id)
			}
			continue
		}
		op := Operation{Kind: OpUpdate, Resource: effective, Current: state}
		opOf[id] = op
		if p.Verbose {
			plan.Diffs[id] = diffs
		}
	}

	// Deletions: actual ids absent from desired.
	deleteIDs := make([]string, 0)
	dg := graph.New()
	for id, state := range actual.Resources {
		if _, stillDesired := byID[id]; stillDesired {
			continue
		}
		if state.Realized() != nil && state.Realized().IsReadOnly() {
			continue
		}
		deleteIDs = append(deleteIDs, id)
	}
	sort.Strings(deleteIDs) // deterministic insertion order into dg
	for _, id := range deleteIDs {
		state := actual.Resources[id]
		var depIDs []string
		if state.Realized() != nil {
			depIDs = resource.DepIDsOf(state.Realized())
		}
		dg.AddIDs(id, depIDs)
	}
	deleteOps := make(map[string]Operation, len(deleteIDs))
	for _, id := range deleteIDs {
		deleteOps[id] = Operation{Kind: OpDelete, Resource: actual.Resources[id].Realized(), Current: actual.Resources[id]}
	}

	// Order: creates+updates by topological order of the desired graph,
	// then deletes by reverse topological order of the delete subgraph.
	for _, id := range g.TopologicalOrder() {
		if op, ok := opOf[id]; ok {
			plan.Operations = append(plan.Operations, op)
		}
	}
	for _, id := range dg.ReverseTopologicalOrder() {
		plan.Operations = append(plan.Operations, deleteOps[id])
	}

	return plan, nil
}

// dependencyStates reports whether every dependency of dep already has a
// realized ResourceState in actual, returning the id-keyed map the
// builder consumes if so.
func dependencyStates(dep *resource.DependentResource, actual *resource.State) (map[string]resource.ResourceState, bool) {
	depIDs := resource.DepIDsOf(dep)
	states := make(map[string]resource.ResourceState, len(depIDs))
	for _, id := range depIDs {
		state, ok := actual.Resources[id]
		if !ok {
			return nil, false
		}
		states[id] = state
	}
	return states, true
}

// compareFields performs the field-wise deep equality the planner uses to
// detect updates: both resources are encoded through the reflective codec
// and compared field by field, excluding the metadata fields .type, id,
// and dependencies.
func compareFields(registry *codec.Registry, current, desired resource.Resource) (equal bool, diffs []Diff, err error) {
	currentFields, err := fieldsOf(registry, current)
	if err != nil {
		return false, nil, fmt.Errorf("encode current: %w", err)
	}
	desiredFields, err := fieldsOf(registry, desired)
	if err != nil {
		return false, nil, fmt.Errorf("encode desired: %w", err)
	}

	names := make(map[string]bool, len(currentFields)+len(desiredFields))
	for k := range currentFields {
		names[k] = true
	}
	for k := range desiredFields {
		names[k] = true
	}

	sorted := make([]string, 0, len(names))
	for k := range names {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	for _, name := range sorted {
		a, b := currentFields[name], desiredFields[name]
		if !reflect.DeepEqual(a, b) {
			diffs = append(diffs, Diff{Field: name, Current: a, Desired: b})
		}
	}
	return len(diffs) == 0, diffs, nil
}

func fieldsOf(registry *codec.Registry, r resource.Resource) (map[string]any, error) {
	raw, err := registry.Encode(r)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	delete(m, ".type")
	delete(m, "id")
	delete(m, "dependencies")
	return m, nil
}
