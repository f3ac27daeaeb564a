// Package executor drives a Plan through its stack's providers: it
// acquires the state store lock, observes read-only resources, dispatches
// each operation (materializing late-bound DependentResources as their
// dependencies complete), and commits the resulting state atomically —
// only if every operation in the plan succeeded.
//
// Adapted from the teacher's Executor/ExecutionResult shapes
// (pkg/engine/interfaces.go), rewritten around spec.md §4.E's exact
// policy: continue past per-operation provider failures to produce a
// complete diagnostic report, but treat ProviderNotFound and StateError
// as fatal and non-continuable, and never persist a partially-applied
// working map.
package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/google/uuid"

	"github.com/drifthq/drift/pkg/drifterr"
	"github.com/drifthq/drift/pkg/planner"
	"github.com/drifthq/drift/pkg/resource"
)

// OperationResult is the per-operation outcome recorded while walking a
// Plan: which operation ran, whether it succeeded, the resulting state
// (nil for a failed or delete operation), the error (nil on success), and
// a captured stack trace for diagnostics when it failed.
type OperationResult struct {
	ID         string
	Operation  planner.Operation
	Success    bool
	NewState   resource.ResourceState
	Err        error
	StackTrace string
}

// Result is the outcome of one Execute call.
type Result struct {
	// RunID correlates this execution across logs and the audit trail.
	RunID string

	Results []OperationResult

	// Succeeded reports whether every operation in the plan succeeded. If
	// false, the state store was left untouched: the caller should
	// refresh and re-plan rather than retry blindly.
	Succeeded bool
}

// Executor walks a Plan sequentially against a Stack's providers.
type Executor struct{}

// New returns an Executor. It carries no state of its own; everything it
// needs is passed to Execute.
func New() *Executor { return &Executor{} }

// Execute runs plan against stack: acquire the lock, load current state,
// observe read-only resources, dispatch every operation in order, and —
// only if every operation succeeded — persist the resulting state.
//
// A *drifterr.DriftError of KindProviderNotFound or KindState aborts the
// run immediately and is returned as the function's error, never folded
// into Result.Results, matching the "always fatal" policy spec.md §9
// confirms for a ProviderNotFound surfacing mid-plan.
func (e *Executor) Execute(ctx context.Context, plan *planner.Plan, stack *resource.Stack) (*Result, error) {
	if err := stack.Store.Lock(ctx); err != nil {
		return nil, err
	}
	defer stack.Store.Unlock(ctx)

	current, err := stack.Store.Load(ctx)
	if err != nil {
		return nil, err
	}

	working := make(map[string]resource.ResourceState, len(current.Resources))
	for id, st := range current.Resources {
		working[id] = st
	}

	if err := e.readOnlyPrepass(ctx, stack, working); err != nil {
		return nil, err
	}

	result := &Result{RunID: plan.ID}
	allSucceeded := true

	for _, op := range plan.Operations {
		opResult, err := e.dispatch(ctx, stack, working, op)
		if err != nil {
			// ProviderNotFound: fatal, propagated, never recorded as a
			// per-operation result.
			return nil, err
		}
		result.Results = append(result.Results, opResult)
		if !opResult.Success {
			allSucceeded = false
			continue
		}
		switch op.Kind {
		case planner.OpDelete:
			delete(working, opResult.Operation.Resource.ID())
		default:
			working[opResult.Operation.Resource.ID()] = opResult.NewState
		}
	}

	result.Succeeded = allSucceeded
	if !allSucceeded {
		// Deliberate: partial writes would leave persisted state
		// misaligned with reality for operations that already committed
		// externally. The in-memory working map is discarded; the caller
		// is expected to refresh and re-plan.
		return result, nil
	}

	newState := &resource.State{
		Version:   resource.StateVersion,
		Stack:     stack.Name,
		Resources: working,
	}
	if err := stack.Store.Save(ctx, newState); err != nil {
		return nil, err
	}
	return result, nil
}

// readOnlyPrepass observes every read-only stack resource not already
// present in working, inserting its realized state so dependents can read
// its outputs and so it is included in the eventual persisted state.
func (e *Executor) readOnlyPrepass(ctx context.Context, stack *resource.Stack, working map[string]resource.ResourceState) error {
	for _, r := range stack.Resources {
		if !r.IsReadOnly() {
			continue
		}
		id := r.ID()
		if _, ok := working[id]; ok {
			continue
		}
		provider, ok := stack.ProviderFor(r)
		if !ok {
			return drifterr.NewProviderNotFound("no provider can handle read-only resource", nil).
				WithResource(id).WithOperation("read")
		}
		state, err := provider.Read(ctx, r)
		if err != nil {
			var de *drifterr.DriftError
			if errors.As(err, &de) {
				return de.WithResource(id).WithOperation("read")
			}
			return drifterr.NewResourceNotFound("read-only resource not found", err).
				WithResource(id).WithOperation("read")
		}
		working[id] = state
	}
	return nil
}

// dispatch materializes a DependentResource operation if needed, locates
// the handling provider, and calls the matching CRUD method. A missing
// provider returns a non-nil error (fatal, handled by the caller); every
// other outcome is folded into the returned OperationResult instead.
func (e *Executor) dispatch(ctx context.Context, stack *resource.Stack, working map[string]resource.ResourceState, op planner.Operation) (OperationResult, error) {
	res := op.Resource
	if dep, ok := resource.AsDependentResource(res); ok {
		built, err := buildFromWorking(dep, working)
		if err != nil {
			return failedResult(op, drifterr.NewProvider("failed to build late-bound resource", err).
				WithResource(dep.ID())), nil
		}
		res = built
		op = planner.Operation{Kind: op.Kind, Resource: res, Current: op.Current}
	}

	provider, ok := stack.ProviderFor(res)
	if !ok {
		return OperationResult{}, drifterr.NewProviderNotFound("no provider can handle resource", nil).
			WithResource(res.ID()).WithOperation(string(op.Kind))
	}

	var newState resource.ResourceState
	var opErr error
	switch op.Kind {
	case planner.OpCreate:
		newState, opErr = provider.Create(ctx, res)
	case planner.OpUpdate:
		newState, opErr = provider.Update(ctx, op.Current, res)
	case planner.OpDelete:
		opErr = provider.Delete(ctx, op.Current)
	default:
		opErr = fmt.Errorf("executor: unknown operation kind %q", op.Kind)
	}

	if opErr != nil {
		return failedResult(op, opErr), nil
	}
	return OperationResult{
		ID:        uuid.NewString(),
		Operation: op,
		Success:   true,
		NewState:  newState,
	}, nil
}

// buildFromWorking resolves dep's dependencies against working — every
// one of them must already be present, by the DAG invariant that a
// dependency's operation always precedes its dependents' — and invokes
// the builder.
func buildFromWorking(dep *resource.DependentResource, working map[string]resource.ResourceState) (resource.Resource, error) {
	depIDs := resource.DepIDsOf(dep)
	states := make(map[string]resource.ResourceState, len(depIDs))
	for _, id := range depIDs {
		state, ok := working[id]
		if !ok {
			return nil, fmt.Errorf("internal error: dependency %q of %q not yet realized", id, dep.ID())
		}
		states[id] = state
	}
	return dep.Build(states)
}

func failedResult(op planner.Operation, err error) OperationResult {
	return OperationResult{
		ID:         uuid.NewString(),
		Operation:  op,
		Success:    false,
		Err:        err,
		StackTrace: string(debug.Stack()),
	}
}
