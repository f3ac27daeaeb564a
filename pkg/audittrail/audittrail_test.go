package audittrail_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/drifthq/drift/pkg/audittrail"
	"github.com/drifthq/drift/pkg/executor"
	"github.com/drifthq/drift/pkg/planner"
	"github.com/drifthq/drift/pkg/resource"
)

func newTestStore(t *testing.T) *audittrail.SQLiteStore {
	t.Helper()
	ctx := context.Background()
	store, err := audittrail.New(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateAndGetRun(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	run := &audittrail.Run{ID: "run-1", Stack: "default", Status: audittrail.RunStatusRunning}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Stack != "default" || got.Status != audittrail.RunStatusRunning {
		t.Fatalf("got = %+v, want stack=default status=running", got)
	}
}

func TestUpdateRunStatus(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	run := &audittrail.Run{ID: "run-2", Stack: "default", Status: audittrail.RunStatusRunning}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	if err := store.UpdateRunStatus(ctx, "run-2", audittrail.RunStatusCompleted, nil); err != nil {
		t.Fatalf("UpdateRunStatus: %v", err)
	}

	got, err := store.GetRun(ctx, "run-2")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != audittrail.RunStatusCompleted || got.CompletedAt == nil {
		t.Fatalf("got = %+v, want status=completed with CompletedAt set", got)
	}
}

func TestUpdateRunStatusUnknownRun(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.UpdateRunStatus(ctx, "missing", audittrail.RunStatusFailed, nil); err == nil {
		t.Fatal("UpdateRunStatus: want error for unknown run id")
	}
}

func TestRecordResultSucceeded(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	thing := &fakeResource{id: "web"}
	result := &executor.Result{
		RunID:     "run-3",
		Succeeded: true,
		Results: []executor.OperationResult{
			{Operation: planner.Operation{Kind: planner.OpCreate, Resource: thing}, Success: true},
		},
	}

	if err := audittrail.RecordResult(ctx, store, "default", result, nil); err != nil {
		t.Fatalf("RecordResult: %v", err)
	}

	run, err := store.GetRun(ctx, "run-3")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != audittrail.RunStatusCompleted {
		t.Fatalf("run.Status = %v, want completed", run.Status)
	}

	ops, err := store.ListOperationsByRun(ctx, "run-3")
	if err != nil {
		t.Fatalf("ListOperationsByRun: %v", err)
	}
	if len(ops) != 1 || ops[0].ResourceID != "web" || !ops[0].Success {
		t.Fatalf("ops = %+v, want one successful operation for web", ops)
	}
}

func TestRecordResultFailedExecution(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	result := &executor.Result{RunID: "run-4", Succeeded: false}
	if err := audittrail.RecordResult(ctx, store, "default", result, fakeErr{}); err != nil {
		t.Fatalf("RecordResult: %v", err)
	}

	run, err := store.GetRun(ctx, "run-4")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != audittrail.RunStatusFailed || run.Error == nil {
		t.Fatalf("run = %+v, want status=failed with Error set", run)
	}
}

type fakeResource struct {
	id string
}

func (r *fakeResource) ID() string                        { return r.id }
func (r *fakeResource) Dependencies() []resource.Resource { return nil }
func (r *fakeResource) Type() string                      { return "audittrail_test.fakeResource" }
func (r *fakeResource) IsReadOnly() bool                  { return false }

type fakeErr struct{}

func (fakeErr) Error() string { return "boom" }
