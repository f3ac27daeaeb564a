package audittrail

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/drifthq/drift/pkg/executor"
)

// RecordResult persists one executor.Result as a Run plus its
// constituent Operations, closing the Run as completed or failed
// depending on result.Succeeded. runErr, if non-nil, is the error
// Execute itself returned (a fatal ProviderNotFound/State failure rather
// than a per-operation one) and is stored on the Run instead of any
// Operation.
func RecordResult(ctx context.Context, store Store, stack string, result *executor.Result, runErr error) error {
	now := time.Now()
	run := &Run{
		ID:        result.RunID,
		Stack:     stack,
		Status:    RunStatusCompleted,
		StartedAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if runErr != nil {
		msg := runErr.Error()
		run.Status = RunStatusFailed
		run.Error = &msg
	} else if !result.Succeeded {
		run.Status = RunStatusFailed
	}
	completedAt := time.Now()
	run.CompletedAt = &completedAt

	if err := store.CreateRun(ctx, run); err != nil {
		return err
	}

	for _, opResult := range result.Results {
		var errMsg *string
		if opResult.Err != nil {
			msg := opResult.Err.Error()
			errMsg = &msg
		}
		op := &Operation{
			ID:           uuid.NewString(),
			RunID:        run.ID,
			ResourceID:   opResult.Operation.Resource.ID(),
			ResourceType: opResult.Operation.Resource.Type(),
			Kind:         string(opResult.Operation.Kind),
			Success:      opResult.Success,
			Error:        errMsg,
			CreatedAt:    time.Now(),
		}
		if err := store.CreateOperation(ctx, op); err != nil {
			return err
		}
	}

	return nil
}
