package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/drifthq/drift/pkg/audittrail"
	"github.com/drifthq/drift/pkg/executor"
	"github.com/drifthq/drift/pkg/planner"
)

var (
	auditDBPath string
	autoApprove bool
)

func newApplyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Plan and execute the operations needed to reconcile actual state with configuration",
		Long: `apply computes the same plan as "drift plan" and, unless the user
declines the confirmation prompt, dispatches it through the stack's
providers in dependency order. Every run is recorded to the audit
trail database regardless of outcome.`,
		RunE: runApply,
	}
	cmd.Flags().StringSliceVar(&policyPaths, "policy", nil, "rego policy files or directories to evaluate the plan against")
	cmd.Flags().StringVar(&auditDBPath, "audit-db", ".drft/audit.db", "path to the audit trail database")
	cmd.Flags().BoolVarP(&autoApprove, "auto-approve", "y", false, "apply without prompting for confirmation")
	return cmd
}

func runApply(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	stack, dispose, err := buildStack(ctx, "default", configPath, statePath, nil)
	if err != nil {
		return err
	}
	defer dispose(ctx)

	actual, err := stack.Store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	p := planner.New(buildRegistry(), verbose)
	plan, err := p.Plan(stack.Resources, actual)
	if err != nil {
		return fmt.Errorf("plan: %w", err)
	}

	if len(policyPaths) > 0 {
		if err := evaluatePlanPolicy(ctx, plan, policyPaths); err != nil {
			return err
		}
	}

	if len(plan.Operations) == 0 {
		fmt.Println("No changes. Actual state matches configuration.")
		return nil
	}

	if !autoApprove {
		if err := printPlan(plan); err != nil {
			return err
		}
		if !confirm("Apply these operations?") {
			fmt.Println("Apply cancelled.")
			return nil
		}
	}

	store, err := openAuditTrail(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	result, execErr := executor.New().Execute(ctx, plan, stack)
	recorded := result
	if recorded == nil {
		// A fatal error leaves no Result; record the run under the plan's id.
		recorded = &executor.Result{RunID: plan.ID}
	}
	if recErr := audittrail.RecordResult(ctx, store, stack.Name, recorded, execErr); recErr != nil {
		log.Error().Err(recErr).Msg("failed to record run in audit trail")
	}
	if execErr != nil {
		return fmt.Errorf("execute: %w", execErr)
	}
	if !result.Succeeded {
		return fmt.Errorf("apply completed with failures; see operation results for detail")
	}

	log.Info().Str("run_id", result.RunID).Int("operations", len(result.Results)).Msg("apply succeeded")
	fmt.Printf("Apply complete. %d operation(s) applied.\n", len(result.Results))
	return nil
}

// openAuditTrail opens and migrates the audit trail database at
// auditDBPath, creating it on first use.
func openAuditTrail(ctx context.Context) (*audittrail.SQLiteStore, error) {
	store, err := audittrail.New(auditDBPath)
	if err != nil {
		return nil, fmt.Errorf("open audit trail: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("init audit trail: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate audit trail: %w", err)
	}
	return store, nil
}
