package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/drifthq/drift/pkg/audittrail"
	"github.com/drifthq/drift/pkg/executor"
	"github.com/drifthq/drift/pkg/planner"
)

func newDestroyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Delete every resource currently tracked in the stack's state",
		Long: `destroy plans against an empty desired set, producing a
reverse-dependency-ordered deletion of every resource the state store
currently tracks, then executes it. Configuration is not consulted:
whatever is actually there gets torn down.`,
		RunE: runDestroy,
	}
	cmd.Flags().StringVar(&auditDBPath, "audit-db", ".drft/audit.db", "path to the audit trail database")
	cmd.Flags().BoolVarP(&autoApprove, "auto-approve", "y", false, "destroy without prompting for confirmation")
	return cmd
}

func runDestroy(cmd *cobra.Command, _ []string) error {
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
	if len(actual.Resources) == 0 {
		fmt.Println("Nothing to destroy. State is empty.")
		return nil
	}

	p := planner.New(buildRegistry(), verbose)
	plan, err := p.Plan(nil, actual)
	if err != nil {
		return fmt.Errorf("plan destroy: %w", err)
	}

	if !autoApprove {
		if err := printPlan(plan); err != nil {
			return err
		}
		if !confirm(fmt.Sprintf("Destroy %d resource(s)?", len(plan.Operations))) {
			fmt.Println("Destroy cancelled.")
			return nil
		}
	}

	store, err := openAuditTrail(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	result, execErr := executor.New().Execute(ctx, plan, stack)
	if result != nil {
		if recErr := audittrail.RecordResult(ctx, store, stack.Name, result, execErr); recErr != nil {
			log.Error().Err(recErr).Msg("failed to record run in audit trail")
		}
	}
	if execErr != nil {
		return fmt.Errorf("execute: %w", execErr)
	}
	if !result.Succeeded {
		return fmt.Errorf("destroy completed with failures; see operation results for detail")
	}

	log.Info().Str("run_id", result.RunID).Int("operations", len(result.Results)).Msg("destroy succeeded")
	fmt.Printf("Destroy complete. %d resource(s) removed.\n", len(result.Results))
	return nil
}
