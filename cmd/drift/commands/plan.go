package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/drifthq/drift/pkg/planner"
	"github.com/drifthq/drift/pkg/policy"
)

var policyPaths []string

func newPlanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Compute the operations needed to reconcile actual state with desired configuration",
		Long: `plan parses the configured CUE sources, loads the stack's persisted
actual state, and computes the dependency-ordered set of create, update,
and delete operations apply would perform. It never touches provider
state itself.`,
		RunE: runPlan,
	}
	cmd.Flags().StringSliceVar(&policyPaths, "policy", nil, "rego policy files or directories to evaluate the plan against")
	return cmd
}

func runPlan(cmd *cobra.Command, _ []string) error {
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

	log.Info().Int("operations", len(plan.Operations)).Str("plan_id", plan.ID).Msg("plan computed")
	return printPlan(plan)
}

// evaluatePlanPolicy loads the given rego sources and fails the command
// if evaluating the plan against them is not Allowed. It is a fail-open
// warning rather than a hard error for warning-severity violations,
// surfacing them in the log either way.
func evaluatePlanPolicy(ctx context.Context, plan *planner.Plan, paths []string) error {
	eng, err := policy.NewEngine(log.Logger)
	if err != nil {
		return fmt.Errorf("init policy engine: %w", err)
	}
	if err := eng.LoadPolicies(ctx, paths); err != nil {
		return fmt.Errorf("load policies: %w", err)
	}
	result, err := eng.EvaluatePlan(ctx, plan)
	if err != nil {
		return fmt.Errorf("evaluate policy: %w", err)
	}
	for _, w := range result.Warnings {
		log.Warn().Str("policy", w.Policy).Str("resource", w.Resource).Msg(w.Message)
	}
	logViolation := log.Warn
	if !result.Allowed {
		logViolation = log.Error
	}
	for _, v := range result.Violations {
		logViolation().Str("policy", v.Policy).Str("resource", v.Resource).Msg(v.Message)
	}
	if !result.Allowed {
		return fmt.Errorf("policy evaluation denied the plan (%d violation(s))", len(result.Violations))
	}
	return nil
}

func printPlan(plan *planner.Plan) error {
	if jsonOutput {
		enc, err := json.MarshalIndent(plan, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(enc))
		return nil
	}

	if len(plan.Operations) == 0 {
		fmt.Println("No changes. Actual state matches configuration.")
		return nil
	}
	for _, op := range plan.Operations {
		fmt.Printf("%-8s %s (%s)\n", op.Kind, op.Resource.ID(), op.Resource.Type())
		for _, d := range plan.Diffs[op.Resource.ID()] {
			fmt.Printf("           %s: %v -> %v\n", d.Field, d.Current, d.Desired)
		}
	}
	if len(plan.Unchanged) > 0 {
		fmt.Printf("%d unchanged resource(s)\n", len(plan.Unchanged))
	}
	return nil
}
