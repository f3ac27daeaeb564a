package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/drifthq/drift/pkg/config"
	"github.com/drifthq/drift/pkg/graph"
	"github.com/drifthq/drift/pkg/policy"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration syntax, schema, and dependency graph",
		Long: `validate parses the configured CUE sources, checks the result
against CUE's own schema constraints, and verifies the declared
resources form a valid dependency graph (no cycles, no missing
references) without consulting any provider or the state store. If
--policy is given, the parsed resources are also evaluated against it.`,
		RunE: runValidate,
	}
	cmd.Flags().StringSliceVar(&policyPaths, "policy", nil, "rego policy files or directories to evaluate configuration against")
	return cmd
}

func runValidate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	parser := config.NewCUEParser()
	parsed, err := parser.Parse(ctx, []string{configPath})
	if err != nil {
		return fmt.Errorf("parse configuration: %w", err)
	}
	if len(parsed.Errors) > 0 {
		for _, verr := range parsed.Errors {
			fmt.Printf("%s: %s\n", verr.Severity, verr.Message)
		}
		return fmt.Errorf("configuration has %d error(s)", len(parsed.Errors))
	}

	resources, err := parser.ToResources(parsed)
	if err != nil {
		return fmt.Errorf("resolve resources: %w", err)
	}

	g := graph.New()
	for _, r := range resources {
		g.Add(r)
	}
	if err := g.Validate(); err != nil {
		return fmt.Errorf("dependency graph invalid: %w", err)
	}
	if order := g.TopologicalOrder(); len(order) != g.Len() {
		return fmt.Errorf("dependency graph invalid: %d resource(s) are in or depend on a dependency cycle", g.Len()-len(order))
	}

	if len(policyPaths) > 0 {
		eng, err := policy.NewEngine(log.Logger)
		if err != nil {
			return fmt.Errorf("init policy engine: %w", err)
		}
		if err := eng.LoadPolicies(ctx, policyPaths); err != nil {
			return fmt.Errorf("load policies: %w", err)
		}
		result, err := eng.Evaluate(ctx, resources)
		if err != nil {
			return fmt.Errorf("evaluate policy: %w", err)
		}
		for _, w := range result.Warnings {
			log.Warn().Str("policy", w.Policy).Str("resource", w.Resource).Msg(w.Message)
		}
		if !result.Allowed {
			for _, v := range result.Violations {
				log.Error().Str("policy", v.Policy).Str("resource", v.Resource).Msg(v.Message)
			}
			return fmt.Errorf("policy evaluation denied the configuration (%d violation(s))", len(result.Violations))
		}
	}

	fmt.Printf("Configuration valid. %d resource(s), %d source file(s).\n", len(resources), len(parsed.SourceFiles))
	return nil
}
