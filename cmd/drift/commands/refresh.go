package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/drifthq/drift/pkg/drifterr"
	"github.com/drifthq/drift/pkg/resource"
)

func newRefreshCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Re-read actual resource state from providers without planning or applying changes",
		Long: `refresh observes every resource currently tracked in state (plus
every read-only configured resource) through its provider's Read method
and persists whatever it finds, without computing or dispatching any
create/update/delete operation. Resources no longer found by their
provider are dropped from state rather than left stale.`,
		RunE: runRefresh,
	}
	return cmd
}

func runRefresh(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	stack, dispose, err := buildStack(ctx, "default", configPath, statePath, nil)
	if err != nil {
		return err
	}
	defer dispose(ctx)

	if err := stack.Store.Lock(ctx); err != nil {
		return fmt.Errorf("lock state: %w", err)
	}
	defer stack.Store.Unlock(ctx)

	actual, err := stack.Store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	byID := make(map[string]resource.Resource, len(stack.Resources))
	for _, r := range stack.Resources {
		byID[r.ID()] = r
	}

	refreshed := make(map[string]resource.ResourceState, len(actual.Resources))
	dropped := 0

	for id, state := range actual.Resources {
		realized := state.Realized()
		if realized == nil {
			refreshed[id] = state
			continue
		}
		provider, ok := stack.ProviderFor(realized)
		if !ok {
			return drifterr.NewProviderNotFound("no provider can handle resource", nil).
				WithResource(id).WithOperation("refresh")
		}
		newState, err := provider.Read(ctx, realized)
		if err != nil {
			if drifterr.Is(err, drifterr.KindResourceNotFound) {
				log.Warn().Str("resource", id).Msg("resource no longer exists, dropping from state")
				dropped++
				continue
			}
			return fmt.Errorf("refresh %s: %w", id, err)
		}
		refreshed[id] = newState
	}

	// Observe any configured read-only resource not yet in state.
	for id, r := range byID {
		if !r.IsReadOnly() {
			continue
		}
		if _, ok := refreshed[id]; ok {
			continue
		}
		provider, ok := stack.ProviderFor(r)
		if !ok {
			return drifterr.NewProviderNotFound("no provider can handle read-only resource", nil).
				WithResource(id).WithOperation("refresh")
		}
		newState, err := provider.Read(ctx, r)
		if err != nil {
			return fmt.Errorf("refresh %s: %w", id, err)
		}
		refreshed[id] = newState
	}

	newState := &resource.State{
		Version:   resource.StateVersion,
		Stack:     stack.Name,
		Resources: refreshed,
	}
	if err := stack.Store.Save(ctx, newState); err != nil {
		return fmt.Errorf("save state: %w", err)
	}

	log.Info().Int("resources", len(refreshed)).Int("dropped", dropped).Msg("refresh complete")
	fmt.Printf("Refresh complete. %d resource(s) tracked, %d dropped.\n", len(refreshed), dropped)
	return nil
}
