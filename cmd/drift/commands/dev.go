package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/drifthq/drift/pkg/planner"
	"github.com/drifthq/drift/pkg/policy"
)

const devReplanDebounce = 300 * time.Millisecond

func newDevCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Watch the configuration (and policy) directories and re-plan on every change",
		Long: `dev computes an initial plan, then watches the CUE stack directory for
.cue file changes and the --policy paths for rego/JSON policy changes,
recomputing and printing the plan whenever either changes. It never
applies anything; use apply once the printed plan looks right.`,
		RunE: runDev,
	}
	cmd.Flags().StringSliceVar(&policyPaths, "policy", nil, "rego policy files or directories to evaluate each recomputed plan against")
	return cmd
}

func runDev(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	if err := runDevPlan(ctx); err != nil {
		log.Error().Err(err).Msg("initial plan failed")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()

	if err := addConfigWatches(watcher, configPath); err != nil {
		return fmt.Errorf("watch config path %s: %w", configPath, err)
	}

	if len(policyPaths) > 0 {
		loader := policy.NewLoader(log.Logger)
		if err := loader.Watch(ctx, policyPaths, func(_ []policy.Policy) error {
			log.Info().Msg("policies changed, re-planning")
			return runDevPlan(ctx)
		}); err != nil {
			return fmt.Errorf("watch policy paths: %w", err)
		}
		defer loader.StopWatching()
	}

	log.Info().Str("config", configPath).Msg("watching for changes, press ctrl-c to stop")

	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !strings.HasSuffix(event.Name, ".cue") {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			name := event.Name
			timer = time.AfterFunc(devReplanDebounce, func() {
				log.Info().Str("file", name).Msg("config changed, re-planning")
				if err := runDevPlan(ctx); err != nil {
					log.Error().Err(err).Msg("plan failed")
				}
			})

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(watchErr).Msg("config watcher error")
		}
	}
}

// addConfigWatches registers configPath, or every directory beneath it,
// with watcher. fsnotify watches are non-recursive, so directories must
// be added individually.
func addConfigWatches(watcher *fsnotify.Watcher, root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return watcher.Add(filepath.Dir(root))
	}
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}

// runDevPlan rebuilds the stack from the current configuration and
// prints a fresh plan, mirroring the plan command's body without
// treating policy denial as fatal to the watch loop.
func runDevPlan(ctx context.Context) error {
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
			log.Error().Err(err).Msg("policy evaluation denied the plan")
			return nil
		}
	}

	return printPlan(plan)
}
