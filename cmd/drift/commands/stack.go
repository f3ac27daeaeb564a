package commands

import (
	"context"
	"fmt"

	"github.com/drifthq/drift/pkg/codec"
	"github.com/drifthq/drift/pkg/config"
	"github.com/drifthq/drift/pkg/providers/mock"
	"github.com/drifthq/drift/pkg/providers/wasm"
	"github.com/drifthq/drift/pkg/resource"
	"github.com/drifthq/drift/pkg/statestore"
)

// buildRegistry assembles the reflective codec registry every stack
// command needs before touching a state store: the core fallback type,
// the built-in mock and config-declared resource types, and the wasm
// provider's shared state type.
func buildRegistry() *codec.Registry {
	reg := codec.NewRegistry()
	resource.RegisterCoreTypes(reg)
	mock.RegisterTypes(reg)
	config.RegisterTypes(reg)
	wasm.RegisterTypes(reg)
	return reg
}

// loadProviders constructs the provider list for a stack: the in-process
// mock reference provider plus one wasm.Provider per configured manifest
// path, initialized and ready to dispatch.
func loadProviders(ctx context.Context, manifestPaths []string) ([]resource.Provider, func(context.Context), error) {
	providers := []resource.Provider{mock.New("mock")}

	for _, path := range manifestPaths {
		p, err := wasm.New(path)
		if err != nil {
			return nil, nil, fmt.Errorf("load wasm provider %s: %w", path, err)
		}
		providers = append(providers, p)
	}

	for _, p := range providers {
		if err := p.Initialize(ctx); err != nil {
			return nil, nil, fmt.Errorf("initialize provider %s: %w", p.Name(), err)
		}
	}

	dispose := func(disposeCtx context.Context) {
		for _, p := range providers {
			_ = p.Dispose(disposeCtx)
		}
	}
	return providers, dispose, nil
}

// loadDesired parses the CUE configuration at cfgPath into the flat
// desired resource list the planner operates on.
func loadDesired(ctx context.Context, cfgPath string) ([]resource.Resource, error) {
	parser := config.NewCUEParser()
	parsed, err := parser.Parse(ctx, []string{cfgPath})
	if err != nil {
		return nil, fmt.Errorf("parse configuration: %w", err)
	}
	if len(parsed.Errors) > 0 {
		return nil, fmt.Errorf("configuration invalid: %s", parsed.Errors[0].Message)
	}
	return parser.ToResources(parsed)
}

// buildStack wires together the parsed configuration, state store, and
// provider list into a resource.Stack ready for planning or execution.
// The caller must invoke the returned dispose func once done with the
// stack, regardless of outcome.
func buildStack(ctx context.Context, name, cfgPath, statePath string, manifestPaths []string) (*resource.Stack, func(context.Context), error) {
	desired, err := loadDesired(ctx, cfgPath)
	if err != nil {
		return nil, nil, err
	}

	registry := buildRegistry()

	store, err := statestore.New(statePath, registry)
	if err != nil {
		return nil, nil, fmt.Errorf("open state store: %w", err)
	}

	providers, dispose, err := loadProviders(ctx, manifestPaths)
	if err != nil {
		return nil, nil, err
	}

	stack := &resource.Stack{
		Name:      name,
		Providers: providers,
		Resources: desired,
		Store:     store,
	}
	return stack, dispose, nil
}
