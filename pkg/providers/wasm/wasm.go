// Package wasm hosts a single declarative resource family inside a
// sandboxed wazero runtime: the compiled module is the only code that
// ever touches the real external system, and the host only ever
// exchanges JSON across a malloc/free boundary with it.
//
// Adapted from pkg/providers/host/{host,bridge,manifest,capabilities}.go
// (the teacher's WASMHostProvider), rewritten around the five-method
// resource.Provider contract in place of the teacher's richer
// Init/Read/Plan/Apply/Destroy/Validate/Schema/Metadata protocol, since
// planning and diffing are the core's job now rather than something
// pushed down into the provider.
package wasm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/drifthq/drift/pkg/codec"
	"github.com/drifthq/drift/pkg/drifterr"
	"github.com/drifthq/drift/pkg/resource"
)

const defaultMemoryLimitPages = 256 // 16MB

// State is the realized form of any resource a wasm Provider creates: a
// free-form attribute bag the module itself defines the shape of. The
// codec has no way to know a wasm module's output shape ahead of time,
// so unlike a native provider's ResourceState, wasm.State carries its
// payload as an untyped map rather than named Go fields.
type State struct {
	resource.BaseState
	Attrs map[string]any `drift:"attrs" json:"attrs,omitempty"`
}

// Type implements the codec tag for State.
func (s *State) Type() string { return "wasm.State" }

// RegisterTypes registers State with reg so the reflective codec can
// encode and decode it.
func RegisterTypes(reg *codec.Registry) {
	reg.Register("wasm.State", &State{})
}

// Provider is a resource.Provider backed by one compiled WASM module. It
// claims every resource whose declared type matches its manifest's
// ResourceType.
type Provider struct {
	manifest *Manifest
	timeout  time.Duration

	runtime  wazero.Runtime
	module   api.Module
	bridge   *bridge
	enforcer *capabilityEnforcer

	settings map[string]any
}

// New loads a provider manifest from manifestPath. The WASM module
// itself is not read until Initialize.
func New(manifestPath string) (*Provider, error) {
	m, err := LoadManifest(manifestPath)
	if err != nil {
		return nil, err
	}
	return &Provider{manifest: m, timeout: 30 * time.Second}, nil
}

// Name implements resource.Provider.
func (p *Provider) Name() string { return p.manifest.Name }

// CanHandle implements resource.Provider. It reads r's "type" JSON field
// rather than type-asserting to a concrete Go struct, since the engine
// has no compile-time knowledge of what a wasm-backed resource type
// looks like in Go.
func (p *Provider) CanHandle(r resource.Resource) bool {
	raw, err := json.Marshal(r)
	if err != nil {
		return false
	}
	var shape struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &shape); err != nil {
		return false
	}
	return shape.Type == p.manifest.ResourceType
}

// Configure implements resource.Provider.
func (p *Provider) Configure(settings map[string]any) error {
	p.settings = settings
	if timeout, ok := settings["timeout"].(string); ok {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return fmt.Errorf("wasm: invalid timeout %q: %w", timeout, err)
		}
		p.timeout = d
	}
	return nil
}

// Initialize implements resource.Provider: it compiles and instantiates
// the module, wires the capability-gated host functions, and calls the
// module's own provider_init export with the Configure settings.
func (p *Provider) Initialize(ctx context.Context) error {
	wasmBytes, err := os.ReadFile(p.manifest.ModulePath())
	if err != nil {
		return drifterr.NewProvider("wasm: read module", err)
	}

	runtimeConfig := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(defaultMemoryLimitPages).
		WithCloseOnContextDone(true)
	p.runtime = wazero.NewRuntimeWithConfig(ctx, runtimeConfig)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, p.runtime); err != nil {
		p.runtime.Close(ctx)
		return drifterr.NewProvider("wasm: instantiate WASI", err)
	}

	p.enforcer = newCapabilityEnforcer(p.manifest.Capabilities, os.TempDir())
	if err := registerHostFunctions(ctx, p.runtime, p.enforcer); err != nil {
		p.runtime.Close(ctx)
		return drifterr.NewProvider("wasm: register host functions", err)
	}

	module, err := p.runtime.Instantiate(ctx, wasmBytes)
	if err != nil {
		p.runtime.Close(ctx)
		return drifterr.NewProvider("wasm: instantiate module", err)
	}
	p.module = module

	b, err := newBridge(module)
	if err != nil {
		module.Close(ctx)
		p.runtime.Close(ctx)
		return drifterr.NewProvider("wasm: build bridge", err)
	}
	p.bridge = b

	settingsJSON, err := json.Marshal(p.settings)
	if err != nil {
		return drifterr.NewProvider("wasm: marshal settings", err)
	}
	initCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	out, err := p.bridge.callInit(initCtx, settingsJSON)
	if err != nil {
		return drifterr.NewProvider("wasm: provider_init", err)
	}
	return errorFieldOf(out)
}

// Dispose implements resource.Provider.
func (p *Provider) Dispose(ctx context.Context) error {
	if p.enforcer != nil {
		_ = p.enforcer.cleanup()
	}
	if p.module != nil {
		if err := p.module.Close(ctx); err != nil {
			return drifterr.NewProvider("wasm: close module", err)
		}
	}
	if p.runtime != nil {
		if err := p.runtime.Close(ctx); err != nil {
			return drifterr.NewProvider("wasm: close runtime", err)
		}
	}
	return nil
}

// Create implements resource.Provider.
func (p *Provider) Create(ctx context.Context, r resource.Resource) (resource.ResourceState, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("wasm: marshal resource: %w", err)
	}
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	out, err := p.bridge.callCreate(callCtx, payload)
	if err != nil {
		return nil, drifterr.NewProvider("wasm: provider_create", err)
	}
	attrs, err := attrsOf(out)
	if err != nil {
		return nil, err
	}
	return &State{BaseState: resource.BaseState{RealizedResource: r}, Attrs: attrs}, nil
}

// Read implements resource.Provider.
func (p *Provider) Read(ctx context.Context, r resource.Resource) (resource.ResourceState, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("wasm: marshal resource: %w", err)
	}
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	out, err := p.bridge.callRead(callCtx, payload)
	if err != nil {
		return nil, drifterr.NewProvider("wasm: provider_read", err)
	}

	var result struct {
		Found bool            `json:"found"`
		Attrs map[string]any  `json:"attrs,omitempty"`
		Error string          `json:"error,omitempty"`
	}
	if err := json.Unmarshal(out, &result); err != nil {
		return nil, fmt.Errorf("wasm: unmarshal provider_read response: %w", err)
	}
	if result.Error != "" {
		return nil, drifterr.NewProvider("wasm: provider_read", fmt.Errorf("%s", result.Error))
	}
	if !result.Found {
		return nil, drifterr.NewResourceNotFound("wasm: resource not found", nil).WithResource(r.ID())
	}
	return &State{BaseState: resource.BaseState{RealizedResource: r}, Attrs: result.Attrs}, nil
}

// Update implements resource.Provider.
func (p *Provider) Update(ctx context.Context, current resource.ResourceState, desired resource.Resource) (resource.ResourceState, error) {
	payload, err := json.Marshal(struct {
		Current resource.ResourceState `json:"current"`
		Desired resource.Resource      `json:"desired"`
	}{current, desired})
	if err != nil {
		return nil, fmt.Errorf("wasm: marshal update payload: %w", err)
	}
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	out, err := p.bridge.callUpdate(callCtx, payload)
	if err != nil {
		return nil, drifterr.NewProvider("wasm: provider_update", err)
	}
	attrs, err := attrsOf(out)
	if err != nil {
		return nil, err
	}
	return &State{BaseState: resource.BaseState{RealizedResource: desired}, Attrs: attrs}, nil
}

// Delete implements resource.Provider.
func (p *Provider) Delete(ctx context.Context, current resource.ResourceState) error {
	payload, err := json.Marshal(current)
	if err != nil {
		return fmt.Errorf("wasm: marshal state: %w", err)
	}
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	out, err := p.bridge.callDelete(callCtx, payload)
	if err != nil {
		return drifterr.NewProvider("wasm: provider_delete", err)
	}
	return errorFieldOf(out)
}

func attrsOf(out []byte) (map[string]any, error) {
	var result struct {
		Attrs map[string]any `json:"attrs,omitempty"`
		Error string         `json:"error,omitempty"`
	}
	if err := json.Unmarshal(out, &result); err != nil {
		return nil, fmt.Errorf("wasm: unmarshal module response: %w", err)
	}
	if result.Error != "" {
		return nil, drifterr.NewProvider("wasm: module reported error", fmt.Errorf("%s", result.Error))
	}
	return result.Attrs, nil
}

func errorFieldOf(out []byte) error {
	var result struct {
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(out, &result); err != nil {
		return fmt.Errorf("wasm: unmarshal module response: %w", err)
	}
	if result.Error != "" {
		return drifterr.NewProvider("wasm: module reported error", fmt.Errorf("%s", result.Error))
	}
	return nil
}
