// Package mock implements a trivial in-process Provider for a generic
// resource family, used by the core's own tests and as a worked example
// of the Provider contract. It keeps its "external system" as an
// in-memory map rather than talking to anything real.
//
// Adapted from providers/linux.pkg/main.go (the teacher's WASM-compiled
// linux.pkg provider): kept the "single Provider struct switching on
// resource family, config/state record pair" shape, dropped the
// package-manager domain and the WASM compilation target in favor of an
// in-process reference provider over an arbitrary string-attribute
// resource, since spec.md §1 places concrete providers out of scope and
// only needs one to exercise the core end to end.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/drifthq/drift/pkg/codec"
	"github.com/drifthq/drift/pkg/drifterr"
	"github.com/drifthq/drift/pkg/resource"
)

// Thing is a generic resource managed by Provider: a bag of string
// attributes under a family name, enough to exercise create/update/delete
// diffing without committing to any real domain.
type Thing struct {
	resource.Base
	Family string            `drift:"family"`
	Attrs  map[string]string `drift:"attrs"`
}

// Type implements resource.Resource.
func (t *Thing) Type() string { return "mock.Thing" }

// ThingState is the realized form of a Thing: the resource as created,
// plus a server-assigned id the provider invents on Create.
type ThingState struct {
	resource.BaseState
	ServerID string `drift:"serverId"`
}

// Type implements the codec tag for ThingState.
func (s *ThingState) Type() string { return "mock.ThingState" }

// RegisterTypes registers Thing and ThingState with reg so the reflective
// codec can encode and decode them.
func RegisterTypes(reg *codec.Registry) {
	reg.Register("mock.Thing", &Thing{})
	reg.Register("mock.ThingState", &ThingState{})
}

// Provider is an in-memory reference implementation of resource.Provider
// over Thing/ThingState. Safe for concurrent use, though the engine never
// calls it concurrently (spec.md §5).
type Provider struct {
	name string

	mu      sync.Mutex
	seq     int
	objects map[string]*object // resource id -> last-known object, the "external system"
}

type object struct {
	family   string
	attrs    map[string]string
	serverID string
}

// New returns a mock Provider registered under name.
func New(name string) *Provider {
	return &Provider{name: name, objects: make(map[string]*object)}
}

// Name implements resource.Provider.
func (p *Provider) Name() string { return p.name }

// CanHandle implements resource.Provider: matches by concrete Go type.
func (p *Provider) CanHandle(r resource.Resource) bool {
	_, ok := r.(*Thing)
	return ok
}

// Configure implements resource.Provider. The mock provider takes no
// settings.
func (p *Provider) Configure(map[string]any) error { return nil }

// Initialize implements resource.Provider. Idempotent no-op.
func (p *Provider) Initialize(context.Context) error { return nil }

// Dispose implements resource.Provider. No-op.
func (p *Provider) Dispose(context.Context) error { return nil }

// Create implements resource.Provider.
func (p *Provider) Create(_ context.Context, r resource.Resource) (resource.ResourceState, error) {
	thing, ok := r.(*Thing)
	if !ok {
		return nil, fmt.Errorf("mock: unexpected resource type %T", r)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	serverID := fmt.Sprintf("mock-%s-%d", thing.ID(), p.seq)
	p.objects[thing.ID()] = &object{family: thing.Family, attrs: cloneAttrs(thing.Attrs), serverID: serverID}

	return &ThingState{
		BaseState: resource.BaseState{RealizedResource: thing},
		ServerID:  serverID,
	}, nil
}

// Read implements resource.Provider, returning a
// *drifterr.DriftError(KindResourceNotFound) if the object was never
// created (or was since deleted).
func (p *Provider) Read(_ context.Context, r resource.Resource) (resource.ResourceState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	obj, ok := p.objects[r.ID()]
	if !ok {
		return nil, drifterr.NewResourceNotFound("mock object not found", nil).WithResource(r.ID())
	}

	realized := &Thing{Base: resource.NewBase(r.ID(), r.IsReadOnly()), Family: obj.family, Attrs: obj.attrs}
	return &ThingState{
		BaseState: resource.BaseState{RealizedResource: realized},
		ServerID:  obj.serverID,
	}, nil
}

// Update implements resource.Provider.
func (p *Provider) Update(_ context.Context, _ resource.ResourceState, desired resource.Resource) (resource.ResourceState, error) {
	thing, ok := desired.(*Thing)
	if !ok {
		return nil, fmt.Errorf("mock: unexpected resource type %T", desired)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	existing, ok := p.objects[thing.ID()]
	serverID := ""
	if ok {
		serverID = existing.serverID
	}
	p.objects[thing.ID()] = &object{family: thing.Family, attrs: cloneAttrs(thing.Attrs), serverID: serverID}

	return &ThingState{
		BaseState: resource.BaseState{RealizedResource: thing},
		ServerID:  serverID,
	}, nil
}

// Delete implements resource.Provider.
func (p *Provider) Delete(_ context.Context, current resource.ResourceState) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.objects, current.ID())
	return nil
}

var _ resource.Provider = (*Provider)(nil)

func cloneAttrs(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
