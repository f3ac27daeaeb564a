// Package resource defines the data model shared by every other core
// package: the immutable Resource record, its realized ResourceState,
// late-bound DependentResources, the Provider contract resources are
// dispatched against, and the Stack that ties a set of resources to a
// state store and a list of providers.
package resource

import (
	"context"

	"github.com/drifthq/drift/pkg/codec"
)

// Resource is an immutable, user-authored description of a single piece
// of external state to manage. Concrete resource types embed Base and
// add their own exported attribute fields; equality for planning
// purposes is structural over those attribute fields alone — ID and
// Dependencies are metadata, not attributes.
type Resource interface {
	// ID returns the resource's stack-unique identifier.
	ID() string

	// Dependencies returns the resource's direct dependencies, in
	// declaration order.
	Dependencies() []Resource

	// Type returns the codec type tag registered for this resource's
	// concrete Go type.
	Type() string

	// IsReadOnly reports whether the engine only ever observes this
	// resource, never creating, updating, or deleting it.
	IsReadOnly() bool
}

// Base is embedded by every concrete resource type to supply the
// identity and dependency-graph metadata required by the Resource
// interface. It carries no user attribute fields of its own.
//
// ResourceID and DependencyIDs are exported so the reflective codec
// (pkg/codec) can populate them directly when decoding a resource out of
// persisted state; dependencies itself holds live references and is
// wired up afterward by BindDependencies, the second pass of the
// id-to-reference reconstruction described in the design notes.
type Base struct {
	ResourceID    string   `drift:"id" json:"id"`
	DependencyIDs []string `drift:"dependencies" json:"dependencies,omitempty"`

	dependencies []Resource
	readOnly     bool
}

// NewBase constructs the common metadata for a concrete resource.
func NewBase(id string, readOnly bool, dependencies ...Resource) Base {
	ids := make([]string, len(dependencies))
	for i, d := range dependencies {
		ids[i] = d.ID()
	}
	return Base{ResourceID: id, DependencyIDs: ids, dependencies: dependencies, readOnly: readOnly}
}

// ID implements Resource.
func (b Base) ID() string { return b.ResourceID }

// Dependencies implements Resource. Before BindDependencies has been
// called on a resource reconstructed from persisted state, this returns
// nil even though DependencyIDs is populated.
func (b Base) Dependencies() []Resource { return b.dependencies }

// IsReadOnly implements Resource.
func (b Base) IsReadOnly() bool { return b.readOnly }

// BindDependencies wires up live dependency references during the second
// pass of reconstructing a resource graph from persisted (id-keyed)
// state. Callers look up each of DependencyIDs in the pass-one population
// and pass the resolved Resource values here.
func (b *Base) BindDependencies(deps []Resource) { b.dependencies = deps }

// DepIDs returns the raw dependency-id list recorded on this resource.
// Unlike Dependencies, it is available even before BindDependencies has
// wired up live references — the planner uses it to order deletions,
// where only decoded state (ids only, no live graph) is at hand.
func (b Base) DepIDs() []string { return b.DependencyIDs }

// MarkReadOnly flags a decoded resource as read-only; persisted state
// never records this flag (it is a property of the desired-side
// declaration, not of a realized resource), so callers reconstructing a
// read-only resource from its declared stack definition set it
// explicitly.
func (b *Base) MarkReadOnly(v bool) { b.readOnly = v }

// DependencyBinder is implemented by every concrete resource (via the
// embedded Base) to support the id-to-reference reconstruction pass.
type DependencyBinder interface {
	BindDependencies(deps []Resource)
}

// IDReferencer is implemented by every concrete resource (via the
// embedded Base) to expose its raw dependency ids without requiring live
// Dependencies() references to already be bound.
type IDReferencer interface {
	DepIDs() []string
}

// DepIDsOf returns r's dependency ids, preferring the live Dependencies()
// graph and falling back to the raw id list recorded on Base for
// resources decoded from persisted state whose references were never
// (or not yet) bound.
func DepIDsOf(r Resource) []string {
	if deps := r.Dependencies(); deps != nil {
		ids := make([]string, len(deps))
		for i, d := range deps {
			ids[i] = d.ID()
		}
		return ids
	}
	if ir, ok := r.(IDReferencer); ok {
		return ir.DepIDs()
	}
	return nil
}

// BuilderFunc is the pure function a DependentResource carries: given the
// realized states of its dependencies (keyed by dependency id), it
// returns the concrete resource it stands in for. It must not have side
// effects beyond reading its inputs.
type BuilderFunc func(states map[string]ResourceState) (Resource, error)

// DependentResource is a resource whose final, concrete form is unknown
// at plan-construction time because one or more of its attributes are
// read-only outputs of its dependencies. It is never executed directly;
// the planner or executor materializes it into a concrete Resource once
// its dependencies' states are known.
type DependentResource struct {
	Base
	// Type tag reported by DependentResource itself; wrapper instances
	// never reach the state file, so this exists only for diagnostics.
	TypeTag string
	Builder BuilderFunc
}

// Type implements Resource. DependentResource wrappers are materialized
// away before anything is persisted, so this tag is diagnostic only.
func (d *DependentResource) Type() string {
	if d.TypeTag != "" {
		return d.TypeTag
	}
	return "drift.DependentResource"
}

// Build resolves the wrapper into its concrete resource using the
// realized states of its dependencies. It is safe to call repeatedly; the
// builder is pure.
func (d *DependentResource) Build(states map[string]ResourceState) (Resource, error) {
	return d.Builder(states)
}

// AsDependentResource reports whether r is a late-bound DependentResource
// wrapper, returning it if so.
func AsDependentResource(r Resource) (*DependentResource, bool) {
	d, ok := r.(*DependentResource)
	return d, ok
}

// ResourceState is a provider's view of a realized Resource: the resource
// as it actually exists (which may differ from what was requested,
// reflecting drift or server-assigned defaults) plus any read-only
// outputs the provider assigned. It is an interface, not a concrete
// struct, because spec.md §6 requires provider-specific state types to
// carry their own additional output fields (e.g. a server-issued id) —
// something a fixed Go struct can't express. Every concrete state type
// embeds BaseState and adds its own exported fields; BaseState alone,
// wrapped as PlainState, is also what the codec falls back to when a
// state's concrete type tag can no longer be resolved.
type ResourceState interface {
	// ID returns the id of the resource this state realizes.
	ID() string

	// Realized is the resource as it actually exists after the
	// provider's operation, not necessarily identical to what was
	// requested.
	Realized() Resource

	// Type returns the codec type tag registered for this state's
	// concrete Go type.
	Type() string
}

// BaseState is embedded by every concrete ResourceState type to supply
// the realized-resource field and the ID/Realized accessors common to
// all of them. It carries no provider-specific output fields of its own.
type BaseState struct {
	RealizedResource Resource `drift:"resource"`
}

// Realized implements ResourceState.
func (s BaseState) Realized() Resource { return s.RealizedResource }

// ID implements ResourceState.
func (s BaseState) ID() string {
	if s.RealizedResource == nil {
		return ""
	}
	return s.RealizedResource.ID()
}

// PlainState is a ResourceState with no provider-specific outputs: used
// directly by providers whose resources expose none, and as the codec's
// forward-compatibility fallback when a persisted state's concrete
// subtype can no longer be resolved.
type PlainState struct {
	BaseState
}

// Type implements ResourceState.
func (s *PlainState) Type() string { return "drift.ResourceState" }

// NewPlainState wraps realized as a bare ResourceState carrying no
// provider-specific outputs.
func NewPlainState(realized Resource) *PlainState {
	return &PlainState{BaseState{RealizedResource: realized}}
}

// RegisterCoreTypes registers the types this package defines that the
// reflective codec needs to know about — currently just PlainState, the
// fallback/no-output ResourceState. Every provider package registers its
// own resource and state types the same way; callers wire both into a
// shared *codec.Registry before constructing a statestore.FileStore.
func RegisterCoreTypes(reg *codec.Registry) {
	reg.Register("drift.ResourceState", &PlainState{})
}

// Provider adapts the engine's create/read/update/delete contract to a
// family of resource types backed by some external system. A provider
// handling more than one resource family switches on the concrete
// resource type within each method.
type Provider interface {
	// Name is the provider's registered name, used only for diagnostics;
	// resource routing goes through CanHandle.
	Name() string

	// CanHandle reports whether this provider manages r. The default
	// convention is to match by r's concrete Go type.
	CanHandle(r Resource) bool

	// Configure applies provider-specific settings before Initialize.
	Configure(settings map[string]any) error

	// Initialize prepares the provider for use (opening clients,
	// validating credentials, etc). It must be idempotent.
	Initialize(ctx context.Context) error

	// Dispose releases any resources Initialize acquired. It is called
	// in a guaranteed-release pattern even when earlier calls failed.
	Dispose(ctx context.Context) error

	// Create provisions r and returns its realized state.
	Create(ctx context.Context, r Resource) (ResourceState, error)

	// Read observes the external object behind r and returns its current
	// state. It returns a KindResourceNotFound error (see pkg/drifterr)
	// if the object does not exist.
	Read(ctx context.Context, r Resource) (ResourceState, error)

	// Update reconciles current toward desired and returns the new state.
	Update(ctx context.Context, current ResourceState, desired Resource) (ResourceState, error)

	// Delete removes the external object behind current.
	Delete(ctx context.Context, current ResourceState) error
}

// StateStore persists and mutually excludes access to a Stack's actual
// state. Implementations live in pkg/statestore.
type StateStore interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, state *State) error
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
}

// State is the persisted form of a stack's actual resources: a format
// version tag, the owning stack's name, and a mapping from resource id to
// realized state. The mapping preserves no ordering.
type State struct {
	Version   string                   `json:"version"`
	Stack     string                   `json:"stack"`
	Resources map[string]ResourceState `json:"resources"`
	Metadata  map[string]any           `json:"metadata,omitempty"`
}

// StateVersion is the serialization-format-version tag written to every
// persisted State. It is never checked on load (see DESIGN.md); a future
// format change must introduce an explicit upgrade path before this
// value is bumped.
const StateVersion = "1.0"

// NewEmptyState returns the zero state a store reports for a stack that
// has never been applied: the given stack name ("default" when empty)
// and no resources.
func NewEmptyState(stack string) *State {
	if stack == "" {
		stack = "default"
	}
	return &State{
		Version:   StateVersion,
		Stack:     stack,
		Resources: make(map[string]ResourceState),
	}
}

// Stack is the top-level unit: a name, an ordered list of providers, the
// flat desired resource list, and a bound state store.
type Stack struct {
	Name      string
	Providers []Provider
	Resources []Resource
	Store     StateStore
}

// ProviderFor returns the first provider in stack order claiming r, or
// false if none does.
func (s *Stack) ProviderFor(r Resource) (Provider, bool) {
	for _, p := range s.Providers {
		if p.CanHandle(r) {
			return p, true
		}
	}
	return nil, false
}
