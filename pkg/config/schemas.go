package config

import (
	"context"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry holds the built-in CUE schemas every parsed resource,
// workspace, provider, and dependency is checked against, on top of the
// struct-tag validation CUEParser.Validate already does. Struct tags
// catch shape mistakes (a missing field, a malformed id); these schemas
// catch the CUE-level constraints that don't map onto a single struct
// tag, such as cross-field patterns or enumerated provider name formats.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	ctx := cuecontext.New()
	sr := &SchemaRegistry{
		ctx:     ctx,
		schemas: make(map[string]cue.Value),
	}

	sr.registerBuiltInSchemas()

	return sr
}

// registerBuiltInSchemas registers every schema compiled into the
// binary. RegisterSchema's error is discarded here because these
// constants are fixed at compile time; a broken one is a programming
// error the tests over this package would catch, not a runtime concern.
func (sr *SchemaRegistry) registerBuiltInSchemas() {
	_ = sr.RegisterSchema("resource", builtinResourceSchema)
	_ = sr.RegisterSchema("workspace", builtinWorkspaceSchema)
	_ = sr.RegisterSchema("provider", builtinProviderSchema)
	_ = sr.RegisterSchema("dependency", builtinDependencySchema)
}

// RegisterSchema compiles schema and registers it under name, replacing
// any schema already registered under that name. Callers can use this to
// add project-specific schemas alongside (or in place of) the built-ins.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("compile schema %s: %w", name, err)
	}

	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data against a named schema by encoding
// it to a CUE value and unifying it with the schema; an incompatible
// value makes the unification non-concrete, which Validate rejects.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not registered", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("encode value for schema %s: %w", schemaName, err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("schema %s: %w", schemaName, err)
	}

	return nil
}

// ListSchemas returns every registered schema name.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	return names
}

// Built-in schema definitions, unified against every resource, workspace,
// provider, and dependency CUEParser decodes off the wire.

const builtinResourceSchema = `
// #Resource constrains a single declared resource entry.
#Resource: {
	// id is this resource's stack-unique identifier.
	id: string & =~"^[a-zA-Z0-9_-]+$"

	// type is the provider-routed resource type, e.g. "linux.pkg".
	type: string & =~"^[a-z0-9]+\\.[a-z0-9_]+$"

	// name is the human-readable name.
	name: string

	// config is the resource-specific configuration; absent when
	// builder supplies one instead.
	config?: {...}

	// labels organize and select resources.
	labels?: {[string]: string}

	// annotations carry additional metadata.
	annotations?: {[string]: string}

	// dependencies lists this resource's dependency edges.
	dependencies?: [...#Dependency]

	// builder, when present, is a Starlark script computing config
	// from dependency states instead of a static value.
	builder?: {
		script: string
	}

	// At least one of config or builder must be specified.
	_hasConfigOrBuilder: (config != _|_ | builder != _|_)
	if !_hasConfigOrBuilder {
		_error: "resource must specify one of: config, builder"
	}

	// provider overrides the provider name and version.
	provider?: {
		name:     string
		version?: string
	}
}
`

const builtinWorkspaceSchema = `
// #Workspace constrains the top-level workspace block.
#Workspace: {
	// name identifies the workspace.
	name: string & =~"^[a-zA-Z0-9_-]+$"

	// version pins the configuration format.
	version?: string

	// providers lists the providers this workspace uses.
	providers?: [...#Provider]

	// variables are workspace-level values referenced from resources.
	variables?: {[string]: _}

	// backend configures where state is persisted.
	backend?: {
		type: "solo" | "cluster"
		path?: string
		config?: {...}
	}

	// policy configures policy enforcement for this workspace.
	policy?: {
		enabled: bool
		paths?: [...string]
		mode?: "advisory" | "enforcing"
		on_violation?: "warn" | "fail"
	}

	// metadata carries additional workspace-level metadata.
	metadata?: {[string]: _}
}
`

const builtinProviderSchema = `
// #Provider constrains a workspace's provider entries.
#Provider: {
	// name identifies the provider, e.g. "linux.pkg".
	name: string & =~"^[a-z0-9]+\\.[a-z0-9_]+$"

	// version constrains the provider version, e.g. ">=1.0.0".
	version?: string

	// source is where to fetch the provider, e.g. an OCI reference.
	source?: string

	// config is provider-specific configuration.
	config?: {...}

	// capabilities lists the capabilities this provider requires.
	capabilities?: [...string]
}
`

const builtinDependencySchema = `
// #Dependency constrains one dependency edge on a resource.
#Dependency: {
	// resource_id names the resource this edge points at.
	resource_id: string & =~"^[a-zA-Z0-9_-]+$"

	// type classifies the edge: require, notify, or order.
	type: "require" | "notify" | "order"
}
`

// ValidateResource validates a resource configuration against #Resource.
func (sr *SchemaRegistry) ValidateResource(ctx context.Context, rc ResourceConfig) error {
	return sr.ValidateAgainstSchema(ctx, "resource", rc)
}

// ValidateWorkspace validates a workspace configuration against #Workspace.
func (sr *SchemaRegistry) ValidateWorkspace(ctx context.Context, workspace WorkspaceConfig) error {
	return sr.ValidateAgainstSchema(ctx, "workspace", workspace)
}

// ValidateProvider validates a provider configuration against #Provider.
func (sr *SchemaRegistry) ValidateProvider(ctx context.Context, provider ProviderConfig) error {
	return sr.ValidateAgainstSchema(ctx, "provider", provider)
}

// ValidateDependency validates a dependency configuration against #Dependency.
func (sr *SchemaRegistry) ValidateDependency(ctx context.Context, dependency DependencyConfig) error {
	return sr.ValidateAgainstSchema(ctx, "dependency", dependency)
}
