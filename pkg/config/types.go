package config

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/drifthq/drift/pkg/codec"
	"github.com/drifthq/drift/pkg/resource"
)

// DependencyKind classifies a declared dependency edge. ToResources does
// not distinguish between kinds: every declared edge, whatever its kind,
// becomes a dependency that orders planning and must exist in the
// configuration.
type DependencyKind string

const (
	DependencyRequire DependencyKind = "require"
	DependencyNotify  DependencyKind = "notify"
	DependencyOrder   DependencyKind = "order"
)

// ResourceConfig represents a resource configuration from CUE.
type ResourceConfig struct {
	// ID is the unique identifier for this resource (e.g., "web_server_pkg").
	ID string `json:"id" validate:"required"`

	// Type is the resource type (e.g., "linux.pkg", "linux.service").
	Type string `json:"type" validate:"required"`

	// Name is the human-readable name.
	Name string `json:"name" validate:"required"`

	// Config is the resource-specific configuration. Mutually exclusive
	// with Builder: a resource either declares a static config or derives
	// one from its dependencies' realized states at plan time, not both.
	Config json.RawMessage `json:"config,omitempty" validate:"required_without=Builder"`

	// Labels are key-value pairs for organizing and selecting resources.
	Labels map[string]string `json:"labels,omitempty"`

	// Annotations are additional metadata.
	Annotations map[string]string `json:"annotations,omitempty"`

	// Dependencies lists the dependencies for this resource.
	Dependencies []DependencyConfig `json:"dependencies,omitempty"`

	// Builder, when set, computes this resource's config from its
	// dependencies' realized states via a Starlark script rather than a
	// fixed Config, deferring materialization until those states are
	// known. See ToResources.
	Builder *BuilderConfig `json:"builder,omitempty" validate:"required_without=Config"`

	// Provider overrides the provider name and version for this resource.
	Provider *ProviderOverride `json:"provider,omitempty"`
}

// BuilderConfig supplies a Starlark script that replaces a resource's
// static Config. ToResources evaluates it once every dependency listed
// in Dependencies has a realized ResourceState, binding its output as
// the resource's Config.
type BuilderConfig struct {
	// Script is Starlark source evaluated by StarlarkEvaluator. Every
	// dependency's realized state is made available to it as a
	// predeclared variable named after the dependency's resource id,
	// holding the JSON representation of the resource that state realized.
	Script string `json:"script" validate:"required"`
}

// DependencyConfig represents a dependency relationship between resources.
type DependencyConfig struct {
	// ResourceID is the ID of the resource this depends on.
	ResourceID string `json:"resource_id" validate:"required"`

	// Type is the dependency type (require, notify, order).
	Type DependencyKind `json:"type" validate:"required,oneof=require notify order"`
}

// ProviderOverride allows overriding provider details for a specific resource.
type ProviderOverride struct {
	// Name is the provider name (e.g., "linux.pkg").
	Name string `json:"name" validate:"required"`

	// Version is the provider version constraint (e.g., ">=1.0.0").
	Version string `json:"version,omitempty"`
}

// ProviderConfig represents provider configuration from CUE.
type ProviderConfig struct {
	// Name is the provider name (e.g., "linux.pkg").
	Name string `json:"name" validate:"required"`

	// Version is the provider version or constraint.
	Version string `json:"version,omitempty"`

	// Source is where to fetch the provider (OCI registry URL).
	Source string `json:"source,omitempty"`

	// Config is provider-specific configuration.
	Config json.RawMessage `json:"config,omitempty"`

	// Capabilities are the capabilities this provider requires.
	Capabilities []string `json:"capabilities,omitempty"`
}

// WorkspaceConfig represents the workspace configuration.
type WorkspaceConfig struct {
	// Name is the workspace name.
	Name string `json:"name" validate:"required"`

	// Version is the configuration version.
	Version string `json:"version,omitempty"`

	// Providers lists the providers used in this workspace.
	Providers []ProviderConfig `json:"providers,omitempty"`

	// Variables are workspace-level variables.
	Variables map[string]interface{} `json:"variables,omitempty"`

	// Backend configures state storage.
	Backend *BackendConfig `json:"backend,omitempty"`

	// Policy configures policy enforcement.
	Policy *PolicyConfig `json:"policy,omitempty"`

	// Metadata contains additional workspace metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// BackendConfig configures state storage backend.
type BackendConfig struct {
	// Type is the backend type (solo, cluster).
	Type string `json:"type" validate:"required,oneof=solo cluster"`

	// Path is the local path for solo backend.
	Path string `json:"path,omitempty"`

	// Config is backend-specific configuration.
	Config json.RawMessage `json:"config,omitempty"`
}

// PolicyConfig configures policy enforcement.
type PolicyConfig struct {
	// Enabled indicates if policy enforcement is enabled.
	Enabled bool `json:"enabled"`

	// Paths lists policy file paths.
	Paths []string `json:"paths,omitempty"`

	// Mode is the enforcement mode (advisory, enforcing).
	Mode string `json:"mode,omitempty" validate:"omitempty,oneof=advisory enforcing"`

	// OnViolation specifies the action on violation (warn, fail).
	OnViolation string `json:"on_violation,omitempty" validate:"omitempty,oneof=warn fail"`
}

// ParsedConfig represents the fully parsed configuration from CUE.
type ParsedConfig struct {
	// Workspace is the workspace configuration.
	Workspace WorkspaceConfig `json:"workspace"`

	// Resources are all resources defined in the configuration.
	Resources []ResourceConfig `json:"resources"`

	// SourceFiles are the CUE files that were parsed.
	SourceFiles []string `json:"source_files"`

	// ParsedAt is when the configuration was parsed.
	ParsedAt time.Time `json:"parsed_at"`

	// Errors lists any validation errors.
	Errors []ValidationError `json:"errors,omitempty"`
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the CUE path to the error (e.g., "resources.web_server.config").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity" validate:"required,oneof=error warning info"`
}

// ConfigSource represents a source of CUE configuration.
type ConfigSource struct {
	// Type is the source type (file, directory, inline).
	Type string `json:"type" validate:"required,oneof=file directory inline"`

	// Path is the file or directory path.
	Path string `json:"path,omitempty"`

	// Content is the inline CUE content.
	Content string `json:"content,omitempty"`
}

// MergeOptions controls how multiple configurations are merged.
type MergeOptions struct {
	// AllowConflicts allows conflicting values (last wins).
	AllowConflicts bool `json:"allow_conflicts"`

	// IncludePaths filters which paths to merge.
	IncludePaths []string `json:"include_paths,omitempty"`

	// ExcludePaths filters which paths to exclude from merge.
	ExcludePaths []string `json:"exclude_paths,omitempty"`
}

// EvaluateOptions controls CUE evaluation behavior.
type EvaluateOptions struct {
	// Package is the CUE package to evaluate.
	Package string `json:"package,omitempty"`

	// Tags are CUE build tags (e.g., "env=prod").
	Tags []string `json:"tags,omitempty"`

	// Concrete requires all values to be concrete (no unresolved references).
	Concrete bool `json:"concrete"`

	// ValidateSchemas enables schema validation during evaluation.
	ValidateSchemas bool `json:"validate_schemas"`

	// AllowStarlark enables Starlark function execution.
	AllowStarlark bool `json:"allow_starlark"`

	// StarlarkTimeout is the timeout for Starlark execution.
	StarlarkTimeout time.Duration `json:"starlark_timeout,omitempty"`
}

// StarlarkContext provides context for Starlark execution.
type StarlarkContext struct {
	// Input is the input data passed to Starlark.
	Input map[string]interface{} `json:"input,omitempty"`

	// Timeout is the execution timeout.
	Timeout time.Duration `json:"timeout"`

	// AllowedModules lists allowed Starlark modules.
	AllowedModules []string `json:"allowed_modules,omitempty"`

	// Builtins are additional built-in functions to provide.
	Builtins map[string]interface{} `json:"builtins,omitempty"`
}

// StarlarkResult represents the result of Starlark execution.
type StarlarkResult struct {
	// Output is the output data from Starlark.
	Output map[string]interface{} `json:"output,omitempty"`

	// ExecutionTime is how long the script took to execute.
	ExecutionTime time.Duration `json:"execution_time"`

	// Error is any error that occurred.
	Error string `json:"error,omitempty"`
}

// ResourceSet is the parsed-and-merged output of evaluating one or more
// configuration sources: a workspace identity plus the flat resource list
// ready to hand to ParsedConfig.ToResources or straight to the planner
// once resolved.
type ResourceSet struct {
	ID        string                 `json:"id"`
	Source    string                 `json:"source"`
	ParsedAt  time.Time              `json:"parsed_at"`
	Resources []ResourceConfig       `json:"resources"`
	Variables map[string]interface{} `json:"variables,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// DeclaredResource is the generic resource.Resource realized from a single
// ResourceConfig entry before a provider-specific decoder narrows it into
// its concrete Go type. Planning and diffing can run directly against it;
// a provider that wants a richer attribute set decodes Config itself
// during Configure/Create rather than the engine doing so on its behalf.
type DeclaredResource struct {
	resource.Base
	ResourceType string            `drift:"resourceType" json:"type"`
	Name         string            `drift:"name" json:"name"`
	Config       map[string]any    `drift:"config" json:"config,omitempty"`
	Labels       map[string]string `drift:"labels" json:"labels,omitempty"`
}

// Type implements resource.Resource. The codec tag is fixed; ResourceType
// (the provider-facing type, e.g. "linux.pkg") is carried as a field
// instead, since CanHandle routes on that, not on the Go type alone.
func (d *DeclaredResource) Type() string { return "config.DeclaredResource" }

// RegisterTypes registers DeclaredResource with reg so the reflective
// codec can encode and decode the state of resources realized straight
// from parsed configuration rather than a provider-specific decoder.
func RegisterTypes(reg *codec.Registry) {
	reg.Register("config.DeclaredResource", &DeclaredResource{})
}

// ToResourceSet collapses a ParsedConfig into the flat ResourceSet shape
// Evaluate/MergeConfigs exchange.
func (pc *ParsedConfig) ToResourceSet() *ResourceSet {
	source := "inline"
	switch len(pc.SourceFiles) {
	case 0:
	case 1:
		source = pc.SourceFiles[0]
	default:
		source = fmt.Sprintf("%s (+%d more)", pc.SourceFiles[0], len(pc.SourceFiles)-1)
	}
	return &ResourceSet{
		ID:        pc.Workspace.Name,
		Source:    source,
		ParsedAt:  pc.ParsedAt,
		Resources: pc.Resources,
		Variables: pc.Workspace.Variables,
		Metadata:  pc.Workspace.Metadata,
	}
}

// ToResources converts every ResourceConfig entry into a resource.Resource,
// wiring up live Dependencies() references from the flat id list via a
// second pass once every resource has been constructed. Entries whose
// Dependencies reference an id outside this ParsedConfig are left
// unbound; the planner's graph validation reports those as missing.
//
// Entries with a Builder are realized as a resource.DependentResource
// instead of a plain DeclaredResource: its Builder func evaluates the
// Starlark script via evaluator once the dependency states it closes
// over are known, late-binding the final Config. evaluator may be nil
// only if no ResourceConfig in pc uses Builder; passing nil with a
// Builder present fails that resource's eventual Build call.
func (pc *ParsedConfig) ToResources(evaluator *StarlarkEvaluator) ([]resource.Resource, error) {
	byID := make(map[string]resource.Resource, len(pc.Resources))
	ordered := make([]resource.Resource, 0, len(pc.Resources))
	bases := make([]*resource.Base, 0, len(pc.Resources))

	for _, rc := range pc.Resources {
		var r resource.Resource
		var base *resource.Base

		if rc.Builder != nil {
			dep := &resource.DependentResource{
				Base:    resource.NewBase(rc.ID, false),
				TypeTag: "config.DeclaredResource",
				Builder: starlarkBuilder(rc, evaluator),
			}
			r, base = dep, &dep.Base
		} else {
			var cfg map[string]any
			if len(rc.Config) > 0 {
				if err := json.Unmarshal(rc.Config, &cfg); err != nil {
					return nil, err
				}
			}
			dr := &DeclaredResource{
				Base:         resource.NewBase(rc.ID, false),
				ResourceType: rc.Type,
				Name:         rc.Name,
				Config:       cfg,
				Labels:       rc.Labels,
			}
			r, base = dr, &dr.Base
		}

		byID[rc.ID] = r
		ordered = append(ordered, r)
		bases = append(bases, base)
	}

	for i, rc := range pc.Resources {
		if len(rc.Dependencies) == 0 {
			continue
		}
		ids := make([]string, len(rc.Dependencies))
		deps := make([]resource.Resource, 0, len(rc.Dependencies))
		allResolved := true
		for j, dep := range rc.Dependencies {
			ids[j] = dep.ResourceID
			if target, ok := byID[dep.ResourceID]; ok {
				deps = append(deps, target)
			} else {
				allResolved = false
			}
		}
		bases[i].DependencyIDs = ids
		// Only wire live references once every dependency resolved within
		// this config; otherwise leave Dependencies() unbound so DepIDsOf
		// falls back to the full raw id list and the planner's graph
		// validation reports the missing one by name.
		if allResolved {
			bases[i].BindDependencies(deps)
		}
	}

	return ordered, nil
}

// starlarkBuilder returns the resource.BuilderFunc a DependentResource
// uses to materialize rc once its dependencies' states are known. Each
// dependency's realized resource is exposed to the script as a
// predeclared variable, keyed by dependency id, holding its JSON-decoded
// attributes; the script's non-underscore globals become the resource's
// final Config.
func starlarkBuilder(rc ResourceConfig, evaluator *StarlarkEvaluator) resource.BuilderFunc {
	return func(states map[string]resource.ResourceState) (resource.Resource, error) {
		if evaluator == nil {
			return nil, fmt.Errorf("resource %s declares a builder script but no Starlark evaluator was configured", rc.ID)
		}

		input := make(map[string]interface{}, len(states))
		for id, st := range states {
			raw, err := json.Marshal(st.Realized())
			if err != nil {
				return nil, fmt.Errorf("marshal dependency %s state: %w", id, err)
			}
			var attrs map[string]interface{}
			if err := json.Unmarshal(raw, &attrs); err != nil {
				return nil, fmt.Errorf("decode dependency %s state: %w", id, err)
			}
			input[id] = attrs
		}

		result, err := evaluator.Evaluate(context.Background(), rc.Builder.Script, input)
		if err != nil {
			return nil, fmt.Errorf("evaluate builder script for %s: %w", rc.ID, err)
		}
		if result.Error != "" {
			return nil, fmt.Errorf("builder script for %s failed: %s", rc.ID, result.Error)
		}

		cfg := make(map[string]any, len(result.Output))
		for k, v := range result.Output {
			cfg[k] = v
		}

		return &DeclaredResource{
			Base:         resource.NewBase(rc.ID, false),
			ResourceType: rc.Type,
			Name:         rc.Name,
			Config:       cfg,
			Labels:       rc.Labels,
		}, nil
	}
}
