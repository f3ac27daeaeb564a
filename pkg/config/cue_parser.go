package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"github.com/go-playground/validator/v10"

	"github.com/drifthq/drift/pkg/resource"
)

// CUEParser turns CUE stack sources into a ParsedConfig and, downstream,
// a resolved resource graph: it owns the schema registry every decoded
// entry is checked against, the Starlark evaluator late-bound builder
// scripts run on, and the struct-tag validator used for shape checks
// cheaper than a full CUE schema unification.
type CUEParser struct {
	ctx               *cue.Context
	schemaRegistry    *SchemaRegistry
	starlarkEvaluator *StarlarkEvaluator
	validator         *validator.Validate
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser() *CUEParser {
	return &CUEParser{
		ctx:               cuecontext.New(),
		schemaRegistry:    NewSchemaRegistry(),
		starlarkEvaluator: NewStarlarkEvaluator(30 * time.Second),
		validator:         validator.New(),
	}
}

// Evaluate parses sources and collapses the result into the flat
// ResourceSet shape MergeConfigs and the CLI's inline tooling exchange,
// failing on the first parse or validation error rather than returning
// a partially populated set.
func (cp *CUEParser) Evaluate(ctx context.Context, sources []string) (*ResourceSet, error) {
	parsedConfig, err := cp.Parse(ctx, sources)
	if err != nil {
		return nil, err
	}

	if len(parsedConfig.Errors) > 0 {
		return nil, fmt.Errorf("validation errors: %v", parsedConfig.Errors)
	}

	return parsedConfig.ToResourceSet(), nil
}

// Validate struct-tag-validates every resource in set. It does not run
// schema validation; Parse already runs both during decoding, so this
// exists for callers handed a ResourceSet built some other way (e.g.
// MergeConfigs output) that want the cheaper check re-run.
func (cp *CUEParser) Validate(ctx context.Context, set *ResourceSet) error {
	for _, rc := range set.Resources {
		if err := cp.validator.Struct(rc); err != nil {
			return fmt.Errorf("resource %s validation failed: %w", rc.ID, err)
		}
	}

	return nil
}

// ToResources resolves parsed into a planner-ready resource graph,
// supplying this parser's Starlark evaluator to any resource whose
// config is computed by a builder script rather than declared statically.
func (cp *CUEParser) ToResources(parsed *ParsedConfig) ([]resource.Resource, error) {
	return parsed.ToResources(cp.starlarkEvaluator)
}

// EvaluateStarlark executes Starlark scripts for procedural logic.
func (cp *CUEParser) EvaluateStarlark(ctx context.Context, script string, input map[string]interface{}) (map[string]interface{}, error) {
	result, err := cp.starlarkEvaluator.Evaluate(ctx, script, input)
	if err != nil {
		return nil, err
	}

	if result.Error != "" {
		return nil, fmt.Errorf("starlark error: %s", result.Error)
	}

	return result.Output, nil
}

// MergeConfigs merges multiple resource sets into a single one.
func (cp *CUEParser) MergeConfigs(ctx context.Context, sets []*ResourceSet) (*ResourceSet, error) {
	if len(sets) == 0 {
		return nil, fmt.Errorf("no configs to merge")
	}

	if len(sets) == 1 {
		return sets[0], nil
	}

	merged := &ResourceSet{
		ID:        sets[0].ID,
		Source:    "merged",
		ParsedAt:  time.Now(),
		Resources: make([]ResourceConfig, 0),
		Variables: make(map[string]interface{}),
		Metadata:  make(map[string]interface{}),
	}

	// Track resources by ID to detect duplicates
	resourceMap := make(map[string]ResourceConfig)
	var order []string

	for _, set := range sets {
		for _, res := range set.Resources {
			if existing, exists := resourceMap[res.ID]; exists {
				return nil, fmt.Errorf("duplicate resource ID %s in configs %s and %s", res.ID, existing.Name, res.Name)
			}
			resourceMap[res.ID] = res
			order = append(order, res.ID)
		}

		for k, v := range set.Variables {
			merged.Variables[k] = v
		}
		for k, v := range set.Metadata {
			merged.Metadata[k] = v
		}
	}

	for _, id := range order {
		merged.Resources = append(merged.Resources, resourceMap[id])
	}

	return merged, nil
}

// Parse loads every source (a .cue file or a directory of them), unifies
// them into a single CUE value, and extracts the workspace and resource
// blocks out of it. A source-level error (missing file, CUE syntax
// error) short-circuits into a ParsedConfig carrying only Errors; a
// per-resource decode or validation error is instead accumulated and
// extraction continues, so a single bad resource doesn't hide problems
// in the rest of the stack.
func (cp *CUEParser) Parse(ctx context.Context, sources []string) (*ParsedConfig, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources provided")
	}

	var cueValue cue.Value
	var sourceFiles []string
	var parseErrors []ValidationError

	// Determine if sources are files or directories
	for _, source := range sources {
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}

		if info.IsDir() {
			// Load directory as CUE package
			val, files, errs := cp.loadDirectory(source)
			if len(errs) > 0 {
				parseErrors = append(parseErrors, errs...)
			}
			if val.Exists() {
				if cueValue.Exists() {
					cueValue = cueValue.Unify(val)
				} else {
					cueValue = val
				}
			}
			sourceFiles = append(sourceFiles, files...)
		} else {
			// Load single file
			val, errs := cp.loadFile(source)
			if len(errs) > 0 {
				parseErrors = append(parseErrors, errs...)
			}
			if val.Exists() {
				if cueValue.Exists() {
					cueValue = cueValue.Unify(val)
				} else {
					cueValue = val
				}
			}
			sourceFiles = append(sourceFiles, source)
		}
	}

	// Check for parse errors
	if len(parseErrors) > 0 {
		return &ParsedConfig{
			SourceFiles: sourceFiles,
			ParsedAt:    time.Now(),
			Errors:      parseErrors,
		}, nil
	}

	// Validate the unified value
	if err := cueValue.Err(); err != nil {
		parseErrors = append(parseErrors, cp.convertCUEErrors(err)...)
		return &ParsedConfig{
			SourceFiles: sourceFiles,
			ParsedAt:    time.Now(),
			Errors:      parseErrors,
		}, nil
	}

	// Extract configuration
	parsedConfig, err := cp.extractConfig(ctx, cueValue, sourceFiles)
	if err != nil {
		return nil, fmt.Errorf("failed to extract config: %w", err)
	}

	return parsedConfig, nil
}

// loadDirectory loads a directory as a CUE package.
func (cp *CUEParser) loadDirectory(dir string) (cue.Value, []string, []ValidationError) {
	// Load the package
	buildInstances := load.Instances([]string{dir}, nil)
	if len(buildInstances) == 0 {
		return cue.Value{}, nil, []ValidationError{{
			File:     dir,
			Message:  "no CUE files found",
			Severity: "error",
		}}
	}

	inst := buildInstances[0]
	if inst.Err != nil {
		return cue.Value{}, nil, cp.convertCUEErrors(inst.Err)
	}

	val := cp.ctx.BuildInstance(inst)
	if err := val.Err(); err != nil {
		return cue.Value{}, nil, cp.convertCUEErrors(err)
	}

	// Get list of files
	var files []string
	for _, file := range inst.Files {
		if file.Filename != "" {
			files = append(files, file.Filename)
		}
	}

	return val, files, nil
}

// loadFile loads a single CUE file.
func (cp *CUEParser) loadFile(path string) (cue.Value, []ValidationError) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, []ValidationError{{
			File:     path,
			Message:  fmt.Sprintf("failed to read file: %v", err),
			Severity: "error",
		}}
	}

	val := cp.ctx.CompileString(string(content), cue.Filename(path))
	if err := val.Err(); err != nil {
		return cue.Value{}, cp.convertCUEErrors(err)
	}

	return val, nil
}

// extractConfig decodes the workspace and resources blocks out of a
// unified CUE value, schema-validating the workspace, each of its
// providers, and each resource as it is decoded. A decode or schema
// failure on one entry is recorded as a ValidationError and extraction
// continues with the rest, so Parse can report every problem at once
// rather than stopping at the first.
func (cp *CUEParser) extractConfig(ctx context.Context, val cue.Value, sourceFiles []string) (*ParsedConfig, error) {
	parsedConfig := &ParsedConfig{
		SourceFiles: sourceFiles,
		ParsedAt:    time.Now(),
	}

	// Extract workspace configuration
	workspaceVal := val.LookupPath(cue.ParsePath("workspace"))
	if workspaceVal.Exists() {
		var workspace WorkspaceConfig
		if err := workspaceVal.Decode(&workspace); err != nil {
			parsedConfig.Errors = append(parsedConfig.Errors, ValidationError{
				Path:     "workspace",
				Message:  fmt.Sprintf("failed to decode workspace: %v", err),
				Severity: "error",
			})
		} else if err := cp.schemaRegistry.ValidateWorkspace(ctx, workspace); err != nil {
			parsedConfig.Errors = append(parsedConfig.Errors, ValidationError{
				Path:     "workspace",
				Message:  err.Error(),
				Severity: "error",
			})
		} else {
			parsedConfig.Workspace = workspace
			for _, p := range workspace.Providers {
				if err := cp.schemaRegistry.ValidateProvider(ctx, p); err != nil {
					parsedConfig.Errors = append(parsedConfig.Errors, ValidationError{
						Path:     fmt.Sprintf("workspace.providers.%s", p.Name),
						Message:  err.Error(),
						Severity: "error",
					})
				}
			}
		}
	}

	// Extract resources
	resourcesVal := val.LookupPath(cue.ParsePath("resources"))
	if resourcesVal.Exists() {
		// Resources can be either a map or a list
		if resourcesVal.Kind() == cue.StructKind {
			// Map of resources
			iter, err := resourcesVal.Fields(cue.All())
			if err != nil {
				parsedConfig.Errors = append(parsedConfig.Errors, ValidationError{
					Path:     "resources",
					Message:  fmt.Sprintf("failed to iterate resources: %v", err),
					Severity: "error",
				})
			} else {
				for iter.Next() {
					rc, err := cp.extractResource(ctx, iter.Selector().String(), iter.Value())
					if err != nil {
						parsedConfig.Errors = append(parsedConfig.Errors, ValidationError{
							Path:     fmt.Sprintf("resources.%s", iter.Selector()),
							Message:  err.Error(),
							Severity: "error",
						})
					} else {
						parsedConfig.Resources = append(parsedConfig.Resources, rc)
					}
				}
			}
		} else if resourcesVal.Kind() == cue.ListKind {
			// List of resources
			list, err := resourcesVal.List()
			if err != nil {
				parsedConfig.Errors = append(parsedConfig.Errors, ValidationError{
					Path:     "resources",
					Message:  fmt.Sprintf("failed to list resources: %v", err),
					Severity: "error",
				})
			} else {
				idx := 0
				for list.Next() {
					rc, err := cp.extractResource(ctx, "", list.Value())
					if err != nil {
						parsedConfig.Errors = append(parsedConfig.Errors, ValidationError{
							Path:     fmt.Sprintf("resources[%d]", idx),
							Message:  err.Error(),
							Severity: "error",
						})
					} else {
						parsedConfig.Resources = append(parsedConfig.Resources, rc)
					}
					idx++
				}
			}
		}
	}

	return parsedConfig, nil
}

// extractResource decodes one resource entry, falling back to its CUE
// map key as the id when the entry itself doesn't set one, then runs it
// through struct-tag validation followed by schema validation against
// every one of its dependency edges and the resource itself.
func (cp *CUEParser) extractResource(ctx context.Context, id string, val cue.Value) (ResourceConfig, error) {
	var rc ResourceConfig

	if err := val.Decode(&rc); err != nil {
		return rc, fmt.Errorf("decode resource: %w", err)
	}

	if rc.ID == "" && id != "" {
		rc.ID = id
	}

	if err := cp.validator.Struct(rc); err != nil {
		return rc, fmt.Errorf("validate resource %s: %w", rc.ID, err)
	}

	for _, dep := range rc.Dependencies {
		if err := cp.schemaRegistry.ValidateDependency(ctx, dep); err != nil {
			return rc, fmt.Errorf("validate resource %s dependency on %s: %w", rc.ID, dep.ResourceID, err)
		}
	}

	if err := cp.schemaRegistry.ValidateResource(ctx, rc); err != nil {
		return rc, fmt.Errorf("validate resource %s: %w", rc.ID, err)
	}

	return rc, nil
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func (cp *CUEParser) convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	// Handle CUE error types
	errs := errors.Errors(err)
	for _, e := range errs {
		pos := errors.Positions(e)
		var file string
		var line, column int

		if len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:     file,
			Line:     line,
			Column:   column,
			Message:  errors.Details(e, nil),
			Severity: "error",
		})
	}

	return validationErrors
}

// ParseInline parses a single CUE source string without touching disk,
// useful for tests and for evaluating a builder's output against the
// same schema path a file-backed resource goes through.
func (cp *CUEParser) ParseInline(ctx context.Context, content string) (*ParsedConfig, error) {
	val := cp.ctx.CompileString(content)
	if err := val.Err(); err != nil {
		return &ParsedConfig{
			SourceFiles: []string{"inline"},
			ParsedAt:    time.Now(),
			Errors:      cp.convertCUEErrors(err),
		}, nil
	}

	return cp.extractConfig(ctx, val, []string{"inline"})
}

// ValidateWithSchema validates a CUE value against a schema.
func (cp *CUEParser) ValidateWithSchema(ctx context.Context, data interface{}, schemaName string) error {
	return cp.schemaRegistry.ValidateAgainstSchema(ctx, schemaName, data)
}

// GetSchemaRegistry returns the schema registry.
func (cp *CUEParser) GetSchemaRegistry() *SchemaRegistry {
	return cp.schemaRegistry
}

// ExtractValue extracts a specific path from a CUE configuration.
func (cp *CUEParser) ExtractValue(val cue.Value, path string) (interface{}, error) {
	v := val.LookupPath(cue.ParsePath(path))
	if !v.Exists() {
		return nil, fmt.Errorf("path %s not found", path)
	}

	// Try to decode to JSON first
	var result interface{}
	if err := v.Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode value at %s: %w", path, err)
	}

	return result, nil
}

// MergeValues merges two CUE values.
func (cp *CUEParser) MergeValues(val1, val2 cue.Value) (cue.Value, error) {
	merged := val1.Unify(val2)
	if err := merged.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("failed to merge values: %w", err)
	}
	return merged, nil
}

// ExportJSON exports a CUE value to JSON.
func (cp *CUEParser) ExportJSON(val cue.Value) ([]byte, error) {
	var data interface{}
	if err := val.Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}

	return json.MarshalIndent(data, "", "  ")
}

// LoadFromDirectory loads all CUE files from a directory.
func (cp *CUEParser) LoadFromDirectory(dir string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !info.IsDir() && strings.HasSuffix(path, ".cue") {
			files = append(files, path)
		}

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	return files, nil
}
