// Package config turns CUE stack sources into the resource graph the
// planner and executor operate on.
//
// # Overview
//
// CUEParser reads one or more CUE files or directories, unifies them into
// a single value, and decodes it into a ParsedConfig: a workspace block
// plus a flat list of ResourceConfig entries. Every decoded entry is
// checked twice — once against Go struct tags (via go-playground/validator,
// catching shape mistakes like a missing id) and once against a CUE
// schema from SchemaRegistry (catching constraints that don't map onto a
// single struct tag, like a provider name's dotted format). CUEParser.ToResources
// then resolves a ParsedConfig into []resource.Resource, binding each
// entry's declared Dependencies to live references via a two-pass id
// lookup.
//
// # Components
//
// CUEParser: owns the CUE context, the schema registry, a struct-tag
// validator, and a StarlarkEvaluator, and is the package's main entry
// point (Parse, Evaluate, Validate, ToResources).
//
// SchemaRegistry: compiles and holds the built-in #Resource, #Workspace,
// #Provider, and #Dependency CUE schemas, plus any custom schema a
// caller registers alongside them.
//
// StarlarkEvaluator: runs a sandboxed Starlark script with a bounded
// timeout, used both as a standalone utility (EvaluateStarlark) and as
// the late-binding mechanism behind a ResourceConfig's Builder field.
//
// # Usage
//
//	parser := config.NewCUEParser()
//	parsed, err := parser.Parse(ctx, []string{"stack.cue"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	resources, err := parser.ToResources(parsed)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Static vs. builder-derived resources
//
// Most resources declare a static config:
//
//	resources: web_server: {
//	    id:   "web_server"
//	    type: "linux.pkg"
//	    name: "nginx"
//	    config: {package: "nginx", state: "present"}
//	}
//
// A resource whose configuration can only be computed once its
// dependencies are realized declares a builder script instead of config.
// ToResources realizes it as a resource.DependentResource; the planner
// and executor materialize it into a concrete resource immediately before
// it is needed, passing every dependency's realized ResourceState to the
// script as a variable named after that dependency's id:
//
//	resources: service_unit: {
//	    id:   "service_unit"
//	    type: "linux.service"
//	    name: "app"
//	    dependencies: [{resource_id: "web_server", type: "require"}]
//	    builder: script: "port = web_server['config']['port']"
//	}
//
// # Schema validation
//
// Every resource, workspace, and provider decoded by Parse is unified
// against its built-in CUE schema before being accepted; a resource that
// matches neither a static config nor a builder script, or whose type
// doesn't match the provider-namespace pattern, is reported as a
// ValidationError rather than silently passed through. Custom schemas
// can be registered on a CUEParser's SchemaRegistry for project-specific
// constraints beyond the built-ins.
//
// # Error reporting
//
// Parse accumulates ValidationErrors across every source and resource
// instead of stopping at the first one, so a single bad entry doesn't
// mask problems elsewhere in the stack:
//
//	ValidationError{
//	    File:     "stack.cue",
//	    Line:     42,
//	    Path:     "resources.web_server.config",
//	    Message:  "field 'package' is required",
//	    Severity: "error",
//	}
//
// # Starlark sandboxing
//
// Scripts run with no filesystem or network access, a bounded timeout
// (30s by default), and print statements suppressed; besides the
// predeclared input values, a script sees Starlark's standard builtins
// (len, str, range, enumerate, zip and the rest) plus struct.
//
// # Thread safety
//
// Every type in this package is safe for concurrent use.
package config
