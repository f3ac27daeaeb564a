// Package policy provides Open Policy Agent (OPA) integration for drift.
//
// This package implements policy enforcement for infrastructure configurations,
// plans, and operations using the Rego policy language. It includes built-in
// policies for common governance requirements and supports custom policy loading.
//
// # Architecture
//
// The policy system consists of four main components:
//
//  1. Engine - Compiles and evaluates Rego policies
//  2. Loader - Loads policies from files, directories, and bundles
//  3. Types - Data structures for policies, violations, and results
//  4. Built-in Policies - Pre-defined policies for common requirements
//
// # Usage
//
// Creating a policy engine:
//
//	logger := zerolog.New(os.Stdout)
//	engine, err := policy.NewEngine(logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Evaluating a resource:
//
//	res := &config.DeclaredResource{
//	    Name: "web-server-prod",
//	    Labels: map[string]string{
//	        "env":   "production",
//	        "owner": "platform-team",
//	    },
//	}
//
//	result, err := engine.EvaluateResource(ctx, res)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if !result.Allowed {
//	    for _, violation := range result.Violations {
//	        fmt.Printf("Policy %s violated: %s\n", violation.Policy, violation.Message)
//	    }
//	}
//
// Loading custom policies:
//
//	paths := []string{
//	    "/etc/drift/policies",
//	    "/opt/policies/custom.rego",
//	}
//
//	err = engine.LoadPolicies(ctx, paths)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Built-in Policies
//
// The following policies are included by default:
//
//  1. resource-naming - Enforces resource naming conventions
//  2. required-labels - Ensures critical labels (env, owner) are present
//  3. state-drift - Maximum acceptable drift threshold
//  4. operation-restrictions - Prevents destructive operations in production
//  5. config-versioning - Requires an explicit pinned config version
//
// # Custom Policies
//
// Custom policies can be written in Rego and loaded from files:
//
//	package custom.policies.backup
//
//	import rego.v1
//
//	deny contains violation if {
//	    input.resource
//	    resource := input.resource
//
//	    # Require backup label for production resources
//	    resource.labels.env == "production"
//	    not resource.labels.backup
//
//	    violation := {
//	        "message": "Production resources must have a backup label",
//	        "severity": "error",
//	        "resource": resource.id,
//	    }
//	}
//
// # Policy Evaluation Points
//
// The CLI evaluates policies at two points in drift's workflow, each
// only when --policy is given:
//
//  1. Configuration validation - drift validate, via Engine.Evaluate
//  2. Plan evaluation - drift plan and drift apply, via Engine.EvaluatePlan
//
// EvaluateResource evaluates a single resource on demand; the executor
// does not call the engine during create/update operations, and no
// drift-detection step evaluates policies.
//
// # Severity Levels
//
// Violations have four severity levels:
//
//  - info: Informational messages
//  - warning: Issues that should be reviewed but don't block operations
//  - error: Issues that block operations
//  - critical: Severe issues requiring immediate attention
//
// # Hot Reload
//
// The loader supports watching policy files for changes and reloading automatically:
//
//	loader := policy.NewLoader(logger)
//	err = loader.Watch(ctx, paths, func(policies []policy.Policy) error {
//	    return engine.LoadPolicies(ctx, paths)
//	})
//
// # Performance
//
// Policies are parsed and prepared once when loaded, which rejects a
// module that does not compile. Each evaluation then builds and runs a
// fresh query for the policy's deny set from its Rego source; the
// prepared query kept at load time is not used for evaluation. The loader
// caches parsed policy files by path.
//
// # Context Injection
//
// Policy evaluations can include context information:
//
//  - User: Who initiated the operation
//  - Environment: Target environment (production, staging, etc.)
//  - Operation: Type of operation (create, update, delete)
//  - Timestamp: When the evaluation occurred
//  - Dry run: Whether this is a dry-run evaluation
//
// This context allows policies to make environment-aware decisions.
package policy
