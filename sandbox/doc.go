// Package sandbox provides secure script execution capabilities.
//
// The sandbox package implements the execution engine for running untrusted
// TypeScript and JavaScript source against an allowlisted set of installed
// packages. Scripts run inside an embedded goja interpreter whose global
// scope contains only an explicit capability set: a console that routes
// through a bounded output tracker, timer primitives, and a require function
// mediated by a module allowlist. All output is captured up to configured
// line and byte ceilings and every execution is bounded by a hard deadline.
//
// The package defines the ScriptExecutor interface and a single concrete
// Sandbox implementation. A Sandbox may be reused across executions; each
// execution gets a fresh interpreter and output tracker, while compiled
// module sources are cached on the Sandbox.
//
// Usage:
//
//	executor := sandbox.NewExecutor(logger, cfg)
//	result := executor.Execute(ctx, `console.log("hello")`, 5000)
package sandbox
