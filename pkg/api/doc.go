// Package api defines the core domain types for flowgen.
//
// A [Workflow] pairs a natural-language description with the program
// generated from it. A [WorkflowExecution] records one timed attempt to run
// that program against a user input. Both carry a status driven by the
// transition tables in state.go; every status change goes through
// [ValidateWorkflowTransition] or [ValidateExecutionTransition].
//
// The package performs no I/O. Errors surfaced to callers are [APIError]
// values whose [ErrorType] the transports map to their own failure
// categories (HTTP status codes, MCP tool errors).
//
// Core types:
//   - [Workflow]: description, generated code, lifecycle status
//   - [WorkflowExecution]: input, result or error, timing
//   - [APIError]: structured error with type, code, param, and message
package api
