// Package engine implements the workflow operations exposed by flowgen's
// transports. The Engine struct implements transport.WorkflowService: it
// creates workflows through the generator, stores them, runs them through
// the executor, and applies regenerations. Generation failures are stored
// before they are reported, so a failed workflow can always be looked up.
package engine
