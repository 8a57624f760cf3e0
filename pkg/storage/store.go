package storage

import (
	"context"

	"github.com/rhuss/flowgen/pkg/api"
)

// WorkflowStore is the keyed registry of workflows and their executions.
// Implementations hand out private copies: mutating a returned value never
// changes stored state, and stored values never alias a caller's value.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type WorkflowStore interface {
	// SaveWorkflow stores a new workflow. Returns ErrConflict if the ID
	// is already taken.
	SaveWorkflow(ctx context.Context, wf *api.Workflow) error

	// GetWorkflow returns the workflow with the given ID, or ErrNotFound.
	GetWorkflow(ctx context.Context, id string) (*api.Workflow, error)

	// UpdateWorkflow applies fn to the stored workflow and stores the
	// result, returning a copy of it. Updates to one workflow are
	// serialized. If fn returns an error, nothing is stored and the error
	// is returned unchanged.
	UpdateWorkflow(ctx context.Context, id string, fn func(*api.Workflow) error) (*api.Workflow, error)

	// ListWorkflows returns all workflows, newest first.
	ListWorkflows(ctx context.Context) ([]*api.Workflow, error)

	// SaveExecution inserts or replaces the snapshot of an execution. The
	// owning workflow must exist.
	SaveExecution(ctx context.Context, exec *api.WorkflowExecution) error

	// GetExecution returns the execution with the given ID, or ErrNotFound.
	GetExecution(ctx context.Context, id string) (*api.WorkflowExecution, error)

	// ListExecutions returns the executions of one workflow, newest first.
	// Returns ErrNotFound if the workflow does not exist.
	ListExecutions(ctx context.Context, workflowID string) ([]*api.WorkflowExecution, error)

	// HealthCheck verifies the store is usable.
	HealthCheck(ctx context.Context) error

	// Close releases store resources.
	Close() error
}
