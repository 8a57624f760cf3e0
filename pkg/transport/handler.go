package transport

import (
	"context"

	"github.com/rhuss/flowgen/pkg/api"
)

// WorkflowService is the contract between the transports and the workflow
// engine. Every method returns *api.APIError for caller-visible failures;
// any other error is reported as a server error.
type WorkflowService interface {
	// CreateWorkflow generates and stores a new workflow. When generation
	// fails the failed workflow is stored and a generation error returned.
	CreateWorkflow(ctx context.Context, req *api.CreateWorkflowRequest) (*api.Workflow, error)

	// CreateWorkflowWithFiles is CreateWorkflow for programs that work on
	// previously uploaded files.
	CreateWorkflowWithFiles(ctx context.Context, req *api.CreateWorkflowWithFilesRequest) (*api.Workflow, error)

	GetWorkflow(ctx context.Context, id string) (*api.Workflow, error)
	ListWorkflows(ctx context.Context) (*api.WorkflowList, error)

	// ExecuteWorkflow runs the workflow once and returns the terminal
	// execution. Failed and timed-out runs are not errors.
	ExecuteWorkflow(ctx context.Context, id string, req *api.ExecuteWorkflowRequest) (*api.WorkflowExecution, error)

	// GetExecution returns an execution of the given workflow. An
	// execution owned by another workflow is an invalid request.
	GetExecution(ctx context.Context, workflowID, executionID string) (*api.WorkflowExecution, error)

	ListExecutions(ctx context.Context, workflowID string) (*api.ExecutionList, error)

	// RegenerateWorkflow replaces the workflow's program with one improved
	// from an execution result and user feedback.
	RegenerateWorkflow(ctx context.Context, id string, req *api.RegenerateRequest) (*api.Workflow, error)
}

// HealthChecker reports whether the service's dependencies are usable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthCheckerFunc adapts an ordinary function to HealthChecker.
type HealthCheckerFunc func(ctx context.Context) error

// HealthCheck calls f(ctx).
func (f HealthCheckerFunc) HealthCheck(ctx context.Context) error {
	return f(ctx)
}
