package api

import (
	"fmt"
	"slices"
)

var workflowTransitions = map[WorkflowStatus][]WorkflowStatus{
	"":                       {WorkflowStatusCreated},
	WorkflowStatusCreated:    {WorkflowStatusGenerating},
	WorkflowStatusGenerating: {WorkflowStatusReady, WorkflowStatusFailed},
	WorkflowStatusReady:      {WorkflowStatusExecuting, WorkflowStatusGenerating},
	// Concurrent runs of the same workflow keep it in executing.
	WorkflowStatusExecuting: {WorkflowStatusExecuting, WorkflowStatusCompleted, WorkflowStatusFailed},
	WorkflowStatusCompleted: {WorkflowStatusExecuting, WorkflowStatusGenerating},
	WorkflowStatusFailed:    {WorkflowStatusExecuting, WorkflowStatusGenerating},
}

var executionTransitions = map[ExecutionStatus][]ExecutionStatus{
	"":                     {ExecutionStatusPending},
	ExecutionStatusPending: {ExecutionStatusRunning, ExecutionStatusFailed},
	ExecutionStatusRunning: {ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusTimeout},
}

// ValidateWorkflowTransition checks whether a workflow status transition is valid.
// An empty "from" status represents the initial state before the workflow exists.
// Whether a failed workflow still holds code is checked by Workflow.Transition.
func ValidateWorkflowTransition(from, to WorkflowStatus) *APIError {
	if slices.Contains(workflowTransitions[from], to) {
		return nil
	}
	return NewInvalidRequestError("status",
		fmt.Sprintf("invalid transition from %s to %s", from, to))
}

// ValidateExecutionTransition checks whether an execution status transition is valid.
// Terminal states (completed, failed, timeout) do not allow outgoing transitions.
func ValidateExecutionTransition(from, to ExecutionStatus) *APIError {
	if slices.Contains(executionTransitions[from], to) {
		return nil
	}
	return NewInvalidRequestError("status",
		fmt.Sprintf("invalid transition from %s to %s", from, to))
}
