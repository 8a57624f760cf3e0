package api

import (
	"slices"
	"time"
)

// WorkflowStatus is the lifecycle state of a Workflow.
type WorkflowStatus string

const (
	WorkflowStatusCreated    WorkflowStatus = "created"
	WorkflowStatusGenerating WorkflowStatus = "generating"
	WorkflowStatusReady      WorkflowStatus = "ready"
	WorkflowStatusExecuting  WorkflowStatus = "executing"
	WorkflowStatusCompleted  WorkflowStatus = "completed"
	WorkflowStatusFailed     WorkflowStatus = "failed"
)

// Valid reports whether s is one of the recognized workflow statuses.
func (s WorkflowStatus) Valid() bool {
	switch s {
	case WorkflowStatusCreated, WorkflowStatusGenerating, WorkflowStatusReady,
		WorkflowStatusExecuting, WorkflowStatusCompleted, WorkflowStatusFailed:
		return true
	}
	return false
}

// ExecutionStatus is the lifecycle state of a WorkflowExecution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusTimeout   ExecutionStatus = "timeout"
)

// Valid reports whether s is one of the recognized execution statuses.
func (s ExecutionStatus) Valid() bool {
	switch s {
	case ExecutionStatusPending, ExecutionStatusRunning, ExecutionStatusCompleted,
		ExecutionStatusFailed, ExecutionStatusTimeout:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed from s.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusTimeout
}

// Workflow is a stored description/generated-code pair with a lifecycle status.
type Workflow struct {
	ID            string         `json:"id"`
	Name          string         `json:"name,omitempty"`
	Description   string         `json:"description"`
	GeneratedCode string         `json:"generated_code,omitempty"`
	Status        WorkflowStatus `json:"status"`
	Error         string         `json:"error,omitempty"`
	Context       map[string]any `json:"context,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// NewWorkflow returns a workflow in the created state.
func NewWorkflow(description, name string, context map[string]any) *Workflow {
	now := time.Now().UTC()
	return &Workflow{
		ID:          NewWorkflowID(),
		Name:        name,
		Description: description,
		Status:      WorkflowStatusCreated,
		Context:     context,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Transition moves the workflow to status to. A failed target records
// errMsg; any other target clears the previous error. UpdatedAt is
// refreshed on success.
func (w *Workflow) Transition(to WorkflowStatus, errMsg string) *APIError {
	if apiErr := ValidateWorkflowTransition(w.Status, to); apiErr != nil {
		return apiErr
	}
	if to == WorkflowStatusExecuting && w.GeneratedCode == "" {
		return NewInvalidRequestError("status", "workflow "+w.ID+" has no generated code")
	}
	w.Status = to
	if to == WorkflowStatusFailed {
		w.Error = errMsg
	} else {
		w.Error = ""
	}
	w.UpdatedAt = time.Now().UTC()
	return nil
}

// HasCode reports whether the workflow holds a generated program.
func (w *Workflow) HasCode() bool {
	return w.GeneratedCode != ""
}

// Clone returns a copy that shares no mutable state with w.
func (w *Workflow) Clone() *Workflow {
	if w == nil {
		return nil
	}
	c := *w
	if w.Context != nil {
		c.Context = cloneContext(w.Context)
	}
	return &c
}

// cloneContext deep-copies the maps and slices that JSON decoding and
// the engine put into a workflow context. Other values are scalars.
func cloneContext(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		return cloneContext(v)
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = cloneValue(e)
		}
		return out
	case []int:
		return slices.Clone(v)
	case []string:
		return slices.Clone(v)
	case []float64:
		return slices.Clone(v)
	default:
		return v
	}
}

// WorkflowExecution is one timed attempt to run a workflow's code against
// a specific input.
type WorkflowExecution struct {
	ID              string          `json:"id"`
	WorkflowID      string          `json:"workflow_id"`
	UserInput       string          `json:"user_input"`
	AttachedFileIDs []int           `json:"attached_file_ids,omitempty"`
	Status          ExecutionStatus `json:"status"`
	Result          *string         `json:"result,omitempty"`
	Error           string          `json:"error,omitempty"`
	ExecutionTime   *float64        `json:"execution_time,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// NewExecution returns an execution in the pending state bound to workflowID.
func NewExecution(workflowID, userInput string, attachedFileIDs []int) *WorkflowExecution {
	return &WorkflowExecution{
		ID:              NewExecutionID(),
		WorkflowID:      workflowID,
		UserInput:       userInput,
		AttachedFileIDs: slices.Clone(attachedFileIDs),
		Status:          ExecutionStatusPending,
		CreatedAt:       time.Now().UTC(),
	}
}

// Start moves a pending execution to running.
func (e *WorkflowExecution) Start() *APIError {
	if apiErr := ValidateExecutionTransition(e.Status, ExecutionStatusRunning); apiErr != nil {
		return apiErr
	}
	e.Status = ExecutionStatusRunning
	return nil
}

// Complete records a successful run.
func (e *WorkflowExecution) Complete(result string, elapsed time.Duration) *APIError {
	if apiErr := e.finish(ExecutionStatusCompleted, elapsed); apiErr != nil {
		return apiErr
	}
	e.Result = &result
	return nil
}

// Fail records a run that raised, or that could not be started.
func (e *WorkflowExecution) Fail(msg string, elapsed time.Duration) *APIError {
	if apiErr := e.finish(ExecutionStatusFailed, elapsed); apiErr != nil {
		return apiErr
	}
	e.Error = msg
	return nil
}

// TimeOut records a run that exceeded deadline. The recorded execution
// time is the deadline itself.
func (e *WorkflowExecution) TimeOut(msg string, deadline time.Duration) *APIError {
	if apiErr := e.finish(ExecutionStatusTimeout, deadline); apiErr != nil {
		return apiErr
	}
	e.Error = msg
	return nil
}

func (e *WorkflowExecution) finish(to ExecutionStatus, elapsed time.Duration) *APIError {
	if apiErr := ValidateExecutionTransition(e.Status, to); apiErr != nil {
		return apiErr
	}
	now := time.Now().UTC()
	secs := elapsed.Seconds()
	e.Status = to
	e.ExecutionTime = &secs
	e.CompletedAt = &now
	return nil
}

// Clone returns a deep copy of e.
func (e *WorkflowExecution) Clone() *WorkflowExecution {
	if e == nil {
		return nil
	}
	c := *e
	c.AttachedFileIDs = slices.Clone(e.AttachedFileIDs)
	if e.Result != nil {
		r := *e.Result
		c.Result = &r
	}
	if e.ExecutionTime != nil {
		t := *e.ExecutionTime
		c.ExecutionTime = &t
	}
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// CreateWorkflowRequest asks for a new workflow generated from Description.
type CreateWorkflowRequest struct {
	Description string         `json:"description"`
	Name        string         `json:"name,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
}

// CreateWorkflowWithFilesRequest is a CreateWorkflowRequest whose generated
// program works on previously uploaded files.
type CreateWorkflowWithFilesRequest struct {
	Description     string         `json:"description"`
	Name            string         `json:"name,omitempty"`
	Context         map[string]any `json:"context,omitempty"`
	UploadedFileIDs []int          `json:"uploaded_file_ids,omitempty"`
}

// ExecuteWorkflowRequest carries the input of one run. UserInput is a
// pointer so a missing field can be told apart from an empty string.
type ExecuteWorkflowRequest struct {
	UserInput       *string `json:"user_input"`
	AttachedFileIDs []int   `json:"attached_file_ids,omitempty"`
}

// RegenerateRequest asks for improved code given the outcome of a run and
// the user's reaction to it.
type RegenerateRequest struct {
	ExecutionResult string `json:"execution_result"`
	UserFeedback    string `json:"user_feedback"`
}

// WorkflowList is the listing envelope for workflows.
type WorkflowList struct {
	Object string      `json:"object"`
	Data   []*Workflow `json:"data"`
}

// ExecutionList is the listing envelope for executions of one workflow.
type ExecutionList struct {
	Object string               `json:"object"`
	Data   []*WorkflowExecution `json:"data"`
}
