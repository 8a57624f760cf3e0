package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/rhuss/flowgen/pkg/api"
	"github.com/rhuss/flowgen/pkg/debug"
	"github.com/rhuss/flowgen/pkg/generator"
	"github.com/rhuss/flowgen/pkg/storage"
	"github.com/rhuss/flowgen/pkg/transport"
)

// Generator produces workflow programs. *generator.Generator implements it.
type Generator interface {
	Available() bool
	Generate(ctx context.Context, req generator.GenerateRequest) (*api.Workflow, error)
	Regenerate(ctx context.Context, wf *api.Workflow, executionResult, userFeedback string) (string, error)
}

// Executor runs workflow programs. *executor.Executor implements it.
type Executor interface {
	Execute(ctx context.Context, workflowID, userInput string, attachedFileIDs []int) (*api.WorkflowExecution, error)
}

// Engine implements transport.WorkflowService on top of a generator, an
// executor and a workflow store.
type Engine struct {
	gen   Generator
	exec  Executor
	store storage.WorkflowStore
	cfg   Config
}

// Ensure Engine implements transport.WorkflowService at compile time.
var _ transport.WorkflowService = (*Engine)(nil)

// New creates an Engine. None of the dependencies may be nil.
func New(gen Generator, exec Executor, store storage.WorkflowStore, cfg Config) (*Engine, error) {
	if gen == nil {
		return nil, fmt.Errorf("engine: generator must not be nil")
	}
	if exec == nil {
		return nil, fmt.Errorf("engine: executor must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("engine: store must not be nil")
	}
	return &Engine{gen: gen, exec: exec, store: store, cfg: cfg}, nil
}

// CreateWorkflow generates a workflow from req and stores it.
func (e *Engine) CreateWorkflow(ctx context.Context, req *api.CreateWorkflowRequest) (*api.Workflow, error) {
	if req == nil {
		return nil, api.NewInvalidRequestError("", "request body is required")
	}
	return e.create(ctx, generator.GenerateRequest{
		Description: req.Description,
		Name:        req.Name,
		Context:     req.Context,
	})
}

// CreateWorkflowWithFiles generates a workflow that works on uploaded
// files. The file ids are recorded in the workflow context as
// uploaded_file_ids together with use_uploaded_files = true.
func (e *Engine) CreateWorkflowWithFiles(ctx context.Context, req *api.CreateWorkflowWithFilesRequest) (*api.Workflow, error) {
	if req == nil {
		return nil, api.NewInvalidRequestError("", "request body is required")
	}
	for _, id := range req.UploadedFileIDs {
		if id < 0 {
			return nil, api.NewInvalidRequestError("uploaded_file_ids", fmt.Sprintf("uploaded file id %d is negative", id))
		}
	}
	wfContext := maps.Clone(req.Context)
	if wfContext == nil {
		wfContext = map[string]any{}
	}
	ids := slices.Clone(req.UploadedFileIDs)
	if ids == nil {
		ids = []int{}
	}
	wfContext["uploaded_file_ids"] = ids
	wfContext["use_uploaded_files"] = true

	return e.create(ctx, generator.GenerateRequest{
		Description: req.Description,
		Name:        req.Name,
		Context:     wfContext,
	})
}

func (e *Engine) create(ctx context.Context, req generator.GenerateRequest) (*api.Workflow, error) {
	if _, ok := req.Context["max_workflow_steps"]; !ok {
		req.Context = maps.Clone(req.Context)
		if req.Context == nil {
			req.Context = map[string]any{}
		}
		req.Context["max_workflow_steps"] = e.cfg.maxSteps()
	}

	wf, genErr := e.gen.Generate(ctx, req)
	if wf == nil {
		// Nothing was created: no service, or a bad request.
		return nil, genErr
	}

	if err := e.store.SaveWorkflow(context.WithoutCancel(ctx), wf); err != nil {
		return nil, fmt.Errorf("save workflow %s: %w", wf.ID, err)
	}
	debug.Log("engine", "workflow stored", "workflow_id", wf.ID, "status", wf.Status)

	if genErr != nil {
		return nil, generationError(genErr)
	}
	return wf, nil
}

// GetWorkflow returns the workflow with the given id.
func (e *Engine) GetWorkflow(ctx context.Context, id string) (*api.Workflow, error) {
	wf, err := e.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, storeError(err, "workflow", id)
	}
	return wf, nil
}

// ListWorkflows returns every workflow, newest first.
func (e *Engine) ListWorkflows(ctx context.Context) (*api.WorkflowList, error) {
	list, err := e.store.ListWorkflows(ctx)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	if list == nil {
		list = []*api.Workflow{}
	}
	return &api.WorkflowList{Object: "list", Data: list}, nil
}

// ExecuteWorkflow runs the workflow once with the request's input.
func (e *Engine) ExecuteWorkflow(ctx context.Context, id string, req *api.ExecuteWorkflowRequest) (*api.WorkflowExecution, error) {
	if req == nil || req.UserInput == nil {
		return nil, api.NewInvalidRequestError("user_input", "user_input is required")
	}
	return e.exec.Execute(ctx, id, *req.UserInput, req.AttachedFileIDs)
}

// GetExecution returns an execution of the given workflow.
func (e *Engine) GetExecution(ctx context.Context, workflowID, executionID string) (*api.WorkflowExecution, error) {
	if _, err := e.store.GetWorkflow(ctx, workflowID); err != nil {
		return nil, storeError(err, "workflow", workflowID)
	}
	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, storeError(err, "execution", executionID)
	}
	if exec.WorkflowID != workflowID {
		return nil, api.NewInvalidRequestError("execution_id",
			fmt.Sprintf("execution %s does not belong to workflow %s", executionID, workflowID))
	}
	return exec, nil
}

// ListExecutions returns the executions of one workflow, newest first.
func (e *Engine) ListExecutions(ctx context.Context, workflowID string) (*api.ExecutionList, error) {
	list, err := e.store.ListExecutions(ctx, workflowID)
	if err != nil {
		return nil, storeError(err, "workflow", workflowID)
	}
	if list == nil {
		list = []*api.WorkflowExecution{}
	}
	return &api.ExecutionList{Object: "list", Data: list}, nil
}

// RegenerateWorkflow moves the workflow to generating, asks for an improved
// program and stores the outcome: ready with the new program, or failed
// with the generation error. A failed regeneration keeps the previous
// program.
func (e *Engine) RegenerateWorkflow(ctx context.Context, id string, req *api.RegenerateRequest) (*api.Workflow, error) {
	if req == nil {
		return nil, api.NewInvalidRequestError("", "request body is required")
	}
	if !e.gen.Available() {
		return nil, api.NewUnavailableError("code generation service is not configured")
	}

	wf, err := e.store.UpdateWorkflow(ctx, id, func(w *api.Workflow) error {
		switch w.Status {
		case api.WorkflowStatusReady, api.WorkflowStatusCompleted, api.WorkflowStatusFailed:
		default:
			return api.NewInvalidRequestError("id",
				fmt.Sprintf("workflow %s is %s and cannot be regenerated", id, w.Status))
		}
		if apiErr := w.Transition(api.WorkflowStatusGenerating, ""); apiErr != nil {
			return apiErr
		}
		return nil
	})
	if err != nil {
		return nil, storeError(err, "workflow", id)
	}

	code, genErr := e.gen.Regenerate(ctx, wf, req.ExecutionResult, req.UserFeedback)

	// The outcome is recorded even if the caller has gone away, so the
	// workflow never stays in generating.
	wf, err = e.store.UpdateWorkflow(context.WithoutCancel(ctx), id, func(w *api.Workflow) error {
		var apiErr *api.APIError
		if genErr != nil {
			apiErr = w.Transition(api.WorkflowStatusFailed, genErr.Error())
		} else {
			w.GeneratedCode = code
			apiErr = w.Transition(api.WorkflowStatusReady, "")
		}
		if apiErr != nil {
			return apiErr
		}
		return nil
	})
	if err != nil {
		return nil, storeError(err, "workflow", id)
	}

	if genErr != nil {
		return nil, generationError(genErr)
	}
	slog.Info("workflow regenerated", "workflow_id", id, "code_bytes", len(code))
	return wf, nil
}

// generationError converts a generator failure to the error reported to
// callers.
func generationError(err error) error {
	var genErr *generator.GenerationError
	if errors.As(err, &genErr) {
		return genErr.APIError()
	}
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return api.NewGenerationError(api.GenerationCodeService, err.Error())
}

// storeError maps store sentinels to API errors. Errors returned by
// update functions pass through unchanged.
func storeError(err error, kind, id string) error {
	var apiErr *api.APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, storage.ErrNotFound):
		return api.NewNotFoundError(fmt.Sprintf("%s %s not found", kind, id))
	default:
		return fmt.Errorf("%s %s: %w", kind, id, err)
	}
}
