// Package mcp exposes the workflow operations as Model Context Protocol
// tools, served over streamable HTTP.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rhuss/flowgen/pkg/api"
	"github.com/rhuss/flowgen/pkg/debug"
	"github.com/rhuss/flowgen/pkg/transport"
)

// Options configures the MCP server.
type Options struct {
	// Version is reported in the server implementation info.
	Version string

	// Debug exposes server error details in tool results.
	Debug bool
}

// CreateWorkflowInput is the argument of the create_workflow tool.
type CreateWorkflowInput struct {
	Description string         `json:"description" jsonschema:"natural-language description of what the workflow should do"`
	Name        string         `json:"name,omitempty" jsonschema:"optional display name"`
	Context     map[string]any `json:"context,omitempty" jsonschema:"optional key/value hints for the generator"`
}

// CreateWorkflowWithFilesInput is the argument of the
// create_workflow_with_files tool.
type CreateWorkflowWithFilesInput struct {
	Description     string         `json:"description" jsonschema:"natural-language description of what the workflow should do"`
	Name            string         `json:"name,omitempty" jsonschema:"optional display name"`
	Context         map[string]any `json:"context,omitempty" jsonschema:"optional key/value hints for the generator"`
	UploadedFileIDs []int          `json:"uploaded_file_ids,omitempty" jsonschema:"ids of previously uploaded documents the workflow works on"`
}

// WorkflowIDInput identifies a workflow.
type WorkflowIDInput struct {
	WorkflowID string `json:"workflow_id" jsonschema:"workflow id"`
}

// ExecuteWorkflowInput is the argument of the execute_workflow tool.
type ExecuteWorkflowInput struct {
	WorkflowID      string `json:"workflow_id" jsonschema:"workflow id"`
	UserInput       string `json:"user_input" jsonschema:"input passed to the workflow program, may be empty"`
	AttachedFileIDs []int  `json:"attached_file_ids,omitempty" jsonschema:"ids of uploaded documents for this run"`
}

// ExecutionIDInput identifies an execution of a workflow.
type ExecutionIDInput struct {
	WorkflowID  string `json:"workflow_id" jsonschema:"workflow id"`
	ExecutionID string `json:"execution_id" jsonschema:"execution id"`
}

// RegenerateInput is the argument of the regenerate_workflow tool.
type RegenerateInput struct {
	WorkflowID      string `json:"workflow_id" jsonschema:"workflow id"`
	ExecutionResult string `json:"execution_result,omitempty" jsonschema:"result or error of the run the feedback refers to"`
	UserFeedback    string `json:"user_feedback" jsonschema:"what should change in the program"`
}

// NewServer returns an MCP server whose tools call svc.
func NewServer(svc transport.WorkflowService, opts Options) *mcp.Server {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	server := mcp.NewServer(&mcp.Implementation{Name: "flowgen", Version: opts.Version}, nil)
	t := &tools{svc: svc, debug: opts.Debug}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "create_workflow",
		Description: "Generate a workflow program from a natural-language description. Returns the stored workflow.",
	}, t.createWorkflow)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "create_workflow_with_files",
		Description: "Generate a workflow program that works on previously uploaded documents.",
	}, t.createWorkflowWithFiles)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_workflow",
		Description: "Return a workflow with its status and generated program.",
	}, t.getWorkflow)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_workflows",
		Description: "List all workflows, newest first.",
	}, t.listWorkflows)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "execute_workflow",
		Description: "Run a workflow once and return the finished execution.",
	}, t.executeWorkflow)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_execution",
		Description: "Return one execution of a workflow.",
	}, t.getExecution)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_executions",
		Description: "List the executions of a workflow, newest first.",
	}, t.listExecutions)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "regenerate_workflow",
		Description: "Replace a workflow's program using an execution result and feedback.",
	}, t.regenerateWorkflow)

	return server
}

// NewHandler serves server over streamable HTTP.
func NewHandler(server *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, nil)
}

type tools struct {
	svc   transport.WorkflowService
	debug bool
}

func (t *tools) createWorkflow(ctx context.Context, _ *mcp.CallToolRequest, in CreateWorkflowInput) (*mcp.CallToolResult, any, error) {
	wf, err := t.svc.CreateWorkflow(ctx, &api.CreateWorkflowRequest{
		Description: in.Description,
		Name:        in.Name,
		Context:     in.Context,
	})
	return t.result("create_workflow", wf, err)
}

func (t *tools) createWorkflowWithFiles(ctx context.Context, _ *mcp.CallToolRequest, in CreateWorkflowWithFilesInput) (*mcp.CallToolResult, any, error) {
	wf, err := t.svc.CreateWorkflowWithFiles(ctx, &api.CreateWorkflowWithFilesRequest{
		Description:     in.Description,
		Name:            in.Name,
		Context:         in.Context,
		UploadedFileIDs: in.UploadedFileIDs,
	})
	return t.result("create_workflow_with_files", wf, err)
}

func (t *tools) getWorkflow(ctx context.Context, _ *mcp.CallToolRequest, in WorkflowIDInput) (*mcp.CallToolResult, any, error) {
	wf, err := t.svc.GetWorkflow(ctx, in.WorkflowID)
	return t.result("get_workflow", wf, err)
}

func (t *tools) listWorkflows(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
	list, err := t.svc.ListWorkflows(ctx)
	return t.result("list_workflows", list, err)
}

func (t *tools) executeWorkflow(ctx context.Context, _ *mcp.CallToolRequest, in ExecuteWorkflowInput) (*mcp.CallToolResult, any, error) {
	input := in.UserInput
	exec, err := t.svc.ExecuteWorkflow(ctx, in.WorkflowID, &api.ExecuteWorkflowRequest{
		UserInput:       &input,
		AttachedFileIDs: in.AttachedFileIDs,
	})
	return t.result("execute_workflow", exec, err)
}

func (t *tools) getExecution(ctx context.Context, _ *mcp.CallToolRequest, in ExecutionIDInput) (*mcp.CallToolResult, any, error) {
	exec, err := t.svc.GetExecution(ctx, in.WorkflowID, in.ExecutionID)
	return t.result("get_execution", exec, err)
}

func (t *tools) listExecutions(ctx context.Context, _ *mcp.CallToolRequest, in WorkflowIDInput) (*mcp.CallToolResult, any, error) {
	list, err := t.svc.ListExecutions(ctx, in.WorkflowID)
	return t.result("list_executions", list, err)
}

func (t *tools) regenerateWorkflow(ctx context.Context, _ *mcp.CallToolRequest, in RegenerateInput) (*mcp.CallToolResult, any, error) {
	wf, err := t.svc.RegenerateWorkflow(ctx, in.WorkflowID, &api.RegenerateRequest{
		ExecutionResult: in.ExecutionResult,
		UserFeedback:    in.UserFeedback,
	})
	return t.result("regenerate_workflow", wf, err)
}

// result renders v as JSON text content. Service errors become tool
// errors carrying the API error envelope, so clients see the same error
// body as over HTTP.
func (t *tools) result(tool string, v any, err error) (*mcp.CallToolResult, any, error) {
	if err != nil {
		apiErr := transport.SanitizeError(transport.ToAPIError(err), t.debug)
		debug.Log("mcp", "tool failed", "tool", tool, "type", apiErr.Type, "error", apiErr.Message)
		data, mErr := json.Marshal(api.ErrorResponse{Error: apiErr})
		if mErr != nil {
			return nil, nil, errors.Join(apiErr, mErr)
		}
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, nil, err
	}
	debug.Log("mcp", "tool completed", "tool", tool, "bytes", len(data))
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}
