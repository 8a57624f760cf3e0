// Package generator turns a workflow description into a validated program
// with one call to the generation service, and produces corrected programs
// from execution results and user feedback.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rhuss/flowgen/pkg/api"
	"github.com/rhuss/flowgen/pkg/debug"
	"github.com/rhuss/flowgen/pkg/observability"
	"github.com/rhuss/flowgen/pkg/provider"
	"github.com/rhuss/flowgen/pkg/validator"
)

// Validator decides whether a cleaned program may be stored.
type Validator interface {
	Validate(ctx context.Context, code string) validator.Result
}

// GenerationError reports why a generation produced no usable program.
// Kind is api.GenerationCodeService when the backend call failed, and
// api.GenerationCodeValidation when the program was rejected.
type GenerationError struct {
	Kind string
	// Reason is the validator's rejection reason for validation failures.
	Reason string
	cause  error
}

func (e *GenerationError) Error() string {
	if e.Kind == api.GenerationCodeValidation {
		return "generated code validation failed: " + e.Reason
	}
	return "code generation failed: " + causeMessage(e.cause)
}

func (e *GenerationError) Unwrap() error { return e.cause }

// APIError converts e to the error reported to API callers.
func (e *GenerationError) APIError() *api.APIError {
	return api.NewGenerationError(e.Kind, e.Error())
}

func causeMessage(err error) string {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

// GenerateRequest describes a workflow to create.
type GenerateRequest struct {
	Description string
	Name        string
	Context     map[string]any
}

// Generator produces programs through a provider and checks them with a
// validator. It is safe for concurrent use.
type Generator struct {
	provider  provider.Provider
	validator Validator
	cfg       Config
}

// New creates a Generator. A nil provider yields a Generator whose calls
// fail with an unavailable error, so the rest of the service can run
// without generation credentials. A nil validator means the default
// validator.
func New(p provider.Provider, v Validator, cfg Config) *Generator {
	if v == nil {
		v = validator.New(nil)
	}
	return &Generator{provider: p, validator: v, cfg: cfg}
}

// Available reports whether a generation service is configured.
func (g *Generator) Available() bool {
	return g.provider != nil
}

func errUnavailable() *api.APIError {
	return api.NewUnavailableError("code generation service is not configured")
}

// Generate creates a workflow from req and drives it from created through
// generating to ready. When the service call fails or the program is
// rejected, the workflow is returned in failed together with a
// *GenerationError. Without a provider no workflow is created.
func (g *Generator) Generate(ctx context.Context, req GenerateRequest) (*api.Workflow, error) {
	if !g.Available() {
		return nil, errUnavailable()
	}
	if req.Description == "" {
		return nil, api.NewInvalidRequestError("description", "description is required")
	}

	wf := api.NewWorkflow(req.Description, req.Name, req.Context)
	if apiErr := wf.Transition(api.WorkflowStatusGenerating, ""); apiErr != nil {
		return nil, apiErr
	}
	debug.Log("generator", "generating", "workflow_id", wf.ID, "description", debug.Truncate(req.Description, 200))

	code, err := g.complete(ctx, "generate", systemPrompt, generatePrompt(req.Description, req.Context))
	if err != nil {
		if apiErr := wf.Transition(api.WorkflowStatusFailed, err.Error()); apiErr != nil {
			return nil, apiErr
		}
		slog.Warn("workflow generation failed", "workflow_id", wf.ID, "error", err)
		return wf, err
	}

	wf.GeneratedCode = code
	if apiErr := wf.Transition(api.WorkflowStatusReady, ""); apiErr != nil {
		return nil, apiErr
	}
	slog.Info("workflow generated", "workflow_id", wf.ID, "code_bytes", len(code))
	return wf, nil
}

// Regenerate asks for an improved program given the outcome of a run and
// the user's feedback on it. It returns the new program and leaves wf
// untouched; the caller decides how to record the outcome.
func (g *Generator) Regenerate(ctx context.Context, wf *api.Workflow, executionResult, userFeedback string) (string, error) {
	if !g.Available() {
		return "", errUnavailable()
	}
	if wf == nil {
		return "", api.NewInvalidRequestError("workflow", "workflow is required")
	}
	debug.Log("generator", "regenerating", "workflow_id", wf.ID, "feedback", debug.Truncate(userFeedback, 200))

	code, err := g.complete(ctx, "regenerate", systemPrompt, regeneratePrompt(wf, executionResult, userFeedback))
	if err != nil {
		slog.Warn("workflow regeneration failed", "workflow_id", wf.ID, "error", err)
		return "", err
	}
	return code, nil
}

// complete performs the single provider call, cleans the response and
// validates the program.
func (g *Generator) complete(ctx context.Context, mode, system, prompt string) (string, error) {
	resp, err := g.provider.Complete(ctx, &provider.Request{
		Model:       g.cfg.model(),
		System:      system,
		Messages:    []provider.Message{{Role: provider.RoleUser, Content: prompt}},
		MaxTokens:   g.cfg.maxTokens(),
		Temperature: g.cfg.Temperature,
	})
	if err != nil {
		observability.GenerationsTotal.WithLabelValues(mode, "service_error").Inc()
		return "", &GenerationError{Kind: api.GenerationCodeService, cause: err}
	}
	debug.Trace("generator", "raw response", "text", resp.Text)

	code := Clean(resp.Text)
	debug.Trace("generator", "cleaned program", "code", code)

	if res := g.validator.Validate(ctx, code); !res.Valid {
		observability.GenerationsTotal.WithLabelValues(mode, "validation_error").Inc()
		return "", &GenerationError{
			Kind:   api.GenerationCodeValidation,
			Reason: res.Reason,
			cause:  fmt.Errorf("validation: %s", res.Reason),
		}
	}
	observability.GenerationsTotal.WithLabelValues(mode, "success").Inc()
	return code, nil
}
