// Package executor runs a workflow's generated program against user input
// in a fresh sandbox isolate, under a deadline, and records the attempt as
// a WorkflowExecution.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/rhuss/flowgen/pkg/api"
	"github.com/rhuss/flowgen/pkg/debug"
	"github.com/rhuss/flowgen/pkg/observability"
	"github.com/rhuss/flowgen/pkg/sandbox"
	"github.com/rhuss/flowgen/pkg/storage"
)

// Defaults.
const (
	DefaultTimeout       = 300 * time.Second
	DefaultMaxConcurrent = 4

	// tokenGrace keeps capability tokens valid slightly past the deadline
	// so calls in flight at the deadline fail on the kill, not on auth.
	tokenGrace = 30 * time.Second
)

// Environment variables through which programs find the capability gateway.
const (
	EnvCapabilityURL   = "FLOWGEN_CAPABILITY_URL"
	EnvCapabilityToken = "FLOWGEN_CAPABILITY_TOKEN"
)

const cancelledMessage = "execution cancelled"

var errShutdown = errors.New("executor closed")

// TokenIssuer grants per-execution capability tokens.
// *capability.Issuer implements it.
type TokenIssuer interface {
	Issue(executionID string, files []int, expiresAt time.Time) (string, error)
	Revoke(executionID string)
}

// Config configures an Executor.
type Config struct {
	// Timeout is the deadline of one run. Defaults to 300s.
	Timeout time.Duration

	// MaxConcurrent bounds isolates running at once. Defaults to 4.
	MaxConcurrent int

	// CapabilityURL is the gateway base URL handed to programs. Programs
	// get no capability grant when it is empty.
	CapabilityURL string
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

func (c Config) maxConcurrent() int {
	if c.MaxConcurrent <= 0 {
		return DefaultMaxConcurrent
	}
	return c.MaxConcurrent
}

// Executor runs workflows. It is safe for concurrent use.
type Executor struct {
	store    storage.WorkflowStore
	runner   sandbox.Runner
	tokens   TokenIssuer
	cfg      Config
	sem      *semaphore.Weighted
	inflight *inFlight
}

// New creates an Executor. tokens may be nil, in which case programs get
// no capability grant.
func New(store storage.WorkflowStore, runner sandbox.Runner, tokens TokenIssuer, cfg Config) (*Executor, error) {
	if store == nil {
		return nil, fmt.Errorf("executor: store must not be nil")
	}
	if runner == nil {
		return nil, fmt.Errorf("executor: runner must not be nil")
	}
	return &Executor{
		store:    store,
		runner:   runner,
		tokens:   tokens,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.maxConcurrent())),
		inflight: newInFlight(),
	}, nil
}

// Timeout returns the effective run deadline.
func (e *Executor) Timeout() time.Duration { return e.cfg.timeout() }

// Running returns the number of executions currently in progress.
func (e *Executor) Running() int { return e.inflight.len() }

// Execute runs the workflow's program once with userInput and returns
// the terminal execution snapshot. Program failures and timeouts are
// recorded on the execution, not returned as errors; the error is set
// only when nothing ran (unknown workflow, no code, bad input, shutdown).
//
// The run is detached from ctx cancellation so an abandoned request still
// leaves a fully recorded execution.
func (e *Executor) Execute(ctx context.Context, workflowID, userInput string, attachedFileIDs []int) (*api.WorkflowExecution, error) {
	for _, id := range attachedFileIDs {
		if id < 0 {
			return nil, api.NewInvalidRequestError("attached_file_ids", fmt.Sprintf("attached file id %d is negative", id))
		}
	}

	wf, err := e.store.GetWorkflow(ctx, workflowID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, api.NewNotFoundError(fmt.Sprintf("workflow %s not found", workflowID))
	}
	if err != nil {
		return nil, fmt.Errorf("load workflow %s: %w", workflowID, err)
	}
	if !wf.HasCode() {
		return nil, api.NewInvalidRequestError("status",
			fmt.Sprintf("workflow %s has no generated code (status %s)", wf.ID, wf.Status))
	}

	ctx = context.WithoutCancel(ctx)
	exec := api.NewExecution(wf.ID, userInput, attachedFileIDs)

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if !e.inflight.register(exec.ID, cancel) {
		return nil, api.NewUnavailableError("executor is shutting down")
	}
	defer e.inflight.done(exec.ID)

	if err := e.store.SaveExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("save execution: %w", err)
	}
	debug.Log("executor", "execution created", "workflow_id", wf.ID, "execution_id", exec.ID,
		"input", debug.Truncate(userInput, 200), "files", attachedFileIDs)

	if err := e.sem.Acquire(runCtx, 1); err != nil {
		// Only a shutdown cancels runCtx this early.
		return e.finish(ctx, exec, func() *api.APIError { return exec.Fail(cancelledMessage, 0) }), nil
	}
	acquired := true
	defer func() {
		if acquired {
			e.sem.Release(1)
		}
	}()

	if apiErr := exec.Start(); apiErr != nil {
		return nil, apiErr
	}
	e.save(ctx, exec)
	start := time.Now()

	if _, err := e.store.UpdateWorkflow(ctx, wf.ID, func(w *api.Workflow) error {
		if apiErr := w.Transition(api.WorkflowStatusExecuting, ""); apiErr != nil {
			return apiErr
		}
		return nil
	}); err != nil {
		msg := fmt.Sprintf("workflow %s cannot execute: %v", wf.ID, err)
		return e.finish(ctx, exec, func() *api.APIError { return exec.Fail(msg, time.Since(start)) }), nil
	}

	timeout := e.cfg.timeout()
	job := &sandbox.Job{
		ExecutionID:     exec.ID,
		Code:            wf.GeneratedCode,
		UserInput:       userInput,
		AttachedFileIDs: slices.Clone(attachedFileIDs),
	}
	if e.tokens != nil && e.cfg.CapabilityURL != "" {
		token, err := e.tokens.Issue(exec.ID, attachedFileIDs, start.Add(timeout+tokenGrace))
		if err != nil {
			msg := "sandbox error: " + err.Error()
			return e.settle(ctx, exec, func() *api.APIError { return exec.Fail(msg, time.Since(start)) }), nil
		}
		defer e.tokens.Revoke(exec.ID)
		job.Env = map[string]string{
			EnvCapabilityURL:   e.cfg.CapabilityURL,
			EnvCapabilityToken: token,
		}
	}

	deadlineCtx, cancelDeadline := context.WithTimeout(runCtx, timeout)
	defer cancelDeadline()

	type runResult struct {
		out *sandbox.Outcome
		err error
	}
	done := make(chan runResult, 1)
	acquired = false // the run goroutine owns the slot now
	go func() {
		defer e.sem.Release(1)
		out, err := e.runner.Run(deadlineCtx, job)
		done <- runResult{out: out, err: err}
	}()

	var res runResult
	select {
	case res = <-done:
	case <-deadlineCtx.Done():
		// Do not wait for the runner; its context is cancelled and it
		// tears the isolate down on its own.
		res.err = deadlineCtx.Err()
	}
	elapsed := time.Since(start)

	var apply func() *api.APIError
	switch {
	case res.err != nil && context.Cause(runCtx) != nil:
		apply = func() *api.APIError { return exec.Fail(cancelledMessage, elapsed) }
	case res.err != nil && errors.Is(deadlineCtx.Err(), context.DeadlineExceeded):
		msg := fmt.Sprintf("execution timed out after %s", timeout)
		apply = func() *api.APIError { return exec.TimeOut(msg, timeout) }
	case res.err != nil:
		msg := "sandbox error: " + res.err.Error()
		apply = func() *api.APIError { return exec.Fail(msg, elapsed) }
	case res.out.Err != nil:
		msg := res.out.Err.Error()
		if res.out.Err.Traceback != "" {
			debug.Log("executor", "program raised", "execution_id", exec.ID, "traceback", res.out.Err.Traceback)
		}
		apply = func() *api.APIError { return exec.Fail(msg, elapsed) }
	default:
		result := res.out.Result
		apply = func() *api.APIError { return exec.Complete(result, elapsed) }
	}
	if res.out != nil && res.out.Stderr != "" {
		debug.Log("executor", "program stderr", "execution_id", exec.ID, "stderr", debug.Truncate(res.out.Stderr, 2000))
	}
	return e.settle(ctx, exec, apply), nil
}

// settle applies the terminal transition, stores it, and moves the
// workflow to completed or failed.
func (e *Executor) settle(ctx context.Context, exec *api.WorkflowExecution, apply func() *api.APIError) *api.WorkflowExecution {
	e.finish(ctx, exec, apply)

	_, err := e.store.UpdateWorkflow(ctx, exec.WorkflowID, func(w *api.Workflow) error {
		// Another run or a regeneration may have moved the workflow on.
		if w.Status != api.WorkflowStatusExecuting {
			return nil
		}
		var apiErr *api.APIError
		if exec.Status == api.ExecutionStatusCompleted {
			apiErr = w.Transition(api.WorkflowStatusCompleted, "")
		} else {
			apiErr = w.Transition(api.WorkflowStatusFailed, exec.Error)
		}
		if apiErr != nil {
			return apiErr
		}
		return nil
	})
	if err != nil {
		slog.Warn("failed to update workflow after execution", "workflow_id", exec.WorkflowID,
			"execution_id", exec.ID, "error", err)
	}
	return exec
}

// finish applies the terminal transition, records metrics and stores the
// snapshot in one write.
func (e *Executor) finish(ctx context.Context, exec *api.WorkflowExecution, apply func() *api.APIError) *api.WorkflowExecution {
	if apiErr := apply(); apiErr != nil {
		// The execution was already terminal; keep what was recorded.
		slog.Error("invalid execution transition", "execution_id", exec.ID, "error", apiErr)
		return exec
	}
	e.save(ctx, exec)

	status := string(exec.Status)
	observability.ExecutionsTotal.WithLabelValues(status).Inc()
	attrs := []any{
		"workflow_id", exec.WorkflowID,
		"execution_id", exec.ID,
		"status", status,
	}
	if exec.ExecutionTime != nil {
		observability.ExecutionDuration.WithLabelValues(status).Observe(*exec.ExecutionTime)
		attrs = append(attrs, slog.Float64("execution_time", *exec.ExecutionTime))
	}
	attrs = append(attrs, "error", exec.Error)
	slog.Info("execution finished", attrs...)
	return exec
}

func (e *Executor) save(ctx context.Context, exec *api.WorkflowExecution) {
	if err := e.store.SaveExecution(ctx, exec); err != nil {
		slog.Error("failed to save execution", "execution_id", exec.ID, "status", exec.Status, "error", err)
	}
}

// Close cancels every running execution, records them as cancelled, and
// waits until their final state is stored. Execute fails with an
// unavailable error afterwards.
func (e *Executor) Close() error {
	if n := e.inflight.closeAll(errShutdown); n > 0 {
		slog.Info("cancelling running executions", "count", n)
	}
	e.inflight.wait()
	return e.runner.Close()
}
