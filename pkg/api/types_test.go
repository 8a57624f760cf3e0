package api

import (
	"encoding/json"
	"testing"
	"time"
)

func TestWorkflowTransitionClearsError(t *testing.T) {
	wf := NewWorkflow("summarize documents", "", nil)
	if wf.Status != WorkflowStatusCreated {
		t.Fatalf("Status = %q, want %q", wf.Status, WorkflowStatusCreated)
	}

	if err := wf.Transition(WorkflowStatusGenerating, ""); err != nil {
		t.Fatalf("Transition(generating): %v", err)
	}
	if err := wf.Transition(WorkflowStatusFailed, "boom"); err != nil {
		t.Fatalf("Transition(failed): %v", err)
	}
	if wf.Error != "boom" {
		t.Errorf("Error = %q, want %q", wf.Error, "boom")
	}

	if err := wf.Transition(WorkflowStatusGenerating, "ignored"); err != nil {
		t.Fatalf("Transition(generating): %v", err)
	}
	if wf.Error != "" {
		t.Errorf("Error = %q after leaving failed, want empty", wf.Error)
	}
}

func TestWorkflowTransitionRefreshesUpdatedAt(t *testing.T) {
	wf := NewWorkflow("x", "", nil)
	wf.UpdatedAt = time.Now().Add(-time.Hour)
	before := wf.UpdatedAt

	if err := wf.Transition(WorkflowStatusGenerating, ""); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if !wf.UpdatedAt.After(before) {
		t.Errorf("UpdatedAt not refreshed: %v <= %v", wf.UpdatedAt, before)
	}
}

func TestWorkflowTransitionRejectsExecutingWithoutCode(t *testing.T) {
	wf := NewWorkflow("x", "", nil)
	wf.Status = WorkflowStatusFailed

	err := wf.Transition(WorkflowStatusExecuting, "")
	if err == nil {
		t.Fatal("expected error executing a workflow without code")
	}
	if err.Type != ErrorTypeInvalidRequest {
		t.Errorf("Type = %q, want %q", err.Type, ErrorTypeInvalidRequest)
	}
	if wf.Status != WorkflowStatusFailed {
		t.Errorf("Status = %q, want unchanged %q", wf.Status, WorkflowStatusFailed)
	}

	wf.GeneratedCode = "async def execute_workflow(user_input):\n    return 'ok'"
	if err := wf.Transition(WorkflowStatusExecuting, ""); err != nil {
		t.Errorf("Transition with code: %v", err)
	}
}

func TestWorkflowCloneIsIndependent(t *testing.T) {
	wf := NewWorkflow("x", "n", map[string]any{"k": "v"})
	c := wf.Clone()
	c.Context["k"] = "changed"
	c.Status = WorkflowStatusFailed

	if wf.Context["k"] != "v" {
		t.Errorf("original context mutated: %v", wf.Context["k"])
	}
	if wf.Status != WorkflowStatusCreated {
		t.Errorf("original status mutated: %q", wf.Status)
	}
	if (*Workflow)(nil).Clone() != nil {
		t.Error("nil Clone should be nil")
	}
}

func TestWorkflowCloneCopiesNestedContext(t *testing.T) {
	wf := NewWorkflow("x", "", map[string]any{
		"uploaded_file_ids": []int{1, 2},
		"tags":              []any{"a", map[string]any{"k": "v"}},
		"options":           map[string]any{"names": []string{"n"}},
	})
	c := wf.Clone()
	c.Context["uploaded_file_ids"].([]int)[0] = 99
	c.Context["tags"].([]any)[1].(map[string]any)["k"] = "changed"
	c.Context["options"].(map[string]any)["names"].([]string)[0] = "changed"

	if got := wf.Context["uploaded_file_ids"].([]int)[0]; got != 1 {
		t.Errorf("original file ids mutated: %d", got)
	}
	if got := wf.Context["tags"].([]any)[1].(map[string]any)["k"]; got != "v" {
		t.Errorf("original nested map mutated: %v", got)
	}
	if got := wf.Context["options"].(map[string]any)["names"].([]string)[0]; got != "n" {
		t.Errorf("original nested slice mutated: %v", got)
	}
}

func TestExecutionLifecycle(t *testing.T) {
	tests := []struct {
		name       string
		finish     func(e *WorkflowExecution) *APIError
		wantStatus ExecutionStatus
		wantResult bool
		wantError  string
		wantTime   float64
	}{
		{
			name:       "completed",
			finish:     func(e *WorkflowExecution) *APIError { return e.Complete("OK", 2*time.Second) },
			wantStatus: ExecutionStatusCompleted,
			wantResult: true,
			wantTime:   2,
		},
		{
			name:       "failed",
			finish:     func(e *WorkflowExecution) *APIError { return e.Fail("ValueError: bad", time.Second) },
			wantStatus: ExecutionStatusFailed,
			wantError:  "ValueError: bad",
			wantTime:   1,
		},
		{
			name:       "timeout",
			finish:     func(e *WorkflowExecution) *APIError { return e.TimeOut("execution timed out after 5s", 5*time.Second) },
			wantStatus: ExecutionStatusTimeout,
			wantError:  "execution timed out after 5s",
			wantTime:   5,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewExecution("wf", "input", []int{1, 2})
			if err := e.Start(); err != nil {
				t.Fatalf("Start: %v", err)
			}
			if err := tt.finish(e); err != nil {
				t.Fatalf("finish: %v", err)
			}
			if e.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", e.Status, tt.wantStatus)
			}
			if (e.Result != nil) != tt.wantResult {
				t.Errorf("Result set = %v, want %v", e.Result != nil, tt.wantResult)
			}
			if e.Error != tt.wantError {
				t.Errorf("Error = %q, want %q", e.Error, tt.wantError)
			}
			if e.ExecutionTime == nil || *e.ExecutionTime != tt.wantTime {
				t.Errorf("ExecutionTime = %v, want %v", e.ExecutionTime, tt.wantTime)
			}
			if e.CompletedAt == nil {
				t.Error("CompletedAt not set")
			}
			if err := e.Complete("again", 0); err == nil {
				t.Error("terminal execution accepted another transition")
			}
		})
	}
}

func TestExecutionFailFromPending(t *testing.T) {
	e := NewExecution("wf", "", nil)
	if err := e.Fail("sandbox error: no capacity", 0); err != nil {
		t.Fatalf("Fail from pending: %v", err)
	}
	if e.Status != ExecutionStatusFailed {
		t.Errorf("Status = %q, want failed", e.Status)
	}
}

func TestExecutionCloneIsIndependent(t *testing.T) {
	e := NewExecution("wf", "in", []int{7})
	_ = e.Start()
	_ = e.Complete("OK", time.Second)

	c := e.Clone()
	c.AttachedFileIDs[0] = 9
	*c.Result = "changed"
	*c.ExecutionTime = 42

	if e.AttachedFileIDs[0] != 7 {
		t.Errorf("original file ids mutated: %v", e.AttachedFileIDs)
	}
	if *e.Result != "OK" {
		t.Errorf("original result mutated: %q", *e.Result)
	}
	if *e.ExecutionTime != 1 {
		t.Errorf("original execution time mutated: %v", *e.ExecutionTime)
	}
}

func TestExecutionJSONOmitsUnsetFields(t *testing.T) {
	e := NewExecution("wf", "in", nil)
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	for _, key := range []string{"result", "error", "execution_time", "completed_at"} {
		if _, ok := m[key]; ok {
			t.Errorf("pending execution JSON contains %q", key)
		}
	}
	if m["status"] != "pending" {
		t.Errorf("status = %v, want pending", m["status"])
	}
}

func TestEmptyResultIsSerialized(t *testing.T) {
	e := NewExecution("wf", "in", nil)
	_ = e.Start()
	_ = e.Complete("", time.Millisecond)

	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if v, ok := m["result"]; !ok || v != "" {
		t.Errorf("result = %v (present %v), want empty string", v, ok)
	}
}

func TestStatusValid(t *testing.T) {
	if !WorkflowStatusReady.Valid() || WorkflowStatus("archived").Valid() {
		t.Error("WorkflowStatus.Valid mismatch")
	}
	if !ExecutionStatusTimeout.Valid() || ExecutionStatus("killed").Valid() {
		t.Error("ExecutionStatus.Valid mismatch")
	}
}
