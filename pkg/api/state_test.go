package api

import (
	"strings"
	"testing"
)

func TestValidateWorkflowTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    WorkflowStatus
		to      WorkflowStatus
		wantErr bool
	}{
		// Valid transitions
		{name: "initial to created", from: "", to: WorkflowStatusCreated},
		{name: "created to generating", from: WorkflowStatusCreated, to: WorkflowStatusGenerating},
		{name: "generating to ready", from: WorkflowStatusGenerating, to: WorkflowStatusReady},
		{name: "generating to failed", from: WorkflowStatusGenerating, to: WorkflowStatusFailed},
		{name: "ready to executing", from: WorkflowStatusReady, to: WorkflowStatusExecuting},
		{name: "ready to generating (regenerate)", from: WorkflowStatusReady, to: WorkflowStatusGenerating},
		{name: "executing to executing (concurrent run)", from: WorkflowStatusExecuting, to: WorkflowStatusExecuting},
		{name: "executing to completed", from: WorkflowStatusExecuting, to: WorkflowStatusCompleted},
		{name: "executing to failed", from: WorkflowStatusExecuting, to: WorkflowStatusFailed},
		{name: "completed to executing", from: WorkflowStatusCompleted, to: WorkflowStatusExecuting},
		{name: "completed to generating", from: WorkflowStatusCompleted, to: WorkflowStatusGenerating},
		{name: "failed to executing", from: WorkflowStatusFailed, to: WorkflowStatusExecuting},
		{name: "failed to generating", from: WorkflowStatusFailed, to: WorkflowStatusGenerating},

		// Invalid transitions
		{name: "initial to ready", from: "", to: WorkflowStatusReady, wantErr: true},
		{name: "created to ready (skip generating)", from: WorkflowStatusCreated, to: WorkflowStatusReady, wantErr: true},
		{name: "created to executing", from: WorkflowStatusCreated, to: WorkflowStatusExecuting, wantErr: true},
		{name: "generating to executing", from: WorkflowStatusGenerating, to: WorkflowStatusExecuting, wantErr: true},
		{name: "generating to completed", from: WorkflowStatusGenerating, to: WorkflowStatusCompleted, wantErr: true},
		{name: "ready to completed (skip executing)", from: WorkflowStatusReady, to: WorkflowStatusCompleted, wantErr: true},
		{name: "executing to generating", from: WorkflowStatusExecuting, to: WorkflowStatusGenerating, wantErr: true},
		{name: "executing to ready", from: WorkflowStatusExecuting, to: WorkflowStatusReady, wantErr: true},
		{name: "completed to created", from: WorkflowStatusCompleted, to: WorkflowStatusCreated, wantErr: true},
		{name: "unknown source", from: "archived", to: WorkflowStatusReady, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateWorkflowTransition(tt.from, tt.to)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ValidateWorkflowTransition(%q, %q) = nil, want error", tt.from, tt.to)
				} else if !strings.Contains(err.Message, "invalid transition") {
					t.Errorf("error message %q does not contain \"invalid transition\"", err.Message)
				}
			} else if err != nil {
				t.Errorf("ValidateWorkflowTransition(%q, %q) = %v, want nil", tt.from, tt.to, err)
			}
		})
	}
}

func TestValidateExecutionTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    ExecutionStatus
		to      ExecutionStatus
		wantErr bool
	}{
		{name: "initial to pending", from: "", to: ExecutionStatusPending},
		{name: "pending to running", from: ExecutionStatusPending, to: ExecutionStatusRunning},
		{name: "pending to failed (no isolate)", from: ExecutionStatusPending, to: ExecutionStatusFailed},
		{name: "running to completed", from: ExecutionStatusRunning, to: ExecutionStatusCompleted},
		{name: "running to failed", from: ExecutionStatusRunning, to: ExecutionStatusFailed},
		{name: "running to timeout", from: ExecutionStatusRunning, to: ExecutionStatusTimeout},

		{name: "initial to running", from: "", to: ExecutionStatusRunning, wantErr: true},
		{name: "pending to completed", from: ExecutionStatusPending, to: ExecutionStatusCompleted, wantErr: true},
		{name: "pending to timeout", from: ExecutionStatusPending, to: ExecutionStatusTimeout, wantErr: true},
		{name: "running to pending", from: ExecutionStatusRunning, to: ExecutionStatusPending, wantErr: true},
		{name: "completed to running", from: ExecutionStatusCompleted, to: ExecutionStatusRunning, wantErr: true},
		{name: "completed to failed", from: ExecutionStatusCompleted, to: ExecutionStatusFailed, wantErr: true},
		{name: "failed to completed", from: ExecutionStatusFailed, to: ExecutionStatusCompleted, wantErr: true},
		{name: "timeout to completed", from: ExecutionStatusTimeout, to: ExecutionStatusCompleted, wantErr: true},
		{name: "timeout to failed", from: ExecutionStatusTimeout, to: ExecutionStatusFailed, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateExecutionTransition(tt.from, tt.to)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ValidateExecutionTransition(%q, %q) = nil, want error", tt.from, tt.to)
				}
			} else if err != nil {
				t.Errorf("ValidateExecutionTransition(%q, %q) = %v, want nil", tt.from, tt.to, err)
			}
		})
	}
}

func TestTerminalExecutionStatusesHaveNoExits(t *testing.T) {
	all := []ExecutionStatus{
		ExecutionStatusPending, ExecutionStatusRunning, ExecutionStatusCompleted,
		ExecutionStatusFailed, ExecutionStatusTimeout,
	}
	for _, from := range all {
		if !from.IsTerminal() {
			continue
		}
		for _, to := range all {
			if ValidateExecutionTransition(from, to) == nil {
				t.Errorf("terminal status %q allows transition to %q", from, to)
			}
		}
	}
}
