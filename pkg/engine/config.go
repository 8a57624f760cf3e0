package engine

// DefaultMaxWorkflowSteps is the step budget recorded on new workflows.
const DefaultMaxWorkflowSteps = 50

// Config holds configuration for the workflow engine.
type Config struct {
	// MaxWorkflowSteps is stored in a new workflow's context under
	// "max_workflow_steps" unless the caller set it. The generation prompt
	// shows it to the model; nothing enforces it at run time. Zero or
	// negative means the default of 50.
	MaxWorkflowSteps int
}

func (c Config) maxSteps() int {
	if c.MaxWorkflowSteps <= 0 {
		return DefaultMaxWorkflowSteps
	}
	return c.MaxWorkflowSteps
}
