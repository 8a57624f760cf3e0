package api

import "github.com/google/uuid"

// NewWorkflowID returns a random (version 4) UUID for a new workflow.
func NewWorkflowID() string {
	return uuid.NewString()
}

// NewExecutionID returns a random (version 4) UUID for a new execution.
func NewExecutionID() string {
	return uuid.NewString()
}

// ValidateID reports whether id is a well-formed UUID in canonical form.
func ValidateID(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}
