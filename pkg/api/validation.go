package api

import (
	"fmt"
	"strings"
)

// ValidationConfig holds configurable limits for request validation.
type ValidationConfig struct {
	MaxDescriptionSize int
	MaxUserInputSize   int
	MaxFileIDs         int
}

// DefaultValidationConfig returns a ValidationConfig with sensible defaults.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		MaxDescriptionSize: 64 * 1024,
		MaxUserInputSize:   1024 * 1024, // 1MB
		MaxFileIDs:         100,
	}
}

// ValidateCreateWorkflow checks a CreateWorkflowRequest. It returns an
// *APIError describing the first validation failure, or nil if the request is valid.
func ValidateCreateWorkflow(req *CreateWorkflowRequest, cfg ValidationConfig) *APIError {
	return validateDescription(req.Description, cfg)
}

// ValidateCreateWorkflowWithFiles checks a CreateWorkflowWithFilesRequest.
func ValidateCreateWorkflowWithFiles(req *CreateWorkflowWithFilesRequest, cfg ValidationConfig) *APIError {
	if apiErr := validateDescription(req.Description, cfg); apiErr != nil {
		return apiErr
	}
	return ValidateFileIDs("uploaded_file_ids", req.UploadedFileIDs, cfg)
}

// ValidateExecuteWorkflow checks an ExecuteWorkflowRequest. An empty
// user_input is allowed; a missing one is not.
func ValidateExecuteWorkflow(req *ExecuteWorkflowRequest, cfg ValidationConfig) *APIError {
	if req.UserInput == nil {
		return NewInvalidRequestError("user_input", "user_input is required")
	}
	if cfg.MaxUserInputSize > 0 && len(*req.UserInput) > cfg.MaxUserInputSize {
		return NewInvalidRequestError("user_input",
			fmt.Sprintf("user_input exceeds maximum of %d bytes", cfg.MaxUserInputSize))
	}
	return ValidateFileIDs("attached_file_ids", req.AttachedFileIDs, cfg)
}

// ValidateRegenerate checks a RegenerateRequest.
func ValidateRegenerate(req *RegenerateRequest) *APIError {
	if strings.TrimSpace(req.UserFeedback) == "" {
		return NewInvalidRequestError("user_feedback", "user_feedback is required")
	}
	return nil
}

// ValidateFileIDs rejects negative ids and lists longer than the configured maximum.
func ValidateFileIDs(param string, ids []int, cfg ValidationConfig) *APIError {
	if cfg.MaxFileIDs > 0 && len(ids) > cfg.MaxFileIDs {
		return NewInvalidRequestError(param,
			fmt.Sprintf("%s exceeds maximum of %d ids", param, cfg.MaxFileIDs))
	}
	for _, id := range ids {
		if id < 0 {
			return NewInvalidRequestError(param,
				fmt.Sprintf("invalid file id %d", id))
		}
	}
	return nil
}

func validateDescription(description string, cfg ValidationConfig) *APIError {
	if strings.TrimSpace(description) == "" {
		return NewInvalidRequestError("description", "description is required")
	}
	if cfg.MaxDescriptionSize > 0 && len(description) > cfg.MaxDescriptionSize {
		return NewInvalidRequestError("description",
			fmt.Sprintf("description exceeds maximum of %d bytes", cfg.MaxDescriptionSize))
	}
	return nil
}
