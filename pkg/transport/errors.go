package transport

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/rhuss/flowgen/pkg/api"
)

// HTTPStatusFromError maps an APIError type to its HTTP status code.
// Transport-level failures (body too large, unsupported content type) are
// written by the HTTP adapter directly.
func HTTPStatusFromError(err *api.APIError) int {
	switch err.Type {
	case api.ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case api.ErrorTypeNotFound:
		return http.StatusNotFound
	case api.ErrorTypeGenerationError:
		return http.StatusBadGateway
	case api.ErrorTypeTooManyRequests:
		return http.StatusTooManyRequests
	case api.ErrorTypeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteErrorResponse writes apiErr in the {"error": {...}} envelope with
// the given status code.
func WriteErrorResponse(w http.ResponseWriter, apiErr *api.APIError, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: apiErr})
}

// WriteAPIError writes apiErr with the status derived from its type.
func WriteAPIError(w http.ResponseWriter, apiErr *api.APIError) {
	WriteErrorResponse(w, apiErr, HTTPStatusFromError(apiErr))
}

// ToAPIError returns err as an *api.APIError. Errors of any other kind
// become server errors carrying err's message.
func ToAPIError(err error) *api.APIError {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return api.NewServerError(err.Error())
}

// SanitizeError hides the message of server errors unless debug is set.
// The original message is logged so it is not lost.
func SanitizeError(apiErr *api.APIError, debug bool) *api.APIError {
	if debug || apiErr.Type != api.ErrorTypeServerError {
		return apiErr
	}
	slog.Error("internal error", "error", apiErr.Message)
	return &api.APIError{Type: api.ErrorTypeServerError, Message: "internal server error"}
}
