package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rhuss/flowgen/pkg/api"
)

func TestHTTPStatusFromError(t *testing.T) {
	tests := []struct {
		errType    api.ErrorType
		wantStatus int
	}{
		{api.ErrorTypeInvalidRequest, http.StatusBadRequest},
		{api.ErrorTypeNotFound, http.StatusNotFound},
		{api.ErrorTypeGenerationError, http.StatusBadGateway},
		{api.ErrorTypeTooManyRequests, http.StatusTooManyRequests},
		{api.ErrorTypeUnavailable, http.StatusServiceUnavailable},
		{api.ErrorTypeServerError, http.StatusInternalServerError},
		{api.ErrorType("unknown"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.errType), func(t *testing.T) {
			if got := HTTPStatusFromError(&api.APIError{Type: tt.errType}); got != tt.wantStatus {
				t.Errorf("HTTPStatusFromError(%q) = %d, want %d", tt.errType, got, tt.wantStatus)
			}
		})
	}
}

func TestWriteAPIError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteAPIError(rec, api.NewGenerationError(api.GenerationCodeValidation, "generated code validation failed: no entry point"))

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var resp api.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error.Type != api.ErrorTypeGenerationError || resp.Error.Code != api.GenerationCodeValidation {
		t.Errorf("error = %+v", resp.Error)
	}
}

func TestToAPIError(t *testing.T) {
	nf := api.NewNotFoundError("workflow x not found")
	if got := ToAPIError(fmt.Errorf("wrapped: %w", nf)); got != nf {
		t.Errorf("wrapped APIError not unwrapped: %+v", got)
	}
	got := ToAPIError(errors.New("disk full"))
	if got.Type != api.ErrorTypeServerError || got.Message != "disk full" {
		t.Errorf("got %+v", got)
	}
}

func TestSanitizeError(t *testing.T) {
	server := api.NewServerError("pq: connection refused at 10.0.0.3")
	if got := SanitizeError(server, false); got.Message != "internal server error" {
		t.Errorf("message leaked: %q", got.Message)
	}
	if got := SanitizeError(server, true); got != server {
		t.Errorf("debug mode rewrote the error: %+v", got)
	}
	bad := api.NewInvalidRequestError("user_input", "user_input is required")
	if got := SanitizeError(bad, false); got != bad {
		t.Errorf("client error rewritten: %+v", got)
	}
}
