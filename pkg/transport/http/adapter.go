// Package http serves the flowgen workflow API over HTTP using net/http
// ServeMux method and wildcard patterns.
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/rhuss/flowgen/pkg/api"
	"github.com/rhuss/flowgen/pkg/transport"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "Workflow Automation API"

// Config holds configuration for the HTTP adapter.
type Config struct {
	// MaxBodySize limits request bodies. Defaults to 1 MiB.
	MaxBodySize int64

	// Debug exposes server error details to clients.
	Debug bool

	// Version is reported by the health endpoint.
	Version string

	// Validation bounds request fields.
	Validation api.ValidationConfig
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		MaxBodySize: 1 << 20,
		Version:     "dev",
		Validation:  api.DefaultValidationConfig(),
	}
}

// Adapter routes workflow API requests to a transport.WorkflowService.
type Adapter struct {
	svc    transport.WorkflowService
	health transport.HealthChecker
	mux    *http.ServeMux
	cfg    Config
}

// NewAdapter creates an adapter. health may be nil.
func NewAdapter(svc transport.WorkflowService, health transport.HealthChecker, cfg Config) *Adapter {
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultConfig().MaxBodySize
	}
	if cfg.Version == "" {
		cfg.Version = DefaultConfig().Version
	}
	a := &Adapter{svc: svc, health: health, mux: http.NewServeMux(), cfg: cfg}

	a.mux.HandleFunc("GET /{$}", a.handleRoot)
	a.mux.HandleFunc("GET /healthz", a.handleHealthz)
	a.mux.HandleFunc("POST /workflows", a.handleCreateWorkflow)
	a.mux.HandleFunc("POST /workflows-with-files", a.handleCreateWorkflowWithFiles)
	a.mux.HandleFunc("GET /workflows", a.handleListWorkflows)
	a.mux.HandleFunc("GET /workflows/{id}", a.handleGetWorkflow)
	a.mux.HandleFunc("POST /workflows/{id}/execute", a.handleExecute)
	a.mux.HandleFunc("GET /workflows/{id}/executions", a.handleListExecutions)
	a.mux.HandleFunc("GET /workflows/{id}/executions/{execution_id}", a.handleGetExecution)
	a.mux.HandleFunc("POST /workflows/{id}/regenerate-with-feedback", a.handleRegenerate)
	return a
}

// Handle mounts an additional handler, such as the capability gateway,
// the MCP endpoint or the metrics exporter.
func (a *Adapter) Handle(pattern string, h http.Handler) {
	a.mux.Handle(pattern, h)
}

// Handler returns the routing handler without middleware.
func (a *Adapter) Handler() http.Handler {
	return a.mux
}

type healthResponse struct {
	Message   string `json:"message"`
	Version   string `json:"version"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Error     string `json:"error,omitempty"`
}

func (a *Adapter) checkHealth(r *http.Request) (healthResponse, int) {
	resp := healthResponse{
		Message:   ServiceName,
		Version:   a.cfg.Version,
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if a.health != nil {
		if err := a.health.HealthCheck(r.Context()); err != nil {
			slog.Warn("health check failed", "error", err)
			resp.Status = "unhealthy"
			resp.Error = err.Error()
			return resp, http.StatusServiceUnavailable
		}
	}
	return resp, http.StatusOK
}

func (a *Adapter) handleRoot(w http.ResponseWriter, r *http.Request) {
	resp, status := a.checkHealth(r)
	writeJSON(w, status, resp)
}

func (a *Adapter) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp, status := a.checkHealth(r)
	writeJSON(w, status, map[string]string{"status": resp.Status})
}

func (a *Adapter) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req api.CreateWorkflowRequest
	if !a.decode(w, r, &req) {
		return
	}
	if apiErr := api.ValidateCreateWorkflow(&req, a.cfg.Validation); apiErr != nil {
		a.writeError(w, apiErr)
		return
	}
	wf, err := a.svc.CreateWorkflow(r.Context(), &req)
	a.respond(w, wf, err)
}

func (a *Adapter) handleCreateWorkflowWithFiles(w http.ResponseWriter, r *http.Request) {
	var req api.CreateWorkflowWithFilesRequest
	if !a.decode(w, r, &req) {
		return
	}
	if apiErr := api.ValidateCreateWorkflowWithFiles(&req, a.cfg.Validation); apiErr != nil {
		a.writeError(w, apiErr)
		return
	}
	wf, err := a.svc.CreateWorkflowWithFiles(r.Context(), &req)
	a.respond(w, wf, err)
}

func (a *Adapter) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	list, err := a.svc.ListWorkflows(r.Context())
	a.respond(w, list, err)
}

func (a *Adapter) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := a.svc.GetWorkflow(r.Context(), r.PathValue("id"))
	a.respond(w, wf, err)
}

func (a *Adapter) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req api.ExecuteWorkflowRequest
	if !a.decode(w, r, &req) {
		return
	}
	if apiErr := api.ValidateExecuteWorkflow(&req, a.cfg.Validation); apiErr != nil {
		a.writeError(w, apiErr)
		return
	}
	exec, err := a.svc.ExecuteWorkflow(r.Context(), r.PathValue("id"), &req)
	a.respond(w, exec, err)
}

func (a *Adapter) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	list, err := a.svc.ListExecutions(r.Context(), r.PathValue("id"))
	a.respond(w, list, err)
}

func (a *Adapter) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := a.svc.GetExecution(r.Context(), r.PathValue("id"), r.PathValue("execution_id"))
	a.respond(w, exec, err)
}

func (a *Adapter) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	var req api.RegenerateRequest
	if !a.decode(w, r, &req) {
		return
	}
	if apiErr := api.ValidateRegenerate(&req); apiErr != nil {
		a.writeError(w, apiErr)
		return
	}
	wf, err := a.svc.RegenerateWorkflow(r.Context(), r.PathValue("id"), &req)
	a.respond(w, wf, err)
}

// decode reads a JSON body into v. It writes the error response and
// returns false on failure.
func (a *Adapter) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if ct := r.Header.Get("Content-Type"); ct != "" && !isJSON(ct) {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("content_type", "Content-Type must be application/json"),
			http.StatusUnsupportedMediaType)
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, a.cfg.MaxBodySize)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			transport.WriteErrorResponse(w,
				api.NewInvalidRequestError("body", fmt.Sprintf("request body too large (max %d bytes)", a.cfg.MaxBodySize)),
				http.StatusRequestEntityTooLarge)
			return false
		}
		a.writeError(w, api.NewInvalidRequestError("body", "invalid JSON: "+err.Error()))
		return false
	}
	if dec.More() {
		a.writeError(w, api.NewInvalidRequestError("body", "invalid JSON: trailing data after object"))
		return false
	}
	return true
}

func isJSON(ct string) bool {
	mediaType, _, err := mime.ParseMediaType(ct)
	return err == nil && mediaType == "application/json"
}

func (a *Adapter) respond(w http.ResponseWriter, v any, err error) {
	if err != nil {
		a.writeError(w, transport.ToAPIError(err))
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *Adapter) writeError(w http.ResponseWriter, apiErr *api.APIError) {
	transport.WriteAPIError(w, transport.SanitizeError(apiErr, a.cfg.Debug))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "error", err)
	}
}
