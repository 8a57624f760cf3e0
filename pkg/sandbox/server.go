package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rhuss/flowgen/pkg/debug"
)

// DefaultServerTimeout applies when a request carries no timeout.
const DefaultServerTimeout = 300 * time.Second

// Server exposes a Runner over HTTP for the remote runtime:
//
//	POST /execute  run one job (429 when all slots are taken)
//	GET  /health   capacity and load
type Server struct {
	runner        Runner
	maxConcurrent int32
	currentLoad   atomic.Int32
	startTime     time.Time
}

// NewServer creates a server that runs at most maxConcurrent jobs at once.
func NewServer(runner Runner, maxConcurrent int) *Server {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Server{runner: runner, maxConcurrent: int32(maxConcurrent), startTime: time.Now()}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /execute", s.handleExecute)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	current := s.currentLoad.Add(1)
	defer s.currentLoad.Add(-1)

	if current > s.maxConcurrent {
		writeServerError(w, http.StatusTooManyRequests,
			fmt.Sprintf("at capacity (%d/%d concurrent executions)", current, s.maxConcurrent))
		return
	}

	var req ExecuteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 10<<20)).Decode(&req); err != nil {
		writeServerError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if req.Code == "" {
		writeServerError(w, http.StatusBadRequest, "code is required")
		return
	}

	timeout := DefaultServerTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}
	slog.Info("execute request", "execution_id", req.ExecutionID,
		"code", debug.Truncate(req.Code, 120), "timeout", timeout, "files", len(req.AttachedFileIDs))

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	start := time.Now()
	out, err := s.runner.Run(ctx, &Job{
		ExecutionID:     req.ExecutionID,
		Code:            req.Code,
		UserInput:       req.UserInput,
		AttachedFileIDs: req.AttachedFileIDs,
		Env:             req.Env,
	})
	elapsed := time.Since(start)

	var resp ExecuteResponse
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		resp = ExecuteResponse{
			Status: StatusTimeout,
			Error:  &ProgramError{Type: "TimeoutError", Message: fmt.Sprintf("execution timed out after %s", timeout)},
		}
	case err != nil:
		slog.Warn("execute failed", "execution_id", req.ExecutionID, "error", err)
		writeServerError(w, http.StatusInternalServerError, err.Error())
		return
	case out.Err != nil:
		resp = ExecuteResponse{Status: StatusFailed, Error: out.Err, Stdout: out.Stdout, Stderr: out.Stderr}
	default:
		resp = ExecuteResponse{Status: StatusCompleted, Result: out.Result, Stdout: out.Stdout, Stderr: out.Stderr}
	}
	resp.ExecutionTimeMs = elapsed.Milliseconds()

	slog.Info("execute complete", "execution_id", req.ExecutionID, "status", resp.Status,
		"duration_ms", resp.ExecutionTimeMs, "stdout_len", len(resp.Stdout))

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(HealthResponse{
		Status:      "healthy",
		Runtime:     s.runner.Name(),
		Capacity:    int(s.maxConcurrent),
		CurrentLoad: int(s.currentLoad.Load()),
		UptimeSecs:  int64(time.Since(s.startTime).Seconds()),
	})
}

func writeServerError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
