package capability

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/rhuss/flowgen/pkg/debug"
	"github.com/rhuss/flowgen/pkg/observability"
)

// Backend performs capability operations. *Client implements it.
type Backend interface {
	DocumentSearch(ctx context.Context, payload map[string]any) (json.RawMessage, error)
	AnalyzeDocuments(ctx context.Context, req *AnalysisRequest) (string, error)
	ChatCompletion(ctx context.Context, prompt, model string) (string, error)
	AnalyzeImage(ctx context.Context, req *AnalysisRequest) (string, error)
}

var _ Backend = (*Client)(nil)

// Verifier checks capability tokens. *Issuer implements it.
type Verifier interface {
	Verify(token string) (*Claims, error)
}

type claimsKey struct{}

// Gateway exposes the capability operations to running programs. Every
// request must carry a capability token as a Bearer credential. Routes:
//
//	POST /v1/document-search
//	POST /v1/document-analysis
//	POST /v1/chat/completions
//	POST /v1/image-analysis
type Gateway struct {
	backend  Backend
	verifier Verifier
	mux      *http.ServeMux
}

// NewGateway creates the gateway handler. Mount it with http.StripPrefix
// when it lives below the server root.
func NewGateway(backend Backend, verifier Verifier) *Gateway {
	g := &Gateway{backend: backend, verifier: verifier, mux: http.NewServeMux()}
	g.mux.HandleFunc("POST /v1/document-search", g.handleDocumentSearch)
	g.mux.HandleFunc("POST /v1/document-analysis", g.handleDocumentAnalysis)
	g.mux.HandleFunc("POST /v1/chat/completions", g.handleChatCompletion)
	g.mux.HandleFunc("POST /v1/image-analysis", g.handleImageAnalysis)
	return g
}

// ServeHTTP implements http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		writeGatewayError(w, http.StatusUnauthorized, "capability token required")
		return
	}
	claims, err := g.verifier.Verify(token)
	if err != nil {
		debug.Log("capability", "token rejected", "path", r.URL.Path, "error", err)
		writeGatewayError(w, http.StatusUnauthorized, err.Error())
		return
	}
	ctx := context.WithValue(r.Context(), claimsKey{}, claims)
	g.mux.ServeHTTP(w, r.WithContext(ctx))
}

// ClaimsFromContext returns the verified claims of the current request.
func ClaimsFromContext(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey{}).(*Claims)
	return c
}

func (g *Gateway) handleDocumentSearch(w http.ResponseWriter, r *http.Request) {
	const op = "document_search"
	var payload map[string]any
	if !decodeBody(w, r, op, &payload) {
		return
	}
	if _, ok := payload["query"].(string); !ok {
		reject(w, op, http.StatusBadRequest, "query is required")
		return
	}
	if raw, present := payload["file_ids"]; present {
		ids, ok := intList(raw)
		if !ok {
			reject(w, op, http.StatusBadRequest, "file_ids must be a list of integers")
			return
		}
		if !ClaimsFromContext(r.Context()).AllowsFiles(ids) {
			reject(w, op, http.StatusForbidden, "file_ids outside the files attached to this execution")
			return
		}
	}
	out, err := g.backend.DocumentSearch(r.Context(), payload)
	if err != nil {
		upstreamFailure(w, r, op, err)
		return
	}
	succeed(w, op, out)
}

func (g *Gateway) handleDocumentAnalysis(w http.ResponseWriter, r *http.Request) {
	const op = "document_analysis"
	var req AnalysisRequest
	if !decodeBody(w, r, op, &req) || !requireScopedQuery(w, r, op, &req) {
		return
	}
	result, err := g.backend.AnalyzeDocuments(r.Context(), &req)
	if err != nil {
		upstreamFailure(w, r, op, err)
		return
	}
	succeed(w, op, map[string]string{"result": result})
}

func (g *Gateway) handleChatCompletion(w http.ResponseWriter, r *http.Request) {
	const op = "chat_completion"
	var req struct {
		Prompt string `json:"prompt"`
		Model  string `json:"model"`
	}
	if !decodeBody(w, r, op, &req) {
		return
	}
	if req.Prompt == "" {
		reject(w, op, http.StatusBadRequest, "prompt is required")
		return
	}
	content, err := g.backend.ChatCompletion(r.Context(), req.Prompt, req.Model)
	if err != nil {
		upstreamFailure(w, r, op, err)
		return
	}
	succeed(w, op, map[string]string{"content": content})
}

func (g *Gateway) handleImageAnalysis(w http.ResponseWriter, r *http.Request) {
	const op = "image_analysis"
	var req AnalysisRequest
	if !decodeBody(w, r, op, &req) || !requireScopedQuery(w, r, op, &req) {
		return
	}
	answer, err := g.backend.AnalyzeImage(r.Context(), &req)
	if err != nil {
		upstreamFailure(w, r, op, err)
		return
	}
	succeed(w, op, map[string]string{"answer": answer})
}

func decodeBody(w http.ResponseWriter, r *http.Request, op string, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		reject(w, op, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// requireScopedQuery checks an analysis request has a query and only
// names documents attached to the calling execution.
func requireScopedQuery(w http.ResponseWriter, r *http.Request, op string, req *AnalysisRequest) bool {
	if req.Query == "" {
		reject(w, op, http.StatusBadRequest, "query is required")
		return false
	}
	if len(req.DocumentIDs) == 0 {
		reject(w, op, http.StatusBadRequest, "document_ids is required")
		return false
	}
	ids := make([]int, 0, len(req.DocumentIDs))
	for _, s := range req.DocumentIDs {
		id, err := strconv.Atoi(s)
		if err != nil {
			reject(w, op, http.StatusBadRequest, "document_ids must be integers")
			return false
		}
		ids = append(ids, id)
	}
	if !ClaimsFromContext(r.Context()).AllowsFiles(ids) {
		reject(w, op, http.StatusForbidden, "document_ids outside the files attached to this execution")
		return false
	}
	return true
}

func succeed(w http.ResponseWriter, op string, body any) {
	observability.CapabilityCallsTotal.WithLabelValues(op, "ok").Inc()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func reject(w http.ResponseWriter, op string, status int, message string) {
	observability.CapabilityCallsTotal.WithLabelValues(op, "rejected").Inc()
	writeGatewayError(w, status, message)
}

func upstreamFailure(w http.ResponseWriter, r *http.Request, op string, err error) {
	observability.CapabilityCallsTotal.WithLabelValues(op, "error").Inc()
	slog.Warn("capability call failed", "operation", op,
		"execution_id", ClaimsFromContext(r.Context()).ExecutionID(), "error", err)

	status := http.StatusBadGateway
	if errors.Is(err, ErrAnalysisTimeout) {
		status = http.StatusGatewayTimeout
	}
	writeGatewayError(w, status, err.Error())
}

func writeGatewayError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"message": message},
	})
}

// intList converts a decoded JSON array of whole numbers.
func intList(v any) ([]int, bool) {
	items, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]int, 0, len(items))
	for _, item := range items {
		f, ok := item.(float64)
		if !ok || f != float64(int(f)) {
			return nil, false
		}
		out = append(out, int(f))
	}
	return out, true
}
