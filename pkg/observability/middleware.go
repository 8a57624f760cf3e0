package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// MetricsMiddleware records flowgen_requests_total and
// flowgen_request_duration_seconds for every request, labelled by method,
// route template and status class.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		route := Route(r.URL.Path)

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		class := strconv.Itoa(sw.status/100) + "xx"
		RequestsTotal.WithLabelValues(r.Method, route, class).Inc()
		RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Route maps a request path to its route template so that ids never
// become label values. Unknown paths map to "other".
func Route(path string) string {
	switch {
	case path == "/":
		return "/"
	case path == "/healthz", path == "/metrics", path == "/workflows", path == "/workflows-with-files":
		return path
	case path == "/mcp" || strings.HasPrefix(path, "/mcp/"):
		return "/mcp"
	case strings.HasPrefix(path, "/capabilities/"):
		op := strings.TrimPrefix(path, "/capabilities")
		switch op {
		case "/v1/document-search", "/v1/document-analysis", "/v1/chat/completions", "/v1/image-analysis":
			return "/capabilities" + op
		}
		return "/capabilities/other"
	}

	rest, ok := strings.CutPrefix(path, "/workflows/")
	if !ok || rest == "" {
		return "other"
	}
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1:
		return "/workflows/{id}"
	case len(parts) == 2 && parts[1] == "execute":
		return "/workflows/{id}/execute"
	case len(parts) == 2 && parts[1] == "executions":
		return "/workflows/{id}/executions"
	case len(parts) == 2 && parts[1] == "regenerate-with-feedback":
		return "/workflows/{id}/regenerate-with-feedback"
	case len(parts) == 3 && parts[1] == "executions":
		return "/workflows/{id}/executions/{execution_id}"
	}
	return "other"
}

type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.written {
		w.status = status
		w.written = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.written = true
	return w.ResponseWriter.Write(b)
}

// Flush lets the MCP streamable transport flush event streams.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the original writer to http.ResponseController.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
