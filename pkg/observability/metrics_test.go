package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// TestMetricsRegistered verifies that all metrics are registered in the
// default registry.
func TestMetricsRegistered(t *testing.T) {
	// Vectors only appear after their first observation.
	RequestsTotal.WithLabelValues("GET", "/workflows", "2xx").Inc()
	RequestDuration.WithLabelValues("GET", "/workflows").Observe(0.1)
	GenerationsTotal.WithLabelValues("generate", "success").Inc()
	ValidationFailuresTotal.WithLabelValues("syntax").Inc()
	ExecutionsTotal.WithLabelValues("completed").Inc()
	ExecutionDuration.WithLabelValues("completed").Observe(0.1)
	ProviderRequestsTotal.WithLabelValues("anthropic", "test", "success").Inc()
	ProviderLatency.WithLabelValues("anthropic", "test").Observe(0.1)
	ProviderTokensTotal.WithLabelValues("anthropic", "test", "input").Add(10)
	CapabilityCallsTotal.WithLabelValues("document_search", "success").Inc()
	RateLimitRejectedTotal.WithLabelValues("default").Inc()

	expected := map[string]bool{
		"flowgen_requests_total":             false,
		"flowgen_request_duration_seconds":   false,
		"flowgen_generations_total":          false,
		"flowgen_validation_failures_total":  false,
		"flowgen_executions_total":           false,
		"flowgen_execution_duration_seconds": false,
		"flowgen_sandbox_inflight":           false,
		"flowgen_provider_requests_total":    false,
		"flowgen_provider_latency_seconds":   false,
		"flowgen_provider_tokens_total":      false,
		"flowgen_capability_calls_total":     false,
		"flowgen_ratelimit_rejected_total":   false,
	}

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("unexpected gather error: %v", err)
	}
	for _, mf := range families {
		if _, ok := expected[mf.GetName()]; ok {
			expected[mf.GetName()] = true
		}
	}

	for name, found := range expected {
		if !found {
			t.Errorf("metric %q not found in default registry", name)
		}
	}
}

func TestMiddlewareRecordsRequestCount(t *testing.T) {
	before := counterValue(t, RequestsTotal, "GET", "/workflows", "2xx")

	handler := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/workflows", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	after := counterValue(t, RequestsTotal, "GET", "/workflows", "2xx")
	if after-before != 1 {
		t.Errorf("expected request count to increase by 1, got delta=%f", after-before)
	}
}

func TestMiddlewareRecordsDuration(t *testing.T) {
	before := histogramCount(t, RequestDuration, "POST", "/workflows")

	handler := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("POST", "/workflows", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	after := histogramCount(t, RequestDuration, "POST", "/workflows")
	if after-before != 1 {
		t.Errorf("expected histogram sample count to increase by 1, got delta=%d", after-before)
	}
}

// TestMiddlewareCapturesStatusCode verifies that non-200 status codes are
// captured correctly in the status label.
func TestMiddlewareCapturesStatusCode(t *testing.T) {
	tests := []struct {
		code  int
		class string
	}{
		{http.StatusBadRequest, "4xx"},
		{http.StatusBadGateway, "5xx"},
	}
	for _, tt := range tests {
		t.Run(tt.class, func(t *testing.T) {
			before := counterValue(t, RequestsTotal, "POST", "/workflows/{id}/execute", tt.class)

			handler := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
			}))
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/workflows/x/execute", nil))

			after := counterValue(t, RequestsTotal, "POST", "/workflows/{id}/execute", tt.class)
			if after-before != 1 {
				t.Errorf("expected %s count to increase by 1, got delta=%f", tt.class, after-before)
			}
		})
	}
}

func TestRoute(t *testing.T) {
	tests := map[string]string{
		"/":                             "/",
		"/healthz":                      "/healthz",
		"/workflows":                    "/workflows",
		"/workflows-with-files":         "/workflows-with-files",
		"/workflows/abc":                "/workflows/{id}",
		"/workflows/abc/execute":        "/workflows/{id}/execute",
		"/workflows/abc/executions":     "/workflows/{id}/executions",
		"/workflows/abc/executions/def": "/workflows/{id}/executions/{execution_id}",
		"/workflows/abc/regenerate-with-feedback": "/workflows/{id}/regenerate-with-feedback",
		"/workflows/abc/unknown":                  "other",
		"/workflows/":                             "other",
		"/capabilities/v1/document-search":        "/capabilities/v1/document-search",
		"/capabilities/v1/anything":               "/capabilities/other",
		"/mcp":                                    "/mcp",
		"/random/path":                            "other",
	}
	for path, want := range tests {
		if got := Route(path); got != want {
			t.Errorf("Route(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestStatusWriterFlush(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rec, status: http.StatusOK}

	sw.Flush()

	if !rec.Flushed {
		t.Error("expected underlying writer to be flushed")
	}
}

// counterValue reads the current value of a CounterVec for the given labels.
func counterValue(t *testing.T, cv *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	m := &dto.Metric{}
	c, err := cv.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("getting counter metric: %v", err)
	}
	if err := c.(prometheus.Metric).Write(m); err != nil {
		t.Fatalf("writing counter metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

// histogramCount reads the observation count from a HistogramVec.
func histogramCount(t *testing.T, hv *prometheus.HistogramVec, labels ...string) uint64 {
	t.Helper()
	m := &dto.Metric{}
	obs, err := hv.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("getting histogram metric: %v", err)
	}
	if err := obs.(prometheus.Metric).Write(m); err != nil {
		t.Fatalf("writing histogram metric: %v", err)
	}
	return m.GetHistogram().GetSampleCount()
}
