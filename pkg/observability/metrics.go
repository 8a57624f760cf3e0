// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring flowgen.
package observability

import "github.com/prometheus/client_golang/prometheus"

// LLMBuckets defines histogram buckets suited for code generation latencies,
// ranging from 100ms to 120s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

// ExecutionBuckets covers isolate run times up to the default 300s deadline.
var ExecutionBuckets = []float64{0.05, 0.25, 1, 5, 15, 30, 60, 120, 300}

var (
	// RequestsTotal counts HTTP requests by method, route template and
	// status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgen_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "route", "status"},
	)

	// RequestDuration records HTTP request duration in seconds. Execute and
	// generate requests block for the whole run, hence the long buckets.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowgen_request_duration_seconds",
			Help:    "Request duration",
			Buckets: ExecutionBuckets,
		},
		[]string{"method", "route"},
	)

	// GenerationsTotal counts generation attempts by mode (generate,
	// regenerate) and outcome (success, service_error, validation_error).
	GenerationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgen_generations_total",
			Help: "Code generation attempts",
		},
		[]string{"mode", "outcome"},
	)

	// ValidationFailuresTotal counts rejected programs by check.
	ValidationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgen_validation_failures_total",
			Help: "Generated code validation failures",
		},
		[]string{"check"},
	)

	// ExecutionsTotal counts finished executions by terminal status.
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgen_executions_total",
			Help: "Workflow executions",
		},
		[]string{"status"},
	)

	// ExecutionDuration records recorded execution time by terminal status.
	ExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowgen_execution_duration_seconds",
			Help:    "Workflow execution duration",
			Buckets: ExecutionBuckets,
		},
		[]string{"status"},
	)

	// SandboxInFlight tracks isolates currently running a job.
	SandboxInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowgen_sandbox_inflight",
			Help: "Isolates currently running",
		},
	)

	// ProviderRequestsTotal counts requests sent to the generation service.
	ProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgen_provider_requests_total",
			Help: "Provider requests",
		},
		[]string{"provider", "model", "status"},
	)

	// ProviderLatency records generation service latency in seconds.
	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowgen_provider_latency_seconds",
			Help:    "Provider latency",
			Buckets: LLMBuckets,
		},
		[]string{"provider", "model"},
	)

	// ProviderTokensTotal counts tokens processed by direction (input/output).
	ProviderTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgen_provider_tokens_total",
			Help: "Token count",
		},
		[]string{"provider", "model", "direction"},
	)

	// CapabilityCallsTotal counts capability gateway calls by operation and outcome.
	CapabilityCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgen_capability_calls_total",
			Help: "Capability calls made by running workflows",
		},
		[]string{"operation", "status"},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgen_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"tier"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		GenerationsTotal,
		ValidationFailuresTotal,
		ExecutionsTotal,
		ExecutionDuration,
		SandboxInFlight,
		ProviderRequestsTotal,
		ProviderLatency,
		ProviderTokensTotal,
		CapabilityCallsTotal,
		RateLimitRejectedTotal,
	)
}
