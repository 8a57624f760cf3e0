package provider

import (
	"context"
	"log/slog"
	"time"

	"github.com/rhuss/flowgen/pkg/debug"
	"github.com/rhuss/flowgen/pkg/observability"
)

type instrumented struct {
	Provider
}

// Instrument wraps p so every Complete call records provider metrics and
// debug logs.
func Instrument(p Provider) Provider {
	return instrumented{Provider: p}
}

func (i instrumented) Complete(ctx context.Context, req *Request) (*Response, error) {
	name := i.Provider.Name()
	debug.Log("providers", "complete", "provider", name, "model", req.Model,
		"messages", len(req.Messages), "max_tokens", req.MaxTokens)

	start := time.Now()
	resp, err := i.Provider.Complete(ctx, req)
	duration := time.Since(start)

	observability.ProviderLatency.WithLabelValues(name, req.Model).Observe(duration.Seconds())
	if err != nil {
		observability.ProviderRequestsTotal.WithLabelValues(name, req.Model, "error").Inc()
		slog.Warn("provider call failed", "provider", name, "model", req.Model,
			"duration", duration, "error", err)
		return nil, err
	}

	observability.ProviderRequestsTotal.WithLabelValues(name, req.Model, "success").Inc()
	observability.ProviderTokensTotal.WithLabelValues(name, req.Model, "input").Add(float64(resp.Usage.InputTokens))
	observability.ProviderTokensTotal.WithLabelValues(name, req.Model, "output").Add(float64(resp.Usage.OutputTokens))
	debug.Log("providers", "complete done", "provider", name, "stop_reason", resp.StopReason,
		"input_tokens", resp.Usage.InputTokens, "output_tokens", resp.Usage.OutputTokens,
		"duration", duration)
	debug.Trace("providers", "completion text", "text", resp.Text)
	return resp, nil
}
