package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/rhuss/flowgen/pkg/observability"
)

type fakeProvider struct {
	resp *Response
	err  error
}

func (f *fakeProvider) Name() string { return "fake" }
func (f *fakeProvider) Close() error { return nil }
func (f *fakeProvider) Complete(context.Context, *Request) (*Response, error) {
	return f.resp, f.err
}

func TestInstrumentRecordsOutcome(t *testing.T) {
	ok := Instrument(&fakeProvider{resp: &Response{Text: "x", Usage: Usage{InputTokens: 3, OutputTokens: 4}}})
	failing := Instrument(&fakeProvider{err: errors.New("boom")})

	successBefore := testutil.ToFloat64(observability.ProviderRequestsTotal.WithLabelValues("fake", "m", "success"))
	errorBefore := testutil.ToFloat64(observability.ProviderRequestsTotal.WithLabelValues("fake", "m", "error"))
	tokensBefore := testutil.ToFloat64(observability.ProviderTokensTotal.WithLabelValues("fake", "m", "output"))

	if _, err := ok.Complete(context.Background(), &Request{Model: "m"}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if _, err := failing.Complete(context.Background(), &Request{Model: "m"}); err == nil {
		t.Fatal("expected error")
	}

	if d := testutil.ToFloat64(observability.ProviderRequestsTotal.WithLabelValues("fake", "m", "success")) - successBefore; d != 1 {
		t.Errorf("success delta = %v, want 1", d)
	}
	if d := testutil.ToFloat64(observability.ProviderRequestsTotal.WithLabelValues("fake", "m", "error")) - errorBefore; d != 1 {
		t.Errorf("error delta = %v, want 1", d)
	}
	if d := testutil.ToFloat64(observability.ProviderTokensTotal.WithLabelValues("fake", "m", "output")) - tokensBefore; d != 4 {
		t.Errorf("output token delta = %v, want 4", d)
	}
	if ok.Name() != "fake" {
		t.Errorf("Name() = %q", ok.Name())
	}
}
