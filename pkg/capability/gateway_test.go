package capability

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/rhuss/flowgen/pkg/observability"
)

type fakeBackend struct {
	searchPayload map[string]any
	analysis      *AnalysisRequest
	image         *AnalysisRequest
	err           error
}

func (f *fakeBackend) DocumentSearch(_ context.Context, payload map[string]any) (json.RawMessage, error) {
	f.searchPayload = payload
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(`{"answer":"found"}`), nil
}

func (f *fakeBackend) AnalyzeDocuments(_ context.Context, req *AnalysisRequest) (string, error) {
	f.analysis = req
	if f.err != nil {
		return "", f.err
	}
	return "analysis of " + strings.Join(req.DocumentIDs, ","), nil
}

func (f *fakeBackend) ChatCompletion(_ context.Context, prompt, model string) (string, error) {
	return model + ":" + prompt, f.err
}

func (f *fakeBackend) AnalyzeImage(_ context.Context, req *AnalysisRequest) (string, error) {
	f.image = req
	return "image answer", f.err
}

func newGateway(t *testing.T, backend Backend) (*httptest.Server, *Issuer) {
	t.Helper()
	iss, err := NewIssuer([]byte("gateway-test"))
	if err != nil {
		t.Fatal(err)
	}
	mux := http.NewServeMux()
	mux.Handle("/capabilities/", http.StripPrefix("/capabilities", NewGateway(backend, iss)))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, iss
}

func call(t *testing.T, srv *httptest.Server, token, path, body string) (int, map[string]any) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/capabilities"+path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	var out map[string]any
	_ = json.Unmarshal(data, &out)
	return resp.StatusCode, out
}

func TestGatewayRoutes(t *testing.T) {
	backend := &fakeBackend{}
	srv, iss := newGateway(t, backend)
	tok, _ := iss.Issue("exec-1", []int{1, 4, 5}, time.Now().Add(time.Minute))

	before := testutil.ToFloat64(observability.CapabilityCallsTotal.WithLabelValues("chat_completion", "ok"))

	status, body := call(t, srv, tok, "/v1/document-search", `{"query":"q","file_ids":[4]}`)
	if status != 200 || body["answer"] != "found" {
		t.Errorf("search: %d %v", status, body)
	}
	if backend.searchPayload["query"] != "q" {
		t.Errorf("payload = %v", backend.searchPayload)
	}

	status, body = call(t, srv, tok, "/v1/document-analysis", `{"query":"q","document_ids":["4",5]}`)
	if status != 200 || body["result"] != "analysis of 4,5" {
		t.Errorf("analysis: %d %v", status, body)
	}

	status, body = call(t, srv, tok, "/v1/chat/completions", `{"prompt":"hi","model":"alfred-4.2"}`)
	if status != 200 || body["content"] != "alfred-4.2:hi" {
		t.Errorf("chat: %d %v", status, body)
	}

	status, body = call(t, srv, tok, "/v1/image-analysis", `{"query":"q","document_ids":[1]}`)
	if status != 200 || body["answer"] != "image answer" {
		t.Errorf("image: %d %v", status, body)
	}

	if d := testutil.ToFloat64(observability.CapabilityCallsTotal.WithLabelValues("chat_completion", "ok")) - before; d != 1 {
		t.Errorf("chat ok delta = %v", d)
	}
}

func TestGatewayAuth(t *testing.T) {
	srv, iss := newGateway(t, &fakeBackend{})

	if status, _ := call(t, srv, "", "/v1/chat/completions", `{"prompt":"x"}`); status != http.StatusUnauthorized {
		t.Errorf("missing token: %d", status)
	}
	if status, _ := call(t, srv, "forged", "/v1/chat/completions", `{"prompt":"x"}`); status != http.StatusUnauthorized {
		t.Errorf("forged token: %d", status)
	}

	tok, _ := iss.Issue("exec-2", nil, time.Now().Add(time.Minute))
	iss.Revoke("exec-2")
	status, body := call(t, srv, tok, "/v1/chat/completions", `{"prompt":"x"}`)
	if status != http.StatusUnauthorized {
		t.Errorf("revoked token: %d", status)
	}
	if msg := body["error"].(map[string]any)["message"]; msg != ErrRevoked.Error() {
		t.Errorf("message = %v", msg)
	}
}

func TestGatewayFileScope(t *testing.T) {
	backend := &fakeBackend{}
	srv, iss := newGateway(t, backend)
	tok, _ := iss.Issue("exec-3", []int{1, 2}, time.Now().Add(time.Minute))

	if status, _ := call(t, srv, tok, "/v1/document-search", `{"query":"q","file_ids":[1,3]}`); status != http.StatusForbidden {
		t.Errorf("foreign file: %d", status)
	}
	if backend.searchPayload != nil {
		t.Error("backend called for a forbidden search")
	}
	if status, _ := call(t, srv, tok, "/v1/document-search", `{"query":"q","file_ids":"1"}`); status != http.StatusBadRequest {
		t.Errorf("malformed file_ids: %d", status)
	}

	for _, path := range []string{"/v1/document-analysis", "/v1/image-analysis"} {
		if status, _ := call(t, srv, tok, path, `{"query":"q","document_ids":[999]}`); status != http.StatusForbidden {
			t.Errorf("%s foreign document: %d", path, status)
		}
		if status, _ := call(t, srv, tok, path, `{"query":"q","document_ids":[1,"3"]}`); status != http.StatusForbidden {
			t.Errorf("%s partly foreign documents: %d", path, status)
		}
		if status, _ := call(t, srv, tok, path, `{"query":"q","document_ids":["abc"]}`); status != http.StatusBadRequest {
			t.Errorf("%s non-integer document id: %d", path, status)
		}
	}
	if backend.analysis != nil || backend.image != nil {
		t.Error("backend called for a forbidden analysis")
	}

	status, body := call(t, srv, tok, "/v1/document-analysis", `{"query":"q","document_ids":[2,"1"]}`)
	if status != http.StatusOK || body["result"] != "analysis of 2,1" {
		t.Errorf("granted analysis: %d %v", status, body)
	}
}

func TestGatewayBadRequests(t *testing.T) {
	srv, iss := newGateway(t, &fakeBackend{})
	tok, _ := iss.Issue("exec-4", nil, time.Now().Add(time.Minute))

	tests := []struct{ path, body string }{
		{"/v1/document-search", `{}`},
		{"/v1/document-analysis", `{"query":"q"}`},
		{"/v1/document-analysis", `{"document_ids":[1]}`},
		{"/v1/chat/completions", `{"model":"m"}`},
		{"/v1/image-analysis", `not json`},
	}
	for _, tt := range tests {
		if status, _ := call(t, srv, tok, tt.path, tt.body); status != http.StatusBadRequest {
			t.Errorf("%s %s: status %d", tt.path, tt.body, status)
		}
	}
}

func TestGatewayUpstreamErrors(t *testing.T) {
	backend := &fakeBackend{err: &UpstreamError{StatusCode: 500, Body: "down"}}
	srv, iss := newGateway(t, backend)
	tok, _ := iss.Issue("exec-5", nil, time.Now().Add(time.Minute))

	status, body := call(t, srv, tok, "/v1/chat/completions", `{"prompt":"x"}`)
	if status != http.StatusBadGateway {
		t.Errorf("status = %d", status)
	}
	if msg := body["error"].(map[string]any)["message"]; msg != "paradigm API error 500: down" {
		t.Errorf("message = %v", msg)
	}

	backend.err = ErrAnalysisTimeout
	if status, _ := call(t, srv, tok, "/v1/document-analysis", `{"query":"q","document_ids":[1]}`); status != http.StatusGatewayTimeout {
		t.Errorf("timeout status = %d", status)
	}
	backend.err = errors.New("other")
	if status, _ := call(t, srv, tok, "/v1/image-analysis", `{"query":"q","document_ids":[1]}`); status != http.StatusBadGateway {
		t.Errorf("status = %d", status)
	}
}
