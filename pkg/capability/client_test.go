package capability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(url string) *Client {
	return NewClient(ClientConfig{
		BaseURL:      url,
		APIKey:       "host-key",
		PollInterval: 10 * time.Millisecond,
		PollTimeout:  time.Second,
	})
}

func TestDocumentSearchPassthrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/chat/document-search" || r.Method != http.MethodPost {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer host-key" {
			t.Errorf("auth = %q", r.Header.Get("Authorization"))
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["query"] != "invoices" || body["company_scope"] != true {
			t.Errorf("body = %v", body)
		}
		_, _ = w.Write([]byte(`{"answer":"42","documents":[{"id":1}]}`))
	}))
	defer srv.Close()

	out, err := newTestClient(srv.URL).DocumentSearch(context.Background(), map[string]any{"query": "invoices", "company_scope": true})
	if err != nil {
		t.Fatalf("DocumentSearch: %v", err)
	}
	if string(out) != `{"answer":"42","documents":[{"id":1}]}` {
		t.Errorf("out = %s", out)
	}
}

func TestAnalyzeDocumentsPolls(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v2/chat/document-analysis":
			var req AnalysisRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			if !slices.Equal(req.DocumentIDs, DocumentIDs{"3", "9"}) {
				t.Errorf("document_ids = %v", req.DocumentIDs)
			}
			_, _ = w.Write([]byte(`{"chat_response_id": 77}`))
		case r.Method == http.MethodGet && r.URL.Path == "/api/v2/chat/document-analysis/77":
			switch polls.Add(1) {
			case 1:
				w.WriteHeader(http.StatusNotFound)
			case 2:
				_, _ = w.Write([]byte(`{"status":"processing"}`))
			default:
				_, _ = w.Write([]byte(`{"status":"Completed","detailed_analysis":"all good"}`))
			}
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	var req AnalysisRequest
	if err := json.Unmarshal([]byte(`{"query":"summarize","document_ids":[3,"9"]}`), &req); err != nil {
		t.Fatal(err)
	}
	got, err := newTestClient(srv.URL).AnalyzeDocuments(context.Background(), &req)
	if err != nil {
		t.Fatalf("AnalyzeDocuments: %v", err)
	}
	if got != "all good" || polls.Load() != 3 {
		t.Errorf("got %q after %d polls", got, polls.Load())
	}
}

func TestAnalyzeDocumentsOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		status  string
		want    string
		wantErr string
	}{
		{name: "result preferred", status: `{"status":"success","result":"r","detailed_analysis":"d"}`, want: "r"},
		{name: "default text", status: `{"status":"finished"}`, want: "Analysis completed"},
		{name: "failed", status: `{"status":"error"}`, wantErr: "analysis failed: error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method == http.MethodPost {
					_, _ = w.Write([]byte(`{"chat_response_id":"abc"}`))
					return
				}
				_, _ = w.Write([]byte(tt.status))
			}))
			defer srv.Close()

			got, err := newTestClient(srv.URL).AnalyzeDocuments(context.Background(), &AnalysisRequest{Query: "q", DocumentIDs: DocumentIDs{"1"}})
			if tt.wantErr != "" {
				if err == nil || err.Error() != tt.wantErr {
					t.Errorf("err = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("got %q, %v", got, err)
			}
		})
	}
}

func TestAnalyzeDocumentsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`{"chat_response_id":"slow"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, APIKey: "k", PollInterval: 10 * time.Millisecond, PollTimeout: 100 * time.Millisecond})
	_, err := c.AnalyzeDocuments(context.Background(), &AnalysisRequest{Query: "q", DocumentIDs: DocumentIDs{"1"}})
	if !errors.Is(err, ErrAnalysisTimeout) {
		t.Errorf("err = %v, want ErrAnalysisTimeout", err)
	}
}

func TestChatCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Model != DefaultChatModel || len(body.Messages) != 2 || body.Messages[1].Content != "hi" {
			t.Errorf("body = %+v", body)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"hello"}}]}`))
	}))
	defer srv.Close()

	got, err := newTestClient(srv.URL).ChatCompletion(context.Background(), "hi", "")
	if err != nil || got != "hello" {
		t.Errorf("got %q, %v", got, err)
	}
}

func TestAnalyzeImageAndUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req AnalysisRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Query == "broken" {
			http.Error(w, "upstream exploded", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"answer":"a cat"}`))
	}))
	defer srv.Close()
	c := newTestClient(srv.URL)

	got, err := c.AnalyzeImage(context.Background(), &AnalysisRequest{Query: "what", DocumentIDs: DocumentIDs{"5"}})
	if err != nil || got != "a cat" {
		t.Errorf("got %q, %v", got, err)
	}

	_, err = c.AnalyzeImage(context.Background(), &AnalysisRequest{Query: "broken", DocumentIDs: DocumentIDs{"5"}})
	var upErr *UpstreamError
	if !errors.As(err, &upErr) || upErr.StatusCode != 500 || upErr.Body != "upstream exploded" {
		t.Errorf("err = %v", err)
	}
}

func TestDocumentIDsRejectsObjects(t *testing.T) {
	var ids DocumentIDs
	if err := json.Unmarshal([]byte(`[{"id":1}]`), &ids); err == nil {
		t.Error("expected an error for object ids")
	}
}
