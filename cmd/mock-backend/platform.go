package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// platform mocks the document platform. Analyses complete on the second
// status poll; the first one answers 404 like a job that is not ready.
type platform struct {
	mu       sync.Mutex
	nextID   int
	analyses map[string]*analysis
}

type analysis struct {
	query string
	polls int
}

func newPlatform() *platform {
	return &platform{nextID: 1000, analyses: make(map[string]*analysis)}
}

func authorized(w http.ResponseWriter, r *http.Request) bool {
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "missing bearer token"})
		return false
	}
	return true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "invalid JSON: " + err.Error()})
		return false
	}
	return true
}

func (p *platform) handleDocumentSearch(w http.ResponseWriter, r *http.Request) {
	if !authorized(w, r) {
		return
	}
	var req struct {
		Query string `json:"query"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"answer": "Mock answer for: " + req.Query,
		"documents": []map[string]any{
			{"id": 1, "filename": "report.pdf"},
		},
	})
}

func (p *platform) handleStartAnalysis(w http.ResponseWriter, r *http.Request) {
	if !authorized(w, r) {
		return
	}
	var req struct {
		Query       string `json:"query"`
		DocumentIDs any    `json:"document_ids"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.analyses[fmt.Sprint(id)] = &analysis{query: req.Query}
	p.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"chat_response_id": id})
}

func (p *platform) handleAnalysisStatus(w http.ResponseWriter, r *http.Request) {
	if !authorized(w, r) {
		return
	}
	p.mu.Lock()
	a, ok := p.analyses[r.PathValue("id")]
	if ok {
		a.polls++
	}
	p.mu.Unlock()

	if !ok || a.polls < 2 {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "completed",
		"result": "Mock analysis of: " + a.query,
	})
}

func (p *platform) handleChat(w http.ResponseWriter, r *http.Request) {
	if !authorized(w, r) {
		return
	}
	var req struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	prompt := ""
	if n := len(req.Messages); n > 0 {
		prompt = req.Messages[n-1].Content
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": "Mock reply to: " + prompt}},
		},
	})
}

func (p *platform) handleImageAnalysis(w http.ResponseWriter, r *http.Request) {
	if !authorized(w, r) {
		return
	}
	var req struct {
		Query string `json:"query"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"answer": "Mock image analysis of: " + req.Query})
}
