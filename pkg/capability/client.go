package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rhuss/flowgen/pkg/debug"
)

// Defaults for the upstream document platform.
const (
	DefaultBaseURL      = "https://paradigm.lighton.ai"
	DefaultChatModel    = "alfred-4.2"
	DefaultPollInterval = 5 * time.Second
	DefaultPollTimeout  = 300 * time.Second
)

// ErrAnalysisTimeout is returned when a document analysis does not finish
// within the poll timeout.
var ErrAnalysisTimeout = errors.New("analysis timed out")

// UpstreamError is a non-success HTTP response from the platform.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("paradigm API error %d: %s", e.StatusCode, e.Body)
}

// DocumentIDs accepts ids sent as JSON numbers or strings and forwards
// them as strings.
type DocumentIDs []string

// UnmarshalJSON implements json.Unmarshaler.
func (d *DocumentIDs) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(DocumentIDs, 0, len(raw))
	for _, r := range raw {
		var s string
		if err := json.Unmarshal(r, &s); err == nil {
			out = append(out, s)
			continue
		}
		var n json.Number
		if err := json.Unmarshal(r, &n); err != nil {
			return fmt.Errorf("document id %s is neither a string nor a number", r)
		}
		out = append(out, n.String())
	}
	*d = out
	return nil
}

// AnalysisRequest asks for an analysis of documents or images.
type AnalysisRequest struct {
	Query       string      `json:"query"`
	DocumentIDs DocumentIDs `json:"document_ids"`
	Model       string      `json:"model,omitempty"`
	Private     bool        `json:"private"`
}

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL      string
	APIKey       string
	PollInterval time.Duration
	PollTimeout  time.Duration
	// HTTPClient defaults to a client with a 120s timeout per request.
	HTTPClient *http.Client
}

// Client calls the document platform with the host's API key.
type Client struct {
	baseURL      string
	apiKey       string
	pollInterval time.Duration
	pollTimeout  time.Duration
	httpClient   *http.Client
}

// NewClient creates a platform client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 120 * time.Second}
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		pollInterval: cfg.PollInterval,
		pollTimeout:  cfg.PollTimeout,
		httpClient:   cfg.HTTPClient,
	}
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool { return c.apiKey != "" }

// DocumentSearch forwards a search payload and returns the platform's
// response unchanged.
func (c *Client) DocumentSearch(ctx context.Context, payload map[string]any) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/api/v2/chat/document-search", payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AnalyzeDocuments starts a document analysis and polls until it finishes.
func (c *Client) AnalyzeDocuments(ctx context.Context, req *AnalysisRequest) (string, error) {
	var started struct {
		ChatResponseID any `json:"chat_response_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v2/chat/document-analysis", req, &started); err != nil {
		return "", err
	}
	id := idString(started.ChatResponseID)
	if id == "" {
		return "", errors.New("document analysis response has no chat_response_id")
	}
	debug.Log("capability", "analysis started", "chat_response_id", id, "documents", len(req.DocumentIDs))

	ctx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	defer cancel()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return "", ErrAnalysisTimeout
			}
			return "", ctx.Err()
		case <-ticker.C:
		}

		var status struct {
			Status           string `json:"status"`
			Result           string `json:"result"`
			DetailedAnalysis string `json:"detailed_analysis"`
		}
		err := c.do(ctx, http.MethodGet, "/api/v2/chat/document-analysis/"+id, nil, &status)
		var upErr *UpstreamError
		switch {
		case errors.As(err, &upErr) && upErr.StatusCode == http.StatusNotFound:
			debug.Trace("capability", "analysis not ready", "chat_response_id", id)
			continue
		case err != nil:
			if ctx.Err() != nil {
				continue
			}
			return "", err
		}

		switch strings.ToLower(status.Status) {
		case "completed", "complete", "finished", "success":
			switch {
			case status.Result != "":
				return status.Result, nil
			case status.DetailedAnalysis != "":
				return status.DetailedAnalysis, nil
			default:
				return "Analysis completed", nil
			}
		case "failed", "error":
			return "", fmt.Errorf("analysis failed: %s", status.Status)
		}
	}
}

// ChatCompletion sends a single-turn chat and returns the reply text.
func (c *Client) ChatCompletion(ctx context.Context, prompt, model string) (string, error) {
	if model == "" {
		model = DefaultChatModel
	}
	payload := map[string]any{
		"model": model,
		"messages": []map[string]string{
			{"role": "system", "content": "You are a helpful assistant."},
			{"role": "user", "content": prompt},
		},
	}
	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v2/chat/completions", payload, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// AnalyzeImage asks about images in documents.
func (c *Client) AnalyzeImage(ctx context.Context, req *AnalysisRequest) (string, error) {
	var resp struct {
		Answer string `json:"answer"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v2/chat/image-analysis", req, &resp); err != nil {
		return "", err
	}
	if resp.Answer == "" {
		return "No analysis result provided", nil
	}
	return resp.Answer, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("paradigm request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &UpstreamError{StatusCode: resp.StatusCode, Body: debug.Truncate(string(bytes.TrimSpace(data)), 500)}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// idString renders a JSON id that may be a number or a string.
func idString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	}
	return ""
}
