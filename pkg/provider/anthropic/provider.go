package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rhuss/flowgen/pkg/api"
	"github.com/rhuss/flowgen/pkg/provider"
)

// Defaults for the public Anthropic API.
const (
	DefaultBaseURL   = "https://api.anthropic.com"
	DefaultVersion   = "2023-06-01"
	DefaultMaxTokens = 4000
)

// Config holds the connection settings for the Messages API.
type Config struct {
	BaseURL string
	APIKey  string
	// Version is sent as the anthropic-version header.
	Version string
	Timeout time.Duration
}

// Provider implements provider.Provider against POST /v1/messages.
type Provider struct {
	cfg    Config
	client *http.Client
}

var _ provider.Provider = (*Provider)(nil)

// New creates a Provider. The API key is required.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: APIKey is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Version == "" {
		cfg.Version = DefaultVersion
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}

	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "anthropic"
}

// Complete sends one Messages API request and joins the text blocks of the reply.
func (p *Provider) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	mreq := messagesRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		System:      req.System,
		Temperature: req.Temperature,
	}
	if mreq.MaxTokens <= 0 {
		mreq.MaxTokens = DefaultMaxTokens
	}
	for _, m := range req.Messages {
		mreq.Messages = append(mreq.Messages, message{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(mreq)
	if err != nil {
		return nil, api.NewServerError(fmt.Sprintf("failed to marshal request: %s", err.Error()))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, api.NewServerError(fmt.Sprintf("failed to create HTTP request: %s", err.Error()))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", p.cfg.Version)

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, provider.MapNetworkError(err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, provider.MapHTTPError(httpResp)
	}

	var mresp messagesResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&mresp); err != nil {
		return nil, api.NewServerError(fmt.Sprintf("failed to parse backend response: %s", err.Error()))
	}

	var text strings.Builder
	for _, block := range mresp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, api.NewServerError("backend returned no text content")
	}

	return &provider.Response{
		Text:       text.String(),
		Model:      mresp.Model,
		StopReason: mresp.StopReason,
		Usage: provider.Usage{
			InputTokens:  mresp.Usage.InputTokens,
			OutputTokens: mresp.Usage.OutputTokens,
		},
	}, nil
}

// Close releases client resources.
func (p *Provider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
