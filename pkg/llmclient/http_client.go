package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPClient is the concrete Client backing this repository: a single JSON
// POST per complete() call, grounded in llm_client.go's GenerateInput/Chunk
// shape but collapsed to one request/response pair.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
	apiKey     string
}

// Config configures an HTTPClient.
type Config struct {
	BaseURL string
	Model   string
	APIKey  string
	Timeout time.Duration
}

// NewHTTPClient builds a Client that POSTs to {BaseURL}/v1/complete.
func NewHTTPClient(cfg Config) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
	}
}

type completeRequest struct {
	Model        string         `json:"model"`
	SystemPrompt string         `json:"system_prompt"`
	History      []Message      `json:"history"`
	Tools        []ToolSchema   `json:"tools,omitempty"`
	PromptKwargs map[string]any `json:"prompt_kwargs,omitempty"`
}

// Complete issues one blocking HTTP call and parses the JSON response into
// a Response. Non-2xx responses are returned as errors carrying the body.
func (c *HTTPClient) Complete(ctx context.Context, systemPrompt string, history []Message, tools []ToolSchema, promptKwargs map[string]any) (*Response, error) {
	reqBody, err := json.Marshal(completeRequest{
		Model:        c.model,
		SystemPrompt: systemPrompt,
		History:      history,
		Tools:        tools,
		PromptKwargs: promptKwargs,
	})
	if err != nil {
		return nil, fmt.Errorf("llmclient: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/complete", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("llmclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llmclient: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("llmclient: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("llmclient: LM service returned %d: %s", resp.StatusCode, string(body))
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("llmclient: parse response: %w", err)
	}
	return &out, nil
}

// Close releases idle connections. The HTTP client owns no other resources.
func (c *HTTPClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
