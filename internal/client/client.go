// Package client implements an HTTP client for a running personachat server
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloud-shuttle/personachat/pkg/types"
)

// DefaultBaseURL is where `personachat serve` listens by default
const DefaultBaseURL = "http://localhost:3000"

// Client is an HTTP client for the personachat server
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// APIError is a non-2xx answer from the server
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: status %d: %s", e.StatusCode, e.Message)
}

// NewClient creates a new personachat client
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Minute
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Chat sends one message and returns the assistant reply
func (c *Client) Chat(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var resp types.ChatResponse
	if err := c.do(ctx, http.MethodPost, "/chat", bytes.NewReader(body), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetHealth checks the health of the server
func (c *Client) GetHealth(ctx context.Context) (*types.HealthResponse, error) {
	var health types.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// GetMetrics retrieves usage metrics from the server
func (c *Client) GetMetrics(ctx context.Context) (map[string]any, error) {
	var metrics map[string]any
	if err := c.do(ctx, http.MethodGet, "/metrics", nil, &metrics); err != nil {
		return nil, err
	}
	return metrics, nil
}

// do performs the HTTP request and decodes a JSON answer into out
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// decodeAPIError reads the {error} body, falling back to the raw text
func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var body types.ErrorResponse
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: body.Error}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
}
