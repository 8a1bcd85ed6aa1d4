// Package llm provides the chat-completion client for the agent.
//
// The remote endpoint speaks the OpenAI-compatible chat-completions
// protocol with the tools/tool_choice function-calling extension.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/oritocare/companion/internal/core"
	"github.com/oritocare/companion/internal/logging"
)

// Retry policy for the completion call path.
const (
	maxAttempts    = 3
	retryBaseDelay = 500 * time.Millisecond
	retryMaxDelay  = 5 * time.Second
)

// Client handles chat-completion API calls
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	log        *logging.Logger
}

// Config for the LLM client
type Config struct {
	APIKey  string
	BaseURL string // API base URL, e.g. https://api.openai.com/v1
	Model   string
	Timeout time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o-mini",
		Timeout: 60 * time.Second,
	}
}

// NewClient creates a new LLM client
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		model:   cfg.Model,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		log: logging.Component("llm"),
	}
}

// Tool describes one callable function to the model.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction is the schema of a callable function.
type ToolFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// Tool choice values for Request.ToolChoice.
const (
	ToolChoiceAuto     = "auto"
	ToolChoiceRequired = "required"
	ToolChoiceNone     = "none"
)

// Request is the chat-completions request structure
type Request struct {
	Model       string         `json:"model"`
	Messages    []core.Message `json:"messages"`
	Tools       []Tool         `json:"tools,omitempty"`
	ToolChoice  string         `json:"tool_choice,omitempty"`
	Temperature float64        `json:"temperature,omitempty"`
	MaxTokens   int            `json:"max_tokens,omitempty"`
}

// Response is the chat-completions response structure
type Response struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int          `json:"index"`
		Message      core.Message `json:"message"`
		FinishReason string       `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete sends a completion request with exponential-backoff retry.
// Only network, timeout and 5xx/429-class failures are retried; auth and
// deprecated-model errors surface immediately.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	if req.Model == "" {
		req.Model = c.model
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay << (attempt - 1)
			if delay > retryMaxDelay {
				delay = retryMaxDelay
			}
			c.log.Debug("retrying completion in %s (attempt %d/%d)", delay, attempt+1, maxAttempts)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, err := c.complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		// Deprecated-model responses classify as service errors but are
		// pointless to retry.
		if errors.Is(err, core.ErrModelDeprecated) || !core.ClassifyError(err).Retryable() {
			return nil, err
		}
	}
	return nil, lastErr
}

// complete performs one request without retry.
func (c *Client) complete(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyAPIError(resp.StatusCode, respBody)
	}

	var llmResp Response
	if err := json.Unmarshal(respBody, &llmResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(llmResp.Choices) == 0 {
		return nil, core.ErrEmptyResponse
	}

	return &llmResp, nil
}

// Chat runs one completion and returns the assistant message.
func (c *Client) Chat(ctx context.Context, req Request) (*core.Message, error) {
	resp, err := c.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	msg := resp.Choices[0].Message
	return &msg, nil
}

// IsConfigured checks if an API key is set
func (c *Client) IsConfigured() bool {
	return c.apiKey != ""
}

// classifyAPIError maps a non-200 response onto the error taxonomy.
func classifyAPIError(status int, body []byte) error {
	text := string(body)
	lower := strings.ToLower(text)

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("API error %d: %s: %w", status, truncate(text, 200), core.ErrPermissionDenied)
	case strings.Contains(lower, "deprecated") || strings.Contains(lower, "model_not_found") ||
		strings.Contains(lower, "does not exist"):
		return fmt.Errorf("API error %d: %s: %w", status, truncate(text, 200), core.ErrModelDeprecated)
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("API error %d: %s: %w", status, truncate(text, 200), core.ErrAIService)
	default:
		return &core.HTTPError{StatusCode: status, Body: truncate(text, 200)}
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
