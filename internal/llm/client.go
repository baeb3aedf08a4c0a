// Package llm provides the inference gateway client.
//
// The gateway is an OpenAI-compatible chat-completions service. It may be
// slow, may return truncated or empty completions, and may return text that
// is not valid JSON even when JSON was requested. Callers must treat every
// completion as untrusted raw text.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dmelnik/tutorflow/internal/domain"
)

// Completer is the interface the chat and quiz flows depend on.
type Completer interface {
	// Complete sends the ordered message list to the model and returns the
	// generated text verbatim.
	Complete(ctx context.Context, messages []domain.Message, maxTokens int) (string, error)
}

// Config holds gateway client configuration.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client is an HTTP client for an OpenAI-compatible chat-completions endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// NewClient creates a gateway client. A generous timeout is deliberate:
// completions routinely take seconds.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
	}
}

type chatCompletionRequest struct {
	Model     string           `json:"model"`
	Messages  []domain.Message `json:"messages"`
	Stream    bool             `json:"stream"`
	MaxTokens int              `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message domain.Message `json:"message"`
	} `json:"choices"`
}

// Complete implements Completer.
func (c *Client) Complete(ctx context.Context, messages []domain.Message, maxTokens int) (string, error) {
	payload, err := json.Marshal(chatCompletionRequest{
		Model:     c.model,
		Messages:  messages,
		Stream:    false,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("encode completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call inference gateway: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read completion response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("inference gateway returned status %d: %s", resp.StatusCode, body)
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("inference gateway returned no choices")
	}

	return completion.Choices[0].Message.Content, nil
}
