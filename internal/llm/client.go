// Package llm talks to an OpenAI-compatible chat completion endpoint. It is
// used to draft cover letters and replies; when no token is configured the
// engines fall back to their static templates.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"hhpilot/internal/logging"
)

const (
	DefaultEndpoint            = "https://api.openai.com/v1/chat/completions"
	DefaultModel               = "gpt-4o-mini"
	DefaultTemperature         = 0.7
	DefaultMaxCompletionTokens = 1024
)

// Options configures a Client; zero values take the defaults above.
type Options struct {
	Token               string
	Model               string
	Temperature         float64
	MaxCompletionTokens int
	CompletionEndpoint  string
	Timeout             time.Duration
}

// Client is a single-shot chat completion client.
type Client struct {
	opts        Options
	httpClient  *http.Client
	mu          sync.Mutex
	lastRequest time.Time
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model               string    `json:"model"`
	Messages            []message `json:"messages"`
	Temperature         float64   `json:"temperature"`
	MaxCompletionTokens int       `json:"max_completion_tokens,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// New builds a client. Enabled() is false when no token was configured.
func New(opts Options) *Client {
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.Temperature == 0 {
		opts.Temperature = DefaultTemperature
	}
	if opts.MaxCompletionTokens == 0 {
		opts.MaxCompletionTokens = DefaultMaxCompletionTokens
	}
	if opts.CompletionEndpoint == "" {
		opts.CompletionEndpoint = DefaultEndpoint
	}
	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Minute
	}
	return &Client{
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.Timeout},
	}
}

// Enabled reports whether a token is configured.
func (c *Client) Enabled() bool { return c.opts.Token != "" }

// Complete sends one system+user exchange and returns the trimmed completion.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if !c.Enabled() {
		return "", fmt.Errorf("openai token not configured")
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	// Rate limiting
	c.mu.Lock()
	elapsed := time.Since(c.lastRequest)
	if elapsed < time.Second {
		time.Sleep(time.Second - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()

	var messages []message
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, message{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, message{Role: "user", Content: userPrompt})

	reqBody := completionRequest{
		Model:               c.opts.Model,
		Messages:            messages,
		Temperature:         c.opts.Temperature,
		MaxCompletionTokens: c.opts.MaxCompletionTokens,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	logging.APIDebug("[llm] completion request: model=%s user_len=%d", c.opts.Model, len(userPrompt))

	req, err := http.NewRequestWithContext(ctx, "POST", c.opts.CompletionEndpoint, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.opts.Token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("completion failed with status %d: %s", resp.StatusCode, string(body))
	}

	var parsed completionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("completion error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("no completion returned")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}
