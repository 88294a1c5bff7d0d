// ABOUTME: HTTP client for a remote gemini-chat edge function
// ABOUTME: Posts {prompt, history} and expects {response} or {error}

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/2389/chatdeck/internal/store"
	"github.com/2389/chatdeck/internal/upstream"
)

// maxResponseBytes bounds how much of a function response is read
const maxResponseBytes = 4 << 20

// ChatRequest is the gemini-chat request body
type ChatRequest struct {
	Prompt  string `json:"prompt"`
	History []Turn `json:"history"`
}

// ChatResponse is the gemini-chat response body
type ChatResponse struct {
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

// FunctionClient calls a deployed gemini-chat function over HTTP
type FunctionClient struct {
	url        string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// NewFunctionClient creates a client for the function at url. apiKey, when
// set, is sent as a bearer token.
func NewFunctionClient(url, apiKey string, timeout time.Duration, logger *slog.Logger) *FunctionClient {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &FunctionClient{
		url:        url,
		apiKey:     apiKey,
		timeout:    timeout,
		httpClient: &http.Client{},
		logger:     logger.With("component", "chat-function"),
	}
}

// Generate posts the prompt and history to the function
func (c *FunctionClient) Generate(ctx context.Context, prompt string, history []store.Message) (string, error) {
	body, err := json.Marshal(ChatRequest{Prompt: prompt, History: TurnsFromMessages(history)})
	if err != nil {
		return "", fmt.Errorf("encoding chat request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("chat function request failed", "error", err)
		return "", upstream.Wrap(err, "Failed to reach the chat service")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", upstream.Wrap(err, "Failed to read the chat response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", upstream.FromHTTP(resp.StatusCode, data, genericMessage)
	}

	var out ChatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", upstream.New(upstream.KindGeneric, "Malformed response from the chat service", err)
	}
	if out.Error != "" {
		return "", upstream.New(upstream.KindGeneric, out.Error, nil)
	}
	if out.Response == "" {
		return "", upstream.New(upstream.KindGeneric, "Empty response from the chat service", nil)
	}
	return out.Response, nil
}

var _ Generator = (*FunctionClient)(nil)
