// ABOUTME: HTTP client for a remote generate-image edge function
// ABOUTME: The function always answers 200 with either {error} or the result

package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/2389/chatdeck/internal/upstream"
)

// ImageRequest is the generate-image request body
type ImageRequest struct {
	Prompt  string `json:"prompt"`
	Size    string `json:"size,omitempty"`
	Model   string `json:"model,omitempty"`
	Quality string `json:"quality,omitempty"`
}

// ImageResponse is the generate-image response body
type ImageResponse struct {
	Error string `json:"error,omitempty"`
	Result
}

// FunctionClient calls a deployed generate-image function
type FunctionClient struct {
	url        string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	maxBytes   int64
	logger     *slog.Logger
}

// NewFunctionClient creates a client for the function at url
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
		maxBytes:   maxImageBytes,
		logger:     logger.With("component", "image-function"),
	}
}

// Generate posts the prompt and options to the function
func (c *FunctionClient) Generate(ctx context.Context, prompt string, opts Options) (Result, error) {
	body, err := json.Marshal(ImageRequest{Prompt: prompt, Size: opts.Size, Model: opts.Model, Quality: opts.Quality})
	if err != nil {
		return Result{}, fmt.Errorf("encoding image request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("creating image request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("image function request failed", "error", err)
		return Result{}, upstream.Wrap(err, "Failed to reach the image service")
	}
	defer resp.Body.Close()

	data, err := readLimited(resp.Body, c.maxBytes)
	if err != nil {
		return Result{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, upstream.FromHTTP(resp.StatusCode, data, genericMessage)
	}

	var out ImageResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return Result{}, upstream.New(upstream.KindGeneric, "Unexpected response format from API", err)
	}
	if out.Error != "" {
		return Result{}, upstream.New(upstream.KindGeneric, out.Error, nil)
	}
	if out.ImageURL == "" {
		return Result{}, upstream.New(upstream.KindGeneric, "Unexpected response format from API", nil)
	}
	return out.Result, nil
}

var _ Generator = (*FunctionClient)(nil)
