// ABOUTME: Gemini chat client built on google.golang.org/genai
// ABOUTME: Maps history roles, applies generation/safety settings and normalizes errors

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/genai"

	"github.com/2389/chatdeck/internal/store"
	"github.com/2389/chatdeck/internal/upstream"
)

const (
	DefaultGeminiModel   = "gemini-1.5-flash"
	DefaultGeminiVersion = "v1"
	DefaultTimeout       = 30 * time.Second

	missingKeyMessage = "Gemini API key is not configured. Please set the GEMINI_API_KEY environment variable."
	noPromptMessage   = "No prompt provided in the request"
	genericMessage    = "An error occurred while processing your request"
	timeoutMessage    = "Request to Gemini API timed out. Please try again later."
)

// GeminiConfig configures a GeminiClient
type GeminiConfig struct {
	APIKey     string
	Model      string
	BaseURL    string // empty means the public endpoint
	APIVersion string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// GeminiClient generates replies with the Gemini API
type GeminiClient struct {
	client  *genai.Client // nil when no API key is configured
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewGeminiClient creates a client. A missing API key is not an error here;
// every Generate call reports it instead so the server can still start.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &GeminiClient{
		model:   cfg.Model,
		timeout: cfg.Timeout,
		logger:  logger.With("component", "gemini"),
	}
	if c.model == "" {
		c.model = DefaultGeminiModel
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}

	if cfg.APIKey == "" {
		c.logger.Warn("GEMINI_API_KEY not set; chat requests will fail")
		return c, nil
	}

	version := cfg.APIVersion
	if version == "" {
		version = DefaultGeminiVersion
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    cfg.BaseURL,
			APIVersion: version,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating Gemini client: %w", err)
	}
	c.client = client
	return c, nil
}

// Generate sends history plus prompt to the model and returns the first
// candidate's text.
func (c *GeminiClient) Generate(ctx context.Context, prompt string, history []store.Message) (string, error) {
	if c.client == nil {
		return "", upstream.New(upstream.KindConfig, missingKeyMessage, nil)
	}
	if prompt == "" {
		return "", upstream.New(upstream.KindInvalidRequest, noPromptMessage, nil)
	}

	c.logger.Debug("sending request", "model", c.model, "history", len(history))

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.client.Models.GenerateContent(ctx, c.model, buildContents(prompt, history), generationConfig())
	if err != nil {
		c.logger.Error("gemini request failed", "error", err)
		if ctx.Err() == context.DeadlineExceeded {
			return "", &upstream.Error{Kind: upstream.KindTimeout, Message: timeoutMessage, Err: err}
		}
		return "", normalizeGeminiError(err)
	}

	if len(res.Candidates) == 0 {
		return NoResponseText, nil
	}
	text := res.Text()
	if text == "" {
		return NoResponseText, nil
	}
	return text, nil
}

func buildContents(prompt string, history []store.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, m := range history {
		if m.IsLoading {
			continue
		}
		switch m.Role {
		case store.RoleUser:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		case store.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		}
	}
	return append(contents, genai.NewContentFromText(prompt, genai.RoleUser))
}

func generationConfig() *genai.GenerateContentConfig {
	temp := float32(0.7)
	topK := float32(40)
	topP := float32(0.95)

	categories := []genai.HarmCategory{
		genai.HarmCategoryHarassment,
		genai.HarmCategoryHateSpeech,
		genai.HarmCategorySexuallyExplicit,
		genai.HarmCategoryDangerousContent,
	}
	safety := make([]*genai.SafetySetting, 0, len(categories))
	for _, cat := range categories {
		safety = append(safety, &genai.SafetySetting{
			Category:  cat,
			Threshold: genai.HarmBlockThresholdBlockMediumAndAbove,
		})
	}

	return &genai.GenerateContentConfig{
		Temperature:     &temp,
		TopK:            &topK,
		TopP:            &topP,
		MaxOutputTokens: 2048,
		SafetySettings:  safety,
	}
}

func normalizeGeminiError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &upstream.Error{Kind: upstream.KindTimeout, Message: timeoutMessage, Err: err}
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiError(apiErr, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiError(*apiErrPtr, err)
	}
	return upstream.Wrap(err, genericMessage)
}

func apiError(apiErr genai.APIError, err error) error {
	msg := apiErr.Message
	if msg == "" {
		msg = genericMessage
	}
	e := upstream.New(upstream.KindGeneric, msg, err)
	e.Status = apiErr.Code
	return e
}

var _ Generator = (*GeminiClient)(nil)
