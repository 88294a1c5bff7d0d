// ABOUTME: Image generation service used by the API and the chat REPL
// ABOUTME: Validates prompts, applies settings defaults and classifies failures

package imagegen

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/chatdeck/internal/upstream"
)

const emptyPromptMessage = "Please enter a description for the image you want to generate."

// Service wraps a Generator with request validation and metadata fallbacks
type Service struct {
	gen      Generator
	defaults Options
	now      func() time.Time
	logger   *slog.Logger
}

// NewService creates a Service. Zero fields of defaults take the package defaults.
func NewService(gen Generator, defaults Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if defaults.Size == "" {
		defaults.Size = DefaultSize
	}
	if defaults.Model == "" {
		defaults.Model = DefaultModel
	}
	if defaults.Quality == "" {
		defaults.Quality = DefaultQuality
	}
	return &Service{
		gen:      gen,
		defaults: defaults,
		now:      time.Now,
		logger:   logger.With("component", "imagegen"),
	}
}

// Generate trims and validates prompt, fills unset options from the service
// defaults, and backfills any metadata the backend left empty.
func (s *Service) Generate(ctx context.Context, prompt string, opts Options) (Result, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Result{}, upstream.New(upstream.KindInvalidRequest, emptyPromptMessage, nil)
	}
	if opts.Size == "" {
		opts.Size = s.defaults.Size
	}
	if opts.Model == "" {
		opts.Model = s.defaults.Model
	}
	if opts.Quality == "" {
		opts.Quality = s.defaults.Quality
	}

	res, err := s.gen.Generate(ctx, prompt, opts)
	if err != nil {
		ue := upstream.Wrap(err, "Failed to generate image. Please try again.")
		s.logger.Warn("image generation failed", "kind", ue.Kind, "error", err)
		return Result{}, ue
	}

	if res.PromptUsed == "" {
		res.PromptUsed = prompt
	}
	if res.Model == "" {
		res.Model = opts.Model
	}
	if res.Size == "" {
		res.Size = opts.Size
	}
	if res.Quality == "" {
		res.Quality = opts.Quality
	}
	if res.Timestamp == "" {
		res.Timestamp = FormatTimestamp(s.now())
	}
	return res, nil
}

// BillingNotice is the user-facing explanation shown for billing failures
const BillingNotice = "The image generation service has reached its billing limit. Please try again later or contact the administrator to increase the limit."

// UserMessage returns what to show the user for a generation failure
func UserMessage(err error) string {
	if upstream.KindOf(err) == upstream.KindBilling {
		return BillingNotice
	}
	return upstream.MessageOf(err)
}
