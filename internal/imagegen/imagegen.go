// ABOUTME: Image-generation collaborator types shared by all backends
// ABOUTME: Options in, Result with data URL and metadata out

package imagegen

import (
	"context"
	"time"
)

// Defaults applied when a request or upstream omits a field
const (
	DefaultSize    = "1024x1024"
	DefaultModel   = "FLUX.1-schnell"
	DefaultQuality = "high"
)

// timestampLayout matches JavaScript's Date.toISOString
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Options are the caller's generation settings
type Options struct {
	Size    string `json:"size,omitempty"`
	Model   string `json:"model,omitempty"`
	Quality string `json:"quality,omitempty"`
}

// Result describes a generated image
type Result struct {
	ImageURL   string `json:"imageUrl"`
	Model      string `json:"model"`
	Size       string `json:"size"`
	Quality    string `json:"quality"`
	PromptUsed string `json:"promptUsed"`
	Timestamp  string `json:"timestamp"`
}

// Generator turns a prompt into an image. Failures are *upstream.Error.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts Options) (Result, error)
}

// FormatTimestamp renders t the way result timestamps are reported
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}
