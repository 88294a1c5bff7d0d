// ABOUTME: Hugging Face inference client for text-to-image models
// ABOUTME: Posts {inputs: prompt} and returns the image bytes as a base64 data URL

package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/2389/chatdeck/internal/upstream"
)

const (
	DefaultHuggingFaceEndpoint = "https://api-inference.huggingface.co"
	DefaultHuggingFaceModel    = "black-forest-labs/FLUX.1-schnell"
	DefaultTimeout             = 120 * time.Second

	missingTokenMessage = "Hugging Face token is not configured. Please set the HUGGING_FACE_ACCESS_TOKEN environment variable."
	noPromptMessage     = "No prompt provided in the request"
	genericMessage      = "An error occurred while generating the image"

	maxImageBytes = 32 << 20
)

// HuggingFaceConfig configures a HuggingFaceClient
type HuggingFaceConfig struct {
	Token    string
	Endpoint string
	Model    string // repository id, e.g. black-forest-labs/FLUX.1-schnell
	Timeout  time.Duration
	Logger   *slog.Logger
}

// HuggingFaceClient calls the Hugging Face inference API
type HuggingFaceClient struct {
	token      string
	endpoint   string
	model      string
	timeout    time.Duration
	httpClient *http.Client
	maxBytes   int64
	now        func() time.Time
	logger     *slog.Logger
}

// NewHuggingFaceClient creates a client. A missing token is reported per call.
func NewHuggingFaceClient(cfg HuggingFaceConfig) *HuggingFaceClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &HuggingFaceClient{
		token:      cfg.Token,
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		model:      cfg.Model,
		timeout:    cfg.Timeout,
		httpClient: &http.Client{},
		maxBytes:   maxImageBytes,
		now:        time.Now,
		logger:     logger.With("component", "huggingface"),
	}
	if c.endpoint == "" {
		c.endpoint = DefaultHuggingFaceEndpoint
	}
	if c.model == "" {
		c.model = DefaultHuggingFaceModel
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	return c
}

// ModelName is the short display name of the configured model
func (c *HuggingFaceClient) ModelName() string {
	return path.Base(c.model)
}

// Generate requests an image for prompt. Only opts.Size is echoed back; the
// model and quality are fixed by the deployment.
func (c *HuggingFaceClient) Generate(ctx context.Context, prompt string, opts Options) (Result, error) {
	if c.token == "" {
		return Result{}, upstream.New(upstream.KindConfig, missingTokenMessage, nil)
	}
	if prompt == "" {
		return Result{}, upstream.New(upstream.KindInvalidRequest, noPromptMessage, nil)
	}

	body, err := json.Marshal(map[string]string{"inputs": prompt})
	if err != nil {
		return Result{}, fmt.Errorf("encoding image request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := c.endpoint + "/models/" + c.model
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("creating image request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug("requesting image", "model", c.model, "size", opts.Size)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("image request failed", "error", err)
		return Result{}, upstream.Wrap(err, genericMessage)
	}
	defer resp.Body.Close()

	data, err := readLimited(resp.Body, c.maxBytes)
	if err != nil {
		c.logger.Error("reading image response failed", "status", resp.StatusCode, "error", err)
		return Result{}, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error("image API error", "status", resp.StatusCode, "body", upstream.Truncate(string(data), 200))
		return Result{}, upstream.FromHTTP(resp.StatusCode, data, genericMessage)
	}

	size := opts.Size
	if size == "" {
		size = DefaultSize
	}

	c.logger.Info("generated image", "model", c.model, "bytes", len(data))
	return Result{
		ImageURL:   dataURL(resp.Header.Get("Content-Type"), data),
		Model:      c.ModelName(),
		Size:       size,
		Quality:    DefaultQuality,
		PromptUsed: prompt,
		Timestamp:  FormatTimestamp(c.now()),
	}, nil
}

// dataURL encodes data with its media type, falling back to JPEG when the
// upstream did not label it as an image.
func dataURL(contentType string, data []byte) string {
	mediaType := strings.TrimSpace(strings.Split(contentType, ";")[0])
	if !strings.HasPrefix(mediaType, "image/") {
		mediaType = "image/jpeg"
	}
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

var _ Generator = (*HuggingFaceClient)(nil)

// readLimited reads the whole body, failing instead of truncating when it
// holds more than limit bytes.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, upstream.Wrap(err, genericMessage)
	}
	if int64(len(data)) > limit {
		return nil, upstream.New(upstream.KindGeneric,
			fmt.Sprintf("Image response exceeds the %d byte limit", limit), nil)
	}
	return data, nil
}
