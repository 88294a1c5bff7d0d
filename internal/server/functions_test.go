// ABOUTME: Tests for the gemini-chat and generate-image compatible endpoints
// ABOUTME: Verifies status codes, error bodies and history role mapping

package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chatdeck/internal/imagegen"
	"github.com/2389/chatdeck/internal/llm"
	"github.com/2389/chatdeck/internal/store"
	"github.com/2389/chatdeck/internal/upstream"
)

func TestGeminiChatFunction_Success(t *testing.T) {
	env := newTestEnv(t)
	env.chat.reply = "Paris."

	rec := doRequest(t, env.server.Handler(), http.MethodPost, "/functions/v1/gemini-chat", llm.ChatRequest{
		Prompt: "And the capital of France?",
		History: []llm.Turn{
			{Role: "user", Content: "Hi"},
			{Role: "assistant", Content: "Hello!"},
			{Role: "system", Content: "ignored"},
		},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Paris.", decodeJSON[llm.ChatResponse](t, rec).Response)

	env.chat.mu.Lock()
	defer env.chat.mu.Unlock()
	require.Len(t, env.chat.histories, 1)
	history := env.chat.histories[0]
	require.Len(t, history, 2)
	assert.Equal(t, store.RoleUser, history[0].Role)
	assert.Equal(t, store.RoleAssistant, history[1].Role)
	assert.Equal(t, "And the capital of France?", env.chat.prompts[0])
}

func TestGeminiChatFunction_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		genErr  error
		wantMsg string
	}{
		{
			name:    "invalid json",
			body:    "{",
			wantMsg: "Invalid JSON in request body",
		},
		{
			name:    "missing prompt",
			body:    `{"history":[]}`,
			wantMsg: "No prompt provided in the request",
		},
		{
			name:    "upstream failure",
			body:    `{"prompt":"hi"}`,
			genErr:  upstream.New(upstream.KindGeneric, "API key not valid", nil),
			wantMsg: "API key not valid",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.chat.err = tt.genErr

			req := httptest.NewRequest(http.MethodPost, "/functions/v1/gemini-chat", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			env.server.Handler().ServeHTTP(rec, req)

			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.Equal(t, tt.wantMsg, decodeJSON[llm.ChatResponse](t, rec).Error)
		})
	}
}

func TestGenerateImageFunction_Success(t *testing.T) {
	env := newTestEnv(t)
	env.images.result = imagegen.Result{
		ImageURL:   "data:image/jpeg;base64,AAAA",
		Model:      "FLUX.1-schnell",
		Size:       "1024x1024",
		Quality:    "high",
		PromptUsed: "a lighthouse",
		Timestamp:  "2024-05-01T10:00:00.000Z",
	}

	rec := doRequest(t, env.server.Handler(), http.MethodPost, "/functions/v1/generate-image",
		imagegen.ImageRequest{Prompt: "a lighthouse"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	res := decodeJSON[imagegen.Result](t, rec)
	assert.Equal(t, env.images.result, res)
	assert.Equal(t, imagegen.DefaultSize, env.images.opts.Size)
}

func TestGenerateImageFunction_ErrorsAreStatus200(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		genErr  error
		wantMsg string
	}{
		{
			name:    "invalid json",
			body:    "nope",
			wantMsg: "Invalid JSON in request body",
		},
		{
			name:    "missing prompt",
			body:    `{"size":"512x512"}`,
			wantMsg: "No prompt provided in the request",
		},
		{
			name:    "upstream failure",
			body:    `{"prompt":"fox"}`,
			genErr:  upstream.New(upstream.KindGeneric, "Error 500: boom", nil),
			wantMsg: "Error 500: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.images.err = tt.genErr

			req := httptest.NewRequest(http.MethodPost, "/functions/v1/generate-image", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			env.server.Handler().ServeHTTP(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code)
			body := decodeJSON[map[string]any](t, rec)
			assert.Equal(t, tt.wantMsg, body["error"])
			assert.NotContains(t, body, "imageUrl")
		})
	}
}

func TestFunctions_Preflight(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/functions/v1/gemini-chat", "/functions/v1/generate-image"} {
		rec := doRequest(t, env.server.Handler(), http.MethodOptions, path, nil, nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"), path)
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "x-client-info", path)
	}
}
