// ABOUTME: Tests for the chat collaborators against httptest upstreams
// ABOUTME: Covers request shape, role mapping, empty candidates and error normalization

package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chatdeck/internal/store"
	"github.com/2389/chatdeck/internal/upstream"
)

func sampleHistory() []store.Message {
	return []store.Message{
		{ID: "1", Role: store.RoleUser, Content: "hi"},
		{ID: "2", Role: store.RoleAssistant, Content: "hello"},
		{ID: "3", Role: store.RoleAssistant, IsLoading: true},
	}
}

func TestTurnsFromMessages_SkipsLoading(t *testing.T) {
	turns := TurnsFromMessages(sampleHistory())
	require.Len(t, turns, 2)
	assert.Equal(t, Turn{Role: store.RoleUser, Content: "hi"}, turns[0])
	assert.Equal(t, Turn{Role: store.RoleAssistant, Content: "hello"}, turns[1])
}

func TestMessagesFromTurns_DropsUnknownRoles(t *testing.T) {
	msgs := MessagesFromTurns([]Turn{
		{Role: "user", Content: "a"},
		{Role: "system", Content: "b"},
		{Role: "assistant", Content: "c"},
	})
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[0].Content)
	assert.Equal(t, "c", msgs[1].Content)
}

func TestFunctionClient_Success(t *testing.T) {
	var got ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer anon-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(ChatResponse{Response: "Hi there!"})
	}))
	defer srv.Close()

	c := NewFunctionClient(srv.URL, "anon-key", time.Second, nil)
	reply, err := c.Generate(context.Background(), "Hello", sampleHistory())
	require.NoError(t, err)
	assert.Equal(t, "Hi there!", reply)
	assert.Equal(t, "Hello", got.Prompt)
	assert.Len(t, got.History, 2)
}

func TestFunctionClient_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
		kind    upstream.Kind
	}{
		{"error field on 500", 500, `{"error":"network down"}`, "network down", upstream.KindGeneric},
		{"billing", 500, `{"error":"You exceeded your current quota"}`, "You exceeded your current quota", upstream.KindBilling},
		{"error field on 200", 200, `{"error":"upstream said no"}`, "upstream said no", upstream.KindGeneric},
		{"malformed 200", 200, `not json`, "Malformed response from the chat service", upstream.KindGeneric},
		{"empty reply", 200, `{}`, "Empty response from the chat service", upstream.KindGeneric},
		{"raw 502", 502, `Bad Gateway`, "Error 502: Bad Gateway", upstream.KindGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			c := NewFunctionClient(srv.URL, "", time.Second, nil)
			_, err := c.Generate(context.Background(), "x", nil)
			require.Error(t, err)
			assert.Equal(t, tt.message, upstream.MessageOf(err))
			assert.Equal(t, tt.kind, upstream.KindOf(err))
		})
	}
}

func TestFunctionClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewFunctionClient(srv.URL, "", 50*time.Millisecond, nil)
	_, err := c.Generate(context.Background(), "x", nil)
	require.Error(t, err)
	assert.Equal(t, upstream.KindTimeout, upstream.KindOf(err))
}

func TestGeminiClient_MissingKey(t *testing.T) {
	c, err := NewGeminiClient(context.Background(), GeminiConfig{})
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), "hi", nil)
	require.Error(t, err)
	assert.Equal(t, upstream.KindConfig, upstream.KindOf(err))
	assert.Contains(t, upstream.MessageOf(err), "GEMINI_API_KEY")
}

func newGeminiServer(t *testing.T, handler http.HandlerFunc) *GeminiClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewGeminiClient(context.Background(), GeminiConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Timeout: 2 * time.Second,
	})
	require.NoError(t, err)
	return c
}

func TestGeminiClient_Generate(t *testing.T) {
	var body string
	var path string
	c := newGeminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"Hi there!"}]}}]}`)
	})

	reply, err := c.Generate(context.Background(), "Hello", sampleHistory())
	require.NoError(t, err)
	assert.Equal(t, "Hi there!", reply)

	assert.True(t, strings.HasSuffix(path, "/models/gemini-1.5-flash:generateContent"), path)
	assert.Contains(t, body, `"role":"model"`)
	assert.Contains(t, body, "HARM_CATEGORY_HARASSMENT")
	assert.Contains(t, body, "BLOCK_MEDIUM_AND_ABOVE")
	// placeholder content never reaches the model
	assert.Equal(t, 3, strings.Count(body, `"text"`))
}

func TestGeminiClient_NoCandidates(t *testing.T) {
	c := newGeminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"candidates":[]}`)
	})

	reply, err := c.Generate(context.Background(), "Hello", nil)
	require.NoError(t, err)
	assert.Equal(t, NoResponseText, reply)
}

func TestGeminiClient_APIError(t *testing.T) {
	c := newGeminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`)
	})

	_, err := c.Generate(context.Background(), "Hello", nil)
	require.Error(t, err)
	assert.Equal(t, "API key not valid", upstream.MessageOf(err))
	assert.Equal(t, upstream.KindGeneric, upstream.KindOf(err))
}

func TestGeminiClient_EmptyPrompt(t *testing.T) {
	c := newGeminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream should not be called")
	})

	_, err := c.Generate(context.Background(), "", nil)
	require.Error(t, err)
	assert.Equal(t, upstream.KindInvalidRequest, upstream.KindOf(err))
}
