package upstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_PromotesBilling(t *testing.T) {
	err := New(KindGeneric, "Billing hard limit has been reached", nil)
	assert.Equal(t, KindBilling, err.Kind)

	err = New(KindGeneric, "network down", nil)
	assert.Equal(t, KindGeneric, err.Kind)
}

func TestWrap(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		assert.Nil(t, Wrap(nil, "x"))
	})

	t.Run("passes through existing", func(t *testing.T) {
		orig := &Error{Kind: KindConfig, Message: "missing key"}
		wrapped := fmt.Errorf("outer: %w", orig)
		assert.Same(t, orig, Wrap(wrapped, "fallback"))
	})

	t.Run("deadline becomes timeout", func(t *testing.T) {
		err := Wrap(fmt.Errorf("post: %w", context.DeadlineExceeded), "fallback")
		assert.Equal(t, KindTimeout, err.Kind)
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	})

	t.Run("generic uses fallback", func(t *testing.T) {
		err := Wrap(errors.New("dial tcp: refused"), "Failed to generate a response")
		assert.Equal(t, KindGeneric, err.Kind)
		assert.Equal(t, "Failed to generate a response", err.Message)
	})

	t.Run("billing text kept", func(t *testing.T) {
		err := Wrap(errors.New("You exceeded your current quota"), "fallback")
		assert.Equal(t, KindBilling, err.Kind)
		assert.Equal(t, "You exceeded your current quota", err.Message)
	})
}

func TestKindAndMessageOf(t *testing.T) {
	assert.Equal(t, KindGeneric, KindOf(errors.New("plain")))
	assert.Equal(t, "plain", MessageOf(errors.New("plain")))
	assert.Equal(t, "", MessageOf(nil))

	err := fmt.Errorf("ctx: %w", &Error{Kind: KindBilling, Message: "billing limit"})
	assert.Equal(t, KindBilling, KindOf(err))
	assert.Equal(t, "billing limit", MessageOf(err))
}

func TestError_Error(t *testing.T) {
	e := &Error{Message: "Failed", Err: errors.New("boom")}
	assert.Equal(t, "Failed: boom", e.Error())

	e = &Error{Message: "same", Err: errors.New("same")}
	assert.Equal(t, "same", e.Error())
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "abc", Truncate("abc", 10))
	require.Equal(t, "ab", Truncate("abc", 2))
	require.Equal(t, "héé", Truncate("hééé", 3))
	require.Equal(t, "日本", Truncate("日本語", 2))
}

func TestFromHTTP_TruncatesOnRuneBoundary(t *testing.T) {
	body := "a" + strings.Repeat("é", 150)
	err := FromHTTP(500, []byte(body), "fallback")
	require.True(t, utf8.ValidString(err.Message))
	assert.Equal(t, "Error 500: a"+strings.Repeat("é", 99), err.Message)
}

func TestFromHTTP(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
		kind   Kind
	}{
		{"nested message", 400, `{"error":{"code":400,"message":"API key not valid"}}`, "API key not valid", KindGeneric},
		{"string error", 503, `{"error":"Model is currently loading"}`, "Model is currently loading", KindGeneric},
		{"billing", 402, `{"error":"Billing hard limit has been reached"}`, "Billing hard limit has been reached", KindBilling},
		{"json without message", 500, `{"detail":"nope"}`, "fallback", KindGeneric},
		{"plain text", 502, "Bad Gateway", "Error 502: Bad Gateway", KindGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := FromHTTP(tt.status, []byte(tt.body), "fallback")
			require.NotNil(t, err)
			assert.Equal(t, tt.want, err.Message)
			assert.Equal(t, tt.kind, err.Kind)
			assert.Equal(t, tt.status, err.Status)
		})
	}
}

func TestFromHTTP_TruncatesRawBody(t *testing.T) {
	body := make([]byte, 300)
	for i := range body {
		body[i] = 'x'
	}
	err := FromHTTP(500, body, "fallback")
	assert.Len(t, err.Message, len("Error 500: ")+100)
}
