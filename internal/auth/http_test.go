// ABOUTME: Tests for HTTP authentication middleware and context helpers
// ABOUTME: Covers token extraction, validation and the local-user fallback

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureAuth(got **AuthContext) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestHTTPAuthMiddleware_ValidToken(t *testing.T) {
	verifier, err := NewJWTVerifier(testSecret, "")
	require.NoError(t, err)
	token, err := verifier.Generate("user-123", "ada@example.com", time.Hour)
	require.NoError(t, err)

	var got *AuthContext
	handler := HTTPAuthMiddleware(verifier)(captureAuth(&got))

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	assert.Equal(t, "user-123", got.UserID)
	assert.Equal(t, "ada@example.com", got.Email)
	assert.False(t, got.Local)
}

func TestHTTPAuthMiddleware_Rejections(t *testing.T) {
	verifier, err := NewJWTVerifier(testSecret, "")
	require.NoError(t, err)
	expired, err := verifier.Generate("user-123", "", -time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"missing header", "", "missing authorization header"},
		{"wrong scheme", "Basic abc", "invalid authorization header format"},
		{"empty token", "Bearer ", "empty token"},
		{"garbage", "Bearer nope", "invalid token"},
		{"expired", "Bearer " + expired, "token expired"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := HTTPAuthMiddleware(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.False(t, called)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Contains(t, rec.Body.String(), tt.want)
		})
	}
}

func TestLocalUserMiddleware(t *testing.T) {
	var got *AuthContext
	handler := LocalUserMiddleware("local")(captureAuth(&got))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.NotNil(t, got)
	assert.Equal(t, "local", got.UserID)
	assert.True(t, got.Local)
}

func TestFromContext(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))

	ctx := WithAuth(context.Background(), &AuthContext{UserID: "u"})
	assert.Equal(t, "u", FromContext(ctx).UserID)
	assert.Equal(t, "u", MustFromContext(ctx).UserID)

	assert.Panics(t, func() { MustFromContext(context.Background()) })
}
