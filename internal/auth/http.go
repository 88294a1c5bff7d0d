// ABOUTME: HTTP middleware for JWT authentication on API endpoints
// ABOUTME: Extracts the bearer token and adds the verified user to the request context

package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// HTTPAuthMiddleware rejects requests without a valid bearer token and adds
// the verified identity to the request context.
func HTTPAuthMiddleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				writeAuthError(w, http.StatusUnauthorized, errMsg)
				return
			}

			id, err := verifier.Verify(token)
			if err != nil {
				msg := "invalid token"
				if errors.Is(err, ErrExpiredToken) {
					msg = "token expired"
				}
				writeAuthError(w, http.StatusUnauthorized, msg)
				return
			}

			authCtx := &AuthContext{UserID: id.UserID, Email: id.Email}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}

// LocalUserMiddleware runs every request as userID. Used when no JWT secret
// is configured, e.g. a single-user install on a tailnet.
func LocalUserMiddleware(userID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := &AuthContext{UserID: userID, Local: true}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}
