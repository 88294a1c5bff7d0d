// ABOUTME: Unit tests for JWT token verification and generation
// ABOUTME: Tests valid tokens, invalid tokens, expired tokens and audience checks

package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-secret-key-for-jwt-signing!")

func TestNewJWTVerifier_RejectsShortSecret(t *testing.T) {
	_, err := NewJWTVerifier([]byte("short"), "")
	if !errors.Is(err, ErrWeakSecret) {
		t.Fatalf("NewJWTVerifier() error = %v, want ErrWeakSecret", err)
	}
}

func TestJWTVerifier_ValidToken(t *testing.T) {
	verifier, err := NewJWTVerifier(testSecret, "")
	if err != nil {
		t.Fatalf("NewJWTVerifier() error = %v", err)
	}

	token, err := verifier.Generate("user-123", "ada@example.com", time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	id, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if id.UserID != "user-123" {
		t.Errorf("Verify() user = %q, want %q", id.UserID, "user-123")
	}
	if id.Email != "ada@example.com" {
		t.Errorf("Verify() email = %q, want %q", id.Email, "ada@example.com")
	}
}

func TestJWTVerifier_InvalidToken(t *testing.T) {
	verifier, _ := NewJWTVerifier(testSecret, "")

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty token", token: ""},
		{name: "garbage token", token: "not-a-jwt-token"},
		{name: "malformed JWT", token: "header.payload.signature"},
		{
			name: "wrong secret",
			token: func() string {
				other, _ := NewJWTVerifier([]byte("a-completely-different-secret-32"), "")
				token, _ := other.Generate("user-123", "", time.Hour)
				return token
			}(),
		},
		{
			name: "HS512 not accepted",
			token: func() string {
				token := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
					"sub": "user-123",
					"exp": time.Now().Add(time.Hour).Unix(),
				})
				s, _ := token.SignedString(testSecret)
				return s
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(tt.token)
			if err == nil {
				t.Fatal("Verify() should have returned an error")
			}
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestJWTVerifier_ExpiredToken(t *testing.T) {
	verifier, _ := NewJWTVerifier(testSecret, "")

	token, err := verifier.Generate("user-123", "", -time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	_, err = verifier.Verify(token)
	if !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Verify() error = %v, want ErrExpiredToken", err)
	}
}

func TestJWTVerifier_MissingSub(t *testing.T) {
	verifier, _ := NewJWTVerifier(testSecret, "")

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(testSecret)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	_, err = verifier.Verify(signed)
	if !errors.Is(err, ErrMissingClaim) {
		t.Errorf("Verify() error = %v, want ErrMissingClaim", err)
	}
}

func TestJWTVerifier_Audience(t *testing.T) {
	verifier, _ := NewJWTVerifier(testSecret, "authenticated")

	good, _ := verifier.Generate("user-1", "", time.Hour)
	if _, err := verifier.Verify(good); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	noAud, _ := NewJWTVerifier(testSecret, "")
	bad, _ := noAud.Generate("user-1", "", time.Hour)
	if _, err := verifier.Verify(bad); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify() error = %v, want ErrInvalidToken for missing aud", err)
	}
}
