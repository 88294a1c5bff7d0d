// ABOUTME: JWT verification for tokens issued by the external auth provider
// ABOUTME: Uses HS256 signing with the provider's shared secret; sub is the user id

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the shortest HS256 secret accepted
const MinSecretLength = 32

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
	ErrWeakSecret   = fmt.Errorf("jwt secret must be at least %d bytes", MinSecretLength)
)

// Identity is the verified user behind a token
type Identity struct {
	UserID string
	Email  string
}

// TokenVerifier defines the interface for token verification
type TokenVerifier interface {
	Verify(tokenString string) (*Identity, error)
}

// JWTVerifier implements TokenVerifier using HS256 signed JWTs
type JWTVerifier struct {
	secret   []byte
	audience string
}

// NewJWTVerifier creates a verifier for the given secret. When audience is
// non-empty the aud claim must contain it.
func NewJWTVerifier(secret []byte, audience string) (*JWTVerifier, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	return &JWTVerifier{secret: secret, audience: audience}, nil
}

// Verify validates the token and extracts the user id from the "sub" claim
func (v *JWTVerifier) Verify(tokenString string) (*Identity, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, opts...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	email, _ := claims["email"].(string)
	return &Identity{UserID: sub, Email: email}, nil
}

// Generate creates a signed token for userID, used for local development and tests
func (v *JWTVerifier) Generate(userID, email string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}
	if email != "" {
		claims["email"] = email
	}
	if v.audience != "" {
		claims["aud"] = v.audience
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
