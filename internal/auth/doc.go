// Package auth authenticates chatdeck API requests.
//
// # JWT Tokens
//
// Sign-in (email/password, phone OTP) is handled by an external auth provider.
// The provider issues HS256 JWTs signed with a shared secret; chatdeck only
// verifies them. The "sub" claim is the user id and selects the user's
// conversation blob. An optional audience check matches the provider's "aud".
//
//	verifier, err := auth.NewJWTVerifier(secret, "authenticated")
//	mux.Handle("/api/", auth.HTTPAuthMiddleware(verifier)(api))
//
// # Local Mode
//
// Without a configured secret every request runs as one local user:
//
//	auth.LocalUserMiddleware("local")
//
// # Context
//
// Handlers read the identity with FromContext. It returns nil outside the
// middleware.
package auth
