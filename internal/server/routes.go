// ABOUTME: HTTP route table for health, metrics, session API and function proxies
// ABOUTME: API routes run behind JWT auth when a secret is configured, else as the local user

package server

import (
	"net/http"

	"github.com/2389/chatdeck/internal/auth"
)

const defaultLocalUser = "local"

// Handler returns the complete HTTP handler with middleware applied
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/ready", s.handleReady)

	if s.metrics != nil && s.config.Metrics.Enabled {
		path := s.config.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, s.metrics.Handler())
	}

	authed := s.authMiddleware()
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, authed(h))
	}

	handle("GET /api/session", s.handleSession)
	handle("GET /api/events", s.handleEvents)
	handle("GET /api/conversations", s.handleListConversations)
	handle("POST /api/conversations", s.handleStartConversation)
	handle("GET /api/conversations/{id}", s.handleSelectConversation)
	handle("DELETE /api/conversations/{id}", s.handleDeleteConversation)
	handle("POST /api/send", s.handleSend)
	handle("POST /api/images", s.handleGenerateImage)

	// Edge-function compatible endpoints
	handle("POST /functions/v1/gemini-chat", s.handleGeminiChatFunction)
	handle("POST /functions/v1/generate-image", s.handleGenerateImageFunction)

	var h http.Handler = mux
	if s.metrics != nil {
		h = withMetrics(s.metrics, mux)
	}
	return chainMiddlewares(h,
		withRequestLogging(s.logger),
		withCORS(s.config.CORS.AllowedOrigins),
	)
}

// authMiddleware selects JWT verification or the single local user
func (s *Server) authMiddleware() func(http.Handler) http.Handler {
	if s.verifier != nil {
		s.logger.Info("HTTP auth middleware enabled")
		return auth.HTTPAuthMiddleware(s.verifier)
	}
	userID := s.config.Auth.LocalUser
	if userID == "" {
		userID = defaultLocalUser
	}
	s.logger.Warn("HTTP auth disabled - no jwt_secret configured, serving a single local user",
		"user_id", userID)
	return auth.LocalUserMiddleware(userID)
}
