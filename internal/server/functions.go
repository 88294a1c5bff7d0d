// ABOUTME: Edge-function compatible endpoints for chat replies and image generation
// ABOUTME: Keeps the gemini-chat and generate-image request/response contracts

package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/2389/chatdeck/internal/imagegen"
	"github.com/2389/chatdeck/internal/llm"
	"github.com/2389/chatdeck/internal/upstream"
)

const (
	invalidJSONMessage        = "Invalid JSON in request body"
	noPromptMessage           = "No prompt provided in the request"
	imageNotConfiguredMessage = "Image generation is not configured"
)

// handleGeminiChatFunction handles POST /functions/v1/gemini-chat.
// Success is 200 {response}; every failure is 500 {error}.
func (s *Server) handleGeminiChatFunction(w http.ResponseWriter, r *http.Request) {
	logger := loggerFrom(r.Context(), s.logger)

	var req llm.ChatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusInternalServerError, llm.ChatResponse{Error: invalidJSONMessage})
		return
	}
	if req.Prompt == "" {
		writeJSON(w, http.StatusInternalServerError, llm.ChatResponse{Error: noPromptMessage})
		return
	}

	logger.Debug("gemini-chat request", "history_items", len(req.History))

	reply, err := s.chat.Generate(r.Context(), req.Prompt, llm.MessagesFromTurns(req.History))
	if err != nil {
		logger.Error("gemini-chat failed", "kind", upstream.KindOf(err), "error", err)
		writeJSON(w, http.StatusInternalServerError, llm.ChatResponse{Error: upstream.MessageOf(err)})
		return
	}
	writeJSON(w, http.StatusOK, llm.ChatResponse{Response: reply})
}

// handleGenerateImageFunction handles POST /functions/v1/generate-image.
// It always answers 200; failures carry {error} in the body.
func (s *Server) handleGenerateImageFunction(w http.ResponseWriter, r *http.Request) {
	logger := loggerFrom(r.Context(), s.logger)

	if s.images == nil {
		writeJSON(w, http.StatusOK, map[string]string{"error": imageNotConfiguredMessage})
		return
	}

	var req imagegen.ImageRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"error": invalidJSONMessage})
		return
	}
	if req.Prompt == "" {
		writeJSON(w, http.StatusOK, map[string]string{"error": noPromptMessage})
		return
	}
	if req.Size == "" {
		req.Size = imagegen.DefaultSize
	}

	res, err := s.images.Generate(r.Context(), req.Prompt, imagegen.Options{
		Size:    req.Size,
		Model:   req.Model,
		Quality: req.Quality,
	})
	if s.metrics != nil {
		s.metrics.ImageFinished(err)
	}
	if err != nil {
		logger.Error("generate-image failed", "kind", upstream.KindOf(err), "error", err)
		writeJSON(w, http.StatusOK, map[string]string{"error": upstream.MessageOf(err)})
		return
	}
	writeJSON(w, http.StatusOK, res)
}
