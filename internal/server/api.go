// ABOUTME: HTTP API handlers for the chat session: conversations, send and image generation
// ABOUTME: Send and event endpoints stream session transitions as Server-Sent Events

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/2389/chatdeck/internal/auth"
	"github.com/2389/chatdeck/internal/codeblock"
	"github.com/2389/chatdeck/internal/dedupe"
	"github.com/2389/chatdeck/internal/imagegen"
	"github.com/2389/chatdeck/internal/session"
	"github.com/2389/chatdeck/internal/store"
	"github.com/2389/chatdeck/internal/upstream"
)

const (
	maxBodyBytes      = 1 << 20
	heartbeatInterval = 30 * time.Second
	idempotencyHeader = "Idempotency-Key"
)

// SendRequest is the JSON request body for POST /api/send.
type SendRequest struct {
	Content string `json:"content"`
}

// ConversationList is the JSON response for GET /api/conversations.
type ConversationList struct {
	Conversations []store.Conversation `json:"conversations"`
}

// RenderedMessage is a message with its body rendered to HTML and split
// into prose and code segments in display order.
type RenderedMessage struct {
	store.Message
	HTML     string              `json:"html"`
	Segments []codeblock.Segment `json:"segments"`
}

// RenderedConversation is the ?format=html form of a conversation.
type RenderedConversation struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Timestamp int64             `json:"timestamp"`
	Messages  []RenderedMessage `json:"messages"`
}

// SendError is the data of the final "error" event of POST /api/send.
type SendError struct {
	Error        string                `json:"error"`
	Kind         string                `json:"kind,omitempty"`
	Notification *session.Notification `json:"notification,omitempty"`
}

// ImageError is the JSON error body of POST /api/images.
type ImageError struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// controllerFor resolves the caller's session controller, writing an error
// response and returning ok=false when it cannot.
func (s *Server) controllerFor(w http.ResponseWriter, r *http.Request) (ctrl *session.Controller, userID string, ok bool) {
	authCtx := auth.FromContext(r.Context())
	if authCtx == nil {
		sendJSONError(w, http.StatusUnauthorized, "unauthenticated")
		return nil, "", false
	}

	ctrl, err := s.sessions.For(r.Context(), authCtx.UserID)
	if err != nil {
		loggerFrom(r.Context(), s.logger).Error("failed to open session", "user_id", authCtx.UserID, "error", err)
		if errors.Is(err, store.ErrCorrupt) {
			sendJSONError(w, http.StatusInternalServerError, "conversation store is corrupt")
		} else {
			sendJSONError(w, http.StatusInternalServerError, "internal server error")
		}
		return nil, "", false
	}
	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveSessions()))
	}
	return ctrl, authCtx.UserID, true
}

// handleSession handles GET /api/session and returns the current snapshot.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	ctrl, _, ok := s.controllerFor(w, r)
	if !ok {
		return
	}
	snap, err := ctrl.View(r.Context())
	if err != nil {
		s.internalError(w, r, "failed to build view", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleListConversations handles GET /api/conversations.
func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	ctrl, _, ok := s.controllerFor(w, r)
	if !ok {
		return
	}
	convs, err := ctrl.ListConversations(r.Context())
	if err != nil {
		s.internalError(w, r, "failed to list conversations", err)
		return
	}
	writeJSON(w, http.StatusOK, ConversationList{Conversations: convs})
}

// handleStartConversation handles POST /api/conversations.
func (s *Server) handleStartConversation(w http.ResponseWriter, r *http.Request) {
	ctrl, _, ok := s.controllerFor(w, r)
	if !ok {
		return
	}
	conv, err := ctrl.StartNew(r.Context())
	if err != nil {
		s.internalError(w, r, "failed to start conversation", err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

// handleSelectConversation handles GET /api/conversations/{id}.
// A missing id answers 404 and reopens the most recent conversation so the
// session is never left without a current one.
func (s *Server) handleSelectConversation(w http.ResponseWriter, r *http.Request) {
	ctrl, _, ok := s.controllerFor(w, r)
	if !ok {
		return
	}

	id := r.PathValue("id")
	conv, err := ctrl.SelectConversation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		if _, openErr := ctrl.Open(r.Context()); openErr != nil {
			loggerFrom(r.Context(), s.logger).Warn("failed to reopen session", "error", openErr)
		}
		sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		s.internalError(w, r, "failed to select conversation", err)
		return
	}

	if r.URL.Query().Get("format") == "html" {
		rendered, err := renderConversation(conv)
		if err != nil {
			s.internalError(w, r, "failed to render conversation", err)
			return
		}
		writeJSON(w, http.StatusOK, rendered)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// handleDeleteConversation handles DELETE /api/conversations/{id} and
// returns the snapshot after the deletion. Unknown ids are not an error.
func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	ctrl, _, ok := s.controllerFor(w, r)
	if !ok {
		return
	}
	if err := ctrl.DeleteConversation(r.Context(), r.PathValue("id")); err != nil {
		s.internalError(w, r, "failed to delete conversation", err)
		return
	}
	snap, err := ctrl.View(r.Context())
	if err != nil {
		s.internalError(w, r, "failed to build view", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleSend handles POST /api/send requests.
// It appends the user message, asks the generator for a reply and streams the
// session transitions via SSE: "view" and "notification" events while the
// send runs, then a final "done" (with the Outcome) or "error" event.
//
// Generation runs detached from the request: a client that disconnects
// mid-stream still gets the reply stored in its conversation.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	logger := loggerFrom(r.Context(), s.logger)

	var req SendRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		sendJSONError(w, http.StatusBadRequest, "content is required")
		return
	}

	// Check streaming support before sending (fail fast)
	flusher, ok := w.(http.Flusher)
	if !ok {
		logger.Error("streaming not supported")
		sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ctrl, userID, ok := s.controllerFor(w, r)
	if !ok {
		return
	}
	if cur := ctrl.Current(); cur != nil && ctrl.Pending(cur.ID) {
		sendJSONError(w, http.StatusConflict, session.ErrBusy.Error())
		return
	}

	var claimed string
	if key := r.Header.Get(idempotencyHeader); key != "" {
		claimed = dedupe.ScopedKey(userID, key)
		if !s.dedupe.Claim(claimed) {
			if s.metrics != nil {
				s.metrics.DuplicateSends.Inc()
			}
			logger.Info("duplicate send rejected", "idempotency_key", key)
			sendJSONError(w, http.StatusConflict, "duplicate request")
			return
		}
	}

	// Subscribe before sending so no transition is missed
	subCtx, cancel := context.WithCancel(r.Context())
	defer cancel()
	events, _ := s.sessions.Subscribe(subCtx, userID)

	type sendResult struct {
		outcome session.Outcome
		err     error
	}
	done := make(chan sendResult, 1)
	go func() {
		out, err := ctrl.Send(context.WithoutCancel(r.Context()), req.Content)
		done <- sendResult{outcome: out, err: err}
	}()

	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			logger.Debug("client disconnected from send stream; reply will still be stored")
			return

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.writeSessionEvent(w, ev)
			flusher.Flush()

		case res := <-done:
			// Transitions published before Send returned are already buffered
			for drained := false; !drained && events != nil; {
				select {
				case ev, ok := <-events:
					if !ok {
						drained = true
						continue
					}
					s.writeSessionEvent(w, ev)
				default:
					drained = true
				}
			}

			switch {
			case res.err != nil:
				if claimed != "" {
					s.dedupe.Release(claimed)
				}
				msg := "internal server error"
				if errors.Is(res.err, session.ErrBusy) || errors.Is(res.err, session.ErrEmptyMessage) {
					msg = res.err.Error()
				} else {
					logger.Error("send failed", "error", res.err)
				}
				s.writeSSEEvent(w, "error", SendError{Error: msg})
			case res.outcome.Err != nil:
				if claimed != "" {
					s.dedupe.Release(claimed)
				}
				n := session.FailureNotification(res.outcome.Err)
				s.writeSSEEvent(w, "error", SendError{
					Error:        n.Message,
					Kind:         string(upstream.KindOf(res.outcome.Err)),
					Notification: &n,
				})
			default:
				s.writeSSEEvent(w, "done", res.outcome)
			}
			flusher.Flush()
			return
		}
	}
}

// handleEvents handles GET /api/events: a long-lived SSE stream of every
// session event of the caller, starting with the current view.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ctrl, userID, ok := s.controllerFor(w, r)
	if !ok {
		return
	}

	events, subID := s.sessions.Subscribe(r.Context(), userID)
	if s.metrics != nil {
		s.metrics.EventSubscribers.Inc()
		defer s.metrics.EventSubscribers.Dec()
	}
	loggerFrom(r.Context(), s.logger).Debug("event stream opened", "user_id", userID, "sub_id", subID)

	snap, err := ctrl.View(r.Context())
	if err != nil {
		s.internalError(w, r, "failed to build view", err)
		return
	}

	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	s.writeSSEEvent(w, string(session.EventView), snap)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()

		case ev, ok := <-events:
			if !ok {
				return
			}
			s.writeSessionEvent(w, ev)
			flusher.Flush()
		}
	}
}

// handleGenerateImage handles POST /api/images.
func (s *Server) handleGenerateImage(w http.ResponseWriter, r *http.Request) {
	if s.imageSvc == nil {
		writeJSON(w, http.StatusServiceUnavailable, ImageError{Error: imageNotConfiguredMessage, Kind: string(upstream.KindConfig)})
		return
	}

	var req imagegen.ImageRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := s.imageSvc.Generate(r.Context(), req.Prompt, imagegen.Options{
		Size:    req.Size,
		Model:   req.Model,
		Quality: req.Quality,
	})
	if s.metrics != nil {
		s.metrics.ImageFinished(err)
	}
	if err != nil {
		kind := upstream.KindOf(err)
		writeJSON(w, statusForKind(kind), ImageError{Error: imagegen.UserMessage(err), Kind: string(kind)})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// statusForKind maps a normalized upstream failure to an HTTP status
func statusForKind(kind upstream.Kind) int {
	switch kind {
	case upstream.KindInvalidRequest:
		return http.StatusBadRequest
	case upstream.KindBilling:
		return http.StatusPaymentRequired
	case upstream.KindConfig:
		return http.StatusServiceUnavailable
	case upstream.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// renderConversation renders every message body to HTML
func renderConversation(conv store.Conversation) (RenderedConversation, error) {
	out := RenderedConversation{
		ID:        conv.ID,
		Title:     conv.Title,
		Timestamp: conv.Timestamp,
		Messages:  make([]RenderedMessage, 0, len(conv.Messages)),
	}
	for _, msg := range conv.Messages {
		html, err := codeblock.RenderHTML(msg.Content)
		if err != nil {
			return RenderedConversation{}, fmt.Errorf("rendering message %s: %w", msg.ID, err)
		}
		out.Messages = append(out.Messages, RenderedMessage{
			Message:  msg,
			HTML:     html,
			Segments: codeblock.Split(msg.Content),
		})
	}
	return out, nil
}

// writeSessionEvent writes a session event as an SSE event named by its type.
func (s *Server) writeSessionEvent(w http.ResponseWriter, ev session.Event) {
	switch ev.Type {
	case session.EventView:
		s.writeSSEEvent(w, string(ev.Type), ev.View)
	case session.EventNotification:
		s.writeSSEEvent(w, string(ev.Type), ev.Notification)
	default:
		s.writeSSEEvent(w, string(ev.Type), ev)
	}
}

// setSSEHeaders marks the response as an event stream
func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// writeSSEEvent writes a single SSE event to the response writer.
func (s *Server) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

// internalError logs err and answers 500
func (s *Server) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	loggerFrom(r.Context(), s.logger).Error(msg, "error", err)
	sendJSONError(w, http.StatusInternalServerError, "internal server error")
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sendJSONError writes a JSON error response.
func sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
