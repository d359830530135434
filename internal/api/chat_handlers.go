package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/entrepeneur4lyf/prochat/internal/markdown"
	"github.com/entrepeneur4lyf/prochat/internal/session"
)

// ChatRequest is the body of /api/chat and /api/chat/stream.
type ChatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// StreamEvent is one JSON-encoded frame of the chat stream, shared by the
// SSE and WebSocket transports. The final frame carries done=true and the
// fully formatted reply.
type StreamEvent struct {
	Chunk        string `json:"chunk"`
	Done         bool   `json:"done"`
	FullResponse string `json:"full_response,omitempty"`
}

// validateChatRequest decodes and checks a chat request body. A nil return
// means the error response has already been written.
func (s *Server) validateChatRequest(w http.ResponseWriter, r *http.Request) *ChatRequest {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return nil
	}
	req.Message = strings.TrimSpace(req.Message)

	if req.SessionID == "" || !s.sessions.Exists(req.SessionID) {
		s.writeError(w, "Invalid session", http.StatusBadRequest)
		return nil
	}
	if req.Message == "" {
		s.writeError(w, "No message provided", http.StatusBadRequest)
		return nil
	}
	return &req
}

// handleChat is the blocking chat endpoint: append the user turn, relay the
// whole conversation upstream, format the reply as HTML.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req := s.validateChatRequest(w, r)
	if req == nil {
		return
	}

	if err := s.sessions.AppendMessage(req.SessionID, session.RoleUser, req.Message); err != nil {
		s.writeError(w, "Invalid session", http.StatusBadRequest)
		return
	}

	snap, err := s.sessions.Get(req.SessionID)
	if err != nil {
		s.writeError(w, "Invalid session", http.StatusBadRequest)
		return
	}

	reply, err := s.gateway.Complete(r.Context(), snap.Messages)
	if err != nil {
		log.Error("Completion failed", "session_id", req.SessionID, "error", err)
		s.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// Memory keeps the raw reply; only the client-facing copy is formatted.
	if err := s.sessions.AppendMessage(req.SessionID, session.RoleAssistant, reply); err != nil {
		log.Warn("Session vanished before reply could be stored", "session_id", req.SessionID)
	}

	s.writeJSON(w, map[string]string{
		"reply":  markdown.FormatHTML(reply),
		"status": "success",
	})
}

// handleChatStream is the SSE chat endpoint. Validation failures are plain
// JSON 400s; once streaming starts the response is text/event-stream with
// one StreamEvent per frame.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	req := s.validateChatRequest(w, r)
	if req == nil {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	if err := s.sessions.AppendMessage(req.SessionID, session.RoleUser, req.Message); err != nil {
		s.writeError(w, "Invalid session", http.StatusBadRequest)
		return
	}

	snap, err := s.sessions.Get(req.SessionID)
	if err != nil {
		s.writeError(w, "Invalid session", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Client disconnect cancels the upstream read via the request context.
	chunks, err := s.gateway.Stream(r.Context(), snap.Messages)
	if err != nil {
		writeSSEFrame(w, StreamEvent{Chunk: inlineError(err)})
		writeSSEFrame(w, StreamEvent{Done: true})
		flusher.Flush()
		return
	}

	var full strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			text := inlineError(chunk.Err)
			full.WriteString(text)
			writeSSEFrame(w, StreamEvent{Chunk: text})
			flusher.Flush()
			continue
		}
		full.WriteString(chunk.Content)
		writeSSEFrame(w, StreamEvent{Chunk: chunk.Content})
		flusher.Flush()
	}

	reply := full.String()
	if err := s.sessions.AppendMessage(req.SessionID, session.RoleAssistant, reply); err != nil {
		log.Warn("Session vanished before reply could be stored", "session_id", req.SessionID)
	}

	writeSSEFrame(w, StreamEvent{Done: true, FullResponse: markdown.FormatHTML(reply)})
	flusher.Flush()
}

// writeSSEFrame writes one JSON-encoded event as an SSE data frame.
func writeSSEFrame(w http.ResponseWriter, event StreamEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

// inlineError renders an upstream failure as a chunk the client can show.
func inlineError(err error) string {
	return fmt.Sprintf("❌ Error: %v", err)
}
