package api

import (
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/entrepeneur4lyf/prochat/internal/markdown"
	"github.com/entrepeneur4lyf/prochat/internal/session"
)

// wsChatRequest is one inbound WebSocket frame: a user message to relay.
type wsChatRequest struct {
	Message string `json:"message"`
}

// handleChatWebSocket is the WebSocket equivalent of /api/chat/stream: the
// client sends {message} frames and receives the same StreamEvent frames the
// SSE transport emits, one reply per request frame.
func (s *Server) handleChatWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionID"]
	if !s.sessions.Exists(sessionID) {
		s.writeError(w, "Invalid session", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	log.Debug("WebSocket client connected", "session_id", sessionID)
	defer log.Debug("WebSocket client disconnected", "session_id", sessionID)

	for {
		var req wsChatRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("WebSocket read error", "error", err)
			}
			return
		}

		message := strings.TrimSpace(req.Message)
		if message == "" {
			if err := conn.WriteJSON(StreamEvent{Chunk: "❌ Error: no message provided", Done: true}); err != nil {
				return
			}
			continue
		}

		if !s.relayOverWebSocket(r, conn, sessionID, message) {
			return
		}
	}
}

// relayOverWebSocket runs one streamed completion and writes each chunk as a
// frame. Returns false when the connection is gone.
func (s *Server) relayOverWebSocket(r *http.Request, conn *websocket.Conn, sessionID, message string) bool {
	if err := s.sessions.AppendMessage(sessionID, session.RoleUser, message); err != nil {
		conn.WriteJSON(StreamEvent{Chunk: "❌ Error: invalid session", Done: true})
		return false
	}

	snap, err := s.sessions.Get(sessionID)
	if err != nil {
		conn.WriteJSON(StreamEvent{Chunk: "❌ Error: invalid session", Done: true})
		return false
	}

	chunks, err := s.gateway.Stream(r.Context(), snap.Messages)
	if err != nil {
		return conn.WriteJSON(StreamEvent{Chunk: inlineError(err), Done: true}) == nil
	}

	var full strings.Builder
	for chunk := range chunks {
		text := chunk.Content
		if chunk.Err != nil {
			text = inlineError(chunk.Err)
		}
		full.WriteString(text)
		if err := conn.WriteJSON(StreamEvent{Chunk: text}); err != nil {
			return false
		}
	}

	reply := full.String()
	if err := s.sessions.AppendMessage(sessionID, session.RoleAssistant, reply); err != nil {
		log.Warn("Session vanished before reply could be stored", "session_id", sessionID)
	}

	return conn.WriteJSON(StreamEvent{Done: true, FullResponse: markdown.FormatHTML(reply)}) == nil
}
