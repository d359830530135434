package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"

	"github.com/entrepeneur4lyf/prochat/internal/session"
)

// sessionIDVar extracts the session id path variable.
func sessionIDVar(r *http.Request) string {
	return mux.Vars(r)["sessionID"]
}

// handleInit creates a new session and returns its opaque id.
func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	id := s.sessions.Create()
	log.Debug("Created session", "session_id", id)

	s.writeJSON(w, map[string]string{
		"session_id": id,
		"status":     "created",
	})
}

// handleClear resets a session's memory and files. An unknown id is a
// silent no-op; the client still gets a cleared status.
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.SessionID != "" {
		if err := s.sessions.Clear(req.SessionID); err == nil {
			log.Debug("Cleared session", "session_id", req.SessionID)
		}
	}

	s.writeJSON(w, map[string]string{"status": "cleared"})
}

// handleHistory returns the session's raw memory, files and creation time.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := sessionIDVar(r)

	snap, err := s.sessions.Get(id)
	if err != nil {
		s.writeError(w, "Session not found", http.StatusNotFound)
		return
	}

	s.writeJSON(w, map[string]interface{}{
		"memory":     snap.Messages,
		"files":      snap.Files,
		"created_at": snap.CreatedAt.Format(time.RFC3339),
	})
}

// handleExport returns the conversation as a plain-text transcript.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	id := sessionIDVar(r)

	snap, err := s.sessions.Get(id)
	if err != nil {
		s.writeError(w, "Session not found", http.StatusNotFound)
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "AI Chat Export - %s\n", time.Now().Format("2006-01-02 15:04:05"))
	b.WriteString(strings.Repeat("=", 50) + "\n\n")

	for _, msg := range snap.Messages {
		speaker := "AI"
		if msg.Role == session.RoleUser {
			speaker = "You"
		}
		fmt.Fprintf(&b, "%s:\n%s\n\n", speaker, msg.Content)
	}

	s.writeJSON(w, map[string]string{"chat_text": b.String()})
}

// handleCleanup sweeps sessions older than the configured TTL.
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	cleaned := s.sessions.Sweep(s.config.SessionTTL)
	remaining := s.sessions.Len()
	log.Info("Swept expired sessions", "cleaned", cleaned, "remaining", remaining)

	s.writeJSON(w, map[string]int{
		"cleaned":   cleaned,
		"remaining": remaining,
	})
}

// handleHealth is the liveness endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
