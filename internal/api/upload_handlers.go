package api

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"

	"github.com/entrepeneur4lyf/prochat/internal/session"
	"github.com/entrepeneur4lyf/prochat/internal/upload"
)

// uploadPreviewChars bounds the preview echoed back in the upload response.
const uploadPreviewChars = 500

// handleUpload ingests one multipart upload (field "file"). When a valid
// session_id accompanies it, the file record and a synthesized user message
// are attached to the session so the model sees the upload.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.config.MaxUploadBytes); err != nil {
		s.writeError(w, "No file part", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, "No file part", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if header.Filename == "" {
		s.writeError(w, "No selected file", http.StatusBadRequest)
		return
	}

	record, err := s.uploads.Ingest(header.Filename, header.Header.Get("Content-Type"), file)
	switch {
	case errors.Is(err, upload.ErrNoFile):
		s.writeError(w, "No selected file", http.StatusBadRequest)
		return
	case errors.Is(err, upload.ErrExtensionNotAllowed):
		s.writeError(w, "File type not allowed", http.StatusBadRequest)
		return
	case err != nil:
		log.Error("Upload failed", "filename", header.Filename, "error", err)
		s.writeJSON(w, map[string]interface{}{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	if sessionID := r.FormValue("session_id"); sessionID != "" && s.sessions.Exists(sessionID) {
		s.attachUpload(sessionID, record)
	}

	resp := map[string]interface{}{
		"success":  true,
		"filename": record.Filename,
		"type":     record.Kind,
	}
	if record.Kind == "text_file" {
		resp["preview"] = truncate(record.Content, uploadPreviewChars)
	} else {
		resp["preview"] = nil
	}
	s.writeJSON(w, resp)
}

// attachUpload records the file on the session and appends a user message
// describing it, so the upload becomes part of the conversation context.
func (s *Server) attachUpload(sessionID string, record session.FileRecord) {
	if err := s.sessions.AppendFile(sessionID, record); err != nil {
		return
	}

	content := fmt.Sprintf("Uploaded file: %s\nType: %s\nSize: %d bytes",
		record.Filename, record.Kind, record.Size)
	if record.Content != "" {
		content += "\nContent preview:\n" + record.Content
	}

	if err := s.sessions.AppendMessage(sessionID, session.RoleUser, content); err != nil {
		log.Warn("Failed to record upload in session", "session_id", sessionID)
	}
}

// handleUploadedFile serves previously stored upload bytes.
func (s *Server) handleUploadedFile(w http.ResponseWriter, r *http.Request) {
	name := upload.SanitizeFilename(mux.Vars(r)["filename"])
	if name == "" {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, filepath.Join(s.uploadDir, name))
}

func truncate(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max])
}
