package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/entrepeneur4lyf/prochat/internal/config"
	"github.com/entrepeneur4lyf/prochat/internal/llm"
	"github.com/entrepeneur4lyf/prochat/internal/session"
	"github.com/entrepeneur4lyf/prochat/internal/upload"
)

// Server wires the session store, upload processor and model gateway behind
// the HTTP surface.
type Server struct {
	config     *config.Config
	sessions   *session.Store
	uploads    *upload.Processor
	uploadDir  string
	gateway    Gateway
	upgrader   websocket.Upgrader
	httpServer *http.Server
}

// Gateway is the model-facing side of the relay. *llm.Client implements it;
// tests substitute fakes.
type Gateway interface {
	Complete(ctx context.Context, messages []session.Message) (string, error)
	Stream(ctx context.Context, messages []session.Message) (<-chan llm.Chunk, error)
}

// NewServer creates an API server from explicitly constructed collaborators.
func NewServer(cfg *config.Config, sessions *session.Store, uploads *upload.Processor, uploadDir string, gateway Gateway) *Server {
	return &Server{
		config:    cfg,
		sessions:  sessions,
		uploads:   uploads,
		uploadDir: uploadDir,
		gateway:   gateway,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	log.Info("Starting ProChat API server", "addr", addr)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Router configures all routes.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.corsMiddleware)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/init", s.handleInit).Methods("POST")
	api.HandleFunc("/clear", s.handleClear).Methods("POST")
	api.HandleFunc("/upload", s.handleUpload).Methods("POST")
	api.HandleFunc("/chat", s.handleChat).Methods("POST")
	api.HandleFunc("/chat/stream", s.handleChatStream).Methods("POST")
	api.HandleFunc("/chat/ws/{sessionID}", s.handleChatWebSocket)
	api.HandleFunc("/history/{sessionID}", s.handleHistory).Methods("GET")
	api.HandleFunc("/export/{sessionID}", s.handleExport).Methods("GET")
	api.HandleFunc("/cleanup", s.handleCleanup).Methods("POST")

	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	router.HandleFunc("/uploads/{filename}", s.handleUploadedFile).Methods("GET")

	// Static browser client.
	router.PathPrefix("/").Handler(http.FileServer(http.Dir(s.config.StaticDir)))

	return router
}

// corsMiddleware adds CORS headers.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Response helpers
func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func (s *Server) writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
