// Package httpapi is the REST/SSE transport: it adapts the core packages
// (sessions, documents, chat) onto spec.md §6's REST surface, translating
// apperr errors into the stable {errorId, code, message, timestamp, path}
// envelope and chat.Event into the event: <type>\ndata: <json>\n\n SSE
// framing.
package httpapi

import (
	"net/http"

	"ragchat/internal/chat"
	"ragchat/internal/documents"
	"ragchat/internal/objectstore"
	"ragchat/internal/persistence"
	"ragchat/internal/resilience"
)

// Server exposes the full REST/SSE surface over the core packages.
type Server struct {
	Sessions     persistence.SessionStore
	Documents    persistence.DocumentStore
	Images       persistence.ImageStore
	Chat         persistence.ChatStore
	Lifecycle    *documents.Lifecycle
	Orchestrator *chat.Orchestrator
	Objects      objectstore.ObjectStore
	Breakers     []*resilience.Breaker

	mux *http.ServeMux
}

// NewServer builds a Server with its routes registered.
func NewServer(s *Server) *Server {
	s.mux = http.NewServeMux()
	s.registerRoutes()
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	s.mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	s.mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("PUT /api/sessions/{id}", s.handleUpdateSession)
	s.mux.HandleFunc("PUT /api/sessions/{id}/mode", s.handleUpdateSessionMode)
	s.mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)

	s.mux.HandleFunc("POST /api/sessions/{id}/documents", s.handleUploadDocument)
	s.mux.HandleFunc("GET /api/sessions/{id}/documents", s.handleListDocuments)
	s.mux.HandleFunc("GET /api/documents/{id}", s.handleGetDocument)
	s.mux.HandleFunc("GET /api/documents/{id}/status", s.handleGetDocument)
	s.mux.HandleFunc("POST /api/documents/{id}/reprocess", s.handleReprocessDocument)
	s.mux.HandleFunc("DELETE /api/documents/{id}", s.handleDeleteDocument)

	s.mux.HandleFunc("GET /api/sessions/{sid}/images/{iid}", s.handleGetImage)

	s.mux.HandleFunc("GET /api/sessions/{id}/messages", s.handleListMessages)
	s.mux.HandleFunc("POST /api/sessions/{id}/chat/stream", s.handleChatStream)

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /health/stats", s.handleHealthStats)
}
