package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// RAG routes (require a resolved user)
	mux.Handle("/rag/conversation", s.requireUser(http.HandlerFunc(s.handleConversationRoute)))
	mux.Handle("/rag/index", s.requireUser(http.HandlerFunc(s.app.RAGHandler.IndexHandler)))
	mux.Handle("/rag/status", s.requireUser(http.HandlerFunc(s.app.RAGHandler.StatusHandler)))
	mux.Handle("/rag/health", s.requireUser(http.HandlerFunc(s.app.RAGHandler.HealthHandler)))
	mux.Handle("/rag/query", s.requireUser(http.HandlerFunc(s.app.RAGHandler.QueryHandler)))

	mux.Handle("/rag/jobs", s.requireUser(http.HandlerFunc(s.app.SchedulerHandler.ListJobsHandler)))
	mux.Handle("/rag/jobs/trigger", s.requireUser(http.HandlerFunc(s.app.SchedulerHandler.TriggerJobHandler)))

	// WebSocket route for indexing progress
	mux.Handle("/rag/ws", s.requireUser(http.HandlerFunc(s.app.WSHandler.HandleWebSocket)))

	// MCP (Model Context Protocol) endpoint, runs as the configured MCP user
	if s.app.MCPHandler != nil {
		mux.Handle("/mcp", s.app.MCPHandler)
	}

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	mux.HandleFunc("/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleConversationRoute routes /rag/conversation by method
func (s *Server) handleConversationRoute(w http.ResponseWriter, r *http.Request) {
	h := s.app.RAGHandler
	RouteByMethod(w, r, MethodRouter{
		http.MethodGet:    h.ConversationHandler,
		http.MethodPost:   h.ConversationHandler,
		http.MethodDelete: h.ConversationHandler,
	})
}
