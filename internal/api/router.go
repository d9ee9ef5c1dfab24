package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nerrad567/cmdbroker/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
//
// Queue routes live at the root so existing producers and consumers keep
// working unchanged.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(middleware.RequestSize(maxRequestBodySize))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "Method not allowed")
	})

	// Health check (no auth required)
	r.Get("/health", s.handleHealth)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.With(s.requirePermission(auth.PermCommandSubmit)).
			Post("/command", s.handleEnqueue)

		r.With(s.requirePermission(auth.PermCommandConsume)).
			Get("/next-command", s.handleNextCommand)
		r.With(s.requirePermission(auth.PermCommandConsume)).
			Post("/complete/{id}", s.handleComplete)

		r.Group(func(r chi.Router) {
			r.Use(s.requirePermission(auth.PermQueueRead))
			r.Get("/queue-status", s.handleQueueStatus)
			r.Get("/queue-stats", s.handleQueueStats)
			r.Get("/command/{id}", s.handleGetCommand)

			// WebSocket tickets require a bearer token; the socket itself
			// authenticates with the ticket (validated in handler).
			r.Post("/auth/ws-ticket", s.handleWSTicket)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requirePermission(auth.PermHistoryRead))
			r.Get("/command/{id}/history", s.handleCommandHistory)
			r.Get("/history", s.handleListHistory)
		})

		r.With(s.requirePermission(auth.PermSystemAdmin)).
			Get("/metrics", s.handleMetrics)
	})

	r.Get(s.wsPath(), s.handleWebSocket)

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}

func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}
