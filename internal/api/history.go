package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/cmdbroker/internal/audit"
	"github.com/nerrad567/cmdbroker/internal/command"
)

const msgHistoryDisabled = "Command history is not enabled"

// handleCommandHistory returns one command's lifecycle trail, oldest first.
// Evicted commands keep their history.
func (s *Server) handleCommandHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, msgHistoryDisabled)
		return
	}

	id := chi.URLParam(r, "id")
	entries, err := s.history.History(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to load command history", "command_id", id, "error", err)
		writeInternalError(w, "failed to load command history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     statusSuccess,
		"command_id": id,
		"history":    entries,
	})
}

// handleListHistory returns paginated history entries with optional filters.
//
// Query parameters:
//   - command_id: a single command's trail
//   - event: enqueued, dispatched, completed, failed, timed_out, evicted
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, msgHistoryDisabled)
		return
	}

	q := r.URL.Query()
	if ev := q.Get("event"); ev != "" && !command.EventType(ev).Valid() {
		writeBadRequest(w, "Unknown event: "+ev)
		return
	}
	filter := audit.Filter{
		CommandID: q.Get("command_id"),
		Event:     q.Get("event"),
	}

	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.history.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list command history", "error", err)
		writeInternalError(w, "failed to list command history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  statusSuccess,
		"entries": result.Entries,
		"total":   result.Total,
		"limit":   result.Limit,
		"offset":  result.Offset,
	})
}
