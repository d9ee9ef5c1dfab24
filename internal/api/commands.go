package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/cmdbroker/internal/command"
)

// Client-facing messages. Producers and consumers match on these strings.
const (
	msgMissingFields   = "Missing required fields"
	msgInvalidType     = "Invalid command type"
	msgInvalidJSON     = "Invalid JSON body"
	msgCommandNotFound = "Command not found"
)

// enqueueRequest is the request body for POST /command.
// Pointers distinguish an absent field from an empty one.
type enqueueRequest struct {
	Type   *string        `json:"type"`
	Target *string        `json:"target"`
	Params map[string]any `json:"params"`
}

// completeRequest is the optional request body for POST /complete/{id}.
type completeRequest struct {
	// Success defaults to true when omitted.
	Success *bool `json:"success"`

	// Error is attached to the command's params when Success is false.
	Error string `json:"error,omitempty"`
}

// handleEnqueue adds a command to the back of the queue.
func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			writeBadRequest(w, msgMissingFields)
			return
		}
		writeBadRequest(w, msgInvalidJSON)
		return
	}

	if req.Type == nil || req.Target == nil {
		writeBadRequest(w, msgMissingFields)
		return
	}

	id, err := s.queue.Enqueue(r.Context(), command.Type(*req.Type), *req.Target, req.Params)
	switch {
	case errors.Is(err, command.ErrInvalidCommandType):
		writeBadRequest(w, msgInvalidType)
		return
	case errors.Is(err, command.ErrMissingField):
		writeBadRequest(w, msgMissingFields)
		return
	case err != nil:
		s.logger.Error("enqueue failed", "error", err)
		writeInternalError(w, "failed to enqueue command")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     statusSuccess,
		"command_id": id,
	})
}

// handleNextCommand hands the oldest pending command to the caller.
// It never blocks: an empty queue answers "no_command".
func (s *Server) handleNextCommand(w http.ResponseWriter, r *http.Request) {
	cmd, ok := s.queue.DequeueNext(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"status": statusNoCommand})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  statusSuccess,
		"command": cmd,
	})
}

// handleComplete records the outcome of a processing command.
// An empty body means success.
func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, msgInvalidJSON)
		return
	}

	success := req.Success == nil || *req.Success

	cmd, err := s.queue.CompleteWithReason(r.Context(), id, success, req.Error)
	switch {
	case errors.Is(err, command.ErrCommandNotFound):
		writeNotFound(w, msgCommandNotFound)
		return
	case errors.Is(err, command.ErrInvalidTransition):
		writeConflict(w, fmt.Sprintf("Command %s is not processing", id))
		return
	case err != nil:
		s.logger.Error("complete failed", "command_id", id, "error", err)
		writeInternalError(w, "failed to complete command")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  statusSuccess,
		"message": fmt.Sprintf("Command %s marked as %s", id, cmd.Status),
	})
}

// handleQueueStatus returns every command still held, in insertion order.
func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   statusSuccess,
		"commands": s.queue.ListAll(r.Context()),
	})
}

// handleQueueStats returns per-status counts.
func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": statusSuccess,
		"stats":  s.queue.Stats(r.Context()),
	})
}

// handleGetCommand returns a single command.
func (s *Server) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	cmd, err := s.queue.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeNotFound(w, msgCommandNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  statusSuccess,
		"command": cmd,
	})
}
