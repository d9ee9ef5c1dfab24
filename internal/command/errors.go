package command

import "errors"

// Domain errors for the command package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, command.ErrCommandNotFound) {
//	    // 404
//	}
var (
	// ErrInvalidCommandType is returned when the type is not one of the
	// supported automation commands.
	ErrInvalidCommandType = errors.New("command: invalid command type")

	// ErrMissingField is returned when a required field (target) is empty.
	ErrMissingField = errors.New("command: missing required field")

	// ErrCommandNotFound is returned when no command with the given ID is queued.
	ErrCommandNotFound = errors.New("command: not found")

	// ErrInvalidTransition is returned when a status change is not an edge of
	// the state machine, e.g. completing a command that is not processing.
	ErrInvalidTransition = errors.New("command: invalid status transition")

	// ErrStoreLocked is returned when another process holds the persisted
	// queue file.
	ErrStoreLocked = errors.New("command: store locked by another process")

	// ErrQueueStarted is returned by Restore on a queue that was already
	// restored or has persisted a change.
	ErrQueueStarted = errors.New("command: queue already started")
)
