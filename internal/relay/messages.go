package relay

import (
	"time"

	"github.com/nerrad567/cmdbroker/internal/command"
)

// EventMessage is published for each command lifecycle transition.
// Topic: {prefix}/command/{id}/{event}
type EventMessage struct {
	Event   string         `json:"event"`
	Command command.Record `json:"command"`
	At      time.Time      `json:"at"`
}

// IngressMessage is published by producers to enqueue a command.
// Topic: {prefix}/ingress
type IngressMessage struct {
	// RequestID is echoed in the acknowledgement for correlation.
	RequestID string         `json:"request_id,omitempty"`
	// Type is a pointer so an absent type can be told apart from an
	// empty one: absent is a missing field, empty is an invalid type.
	Type      *string        `json:"type"`
	Target    string         `json:"target"`
	Params    map[string]any `json:"params,omitempty"`
}

// AckStatus is the outcome of an ingress request.
type AckStatus string

const (
	AckSuccess AckStatus = "success"
	AckError   AckStatus = "error"
)

// Ingress rejection messages. They match the HTTP API's wording.
const (
	msgInvalidPayload = "Invalid payload"
	msgMissingFields  = "Missing required fields"
	msgInvalidType    = "Invalid command type"
	msgEnqueueFailed  = "Failed to enqueue command"
)

// AckMessage answers an IngressMessage.
// Topic: {prefix}/ingress/ack
type AckMessage struct {
	RequestID string    `json:"request_id,omitempty"`
	Status    AckStatus `json:"status"`
	CommandID string    `json:"command_id,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StatsMessage carries per-status queue counts.
// Topic: {prefix}/queue/stats (retained)
type StatsMessage struct {
	command.Stats
	Timestamp time.Time `json:"timestamp"`
}
