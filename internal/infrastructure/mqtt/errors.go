package mqtt

import "errors"

// Sentinel errors returned by Client. Check with errors.Is.
var (
	ErrNotConnected      = errors.New("mqtt: client not connected")
	ErrConnectionFailed  = errors.New("mqtt: connection failed")
	ErrPublishFailed     = errors.New("mqtt: publish failed")
	ErrSubscribeFailed   = errors.New("mqtt: subscribe failed")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")
	ErrInvalidQoS        = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")
	ErrInvalidTopic      = errors.New("mqtt: topic cannot be empty")

	// ErrPayloadTooLarge wraps ErrPublishFailed for payloads above
	// maxPayloadSize. Ingress commands and events are far below it.
	ErrPayloadTooLarge = errors.New("mqtt: payload too large")
)
