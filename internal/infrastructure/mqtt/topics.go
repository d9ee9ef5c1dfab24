package mqtt

import "fmt"

// DefaultTopicPrefix is the root of every cmdbroker topic.
const DefaultTopicPrefix = "cmdbroker"

// Topics provides builders for cmdbroker MQTT topics.
// Using these helpers keeps topic naming consistent across the codebase.
//
//	topics := mqtt.Topics{Prefix: "cmdbroker"}
//	topics.CommandEvent("0190...", "completed")
//	// Returns: "cmdbroker/command/0190.../completed"
//
// The zero value uses DefaultTopicPrefix.
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// SystemStatus returns the retained online/offline status topic.
//
// Example: cmdbroker/system/status
func (t Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/status", t.prefix())
}

// CommandEvent returns the topic for a single lifecycle event of a command.
//
// Example: cmdbroker/command/0190a1b2-.../dispatched
func (t Topics) CommandEvent(commandID, event string) string {
	return fmt.Sprintf("%s/command/%s/%s", t.prefix(), commandID, event)
}

// AllCommandEvents returns a wildcard matching every command lifecycle event.
//
// Example: cmdbroker/command/+/+
func (t Topics) AllCommandEvents() string {
	return fmt.Sprintf("%s/command/+/+", t.prefix())
}

// Ingress returns the topic producers publish new commands to.
//
// Example: cmdbroker/ingress
func (t Topics) Ingress() string {
	return fmt.Sprintf("%s/ingress", t.prefix())
}

// IngressAck returns the topic ingress results are published on.
//
// Example: cmdbroker/ingress/ack
func (t Topics) IngressAck() string {
	return fmt.Sprintf("%s/ingress/ack", t.prefix())
}

// QueueStats returns the retained queue depth topic.
//
// Example: cmdbroker/queue/stats
func (t Topics) QueueStats() string {
	return fmt.Sprintf("%s/queue/stats", t.prefix())
}

// AllTopics returns a wildcard matching every cmdbroker topic.
// Use for debugging only.
func (t Topics) AllTopics() string {
	return fmt.Sprintf("%s/#", t.prefix())
}
