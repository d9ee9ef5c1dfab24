package command

import "time"

// EventType identifies a lifecycle transition.
type EventType string

const (
	EventEnqueued   EventType = "enqueued"
	EventDispatched EventType = "dispatched"
	EventCompleted  EventType = "completed"
	EventFailed     EventType = "failed"
	EventTimedOut   EventType = "timed_out"
	EventEvicted    EventType = "evicted"
)

// EventTypes lists every lifecycle event.
var EventTypes = []EventType{
	EventEnqueued, EventDispatched, EventCompleted,
	EventFailed, EventTimedOut, EventEvicted,
}

// Valid reports whether t is one of EventTypes.
func (t EventType) Valid() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Event describes one lifecycle transition of a command.
// Command is a snapshot taken at the moment of the transition.
type Event struct {
	Type    EventType `json:"event"`
	Command Command   `json:"command"`
	At      time.Time `json:"at"`
}

// Observer receives lifecycle events.
//
// Events are delivered after the queue lock is released, in the order they
// happened, on the goroutine that performed the operation. Implementations
// must not call back into the Queue synchronously and should return quickly.
type Observer interface {
	OnCommandEvent(ev Event)
}

// ObserverFunc adapts a plain function to the Observer interface.
type ObserverFunc func(ev Event)

// OnCommandEvent implements Observer.
func (f ObserverFunc) OnCommandEvent(ev Event) {
	f(ev)
}

func newEvent(typ EventType, c *Command, at time.Time) Event {
	return Event{Type: typ, Command: *c.DeepCopy(), At: at}
}
