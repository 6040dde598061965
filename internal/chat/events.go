// Package chat orchestrates one streaming conversation turn end to end:
// resolving the user and thread, persisting the draft turn, driving the
// agent through the delta reassembler, and emitting the wire events.
package chat

// EventType tags a wire-level stream event.
type EventType string

const (
	// EventThreadID carries the resolved thread id. Emitted exactly
	// once, before any model output.
	EventThreadID EventType = "thread_id"
	// EventContent carries one stable text delta.
	EventContent EventType = "content"
	// EventError carries a human-readable failure message. Always
	// followed by EventDone.
	EventError EventType = "error"
	// EventDone terminates the stream. Emitted exactly once per turn,
	// success or failure.
	EventDone EventType = "done"
)

// Event is one server-sent stream event as serialized on the wire.
type Event struct {
	Type    EventType `json:"type"`
	Content string    `json:"content"`
}
