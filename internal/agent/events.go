package agent

// EventType discriminates the closed set of raw events an agent turn
// produces. Consumers switch exhaustively on it.
type EventType int

const (
	// EventTextDelta carries a fragment of response text.
	EventTextDelta EventType = iota
	// EventToolCall reports a completed tool invocation request.
	EventToolCall
	// EventToolResult reports the outcome of a tool invocation.
	EventToolResult
	// EventEndOfTurn marks the end of the turn; no events follow it.
	EventEndOfTurn
)

// Event is one raw event from an agent turn.
type Event struct {
	Type EventType

	// Text is set for EventTextDelta.
	Text string

	// ToolName and ToolArgs are set for EventToolCall; ToolName and
	// ToolResult for EventToolResult.
	ToolName   string
	ToolArgs   string
	ToolResult string
}

// EventStream is a single-pass, in-order sequence of agent events. Next
// blocks until the next event is available and returns io.EOF after
// EventEndOfTurn has been delivered. It is not restartable and must be
// consumed by a single goroutine.
type EventStream interface {
	Next() (Event, error)
	Close() error
}
