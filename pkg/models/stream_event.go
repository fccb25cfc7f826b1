package models

// StreamEventType tags an event in a streaming chat response.
type StreamEventType string

const (
	EventThinking         StreamEventType = "thinking"
	EventText             StreamEventType = "text"
	EventToolCall         StreamEventType = "tool_call"
	EventToolResult       StreamEventType = "tool_result"
	EventContextCompacted StreamEventType = "context_compacted"
	EventDone             StreamEventType = "done"
	EventError            StreamEventType = "error"
)

// StreamEvent is the closed sum of events a streaming turn can emit.
// Exactly the payload fields matching Type are populated; serialization to
// the SSE wire format happens at the gateway edge.
type StreamEvent struct {
	Type       StreamEventType `json:"type"`
	Text       string          `json:"text,omitempty"`
	Thinking   string          `json:"thinking,omitempty"`
	ToolCall   *ToolCall       `json:"tool_call,omitempty"`
	ToolResult *ToolResult     `json:"tool_result,omitempty"`
	Err        string          `json:"error,omitempty"`
}
