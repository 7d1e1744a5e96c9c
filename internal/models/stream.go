package models

// EventType names a normalized stream event.
type EventType string

const (
	EventText      EventType = "text"
	EventReasoning EventType = "reasoning"
	EventToolCalls EventType = "tool_calls"
	EventUsage     EventType = "usage"
)

// StreamEvent is a normalized event emitted to the downstream consumer.
type StreamEvent struct {
	Usage     *TokenCounts `json:"usage,omitempty"`
	Type      EventType    `json:"type"`
	Content   string       `json:"content,omitempty"`
	Reasoning string       `json:"reasoning_content,omitempty"`
	Signature string       `json:"thoughtSignature,omitempty"`
	ToolCalls []ToolCall   `json:"tool_calls,omitempty"`
}

// ToolCall is a function call requested by the model.
type ToolCall struct {
	ID               string       `json:"id"`
	Type             string       `json:"type"`
	ThoughtSignature string       `json:"thoughtSignature,omitempty"`
	Function         ToolFunction `json:"function"`
}

// ToolFunction carries the function name and JSON-encoded arguments.
type ToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Reset clears the tool call for reuse.
func (t *ToolCall) Reset() {
	*t = ToolCall{}
}
