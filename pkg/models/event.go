package models

// EventType discriminates the StreamingEvent tagged variant.
type EventType string

const (
	EventMessageStart    EventType = "message_start"
	EventMessageDelta    EventType = "message_delta"
	EventMessageComplete EventType = "message_complete"
	EventThinkingDelta   EventType = "thinking_delta"
	EventToolStart       EventType = "tool_start"
	EventToolDelta       EventType = "tool_delta"
	EventToolDone        EventType = "tool_done"
	EventFileDelta       EventType = "file_delta"
	EventCostUpdate      EventType = "cost_update"
	EventError           EventType = "error"
	EventAgentStart      EventType = "agent_start"
	EventAgentDone       EventType = "agent_done"
	EventProcessStart    EventType = "process_start"
	EventProcessRunning  EventType = "process_running"
	EventProcessDone     EventType = "process_done"
	EventProcessFailed   EventType = "process_failed"
	EventProcessTerminated EventType = "process_terminated"
)

// StreamingEvent is the tagged variant carried by every producer (provider,
// tool, PTY) to the EventBus. Every content-bearing event carries MessageID
// and a monotonically increasing Order within that MessageID.
//
// Invariants (enforced by eventbus.Sequencer, §3 and §8): for each
// MessageID, exactly one *_start, zero or more *_delta with strictly
// increasing Order, and exactly one *_complete (unless terminated early by
// an error event for that MessageID).
type StreamingEvent struct {
	Type      EventType `json:"type"`
	MessageID string    `json:"message_id"`
	Order     int64     `json:"order"`

	Agent *AgentExport `json:"agent,omitempty"`

	// Text / thinking delta payload.
	Delta     string `json:"delta,omitempty"`
	Content   string `json:"content,omitempty"`
	Signature string `json:"signature,omitempty"`

	// Tool payload.
	ToolCallID   string `json:"tool_call_id,omitempty"`
	ToolName     string `json:"tool_name,omitempty"`
	ToolArgsJSON string `json:"tool_args_json,omitempty"`

	// Cost payload.
	Usage *Usage `json:"usage,omitempty"`

	// Error payload.
	Error string `json:"error,omitempty"`

	// Process (CLI subprocess) payload.
	ExitCode int `json:"exit_code,omitempty"`

	Status MessageStatus `json:"status,omitempty"`
}

// Usage is one reported model-call's token/cost accounting, reported to
// CostTracker.AddUsage.
type Usage struct {
	Model        string  `json:"model"`
	Cost         float64 `json:"cost,omitempty"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CachedTokens int     `json:"cached_tokens,omitempty"`
}

// ToolResult is the outcome of a tool execution, handed back to the Agent
// Runtime to become a function-call-output message.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}
