package agent

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/magi/pkg/models"
)

// LLMProvider defines the interface for Large Language Model backends
// (§4.2: the Model Provider abstraction).
//
// Implementations translate a provider-neutral request into a specific
// wire protocol (Anthropic Messages, OpenAI Responses, Bedrock Converse,
// Gemini generateContent, or a CLI subprocess driven over a PTY) and
// present a single streaming event channel back to the Agent Runtime.
//
// Thread Safety:
// Implementations must be safe for concurrent use. Multiple goroutines may
// call Stream simultaneously for different requests.
type LLMProvider interface {
	// Stream sends a completion request and returns a channel of
	// StreamingEvents. The channel is closed when the provider has emitted
	// its terminal event (message_complete or error) for this call.
	Stream(ctx context.Context, req *CompletionRequest) (<-chan models.StreamingEvent, error)

	// Name returns the provider name (e.g. "anthropic", "openai", "bedrock").
	Name() string

	// Models returns the models this provider can serve.
	Models() []Model

	// SupportsTools returns whether the provider supports tool use.
	SupportsTools() bool
}

// CompletionRequest contains all parameters for a single streamed
// completion call to an LLMProvider.
type CompletionRequest struct {
	// Model specifies which LLM model to use (e.g. "claude-sonnet-4-20250514").
	// If empty, the provider's default model for the requested class is used.
	Model string `json:"model"`

	// System is the system prompt.
	System string `json:"system,omitempty"`

	// Messages is the conversation history in chronological order, using
	// the tagged Message variant (§3).
	Messages []models.Message `json:"messages"`

	// Tools declares the tools available this turn.
	Tools []models.ToolDefinition `json:"tools,omitempty"`

	// MaxTokens limits the maximum length of the generated response.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature and TopP are sampling parameters. Nil means "let the
	// provider use its default." Some model classes (reasoning) reject
	// both; routing.ClassLimits strips them before dispatch.
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`

	// EnableThinking enables extended thinking for supporting models.
	EnableThinking bool `json:"enable_thinking,omitempty"`

	// ThinkingBudgetTokens sets the token budget for extended thinking.
	ThinkingBudgetTokens int `json:"thinking_budget_tokens,omitempty"`

	// ContextWindowTokens is the model's total context window, used by the
	// truncation middleware (§4.2(a)(1)) to decide when to shed history.
	ContextWindowTokens int `json:"-"`
}

// Model describes an available LLM model and its capabilities.
type Model struct {
	// ID is the API identifier for the model (e.g., "claude-sonnet-4-20250514").
	ID string `json:"id"`

	// Name is the human-readable model name.
	Name string `json:"name"`

	// ContextSize is the maximum token context window.
	ContextSize int `json:"context_size"`

	// Class is the capability tier this model fills (§4.3(a)).
	Class models.ModelClass `json:"class"`

	// SupportsVision indicates if the model can process images.
	SupportsVision bool `json:"supports_vision"`
}

// Tool defines the interface for executable agent tools (§9).
//
// Implementing a Tool:
//
//	type Calculator struct{}
//
//	func (c *Calculator) Name() string { return "calculator" }
//	func (c *Calculator) Description() string { return "Evaluates a math expression" }
//	func (c *Calculator) Schema() json.RawMessage {
//	    return json.RawMessage(`{"type":"object","properties":{"expression":{"type":"string"}},"required":["expression"]}`)
//	}
//	func (c *Calculator) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
//	    var input struct{ Expression string `json:"expression"` }
//	    json.Unmarshal(params, &input)
//	    return &ToolResult{Content: evaluate(input.Expression)}, nil
//	}
type Tool interface {
	// Name returns the tool name for LLM function calling.
	Name() string

	// Description returns a natural language description of what the tool does.
	Description() string

	// Schema returns the JSON Schema defining the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool with the given JSON parameters, matching Schema().
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolResult contains the output from a local tool execution, before it is
// folded into a function_call_output message or a models.ToolResult.
type ToolResult struct {
	// Content is the tool's output (text, JSON, etc.)
	Content string `json:"content"`

	// IsError indicates this result represents an error condition.
	IsError bool `json:"is_error,omitempty"`

	// Artifacts contains any files/media produced by the tool.
	Artifacts []Artifact `json:"artifacts,omitempty"`
}

// Artifact represents a file or media produced by a tool execution.
type Artifact struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	MimeType string `json:"mime_type"`
	Filename string `json:"filename,omitempty"`
	Data     []byte `json:"data,omitempty"`
	URL      string `json:"url,omitempty"`
}
