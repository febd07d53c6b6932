// Package models defines the shared data model that flows between the
// Agent Runtime, Model Provider abstraction, PTY Stream Engine, and
// Pipeline Runner.
package models

import "encoding/json"

// Role identifies the author of a text message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleDeveloper Role = "developer"
)

// MessageStatus tracks whether a message is still being produced.
type MessageStatus string

const (
	StatusInProgress MessageStatus = "in_progress"
	StatusCompleted  MessageStatus = "completed"
	StatusIncomplete MessageStatus = "incomplete"
)

// MessageKind discriminates the tagged Message variant described in
// the data model: text, thinking, function call, and function call output.
type MessageKind string

const (
	KindText               MessageKind = "text"
	KindThinking           MessageKind = "thinking"
	KindFunctionCall       MessageKind = "function_call"
	KindFunctionCallOutput MessageKind = "function_call_output"
)

// ImageDetail controls how much of an image an input_image part asks the
// model to attend to.
type ImageDetail string

const (
	DetailHigh ImageDetail = "high"
	DetailLow  ImageDetail = "low"
	DetailAuto ImageDetail = "auto"
)

// PartType discriminates ContentPart variants.
type PartType string

const (
	PartInputText  PartType = "input_text"
	PartInputImage PartType = "input_image"
	PartInputFile  PartType = "input_file"
)

// ContentPart is one element of a multi-part text message's content.
type ContentPart struct {
	Type PartType `json:"type"`

	// Text is set when Type == PartInputText.
	Text string `json:"text,omitempty"`

	// Image fields, set when Type == PartInputImage.
	Detail ImageDetail `json:"detail,omitempty"`
	URL    string      `json:"url,omitempty"`
	FileID string      `json:"file_id,omitempty"`

	// File fields, set when Type == PartInputFile.
	Filename string `json:"filename,omitempty"`
}

// Message is the tagged variant from the data model. Exactly the fields
// relevant to Kind are populated; the rest are left zero.
//
//   - text message: Role, Content or Parts, Status
//   - thinking message: Role (always assistant), Content, Signature
//   - function call: CallID, Name, Arguments
//   - function call output: CallID, Name, Output, Status
type Message struct {
	Kind MessageKind `json:"kind"`

	// Text / thinking fields.
	Role    Role          `json:"role,omitempty"`
	Content string        `json:"content,omitempty"`
	Parts   []ContentPart `json:"parts,omitempty"`
	Status  MessageStatus `json:"status,omitempty"`

	// Thinking-only: opaque provider blob used to round-trip reasoning
	// state across turns. Never inspected by the runtime.
	Signature string `json:"signature,omitempty"`

	// Function call / function call output fields.
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Output    string `json:"output,omitempty"`
}

// NewTextMessage builds a completed text message.
func NewTextMessage(role Role, content string) Message {
	return Message{Kind: KindText, Role: role, Content: content, Status: StatusCompleted}
}

// NewFunctionCall builds a function-call message.
func NewFunctionCall(callID, name, arguments string) Message {
	return Message{Kind: KindFunctionCall, CallID: callID, Name: name, Arguments: arguments}
}

// NewFunctionCallOutput builds a function-call-output message. An empty
// output is a distinct value from "no output" (§8): callers must not
// substitute a sentinel for an empty string.
func NewFunctionCallOutput(callID, name, output string, status MessageStatus) Message {
	return Message{Kind: KindFunctionCallOutput, CallID: callID, Name: name, Output: output, Status: status}
}

// ToolDefinition names a tool, its description, and its JSON Schema
// parameter object (properties, required list, enums/items for arrays).
// The schema is declared alongside the tool rather than inferred from a
// function signature (§9: ad-hoc parameter binding is disallowed).
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall is the model's request to invoke a tool. ID is the same token
// later used to correlate a function-call-output.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ModelClass is a small closed set of capability tiers used for model
// selection and fallback.
type ModelClass string

const (
	ClassReasoning       ModelClass = "reasoning"
	ClassStandard        ModelClass = "standard"
	ClassMini            ModelClass = "mini"
	ClassCode            ModelClass = "code"
	ClassVision          ModelClass = "vision"
	ClassSearch          ModelClass = "search"
	ClassSummary         ModelClass = "summary"
	ClassMonologue       ModelClass = "monologue"
	ClassImageGeneration ModelClass = "image_generation"
)

// Hooks are lifecycle callbacks an AgentDefinition may supply. Any of them
// may be nil.
type Hooks struct {
	OnRequest   func(ctx HookContext) []Message
	OnResponse  func(ctx HookContext, delta string)
	OnThinking  func(ctx HookContext, delta string)
	OnToolCall  func(ctx HookContext, call ToolCall)
	OnToolResult func(ctx HookContext, call ToolCall, result string, err error)
}

// HookContext carries the identifying information a hook needs without
// exposing the runtime's internal state.
type HookContext struct {
	AgentID string
	RunID   string
	Turn    int
}

// AgentDefinition is a named configuration: instructions, tools, model
// policy, and hooks. Worker agents may be exposed as tools by the
// sub-agent-as-tool adapter.
type AgentDefinition struct {
	Name        string
	Description string
	Instructions string
	Tools       []ToolDefinition

	// Model is an explicit model id. If empty, ModelClass selects a pool.
	Model      string
	ModelClass ModelClass

	Workers []*AgentDefinition

	// MaxToolCallRounds bounds tool-call rounds within a single turn.
	// Zero means "use the runtime default."
	MaxToolCallRounds int

	// Sequential forces tool calls within one round to execute one at a
	// time instead of concurrently.
	Sequential bool

	Hooks *Hooks
}

// AgentExport is the subset of AgentDefinition used to tag streaming
// events for attribution.
type AgentExport struct {
	AgentID string `json:"agent_id"`
	Name    string `json:"name"`
	Model   string `json:"model,omitempty"`
	Parent  string `json:"parent,omitempty"`
}
