package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/magi/internal/agent"
	agentcontext "github.com/haasonsaas/magi/internal/agent/context"
	"github.com/haasonsaas/magi/internal/eventbus"
	"github.com/haasonsaas/magi/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements agent.LLMProvider for OpenAI's chat completions API.
type OpenAIProvider struct {
	client     *openai.Client
	apiKey     string
	maxRetries int
	retryDelay time.Duration

	// truncator drives reactive context-overflow recovery's message
	// reduction; nil falls back to retryWithContextRecovery's default.
	truncator *agentcontext.Truncator
}

// WithTruncator sets the Truncator used for context-overflow recovery and
// returns p, so compose.go can chain it onto NewOpenAIProvider's result.
func (p *OpenAIProvider) WithTruncator(t *agentcontext.Truncator) *OpenAIProvider {
	p.truncator = t
	return p
}

// NewOpenAIProvider creates a provider for the given API key. A provider
// created with an empty key fails every Stream call with a configuration
// error rather than panicking, so it can still be registered in a pool.
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	p := &OpenAIProvider{apiKey: apiKey, maxRetries: 3, retryDelay: time.Second}
	if apiKey != "" {
		p.client = openai.NewClient(apiKey)
	}
	return p
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: "gpt-4o", Name: "GPT-4o", ContextSize: 128000, Class: models.ClassStandard, SupportsVision: true},
		{ID: "gpt-4-turbo", Name: "GPT-4 Turbo", ContextSize: 128000, Class: models.ClassReasoning, SupportsVision: true},
		{ID: "gpt-4o-mini", Name: "GPT-4o mini", ContextSize: 128000, Class: models.ClassMini, SupportsVision: true},
		{ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo", ContextSize: 16385, Class: models.ClassSummary, SupportsVision: false},
	}
}

func (p *OpenAIProvider) SupportsTools() bool { return true }

// Stream sends req to the OpenAI chat completions API and returns a channel
// of StreamingEvents, sequenced the same way as AnthropicProvider.Stream:
// one message_id for the assistant text stream, one per tool call index
// (keyed by that tool call's own id once OpenAI assigns it).
func (p *OpenAIProvider) Stream(ctx context.Context, req *agent.CompletionRequest) (<-chan models.StreamingEvent, error) {
	out := make(chan models.StreamingEvent)

	go func() {
		defer close(out)

		seq := eventbus.NewSequencer()
		msgID := uuid.NewString()

		if p.client == nil {
			p.emit(ctx, out, seq, models.StreamingEvent{Type: models.EventMessageStart, MessageID: msgID})
			p.emit(ctx, out, seq, models.StreamingEvent{Type: models.EventError, MessageID: msgID, Error: "openai: API key not configured"})
			return
		}

		model := req.Model
		var stream *openai.ChatCompletionStream
		var lastErr error

		err := retryWithContextRecovery(ctx, req.Messages, model, p.maxRetries, p.retryDelay, p.truncator, p.isRetryableError,
			func(notice string) {
				p.emit(ctx, out, seq, models.StreamingEvent{Type: models.EventMessageDelta, MessageID: msgID, Delta: notice})
			},
			func(msgs []models.Message) error {
				messages, convErr := p.convertMessages(msgs, req.System)
				if convErr != nil {
					lastErr = fmt.Errorf("openai: failed to convert messages: %w", convErr)
					return lastErr
				}

				chatReq := openai.ChatCompletionRequest{Model: req.Model, Messages: messages, Stream: true}
				if req.MaxTokens > 0 {
					chatReq.MaxTokens = req.MaxTokens
				}
				if req.Temperature != nil {
					chatReq.Temperature = float32(*req.Temperature)
				}
				if req.TopP != nil {
					chatReq.TopP = float32(*req.TopP)
				}
				if len(req.Tools) > 0 {
					chatReq.Tools = p.convertTools(req.Tools)
				}

				s, connErr := p.client.CreateChatCompletionStream(ctx, chatReq)
				if connErr != nil {
					lastErr = connErr
					return connErr
				}
				stream = s
				return nil
			},
		)

		if err != nil {
			p.emit(ctx, out, seq, models.StreamingEvent{Type: models.EventMessageStart, MessageID: msgID})
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				p.emit(ctx, out, seq, models.StreamingEvent{Type: models.EventError, MessageID: msgID, Error: ctxErr.Error()})
				return
			}
			p.emit(ctx, out, seq, models.StreamingEvent{Type: models.EventError, MessageID: msgID, Error: fmt.Sprintf("openai: max retries exceeded: %v", lastErr)})
			return
		}

		p.emit(ctx, out, seq, models.StreamingEvent{Type: models.EventMessageStart, MessageID: msgID})
		p.processStream(ctx, stream, out, seq, msgID)
	}()

	return out, nil
}

// toolAccum tracks one in-progress tool call keyed by its OpenAI delta index.
type openAIToolAccum struct {
	id   string
	name string
}

func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, out chan<- models.StreamingEvent, seq *eventbus.Sequencer, msgID string) {
	defer stream.Close()

	toolCalls := make(map[int]*openAIToolAccum)

	for {
		select {
		case <-ctx.Done():
			p.emit(ctx, out, seq, models.StreamingEvent{Type: models.EventError, MessageID: msgID, Error: ctx.Err().Error()})
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				p.emit(ctx, out, seq, models.StreamingEvent{Type: models.EventMessageComplete, MessageID: msgID, Status: models.StatusCompleted})
				return
			}
			p.emit(ctx, out, seq, models.StreamingEvent{Type: models.EventError, MessageID: msgID, Error: err.Error()})
			return
		}

		if len(response.Choices) == 0 {
			continue
		}
		choice := response.Choices[0]
		delta := choice.Delta

		if delta.Content != "" {
			p.emit(ctx, out, seq, models.StreamingEvent{Type: models.EventMessageDelta, MessageID: msgID, Delta: delta.Content})
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}

			acc, exists := toolCalls[index]
			if !exists {
				acc = &openAIToolAccum{}
				toolCalls[index] = acc
			}
			if tc.ID != "" {
				acc.id = tc.ID
			}
			if tc.Function.Name != "" {
				acc.name = tc.Function.Name
			}
			if !exists && acc.id != "" {
				p.emit(ctx, out, seq, models.StreamingEvent{Type: models.EventToolStart, MessageID: acc.id, ToolCallID: acc.id, ToolName: acc.name})
			}
			if tc.Function.Arguments != "" && acc.id != "" {
				p.emit(ctx, out, seq, models.StreamingEvent{Type: models.EventToolDelta, MessageID: acc.id, ToolCallID: acc.id, ToolArgsJSON: tc.Function.Arguments})
			}
		}

		if choice.FinishReason == "tool_calls" {
			for _, acc := range toolCalls {
				if acc.id != "" {
					p.emit(ctx, out, seq, models.StreamingEvent{Type: models.EventToolDone, MessageID: acc.id, ToolCallID: acc.id, ToolName: acc.name})
				}
			}
			toolCalls = make(map[int]*openAIToolAccum)
		}
	}
}

func (p *OpenAIProvider) emit(ctx context.Context, out chan<- models.StreamingEvent, seq *eventbus.Sequencer, evt models.StreamingEvent) {
	stamped, ok := seq.Next(evt)
	if !ok {
		return
	}
	select {
	case out <- stamped:
	case <-ctx.Done():
	}
}

// convertMessages converts the tagged Message variant into OpenAI chat
// messages. Function-call-output messages become dedicated "tool" role
// messages, one per output, since OpenAI has no inline tool-result content
// part the way Anthropic does.
func (p *OpenAIProvider) convertMessages(messages []models.Message, system string) ([]openai.ChatCompletionMessage, error) {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)

	if system != "" {
		result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}

	for _, msg := range messages {
		switch msg.Kind {
		case models.KindText:
			role := openai.ChatMessageRoleUser
			switch msg.Role {
			case models.RoleAssistant:
				role = openai.ChatMessageRoleAssistant
			case models.RoleSystem:
				role = openai.ChatMessageRoleSystem
			case models.RoleDeveloper:
				role = openai.ChatMessageRoleDeveloper
			}
			result = append(result, openai.ChatCompletionMessage{Role: role, Content: msg.Content})

		case models.KindThinking:
			// OpenAI's chat completions API has no reasoning-content
			// round-trip; fold it into an assistant message so the model
			// still sees its own prior reasoning as context.
			result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Content})

		case models.KindFunctionCall:
			result = append(result, openai.ChatCompletionMessage{
				Role: openai.ChatMessageRoleAssistant,
				ToolCalls: []openai.ToolCall{{
					ID:       msg.CallID,
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: msg.Name, Arguments: msg.Arguments},
				}},
			})

		case models.KindFunctionCallOutput:
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Output,
				ToolCallID: msg.CallID,
			})
		}
	}

	return result, nil
}

// convertTools converts ToolDefinitions to OpenAI's function-tool format.
func (p *OpenAIProvider) convertTools(tools []models.ToolDefinition) []openai.Tool {
	result := make([]openai.Tool, len(tools))

	for i, tool := range tools {
		var schemaMap map[string]any
		if err := json.Unmarshal(tool.Parameters, &schemaMap); err != nil {
			schemaMap = map[string]any{"type": "object", "properties": map[string]any{}}
		}

		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schemaMap,
			},
		}
	}

	return result
}

// isRetryableError classifies rate limits, 5xx, and timeouts as retryable.
func (p *OpenAIProvider) isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errMsg := strings.ToLower(err.Error())

	if strings.Contains(errMsg, "rate limit") || strings.Contains(errMsg, "429") {
		return true
	}
	if strings.Contains(errMsg, "500") || strings.Contains(errMsg, "502") ||
		strings.Contains(errMsg, "503") || strings.Contains(errMsg, "504") {
		return true
	}
	if strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline exceeded") {
		return true
	}
	return false
}
