// Package providers implements LLM provider integrations for the MAGI agent
// runtime. Each provider translates a provider-neutral agent.CompletionRequest
// into its wire protocol and streams back models.StreamingEvent values,
// satisfying the agent.LLMProvider interface (§4.2).
package providers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/google/uuid"
	"github.com/haasonsaas/magi/internal/agent"
	agentcontext "github.com/haasonsaas/magi/internal/agent/context"
	"github.com/haasonsaas/magi/internal/eventbus"
	"github.com/haasonsaas/magi/pkg/models"
)

// AnthropicProvider implements agent.LLMProvider for Anthropic's Claude API.
// It is safe for concurrent use; each Stream call opens an independent SSE
// connection and runs its own goroutine.
type AnthropicProvider struct {
	client anthropic.Client

	apiKey string

	// maxRetries is the number of retry attempts for retryable errors
	// (rate limits, 5xx, timeouts, connection resets).
	maxRetries int

	// retryDelay is the base delay; actual backoff is retryDelay * 2^attempt.
	retryDelay time.Duration

	// defaultModel is used when CompletionRequest.Model is empty.
	defaultModel string

	// truncator drives reactive context-overflow recovery's message
	// reduction; nil falls back to retryWithContextRecovery's default.
	truncator *agentcontext.Truncator
}

// AnthropicConfig holds the parameters for NewAnthropicProvider. Only APIKey
// is required; the rest default to sensible values.
type AnthropicConfig struct {
	APIKey string

	// BaseURL overrides the default Anthropic API base URL.
	BaseURL string

	MaxRetries int
	RetryDelay time.Duration

	// DefaultModel is used when a request doesn't specify one.
	DefaultModel string

	// Truncator, when set, is used to reduce message history on a
	// context-overflow retry instead of the package default, per
	// config.BuildTruncator.
	Truncator *agentcontext.Truncator
}

// NewAnthropicProvider builds a provider from config, applying defaults for
// MaxRetries (3), RetryDelay (1s), and DefaultModel (claude-sonnet-4-20250514).
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}

	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "claude-sonnet-4-20250514"
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}
	client := anthropic.NewClient(options...)

	return &AnthropicProvider{
		client:       client,
		apiKey:       config.APIKey,
		maxRetries:   config.MaxRetries,
		retryDelay:   config.RetryDelay,
		defaultModel: config.DefaultModel,
		truncator:    config.Truncator,
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

// Models lists the Claude models this provider can serve, tagged with the
// model class each fills for routing (§4.3(a)).
func (p *AnthropicProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", ContextSize: 200000, Class: models.ClassReasoning, SupportsVision: true},
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ContextSize: 200000, Class: models.ClassStandard, SupportsVision: true},
		{ID: "claude-3-5-sonnet-20241022", Name: "Claude 3.5 Sonnet", ContextSize: 200000, Class: models.ClassCode, SupportsVision: true},
		{ID: "claude-3-5-haiku-20241022", Name: "Claude 3.5 Haiku", ContextSize: 200000, Class: models.ClassMini, SupportsVision: false},
		{ID: "claude-3-opus-20240229", Name: "Claude 3 Opus", ContextSize: 200000, Class: models.ClassVision, SupportsVision: true},
		{ID: "claude-3-haiku-20240307", Name: "Claude 3 Haiku", ContextSize: 200000, Class: models.ClassSummary, SupportsVision: true},
	}
}

func (p *AnthropicProvider) SupportsTools() bool { return true }

// Stream sends req to Claude and returns a channel of StreamingEvents. The
// channel carries one message_id for the assistant's text/thinking stream
// (a freshly generated uuid) and one message_id per tool call (the call's
// own id), each independently sequenced by an eventbus.Sequencer so that
// Order is monotonic within a message_id per §3's invariant.
//
// Stream returns an error only if building the request itself fails
// (message/tool conversion); transport and API errors are delivered as a
// terminal error event on the channel, matching every other provider in
// this package.
func (p *AnthropicProvider) Stream(ctx context.Context, req *agent.CompletionRequest) (<-chan models.StreamingEvent, error) {
	out := make(chan models.StreamingEvent)

	go func() {
		defer close(out)

		seq := eventbus.NewSequencer()
		msgID := uuid.NewString()
		model := p.getModel(req.Model)

		var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
		var wrapped error

		err := retryWithContextRecovery(ctx, req.Messages, model, p.maxRetries, p.retryDelay, p.truncator, p.isRetryableError,
			func(notice string) {
				p.emit(ctx, out, seq, models.StreamingEvent{Type: models.EventMessageDelta, MessageID: msgID, Delta: notice})
			},
			func(messages []models.Message) error {
				s, connectErr := p.createStream(ctx, req, messages)
				if connectErr != nil {
					wrapped = p.wrapError(connectErr, model)
					return wrapped
				}
				stream = s
				return nil
			},
		)

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				p.emit(ctx, out, seq, models.StreamingEvent{Type: models.EventMessageStart, MessageID: msgID})
				p.emit(ctx, out, seq, models.StreamingEvent{Type: models.EventError, MessageID: msgID, Error: ctx.Err().Error()})
				return
			}
			p.emit(ctx, out, seq, models.StreamingEvent{Type: models.EventMessageStart, MessageID: msgID})
			p.emit(ctx, out, seq, models.StreamingEvent{
				Type: models.EventError, MessageID: msgID,
				Error: fmt.Errorf("anthropic: max retries exceeded: %w", wrapped).Error(),
			})
			return
		}

		p.emit(ctx, out, seq, models.StreamingEvent{Type: models.EventMessageStart, MessageID: msgID})
		p.processStream(ctx, stream, out, seq, msgID, model)
	}()

	return out, nil
}

// createStream builds an Anthropic MessageNewParams from req and opens a
// streaming request. msgs overrides req.Messages so a context-overflow
// retry can pass an already-truncated history without mutating req.
func (p *AnthropicProvider) createStream(ctx context.Context, req *agent.CompletionRequest, msgs []models.Message) (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
	messages, err := p.convertMessages(msgs)
	if err != nil {
		return nil, fmt.Errorf("anthropic: failed to convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.getModel(req.Model)),
		Messages:  messages,
		MaxTokens: int64(p.getMaxTokens(req.MaxTokens)),
	}

	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}

	if len(req.Tools) > 0 {
		tools, err := p.convertTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: failed to convert tools: %w", err)
		}
		params.Tools = tools
	}

	if req.EnableThinking {
		budgetTokens := int64(req.ThinkingBudgetTokens)
		if budgetTokens < 1024 {
			budgetTokens = 10000
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budgetTokens)
	}

	return p.client.Messages.NewStreaming(ctx, params), nil
}

// maxEmptyStreamEvents bounds consecutive events that produce no output
// before the stream is treated as malformed.
const maxEmptyStreamEvents = 300

// processStream consumes the SSE stream and emits StreamingEvents. At most
// one tool call accumulates at a time, since Anthropic streams content
// blocks sequentially rather than interleaved.
func (p *AnthropicProvider) processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], out chan<- models.StreamingEvent, seq *eventbus.Sequencer, msgID, model string) {
	var currentToolID, currentToolName string
	var currentToolInput strings.Builder
	var inputTokens, outputTokens int
	emptyEventCount := 0

	for stream.Next() {
		event := stream.Current()
		eventProcessed := false

		switch event.Type {
		case "message_start":
			messageStart := event.AsMessageStart()
			if messageStart.Message.Usage.InputTokens > 0 {
				inputTokens = int(messageStart.Message.Usage.InputTokens)
			}
			eventProcessed = true

		case "content_block_start":
			contentBlock := event.AsContentBlockStart().ContentBlock
			if contentBlock.Type == "tool_use" {
				toolUse := contentBlock.AsToolUse()
				currentToolID = toolUse.ID
				currentToolName = toolUse.Name
				currentToolInput.Reset()
				p.emit(ctx, out, seq, models.StreamingEvent{
					Type: models.EventToolStart, MessageID: currentToolID,
					ToolCallID: currentToolID, ToolName: currentToolName,
				})
				eventProcessed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					p.emit(ctx, out, seq, models.StreamingEvent{Type: models.EventMessageDelta, MessageID: msgID, Delta: delta.Text})
					eventProcessed = true
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					p.emit(ctx, out, seq, models.StreamingEvent{Type: models.EventThinkingDelta, MessageID: msgID, Delta: delta.Thinking})
					eventProcessed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					currentToolInput.WriteString(delta.PartialJSON)
					p.emit(ctx, out, seq, models.StreamingEvent{
						Type: models.EventToolDelta, MessageID: currentToolID,
						ToolCallID: currentToolID, ToolArgsJSON: delta.PartialJSON,
					})
					eventProcessed = true
				}
			}

		case "content_block_stop":
			if currentToolID != "" {
				p.emit(ctx, out, seq, models.StreamingEvent{
					Type: models.EventToolDone, MessageID: currentToolID,
					ToolCallID: currentToolID, ToolName: currentToolName, ToolArgsJSON: currentToolInput.String(),
				})
				currentToolID = ""
				eventProcessed = true
			}

		case "message_delta":
			messageDelta := event.AsMessageDelta()
			if messageDelta.Usage.OutputTokens > 0 {
				outputTokens = int(messageDelta.Usage.OutputTokens)
			}
			eventProcessed = true

		case "message_stop":
			p.emit(ctx, out, seq, models.StreamingEvent{
				Type: models.EventCostUpdate, MessageID: msgID,
				Usage: &models.Usage{Model: model, InputTokens: inputTokens, OutputTokens: outputTokens},
			})
			p.emit(ctx, out, seq, models.StreamingEvent{Type: models.EventMessageComplete, MessageID: msgID, Status: models.StatusCompleted})
			return

		case "error":
			p.emit(ctx, out, seq, models.StreamingEvent{
				Type: models.EventError, MessageID: msgID,
				Error: p.wrapError(errors.New("anthropic stream error"), model).Error(),
			})
			return
		}

		if eventProcessed {
			emptyEventCount = 0
		} else {
			emptyEventCount++
			if emptyEventCount >= maxEmptyStreamEvents {
				p.emit(ctx, out, seq, models.StreamingEvent{
					Type: models.EventError, MessageID: msgID,
					Error: p.wrapError(fmt.Errorf("stream appears malformed: received %d consecutive empty events", emptyEventCount), model).Error(),
				})
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		p.emit(ctx, out, seq, models.StreamingEvent{Type: models.EventError, MessageID: msgID, Error: p.wrapError(err, model).Error()})
		return
	}

	// message_stop should always arrive before the stream closes; this is a
	// defensive terminal event in case the SDK stream ends early.
	p.emit(ctx, out, seq, models.StreamingEvent{Type: models.EventMessageComplete, MessageID: msgID, Status: models.StatusCompleted})
}

// emit stamps evt's Order via seq and forwards it, dropping protocol
// violations (see eventbus.Sequencer.Next) and respecting ctx cancellation.
func (p *AnthropicProvider) emit(ctx context.Context, out chan<- models.StreamingEvent, seq *eventbus.Sequencer, evt models.StreamingEvent) {
	stamped, ok := seq.Next(evt)
	if !ok {
		return
	}
	select {
	case out <- stamped:
	case <-ctx.Done():
	}
}

// convertMessages converts the tagged Message variant (§3) into Anthropic
// MessageParams. System-role text messages are skipped; they're carried
// separately via params.System. Each internal message becomes one Anthropic
// message; function calls map to assistant tool_use blocks, function call
// outputs map to user tool_result blocks (Anthropic has no separate "tool"
// role).
func (p *AnthropicProvider) convertMessages(messages []models.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	for _, msg := range messages {
		switch msg.Kind {
		case models.KindText:
			if msg.Role == models.RoleSystem {
				continue
			}
			if msg.Role == models.RoleAssistant {
				result = append(result, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
			} else {
				result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
			}

		case models.KindThinking:
			result = append(result, anthropic.NewAssistantMessage(anthropic.NewThinkingBlock(msg.Signature, msg.Content)))

		case models.KindFunctionCall:
			var input map[string]interface{}
			if msg.Arguments != "" {
				if err := json.Unmarshal([]byte(msg.Arguments), &input); err != nil {
					return nil, fmt.Errorf("invalid tool call arguments for %s: %w", msg.Name, err)
				}
			}
			result = append(result, anthropic.NewAssistantMessage(anthropic.NewToolUseBlock(msg.CallID, input, msg.Name)))

		case models.KindFunctionCallOutput:
			isError := msg.Status == models.StatusIncomplete
			result = append(result, anthropic.NewUserMessage(anthropic.NewToolResultBlock(msg.CallID, msg.Output, isError)))
		}
	}

	return result, nil
}

// convertTools converts ToolDefinitions into Anthropic's tool schema.
func (p *AnthropicProvider) convertTools(tools []models.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam

	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}

		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name)
		}
		toolParam.OfTool.Description = anthropic.String(tool.Description)

		result = append(result, toolParam)
	}

	return result, nil
}

func (p *AnthropicProvider) getModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func (p *AnthropicProvider) getMaxTokens(maxTokens int) int {
	if maxTokens <= 0 {
		return 4096
	}
	return maxTokens
}

// isRetryableError classifies rate limits, 5xx, timeouts, and connection
// resets as retryable; everything else (auth, validation, not-found) is not.
func (p *AnthropicProvider) isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if providerErr, ok := GetProviderError(err); ok {
		return providerErr.Reason.IsRetryable()
	}

	errMsg := err.Error()

	if strings.Contains(errMsg, "rate_limit") ||
		strings.Contains(errMsg, "429") ||
		strings.Contains(errMsg, "too many requests") {
		return true
	}

	if strings.Contains(errMsg, "500") ||
		strings.Contains(errMsg, "502") ||
		strings.Contains(errMsg, "503") ||
		strings.Contains(errMsg, "504") ||
		strings.Contains(errMsg, "internal server error") ||
		strings.Contains(errMsg, "bad gateway") ||
		strings.Contains(errMsg, "service unavailable") ||
		strings.Contains(errMsg, "gateway timeout") {
		return true
	}

	if strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline exceeded") {
		return true
	}

	if strings.Contains(errMsg, "connection reset") ||
		strings.Contains(errMsg, "connection refused") ||
		strings.Contains(errMsg, "no such host") {
		return true
	}

	return false
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func (p *AnthropicProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		providerErr := &ProviderError{
			Provider: "anthropic",
			Model:    model,
			Cause:    err,
			Reason:   FailoverUnknown,
		}
		providerErr = providerErr.WithStatus(apiErr.StatusCode)

		message := ""
		code := ""
		requestID := apiErr.RequestID

		if raw := apiErr.RawJSON(); raw != "" {
			var payload anthropicErrorPayload
			if json.Unmarshal([]byte(raw), &payload) == nil {
				if payload.Error.Message != "" {
					message = payload.Error.Message
				}
				if payload.Error.Type != "" {
					code = payload.Error.Type
				}
				if payload.RequestID != "" {
					requestID = payload.RequestID
				}
			}
		}

		if message != "" {
			providerErr = providerErr.WithMessage(message)
		} else if providerErr.Message == "" {
			providerErr.Message = "anthropic request failed"
		}
		if code != "" {
			providerErr = providerErr.WithCode(code)
		}
		if requestID != "" {
			providerErr = providerErr.WithRequestID(requestID)
		}
		return providerErr
	}

	return NewProviderError("anthropic", model, err)
}

// CountTokens gives a rough ~4-chars-per-token estimate of req's size,
// useful for pre-flight context-window checks before the truncation
// middleware (§4.2(a)(1)) runs.
func (p *AnthropicProvider) CountTokens(req *agent.CompletionRequest) int {
	total := len(req.System) / 4

	for _, msg := range req.Messages {
		total += len(msg.Content) / 4
		total += len(msg.Arguments) / 4
		total += len(msg.Output) / 4
		total += len(msg.Name) / 4
	}

	for _, tool := range req.Tools {
		total += len(tool.Name) / 4
		total += len(tool.Description) / 4
		total += len(tool.Parameters) / 4
	}

	return total
}

// ParseSSEStream is a low-level SSE parser for callers that need to handle
// a raw event stream without the SDK, e.g. proxying or debugging.
func ParseSSEStream(reader io.Reader, handler func(eventType, data string) error) error {
	scanner := bufio.NewScanner(reader)
	var eventType string
	var dataLines []string

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if eventType != "" || len(dataLines) > 0 {
				data := strings.Join(dataLines, "\n")
				if err := handler(eventType, data); err != nil {
					return err
				}
				eventType = ""
				dataLines = nil
			}
			continue
		}

		if strings.HasPrefix(line, "event:") {
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}

	return scanner.Err()
}
