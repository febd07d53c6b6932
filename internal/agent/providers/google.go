// Package providers implements LLM provider integrations for the agent runtime.
//
// This file implements the Google/Gemini provider using the Google Gen AI Go SDK.
package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/magi/internal/agent"
	agentcontext "github.com/haasonsaas/magi/internal/agent/context"
	"github.com/haasonsaas/magi/internal/agent/toolconv"
	"github.com/haasonsaas/magi/internal/eventbus"
	"github.com/haasonsaas/magi/pkg/models"
	"google.golang.org/genai"
)

// GoogleProvider implements the agent.LLMProvider interface for Google's Gemini API.
//
// Thread Safety:
// GoogleProvider is safe for concurrent use across multiple goroutines.
// Each Stream() call creates an independent stream and goroutine.
type GoogleProvider struct {
	client *genai.Client
	apiKey string

	maxRetries int
	retryDelay time.Duration

	defaultModel string

	base BaseProvider

	// truncator drives reactive context-overflow recovery's message
	// reduction; nil falls back to retryWithContextRecovery's default.
	truncator *agentcontext.Truncator
}

// GoogleConfig holds configuration parameters for creating a GoogleProvider.
type GoogleConfig struct {
	// APIKey is the Google AI API authentication key (required).
	APIKey string

	// MaxRetries sets the maximum retry attempts for transient failures. Default: 3
	MaxRetries int

	// RetryDelay sets the base delay between retry attempts. Default: 1 second
	RetryDelay time.Duration

	// DefaultModel sets the model to use when request doesn't specify one.
	// Default: "gemini-2.0-flash"
	DefaultModel string

	// Truncator, when set, is used to reduce message history on a
	// context-overflow retry instead of the package default, per
	// config.BuildTruncator.
	Truncator *agentcontext.Truncator
}

// NewGoogleProvider creates a new Google provider instance with the given configuration.
func NewGoogleProvider(config GoogleConfig) (*GoogleProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("google: API key is required")
	}

	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("google: failed to create client: %w", err)
	}

	return &GoogleProvider{
		client:       client,
		apiKey:       config.APIKey,
		maxRetries:   config.MaxRetries,
		retryDelay:   config.RetryDelay,
		defaultModel: config.DefaultModel,
		base:         NewBaseProvider("google", config.MaxRetries, config.RetryDelay),
		truncator:    config.Truncator,
	}, nil
}

func (p *GoogleProvider) Name() string { return "google" }

// Models returns the list of available Gemini models with their capabilities.
func (p *GoogleProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash", ContextSize: 1000000, Class: models.ClassStandard, SupportsVision: true},
		{ID: "gemini-2.0-flash-lite", Name: "Gemini 2.0 Flash Lite", ContextSize: 1000000, Class: models.ClassMini, SupportsVision: true},
		{ID: "gemini-1.5-pro", Name: "Gemini 1.5 Pro", ContextSize: 2000000, Class: models.ClassReasoning, SupportsVision: true},
		{ID: "gemini-1.5-flash", Name: "Gemini 1.5 Flash", ContextSize: 1000000, Class: models.ClassStandard, SupportsVision: true},
		{ID: "gemini-1.5-flash-8b", Name: "Gemini 1.5 Flash-8B", ContextSize: 1000000, Class: models.ClassMini, SupportsVision: true},
	}
}

func (p *GoogleProvider) SupportsTools() bool { return true }

// Stream sends req to the Gemini GenerateContentStream API and returns a
// channel of StreamingEvents, sequenced the same way as the other native
// providers. Gemini does not assign tool call ids or stream tool arguments
// incrementally: each function call arrives whole in one Part, so its
// message_id gets a generated id and a single start/done pair with no
// intervening delta.
func (p *GoogleProvider) Stream(ctx context.Context, req *agent.CompletionRequest) (<-chan models.StreamingEvent, error) {
	out := make(chan models.StreamingEvent)

	go func() {
		defer close(out)

		seq := eventbus.NewSequencer()
		msgID := uuid.NewString()

		if p.client == nil {
			p.emit(ctx, out, seq, models.StreamingEvent{Type: models.EventMessageStart, MessageID: msgID})
			p.emit(ctx, out, seq, models.StreamingEvent{Type: models.EventError, MessageID: msgID, Error: "google: client not initialized"})
			return
		}

		model := p.getModel(req.Model)
		config := p.buildConfig(req)

		p.emit(ctx, out, seq, models.StreamingEvent{Type: models.EventMessageStart, MessageID: msgID})

		retryErr := retryWithContextRecovery(ctx, req.Messages, model, p.maxRetries, p.retryDelay, p.truncator, p.isRetryableError,
			func(notice string) {
				p.emit(ctx, out, seq, models.StreamingEvent{Type: models.EventMessageDelta, MessageID: msgID, Delta: notice})
			},
			func(msgs []models.Message) error {
				contents, convErr := p.convertMessages(msgs)
				if convErr != nil {
					return fmt.Errorf("google: failed to convert messages: %w", convErr)
				}
				streamIter := p.client.Models.GenerateContentStream(ctx, model, contents, config)
				return p.processStreamResponse(ctx, streamIter, out, seq, msgID, model)
			},
		)
		if retryErr != nil {
			p.emit(ctx, out, seq, models.StreamingEvent{Type: models.EventError, MessageID: msgID, Error: p.wrapError(retryErr, model).Error()})
			return
		}

		p.emit(ctx, out, seq, models.StreamingEvent{Type: models.EventMessageComplete, MessageID: msgID, Status: models.StatusCompleted})
	}()

	return out, nil
}

// processStreamResponse consumes the iterator and emits StreamingEvents for
// text deltas and tool calls.
func (p *GoogleProvider) processStreamResponse(ctx context.Context, streamIter iter.Seq2[*genai.GenerateContentResponse, error], out chan<- models.StreamingEvent, seq *eventbus.Sequencer, msgID, model string) error {
	for resp, err := range streamIter {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			return err
		}
		if resp == nil {
			continue
		}

		for _, candidate := range resp.Candidates {
			if candidate == nil || candidate.Content == nil {
				continue
			}

			for _, part := range candidate.Content.Parts {
				if part == nil {
					continue
				}

				if part.Text != "" {
					p.emit(ctx, out, seq, models.StreamingEvent{Type: models.EventMessageDelta, MessageID: msgID, Delta: part.Text})
				}

				if part.FunctionCall != nil {
					argsJSON, jsonErr := json.Marshal(part.FunctionCall.Args)
					if jsonErr != nil {
						argsJSON = []byte("{}")
					}
					toolID := generateToolCallID(part.FunctionCall.Name)
					p.emit(ctx, out, seq, models.StreamingEvent{Type: models.EventToolStart, MessageID: toolID, ToolCallID: toolID, ToolName: part.FunctionCall.Name})
					p.emit(ctx, out, seq, models.StreamingEvent{Type: models.EventToolDelta, MessageID: toolID, ToolCallID: toolID, ToolArgsJSON: string(argsJSON)})
					p.emit(ctx, out, seq, models.StreamingEvent{Type: models.EventToolDone, MessageID: toolID, ToolCallID: toolID, ToolName: part.FunctionCall.Name})
				}
			}
		}

		if resp.UsageMetadata != nil {
			usage := models.Usage{
				Model:        model,
				InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
				OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			}
			p.emit(ctx, out, seq, models.StreamingEvent{Type: models.EventCostUpdate, MessageID: msgID, Usage: &usage})
		}
	}

	return nil
}

func (p *GoogleProvider) emit(ctx context.Context, out chan<- models.StreamingEvent, seq *eventbus.Sequencer, evt models.StreamingEvent) {
	stamped, ok := seq.Next(evt)
	if !ok {
		return
	}
	select {
	case out <- stamped:
	case <-ctx.Done():
	}
}

// convertMessages converts the tagged Message variant into Gemini Content.
// Function-call-output messages become FunctionResponse parts; since Gemini
// correlates responses by function name rather than call id, the output
// message's Name field (set by NewFunctionCallOutput) is used directly.
func (p *GoogleProvider) convertMessages(messages []models.Message) ([]*genai.Content, error) {
	var result []*genai.Content

	for _, msg := range messages {
		if msg.Kind == models.KindText && msg.Role == models.RoleSystem {
			continue
		}

		content := &genai.Content{Role: genai.RoleUser}

		switch msg.Kind {
		case models.KindText:
			if msg.Role == models.RoleAssistant {
				content.Role = genai.RoleModel
			}
			if msg.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
			}
			for _, part := range msg.Parts {
				switch part.Type {
				case models.PartInputText:
					content.Parts = append(content.Parts, &genai.Part{Text: part.Text})
				case models.PartInputImage:
					p2, err := p.convertImagePart(part)
					if err != nil {
						continue
					}
					content.Parts = append(content.Parts, p2)
				}
			}

		case models.KindThinking:
			content.Role = genai.RoleModel
			content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})

		case models.KindFunctionCall:
			content.Role = genai.RoleModel
			var args map[string]any
			if err := json.Unmarshal([]byte(msg.Arguments), &args); err != nil {
				args = make(map[string]any)
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{Name: msg.Name, Args: args},
			})

		case models.KindFunctionCallOutput:
			var response map[string]any
			if err := json.Unmarshal([]byte(msg.Output), &response); err != nil {
				response = map[string]any{"result": msg.Output}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{Name: msg.Name, Response: response},
			})
		}

		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}

	return result, nil
}

// convertImagePart converts an input_image content part to a Gemini Part.
func (p *GoogleProvider) convertImagePart(part models.ContentPart) (*genai.Part, error) {
	if strings.HasPrefix(part.URL, "data:") {
		parts := strings.SplitN(part.URL, ",", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid data URL format")
		}

		mimeType := "image/jpeg"
		if strings.Contains(parts[0], ";") {
			mimeTypeParts := strings.Split(strings.TrimPrefix(parts[0], "data:"), ";")
			if len(mimeTypeParts) > 0 && mimeTypeParts[0] != "" {
				mimeType = mimeTypeParts[0]
			}
		} else {
			mimeType = strings.TrimPrefix(parts[0], "data:")
		}

		data, err := base64.StdEncoding.DecodeString(parts[1])
		if err != nil {
			return nil, fmt.Errorf("failed to decode base64 data: %w", err)
		}

		return &genai.Part{InlineData: &genai.Blob{Data: data, MIMEType: mimeType}}, nil
	}

	return &genai.Part{FileData: &genai.FileData{FileURI: part.URL, MIMEType: guessMimeType(part.URL)}}, nil
}

// convertTools converts wire-format tool definitions to Gemini Tool format.
func (p *GoogleProvider) convertTools(tools []models.ToolDefinition) []*genai.Tool {
	return toolconv.ToGeminiTools(tools)
}

// buildConfig builds the GenerateContentConfig from a CompletionRequest.
func (p *GoogleProvider) buildConfig(req *agent.CompletionRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}

	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}

	if req.MaxTokens > 0 {
		maxTokens := min(req.MaxTokens, math.MaxInt32)
		// #nosec G115 -- bounded by min above
		config.MaxOutputTokens = int32(maxTokens)
	}

	if len(req.Tools) > 0 {
		config.Tools = p.convertTools(req.Tools)
	}

	return config
}

// getModel returns the model ID to use for the request.
func (p *GoogleProvider) getModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

// isRetryableError determines if an error should trigger a retry attempt.
func (p *GoogleProvider) isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if providerErr, ok := GetProviderError(err); ok {
		return providerErr.Reason.IsRetryable()
	}

	errMsg := strings.ToLower(err.Error())

	if strings.Contains(errMsg, "rate limit") ||
		strings.Contains(errMsg, "429") ||
		strings.Contains(errMsg, "too many requests") ||
		strings.Contains(errMsg, "resource exhausted") ||
		strings.Contains(errMsg, "quota") {
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

// wrapError wraps an error in a ProviderError with Google-specific context.
func (p *GoogleProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}

	providerErr := NewProviderError("google", model, err)

	errMsg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errMsg, "401") || strings.Contains(errMsg, "unauthenticated"):
		providerErr = providerErr.WithStatus(http.StatusUnauthorized)
	case strings.Contains(errMsg, "403") || strings.Contains(errMsg, "permission denied"):
		providerErr = providerErr.WithStatus(http.StatusForbidden)
	case strings.Contains(errMsg, "404") || strings.Contains(errMsg, "not found"):
		providerErr = providerErr.WithStatus(http.StatusNotFound)
	case strings.Contains(errMsg, "429") || strings.Contains(errMsg, "resource exhausted"):
		providerErr = providerErr.WithStatus(http.StatusTooManyRequests)
	case strings.Contains(errMsg, "500"):
		providerErr = providerErr.WithStatus(http.StatusInternalServerError)
	case strings.Contains(errMsg, "503"):
		providerErr = providerErr.WithStatus(http.StatusServiceUnavailable)
	}

	return providerErr
}

// CountTokens estimates the token count for a completion request using
// ~4 characters per token, typical for English text.
func (p *GoogleProvider) CountTokens(req *agent.CompletionRequest) int {
	total := len(req.System) / 4

	for _, msg := range req.Messages {
		total += len(msg.Content) / 4
		total += len(msg.Arguments) / 4
		total += len(msg.Output) / 4
	}

	for _, tool := range req.Tools {
		total += len(tool.Name) / 4
		total += len(tool.Description) / 4
		total += len(tool.Parameters) / 4
	}

	return total
}

// generateToolCallID generates a unique ID for a tool call. Gemini doesn't
// provide tool call IDs the way Anthropic and OpenAI do.
func generateToolCallID(name string) string {
	return fmt.Sprintf("call_%s_%s", name, uuid.NewString())
}

// guessMimeType guesses the MIME type from a URL based on file extension.
func guessMimeType(url string) string {
	lower := strings.ToLower(url)
	switch {
	case strings.HasSuffix(lower, ".jpg"), strings.HasSuffix(lower, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(lower, ".png"):
		return "image/png"
	case strings.HasSuffix(lower, ".gif"):
		return "image/gif"
	case strings.HasSuffix(lower, ".webp"):
		return "image/webp"
	case strings.HasSuffix(lower, ".svg"):
		return "image/svg+xml"
	case strings.HasSuffix(lower, ".pdf"):
		return "application/pdf"
	default:
		return "image/jpeg"
	}
}
