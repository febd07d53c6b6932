package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/google/uuid"
	"github.com/haasonsaas/magi/internal/agent"
	agentcontext "github.com/haasonsaas/magi/internal/agent/context"
	"github.com/haasonsaas/magi/internal/agent/toolconv"
	"github.com/haasonsaas/magi/internal/eventbus"
	"github.com/haasonsaas/magi/pkg/models"
)

const (
	bedrockImageMaxBytes = 20 * 1024 * 1024
	bedrockImageTimeout  = 30 * time.Second
)

// BedrockProvider implements the agent.LLMProvider interface for AWS Bedrock.
// It provides access to foundation models hosted on AWS including Anthropic Claude,
// Amazon Titan, Meta Llama, and more.
//
// Bedrock uses the AWS SDK and supports streaming via the Converse API.
// Authentication is handled via AWS credentials (environment, IAM role, or explicit).
//
// Thread Safety:
// BedrockProvider is safe for concurrent use across multiple goroutines.
type BedrockProvider struct {
	client       *bedrockruntime.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
	region       string
	base         BaseProvider

	// truncator drives reactive context-overflow recovery's message
	// reduction; nil falls back to retryWithContextRecovery's default.
	truncator *agentcontext.Truncator
}

// BedrockConfig holds configuration for the Bedrock provider.
type BedrockConfig struct {
	// Region is the AWS region (default: us-east-1)
	Region string

	// AccessKeyID for explicit credentials (optional, uses default chain if empty)
	AccessKeyID string

	// SecretAccessKey for explicit credentials (optional)
	SecretAccessKey string

	// SessionToken for temporary credentials (optional)
	SessionToken string

	// DefaultModel is the model to use when not specified (default: anthropic.claude-3-sonnet-20240229-v1:0)
	DefaultModel string

	// MaxRetries for transient failures (default: 3)
	MaxRetries int

	// RetryDelay base delay between retries (default: 1s)
	RetryDelay time.Duration

	// Truncator, when set, is used to reduce message history on a
	// context-overflow retry instead of the package default, per
	// config.BuildTruncator.
	Truncator *agentcontext.Truncator
}

// NewBedrockProvider creates a new AWS Bedrock provider instance.
//
// Example with default credentials:
//
//	provider, err := NewBedrockProvider(BedrockConfig{
//	    Region: "us-east-1",
//	})
//
// Example with explicit credentials:
//
//	provider, err := NewBedrockProvider(BedrockConfig{
//	    Region:          "us-west-2",
//	    AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
//	    SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
//	})
func NewBedrockProvider(cfg BedrockConfig) (*BedrockProvider, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic.claude-3-sonnet-20240229-v1:0"
	}

	var awsCfg aws.Config
	var err error

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = config.LoadDefaultConfig(context.Background(),
			config.WithRegion(cfg.Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				cfg.SessionToken,
			)),
		)
	} else {
		awsCfg, err = config.LoadDefaultConfig(context.Background(),
			config.WithRegion(cfg.Region),
		)
	}

	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to load AWS config: %w", err)
	}

	client := bedrockruntime.NewFromConfig(awsCfg)

	return &BedrockProvider{
		client:       client,
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		region:       cfg.Region,
		base:         NewBaseProvider("bedrock", cfg.MaxRetries, cfg.RetryDelay),
		truncator:    cfg.Truncator,
	}, nil
}

// Name returns the provider identifier.
func (p *BedrockProvider) Name() string {
	return "bedrock"
}

// Models returns the list of available models on Bedrock.
// Note: Actual availability depends on your AWS account's model access.
func (p *BedrockProvider) Models() []agent.Model {
	return []agent.Model{
		// Anthropic Claude models
		{ID: "anthropic.claude-3-opus-20240229-v1:0", Name: "Claude 3 Opus (Bedrock)", ContextSize: 200000, Class: models.ClassReasoning, SupportsVision: true},
		{ID: "anthropic.claude-3-sonnet-20240229-v1:0", Name: "Claude 3 Sonnet (Bedrock)", ContextSize: 200000, Class: models.ClassStandard, SupportsVision: true},
		{ID: "anthropic.claude-3-haiku-20240307-v1:0", Name: "Claude 3 Haiku (Bedrock)", ContextSize: 200000, Class: models.ClassMini, SupportsVision: true},
		{ID: "anthropic.claude-v2:1", Name: "Claude 2.1 (Bedrock)", ContextSize: 200000, Class: models.ClassSummary, SupportsVision: false},
		// Amazon Titan models
		{ID: "amazon.titan-text-express-v1", Name: "Titan Text Express", ContextSize: 8192, Class: models.ClassStandard, SupportsVision: false},
		{ID: "amazon.titan-text-lite-v1", Name: "Titan Text Lite", ContextSize: 4096, Class: models.ClassMini, SupportsVision: false},
		// Meta Llama models
		{ID: "meta.llama3-70b-instruct-v1:0", Name: "Llama 3 70B (Bedrock)", ContextSize: 8192, Class: models.ClassStandard, SupportsVision: false},
		{ID: "meta.llama3-8b-instruct-v1:0", Name: "Llama 3 8B (Bedrock)", ContextSize: 8192, Class: models.ClassMini, SupportsVision: false},
		// Mistral models
		{ID: "mistral.mixtral-8x7b-instruct-v0:1", Name: "Mixtral 8x7B (Bedrock)", ContextSize: 32768, Class: models.ClassStandard, SupportsVision: false},
		{ID: "mistral.mistral-7b-instruct-v0:2", Name: "Mistral 7B (Bedrock)", ContextSize: 32768, Class: models.ClassMini, SupportsVision: false},
		// Cohere models
		{ID: "cohere.command-r-plus-v1:0", Name: "Command R+ (Bedrock)", ContextSize: 128000, Class: models.ClassStandard, SupportsVision: false},
		{ID: "cohere.command-r-v1:0", Name: "Command R (Bedrock)", ContextSize: 128000, Class: models.ClassSummary, SupportsVision: false},
	}
}

// SupportsTools indicates whether this provider supports tool/function calling.
// Bedrock supports tool use via the Converse API for compatible models.
func (p *BedrockProvider) SupportsTools() bool {
	return true
}

// Stream sends req to the Bedrock ConverseStream API and returns a channel of
// StreamingEvents, sequenced the same way as AnthropicProvider.Stream: one
// message_id for the assistant text stream, one per tool use block (keyed by
// its own toolUseId).
func (p *BedrockProvider) Stream(ctx context.Context, req *agent.CompletionRequest) (<-chan models.StreamingEvent, error) {
	out := make(chan models.StreamingEvent)

	go func() {
		defer close(out)

		seq := eventbus.NewSequencer()
		msgID := uuid.NewString()

		if p.client == nil {
			p.emit(ctx, out, seq, models.StreamingEvent{Type: models.EventMessageStart, MessageID: msgID})
			p.emit(ctx, out, seq, models.StreamingEvent{Type: models.EventError, MessageID: msgID, Error: "bedrock: client not initialized"})
			return
		}

		model := req.Model
		if model == "" {
			model = p.defaultModel
		}

		var stream *bedrockruntime.ConverseStreamOutput

		retryErr := retryWithContextRecovery(ctx, req.Messages, model, p.maxRetries, p.retryDelay, p.truncator, p.isRetryableError,
			func(notice string) {
				p.emit(ctx, out, seq, models.StreamingEvent{Type: models.EventMessageDelta, MessageID: msgID, Delta: notice})
			},
			func(msgs []models.Message) error {
				messages, convErr := p.convertMessages(ctx, msgs)
				if convErr != nil {
					return fmt.Errorf("bedrock: failed to convert messages: %w", convErr)
				}

				converseReq := &bedrockruntime.ConverseStreamInput{
					ModelId:  aws.String(model),
					Messages: messages,
				}

				if req.System != "" {
					converseReq.System = []types.SystemContentBlock{
						&types.SystemContentBlockMemberText{Value: req.System},
					}
				}

				if req.MaxTokens > 0 {
					maxTokens := min(req.MaxTokens, math.MaxInt32)
					converseReq.InferenceConfig = &types.InferenceConfiguration{
						// #nosec G115 -- bounded by min above
						MaxTokens: aws.Int32(int32(maxTokens)),
					}
				}

				if len(req.Tools) > 0 {
					converseReq.ToolConfig = toolconv.ToBedrockTools(req.Tools)
				}

				s, connErr := p.client.ConverseStream(ctx, converseReq)
				if connErr != nil {
					return p.wrapError(connErr, model)
				}
				stream = s
				return nil
			},
		)
		if retryErr != nil {
			p.emit(ctx, out, seq, models.StreamingEvent{Type: models.EventMessageStart, MessageID: msgID})
			p.emit(ctx, out, seq, models.StreamingEvent{Type: models.EventError, MessageID: msgID, Error: retryErr.Error()})
			return
		}

		p.emit(ctx, out, seq, models.StreamingEvent{Type: models.EventMessageStart, MessageID: msgID})
		p.processStream(ctx, stream, out, seq, msgID, model)
	}()

	return out, nil
}

// bedrockToolAccum tracks one in-progress tool use block.
type bedrockToolAccum struct {
	id     string
	name   string
	args   strings.Builder
	opened bool
}

func (p *BedrockProvider) processStream(ctx context.Context, stream *bedrockruntime.ConverseStreamOutput, out chan<- models.StreamingEvent, seq *eventbus.Sequencer, msgID, model string) {
	eventStream := stream.GetStream()
	defer eventStream.Close()

	var current *bedrockToolAccum

	eventChan := eventStream.Events()
	for {
		select {
		case <-ctx.Done():
			p.emit(ctx, out, seq, models.StreamingEvent{Type: models.EventError, MessageID: msgID, Error: ctx.Err().Error()})
			return
		case event, ok := <-eventChan:
			if !ok {
				if current != nil && current.id != "" {
					p.emit(ctx, out, seq, models.StreamingEvent{Type: models.EventToolDone, MessageID: current.id, ToolCallID: current.id, ToolName: current.name})
				}
				if err := eventStream.Err(); err != nil {
					p.emit(ctx, out, seq, models.StreamingEvent{Type: models.EventError, MessageID: msgID, Error: p.wrapError(err, model).Error()})
					return
				}
				p.emit(ctx, out, seq, models.StreamingEvent{Type: models.EventMessageComplete, MessageID: msgID, Status: models.StatusCompleted})
				return
			}

			switch ev := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if toolUse, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					current = &bedrockToolAccum{id: aws.ToString(toolUse.Value.ToolUseId), name: aws.ToString(toolUse.Value.Name)}
					p.emit(ctx, out, seq, models.StreamingEvent{Type: models.EventToolStart, MessageID: current.id, ToolCallID: current.id, ToolName: current.name})
				}

			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch delta := ev.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					if delta.Value != "" {
						p.emit(ctx, out, seq, models.StreamingEvent{Type: models.EventMessageDelta, MessageID: msgID, Delta: delta.Value})
					}
				case *types.ContentBlockDeltaMemberToolUse:
					if delta.Value.Input != nil && current != nil {
						current.args.WriteString(*delta.Value.Input)
						p.emit(ctx, out, seq, models.StreamingEvent{Type: models.EventToolDelta, MessageID: current.id, ToolCallID: current.id, ToolArgsJSON: *delta.Value.Input})
					}
				}

			case *types.ConverseStreamOutputMemberContentBlockStop:
				if current != nil && current.id != "" {
					p.emit(ctx, out, seq, models.StreamingEvent{Type: models.EventToolDone, MessageID: current.id, ToolCallID: current.id, ToolName: current.name})
					current = nil
				}

			case *types.ConverseStreamOutputMemberMessageStop:
				p.emit(ctx, out, seq, models.StreamingEvent{Type: models.EventMessageComplete, MessageID: msgID, Status: models.StatusCompleted})
				return

			case *types.ConverseStreamOutputMemberMetadata:
				if ev.Value.Usage != nil {
					usage := models.Usage{
						Model:        model,
						InputTokens:  int(aws.ToInt32(ev.Value.Usage.InputTokens)),
						OutputTokens: int(aws.ToInt32(ev.Value.Usage.OutputTokens)),
					}
					p.emit(ctx, out, seq, models.StreamingEvent{Type: models.EventCostUpdate, MessageID: msgID, Usage: &usage})
				}
			}
		}
	}
}

func (p *BedrockProvider) emit(ctx context.Context, out chan<- models.StreamingEvent, seq *eventbus.Sequencer, evt models.StreamingEvent) {
	stamped, ok := seq.Next(evt)
	if !ok {
		return
	}
	select {
	case out <- stamped:
	case <-ctx.Done():
	}
}

// convertMessages converts the tagged Message variant into Bedrock Converse
// messages. Image parts are fetched and inlined as raw bytes since Bedrock's
// Converse API takes image content by value rather than by reference.
func (p *BedrockProvider) convertMessages(ctx context.Context, messages []models.Message) ([]types.Message, error) {
	result := make([]types.Message, 0, len(messages))
	if ctx == nil {
		ctx = context.Background()
	}

	for _, msg := range messages {
		var content []types.ContentBlock
		role := types.ConversationRoleUser

		switch msg.Kind {
		case models.KindText:
			if msg.Role == models.RoleSystem {
				continue
			}
			if msg.Role == models.RoleAssistant {
				role = types.ConversationRoleAssistant
			}
			if msg.Content != "" {
				content = append(content, &types.ContentBlockMemberText{Value: msg.Content})
			}
			for _, part := range msg.Parts {
				switch part.Type {
				case models.PartInputText:
					content = append(content, &types.ContentBlockMemberText{Value: part.Text})
				case models.PartInputImage:
					imageBlock, err := p.convertImagePart(ctx, part)
					if err != nil {
						continue
					}
					content = append(content, imageBlock)
				}
			}

		case models.KindThinking:
			role = types.ConversationRoleAssistant
			content = append(content, &types.ContentBlockMemberText{Value: msg.Content})

		case models.KindFunctionCall:
			role = types.ConversationRoleAssistant
			var inputDoc any
			if err := json.Unmarshal([]byte(msg.Arguments), &inputDoc); err != nil {
				inputDoc = map[string]any{}
			}
			content = append(content, &types.ContentBlockMemberToolUse{
				Value: types.ToolUseBlock{
					ToolUseId: aws.String(msg.CallID),
					Name:      aws.String(msg.Name),
					Input:     document.NewLazyDocument(inputDoc),
				},
			})

		case models.KindFunctionCallOutput:
			content = append(content, &types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(msg.CallID),
					Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: msg.Output}},
				},
			})
		}

		if len(content) > 0 {
			result = append(result, types.Message{Role: role, Content: content})
		}
	}

	return result, nil
}

func (p *BedrockProvider) convertImagePart(ctx context.Context, part models.ContentPart) (*types.ContentBlockMemberImage, error) {
	data, mimeType, err := fetchImageURL(ctx, part.URL)
	if err != nil {
		return nil, err
	}
	format, ok := bedrockImageFormat(mimeType, part.URL, "")
	if !ok {
		return nil, fmt.Errorf("unsupported image format")
	}
	return &types.ContentBlockMemberImage{
		Value: types.ImageBlock{
			Format: format,
			Source: &types.ImageSourceMemberBytes{Value: data},
		},
	}, nil
}

func fetchImageURL(ctx context.Context, rawURL string) ([]byte, string, error) {
	url := strings.TrimSpace(rawURL)
	if url == "" {
		return nil, "", fmt.Errorf("image url is required")
	}
	if strings.HasPrefix(url, "data:") {
		data, mimeType, err := decodeBedrockDataURL(url)
		if err != nil {
			return nil, "", err
		}
		if int64(len(data)) > bedrockImageMaxBytes {
			return nil, "", fmt.Errorf("attachment too large (%d bytes)", len(data))
		}
		return data, normalizeMimeType(mimeType), nil
	}

	pathValue := strings.TrimPrefix(url, "file://")
	if pathValue != "" {
		if info, err := os.Stat(pathValue); err == nil && !info.IsDir() {
			if info.Size() > bedrockImageMaxBytes {
				return nil, "", fmt.Errorf("attachment too large (%d bytes)", info.Size())
			}
			payload, err := os.ReadFile(pathValue)
			if err != nil {
				return nil, "", fmt.Errorf("read attachment: %w", err)
			}
			return payload, normalizeMimeType(guessImageMimeType(pathValue, "")), nil
		}
	}

	requestCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		requestCtx, cancel = context.WithTimeout(ctx, bedrockImageTimeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(requestCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch attachment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, "", fmt.Errorf("fetch attachment returned status %d", resp.StatusCode)
	}
	if resp.ContentLength > bedrockImageMaxBytes {
		return nil, "", fmt.Errorf("attachment too large (%d bytes)", resp.ContentLength)
	}
	limited := io.LimitReader(resp.Body, bedrockImageMaxBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, "", fmt.Errorf("read attachment: %w", err)
	}
	if int64(len(data)) > bedrockImageMaxBytes {
		return nil, "", fmt.Errorf("attachment too large (%d bytes)", len(data))
	}
	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = guessImageMimeType(url, "")
	}
	return data, normalizeMimeType(mimeType), nil
}

func decodeBedrockDataURL(raw string) ([]byte, string, error) {
	parts := strings.SplitN(raw, ",", 2)
	if len(parts) != 2 {
		return nil, "", fmt.Errorf("invalid data url")
	}
	meta := strings.TrimPrefix(parts[0], "data:")
	mimeType := "image/jpeg"
	if meta != "" {
		metaParts := strings.Split(meta, ";")
		if len(metaParts) > 0 && metaParts[0] != "" {
			mimeType = metaParts[0]
		}
	}
	data, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, "", fmt.Errorf("decode data url: %w", err)
	}
	return data, mimeType, nil
}

func normalizeMimeType(mimeType string) string {
	if mimeType == "" {
		return ""
	}
	parts := strings.Split(mimeType, ";")
	return strings.TrimSpace(parts[0])
}

func bedrockImageFormat(mimeType, url, filename string) (types.ImageFormat, bool) {
	normalized := strings.ToLower(normalizeMimeType(mimeType))
	switch normalized {
	case "image/png":
		return types.ImageFormatPng, true
	case "image/jpeg", "image/jpg":
		return types.ImageFormatJpeg, true
	case "image/gif":
		return types.ImageFormatGif, true
	case "image/webp":
		return types.ImageFormatWebp, true
	}
	if ext := strings.ToLower(path.Ext(url)); ext != "" {
		return bedrockFormatFromExt(ext)
	}
	if ext := strings.ToLower(filepath.Ext(filename)); ext != "" {
		return bedrockFormatFromExt(ext)
	}
	return "", false
}

func bedrockFormatFromExt(ext string) (types.ImageFormat, bool) {
	switch ext {
	case ".png":
		return types.ImageFormatPng, true
	case ".jpg", ".jpeg":
		return types.ImageFormatJpeg, true
	case ".gif":
		return types.ImageFormatGif, true
	case ".webp":
		return types.ImageFormatWebp, true
	default:
		return "", false
	}
}

func guessImageMimeType(url, filename string) string {
	if ext := strings.ToLower(path.Ext(url)); ext != "" {
		return mimeTypeFromExt(ext)
	}
	if ext := strings.ToLower(filepath.Ext(filename)); ext != "" {
		return mimeTypeFromExt(ext)
	}
	return ""
}

func mimeTypeFromExt(ext string) string {
	switch ext {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return ""
	}
}

// isRetryableError determines if an error should trigger a retry.
func (p *BedrockProvider) isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if providerErr, ok := GetProviderError(err); ok {
		return providerErr.Reason.IsRetryable()
	}

	errMsg := err.Error()

	if strings.Contains(errMsg, "ThrottlingException") ||
		strings.Contains(errMsg, "TooManyRequestsException") ||
		strings.Contains(errMsg, "ServiceUnavailableException") {
		return true
	}

	retryable := []string{"rate limit", "429", "500", "502", "503", "504", "timeout", "deadline exceeded"}
	for _, s := range retryable {
		if strings.Contains(strings.ToLower(errMsg), s) {
			return true
		}
	}
	return false
}

func (p *BedrockProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}
	return NewProviderError("bedrock", model, err)
}
