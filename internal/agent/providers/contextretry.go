package providers

import (
	"context"
	"strings"
	"time"

	agentcontext "github.com/haasonsaas/magi/internal/agent/context"
	"github.com/haasonsaas/magi/internal/backoff"
	"github.com/haasonsaas/magi/internal/pty"
	"github.com/haasonsaas/magi/pkg/models"
)

// contextSafetyBuffer is subtracted from a model's advertised context
// window before computing the truncation budget, per spec.md §4.2(a)(2):
// budget = model context limit - 27,000-token safety buffer.
const contextSafetyBuffer = 27000

const contextOverflowMaxRetries = 3

// contextOverflowBackoff is "1s x2, capped at 10s" per spec.md §4.2(a)(2),
// computed with internal/backoff rather than hand-rolled bit shifting. No
// jitter: context-overflow retries are deterministic by design, unlike the
// provider's own transient-error retry path.
var contextOverflowBackoff = backoff.BackoffPolicy{
	InitialMs: 1000,
	MaxMs:     10000,
	Factor:    2,
	Jitter:    0,
}

// isContextOverflow classifies an error as a context-window overflow by
// substring match, extending the teacher's isRetryableError taxonomy with
// the classes spec.md §4.2(a) names explicitly.
func isContextOverflow(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	for _, needle := range []string{"context window", "token limit", "max tokens", "context length", "maximum context length"} {
		if strings.Contains(s, needle) {
			return true
		}
	}
	return false
}

// contextBudgetForModel computes the truncation token budget for model,
// grounded on internal/agent/context/window.go's ModelContextWindows.
func contextBudgetForModel(model string) int {
	window, ok := agentcontext.GetModelContextWindow(model)
	if !ok || window <= 0 {
		window = agentcontext.DefaultContextWindow
	}
	budget := window - contextSafetyBuffer
	if budget < agentcontext.MinContextWindow {
		budget = agentcontext.MinContextWindow
	}
	return budget
}

// defaultTruncator is the fallback used when a provider was built without a
// config-supplied Truncator: middle-strategy, message 0 and the last two
// messages always retained, matching spec.md §4.2(a)(2)'s reactive
// overflow-recovery shape.
func defaultTruncator() *agentcontext.Truncator {
	t := agentcontext.NewTruncator(agentcontext.TruncateMiddle, agentcontext.DefaultContextWindow)
	t.SetKeepFirst(1)
	t.SetKeepLast(2)
	return t
}

// truncateMessages reduces messages to fit within maxTokens by driving
// base (or defaultTruncator when base is nil) directly: base's own
// Truncate output, notice message included, is converted straight back to
// []models.Message, rather than this function re-deriving which messages
// survive. Grounded on internal/agent/context/truncation.go's
// Truncator/TruncateMiddle.
func truncateMessages(messages []models.Message, maxTokens int, base *agentcontext.Truncator) []models.Message {
	if len(messages) == 0 {
		return messages
	}
	if base == nil {
		base = defaultTruncator()
	}
	truncator := base.WithMaxTokens(maxTokens)

	ctxMsgs := make([]agentcontext.Message, len(messages))
	for i, m := range messages {
		text := flattenMessageText(m)
		ctxMsgs[i] = agentcontext.Message{
			Role:     string(m.Role),
			Content:  text,
			Tokens:   agentcontext.EstimateTokens(text),
			IsSystem: m.Role == models.RoleSystem,
			Pinned:   i == 0,
		}
	}

	kept, result := truncator.Truncate(ctxMsgs)
	if result.RemovedCount == 0 {
		return messages
	}

	out := make([]models.Message, len(kept))
	for i, m := range kept {
		role := models.Role(m.Role)
		if role == "" {
			role = models.RoleDeveloper
		}
		out[i] = models.NewTextMessage(role, m.Content)
	}
	return out
}

func flattenMessageText(m models.Message) string {
	if m.Content != "" {
		return m.Content
	}
	var sb strings.Builder
	for _, part := range m.Parts {
		sb.WriteString(part.Text)
	}
	if m.Arguments != "" {
		sb.WriteString(m.Arguments)
	}
	if m.Output != "" {
		sb.WriteString(m.Output)
	}
	return sb.String()
}

// waitIfPaused blocks on the PTY registry's global pause flag before a
// provider issues (or retries) a request, per spec.md §4.2(a)'s pause
// awareness requirement: native providers share the same pause/resume
// signal as the PTY engine so an operator pausing a run also holds off
// new model calls. notify, if non-nil, surfaces one informational delta
// for the wait; re-checks IsPaused after unblocking since pause can be
// re-asserted between the signal and the next attempt.
func waitIfPaused(ctx context.Context, registry *pty.Registry, notify func(string)) error {
	notified := false
	for registry.IsPaused() {
		if !notified && notify != nil {
			notify("paused, waiting to resume before contacting the model provider")
			notified = true
		}
		select {
		case <-registry.WaitResume():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// retryWithContextRecovery runs connect repeatedly against an
// ever-shrinking message window on context-overflow errors (exponential
// backoff, capped at contextOverflowMaxRetries attempts per spec.md
// §4.2(a)(2)), and falls through to the provider's ordinary linear-backoff
// retry for any other retryable error, mirroring BaseProvider.Retry's
// delay shape so native providers keep one observable backoff curve for
// transient failures. notify, if non-nil, is called once per
// context-overflow retry to surface an informational delta on the stream.
func retryWithContextRecovery(
	ctx context.Context,
	initial []models.Message,
	model string,
	maxRetries int,
	retryDelay time.Duration,
	truncator *agentcontext.Truncator,
	isRetryable func(error) bool,
	notify func(string),
	connect func(messages []models.Message) error,
) error {
	messages := initial
	overflowAttempts := 0

	for attempt := 0; ; attempt++ {
		if err := waitIfPaused(ctx, pty.Default(), notify); err != nil {
			return err
		}

		err := connect(messages)
		if err == nil {
			return nil
		}

		if isContextOverflow(err) && overflowAttempts < contextOverflowMaxRetries {
			overflowAttempts++
			budget := contextBudgetForModel(model) >> uint(overflowAttempts-1)
			if budget < agentcontext.MinContextWindow {
				budget = agentcontext.MinContextWindow
			}
			messages = truncateMessages(messages, budget, truncator)
			if notify != nil {
				notify("context window exceeded, retrying with truncated history")
			}

			delay := backoff.ComputeBackoffWithRand(contextOverflowBackoff, overflowAttempts, 0)
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if !isRetryable(err) {
			return err
		}
		if attempt >= maxRetries {
			return err
		}

		select {
		case <-time.After(retryDelay * time.Duration(attempt+1)):
			continue
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
