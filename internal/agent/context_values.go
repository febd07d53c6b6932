package agent

import (
	"context"

	"github.com/haasonsaas/magi/pkg/models"
)

// EventSink receives a StreamingEvent a Tool wants to forward onto its
// caller's stream without returning it as the Tool's own synchronous
// result. The sub-agent-as-tool adapter (internal/agent/subagent) is the
// primary consumer: it drains a nested RunStreamed call and forwards every
// event live via the sink while still blocking until the sub-agent's final
// answer is ready to return as the outer ToolResult.
type EventSink func(ctx context.Context, evt models.StreamingEvent)

type eventSinkKey struct{}

// WithEventSink attaches sink to ctx, generalizing the teacher's
// context-carried session/policy pattern (internal/tools/subagent/spawn.go's
// SessionFromContext/WithToolPolicy) to a live event forwarding channel.
func WithEventSink(ctx context.Context, sink EventSink) context.Context {
	return context.WithValue(ctx, eventSinkKey{}, sink)
}

// EventSinkFromContext returns the EventSink attached by WithEventSink, if
// any.
func EventSinkFromContext(ctx context.Context) (EventSink, bool) {
	sink, ok := ctx.Value(eventSinkKey{}).(EventSink)
	return sink, ok
}

type workingDirectoryKey struct{}

// WithWorkingDirectory attaches a working directory to ctx so a Tool
// (directly, or inside a spawned sub-agent's own tool calls) can resolve
// relative paths against it, per spec.md §4.3's
// `working_directory` parameter on the sub-agent-as-tool schema.
func WithWorkingDirectory(ctx context.Context, dir string) context.Context {
	return context.WithValue(ctx, workingDirectoryKey{}, dir)
}

// WorkingDirectoryFromContext returns the working directory attached by
// WithWorkingDirectory, if any.
func WorkingDirectoryFromContext(ctx context.Context) (string, bool) {
	dir, ok := ctx.Value(workingDirectoryKey{}).(string)
	return dir, ok
}

type parentAgentKey struct{}

// WithParentAgent attaches the running agent's AgentExport to ctx so a
// spawned sub-agent's own AgentExport can record Parent.
func WithParentAgent(ctx context.Context, export *models.AgentExport) context.Context {
	return context.WithValue(ctx, parentAgentKey{}, export)
}

// ParentAgentFromContext returns the AgentExport attached by
// WithParentAgent, if any.
func ParentAgentFromContext(ctx context.Context) (*models.AgentExport, bool) {
	export, ok := ctx.Value(parentAgentKey{}).(*models.AgentExport)
	return export, ok
}
