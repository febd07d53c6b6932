// Package observability provides MAGI's process metrics, structured
// logging, and distributed tracing: the three pillars, scoped to the
// Agent Runtime, Model Provider abstraction, PTY Stream Engine, and
// Pipeline Runner rather than to a messaging-gateway surface.
//
// # Metrics
//
// Metrics are implemented using Prometheus client libraries and track:
//   - Model provider request latency, status, token usage, and cost
//   - Tool execution counts and duration
//   - PTY stream lifecycle (active count, exit reason)
//   - Pipeline stage retries and run outcomes
//   - Error rates by component and type
//
// Example usage:
//
//	metrics := observability.NewMetrics()
//
//	start := time.Now()
//	// ... issue a model provider request ...
//	metrics.RecordLLMRequest("anthropic", "claude-3-opus", "success",
//	    time.Since(start).Seconds(), promptTokens, completionTokens)
//
//	start = time.Now()
//	// ... execute a tool ...
//	metrics.RecordToolExecution("web_search", "success", time.Since(start).Seconds())
//
// # Logging
//
// Logging is built on Go's slog package with enhancements for:
//   - Automatic request/run/agent/pipeline ID correlation from context
//   - Sensitive data redaction (API keys, passwords, tokens)
//   - JSON output for production, text for development
//   - Configurable log levels
//
// Example usage:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:     "info",
//	    Format:    "json",
//	    AddSource: true,
//	})
//
//	ctx = observability.AddRunID(ctx, runID)
//	ctx = observability.AddAgentID(ctx, def.Name)
//
//	logger.Info(ctx, "dispatching turn", "tool_calls", len(calls))
//	logger.Error(ctx, "provider request failed", "error", err, "api_key", apiKey) // redacted
//
// # Tracing
//
// Distributed tracing uses OpenTelemetry to track a run across the Agent
// Runtime, a provider's stream, and any tools/sub-agents it invokes:
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName:  "magi",
//	    Endpoint:     "localhost:4317",
//	    SamplingRate: 0.1,
//	})
//	defer shutdown(context.Background())
//
//	ctx, span := tracer.TraceProviderRequest(ctx, "anthropic", "claude-3-opus")
//	defer span.End()
//
//	ctx, toolSpan := tracer.TraceToolExecution(ctx, "web_search")
//	defer toolSpan.End()
//	if err != nil {
//	    tracer.RecordError(toolSpan, err)
//	}
//
// # Testing
//
//   - Metrics can be verified using prometheus/testutil
//   - Logging can write to bytes.Buffer for assertions
//   - Tracing works with no-op exporters in tests
package observability
