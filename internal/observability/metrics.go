package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting MAGI's process
// metrics: model provider request/cost tracking, tool execution counts,
// PTY stream lifecycle, and pipeline retry counts, per SPEC_FULL.md's
// ambient "Metrics" section.
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	defer metrics.LLMRequestDuration.WithLabelValues("anthropic", "claude-3-opus").Observe(time.Since(start).Seconds())
type Metrics struct {
	// LLMRequestDuration measures model provider request latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts model provider requests.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion|cached)
	LLMTokensUsed *prometheus.CounterVec

	// LLMCostUSD tracks estimated cost in USD, fed by CostTracker.AddUsage.
	// Labels: provider, model
	LLMCostUSD *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// PTYInstancesActive is a gauge tracking live PTY streams.
	PTYInstancesActive prometheus.Gauge

	// PTYExitCounter counts PTY process exits by signal/status.
	// Labels: reason (exit|signal|timeout)
	PTYExitCounter *prometheus.CounterVec

	// PipelineRetryCounter counts pipeline stage retries.
	// Labels: pipeline, stage
	PipelineRetryCounter *prometheus.CounterVec

	// PipelineRunCounter counts completed pipeline runs by outcome.
	// Labels: pipeline, outcome (success|stage_budget|total_budget|error)
	PipelineRunCounter *prometheus.CounterVec

	// ErrorCounter tracks errors by component and error type.
	// Labels: component (agent|provider|pty|pipeline|tool), error_type
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics. Call once at
// process startup; the CLI's serve command exposes them via promhttp.
func NewMetrics() *Metrics {
	return &Metrics{
		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "magi_llm_request_duration_seconds",
				Help:    "Duration of model provider requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "magi_llm_requests_total",
				Help: "Total number of model provider requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "magi_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		LLMCostUSD: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "magi_llm_cost_usd_total",
				Help: "Estimated model provider cost in USD",
			},
			[]string{"provider", "model"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "magi_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "magi_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		PTYInstancesActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "magi_pty_instances_active",
				Help: "Current number of live PTY streams",
			},
		),

		PTYExitCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "magi_pty_exits_total",
				Help: "Total number of PTY process exits by reason",
			},
			[]string{"reason"},
		),

		PipelineRetryCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "magi_pipeline_retries_total",
				Help: "Total number of pipeline stage retries",
			},
			[]string{"pipeline", "stage"},
		),

		PipelineRunCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "magi_pipeline_runs_total",
				Help: "Total number of completed pipeline runs by outcome",
			},
			[]string{"pipeline", "outcome"},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "magi_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),
	}
}

// RecordLLMRequest records metrics for a model provider request.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordLLMCost records estimated provider cost, fed by CostTracker.AddUsage.
func (m *Metrics) RecordLLMCost(provider, model string, costUSD float64) {
	m.LLMCostUSD.WithLabelValues(provider, model).Add(costUSD)
}

// RecordToolExecution records metrics for a tool execution.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// PTYStarted increments the active PTY gauge.
func (m *Metrics) PTYStarted() {
	m.PTYInstancesActive.Inc()
}

// PTYStopped decrements the active PTY gauge and records the exit reason.
func (m *Metrics) PTYStopped(reason string) {
	m.PTYInstancesActive.Dec()
	m.PTYExitCounter.WithLabelValues(reason).Inc()
}

// RecordPipelineRetry records one stage retry (same-stage or loopback).
func (m *Metrics) RecordPipelineRetry(pipeline, stage string) {
	m.PipelineRetryCounter.WithLabelValues(pipeline, stage).Inc()
}

// RecordPipelineRun records a pipeline run's terminal outcome.
func (m *Metrics) RecordPipelineRun(pipeline, outcome string) {
	m.PipelineRunCounter.WithLabelValues(pipeline, outcome).Inc()
}

// RecordError increments the error counter for a given component and error type.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}
