// Package observability centralizes Prometheus metrics and structured
// logger construction for the runtime.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the runtime's Prometheus instruments:
//   - agentic turn counts and latency
//   - LLM call performance, retries, and token consumption
//   - tool execution patterns
//   - context compaction events
//   - marathon lifecycle transitions and watchdog restarts
//   - HTTP control-plane traffic
type Metrics struct {
	// TurnDuration measures full agentic turn latency in seconds.
	// Labels: session_type
	TurnDuration *prometheus.HistogramVec

	// TurnCounter counts completed turns.
	// Labels: session_type, status (success|error)
	TurnCounter *prometheus.CounterVec

	// LLMRequestDuration measures LLM call latency in seconds.
	// Labels: model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM calls.
	// Labels: model, status (success|error|retried)
	LLMRequestCounter *prometheus.CounterVec

	// TokensUsed tracks token consumption.
	// Labels: model, type (input|output)
	TokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error|timeout|denied)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// CompactionCounter counts context compaction runs.
	// Labels: outcome (summarized|failed)
	CompactionCounter *prometheus.CounterVec

	// BudgetDenials counts requests rejected by the budget enforcer.
	// Labels: limit (request|session|day|cost_session|cost_day)
	BudgetDenials *prometheus.CounterVec

	// MarathonTransitions counts marathon status transitions.
	// Labels: to_status
	MarathonTransitions *prometheus.CounterVec

	// WatchdogRestarts counts stale-marathon restarts.
	WatchdogRestarts prometheus.Counter

	// ActiveMarathons gauges marathons currently executing.
	ActiveMarathons prometheus.Gauge

	// HTTPRequestDuration measures control-plane request latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts control-plane requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// RateLimitDenials counts requests rejected by the per-key limiter.
	RateLimitDenials prometheus.Counter
}

// NewMetrics creates and registers all instruments with the given
// registerer. Pass prometheus.DefaultRegisterer in production; tests use a
// fresh registry to stay isolated.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TurnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "longhaul_turn_duration_seconds",
				Help:    "Duration of agentic turns in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"session_type"},
		),
		TurnCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "longhaul_turns_total",
				Help: "Total number of agentic turns by session type and status",
			},
			[]string{"session_type", "status"},
		),
		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "longhaul_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"model"},
		),
		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "longhaul_llm_requests_total",
				Help: "Total number of LLM requests by model and status",
			},
			[]string{"model", "status"},
		),
		TokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "longhaul_tokens_total",
				Help: "Total number of tokens consumed by model and type",
			},
			[]string{"model", "type"},
		),
		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "longhaul_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "longhaul_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
			},
			[]string{"tool_name"},
		),
		CompactionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "longhaul_context_compactions_total",
				Help: "Total number of context compaction runs by outcome",
			},
			[]string{"outcome"},
		),
		BudgetDenials: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "longhaul_budget_denials_total",
				Help: "Total number of requests denied by budget limits",
			},
			[]string{"limit"},
		),
		MarathonTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "longhaul_marathon_transitions_total",
				Help: "Total number of marathon status transitions",
			},
			[]string{"to_status"},
		),
		WatchdogRestarts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "longhaul_watchdog_restarts_total",
				Help: "Total number of stale marathon restarts by the watchdog",
			},
		),
		ActiveMarathons: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "longhaul_active_marathons",
				Help: "Current number of executing marathons",
			},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "longhaul_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "longhaul_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		RateLimitDenials: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "longhaul_rate_limit_denials_total",
				Help: "Total number of requests denied by the rate limiter",
			},
		),
	}
}

// RecordLLMRequest records one LLM call.
func (m *Metrics) RecordLLMRequest(model, status string, durationSeconds float64, inputTokens, outputTokens int64) {
	m.LLMRequestCounter.WithLabelValues(model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(model).Observe(durationSeconds)
	if inputTokens > 0 {
		m.TokensUsed.WithLabelValues(model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.TokensUsed.WithLabelValues(model, "output").Add(float64(outputTokens))
	}
}

// RecordToolExecution records one tool run.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordTurn records one completed agentic turn.
func (m *Metrics) RecordTurn(sessionType, status string, durationSeconds float64) {
	m.TurnCounter.WithLabelValues(sessionType, status).Inc()
	m.TurnDuration.WithLabelValues(sessionType).Observe(durationSeconds)
}

// RecordHTTPRequest records one control-plane request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}
