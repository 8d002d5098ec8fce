package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting kernel metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Active sessions and how long they live
//   - Plan cycles (perception -> intent -> decision) and their outcomes
//   - Tool execution latency and error rates, foreground and background
//   - Elicitation gate activity
//   - LLM completion performance and token usage
//
// Usage:
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.SessionStarted()
//	defer metrics.SessionEnded(time.Since(start).Seconds())
type Metrics struct {
	// ActiveSessions is a gauge tracking the current number of live actors.
	ActiveSessions prometheus.Gauge

	// SessionDuration measures how long a session stays active, from actor
	// spawn to shutdown, in seconds.
	// Buckets: 60s, 300s, 600s, 1800s, 3600s, 7200s, 14400s, 28800s
	SessionDuration prometheus.Histogram

	// PlanCounter counts decision.Engine.Plan invocations by outcome.
	// Labels: outcome (success|no_tools|error)
	PlanCounter *prometheus.CounterVec

	// PlanDuration measures how long a plan cycle takes, in seconds.
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 10s
	PlanDuration prometheus.Histogram

	// ToolExecutionCounter counts tool invocations by tool name, whether the
	// call ran foreground or background, and outcome.
	// Labels: tool_name, mode (foreground|background), status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name, mode
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 10s, 30s, 60s
	ToolExecutionDuration *prometheus.HistogramVec

	// BackgroundTasksActive is a gauge tracking in-flight background tasks
	// across all sessions.
	BackgroundTasksActive prometheus.Gauge

	// BackgroundTaskCounter counts completed background tasks by outcome.
	// Labels: status (completed|failed|cancelled)
	BackgroundTaskCounter *prometheus.CounterVec

	// ElicitationGateCounter counts elicitation gate transitions.
	// Labels: outcome (opened|resolved|dropped_input)
	ElicitationGateCounter *prometheus.CounterVec

	// LLMRequestDuration measures completion latency in seconds.
	// Labels: model
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts completion requests by model and status.
	// Labels: model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption by model and token type.
	// Labels: model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ErrorCounter tracks errors by component and error type.
	// Labels: component (perception|intent|decision|resolver|workflow|mcp), error_type
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics against reg.
// Pass prometheus.DefaultRegisterer to serve them at the kernel's metrics
// HTTP endpoint, or an isolated *prometheus.Registry in tests to avoid
// colliding with other registrations in the same process.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "robotd_active_sessions",
				Help: "Current number of live session actors",
			},
		),

		SessionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "robotd_session_duration_seconds",
				Help:    "Duration of a session from actor spawn to shutdown",
				Buckets: []float64{60, 300, 600, 1800, 3600, 7200, 14400, 28800},
			},
		),

		PlanCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "robotd_plans_total",
				Help: "Total number of plan cycles by outcome",
			},
			[]string{"outcome"},
		),

		PlanDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "robotd_plan_duration_seconds",
				Help:    "Duration of a perception/intent/decision plan cycle",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "robotd_tool_executions_total",
				Help: "Total number of tool executions by tool name, mode, and status",
			},
			[]string{"tool_name", "mode", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "robotd_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name", "mode"},
		),

		BackgroundTasksActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "robotd_background_tasks_active",
				Help: "Current number of in-flight background tasks",
			},
		),

		BackgroundTaskCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "robotd_background_tasks_total",
				Help: "Total number of completed background tasks by outcome",
			},
			[]string{"status"},
		),

		ElicitationGateCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "robotd_elicitation_gate_total",
				Help: "Total number of elicitation gate transitions by outcome",
			},
			[]string{"outcome"},
		),

		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "robotd_llm_request_duration_seconds",
				Help:    "Duration of LLM completion requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"model"},
		),

		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "robotd_llm_requests_total",
				Help: "Total number of LLM completion requests by model and status",
			},
			[]string{"model", "status"},
		),

		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "robotd_llm_tokens_total",
				Help: "Total number of tokens used by model and token type",
			},
			[]string{"model", "type"},
		),

		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "robotd_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),
	}
}

// SessionStarted increments the active sessions gauge.
func (m *Metrics) SessionStarted() {
	m.ActiveSessions.Inc()
}

// SessionEnded decrements the active sessions gauge and records the
// session's total lifetime.
func (m *Metrics) SessionEnded(durationSeconds float64) {
	m.ActiveSessions.Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordPlan records the outcome and duration of a plan cycle.
//
// Example:
//
//	start := time.Now()
//	// ... perception -> intent -> decision.Plan ...
//	metrics.RecordPlan("success", time.Since(start).Seconds())
func (m *Metrics) RecordPlan(outcome string, durationSeconds float64) {
	m.PlanCounter.WithLabelValues(outcome).Inc()
	m.PlanDuration.Observe(durationSeconds)
}

// RecordToolExecution records metrics for a tool execution.
//
// Example:
//
//	start := time.Now()
//	// ... execute tool ...
//	metrics.RecordToolExecution("get_weather", "foreground", "success", time.Since(start).Seconds())
func (m *Metrics) RecordToolExecution(toolName, mode, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, mode, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName, mode).Observe(durationSeconds)
}

// BackgroundTaskStarted increments the active background task gauge.
func (m *Metrics) BackgroundTaskStarted() {
	m.BackgroundTasksActive.Inc()
}

// BackgroundTaskFinished decrements the active background task gauge and
// records the outcome.
//
// Example:
//
//	metrics.BackgroundTaskFinished("completed")
//	metrics.BackgroundTaskFinished("failed")
func (m *Metrics) BackgroundTaskFinished(status string) {
	m.BackgroundTasksActive.Dec()
	m.BackgroundTaskCounter.WithLabelValues(status).Inc()
}

// RecordElicitationGate records an elicitation gate transition.
//
// Example:
//
//	metrics.RecordElicitationGate("opened")
//	metrics.RecordElicitationGate("resolved")
//	metrics.RecordElicitationGate("dropped_input")
func (m *Metrics) RecordElicitationGate(outcome string) {
	m.ElicitationGateCounter.WithLabelValues(outcome).Inc()
}

// RecordLLMRequest records metrics for an LLM completion request.
//
// Example:
//
//	start := time.Now()
//	// ... make completion request ...
//	metrics.RecordLLMRequest("local-model", "success", time.Since(start).Seconds(), 100, 500)
func (m *Metrics) RecordLLMRequest(model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
}

// RecordError increments the error counter for a given component and error type.
//
// Example:
//
//	metrics.RecordError("resolver", "timeout")
//	metrics.RecordError("mcp", "schema_invalid")
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}
