// Package observability exposes the Prometheus metrics surface of the
// runtime, served on /metrics by the gateway.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector of the runtime. Collectors are registered
// with the given registerer at construction; a nil *Metrics is safe to use
// and records nothing.
type Metrics struct {
	MessageCounter      *prometheus.CounterVec
	LLMRequestDuration  *prometheus.HistogramVec
	LLMTokens           *prometheus.CounterVec
	ToolExecutions      *prometheus.CounterVec
	ToolDuration        *prometheus.HistogramVec
	GuardrailChecks     *prometheus.CounterVec
	ActiveSessions      prometheus.Gauge
	BackgroundProcesses prometheus.Gauge
	HITLRequests        *prometheus.CounterVec
}

// New registers the metric set with reg (use prometheus.DefaultRegisterer
// in production, a fresh registry in tests).
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		MessageCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sidekick_messages_total",
				Help: "Messages processed by direction and outcome",
			},
			[]string{"direction", "outcome"},
		),
		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sidekick_llm_request_duration_seconds",
				Help:    "LLM request latency by backend and model",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"backend", "model"},
		),
		LLMTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sidekick_llm_tokens_total",
				Help: "Token usage by model and direction (input/output)",
			},
			[]string{"model", "direction"},
		),
		ToolExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sidekick_tool_executions_total",
				Help: "Tool executions by tool name and outcome",
			},
			[]string{"tool", "outcome"},
		),
		ToolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sidekick_tool_execution_duration_seconds",
				Help:    "Tool execution latency by tool name",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
			},
			[]string{"tool"},
		),
		GuardrailChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sidekick_guardrail_checks_total",
				Help: "Guardrail check results by check name and outcome",
			},
			[]string{"check", "outcome"},
		),
		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sidekick_active_agent_sessions",
				Help: "Agent sessions currently in a non-terminal state",
			},
		),
		BackgroundProcesses: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sidekick_background_processes",
				Help: "Background shell processes currently registered",
			},
		),
		HITLRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sidekick_hitl_requests_total",
				Help: "Human-in-the-loop requests by outcome (approved/rejected/timeout)",
			},
			[]string{"outcome"},
		),
	}
}

// ObserveMessage increments the message counter; nil-safe.
func (m *Metrics) ObserveMessage(direction, outcome string) {
	if m == nil {
		return
	}
	m.MessageCounter.WithLabelValues(direction, outcome).Inc()
}

// ObserveTool records one tool execution; nil-safe.
func (m *Metrics) ObserveTool(tool, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.ToolExecutions.WithLabelValues(tool, outcome).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(seconds)
}

// ObserveGuardrail records one guardrail check result; nil-safe.
func (m *Metrics) ObserveGuardrail(check, outcome string) {
	if m == nil {
		return
	}
	m.GuardrailChecks.WithLabelValues(check, outcome).Inc()
}

// ObserveLLM records one LLM request; nil-safe.
func (m *Metrics) ObserveLLM(backend, model string, seconds float64, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	m.LLMRequestDuration.WithLabelValues(backend, model).Observe(seconds)
	m.LLMTokens.WithLabelValues(model, "input").Add(float64(inputTokens))
	m.LLMTokens.WithLabelValues(model, "output").Add(float64(outputTokens))
}

// ObserveHITL records one rendezvous outcome; nil-safe.
func (m *Metrics) ObserveHITL(outcome string) {
	if m == nil {
		return
	}
	m.HITLRequests.WithLabelValues(outcome).Inc()
}

// SetActiveSessions updates the session gauge; nil-safe.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

// SetBackgroundProcesses updates the process gauge; nil-safe.
func (m *Metrics) SetBackgroundProcesses(n int) {
	if m == nil {
		return
	}
	m.BackgroundProcesses.Set(float64(n))
}
