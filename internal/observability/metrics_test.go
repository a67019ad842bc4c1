package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveMessage("inbound", "ok")
	m.ObserveMessage("inbound", "ok")
	m.ObserveTool("run_command", "error", 0.5)
	m.ObserveGuardrail("not_empty", "pass")
	m.ObserveLLM("ollama", "qwen3:14b", 1.2, 100, 50)
	m.ObserveHITL("approved")
	m.SetActiveSessions(2)
	m.SetBackgroundProcesses(1)

	if got := testutil.ToFloat64(m.MessageCounter.WithLabelValues("inbound", "ok")); got != 2 {
		t.Errorf("messages_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ToolExecutions.WithLabelValues("run_command", "error")); got != 1 {
		t.Errorf("tool_executions_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.LLMTokens.WithLabelValues("qwen3:14b", "input")); got != 100 {
		t.Errorf("llm_tokens input = %v, want 100", got)
	}
	if got := testutil.ToFloat64(m.ActiveSessions); got != 2 {
		t.Errorf("active_sessions = %v, want 2", got)
	}
}

func TestNilMetricsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveMessage("inbound", "ok")
	m.ObserveTool("x", "ok", 0)
	m.ObserveGuardrail("x", "pass")
	m.ObserveLLM("b", "m", 0, 0, 0)
	m.ObserveHITL("timeout")
	m.SetActiveSessions(0)
	m.SetBackgroundProcesses(0)
}
