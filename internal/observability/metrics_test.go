package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_SessionLifecycle(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.SessionStarted()
	m.SessionStarted()
	if got := testutil.ToFloat64(m.ActiveSessions); got != 2 {
		t.Fatalf("expected 2 active sessions, got %v", got)
	}

	m.SessionEnded(300.0)
	if got := testutil.ToFloat64(m.ActiveSessions); got != 1 {
		t.Fatalf("expected 1 active session after end, got %v", got)
	}
	if got := testutil.CollectAndCount(m.SessionDuration); got != 1 {
		t.Fatalf("expected 1 session duration observation, got %d", got)
	}
}

func TestMetrics_RecordPlan(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordPlan("success", 0.05)
	m.RecordPlan("no_tools", 0.01)

	if got := testutil.ToFloat64(m.PlanCounter.WithLabelValues("success")); got != 1 {
		t.Fatalf("expected 1 success plan recorded, got %v", got)
	}
	if got := testutil.ToFloat64(m.PlanCounter.WithLabelValues("no_tools")); got != 1 {
		t.Fatalf("expected 1 no_tools plan recorded, got %v", got)
	}
}

func TestMetrics_RecordToolExecution(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordToolExecution("get_weather", "foreground", "success", 0.2)
	m.RecordToolExecution("get_weather", "background", "error", 1.5)

	if got := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("get_weather", "foreground", "success")); got != 1 {
		t.Fatalf("expected 1 foreground success recorded, got %v", got)
	}
	if got := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("get_weather", "background", "error")); got != 1 {
		t.Fatalf("expected 1 background error recorded, got %v", got)
	}
}

func TestMetrics_BackgroundTaskLifecycle(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.BackgroundTaskStarted()
	m.BackgroundTaskStarted()
	if got := testutil.ToFloat64(m.BackgroundTasksActive); got != 2 {
		t.Fatalf("expected 2 active background tasks, got %v", got)
	}

	m.BackgroundTaskFinished("completed")
	if got := testutil.ToFloat64(m.BackgroundTasksActive); got != 1 {
		t.Fatalf("expected 1 active background task after finish, got %v", got)
	}
	if got := testutil.ToFloat64(m.BackgroundTaskCounter.WithLabelValues("completed")); got != 1 {
		t.Fatalf("expected 1 completed background task recorded, got %v", got)
	}
}

func TestMetrics_RecordElicitationGate(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordElicitationGate("opened")
	m.RecordElicitationGate("resolved")

	if got := testutil.ToFloat64(m.ElicitationGateCounter.WithLabelValues("opened")); got != 1 {
		t.Fatalf("expected 1 opened gate event, got %v", got)
	}
	if got := testutil.ToFloat64(m.ElicitationGateCounter.WithLabelValues("resolved")); got != 1 {
		t.Fatalf("expected 1 resolved gate event, got %v", got)
	}
}

func TestMetrics_RecordLLMRequest(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordLLMRequest("local-model", "success", 1.2, 100, 500)

	if got := testutil.ToFloat64(m.LLMRequestCounter.WithLabelValues("local-model", "success")); got != 1 {
		t.Fatalf("expected 1 LLM request recorded, got %v", got)
	}
	if got := testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("local-model", "prompt")); got != 100 {
		t.Fatalf("expected 100 prompt tokens recorded, got %v", got)
	}
	if got := testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("local-model", "completion")); got != 500 {
		t.Fatalf("expected 500 completion tokens recorded, got %v", got)
	}
}

func TestMetrics_RecordError(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordError("resolver", "timeout")
	m.RecordError("resolver", "timeout")
	m.RecordError("mcp", "schema_invalid")

	if got := testutil.ToFloat64(m.ErrorCounter.WithLabelValues("resolver", "timeout")); got != 2 {
		t.Fatalf("expected 2 resolver timeouts recorded, got %v", got)
	}
	if got := testutil.ToFloat64(m.ErrorCounter.WithLabelValues("mcp", "schema_invalid")); got != 1 {
		t.Fatalf("expected 1 mcp schema error recorded, got %v", got)
	}
}
