package observability

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	m, err := NewMetrics(&MetricsConfig{Enabled: true, Namespace: "test"})
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func TestMetricsRecordTaskDuration(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordTaskDuration("tool", "success", 100*time.Millisecond)
	m.RecordTaskDuration("agent", "failure", 200*time.Millisecond)
}

func TestMetricsRecordTaskError(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordTaskError("tool", "timeout")
	m.RecordTaskError("agent", "executor_not_found")
}

func TestMetricsTasksActiveGauge(t *testing.T) {
	m := newTestMetrics(t)
	m.IncTasksActive("execute")
	m.IncTasksActive("execute")
	m.DecTasksActive("execute")
}

func TestMetricsQueueDepthAndEnqueue(t *testing.T) {
	m := newTestMetrics(t)
	m.SetQueueDepth("tasks", 42)
	m.RecordEnqueue("plan", "tasks")
}

func TestMetricsRecordPreemption(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordPreemption("gpu")
}

func TestMetricsVaultMetrics(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordVaultQuery("global", 5*time.Millisecond)
	m.RecordGroundingScore("global", 0.82)
	m.RecordContextPack("global", 2048, 6)
}

func TestMetricsRecordHTTPRequest(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordHTTPRequest("GET", "/v1/tasks", 200, 10*time.Millisecond, 128, 512)
	m.RecordHTTPRequest("POST", "/v1/tasks", 500, 50*time.Millisecond, 256, 0)
}

func TestStatusCodeLabel(t *testing.T) {
	cases := map[int]string{
		200: "2xx",
		301: "3xx",
		404: "4xx",
		503: "5xx",
		0:   "unknown",
	}
	for code, want := range cases {
		if got := statusCodeLabel(code); got != want {
			t.Errorf("statusCodeLabel(%d) = %q, want %q", code, got, want)
		}
	}
}

func TestMetricsHandlerServesPrometheusFormat(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordTaskDuration("tool", "success", time.Millisecond)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordTaskDuration("x", "y", time.Millisecond)
	m.RecordTaskError("x", "y")
	m.IncTasksActive("x")
	m.DecTasksActive("x")
	m.SetQueueDepth("x", 1)
	m.RecordEnqueue("x", "y")
	m.RecordPreemption("x")
	m.RecordVaultQuery("x", time.Millisecond)
	m.RecordGroundingScore("x", 1)
	m.RecordContextPack("x", 1, 1)
	m.RecordHTTPRequest("x", "y", 200, time.Millisecond, 0, 0)
	if m.Registry() != nil {
		t.Error("expected nil registry for nil Metrics")
	}
}

func TestNoopMetrics(t *testing.T) {
	var nm NoopMetrics
	nm.RecordTaskDuration("x", "y", time.Millisecond)
	nm.RecordTaskError("x", "y")
	nm.IncTasksActive("x")
	nm.DecTasksActive("x")
	nm.SetQueueDepth("x", 1)
	nm.RecordEnqueue("x", "y")
	nm.RecordPreemption("x")
	nm.RecordVaultQuery("x", time.Millisecond)
	nm.RecordGroundingScore("x", 1)
	nm.RecordContextPack("x", 1, 1)
	nm.RecordHTTPRequest("x", "y", 200, time.Millisecond, 0, 0)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	nm.Handler().ServeHTTP(rec, req)
	if rec.Code != 503 {
		t.Errorf("expected 503 from noop metrics handler, got %d", rec.Code)
	}
}

func TestNoopTracer(t *testing.T) {
	var tracer NoopTracer
	ctx := context.Background()

	ctx, span := tracer.StartTaskExecution(ctx, "task-1", "tool", "search", "worker-1")
	if ctx == nil || span == nil {
		t.Fatal("expected non-nil context and span from noop tracer")
	}
	tracer.AddTaskResult(span, "success", 10)
	tracer.AddPreemption(span, "task-2", "task-1")
	tracer.AddVaultResult(span, 3, 512)
	tracer.AddPayload(span, "in", "out")
	tracer.RecordError(span, nil)
	if tracer.DebugExporter() != nil {
		t.Error("expected nil debug exporter from noop tracer")
	}
	if err := tracer.Shutdown(ctx); err != nil {
		t.Errorf("noop tracer Shutdown: %v", err)
	}
}

func TestDebugExporterStartsEmpty(t *testing.T) {
	exporter := NewDebugExporter()
	if exporter.Count() != 0 {
		t.Fatalf("expected empty exporter, got %d spans", exporter.Count())
	}
	if exporter.GetByTaskID("task-1") != nil {
		t.Error("expected no span for unknown task ID")
	}
}

func TestManagerDisabledIsSafe(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager(ctx, nil)
	if err != nil {
		t.Fatalf("NewManager(nil): %v", err)
	}
	if m.TracingEnabled() || m.MetricsEnabled() {
		t.Error("expected disabled manager to report both off")
	}
	if m.Tracer() != nil || m.Metrics() != nil {
		t.Error("expected nil tracer/metrics on disabled manager")
	}
	if err := m.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown on disabled manager: %v", err)
	}
}

func TestManagerMetricsOnly(t *testing.T) {
	ctx := context.Background()
	cfg := &Config{Metrics: MetricsConfig{Enabled: true}}
	m, err := NewManager(ctx, cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if !m.MetricsEnabled() {
		t.Error("expected metrics enabled")
	}
	if m.TracingEnabled() {
		t.Error("expected tracing disabled")
	}
	if m.MetricsEndpoint() != DefaultMetricsPath {
		t.Errorf("expected default metrics endpoint, got %q", m.MetricsEndpoint())
	}
}
