package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// scrape renders the current state of a metrics handler as Prometheus text.
func scrape(t *testing.T, h http.Handler) string {
	t.Helper()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func memoryTracer(t *testing.T, capturePayloads bool) *Tracer {
	t.Helper()

	tracer, err := NewTracer(context.Background(), TracingConfig{
		Enabled:         true,
		Exporter:        "memory",
		CapturePayloads: capturePayloads,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tracer.Shutdown(context.Background()) })
	return tracer
}

// ==== CONFIG ====

func TestConfig_Defaults(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()

	assert.Equal(t, "otlp", cfg.Tracing.Exporter)
	assert.Equal(t, DefaultOTLPEndpoint, cfg.Tracing.Endpoint)
	assert.Equal(t, DefaultServiceName, cfg.Tracing.ServiceName)
	assert.Equal(t, DefaultSamplingRate, cfg.Tracing.SamplingRate)
	assert.True(t, cfg.Tracing.IsInsecure())
	assert.Equal(t, DefaultMetricsPath, cfg.Metrics.Endpoint)
	assert.Equal(t, "webx", cfg.Metrics.Namespace)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_RejectsBadSamplingRate(t *testing.T) {
	cfg := Config{Tracing: TracingConfig{Enabled: true, SamplingRate: 2}}
	cfg.SetDefaults()

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sampling_rate")
}

func TestConfig_RejectsUnknownExporter(t *testing.T) {
	cfg := Config{Tracing: TracingConfig{Enabled: true, Exporter: "jaeger"}}
	cfg.SetDefaults()

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid exporter")
}

// ==== METRICS ====

func TestMetrics_RecordsAndScrapes(t *testing.T) {
	ctx := context.Background()

	m, err := NewMetrics(MetricsConfig{})
	require.NoError(t, err)
	defer m.Shutdown(ctx)

	m.RecordAgentRun(ctx, "webx", 120*time.Millisecond, nil)
	m.RecordAgentRun(ctx, "webx", 80*time.Millisecond, errors.New("boom"))
	m.RecordLLMCall(ctx, "openai/gpt-5", 500*time.Millisecond, 100, 40, nil)
	m.RecordToolExecution(ctx, "extract_article", 50*time.Millisecond, nil)
	m.RecordTaskState(ctx, "completed")

	body := scrape(t, m.Handler())

	assert.Contains(t, body, "webx_agent_run_duration_seconds")
	assert.Contains(t, body, "webx_agent_runs_total")
	assert.Contains(t, body, "webx_agent_errors_total")
	assert.Contains(t, body, "webx_llm_tokens_input_total")
	assert.Contains(t, body, "webx_llm_tokens_output_total")
	assert.Contains(t, body, "webx_tool_calls_total")
	assert.Contains(t, body, "webx_tasks_total")
	assert.Contains(t, body, `model="openai/gpt-5"`)
	assert.Contains(t, body, `tool="extract_article"`)
	assert.Contains(t, body, `state="completed"`)
}

func TestMetrics_ActiveRunsGauge(t *testing.T) {
	ctx := context.Background()

	m, err := NewMetrics(MetricsConfig{})
	require.NoError(t, err)
	defer m.Shutdown(ctx)

	m.IncAgentActiveRuns(ctx, "webx")
	m.IncAgentActiveRuns(ctx, "webx")
	m.DecAgentActiveRuns(ctx, "webx")

	assert.Contains(t, scrape(t, m.Handler()), "webx_agent_active_runs")
}

func TestMetrics_ConstLabels(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{ConstLabels: map[string]string{"env": "test"}})
	require.NoError(t, err)
	defer m.Shutdown(context.Background())

	m.RecordTaskState(context.Background(), "failed")

	assert.Contains(t, scrape(t, m.Handler()), `env="test"`)
}

func TestMetrics_NilReceiverIsSafe(t *testing.T) {
	ctx := context.Background()
	var m *Metrics

	m.RecordAgentRun(ctx, "webx", time.Second, nil)
	m.IncAgentActiveRuns(ctx, "webx")
	m.DecAgentActiveRuns(ctx, "webx")
	m.RecordLLMCall(ctx, "m", time.Second, 1, 1, nil)
	m.RecordToolExecution(ctx, "t", time.Second, nil)
	m.RecordTaskState(ctx, "canceled")
	m.RecordHTTPRequest(ctx, "GET", "/", 200, time.Second, 0, 0)
	assert.NoError(t, m.Shutdown(ctx))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "metrics not enabled")
}

func TestMetricName(t *testing.T) {
	assert.Equal(t, "webx_tool_calls_total",
		metricName(MetricsConfig{Namespace: "webx"}, "tool_calls_total"))
	assert.Equal(t, "acme_extract_tool_calls_total",
		metricName(MetricsConfig{Namespace: "acme", Subsystem: "extract"}, "tool_calls_total"))
	assert.Equal(t, "tool_calls_total",
		metricName(MetricsConfig{}, "tool_calls_total"))
}

// ==== TRACER ====

func TestTracer_MemoryExporterCapturesAgentSpans(t *testing.T) {
	tracer := memoryTracer(t, false)

	_, span := tracer.StartAgentRun(context.Background(), "webx", "openai/gpt-5", "task-1")
	span.End()

	debug := tracer.DebugExporter()
	require.NotNil(t, debug)

	spans := debug.GetSpansByName(SpanAgentRun)
	require.Len(t, spans, 1)
	assert.Equal(t, "webx", spans[0].Attributes[AttrAgentName])
	assert.Equal(t, "openai/gpt-5", spans[0].Attributes[AttrAgentModel])
	assert.Equal(t, "task-1", spans[0].Attributes[AttrTaskID])

	byTask := debug.GetByTaskID("task-1")
	require.NotNil(t, byTask)
	assert.Equal(t, spans[0].SpanID, byTask.SpanID)
}

func TestTracer_LLMSpanCarriesUsage(t *testing.T) {
	tracer := memoryTracer(t, false)

	_, span := tracer.StartLLMCall(context.Background(), "openai/gpt-5")
	tracer.AddLLMUsage(span, 100, 42)
	span.End()

	spans := tracer.DebugExporter().GetSpansByName(SpanLLMRequest)
	require.Len(t, spans, 1)
	assert.Equal(t, "openai/gpt-5", spans[0].Attributes[AttrLLMModel])
	assert.Equal(t, "100", spans[0].Attributes[AttrLLMTokensInput])
	assert.Equal(t, "42", spans[0].Attributes[AttrLLMTokensOutput])
}

func TestTracer_RecordErrorMarksSpan(t *testing.T) {
	tracer := memoryTracer(t, false)

	_, span := tracer.StartToolExecution(context.Background(), "extract_article")
	tracer.RecordError(span, errors.New("fetch failed"))
	tracer.RecordError(span, nil)
	span.End()

	spans := tracer.DebugExporter().GetSpansByName(SpanToolExecution)
	require.Len(t, spans, 1)
	assert.Equal(t, "Error", spans[0].Status)
	assert.Equal(t, "fetch failed", spans[0].StatusMsg)
}

func TestTracer_PayloadCaptureIsOptIn(t *testing.T) {
	prompt := strings.Repeat("a", maxPayloadLen+100)

	capturing := memoryTracer(t, true)
	_, span := capturing.StartLLMCall(context.Background(), "m")
	capturing.AddPayload(span, AttrLLMPrompt, prompt)
	span.End()

	spans := capturing.DebugExporter().GetSpansByName(SpanLLMRequest)
	require.Len(t, spans, 1)
	assert.Len(t, spans[0].Attributes[AttrLLMPrompt], maxPayloadLen+len("..."))

	silent := memoryTracer(t, false)
	_, span = silent.StartLLMCall(context.Background(), "m")
	silent.AddPayload(span, AttrLLMPrompt, prompt)
	span.End()

	spans = silent.DebugExporter().GetSpansByName(SpanLLMRequest)
	require.Len(t, spans, 1)
	assert.NotContains(t, spans[0].Attributes, AttrLLMPrompt)
}

func TestTracer_NilReceiverIsSafe(t *testing.T) {
	var tracer *Tracer

	ctx, span := tracer.Start(context.Background(), "anything")
	require.NotNil(t, ctx)
	tracer.AddLLMUsage(span, 1, 2)
	tracer.AddPayload(span, AttrLLMPrompt, "ignored")
	tracer.RecordError(span, errors.New("ignored"))
	span.End()

	assert.Nil(t, tracer.DebugExporter())
	assert.NoError(t, tracer.Shutdown(context.Background()))
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"hello", 10, "hello"},
		{"hello world", 5, "hello..."},
		{"", 5, ""},
		{"test", 4, "test"},
		{"toolongstring", 4, "tool..."},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, truncate(tt.input, tt.maxLen))
	}
}

// ==== DEBUG EXPORTER ====

func TestDebugExporter_EvictsOverLimit(t *testing.T) {
	exporter := NewDebugExporter().WithMaxSize(2)
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer tp.Shutdown(context.Background())
	tracer := tp.Tracer("test")

	for i := 0; i < 3; i++ {
		_, span := tracer.Start(context.Background(), SpanAgentRun)
		span.End()
	}

	assert.Equal(t, 2, exporter.Count())
}

func TestDebugExporter_IgnoresForeignSpans(t *testing.T) {
	exporter := NewDebugExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer tp.Shutdown(context.Background())

	_, span := tp.Tracer("test").Start(context.Background(), "database.query")
	span.End()

	assert.Zero(t, exporter.Count())
}

func TestDebugExporter_Clear(t *testing.T) {
	exporter := NewDebugExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer tp.Shutdown(context.Background())

	_, span := tp.Tracer("test").Start(context.Background(), SpanLLMRequest)
	span.End()
	require.Equal(t, 1, exporter.Count())

	exporter.Clear()
	assert.Zero(t, exporter.Count())
	assert.Empty(t, exporter.GetAllSpans())
}

// ==== MANAGER ====

func TestManager_MetricsOnly(t *testing.T) {
	ctx := context.Background()

	mgr, err := NewManager(ctx, Config{Metrics: MetricsConfig{Enabled: true}})
	require.NoError(t, err)
	defer mgr.Shutdown(ctx)

	assert.True(t, mgr.MetricsEnabled())
	assert.False(t, mgr.TracingEnabled())
	assert.Equal(t, DefaultMetricsPath, mgr.MetricsEndpoint())
	assert.Nil(t, mgr.Tracer())

	mgr.Metrics().RecordTaskState(ctx, "working")
	assert.Contains(t, scrape(t, mgr.MetricsHandler()), "webx_tasks_total")

	assert.Same(t, mgr.Metrics(), GlobalMetrics())
}

func TestManager_TracingWithMemoryExporter(t *testing.T) {
	ctx := context.Background()

	mgr, err := NewManager(ctx, Config{
		Tracing: TracingConfig{Enabled: true, Exporter: "memory"},
	})
	require.NoError(t, err)

	assert.True(t, mgr.TracingEnabled())
	assert.False(t, mgr.MetricsEnabled())
	assert.Same(t, mgr.Tracer(), GlobalTracer())

	_, span := mgr.Tracer().StartAgentRun(ctx, "webx", "openai/gpt-5", "task-9")
	span.End()
	assert.NotNil(t, mgr.Tracer().DebugExporter().GetByTaskID("task-9"))

	assert.NoError(t, mgr.Shutdown(ctx))
}

func TestManager_CustomMetricsEndpoint(t *testing.T) {
	mgr, err := NewManager(context.Background(), Config{
		Metrics: MetricsConfig{Enabled: true, Endpoint: "/internal/metrics"},
	})
	require.NoError(t, err)
	defer mgr.Shutdown(context.Background())

	assert.Equal(t, "/internal/metrics", mgr.MetricsEndpoint())
}

func TestManager_RejectsInvalidConfig(t *testing.T) {
	_, err := NewManager(context.Background(), Config{
		Tracing: TracingConfig{Enabled: true, SamplingRate: 3},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid observability config")
}

func TestNoopManager(t *testing.T) {
	mgr := NoopManager()

	assert.False(t, mgr.TracingEnabled())
	assert.False(t, mgr.MetricsEnabled())
	assert.Equal(t, DefaultMetricsPath, mgr.MetricsEndpoint())
	assert.NoError(t, mgr.Shutdown(context.Background()))

	rec := httptest.NewRecorder()
	mgr.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// Recording through a disabled manager must not panic.
	_, span := mgr.Tracer().Start(context.Background(), SpanAgentRun)
	span.End()
	mgr.Metrics().RecordTaskState(context.Background(), "completed")
}
