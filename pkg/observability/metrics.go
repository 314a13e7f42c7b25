// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 The web-extraction-agent authors
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics records agent, model, tool, task and HTTP metrics into a private
// Prometheus registry. All recording methods are safe on a nil receiver and
// do nothing, so callers never need to guard for disabled metrics.
type Metrics struct {
	registry *prometheus.Registry
	provider *sdkmetric.MeterProvider

	agentDuration metric.Float64Histogram
	agentRuns     metric.Int64Counter
	agentErrors   metric.Int64Counter
	agentActive   metric.Int64UpDownCounter

	llmDuration     metric.Float64Histogram
	llmInputTokens  metric.Int64Counter
	llmOutputTokens metric.Int64Counter
	llmErrors       metric.Int64Counter

	toolDuration metric.Float64Histogram
	toolCalls    metric.Int64Counter
	toolErrors   metric.Int64Counter

	taskStates metric.Int64Counter

	httpDuration     metric.Float64Histogram
	httpRequests     metric.Int64Counter
	httpRequestSize  metric.Int64Histogram
	httpResponseSize metric.Int64Histogram
}

// NewMetrics builds the metric instruments and the Prometheus registry that
// backs Handler. Metric names are prefixed with the configured namespace
// (and subsystem, when set).
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	cfg.SetDefaults()

	registry := prometheus.NewRegistry()
	var registerer prometheus.Registerer = registry
	if len(cfg.ConstLabels) > 0 {
		registerer = prometheus.WrapRegistererWith(prometheus.Labels(cfg.ConstLabels), registry)
	}

	exporter, err := otelprom.New(otelprom.WithRegisterer(registerer))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(instrumentationName)

	m := &Metrics{
		registry: registry,
		provider: provider,
	}

	m.agentDuration, err = meter.Float64Histogram(
		metricName(cfg, "agent_run_duration_seconds"),
		metric.WithDescription("Agent run duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent duration histogram: %w", err)
	}

	m.agentRuns, err = meter.Int64Counter(
		metricName(cfg, "agent_runs_total"),
		metric.WithDescription("Total agent runs"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent runs counter: %w", err)
	}

	m.agentErrors, err = meter.Int64Counter(
		metricName(cfg, "agent_errors_total"),
		metric.WithDescription("Total agent run errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent errors counter: %w", err)
	}

	m.agentActive, err = meter.Int64UpDownCounter(
		metricName(cfg, "agent_active_runs"),
		metric.WithDescription("Agent runs currently in flight"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent active runs counter: %w", err)
	}

	m.llmDuration, err = meter.Float64Histogram(
		metricName(cfg, "llm_request_duration_seconds"),
		metric.WithDescription("Model request duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm duration histogram: %w", err)
	}

	m.llmInputTokens, err = meter.Int64Counter(
		metricName(cfg, "llm_tokens_input_total"),
		metric.WithDescription("Total input tokens sent to the model"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm input tokens counter: %w", err)
	}

	m.llmOutputTokens, err = meter.Int64Counter(
		metricName(cfg, "llm_tokens_output_total"),
		metric.WithDescription("Total output tokens from the model"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm output tokens counter: %w", err)
	}

	m.llmErrors, err = meter.Int64Counter(
		metricName(cfg, "llm_errors_total"),
		metric.WithDescription("Total model request errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm errors counter: %w", err)
	}

	m.toolDuration, err = meter.Float64Histogram(
		metricName(cfg, "tool_execution_duration_seconds"),
		metric.WithDescription("Tool execution duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool duration histogram: %w", err)
	}

	m.toolCalls, err = meter.Int64Counter(
		metricName(cfg, "tool_calls_total"),
		metric.WithDescription("Total tool calls"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool calls counter: %w", err)
	}

	m.toolErrors, err = meter.Int64Counter(
		metricName(cfg, "tool_errors_total"),
		metric.WithDescription("Total tool errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool errors counter: %w", err)
	}

	m.taskStates, err = meter.Int64Counter(
		metricName(cfg, "tasks_total"),
		metric.WithDescription("Tasks by terminal state"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tasks counter: %w", err)
	}

	m.httpDuration, err = meter.Float64Histogram(
		metricName(cfg, "http_request_duration_seconds"),
		metric.WithDescription("HTTP request duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http duration histogram: %w", err)
	}

	m.httpRequests, err = meter.Int64Counter(
		metricName(cfg, "http_requests_total"),
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http requests counter: %w", err)
	}

	m.httpRequestSize, err = meter.Int64Histogram(
		metricName(cfg, "http_request_size_bytes"),
		metric.WithDescription("HTTP request body size in bytes"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request size histogram: %w", err)
	}

	m.httpResponseSize, err = meter.Int64Histogram(
		metricName(cfg, "http_response_size_bytes"),
		metric.WithDescription("HTTP response body size in bytes"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http response size histogram: %w", err)
	}

	return m, nil
}

// RecordAgentRun records one completed agent run.
func (m *Metrics) RecordAgentRun(ctx context.Context, agent string, duration time.Duration, err error) {
	if m == nil || m.agentDuration == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("agent", agent))
	m.agentDuration.Record(ctx, duration.Seconds(), attrs)
	m.agentRuns.Add(ctx, 1, attrs)
	if err != nil {
		m.agentErrors.Add(ctx, 1, attrs)
	}
}

// IncAgentActiveRuns marks an agent run as started.
func (m *Metrics) IncAgentActiveRuns(ctx context.Context, agent string) {
	if m == nil || m.agentActive == nil {
		return
	}
	m.agentActive.Add(ctx, 1, metric.WithAttributes(attribute.String("agent", agent)))
}

// DecAgentActiveRuns marks an agent run as finished.
func (m *Metrics) DecAgentActiveRuns(ctx context.Context, agent string) {
	if m == nil || m.agentActive == nil {
		return
	}
	m.agentActive.Add(ctx, -1, metric.WithAttributes(attribute.String("agent", agent)))
}

// RecordLLMCall records one model request with its token usage.
func (m *Metrics) RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	if m == nil || m.llmDuration == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("model", model))
	m.llmDuration.Record(ctx, duration.Seconds(), attrs)
	m.llmInputTokens.Add(ctx, int64(inputTokens), attrs)
	m.llmOutputTokens.Add(ctx, int64(outputTokens), attrs)
	if err != nil {
		m.llmErrors.Add(ctx, 1, attrs)
	}
}

// RecordToolExecution records one tool invocation.
func (m *Metrics) RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error) {
	if m == nil || m.toolDuration == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("tool", tool))
	m.toolDuration.Record(ctx, duration.Seconds(), attrs)
	m.toolCalls.Add(ctx, 1, attrs)
	if err != nil {
		m.toolErrors.Add(ctx, 1, attrs)
	}
}

// RecordTaskState counts a task reaching the given state.
func (m *Metrics) RecordTaskState(ctx context.Context, state string) {
	if m == nil || m.taskStates == nil {
		return
	}
	m.taskStates.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

// RecordHTTPRequest records one served HTTP request.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration, reqSize, respSize int64) {
	if m == nil || m.httpDuration == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	)
	m.httpDuration.Record(ctx, duration.Seconds(), attrs)
	m.httpRequests.Add(ctx, 1, attrs)
	m.httpRequestSize.Record(ctx, reqSize, attrs)
	m.httpResponseSize.Record(ctx, respSize, attrs)
}

// Handler returns the scrape handler for the backing registry. On a nil
// receiver it returns a handler answering 503.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics not enabled"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the underlying meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

func metricName(cfg MetricsConfig, name string) string {
	parts := make([]string, 0, 3)
	if cfg.Namespace != "" {
		parts = append(parts, cfg.Namespace)
	}
	if cfg.Subsystem != "" {
		parts = append(parts, cfg.Subsystem)
	}
	parts = append(parts, name)
	return strings.Join(parts, "_")
}
