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

// Package observability provides distributed tracing and Prometheus metrics
// for the agent host. A Manager owns both halves; the agent layer records
// through the process-global Tracer and Metrics installed by NewManager.
// Every recording method tolerates a nil receiver, so code instruments
// unconditionally and a disabled config costs nothing.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"sync"
)

// Manager owns the tracer and metrics for one process.
type Manager struct {
	cfg     Config
	tracer  *Tracer
	metrics *Metrics
}

// NoopManager returns a Manager with tracing and metrics disabled. It does
// not touch the process globals.
func NoopManager() *Manager {
	return &Manager{}
}

// NewManager initializes tracing and metrics from cfg and installs the
// results as the process globals.
func NewManager(ctx context.Context, cfg Config) (*Manager, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid observability config: %w", err)
	}

	m := &Manager{cfg: cfg}

	if cfg.Tracing.Enabled {
		tracer, err := NewTracer(ctx, cfg.Tracing)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
		m.tracer = tracer
	}

	if cfg.Metrics.Enabled {
		metrics, err := NewMetrics(cfg.Metrics)
		if err != nil {
			_ = m.tracer.Shutdown(ctx)
			return nil, fmt.Errorf("failed to initialize metrics: %w", err)
		}
		m.metrics = metrics
	}

	SetGlobalTracer(m.tracer)
	SetGlobalMetrics(m.metrics)

	return m, nil
}

// Tracer returns the tracer, or nil when tracing is disabled. The nil
// tracer is safe to record against.
func (m *Manager) Tracer() *Tracer {
	if m == nil {
		return nil
	}
	return m.tracer
}

// Metrics returns the metrics recorder, or nil when metrics are disabled.
// The nil recorder is safe to record against.
func (m *Manager) Metrics() *Metrics {
	if m == nil {
		return nil
	}
	return m.metrics
}

// TracingEnabled reports whether a tracer was initialized.
func (m *Manager) TracingEnabled() bool {
	return m != nil && m.tracer != nil
}

// MetricsEnabled reports whether a metrics recorder was initialized.
func (m *Manager) MetricsEnabled() bool {
	return m != nil && m.metrics != nil
}

// MetricsEndpoint returns the HTTP path the scrape handler should be
// mounted on.
func (m *Manager) MetricsEndpoint() string {
	if m == nil || m.cfg.Metrics.Endpoint == "" {
		return DefaultMetricsPath
	}
	return m.cfg.Metrics.Endpoint
}

// MetricsHandler returns the scrape handler. When metrics are disabled the
// handler answers 503.
func (m *Manager) MetricsHandler() http.Handler {
	return m.Metrics().Handler()
}

// Shutdown flushes and stops both halves.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	if err := m.tracer.Shutdown(ctx); err != nil {
		return err
	}
	return m.metrics.Shutdown(ctx)
}

var (
	globalMu      sync.RWMutex
	globalTracer  *Tracer
	globalMetrics *Metrics
)

// SetGlobalTracer installs the process-global tracer.
func SetGlobalTracer(t *Tracer) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalTracer = t
}

// GlobalTracer returns the process-global tracer. The result may be nil,
// which records nothing.
func GlobalTracer() *Tracer {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalTracer
}

// SetGlobalMetrics installs the process-global metrics recorder.
func SetGlobalMetrics(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// GlobalMetrics returns the process-global metrics recorder. The result
// may be nil, which records nothing.
func GlobalMetrics() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}
