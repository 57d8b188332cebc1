// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Manager owns the tracer provider and metrics for one process.
type Manager struct {
	config Config

	mu             sync.RWMutex
	tracerProvider trace.TracerProvider
	metrics        *PrometheusMetrics
}

func NewManager(cfg Config) *Manager {
	return &Manager{config: cfg}
}

// NoopManager returns a Manager that records nothing.
func NoopManager() *Manager {
	return &Manager{}
}

func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tp, err := InitTracerProvider(ctx, m.config.Tracing)
	if err != nil {
		return err
	}
	m.tracerProvider = tp

	if m.config.Metrics.Enabled {
		metrics, err := InitMetrics(ctx, m.config.Metrics)
		if err != nil {
			return err
		}
		m.metrics = metrics
	}

	return nil
}

func (m *Manager) Tracer(name string) trace.Tracer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.tracerProvider == nil {
		return noop.NewTracerProvider().Tracer(name)
	}
	return m.tracerProvider.Tracer(name)
}

// Metrics returns the active recorder, or NoopMetrics when disabled.
func (m *Manager) Metrics() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.metrics == nil {
		return NoopMetrics{}
	}
	return m.metrics
}

// MetricsHandler returns the scrape handler, or nil when metrics are disabled.
func (m *Manager) MetricsHandler() http.Handler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.metrics == nil {
		return nil
	}
	return m.metrics.Handler()
}

func (m *Manager) MetricsPath() string {
	if m.config.Metrics.Endpoint == "" {
		return DefaultMetricsPath
	}
	return m.config.Metrics.Endpoint
}

func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	if spt, ok := m.tracerProvider.(interface{ Shutdown(context.Context) error }); ok {
		errs = append(errs, spt.Shutdown(ctx))
	}
	if m.metrics != nil {
		errs = append(errs, m.metrics.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
