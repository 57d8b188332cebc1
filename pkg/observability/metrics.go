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
	"fmt"
	"net/http"
	"strconv"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics records orchestration measurements.
type Metrics interface {
	RecordInvocation(ctx context.Context, agent, method, class string, attempts int, duration time.Duration)
	RecordStep(ctx context.Context, agent, status string, duration time.Duration)
	RecordConversation(ctx context.Context, status, reason string, steps int, duration time.Duration)
	RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) RecordInvocation(context.Context, string, string, string, int, time.Duration) {}
func (NoopMetrics) RecordStep(context.Context, string, string, time.Duration)                  {}
func (NoopMetrics) RecordConversation(context.Context, string, string, int, time.Duration)     {}
func (NoopMetrics) RecordHTTPRequest(context.Context, string, string, int, time.Duration)      {}

// PrometheusMetrics records through an OTel meter exported to Prometheus.
type PrometheusMetrics struct {
	provider *sdkmetric.MeterProvider
	handler  http.Handler

	invocationDuration metric.Float64Histogram
	invocations        metric.Int64Counter
	invocationAttempts metric.Int64Counter
	invocationFailures metric.Int64Counter

	stepDuration metric.Float64Histogram
	steps        metric.Int64Counter

	conversationDuration metric.Float64Histogram
	conversations        metric.Int64Counter
	conversationSteps    metric.Int64Histogram

	httpDuration metric.Float64Histogram
	httpRequests metric.Int64Counter
}

// InitMetrics creates the meter provider and the scrape handler. The
// exporter uses its own registry so repeated initialisation never collides.
func InitMetrics(_ context.Context, cfg MetricsConfig) (*PrometheusMetrics, error) {
	registry := promclient.NewRegistry()

	exporter, err := prometheus.New(
		prometheus.WithRegisterer(registry),
		prometheus.WithNamespace(cfg.Namespace),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(DefaultServiceName)

	m := &PrometheusMetrics{
		provider: provider,
		handler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}

	if m.invocationDuration, err = meter.Float64Histogram("agent_invocation_duration",
		metric.WithDescription("Agent invocation duration including retries"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create invocation duration histogram: %w", err)
	}
	if m.invocations, err = meter.Int64Counter("agent_invocations",
		metric.WithDescription("Agent invocations by outcome")); err != nil {
		return nil, fmt.Errorf("failed to create invocations counter: %w", err)
	}
	if m.invocationAttempts, err = meter.Int64Counter("agent_invocation_attempts",
		metric.WithDescription("HTTP attempts made for agent invocations")); err != nil {
		return nil, fmt.Errorf("failed to create attempts counter: %w", err)
	}
	if m.invocationFailures, err = meter.Int64Counter("agent_invocation_failures",
		metric.WithDescription("Failed agent invocations by failure class")); err != nil {
		return nil, fmt.Errorf("failed to create failures counter: %w", err)
	}
	if m.stepDuration, err = meter.Float64Histogram("conversation_step_duration",
		metric.WithDescription("Conversation step duration"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create step duration histogram: %w", err)
	}
	if m.steps, err = meter.Int64Counter("conversation_steps",
		metric.WithDescription("Conversation steps by agent and status")); err != nil {
		return nil, fmt.Errorf("failed to create steps counter: %w", err)
	}
	if m.conversationDuration, err = meter.Float64Histogram("conversation_duration",
		metric.WithDescription("Conversation wall clock duration"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create conversation duration histogram: %w", err)
	}
	if m.conversations, err = meter.Int64Counter("conversations",
		metric.WithDescription("Finished conversations by status and reason")); err != nil {
		return nil, fmt.Errorf("failed to create conversations counter: %w", err)
	}
	if m.conversationSteps, err = meter.Int64Histogram("conversation_step_count",
		metric.WithDescription("Steps taken per conversation")); err != nil {
		return nil, fmt.Errorf("failed to create step count histogram: %w", err)
	}
	if m.httpDuration, err = meter.Float64Histogram("http_request_duration",
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create http duration histogram: %w", err)
	}
	if m.httpRequests, err = meter.Int64Counter("http_requests",
		metric.WithDescription("HTTP requests by route and status")); err != nil {
		return nil, fmt.Errorf("failed to create http requests counter: %w", err)
	}

	return m, nil
}

// Handler serves the Prometheus scrape endpoint.
func (m *PrometheusMetrics) Handler() http.Handler {
	return m.handler
}

func (m *PrometheusMetrics) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}

func (m *PrometheusMetrics) RecordInvocation(ctx context.Context, agent, method, class string, attempts int, duration time.Duration) {
	outcome := "ok"
	if class != "" {
		outcome = "fail"
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrAgentName, agent),
		attribute.String(AttrMethod, method),
		attribute.String(AttrStatus, outcome),
	)
	m.invocationDuration.Record(ctx, duration.Seconds(), attrs)
	m.invocations.Add(ctx, 1, attrs)
	m.invocationAttempts.Add(ctx, int64(attempts), metric.WithAttributes(attribute.String(AttrAgentName, agent)))
	if class != "" {
		m.invocationFailures.Add(ctx, 1, metric.WithAttributes(
			attribute.String(AttrAgentName, agent),
			attribute.String(AttrFailureClass, class),
		))
	}
}

func (m *PrometheusMetrics) RecordStep(ctx context.Context, agent, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String(AttrAgentName, agent),
		attribute.String(AttrStatus, status),
	)
	m.stepDuration.Record(ctx, duration.Seconds(), attrs)
	m.steps.Add(ctx, 1, attrs)
}

func (m *PrometheusMetrics) RecordConversation(ctx context.Context, status, reason string, steps int, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String(AttrStatus, status),
		attribute.String(AttrReason, reason),
	)
	m.conversationDuration.Record(ctx, duration.Seconds(), attrs)
	m.conversations.Add(ctx, 1, attrs)
	m.conversationSteps.Record(ctx, int64(steps), attrs)
}

func (m *PrometheusMetrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPRoute, route),
		attribute.String(AttrHTTPStatusCode, strconv.Itoa(status)),
	)
	m.httpDuration.Record(ctx, duration.Seconds(), attrs)
	m.httpRequests.Add(ctx, 1, attrs)
}
