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

package remoteagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/conductor/pkg/httpclient"
	"github.com/kadirpekel/conductor/pkg/observability"
	"github.com/kadirpekel/conductor/pkg/protocol"
	"github.com/kadirpekel/conductor/pkg/retry"
)

const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxAttempts = 2
	DefaultBaseDelay   = 200 * time.Millisecond

	invokePath = "/invoke"
)

// Config configures a remote agent.
type Config struct {
	// Name is the agent identity used as envelope source.
	// Required.
	Name protocol.Source

	// Description tells model-driven selectors what the agent is for.
	Description string

	// URL is the base URL of the agent; requests go to URL + "/invoke".
	// Required.
	URL string

	// Timeout bounds a single HTTP attempt. Default: 30s.
	Timeout time.Duration

	// MaxAttempts is the total attempt budget for transport failures. Default: 2.
	MaxAttempts int

	// BaseDelay is the linear backoff unit. Default: 200ms.
	BaseDelay time.Duration

	// Token is forwarded as the Authorization header.
	Token string

	// Headers are custom HTTP headers to include in requests.
	Headers map[string]string

	TLS *httpclient.TLSConfig
}

// Proxy is the local stand-in for one remote agent. It holds no
// conversation state and is safe for concurrent use.
type Proxy struct {
	cfg          Config
	endpoint     string
	client       *httpclient.Client
	participants protocol.Participants
	logger       *slog.Logger
	tracer       trace.Tracer
	metrics      observability.Metrics
}

type Option func(*Proxy)

// WithParticipants sets the identity set used to normalise result sources.
// By default only the built-ins and the agent itself are known.
func WithParticipants(p protocol.Participants) Option {
	return func(px *Proxy) {
		px.participants = p
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(px *Proxy) {
		px.logger = logger
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(px *Proxy) {
		px.tracer = tracer
	}
}

func WithMetrics(metrics observability.Metrics) Option {
	return func(px *Proxy) {
		px.metrics = metrics
	}
}

// New validates cfg and creates a Proxy.
func New(cfg Config, opts ...Option) (*Proxy, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	switch cfg.Name {
	case protocol.SourceUser, protocol.SourceOrchestrator, protocol.SourceUnknown:
		return nil, fmt.Errorf("name %q is reserved", cfg.Name)
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("agent %s: url is required", cfg.Name)
	}
	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("agent %s: invalid url %q", cfg.Name, cfg.URL)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}

	p := &Proxy{
		cfg:          cfg,
		endpoint:     strings.TrimSuffix(cfg.URL, "/") + invokePath,
		participants: protocol.NewParticipants(cfg.Name),
		logger:       slog.Default(),
		tracer:       observability.NoopTracer(),
		metrics:      observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("agent", string(cfg.Name))

	clientOpts := []httpclient.Option{
		httpclient.WithLogger(p.logger),
		httpclient.WithTimeout(cfg.Timeout),
		httpclient.WithMaxAttempts(cfg.MaxAttempts),
		httpclient.WithBaseDelay(cfg.BaseDelay),
		httpclient.WithAuthorization(cfg.Token),
		httpclient.WithTLSConfig(cfg.TLS),
	}
	for k, v := range cfg.Headers {
		clientOpts = append(clientOpts, httpclient.WithHeader(k, v))
	}
	p.client = httpclient.New(clientOpts...)

	return p, nil
}

func (p *Proxy) Name() protocol.Source { return p.cfg.Name }

func (p *Proxy) Description() string { return p.cfg.Description }

func (p *Proxy) Endpoint() string { return p.endpoint }

func (p *Proxy) Config() Config { return p.cfg }

// Budget is the wall-clock bound of one Invoke: every attempt at
// Config.Timeout plus the backoff between them.
func (p *Proxy) Budget() time.Duration {
	return retry.Policy{MaxAttempts: p.cfg.MaxAttempts, BaseDelay: p.cfg.BaseDelay}.Budget(p.cfg.Timeout)
}

// Invoke sends the history to the agent and returns its response. The
// context deadline bounds all attempts and defaults to Budget; a
// per-attempt timeout comes from Config.Timeout. The returned response is
// never nil.
func (p *Proxy) Invoke(ctx context.Context, method protocol.Method, messages []protocol.Envelope, options map[string]any) *protocol.Response {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Budget())
		defer cancel()
	}
	return p.invoke(ctx, method, messages, options, p.client.Do)
}

// Reset asks the agent to clear its internal state. It makes a single
// attempt; callers bound it with a short context deadline.
func (p *Proxy) Reset(ctx context.Context) *protocol.Response {
	return p.invoke(ctx, protocol.MethodReset, nil, nil, p.client.DoOnce)
}

type sendFunc func(ctx context.Context, method, url string, body []byte) (*httpclient.Response, error)

func (p *Proxy) invoke(ctx context.Context, method protocol.Method, messages []protocol.Envelope, options map[string]any, send sendFunc) *protocol.Response {
	start := time.Now()

	ctx, span := p.tracer.Start(ctx, observability.SpanAgentInvoke,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String(observability.AttrAgentName, string(p.cfg.Name)),
			attribute.String(observability.AttrAgentEndpoint, p.endpoint),
			attribute.String(observability.AttrMethod, string(method)),
		),
	)
	defer span.End()

	resp := p.call(ctx, method, messages, options, send, start)

	attempts := resp.Attempts
	class := ""
	if resp.Failure != nil {
		class = string(resp.Failure.Class)
		span.SetStatus(codes.Error, resp.Failure.Message)
		span.SetAttributes(attribute.String(observability.AttrFailureClass, class))
	}
	span.SetAttributes(attribute.Int(observability.AttrAttempts, attempts))
	p.metrics.RecordInvocation(ctx, string(p.cfg.Name), string(method), class, attempts, time.Since(start))

	return resp
}

func (p *Proxy) call(ctx context.Context, method protocol.Method, messages []protocol.Envelope, options map[string]any, send sendFunc, start time.Time) *protocol.Response {
	if messages == nil {
		messages = []protocol.Envelope{}
	}
	req := protocol.Request{Method: method, Messages: messages, Options: options}
	if err := req.Validate(); err != nil {
		return p.failure(protocol.FailureProtocol, 0, 0, fmt.Errorf("invalid request: %w", err), start)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return p.failure(protocol.FailureProtocol, 0, 0, fmt.Errorf("failed to encode request: %w", err), start)
	}

	p.logger.Debug("Invoking agent", "method", req.Method, "messages", len(messages), "endpoint", p.endpoint)

	httpResp, err := send(ctx, http.MethodPost, p.endpoint, body)
	if err != nil {
		attempts := httpclient.AttemptsOf(err)
		status := httpclient.StatusCodeOf(err)
		return p.failure(protocol.FailureTransport, attempts, status, err, start)
	}

	var resp protocol.Response
	if err := json.Unmarshal(httpResp.Body, &resp); err != nil {
		return p.failure(protocol.FailureProtocol, httpResp.Attempts, httpResp.StatusCode, fmt.Errorf("malformed response: %w", err), start)
	}
	if err := resp.Validate(); err != nil {
		return p.failure(protocol.FailureProtocol, httpResp.Attempts, httpResp.StatusCode, fmt.Errorf("invalid response: %w", err), start)
	}
	resp.Failure = nil
	resp.Attempts = httpResp.Attempts

	if resp.Result != nil {
		normalized := p.participants.Normalize(resp.Result.Source)
		if normalized != resp.Result.Source {
			p.logger.Warn("Agent returned unknown source", "source", resp.Result.Source)
			resp.Result.Source = normalized
		}
	}

	p.stampElapsed(&resp, start)

	if resp.Status == protocol.StatusFail {
		msg := "agent reported failure"
		if resp.Result != nil && resp.Result.Text() != "" {
			msg = resp.Result.Text()
		}
		resp.Failure = &protocol.Failure{
			Class:      protocol.FailureApplication,
			Agent:      p.cfg.Name,
			Endpoint:   p.endpoint,
			Attempts:   httpResp.Attempts,
			StatusCode: httpResp.StatusCode,
			Message:    msg,
		}
		if resp.Result == nil {
			diag := protocol.NewText(p.cfg.Name, resp.Failure.Diagnostic())
			resp.Result = &diag
		}
		p.logger.Info("Agent reported failure", "message", msg)
		return &resp
	}

	p.logger.Debug("Agent responded",
		"attempts", httpResp.Attempts,
		"latency_ms", resp.Elapsed[protocol.ElapsedLatency],
		"total_ms", resp.Elapsed[protocol.ElapsedTotal])
	return &resp
}

func (p *Proxy) failure(class protocol.FailureClass, attempts, statusCode int, err error, start time.Time) *protocol.Response {
	msg := err.Error()
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "deadline exceeded: " + msg
	}

	f := &protocol.Failure{
		Class:      class,
		Agent:      p.cfg.Name,
		Endpoint:   p.endpoint,
		Attempts:   attempts,
		StatusCode: statusCode,
		Message:    msg,
	}

	switch class {
	case protocol.FailureProtocol:
		p.logger.Error("Agent protocol violation", "error", msg, "status_code", statusCode)
	default:
		p.logger.Warn("Agent invocation failed", "class", class, "attempts", attempts, "status_code", statusCode, "error", msg)
	}

	diag := protocol.NewText(p.cfg.Name, f.Diagnostic())
	resp := &protocol.Response{
		Status:   protocol.StatusFail,
		Result:   &diag,
		Failure:  f,
		Attempts: attempts,
	}
	p.stampElapsed(resp, start)
	return resp
}

func (p *Proxy) stampElapsed(resp *protocol.Response, start time.Time) {
	total := time.Since(start)
	if resp.Elapsed == nil {
		resp.Elapsed = protocol.Elapsed{}
	}
	if _, ok := resp.Elapsed[protocol.ElapsedLatency]; !ok {
		resp.Elapsed.Set(protocol.ElapsedLatency, total)
	}
	resp.Elapsed.Set(protocol.ElapsedTotal, total)
}
