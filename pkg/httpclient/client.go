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

package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kadirpekel/conductor/pkg/retry"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxAttempts  = 2
	defaultBaseDelay    = 200 * time.Millisecond
	defaultMaxBodyBytes = 8 << 20
	errorSnippetBytes   = 256
)

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Attempts   int
}

type Client struct {
	client       *http.Client
	maxAttempts  int
	baseDelay    time.Duration
	header       http.Header
	maxBodyBytes int64
	logger       *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

// WithTimeout bounds a single attempt.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.client.Timeout = timeout
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		c.maxAttempts = n
	}
}

func WithBaseDelay(delay time.Duration) Option {
	return func(c *Client) {
		c.baseDelay = delay
	}
}

// WithHeader adds a header sent on every request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.header.Set(key, value)
	}
}

// WithAuthorization forwards an opaque credential. A bare token is sent as a
// bearer token; a value that already names a scheme is sent unchanged.
func WithAuthorization(token string) Option {
	return func(c *Client) {
		if token == "" {
			return
		}
		if !strings.Contains(strings.TrimSpace(token), " ") {
			token = "Bearer " + token
		}
		c.header.Set("Authorization", token)
	}
}

func WithMaxBodyBytes(n int64) Option {
	return func(c *Client) {
		c.maxBodyBytes = n
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func New(opts ...Option) *Client {
	c := &Client{
		client:       &http.Client{Timeout: defaultTimeout},
		maxAttempts:  defaultMaxAttempts,
		baseDelay:    defaultBaseDelay,
		header:       make(http.Header),
		maxBodyBytes: defaultMaxBodyBytes,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy returns the retry policy applied by Do.
func (c *Client) Policy() retry.Policy {
	return retry.Policy{MaxAttempts: c.maxAttempts, BaseDelay: c.baseDelay}
}

// Do sends the request, retrying transport failures with linear backoff.
// The context deadline bounds all attempts together.
func (c *Client) Do(ctx context.Context, method, url string, body []byte) (*Response, error) {
	policy := c.Policy()
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		c.logger.Warn("Retrying request",
			"method", method,
			"url", url,
			"attempt", attempt,
			"max_attempts", policy.Attempts(),
			"delay", delay,
			"error", err)
	}
	return c.do(ctx, policy, method, url, body)
}

// DoOnce sends the request exactly once.
func (c *Client) DoOnce(ctx context.Context, method, url string, body []byte) (*Response, error) {
	return c.do(ctx, retry.Once, method, url, body)
}

func (c *Client) do(ctx context.Context, policy retry.Policy, method, url string, body []byte) (*Response, error) {
	var resp *Response
	attempts, err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		r, err := c.attempt(ctx, method, url, body)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		var re *RetryableError
		if !errors.As(err, &re) {
			err = &RetryableError{Message: err.Error(), Err: err}
		}
		markAttempts(err, attempts)
		return nil, err
	}
	resp.Attempts = attempts
	return resp, nil
}

func (c *Client) attempt(ctx context.Context, method, url string, body []byte) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, v := range c.header {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	httpResp, err := c.client.Do(req)
	if err != nil {
		return nil, &RetryableError{Message: "request failed", Err: err}
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, c.maxBodyBytes))
	if err != nil {
		return nil, &RetryableError{StatusCode: httpResp.StatusCode, Message: "failed to read response body", Err: err}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, &RetryableError{
			StatusCode: httpResp.StatusCode,
			Message:    snippet(data),
			Err:        fmt.Errorf("unexpected status %s", httpResp.Status),
		}
	}

	return &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: data}, nil
}

// markAttempts records the attempt count on every RetryableError in the chain.
func markAttempts(err error, attempts int) {
	for err != nil {
		if re, ok := err.(*RetryableError); ok {
			re.Attempts = attempts
		}
		switch u := err.(type) {
		case interface{ Unwrap() []error }:
			for _, e := range u.Unwrap() {
				markAttempts(e, attempts)
			}
			return
		case interface{ Unwrap() error }:
			err = u.Unwrap()
		default:
			return
		}
	}
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > errorSnippetBytes {
		s = s[:errorSnippetBytes] + "..."
	}
	if s == "" {
		return "empty response"
	}
	return s
}
