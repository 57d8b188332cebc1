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

package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kadirpekel/conductor/pkg/httpclient"
)

const (
	DefaultHost    = "http://localhost:11434"
	DefaultModel   = "gpt-oss:20b"
	DefaultTimeout = 60 * time.Second
)

// ============================================================================
// SHARED OLLAMA CLIENT
// ============================================================================

// Client talks to the Ollama chat API. It implements the orchestrator's
// Completer interface.
type Client struct {
	baseURL    string
	model      string
	format     string
	httpClient *httpclient.Client
}

type Option func(*clientOptions)

type clientOptions struct {
	timeout     time.Duration
	maxAttempts int
	baseDelay   time.Duration
	format      string
	logger      *slog.Logger
}

func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.timeout = d
	}
}

func WithMaxAttempts(n int) Option {
	return func(o *clientOptions) {
		o.maxAttempts = n
	}
}

func WithBaseDelay(d time.Duration) Option {
	return func(o *clientOptions) {
		o.baseDelay = d
	}
}

// WithFormat sets the response format requested from the model ("json" by
// default, "" for free text).
func WithFormat(format string) Option {
	return func(o *clientOptions) {
		o.format = format
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

// NewClient creates a new Ollama client
func NewClient(baseURL, model string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultHost
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	if model == "" {
		model = DefaultModel
	}

	o := clientOptions{
		timeout:     DefaultTimeout,
		maxAttempts: 3,
		baseDelay:   2 * time.Second,
		format:      "json",
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		format:  o.format,
		httpClient: httpclient.New(
			httpclient.WithTimeout(o.timeout),
			httpclient.WithMaxAttempts(o.maxAttempts),
			httpclient.WithBaseDelay(o.baseDelay),
			httpclient.WithLogger(o.logger.With("component", "ollama")),
		),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Format   string        `json:"format,omitempty"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
	Error   string      `json:"error,omitempty"`
}

// Complete sends a non-streaming chat request and returns the reply text.
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	req := chatRequest{
		Model:  c.model,
		Stream: false,
		Format: c.format,
	}
	if system != "" {
		req.Messages = append(req.Messages, chatMessage{Role: "system", Content: system})
	}
	req.Messages = append(req.Messages, chatMessage{Role: "user", Content: prompt})

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request payload: %w", err)
	}

	resp, err := c.httpClient.Do(ctx, http.MethodPost, c.baseURL+"/api/chat", body)
	if err != nil {
		return "", fmt.Errorf("ollama chat request failed: %w", err)
	}

	var out chatResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return "", fmt.Errorf("failed to decode ollama response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("ollama error: %s", out.Error)
	}
	return out.Message.Content, nil
}

// Ping checks that the Ollama server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.httpClient.DoOnce(ctx, http.MethodGet, c.baseURL+"/api/tags", nil); err != nil {
		return fmt.Errorf("ollama unreachable at %s: %w", c.baseURL, err)
	}
	return nil
}

// GetBaseURL returns the base URL of the client
func (c *Client) GetBaseURL() string {
	return c.baseURL
}

func (c *Client) Model() string {
	return c.model
}
