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
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/conductor/pkg/protocol"
)

func newTestProxy(t *testing.T, url string, mutate ...func(*Config)) *Proxy {
	t.Helper()
	cfg := Config{
		Name:        protocol.SourceCoder,
		URL:         url,
		Timeout:     time.Second,
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	p, err := New(cfg, WithParticipants(protocol.NewParticipants(protocol.SourceCoder, protocol.SourceComputerTerminal)))
	require.NoError(t, err)
	return p
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func seed() []protocol.Envelope {
	return []protocol.Envelope{protocol.NewText(protocol.SourceUser, "sum 2 and 3")}
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "valid", cfg: Config{Name: "coder", URL: "http://coder:8000"}},
		{name: "missing_name", cfg: Config{URL: "http://coder:8000"}, wantErr: true},
		{name: "reserved_name", cfg: Config{Name: protocol.SourceUser, URL: "http://x"}, wantErr: true},
		{name: "missing_url", cfg: Config{Name: "coder"}, wantErr: true},
		{name: "bad_scheme", cfg: Config{Name: "coder", URL: "ftp://coder"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, DefaultTimeout, p.Config().Timeout)
			assert.Equal(t, DefaultMaxAttempts, p.Config().MaxAttempts)
			assert.Equal(t, "http://coder:8000/invoke", p.Endpoint())
		})
	}
}

func TestInvokeSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/invoke", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var req protocol.Request
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, protocol.MethodAct, req.Method)
		if assert.Len(t, req.Messages, 1) {
			assert.Equal(t, "sum 2 and 3", req.Messages[0].Text())
		}
		assert.Equal(t, "fast", req.Options["mode"])

		result := protocol.NewText(protocol.SourceCoder, "print(2+3)")
		writeJSON(w, protocol.Response{Status: protocol.StatusOK, Result: &result, Elapsed: protocol.Elapsed{"latency_ms": 5}})
	}))
	defer server.Close()

	p := newTestProxy(t, server.URL, func(c *Config) { c.Token = "tok" })
	resp := p.Invoke(context.Background(), protocol.MethodAct, seed(), map[string]any{"mode": "fast"})

	require.True(t, resp.OK(), "failure: %+v", resp.Failure)
	assert.Nil(t, resp.Failure)
	assert.Equal(t, protocol.SourceCoder, resp.Result.Source)
	assert.Equal(t, "print(2+3)", resp.Result.Text())
	assert.Equal(t, int64(5), resp.Elapsed[protocol.ElapsedLatency])
	assert.Contains(t, resp.Elapsed, protocol.ElapsedTotal)
	assert.Equal(t, 1, resp.Attempts)
}

// An endpoint that fails every attempt is called exactly MaxAttempts times
// and the diagnostic carries the attempt count.
func TestInvokeTransportExhaustion(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	p := newTestProxy(t, server.URL)
	resp := p.Invoke(context.Background(), protocol.MethodAct, seed(), nil)

	assert.Equal(t, int32(3), calls.Load())
	require.Equal(t, protocol.StatusFail, resp.Status)
	require.NotNil(t, resp.Failure)
	assert.Equal(t, protocol.FailureTransport, resp.Failure.Class)
	assert.Equal(t, 3, resp.Failure.Attempts)
	assert.Equal(t, http.StatusInternalServerError, resp.Failure.StatusCode)

	require.NotNil(t, resp.Result)
	assert.Equal(t, protocol.SourceCoder, resp.Result.Source)
	assert.Contains(t, resp.Result.Text(), "3 attempt(s)")
	assert.Contains(t, resp.Result.Text(), server.URL+"/invoke")
}

func TestInvokeTimeoutIsRetried(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	p := newTestProxy(t, server.URL, func(c *Config) {
		c.Timeout = 20 * time.Millisecond
		c.MaxAttempts = 2
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp := p.Invoke(ctx, protocol.MethodAct, seed(), nil)

	require.NotNil(t, resp.Failure)
	assert.Equal(t, protocol.FailureTransport, resp.Failure.Class)
	assert.Equal(t, 2, resp.Failure.Attempts)
	assert.Equal(t, int32(2), calls.Load())
}

func TestInvokeRecoversAfterTransientFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "starting", http.StatusServiceUnavailable)
			return
		}
		result := protocol.NewText(protocol.SourceCoder, "ok")
		writeJSON(w, protocol.Response{Status: protocol.StatusOK, Result: &result})
	}))
	defer server.Close()

	resp := newTestProxy(t, server.URL).Invoke(context.Background(), protocol.MethodAct, seed(), nil)
	require.True(t, resp.OK())
	assert.Equal(t, 2, resp.Attempts)
}

func TestInvokeProtocolFailuresAreNotRetried(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "ok_without_result", body: `{"status":"ok","elapsed":{}}`},
		{name: "malformed_json", body: `{"status":`},
		{name: "unknown_kind", body: `{"status":"ok","result":{"kind":"video","source":"coder","payload":"x"}}`},
		{name: "bad_status", body: `{"status":"maybe","result":{"kind":"text","source":"coder","payload":"x"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			resp := newTestProxy(t, server.URL).Invoke(context.Background(), protocol.MethodAct, seed(), nil)

			assert.Equal(t, int32(1), calls.Load())
			require.NotNil(t, resp.Failure)
			assert.Equal(t, protocol.FailureProtocol, resp.Failure.Class)
			assert.Equal(t, protocol.StatusFail, resp.Status)
			require.NotNil(t, resp.Result)
			assert.Equal(t, protocol.SourceCoder, resp.Result.Source)
		})
	}
}

func TestInvokeApplicationFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		diag := protocol.NewText(protocol.SourceCoder, "cannot parse task")
		writeJSON(w, protocol.Response{Status: protocol.StatusFail, Result: &diag})
	}))
	defer server.Close()

	resp := newTestProxy(t, server.URL).Invoke(context.Background(), protocol.MethodAct, seed(), nil)

	assert.Equal(t, int32(1), calls.Load())
	require.NotNil(t, resp.Failure)
	assert.Equal(t, protocol.FailureApplication, resp.Failure.Class)
	assert.Equal(t, "cannot parse task", resp.Result.Text())
}

// Client errors are transport failures and use the full retry budget.
func TestInvokeRetriesClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad input", http.StatusBadRequest)
	}))
	defer server.Close()

	resp := newTestProxy(t, server.URL).Invoke(context.Background(), protocol.MethodAct, seed(), nil)

	require.NotNil(t, resp.Failure)
	assert.Equal(t, protocol.FailureTransport, resp.Failure.Class)
	assert.Equal(t, http.StatusBadRequest, resp.Failure.StatusCode)
	assert.Equal(t, 3, resp.Failure.Attempts)
	assert.Equal(t, int32(3), calls.Load())
}

// Older agents reply under "message" with the TextMessage envelope spelling.
func TestInvokeAcceptsLegacyReply(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","message":{"type":"TextMessage","source":"coder","content":"5"},"elapsed":{"latency_ms":3}}`))
	}))
	defer server.Close()

	resp := newTestProxy(t, server.URL).Invoke(context.Background(), protocol.MethodAct, seed(), nil)

	require.True(t, resp.OK(), "failure: %+v", resp.Failure)
	assert.Equal(t, protocol.SourceCoder, resp.Result.Source)
	assert.Equal(t, "5", resp.Result.Text())
	assert.Equal(t, int64(3), resp.Elapsed[protocol.ElapsedLatency])
}

func TestInvokeNormalizesUnknownSource(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result := protocol.NewText("mallory", "hi")
		writeJSON(w, protocol.Response{Status: protocol.StatusOK, Result: &result})
	}))
	defer server.Close()

	resp := newTestProxy(t, server.URL).Invoke(context.Background(), protocol.MethodAct, seed(), nil)
	require.True(t, resp.OK())
	assert.Equal(t, protocol.SourceUnknown, resp.Result.Source)
}

func TestInvokeRejectsBadRequestsLocally(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	p := newTestProxy(t, server.URL)

	resp := p.Invoke(context.Background(), "explode", seed(), nil)
	require.NotNil(t, resp.Failure)
	assert.Equal(t, protocol.FailureProtocol, resp.Failure.Class)
	assert.Equal(t, 0, resp.Failure.Attempts)

	resp = p.Invoke(context.Background(), protocol.MethodAct, nil, nil)
	require.NotNil(t, resp.Failure)
	assert.Equal(t, protocol.FailureProtocol, resp.Failure.Class)

	assert.Equal(t, int32(0), calls.Load())
}

func TestInvokeDeadlineBoundsAllAttempts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	p := newTestProxy(t, server.URL, func(c *Config) {
		c.MaxAttempts = 10
		c.BaseDelay = time.Second
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	resp := p.Invoke(ctx, protocol.MethodAct, seed(), nil)

	assert.Less(t, time.Since(start), time.Second)
	require.NotNil(t, resp.Failure)
	assert.Equal(t, protocol.FailureTransport, resp.Failure.Class)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, resp.Failure.Attempts)
}

func TestBudget(t *testing.T) {
	p := newTestProxy(t, "http://coder:8000", func(c *Config) {
		c.Timeout = time.Second
		c.MaxAttempts = 3
		c.BaseDelay = 100 * time.Millisecond
	})
	assert.Equal(t, 3*time.Second+500*time.Millisecond, p.Budget())
}

func TestResetSingleAttempt(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req protocol.Request
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, protocol.MethodReset, req.Method)
		assert.Empty(t, req.Messages)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	resp := newTestProxy(t, server.URL).Reset(context.Background())
	require.NotNil(t, resp.Failure)
	assert.Equal(t, 1, resp.Failure.Attempts)
	assert.Equal(t, int32(1), calls.Load())
}
