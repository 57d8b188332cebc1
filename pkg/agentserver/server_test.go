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

package agentserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/conductor/pkg/protocol"
	"github.com/kadirpekel/conductor/pkg/remoteagent"
)

func post(t *testing.T, h http.Handler, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/invoke", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) protocol.Response {
	t.Helper()
	var resp protocol.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{}, &Echo{})
	assert.Error(t, err)
	_, err = New(Config{Name: "coder"}, nil)
	assert.Error(t, err)
}

func TestInvokeAct(t *testing.T) {
	srv, err := New(Config{Name: protocol.SourceCoder}, &Echo{Name: protocol.SourceCoder})
	require.NoError(t, err)

	rec := post(t, srv.Handler(), `{"method":"act","messages":[{"kind":"text","source":"user","payload":"sum 2 and 3"}]}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode(t, rec)
	assert.Equal(t, protocol.StatusOK, resp.Status)
	require.NotNil(t, resp.Result)
	assert.Equal(t, protocol.SourceCoder, resp.Result.Source)
	assert.Equal(t, "coder (turn 1): sum 2 and 3", resp.Result.Text())
	assert.Contains(t, resp.Elapsed, protocol.ElapsedLatency)
}

func TestInvokeDefaultsToAct(t *testing.T) {
	srv, err := New(Config{Name: protocol.SourceCoder}, &Echo{Name: protocol.SourceCoder})
	require.NoError(t, err)

	rec := post(t, srv.Handler(), `{"messages":[{"type":"TextMessage","source":"user","content":"hi"}]}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, protocol.StatusOK, decode(t, rec).Status)
}

func TestInvokeRejectsBadRequests(t *testing.T) {
	srv, err := New(Config{Name: protocol.SourceCoder}, &Echo{Name: protocol.SourceCoder})
	require.NoError(t, err)

	tests := []struct {
		name string
		body string
	}{
		{name: "not_json", body: `{`},
		{name: "unknown_method", body: `{"method":"explode","messages":[{"kind":"text","source":"user","payload":"x"}]}`},
		{name: "empty_messages", body: `{"method":"act","messages":[]}`},
		{name: "unknown_kind", body: `{"method":"act","messages":[{"kind":"image","source":"user","payload":"x"}]}`},
		{name: "payload_shape", body: `{"method":"act","messages":[{"kind":"text","source":"user","payload":{"a":1}}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, srv.Handler(), tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestInvokeActorError(t *testing.T) {
	actor := ActorFunc(func(context.Context, []protocol.Envelope, map[string]any) (Result, error) {
		return Result{}, errors.New("sandbox crashed")
	})
	srv, err := New(Config{Name: protocol.SourceComputerTerminal}, actor)
	require.NoError(t, err)

	rec := post(t, srv.Handler(), `{"messages":[{"kind":"text","source":"user","payload":"run"}]}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, protocol.StatusFail, resp.Status)
	assert.Equal(t, "sandbox crashed", resp.Result.Text())
}

func TestInvokeDone(t *testing.T) {
	actor := ActorFunc(func(context.Context, []protocol.Envelope, map[string]any) (Result, error) {
		return Result{Text: "5", Done: true}, nil
	})
	srv, err := New(Config{Name: protocol.SourceComputerTerminal}, actor)
	require.NoError(t, err)

	resp := decode(t, post(t, srv.Handler(), `{"messages":[{"kind":"text","source":"user","payload":"run"}]}`, nil))
	assert.True(t, resp.Done)
}

func TestInvokeReset(t *testing.T) {
	echo := &Echo{Name: protocol.SourceCoder}
	srv, err := New(Config{Name: protocol.SourceCoder}, echo)
	require.NoError(t, err)

	post(t, srv.Handler(), `{"messages":[{"kind":"text","source":"user","payload":"a"}]}`, nil)
	require.Equal(t, 1, echo.Turns())

	rec := post(t, srv.Handler(), `{"method":"reset","messages":[]}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, protocol.StatusOK, decode(t, rec).Status)
	assert.Equal(t, 0, echo.Turns())
}

func TestInvokeResetUnsupported(t *testing.T) {
	actor := ActorFunc(func(context.Context, []protocol.Envelope, map[string]any) (Result, error) {
		return Result{Text: "ok"}, nil
	})
	srv, err := New(Config{Name: protocol.SourceWebSurfer}, actor)
	require.NoError(t, err)

	rec := post(t, srv.Handler(), `{"method":"reset"}`, nil)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestInvokeRequiresToken(t *testing.T) {
	srv, err := New(Config{Name: protocol.SourceCoder, Token: "s3cret"}, &Echo{Name: protocol.SourceCoder})
	require.NoError(t, err)

	body := `{"messages":[{"kind":"text","source":"user","payload":"a"}]}`
	assert.Equal(t, http.StatusUnauthorized, post(t, srv.Handler(), body, nil).Code)
	assert.Equal(t, http.StatusOK, post(t, srv.Handler(), body, map[string]string{"Authorization": "Bearer s3cret"}).Code)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

type probedActor struct {
	Echo
	err error
}

func (a *probedActor) Ready(context.Context) error { return a.err }

func TestHealthAndReady(t *testing.T) {
	actor := &probedActor{Echo: Echo{Name: protocol.SourceCoder}}
	srv, err := New(Config{
		Name:        protocol.SourceCoder,
		Description: "Writes code",
		Info:        map[string]any{"model": "qwen", "status": "ignored"},
	}, actor)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var health map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "coder", health["name"])
	assert.Equal(t, "Writes code", health["description"])
	assert.Equal(t, "qwen", health["model"])
	assert.Equal(t, true, health["reset"])

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	actor.err = errors.New("model not loaded")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "model not loaded")
}

// The agent kit and the proxy speak the same protocol end to end.
func TestProxyRoundTrip(t *testing.T) {
	echo := &Echo{Name: protocol.SourceCoder, Marker: "[DONE]", FinishAfter: 2}
	srv, err := New(Config{Name: protocol.SourceCoder, Token: "tok"}, echo)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	proxy, err := remoteagent.New(remoteagent.Config{
		Name:    protocol.SourceCoder,
		URL:     ts.URL,
		Token:   "tok",
		Timeout: time.Second,
	})
	require.NoError(t, err)

	history := []protocol.Envelope{protocol.NewText(protocol.SourceUser, "sum 2 and 3")}
	resp := proxy.Invoke(context.Background(), protocol.MethodAct, history, nil)
	require.True(t, resp.OK(), "%+v", resp.Failure)
	assert.Equal(t, "coder (turn 1): sum 2 and 3", resp.Result.Text())

	resp = proxy.Invoke(context.Background(), protocol.MethodAct, history, nil)
	require.True(t, resp.OK())
	assert.True(t, strings.HasPrefix(resp.Result.Text(), "[DONE] "))

	resp = proxy.Reset(context.Background())
	require.True(t, resp.OK())
	assert.Equal(t, 0, echo.Turns())
}
