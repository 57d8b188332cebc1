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

package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/conductor/pkg/agentserver"
	"github.com/kadirpekel/conductor/pkg/config"
	"github.com/kadirpekel/conductor/pkg/observability"
	"github.com/kadirpekel/conductor/pkg/orchestrator"
	"github.com/kadirpekel/conductor/pkg/protocol"
)

func startAgent(t *testing.T, name protocol.Source, actor agentserver.Actor) string {
	t.Helper()
	srv, err := agentserver.New(agentserver.Config{Name: name}, actor)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

func newRuntime(t *testing.T, yaml string, opts ...Option) *Runtime {
	t.Helper()
	cfg, err := config.Parse([]byte(yaml))
	require.NoError(t, err)

	opts = append([]Option{WithObservability(observability.NoopManager())}, opts...)
	rt, err := New(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, rt.Close(ctx))
	})
	return rt
}

func seed(text string) []protocol.Envelope {
	return []protocol.Envelope{protocol.NewText(protocol.SourceUser, text)}
}

func TestRunTaskSequence(t *testing.T) {
	coder := &agentserver.Echo{Name: protocol.SourceCoder}
	terminal := &agentserver.Echo{Name: protocol.SourceComputerTerminal}

	rt := newRuntime(t, fmt.Sprintf(`
orchestrator:
  selector:
    route: [coder, computerterminal]
agents:
  coder:
    url: %s
  computerterminal:
    url: %s
`, startAgent(t, protocol.SourceCoder, coder), startAgent(t, protocol.SourceComputerTerminal, terminal)))

	snap := rt.RunTask(context.Background(), seed("sum 2 and 3"), nil)

	assert.Equal(t, orchestrator.StatusDone, snap.Status)
	assert.Equal(t, orchestrator.ReasonStopped, snap.Reason)
	assert.Equal(t, 2, snap.StepCount)
	require.Len(t, snap.History, 3)
	assert.Equal(t, protocol.SourceCoder, snap.History[1].Source)
	assert.Equal(t, "coder (turn 1): sum 2 and 3", snap.History[1].Text())
	assert.Equal(t, protocol.SourceComputerTerminal, snap.History[2].Source)

	stored, err := rt.Store().Get(snap.ID)
	require.NoError(t, err)
	assert.True(t, stored.Terminal())
	assert.Equal(t, snap.StepCount, stored.StepCount)
}

func TestRunTaskCompletionMarker(t *testing.T) {
	coder := &agentserver.Echo{Name: protocol.SourceCoder, Marker: "[DONE]", FinishAfter: 2}
	rt := newRuntime(t, fmt.Sprintf(`
orchestrator:
  selector:
    agent: coder
agents:
  coder:
    url: %s
`, startAgent(t, protocol.SourceCoder, coder)))

	snap := rt.RunTask(context.Background(), seed("go"), nil)

	assert.Equal(t, orchestrator.ReasonCompleted, snap.Reason)
	assert.Equal(t, 2, snap.StepCount)
}

func TestRunTaskResetBeforeTask(t *testing.T) {
	tests := []struct {
		name       string
		beforeTask bool
		wantTurns  int
	}{
		{"reset", true, 1},
		{"no_reset", false, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coder := &agentserver.Echo{Name: protocol.SourceCoder}
			rt := newRuntime(t, fmt.Sprintf(`
orchestrator:
  max_steps: 1
  reset:
    before_task: %t
agents:
  coder:
    url: %s
`, tt.beforeTask, startAgent(t, protocol.SourceCoder, coder)))

			rt.RunTask(context.Background(), seed("first"), nil)
			snap := rt.RunTask(context.Background(), seed("second"), nil)

			assert.Equal(t, orchestrator.ReasonMaxSteps, snap.Reason)
			assert.Equal(t, tt.wantTurns, coder.Turns())
		})
	}
}

func TestRunTaskForwardsOptions(t *testing.T) {
	got := make(chan map[string]any, 1)
	actor := agentserver.ActorFunc(func(_ context.Context, _ []protocol.Envelope, options map[string]any) (agentserver.Result, error) {
		got <- options
		return agentserver.Result{Text: "ok"}, nil
	})
	rt := newRuntime(t, fmt.Sprintf(`
orchestrator:
  max_steps: 1
  options:
    lang: python
agents:
  coder:
    url: %s
`, startAgent(t, protocol.SourceCoder, actor)))

	rt.RunTask(context.Background(), seed("go"), map[string]any{"temperature": 0.1})

	opts := <-got
	assert.Equal(t, "python", opts["lang"])
	assert.Equal(t, 0.1, opts["temperature"])
}

func TestStartTaskCancel(t *testing.T) {
	entered := make(chan struct{}, 1)
	actor := agentserver.ActorFunc(func(ctx context.Context, _ []protocol.Envelope, _ map[string]any) (agentserver.Result, error) {
		entered <- struct{}{}
		<-ctx.Done()
		return agentserver.Result{}, ctx.Err()
	})
	rt := newRuntime(t, fmt.Sprintf(`
agents:
  coder:
    url: %s
    max_attempts: 1
`, startAgent(t, protocol.SourceCoder, actor)))

	id, err := rt.StartTask(seed("hang"), nil)
	require.NoError(t, err)

	updates, unsubscribe, err := rt.Store().Subscribe(id)
	require.NoError(t, err)
	defer unsubscribe()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("agent was never invoked")
	}
	require.NoError(t, rt.Cancel(id))

	var last orchestrator.Snapshot
	for snap := range updates {
		last = snap
	}
	final, err := rt.Store().Get(id)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StatusFailed, final.Status)
	assert.Equal(t, orchestrator.ReasonCanceled, final.Reason)
	assert.True(t, last.Terminal())
}

func TestStartTaskRacingClose(t *testing.T) {
	coder := &agentserver.Echo{Name: protocol.SourceCoder}
	rt := newRuntime(t, fmt.Sprintf(`
agents:
  coder:
    url: %s
`, startAgent(t, protocol.SourceCoder, coder)))

	const starters = 16
	var wg sync.WaitGroup
	ids := make(chan string, starters)
	for i := 0; i < starters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := rt.StartTask(seed("task"), nil)
			if err != nil {
				assert.ErrorIs(t, err, ErrClosed)
				return
			}
			ids <- id
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, rt.Close(ctx))
	wg.Wait()
	close(ids)

	for id := range ids {
		snap, err := rt.Store().Get(id)
		require.NoError(t, err)
		assert.True(t, snap.Terminal(), "conversation %s still %s", id, snap.Status)
	}

	_, err := rt.StartTask(seed("late"), nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestResetAll(t *testing.T) {
	coder := &agentserver.Echo{Name: protocol.SourceCoder}
	noReset := agentserver.ActorFunc(func(context.Context, []protocol.Envelope, map[string]any) (agentserver.Result, error) {
		return agentserver.Result{Text: "ok"}, nil
	})
	rt := newRuntime(t, fmt.Sprintf(`
agents:
  coder:
    url: %s
  websurfer:
    url: %s
  filesurfer:
    url: http://127.0.0.1:1
    max_attempts: 1
`, startAgent(t, protocol.SourceCoder, coder), startAgent(t, protocol.SourceWebSurfer, noReset)))

	got := rt.ResetAll(context.Background())
	assert.Equal(t, map[protocol.Source]bool{
		protocol.SourceCoder:      true,
		protocol.SourceWebSurfer:  true,
		protocol.SourceFileSurfer: false,
	}, got)
}

type fakeModel struct {
	reply string
	err   error
}

func (m *fakeModel) Complete(context.Context, string, string) (string, error) {
	return m.reply, m.err
}

func (m *fakeModel) Ping(context.Context) error { return m.err }

func TestModelSelector(t *testing.T) {
	coder := &agentserver.Echo{Name: protocol.SourceCoder, Marker: "[DONE]", FinishAfter: 1}
	yaml := fmt.Sprintf(`
orchestrator:
  selector:
    type: model
    model:
      fallback: coder
agents:
  coder:
    url: %s
    description: Writes Python
`, startAgent(t, protocol.SourceCoder, coder))

	rt := newRuntime(t, yaml, WithCompleter(&fakeModel{reply: `{"next": "coder"}`}))
	snap := rt.RunTask(context.Background(), seed("go"), nil)
	assert.Equal(t, orchestrator.ReasonCompleted, snap.Reason)
	assert.NoError(t, rt.Ready(context.Background()))

	down := newRuntime(t, yaml, WithCompleter(&fakeModel{err: errors.New("connection refused")}))
	err := down.Ready(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "selector not ready")
}

func TestHealth(t *testing.T) {
	rt := newRuntime(t, `
name: demo
orchestrator:
  max_steps: 4
  selector:
    table:
      user: coder
agents:
  coder:
    url: http://coder:8000/
`)
	h := rt.Health()

	assert.Equal(t, "demo", h["name"])
	assert.Equal(t, map[string]string{"coder": "http://coder:8000/invoke"}, h["endpoints"])
	limits := h["limits"].(map[string]any)
	assert.Equal(t, 4, limits["max_steps"])
	selector := h["selector"].(map[string]any)
	assert.Equal(t, config.SelectorTable, selector["type"])
	assert.NoError(t, rt.Ready(context.Background()))
	assert.Equal(t, []string{"coder"}, rt.Agents())
}

func TestNewRejectsNilConfig(t *testing.T) {
	_, err := New(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "config is required"))
}
