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

package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSimpleFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(slog.LevelInfo, &buf, FormatSimple)

	l.With("agent", "coder").WithGroup("step").Info("agent replied", "n", 2, "text", "hello world")
	l.Debug("hidden")

	assert.Equal(t, "INFO agent replied agent=coder step.n=2 step.text=\"hello world\"\n", buf.String())
}

func TestVerboseFormatHasTimestamp(t *testing.T) {
	var buf bytes.Buffer
	New(slog.LevelDebug, &buf, FormatVerbose).Warn("slow agent")

	line := buf.String()
	assert.Contains(t, line, "WARN slow agent")
	assert.False(t, strings.HasPrefix(line, "WARN"))
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	New(slog.LevelInfo, &buf, FormatJSON).Error("reset failed", "agent", "coder")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "ERROR", rec["level"])
	assert.Equal(t, "reset failed", rec["msg"])
	assert.Equal(t, "coder", rec["agent"])
}

func TestFilterKeepsRecordsWithoutPC(t *testing.T) {
	var buf bytes.Buffer
	h := New(slog.LevelInfo, &buf, FormatSimple).Handler()

	r := slog.NewRecord(time.Time{}, slog.LevelInfo, "no caller", 0)
	require.NoError(t, h.Handle(context.Background(), r))
	assert.Equal(t, "INFO no caller\n", buf.String())
}

func TestOpenLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conductor.log")
	f, cleanup, err := OpenLogFile(path)
	require.NoError(t, err)
	defer cleanup()

	New(slog.LevelInfo, f, FormatSimple).Info("to file")
	assert.FileExists(t, path)
}
