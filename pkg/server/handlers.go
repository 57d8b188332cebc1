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

package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/conductor/pkg/conversation"
	"github.com/kadirpekel/conductor/pkg/protocol"
)

// decodeTask reads a task request. The body is either a Request or a
// Request wrapped as {"input": {...}}.
func decodeTask(w http.ResponseWriter, r *http.Request) (protocol.Request, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&raw); err != nil {
		return protocol.Request{}, fmt.Errorf("malformed request: %w", err)
	}

	var wrapped struct {
		Input json.RawMessage `json:"input"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && len(bytes.TrimSpace(wrapped.Input)) > 0 {
		raw = wrapped.Input
	}

	var req protocol.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return protocol.Request{}, fmt.Errorf("malformed request: %w", err)
	}
	if err := req.Validate(); err != nil {
		return protocol.Request{}, err
	}
	if req.Method != protocol.MethodAct {
		return protocol.Request{}, fmt.Errorf("method %q is not a task; use POST /reset", req.Method)
	}
	return req, nil
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	req, err := decodeTask(w, r)
	if err != nil {
		s.logger.Warn("Rejected task", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.runtime().RunTask(r.Context(), req.Messages, req.Options))
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	req, err := decodeTask(w, r)
	if err != nil {
		s.logger.Warn("Rejected task", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := s.runtime().StartTask(req.Messages, req.Options)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	w.Header().Set("Location", "/conversations/"+id)
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "running"})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"conversations": s.runtime().Store().List()})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	snap, err := s.runtime().Store().Get(chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.runtime().Cancel(id); err != nil {
		writeStoreError(w, err)
		return
	}
	s.logger.Info("Conversation cancel requested", "conversation", id)
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "canceling"})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	outcomes := s.runtime().Reset(r.Context())
	ok := true
	for _, o := range outcomes {
		ok = ok && o.OK
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": ok, "agents": outcomes})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.runtime().Health())
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.runtime().Ready(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, conversation.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, conversation.ErrTerminal), errors.Is(err, conversation.ErrNotCancelable):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
