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
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const streamWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleStream sends the current snapshot, then every later one, as JSON
// text frames. Slow readers may miss intermediate snapshots but always get
// the final one before a normal close.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	store := s.runtime().Store()

	updates, unsubscribe, err := store.Subscribe(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	defer unsubscribe()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", "conversation", id, "error", err)
		return
	}
	defer conn.Close()

	// Reads only detect the peer going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(v any) bool {
		if err := conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout)); err != nil {
			return false
		}
		return conn.WriteJSON(v) == nil
	}

	var sentTerminal bool
	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case snap, ok := <-updates:
			if !ok {
				if !sentTerminal {
					if final, err := store.Get(id); err == nil && !write(final) {
						return
					}
				}
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "conversation finished"),
					time.Now().Add(time.Second))
				return
			}
			if !write(snap) {
				return
			}
			sentTerminal = snap.Terminal()
		}
	}
}
