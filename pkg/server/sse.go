// Copyright 2026 Atelier
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// handleEvents streams the tenant's event channel as Server-Sent
// Events. Each envelope becomes one record:
//
//	event: <type>
//	data: <envelope json>
//
// The first record is always the connected event. The stream ends when
// the client goes away or the bus closes.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		s.writeError(w, http.StatusServiceUnavailable, "event bus not configured")
		return
	}

	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		tenantID = r.Header.Get(tenantHeader)
	}
	if tenantID == "" {
		s.writeError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}
	userID := r.URL.Query().Get("user_id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sub, err := s.bus.Subscribe(r.Context(), tenantID, userID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to subscribe")
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.logger.Info("Event stream attached",
		zap.String("tenant_id", tenantID),
		zap.String("user_id", userID))

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("Event stream detached", zap.String("tenant_id", tenantID))
			return
		case event, ok := <-sub.Channel:
			if !ok {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				s.logger.Warn("Event marshal failed", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload)
			flusher.Flush()
		}
	}
}
