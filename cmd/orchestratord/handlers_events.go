package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/opscore/orchestrator/internal/stream"
)

// handleStreamEvents serves a replay-then-live SSE subscription:
// GET /v1/runs/{id}/events?since_event_id=N. Adapted from a one-shot
// trace-rendering handler into a live text/event-stream feed
// backed by stream.Gateway.
func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	publicID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/runs/"), "/events")
	if publicID == "" {
		writeError(w, http.StatusBadRequest, "run id is required")
		return
	}

	since := int64(0)
	if raw := r.URL.Query().Get("since_event_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since_event_id must be an integer")
			return
		}
		since = parsed
	}

	sub, err := s.stream.Subscribe(r.Context(), publicID, since)
	if err != nil {
		if err == stream.ErrLaggingConsumer {
			writeError(w, http.StatusGone, "event_id too old; reconnect from a snapshot")
			return
		}
		writeError(w, http.StatusNotFound, fmt.Sprintf("subscribe: %v", err))
		return
	}
	defer sub.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				if err := sub.Err(); err != nil {
					fmt.Fprintf(w, "event: error\ndata: %s\n\n", err.Error())
					flusher.Flush()
				}
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.EventID, ev.Type, payload)
			flusher.Flush()
		}
	}
}

// handleSnapshot serves a run's authoritative current state, the fallback
// a client should fetch once its last event_id has aged out of the log.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	publicID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/runs/"), "/snapshot")
	if publicID == "" {
		writeError(w, http.StatusBadRequest, "run id is required")
		return
	}
	snap, err := s.stream.Snapshot(r.Context(), publicID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
