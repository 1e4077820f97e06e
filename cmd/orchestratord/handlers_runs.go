package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/opscore/orchestrator/internal/orchestrator"
)

type startRunRequest struct {
	ThreadID      string `json:"thread_id"`
	Model         string `json:"model"`
	ReasoningHint string `json:"reasoning_effort,omitempty"`
	Message       string `json:"message"`
}

// handleStartRun starts a new run and blocks until it either reaches a
// terminal status or interrupts on a worker barrier, then reports the
// run's current state. The run itself survives the HTTP request's
// lifetime: req.Context() is detached before handing off to the runner so
// a client disconnect doesn't cancel in-flight work.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	owner := ownerFromContext(r.Context())

	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" || strings.TrimSpace(req.ThreadID) == "" {
		writeError(w, http.StatusBadRequest, "thread_id and message are required")
		return
	}

	ctx := context.WithoutCancel(r.Context())
	run, err := s.runner.Start(ctx, orchestrator.StartRequest{
		OwnerID: owner, ThreadID: req.ThreadID, Model: req.Model, ReasoningHint: req.ReasoningHint, Message: req.Message,
	})
	if err != nil && run == nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handleGetRun returns a run's current state by its public id.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	publicID := strings.TrimPrefix(r.URL.Path, "/v1/runs/")
	publicID, _, _ = strings.Cut(publicID, "/")
	if publicID == "" {
		writeError(w, http.StatusBadRequest, "run id is required")
		return
	}
	run, err := s.stores.runs.Get(r.Context(), publicID)
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handleCancelRun cancels a run by its public id.
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	publicID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/runs/"), "/cancel")
	if publicID == "" {
		writeError(w, http.StatusBadRequest, "run id is required")
		return
	}
	if err := s.runner.Cancel(r.Context(), publicID); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
