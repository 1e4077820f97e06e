package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// registerRoutes wires every HTTP endpoint onto mux: plain
// http.NewServeMux wiring, no router dependency.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/v1/runs", s.handleStartRun)
	mux.HandleFunc("/v1/runs/", s.dispatchRunSubroute)
}

// dispatchRunSubroute routes /v1/runs/{id}, /v1/runs/{id}/cancel,
// /v1/runs/{id}/events and /v1/runs/{id}/snapshot off one registered
// pattern, since net/http's ServeMux (pre-1.22 style) doesn't support
// path parameters.
func (s *Server) dispatchRunSubroute(w http.ResponseWriter, r *http.Request) {
	switch {
	case hasSuffix(r.URL.Path, "/cancel"):
		s.handleCancelRun(w, r)
	case hasSuffix(r.URL.Path, "/events"):
		s.handleStreamEvents(w, r)
	case hasSuffix(r.URL.Path, "/snapshot"):
		s.handleSnapshot(w, r)
	default:
		s.handleGetRun(w, r)
	}
}

func hasSuffix(path, suffix string) bool {
	return len(path) >= len(suffix) && path[len(path)-len(suffix):] == suffix
}
