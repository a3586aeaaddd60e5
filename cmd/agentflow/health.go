package main

import (
	"encoding/json"
	"net/http"
	"time"
)

// healthHandler serves the liveness/readiness/version endpoints the old
// api/handlers package used to own. It reports ready once the orchestration
// core (vault + registry + LLM providers) has finished wiring.
type healthHandler struct {
	startedAt time.Time
	ready     func() bool
}

func newHealthHandler(ready func() bool) *healthHandler {
	return &healthHandler{startedAt: time.Now(), ready: ready}
}

func (h *healthHandler) writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// HandleHealth always reports the process is alive, regardless of readiness.
func (h *healthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(h.startedAt).String(),
	})
}

// HandleHealthz is an alias for HandleHealth, matching common k8s probe naming.
func (h *healthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	h.HandleHealth(w, r)
}

// HandleReady reports 503 until the composition root's ready func returns true.
func (h *healthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil && !h.ready() {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// HandleVersion returns a handler reporting the build-time version metadata.
func (h *healthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.writeJSON(w, http.StatusOK, map[string]any{
			"version":    version,
			"build_time": buildTime,
			"git_commit": gitCommit,
		})
	}
}
