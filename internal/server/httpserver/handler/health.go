package handler

import (
	"net/http"
	"time"
)

// HealthResponse is the body of /health and /ready.
type HealthResponse struct {
	Status string `json:"status"`
	Relay  string `json:"relay,omitempty"`
	Reason string `json:"reason,omitempty"`
	Time   string `json:"time"`
}

// handleHealth handles GET /health. The process is alive if it answers.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{
		Status: "healthy",
		Relay:  h.relayState(),
		Time:   h.now().UTC().Format(time.RFC3339),
	})
}

// handleReady handles GET /ready: the relay session must be ready and the
// credential store readable.
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status: "ready",
		Relay:  h.relayState(),
		Time:   h.now().UTC().Format(time.RFC3339),
	}

	if resp.Relay != "ready" {
		resp.Status, resp.Reason = "not_ready", "relay session not ready"
		h.writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	if _, err := h.store.ListAccounts(r.Context()); err != nil {
		h.log.Warn("readiness: credential store unreadable", "error", err)
		resp.Status, resp.Reason = "not_ready", "credential store unavailable"
		h.writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}
