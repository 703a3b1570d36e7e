// Package handler provides the admin HTTP handlers for Quiesce.
package handler

import (
	"net/http"
	"time"
)

// handleHealth handles GET /health.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReady handles GET /ready. The daemon is ready once the
// orchestrator is wired; a mid-cycle daemon is still ready.
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if h.orch == nil {
		h.writeError(w, r, http.StatusServiceUnavailable, "QS-SYS-5030", "orchestrator not ready", nil)
		return
	}

	h.writeJSON(w, r, http.StatusOK, map[string]string{
		"status": "ready",
		"state":  h.orch.State().String(),
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
