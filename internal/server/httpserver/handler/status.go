// Package handler provides the admin HTTP handlers for Quiesce.
package handler

import (
	"net/http"
	"strconv"

	"github.com/veridios/quiesce-go/internal/infra/buildinfo"
)

// handleStatus handles GET /v1/status.
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, h.orch.Status())
}

// handleHistory handles GET /v1/history.
//
// Query parameters:
//   - limit: maximum number of records, newest first (default: all)
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeError(w, r, http.StatusBadRequest, "QS-ARG-1001", "limit must be a non-negative integer", nil)
			return
		}
		limit = n
	}

	items := h.orch.History(limit)
	h.writeJSON(w, r, http.StatusOK, &HistoryResponse{
		Items: items,
		Total: len(items),
	})
}

// handleSubscribers handles GET /v1/subscribers. Listing follows the
// broadcast order: ascending order class, then registration sequence.
func (h *Handler) handleSubscribers(w http.ResponseWriter, r *http.Request) {
	items := h.registry.Ascending()
	h.writeJSON(w, r, http.StatusOK, &SubscribersResponse{
		Items: items,
		Total: len(items),
	})
}

// handleVersion handles GET /v1/version.
func (h *Handler) handleVersion(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, buildinfo.Get())
}
