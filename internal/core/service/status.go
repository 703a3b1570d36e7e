package service

import (
	"sync"

	"github.com/veridios/quiesce-go/internal/core/domain"
)

// cycleHistory is a fixed-size ring of finished cycle records. The newest
// record overwrites the oldest once the ring is full.
type cycleHistory struct {
	mu   sync.Mutex
	ring []*domain.CycleRecord
	next int
	full bool
}

func newCycleHistory(capacity int) *cycleHistory {
	if capacity <= 0 {
		capacity = 1
	}
	return &cycleHistory{ring: make([]*domain.CycleRecord, capacity)}
}

// push stores a copy of the record so later mutation by the caller cannot
// rewrite history.
func (h *cycleHistory) push(rec *domain.CycleRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.ring[h.next] = rec.Clone()
	h.next++
	if h.next == len(h.ring) {
		h.next = 0
		h.full = true
	}
}

// list returns up to limit records, newest first. limit <= 0 means all.
func (h *cycleHistory) list(limit int) []*domain.CycleRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	count := h.next
	if h.full {
		count = len(h.ring)
	}
	if limit <= 0 || limit > count {
		limit = count
	}

	out := make([]*domain.CycleRecord, 0, limit)
	idx := h.next - 1
	for len(out) < limit {
		if idx < 0 {
			idx = len(h.ring) - 1
		}
		out = append(out, h.ring[idx].Clone())
		idx--
	}
	return out
}

// last returns the most recent record, or nil when no cycle has run.
func (h *cycleHistory) last() *domain.CycleRecord {
	recs := h.list(1)
	if len(recs) == 0 {
		return nil
	}
	return recs[0]
}

// StatusResponse is the management-surface snapshot of the orchestrator.
type StatusResponse struct {
	// State is the current state machine position.
	State domain.PowerState `json:"state"`

	// Epoch is the most recently minted token epoch.
	Epoch uint64 `json:"epoch"`

	// Subscribers is the number of live registrations.
	Subscribers int `json:"subscribers"`

	// GatewayKind names the configured power gateway.
	GatewayKind string `json:"gateway_kind"`

	// SwapEnabled reports whether flush/restore calls are wired into the
	// cycle.
	SwapEnabled bool `json:"swap_enabled"`

	// LastCycle is the most recent finished cycle, nil before the first.
	LastCycle *domain.CycleRecord `json:"last_cycle,omitempty"`
}

// Status returns a point-in-time snapshot for the admin plane and the
// Status bus call.
func (o *Orchestrator) Status() *StatusResponse {
	return &StatusResponse{
		State:       o.State(),
		Epoch:       o.tokens.Epoch(),
		Subscribers: o.registry.Len(),
		GatewayKind: o.gateway.Kind(),
		SwapEnabled: o.cfg.SwapEnabled,
		LastCycle:   o.history.last(),
	}
}

// History returns up to limit finished cycles, newest first. limit <= 0
// returns everything the ring holds.
func (o *Orchestrator) History(limit int) []*domain.CycleRecord {
	return o.history.list(limit)
}
