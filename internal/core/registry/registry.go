package registry

import (
	"sort"
	"sync"

	"github.com/veridios/quiesce-go/internal/core/domain"
)

// Registry is the ordered subscriber table. There is a single authoritative
// ordering, ascending (Order class, then registration sequence); the resume
// ordering is never stored, it is the reverse of the ascending view
// materialized at read time.
//
// The orchestrator freezes the registry for the duration of a suspend cycle;
// registration changes while frozen are rejected. Eviction of a dead peer is
// exempt so a broken stream can be cleaned up mid-cycle.
type Registry struct {
	mu      sync.RWMutex
	byID    map[string]*domain.Subscriber
	byName  map[string]*domain.Subscriber
	nextSeq uint64
	frozen  bool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		byID:   make(map[string]*domain.Subscriber),
		byName: make(map[string]*domain.Subscriber),
	}
}

// Register inserts a subscriber or, when the Name is already registered,
// refreshes the existing registration. Re-registration is idempotent: the
// original ID, order class, and broadcast position are retained; only the
// opcode and liveness metadata are refreshed. The returned bool reports
// whether a new registration was created.
func (r *Registry) Register(sub *domain.Subscriber) (*domain.Subscriber, bool, error) {
	if err := sub.Validate(); err != nil {
		return nil, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return nil, false, domain.ErrMidCycleRegister
	}

	if existing, ok := r.byName[sub.Name]; ok {
		existing.Opcode = sub.Opcode
		existing.Remote = sub.Remote
		existing.Touch()
		return existing.Clone(), false, nil
	}

	entry := sub.Clone()
	r.nextSeq++
	entry.Seq = r.nextSeq
	r.byID[entry.ID] = entry
	r.byName[entry.Name] = entry
	return entry.Clone(), true, nil
}

// Unregister removes a registration by ID.
func (r *Registry) Unregister(id string) error {
	normalized := domain.NormalizeSubscriberID(id)
	if normalized == "" {
		return domain.ErrInvalidArgument.WithDetails("malformed subscriber id: " + id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return domain.ErrMidCycleRegister
	}

	entry, ok := r.byID[normalized]
	if !ok {
		return domain.ErrSubscriberNotFound.WithDetails(normalized)
	}
	delete(r.byID, entry.ID)
	delete(r.byName, entry.Name)
	return nil
}

// Evict removes a registration whose notification channel is known dead.
// Unlike Unregister it is permitted while the registry is frozen.
func (r *Registry) Evict(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.byID[id]
	if !ok {
		return domain.ErrSubscriberNotFound.WithDetails(id)
	}
	delete(r.byID, entry.ID)
	delete(r.byName, entry.Name)
	return nil
}

// Get returns a copy of the registration with the given ID.
func (r *Registry) Get(id string) (*domain.Subscriber, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrSubscriberNotFound.WithDetails(id)
	}
	return entry.Clone(), nil
}

// GetByName returns a copy of the registration with the given identity.
func (r *Registry) GetByName(name string) (*domain.Subscriber, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.byName[name]
	if !ok {
		return nil, domain.ErrSubscriberNotFound.WithDetails(name)
	}
	return entry.Clone(), nil
}

// Touch refreshes the liveness timestamp of a registration.
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.byID[id]; ok {
		entry.Touch()
	}
}

// Ascending returns a snapshot of all registrations in suspend order:
// Early before Normal before Late, registration sequence inside a class.
func (r *Registry) Ascending() []*domain.Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ascendingLocked()
}

func (r *Registry) ascendingLocked() []*domain.Subscriber {
	out := make([]*domain.Subscriber, 0, len(r.byID))
	for _, entry := range r.byID {
		out = append(out, entry.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

// Descending returns a snapshot in resume order: the exact reverse of the
// ascending view taken under the same lock.
func (r *Registry) Descending() []*domain.Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	asc := r.ascendingLocked()
	for i, j := 0, len(asc)-1; i < j; i, j = i+1, j-1 {
		asc[i], asc[j] = asc[j], asc[i]
	}
	return asc
}

// Len returns the number of live registrations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Freeze blocks registration changes for the duration of a suspend cycle.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Thaw lifts the freeze.
func (r *Registry) Thaw() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = false
}

// Frozen reports whether the registry is currently frozen.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}
