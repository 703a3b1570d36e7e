package domain

// SlotRecord is the logical content of the persisted token slot. It is
// written before every power transition and inspected at startup to tell a
// cold boot apart from a wake that must be validated.
type SlotRecord struct {
	// Token is the expected wake token. The sentinel token means no
	// transition is in flight.
	Token SuspendToken `json:"token"`

	// CycleID is the cycle that committed the record, empty for sentinel
	// records.
	CycleID string `json:"cycle_id,omitempty"`

	// CommittedAt is when the record was written (Unix milliseconds).
	CommittedAt int64 `json:"committed_at"`

	// Clean is true for records written in an orderly state (startup
	// invalidation, post-wake invalidation, graceful shutdown) and false
	// for records committed because a power transition is imminent.
	Clean bool `json:"clean"`
}

// Pending reports whether the record commits a power transition that has
// not been validated yet.
func (r SlotRecord) Pending() bool {
	return !r.Token.IsSentinel() && !r.Clean
}
