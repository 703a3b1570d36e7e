package domain

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// CycleIDPrefix is the prefix for suspend cycle IDs.
const CycleIDPrefix = "qcyc-"

// PowerState is the orchestrator state machine position. Transitions are
// strictly Idle -> Preparing -> Suspended -> Resuming -> Idle, with an
// abort edge Preparing -> Idle.
type PowerState uint8

const (
	StateIdle PowerState = iota
	StatePreparing
	StateSuspended
	StateResuming
)

// String returns the state name for logs and status output.
func (s PowerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreparing:
		return "preparing"
	case StateSuspended:
		return "suspended"
	case StateResuming:
		return "resuming"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Directive is the kind of notification the orchestrator broadcasts.
type Directive uint8

const (
	// DirectivePrepare asks a subscriber to quiesce and acknowledge.
	DirectivePrepare Directive = iota

	// DirectiveAbort cancels an in-flight prepare. Sent only to subscribers
	// that already acknowledged the aborted cycle.
	DirectiveAbort

	// DirectiveResume tells a subscriber the machine is awake after a
	// validated power transition.
	DirectiveResume

	// DirectiveReinit tells a subscriber to rebuild state from scratch.
	// Broadcast instead of Resume when wake validation fails.
	DirectiveReinit
)

// String returns the directive name.
func (d Directive) String() string {
	switch d {
	case DirectivePrepare:
		return "prepare"
	case DirectiveAbort:
		return "abort"
	case DirectiveResume:
		return "resume"
	case DirectiveReinit:
		return "reinit"
	default:
		return fmt.Sprintf("directive(%d)", uint8(d))
	}
}

// Outcome classifies how a suspend cycle ended.
type Outcome uint8

const (
	// OutcomeCompleted means the full suspend/wake/resume round trip ran.
	OutcomeCompleted Outcome = iota

	// OutcomeDenied means a subscriber vetoed the prepare phase.
	OutcomeDenied

	// OutcomeTimeout means a subscriber missed its prepare deadline.
	OutcomeTimeout

	// OutcomeGatewayFailed means the hardware transition call failed after
	// every subscriber had acknowledged.
	OutcomeGatewayFailed

	// OutcomeSwapFailed means the swap image could not be flushed, so the
	// transition was never attempted.
	OutcomeSwapFailed

	// OutcomeAborted means the cycle was abandoned before the transition
	// for a reason other than a subscriber veto or deadline, such as a
	// token slot write failure.
	OutcomeAborted

	// OutcomeReinit means wake validation failed and the reinitialization
	// path ran instead of resume.
	OutcomeReinit
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeDenied:
		return "denied"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeGatewayFailed:
		return "gateway_failed"
	case OutcomeSwapFailed:
		return "swap_failed"
	case OutcomeAborted:
		return "aborted"
	case OutcomeReinit:
		return "reinit"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(o))
	}
}

// CycleRecord is the durable-in-memory record of one suspend attempt, kept
// in the history ring and exposed on the status surface.
type CycleRecord struct {
	// ID is the cycle identifier carried by every notification of the cycle.
	// Format: qcyc-{ulid_lowercase}, 31 characters total.
	ID string `json:"id"`

	// Epoch is the token epoch minted for this cycle.
	Epoch uint64 `json:"epoch"`

	// Requester identifies the caller that triggered the cycle.
	Requester string `json:"requester,omitempty"`

	// Outcome classifies how the cycle ended.
	Outcome Outcome `json:"outcome"`

	// FailedSubscriber names the subscriber that denied or timed out, if any.
	FailedSubscriber string `json:"failed_subscriber,omitempty"`

	// DenyReason is the stated reason for a denied or aborted cycle: the
	// subscriber's veto text, or the internal failure that stopped the
	// cycle before the transition.
	DenyReason string `json:"deny_reason,omitempty"`

	// Acked is the number of subscribers that acknowledged prepare.
	Acked int `json:"acked"`

	// Notified is the number of subscribers the cycle attempted to notify.
	Notified int `json:"notified"`

	// AbortFailures counts abort notifications that could not be delivered.
	AbortFailures int `json:"abort_failures,omitempty"`

	// StartedAt and EndedAt bound the cycle (Unix milliseconds).
	StartedAt int64 `json:"started_at"`
	EndedAt   int64 `json:"ended_at"`

	// PrepareDuration and SuspendedDuration are phase timings.
	PrepareDuration   time.Duration `json:"prepare_duration"`
	SuspendedDuration time.Duration `json:"suspended_duration"`
}

// GenerateCycleID generates a new cycle ID using ULID.
// Format: qcyc-{ulid_lowercase}, 31 characters total.
func GenerateCycleID() (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", ErrInternalServer.WithCause(err)
	}
	return CycleIDPrefix + strings.ToLower(id.String()), nil
}

// Err returns the domain error corresponding to the cycle outcome, or nil
// for a completed cycle.
func (r *CycleRecord) Err() error {
	switch r.Outcome {
	case OutcomeCompleted:
		return nil
	case OutcomeDenied:
		return ErrPrepareDenied.WithDetails(fmt.Sprintf("subscriber %s: %s", r.FailedSubscriber, r.DenyReason))
	case OutcomeTimeout:
		return ErrPrepareTimeout.WithDetails("subscriber " + r.FailedSubscriber)
	case OutcomeGatewayFailed:
		return ErrGatewayFailure
	case OutcomeSwapFailed:
		return ErrSwapFlush
	case OutcomeAborted:
		return ErrCycleAborted.WithDetails(r.DenyReason)
	case OutcomeReinit:
		return ErrTokenMismatch
	default:
		return ErrInternalServer.WithDetails("unknown cycle outcome")
	}
}

// Clone creates a copy of the record.
func (r *CycleRecord) Clone() *CycleRecord {
	clone := *r
	return &clone
}

// WakeClaim is the token presented by the wake path after a power
// transition, together with where it came from. A zero claim never matches
// a committed token.
type WakeClaim struct {
	Token  SuspendToken
	Source string
}
