// Package domain defines the core domain models for Quiesce.
//
// Domain models are pure value objects and entities without any
// IO dependencies or framework coupling.
package domain

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Subscriber constraints.
const (
	MaxNameLength   = 128
	MaxRemoteLength = 256

	// SubscriberIDPrefix is the prefix for registration IDs.
	SubscriberIDPrefix = "qsub-"
)

// Order groups subscribers into broadcast classes. Suspend notifications
// run ascending (Early first), resume notifications run the exact reverse.
// Within a class, registration sequence decides.
type Order uint8

const (
	OrderEarly  Order = 0
	OrderNormal Order = 1
	OrderLate   Order = 2
)

// String returns the order class name.
func (o Order) String() string {
	switch o {
	case OrderEarly:
		return "early"
	case OrderNormal:
		return "normal"
	case OrderLate:
		return "late"
	default:
		return fmt.Sprintf("order(%d)", uint8(o))
	}
}

// ParseOrder parses an order class name. The empty string maps to Normal so
// callers that do not care about ordering get the default class.
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(s) {
	case "", "normal":
		return OrderNormal, nil
	case "early":
		return OrderEarly, nil
	case "late":
		return OrderLate, nil
	default:
		return OrderNormal, ErrInvalidArgument.WithDetails("unknown order class: " + s)
	}
}

// Valid reports whether the order class is one of the three known classes.
func (o Order) Valid() bool {
	return o <= OrderLate
}

// Subscriber is one registered participant in the suspend/resume broadcast.
// Identity is the caller-chosen Name; the ID is assigned at first
// registration and survives idempotent re-registration.
type Subscriber struct {
	// ID is the registration identifier.
	// Format: qsub-{ulid_lowercase}, 31 characters total.
	ID string `json:"id"`

	// Name is the subscriber identity, unique across the registry
	// (e.g. "net.veridios.timekeeper"). Re-registering the same Name is
	// idempotent and keeps the original broadcast position.
	Name string `json:"name"`

	// Order is the broadcast class.
	Order Order `json:"order"`

	// Opcode is an opaque tag chosen by the subscriber, echoed verbatim in
	// every notification so the subscriber can route the message inside its
	// own event loop.
	Opcode uint32 `json:"opcode"`

	// Seq is the registry-assigned registration sequence. It breaks ties
	// inside an order class and never changes for a live registration.
	Seq uint64 `json:"seq"`

	// Remote describes the peer connection for diagnostics.
	Remote string `json:"remote,omitempty"`

	// RegisteredAt is the first registration timestamp (Unix milliseconds).
	RegisteredAt int64 `json:"registered_at"`

	// LastSeenAt is the last stream activity timestamp (Unix milliseconds).
	LastSeenAt int64 `json:"last_seen_at"`
}

// NewSubscriber creates a Subscriber with a generated ID and timestamps.
// Seq is assigned by the registry at insertion.
func NewSubscriber(name string, order Order, opcode uint32) (*Subscriber, error) {
	id, err := GenerateSubscriberID()
	if err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	s := &Subscriber{
		ID:           id,
		Name:         name,
		Order:        order,
		Opcode:       opcode,
		RegisteredAt: now,
		LastSeenAt:   now,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// GenerateSubscriberID generates a new registration ID using ULID.
// Format: qsub-{ulid_lowercase}, 31 characters total.
func GenerateSubscriberID() (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", ErrInternalServer.WithCause(err)
	}
	return SubscriberIDPrefix + strings.ToLower(id.String()), nil
}

// Validate validates the subscriber fields against constraints.
// Returns a DomainError with code QS-SUB-4001 if validation fails.
func (s *Subscriber) Validate() error {
	var violations []string

	if s.Name == "" {
		violations = append(violations, "name is required")
	}
	if len(s.Name) > MaxNameLength {
		violations = append(violations, "name exceeds 128 characters")
	}
	if len(s.Remote) > MaxRemoteLength {
		violations = append(violations, "remote exceeds 256 characters")
	}
	if !s.Order.Valid() {
		violations = append(violations, "unknown order class")
	}

	if len(violations) > 0 {
		return ErrSubscriberValidation.WithDetails(strings.Join(violations, "; "))
	}
	return nil
}

// Touch updates the LastSeenAt timestamp.
func (s *Subscriber) Touch() {
	s.LastSeenAt = time.Now().UnixMilli()
}

// Clone creates a copy of the subscriber.
func (s *Subscriber) Clone() *Subscriber {
	clone := *s
	return &clone
}

// RegisteredAtTime returns RegisteredAt as time.Time.
func (s *Subscriber) RegisteredAtTime() time.Time {
	return time.UnixMilli(s.RegisteredAt)
}

// IsValidSubscriberID checks if a string is a valid registration ID format.
// It normalizes the ID to lowercase before validation.
func IsValidSubscriberID(id string) bool {
	id = strings.ToLower(id)

	if !strings.HasPrefix(id, SubscriberIDPrefix) {
		return false
	}

	// qsub- (5) + ULID (26) = 31 characters
	if len(id) != 31 {
		return false
	}

	ulidPart := strings.ToUpper(id[len(SubscriberIDPrefix):])
	_, err := ulid.Parse(ulidPart)
	return err == nil
}

// NormalizeSubscriberID normalizes a registration ID to lowercase.
// Returns empty string if the ID is invalid.
func NormalizeSubscriberID(id string) string {
	normalized := strings.ToLower(id)
	if !IsValidSubscriberID(normalized) {
		return ""
	}
	return normalized
}
