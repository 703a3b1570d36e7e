// Package domain defines the core domain models for Quiesce.
package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a business domain error with a structured error code.
// Error codes are grouped by subsystem: CYCLE, SUB, TOKN, GATE, SWAP, SYS, ARG.
type DomainError struct {
	Code    string // Error code (e.g., "QS-CYCLE-4090")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support for error comparison.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// Wrap wraps an error with this domain error as the cause.
func (e *DomainError) Wrap(cause error) *DomainError {
	return e.WithCause(cause)
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true // Only check if it's a DomainError
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ============================================================================
// Cycle Errors (CYCLE)
// ============================================================================

var (
	// ErrBusy indicates a suspend cycle is already in progress. Triggers are
	// rejected, never queued.
	ErrBusy = NewDomainError("QS-CYCLE-4090", "suspend cycle already in progress")

	// ErrPrepareDenied indicates a subscriber vetoed the prepare phase.
	// Details carry the vetoing identity and its stated reason.
	ErrPrepareDenied = NewDomainError("QS-CYCLE-4030", "prepare vetoed by subscriber")

	// ErrPrepareTimeout indicates a subscriber failed to acknowledge within
	// its deadline. Details carry the unresponsive identity.
	ErrPrepareTimeout = NewDomainError("QS-CYCLE-4080", "prepare acknowledgement timed out")

	// ErrCycleDeadline indicates the aggregate cycle deadline elapsed before
	// every subscriber had acknowledged.
	ErrCycleDeadline = NewDomainError("QS-CYCLE-4081", "aggregate cycle deadline exceeded")

	// ErrCycleAborted indicates the cycle was rolled back before the power
	// transition was attempted.
	ErrCycleAborted = NewDomainError("QS-CYCLE-4091", "suspend cycle aborted")

	// ErrNotSuspended indicates a resume was requested while no suspend was
	// in flight.
	ErrNotSuspended = NewDomainError("QS-CYCLE-4092", "no suspend cycle to resume")
)

// ============================================================================
// Subscriber Errors (SUB)
// ============================================================================

var (
	// ErrSubscriberNotFound indicates the referenced registration does not exist.
	ErrSubscriberNotFound = NewDomainError("QS-SUB-4040", "subscriber not found")

	// ErrMidCycleRegister indicates a registration change was attempted while
	// a suspend cycle was active.
	ErrMidCycleRegister = NewDomainError("QS-SUB-4090", "registration change rejected during active cycle")

	// ErrSubscriberGone indicates the subscriber's notification channel is no
	// longer reachable.
	ErrSubscriberGone = NewDomainError("QS-SUB-4100", "subscriber channel closed")

	// ErrSubscriberValidation indicates subscriber data validation failed.
	ErrSubscriberValidation = NewDomainError("QS-SUB-4001", "subscriber validation failed")
)

// ============================================================================
// Token Errors (TOKN)
// ============================================================================

var (
	// ErrTokenMismatch indicates the token presented at wake does not equal
	// the token recorded at suspend. The wake is treated as untrusted.
	ErrTokenMismatch = NewDomainError("QS-TOKN-4010", "resume token mismatch")

	// ErrTokenMalformed indicates the token wire form is invalid.
	ErrTokenMalformed = NewDomainError("QS-TOKN-4000", "malformed token")

	// ErrSlotUnreadable indicates the persisted token slot could not be read
	// or failed authentication. Callers fall back to the sentinel.
	ErrSlotUnreadable = NewDomainError("QS-TOKN-5001", "persisted token slot unreadable")

	// ErrSlotWrite indicates the persisted token slot could not be written
	// durably before the power transition.
	ErrSlotWrite = NewDomainError("QS-TOKN-5002", "persisted token slot write failed")
)

// ============================================================================
// Gateway Errors (GATE)
// ============================================================================

var (
	// ErrGatewayFailure indicates the hardware power transition call failed.
	ErrGatewayFailure = NewDomainError("QS-GATE-5000", "power transition failed")

	// ErrGatewayUnsupported indicates the configured gateway is not available
	// on this platform.
	ErrGatewayUnsupported = NewDomainError("QS-GATE-5001", "power gateway unsupported on this platform")
)

// ============================================================================
// Swap Errors (SWAP)
// ============================================================================

var (
	// ErrSwapFlush indicates the swap collaborator failed to flush its dirty
	// state ahead of the power transition.
	ErrSwapFlush = NewDomainError("QS-SWAP-5000", "swap flush failed")

	// ErrSwapRestore indicates the swap collaborator failed to restore state
	// after wake.
	ErrSwapRestore = NewDomainError("QS-SWAP-5001", "swap restore failed")

	// ErrSwapChecksum indicates a swap page failed integrity verification on
	// restore.
	ErrSwapChecksum = NewDomainError("QS-SWAP-4000", "swap page checksum mismatch")
)

// ============================================================================
// System Errors (SYS)
// ============================================================================

var (
	// ErrInternalServer indicates an internal server error.
	ErrInternalServer = NewDomainError("QS-SYS-5000", "internal server error")

	// ErrStorageError indicates a storage layer error.
	ErrStorageError = NewDomainError("QS-SYS-5001", "storage error")

	// ErrServiceUnavailable indicates the service is temporarily unavailable.
	ErrServiceUnavailable = NewDomainError("QS-SYS-5030", "service unavailable")

	// ErrBadRequest indicates a malformed request.
	ErrBadRequest = NewDomainError("QS-SYS-4000", "bad request")

	// ErrRateLimited indicates too many trigger requests.
	ErrRateLimited = NewDomainError("QS-SYS-4290", "too many requests")
)

// ============================================================================
// Argument Errors (ARG)
// ============================================================================

var (
	// ErrInvalidArgument indicates an invalid argument.
	ErrInvalidArgument = NewDomainError("QS-ARG-1001", "invalid argument")

	// ErrMissingArgument indicates a required argument is missing.
	ErrMissingArgument = NewDomainError("QS-ARG-1002", "missing required argument")
)
