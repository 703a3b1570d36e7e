package service

import (
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/veridios/quiesce-go/internal/core/domain"
)

// TokenSlot defines the persistence interface for the token slot.
type TokenSlot interface {
	// Commit durably writes the record. It must not return before the
	// record has reached stable storage.
	Commit(rec domain.SlotRecord) error

	// Load reads the slot. A missing slot yields the sentinel record with
	// no error; an unreadable slot yields the sentinel record alongside
	// the error.
	Load() (domain.SlotRecord, error)

	// Invalidate resets the slot to the sentinel record.
	Invalidate() error
}

// TokenServiceConfig holds configuration for TokenService.
type TokenServiceConfig struct {
	// Entropy is the randomness source for token nonces (default:
	// crypto/rand.Reader). Swapped out only in tests.
	Entropy io.Reader
}

// DefaultTokenServiceConfig returns default configuration.
func DefaultTokenServiceConfig() *TokenServiceConfig {
	return &TokenServiceConfig{
		Entropy: rand.Reader,
	}
}

// TokenService mints suspend tokens, persists them in the slot, and
// validates wake claims against the committed record.
//
// The epoch counter is process-lifetime monotonic. It starts at zero on a
// cold boot and is adopted from the persisted record when startup finds a
// pending transition, so a replayed older record can never compare equal
// to a freshly minted token even under a predictable entropy source.
type TokenService struct {
	slot    TokenSlot
	entropy io.Reader
	logger  *slog.Logger

	epoch atomic.Uint64
}

// NewTokenService creates a new TokenService.
func NewTokenService(slot TokenSlot, config *TokenServiceConfig, logger *slog.Logger) (*TokenService, error) {
	if slot == nil {
		return nil, domain.ErrMissingArgument.WithDetails("token service: slot is required")
	}
	if config == nil {
		config = DefaultTokenServiceConfig()
	}
	if config.Entropy == nil {
		config.Entropy = rand.Reader
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &TokenService{
		slot:    slot,
		entropy: config.Entropy,
		logger:  logger,
	}, nil
}

// Epoch returns the current epoch counter value.
func (s *TokenService) Epoch() uint64 {
	return s.epoch.Load()
}

// AdoptEpoch raises the epoch counter to at least epoch. Called during
// startup inspection so minting continues past a persisted record.
func (s *TokenService) AdoptEpoch(epoch uint64) {
	for {
		cur := s.epoch.Load()
		if cur >= epoch {
			return
		}
		if s.epoch.CompareAndSwap(cur, epoch) {
			return
		}
	}
}

// Mint produces a fresh suspend token: a new random nonce and the next
// epoch. Every call advances the epoch, even for cycles that later abort.
func (s *TokenService) Mint(origin domain.Origin) (domain.SuspendToken, error) {
	nonce, err := domain.NewNonce(s.entropy)
	if err != nil {
		return domain.SuspendToken{}, err
	}
	return domain.SuspendToken{
		Nonce:  nonce,
		Epoch:  s.epoch.Add(1),
		Origin: origin,
	}, nil
}

// Commit persists the token as the expected wake token. On return the
// record is durable; only then may the power transition be attempted.
func (s *TokenService) Commit(token domain.SuspendToken, cycleID string) error {
	if token.IsSentinel() {
		return domain.ErrInvalidArgument.WithDetails("refusing to commit the sentinel token")
	}
	return s.slot.Commit(domain.SlotRecord{
		Token:       token,
		CycleID:     cycleID,
		CommittedAt: time.Now().UnixMilli(),
		Clean:       false,
	})
}

// ValidateWake compares a wake claim against the committed slot record in
// constant time. On success it returns the record that matched; the caller
// must invalidate the slot before broadcasting resume.
func (s *TokenService) ValidateWake(claim domain.WakeClaim) (domain.SlotRecord, error) {
	rec, err := s.slot.Load()
	if err != nil {
		return rec, err
	}

	if rec.Token.IsSentinel() {
		return rec, domain.ErrTokenMismatch.WithDetails("no transition pending")
	}
	if !claim.Token.Equal(rec.Token) {
		s.logger.Warn("wake claim rejected",
			"expected", rec.Token.Masked(),
			"presented", claim.Token.Masked(),
			"source", claim.Source)
		return rec, domain.ErrTokenMismatch.WithDetails(
			fmt.Sprintf("claim from %s does not match committed token", claim.Source))
	}
	return rec, nil
}

// Invalidate resets the slot to the sentinel record so the committed token
// can satisfy at most one wake.
func (s *TokenService) Invalidate() error {
	return s.slot.Invalidate()
}

// ============================================================================
// Startup inspection
// ============================================================================

// StartupKind classifies what the persisted slot says about the previous
// process lifetime.
type StartupKind uint8

const (
	// StartupCold means no transition was pending: a first boot, or a
	// boot after an orderly shutdown.
	StartupCold StartupKind = iota

	// StartupPendingWake means a transition was committed and never
	// validated. The wake claim must be checked before normal operation.
	StartupPendingWake

	// StartupUnclean means the slot was unreadable or contradictory and
	// has nothing trustworthy to say.
	StartupUnclean
)

// String returns the startup kind name.
func (k StartupKind) String() string {
	switch k {
	case StartupCold:
		return "cold-boot"
	case StartupPendingWake:
		return "pending-wake"
	case StartupUnclean:
		return "unclean"
	default:
		return fmt.Sprintf("startup(%d)", uint8(k))
	}
}

// StartupReport is the result of slot inspection at process start.
type StartupReport struct {
	Kind   StartupKind
	Record domain.SlotRecord
}

// InspectStartup classifies the persisted slot and, for a pending wake,
// adopts its epoch so the counter stays monotonic across the reboot.
func (s *TokenService) InspectStartup() (StartupReport, error) {
	rec, err := s.slot.Load()
	if err != nil {
		return StartupReport{Kind: StartupUnclean, Record: rec}, err
	}

	if rec.Pending() {
		s.AdoptEpoch(rec.Token.Epoch)
		return StartupReport{Kind: StartupPendingWake, Record: rec}, nil
	}

	// A non-sentinel token marked clean is never written by any code path.
	if !rec.Token.IsSentinel() {
		return StartupReport{Kind: StartupUnclean, Record: rec}, nil
	}

	return StartupReport{Kind: StartupCold, Record: rec}, nil
}
