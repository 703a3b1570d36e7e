package gateway

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/veridios/quiesce-go/internal/core/domain"
)

// Default HAL settings.
const (
	DefaultSleepControlFile = "/sys/power/state"
	DefaultSleepState       = "mem"
)

// HALConfig configures the platform sleep gateway.
type HALConfig struct {
	// ControlFile is the platform sleep control file. Writing SleepState
	// to it enters suspend; the write returns on wake.
	ControlFile string

	// SleepState is the state written to ControlFile.
	SleepState string
}

// DefaultHALConfig returns the default HAL gateway configuration.
func DefaultHALConfig() HALConfig {
	return HALConfig{
		ControlFile: DefaultSleepControlFile,
		SleepState:  DefaultSleepState,
	}
}

// HAL suspends through the platform sleep control file. The process
// survives the transition: the control write blocks for the whole
// suspended period and returns on wake.
type HAL struct {
	cfg     HALConfig
	handoff string
	logger  *slog.Logger
}

// NewHAL creates the platform sleep gateway.
func NewHAL(cfg HALConfig, handoffFile string, logger *slog.Logger) (*HAL, error) {
	if cfg.ControlFile == "" {
		return nil, domain.ErrMissingArgument.WithDetails("hal: control file is required")
	}
	if cfg.SleepState == "" {
		cfg.SleepState = DefaultSleepState
	}
	if handoffFile == "" {
		return nil, domain.ErrMissingArgument.WithDetails("hal: handoff file is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HAL{cfg: cfg, handoff: handoffFile, logger: logger}, nil
}

// Kind implements Gateway.
func (g *HAL) Kind() string { return KindHAL }

// Enter parks the token, writes the sleep state and blocks until the
// platform wakes. An error means the transition was never entered.
func (g *HAL) Enter(ctx context.Context, token domain.SuspendToken) (domain.WakeClaim, error) {
	if err := ctx.Err(); err != nil {
		return domain.WakeClaim{}, domain.ErrGatewayFailure.WithDetails("hal: context done before transition").WithCause(err)
	}

	if err := WriteHandoff(g.handoff, token); err != nil {
		return domain.WakeClaim{}, err
	}

	g.logger.Info("entering platform sleep",
		"control_file", g.cfg.ControlFile,
		"sleep_state", g.cfg.SleepState)

	start := time.Now()
	if err := g.writeSleepState(); err != nil {
		// The transition was refused; nothing was lost. Clear the parked
		// token so a stale claim cannot surface later.
		if rmErr := os.Remove(g.handoff); rmErr != nil && !os.IsNotExist(rmErr) {
			g.logger.Warn("failed to clear handoff after refused transition", "error", rmErr)
		}
		return domain.WakeClaim{}, domain.ErrGatewayFailure.WithDetails("hal: sleep transition refused").WithCause(err)
	}

	g.logger.Info("platform wake", "suspended", time.Since(start))

	claim, err := ConsumeHandoff(g.handoff)
	if err != nil {
		// The device did sleep and wake; a missing or garbled claim makes
		// the wake untrusted, not the cycle unentered. The zero token
		// fails validation downstream.
		g.logger.Warn("wake claim unreadable", "error", err)
		return domain.WakeClaim{Source: "hal:claim-unreadable"}, nil
	}
	return domain.WakeClaim{Token: claim, Source: "hal"}, nil
}

// writeSleepState performs the blocking control file write.
func (g *HAL) writeSleepState() error {
	f, err := os.OpenFile(g.cfg.ControlFile, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(g.cfg.SleepState); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
