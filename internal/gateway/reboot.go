package gateway

import (
	"context"
	"log/slog"
	"os/exec"
	"time"

	"github.com/veridios/quiesce-go/internal/core/domain"
)

// DefaultRebootCommand is the command issued by the reboot substitute.
var DefaultRebootCommand = []string{"/sbin/reboot"}

// RebootConfig configures the reboot substitute gateway.
type RebootConfig struct {
	// Command is the reboot command and its arguments.
	Command []string

	// IssueTimeout bounds the reboot command itself, not the reboot.
	IssueTimeout time.Duration

	// GraceWindow is how long to wait for the machine to go down after
	// the command succeeded. A process still running past it reports the
	// reboot as failed instead of hanging the cycle.
	GraceWindow time.Duration
}

// DefaultRebootConfig returns the default reboot gateway configuration.
func DefaultRebootConfig() RebootConfig {
	return RebootConfig{
		Command:      DefaultRebootCommand,
		IssueTimeout: 10 * time.Second,
		GraceWindow:  90 * time.Second,
	}
}

// Reboot substitutes a full system reboot for the sleep transition, which
// exercises the whole persistence path: the process dies with the machine,
// and the next daemon startup finds the committed slot plus the parked
// claim and validates the wake exactly as after a true power loss.
//
// Enter never returns a claim. Either the reboot takes the process down,
// or issuing it failed and the cycle is reported as a gateway failure.
type Reboot struct {
	cfg     RebootConfig
	handoff string
	logger  *slog.Logger

	// issue runs the reboot command. Swapped out in tests.
	issue func(ctx context.Context) error
}

// NewReboot creates the reboot substitute gateway.
func NewReboot(cfg RebootConfig, handoffFile string, logger *slog.Logger) (*Reboot, error) {
	if len(cfg.Command) == 0 {
		cfg.Command = DefaultRebootCommand
	}
	if cfg.IssueTimeout <= 0 {
		cfg.IssueTimeout = 10 * time.Second
	}
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = 90 * time.Second
	}
	if handoffFile == "" {
		return nil, domain.ErrMissingArgument.WithDetails("reboot: handoff file is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	g := &Reboot{cfg: cfg, handoff: handoffFile, logger: logger}
	g.issue = g.runCommand
	return g, nil
}

// Kind implements Gateway.
func (g *Reboot) Kind() string { return KindReboot }

// Enter parks the token and issues the reboot, then waits for the system
// to take the process down.
func (g *Reboot) Enter(ctx context.Context, token domain.SuspendToken) (domain.WakeClaim, error) {
	if err := ctx.Err(); err != nil {
		return domain.WakeClaim{}, domain.ErrGatewayFailure.WithDetails("reboot: context done before transition").WithCause(err)
	}

	if err := WriteHandoff(g.handoff, token); err != nil {
		return domain.WakeClaim{}, err
	}

	g.logger.Info("issuing system reboot", "command", g.cfg.Command)

	issueCtx, cancel := context.WithTimeout(ctx, g.cfg.IssueTimeout)
	defer cancel()

	if err := g.issue(issueCtx); err != nil {
		return domain.WakeClaim{}, domain.ErrGatewayFailure.WithDetails("reboot: issue command").WithCause(err)
	}

	// The machine is going down. Hold here until it does; returning at
	// all means the reboot did not take. The orchestrator passes a
	// non-cancellable context, so the grace timer is what unsticks a
	// reboot that silently failed.
	grace := time.NewTimer(g.cfg.GraceWindow)
	defer grace.Stop()
	select {
	case <-grace.C:
		return domain.WakeClaim{}, domain.ErrGatewayFailure.WithDetails("reboot: process survived issued reboot")
	case <-ctx.Done():
		return domain.WakeClaim{}, domain.ErrGatewayFailure.WithDetails("reboot: process survived issued reboot").WithCause(ctx.Err())
	}
}

func (g *Reboot) runCommand(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, g.cfg.Command[0], g.cfg.Command[1:]...)
	return cmd.Run()
}
