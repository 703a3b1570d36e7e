package service

import (
	"context"
	"time"

	"github.com/veridios/quiesce-go/internal/core/domain"
)

// StartupResponse reports how boot-time slot recovery went.
type StartupResponse struct {
	// Kind is the slot classification at boot.
	Kind StartupKind

	// Resumed is true when a pending wake claim validated against the
	// committed record.
	Resumed bool

	// CycleID identifies the cycle that committed the pending record.
	CycleID string

	// Origin is the pending token's minting origin, which distinguishes
	// a wake after the reboot substitute from one after a genuine power
	// transition. OriginBoot for anything but a pending wake.
	Origin domain.Origin

	// Epoch is the token epoch after recovery.
	Epoch uint64

	// SwapRestored is true when the persisted swap image was loaded back.
	SwapRestored bool
}

// RecoverStartup settles the persisted token slot before the bus starts
// accepting registrations. A pending record is validated against the parked
// wake claim: on the reboot substitute this is where the post-reboot half of
// the cycle runs. The slot is invalidated after validation either way, so a
// committed token satisfies at most one wake across any number of boots.
//
// Recovery never stops the daemon from starting. Failures are absorbed into
// the response and the log; there are no subscribers to notify this early.
func (o *Orchestrator) RecoverStartup(ctx context.Context) *StartupResponse {
	report, err := o.tokens.InspectStartup()
	if err != nil {
		o.logger.Error("token slot unreadable at startup, resetting to sentinel",
			"error", err)
		if invErr := o.tokens.Invalidate(); invErr != nil {
			o.logger.Error("slot reset failed", "error", invErr)
		}
		return &StartupResponse{Kind: StartupUnclean, Epoch: o.tokens.Epoch()}
	}

	switch report.Kind {
	case StartupCold:
		o.logger.Info("cold boot, no transition pending")
		return &StartupResponse{Kind: StartupCold, Epoch: o.tokens.Epoch()}

	case StartupUnclean:
		o.logger.Warn("contradictory token slot at startup, resetting to sentinel",
			"cycle_id", report.Record.CycleID)
		if invErr := o.tokens.Invalidate(); invErr != nil {
			o.logger.Error("slot reset failed", "error", invErr)
		}
		return &StartupResponse{Kind: StartupUnclean, Epoch: o.tokens.Epoch()}
	}

	// Pending wake. Reconstruct the claim from the parked handoff, validate,
	// and burn the slot record no matter what the validation said.
	o.setState(domain.StateResuming)
	defer o.setState(domain.StateIdle)

	rec := report.Record
	claim := domain.WakeClaim{Source: "startup:no-claim"}
	if o.claims.Present() {
		token, err := o.claims.Consume()
		if err != nil {
			o.logger.Warn("parked wake claim unreadable", "error", err)
			claim.Source = "startup:claim-unreadable"
		} else {
			claim = domain.WakeClaim{Token: token, Source: "startup:handoff"}
		}
	}

	_, verr := o.tokens.ValidateWake(claim)
	if invErr := o.tokens.Invalidate(); invErr != nil {
		o.logger.Error("slot invalidation failed after startup validation", "error", invErr)
	}

	now := time.Now()
	cycle := &domain.CycleRecord{
		ID:        rec.CycleID,
		Epoch:     rec.Token.Epoch,
		Requester: "startup-recovery",
		StartedAt: rec.CommittedAt,
		EndedAt:   now.UnixMilli(),
	}
	if rec.CommittedAt > 0 {
		cycle.SuspendedDuration = now.Sub(time.UnixMilli(rec.CommittedAt))
	}

	resp := &StartupResponse{
		Kind:    StartupPendingWake,
		CycleID: rec.CycleID,
		Origin:  rec.Token.Origin,
		Epoch:   o.tokens.Epoch(),
	}

	if verr != nil {
		o.metrics.TokenMismatch()
		cycle.Outcome = domain.OutcomeReinit
		cycle.DenyReason = "wake claim rejected at startup"
		o.history.push(cycle)
		o.metrics.CycleFinished(cycle.Outcome, 0, cycle.SuspendedDuration)
		o.logger.Warn("pending wake rejected, subscribers will reinitialize",
			"cycle_id", rec.CycleID,
			"origin", rec.Token.Origin.String(),
			"claim_source", claim.Source,
			"error", verr)
		return resp
	}

	if o.cfg.SwapEnabled {
		if err := o.swapper.Restore(ctx); err != nil {
			cycle.Outcome = domain.OutcomeReinit
			cycle.DenyReason = "swap restore failed"
			o.history.push(cycle)
			o.metrics.CycleFinished(cycle.Outcome, 0, cycle.SuspendedDuration)
			o.logger.Error("swap restore failed after validated wake, downgrading to cold path",
				"cycle_id", rec.CycleID,
				"error", err)
			return resp
		}
		resp.SwapRestored = true
	}

	cycle.Outcome = domain.OutcomeCompleted
	o.history.push(cycle)
	o.metrics.CycleFinished(cycle.Outcome, 0, cycle.SuspendedDuration)

	resp.Resumed = true
	o.logger.Info("pending wake validated",
		"cycle_id", rec.CycleID,
		"origin", rec.Token.Origin.String(),
		"epoch", rec.Token.Epoch,
		"suspended_duration", cycle.SuspendedDuration,
		"swap_restored", resp.SwapRestored)
	return resp
}
