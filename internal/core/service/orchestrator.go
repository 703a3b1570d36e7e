package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/veridios/quiesce-go/internal/buildopts"
	"github.com/veridios/quiesce-go/internal/core/domain"
)

// ============================================================================
// Collaborator interfaces
// ============================================================================

// SubscriberDirectory is the registry view the orchestrator needs.
type SubscriberDirectory interface {
	// Freeze rejects Register/Unregister until Thaw. Evict stays allowed.
	Freeze()
	Thaw()

	// Ascending returns subscribers in suspend order; Descending returns
	// the exact reverse.
	Ascending() []*domain.Subscriber
	Descending() []*domain.Subscriber

	// Evict removes a dead subscriber, freeze or not.
	Evict(id string) error

	Len() int
}

// Notice is the payload delivered to a subscriber with every directive.
type Notice struct {
	// CycleID identifies the suspend cycle the directive belongs to.
	CycleID string

	// Epoch is the token epoch minted for the cycle.
	Epoch uint64

	// Directive is what the subscriber is being told to do.
	Directive domain.Directive

	// Deadline is when a prepare acknowledgement is due. Zero for
	// directives that take no answer.
	Deadline time.Time
}

// PrepareAnswer is a subscriber's reply to the prepare directive.
type PrepareAnswer struct {
	// Ready is true when the subscriber has quiesced and consents to the
	// transition.
	Ready bool

	// Reason is the stated veto reason when Ready is false.
	Reason string
}

// Courier delivers directives to subscribers. The bus server implements it
// over per-subscriber notification streams.
type Courier interface {
	// Prepare delivers the prepare directive and blocks until the
	// subscriber answers or ctx expires. ErrSubscriberGone reports a dead
	// peer; a deadline error reports a missed acknowledgement.
	Prepare(ctx context.Context, sub *domain.Subscriber, notice Notice) (PrepareAnswer, error)

	// Notify delivers a directive that takes no answer.
	Notify(ctx context.Context, sub *domain.Subscriber, notice Notice) error
}

// PowerGateway performs the platform power transition.
type PowerGateway interface {
	Kind() string
	Enter(ctx context.Context, token domain.SuspendToken) (domain.WakeClaim, error)
}

// Swapper is the swap collaborator contract. Flush runs after the last
// acknowledgement and before the transition; Restore runs after a
// validated wake and before resume notifications.
type Swapper interface {
	Flush(ctx context.Context) error
	Restore(ctx context.Context) error
}

// NopSwapper is wired when the swap option is compiled out.
type NopSwapper struct{}

func (NopSwapper) Flush(context.Context) error   { return nil }
func (NopSwapper) Restore(context.Context) error { return nil }

// WakeClaimSource presents the wake claim parked across a reboot.
type WakeClaimSource interface {
	Present() bool
	Consume() (domain.SuspendToken, error)
}

// noClaims is the claim source for deployments without a handoff area.
type noClaims struct{}

func (noClaims) Present() bool { return false }
func (noClaims) Consume() (domain.SuspendToken, error) {
	return domain.SuspendToken{}, domain.ErrTokenMalformed.WithDetails("no wake claim source")
}

// CycleMetrics receives orchestrator measurements. The telemetry package
// provides the Prometheus implementation.
type CycleMetrics interface {
	CycleFinished(outcome domain.Outcome, prepare, suspended time.Duration)
	TokenMismatch()
	AbortDeliveryFailure()
	PowerState(state domain.PowerState)
}

// NopMetrics discards all measurements.
type NopMetrics struct{}

func (NopMetrics) CycleFinished(domain.Outcome, time.Duration, time.Duration) {}
func (NopMetrics) TokenMismatch()                                             {}
func (NopMetrics) AbortDeliveryFailure()                                      {}
func (NopMetrics) PowerState(domain.PowerState)                               {}

// ============================================================================
// Orchestrator
// ============================================================================

// OrchestratorConfig holds configuration for the Orchestrator.
type OrchestratorConfig struct {
	// SubscriberAckTimeout is the per-subscriber prepare deadline.
	SubscriberAckTimeout time.Duration

	// CycleDeadline caps the whole prepare phase. Whichever of the two
	// deadlines expires first aborts the cycle.
	CycleDeadline time.Duration

	// NotifyTimeout bounds each abort/resume/reinit delivery.
	NotifyTimeout time.Duration

	// HistorySize is how many finished cycles the status surface keeps.
	HistorySize int

	// TriggerRate and TriggerBurst meter callers that keep retrying into
	// a busy orchestrator.
	TriggerRate  float64
	TriggerBurst int

	// SwapEnabled wires the flush/restore calls into the cycle.
	SwapEnabled bool
}

// DefaultOrchestratorConfig returns default configuration.
func DefaultOrchestratorConfig() *OrchestratorConfig {
	return &OrchestratorConfig{
		SubscriberAckTimeout: 5 * time.Second,
		CycleDeadline:        30 * time.Second,
		NotifyTimeout:        2 * time.Second,
		HistorySize:          32,
		TriggerRate:          1,
		TriggerBurst:         3,
		SwapEnabled:          buildopts.Swap,
	}
}

// OrchestratorDeps bundles the orchestrator's collaborators.
type OrchestratorDeps struct {
	Registry SubscriberDirectory
	Tokens   *TokenService
	Courier  Courier
	Gateway  PowerGateway

	// Swapper may be nil when SwapEnabled is false.
	Swapper Swapper

	// Claims may be nil when no handoff area exists.
	Claims WakeClaimSource

	// Metrics may be nil.
	Metrics CycleMetrics

	// Logger may be nil.
	Logger *slog.Logger
}

// Orchestrator owns the suspend/resume state machine. At most one cycle is
// in flight at any time; concurrent triggers fail fast with ErrBusy.
type Orchestrator struct {
	cfg      OrchestratorConfig
	registry SubscriberDirectory
	tokens   *TokenService
	courier  Courier
	gateway  PowerGateway
	swapper  Swapper
	claims   WakeClaimSource
	metrics  CycleMetrics
	logger   *slog.Logger

	state    atomic.Uint32
	busyGate *rate.Limiter
	history  *cycleHistory
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(deps OrchestratorDeps, config *OrchestratorConfig) (*Orchestrator, error) {
	if deps.Registry == nil {
		return nil, domain.ErrMissingArgument.WithDetails("orchestrator: registry is required")
	}
	if deps.Tokens == nil {
		return nil, domain.ErrMissingArgument.WithDetails("orchestrator: token service is required")
	}
	if deps.Courier == nil {
		return nil, domain.ErrMissingArgument.WithDetails("orchestrator: courier is required")
	}
	if deps.Gateway == nil {
		return nil, domain.ErrMissingArgument.WithDetails("orchestrator: gateway is required")
	}

	if config == nil {
		config = DefaultOrchestratorConfig()
	}
	cfg := *config
	if cfg.SubscriberAckTimeout <= 0 {
		cfg.SubscriberAckTimeout = 5 * time.Second
	}
	if cfg.CycleDeadline <= 0 {
		cfg.CycleDeadline = 30 * time.Second
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 2 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 32
	}
	if cfg.TriggerRate <= 0 {
		cfg.TriggerRate = 1
	}
	if cfg.TriggerBurst <= 0 {
		cfg.TriggerBurst = 3
	}

	if deps.Swapper == nil {
		deps.Swapper = NopSwapper{}
	}
	if deps.Claims == nil {
		deps.Claims = noClaims{}
	}
	if deps.Metrics == nil {
		deps.Metrics = NopMetrics{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	return &Orchestrator{
		cfg:      cfg,
		registry: deps.Registry,
		tokens:   deps.Tokens,
		courier:  deps.Courier,
		gateway:  deps.Gateway,
		swapper:  deps.Swapper,
		claims:   deps.Claims,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		busyGate: rate.NewLimiter(rate.Limit(cfg.TriggerRate), cfg.TriggerBurst),
		history:  newCycleHistory(cfg.HistorySize),
	}, nil
}

// State returns the current state machine position.
func (o *Orchestrator) State() domain.PowerState {
	return domain.PowerState(o.state.Load())
}

// setState moves the state machine and mirrors the move into metrics.
func (o *Orchestrator) setState(st domain.PowerState) {
	o.state.Store(uint32(st))
	o.metrics.PowerState(st)
	if buildopts.DebugTrace {
		o.logger.Debug("power state", "state", st.String())
	}
}

// ============================================================================
// Suspend operation
// ============================================================================

// SuspendRequest contains parameters for triggering a suspend cycle.
type SuspendRequest struct {
	// Requester identifies the caller, recorded in the cycle history.
	Requester string

	// Reason is optional free text, logged with the cycle.
	Reason string
}

// SuspendResponse contains the finished cycle record.
type SuspendResponse struct {
	Cycle *domain.CycleRecord
}

// Suspend runs one full suspend cycle: prepare round-trips in ascending
// order, swap flush, token commit, the power transition, wake validation,
// and the resume broadcast in exact reverse order.
//
// The returned record is also pushed into the cycle history, so callers
// that only care about success can ignore it. On the reboot substitute the
// call never returns: the machine goes down with the process.
func (o *Orchestrator) Suspend(ctx context.Context, req *SuspendRequest) (*SuspendResponse, error) {
	// 1. Validate input
	if req == nil || req.Requester == "" {
		return nil, domain.ErrMissingArgument.WithDetails("requester is required")
	}

	// 2. Single-cycle guard. Rejected callers burn retry budget; once it
	// is gone they are told to back off instead.
	if !o.state.CompareAndSwap(uint32(domain.StateIdle), uint32(domain.StatePreparing)) {
		if !o.busyGate.Allow() {
			reservation := o.busyGate.Reserve()
			delay := reservation.Delay()
			reservation.Cancel()
			return nil, domain.ErrRateLimited.WithDetails(
				"busy retries exhausted, retry after " + delay.String())
		}
		return nil, domain.ErrBusy.WithDetails(
			"cycle in flight, state " + o.State().String())
	}
	o.metrics.PowerState(domain.StatePreparing)
	defer o.setState(domain.StateIdle)

	// 3. Freeze registrations for the whole cycle.
	o.registry.Freeze()
	defer o.registry.Thaw()

	// 4. Mint the cycle identity and its token. The origin records which
	// kind of transition this token is for.
	cycleID, err := domain.GenerateCycleID()
	if err != nil {
		return nil, err
	}
	token, err := o.tokens.Mint(domain.OriginForGateway(o.gateway.Kind()))
	if err != nil {
		return nil, err
	}

	cycle := &domain.CycleRecord{
		ID:        cycleID,
		Epoch:     token.Epoch,
		Requester: req.Requester,
		StartedAt: time.Now().UnixMilli(),
	}

	o.logger.Info("suspend cycle started",
		"cycle_id", cycleID,
		"epoch", token.Epoch,
		"requester", req.Requester,
		"reason", req.Reason,
		"subscribers", o.registry.Len())

	// 5. Prepare phase: sequential round-trips in ascending order, under a
	// per-subscriber deadline and an aggregate cycle cap.
	cycleCtx, cancel := context.WithTimeout(ctx, o.cfg.CycleDeadline)
	defer cancel()

	prepareStart := time.Now()
	subs := o.registry.Ascending()
	acked := make([]*domain.Subscriber, 0, len(subs))

	for _, sub := range subs {
		notice := Notice{
			CycleID:   cycleID,
			Epoch:     token.Epoch,
			Directive: domain.DirectivePrepare,
			Deadline:  time.Now().Add(o.cfg.SubscriberAckTimeout),
		}

		subCtx, subCancel := context.WithTimeout(cycleCtx, o.cfg.SubscriberAckTimeout)
		answer, err := o.courier.Prepare(subCtx, sub, notice)
		subTimedOut := subCtx.Err() != nil
		subCancel()

		if err != nil {
			if errors.Is(err, domain.ErrSubscriberGone) {
				// A dead peer no longer counts toward the cycle.
				o.evict(sub, "prepare")
				continue
			}
			if cause := cycleCtx.Err(); cause != nil {
				cycle.FailedSubscriber = sub.Name
				if errors.Is(cause, context.Canceled) {
					cycle.Outcome = domain.OutcomeAborted
					cycle.DenyReason = "trigger cancelled during prepare"
					o.abortAcked(cycle, acked)
					o.finish(cycle, prepareStart, time.Time{})
					return &SuspendResponse{Cycle: cycle}, domain.ErrCycleAborted.WithDetails(
						"trigger cancelled during prepare")
				}
				cycle.Outcome = domain.OutcomeTimeout
				o.abortAcked(cycle, acked)
				o.finish(cycle, prepareStart, time.Time{})
				return &SuspendResponse{Cycle: cycle}, domain.ErrCycleDeadline.WithDetails(
					fmt.Sprintf("cycle cap reached at subscriber %s", sub.Name))
			}
			if subTimedOut {
				cycle.Outcome = domain.OutcomeTimeout
				cycle.FailedSubscriber = sub.Name
				o.abortAcked(cycle, acked)
				o.finish(cycle, prepareStart, time.Time{})
				return &SuspendResponse{Cycle: cycle}, domain.ErrPrepareTimeout.WithDetails(
					"subscriber " + sub.Name)
			}
			// Any other delivery failure means the peer is unreachable.
			o.logger.Warn("prepare delivery failed, evicting subscriber",
				"cycle_id", cycleID,
				"subscriber", sub.Name,
				"error", err)
			o.evict(sub, "prepare")
			continue
		}

		if !answer.Ready {
			cycle.Outcome = domain.OutcomeDenied
			cycle.FailedSubscriber = sub.Name
			cycle.DenyReason = answer.Reason
			o.abortAcked(cycle, acked)
			o.finish(cycle, prepareStart, time.Time{})
			return &SuspendResponse{Cycle: cycle}, domain.ErrPrepareDenied.WithDetails(
				fmt.Sprintf("subscriber %s: %s", sub.Name, answer.Reason))
		}

		acked = append(acked, sub)
		cycle.Acked++
		if buildopts.DebugTrace {
			o.logger.Debug("prepare acknowledged",
				"cycle_id", cycleID,
				"subscriber", sub.Name,
				"order", sub.Order.String())
		}
	}
	cycle.PrepareDuration = time.Since(prepareStart)

	// 6. Flush the swap image while power is still guaranteed.
	if o.cfg.SwapEnabled {
		if err := o.swapper.Flush(cycleCtx); err != nil {
			cycle.Outcome = domain.OutcomeSwapFailed
			cycle.DenyReason = "swap flush failed"
			o.abortAcked(cycle, acked)
			o.finish(cycle, prepareStart, time.Time{})
			return &SuspendResponse{Cycle: cycle}, err
		}
	}

	// 7. Commit the token slot. The transition must not be attempted until
	// the record is durable.
	if err := o.tokens.Commit(token, cycleID); err != nil {
		cycle.Outcome = domain.OutcomeAborted
		cycle.DenyReason = "token slot write failed"
		o.abortAcked(cycle, acked)
		o.finish(cycle, prepareStart, time.Time{})
		return &SuspendResponse{Cycle: cycle}, err
	}

	// 8. Enter the transition. The gateway call is detached from the
	// trigger's context: the requesting client going away must not abort
	// a suspend that is already past its commit point.
	o.setState(domain.StateSuspended)
	o.logger.Info("entering power transition",
		"cycle_id", cycleID,
		"gateway", o.gateway.Kind(),
		"acked", cycle.Acked)

	suspendStart := time.Now()
	claim, err := o.gateway.Enter(context.WithoutCancel(ctx), token)
	if err != nil {
		// The transition was refused; nothing lost power. Unpark the
		// acknowledged subscribers and clear the slot.
		cycle.Outcome = domain.OutcomeGatewayFailed
		o.setState(domain.StatePreparing)
		if invErr := o.tokens.Invalidate(); invErr != nil {
			o.logger.Error("slot invalidation failed after gateway failure", "error", invErr)
		}
		o.abortAcked(cycle, acked)
		o.finish(cycle, prepareStart, time.Time{})
		return &SuspendResponse{Cycle: cycle}, err
	}
	cycle.SuspendedDuration = time.Since(suspendStart)

	// 9. Validate the wake claim against the committed record.
	o.setState(domain.StateResuming)
	if _, err := o.tokens.ValidateWake(claim); err != nil {
		o.metrics.TokenMismatch()
		if invErr := o.tokens.Invalidate(); invErr != nil {
			o.logger.Error("slot invalidation failed after rejected wake", "error", invErr)
		}
		// Untrusted wake: no resume. Subscribers rebuild from scratch in
		// startup order.
		cycle.Outcome = domain.OutcomeReinit
		cycle.Notified = o.broadcast(ctx, cycle, domain.DirectiveReinit, o.registry.Ascending())
		o.finish(cycle, prepareStart, suspendStart)
		return &SuspendResponse{Cycle: cycle}, err
	}

	// 10. Consume the slot record before anyone is told about the wake.
	if err := o.tokens.Invalidate(); err != nil {
		o.logger.Error("slot invalidation failed after validated wake", "error", err)
	}

	// 11. Restore the swap image. A corrupt image downgrades the wake to
	// the cold path instead of resuming over bad pages.
	if o.cfg.SwapEnabled {
		if err := o.swapper.Restore(ctx); err != nil {
			cycle.Outcome = domain.OutcomeReinit
			cycle.DenyReason = "swap restore failed"
			cycle.Notified = o.broadcast(ctx, cycle, domain.DirectiveReinit, o.registry.Ascending())
			o.finish(cycle, prepareStart, suspendStart)
			return &SuspendResponse{Cycle: cycle}, err
		}
	}

	// 12. Resume notifications in exact reverse of the prepare order.
	resumeOrder := make([]*domain.Subscriber, 0, len(acked))
	for i := len(acked) - 1; i >= 0; i-- {
		resumeOrder = append(resumeOrder, acked[i])
	}
	cycle.Notified = o.broadcast(ctx, cycle, domain.DirectiveResume, resumeOrder)

	cycle.Outcome = domain.OutcomeCompleted
	o.finish(cycle, prepareStart, suspendStart)
	return &SuspendResponse{Cycle: cycle}, nil
}

// abortAcked rolls back an in-flight prepare: abort notifications go to the
// already-acknowledged subscribers only, in reverse acknowledgement order.
// Delivery is best-effort; an unreachable peer is counted, logged, and for
// a dead stream evicted, never fatal.
func (o *Orchestrator) abortAcked(cycle *domain.CycleRecord, acked []*domain.Subscriber) {
	for i := len(acked) - 1; i >= 0; i-- {
		sub := acked[i]
		notice := Notice{
			CycleID:   cycle.ID,
			Epoch:     cycle.Epoch,
			Directive: domain.DirectiveAbort,
		}

		notifyCtx, cancel := context.WithTimeout(context.Background(), o.cfg.NotifyTimeout)
		err := o.courier.Notify(notifyCtx, sub, notice)
		cancel()
		if err != nil {
			cycle.AbortFailures++
			o.metrics.AbortDeliveryFailure()
			o.logger.Warn("abort delivery failed",
				"cycle_id", cycle.ID,
				"subscriber", sub.Name,
				"error", err)
			if errors.Is(err, domain.ErrSubscriberGone) {
				o.evict(sub, "abort")
			}
		}
	}
}

// broadcast delivers a no-answer directive to subs in the given order and
// returns how many deliveries succeeded.
func (o *Orchestrator) broadcast(ctx context.Context, cycle *domain.CycleRecord, directive domain.Directive, subs []*domain.Subscriber) int {
	delivered := 0
	for _, sub := range subs {
		notice := Notice{
			CycleID:   cycle.ID,
			Epoch:     cycle.Epoch,
			Directive: directive,
		}

		notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.NotifyTimeout)
		err := o.courier.Notify(notifyCtx, sub, notice)
		cancel()
		if err != nil {
			o.logger.Warn("notification delivery failed",
				"cycle_id", cycle.ID,
				"directive", directive.String(),
				"subscriber", sub.Name,
				"error", err)
			if errors.Is(err, domain.ErrSubscriberGone) {
				o.evict(sub, directive.String())
			}
			continue
		}
		delivered++
	}
	return delivered
}

// evict removes a dead subscriber mid-cycle.
func (o *Orchestrator) evict(sub *domain.Subscriber, phase string) {
	if err := o.registry.Evict(sub.ID); err != nil {
		o.logger.Warn("evict failed",
			"subscriber", sub.Name,
			"phase", phase,
			"error", err)
		return
	}
	o.logger.Info("subscriber evicted",
		"subscriber", sub.Name,
		"subscriber_id", sub.ID,
		"phase", phase)
}

// finish stamps, records, and logs a cycle.
func (o *Orchestrator) finish(cycle *domain.CycleRecord, prepareStart time.Time, suspendStart time.Time) {
	cycle.EndedAt = time.Now().UnixMilli()
	if cycle.PrepareDuration == 0 && !prepareStart.IsZero() {
		cycle.PrepareDuration = time.Since(prepareStart)
	}

	o.history.push(cycle)
	o.metrics.CycleFinished(cycle.Outcome, cycle.PrepareDuration, cycle.SuspendedDuration)

	attrs := []any{
		"cycle_id", cycle.ID,
		"outcome", cycle.Outcome.String(),
		"epoch", cycle.Epoch,
		"acked", cycle.Acked,
		"prepare_duration", cycle.PrepareDuration,
	}
	if cycle.FailedSubscriber != "" {
		attrs = append(attrs, "failed_subscriber", cycle.FailedSubscriber)
	}
	if cycle.DenyReason != "" {
		attrs = append(attrs, "reason", cycle.DenyReason)
	}
	if !suspendStart.IsZero() {
		attrs = append(attrs, "suspended_duration", cycle.SuspendedDuration)
	}

	if cycle.Outcome == domain.OutcomeCompleted {
		o.logger.Info("suspend cycle finished", attrs...)
	} else {
		o.logger.Warn("suspend cycle finished", attrs...)
	}
}
