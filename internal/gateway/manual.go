package gateway

import (
	"context"
	"log/slog"
	"sync"

	"github.com/veridios/quiesce-go/internal/core/domain"
)

// Manual blocks inside Enter until an explicit wake is injected. It stands
// in for the platform in development builds and tests.
type Manual struct {
	logger *slog.Logger

	mu       sync.Mutex
	inFlight bool
	entered  domain.SuspendToken
	wakeCh   chan domain.WakeClaim
}

// NewManual creates the manual gateway.
func NewManual(logger *slog.Logger) *Manual {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manual{logger: logger}
}

// Kind implements Gateway.
func (g *Manual) Kind() string { return KindManual }

// Enter blocks until Wake or WakeMatching is called.
func (g *Manual) Enter(ctx context.Context, token domain.SuspendToken) (domain.WakeClaim, error) {
	g.mu.Lock()
	if g.inFlight {
		g.mu.Unlock()
		return domain.WakeClaim{}, domain.ErrGatewayFailure.WithDetails("manual: transition already in flight")
	}
	g.inFlight = true
	g.entered = token
	g.wakeCh = make(chan domain.WakeClaim, 1)
	wakeCh := g.wakeCh
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.inFlight = false
		g.wakeCh = nil
		g.mu.Unlock()
	}()

	g.logger.Info("manual gateway suspended, waiting for wake signal")

	select {
	case claim := <-wakeCh:
		return claim, nil
	case <-ctx.Done():
		return domain.WakeClaim{}, domain.ErrGatewayFailure.WithDetails("manual: wake never signalled").WithCause(ctx.Err())
	}
}

// Wake releases a blocked Enter with the given claim token.
func (g *Manual) Wake(token domain.SuspendToken) error {
	return g.wake(domain.WakeClaim{Token: token, Source: "manual"})
}

// WakeMatching releases a blocked Enter with the token that was entered,
// simulating a trusted wake.
func (g *Manual) WakeMatching() error {
	g.mu.Lock()
	token := g.entered
	g.mu.Unlock()
	return g.wake(domain.WakeClaim{Token: token, Source: "manual"})
}

// Entered returns the token of the transition in flight.
func (g *Manual) Entered() (domain.SuspendToken, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.entered, g.inFlight
}

func (g *Manual) wake(claim domain.WakeClaim) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.inFlight || g.wakeCh == nil {
		return domain.ErrNotSuspended.WithDetails("manual: no transition in flight")
	}
	select {
	case g.wakeCh <- claim:
		return nil
	default:
		return domain.ErrNotSuspended.WithDetails("manual: wake already signalled")
	}
}
