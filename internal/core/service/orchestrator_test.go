// Package service provides the domain services for Quiesce.
package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/veridios/quiesce-go/internal/core/domain"
	"github.com/veridios/quiesce-go/internal/core/registry"
)

// mockCourier is a mock implementation of Courier for testing. Behavior is
// scripted per subscriber name.
type mockCourier struct {
	mu          sync.Mutex
	answers     map[string]PrepareAnswer
	prepareErrs map[string]error
	notifyErrs  map[string]error
	delays      map[string]time.Duration
	prepareLog  []string
	notifyLog   []string
}

func newMockCourier() *mockCourier {
	return &mockCourier{
		answers:     make(map[string]PrepareAnswer),
		prepareErrs: make(map[string]error),
		notifyErrs:  make(map[string]error),
		delays:      make(map[string]time.Duration),
	}
}

func (m *mockCourier) Prepare(ctx context.Context, sub *domain.Subscriber, notice Notice) (PrepareAnswer, error) {
	m.mu.Lock()
	m.prepareLog = append(m.prepareLog, sub.Name)
	answer, scripted := m.answers[sub.Name]
	err := m.prepareErrs[sub.Name]
	delay := m.delays[sub.Name]
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return PrepareAnswer{}, ctx.Err()
		}
	}
	if err != nil {
		return PrepareAnswer{}, err
	}
	if !scripted {
		answer = PrepareAnswer{Ready: true}
	}
	return answer, nil
}

func (m *mockCourier) Notify(ctx context.Context, sub *domain.Subscriber, notice Notice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifyLog = append(m.notifyLog, notice.Directive.String()+":"+sub.Name)
	return m.notifyErrs[sub.Name]
}

// notices returns the subscriber names that received the given directive,
// in delivery order.
func (m *mockCourier) notices(directive string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, entry := range m.notifyLog {
		if name, ok := strings.CutPrefix(entry, directive+":"); ok {
			out = append(out, name)
		}
	}
	return out
}

func (m *mockCourier) prepared() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.prepareLog)
}

// mockGateway is a mock implementation of PowerGateway for testing.
type mockGateway struct {
	mu        sync.Mutex
	kind      string
	enterErr  error
	claimFn   func(token domain.SuspendToken) domain.WakeClaim
	entered   int
	lastToken domain.SuspendToken
}

func (m *mockGateway) Kind() string {
	if m.kind != "" {
		return m.kind
	}
	return "mock"
}

func (m *mockGateway) Enter(ctx context.Context, token domain.SuspendToken) (domain.WakeClaim, error) {
	m.mu.Lock()
	m.entered++
	m.lastToken = token
	fn := m.claimFn
	err := m.enterErr
	m.mu.Unlock()

	if err != nil {
		return domain.WakeClaim{}, err
	}
	if fn != nil {
		return fn(token), nil
	}
	return domain.WakeClaim{Token: token, Source: "mock"}, nil
}

func (m *mockGateway) enterCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entered
}

// blockingGateway parks Enter until released, for concurrency tests.
type blockingGateway struct {
	entered chan struct{}
	release chan struct{}
}

func newBlockingGateway() *blockingGateway {
	return &blockingGateway{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *blockingGateway) Kind() string { return "blocking" }

func (g *blockingGateway) Enter(ctx context.Context, token domain.SuspendToken) (domain.WakeClaim, error) {
	close(g.entered)
	<-g.release
	return domain.WakeClaim{Token: token, Source: "blocking"}, nil
}

// mockSwapper is a mock implementation of Swapper for testing.
type mockSwapper struct {
	mu         sync.Mutex
	flushErr   error
	restoreErr error
	flushes    int
	restores   int
}

func (m *mockSwapper) Flush(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushes++
	return m.flushErr
}

func (m *mockSwapper) Restore(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restores++
	return m.restoreErr
}

// mockClaims is a mock implementation of WakeClaimSource for testing.
type mockClaims struct {
	token      domain.SuspendToken
	hasClaim   bool
	consumeErr error
	consumed   int
}

func (m *mockClaims) Present() bool { return m.hasClaim }

func (m *mockClaims) Consume() (domain.SuspendToken, error) {
	m.consumed++
	m.hasClaim = false
	if m.consumeErr != nil {
		return domain.SuspendToken{}, m.consumeErr
	}
	return m.token, nil
}

// mockCycleMetrics counts metric calls for assertions.
type mockCycleMetrics struct {
	mu            sync.Mutex
	finished      []domain.Outcome
	mismatches    int
	abortFailures int
}

func (m *mockCycleMetrics) CycleFinished(outcome domain.Outcome, prepare, suspended time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, outcome)
}

func (m *mockCycleMetrics) TokenMismatch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mismatches++
}

func (m *mockCycleMetrics) AbortDeliveryFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.abortFailures++
}

func (m *mockCycleMetrics) PowerState(state domain.PowerState) {}

func (m *mockCycleMetrics) outcomes() []domain.Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.finished)
}

// orchFixture bundles an orchestrator with all of its mocked collaborators.
type orchFixture struct {
	orch    *Orchestrator
	reg     *registry.Registry
	slot    *mockSlot
	tokens  *TokenService
	courier *mockCourier
	gateway *mockGateway
	swapper *mockSwapper
	claims  *mockClaims
	metrics *mockCycleMetrics
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newOrchFixture(t *testing.T, cfg *OrchestratorConfig) *orchFixture {
	t.Helper()

	if cfg == nil {
		cfg = DefaultOrchestratorConfig()
		cfg.SubscriberAckTimeout = 150 * time.Millisecond
		cfg.CycleDeadline = 2 * time.Second
		cfg.NotifyTimeout = 150 * time.Millisecond
	}

	f := &orchFixture{
		reg:     registry.New(),
		slot:    newMockSlot(),
		courier: newMockCourier(),
		gateway: &mockGateway{},
		swapper: &mockSwapper{},
		claims:  &mockClaims{},
		metrics: &mockCycleMetrics{},
	}

	tokens, err := NewTokenService(f.slot, &TokenServiceConfig{Entropy: &seqEntropy{}}, discardLogger())
	if err != nil {
		t.Fatalf("NewTokenService failed: %v", err)
	}
	f.tokens = tokens

	orch, err := NewOrchestrator(OrchestratorDeps{
		Registry: f.reg,
		Tokens:   tokens,
		Courier:  f.courier,
		Gateway:  f.gateway,
		Swapper:  f.swapper,
		Claims:   f.claims,
		Metrics:  f.metrics,
		Logger:   discardLogger(),
	}, cfg)
	if err != nil {
		t.Fatalf("NewOrchestrator failed: %v", err)
	}
	f.orch = orch
	return f
}

func addSubscriber(t *testing.T, reg *registry.Registry, name string, order domain.Order) *domain.Subscriber {
	t.Helper()
	sub, err := domain.NewSubscriber(name, order, 0x51)
	if err != nil {
		t.Fatalf("NewSubscriber(%s) failed: %v", name, err)
	}
	registered, created, err := reg.Register(sub)
	if err != nil {
		t.Fatalf("Register(%s) failed: %v", name, err)
	}
	if !created {
		t.Fatalf("Register(%s) should create a new registration", name)
	}
	return registered
}

// addThree registers late, early, normal in that insertion order so tests
// exercise the class sort, not just registration sequence.
func (f *orchFixture) addThree(t *testing.T) {
	t.Helper()
	addSubscriber(t, f.reg, "net.veridios.storage", domain.OrderLate)
	addSubscriber(t, f.reg, "net.veridios.timekeeper", domain.OrderEarly)
	addSubscriber(t, f.reg, "net.veridios.gfx", domain.OrderNormal)
}

// TestNewOrchestrator tests constructor validation.
func TestNewOrchestrator(t *testing.T) {
	f := newOrchFixture(t, nil)

	deps := OrchestratorDeps{
		Registry: f.reg,
		Tokens:   f.tokens,
		Courier:  f.courier,
		Gateway:  f.gateway,
	}

	cases := []struct {
		name   string
		mutate func(*OrchestratorDeps)
	}{
		{"missing registry", func(d *OrchestratorDeps) { d.Registry = nil }},
		{"missing tokens", func(d *OrchestratorDeps) { d.Tokens = nil }},
		{"missing courier", func(d *OrchestratorDeps) { d.Courier = nil }},
		{"missing gateway", func(d *OrchestratorDeps) { d.Gateway = nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			broken := deps
			tc.mutate(&broken)
			if _, err := NewOrchestrator(broken, nil); !errors.Is(err, domain.ErrMissingArgument) {
				t.Errorf("NewOrchestrator() error = %v, want ErrMissingArgument", err)
			}
		})
	}

	t.Run("optional deps defaulted", func(t *testing.T) {
		orch, err := NewOrchestrator(deps, nil)
		if err != nil {
			t.Fatalf("NewOrchestrator failed: %v", err)
		}
		if orch.State() != domain.StateIdle {
			t.Errorf("State() = %v, want StateIdle", orch.State())
		}
	})
}

// TestOrchestrator_SuspendValidation tests trigger input validation.
func TestOrchestrator_SuspendValidation(t *testing.T) {
	f := newOrchFixture(t, nil)
	ctx := context.Background()

	if _, err := f.orch.Suspend(ctx, nil); !errors.Is(err, domain.ErrMissingArgument) {
		t.Errorf("Suspend(nil) error = %v, want ErrMissingArgument", err)
	}
	if _, err := f.orch.Suspend(ctx, &SuspendRequest{}); !errors.Is(err, domain.ErrMissingArgument) {
		t.Errorf("Suspend(no requester) error = %v, want ErrMissingArgument", err)
	}
}

// TestOrchestrator_CompletedCycle tests the full happy path: prepare in
// ascending class order, transition, wake validation, resume in exact
// reverse order.
func TestOrchestrator_CompletedCycle(t *testing.T) {
	f := newOrchFixture(t, nil)
	f.addThree(t)

	resp, err := f.orch.Suspend(context.Background(), &SuspendRequest{Requester: "powerd", Reason: "lid closed"})
	if err != nil {
		t.Fatalf("Suspend failed: %v", err)
	}

	cycle := resp.Cycle
	if cycle.Outcome != domain.OutcomeCompleted {
		t.Errorf("Outcome = %v, want OutcomeCompleted", cycle.Outcome)
	}
	if cycle.Acked != 3 {
		t.Errorf("Acked = %d, want 3", cycle.Acked)
	}
	if cycle.Notified != 3 {
		t.Errorf("Notified = %d, want 3", cycle.Notified)
	}
	if cycle.Epoch != 1 {
		t.Errorf("Epoch = %d, want 1", cycle.Epoch)
	}

	wantPrepare := []string{"net.veridios.timekeeper", "net.veridios.gfx", "net.veridios.storage"}
	if got := f.courier.prepared(); !slices.Equal(got, wantPrepare) {
		t.Errorf("prepare order = %v, want %v", got, wantPrepare)
	}

	wantResume := []string{"net.veridios.storage", "net.veridios.gfx", "net.veridios.timekeeper"}
	if got := f.courier.notices("resume"); !slices.Equal(got, wantResume) {
		t.Errorf("resume order = %v, want %v", got, wantResume)
	}

	if got := f.gateway.enterCount(); got != 1 {
		t.Errorf("gateway entered %d times, want 1", got)
	}
	if f.gateway.lastToken.Epoch != 1 || f.gateway.lastToken.Origin != domain.OriginSuspend {
		t.Errorf("gateway token = epoch %d origin %v, want epoch 1 origin suspend",
			f.gateway.lastToken.Epoch, f.gateway.lastToken.Origin)
	}

	rec, _ := f.slot.Load()
	if !rec.Token.IsSentinel() || !rec.Clean {
		t.Error("Slot should be invalidated after a completed cycle")
	}

	if f.orch.State() != domain.StateIdle {
		t.Errorf("State() = %v, want StateIdle", f.orch.State())
	}

	status := f.orch.Status()
	if status.LastCycle == nil || status.LastCycle.Outcome != domain.OutcomeCompleted {
		t.Error("Status should carry the completed cycle")
	}
	if status.Subscribers != 3 {
		t.Errorf("Status.Subscribers = %d, want 3", status.Subscribers)
	}

	if got := f.metrics.outcomes(); !slices.Equal(got, []domain.Outcome{domain.OutcomeCompleted}) {
		t.Errorf("metric outcomes = %v, want [completed]", got)
	}
}

// TestOrchestrator_EmptyRegistry tests that a cycle with no subscribers
// still runs the transition.
func TestOrchestrator_EmptyRegistry(t *testing.T) {
	f := newOrchFixture(t, nil)

	resp, err := f.orch.Suspend(context.Background(), &SuspendRequest{Requester: "powerd"})
	if err != nil {
		t.Fatalf("Suspend failed: %v", err)
	}
	if resp.Cycle.Outcome != domain.OutcomeCompleted {
		t.Errorf("Outcome = %v, want OutcomeCompleted", resp.Cycle.Outcome)
	}
	if resp.Cycle.Acked != 0 {
		t.Errorf("Acked = %d, want 0", resp.Cycle.Acked)
	}
	if got := f.gateway.enterCount(); got != 1 {
		t.Errorf("gateway entered %d times, want 1", got)
	}
}

// TestOrchestrator_MintOriginFollowsGateway tests that tokens for the
// reboot substitute carry the test origin, so the slot record never
// confuses a rehearsal with a genuine power transition.
func TestOrchestrator_MintOriginFollowsGateway(t *testing.T) {
	cases := []struct {
		name string
		kind string
		want domain.Origin
	}{
		{name: "reboot substitute", kind: domain.GatewayKindReboot, want: domain.OriginSuspendTest},
		{name: "hal", kind: domain.GatewayKindHAL, want: domain.OriginSuspend},
		{name: "manual", kind: domain.GatewayKindManual, want: domain.OriginSuspend},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newOrchFixture(t, nil)
			f.gateway.kind = tc.kind

			resp, err := f.orch.Suspend(context.Background(), &SuspendRequest{Requester: "powerd"})
			if err != nil {
				t.Fatalf("Suspend failed: %v", err)
			}
			if resp.Cycle.Outcome != domain.OutcomeCompleted {
				t.Fatalf("Outcome = %v, want OutcomeCompleted", resp.Cycle.Outcome)
			}
			if got := f.gateway.lastToken.Origin; got != tc.want {
				t.Errorf("minted origin = %v, want %v", got, tc.want)
			}
		})
	}
}

// TestOrchestrator_DenyAborts tests that a veto stops the cycle and aborts
// only the already-acknowledged subscribers, in reverse order.
func TestOrchestrator_DenyAborts(t *testing.T) {
	f := newOrchFixture(t, nil)
	f.addThree(t)
	f.courier.answers["net.veridios.gfx"] = PrepareAnswer{Ready: false, Reason: "firmware update in progress"}

	resp, err := f.orch.Suspend(context.Background(), &SuspendRequest{Requester: "powerd"})
	if !errors.Is(err, domain.ErrPrepareDenied) {
		t.Fatalf("Suspend error = %v, want ErrPrepareDenied", err)
	}

	cycle := resp.Cycle
	if cycle.Outcome != domain.OutcomeDenied {
		t.Errorf("Outcome = %v, want OutcomeDenied", cycle.Outcome)
	}
	if cycle.FailedSubscriber != "net.veridios.gfx" {
		t.Errorf("FailedSubscriber = %s, want net.veridios.gfx", cycle.FailedSubscriber)
	}
	if cycle.DenyReason != "firmware update in progress" {
		t.Errorf("DenyReason = %q", cycle.DenyReason)
	}

	// storage (Late) must never have been contacted.
	wantPrepare := []string{"net.veridios.timekeeper", "net.veridios.gfx"}
	if got := f.courier.prepared(); !slices.Equal(got, wantPrepare) {
		t.Errorf("prepare calls = %v, want %v", got, wantPrepare)
	}

	// Only the acknowledged subscriber is aborted.
	wantAbort := []string{"net.veridios.timekeeper"}
	if got := f.courier.notices("abort"); !slices.Equal(got, wantAbort) {
		t.Errorf("abort notices = %v, want %v", got, wantAbort)
	}

	if got := f.gateway.enterCount(); got != 0 {
		t.Errorf("gateway entered %d times, want 0", got)
	}
	if f.slot.commits != 0 {
		t.Errorf("slot commits = %d, want 0", f.slot.commits)
	}
	if f.orch.State() != domain.StateIdle {
		t.Errorf("State() = %v, want StateIdle", f.orch.State())
	}
}

// TestOrchestrator_AbortDeliveryBestEffort tests that failed abort
// deliveries are counted and only dead streams are evicted.
func TestOrchestrator_AbortDeliveryBestEffort(t *testing.T) {
	f := newOrchFixture(t, nil)
	f.addThree(t)
	f.courier.answers["net.veridios.storage"] = PrepareAnswer{Ready: false, Reason: "busy"}
	f.courier.notifyErrs["net.veridios.timekeeper"] = errors.New("stream write failed")
	f.courier.notifyErrs["net.veridios.gfx"] = domain.ErrSubscriberGone

	resp, err := f.orch.Suspend(context.Background(), &SuspendRequest{Requester: "powerd"})
	if !errors.Is(err, domain.ErrPrepareDenied) {
		t.Fatalf("Suspend error = %v, want ErrPrepareDenied", err)
	}

	if resp.Cycle.AbortFailures != 2 {
		t.Errorf("AbortFailures = %d, want 2", resp.Cycle.AbortFailures)
	}
	if f.metrics.abortFailures != 2 {
		t.Errorf("abort failure metric = %d, want 2", f.metrics.abortFailures)
	}

	// gfx had a dead stream and is evicted; timekeeper stays registered.
	if _, err := f.reg.GetByName("net.veridios.gfx"); !errors.Is(err, domain.ErrSubscriberNotFound) {
		t.Error("gfx should have been evicted after a dead-stream abort")
	}
	if _, err := f.reg.GetByName("net.veridios.timekeeper"); err != nil {
		t.Error("timekeeper should still be registered after a failed abort delivery")
	}
}

// TestOrchestrator_Timeouts tests the per-subscriber deadline, the
// aggregate cycle cap, and trigger cancellation.
func TestOrchestrator_Timeouts(t *testing.T) {
	t.Run("subscriber deadline", func(t *testing.T) {
		cfg := DefaultOrchestratorConfig()
		cfg.SubscriberAckTimeout = 40 * time.Millisecond
		cfg.CycleDeadline = 2 * time.Second
		cfg.NotifyTimeout = 100 * time.Millisecond
		f := newOrchFixture(t, cfg)
		f.addThree(t)
		f.courier.delays["net.veridios.gfx"] = time.Second

		resp, err := f.orch.Suspend(context.Background(), &SuspendRequest{Requester: "powerd"})
		if !errors.Is(err, domain.ErrPrepareTimeout) {
			t.Fatalf("Suspend error = %v, want ErrPrepareTimeout", err)
		}
		if resp.Cycle.Outcome != domain.OutcomeTimeout {
			t.Errorf("Outcome = %v, want OutcomeTimeout", resp.Cycle.Outcome)
		}
		if resp.Cycle.FailedSubscriber != "net.veridios.gfx" {
			t.Errorf("FailedSubscriber = %s, want net.veridios.gfx", resp.Cycle.FailedSubscriber)
		}
		wantAbort := []string{"net.veridios.timekeeper"}
		if got := f.courier.notices("abort"); !slices.Equal(got, wantAbort) {
			t.Errorf("abort notices = %v, want %v", got, wantAbort)
		}
	})

	t.Run("cycle cap", func(t *testing.T) {
		cfg := DefaultOrchestratorConfig()
		cfg.SubscriberAckTimeout = time.Second
		cfg.CycleDeadline = 40 * time.Millisecond
		cfg.NotifyTimeout = 100 * time.Millisecond
		f := newOrchFixture(t, cfg)
		f.addThree(t)
		f.courier.delays["net.veridios.timekeeper"] = time.Second

		resp, err := f.orch.Suspend(context.Background(), &SuspendRequest{Requester: "powerd"})
		if !errors.Is(err, domain.ErrCycleDeadline) {
			t.Fatalf("Suspend error = %v, want ErrCycleDeadline", err)
		}
		if resp.Cycle.Outcome != domain.OutcomeTimeout {
			t.Errorf("Outcome = %v, want OutcomeTimeout", resp.Cycle.Outcome)
		}
	})

	t.Run("trigger cancelled", func(t *testing.T) {
		f := newOrchFixture(t, nil)
		f.addThree(t)
		f.courier.delays["net.veridios.timekeeper"] = time.Second

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()

		resp, err := f.orch.Suspend(ctx, &SuspendRequest{Requester: "powerd"})
		if !errors.Is(err, domain.ErrCycleAborted) {
			t.Fatalf("Suspend error = %v, want ErrCycleAborted", err)
		}
		if resp.Cycle.Outcome != domain.OutcomeAborted {
			t.Errorf("Outcome = %v, want OutcomeAborted", resp.Cycle.Outcome)
		}
	})
}

// TestOrchestrator_DeadSubscriberEvicted tests that a gone peer is removed
// mid-cycle and the cycle carries on without it.
func TestOrchestrator_DeadSubscriberEvicted(t *testing.T) {
	f := newOrchFixture(t, nil)
	f.addThree(t)
	f.courier.prepareErrs["net.veridios.gfx"] = domain.ErrSubscriberGone

	resp, err := f.orch.Suspend(context.Background(), &SuspendRequest{Requester: "powerd"})
	if err != nil {
		t.Fatalf("Suspend failed: %v", err)
	}
	if resp.Cycle.Outcome != domain.OutcomeCompleted {
		t.Errorf("Outcome = %v, want OutcomeCompleted", resp.Cycle.Outcome)
	}
	if resp.Cycle.Acked != 2 {
		t.Errorf("Acked = %d, want 2", resp.Cycle.Acked)
	}
	if f.reg.Len() != 2 {
		t.Errorf("registry Len() = %d, want 2 after eviction", f.reg.Len())
	}

	wantResume := []string{"net.veridios.storage", "net.veridios.timekeeper"}
	if got := f.courier.notices("resume"); !slices.Equal(got, wantResume) {
		t.Errorf("resume notices = %v, want %v", got, wantResume)
	}
}

// TestOrchestrator_GatewayFailure tests the rollback when the hardware
// transition is refused.
func TestOrchestrator_GatewayFailure(t *testing.T) {
	f := newOrchFixture(t, nil)
	f.addThree(t)
	f.gateway.enterErr = domain.ErrGatewayFailure.WithDetails("hal: sleep transition refused")

	resp, err := f.orch.Suspend(context.Background(), &SuspendRequest{Requester: "powerd"})
	if !errors.Is(err, domain.ErrGatewayFailure) {
		t.Fatalf("Suspend error = %v, want ErrGatewayFailure", err)
	}
	if resp.Cycle.Outcome != domain.OutcomeGatewayFailed {
		t.Errorf("Outcome = %v, want OutcomeGatewayFailed", resp.Cycle.Outcome)
	}

	// All three acked, so all three are aborted in reverse order.
	wantAbort := []string{"net.veridios.storage", "net.veridios.gfx", "net.veridios.timekeeper"}
	if got := f.courier.notices("abort"); !slices.Equal(got, wantAbort) {
		t.Errorf("abort notices = %v, want %v", got, wantAbort)
	}

	rec, _ := f.slot.Load()
	if !rec.Token.IsSentinel() {
		t.Error("Slot should be invalidated after gateway failure")
	}
	if f.orch.State() != domain.StateIdle {
		t.Errorf("State() = %v, want StateIdle", f.orch.State())
	}
}

// TestOrchestrator_WakeMismatchReinit tests the untrusted-wake path: no
// resume, reinitialization broadcast in suspend order.
func TestOrchestrator_WakeMismatchReinit(t *testing.T) {
	f := newOrchFixture(t, nil)
	f.addThree(t)
	f.gateway.claimFn = func(token domain.SuspendToken) domain.WakeClaim {
		forged := token
		forged.Nonce[0] ^= 0xff
		return domain.WakeClaim{Token: forged, Source: "mock:forged"}
	}

	resp, err := f.orch.Suspend(context.Background(), &SuspendRequest{Requester: "powerd"})
	if !errors.Is(err, domain.ErrTokenMismatch) {
		t.Fatalf("Suspend error = %v, want ErrTokenMismatch", err)
	}

	cycle := resp.Cycle
	if cycle.Outcome != domain.OutcomeReinit {
		t.Errorf("Outcome = %v, want OutcomeReinit", cycle.Outcome)
	}
	if f.metrics.mismatches != 1 {
		t.Errorf("token mismatch metric = %d, want 1", f.metrics.mismatches)
	}

	if got := f.courier.notices("resume"); len(got) != 0 {
		t.Errorf("resume notices = %v, want none after mismatch", got)
	}
	wantReinit := []string{"net.veridios.timekeeper", "net.veridios.gfx", "net.veridios.storage"}
	if got := f.courier.notices("reinit"); !slices.Equal(got, wantReinit) {
		t.Errorf("reinit notices = %v, want %v", got, wantReinit)
	}

	rec, _ := f.slot.Load()
	if !rec.Token.IsSentinel() {
		t.Error("Slot should be invalidated after a rejected wake")
	}
}

// TestOrchestrator_SwapFailures tests the flush and restore failure paths.
func TestOrchestrator_SwapFailures(t *testing.T) {
	t.Run("flush failure aborts before transition", func(t *testing.T) {
		cfg := DefaultOrchestratorConfig()
		cfg.SubscriberAckTimeout = 150 * time.Millisecond
		cfg.NotifyTimeout = 150 * time.Millisecond
		cfg.SwapEnabled = true
		f := newOrchFixture(t, cfg)
		f.addThree(t)
		f.swapper.flushErr = domain.ErrSwapFlush.WithDetails("commit image")

		resp, err := f.orch.Suspend(context.Background(), &SuspendRequest{Requester: "powerd"})
		if !errors.Is(err, domain.ErrSwapFlush) {
			t.Fatalf("Suspend error = %v, want ErrSwapFlush", err)
		}
		if resp.Cycle.Outcome != domain.OutcomeSwapFailed {
			t.Errorf("Outcome = %v, want OutcomeSwapFailed", resp.Cycle.Outcome)
		}
		if got := f.gateway.enterCount(); got != 0 {
			t.Errorf("gateway entered %d times, want 0", got)
		}
		if len(f.courier.notices("abort")) != 3 {
			t.Error("all acked subscribers should be aborted after flush failure")
		}
	})

	t.Run("restore failure downgrades to reinit", func(t *testing.T) {
		cfg := DefaultOrchestratorConfig()
		cfg.SubscriberAckTimeout = 150 * time.Millisecond
		cfg.NotifyTimeout = 150 * time.Millisecond
		cfg.SwapEnabled = true
		f := newOrchFixture(t, cfg)
		f.addThree(t)
		f.swapper.restoreErr = domain.ErrSwapChecksum.WithDetails("page 7")

		resp, err := f.orch.Suspend(context.Background(), &SuspendRequest{Requester: "powerd"})
		if !errors.Is(err, domain.ErrSwapChecksum) {
			t.Fatalf("Suspend error = %v, want ErrSwapChecksum", err)
		}
		if resp.Cycle.Outcome != domain.OutcomeReinit {
			t.Errorf("Outcome = %v, want OutcomeReinit", resp.Cycle.Outcome)
		}
		if f.swapper.flushes != 1 || f.swapper.restores != 1 {
			t.Errorf("swapper calls = %d flushes %d restores, want 1 and 1",
				f.swapper.flushes, f.swapper.restores)
		}
		if got := f.courier.notices("resume"); len(got) != 0 {
			t.Errorf("resume notices = %v, want none after restore failure", got)
		}
		if len(f.courier.notices("reinit")) != 3 {
			t.Error("all subscribers should be told to reinitialize")
		}
	})
}

// TestOrchestrator_CommitFailure tests that a slot write failure stops the
// cycle before the transition.
func TestOrchestrator_CommitFailure(t *testing.T) {
	f := newOrchFixture(t, nil)
	f.addThree(t)
	f.slot.commitErr = domain.ErrSlotWrite.WithDetails("disk full")

	resp, err := f.orch.Suspend(context.Background(), &SuspendRequest{Requester: "powerd"})
	if !errors.Is(err, domain.ErrSlotWrite) {
		t.Fatalf("Suspend error = %v, want ErrSlotWrite", err)
	}
	if resp.Cycle.Outcome != domain.OutcomeAborted {
		t.Errorf("Outcome = %v, want OutcomeAborted", resp.Cycle.Outcome)
	}
	if got := f.gateway.enterCount(); got != 0 {
		t.Errorf("gateway entered %d times, want 0", got)
	}
	if len(f.courier.notices("abort")) != 3 {
		t.Error("all acked subscribers should be aborted after commit failure")
	}
}

// TestOrchestrator_BusyAndRateLimit tests single-cycle admission and the
// retry budget for callers hammering a busy orchestrator.
func TestOrchestrator_BusyAndRateLimit(t *testing.T) {
	cfg := DefaultOrchestratorConfig()
	cfg.SubscriberAckTimeout = time.Second
	cfg.CycleDeadline = 5 * time.Second
	cfg.NotifyTimeout = time.Second
	cfg.TriggerBurst = 1
	cfg.TriggerRate = 0.001

	f := newOrchFixture(t, cfg)
	gateway := newBlockingGateway()

	orch, err := NewOrchestrator(OrchestratorDeps{
		Registry: f.reg,
		Tokens:   f.tokens,
		Courier:  f.courier,
		Gateway:  gateway,
		Metrics:  f.metrics,
		Logger:   discardLogger(),
	}, cfg)
	if err != nil {
		t.Fatalf("NewOrchestrator failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := orch.Suspend(context.Background(), &SuspendRequest{Requester: "powerd"})
		done <- err
	}()

	select {
	case <-gateway.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first cycle never reached the gateway")
	}

	// Mid-cycle registration changes are rejected.
	sub, _ := domain.NewSubscriber("net.veridios.latecomer", domain.OrderNormal, 0)
	if _, _, err := f.reg.Register(sub); !errors.Is(err, domain.ErrMidCycleRegister) {
		t.Errorf("Register during cycle error = %v, want ErrMidCycleRegister", err)
	}

	// First concurrent trigger burns the retry budget and reports busy.
	if _, err := orch.Suspend(context.Background(), &SuspendRequest{Requester: "powerd"}); !errors.Is(err, domain.ErrBusy) {
		t.Errorf("second trigger error = %v, want ErrBusy", err)
	}

	// Budget exhausted: the caller is told to back off.
	if _, err := orch.Suspend(context.Background(), &SuspendRequest{Requester: "powerd"}); !errors.Is(err, domain.ErrRateLimited) {
		t.Errorf("third trigger error = %v, want ErrRateLimited", err)
	}

	close(gateway.release)
	if err := <-done; err != nil {
		t.Fatalf("first cycle failed: %v", err)
	}

	// Registrations thaw once the cycle finishes.
	if _, _, err := f.reg.Register(sub); err != nil {
		t.Errorf("Register after cycle failed: %v", err)
	}
	if orch.State() != domain.StateIdle {
		t.Errorf("State() = %v, want StateIdle", orch.State())
	}
}

// TestOrchestrator_EpochAdvancesAcrossCycles tests that failed cycles still
// consume epochs, so a replayed older token can never validate.
func TestOrchestrator_EpochAdvancesAcrossCycles(t *testing.T) {
	f := newOrchFixture(t, nil)
	f.addThree(t)

	f.courier.answers["net.veridios.gfx"] = PrepareAnswer{Ready: false, Reason: "busy"}
	resp1, err := f.orch.Suspend(context.Background(), &SuspendRequest{Requester: "powerd"})
	if !errors.Is(err, domain.ErrPrepareDenied) {
		t.Fatalf("first Suspend error = %v, want ErrPrepareDenied", err)
	}
	if resp1.Cycle.Epoch != 1 {
		t.Errorf("first cycle epoch = %d, want 1", resp1.Cycle.Epoch)
	}

	delete(f.courier.answers, "net.veridios.gfx")
	resp2, err := f.orch.Suspend(context.Background(), &SuspendRequest{Requester: "powerd"})
	if err != nil {
		t.Fatalf("second Suspend failed: %v", err)
	}
	if resp2.Cycle.Epoch != 2 {
		t.Errorf("second cycle epoch = %d, want 2", resp2.Cycle.Epoch)
	}

	history := f.orch.History(0)
	if len(history) != 2 {
		t.Fatalf("History len = %d, want 2", len(history))
	}
	if history[0].Outcome != domain.OutcomeCompleted || history[1].Outcome != domain.OutcomeDenied {
		t.Errorf("history = [%v %v], want [completed denied]",
			history[0].Outcome, history[1].Outcome)
	}
}

// TestCycleHistory tests the ring buffer directly.
func TestCycleHistory(t *testing.T) {
	h := newCycleHistory(3)

	if h.last() != nil {
		t.Error("empty history should have no last record")
	}

	for i := 1; i <= 5; i++ {
		h.push(&domain.CycleRecord{ID: "qcyc-" + strings.Repeat("x", i)})
	}

	recs := h.list(0)
	if len(recs) != 3 {
		t.Fatalf("list len = %d, want 3", len(recs))
	}
	// Newest first: the 5th, 4th, 3rd pushes survive.
	if recs[0].ID != "qcyc-xxxxx" || recs[2].ID != "qcyc-xxx" {
		t.Errorf("ring order = [%s .. %s], want newest first", recs[0].ID, recs[2].ID)
	}

	if got := h.list(1); len(got) != 1 || got[0].ID != "qcyc-xxxxx" {
		t.Errorf("list(1) = %v, want only the newest", got)
	}
}
