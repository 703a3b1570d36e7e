package subscriber_test

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/veridios/quiesce-go/internal/core/domain"
	"github.com/veridios/quiesce-go/internal/core/registry"
	"github.com/veridios/quiesce-go/internal/core/service"
	"github.com/veridios/quiesce-go/internal/server/busserver"
	"github.com/veridios/quiesce-go/pkg/busproto"
	"github.com/veridios/quiesce-go/pkg/subscriber"
)

type memSlot struct {
	mu  sync.Mutex
	rec domain.SlotRecord
}

func (s *memSlot) Commit(rec domain.SlotRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = rec
	return nil
}

func (s *memSlot) Load() (domain.SlotRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec.Token.IsSentinel() && s.rec.CommittedAt == 0 {
		return domain.SlotRecord{Token: domain.Sentinel(), Clean: true}, nil
	}
	return s.rec, nil
}

func (s *memSlot) Invalidate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = domain.SlotRecord{Token: domain.Sentinel(), Clean: true}
	return nil
}

type echoGateway struct{}

func (echoGateway) Kind() string { return "manual" }

func (echoGateway) Enter(ctx context.Context, token domain.SuspendToken) (domain.WakeClaim, error) {
	return domain.WakeClaim{Token: token, Source: "test"}, nil
}

// startBus brings up a full bus server on a temp socket and returns the
// socket path.
func startBus(t *testing.T) string {
	t.Helper()

	reg := registry.New()
	courier := busserver.NewCourier(nil)

	tokens, err := service.NewTokenService(&memSlot{}, nil, nil)
	if err != nil {
		t.Fatalf("NewTokenService() error = %v", err)
	}
	orch, err := service.NewOrchestrator(service.OrchestratorDeps{
		Registry: reg,
		Tokens:   tokens,
		Courier:  courier,
		Gateway:  echoGateway{},
	}, nil)
	if err != nil {
		t.Fatalf("NewOrchestrator() error = %v", err)
	}

	socketPath := filepath.Join(t.TempDir(), "bus.sock")
	handler := busserver.NewHandler(reg, orch, courier, nil)
	srv := busserver.New(busserver.Config{SocketPath: socketPath}, handler.Routes(), nil)

	go srv.ListenAndServe()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	// Wait for the socket to come up.
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn, err := net.Dial("unix", socketPath)
		if err == nil {
			conn.Close()
			return socketPath
		}
		if time.Now().After(deadline) {
			t.Fatalf("bus server did not come up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func dialAndRegister(t *testing.T, socketPath, name string, order busproto.Order) *subscriber.Client {
	t.Helper()

	client, err := subscriber.Dial(subscriber.Config{
		SocketPath: socketPath,
		Name:       name,
		Order:      order,
	})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Register(ctx); err != nil {
		t.Fatalf("Register(%s) error = %v", name, err)
	}
	return client
}

func TestDialValidation(t *testing.T) {
	if _, err := subscriber.Dial(subscriber.Config{Name: "x"}); err == nil {
		t.Error("Dial() accepted empty socket path")
	}
	if _, err := subscriber.Dial(subscriber.Config{SocketPath: "/tmp/x.sock"}); err == nil {
		t.Error("Dial() accepted empty name")
	}
}

func TestRegisterAndStatus(t *testing.T) {
	socketPath := startBus(t)
	client := dialAndRegister(t, socketPath, "net.veridios.display", busproto.OrderNormal)

	if client.SubscriberID() == "" {
		t.Fatal("SubscriberID empty after Register")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := client.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.State != "idle" {
		t.Errorf("State = %q, want idle", st.State)
	}
	if st.Subscribers != 1 {
		t.Errorf("Subscribers = %d, want 1", st.Subscribers)
	}
}

// TestSuspendCycleCallbacks runs a complete cycle through the public client
// surface: one subscriber acknowledges prepare and sees resume, a second
// client triggers the cycle.
func TestSuspendCycleCallbacks(t *testing.T) {
	socketPath := startBus(t)
	participant := dialAndRegister(t, socketPath, "net.veridios.keyvault", busproto.OrderEarly)
	trigger := dialAndRegister(t, socketPath, "net.veridios.shell", busproto.OrderLate)

	var mu sync.Mutex
	var got []string

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()
	runDone := make(chan error, 1)
	go func() {
		runDone <- participant.Run(runCtx, subscriber.Handlers{
			Prepare: func(ctx context.Context, n subscriber.Notice) error {
				mu.Lock()
				got = append(got, "prepare:"+n.CycleID)
				mu.Unlock()
				return nil
			},
			Resume: func(ctx context.Context, n subscriber.Notice) {
				mu.Lock()
				got = append(got, "resume:"+n.CycleID)
				mu.Unlock()
			},
		})
	}()

	// The trigger client also participates; acknowledge its prepares too.
	triggerRunCtx, stopTriggerRun := context.WithCancel(context.Background())
	defer stopTriggerRun()
	go trigger.Run(triggerRunCtx, subscriber.Handlers{})

	// Give both Listen streams a moment to attach.
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	cycle, err := trigger.TriggerSuspend(ctx, "integration test")
	if err != nil {
		t.Fatalf("TriggerSuspend() error = %v", err)
	}
	if cycle == nil {
		t.Fatal("TriggerSuspend() returned no cycle")
	}
	if cycle.Outcome != "completed" {
		t.Fatalf("Outcome = %q, want completed (reason %q)", cycle.Outcome, cycle.DenyReason)
	}
	if cycle.Acked != 2 {
		t.Errorf("Acked = %d, want 2", cycle.Acked)
	}

	// The participant saw prepare then resume for the same cycle.
	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n >= 2 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("callbacks = %v, want prepare+resume", got)
	}
	if got[0] != "prepare:"+cycle.ID || got[1] != "resume:"+cycle.ID {
		t.Errorf("callbacks = %v, want ordered prepare/resume for cycle %s", got, cycle.ID)
	}

	stopRun()
	if err := <-runDone; err != nil && !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v", err)
	}
}

// TestVetoStopsCycle checks that a Prepare error comes back as a denied
// cycle with the error text as the reason.
func TestVetoStopsCycle(t *testing.T) {
	socketPath := startBus(t)
	participant := dialAndRegister(t, socketPath, "net.veridios.recorder", busproto.OrderNormal)

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()
	go participant.Run(runCtx, subscriber.Handlers{
		Prepare: func(ctx context.Context, n subscriber.Notice) error {
			return errors.New("recording in progress")
		},
	})

	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	cycle, err := participant.TriggerSuspend(ctx, "should be vetoed")
	if err != nil {
		t.Fatalf("TriggerSuspend() error = %v", err)
	}
	if cycle.Outcome != "denied" {
		t.Fatalf("Outcome = %q, want denied", cycle.Outcome)
	}
	if cycle.DenyReason != "recording in progress" {
		t.Errorf("DenyReason = %q", cycle.DenyReason)
	}
	if cycle.FailedSubscriber != "net.veridios.recorder" {
		t.Errorf("FailedSubscriber = %q", cycle.FailedSubscriber)
	}
}

func TestUnregister(t *testing.T) {
	socketPath := startBus(t)
	client := dialAndRegister(t, socketPath, "net.veridios.transient", busproto.OrderNormal)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Unregister(ctx); err != nil {
		t.Fatalf("Unregister() error = %v", err)
	}
	if client.SubscriberID() != "" {
		t.Error("SubscriberID survives Unregister")
	}

	st, err := client.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.Subscribers != 0 {
		t.Errorf("Subscribers = %d, want 0", st.Subscribers)
	}
}
