package command

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/veridios/quiesce-go/internal/core/domain"
	"github.com/veridios/quiesce-go/internal/core/registry"
	"github.com/veridios/quiesce-go/internal/core/service"
	"github.com/veridios/quiesce-go/internal/server/busserver"
)

// runApp runs the real CLI app with exit handling disabled so errors
// come back to the test instead of terminating the process.
func runApp(t *testing.T, args ...string) error {
	t.Helper()

	app := App()
	app.ExitErrHandler = func(*cli.Context, error) {}

	full := []string{"quiescectl", "--config", filepath.Join(t.TempDir(), "cli.yaml")}
	full = append(full, args...)
	return app.Run(full)
}

// mockAdmin is a test double for the daemon's admin plane. Responses
// use the same {code, message, data} envelope the real handlers emit.
type mockAdmin struct {
	*httptest.Server
	handlers map[string]http.HandlerFunc
}

func newMockAdmin() *mockAdmin {
	m := &mockAdmin{
		handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for pattern, handler := range m.handlers {
			if strings.HasPrefix(r.URL.Path, pattern) {
				handler(w, r)
				return
			}
		}
		http.NotFound(w, r)
	}))
	return m
}

func (m *mockAdmin) handle(pattern string, handler http.HandlerFunc) {
	m.handlers[pattern] = handler
}

// envelope writes an admin plane response envelope.
func envelope(w http.ResponseWriter, status int, code, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"code":    code,
		"message": message,
		"data":    data,
	})
}

// Bus fixture: a full daemon bus on a temp socket, enough for status
// and trigger calls.

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
