package connection

import (
	"sync"

	"github.com/veridios/quiesce-go/pkg/subscriber"
)

// Target names the daemon surfaces one invocation talks to.
type Target struct {
	// Socket is the bus socket path.
	Socket string

	// AdminAddr is the admin plane address.
	AdminAddr string
}

// Manager caches clients for the current target. A REPL session runs
// many commands against the same daemon; the manager keeps them on the
// same connections until the target changes.
type Manager struct {
	mu     sync.Mutex
	target Target
	admin  *HTTPClient
	bus    *subscriber.Client
}

// NewManager creates a new connection manager.
func NewManager() *Manager {
	return &Manager{}
}

// SetTarget points the manager at a daemon. Changing the target drops
// the cached clients.
func (m *Manager) SetTarget(t Target) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t == m.target {
		return
	}
	if m.bus != nil {
		m.bus.Close()
	}
	m.target = t
	m.admin = nil
	m.bus = nil
}

// Target returns the current target.
func (m *Manager) Target() Target {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.target
}

// Admin returns the admin plane client for the current target.
func (m *Manager) Admin() *HTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.admin == nil {
		m.admin = NewHTTPClient(m.target.AdminAddr)
	}
	return m.admin
}

// Bus returns the bus socket client for the current target, dialing it
// on first use.
func (m *Manager) Bus() (*subscriber.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.bus == nil {
		client, err := DialBus(m.target.Socket)
		if err != nil {
			return nil, err
		}
		m.bus = client
	}
	return m.bus, nil
}

// Close releases cached connections.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.bus != nil {
		m.bus.Close()
		m.bus = nil
	}
	m.admin = nil
}
